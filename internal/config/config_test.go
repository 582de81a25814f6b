package config

import "testing"

func TestParse_Minimal(t *testing.T) {
	cfg, err := Parse([]string{"base", "input=a.osm.pbf", "output=out.mbtiles"})
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if cfg.ProfileName != "base" {
		t.Errorf("ProfileName = %q, want %q", cfg.ProfileName, "base")
	}
	if cfg.MinZoom != 0 || cfg.MaxZoom != 14 {
		t.Errorf("default zoom = [%d,%d], want [0,14]", cfg.MinZoom, cfg.MaxZoom)
	}
	if !cfg.Bounds.Inferred {
		t.Errorf("default bounds should be Inferred")
	}
}

func TestParse_MissingProfileName(t *testing.T) {
	if _, err := Parse(nil); err == nil {
		t.Fatal("Parse(nil) should error")
	}
}

func TestParse_MissingRequired(t *testing.T) {
	if _, err := Parse([]string{"base", "input=a.osm.pbf"}); err == nil {
		t.Fatal("Parse() without output should error")
	}
	if _, err := Parse([]string{"base", "output=out.mbtiles"}); err == nil {
		t.Fatal("Parse() without input should error")
	}
}

func TestParse_MaxZoomClamp(t *testing.T) {
	// 0 <= maxzoom <= 14 inclusive; 14 is valid, 15 is not.
	if _, err := Parse([]string{"base", "input=a.osm.pbf", "output=out.mbtiles", "maxzoom=14"}); err != nil {
		t.Errorf("maxzoom=14 should be valid: %v", err)
	}
	if _, err := Parse([]string{"base", "input=a.osm.pbf", "output=out.mbtiles", "maxzoom=15"}); err == nil {
		t.Error("maxzoom=15 should be BadArgument")
	}
}

func TestParse_BoundsWorld(t *testing.T) {
	cfg, err := Parse([]string{"base", "input=a.osm.pbf", "output=out.mbtiles", "bounds=world"})
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if !cfg.Bounds.World {
		t.Error("bounds=world should set Bounds.World")
	}
}

func TestParse_BoundsExplicit(t *testing.T) {
	cfg, err := Parse([]string{"base", "input=a.osm.pbf", "output=out.mbtiles", "bounds=-1,-2,3,4"})
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if cfg.Bounds.MinLon != -1 || cfg.Bounds.MinLat != -2 || cfg.Bounds.MaxLon != 3 || cfg.Bounds.MaxLat != 4 {
		t.Errorf("Bounds = %+v, want {-1,-2,3,4}", cfg.Bounds)
	}
}

func TestParse_UnknownKey(t *testing.T) {
	if _, err := Parse([]string{"base", "input=a.osm.pbf", "output=out.mbtiles", "bogus=1"}); err == nil {
		t.Error("unknown key should error")
	}
}

func TestParse_NotKeyValue(t *testing.T) {
	if _, err := Parse([]string{"base", "justavalue"}); err == nil {
		t.Error("non key=value argument should error")
	}
}

func TestParse_NameLanguages(t *testing.T) {
	cfg, err := Parse([]string{"base", "input=a.osm.pbf", "output=out.mbtiles", "name_languages=en,de,fr"})
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	want := []string{"en", "de", "fr"}
	if len(cfg.NameLanguages) != len(want) {
		t.Fatalf("NameLanguages = %v, want %v", cfg.NameLanguages, want)
	}
	for i := range want {
		if cfg.NameLanguages[i] != want[i] {
			t.Errorf("NameLanguages[%d] = %q, want %q", i, cfg.NameLanguages[i], want[i])
		}
	}
}

func TestParse_FetchWikidataRequiresCache(t *testing.T) {
	_, err := Parse([]string{"base", "input=a.osm.pbf", "output=out.mbtiles", "fetch_wikidata=true", "wikidata_cache="})
	if err == nil {
		t.Error("fetch_wikidata=true with empty wikidata_cache should error")
	}
}
