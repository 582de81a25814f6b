package profile

import (
	"testing"

	"github.com/pspoerri/geo2mbtiles/internal/model"
)

func TestFeatureCollector_FluentBuild(t *testing.T) {
	fc := NewFeatureCollector()
	fc.Line("transportation").
		ZoomRange(6, 14).
		Buffer(8).
		ZOrder(3).
		Attr("class", "motorway").
		Attrs(model.Tags{"oneway": true}).
		Group(42, 3)

	specs := fc.Specs()
	if len(specs) != 1 {
		t.Fatalf("Specs() len = %d, want 1", len(specs))
	}
	s := specs[0]
	if s.Layer() != "transportation" || s.Kind() != model.KindLine {
		t.Errorf("Layer/Kind = %q/%v", s.Layer(), s.Kind())
	}
	if s.MinZoom() != 6 || s.MaxZoom() != 14 {
		t.Errorf("zoom range = [%d,%d], want [6,14]", s.MinZoom(), s.MaxZoom())
	}
	if s.BufferPx() != 8 {
		t.Errorf("BufferPx() = %v, want 8", s.BufferPx())
	}
	if s.ZOrderValue() != 3 {
		t.Errorf("ZOrderValue() = %d, want 3", s.ZOrderValue())
	}
	if s.AttrsMap()["class"] != "motorway" || s.AttrsMap()["oneway"] != true {
		t.Errorf("Attrs = %v", s.AttrsMap())
	}
	if g := s.GroupSpec(); g == nil || g.Key != 42 || g.Limit != 3 {
		t.Errorf("GroupSpec() = %v, want {42,3}", g)
	}
}

func TestFeatureCollector_Defaults(t *testing.T) {
	fc := NewFeatureCollector()
	s := fc.Point("poi")
	if s.MinZoom() != 0 || s.MaxZoom() != 14 {
		t.Errorf("default zoom range = [%d,%d], want [0,14]", s.MinZoom(), s.MaxZoom())
	}
	if s.BufferPx() != DefaultBufferPx {
		t.Errorf("default buffer = %v, want %v", s.BufferPx(), DefaultBufferPx)
	}
	if s.GroupSpec() != nil {
		t.Errorf("default GroupSpec() = %v, want nil", s.GroupSpec())
	}
}

func TestFeatureCollector_MultipleFeaturesFromOneSourceFeature(t *testing.T) {
	fc := NewFeatureCollector()
	fc.Polygon("water")
	fc.Centroid("water_label").Attr("name", "Lake Zurich")

	specs := fc.Specs()
	if len(specs) != 2 {
		t.Fatalf("Specs() len = %d, want 2", len(specs))
	}
	if !specs[1].IsCentroid() {
		t.Error("second spec should be a centroid")
	}
}

func TestTranslations_NameFallback(t *testing.T) {
	tr := NewTranslations([]string{"de", "en"})
	if got := tr.Name("Q72", "Zürich"); got != "Zürich" {
		t.Errorf("Name() = %q, want fallback %q", got, "Zürich")
	}

	if err := tr.Put("Q72", map[string]string{"en": "Zurich", "fr": "Zurich"}); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if got := tr.Name("Q72", "fallback"); got != "Zurich" {
		t.Errorf("Name() = %q, want %q (en, since de is absent)", got, "Zurich")
	}
}

func TestTranslations_LoadMissingFileIsNotError(t *testing.T) {
	tr := NewTranslations([]string{"en"})
	if err := tr.Load("/nonexistent/path/wikidata.json"); err != nil {
		t.Errorf("Load(missing file) error = %v, want nil", err)
	}
}

func TestTranslations_LoadAndQuery(t *testing.T) {
	dir := t.TempDir()
	path := dir + "/wikidata.json"
	tr := NewTranslations([]string{"de", "en"})
	if err := tr.Load(path); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if err := tr.Put("Q72", map[string]string{"de": "Zürich", "en": "Zurich"}); err != nil {
		t.Fatalf("Put: %v", err)
	}

	tr2 := NewTranslations([]string{"de", "en"})
	if err := tr2.Load(path); err != nil {
		t.Fatalf("Load (reload): %v", err)
	}
	if got := tr2.Name("Q72", "fallback"); got != "Zürich" {
		t.Errorf("Name() after reload = %q, want %q", got, "Zürich")
	}
}
