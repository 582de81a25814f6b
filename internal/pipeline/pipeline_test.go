package pipeline

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"testing"

	shp "github.com/jonas-p/go-shp"
	_ "github.com/mattn/go-sqlite3"

	"github.com/pspoerri/geo2mbtiles/internal/config"
	"github.com/pspoerri/geo2mbtiles/internal/model"
	"github.com/pspoerri/geo2mbtiles/internal/profile"
	"github.com/pspoerri/geo2mbtiles/internal/stats"
)

// poiProfile is a minimal test double: every feature becomes a "poi" point
// at zoom 0 only, keeping the test's tile fan-out to a single tile.
type poiProfile struct{ released bool }

func (p *poiProfile) ProcessFeature(f *model.SourceFeature, fc *profile.FeatureCollector) error {
	fc.Point("poi").ZoomRange(0, 0).Attr("name", f.Tags["name"])
	return nil
}

func (p *poiProfile) Release() { p.released = true }

func writeTestShapefile(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "points.shp")
	w, err := shp.Create(path, shp.POINT)
	if err != nil {
		t.Fatalf("shp.Create: %v", err)
	}
	w.SetFields([]shp.Field{shp.StringField("name", 20)})
	n, err := w.Write(&shp.Point{X: 8.5417, Y: 47.3769})
	if err != nil {
		t.Fatalf("Write: %v", err)
	}
	w.WriteAttribute(int(n), 0, "zurich")
	w.Close()
	return path
}

func TestEngine_Run_ShapefileEndToEnd(t *testing.T) {
	dir := t.TempDir()
	inputPath := writeTestShapefile(t)
	outputPath := filepath.Join(dir, "out.mbtiles")

	cfg := config.Config{
		ProfileName:   "poi",
		Input:         inputPath,
		Output:        outputPath,
		TmpDir:        filepath.Join(dir, "tmp"),
		Threads:       1,
		MinZoom:       0,
		MaxZoom:       0,
		NameLanguages: []string{"en"},
		Bounds:        config.Bounds{World: true},
	}

	prof := &poiProfile{}
	eng := New(cfg, func(tr *profile.Translations) (profile.Profile, error) {
		return prof, nil
	}, stats.New(nil))

	summary, err := eng.Run(context.Background())
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if summary.TilesWritten != 1 {
		t.Errorf("TilesWritten = %d, want 1", summary.TilesWritten)
	}
	if summary.FeaturesEmitted != 1 {
		t.Errorf("FeaturesEmitted = %d, want 1", summary.FeaturesEmitted)
	}
	if !prof.released {
		t.Error("profile Release() was never called")
	}

	db, err := sql.Open("sqlite3", outputPath)
	if err != nil {
		t.Fatalf("open result: %v", err)
	}
	defer db.Close()

	var n int
	if err := db.QueryRow(`SELECT count(*) FROM tiles`).Scan(&n); err != nil {
		t.Fatalf("count tiles: %v", err)
	}
	if n != 1 {
		t.Errorf("tiles rows = %d, want 1", n)
	}
}

func TestEngine_Run_EmptyInputProducesNoTiles(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "empty.shp")
	w, err := shp.Create(path, shp.POINT)
	if err != nil {
		t.Fatalf("shp.Create: %v", err)
	}
	w.SetFields([]shp.Field{shp.StringField("name", 20)})
	w.Close()

	outputPath := filepath.Join(dir, "out.mbtiles")
	cfg := config.Config{
		ProfileName:   "poi",
		Input:         path,
		Output:        outputPath,
		TmpDir:        filepath.Join(dir, "tmp"),
		Threads:       1,
		MinZoom:       0,
		MaxZoom:       0,
		NameLanguages: []string{"en"},
		Bounds:        config.Bounds{World: true},
	}

	prof := &poiProfile{}
	eng := New(cfg, func(tr *profile.Translations) (profile.Profile, error) {
		return prof, nil
	}, stats.New(nil))

	summary, err := eng.Run(context.Background())
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if summary.TilesWritten != 0 {
		t.Errorf("TilesWritten = %d, want 0", summary.TilesWritten)
	}
}

func TestEngine_Run_CancelledContextAbortsWithoutPartialFile(t *testing.T) {
	dir := t.TempDir()
	inputPath := writeTestShapefile(t)
	outputPath := filepath.Join(dir, "out.mbtiles")

	cfg := config.Config{
		ProfileName:   "poi",
		Input:         inputPath,
		Output:        outputPath,
		TmpDir:        filepath.Join(dir, "tmp"),
		Threads:       1,
		MinZoom:       0,
		MaxZoom:       0,
		NameLanguages: []string{"en"},
		Bounds:        config.Bounds{World: true},
	}

	prof := &poiProfile{}
	eng := New(cfg, func(tr *profile.Translations) (profile.Profile, error) {
		return prof, nil
	}, stats.New(nil))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := eng.Run(ctx); err == nil {
		t.Fatal("Run() with a pre-cancelled context should error")
	}
	if _, err := os.Stat(outputPath); !os.IsNotExist(err) {
		t.Errorf("expected no output file after cancellation, stat err = %v", err)
	}
}
