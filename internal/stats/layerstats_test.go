package stats

import (
	"sync"
	"testing"

	"github.com/pspoerri/geo2mbtiles/internal/model"
)

func TestMergeFieldType(t *testing.T) {
	tests := []struct {
		a, b FieldType
		want FieldType
	}{
		{FieldUnknown, FieldNumber, FieldNumber},
		{FieldNumber, FieldUnknown, FieldNumber},
		{FieldNumber, FieldNumber, FieldNumber},
		{FieldNumber, FieldBoolean, FieldNumber},
		{FieldBoolean, FieldNumber, FieldNumber},
		{FieldString, FieldNumber, FieldString},
		{FieldNumber, FieldString, FieldString},
		{FieldString, FieldBoolean, FieldString},
		{FieldBoolean, FieldBoolean, FieldBoolean},
	}
	for _, tt := range tests {
		if got := mergeFieldType(tt.a, tt.b); got != tt.want {
			t.Errorf("mergeFieldType(%v, %v) = %v, want %v", tt.a, tt.b, got, tt.want)
		}
	}
}

// TestLayerStats_TwoLayerMetadataMerge checks that features at (z=3, a:1)
// and (z=4, a:true) merge to {a:STRING, minzoom:3, maxzoom:4}.
func TestLayerStats_TwoLayerMetadataMerge(t *testing.T) {
	ls := NewLayerStats()
	ls.Accept(&model.RenderedFeature{Layer: "L1", Attrs: model.Tags{"a": int64(1)}}, 3)
	ls.Accept(&model.RenderedFeature{Layer: "L1", Attrs: model.Tags{"a": true}}, 4)

	got := ls.Freeze()
	l1, ok := got["L1"]
	if !ok {
		t.Fatal("layer L1 missing from frozen stats")
	}
	if l1.Fields["a"] != FieldString {
		t.Errorf("field a = %v, want String", l1.Fields["a"])
	}
	if l1.MinZoom != 3 || l1.MaxZoom != 4 {
		t.Errorf("zoom range = [%d,%d], want [3,4]", l1.MinZoom, l1.MaxZoom)
	}
}

// TestLayerStats_DeterministicUnderInterleaving checks that the merge
// result does not depend on goroutine scheduling order.
func TestLayerStats_DeterministicUnderInterleaving(t *testing.T) {
	const n = 200
	for trial := 0; trial < 5; trial++ {
		ls := NewLayerStats()
		var wg sync.WaitGroup
		for i := 0; i < n; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				var v interface{}
				switch i % 3 {
				case 0:
					v = int64(i)
				case 1:
					v = float64(i)
				case 2:
					v = "x"
				}
				ls.Accept(&model.RenderedFeature{Layer: "L", Attrs: model.Tags{"f": v}}, i%15)
			}(i)
		}
		wg.Wait()

		got := ls.Freeze()
		if got["L"].Fields["f"] != FieldString {
			t.Fatalf("trial %d: field f = %v, want String (a string value was present)", trial, got["L"].Fields["f"])
		}
		if got["L"].MinZoom != 0 || got["L"].MaxZoom != 14 {
			t.Fatalf("trial %d: zoom range = [%d,%d], want [0,14]", trial, got["L"].MinZoom, got["L"].MaxZoom)
		}
	}
}

func TestLayerStats_EmptyFreeze(t *testing.T) {
	ls := NewLayerStats()
	got := ls.Freeze()
	if len(got) != 0 {
		t.Errorf("Freeze() on empty accumulator = %v, want empty map", got)
	}
}
