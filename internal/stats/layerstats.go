package stats

import (
	"encoding/json"
	"sync"

	"github.com/pspoerri/geo2mbtiles/internal/model"
)

// FieldType is the MBTiles metadata field type for a layer attribute.
type FieldType int

const (
	FieldUnknown FieldType = iota
	FieldNumber
	FieldString
	FieldBoolean
)

func (t FieldType) String() string {
	switch t {
	case FieldNumber:
		return "NUMBER"
	case FieldString:
		return "STRING"
	case FieldBoolean:
		return "BOOLEAN"
	default:
		return "UNKNOWN"
	}
}

func (t FieldType) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.String())
}

func fieldTypeOf(v interface{}) FieldType {
	switch v.(type) {
	case bool:
		return FieldBoolean
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64, float32, float64:
		return FieldNumber
	default:
		return FieldString
	}
}

// mergeFieldType implements the tile-layer field type-merge rule. It is commutative and
// associative, so LayerStats' final type is independent of interleaving:
// STRING absorbs everything; NUMBER absorbs BOOLEAN only if no STRING has
// been seen; otherwise the lone observed type wins.
func mergeFieldType(a, b FieldType) FieldType {
	if a == FieldUnknown {
		return b
	}
	if b == FieldUnknown {
		return a
	}
	if a == b {
		return a
	}
	if a == FieldString || b == FieldString {
		return FieldString
	}
	// One is Number, the other Boolean (in either order): Number wins.
	return FieldNumber
}

// LayerMetadata is the frozen, per-layer summary written into MBTiles
// metadata JSON.
type LayerMetadata struct {
	Fields  map[string]FieldType `json:"fields"`
	MinZoom int                  `json:"minzoom"`
	MaxZoom int                  `json:"maxzoom"`
}

// LayerStats is the concurrent accumulator for tile-layer metadata: every Accept call from
// any emit-thread folds one RenderedFeature's attributes and zoom into the
// per-layer summary under a single lock. Freeze yields the immutable
// result consumed by the MBTiles metadata writer.
type LayerStats struct {
	mu     sync.Mutex
	layers map[string]*layerAccum
}

type layerAccum struct {
	fields  map[string]FieldType
	minZoom int
	maxZoom int
	seen    bool
}

// NewLayerStats creates an empty LayerStats accumulator.
func NewLayerStats() *LayerStats {
	return &LayerStats{layers: make(map[string]*layerAccum)}
}

// Accept folds one rendered feature into its layer's summary. Safe under
// arbitrary interleaving of concurrent callers.
func (s *LayerStats) Accept(f *model.RenderedFeature, zoom int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	la, ok := s.layers[f.Layer]
	if !ok {
		la = &layerAccum{fields: make(map[string]FieldType)}
		s.layers[f.Layer] = la
	}

	for k, v := range f.Attrs {
		la.fields[k] = mergeFieldType(la.fields[k], fieldTypeOf(v))
	}

	if !la.seen {
		la.minZoom, la.maxZoom = zoom, zoom
		la.seen = true
	} else {
		if zoom < la.minZoom {
			la.minZoom = zoom
		}
		if zoom > la.maxZoom {
			la.maxZoom = zoom
		}
	}
}

// Freeze returns the final per-layer metadata. Must be called only after
// all producer goroutines have completed their Accept calls.
func (s *LayerStats) Freeze() map[string]LayerMetadata {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make(map[string]LayerMetadata, len(s.layers))
	for name, la := range s.layers {
		fields := make(map[string]FieldType, len(la.fields))
		for k, v := range la.fields {
			fields[k] = v
		}
		out[name] = LayerMetadata{Fields: fields, MinZoom: la.minZoom, MaxZoom: la.maxZoom}
	}
	return out
}
