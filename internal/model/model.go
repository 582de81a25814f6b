// Package model holds the data types shared across pipeline stages:
// SourceFeature (reader output), RenderedFeature (renderer output), and
// the small value types attached to both. Kept dependency-free (besides
// orb's geometry types) so every stage can import it without cycles.
package model

import (
	"sync"

	"github.com/paulmach/orb"
)

// Kind classifies a SourceFeature by its source element type.
type Kind int

const (
	KindNode Kind = iota
	KindWay
	KindRelation
	KindPolygon // synthesized by shapefile/Natural Earth readers
	KindLine
)

func (k Kind) String() string {
	switch k {
	case KindNode:
		return "node"
	case KindWay:
		return "way"
	case KindRelation:
		return "relation"
	case KindPolygon:
		return "polygon"
	case KindLine:
		return "line"
	default:
		return "unknown"
	}
}

// Tags is an open key space of scalar values: int64, float64, bool, or string.
type Tags map[string]interface{}

// RoleInfo carries the relation-member role a feature was resolved through,
// when the feature originated as a relation member rather than standalone.
type RoleInfo struct {
	RelationID uint64
	Role       string
}

// GeometryFunc lazily materializes a feature's geometry. It is invoked at
// most once; SourceFeature caches the result via sync.Once so the engine
// can short-circuit when a profile rejects a feature without ever paying
// the cost of resolving node coordinates into a geometry.
type GeometryFunc func() (orb.Geometry, error)

// SourceFeature is one element read from an OSM PBF, shapefile, or Natural
// Earth source, with geometry left unmaterialized until first requested.
type SourceFeature struct {
	ID   uint64
	Kind Kind
	Tags Tags
	Role *RoleInfo

	geomFn   GeometryFunc
	geomOnce sync.Once
	geom     orb.Geometry
	geomErr  error
}

// NewSourceFeature constructs a feature with a lazy geometry thunk.
func NewSourceFeature(id uint64, kind Kind, tags Tags, geomFn GeometryFunc) *SourceFeature {
	return &SourceFeature{ID: id, Kind: kind, Tags: tags, geomFn: geomFn}
}

// Geometry resolves and caches the feature's geometry. Safe for concurrent
// use; the thunk runs exactly once even if called from multiple goroutines.
func (f *SourceFeature) Geometry() (orb.Geometry, error) {
	f.geomOnce.Do(func() {
		if f.geomFn != nil {
			f.geom, f.geomErr = f.geomFn()
		}
	})
	return f.geom, f.geomErr
}

// GroupKey caps how many RenderedFeatures sharing Key survive within one
// tile+layer, for label density control in FeatureGroup.
type GroupKey struct {
	Key   uint64
	Limit uint32
}

// RenderedFeature is a feature clipped, simplified, and quantized to one
// tile at one zoom level, ready for MVT encoding.
type RenderedFeature struct {
	TileID    uint32
	Layer     string
	ZOrder    int32
	FeatureID uint64
	Geometry  orb.Geometry // tile-local integer coordinates, 4096 extent
	Attrs     Tags
	Group     *GroupKey
	Mergeable bool // profile opted into adjacent-geometry merging for this feature
}
