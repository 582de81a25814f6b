// Package profile defines the schema-specific classification layer: the
// Profile interface the engine calls once per SourceFeature, and the
// FeatureCollector a profile uses to emit zero or more output features
// with per-feature zoom range, buffer, attributes, and grouping.
package profile

import (
	"github.com/pspoerri/geo2mbtiles/internal/coord"
	"github.com/pspoerri/geo2mbtiles/internal/model"
)

// DefaultBufferPx is the tile-edge buffer applied when a FeatureSpec does
// not override it.
const DefaultBufferPx = 4.0

// Profile classifies SourceFeatures into rendered output features. It is
// constructed once per run, called concurrently from renderer workers (one
// goroutine at a time per feature, many features in flight), and released
// once after pass-2 completes.
type Profile interface {
	// ProcessFeature inspects f and emits zero or more features into fc.
	// Returning a non-nil error marks the source feature ProfileRejected;
	// the engine counts it and continues.
	ProcessFeature(f *model.SourceFeature, fc *FeatureCollector) error
	// Release is called once, after pass-2 completes, to free any
	// profile-owned resources (e.g. a Translations cache).
	Release()
}

// FeatureCollector accumulates the FeatureSpecs a single ProcessFeature
// call produces. It is not safe for concurrent use — the engine gives each
// in-flight SourceFeature its own collector.
type FeatureCollector struct {
	specs []*FeatureSpec
}

// NewFeatureCollector returns an empty collector.
func NewFeatureCollector() *FeatureCollector {
	return &FeatureCollector{}
}

// Specs returns the FeatureSpecs collected so far.
func (c *FeatureCollector) Specs() []*FeatureSpec {
	return c.specs
}

func (c *FeatureCollector) add(layer string, kind model.Kind, centroid bool) *FeatureSpec {
	s := &FeatureSpec{
		layer:    layer,
		kind:     kind,
		centroid: centroid,
		minZoom:  0,
		maxZoom:  coord.MaxZoom,
		bufferPx: DefaultBufferPx,
	}
	c.specs = append(c.specs, s)
	return s
}

// Point emits the feature's geometry as-is (expected to be a point).
func (c *FeatureCollector) Point(layer string) *FeatureSpec { return c.add(layer, model.KindNode, false) }

// Line emits the feature's geometry as a line (way/shapefile polyline).
func (c *FeatureCollector) Line(layer string) *FeatureSpec { return c.add(layer, model.KindLine, false) }

// Polygon emits the feature's geometry as a polygon: the renderer turns a
// closed LineString (a closed way) into a one-ring Polygon and keeps any
// other geometry as it is.
func (c *FeatureCollector) Polygon(layer string) *FeatureSpec {
	return c.add(layer, model.KindPolygon, false)
}

// Centroid emits a single point at the geometry's centroid, regardless of
// the source geometry's type — typically used for polygon labels.
func (c *FeatureCollector) Centroid(layer string) *FeatureSpec {
	return c.add(layer, model.KindNode, true)
}

// FeatureSpec is one output feature a profile is building, with fluent
// setters returning the receiver so calls chain off a builder method.
type FeatureSpec struct {
	layer    string
	kind     model.Kind
	centroid bool

	minZoom  uint8
	maxZoom  uint8
	bufferPx float64
	zOrder   int32
	attrs    model.Tags
	group    *model.GroupKey
	union    bool
	merge    bool
}

// ZoomRange restricts this feature to zooms [min,max] inclusive.
func (s *FeatureSpec) ZoomRange(min, max uint8) *FeatureSpec {
	s.minZoom, s.maxZoom = min, max
	return s
}

// Buffer overrides the default tile-edge clip buffer, in pixels.
func (s *FeatureSpec) Buffer(px float64) *FeatureSpec { s.bufferPx = px; return s }

// ZOrder sets the draw order within a tile+layer (ties broken by featureId).
func (s *FeatureSpec) ZOrder(z int32) *FeatureSpec { s.zOrder = z; return s }

// Attr sets one output attribute.
func (s *FeatureSpec) Attr(key string, value interface{}) *FeatureSpec {
	if s.attrs == nil {
		s.attrs = model.Tags{}
	}
	s.attrs[key] = value
	return s
}

// Attrs merges a batch of output attributes.
func (s *FeatureSpec) Attrs(attrs model.Tags) *FeatureSpec {
	if s.attrs == nil {
		s.attrs = make(model.Tags, len(attrs))
	}
	for k, v := range attrs {
		s.attrs[k] = v
	}
	return s
}

// Group caps how many features sharing key survive within one tile+layer,
// for label density control in FeatureGroup.
func (s *FeatureSpec) Group(key uint64, limit uint32) *FeatureSpec {
	s.group = &model.GroupKey{Key: key, Limit: limit}
	return s
}

// Union requests that, before simplification, a MultiPolygon geometry be
// unioned into a single Polygon (rings pooled into one exterior/interior
// set) rather than simplified ring-by-ring.
func (s *FeatureSpec) Union() *FeatureSpec { s.union = true; return s }

// Merge opts this feature into FeatureGroup's adjacent-geometry merge: two
// consecutive mergeable features in the same tile+layer with identical
// attributes are combined into one, polygons by pooling their rings and
// lines where an endpoint coincides.
func (s *FeatureSpec) Merge() *FeatureSpec { s.merge = true; return s }

// Layer returns the assigned output layer name.
func (s *FeatureSpec) Layer() string { return s.layer }

// Kind reports whether this spec renders as a point, line, or polygon.
func (s *FeatureSpec) Kind() model.Kind { return s.kind }

// IsCentroid reports whether the geometry should collapse to its centroid.
func (s *FeatureSpec) IsCentroid() bool { return s.centroid }

// MinZoom returns the lowest zoom this feature appears at.
func (s *FeatureSpec) MinZoom() uint8 { return s.minZoom }

// MaxZoom returns the highest zoom this feature appears at.
func (s *FeatureSpec) MaxZoom() uint8 { return s.maxZoom }

// BufferPx returns the tile-edge clip buffer, in pixels.
func (s *FeatureSpec) BufferPx() float64 { return s.bufferPx }

// ZOrderValue returns the draw order within a tile+layer.
func (s *FeatureSpec) ZOrderValue() int32 { return s.zOrder }

// AttrsMap returns the accumulated output attributes.
func (s *FeatureSpec) AttrsMap() model.Tags { return s.attrs }

// GroupSpec returns the group-key/limit cap, or nil if none was set.
func (s *FeatureSpec) GroupSpec() *model.GroupKey { return s.group }

// UnionRequested reports whether polygon union before simplify was requested.
func (s *FeatureSpec) UnionRequested() bool { return s.union }

// MergeRequested reports whether this feature opted into adjacent-geometry
// merging in FeatureGroup.
func (s *FeatureSpec) MergeRequested() bool { return s.merge }
