// Package featuregroup implements batching of the sorted
// RenderedFeature stream by tileId, then within each batch grouping by
// layer, ordering by (zOrder, featureId), and applying per-group-key caps
// for label density control.
package featuregroup

import (
	"sort"

	"github.com/paulmach/orb"

	"github.com/pspoerri/geo2mbtiles/internal/model"
)

// Batch is every RenderedFeature sharing one tileId, organized by layer in
// the order FeatureGroup's caller should hand them to the MVT encoder.
type Batch struct {
	TileID uint32
	Layers []LayerBatch
}

// LayerBatch is one layer's surviving features within a tile, ordered by
// (zOrder asc, featureId asc).
type LayerBatch struct {
	Layer    string
	Features []*model.RenderedFeature
}

// Reader turns a source of tileId-ordered RenderedFeatures (as produced by
// featuresort.Sorter.Sort) into Batches.
type Reader struct {
	in  <-chan *model.RenderedFeature
	buf *model.RenderedFeature // one feature of lookahead, for batch boundaries
	eof bool
}

// New wraps in, which must already be ordered by ascending TileID (ties in
// any order — FeatureGroup re-sorts within each batch).
func New(in <-chan *model.RenderedFeature) *Reader {
	return &Reader{in: in}
}

// Next returns the next tileId batch, or (nil, false) once in is drained.
func (r *Reader) Next() (*Batch, bool) {
	first := r.buf
	r.buf = nil
	if first == nil {
		if r.eof {
			return nil, false
		}
		f, ok := <-r.in
		if !ok {
			r.eof = true
			return nil, false
		}
		first = f
	}

	tileID := first.TileID
	features := []*model.RenderedFeature{first}
	for {
		f, ok := <-r.in
		if !ok {
			r.eof = true
			break
		}
		if f.TileID != tileID {
			r.buf = f
			break
		}
		features = append(features, f)
	}

	return buildBatch(tileID, features), true
}

func buildBatch(tileID uint32, features []*model.RenderedFeature) *Batch {
	byLayer := make(map[string][]*model.RenderedFeature)
	var layerOrder []string
	for _, f := range features {
		if _, ok := byLayer[f.Layer]; !ok {
			layerOrder = append(layerOrder, f.Layer)
		}
		byLayer[f.Layer] = append(byLayer[f.Layer], f)
	}

	b := &Batch{TileID: tileID}
	for _, layer := range layerOrder {
		fs := byLayer[layer]
		sort.SliceStable(fs, func(i, j int) bool {
			if fs[i].ZOrder != fs[j].ZOrder {
				return fs[i].ZOrder < fs[j].ZOrder
			}
			return fs[i].FeatureID < fs[j].FeatureID
		})
		fs = applyGroupLimits(fs)
		fs = mergeAdjacent(fs)
		b.Layers = append(b.Layers, LayerBatch{Layer: layer, Features: fs})
	}
	return b
}

// applyGroupLimits retains at most limit features per distinct group key
// within the layer, preserving the (zOrder,featureId) order already
// established on fs.
func applyGroupLimits(fs []*model.RenderedFeature) []*model.RenderedFeature {
	counts := make(map[uint64]uint32)
	out := fs[:0:0]
	for _, f := range fs {
		if f.Group == nil {
			out = append(out, f)
			continue
		}
		if counts[f.Group.Key] >= f.Group.Limit {
			continue
		}
		counts[f.Group.Key]++
		out = append(out, f)
	}
	return out
}

// mergeAdjacent folds runs of consecutive, Mergeable features sharing
// identical attributes into one: polygons pool their rings (the same
// ring-pool approximation the renderer uses for pre-simplify union), lines
// concatenate when one's last point equals the next's first point (or the
// next's last point, in which case the next is appended reversed). Non-
// mergeable features, and runs whose geometry doesn't combine cleanly, pass
// through untouched. Order (zOrder, featureId) is preserved on the survivor.
func mergeAdjacent(fs []*model.RenderedFeature) []*model.RenderedFeature {
	if len(fs) < 2 {
		return fs
	}
	out := make([]*model.RenderedFeature, 0, len(fs))
	cur := fs[0]
	for _, next := range fs[1:] {
		if merged, ok := tryMerge(cur, next); ok {
			cur = merged
			continue
		}
		out = append(out, cur)
		cur = next
	}
	out = append(out, cur)
	return out
}

func tryMerge(a, b *model.RenderedFeature) (*model.RenderedFeature, bool) {
	if !a.Mergeable || !b.Mergeable {
		return nil, false
	}
	if !tagsEqual(a.Attrs, b.Attrs) {
		return nil, false
	}
	geom, ok := mergeGeometry(a.Geometry, b.Geometry)
	if !ok {
		return nil, false
	}
	merged := *a
	merged.Geometry = geom
	return &merged, true
}

func tagsEqual(a, b model.Tags) bool {
	if len(a) != len(b) {
		return false
	}
	for k, v := range a {
		if bv, ok := b[k]; !ok || bv != v {
			return false
		}
	}
	return true
}

// mergeGeometry combines two geometries of matching kind: polygons pool
// rings, lines concatenate where endpoints coincide. Anything else (points,
// mismatched kinds, non-touching lines) is left unmerged.
func mergeGeometry(a, b orb.Geometry) (orb.Geometry, bool) {
	switch ag := a.(type) {
	case orb.Polygon:
		if bg, ok := b.(orb.Polygon); ok {
			return append(append(orb.Polygon{}, ag...), bg...), true
		}
	case orb.LineString:
		if bg, ok := b.(orb.LineString); ok {
			return concatLineStrings(ag, bg)
		}
	}
	return nil, false
}

func concatLineStrings(a, b orb.LineString) (orb.LineString, bool) {
	if len(a) == 0 || len(b) == 0 {
		return nil, false
	}
	switch {
	case a[len(a)-1] == b[0]:
		out := append(append(orb.LineString{}, a...), b[1:]...)
		return out, true
	case a[len(a)-1] == b[len(b)-1]:
		out := append(orb.LineString{}, a...)
		for i := len(b) - 2; i >= 0; i-- {
			out = append(out, b[i])
		}
		return out, true
	default:
		return nil, false
	}
}
