// Package render implements the feature renderer: projecting, simplifying,
// clipping, and quantizing one SourceFeature into zero or more per-tile
// RenderedFeatures, per the FeatureSpecs a Profile emitted for it.
package render

import (
	"math"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/clip"
	"github.com/paulmach/orb/planar"
	"github.com/paulmach/orb/project"
	"github.com/paulmach/orb/simplify"

	"github.com/pspoerri/geo2mbtiles/internal/coord"
	"github.com/pspoerri/geo2mbtiles/internal/model"
	"github.com/pspoerri/geo2mbtiles/internal/perr"
	"github.com/pspoerri/geo2mbtiles/internal/profile"
	"github.com/pspoerri/geo2mbtiles/internal/stats"
)

// pixelTileSize is the web-map pixel convention τ(z) and the buffer
// default are expressed in (256px/tile). extentScale converts those units
// to the MVT 4096-unit extent.
const pixelTileSize = 256
const extentScale = float64(coord.TileExtent) / pixelTileSize

// SimplifyTolerancePx is τ(z): the Douglas-Peucker tolerance applied at
// every zoom, in pixelTileSize units.
const SimplifyTolerancePx = 0.0625

// Renderer implements the FeatureRenderer algorithm.
type Renderer struct {
	stats *stats.Stats
}

// New returns a Renderer reporting per-feature errors to s.
func New(s *stats.Stats) *Renderer {
	return &Renderer{stats: s}
}

// Render runs f through every FeatureSpec a Profile emitted for it,
// producing one RenderedFeature per (tile, zoom) the feature survives to.
func (r *Renderer) Render(f *model.SourceFeature, specs []*profile.FeatureSpec) []*model.RenderedFeature {
	if len(specs) == 0 {
		return nil
	}
	geom, err := f.Geometry()
	if err != nil {
		kind := perr.GeometryInvalid
		if perr.Is(err, perr.MissingNodeReference) {
			kind = perr.MissingNodeReference
		}
		r.stats.CountError(kind, "render.Render", err)
		return nil
	}
	if geom == nil {
		return nil
	}

	var out []*model.RenderedFeature
	for _, spec := range specs {
		g := geom
		if ls, ok := geom.(orb.LineString); ok && spec.Kind() == model.KindPolygon && len(ls) >= 4 && ls[0] == ls[len(ls)-1] {
			g = orb.Polygon{orb.Ring(ls)}
		}
		if spec.IsCentroid() {
			c, _ := planar.CentroidArea(geom)
			g = c
		}
		for z := int(spec.MinZoom()); z <= int(spec.MaxZoom()); z++ {
			out = append(out, r.renderAtZoom(f, spec, g, uint8(z))...)
		}
	}
	return out
}

func (r *Renderer) renderAtZoom(f *model.SourceFeature, spec *profile.FeatureSpec, geom orb.Geometry, z uint8) []*model.RenderedFeature {
	projected := project.Geometry(geom, func(p orb.Point) orb.Point {
		px, py := coord.LonLatToGlobalPixel(p[0], p[1], int(z), pixelTileSize)
		return orb.Point{px, py}
	})

	if spec.UnionRequested() {
		if mp, ok := projected.(orb.MultiPolygon); ok {
			projected = unionRings(mp)
		}
	}

	simplifier := simplify.DouglasPeucker(SimplifyTolerancePx)
	simplified := simplifier.Simplify(projected)

	featureBound := simplified.Bound()
	buffer := spec.BufferPx()
	n := uint32(1) << z
	minX, minY, maxX, maxY := tileRange(featureBound, buffer, n)

	var out []*model.RenderedFeature
	for tx := minX; tx <= maxX; tx++ {
		for ty := minY; ty <= maxY; ty++ {
			originX := float64(tx) * pixelTileSize
			originY := float64(ty) * pixelTileSize
			bufferedTileBound := orb.Bound{
				Min: orb.Point{originX - buffer, originY - buffer},
				Max: orb.Point{originX + pixelTileSize + buffer, originY + pixelTileSize + buffer},
			}
			if !bufferedTileBound.Intersects(featureBound) {
				continue
			}

			clipped := clip.Geometry(bufferedTileBound, simplified)
			if clipped == nil {
				continue
			}

			quantized := project.Geometry(clipped, func(p orb.Point) orb.Point {
				return orb.Point{
					math.Round((p[0] - originX) * extentScale),
					math.Round((p[1] - originY) * extentScale),
				}
			})
			if isDegenerate(quantized) {
				continue
			}

			tc := coord.TileCoord{Z: z, X: tx, Y: ty}
			if err := tc.Validate(); err != nil {
				continue
			}

			out = append(out, &model.RenderedFeature{
				TileID:    tc.ID(),
				Layer:     spec.Layer(),
				ZOrder:    spec.ZOrderValue(),
				FeatureID: f.ID,
				Geometry:  quantized,
				Attrs:     spec.AttrsMap(),
				Group:     spec.GroupSpec(),
				Mergeable: spec.MergeRequested(),
			})
		}
	}
	return out
}

// tileRange converts a pixel-space bound, expanded by buffer on every side,
// into the inclusive tile index range at a zoom with n tiles per axis.
func tileRange(b orb.Bound, buffer float64, n uint32) (minX, minY, maxX, maxY uint32) {
	minX = clampTile(math.Floor((b.Min[0]-buffer)/pixelTileSize), n)
	minY = clampTile(math.Floor((b.Min[1]-buffer)/pixelTileSize), n)
	maxX = clampTile(math.Floor((b.Max[0]+buffer)/pixelTileSize), n)
	maxY = clampTile(math.Floor((b.Max[1]+buffer)/pixelTileSize), n)
	return
}

func clampTile(v float64, n uint32) uint32 {
	if v < 0 {
		return 0
	}
	if v >= float64(n) {
		return n - 1
	}
	return uint32(v)
}

// unionRings approximates "union before simplify" by pooling every
// constituent polygon's rings into a single Polygon, the same way MVT's
// wire format represents one feature's multiple exterior/interior rings.
// It is a ring-pool, not a geometric dissolve: overlapping exterior rings
// are not merged into one outline.
func unionRings(mp orb.MultiPolygon) orb.Polygon {
	var out orb.Polygon
	for _, poly := range mp {
		out = append(out, poly...)
	}
	return out
}

// isDegenerate reports whether g should be dropped after clipping and
// simplification: empty multipoints, zero-area rings, and sub-pixel lines.
// A single point is never degenerate; clipping has already removed points
// outside the buffered tile.
func isDegenerate(g orb.Geometry) bool {
	switch t := g.(type) {
	case orb.Point:
		return false
	case orb.MultiPoint:
		return len(t) == 0
	case orb.LineString:
		return lineStringDegenerate(t)
	case orb.MultiLineString:
		for _, ls := range t {
			if !lineStringDegenerate(ls) {
				return false
			}
		}
		return true
	case orb.Ring:
		return ringArea(t) == 0
	case orb.Polygon:
		if len(t) == 0 {
			return true
		}
		return ringArea(t[0]) == 0
	case orb.MultiPolygon:
		for _, p := range t {
			if len(p) > 0 && ringArea(p[0]) != 0 {
				return false
			}
		}
		return true
	case orb.Collection:
		for _, sub := range t {
			if !isDegenerate(sub) {
				return false
			}
		}
		return true
	default:
		return g == nil
	}
}

func lineStringDegenerate(ls orb.LineString) bool {
	if len(ls) < 2 {
		return true
	}
	minX, minY := ls[0][0], ls[0][1]
	maxX, maxY := minX, minY
	for _, p := range ls[1:] {
		minX, maxX = math.Min(minX, p[0]), math.Max(maxX, p[0])
		minY, maxY = math.Min(minY, p[1]), math.Max(maxY, p[1])
	}
	return (maxX-minX) < 1 && (maxY-minY) < 1
}

// ringArea is twice the shoelace-formula signed area; zero means the ring
// has collapsed to a line or point after clipping/quantizing.
func ringArea(r orb.Ring) float64 {
	if len(r) < 3 {
		return 0
	}
	var area float64
	for i := 0; i < len(r); i++ {
		j := (i + 1) % len(r)
		area += r[i][0]*r[j][1] - r[j][0]*r[i][1]
	}
	return area
}
