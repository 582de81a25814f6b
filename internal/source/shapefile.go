package source

import (
	"io"
	"strconv"

	shp "github.com/jonas-p/go-shp"
	"github.com/paulmach/orb"

	"github.com/pspoerri/geo2mbtiles/internal/model"
	"github.com/pspoerri/geo2mbtiles/internal/perr"
)

// ShapefileReader streams features from an ESRI shapefile. It is single
// pass and only ever opened for pass-2 — shapefiles carry no node/way
// split, every record is a complete feature.
type ShapefileReader struct {
	r      *shp.Reader
	fields []shp.Field
	nextID uint64
}

// OpenShapefile opens a .shp/.dbf pair, given the full path to the .shp file.
func OpenShapefile(path string) (*ShapefileReader, error) {
	r, err := shp.Open(path)
	if err != nil {
		return nil, perr.New(perr.IoFailure, "source.OpenShapefile", err)
	}
	return &ShapefileReader{r: r, fields: r.Fields()}, nil
}

// Next returns the next feature, or io.EOF once the shapefile is exhausted.
func (r *ShapefileReader) Next() (*model.SourceFeature, error) {
	if !r.r.Next() {
		if err := r.r.Err(); err != nil {
			return nil, perr.New(perr.SourceParseError, "source.ShapefileReader.Next", err)
		}
		return nil, io.EOF
	}
	n, shape := r.r.Shape()

	tags := make(model.Tags, len(r.fields))
	for i, f := range r.fields {
		tags[fieldName(f)] = attrValue(r.r.ReadAttribute(n, i))
	}

	r.nextID++
	id := r.nextID

	switch s := shape.(type) {
	case *shp.Point:
		pt := orb.Point{s.X, s.Y}
		return model.NewSourceFeature(id, model.KindNode, tags, func() (orb.Geometry, error) { return pt, nil }), nil
	case *shp.PolyLine:
		mls := polyLineToOrb(s)
		return model.NewSourceFeature(id, model.KindLine, tags, func() (orb.Geometry, error) { return mls, nil }), nil
	case *shp.Polygon:
		poly := polygonToOrb(s)
		return model.NewSourceFeature(id, model.KindPolygon, tags, func() (orb.Geometry, error) { return poly, nil }), nil
	default:
		return model.NewSourceFeature(id, model.KindPolygon, tags, func() (orb.Geometry, error) {
			return nil, perr.New(perr.GeometryInvalid, "source.ShapefileReader.Next", errUnsupportedShape)
		}), nil
	}
}

// Close releases the shapefile handle.
func (r *ShapefileReader) Close() error {
	r.r.Close()
	return nil
}

func fieldName(f shp.Field) string {
	// shp.Field.String() returns "name,format"; take the name portion.
	s := f.String()
	for i, c := range s {
		if c == ',' {
			return s[:i]
		}
	}
	return s
}

// attrValue widens a DBF string attribute to int64/float64/bool when it
// unambiguously parses as one, so LayerStats field-type merging sees
// the DBF's actual column type rather than everything collapsing to STRING.
func attrValue(s string) interface{} {
	if i, err := strconv.ParseInt(s, 10, 64); err == nil {
		return i
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return f
	}
	if b, err := strconv.ParseBool(s); err == nil {
		return b
	}
	return s
}

func polyLineToOrb(s *shp.PolyLine) orb.MultiLineString {
	parts := partRanges(s.Parts, len(s.Points))
	mls := make(orb.MultiLineString, 0, len(parts))
	for _, pr := range parts {
		ls := make(orb.LineString, 0, pr.end-pr.start)
		for _, p := range s.Points[pr.start:pr.end] {
			ls = append(ls, orb.Point{p.X, p.Y})
		}
		mls = append(mls, ls)
	}
	return mls
}

func polygonToOrb(s *shp.Polygon) orb.Polygon {
	parts := partRanges(s.Parts, len(s.Points))
	poly := make(orb.Polygon, 0, len(parts))
	for _, pr := range parts {
		ring := make(orb.Ring, 0, pr.end-pr.start)
		for _, p := range s.Points[pr.start:pr.end] {
			ring = append(ring, orb.Point{p.X, p.Y})
		}
		poly = append(poly, ring)
	}
	return poly
}

type partRange struct{ start, end int }

func partRanges(parts []int32, total int) []partRange {
	out := make([]partRange, 0, len(parts))
	for i, p := range parts {
		end := total
		if i+1 < len(parts) {
			end = int(parts[i+1])
		}
		out = append(out, partRange{start: int(p), end: end})
	}
	return out
}

var errUnsupportedShape = errUnsupported{}

type errUnsupported struct{}

func (errUnsupported) Error() string { return "unsupported shapefile shape type" }
