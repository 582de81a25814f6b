package profile

import (
	"github.com/pspoerri/geo2mbtiles/internal/model"
	"github.com/pspoerri/geo2mbtiles/internal/profile/matchindex"
)

// roadZOrder ranks highway classes for draw order within the transportation
// layer; unmatched classes default to 0 (bottom).
var roadZOrder = map[string]int32{
	"motorway": 60, "trunk": 50, "primary": 40, "secondary": 30,
	"tertiary": 20, "residential": 10, "service": 5,
}

// basicProfile is the built-in default schema: a handful of general-purpose
// layers (water, landuse, building, transportation, place_label, poi) driven
// by a single matchindex.Index over common OSM/Natural Earth/shapefile tag
// vocabularies. Profile is an external, pluggable collaborator by design;
// this implementation exists so the CLI has a runnable default when no
// custom profile is wired in.
type basicProfile struct {
	idx *matchindex.Index
	tr  *Translations
}

// NewBasicProfile returns the built-in default Profile, resolving place and
// POI names through tr.
func NewBasicProfile(tr *Translations) Profile {
	return &basicProfile{idx: matchindex.New(basicExpressions), tr: tr}
}

var basicExpressions = []matchindex.Expression{
	{Label: "water", Clauses: []matchindex.Clause{
		{{Key: "natural", Value: "water"}},
		{{Key: "waterway", AnyValue: true}},
	}},
	{Label: "landuse", Clauses: []matchindex.Clause{
		{{Key: "landuse", AnyValue: true}},
		{{Key: "natural", Value: "wood"}},
		{{Key: "leisure", Value: "park"}},
	}},
	{Label: "building", Clauses: []matchindex.Clause{
		{{Key: "building", AnyValue: true}},
	}},
	{Label: "transportation", Clauses: []matchindex.Clause{
		{{Key: "highway", AnyValue: true}},
	}},
	{Label: "place_label", Clauses: []matchindex.Clause{
		{{Key: "place", AnyValue: true}},
	}},
	{Label: "poi", Clauses: []matchindex.Clause{
		{{Key: "amenity", AnyValue: true}},
		{{Key: "shop", AnyValue: true}},
	}},
}

func (p *basicProfile) ProcessFeature(f *model.SourceFeature, fc *FeatureCollector) error {
	tags := make(map[string]interface{}, len(f.Tags))
	for k, v := range f.Tags {
		tags[k] = v
	}

	for _, label := range dedupeLabels(p.idx.Match(tags)) {
		switch label {
		case "water":
			fc.Polygon("water").Union().Merge().Attrs(f.Tags)
		case "landuse":
			fc.Polygon("landuse").Merge().Attr("class", tagString(f.Tags, "landuse")).Attrs(subsetTags(f.Tags, "leisure", "natural"))
		case "building":
			fc.Polygon("building").ZoomRange(12, 14)
		case "transportation":
			class := tagString(f.Tags, "highway")
			fc.Line("transportation").
				ZOrder(roadZOrder[class]).
				Attr("class", class).
				Attrs(subsetTags(f.Tags, "name", "ref", "oneway"))
		case "place_label":
			name := p.localizedName(f)
			fc.Centroid("place_label").
				ZoomRange(2, 14).
				Attr("name", name).
				Attr("class", tagString(f.Tags, "place")).
				Group(placeGroupKey(f.Tags), 1)
		case "poi":
			name := p.localizedName(f)
			fc.Centroid("poi").
				ZoomRange(14, 14).
				Attr("name", name).
				Attrs(subsetTags(f.Tags, "amenity", "shop"))
		}
	}
	return nil
}

func (p *basicProfile) Release() {}

// localizedName prefers a Wikidata-resolved label (via the feature's
// wikidata tag, when present) over the raw "name" tag.
func (p *basicProfile) localizedName(f *model.SourceFeature) string {
	fallback := tagString(f.Tags, "name")
	if p.tr == nil {
		return fallback
	}
	qid := tagString(f.Tags, "wikidata")
	if qid == "" {
		return fallback
	}
	return p.tr.Name(qid, fallback)
}

// placeGroupKey buckets labels by place class so, e.g., at most one city
// label per tile survives density limiting independent of town/village
// labels sharing the same tile.
func placeGroupKey(tags model.Tags) uint64 {
	class := tagString(tags, "place")
	var h uint64 = 14695981039346656037 // FNV-64a offset basis
	for i := 0; i < len(class); i++ {
		h ^= uint64(class[i])
		h *= 1099511628211
	}
	return h
}

func tagString(tags model.Tags, key string) string {
	v, ok := tags[key]
	if !ok {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return ""
}

func subsetTags(tags model.Tags, keys ...string) model.Tags {
	out := make(model.Tags, len(keys))
	for _, k := range keys {
		if v, ok := tags[k]; ok {
			out[k] = v
		}
	}
	return out
}

func dedupeLabels(labels []string) []string {
	seen := make(map[string]bool, len(labels))
	out := labels[:0:0]
	for _, l := range labels {
		if seen[l] {
			continue
		}
		seen[l] = true
		out = append(out, l)
	}
	return out
}
