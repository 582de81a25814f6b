package source

import "github.com/paulmach/osm"

// relationMember is one way-typed member of a relation, recorded in
// relation order for ring assembly.
type relationMember struct {
	wayID int64
	role  string
}

// RelationIndex is the pass-1-built, in-memory index from a relation to its
// way-typed members, plus the reverse way-id -> referenced-by-some-relation
// index pass-2 consults to decide which way geometries are worth caching.
// Only ways actually referenced by an indexed relation are ever cached —
// a small fraction of a planet extract's ways, not the whole way graph.
type RelationIndex struct {
	members  map[int64][]relationMember
	wayUsers map[int64]bool
}

// NewRelationIndex returns an empty index, built during pass-1 and reused
// read-only during pass-2.
func NewRelationIndex() *RelationIndex {
	return &RelationIndex{
		members:  make(map[int64][]relationMember),
		wayUsers: make(map[int64]bool),
	}
}

// AddRelation records rel's way-typed members. Node and nested-relation
// members are not indexed: relationFeature assembles geometry from member
// ways only.
func (ix *RelationIndex) AddRelation(rel *osm.Relation) {
	var ms []relationMember
	for _, m := range rel.Members {
		if m.Type != osm.TypeWay {
			continue
		}
		ms = append(ms, relationMember{wayID: m.Ref, role: m.Role})
		ix.wayUsers[m.Ref] = true
	}
	if len(ms) > 0 {
		ix.members[int64(rel.ID)] = ms
	}
}

// NeedsWay reports whether wayID is referenced by some indexed relation, so
// pass-2 should cache its resolved geometry as it streams by.
func (ix *RelationIndex) NeedsWay(wayID int64) bool {
	return ix.wayUsers[wayID]
}

// Members returns relID's way members in relation order, or nil if relID
// has no indexed way members.
func (ix *RelationIndex) Members(relID int64) []relationMember {
	return ix.members[relID]
}
