package source

import (
	"context"
	"io"
	"os"
	"sync"

	"github.com/paulmach/orb"
	"github.com/paulmach/osm"
	"github.com/paulmach/osm/osmpbf"

	"github.com/pspoerri/geo2mbtiles/internal/model"
	"github.com/pspoerri/geo2mbtiles/internal/nodedb"
	"github.com/pspoerri/geo2mbtiles/internal/perr"
)

// OSMReader streams an OSM PBF file through paulmach/osm/osmpbf. A fresh
// OpenOSM call re-opens the file at offset zero, so the engine runs pass-1
// and pass-2 as two independent OSMReaders over the same path.
type OSMReader struct {
	f       *os.File
	cancel  context.CancelFunc
	scanner *osmpbf.Scanner
	pass    Pass
	nodeDB  *nodedb.Store  // non-nil only for Pass2, used to resolve way geometry
	relIdx  *RelationIndex // built during Pass1, consulted read-only during Pass2

	wayCacheMu sync.Mutex
	wayCache   map[int64]orb.LineString // resolved geometry for relIdx.NeedsWay ways, Pass2 only
}

// OpenOSM opens path for streaming. threads controls osmpbf's internal
// decode parallelism. nodeDB is required for Pass2 (way/relation geometry
// resolution) and ignored for Pass1. relIdx is populated with each
// relation's way members during Pass1, and consulted during Pass2 to decide
// which way geometries to cache for relation assembly; the same instance
// must be threaded through both passes.
func OpenOSM(path string, pass Pass, threads int, nodeDB *nodedb.Store, relIdx *RelationIndex) (*OSMReader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, perr.New(perr.IoFailure, "source.OpenOSM", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &OSMReader{
		f:        f,
		cancel:   cancel,
		scanner:  osmpbf.New(ctx, f, threads),
		pass:     pass,
		nodeDB:   nodeDB,
		relIdx:   relIdx,
		wayCache: make(map[int64]orb.LineString),
	}, nil
}

// Next returns the next feature in the pass's element set, or io.EOF.
func (r *OSMReader) Next() (*model.SourceFeature, error) {
	for r.scanner.Scan() {
		switch o := r.scanner.Object().(type) {
		case *osm.Node:
			return r.nodeFeature(o), nil
		case *osm.Way:
			if r.pass == Pass1 {
				continue
			}
			if r.relIdx != nil && r.relIdx.NeedsWay(int64(o.ID)) {
				r.cacheWay(o)
			}
			return r.wayFeature(o), nil
		case *osm.Relation:
			if r.pass == Pass1 {
				if r.relIdx != nil {
					r.relIdx.AddRelation(o)
				}
				continue
			}
			return r.relationFeature(o), nil
		}
	}
	if err := r.scanner.Err(); err != nil {
		return nil, perr.New(perr.SourceParseError, "source.OSMReader.Next", err)
	}
	return nil, io.EOF
}

// Close releases the scanner and underlying file handle.
func (r *OSMReader) Close() error {
	r.cancel()
	scanErr := r.scanner.Close()
	if err := r.f.Close(); err != nil {
		return perr.New(perr.IoFailure, "source.OSMReader.Close", err)
	}
	if scanErr != nil {
		return perr.New(perr.SourceParseError, "source.OSMReader.Close", scanErr)
	}
	return nil
}

func tagsToModel(t osm.Tags) model.Tags {
	out := make(model.Tags, len(t))
	for _, kv := range t {
		out[kv.Key] = kv.Value
	}
	return out
}

func (r *OSMReader) nodeFeature(n *osm.Node) *model.SourceFeature {
	pt := orb.Point{n.Lon, n.Lat}
	return model.NewSourceFeature(uint64(n.ID), model.KindNode, tagsToModel(n.Tags), func() (orb.Geometry, error) {
		return pt, nil
	})
}

// wayFeature resolves node coordinates lazily, on first Geometry() call, so
// ways rejected by the profile before geometry is needed never touch the
// node store. A way referencing a node missing from pass-1 yields a
// MissingNodeReference error rather than aborting the run.
func (r *OSMReader) wayFeature(w *osm.Way) *model.SourceFeature {
	nodeDB := r.nodeDB
	refs := w.Nodes
	return model.NewSourceFeature(uint64(w.ID), model.KindWay, tagsToModel(w.Tags), func() (orb.Geometry, error) {
		ls := make(orb.LineString, 0, len(refs))
		for _, wn := range refs {
			lon, lat, err := nodeDB.Get(uint64(wn.ID))
			if err != nil {
				return nil, perr.New(perr.MissingNodeReference, "source.wayFeature", err)
			}
			ls = append(ls, orb.Point{lon, lat})
		}
		return ls, nil
	})
}

// cacheWay resolves w's node coordinates eagerly (unlike wayFeature's lazy
// Geometry(), this runs unconditionally, since a relation needing w may
// never itself surface a call to w's own SourceFeature.Geometry() — the
// profile can accept or reject a way independently of whether a relation
// references it) and stores the resulting ring for relationFeature to pick
// up. OSM PBF file order guarantees every way precedes every relation, so
// by the time any relation is read every way it references has already
// streamed past this point.
func (r *OSMReader) cacheWay(w *osm.Way) {
	ls := make(orb.LineString, 0, len(w.Nodes))
	for _, wn := range w.Nodes {
		lon, lat, err := r.nodeDB.Get(uint64(wn.ID))
		if err != nil {
			return // best-effort: an unresolved way contributes no ring
		}
		ls = append(ls, orb.Point{lon, lat})
	}
	r.wayCacheMu.Lock()
	r.wayCache[int64(w.ID)] = ls
	r.wayCacheMu.Unlock()
}

func (r *OSMReader) cachedWay(id int64) (orb.LineString, bool) {
	r.wayCacheMu.Lock()
	defer r.wayCacheMu.Unlock()
	ls, ok := r.wayCache[id]
	return ls, ok
}

// relationFeature assembles a relation's way members into a MultiPolygon:
// each way whose role is not "inner" (outer, unlabeled or any other role)
// opens a new polygon, and each "inner"-role way is appended to the most
// recently opened polygon as a hole. This is a
// simplification short of full ring assembly (it does not stitch multiple
// way segments sharing an endpoint into one ring) — member ways are assumed
// to already form closed rings individually, the common case for
// administrative boundaries and water features exported from OSM.
// Unresolved or non-closed member ways are skipped rather than failing the
// whole relation.
func (r *OSMReader) relationFeature(rel *osm.Relation) *model.SourceFeature {
	members := r.relIdx.Members(int64(rel.ID))
	return model.NewSourceFeature(uint64(rel.ID), model.KindRelation, tagsToModel(rel.Tags), func() (orb.Geometry, error) {
		var mp orb.MultiPolygon
		var cur orb.Polygon
		for _, m := range members {
			ls, ok := r.cachedWay(m.wayID)
			if !ok || len(ls) < 4 {
				continue
			}
			ring := orb.Ring(ls)
			if !ring.Closed() {
				continue
			}
			if m.role != "inner" && len(cur) > 0 {
				mp = append(mp, cur)
				cur = nil
			}
			cur = append(cur, ring)
		}
		if len(cur) > 0 {
			mp = append(mp, cur)
		}
		if len(mp) == 0 {
			return nil, perr.New(perr.GeometryInvalid, "source.relationFeature", errNoResolvedMembers)
		}
		return mp, nil
	})
}

var errNoResolvedMembers = errRelationEmpty{}

type errRelationEmpty struct{}

func (errRelationEmpty) Error() string { return "relation has no resolvable way members" }
