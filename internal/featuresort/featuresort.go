// Package featuresort implements an external merge sort of
// RenderedFeatures keyed by tileId, built on github.com/lanrat/extsort so
// ingest memory stays bounded regardless of source size.
package featuresort

import (
	"bytes"
	"context"
	"encoding/gob"
	"sync/atomic"

	"github.com/lanrat/extsort"
	"github.com/paulmach/orb/encoding/wkb"

	"github.com/pspoerri/geo2mbtiles/internal/model"
	"github.com/pspoerri/geo2mbtiles/internal/perr"
)

func init() {
	gob.Register(int64(0))
	gob.Register(float64(0))
	gob.Register(false)
	gob.Register("")
}

// record is the on-disk chunk representation of one RenderedFeature. The
// geometry round-trips through WKB (orb's own codec) rather than a
// hand-rolled format; Attrs and the group cap round-trip through gob.
type record struct {
	SortKey    uint64
	TileID     uint32
	Layer      string
	ZOrder     int32
	FeatureID  uint64
	HasGroup   bool
	GroupKey   uint64
	GroupLimit uint32
	Mergeable  bool
	Attrs      map[string]interface{}
	GeomWKB    []byte
}

func toRecord(seq uint32, f *model.RenderedFeature) (record, error) {
	geomWKB, err := wkb.Marshal(f.Geometry)
	if err != nil {
		return record{}, perr.New(perr.GeometryInvalid, "featuresort.toRecord", err)
	}
	r := record{
		// sortKey packs tileId in the high 32 bits so numeric order on the
		// key alone gives ascending tileId batches; the emission sequence
		// in the low 32 bits gives a deterministic, total tie-break without
		// depending on the merge library's chunk-sort being stable.
		SortKey:   uint64(f.TileID)<<32 | uint64(seq),
		TileID:    f.TileID,
		Layer:     f.Layer,
		ZOrder:    f.ZOrder,
		FeatureID: f.FeatureID,
		Mergeable: f.Mergeable,
		Attrs:     f.Attrs,
		GeomWKB:   geomWKB,
	}
	if f.Group != nil {
		r.HasGroup = true
		r.GroupKey = f.Group.Key
		r.GroupLimit = f.Group.Limit
	}
	return r, nil
}

func (r record) toModel() (*model.RenderedFeature, error) {
	geom, err := wkb.Unmarshal(r.GeomWKB)
	if err != nil {
		return nil, perr.New(perr.GeometryInvalid, "featuresort.record.toModel", err)
	}
	rf := &model.RenderedFeature{
		TileID:    r.TileID,
		Layer:     r.Layer,
		ZOrder:    r.ZOrder,
		FeatureID: r.FeatureID,
		Geometry:  geom,
		Attrs:     r.Attrs,
		Mergeable: r.Mergeable,
	}
	if r.HasGroup {
		rf.Group = &model.GroupKey{Key: r.GroupKey, Limit: r.GroupLimit}
	}
	return rf, nil
}

func fromBytes(b []byte) extsort.SortType {
	var r record
	dec := gob.NewDecoder(bytes.NewReader(b))
	if err := dec.Decode(&r); err != nil {
		// extsort's FromBytes has no error return; a corrupt chunk record
		// is an internal invariant violation, not a recoverable condition.
		panic(perr.New(perr.Internal, "featuresort.fromBytes", err))
	}
	return r
}

func toBytes(v extsort.SortType) []byte {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(v.(record)); err != nil {
		panic(perr.New(perr.Internal, "featuresort.toBytes", err))
	}
	return buf.Bytes()
}

func less(a, b extsort.SortType) bool {
	return a.(record).SortKey < b.(record).SortKey
}

// Sorter accumulates RenderedFeatures and streams them back in ascending
// tileId order once Sort runs.
type Sorter struct {
	in  chan extsort.SortType
	seq atomic.Uint32

	config *extsort.Config
}

// New returns a Sorter using extsort's default chunking configuration,
// overridden by chunkBytes (the per-worker chunk size) and threads when
// non-zero. The engine passes 1 GiB / threads as chunkBytes.
func New(chunkBytes int, threads int) *Sorter {
	cfg := extsort.DefaultConfig()
	if threads > 0 {
		cfg.NumWorkers = threads
	}
	if chunkBytes > 0 {
		cfg.ChunkSize = chunkBytes
	}
	return &Sorter{
		in:     make(chan extsort.SortType, 4096),
		config: cfg,
	}
}

// Add enqueues f for sorting. Safe to call from multiple renderer workers
// concurrently; extsort itself fans the input channel out to per-chunk
// writer goroutines.
func (s *Sorter) Add(f *model.RenderedFeature) error {
	seq := s.seq.Add(1)
	r, err := toRecord(seq, f)
	if err != nil {
		return err
	}
	s.in <- r
	return nil
}

// Close signals that no more features will be Add-ed.
func (s *Sorter) Close() {
	close(s.in)
}

// Sort performs the k-way merge and streams RenderedFeatures, in ascending
// tileId order (ties broken by emission sequence), to the returned
// channel. The error channel carries at most one error and is closed after
// the output channel drains or the context is cancelled.
func (s *Sorter) Sort(ctx context.Context) (<-chan *model.RenderedFeature, <-chan error) {
	sorter := extsort.New(s.in, fromBytes, toBytes, less, s.config)
	sortedChan, errChan := sorter.Sort(ctx)

	out := make(chan *model.RenderedFeature, 256)
	outErr := make(chan error, 1)

	go func() {
		defer close(outErr)
		defer close(out)
		for v := range sortedChan {
			rf, err := v.(record).toModel()
			if err != nil {
				outErr <- err
				return
			}
			select {
			case out <- rf:
			case <-ctx.Done():
				return
			}
		}
		if err := <-errChan; err != nil {
			outErr <- err
		}
	}()

	return out, outErr
}
