// Package pipeline drives a batch run end to end — pass-1 node indexing,
// optional Wikidata enrichment, pass-2 rendering, external sort, tile
// grouping, and MBTiles output — cancelling cleanly and leaving no partial
// output on failure.
package pipeline

import (
	"context"
	"os"
	"sync"

	"github.com/paulmach/orb"
	"github.com/schollz/progressbar/v3"
	"golang.org/x/sync/errgroup"

	"github.com/pspoerri/geo2mbtiles/internal/config"
	"github.com/pspoerri/geo2mbtiles/internal/coord"
	"github.com/pspoerri/geo2mbtiles/internal/featuregroup"
	"github.com/pspoerri/geo2mbtiles/internal/featuresort"
	"github.com/pspoerri/geo2mbtiles/internal/mbtiles"
	"github.com/pspoerri/geo2mbtiles/internal/model"
	"github.com/pspoerri/geo2mbtiles/internal/nodedb"
	"github.com/pspoerri/geo2mbtiles/internal/perr"
	"github.com/pspoerri/geo2mbtiles/internal/profile"
	"github.com/pspoerri/geo2mbtiles/internal/render"
	"github.com/pspoerri/geo2mbtiles/internal/source"
	"github.com/pspoerri/geo2mbtiles/internal/stats"
)

// State names a step of the run. The Engine records its current step in an
// unexported field; no accessor exposes it and nothing logs it.
type State int

const (
	StateInit State = iota
	StatePass1
	StateWikidata
	StateAuxReaders
	StatePass2
	StateDropNodeDB
	StateSort
	StateEmit
	StateFinalize
	StateDone
	StateAborted
)

func (s State) String() string {
	switch s {
	case StateInit:
		return "init"
	case StatePass1:
		return "pass1"
	case StateWikidata:
		return "wikidata"
	case StateAuxReaders:
		return "aux_readers"
	case StatePass2:
		return "pass2"
	case StateDropNodeDB:
		return "drop_nodedb"
	case StateSort:
		return "sort"
	case StateEmit:
		return "emit"
	case StateFinalize:
		return "finalize"
	case StateDone:
		return "done"
	default:
		return "aborted"
	}
}

// ProfileFactory builds the Profile for a run, given the Translations
// constructed ahead of it — the one-way dependency injection that avoids
// a Profile/Translations construction cycle.
type ProfileFactory func(tr *profile.Translations) (profile.Profile, error)

// Engine drives one batch run from Config to a finished MBTiles archive.
type Engine struct {
	cfg     config.Config
	factory ProfileFactory
	st      *stats.Stats

	state State
}

// New returns an Engine ready to Run once, for the given Config and
// Profile factory, reporting through st.
func New(cfg config.Config, factory ProfileFactory, st *stats.Stats) *Engine {
	return &Engine{cfg: cfg, factory: factory, st: st}
}

// Summary is the end-of-run report the CLI prints.
type Summary struct {
	TilesWritten    int64
	FeaturesEmitted int64
	BytesWritten    int64
	Errors          map[string]int64
}

// Run executes the full state machine. On any fatal error it cancels
// in-flight stages, deletes partial output, and returns the error; ctx
// cancellation (e.g. SIGINT) is handled identically.
func (e *Engine) Run(ctx context.Context) (Summary, error) {
	e.state = StateInit
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	if err := os.MkdirAll(e.cfg.TmpDir, 0o755); err != nil {
		return Summary{}, perr.New(perr.IoFailure, "pipeline.Run", err)
	}

	translations := profile.NewTranslations(e.cfg.NameLanguages)
	if e.cfg.UseWikidata && e.cfg.WikidataCache != "" {
		if err := translations.Load(e.cfg.WikidataCache); err != nil {
			return Summary{}, err
		}
	}

	prof, err := e.factory(translations)
	if err != nil {
		return Summary{}, perr.New(perr.Internal, "pipeline.Run", err)
	}
	defer prof.Release()

	nodeDB, relIdx, err := e.runPass1(ctx)
	if err != nil {
		return Summary{}, e.abort(err, nil)
	}
	defer nodeDB.Remove()

	writer, err := e.newWriter()
	if err != nil {
		return Summary{}, e.abort(err, nil)
	}

	layerStats := stats.NewLayerStats()
	if err := e.runPass2(ctx, nodeDB, relIdx, prof, layerStats, writer); err != nil {
		return Summary{}, e.abort(err, writer)
	}

	e.state = StateDropNodeDB
	if err := nodeDB.Remove(); err != nil {
		return Summary{}, e.abort(perr.New(perr.IoFailure, "pipeline.Run", err), writer)
	}

	e.state = StateFinalize
	if err := writer.Finalize(layerStats); err != nil {
		return Summary{}, e.abort(perr.New(perr.IoFailure, "pipeline.Run", err), writer)
	}

	e.state = StateDone
	return Summary{
		TilesWritten:    e.st.TilesWritten(),
		FeaturesEmitted: e.st.FeaturesEmitted(),
		BytesWritten:    e.st.BytesWritten(),
		Errors:          e.errorSummary(),
	}, nil
}

func (e *Engine) errorSummary() map[string]int64 {
	kinds := []perr.Kind{
		perr.GeometryInvalid, perr.ProfileRejected, perr.MissingNodeReference,
		perr.SourceParseError, perr.IoFailure, perr.OutOfDisk,
	}
	out := make(map[string]int64, len(kinds))
	for _, k := range kinds {
		if n := e.st.ErrorCount(k); n > 0 {
			out[k.String()] = n
		}
	}
	return out
}

// abort deletes partial output — a cancelled or failed run leaves no
// partial MBTiles file behind — and returns err unchanged for the caller to
// propagate.
func (e *Engine) abort(err error, w *mbtiles.Writer) error {
	e.state = StateAborted
	if w != nil {
		w.Abort()
	}
	return err
}

// runPass1 streams nodes from the primary OSM input to build the
// node-location index pass-2 resolves way and relation geometry from, and
// folds every relation's way members into a RelationIndex pass-2 consults
// to decide which way geometries to cache for relation assembly. Non-OSM
// inputs (shapefile, Natural Earth) carry complete geometry per record and
// never touch pass-1.
func (e *Engine) runPass1(ctx context.Context) (*nodedb.Store, *source.RelationIndex, error) {
	e.state = StatePass1
	span := e.st.StartSpan("pass1")
	defer span.End()

	store, err := nodedb.New(e.cfg.TmpDir)
	if err != nil {
		return nil, nil, perr.New(perr.IoFailure, "pipeline.runPass1", err)
	}
	relIdx := source.NewRelationIndex()

	if !isOSM(e.cfg.Input) {
		if err := store.Close(); err != nil {
			return nil, nil, err
		}
		return store, relIdx, nil
	}

	r, err := source.OpenOSM(e.cfg.Input, source.Pass1, e.cfg.Threads, nil, relIdx)
	if err != nil {
		return nil, nil, err
	}
	defer r.Close()

	bar := progressbar.Default(-1, "pass 1: indexing nodes")
	defer bar.Close()

	for {
		select {
		case <-ctx.Done():
			return nil, nil, perr.New(perr.Cancelled, "pipeline.runPass1", ctx.Err())
		default:
		}

		f, err := r.Next()
		if err == source.ErrEOF {
			break
		}
		if err != nil {
			return nil, nil, err
		}
		if f.Kind != model.KindNode {
			continue
		}
		g, err := f.Geometry()
		if err != nil {
			e.st.CountError(perr.GeometryInvalid, "pipeline.runPass1", err)
			continue
		}
		pt, ok := g.(orb.Point)
		if !ok {
			e.st.CountError(perr.GeometryInvalid, "pipeline.runPass1", errNodeNotPoint)
			continue
		}
		if err := store.Put(f.ID, pt[0], pt[1]); err != nil {
			return nil, nil, err
		}
		bar.Add(1)
	}

	if err := store.Close(); err != nil {
		return nil, nil, err
	}
	return store, relIdx, nil
}

// runPass2 renders every feature from the primary input plus any auxiliary
// readers (centerline, water polygons, Natural Earth) into the external
// sorter, then streams the sorted output through FeatureGroup and into the
// MBTiles writer. Rendering and sorting run concurrently: renderer workers
// feed the sorter while it is still accepting input, bounded only by the
// sorter's own buffering.
func (e *Engine) runPass2(ctx context.Context, nodeDB *nodedb.Store, relIdx *source.RelationIndex, prof profile.Profile, layerStats *stats.LayerStats, writer *mbtiles.Writer) error {
	e.state = StatePass2
	span := e.st.StartSpan("pass2")
	defer span.End()

	sorter := featuresort.New(chunkBytesForThreads(1<<30, e.cfg.Threads), e.cfg.Threads)
	renderer := render.New(e.st)

	readers, err := e.openAuxReaders(nodeDB, relIdx)
	if err != nil {
		return err
	}
	defer func() {
		for _, r := range readers {
			r.Close()
		}
	}()

	grp, gctx := errgroup.WithContext(ctx)
	jobs := make(chan *model.SourceFeature, e.cfg.Threads*64)

	for i := 0; i < e.cfg.Threads; i++ {
		grp.Go(func() error {
			for f := range jobs {
				select {
				case <-gctx.Done():
					return gctx.Err()
				default:
				}
				fc := profile.NewFeatureCollector()
				if err := prof.ProcessFeature(f, fc); err != nil {
					e.st.CountError(perr.ProfileRejected, "pipeline.runPass2", err)
					continue
				}
				for _, rf := range renderer.Render(f, fc.Specs()) {
					e.st.AddFeature()
					if err := sorter.Add(rf); err != nil {
						return err
					}
				}
			}
			return nil
		})
	}

	grp.Go(func() error {
		defer close(jobs)
		for _, r := range readers {
			for {
				select {
				case <-gctx.Done():
					return gctx.Err()
				default:
				}
				f, err := r.Next()
				if err == source.ErrEOF {
					break
				}
				if err != nil {
					return err
				}
				select {
				case jobs <- f:
				case <-gctx.Done():
					return gctx.Err()
				}
			}
		}
		return nil
	})

	if err := grp.Wait(); err != nil {
		sorter.Close()
		return err
	}
	sorter.Close()

	e.state = StateSort
	sortedSpan := e.st.StartSpan("sort")
	sorted, sortErrs := sorter.Sort(ctx)

	e.state = StateEmit
	reader := featuregroup.New(sorted)
	if err := e.emitSorted(ctx, reader, writer, layerStats); err != nil {
		return err
	}
	sortedSpan.End()

	if err := <-sortErrs; err != nil {
		return err
	}
	return nil
}

// emitSorted drains reader's tileId-ordered batches and writes them to the
// MBTiles sink. MVT encoding is the expensive step (protobuf marshal +
// gzip), so it runs on a worker pool in parallel with the single SQLite
// writer; a sequence-numbered reorder buffer restores ascending TileID
// order before each encoded tile reaches writer.WriteEncoded, since the
// sink is single-writer and assumes sequential, sorted input.
func (e *Engine) emitSorted(ctx context.Context, reader *featuregroup.Reader, writer *mbtiles.Writer, layerStats *stats.LayerStats) error {
	grp, gctx := errgroup.WithContext(ctx)

	type job struct {
		seq   int
		batch *featuregroup.Batch
	}
	type result struct {
		seq int
		enc *mbtiles.EncodedTile
	}

	jobs := make(chan job, e.cfg.Threads*2)
	results := make(chan result, e.cfg.Threads*2)

	// Single producer: featuregroup.Reader.Next is not safe for concurrent
	// use, so batches are read serially here and handed to the encoder pool
	// tagged with their arrival sequence (== ascending TileID order).
	grp.Go(func() error {
		defer close(jobs)
		seq := 0
		for {
			batch, ok := reader.Next()
			if !ok {
				return nil
			}
			for _, lb := range batch.Layers {
				for _, f := range lb.Features {
					tc, err := coord.DecodeTileIDAnyZoom(f.TileID)
					if err != nil {
						continue
					}
					layerStats.Accept(f, int(tc.Z))
				}
			}
			select {
			case jobs <- job{seq: seq, batch: batch}:
			case <-gctx.Done():
				return gctx.Err()
			}
			seq++
		}
	})

	var encWG sync.WaitGroup
	for i := 0; i < e.cfg.Threads; i++ {
		encWG.Add(1)
		grp.Go(func() error {
			defer encWG.Done()
			for j := range jobs {
				enc, err := writer.EncodeBatch(j.batch)
				if err != nil {
					return err
				}
				select {
				case results <- result{seq: j.seq, enc: enc}:
				case <-gctx.Done():
					return gctx.Err()
				}
			}
			return nil
		})
	}
	go func() {
		encWG.Wait()
		close(results)
	}()

	bar := progressbar.Default(int64(e.st.FeaturesEmitted()), "emitting tiles")
	defer bar.Close()

	grp.Go(func() error {
		pending := make(map[int]*mbtiles.EncodedTile)
		next := 0
		for r := range results {
			pending[r.seq] = r.enc
			for {
				enc, ok := pending[next]
				if !ok {
					break
				}
				delete(pending, next)
				next++
				if err := writer.WriteEncoded(enc); err != nil {
					return err
				}
				bar.Add(1)
			}
		}
		return nil
	})

	return grp.Wait()
}

func (e *Engine) openAuxReaders(nodeDB *nodedb.Store, relIdx *source.RelationIndex) ([]source.Reader, error) {
	var readers []source.Reader

	if isOSM(e.cfg.Input) {
		r, err := source.OpenOSM(e.cfg.Input, source.Pass2, e.cfg.Threads, nodeDB, relIdx)
		if err != nil {
			return nil, err
		}
		readers = append(readers, r)
	} else {
		r, err := source.OpenShapefile(e.cfg.Input)
		if err != nil {
			return nil, err
		}
		readers = append(readers, r)
	}

	if e.cfg.Centerline != "" {
		r, err := source.OpenShapefile(e.cfg.Centerline)
		if err != nil {
			closeAll(readers)
			return nil, err
		}
		readers = append(readers, r)
	}
	if e.cfg.WaterPolygons != "" {
		r, err := source.OpenShapefile(e.cfg.WaterPolygons)
		if err != nil {
			closeAll(readers)
			return nil, err
		}
		readers = append(readers, r)
	}
	if e.cfg.NaturalEarth != "" {
		r, err := source.OpenNaturalEarth(e.cfg.NaturalEarth, "ne", "geometry")
		if err != nil {
			closeAll(readers)
			return nil, err
		}
		readers = append(readers, r)
	}
	return readers, nil
}

func closeAll(readers []source.Reader) {
	for _, r := range readers {
		r.Close()
	}
}

func (e *Engine) newWriter() (*mbtiles.Writer, error) {
	return mbtiles.NewWriter(e.cfg.Output, mbtiles.WriterOptions{
		Name:               e.cfg.ProfileName,
		Bounds:             e.cfg.Bounds,
		MinZoom:            e.cfg.MinZoom,
		MaxZoom:            e.cfg.MaxZoom,
		DeferIndexCreation: e.cfg.DeferMbtilesIndexCreation,
		OptimizeDB:         e.cfg.OptimizeDb,
	}, e.st)
}

func isOSM(path string) bool {
	return len(path) > 4 && path[len(path)-4:] == ".pbf"
}

type errNodeNotPointType struct{}

func (errNodeNotPointType) Error() string { return "pass-1 node feature did not resolve to a point" }

var errNodeNotPoint = errNodeNotPointType{}
