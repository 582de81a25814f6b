// Package mbtiles implements MVT-encoding of a tile batch
// and inserting it into a content-addressed MBTiles SQLite archive,
// transaction-batched for throughput, with metadata (including LayerStats)
// written last.
package mbtiles

import (
	"bytes"
	"compress/gzip"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"

	"github.com/cespare/xxhash/v2"
	"github.com/paulmach/orb/encoding/mvt"
	"github.com/paulmach/orb/geojson"

	_ "github.com/mattn/go-sqlite3"

	"github.com/pspoerri/geo2mbtiles/internal/config"
	"github.com/pspoerri/geo2mbtiles/internal/coord"
	"github.com/pspoerri/geo2mbtiles/internal/featuregroup"
	"github.com/pspoerri/geo2mbtiles/internal/perr"
	"github.com/pspoerri/geo2mbtiles/internal/stats"
)

// WriterOptions configures MBTiles output.
type WriterOptions struct {
	Name        string
	Description string
	Attribution string
	Bounds      config.Bounds
	MinZoom     int
	MaxZoom     int

	GzipLevel          int // default gzip.DefaultCompression-equivalent: 6
	TxnTiles           int // tiles per transaction, default 1000
	DeferIndexCreation bool
	OptimizeDB         bool
}

func (o *WriterOptions) setDefaults() {
	if o.GzipLevel == 0 {
		o.GzipLevel = 6
	}
	if o.TxnTiles == 0 {
		o.TxnTiles = 1000
	}
}

// Writer accumulates tile batches into an MBTiles SQLite archive. The
// MBTiles file is single-writer, so only one Writer should be open on a
// given path at a time.
//
// Tile data is stored content-addressed (images/map tables behind a tiles
// view) so repeated identical tiles — uniform ocean or unpopulated land at
// low zoom are the common case — are stored once; the xxhash of the gzipped
// MVT blob is the dedup key.
type Writer struct {
	db   *sql.DB
	opts WriterOptions
	st   *stats.Stats

	tx             *sql.Tx
	insertMapStmt  *sql.Stmt
	insertImgStmt  *sql.Stmt
	pendingInTxn   int
	path           string
	seenTileHashes map[uint64]bool
}

// NewWriter creates (overwriting any existing file at path) and schema-
// initializes an MBTiles archive.
func NewWriter(path string, opts WriterOptions, st *stats.Stats) (*Writer, error) {
	opts.setDefaults()
	os.Remove(path) // MBTiles archives are written fresh each run, never appended to

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, perr.New(perr.IoFailure, "mbtiles.NewWriter", err)
	}
	w := &Writer{db: db, opts: opts, st: st, path: path, seenTileHashes: make(map[uint64]bool)}
	if err := w.initSchema(); err != nil {
		db.Close()
		return nil, err
	}
	if err := w.beginTxn(); err != nil {
		db.Close()
		return nil, err
	}
	return w, nil
}

func (w *Writer) initSchema() error {
	stmts := []string{
		`CREATE TABLE metadata (name TEXT, value TEXT)`,
		`CREATE TABLE map (zoom_level INTEGER, tile_column INTEGER, tile_row INTEGER, tile_id TEXT)`,
		`CREATE TABLE images (tile_id TEXT, tile_data BLOB)`,
		`CREATE VIEW tiles AS
			SELECT map.zoom_level AS zoom_level, map.tile_column AS tile_column,
			       map.tile_row AS tile_row, images.tile_data AS tile_data
			FROM map JOIN images ON images.tile_id = map.tile_id`,
		`CREATE UNIQUE INDEX images_id ON images (tile_id)`,
	}
	if !w.opts.DeferIndexCreation {
		stmts = append(stmts, `CREATE UNIQUE INDEX map_index ON map (zoom_level, tile_column, tile_row)`)
	}
	for _, s := range stmts {
		if _, err := w.db.Exec(s); err != nil {
			return perr.New(perr.IoFailure, "mbtiles.initSchema", err)
		}
	}
	return nil
}

func (w *Writer) beginTxn() error {
	tx, err := w.db.Begin()
	if err != nil {
		return perr.New(perr.IoFailure, "mbtiles.beginTxn", err)
	}
	mapStmt, err := tx.Prepare(`INSERT INTO map (zoom_level, tile_column, tile_row, tile_id) VALUES (?, ?, ?, ?)`)
	if err != nil {
		tx.Rollback()
		return perr.New(perr.IoFailure, "mbtiles.beginTxn", err)
	}
	imgStmt, err := tx.Prepare(`INSERT INTO images (tile_id, tile_data) VALUES (?, ?)`)
	if err != nil {
		mapStmt.Close()
		tx.Rollback()
		return perr.New(perr.IoFailure, "mbtiles.beginTxn", err)
	}
	w.tx, w.insertMapStmt, w.insertImgStmt = tx, mapStmt, imgStmt
	w.pendingInTxn = 0
	return nil
}

func (w *Writer) commitTxn() error {
	if w.insertMapStmt != nil {
		w.insertMapStmt.Close()
	}
	if w.insertImgStmt != nil {
		w.insertImgStmt.Close()
	}
	if w.tx == nil {
		return nil
	}
	if err := w.tx.Commit(); err != nil {
		return perr.New(perr.IoFailure, "mbtiles.commitTxn", err)
	}
	return nil
}

// EncodedTile is a batch's MVT-encoded, gzip-compressed payload, ready for
// WriteEncoded. EncodeBatch is pure (no db access) and safe to call
// concurrently from a worker pool, so encoding can run ahead of and in
// parallel with the single-writer SQLite insert; a reorder buffer upstream
// is responsible for calling WriteEncoded back in ascending TileID order.
type EncodedTile struct {
	TileID uint32
	Blob   []byte // nil means the batch had no surviving features
}

// EncodeBatch MVT-encodes and gzip-compresses one tileId's layers.
func (w *Writer) EncodeBatch(b *featuregroup.Batch) (*EncodedTile, error) {
	if len(b.Layers) == 0 {
		return &EncodedTile{TileID: b.TileID}, nil
	}
	blob, err := encodeMVT(b, w.opts.GzipLevel)
	if err != nil {
		return nil, err
	}
	return &EncodedTile{TileID: b.TileID, Blob: blob}, nil
}

// WriteEncoded inserts a tile already encoded by EncodeBatch. Transactions
// are committed every TxnTiles tiles; a nil Blob (every layer dropped to
// zero features) is skipped. Callers must invoke this in ascending TileID
// order — the dedup table and transaction batching assume single-writer,
// sequential use.
func (w *Writer) WriteEncoded(e *EncodedTile) error {
	if e.Blob == nil {
		return nil
	}

	tc, err := coord.DecodeTileIDAnyZoom(e.TileID)
	if err != nil {
		return perr.New(perr.Internal, "mbtiles.WriteEncoded", err)
	}

	n := uint32(1) << tc.Z
	tmsRow := n - 1 - tc.Y // TMS y-flip

	hash := xxhash.Sum64(e.Blob)
	tileID := fmt.Sprintf("%016x", hash)
	if !w.seenTileHashes[hash] {
		if _, err := w.insertImgStmt.Exec(tileID, e.Blob); err != nil {
			return perr.New(perr.IoFailure, "mbtiles.WriteEncoded", err)
		}
		w.seenTileHashes[hash] = true
	}
	if _, err := w.insertMapStmt.Exec(tc.Z, tc.X, tmsRow, tileID); err != nil {
		return perr.New(perr.IoFailure, "mbtiles.WriteEncoded", err)
	}
	w.pendingInTxn++
	w.st.AddTile(len(e.Blob))

	if w.pendingInTxn >= w.opts.TxnTiles {
		if err := w.commitTxn(); err != nil {
			return err
		}
		if err := w.beginTxn(); err != nil {
			return err
		}
	}
	return nil
}

// WriteBatch encodes one tileId's layers and inserts it in one step, for
// callers (tests, single-threaded use) that don't need the split
// encode/write pipeline EncodeBatch/WriteEncoded gives the engine.
func (w *Writer) WriteBatch(b *featuregroup.Batch) error {
	if len(b.Layers) == 0 {
		return nil
	}
	e, err := w.EncodeBatch(b)
	if err != nil {
		return err
	}
	return w.WriteEncoded(e)
}

// encodeMVT builds one mvt.Layer per LayerBatch from a geojson.FeatureCollection
// (the idiom the MVT-writing examples in the corpus use) and marshals them.
// Features arrive already clipped, Douglas-Peucker-simplified, and quantized
// to the 4096 tile-local extent by the renderer, so — unlike those examples —
// Layer.Clip/Simplify/ProjectToTile are never called here: re-running them
// would treat already tile-local integer coordinates as unprojected lon/lat.
func encodeMVT(b *featuregroup.Batch, gzipLevel int) ([]byte, error) {
	layers := make(mvt.Layers, 0, len(b.Layers))
	total := 0
	for _, lb := range b.Layers {
		fc := geojson.NewFeatureCollection()
		for _, f := range lb.Features {
			gf := geojson.NewFeature(f.Geometry)
			for k, v := range f.Attrs {
				gf.Properties[k] = v
			}
			fc.Append(gf)
		}
		total += len(fc.Features)
		layer := mvt.NewLayer(lb.Layer, fc)
		layer.Extent = coord.TileExtent
		layers = append(layers, layer)
	}
	if total == 0 {
		return nil, nil
	}

	raw, err := mvt.Marshal(layers)
	if err != nil {
		return nil, perr.New(perr.Internal, "mbtiles.encodeMVT", err)
	}

	var buf bytes.Buffer
	gw, err := gzip.NewWriterLevel(&buf, gzipLevel)
	if err != nil {
		return nil, perr.New(perr.Internal, "mbtiles.encodeMVT", err)
	}
	if _, err := gw.Write(raw); err != nil {
		return nil, perr.New(perr.IoFailure, "mbtiles.encodeMVT", err)
	}
	if err := gw.Close(); err != nil {
		return nil, perr.New(perr.IoFailure, "mbtiles.encodeMVT", err)
	}
	return buf.Bytes(), nil
}

// Finalize commits any pending transaction, writes metadata (including
// layerStatsJson), optionally defers index creation until now, and
// optionally VACUUMs/ANALYZEs before closing.
func (w *Writer) Finalize(layerStats *stats.LayerStats) error {
	if err := w.commitTxn(); err != nil {
		return err
	}

	if w.opts.DeferIndexCreation {
		if _, err := w.db.Exec(`CREATE UNIQUE INDEX IF NOT EXISTS map_index ON map (zoom_level, tile_column, tile_row)`); err != nil {
			return perr.New(perr.IoFailure, "mbtiles.Finalize", err)
		}
	}

	if err := w.writeMetadata(layerStats); err != nil {
		return err
	}

	if w.opts.OptimizeDB {
		if _, err := w.db.Exec(`ANALYZE`); err != nil {
			return perr.New(perr.IoFailure, "mbtiles.Finalize", err)
		}
		if _, err := w.db.Exec(`VACUUM`); err != nil {
			return perr.New(perr.IoFailure, "mbtiles.Finalize", err)
		}
	}

	return w.db.Close()
}

func (w *Writer) writeMetadata(layerStats *stats.LayerStats) error {
	b := w.opts.Bounds
	minLon, minLat, maxLon, maxLat := -180.0, -85.0511, 180.0, 85.0511
	if !b.World && !b.Inferred {
		minLon, minLat, maxLon, maxLat = b.MinLon, b.MinLat, b.MaxLon, b.MaxLat
	}
	centerLon := (minLon + maxLon) / 2
	centerLat := (minLat + maxLat) / 2
	centerZoom := (w.opts.MinZoom + w.opts.MaxZoom) / 2

	statsJSON, err := json.Marshal(layerStats.Freeze())
	if err != nil {
		return perr.New(perr.Internal, "mbtiles.writeMetadata", err)
	}

	rows := map[string]string{
		"name":           w.opts.Name,
		"format":         "pbf",
		"bounds":         fmt.Sprintf("%.6f,%.6f,%.6f,%.6f", minLon, minLat, maxLon, maxLat),
		"center":         fmt.Sprintf("%.6f,%.6f,%d", centerLon, centerLat, centerZoom),
		"minzoom":        fmt.Sprintf("%d", w.opts.MinZoom),
		"maxzoom":        fmt.Sprintf("%d", w.opts.MaxZoom),
		"json":           string(statsJSON),
		"description":    w.opts.Description,
		"attribution":    w.opts.Attribution,
		"type":           "overlay",
		"scheme":         "tms",
		"layerStatsJson": string(statsJSON),
	}

	for name, value := range rows {
		if value == "" {
			continue
		}
		if _, err := w.db.Exec(`INSERT INTO metadata (name, value) VALUES (?, ?)`, name, value); err != nil {
			return perr.New(perr.IoFailure, "mbtiles.writeMetadata", err)
		}
	}
	return nil
}

// Abort rolls back any pending transaction and deletes the archive, so a
// cancelled or failed run leaves no partial output behind.
func (w *Writer) Abort() {
	if w.tx != nil {
		w.tx.Rollback()
	}
	w.db.Close()
	os.Remove(w.path)
}
