// Package source implements the SourceReaders the engine consumes.
// The engine only ever sees the Reader interface; format-specific parsing
// (OSM PBF, ESRI shapefile, Natural Earth SQLite) lives entirely behind it.
package source

import (
	"io"

	"github.com/pspoerri/geo2mbtiles/internal/model"
)

// Pass selects which element kinds a restartable OSM reader yields.
type Pass int

const (
	// Pass1 yields only nodes; ways are discarded and relations are folded
	// into the RelationIndex threaded through OpenOSM rather than yielded.
	Pass1 Pass = iota
	// Pass2 yields nodes, ways, and relations in source order.
	Pass2
)

// Reader streams a finite sequence of SourceFeatures. Next returns io.EOF
// when the stream is exhausted. OSM readers must be restartable from offset
// zero (a fresh Open call re-reads from the start) so the engine can run
// pass-1 and pass-2 over the same file; shapefile and Natural Earth readers
// are single-pass and are only ever opened for pass-2.
type Reader interface {
	Next() (*model.SourceFeature, error)
	Close() error
}

// ErrEOF re-exports io.EOF for callers that only import this package.
var ErrEOF = io.EOF
