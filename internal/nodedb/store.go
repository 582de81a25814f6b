// Package nodedb implements a persistent nodeId -> (lon,lat) table built
// in pass-1 and read random-access in pass-2.
//
// Representation: a sorted packed table on disk (fixed 16-byte records,
// ascending nodeId) with a sparse in-memory index mapping every Nth record
// to its file offset, so a lookup is one binary-search probe plus one
// bounded linear scan of at most N records. The sequential writer owns the
// file; readers use a published *os.File and ReadAt (pread) so concurrent
// Get calls never contend with the writer or with each other.
package nodedb

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"os"
	"sort"
	"sync/atomic"

	"github.com/RoaringBitmap/roaring/roaring64"

	"github.com/pspoerri/geo2mbtiles/internal/perr"
)

// recordSize is the on-disk width of one (nodeId, packedLonLat) entry.
const recordSize = 16

// sparseIndexStride is N: every Nth record gets an in-memory index entry.
// Total on-disk size is 16 bytes/node; the index itself costs
// ~16 bytes/(N nodes), negligible at N=256 even for planet-scale inputs.
const sparseIndexStride = 256

// coordScale converts float degrees to a fixed-point int32 at ~1.1 cm
// precision at the equator, matching OSM's own coordinate precision.
const coordScale = 1e7

// indexEntry records one sparse-index sample: the nodeId of the record at
// file offset Offset.
type indexEntry struct {
	nodeID uint64
	offset int64
}

// Store is the pass-1 write / pass-2 read NodeLocationStore.
//
// Lifecycle: created before pass-1 (write-only), Close()d after pass-1 to
// flip to read-only for pass-2, and Remove()d before MBTiles finalization
// to reclaim disk.
type Store struct {
	path string
	w    *bufio.Writer
	f    *os.File

	lastNodeID   uint64
	haveLast     bool
	recordCount  int64
	writeOffset  int64

	index []indexEntry // built during write, used during read

	// seen tracks every nodeId written, cheaply (roughly 1-2 bits/node for
	// the dense, near-contiguous id ranges real OSM extracts have) — it
	// catches a duplicate Put before it silently corrupts the sparse index,
	// which the nodeId-monotonic panic alone cannot: a repeated id is still
	// nondecreasing.
	seen *roaring64.Bitmap

	readFile atomic.Pointer[os.File]
}

// New creates a Store backed by a file under dir.
func New(dir string) (*Store, error) {
	f, err := os.CreateTemp(dir, "node-*.db")
	if err != nil {
		return nil, perr.New(perr.IoFailure, "nodedb.New", err)
	}
	return &Store{
		path: f.Name(),
		f:    f,
		w:    bufio.NewWriterSize(f, 1<<20),
		seen: roaring64.New(),
	}, nil
}

// Path returns the backing file's path.
func (s *Store) Path() string { return s.path }

// NodeCount returns the number of distinct node ids written so far.
func (s *Store) NodeCount() uint64 { return s.seen.GetCardinality() }

// Put writes one node's location. nodeId must be strictly increasing
// across calls (OSM PBF node-block invariant): a decreasing nodeId panics,
// and a repeated nodeId returns an Internal error without writing.
func (s *Store) Put(nodeID uint64, lon, lat float64) error {
	if s.haveLast && nodeID < s.lastNodeID {
		panic(fmt.Sprintf("nodedb: Put called with non-monotonic nodeId %d after %d", nodeID, s.lastNodeID))
	}
	s.lastNodeID = nodeID
	s.haveLast = true

	if !s.seen.CheckedAdd(nodeID) {
		return perr.New(perr.Internal, "nodedb.Put", fmt.Errorf("duplicate node id %d", nodeID))
	}

	if s.recordCount%sparseIndexStride == 0 {
		s.index = append(s.index, indexEntry{nodeID: nodeID, offset: s.writeOffset})
	}

	var buf [recordSize]byte
	binary.LittleEndian.PutUint64(buf[0:8], nodeID)
	binary.LittleEndian.PutUint64(buf[8:16], packLonLat(lon, lat))
	if _, err := s.w.Write(buf[:]); err != nil {
		return perr.New(perr.OutOfDisk, "nodedb.Put", err)
	}

	s.writeOffset += recordSize
	s.recordCount++
	return nil
}

// Close flushes pending writes and reopens the file read-only for Get.
// Must be called exactly once, after pass-1 completes and before any Get.
func (s *Store) Close() error {
	if err := s.w.Flush(); err != nil {
		return perr.New(perr.OutOfDisk, "nodedb.Close", err)
	}
	if err := s.f.Sync(); err != nil {
		return perr.New(perr.IoFailure, "nodedb.Close", err)
	}
	if err := s.f.Close(); err != nil {
		return perr.New(perr.IoFailure, "nodedb.Close", err)
	}

	rf, err := os.Open(s.path)
	if err != nil {
		return perr.New(perr.IoFailure, "nodedb.Close", err)
	}
	s.readFile.Store(rf)
	return nil
}

// ErrMissing is returned by Get when a nodeId was never written in pass-1.
var ErrMissing = fmt.Errorf("nodedb: node not found")

// Get looks up a node's location. Returns ErrMissing if nodeId was never
// written — the caller (pass-2 way/relation resolution) classifies this as
// MissingNodeReference rather than treating it as fatal.
func (s *Store) Get(nodeID uint64) (lon, lat float64, err error) {
	f := s.readFile.Load()
	if f == nil {
		return 0, 0, fmt.Errorf("nodedb: Get called before Close")
	}

	// Binary search the sparse index for the last sample <= nodeID.
	i := sort.Search(len(s.index), func(i int) bool { return s.index[i].nodeID > nodeID })
	if i == 0 {
		return 0, 0, ErrMissing
	}
	start := s.index[i-1]

	// Bounded linear scan of at most sparseIndexStride records.
	buf := make([]byte, recordSize*sparseIndexStride)
	n, rerr := f.ReadAt(buf, start.offset)
	if rerr != nil && n == 0 {
		return 0, 0, perr.New(perr.IoFailure, "nodedb.Get", rerr)
	}
	buf = buf[:n]

	for off := 0; off+recordSize <= len(buf); off += recordSize {
		id := binary.LittleEndian.Uint64(buf[off : off+8])
		if id == nodeID {
			packed := binary.LittleEndian.Uint64(buf[off+8 : off+16])
			lon, lat := unpackLonLat(packed)
			return lon, lat, nil
		}
		if id > nodeID {
			break
		}
	}
	return 0, 0, ErrMissing
}

// Remove closes any open read handle and deletes the backing file, once it
// is no longer needed ahead of MBTiles finalization, to reclaim disk.
func (s *Store) Remove() error {
	if f := s.readFile.Swap(nil); f != nil {
		f.Close()
	}
	return os.Remove(s.path)
}

func packLonLat(lon, lat float64) uint64 {
	lonI := int32(lon * coordScale)
	latI := int32(lat * coordScale)
	return uint64(uint32(lonI))<<32 | uint64(uint32(latI))
}

func unpackLonLat(packed uint64) (lon, lat float64) {
	lonI := int32(uint32(packed >> 32))
	latI := int32(uint32(packed))
	return float64(lonI) / coordScale, float64(latI) / coordScale
}
