package nodedb

import (
	"math"
	"testing"
)

// TestStore_RoundTrip checks put(id,lon,lat); get(id) == (lon,lat)
// for all ids written in pass-1.
func TestStore_RoundTrip(t *testing.T) {
	dir := t.TempDir()
	s, err := New(dir)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	type pt struct {
		id       uint64
		lon, lat float64
	}
	pts := []pt{
		{1, 0, 0},
		{2, 8.5417, 47.3769},
		{100, -179.9999999, 85.0511288},
		{1000, 179.9999999, -85.0511288},
		{100000, 12.3456789, -45.6543211},
	}
	for _, p := range pts {
		if err := s.Put(p.id, p.lon, p.lat); err != nil {
			t.Fatalf("Put(%d) error = %v", p.id, err)
		}
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	defer s.Remove()

	for _, p := range pts {
		gotLon, gotLat, err := s.Get(p.id)
		if err != nil {
			t.Fatalf("Get(%d) error = %v", p.id, err)
		}
		if math.Abs(gotLon-p.lon) > 1e-6 || math.Abs(gotLat-p.lat) > 1e-6 {
			t.Errorf("Get(%d) = (%v, %v), want (%v, %v)", p.id, gotLon, gotLat, p.lon, p.lat)
		}
	}
}

// TestStore_Missing exercises the MissingNodeReference path.
func TestStore_Missing(t *testing.T) {
	dir := t.TempDir()
	s, err := New(dir)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	for _, id := range []uint64{1, 2, 3, 100} {
		if err := s.Put(id, 0, 0); err != nil {
			t.Fatalf("Put(%d) error = %v", id, err)
		}
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	defer s.Remove()

	if _, _, err := s.Get(42); err != ErrMissing {
		t.Errorf("Get(42) error = %v, want ErrMissing", err)
	}
	if _, _, err := s.Get(0); err != ErrMissing {
		t.Errorf("Get(0) error = %v, want ErrMissing", err)
	}
	if _, _, err := s.Get(1000); err != ErrMissing {
		t.Errorf("Get(1000) error = %v, want ErrMissing", err)
	}
}

// TestStore_SparseIndexBoundary writes enough records to span multiple
// sparse-index strides and verifies lookups still land correctly.
func TestStore_SparseIndexBoundary(t *testing.T) {
	dir := t.TempDir()
	s, err := New(dir)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	const n = sparseIndexStride*3 + 17
	for i := uint64(0); i < n; i++ {
		id := i * 2 // nondecreasing, with gaps
		if err := s.Put(id, float64(i)*0.001, float64(i)*-0.001); err != nil {
			t.Fatalf("Put(%d) error = %v", id, err)
		}
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	defer s.Remove()

	for i := uint64(0); i < n; i += 7 {
		id := i * 2
		lon, lat, err := s.Get(id)
		if err != nil {
			t.Fatalf("Get(%d) error = %v", id, err)
		}
		wantLon, wantLat := float64(i)*0.001, float64(i)*-0.001
		if math.Abs(lon-wantLon) > 1e-6 || math.Abs(lat-wantLat) > 1e-6 {
			t.Errorf("Get(%d) = (%v, %v), want (%v, %v)", id, lon, lat, wantLon, wantLat)
		}
		// The odd id in between was never written.
		if _, _, err := s.Get(id + 1); err != ErrMissing {
			t.Errorf("Get(%d) error = %v, want ErrMissing", id+1, err)
		}
	}
}

func TestStore_MonotonicViolationPanics(t *testing.T) {
	dir := t.TempDir()
	s, err := New(dir)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	defer func() {
		if r := recover(); r == nil {
			t.Error("Put with decreasing nodeId should panic")
		}
	}()
	_ = s.Put(10, 0, 0)
	_ = s.Put(5, 0, 0)
}

func TestStore_DuplicateNodeIDRejected(t *testing.T) {
	dir := t.TempDir()
	s, err := New(dir)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if err := s.Put(10, 0, 0); err != nil {
		t.Fatalf("first Put(10) error = %v", err)
	}
	if err := s.Put(10, 1, 1); err == nil {
		t.Error("repeated Put(10) should error")
	}
	if got := s.NodeCount(); got != 1 {
		t.Errorf("NodeCount() = %d, want 1", got)
	}
}
