package coord

import "fmt"

// MaxZoom is the highest zoom level the pipeline ever emits, per the
// spherical Web Mercator scope: 0 <= z <= MaxZoom.
const MaxZoom = 14

// TileCoord identifies a single tile in the standard XYZ tile grid.
type TileCoord struct {
	Z uint8
	X uint32
	Y uint32
}

// Validate reports whether the tile lies within the grid bounds for its zoom.
func (t TileCoord) Validate() error {
	if t.Z > MaxZoom {
		return fmt.Errorf("coord: zoom %d exceeds max zoom %d", t.Z, MaxZoom)
	}
	n := uint32(1) << t.Z
	if t.X >= n || t.Y >= n {
		return fmt.Errorf("coord: tile (%d,%d) out of range for zoom %d", t.X, t.Y, t.Z)
	}
	return nil
}

// zoomOffset is the count of all tiles at zooms below z, i.e. (4^z - 1) / 3.
// For z=14 this is 89,478,485; the full MaxZoom pyramid tops out at
// 357,913,941 tiles, comfortably inside a uint32.
func zoomOffset(z uint8) uint32 {
	var offset uint32
	var power uint32 = 1
	for i := uint8(0); i < z; i++ {
		offset += power
		power *= 4
	}
	return offset
}

// ID packs the tile into a 32-bit key such that numeric order over ID
// matches Hilbert-curve order within a zoom, with zooms concatenated in
// ascending order. This gives the external sort and the MBTiles writer
// spatial locality without any extra comparator logic: a byte-wise/numeric
// comparison on ID alone is sufficient.
func (t TileCoord) ID() uint32 {
	n := uint64(1) << t.Z
	h := xyToHilbert(uint64(t.X), uint64(t.Y), n)
	return zoomOffset(t.Z) + uint32(h)
}

// DecodeTileID reverses ID for a known zoom level.
func DecodeTileID(id uint32, z uint8) (TileCoord, error) {
	off := zoomOffset(z)
	if id < off {
		return TileCoord{}, fmt.Errorf("coord: tile id %d precedes zoom %d", id, z)
	}
	h := uint64(id - off)
	n := uint64(1) << z
	if h >= n*n {
		return TileCoord{}, fmt.Errorf("coord: tile id %d out of range for zoom %d", id, z)
	}
	x, y := hilbertToXY(h, n)
	return TileCoord{Z: z, X: uint32(x), Y: uint32(y)}, nil
}

// DecodeTileIDAnyZoom reverses ID without a known zoom. The per-zoom id
// ranges starting at zoomOffset(z) partition [0, 357,913,941) exactly, so
// an id in that range decodes at exactly one zoom in [0,MaxZoom]; a larger
// id decodes at none and yields an error.
func DecodeTileIDAnyZoom(id uint32) (TileCoord, error) {
	for z := uint8(0); z <= MaxZoom; z++ {
		if tc, err := DecodeTileID(id, z); err == nil {
			return tc, nil
		}
	}
	return TileCoord{}, fmt.Errorf("coord: tile id %d does not decode at any zoom", id)
}
