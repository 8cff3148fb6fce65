package spatial

import "math"

const (
	hashK1 uint32 = 15823
	hashK2 uint32 = 9737333
)

// CellCoord returns the integer grid cell containing a 2D position for cells of the given size.
//
// Parameters:
//   - x, y: the position
//   - cellSize: the cell edge length, normally the smoothing radius
//
// Returns:
//   - [2]int32: the cell coordinates
func CellCoord(x, y, cellSize float32) [2]int32 {
	return [2]int32{
		int32(math.Floor(float64(x / cellSize))),
		int32(math.Floor(float64(y / cellSize))),
	}
}

// HashCell2D hashes a 2D cell coordinate. Negative coordinates wrap through their u32 bit pattern,
// and the arithmetic wraps the same way the u32 math of a shader does.
//
// Parameters:
//   - cell: the cell coordinates
//
// Returns:
//   - uint32: the raw cell hash
func HashCell2D(cell [2]int32) uint32 {
	return uint32(cell[0])*hashK1 + uint32(cell[1])*hashK2
}

// KeyFromHash reduces a raw hash to a bucket key in [0, bucketCount).
//
// Parameters:
//   - hash: the raw cell hash
//   - bucketCount: the size of the offsets table
//
// Returns:
//   - uint32: the bucket key
func KeyFromHash(hash, bucketCount uint32) uint32 {
	return hash % bucketCount
}

// EntryForPosition builds the spatial entry for a particle at a 2D position.
//
// Parameters:
//   - index: the particle index
//   - x, y: the particle position
//   - cellSize: the cell edge length
//   - bucketCount: the size of the offsets table
//
// Returns:
//   - GPUSpatialEntry: the particle's entry
func EntryForPosition(index uint32, x, y, cellSize float32, bucketCount uint32) GPUSpatialEntry {
	h := HashCell2D(CellCoord(x, y, cellSize))
	return GPUSpatialEntry{Index: index, Hash: h, Key: KeyFromHash(h, bucketCount)}
}
