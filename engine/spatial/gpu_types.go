package spatial

import (
	_ "embed"
	"encoding/binary"
	"unsafe"
)

// SentinelKey is the key carried by padding entries. It is the largest u32 so padding always
// sorts behind every real entry, and the offsets pass never records it.
const SentinelKey uint32 = 0xFFFFFFFF

// EmptyOffset marks an offsets slot whose bucket has no entries.
const EmptyOffset uint32 = 0xFFFFFFFF

// GPUSpatialEntrySource is the canonical WGSL definition of the SpatialEntry struct.
// Matches GPUSpatialEntry layout exactly (12 bytes, std430 aligned).
//
//go:embed assets/spatial_entry.wgsl
var GPUSpatialEntrySource string

// GPUSpatialEntry is one particle's record in the spatial hash: the particle index, its raw cell
// hash, and the bucket key the sort orders by.
// Matches the WGSL SpatialEntry struct layout exactly (see GPUSpatialEntrySource).
// Size: 12 bytes.
type GPUSpatialEntry struct {
	Index uint32 // offset 0: particle index
	Hash  uint32 // offset 4: raw cell hash
	Key   uint32 // offset 8: hash reduced to a bucket, the sort key
}

// GPUSpatialEntrySize is the byte stride of one entry in the entries buffer.
const GPUSpatialEntrySize = 12

// Size returns the size of the GPUSpatialEntry struct in bytes.
//
// Returns:
//   - int: the struct size in bytes (12)
func (g *GPUSpatialEntry) Size() int {
	return int(unsafe.Sizeof(*g))
}

// Marshal serializes the GPUSpatialEntry struct into a byte buffer suitable for GPU upload.
//
// Returns:
//   - []byte: 12-byte buffer ready for GPU upload
func (g *GPUSpatialEntry) Marshal() []byte {
	buf := make([]byte, GPUSpatialEntrySize)
	g.put(buf)
	return buf
}

// IsPadding reports whether the entry is a padding entry appended to reach a power-of-two count.
//
// Returns:
//   - bool: true if the entry carries SentinelKey
func (g *GPUSpatialEntry) IsPadding() bool {
	return g.Key == SentinelKey
}

func (g *GPUSpatialEntry) put(buf []byte) {
	binary.LittleEndian.PutUint32(buf[0:4], g.Index)
	binary.LittleEndian.PutUint32(buf[4:8], g.Hash)
	binary.LittleEndian.PutUint32(buf[8:12], g.Key)
}

// GPUSortParamsSource is the canonical WGSL definition of the SortParams struct.
// Matches GPUSortParams layout exactly (16 bytes, std430 aligned).
//
//go:embed assets/sort_params.wgsl
var GPUSortParamsSource string

// GPUSortParams is the per-stage parameter block read by the bitonic sort kernel.
// Matches the WGSL SortParams struct layout exactly (see GPUSortParamsSource).
// Size: 16 bytes.
type GPUSortParams struct {
	Algo               uint32 // offset  0: algorithm kind of the stage
	BlockHeight        uint32 // offset  4: h, the span of the compare-and-swap pattern
	HighestBlockHeight uint32 // offset  8: H, the size of the bitonic sequences being merged
	DispatchSize       uint32 // offset 12: workgroups dispatched for the stage
}

// Size returns the size of the GPUSortParams struct in bytes.
//
// Returns:
//   - int: the struct size in bytes (16)
func (g *GPUSortParams) Size() int {
	return int(unsafe.Sizeof(*g))
}

// Marshal serializes the GPUSortParams struct into a byte buffer suitable for GPU upload.
//
// Returns:
//   - []byte: 16-byte buffer ready for GPU upload
func (g *GPUSortParams) Marshal() []byte {
	buf := make([]byte, 16)
	binary.LittleEndian.PutUint32(buf[0:4], g.Algo)
	binary.LittleEndian.PutUint32(buf[4:8], g.BlockHeight)
	binary.LittleEndian.PutUint32(buf[8:12], g.HighestBlockHeight)
	binary.LittleEndian.PutUint32(buf[12:16], g.DispatchSize)
	return buf
}

// UnmarshalSortParams decodes a 16-byte SortParams block.
//
// Parameters:
//   - data: at least 16 bytes laid out as GPUSortParams
//
// Returns:
//   - GPUSortParams: the decoded parameters
func UnmarshalSortParams(data []byte) GPUSortParams {
	return GPUSortParams{
		Algo:               binary.LittleEndian.Uint32(data[0:4]),
		BlockHeight:        binary.LittleEndian.Uint32(data[4:8]),
		HighestBlockHeight: binary.LittleEndian.Uint32(data[8:12]),
		DispatchSize:       binary.LittleEndian.Uint32(data[12:16]),
	}
}

// GPUOffsetParamsSource is the canonical WGSL definition of the OffsetParams struct.
// Matches GPUOffsetParams layout exactly (16 bytes, std430 aligned).
//
//go:embed assets/offset_params.wgsl
var GPUOffsetParamsSource string

// GPUOffsetParams carries the sizes the offset clear and offset extraction kernels bound their work by.
// Matches the WGSL OffsetParams struct layout exactly (see GPUOffsetParamsSource).
// Size: 16 bytes.
type GPUOffsetParams struct {
	EntryCount  uint32 // offset  0: entries in the (padded) entries buffer
	BucketCount uint32 // offset  4: slots in the offsets table
	_pad0       uint32 // offset  8: padding to 16-byte alignment
	_pad1       uint32 // offset 12: padding to 16-byte alignment
}

// Size returns the size of the GPUOffsetParams struct in bytes.
//
// Returns:
//   - int: the struct size in bytes (16)
func (g *GPUOffsetParams) Size() int {
	return int(unsafe.Sizeof(*g))
}

// Marshal serializes the GPUOffsetParams struct into a byte buffer suitable for GPU upload.
//
// Returns:
//   - []byte: 16-byte buffer ready for GPU upload
func (g *GPUOffsetParams) Marshal() []byte {
	buf := make([]byte, 16)
	binary.LittleEndian.PutUint32(buf[0:4], g.EntryCount)
	binary.LittleEndian.PutUint32(buf[4:8], g.BucketCount)
	return buf
}

// UnmarshalOffsetParams decodes a 16-byte OffsetParams block.
//
// Parameters:
//   - data: at least 16 bytes laid out as GPUOffsetParams
//
// Returns:
//   - GPUOffsetParams: the decoded parameters
func UnmarshalOffsetParams(data []byte) GPUOffsetParams {
	return GPUOffsetParams{
		EntryCount:  binary.LittleEndian.Uint32(data[0:4]),
		BucketCount: binary.LittleEndian.Uint32(data[4:8]),
	}
}
