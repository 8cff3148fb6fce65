package spatial

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGPUTypeSizes(t *testing.T) {
	var e GPUSpatialEntry
	var s GPUSortParams
	var o GPUOffsetParams
	assert.Equal(t, GPUSpatialEntrySize, e.Size())
	assert.Equal(t, 16, s.Size())
	assert.Equal(t, 16, o.Size())
	assert.Len(t, e.Marshal(), e.Size())
	assert.Len(t, s.Marshal(), s.Size())
	assert.Len(t, o.Marshal(), o.Size())
}

func TestEntriesCodec(t *testing.T) {
	entries := []GPUSpatialEntry{
		{Index: 0, Hash: 77, Key: 3},
		{Index: 1, Hash: 0xDEADBEEF, Key: 9},
	}
	data := MarshalEntries(entries)
	require.Len(t, data, 24)
	assert.Equal(t, []byte{9, 0, 0, 0}, data[20:24])
	assert.Equal(t, entries, UnmarshalEntries(data))
	assert.Equal(t, entries[:1], UnmarshalEntries(data[:13]))
}

func TestSortParamsCodec(t *testing.T) {
	p := GPUSortParams{Algo: 3, BlockHeight: 1024, HighestBlockHeight: 1024, DispatchSize: 4}
	assert.Equal(t, p, UnmarshalSortParams(p.Marshal()))

	o := GPUOffsetParams{EntryCount: 8, BucketCount: 5}
	assert.Equal(t, o, UnmarshalOffsetParams(o.Marshal()))
}

func TestPadAndStrip(t *testing.T) {
	entries := []GPUSpatialEntry{{Index: 0, Key: 2}, {Index: 1, Key: 1}, {Index: 2, Key: 0}}
	padded := PadEntries(entries, 4)
	require.Len(t, padded, 4)
	assert.True(t, padded[3].IsPadding())
	assert.False(t, padded[0].IsPadding())
	assert.Equal(t, entries, StripPadding(padded))
	assert.Equal(t, entries, PadEntries(entries, 2))
}

func TestHashing(t *testing.T) {
	assert.Equal(t, [2]int32{0, 0}, CellCoord(0.5, 0.9, 1))
	assert.Equal(t, [2]int32{-1, 2}, CellCoord(-0.1, 2.5, 1))
	assert.Equal(t, uint32(15823+9737333), HashCell2D([2]int32{1, 1}))
	assert.Equal(t, uint32(0), HashCell2D([2]int32{0, 0}))
	// negative cells wrap through their bit pattern
	assert.Equal(t, uint32(4294967296-15823), HashCell2D([2]int32{-1, 0}))

	e := EntryForPosition(7, 1.5, 1.5, 1, 16)
	assert.Equal(t, uint32(7), e.Index)
	assert.Equal(t, HashCell2D([2]int32{1, 1}), e.Hash)
	assert.Equal(t, e.Hash%16, e.Key)
}

func TestLookupRun(t *testing.T) {
	entries := []GPUSpatialEntry{
		{Index: 1, Key: 1}, {Index: 3, Key: 1}, {Index: 6, Key: 2}, {Index: 0, Key: 3},
	}
	offsets := []uint32{EmptyOffset, 0, 2, 3}

	assert.Equal(t, entries[0:2], LookupRun(entries, offsets, 1))
	assert.Equal(t, entries[2:3], LookupRun(entries, offsets, 2))
	assert.Equal(t, entries[3:4], LookupRun(entries, offsets, 3))
	assert.Nil(t, LookupRun(entries, offsets, 0))
	assert.Nil(t, LookupRun(entries, offsets, 9))
}

func TestEntryAccessors(t *testing.T) {
	data := MarshalEntries([]GPUSpatialEntry{{Index: 1, Hash: 2, Key: 3}, {Index: 4, Hash: 5, Key: 6}})

	assert.Equal(t, GPUSpatialEntry{Index: 4, Hash: 5, Key: 6}, EntryAt(data, 1))
	assert.Equal(t, uint32(3), KeyAt(data, 0))

	PutEntry(data, 0, GPUSpatialEntry{Index: 7, Hash: 8, Key: 9})
	assert.Equal(t, []GPUSpatialEntry{{Index: 7, Hash: 8, Key: 9}, {Index: 4, Hash: 5, Key: 6}}, UnmarshalEntries(data))
}
