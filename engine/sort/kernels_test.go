package sort

import (
	"testing"

	"github.com/Carmen-Shannon/oxy-sort/common"
	"github.com/Carmen-Shannon/oxy-sort/engine/device/pipeline"
	"github.com/Carmen-Shannon/oxy-sort/engine/device/shader"
	"github.com/Carmen-Shannon/oxy-sort/engine/spatial"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func keyedEntries(keys ...uint32) []spatial.GPUSpatialEntry {
	out := make([]spatial.GPUSpatialEntry, len(keys))
	for i, k := range keys {
		out[i] = spatial.GPUSpatialEntry{Index: uint32(i), Hash: k * 10, Key: k}
	}
	return out
}

func keysOf(entries []spatial.GPUSpatialEntry) []uint32 {
	out := make([]uint32, len(entries))
	for i, e := range entries {
		out[i] = e.Key
	}
	return out
}

// runHostDispatch runs every workgroup of one dispatch sequentially.
func runHostDispatch(t *testing.T, kernel pipeline.HostKernel, size, count uint32, bindings map[int]map[int][]byte) error {
	t.Helper()
	for w := uint32(0); w < count; w++ {
		wg := pipeline.NewWorkgroup([3]uint32{w, 0, 0}, [3]uint32{size, 1, 1}, [3]uint32{count, 1, 1}, bindings)
		if err := kernel(wg); err != nil {
			return err
		}
	}
	return nil
}

func sortParamsBytes(algo AlgorithmKind, h, highest, dispatch uint32) []byte {
	p := StageParams{Algorithm: algo, BlockHeight: h, HighestBlockHeight: highest, DispatchSize: dispatch}.ToGPU()
	return p.Marshal()
}

func TestNewKernelSet(t *testing.T) {
	k, err := newKernelSet(64)
	require.NoError(t, err)

	assert.Equal(t, "sort.bitonic.64", k.sort.PipelineKey())
	assert.Equal(t, "sort.clear_offsets.64", k.clear.PipelineKey())
	assert.Equal(t, "sort.spatial_offsets.64", k.offsets.PipelineKey())

	for _, p := range k.pipelines() {
		require.NotNil(t, p.Shader())
		assert.NotNil(t, p.HostKernel())
		assert.Equal(t, [3]uint32{64, 1, 1}, p.Shader().WorkgroupSize())
		assert.Equal(t, uint32(64), p.Shader().Defines()["WORKGROUP_SIZE"])

		data := p.Shader().BindGroupLayoutDescriptor(0)
		require.Len(t, data.Entries, 2)
		assert.Equal(t, uint64(spatial.GPUSpatialEntrySize), data.Entries[0].Buffer.MinBindingSize)
		assert.Equal(t, uint64(4), data.Entries[1].Buffer.MinBindingSize)

		params := p.Shader().BindGroupLayoutDescriptor(1)
		require.Len(t, params.Entries, 1)
		assert.Equal(t, uint64(16), params.Entries[0].Buffer.MinBindingSize)
	}
	assert.Equal(t, "sort_main", k.sort.Shader().EntryPoint())
	assert.Equal(t, "clear_main", k.clear.Shader().EntryPoint())
	assert.Equal(t, "offsets_main", k.offsets.Shader().EntryPoint())
	assert.Equal(t, spatial.SentinelKey, k.offsets.Shader().Defines()["SENTINEL_KEY"])
	assert.Contains(t, k.sort.Shader().Source(), "const WORKGROUP_SIZE: u32 = 64u;")
}

func TestLocateGroups(t *testing.T) {
	k, err := newKernelSet(8)
	require.NoError(t, err)

	g, err := locateGroups(k.sort.Shader(), shader.AnnotationArgSortParams)
	require.NoError(t, err)
	assert.Equal(t, 0, g.data)
	assert.Equal(t, 1, g.params)
	assert.Equal(t, 0, g.entries)
	assert.Equal(t, 1, g.offsets)

	_, err = locateGroups(k.sort.Shader(), shader.AnnotationArgOffsetParams)
	assert.Error(t, err)
}

func TestBitonicSortKernel_LocalFlip(t *testing.T) {
	entries := spatial.MarshalEntries(keyedEntries(3, 1, 4, 1, 5, 9, 2, 6))
	bindings := map[int]map[int][]byte{
		0: {0: entries},
		1: {0: sortParamsBytes(AlgorithmFlipLocal, 4, 4, 2)},
	}

	require.NoError(t, runHostDispatch(t, bitonicSortKernel, 2, 2, bindings))
	assert.Equal(t, []uint32{1, 1, 4, 3, 5, 2, 9, 6}, keysOf(spatial.UnmarshalEntries(entries)))
}

func TestBitonicSortKernel_GlobalDisperse(t *testing.T) {
	entries := spatial.MarshalEntries(keyedEntries(5, 6, 7, 8, 1, 2, 3, 4))
	bindings := map[int]map[int][]byte{
		0: {0: entries},
		1: {0: sortParamsBytes(AlgorithmDisperseGlobal, 8, 8, 2)},
	}

	require.NoError(t, runHostDispatch(t, bitonicSortKernel, 2, 2, bindings))
	got := spatial.UnmarshalEntries(entries)
	assert.Equal(t, []uint32{1, 2, 3, 4, 5, 6, 7, 8}, keysOf(got))
	assert.Equal(t, uint32(4), got[0].Index)
	assert.Equal(t, uint32(10), got[0].Hash)
}

func TestBitonicSortKernel_IdleInvocations(t *testing.T) {
	entries := spatial.MarshalEntries(keyedEntries(2, 1, 4, 3))
	bindings := map[int]map[int][]byte{
		0: {0: entries},
		1: {0: sortParamsBytes(AlgorithmFlipGlobal, 2, 2, 1)},
	}

	// 8 invocations for 2 pairs: the extra six must not touch memory.
	require.NoError(t, runHostDispatch(t, bitonicSortKernel, 8, 1, bindings))
	assert.Equal(t, []uint32{1, 2, 3, 4}, keysOf(spatial.UnmarshalEntries(entries)))
}

func TestBitonicSortKernel_Errors(t *testing.T) {
	entries := spatial.MarshalEntries(keyedEntries(1, 2, 3, 4))

	err := runHostDispatch(t, bitonicSortKernel, 2, 1, map[int]map[int][]byte{0: {0: entries}})
	assert.ErrorIs(t, err, errMissingBinding)

	err = runHostDispatch(t, bitonicSortKernel, 1, 1, map[int]map[int][]byte{
		0: {0: entries},
		1: {0: sortParamsBytes(AlgorithmFlipLocal, 4, 4, 1)},
	})
	assert.Error(t, err)

	err = runHostDispatch(t, bitonicSortKernel, 1, 1, map[int]map[int][]byte{
		0: {0: entries},
		1: {0: sortParamsBytes(AlgorithmDisperseGlobal, 1, 1, 1)},
	})
	assert.Error(t, err)
}

func TestOffsetKernels(t *testing.T) {
	sorted := keyedEntries(1, 1, 2, 3, 5, 5, 12, spatial.SentinelKey)
	sorted[7] = spatial.PaddingEntry
	entries := spatial.MarshalEntries(sorted)
	offsets := common.Uint32sToBytes([]uint32{9, 9, 9, 9, 9, 9, 9, 9, 9, 9})
	params := spatial.GPUOffsetParams{EntryCount: 8, BucketCount: 10}
	bindings := map[int]map[int][]byte{
		0: {0: entries, 1: offsets},
		1: {0: params.Marshal()},
	}

	require.NoError(t, runHostDispatch(t, clearOffsetsKernel, 4, 3, bindings))
	for _, v := range common.BytesToUint32s(offsets) {
		assert.Equal(t, spatial.EmptyOffset, v)
	}

	require.NoError(t, runHostDispatch(t, spatialOffsetsKernel, 4, 2, bindings))
	e := spatial.EmptyOffset
	want := []uint32{e, 0, 2, 3, e, 4, e, e, e, e}
	assert.Equal(t, want, common.BytesToUint32s(offsets))
	assert.Equal(t, want, ComputeOffsets(sorted, 10))
}

func TestCheckSorted(t *testing.T) {
	assert.NoError(t, CheckSorted(keyedEntries(1, 1, 2, 7)))
	assert.NoError(t, CheckSorted(nil))
	assert.Error(t, CheckSorted(keyedEntries(1, 3, 2)))
}
