package sort

import (
	"context"
	"math/rand/v2"
	"slices"
	"testing"
	"time"

	"github.com/Carmen-Shannon/oxy-sort/engine/device"
	"github.com/Carmen-Shannon/oxy-sort/engine/device/bind_group_provider"
	"github.com/Carmen-Shannon/oxy-sort/engine/profiler"
	"github.com/Carmen-Shannon/oxy-sort/engine/spatial"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newCPUDevice(t *testing.T, opts ...device.DeviceBuilderOption) device.Device {
	t.Helper()
	dev, err := device.NewDevice(device.BackendTypeCPU, append([]device.DeviceBuilderOption{device.WithWorkers(4)}, opts...)...)
	require.NoError(t, err)
	t.Cleanup(dev.Release)
	return dev
}

func newTestSorter(t *testing.T, dev device.Device, n uint32, opts ...SorterBuilderOption) Sorter {
	t.Helper()
	s, err := NewSorter(dev, n, opts...)
	require.NoError(t, err)
	t.Cleanup(s.Release)
	return s
}

func randomEntries(rng *rand.Rand, n, keyRange uint32) []spatial.GPUSpatialEntry {
	out := make([]spatial.GPUSpatialEntry, n)
	for i := range out {
		k := rng.Uint32N(keyRange)
		out[i] = spatial.GPUSpatialEntry{Index: uint32(i), Hash: k ^ 0x5bd1e995, Key: k}
	}
	return out
}

func sortedIndices(entries []spatial.GPUSpatialEntry) []uint32 {
	out := make([]uint32, len(entries))
	for i, e := range entries {
		out[i] = e.Index
	}
	slices.Sort(out)
	return out
}

func readResults(t *testing.T, s Sorter) ([]spatial.GPUSpatialEntry, []uint32) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	entries, err := s.ReadEntries(ctx)
	require.NoError(t, err)
	offsets, err := s.ReadOffsets(ctx)
	require.NoError(t, err)
	return entries, offsets
}

// requireSortedPermutation checks the sort properties: keys non-decreasing, the same multiset
// of indices, and every entry still carrying its own hash and key.
func requireSortedPermutation(t *testing.T, input, output []spatial.GPUSpatialEntry) {
	t.Helper()
	require.Len(t, output, len(input))
	require.NoError(t, CheckSorted(output))
	assert.Equal(t, sortedIndices(input), sortedIndices(output))
	for _, e := range output {
		assert.Equal(t, input[e.Index], e)
	}
}

func TestSorter_ConcreteScenario(t *testing.T) {
	dev := newCPUDevice(t)
	s := newTestSorter(t, dev, 8, WithBucketCount(10))

	input := keyedEntries(3, 1, 4, 1, 5, 9, 2, 6)
	require.NoError(t, s.Sort(input))

	entries, offsets := readResults(t, s)
	assert.Equal(t, []uint32{1, 1, 2, 3, 4, 5, 6, 9}, keysOf(entries))
	assert.ElementsMatch(t, []uint32{1, 3}, []uint32{entries[0].Index, entries[1].Index})
	assert.Equal(t, uint32(6), entries[2].Index)
	assert.Equal(t, uint32(0), entries[3].Index)
	assert.Equal(t, uint32(5), entries[7].Index)

	e := spatial.EmptyOffset
	assert.Equal(t, []uint32{e, 0, 2, 3, 4, 5, 6, e, e, 7}, offsets)
	assert.Len(t, spatial.LookupRun(entries, offsets, 1), 2)
	assert.Empty(t, spatial.LookupRun(entries, offsets, 7))
}

func TestSorter_RandomInputs(t *testing.T) {
	rng := rand.New(rand.NewPCG(1, 2))
	cases := []struct {
		name  string
		n     uint32
		local uint32
	}{
		{"single", 1, 0},
		{"pair", 2, 0},
		{"local only", 64, 0},
		{"device block", 1024, 0},
		{"global stages", 256, 4},
		{"tiny block", 128, 1},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			dev := newCPUDevice(t)
			var opts []SorterBuilderOption
			if tc.local != 0 {
				opts = append(opts, WithMaxLocalBlock(tc.local))
			}
			s := newTestSorter(t, dev, tc.n, opts...)

			input := randomEntries(rng, tc.n, tc.n)
			require.NoError(t, s.Sort(input))

			entries, offsets := readResults(t, s)
			requireSortedPermutation(t, input, entries)
			assert.Equal(t, ComputeOffsets(entries, tc.n), offsets)
		})
	}
}

func TestSorter_GlobalStagesInPlan(t *testing.T) {
	dev := newCPUDevice(t)
	s := newTestSorter(t, dev, 256, WithMaxLocalBlock(4))

	var local, global int
	for _, stage := range s.Plan().Stages {
		if stage.IsLocal {
			local++
		} else {
			global++
		}
	}
	assert.Equal(t, 36, s.Plan().Len())
	assert.Positive(t, local)
	assert.Positive(t, global)
	assert.Equal(t, uint32(32), s.Resources().WorkgroupsToDispatch())
}

func TestSorter_Idempotent(t *testing.T) {
	rng := rand.New(rand.NewPCG(3, 4))
	dev := newCPUDevice(t)
	s := newTestSorter(t, dev, 512, WithMaxLocalBlock(16))

	input := randomEntries(rng, 512, 64)
	require.NoError(t, s.Sort(input))
	first, firstOffsets := readResults(t, s)

	require.NoError(t, s.Sort(first))
	second, secondOffsets := readResults(t, s)

	assert.Equal(t, keysOf(first), keysOf(second))
	assert.Equal(t, sortedIndices(first), sortedIndices(second))
	assert.Equal(t, firstOffsets, secondOffsets)
}

func TestSorter_PadsToPowerOfTwo(t *testing.T) {
	rng := rand.New(rand.NewPCG(5, 6))
	dev := newCPUDevice(t)
	s := newTestSorter(t, dev, 100, WithMaxLocalBlock(8))

	assert.Equal(t, uint32(100), s.ElementCount())
	assert.Equal(t, uint32(128), s.PaddedCount())
	assert.Equal(t, uint32(128), s.Plan().ElementCount)
	assert.Equal(t, uint64(128*spatial.GPUSpatialEntrySize), s.Entries().Size())
	assert.Equal(t, uint64(100*4), s.Offsets().Size())

	input := randomEntries(rng, 100, 100)
	require.NoError(t, s.Sort(input))

	entries, offsets := readResults(t, s)
	requireSortedPermutation(t, input, entries)
	assert.Equal(t, ComputeOffsets(entries, 100), offsets)

	ctx := context.Background()
	raw, err := s.ReadBack(ctx, s.Entries(), s.Entries().Size())
	require.NoError(t, err)
	padded := spatial.UnmarshalEntries(raw)
	for _, e := range padded[100:] {
		assert.True(t, e.IsPadding())
	}
}

func TestSorter_BucketCountBoundsOffsets(t *testing.T) {
	dev := newCPUDevice(t)
	s := newTestSorter(t, dev, 8, WithBucketCount(4))

	require.NoError(t, s.Sort(keyedEntries(7, 0, 3, 3, 9, 1, 5, 0)))
	entries, offsets := readResults(t, s)

	assert.Equal(t, []uint32{0, 0, 1, 3, 3, 5, 7, 9}, keysOf(entries))
	assert.Equal(t, []uint32{0, 2, spatial.EmptyOffset, 3}, offsets)
}

func TestSorter_OffsetsClearedEveryFrame(t *testing.T) {
	dev := newCPUDevice(t)
	s := newTestSorter(t, dev, 4)

	require.NoError(t, s.Sort(keyedEntries(0, 1, 2, 3)))
	_, offsets := readResults(t, s)
	assert.Equal(t, []uint32{0, 1, 2, 3}, offsets)

	require.NoError(t, s.Sort(keyedEntries(2, 2, 2, 2)))
	_, offsets = readResults(t, s)
	e := spatial.EmptyOffset
	assert.Equal(t, []uint32{e, e, 0, e}, offsets)
}

func TestNewSorter_Errors(t *testing.T) {
	dev := newCPUDevice(t)

	_, err := NewSorter(dev, 0)
	assert.ErrorIs(t, err, ErrInvalidElementCount)

	_, err = NewSorter(dev, 100, WithPadding(false))
	assert.ErrorIs(t, err, ErrInvalidElementCount)

	_, err = NewSorter(dev, 64, WithMaxLocalBlock(3))
	assert.ErrorIs(t, err, ErrInvalidLocalBlock)

	_, err = NewSorter(dev, 64, WithMaxLocalBlock(1<<20))
	assert.ErrorIs(t, err, ErrInvalidLocalBlock)

	assert.Panics(t, func() {
		_, _ = NewSorter(nil, 8)
	})
}

func TestNewSorter_DispatchLimit(t *testing.T) {
	dev := newCPUDevice(t, device.WithLimits(device.Limits{MaxComputeWorkgroupsPerDimension: 2}))

	_, err := NewSorter(dev, 1024, WithMaxLocalBlock(2))
	assert.ErrorIs(t, err, ErrInvalidElementCount)
}

func TestSorter_MismatchedCounts(t *testing.T) {
	dev := newCPUDevice(t)
	s := newTestSorter(t, dev, 8)

	assert.ErrorIs(t, s.Upload(keyedEntries(1, 2, 3)), ErrPlanResourceMismatch)
	assert.ErrorIs(t, s.Sort(keyedEntries(1, 2, 3)), ErrPlanResourceMismatch)

	require.NoError(t, dev.BeginComputeFrame())
	assert.ErrorIs(t, s.Run(dev, 16), ErrPlanResourceMismatch)
	require.NoError(t, dev.EndComputeFrame())

	other, err := NewPlan(16, 4)
	require.NoError(t, err)
	assert.ErrorIs(t, s.Resources().Validate(other), ErrPlanResourceMismatch)
	assert.NoError(t, s.Resources().Validate(s.Plan()))
}

func TestSorter_RejectsSentinelKeys(t *testing.T) {
	dev := newCPUDevice(t)
	s := newTestSorter(t, dev, 4)

	input := keyedEntries(1, 2, 3, 4)
	input[2] = spatial.PaddingEntry
	err := s.Upload(input)
	assert.ErrorIs(t, err, ErrReservedKey)
	assert.Contains(t, err.Error(), "entry 2")
}

func TestSorter_ReadBackForeignBuffer(t *testing.T) {
	dev := newCPUDevice(t)
	a := newTestSorter(t, dev, 8)
	b := newTestSorter(t, dev, 8)

	_, err := a.ReadBack(context.Background(), b.Entries(), 12)
	assert.ErrorIs(t, err, device.ErrBufferNotFound)

	_, err = a.ReadBack(context.Background(), nil, 12)
	assert.ErrorIs(t, err, device.ErrBufferNotFound)
}

func TestSorter_SharesPipelinesOnDevice(t *testing.T) {
	dev := newCPUDevice(t)
	a := newTestSorter(t, dev, 64, WithMaxLocalBlock(8))
	b := newTestSorter(t, dev, 64, WithMaxLocalBlock(8), WithLabel("Second Sort"))

	require.NoError(t, a.Sort(keyedEntries(slices.Repeat([]uint32{3, 1}, 32)...)))
	require.NoError(t, b.Sort(keyedEntries(slices.Repeat([]uint32{2, 0}, 32)...)))

	entriesA, _ := readResults(t, a)
	entriesB, _ := readResults(t, b)
	assert.Equal(t, uint32(1), entriesA[0].Key)
	assert.Equal(t, uint32(0), entriesB[0].Key)
	assert.NotNil(t, dev.Pipeline("sort.bitonic.8"))
}

func TestSorter_WithProfiler(t *testing.T) {
	dev := newCPUDevice(t)
	p := profiler.NewProfilerWithInterval(time.Hour)
	s := newTestSorter(t, dev, 16, WithProfiler(p))

	assert.NoError(t, s.Sort(keyedEntries(slices.Repeat([]uint32{1}, 16)...)))
	assert.False(t, p.Tick())
}

// recordingStream captures what a sort records, in order.
type recordingStream struct {
	ops    []string
	params []spatial.GPUSortParams
}

func (r *recordingStream) EncodeBufferWrite(write bind_group_provider.BufferWrite) error {
	r.ops = append(r.ops, "write")
	r.params = append(r.params, spatial.UnmarshalSortParams(write.Data))
	return nil
}

func (r *recordingStream) DispatchCompute(key string, _ []bind_group_provider.BindGroupProvider, count [3]uint32) error {
	r.ops = append(r.ops, key)
	return nil
}

func TestSorter_RunRecordsStagesThenOffsets(t *testing.T) {
	dev := newCPUDevice(t)
	s := newTestSorter(t, dev, 8, WithMaxLocalBlock(2))

	stream := &recordingStream{}
	require.NoError(t, s.Run(stream, 8))

	want := make([]string, 0, 2*6+2)
	for range 6 {
		want = append(want, "write", "sort.bitonic.2")
	}
	want = append(want, "sort.clear_offsets.2", "sort.spatial_offsets.2")
	assert.Equal(t, want, stream.ops)

	require.Len(t, stream.params, 6)
	for i, stage := range s.Plan().Stages {
		assert.Equal(t, stage.Params(2).ToGPU(), stream.params[i])
	}
}

func TestLocalBlockFromLimits(t *testing.T) {
	assert.Equal(t, uint32(256), LocalBlockFromLimits(device.DefaultLimits()))
	assert.Equal(t, uint32(128), LocalBlockFromLimits(device.Limits{
		MaxComputeWorkgroupSizeX:          1024,
		MaxComputeInvocationsPerWorkgroup: 1024,
		MaxComputeWorkgroupStorageSize:    4096,
	}))
	assert.Equal(t, uint32(64), LocalBlockFromLimits(device.Limits{
		MaxComputeWorkgroupSizeX:          100,
		MaxComputeInvocationsPerWorkgroup: 256,
		MaxComputeWorkgroupStorageSize:    16384,
	}))
}

func TestNewSorter_DefaultDeviceLimits(t *testing.T) {
	dev := newCPUDevice(t)
	require.Equal(t, uint32(256), LocalBlockFromLimits(dev.Limits()))

	s := newTestSorter(t, dev, 1<<12)
	assert.Equal(t, uint32(256), s.Resources().WorkgroupSize())
	assert.Equal(t, uint32(8), s.Resources().WorkgroupsToDispatch())
	global := 0
	for _, stage := range s.Plan().Stages {
		if !stage.IsLocal {
			global++
		}
	}
	assert.Equal(t, 6, global)

	_, err := NewSorter(dev, 8, WithBucketCount(1<<25))
	assert.ErrorIs(t, err, ErrInvalidElementCount)
}

func TestNewSorter_RejectsCountsAboveMaximum(t *testing.T) {
	dev := newCPUDevice(t)

	_, err := NewSorter(dev, MaxElementCount+1)
	assert.ErrorIs(t, err, ErrInvalidElementCount)

	_, err = NewSorter(dev, 1<<31)
	assert.ErrorIs(t, err, ErrInvalidElementCount)
}
