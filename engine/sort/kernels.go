package sort

import (
	_ "embed"
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/Carmen-Shannon/oxy-sort/engine/device/pipeline"
	"github.com/Carmen-Shannon/oxy-sort/engine/device/shader"
	"github.com/Carmen-Shannon/oxy-sort/engine/spatial"
)

// BitonicSortSource is the bitonic compare-and-swap kernel. One dispatch runs one stage.
//
//go:embed assets/bitonic_sort.wgsl
var BitonicSortSource string

// ClearOffsetsSource is the kernel that resets every offsets slot to spatial.EmptyOffset.
//
//go:embed assets/clear_offsets.wgsl
var ClearOffsetsSource string

// SpatialOffsetsSource is the offset extraction kernel run over the sorted entries.
//
//go:embed assets/spatial_offsets.wgsl
var SpatialOffsetsSource string

const (
	sortPipelinePrefix    = "sort.bitonic"
	clearPipelinePrefix   = "sort.clear_offsets"
	offsetsPipelinePrefix = "sort.spatial_offsets"
)

var errMissingBinding = errors.New("kernel binding missing or too small")

// kernelSet holds the three pipelines of a sorter, compiled for one workgroup size.
// Pipelines are keyed by workgroup size, so sorters with the same size share them on a device.
type kernelSet struct {
	workgroupSize uint32

	sort    pipeline.Pipeline
	clear   pipeline.Pipeline
	offsets pipeline.Pipeline
}

func newKernelSet(workgroupSize uint32) (*kernelSet, error) {
	k := &kernelSet{workgroupSize: workgroupSize}

	build := func(prefix, source string, kernel pipeline.HostKernel, defines map[string]uint32) (pipeline.Pipeline, error) {
		key := fmt.Sprintf("%s.%d", prefix, workgroupSize)
		defines["WORKGROUP_SIZE"] = workgroupSize
		s, err := shader.NewShader(key, source, shader.WithDefines(defines))
		if err != nil {
			return nil, err
		}
		return pipeline.NewPipeline(key, pipeline.WithComputeShader(s), pipeline.WithHostKernel(kernel)), nil
	}

	var err error
	if k.sort, err = build(sortPipelinePrefix, BitonicSortSource, bitonicSortKernel, map[string]uint32{}); err != nil {
		return nil, err
	}
	if k.clear, err = build(clearPipelinePrefix, ClearOffsetsSource, clearOffsetsKernel, map[string]uint32{"EMPTY_OFFSET": spatial.EmptyOffset}); err != nil {
		return nil, err
	}
	if k.offsets, err = build(offsetsPipelinePrefix, SpatialOffsetsSource, spatialOffsetsKernel, map[string]uint32{"SENTINEL_KEY": spatial.SentinelKey}); err != nil {
		return nil, err
	}
	return k, nil
}

func (k *kernelSet) pipelines() []pipeline.Pipeline {
	return []pipeline.Pipeline{k.sort, k.clear, k.offsets}
}

// pairIndices returns the compare-and-swap pair of thread t for a block height h.
func pairIndices(algo AlgorithmKind, t, h uint32) (uint32, uint32) {
	blockOffset := ((2 * t) / h) * h
	half := h / 2
	i := t % half
	if algo == AlgorithmFlipLocal || algo == AlgorithmFlipGlobal {
		return blockOffset + i, blockOffset + h - i - 1
	}
	return blockOffset + i, blockOffset + i + half
}

// bitonicSortKernel is the host mirror of sort_main.
func bitonicSortKernel(wg *pipeline.Workgroup) error {
	entries := wg.Binding(0, 0)
	paramsData := wg.Binding(1, 0)
	if len(paramsData) < 16 {
		return fmt.Errorf("%w: sort params", errMissingBinding)
	}
	params := spatial.UnmarshalSortParams(paramsData)
	algo := AlgorithmKind(params.Algo)
	if algo == AlgorithmNone {
		return nil
	}
	if params.BlockHeight < 2 {
		return fmt.Errorf("block height %d of %s stage is below 2", params.BlockHeight, algo)
	}
	count := uint32(len(entries) / spatial.GPUSpatialEntrySize)
	size := wg.Size[0]

	if algo.IsLocal() {
		if params.BlockHeight > 2*size {
			return fmt.Errorf("block height %d of %s stage exceeds the local block %d", params.BlockHeight, algo, 2*size)
		}
		offset := size * 2 * wg.ID[0]
		local := make([]spatial.GPUSpatialEntry, 2*size)

		for l := uint32(0); l < size; l++ {
			l0 := l * 2
			if offset+l0+1 < count {
				local[l0] = spatial.EntryAt(entries, offset+l0)
				local[l0+1] = spatial.EntryAt(entries, offset+l0+1)
			}
		}
		for l := uint32(0); l < size; l++ {
			before, after := pairIndices(algo, l, params.BlockHeight)
			if offset+after < count && local[after].Key < local[before].Key {
				local[before], local[after] = local[after], local[before]
			}
		}
		for l := uint32(0); l < size; l++ {
			l0 := l * 2
			if offset+l0+1 < count {
				spatial.PutEntry(entries, offset+l0, local[l0])
				spatial.PutEntry(entries, offset+l0+1, local[l0+1])
			}
		}
		return nil
	}

	for l := uint32(0); l < size; l++ {
		t := wg.GlobalID([3]uint32{l, 0, 0})[0]
		if t >= count/2 {
			continue
		}
		before, after := pairIndices(algo, t, params.BlockHeight)
		if after >= count {
			return fmt.Errorf("pair (%d, %d) of thread %d is outside %d entries", before, after, t, count)
		}
		if spatial.KeyAt(entries, after) < spatial.KeyAt(entries, before) {
			b, a := spatial.EntryAt(entries, before), spatial.EntryAt(entries, after)
			spatial.PutEntry(entries, before, a)
			spatial.PutEntry(entries, after, b)
		}
	}
	return nil
}

// clearOffsetsKernel is the host mirror of clear_main.
func clearOffsetsKernel(wg *pipeline.Workgroup) error {
	offsets := wg.Binding(0, 1)
	paramsData := wg.Binding(1, 0)
	if len(paramsData) < 16 {
		return fmt.Errorf("%w: offset params", errMissingBinding)
	}
	params := spatial.UnmarshalOffsetParams(paramsData)
	slots := uint32(len(offsets) / 4)

	for l := uint32(0); l < wg.Size[0]; l++ {
		i := wg.GlobalID([3]uint32{l, 0, 0})[0]
		if i >= params.BucketCount || i >= slots {
			continue
		}
		binary.LittleEndian.PutUint32(offsets[i*4:], spatial.EmptyOffset)
	}
	return nil
}

// spatialOffsetsKernel is the host mirror of offsets_main.
func spatialOffsetsKernel(wg *pipeline.Workgroup) error {
	entries := wg.Binding(0, 0)
	offsets := wg.Binding(0, 1)
	paramsData := wg.Binding(1, 0)
	if len(paramsData) < 16 {
		return fmt.Errorf("%w: offset params", errMissingBinding)
	}
	params := spatial.UnmarshalOffsetParams(paramsData)
	count := min(params.EntryCount, uint32(len(entries)/spatial.GPUSpatialEntrySize))
	slots := uint32(len(offsets) / 4)

	for l := uint32(0); l < wg.Size[0]; l++ {
		i := wg.GlobalID([3]uint32{l, 0, 0})[0]
		if i >= count {
			continue
		}
		key := spatial.KeyAt(entries, i)
		if key == spatial.SentinelKey || key >= params.BucketCount || key >= slots {
			continue
		}
		if i == 0 || spatial.KeyAt(entries, i-1) != key {
			binary.LittleEndian.PutUint32(offsets[key*4:], i)
		}
	}
	return nil
}
