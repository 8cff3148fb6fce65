package sort

import (
	"fmt"

	"github.com/Carmen-Shannon/oxy-sort/common"
	"github.com/Carmen-Shannon/oxy-sort/engine/device"
	"github.com/Carmen-Shannon/oxy-sort/engine/device/bind_group_provider"
	"github.com/Carmen-Shannon/oxy-sort/engine/device/shader"
	"github.com/Carmen-Shannon/oxy-sort/engine/spatial"
	"github.com/cogentcore/webgpu/wgpu"
)

// resourceSet is the implementation of the ResourceSet interface.
type resourceSet struct {
	label string

	elementCount  uint32
	bucketCount   uint32
	workgroupSize uint32

	data         bind_group_provider.BindGroupProvider
	sortParams   bind_group_provider.BindGroupProvider
	offsetParams bind_group_provider.BindGroupProvider

	entriesBinding int
	offsetsBinding int

	sortGroups   []bind_group_provider.BindGroupProvider
	offsetGroups []bind_group_provider.BindGroupProvider
}

// ResourceSet owns the device buffers of one sorter: the data group holding the entries buffer
// and offsets table, and the parameter groups of the sort and offsets kernels. Buffers are
// allocated once for a fixed element count; a different count needs a new set.
type ResourceSet interface {
	// ElementCount returns the number of entries the entries buffer holds, a power of two.
	ElementCount() uint32

	// BucketCount returns the number of slots in the offsets table.
	BucketCount() uint32

	// WorkgroupSize returns the workgroup size the kernels were compiled with, equal to the local block.
	WorkgroupSize() uint32

	// WorkgroupsToDispatch returns the workgroups of one sort stage, ceil(N / (2 * WorkgroupSize)).
	// Each invocation owns one compare-and-swap pair.
	WorkgroupsToDispatch() uint32

	// ClearWorkgroups returns the workgroups of the offsets clear pass, one invocation per slot.
	ClearWorkgroups() uint32

	// OffsetWorkgroups returns the workgroups of the offset extraction pass, one invocation per entry.
	OffsetWorkgroups() uint32

	// Data returns the provider of the data group (entries and offsets).
	Data() bind_group_provider.BindGroupProvider

	// SortParams returns the provider of the sort kernel's parameter group.
	SortParams() bind_group_provider.BindGroupProvider

	// OffsetParams returns the provider of the offset kernels' parameter group.
	OffsetParams() bind_group_provider.BindGroupProvider

	// EntriesBinding returns the binding index of the entries buffer within the data group.
	EntriesBinding() int

	// OffsetsBinding returns the binding index of the offsets table within the data group.
	OffsetsBinding() int

	// Entries returns the entries buffer.
	Entries() bind_group_provider.Buffer

	// Offsets returns the offsets table buffer.
	Offsets() bind_group_provider.Buffer

	// SortBindGroups returns the providers bound by a sort stage, in group order.
	SortBindGroups() []bind_group_provider.BindGroupProvider

	// OffsetBindGroups returns the providers bound by the clear and offsets passes, in group order.
	OffsetBindGroups() []bind_group_provider.BindGroupProvider

	// Validate checks that a plan can run against these buffers.
	//
	// Parameters:
	//   - plan: the plan to check
	//
	// Returns:
	//   - error: ErrPlanResourceMismatch if the plan's element count or local block disagrees with the buffers
	Validate(plan *Plan) error

	// Release frees every buffer and bind group of the set.
	Release()
}

var _ ResourceSet = &resourceSet{}

// kernelGroups is where a kernel expects the data group and its parameter group.
type kernelGroups struct {
	data, params         int
	entries, offsets     int
	dataDesc, paramsDesc wgpu.BindGroupLayoutDescriptor
}

// locateGroups reads a kernel's declarations to find the data group bindings by role and the
// parameter group by struct type.
func locateGroups(s shader.Shader, paramsType shader.AnnotationArg) (kernelGroups, error) {
	g := kernelGroups{data: -1, params: -1, entries: -1, offsets: -1}
	for _, decl := range s.Declarations() {
		if decl.Group == nil || decl.Binding == nil {
			continue
		}
		switch decl.Type {
		case shader.AnnotationTypeProvider:
			if len(decl.Args) < 2 || decl.Args[0] != shader.AnnotationArgSpatialData {
				continue
			}
			g.data = *decl.Group
			switch decl.Args[1] {
			case shader.AnnotationArgEntriesRole:
				g.entries = *decl.Binding
			case shader.AnnotationArgOffsetsRole:
				g.offsets = *decl.Binding
			}
		case shader.AnnotationTypeBindingGroup:
			if len(decl.Args) == 3 && decl.Args[2] == paramsType {
				g.params = *decl.Group
			}
		}
	}
	if g.data < 0 || g.entries < 0 || g.offsets < 0 || g.params < 0 {
		return g, fmt.Errorf("kernel %s does not declare the spatial data and %s groups", s.Key(), paramsType)
	}
	if g.data > 1 || g.params > 1 || g.data == g.params {
		return g, fmt.Errorf("kernel %s must bind the data and parameter groups to groups 0 and 1", s.Key())
	}
	g.dataDesc = s.BindGroupLayoutDescriptor(g.data)
	g.paramsDesc = s.BindGroupLayoutDescriptor(g.params)
	return g, nil
}

func orderedGroups(g kernelGroups, data, params bind_group_provider.BindGroupProvider) []bind_group_provider.BindGroupProvider {
	groups := make([]bind_group_provider.BindGroupProvider, 2)
	groups[g.data] = data
	groups[g.params] = params
	return groups
}

// newResourceSet allocates the buffers for elementCount entries and bucketCount offsets slots and
// writes the constant offset parameters.
func newResourceSet(dev device.Device, k *kernelSet, label string, elementCount, bucketCount uint32) (*resourceSet, error) {
	sortGroups, err := locateGroups(k.sort.Shader(), shader.AnnotationArgSortParams)
	if err != nil {
		return nil, err
	}
	offsetGroups, err := locateGroups(k.offsets.Shader(), shader.AnnotationArgOffsetParams)
	if err != nil {
		return nil, err
	}
	if offsetGroups.entries != sortGroups.entries || offsetGroups.offsets != sortGroups.offsets {
		return nil, fmt.Errorf("%w: sort and offsets kernels bind the spatial data differently", ErrPlanResourceMismatch)
	}

	r := &resourceSet{
		label:          label,
		elementCount:   elementCount,
		bucketCount:    bucketCount,
		workgroupSize:  k.workgroupSize,
		data:           bind_group_provider.NewBindGroupProvider(label + " Data"),
		sortParams:     bind_group_provider.NewBindGroupProvider(label + " Sort Params"),
		offsetParams:   bind_group_provider.NewBindGroupProvider(label + " Offset Params"),
		entriesBinding: sortGroups.entries,
		offsetsBinding: sortGroups.offsets,
	}
	r.sortGroups = orderedGroups(sortGroups, r.data, r.sortParams)
	r.offsetGroups = orderedGroups(offsetGroups, r.data, r.offsetParams)

	readBack := map[int]wgpu.BufferUsage{
		r.entriesBinding: wgpu.BufferUsageCopySrc,
		r.offsetsBinding: wgpu.BufferUsageCopySrc,
	}
	sizes := map[int]uint64{
		r.entriesBinding: uint64(elementCount) * spatial.GPUSpatialEntrySize,
		r.offsetsBinding: uint64(bucketCount) * 4,
	}
	if err := dev.InitBindGroup(r.data, sortGroups.dataDesc, readBack, sizes); err != nil {
		r.Release()
		return nil, err
	}
	if err := dev.InitBindGroup(r.sortParams, sortGroups.paramsDesc, nil, nil); err != nil {
		r.Release()
		return nil, err
	}
	if err := dev.InitBindGroup(r.offsetParams, offsetGroups.paramsDesc, nil, nil); err != nil {
		r.Release()
		return nil, err
	}

	params := spatial.GPUOffsetParams{EntryCount: elementCount, BucketCount: bucketCount}
	if err := dev.WriteBuffers([]bind_group_provider.BufferWrite{{Provider: r.offsetParams, Binding: 0, Data: params.Marshal()}}); err != nil {
		r.Release()
		return nil, err
	}
	return r, nil
}

func (r *resourceSet) ElementCount() uint32 {
	return r.elementCount
}

func (r *resourceSet) BucketCount() uint32 {
	return r.bucketCount
}

func (r *resourceSet) WorkgroupSize() uint32 {
	return r.workgroupSize
}

func (r *resourceSet) WorkgroupsToDispatch() uint32 {
	return common.CeilDiv(r.elementCount, 2*r.workgroupSize)
}

func (r *resourceSet) ClearWorkgroups() uint32 {
	return common.CeilDiv(r.bucketCount, r.workgroupSize)
}

func (r *resourceSet) OffsetWorkgroups() uint32 {
	return common.CeilDiv(r.elementCount, r.workgroupSize)
}

func (r *resourceSet) Data() bind_group_provider.BindGroupProvider {
	return r.data
}

func (r *resourceSet) SortParams() bind_group_provider.BindGroupProvider {
	return r.sortParams
}

func (r *resourceSet) OffsetParams() bind_group_provider.BindGroupProvider {
	return r.offsetParams
}

func (r *resourceSet) EntriesBinding() int {
	return r.entriesBinding
}

func (r *resourceSet) OffsetsBinding() int {
	return r.offsetsBinding
}

func (r *resourceSet) Entries() bind_group_provider.Buffer {
	return r.data.Buffer(r.entriesBinding)
}

func (r *resourceSet) Offsets() bind_group_provider.Buffer {
	return r.data.Buffer(r.offsetsBinding)
}

func (r *resourceSet) SortBindGroups() []bind_group_provider.BindGroupProvider {
	return r.sortGroups
}

func (r *resourceSet) OffsetBindGroups() []bind_group_provider.BindGroupProvider {
	return r.offsetGroups
}

func (r *resourceSet) Validate(plan *Plan) error {
	if plan == nil {
		return fmt.Errorf("%w: no plan", ErrPlanResourceMismatch)
	}
	if err := plan.Validate(r.elementCount); err != nil {
		return err
	}
	if plan.MaxLocalBlock > r.workgroupSize {
		return fmt.Errorf("%w: plan local block %d exceeds workgroup size %d", ErrPlanResourceMismatch, plan.MaxLocalBlock, r.workgroupSize)
	}
	if buf := r.Entries(); buf == nil || buf.Size() != uint64(r.elementCount)*spatial.GPUSpatialEntrySize {
		return fmt.Errorf("%w: entries buffer does not hold %d entries", ErrPlanResourceMismatch, r.elementCount)
	}
	if buf := r.Offsets(); buf == nil || buf.Size() != uint64(r.bucketCount)*4 {
		return fmt.Errorf("%w: offsets buffer does not hold %d slots", ErrPlanResourceMismatch, r.bucketCount)
	}
	return nil
}

func (r *resourceSet) Release() {
	r.data.Release()
	r.sortParams.Release()
	r.offsetParams.Release()
}
