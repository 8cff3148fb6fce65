package pipeline

// HostKernel runs one workgroup of a dispatch on the host. Workgroup barriers are expressed
// by finishing one phase for every invocation before starting the next.
type HostKernel func(wg *Workgroup) error

// Workgroup is the host-side view of one workgroup of a dispatch: its coordinates within the
// dispatch grid and the bound buffer memory.
type Workgroup struct {
	// ID is the workgroup_id of this workgroup.
	ID [3]uint32

	// Size is the kernel's workgroup size.
	Size [3]uint32

	// Count is the number of workgroups in the dispatch.
	Count [3]uint32

	bindings map[int]map[int][]byte
}

// NewWorkgroup creates the host view of a workgroup.
//
// Parameters:
//   - id: the workgroup_id
//   - size: the workgroup size
//   - count: the dispatch size in workgroups
//   - bindings: buffer memory keyed by group then binding index
//
// Returns:
//   - *Workgroup: the workgroup view
func NewWorkgroup(id, size, count [3]uint32, bindings map[int]map[int][]byte) *Workgroup {
	return &Workgroup{ID: id, Size: size, Count: count, bindings: bindings}
}

// Binding returns the memory bound at a group and binding index, or nil if nothing is bound.
// Writes go straight to the buffer.
func (w *Workgroup) Binding(group, binding int) []byte {
	return w.bindings[group][binding]
}

// Invocations returns the number of invocations in the workgroup.
func (w *Workgroup) Invocations() uint32 {
	return w.Size[0] * w.Size[1] * w.Size[2]
}

// GlobalID returns the global_invocation_id of a local invocation.
func (w *Workgroup) GlobalID(local [3]uint32) [3]uint32 {
	return [3]uint32{
		w.ID[0]*w.Size[0] + local[0],
		w.ID[1]*w.Size[1] + local[1],
		w.ID[2]*w.Size[2] + local[2],
	}
}
