package bind_group_provider

import (
	"github.com/cogentcore/webgpu/wgpu"
)

// Buffer is a device-owned buffer handle. The concrete type belongs to the device backend
// that created it.
type Buffer interface {
	// Label returns the debug label the buffer was created with.
	Label() string

	// Size returns the allocated size of the buffer in bytes.
	Size() uint64

	// Release frees the device memory backing the buffer.
	Release()
}

// Resource is a device-owned object, such as a bind group or bind group layout, that only needs releasing.
type Resource interface {
	Release()
}

// bindGroupProvider is the implementation of the BindGroupProvider interface.
type bindGroupProvider struct {
	label string

	// descriptor is the layout the buffers were created from.
	descriptor wgpu.BindGroupLayoutDescriptor

	bindGroup       Resource
	bindGroupLayout Resource
	buffers         map[int]Buffer
}

// BindGroupProvider holds the buffers of one bind group together with the device bind group
// and layout objects built over them. A sort resource set owns one provider per group.
type BindGroupProvider interface {
	// Release releases all buffers, the bind group, and the bind group layout held by this provider.
	Release()

	// Label retrieves the debug label of this provider, used to name the device objects it holds.
	//
	// Returns:
	//   - string: the provider's label
	Label() string

	// Descriptor retrieves the layout descriptor the bind group was initialised from.
	//
	// Returns:
	//   - wgpu.BindGroupLayoutDescriptor: the layout descriptor, empty until InitBindGroup runs
	Descriptor() wgpu.BindGroupLayoutDescriptor

	// BindGroup retrieves the device bind group for this provider.
	//
	// Returns:
	//   - Resource: the bind group, or nil if not initialised
	BindGroup() Resource

	// BindGroupLayout retrieves the device bind group layout for this provider.
	//
	// Returns:
	//   - Resource: the bind group layout, or nil if not initialised
	BindGroupLayout() Resource

	// Buffer retrieves the buffer at a binding index.
	//
	// Parameters:
	//   - binding: the binding index
	//
	// Returns:
	//   - Buffer: the buffer, or nil if the binding holds none
	Buffer(binding int) Buffer

	// Buffers retrieves all buffers keyed by binding index.
	//
	// Returns:
	//   - map[int]Buffer: the buffers of this provider
	Buffers() map[int]Buffer

	// SetDescriptor records the layout descriptor of this provider.
	//
	// Parameters:
	//   - descriptor: the layout descriptor
	SetDescriptor(descriptor wgpu.BindGroupLayoutDescriptor)

	// SetBindGroup sets the device bind group for this provider.
	//
	// Parameters:
	//   - bg: the bind group
	SetBindGroup(bg Resource)

	// SetBindGroupLayout sets the device bind group layout for this provider.
	//
	// Parameters:
	//   - bgl: the bind group layout
	SetBindGroupLayout(bgl Resource)

	// SetBuffer sets the buffer for a binding index.
	//
	// Parameters:
	//   - binding: the binding index
	//   - buf: the buffer
	SetBuffer(binding int, buf Buffer)

	// SetBuffers replaces all buffers of this provider.
	//
	// Parameters:
	//   - buffers: buffers keyed by binding index
	SetBuffers(buffers map[int]Buffer)
}

var _ BindGroupProvider = &bindGroupProvider{}

// NewBindGroupProvider creates a new BindGroupProvider with the given label and options applied.
//
// Parameters:
//   - label: a debug label used to name the provider's device objects
//   - options: functional options to configure the provider
//
// Returns:
//   - BindGroupProvider: a new provider
func NewBindGroupProvider(label string, options ...BindGroupProviderOption) BindGroupProvider {
	p := &bindGroupProvider{
		label:   label,
		buffers: make(map[int]Buffer),
	}
	for _, opt := range options {
		opt(p)
	}
	return p
}

func (p *bindGroupProvider) Label() string {
	return p.label
}

func (p *bindGroupProvider) Descriptor() wgpu.BindGroupLayoutDescriptor {
	return p.descriptor
}

func (p *bindGroupProvider) BindGroup() Resource {
	return p.bindGroup
}

func (p *bindGroupProvider) BindGroupLayout() Resource {
	return p.bindGroupLayout
}

func (p *bindGroupProvider) Buffer(binding int) Buffer {
	return p.buffers[binding]
}

func (p *bindGroupProvider) Buffers() map[int]Buffer {
	return p.buffers
}

func (p *bindGroupProvider) SetDescriptor(descriptor wgpu.BindGroupLayoutDescriptor) {
	p.descriptor = descriptor
}

func (p *bindGroupProvider) SetBindGroup(bg Resource) {
	p.bindGroup = bg
}

func (p *bindGroupProvider) SetBindGroupLayout(bgl Resource) {
	p.bindGroupLayout = bgl
}

func (p *bindGroupProvider) SetBuffer(binding int, buf Buffer) {
	if p.buffers == nil {
		p.buffers = make(map[int]Buffer)
	}
	p.buffers[binding] = buf
}

func (p *bindGroupProvider) SetBuffers(buffers map[int]Buffer) {
	p.buffers = buffers
}

func (p *bindGroupProvider) Release() {
	if p.bindGroup != nil {
		p.bindGroup.Release()
		p.bindGroup = nil
	}
	if p.bindGroupLayout != nil {
		p.bindGroupLayout.Release()
		p.bindGroupLayout = nil
	}
	for i, buf := range p.buffers {
		if buf != nil {
			buf.Release()
		}
		delete(p.buffers, i)
	}
}
