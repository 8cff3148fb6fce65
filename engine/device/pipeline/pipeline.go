package pipeline

import (
	"github.com/Carmen-Shannon/oxy-sort/engine/device/shader"
	"github.com/cogentcore/webgpu/wgpu"
)

// pipeline is the implementation of the Pipeline interface.
type pipeline struct {
	pipelineKey string

	computeShader shader.Shader
	hostKernel    HostKernel

	computePipeline *wgpu.ComputePipeline
}

// Pipeline describes one compute kernel the device can dispatch: its parsed WGSL source for
// GPU backends and its host mirror for the CPU backend.
type Pipeline interface {
	// PipelineKey returns the unique key this pipeline is cached and dispatched under.
	//
	// Returns:
	//   - string: the pipeline key
	PipelineKey() string

	// Shader returns the parsed compute kernel.
	//
	// Returns:
	//   - shader.Shader: the kernel, or nil if none was set
	Shader() shader.Shader

	// HostKernel returns the host mirror of the kernel run by the CPU device.
	//
	// Returns:
	//   - HostKernel: the host kernel, or nil if none was set
	HostKernel() HostKernel

	// Pipeline returns the backend pipeline object built at registration.
	//
	// Returns:
	//   - any: a *wgpu.ComputePipeline on the wgpu backend, nil before registration or on the CPU backend
	Pipeline() any

	// SetComputePipeline stores the compiled wgpu compute pipeline.
	//
	// Parameters:
	//   - p: the compiled pipeline
	SetComputePipeline(p *wgpu.ComputePipeline)

	// Release frees the compiled backend pipeline, if any.
	Release()
}

var _ Pipeline = &pipeline{}

// NewPipeline creates a compute Pipeline with the given key and options applied.
//
// Parameters:
//   - pipelineKey: the unique key for the pipeline
//   - opts: functional options such as WithComputeShader and WithHostKernel
//
// Returns:
//   - Pipeline: the new pipeline
func NewPipeline(pipelineKey string, opts ...PipelineBuilderOption) Pipeline {
	p := &pipeline{
		pipelineKey: pipelineKey,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func (p *pipeline) PipelineKey() string {
	return p.pipelineKey
}

func (p *pipeline) Shader() shader.Shader {
	return p.computeShader
}

func (p *pipeline) HostKernel() HostKernel {
	return p.hostKernel
}

func (p *pipeline) Pipeline() any {
	if p.computePipeline == nil {
		return nil
	}
	return p.computePipeline
}

func (p *pipeline) SetComputePipeline(cp *wgpu.ComputePipeline) {
	p.computePipeline = cp
}

func (p *pipeline) Release() {
	if p.computePipeline != nil {
		p.computePipeline.Release()
		p.computePipeline = nil
	}
}
