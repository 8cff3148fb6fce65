package pipeline

import "github.com/Carmen-Shannon/oxy-sort/engine/device/shader"

// PipelineBuilderOption is a functional option for configuring a Pipeline.
type PipelineBuilderOption func(*pipeline)

// WithComputeShader sets the compute kernel for this pipeline.
//
// Parameters:
//   - s: the parsed compute kernel
//
// Returns:
//   - PipelineBuilderOption: a function that sets the compute kernel
func WithComputeShader(s shader.Shader) PipelineBuilderOption {
	return func(p *pipeline) {
		p.computeShader = s
	}
}

// WithHostKernel sets the host mirror of the kernel, required by the CPU device.
//
// Parameters:
//   - k: the host kernel
//
// Returns:
//   - PipelineBuilderOption: a function that sets the host kernel
func WithHostKernel(k HostKernel) PipelineBuilderOption {
	return func(p *pipeline) {
		p.hostKernel = k
	}
}
