package device

import (
	"context"
	"fmt"
	"strings"

	"github.com/Carmen-Shannon/oxy-sort/engine/device/bind_group_provider"
	"github.com/Carmen-Shannon/oxy-sort/engine/device/pipeline"
	"github.com/cogentcore/webgpu/wgpu"
)

// BackendType identifies the implementation behind a Device.
type BackendType int

const (
	// BackendTypeWGPU selects the WebGPU backend running kernels on a real (or fallback software) adapter.
	BackendTypeWGPU BackendType = iota

	// BackendTypeCPU selects the emulated device that runs the host mirror of every kernel on a worker pool.
	BackendTypeCPU
)

// String returns the backend name used in config files and logs.
func (b BackendType) String() string {
	switch b {
	case BackendTypeWGPU:
		return "wgpu"
	case BackendTypeCPU:
		return "cpu"
	default:
		return "unknown"
	}
}

// ParseBackendType resolves a backend name as written in config files.
//
// Parameters:
//   - name: "wgpu" or "cpu", case-insensitive
//
// Returns:
//   - BackendType: the backend
//   - error: error if the name is unknown
func ParseBackendType(name string) (BackendType, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "wgpu", "gpu":
		return BackendTypeWGPU, nil
	case "cpu":
		return BackendTypeCPU, nil
	default:
		return 0, fmt.Errorf("unknown backend %q", name)
	}
}

// deviceBackend is implemented by each backend. The Device wraps it with the pipeline cache.
type deviceBackend interface {
	Limits() Limits
	RegisterComputePipeline(p pipeline.Pipeline) error
	InitBindGroup(provider bind_group_provider.BindGroupProvider, descriptor wgpu.BindGroupLayoutDescriptor, bufferUsageOverrides map[int]wgpu.BufferUsage, bufferSizeOverrides map[int]uint64) error
	WriteBuffers(writes []bind_group_provider.BufferWrite) error
	BeginComputeFrame() error
	EncodeBufferWrite(write bind_group_provider.BufferWrite) error
	DispatchCompute(p pipeline.Pipeline, bindGroups []bind_group_provider.BindGroupProvider, workGroupCount [3]uint32) error
	EndComputeFrame() error
	ReadBuffer(ctx context.Context, provider bind_group_provider.BindGroupProvider, binding int, size uint64) ([]byte, error)
	Release()
}
