package device

import (
	"context"
	"fmt"
	"sync"

	"github.com/Carmen-Shannon/oxy-sort/engine/device/bind_group_provider"
	"github.com/Carmen-Shannon/oxy-sort/engine/device/pipeline"
	"github.com/cogentcore/webgpu/wgpu"
)

// device is the implementation of the Device interface.
type device struct {
	mu *sync.Mutex

	pipelineCache map[string]pipeline.Pipeline

	backendType BackendType
	backend     deviceBackend

	forceFallbackAdapter bool
	workers              int
	uploadChunkSize      uint64
	requestedLimits      Limits
	pendingPipelines     []pipeline.Pipeline
}

// Device is the compute capability the sort core runs on: limit queries, pipeline creation,
// bind group and buffer creation, queue writes, a command stream of in-stream writes and
// dispatches per frame, and buffer read-back.
type Device interface {
	// Backend returns the backend implementation behind this device.
	//
	// Returns:
	//   - BackendType: BackendTypeWGPU or BackendTypeCPU
	Backend() BackendType

	// Limits returns the compute limits of the device, queried once at creation.
	//
	// Returns:
	//   - Limits: the device limits
	Limits() Limits

	// Pipeline retrieves a registered pipeline by key.
	//
	// Parameters:
	//   - key: the pipeline key
	//
	// Returns:
	//   - pipeline.Pipeline: the pipeline, or nil if not registered
	Pipeline(key string) pipeline.Pipeline

	// RegisterPipelines compiles and caches pipelines. Keys that are already registered are skipped.
	//
	// Parameters:
	//   - pipelines: the pipelines to register
	//
	// Returns:
	//   - error: an error wrapping ErrPipelineCreationFailed if any pipeline fails to compile
	RegisterPipelines(pipelines ...pipeline.Pipeline) error

	// InitBindGroup creates the buffers described by a bind group layout descriptor on a provider,
	// then the bind group over them. Buffer usage follows the binding type, ORed with any override.
	// Buffer size is the binding's MinBindingSize unless overridden.
	//
	// Parameters:
	//   - provider: the provider that receives the buffers and bind group
	//   - descriptor: the layout descriptor, normally parsed from a kernel
	//   - bufferUsageOverrides: extra usage flags keyed by binding index
	//   - bufferSizeOverrides: buffer sizes keyed by binding index
	//
	// Returns:
	//   - error: an error if any device object could not be created
	InitBindGroup(provider bind_group_provider.BindGroupProvider, descriptor wgpu.BindGroupLayoutDescriptor, bufferUsageOverrides map[int]wgpu.BufferUsage, bufferSizeOverrides map[int]uint64) error

	// WriteBuffers queues buffer writes. Queue writes land before the next submitted frame runs.
	//
	// Parameters:
	//   - writes: the writes to queue
	//
	// Returns:
	//   - error: an error wrapping ErrBufferNotFound if a write targets a missing buffer
	WriteBuffers(writes []bind_group_provider.BufferWrite) error

	// BeginComputeFrame opens the command stream of one frame. All dispatches and in-stream
	// writes until EndComputeFrame are submitted together.
	//
	// Returns:
	//   - error: an error if a frame is already open or the encoder could not be created
	BeginComputeFrame() error

	// EncodeBufferWrite records a buffer write into the open command stream, ordered with the
	// dispatches around it. Dispatches recorded after the write observe its data.
	//
	// Parameters:
	//   - write: the write to record
	//
	// Returns:
	//   - error: an error wrapping ErrNoComputeFrame if no frame is open
	EncodeBufferWrite(write bind_group_provider.BufferWrite) error

	// DispatchCompute records one compute pass into the open command stream. Each pass completes
	// before the next one starts, which is the only barrier between passes.
	//
	// Parameters:
	//   - pipelineKey: the key of a registered pipeline
	//   - bindGroups: the providers bound to groups 0..len-1 in order
	//   - workGroupCount: the number of workgroups to dispatch in x, y and z
	//
	// Returns:
	//   - error: an error if no frame is open, the pipeline is unknown, or the count exceeds the device limit
	DispatchCompute(pipelineKey string, bindGroups []bind_group_provider.BindGroupProvider, workGroupCount [3]uint32) error

	// EndComputeFrame submits the frame's command stream.
	//
	// Returns:
	//   - error: an error if the frame could not be submitted or, on the CPU device, a kernel failed
	EndComputeFrame() error

	// ReadBuffer copies a buffer to the host after all submitted work completes.
	//
	// Parameters:
	//   - ctx: bounds the wait; expiry yields ErrReadBackTimeout
	//   - provider: the provider holding the buffer
	//   - binding: the binding index of the buffer
	//   - size: the number of bytes to read from offset 0
	//
	// Returns:
	//   - []byte: the buffer contents
	//   - error: an error if the buffer is missing or the read-back fails or times out
	ReadBuffer(ctx context.Context, provider bind_group_provider.BindGroupProvider, binding int, size uint64) ([]byte, error)

	// Release releases every cached pipeline and the backend.
	Release()
}

var _ Device = &device{}

// NewDevice creates a Device on the selected backend with all options applied.
// Pipelines supplied with WithPipeline are registered before the device is returned.
//
// Parameters:
//   - backendType: the backend to run on
//   - options: functional options to configure the device
//
// Returns:
//   - Device: the ready device
//   - error: an error wrapping ErrDeviceUnavailable if no device could be acquired, or a pipeline error
func NewDevice(backendType BackendType, options ...DeviceBuilderOption) (Device, error) {
	d := &device{
		mu:              &sync.Mutex{},
		pipelineCache:   make(map[string]pipeline.Pipeline),
		backendType:     backendType,
		workers:         defaultWorkers(),
		uploadChunkSize: defaultUploadChunkSize,
	}
	for _, opt := range options {
		opt(d)
	}

	switch backendType {
	case BackendTypeCPU:
		d.backend = newCPUDeviceBackend(d.requestedLimits, d.workers)
	case BackendTypeWGPU:
		backend, err := newWGPUDeviceBackend(d.forceFallbackAdapter, d.requestedLimits, d.uploadChunkSize)
		if err != nil {
			return nil, err
		}
		d.backend = backend
	default:
		return nil, fmt.Errorf("%w: unknown backend %d", ErrDeviceUnavailable, backendType)
	}

	if err := d.RegisterPipelines(d.pendingPipelines...); err != nil {
		d.Release()
		return nil, err
	}
	d.pendingPipelines = nil
	return d, nil
}

func (d *device) Backend() BackendType {
	return d.backendType
}

func (d *device) Limits() Limits {
	return d.backend.Limits()
}

func (d *device) Pipeline(key string) pipeline.Pipeline {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.pipelineCache[key]
}

func (d *device) RegisterPipelines(pipelines ...pipeline.Pipeline) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, p := range pipelines {
		key := p.PipelineKey()
		if _, exists := d.pipelineCache[key]; exists {
			continue
		}
		if err := d.backend.RegisterComputePipeline(p); err != nil {
			return fmt.Errorf("%w: %s: %w", ErrPipelineCreationFailed, key, err)
		}
		d.pipelineCache[key] = p
	}
	return nil
}

func (d *device) InitBindGroup(provider bind_group_provider.BindGroupProvider, descriptor wgpu.BindGroupLayoutDescriptor, bufferUsageOverrides map[int]wgpu.BufferUsage, bufferSizeOverrides map[int]uint64) error {
	return d.backend.InitBindGroup(provider, descriptor, bufferUsageOverrides, bufferSizeOverrides)
}

func (d *device) WriteBuffers(writes []bind_group_provider.BufferWrite) error {
	return d.backend.WriteBuffers(writes)
}

func (d *device) BeginComputeFrame() error {
	return d.backend.BeginComputeFrame()
}

func (d *device) EncodeBufferWrite(write bind_group_provider.BufferWrite) error {
	return d.backend.EncodeBufferWrite(write)
}

func (d *device) DispatchCompute(pipelineKey string, bindGroups []bind_group_provider.BindGroupProvider, workGroupCount [3]uint32) error {
	d.mu.Lock()
	p, exists := d.pipelineCache[pipelineKey]
	d.mu.Unlock()

	if !exists {
		return fmt.Errorf("%w: %q", ErrPipelineNotFound, pipelineKey)
	}
	maxCount := d.backend.Limits().MaxComputeWorkgroupsPerDimension
	for _, c := range workGroupCount {
		if c > maxCount {
			return fmt.Errorf("%w: %v > %d", ErrDispatchLimitExceeded, workGroupCount, maxCount)
		}
	}
	return d.backend.DispatchCompute(p, bindGroups, workGroupCount)
}

func (d *device) EndComputeFrame() error {
	return d.backend.EndComputeFrame()
}

func (d *device) ReadBuffer(ctx context.Context, provider bind_group_provider.BindGroupProvider, binding int, size uint64) ([]byte, error) {
	return d.backend.ReadBuffer(ctx, provider, binding, size)
}

func (d *device) Release() {
	d.mu.Lock()
	defer d.mu.Unlock()
	for key, p := range d.pipelineCache {
		p.Release()
		delete(d.pipelineCache, key)
	}
	if d.backend != nil {
		d.backend.Release()
	}
}
