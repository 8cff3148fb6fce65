package device

import (
	"runtime"

	"github.com/Carmen-Shannon/oxy-sort/engine/device/pipeline"
)

// defaultUploadChunkSize is the size of each chunk of the in-stream upload ring.
const defaultUploadChunkSize uint64 = 64 * 1024

// maxWorkers caps the CPU device's worker pool so one dispatch never queues more tasks than the pool holds.
const maxWorkers = 64

func defaultWorkers() int {
	return max(runtime.NumCPU()-1, 1)
}

// DeviceBuilderOption is a functional option for configuring a Device.
type DeviceBuilderOption func(*device)

// WithForceFallbackAdapter requests the software fallback adapter on the wgpu backend.
//
// Parameters:
//   - force: true to force the fallback adapter
//
// Returns:
//   - DeviceBuilderOption: a function that applies the setting
func WithForceFallbackAdapter(force bool) DeviceBuilderOption {
	return func(d *device) {
		d.forceFallbackAdapter = force
	}
}

// WithWorkers sets the number of workers the CPU device runs workgroups on.
// Values are clamped to [1, 64].
//
// Parameters:
//   - n: the worker count
//
// Returns:
//   - DeviceBuilderOption: a function that applies the worker count
func WithWorkers(n int) DeviceBuilderOption {
	return func(d *device) {
		d.workers = min(max(n, 1), maxWorkers)
	}
}

// WithLimits overrides device limits. Zero fields keep the default. On the wgpu backend the
// values are requested from the adapter; on the CPU backend they are the emulated limits.
//
// Parameters:
//   - limits: the limits to request
//
// Returns:
//   - DeviceBuilderOption: a function that applies the limits
func WithLimits(limits Limits) DeviceBuilderOption {
	return func(d *device) {
		d.requestedLimits = limits
	}
}

// WithUploadChunkSize sets the chunk size of the wgpu backend's in-stream upload ring.
//
// Parameters:
//   - size: the chunk size in bytes, rounded up to a multiple of 4
//
// Returns:
//   - DeviceBuilderOption: a function that applies the chunk size
func WithUploadChunkSize(size uint64) DeviceBuilderOption {
	return func(d *device) {
		if size > 0 {
			d.uploadChunkSize = alignCopy(size)
		}
	}
}

// WithPipeline registers a pipeline when the device is created.
//
// Parameters:
//   - p: the pipeline to register
//
// Returns:
//   - DeviceBuilderOption: a function that queues the pipeline for registration
func WithPipeline(p pipeline.Pipeline) DeviceBuilderOption {
	return func(d *device) {
		d.pendingPipelines = append(d.pendingPipelines, p)
	}
}

// alignCopy rounds a size up to the 4-byte granularity of buffer copies.
func alignCopy(size uint64) uint64 {
	return (size + 3) &^ 3
}
