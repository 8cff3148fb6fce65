package device

import "errors"

var (
	// ErrDeviceUnavailable is returned when no adapter or device can be acquired.
	ErrDeviceUnavailable = errors.New("device: compute device unavailable")

	// ErrPipelineCreationFailed is returned when a kernel cannot be compiled into a pipeline.
	ErrPipelineCreationFailed = errors.New("device: pipeline creation failed")

	// ErrPipelineNotFound is returned when a dispatch names a pipeline that was never registered.
	ErrPipelineNotFound = errors.New("device: pipeline not found")

	// ErrNoComputeFrame is returned when work is encoded outside BeginComputeFrame/EndComputeFrame.
	ErrNoComputeFrame = errors.New("device: no compute frame in progress")

	// ErrComputeFrameActive is returned when a compute frame is begun while another is open.
	ErrComputeFrameActive = errors.New("device: compute frame already in progress")

	// ErrDispatchLimitExceeded is returned when a dispatch exceeds the device's workgroup count limit.
	ErrDispatchLimitExceeded = errors.New("device: dispatch exceeds workgroup count limit")

	// ErrBufferNotFound is returned when a write or read targets a binding without a buffer.
	ErrBufferNotFound = errors.New("device: buffer not found")

	// ErrReadBackTimeout is returned when a read-back does not complete before its context ends.
	ErrReadBackTimeout = errors.New("device: read-back timed out")

	// ErrKernelFailed is returned when a host kernel fails or panics on the CPU device.
	ErrKernelFailed = errors.New("device: kernel failed")
)
