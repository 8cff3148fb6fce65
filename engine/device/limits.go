package device

import "github.com/cogentcore/webgpu/wgpu"

// Limits are the device limits that bound how compute work may be shaped.
type Limits struct {
	MaxComputeWorkgroupSizeX          uint32
	MaxComputeInvocationsPerWorkgroup uint32
	MaxComputeWorkgroupsPerDimension  uint32
	MaxComputeWorkgroupStorageSize    uint32
	MaxStorageBufferBindingSize       uint64
}

// DefaultLimits returns the WebGPU default limits every conforming adapter supports.
//
// Reference: https://www.w3.org/TR/webgpu/#limits
//
// Returns:
//   - Limits: the default limits
func DefaultLimits() Limits {
	return Limits{
		MaxComputeWorkgroupSizeX:          256,
		MaxComputeInvocationsPerWorkgroup: 256,
		MaxComputeWorkgroupsPerDimension:  65535,
		MaxComputeWorkgroupStorageSize:    16384,
		MaxStorageBufferBindingSize:       128 << 20,
	}
}

// limitsFromWGPU converts wgpu limits, replacing undefined values with the WebGPU defaults.
// wgpu.DefaultLimits() leaves every field undefined.
func limitsFromWGPU(l wgpu.Limits) Limits {
	defaults := DefaultLimits()
	u32 := func(v, fallback uint32) uint32 {
		if v == wgpu.LimitU32Undefined || v == 0 {
			return fallback
		}
		return v
	}
	size := l.MaxStorageBufferBindingSize
	if size == wgpu.LimitU64Undefined || size == 0 {
		size = defaults.MaxStorageBufferBindingSize
	}
	return Limits{
		MaxComputeWorkgroupSizeX:          u32(l.MaxComputeWorkgroupSizeX, defaults.MaxComputeWorkgroupSizeX),
		MaxComputeInvocationsPerWorkgroup: u32(l.MaxComputeInvocationsPerWorkgroup, defaults.MaxComputeInvocationsPerWorkgroup),
		MaxComputeWorkgroupsPerDimension:  u32(l.MaxComputeWorkgroupsPerDimension, defaults.MaxComputeWorkgroupsPerDimension),
		MaxComputeWorkgroupStorageSize:    u32(l.MaxComputeWorkgroupStorageSize, defaults.MaxComputeWorkgroupStorageSize),
		MaxStorageBufferBindingSize:       size,
	}
}

// applyTo raises the compute limits of a wgpu limit set to the non-zero values of l.
func (l Limits) applyTo(w *wgpu.Limits) {
	if l.MaxComputeWorkgroupSizeX != 0 {
		w.MaxComputeWorkgroupSizeX = l.MaxComputeWorkgroupSizeX
	}
	if l.MaxComputeInvocationsPerWorkgroup != 0 {
		w.MaxComputeInvocationsPerWorkgroup = l.MaxComputeInvocationsPerWorkgroup
	}
	if l.MaxComputeWorkgroupsPerDimension != 0 {
		w.MaxComputeWorkgroupsPerDimension = l.MaxComputeWorkgroupsPerDimension
	}
	if l.MaxComputeWorkgroupStorageSize != 0 {
		w.MaxComputeWorkgroupStorageSize = l.MaxComputeWorkgroupStorageSize
	}
	if l.MaxStorageBufferBindingSize != 0 {
		w.MaxStorageBufferBindingSize = l.MaxStorageBufferBindingSize
	}
}

// merge returns l with every zero field filled from fallback.
func (l Limits) merge(fallback Limits) Limits {
	if l.MaxComputeWorkgroupSizeX == 0 {
		l.MaxComputeWorkgroupSizeX = fallback.MaxComputeWorkgroupSizeX
	}
	if l.MaxComputeInvocationsPerWorkgroup == 0 {
		l.MaxComputeInvocationsPerWorkgroup = fallback.MaxComputeInvocationsPerWorkgroup
	}
	if l.MaxComputeWorkgroupsPerDimension == 0 {
		l.MaxComputeWorkgroupsPerDimension = fallback.MaxComputeWorkgroupsPerDimension
	}
	if l.MaxComputeWorkgroupStorageSize == 0 {
		l.MaxComputeWorkgroupStorageSize = fallback.MaxComputeWorkgroupStorageSize
	}
	if l.MaxStorageBufferBindingSize == 0 {
		l.MaxStorageBufferBindingSize = fallback.MaxStorageBufferBindingSize
	}
	return l
}
