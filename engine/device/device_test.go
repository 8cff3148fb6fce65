package device

import (
	"context"
	"encoding/binary"
	"errors"
	"runtime"
	"testing"
	"time"

	"github.com/Carmen-Shannon/oxy-sort/engine/device/bind_group_provider"
	"github.com/Carmen-Shannon/oxy-sort/engine/device/pipeline"
	"github.com/Carmen-Shannon/oxy-sort/engine/device/shader"
	"github.com/cogentcore/webgpu/wgpu"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const affineSource = `
struct Params {
    value: u32,
    count: u32,
    pad0: u32,
    pad1: u32,
};

@group(0) @binding(0) var<storage, read_write> data: array<u32>;
@group(1) @binding(0) var<uniform> params: Params;

@compute @workgroup_size(4)
fn affine_main(@builtin(global_invocation_id) id: vec3<u32>) {
    if (id.x >= params.count) {
        return;
    }
    data[id.x] = data[id.x] * 2u + params.value;
}
`

// affineKernel mirrors affineSource: data[i] = data[i]*2 + value for every i < count.
func affineKernel(wg *pipeline.Workgroup) error {
	data := wg.Binding(0, 0)
	params := wg.Binding(1, 0)
	value := binary.LittleEndian.Uint32(params[0:])
	count := binary.LittleEndian.Uint32(params[4:])
	for l := uint32(0); l < wg.Invocations(); l++ {
		i := wg.GlobalID([3]uint32{l, 0, 0})[0]
		if i >= count {
			continue
		}
		v := binary.LittleEndian.Uint32(data[i*4:])
		binary.LittleEndian.PutUint32(data[i*4:], v*2+value)
	}
	return nil
}

func paramsBytes(value, count uint32) []byte {
	b := make([]byte, 16)
	binary.LittleEndian.PutUint32(b[0:], value)
	binary.LittleEndian.PutUint32(b[4:], count)
	return b
}

func u32s(b []byte) []uint32 {
	out := make([]uint32, len(b)/4)
	for i := range out {
		out[i] = binary.LittleEndian.Uint32(b[i*4:])
	}
	return out
}

type affineFixture struct {
	dev    Device
	data   bind_group_provider.BindGroupProvider
	params bind_group_provider.BindGroupProvider
}

func newAffineFixture(t *testing.T, elements uint64, opts ...DeviceBuilderOption) *affineFixture {
	t.Helper()
	s, err := shader.NewShader("affine", affineSource)
	require.NoError(t, err)

	p := pipeline.NewPipeline("affine", pipeline.WithComputeShader(s), pipeline.WithHostKernel(affineKernel))
	dev, err := NewDevice(BackendTypeCPU, append([]DeviceBuilderOption{WithWorkers(3), WithPipeline(p)}, opts...)...)
	require.NoError(t, err)
	t.Cleanup(dev.Release)

	f := &affineFixture{
		dev:    dev,
		data:   bind_group_provider.NewBindGroupProvider("Affine Data"),
		params: bind_group_provider.NewBindGroupProvider("Affine Params"),
	}
	require.NoError(t, dev.InitBindGroup(f.data, s.BindGroupLayoutDescriptor(0), map[int]wgpu.BufferUsage{0: wgpu.BufferUsageCopySrc}, map[int]uint64{0: elements * 4}))
	require.NoError(t, dev.InitBindGroup(f.params, s.BindGroupLayoutDescriptor(1), nil, nil))
	return f
}

func (f *affineFixture) groups() []bind_group_provider.BindGroupProvider {
	return []bind_group_provider.BindGroupProvider{f.data, f.params}
}

func TestNewDevice_CPU(t *testing.T) {
	dev, err := NewDevice(BackendTypeCPU, WithWorkers(2))
	require.NoError(t, err)
	defer dev.Release()

	assert.Equal(t, BackendTypeCPU, dev.Backend())
	assert.Equal(t, "cpu", dev.Backend().String())
	assert.Equal(t, DefaultLimits(), dev.Limits())
	assert.Nil(t, dev.Pipeline("missing"))
}

func TestNewDevice_UnknownBackend(t *testing.T) {
	_, err := NewDevice(BackendType(42))
	assert.ErrorIs(t, err, ErrDeviceUnavailable)
}

func TestWithLimits_OverridesOnlyNonZeroFields(t *testing.T) {
	dev, err := NewDevice(BackendTypeCPU, WithLimits(Limits{MaxComputeWorkgroupsPerDimension: 8}))
	require.NoError(t, err)
	defer dev.Release()

	limits := dev.Limits()
	assert.Equal(t, uint32(8), limits.MaxComputeWorkgroupsPerDimension)
	assert.Equal(t, DefaultLimits().MaxComputeWorkgroupSizeX, limits.MaxComputeWorkgroupSizeX)
	assert.Equal(t, DefaultLimits().MaxStorageBufferBindingSize, limits.MaxStorageBufferBindingSize)
}

func TestInitBindGroup_SizesBuffersFromLayout(t *testing.T) {
	f := newAffineFixture(t, 10)

	require.NotNil(t, f.data.Buffer(0))
	assert.Equal(t, uint64(40), f.data.Buffer(0).Size())
	assert.Equal(t, "Affine Data Buffer 0", f.data.Buffer(0).Label())
	require.NotNil(t, f.params.Buffer(0))
	assert.Equal(t, uint64(16), f.params.Buffer(0).Size())
	assert.NotNil(t, f.data.BindGroup())
	assert.NotNil(t, f.data.BindGroupLayout())
	assert.Len(t, f.data.Descriptor().Entries, 1)
}

func TestInitBindGroup_RejectsOversizeBuffer(t *testing.T) {
	s, err := shader.NewShader("affine", affineSource)
	require.NoError(t, err)
	dev, err := NewDevice(BackendTypeCPU, WithLimits(Limits{MaxStorageBufferBindingSize: 64}))
	require.NoError(t, err)
	defer dev.Release()

	p := bind_group_provider.NewBindGroupProvider("Too Big")
	err = dev.InitBindGroup(p, s.BindGroupLayoutDescriptor(0), nil, map[int]uint64{0: 128})
	assert.Error(t, err)
}

func TestDispatch_RunsEveryInvocation(t *testing.T) {
	f := newAffineFixture(t, 10)
	require.NoError(t, f.dev.WriteBuffers([]bind_group_provider.BufferWrite{
		{Provider: f.params, Binding: 0, Data: paramsBytes(7, 10)},
	}))

	require.NoError(t, f.dev.BeginComputeFrame())
	require.NoError(t, f.dev.DispatchCompute("affine", f.groups(), [3]uint32{3, 1, 1}))
	require.NoError(t, f.dev.EndComputeFrame())

	out, err := f.dev.ReadBuffer(context.Background(), f.data, 0, 40)
	require.NoError(t, err)
	for i, v := range u32s(out) {
		assert.Equal(t, uint32(7), v, "element %d", i)
	}
}

func TestEncodeBufferWrite_OrderedWithDispatches(t *testing.T) {
	f := newAffineFixture(t, 4)

	require.NoError(t, f.dev.BeginComputeFrame())
	require.NoError(t, f.dev.EncodeBufferWrite(bind_group_provider.BufferWrite{Provider: f.params, Binding: 0, Data: paramsBytes(1, 4)}))
	require.NoError(t, f.dev.DispatchCompute("affine", f.groups(), [3]uint32{1, 1, 1}))
	require.NoError(t, f.dev.EncodeBufferWrite(bind_group_provider.BufferWrite{Provider: f.params, Binding: 0, Data: paramsBytes(3, 4)}))
	require.NoError(t, f.dev.DispatchCompute("affine", f.groups(), [3]uint32{1, 1, 1}))
	require.NoError(t, f.dev.EndComputeFrame())

	// 0 -> 0*2+1 = 1 -> 1*2+3 = 5. Both writes landing first would give 9.
	out, err := f.dev.ReadBuffer(context.Background(), f.data, 0, 16)
	require.NoError(t, err)
	assert.Equal(t, []uint32{5, 5, 5, 5}, u32s(out))
}

func TestEncodeBufferWrite_CopiesData(t *testing.T) {
	f := newAffineFixture(t, 4)

	data := paramsBytes(2, 4)
	require.NoError(t, f.dev.BeginComputeFrame())
	require.NoError(t, f.dev.EncodeBufferWrite(bind_group_provider.BufferWrite{Provider: f.params, Binding: 0, Data: data}))
	binary.LittleEndian.PutUint32(data, 100)
	require.NoError(t, f.dev.DispatchCompute("affine", f.groups(), [3]uint32{1, 1, 1}))
	require.NoError(t, f.dev.EndComputeFrame())

	out, err := f.dev.ReadBuffer(context.Background(), f.data, 0, 16)
	require.NoError(t, err)
	assert.Equal(t, []uint32{2, 2, 2, 2}, u32s(out))
}

func TestFrameErrors(t *testing.T) {
	f := newAffineFixture(t, 4)

	assert.ErrorIs(t, f.dev.DispatchCompute("affine", f.groups(), [3]uint32{1, 1, 1}), ErrNoComputeFrame)
	assert.ErrorIs(t, f.dev.EncodeBufferWrite(bind_group_provider.BufferWrite{Provider: f.params, Binding: 0, Data: paramsBytes(1, 1)}), ErrNoComputeFrame)
	assert.ErrorIs(t, f.dev.EndComputeFrame(), ErrNoComputeFrame)

	require.NoError(t, f.dev.BeginComputeFrame())
	assert.ErrorIs(t, f.dev.BeginComputeFrame(), ErrComputeFrameActive)
	assert.ErrorIs(t, f.dev.DispatchCompute("missing", f.groups(), [3]uint32{1, 1, 1}), ErrPipelineNotFound)
	require.NoError(t, f.dev.EndComputeFrame())
}

func TestDispatch_LimitExceeded(t *testing.T) {
	f := newAffineFixture(t, 4, WithLimits(Limits{MaxComputeWorkgroupsPerDimension: 8}))

	require.NoError(t, f.dev.BeginComputeFrame())
	assert.ErrorIs(t, f.dev.DispatchCompute("affine", f.groups(), [3]uint32{9, 1, 1}), ErrDispatchLimitExceeded)
	assert.NoError(t, f.dev.DispatchCompute("affine", f.groups(), [3]uint32{8, 1, 1}))
	require.NoError(t, f.dev.EndComputeFrame())
}

func TestWriteBuffers_Errors(t *testing.T) {
	f := newAffineFixture(t, 4)

	err := f.dev.WriteBuffers([]bind_group_provider.BufferWrite{{Provider: f.params, Binding: 0, Offset: 8, Data: paramsBytes(1, 1)}})
	assert.Error(t, err)

	empty := bind_group_provider.NewBindGroupProvider("Empty")
	err = f.dev.WriteBuffers([]bind_group_provider.BufferWrite{{Provider: empty, Binding: 0, Data: []byte{1, 2, 3, 4}}})
	assert.ErrorIs(t, err, ErrBufferNotFound)
}

func TestReadBuffer_Errors(t *testing.T) {
	f := newAffineFixture(t, 4)

	_, err := f.dev.ReadBuffer(context.Background(), f.data, 0, 17)
	assert.Error(t, err)

	_, err = f.dev.ReadBuffer(context.Background(), f.data, 3, 4)
	assert.ErrorIs(t, err, ErrBufferNotFound)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = f.dev.ReadBuffer(ctx, f.data, 0, 16)
	assert.ErrorIs(t, err, ErrReadBackTimeout)
}

func TestKernelFailure(t *testing.T) {
	errBoom := errors.New("boom")
	failing := pipeline.NewPipeline("failing", pipeline.WithHostKernel(func(*pipeline.Workgroup) error {
		return errBoom
	}))
	panicking := pipeline.NewPipeline("panicking", pipeline.WithHostKernel(func(*pipeline.Workgroup) error {
		panic("index out of range")
	}))

	dev, err := NewDevice(BackendTypeCPU, WithWorkers(2), WithPipeline(failing), WithPipeline(panicking))
	require.NoError(t, err)
	defer dev.Release()

	require.NoError(t, dev.BeginComputeFrame())
	require.NoError(t, dev.DispatchCompute("failing", nil, [3]uint32{4, 1, 1}))
	err = dev.EndComputeFrame()
	assert.ErrorIs(t, err, ErrKernelFailed)
	assert.ErrorIs(t, err, errBoom)

	require.NoError(t, dev.BeginComputeFrame())
	require.NoError(t, dev.DispatchCompute("panicking", nil, [3]uint32{2, 1, 1}))
	assert.ErrorIs(t, dev.EndComputeFrame(), ErrKernelFailed)
}

func TestRegisterPipelines(t *testing.T) {
	dev, err := NewDevice(BackendTypeCPU)
	require.NoError(t, err)
	defer dev.Release()

	err = dev.RegisterPipelines(pipeline.NewPipeline("no-kernel"))
	assert.ErrorIs(t, err, ErrPipelineCreationFailed)
	assert.Nil(t, dev.Pipeline("no-kernel"))

	first := pipeline.NewPipeline("k", pipeline.WithHostKernel(affineKernel))
	second := pipeline.NewPipeline("k")
	require.NoError(t, dev.RegisterPipelines(first))
	require.NoError(t, dev.RegisterPipelines(second))
	assert.Same(t, first, dev.Pipeline("k"))
}

func TestRegisterPipelines_WorkgroupTooLarge(t *testing.T) {
	s, err := shader.NewShader("affine", affineSource)
	require.NoError(t, err)
	p := pipeline.NewPipeline("affine", pipeline.WithComputeShader(s), pipeline.WithHostKernel(affineKernel))

	_, err = NewDevice(BackendTypeCPU, WithLimits(Limits{MaxComputeWorkgroupSizeX: 2}), WithPipeline(p))
	assert.ErrorIs(t, err, ErrPipelineCreationFailed)
}

func TestAlignCopy(t *testing.T) {
	assert.Equal(t, uint64(0), alignCopy(0))
	assert.Equal(t, uint64(4), alignCopy(1))
	assert.Equal(t, uint64(12), alignCopy(12))
	assert.Equal(t, uint64(16), alignCopy(13))
	assert.Len(t, padCopy([]byte{1, 2, 3, 4, 5}), 8)
}

func TestParseBackendType(t *testing.T) {
	b, err := ParseBackendType("CPU")
	require.NoError(t, err)
	assert.Equal(t, BackendTypeCPU, b)

	b, err = ParseBackendType(" wgpu ")
	require.NoError(t, err)
	assert.Equal(t, BackendTypeWGPU, b)
	assert.Equal(t, "wgpu", b.String())

	_, err = ParseBackendType("vulkan")
	assert.Error(t, err)
}

func TestRelease_StopsWorkers(t *testing.T) {
	before := runtime.NumGoroutine()

	for range 10 {
		dev, err := NewDevice(BackendTypeCPU, WithWorkers(8))
		require.NoError(t, err)
		dev.Release()
		dev.Release()
	}

	require.Eventually(t, func() bool {
		return runtime.NumGoroutine() <= before
	}, 5*time.Second, 10*time.Millisecond)
}

func TestRelease_RejectsNewFrames(t *testing.T) {
	f := newAffineFixture(t, 8)
	f.dev.Release()

	assert.ErrorIs(t, f.dev.BeginComputeFrame(), ErrDeviceUnavailable)
	assert.ErrorIs(t, f.dev.DispatchCompute("affine", f.groups(), [3]uint32{1, 1, 1}), ErrPipelineNotFound)
}

func TestDefaultLimits_AreWebGPUDefaults(t *testing.T) {
	limits := DefaultLimits()
	assert.Equal(t, uint32(256), limits.MaxComputeWorkgroupSizeX)
	assert.Equal(t, uint32(256), limits.MaxComputeInvocationsPerWorkgroup)
	assert.Equal(t, uint32(65535), limits.MaxComputeWorkgroupsPerDimension)
	assert.Equal(t, uint32(16384), limits.MaxComputeWorkgroupStorageSize)
	assert.Equal(t, uint64(128<<20), limits.MaxStorageBufferBindingSize)

	assert.Equal(t, limits, limitsFromWGPU(wgpu.DefaultLimits()))

	adapter := wgpu.DefaultLimits()
	adapter.MaxComputeWorkgroupSizeX = 1024
	adapter.MaxStorageBufferBindingSize = 1 << 30
	got := limitsFromWGPU(adapter)
	assert.Equal(t, uint32(1024), got.MaxComputeWorkgroupSizeX)
	assert.Equal(t, uint64(1<<30), got.MaxStorageBufferBindingSize)
	assert.Equal(t, uint32(65535), got.MaxComputeWorkgroupsPerDimension)
}
