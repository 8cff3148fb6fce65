package device

import (
	"context"
	"fmt"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/Carmen-Shannon/oxy-sort/engine/device/bind_group_provider"
	"github.com/Carmen-Shannon/oxy-sort/engine/device/pipeline"
	"github.com/cogentcore/webgpu/wgpu"
)

// wgpuBuffer wraps a wgpu buffer as a bind_group_provider.Buffer.
type wgpuBuffer struct {
	buf   *wgpu.Buffer
	label string
	size  uint64
}

func (b *wgpuBuffer) Label() string { return b.label }
func (b *wgpuBuffer) Size() uint64  { return b.size }

func (b *wgpuBuffer) Release() {
	if b.buf != nil {
		b.buf.Release()
		b.buf = nil
	}
}

// uploadRing hands out fresh slots of copy-source chunks for in-stream writes. A slot is never
// reused within a frame, so every copy recorded in the frame sees its own data.
type uploadRing struct {
	chunkSize uint64
	chunks    []*wgpu.Buffer
	chunk     int
	offset    uint64

	// oversized holds one-off chunks for writes larger than chunkSize, released at frame end.
	oversized []*wgpu.Buffer
}

type wgpuDeviceBackendImpl struct {
	mu     *sync.Mutex
	device *wgpu.Device
	queue  *wgpu.Queue

	instance *wgpu.Instance
	adapter  *wgpu.Adapter

	limits Limits

	// Compute frame state for batching all compute dispatches into a single GPU submission
	computeFrameEncoder *wgpu.CommandEncoder

	uploads uploadRing
}

var _ deviceBackend = &wgpuDeviceBackendImpl{}

func newWGPUDeviceBackend(forceFallbackAdapter bool, requested Limits, uploadChunkSize uint64) (*wgpuDeviceBackendImpl, error) {
	w := &wgpuDeviceBackendImpl{
		mu:       &sync.Mutex{},
		instance: wgpu.CreateInstance(nil),
		uploads:  uploadRing{chunkSize: uploadChunkSize},
	}

	a, err := w.instance.RequestAdapter(&wgpu.RequestAdapterOptions{
		ForceFallbackAdapter: forceFallbackAdapter,
	})
	if err != nil {
		w.instance.Release()
		return nil, fmt.Errorf("%w: %w", ErrDeviceUnavailable, err)
	}
	w.adapter = a

	limits := wgpu.DefaultLimits()
	requested.applyTo(&limits)

	d, err := a.RequestDevice(&wgpu.DeviceDescriptor{
		Label: "Sort Device",
		RequiredLimits: &wgpu.RequiredLimits{
			Limits: limits,
		},
	})
	if err != nil {
		a.Release()
		w.instance.Release()
		return nil, fmt.Errorf("%w: %w", ErrDeviceUnavailable, err)
	}
	w.device = d
	w.queue = d.GetQueue()
	w.limits = limitsFromWGPU(d.GetLimits().Limits)

	log.Printf("[Device] wgpu device ready: fallback=%v workgroup=%d invocations=%d storage=%dB",
		forceFallbackAdapter, w.limits.MaxComputeWorkgroupSizeX, w.limits.MaxComputeInvocationsPerWorkgroup, w.limits.MaxComputeWorkgroupStorageSize)
	return w, nil
}

func (b *wgpuDeviceBackendImpl) Limits() Limits {
	return b.limits
}

func (b *wgpuDeviceBackendImpl) RegisterComputePipeline(p pipeline.Pipeline) error {
	computeShader := p.Shader()
	if computeShader == nil {
		return fmt.Errorf("pipeline %q has no compute shader", p.PipelineKey())
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	s, err := b.device.CreateShaderModule(computeShader.Module())
	if err != nil {
		return err
	}
	defer s.Release()

	descriptors := computeShader.BindGroupLayoutDescriptors()
	groups := make([]int, 0, len(descriptors))
	for g := range descriptors {
		groups = append(groups, g)
	}
	sort.Ints(groups)
	maxGroup := -1
	if len(groups) > 0 {
		maxGroup = groups[len(groups)-1]
	}

	bindGroupLayouts := make([]*wgpu.BindGroupLayout, maxGroup+1)
	defer func() {
		for _, bgl := range bindGroupLayouts {
			if bgl != nil {
				bgl.Release()
			}
		}
	}()
	for g := 0; g <= maxGroup; g++ {
		desc := descriptors[g]
		desc.Label = fmt.Sprintf("%s group %d", p.PipelineKey(), g)
		bgl, bglErr := b.device.CreateBindGroupLayout(&desc)
		if bglErr != nil {
			return fmt.Errorf("failed to create bind group layout for group %d: %w", g, bglErr)
		}
		bindGroupLayouts[g] = bgl
	}

	layout, err := b.device.CreatePipelineLayout(&wgpu.PipelineLayoutDescriptor{
		Label:            p.PipelineKey(),
		BindGroupLayouts: bindGroupLayouts,
	})
	if err != nil {
		return err
	}
	defer layout.Release()

	created, err := b.device.CreateComputePipeline(&wgpu.ComputePipelineDescriptor{
		Label:  p.PipelineKey() + " Compute Pipeline",
		Layout: layout,
		Compute: wgpu.ProgrammableStageDescriptor{
			Module:     s,
			EntryPoint: computeShader.EntryPoint(),
		},
	})
	if err != nil {
		return err
	}

	p.SetComputePipeline(created)
	return nil
}

func (b *wgpuDeviceBackendImpl) InitBindGroup(provider bind_group_provider.BindGroupProvider, descriptor wgpu.BindGroupLayoutDescriptor, bufferUsageOverrides map[int]wgpu.BufferUsage, bufferSizeOverrides map[int]uint64) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if len(descriptor.Entries) == 0 {
		return nil
	}

	var layout *wgpu.BindGroupLayout
	if existing, ok := provider.BindGroupLayout().(*wgpu.BindGroupLayout); ok && existing != nil {
		layout = existing
	} else {
		var err error
		layout, err = b.device.CreateBindGroupLayout(&descriptor)
		if err != nil {
			return err
		}
		provider.SetBindGroupLayout(layout)
	}

	bindGroupEntries := make([]wgpu.BindGroupEntry, len(descriptor.Entries))
	for i, entry := range descriptor.Entries {
		binding := int(entry.Binding)
		usage := bufferUsage(entry.Buffer.Type)
		if overrideUsage, ok := bufferUsageOverrides[binding]; ok {
			usage |= overrideUsage
		}

		buf, _ := provider.Buffer(binding).(*wgpuBuffer)
		if buf == nil {
			bufSize := entry.Buffer.MinBindingSize
			if overrideSize, ok := bufferSizeOverrides[binding]; ok {
				bufSize = overrideSize
			}
			if bufSize > b.limits.MaxStorageBufferBindingSize {
				return fmt.Errorf("%s binding %d: size %d exceeds max storage buffer binding size %d", provider.Label(), binding, bufSize, b.limits.MaxStorageBufferBindingSize)
			}
			label := fmt.Sprintf("%s Buffer %d", provider.Label(), binding)
			created, err := b.device.CreateBuffer(&wgpu.BufferDescriptor{
				Label: label,
				Size:  alignCopy(bufSize),
				Usage: usage,
			})
			if err != nil {
				return err
			}
			buf = &wgpuBuffer{buf: created, label: label, size: bufSize}
			provider.SetBuffer(binding, buf)
		}
		bindGroupEntries[i] = wgpu.BindGroupEntry{
			Binding: entry.Binding,
			Buffer:  buf.buf,
			Offset:  0,
			Size:    wgpu.WholeSize,
		}
	}

	bindGroup, err := b.device.CreateBindGroup(&wgpu.BindGroupDescriptor{
		Label:   provider.Label() + " Bind Group",
		Layout:  layout,
		Entries: bindGroupEntries,
	})
	if err != nil {
		return err
	}
	if old := provider.BindGroup(); old != nil {
		old.Release()
	}
	provider.SetDescriptor(descriptor)
	provider.SetBindGroup(bindGroup)
	return nil
}

func (b *wgpuDeviceBackendImpl) WriteBuffers(writes []bind_group_provider.BufferWrite) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, w := range writes {
		buf, err := wgpuBufferFor(w.Provider, w.Binding)
		if err != nil {
			return err
		}
		if err := checkWrite(buf.label, buf.size, w); err != nil {
			return err
		}
		if err := b.queue.WriteBuffer(buf.buf, w.Offset, padCopy(w.Data)); err != nil {
			return err
		}
	}
	return nil
}

func (b *wgpuDeviceBackendImpl) BeginComputeFrame() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.computeFrameEncoder != nil {
		return ErrComputeFrameActive
	}
	encoder, err := b.device.CreateCommandEncoder(nil)
	if err != nil {
		return err
	}
	b.computeFrameEncoder = encoder
	b.uploads.chunk = 0
	b.uploads.offset = 0
	return nil
}

// EncodeBufferWrite stages the data in a fresh upload slot through the queue, then records a
// copy from that slot into the target, so the write lands between the surrounding passes.
func (b *wgpuDeviceBackendImpl) EncodeBufferWrite(write bind_group_provider.BufferWrite) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.computeFrameEncoder == nil {
		return ErrNoComputeFrame
	}
	dst, err := wgpuBufferFor(write.Provider, write.Binding)
	if err != nil {
		return err
	}
	if err := checkWrite(dst.label, dst.size, write); err != nil {
		return err
	}

	data := padCopy(write.Data)
	size := uint64(len(data))
	src, srcOffset, err := b.uploadSlot(size)
	if err != nil {
		return err
	}
	if err := b.queue.WriteBuffer(src, srcOffset, data); err != nil {
		return err
	}
	b.computeFrameEncoder.CopyBufferToBuffer(src, srcOffset, dst.buf, write.Offset, size)
	return nil
}

// uploadSlot reserves size bytes of upload space for the current frame.
func (b *wgpuDeviceBackendImpl) uploadSlot(size uint64) (*wgpu.Buffer, uint64, error) {
	r := &b.uploads
	if size > r.chunkSize {
		buf, err := b.createUploadChunk(size)
		if err != nil {
			return nil, 0, err
		}
		r.oversized = append(r.oversized, buf)
		return buf, 0, nil
	}
	if r.chunk < len(r.chunks) && r.offset+size > r.chunkSize {
		r.chunk++
		r.offset = 0
	}
	if r.chunk == len(r.chunks) {
		buf, err := b.createUploadChunk(r.chunkSize)
		if err != nil {
			return nil, 0, err
		}
		r.chunks = append(r.chunks, buf)
	}
	offset := r.offset
	r.offset += size
	return r.chunks[r.chunk], offset, nil
}

func (b *wgpuDeviceBackendImpl) createUploadChunk(size uint64) (*wgpu.Buffer, error) {
	return b.device.CreateBuffer(&wgpu.BufferDescriptor{
		Label: "Upload Chunk",
		Size:  size,
		Usage: wgpu.BufferUsageCopySrc | wgpu.BufferUsageCopyDst,
	})
}

func (b *wgpuDeviceBackendImpl) DispatchCompute(p pipeline.Pipeline, bindGroups []bind_group_provider.BindGroupProvider, workGroupCount [3]uint32) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.computeFrameEncoder == nil {
		return ErrNoComputeFrame
	}
	computePipeline, ok := p.Pipeline().(*wgpu.ComputePipeline)
	if !ok {
		return fmt.Errorf("%w: %q was not compiled on the wgpu device", ErrPipelineNotFound, p.PipelineKey())
	}

	pass := b.computeFrameEncoder.BeginComputePass(nil)
	pass.SetPipeline(computePipeline)
	for g, provider := range bindGroups {
		bindGroup, ok := provider.BindGroup().(*wgpu.BindGroup)
		if !ok || bindGroup == nil {
			pass.End()
			return fmt.Errorf("%s: bind group not initialised on the wgpu device", provider.Label())
		}
		pass.SetBindGroup(uint32(g), bindGroup, nil)
	}
	pass.DispatchWorkgroups(workGroupCount[0], workGroupCount[1], workGroupCount[2])
	pass.End()
	return nil
}

func (b *wgpuDeviceBackendImpl) EndComputeFrame() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.computeFrameEncoder == nil {
		return ErrNoComputeFrame
	}
	defer b.releaseOversizedUploads()

	commandBuffer, err := b.computeFrameEncoder.Finish(nil)
	b.computeFrameEncoder.Release()
	b.computeFrameEncoder = nil
	if err != nil {
		return err
	}

	b.queue.Submit(commandBuffer)
	commandBuffer.Release()
	return nil
}

func (b *wgpuDeviceBackendImpl) releaseOversizedUploads() {
	for _, buf := range b.uploads.oversized {
		buf.Release()
	}
	b.uploads.oversized = b.uploads.oversized[:0]
}

func (b *wgpuDeviceBackendImpl) ReadBuffer(ctx context.Context, provider bind_group_provider.BindGroupProvider, binding int, size uint64) ([]byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	src, err := wgpuBufferFor(provider, binding)
	if err != nil {
		return nil, err
	}
	if size > src.size {
		return nil, fmt.Errorf("%s: read of %d bytes exceeds buffer size %d", src.label, size, src.size)
	}
	if size == 0 {
		return []byte{}, nil
	}
	copySize := alignCopy(size)

	staging, err := b.device.CreateBuffer(&wgpu.BufferDescriptor{
		Label: src.label + " Staging",
		Size:  copySize,
		Usage: wgpu.BufferUsageMapRead | wgpu.BufferUsageCopyDst,
	})
	if err != nil {
		return nil, err
	}
	defer staging.Release()

	encoder, err := b.device.CreateCommandEncoder(nil)
	if err != nil {
		return nil, err
	}
	encoder.CopyBufferToBuffer(src.buf, 0, staging, 0, copySize)
	commandBuffer, err := encoder.Finish(nil)
	encoder.Release()
	if err != nil {
		return nil, err
	}
	b.queue.Submit(commandBuffer)
	commandBuffer.Release()

	done := make(chan wgpu.BufferMapAsyncStatus, 1)
	if err := staging.MapAsync(wgpu.MapModeRead, 0, copySize, func(s wgpu.BufferMapAsyncStatus) {
		done <- s
	}); err != nil {
		return nil, err
	}

	for {
		select {
		case status := <-done:
			if status != wgpu.BufferMapAsyncStatusSuccess {
				return nil, fmt.Errorf("%s: buffer map failed with status %d", src.label, status)
			}
			mapped := staging.GetMappedRange(0, uint(copySize))
			out := make([]byte, size)
			copy(out, mapped)
			staging.Unmap()
			return out, nil
		case <-ctx.Done():
			return nil, fmt.Errorf("%w: %w", ErrReadBackTimeout, ctx.Err())
		default:
			b.device.Poll(false, nil)
			time.Sleep(50 * time.Microsecond)
		}
	}
}

func (b *wgpuDeviceBackendImpl) Release() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.computeFrameEncoder != nil {
		b.computeFrameEncoder.Release()
		b.computeFrameEncoder = nil
	}
	for _, buf := range b.uploads.chunks {
		buf.Release()
	}
	b.uploads.chunks = nil
	b.releaseOversizedUploads()
	if b.queue != nil {
		b.queue.Release()
	}
	if b.device != nil {
		b.device.Release()
	}
	if b.adapter != nil {
		b.adapter.Release()
	}
	if b.instance != nil {
		b.instance.Release()
	}
}

func wgpuBufferFor(provider bind_group_provider.BindGroupProvider, binding int) (*wgpuBuffer, error) {
	if provider == nil {
		return nil, fmt.Errorf("%w: nil provider", ErrBufferNotFound)
	}
	buf, ok := provider.Buffer(binding).(*wgpuBuffer)
	if !ok || buf == nil || buf.buf == nil {
		return nil, fmt.Errorf("%w: %s binding %d", ErrBufferNotFound, provider.Label(), binding)
	}
	return buf, nil
}

// padCopy returns data padded with zeros to the 4-byte granularity of buffer writes and copies.
func padCopy(data []byte) []byte {
	if len(data)%4 == 0 {
		return data
	}
	padded := make([]byte, alignCopy(uint64(len(data))))
	copy(padded, data)
	return padded
}
