package device

import (
	"context"
	"fmt"
	"log"
	"runtime"
	"sync"
	"time"

	"github.com/Carmen-Shannon/automation/tools/worker"
	"github.com/Carmen-Shannon/oxy-sort/engine/device/bind_group_provider"
	"github.com/Carmen-Shannon/oxy-sort/engine/device/pipeline"
	"github.com/cogentcore/webgpu/wgpu"
)

// cpuBuffer is a host-memory buffer of the CPU device.
type cpuBuffer struct {
	label string
	data  []byte
	usage wgpu.BufferUsage
}

func (b *cpuBuffer) Label() string { return b.label }
func (b *cpuBuffer) Size() uint64  { return uint64(len(b.data)) }
func (b *cpuBuffer) Release()      { b.data = nil }

// cpuBindGroup records which buffers a bind group binds.
type cpuBindGroup struct {
	buffers map[int]*cpuBuffer
}

func (g *cpuBindGroup) Release() { g.buffers = nil }

type cpuBindGroupLayout struct{}

func (cpuBindGroupLayout) Release() {}

// cpuCommand is one recorded entry of a frame's command stream: either a write or a dispatch.
type cpuCommand struct {
	write *cpuWrite

	kernel   pipeline.HostKernel
	size     [3]uint32
	count    [3]uint32
	bindings map[int]map[int][]byte
	label    string
}

type cpuWrite struct {
	dst    *cpuBuffer
	offset uint64
	data   []byte
}

type cpuDeviceBackendImpl struct {
	mu      *sync.Mutex
	limits  Limits
	workers int
	pool    worker.DynamicWorkerPool

	released bool
	inFrame  bool
	commands []cpuCommand
}

var _ deviceBackend = &cpuDeviceBackendImpl{}

func newCPUDeviceBackend(requested Limits, workers int) *cpuDeviceBackendImpl {
	c := &cpuDeviceBackendImpl{
		mu:      &sync.Mutex{},
		limits:  requested.merge(DefaultLimits()),
		workers: workers,
		pool:    worker.NewDynamicWorkerPool(workers, 256, 1*time.Second),
	}
	log.Printf("[Device] cpu device ready: %d workers", workers)
	return c
}

func (c *cpuDeviceBackendImpl) Limits() Limits {
	return c.limits
}

func (c *cpuDeviceBackendImpl) RegisterComputePipeline(p pipeline.Pipeline) error {
	if p.HostKernel() == nil {
		return fmt.Errorf("pipeline %q has no host kernel for the cpu device", p.PipelineKey())
	}
	if s := p.Shader(); s != nil {
		size := s.WorkgroupSize()
		if size[0] > c.limits.MaxComputeWorkgroupSizeX || size[0]*size[1]*size[2] > c.limits.MaxComputeInvocationsPerWorkgroup {
			return fmt.Errorf("pipeline %q workgroup size %v exceeds device limits", p.PipelineKey(), size)
		}
	}
	return nil
}

func (c *cpuDeviceBackendImpl) InitBindGroup(provider bind_group_provider.BindGroupProvider, descriptor wgpu.BindGroupLayoutDescriptor, bufferUsageOverrides map[int]wgpu.BufferUsage, bufferSizeOverrides map[int]uint64) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(descriptor.Entries) == 0 {
		return nil
	}
	if provider.BindGroupLayout() == nil {
		provider.SetBindGroupLayout(cpuBindGroupLayout{})
	}

	group := &cpuBindGroup{buffers: make(map[int]*cpuBuffer, len(descriptor.Entries))}
	for _, entry := range descriptor.Entries {
		binding := int(entry.Binding)
		usage := bufferUsage(entry.Buffer.Type) | bufferUsageOverrides[binding]

		existing := provider.Buffer(binding)
		if existing == nil {
			size := entry.Buffer.MinBindingSize
			if overrideSize, ok := bufferSizeOverrides[binding]; ok {
				size = overrideSize
			}
			if size > c.limits.MaxStorageBufferBindingSize {
				return fmt.Errorf("%s binding %d: size %d exceeds max storage buffer binding size %d", provider.Label(), binding, size, c.limits.MaxStorageBufferBindingSize)
			}
			existing = &cpuBuffer{
				label: fmt.Sprintf("%s Buffer %d", provider.Label(), binding),
				data:  make([]byte, size),
				usage: usage,
			}
			provider.SetBuffer(binding, existing)
		}
		buf, ok := existing.(*cpuBuffer)
		if !ok {
			return fmt.Errorf("%s binding %d: buffer was not created by the cpu device", provider.Label(), binding)
		}
		group.buffers[binding] = buf
	}

	if old := provider.BindGroup(); old != nil {
		old.Release()
	}
	provider.SetDescriptor(descriptor)
	provider.SetBindGroup(group)
	return nil
}

func (c *cpuDeviceBackendImpl) WriteBuffers(writes []bind_group_provider.BufferWrite) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, w := range writes {
		buf, err := cpuBufferFor(w.Provider, w.Binding)
		if err != nil {
			return err
		}
		if err := checkWrite(buf.Label(), buf.Size(), w); err != nil {
			return err
		}
		copy(buf.data[w.Offset:], w.Data)
	}
	return nil
}

func (c *cpuDeviceBackendImpl) BeginComputeFrame() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.released {
		return fmt.Errorf("%w: cpu device released", ErrDeviceUnavailable)
	}
	if c.inFrame {
		return ErrComputeFrameActive
	}
	c.inFrame = true
	c.commands = c.commands[:0]
	return nil
}

func (c *cpuDeviceBackendImpl) EncodeBufferWrite(write bind_group_provider.BufferWrite) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.inFrame {
		return ErrNoComputeFrame
	}
	buf, err := cpuBufferFor(write.Provider, write.Binding)
	if err != nil {
		return err
	}
	if err := checkWrite(buf.Label(), buf.Size(), write); err != nil {
		return err
	}
	data := make([]byte, len(write.Data))
	copy(data, write.Data)
	c.commands = append(c.commands, cpuCommand{write: &cpuWrite{dst: buf, offset: write.Offset, data: data}})
	return nil
}

func (c *cpuDeviceBackendImpl) DispatchCompute(p pipeline.Pipeline, bindGroups []bind_group_provider.BindGroupProvider, workGroupCount [3]uint32) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.inFrame {
		return ErrNoComputeFrame
	}

	bindings := make(map[int]map[int][]byte, len(bindGroups))
	for g, provider := range bindGroups {
		group, ok := provider.BindGroup().(*cpuBindGroup)
		if !ok || group == nil {
			return fmt.Errorf("%s: bind group not initialised on the cpu device", provider.Label())
		}
		bindings[g] = make(map[int][]byte, len(group.buffers))
		for b, buf := range group.buffers {
			bindings[g][b] = buf.data
		}
	}

	size := [3]uint32{1, 1, 1}
	if s := p.Shader(); s != nil {
		size = s.WorkgroupSize()
	}
	c.commands = append(c.commands, cpuCommand{
		kernel:   p.HostKernel(),
		size:     size,
		count:    workGroupCount,
		bindings: bindings,
		label:    p.PipelineKey(),
	})
	return nil
}

func (c *cpuDeviceBackendImpl) EndComputeFrame() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.inFrame {
		return ErrNoComputeFrame
	}
	c.inFrame = false

	for _, cmd := range c.commands {
		if cmd.write != nil {
			copy(cmd.write.dst.data[cmd.write.offset:], cmd.write.data)
			continue
		}
		if err := c.runDispatch(cmd); err != nil {
			c.commands = c.commands[:0]
			return err
		}
	}
	c.commands = c.commands[:0]
	return nil
}

// runDispatch runs every workgroup of one dispatch on the worker pool and waits for all of them,
// which is the pass boundary. Workgroups are split into at most two tasks per worker.
func (c *cpuDeviceBackendImpl) runDispatch(cmd cpuCommand) error {
	total := int(cmd.count[0] * cmd.count[1] * cmd.count[2])
	if total == 0 {
		return nil
	}
	tasks := min(total, c.workers*2)
	perTask := (total + tasks - 1) / tasks

	var wg sync.WaitGroup
	var errMu sync.Mutex
	var firstErr error
	fail := func(err error) {
		errMu.Lock()
		defer errMu.Unlock()
		if firstErr == nil {
			firstErr = err
		}
	}

	for t := 0; t < tasks; t++ {
		start := t * perTask
		end := min(start+perTask, total)
		if start >= end {
			break
		}
		wg.Add(1)
		c.pool.SubmitTask(worker.Task{
			ID: t,
			Do: func() (any, error) {
				defer wg.Done()
				defer func() {
					if r := recover(); r != nil {
						log.Printf("[Device] recovered panic in kernel %s: %v", cmd.label, r)
						fail(fmt.Errorf("%w: %s: panic: %v", ErrKernelFailed, cmd.label, r))
					}
				}()
				for i := start; i < end; i++ {
					id := [3]uint32{
						uint32(i) % cmd.count[0],
						(uint32(i) / cmd.count[0]) % cmd.count[1],
						uint32(i) / (cmd.count[0] * cmd.count[1]),
					}
					if err := cmd.kernel(pipeline.NewWorkgroup(id, cmd.size, cmd.count, cmd.bindings)); err != nil {
						fail(fmt.Errorf("%w: %s: %w", ErrKernelFailed, cmd.label, err))
						return nil, err
					}
				}
				return nil, nil
			},
		})
	}
	wg.Wait()
	return firstErr
}

func (c *cpuDeviceBackendImpl) ReadBuffer(ctx context.Context, provider bind_group_provider.BindGroupProvider, binding int, size uint64) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrReadBackTimeout, err)
	}
	buf, err := cpuBufferFor(provider, binding)
	if err != nil {
		return nil, err
	}
	if size > buf.Size() {
		return nil, fmt.Errorf("%s: read of %d bytes exceeds buffer size %d", buf.Label(), size, buf.Size())
	}
	out := make([]byte, size)
	copy(out, buf.data)
	return out, nil
}

func (c *cpuDeviceBackendImpl) Release() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.released {
		return
	}
	c.released = true
	c.commands = nil
	c.inFrame = false

	c.pool.Stop()
	// All workers share one stop channel, so a worker can swallow another's stop signal and keep
	// running. One exit task per worker ends every goroutine still reading the task queue.
	for i := range c.workers {
		c.pool.SubmitTask(worker.Task{
			ID: -1 - i,
			Do: func() (any, error) {
				runtime.Goexit()
				return nil, nil
			},
		})
	}
}

func cpuBufferFor(provider bind_group_provider.BindGroupProvider, binding int) (*cpuBuffer, error) {
	if provider == nil {
		return nil, fmt.Errorf("%w: nil provider", ErrBufferNotFound)
	}
	buf, ok := provider.Buffer(binding).(*cpuBuffer)
	if !ok || buf == nil {
		return nil, fmt.Errorf("%w: %s binding %d", ErrBufferNotFound, provider.Label(), binding)
	}
	return buf, nil
}

func checkWrite(label string, size uint64, w bind_group_provider.BufferWrite) error {
	if w.Offset+uint64(len(w.Data)) > size {
		return fmt.Errorf("%s: write of %d bytes at offset %d exceeds buffer size %d", label, len(w.Data), w.Offset, size)
	}
	return nil
}

// bufferUsage derives the buffer usage flags of a binding type.
func bufferUsage(t wgpu.BufferBindingType) wgpu.BufferUsage {
	switch t {
	case wgpu.BufferBindingTypeUniform:
		return wgpu.BufferUsageUniform | wgpu.BufferUsageCopyDst
	case wgpu.BufferBindingTypeStorage, wgpu.BufferBindingTypeReadOnlyStorage:
		return wgpu.BufferUsageStorage | wgpu.BufferUsageCopyDst
	default:
		return wgpu.BufferUsageCopyDst
	}
}
