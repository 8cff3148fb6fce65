package sort

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/Carmen-Shannon/oxy-sort/common"
	"github.com/Carmen-Shannon/oxy-sort/engine/device"
	"github.com/Carmen-Shannon/oxy-sort/engine/device/bind_group_provider"
	"github.com/Carmen-Shannon/oxy-sort/engine/profiler"
	"github.com/Carmen-Shannon/oxy-sort/engine/spatial"
)

// CommandStream is the part of a device's open compute frame a sort records into.
// device.Device satisfies it between BeginComputeFrame and EndComputeFrame.
type CommandStream interface {
	EncodeBufferWrite(write bind_group_provider.BufferWrite) error
	DispatchCompute(pipelineKey string, bindGroups []bind_group_provider.BindGroupProvider, workGroupCount [3]uint32) error
}

// sorter is the implementation of the Sorter interface.
type sorter struct {
	mu  *sync.Mutex
	dev device.Device

	label         string
	maxLocalBlock uint32
	bucketCount   uint32
	padding       bool
	profiler      *profiler.Profiler

	elementCount uint32
	plan         *Plan
	kernels      *kernelSet
	resources    *resourceSet
}

// Sorter is the sort driver of a spatial hash. It owns one plan and one resource set for a fixed
// element count and records the full stage sequence plus the offsets passes onto a command stream.
type Sorter interface {
	// Plan returns the stage sequence the sorter runs.
	//
	// Returns:
	//   - *Plan: the plan for the padded element count
	Plan() *Plan

	// Resources returns the buffers and bind groups the sorter runs against.
	//
	// Returns:
	//   - ResourceSet: the resource set
	Resources() ResourceSet

	// ElementCount returns the number of entries each sort takes, before padding.
	//
	// Returns:
	//   - uint32: the element count
	ElementCount() uint32

	// PaddedCount returns the power-of-two length of the entries buffer.
	//
	// Returns:
	//   - uint32: the padded element count
	PaddedCount() uint32

	// Entries returns the entries buffer for downstream neighbor queries.
	//
	// Returns:
	//   - bind_group_provider.Buffer: the entries buffer
	Entries() bind_group_provider.Buffer

	// Offsets returns the offsets table for downstream neighbor queries.
	//
	// Returns:
	//   - bind_group_provider.Buffer: the offsets buffer
	Offsets() bind_group_provider.Buffer

	// Upload queues a write of fresh entries, padded to PaddedCount, into the entries buffer.
	//
	// Parameters:
	//   - entries: exactly ElementCount entries; spatial.SentinelKey is reserved for padding
	//
	// Returns:
	//   - error: ErrPlanResourceMismatch on a wrong count, or a device error
	Upload(entries []spatial.GPUSpatialEntry) error

	// DispatchStage records one stage: an in-stream write of the stage parameters into the sort
	// params buffer followed by one dispatch of the sort kernel. A None stage records nothing.
	//
	// Parameters:
	//   - stream: the open command stream
	//   - params: the stage parameters
	//
	// Returns:
	//   - error: a device error
	DispatchStage(stream CommandStream, params StageParams) error

	// Run records every stage of the plan followed by the offsets clear and extraction passes.
	// It only records; the work runs when the stream is submitted.
	//
	// Parameters:
	//   - stream: the open command stream
	//   - entriesCount: the number of entries uploaded, must equal ElementCount
	//
	// Returns:
	//   - error: ErrPlanResourceMismatch on a wrong count, or a device error
	Run(stream CommandStream, entriesCount uint32) error

	// Sort uploads entries and runs the whole sort in one compute frame of the sorter's device.
	//
	// Parameters:
	//   - entries: exactly ElementCount entries
	//
	// Returns:
	//   - error: any upload, recording or submission error
	Sort(entries []spatial.GPUSpatialEntry) error

	// ReadBack copies the first byteLength bytes of the entries or offsets buffer to the host.
	// It waits for all submitted work and is meant for tests and diagnostics.
	//
	// Parameters:
	//   - ctx: bounds the wait
	//   - buffer: Entries() or Offsets()
	//   - byteLength: the number of bytes to read
	//
	// Returns:
	//   - []byte: the buffer contents
	//   - error: device.ErrBufferNotFound for a foreign buffer, device.ErrReadBackTimeout on expiry
	ReadBack(ctx context.Context, buffer bind_group_provider.Buffer, byteLength uint64) ([]byte, error)

	// ReadEntries reads back the sorted entries with padding removed.
	//
	// Parameters:
	//   - ctx: bounds the wait
	//
	// Returns:
	//   - []spatial.GPUSpatialEntry: ElementCount entries in key order
	//   - error: a read-back error
	ReadEntries(ctx context.Context) ([]spatial.GPUSpatialEntry, error)

	// ReadOffsets reads back the offsets table.
	//
	// Parameters:
	//   - ctx: bounds the wait
	//
	// Returns:
	//   - []uint32: one slot per bucket, spatial.EmptyOffset for empty buckets
	//   - error: a read-back error
	ReadOffsets(ctx context.Context) ([]uint32, error)

	// Release frees the sorter's buffers. Pipelines stay registered on the device.
	Release()
}

var _ Sorter = &sorter{}

// NewSorter creates a Sorter for elementCount entries on dev. The local block is taken from the
// device limits once, here, unless WithMaxLocalBlock overrides it.
// Panics if dev is nil.
//
// Parameters:
//   - dev: the device to run on
//   - elementCount: the number of entries per sort
//   - options: functional options such as WithBucketCount and WithMaxLocalBlock
//
// Returns:
//   - Sorter: the sorter
//   - error: ErrInvalidElementCount, ErrInvalidLocalBlock, or a wrapped device error
func NewSorter(dev device.Device, elementCount uint32, options ...SorterBuilderOption) (Sorter, error) {
	if dev == nil {
		panic("sort: NewSorter requires a device")
	}
	s := &sorter{
		mu:           &sync.Mutex{},
		dev:          dev,
		label:        "Spatial Sort",
		padding:      true,
		elementCount: elementCount,
	}
	for _, opt := range options {
		opt(s)
	}

	n, err := s.paddedCount()
	if err != nil {
		return nil, err
	}
	s.bucketCount = common.Coalesce(s.bucketCount, elementCount)

	limits := dev.Limits()
	deviceBlock := LocalBlockFromLimits(limits)
	local := common.Coalesce(s.maxLocalBlock, deviceBlock)
	if !common.IsPowerOfTwo(local) {
		return nil, fmt.Errorf("%w: %d is not a power of two", ErrInvalidLocalBlock, local)
	}
	if local > deviceBlock {
		return nil, fmt.Errorf("%w: %d exceeds the device maximum %d", ErrInvalidLocalBlock, local, deviceBlock)
	}
	// A block never needs more than the whole array.
	local = min(local, max(n/2, 1))

	if s.plan, err = NewPlan(n, local); err != nil {
		return nil, err
	}

	maxGroups := limits.MaxComputeWorkgroupsPerDimension
	for _, groups := range []uint32{common.CeilDiv(n, 2*local), common.CeilDiv(n, local), common.CeilDiv(s.bucketCount, local)} {
		if groups > maxGroups {
			return nil, fmt.Errorf("%w: %d entries and %d buckets need %d workgroups, device allows %d", ErrInvalidElementCount, n, s.bucketCount, groups, maxGroups)
		}
	}

	if s.kernels, err = newKernelSet(local); err != nil {
		return nil, fmt.Errorf("%w: %w", device.ErrPipelineCreationFailed, err)
	}
	if err := dev.RegisterPipelines(s.kernels.pipelines()...); err != nil {
		return nil, err
	}
	if s.resources, err = newResourceSet(dev, s.kernels, s.label, n, s.bucketCount); err != nil {
		return nil, err
	}
	if err := s.resources.Validate(s.plan); err != nil {
		s.resources.Release()
		return nil, err
	}

	log.Printf("[Sorter] %s ready: %d entries (padded %d), %d buckets, local block %d, %d stages, %d workgroups per stage",
		s.label, elementCount, n, s.bucketCount, local, s.plan.Len(), s.resources.WorkgroupsToDispatch())
	return s, nil
}

// LocalBlockFromLimits returns the largest power-of-two local block a device supports: bounded
// by the workgroup size limits and by fitting 2 * block entries in workgroup storage.
//
// Parameters:
//   - limits: the device limits
//
// Returns:
//   - uint32: the local block size, 0 if the limits allow none
func LocalBlockFromLimits(limits device.Limits) uint32 {
	block := min(limits.MaxComputeWorkgroupSizeX, limits.MaxComputeInvocationsPerWorkgroup)
	block = min(block, limits.MaxComputeWorkgroupStorageSize/(2*spatial.GPUSpatialEntrySize))
	return common.PrevPowerOfTwo(block)
}

func (s *sorter) paddedCount() (uint32, error) {
	if s.elementCount == 0 {
		return 0, fmt.Errorf("%w: zero entries", ErrInvalidElementCount)
	}
	if common.IsPowerOfTwo(s.elementCount) {
		return s.elementCount, nil
	}
	if !s.padding {
		return 0, fmt.Errorf("%w: %d is not a power of two and padding is disabled", ErrInvalidElementCount, s.elementCount)
	}
	n := common.NextPowerOfTwo(s.elementCount)
	if n == 0 {
		return 0, fmt.Errorf("%w: %d cannot be padded to a power of two", ErrInvalidElementCount, s.elementCount)
	}
	return n, nil
}

func (s *sorter) Plan() *Plan {
	return s.plan
}

func (s *sorter) Resources() ResourceSet {
	return s.resources
}

func (s *sorter) ElementCount() uint32 {
	return s.elementCount
}

func (s *sorter) PaddedCount() uint32 {
	return s.plan.ElementCount
}

func (s *sorter) Entries() bind_group_provider.Buffer {
	return s.resources.Entries()
}

func (s *sorter) Offsets() bind_group_provider.Buffer {
	return s.resources.Offsets()
}

func (s *sorter) Upload(entries []spatial.GPUSpatialEntry) error {
	if uint32(len(entries)) != s.elementCount {
		return fmt.Errorf("%w: got %d entries, sorter holds %d", ErrPlanResourceMismatch, len(entries), s.elementCount)
	}
	for i := range entries {
		if entries[i].IsPadding() {
			return fmt.Errorf("%w: entry %d", ErrReservedKey, i)
		}
	}
	data := spatial.MarshalEntries(spatial.PadEntries(entries, int(s.PaddedCount())))
	return s.dev.WriteBuffers([]bind_group_provider.BufferWrite{{
		Provider: s.resources.Data(),
		Binding:  s.resources.EntriesBinding(),
		Data:     data,
	}})
}

func (s *sorter) DispatchStage(stream CommandStream, params StageParams) error {
	if params.Algorithm == AlgorithmNone {
		return nil
	}
	gpu := params.ToGPU()
	if err := stream.EncodeBufferWrite(bind_group_provider.BufferWrite{
		Provider: s.resources.SortParams(),
		Binding:  0,
		Data:     gpu.Marshal(),
	}); err != nil {
		return err
	}
	return stream.DispatchCompute(s.kernels.sort.PipelineKey(), s.resources.SortBindGroups(), [3]uint32{params.DispatchSize, 1, 1})
}

func (s *sorter) Run(stream CommandStream, entriesCount uint32) error {
	if entriesCount != s.elementCount {
		return fmt.Errorf("%w: asked to sort %d entries, sorter holds %d", ErrPlanResourceMismatch, entriesCount, s.elementCount)
	}
	dispatch := s.resources.WorkgroupsToDispatch()
	for i, stage := range s.plan.Stages {
		if err := s.DispatchStage(stream, stage.Params(dispatch)); err != nil {
			return fmt.Errorf("stage %d (%s, h=%d): %w", i, stage.Algorithm, stage.BlockHeight, err)
		}
	}
	return s.runOffsets(stream)
}

func (s *sorter) Sort(entries []spatial.GPUSpatialEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	start := time.Now()
	if err := s.Upload(entries); err != nil {
		return err
	}
	if err := s.dev.BeginComputeFrame(); err != nil {
		return err
	}
	if err := s.Run(s.dev, uint32(len(entries))); err != nil {
		// Close the frame so the device can take the next one; its result is discarded.
		_ = s.dev.EndComputeFrame()
		return err
	}
	if err := s.dev.EndComputeFrame(); err != nil {
		return err
	}
	if s.profiler != nil {
		s.profiler.RecordSort(len(entries), time.Since(start))
	}
	return nil
}

func (s *sorter) ReadBack(ctx context.Context, buffer bind_group_provider.Buffer, byteLength uint64) ([]byte, error) {
	switch {
	case buffer != nil && buffer == s.Entries():
		return s.dev.ReadBuffer(ctx, s.resources.Data(), s.resources.EntriesBinding(), byteLength)
	case buffer != nil && buffer == s.Offsets():
		return s.dev.ReadBuffer(ctx, s.resources.Data(), s.resources.OffsetsBinding(), byteLength)
	default:
		return nil, fmt.Errorf("%w: buffer does not belong to sorter %s", device.ErrBufferNotFound, s.label)
	}
}

func (s *sorter) ReadEntries(ctx context.Context) ([]spatial.GPUSpatialEntry, error) {
	data, err := s.ReadBack(ctx, s.Entries(), uint64(s.PaddedCount())*spatial.GPUSpatialEntrySize)
	if err != nil {
		return nil, err
	}
	return spatial.UnmarshalEntries(data)[:s.elementCount], nil
}

func (s *sorter) ReadOffsets(ctx context.Context) ([]uint32, error) {
	data, err := s.ReadBack(ctx, s.Offsets(), uint64(s.resources.BucketCount())*4)
	if err != nil {
		return nil, err
	}
	return common.BytesToUint32s(data), nil
}

func (s *sorter) Release() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.resources != nil {
		s.resources.Release()
	}
}
