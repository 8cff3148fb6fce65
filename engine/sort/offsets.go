package sort

import (
	"fmt"

	"github.com/Carmen-Shannon/oxy-sort/engine/spatial"
)

// runOffsets records the offsets clear pass and the offset extraction pass. The clear pass must
// run every frame before extraction so buckets that emptied since the last frame read as empty.
func (s *sorter) runOffsets(stream CommandStream) error {
	groups := s.resources.OffsetBindGroups()
	if err := stream.DispatchCompute(s.kernels.clear.PipelineKey(), groups, [3]uint32{s.resources.ClearWorkgroups(), 1, 1}); err != nil {
		return fmt.Errorf("clear offsets: %w", err)
	}
	if err := stream.DispatchCompute(s.kernels.offsets.PipelineKey(), groups, [3]uint32{s.resources.OffsetWorkgroups(), 1, 1}); err != nil {
		return fmt.Errorf("extract offsets: %w", err)
	}
	return nil
}

// ComputeOffsets builds on the host the offsets table the extraction pass produces for entries
// sorted by key: slot k holds the position of the first entry with key k, or spatial.EmptyOffset.
// Padding entries and keys at or above bucketCount are skipped.
//
// Parameters:
//   - entries: entries sorted by key
//   - bucketCount: the number of slots
//
// Returns:
//   - []uint32: the offsets table
func ComputeOffsets(entries []spatial.GPUSpatialEntry, bucketCount uint32) []uint32 {
	offsets := make([]uint32, bucketCount)
	for i := range offsets {
		offsets[i] = spatial.EmptyOffset
	}
	for i, e := range entries {
		if e.IsPadding() || e.Key >= bucketCount {
			continue
		}
		if i == 0 || entries[i-1].Key != e.Key {
			offsets[e.Key] = uint32(i)
		}
	}
	return offsets
}

// CheckSorted returns an error naming the first position where keys decrease.
//
// Parameters:
//   - entries: the entries to check
//
// Returns:
//   - error: nil if keys are non-decreasing
func CheckSorted(entries []spatial.GPUSpatialEntry) error {
	for i := 1; i < len(entries); i++ {
		if entries[i].Key < entries[i-1].Key {
			return fmt.Errorf("key %d at position %d follows key %d", entries[i].Key, i, entries[i-1].Key)
		}
	}
	return nil
}
