package sort

import "github.com/Carmen-Shannon/oxy-sort/engine/profiler"

// SorterBuilderOption is a functional option for configuring a Sorter.
type SorterBuilderOption func(*sorter)

// WithMaxLocalBlock sets the local block size: blocks of up to twice this many entries are sorted
// in workgroup memory, and it is the workgroup size of every kernel. Defaults to the largest
// power of two the device limits allow.
//
// Parameters:
//   - n: the local block size, a power of two no larger than the device allows
//
// Returns:
//   - SorterBuilderOption: a function that applies the local block size
func WithMaxLocalBlock(n uint32) SorterBuilderOption {
	return func(s *sorter) {
		s.maxLocalBlock = n
	}
}

// WithBucketCount sets the number of slots in the offsets table. Keys at or above the bucket
// count are left out of the table. Defaults to the element count.
//
// Parameters:
//   - n: the bucket count
//
// Returns:
//   - SorterBuilderOption: a function that applies the bucket count
func WithBucketCount(n uint32) SorterBuilderOption {
	return func(s *sorter) {
		s.bucketCount = n
	}
}

// WithPadding controls how element counts that are not a power of two are handled. When enabled
// (the default) the entries buffer is padded with spatial.PaddingEntry up to the next power of two.
// When disabled such counts are rejected with ErrInvalidElementCount.
//
// Parameters:
//   - enabled: true to pad
//
// Returns:
//   - SorterBuilderOption: a function that applies the padding setting
func WithPadding(enabled bool) SorterBuilderOption {
	return func(s *sorter) {
		s.padding = enabled
	}
}

// WithLabel sets the debug label of the sorter's device objects.
//
// Parameters:
//   - label: the label
//
// Returns:
//   - SorterBuilderOption: a function that applies the label
func WithLabel(label string) SorterBuilderOption {
	return func(s *sorter) {
		s.label = label
	}
}

// WithProfiler records the duration of every Sort call on p.
//
// Parameters:
//   - p: the profiler
//
// Returns:
//   - SorterBuilderOption: a function that attaches the profiler
func WithProfiler(p *profiler.Profiler) SorterBuilderOption {
	return func(s *sorter) {
		s.profiler = p
	}
}
