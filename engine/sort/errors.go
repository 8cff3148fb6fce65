package sort

import "errors"

var (
	// ErrInvalidElementCount is returned when an element count is zero, not a power of two where one
	// is required, or needs more workgroups than the device can dispatch.
	ErrInvalidElementCount = errors.New("invalid element count")

	// ErrInvalidLocalBlock is returned when the local block size is zero or not a power of two.
	ErrInvalidLocalBlock = errors.New("invalid local block size")

	// ErrReservedKey is returned when an uploaded entry carries the padding sentinel key.
	ErrReservedKey = errors.New("entry carries the reserved padding key")

	// ErrPlanResourceMismatch is returned when buffers, inputs or a plan disagree on the element count.
	ErrPlanResourceMismatch = errors.New("plan and resources disagree on element count")
)
