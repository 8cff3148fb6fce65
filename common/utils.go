package common

import "math/bits"

// Coalesce returns the first non-zero value from the provided values, or the zero value if all are zero.
//
// Parameters:
//   - values: a variadic list of values to check for non-zero status
//
// Returns:
//   - T: the first non-zero value from the input, or the zero value if all are zero
func Coalesce[T comparable](values ...T) T {
	var zero T
	for _, v := range values {
		if v != zero {
			return v
		}
	}
	return zero
}

// IsPowerOfTwo reports whether n is a positive power of two.
//
// Parameters:
//   - n: the value to check
//
// Returns:
//   - bool: true if n is 1, 2, 4, 8, ...
func IsPowerOfTwo(n uint32) bool {
	return n != 0 && n&(n-1) == 0
}

// NextPowerOfTwo returns the smallest power of two greater than or equal to n.
// Zero maps to 1. Values above 1<<31 overflow to 0.
//
// Parameters:
//   - n: the value to round up
//
// Returns:
//   - uint32: the rounded value
func NextPowerOfTwo(n uint32) uint32 {
	if n <= 1 {
		return 1
	}
	return 1 << bits.Len32(n-1)
}

// PrevPowerOfTwo returns the largest power of two less than or equal to n, or 0 when n is 0.
//
// Parameters:
//   - n: the value to round down
//
// Returns:
//   - uint32: the rounded value
func PrevPowerOfTwo(n uint32) uint32 {
	if n == 0 {
		return 0
	}
	return 1 << (bits.Len32(n) - 1)
}

// Log2 returns floor(log2(n)) for n > 0 and 0 for n == 0.
//
// Parameters:
//   - n: the value to take the logarithm of
//
// Returns:
//   - uint32: the integer base-2 logarithm
func Log2(n uint32) uint32 {
	if n == 0 {
		return 0
	}
	return uint32(bits.Len32(n) - 1)
}

// CeilDiv divides a by b rounding up. b must be non-zero.
//
// Parameters:
//   - a: the dividend
//   - b: the divisor
//
// Returns:
//   - uint32: ceil(a / b)
func CeilDiv(a, b uint32) uint32 {
	q := a / b
	if a%b != 0 {
		q++
	}
	return q
}
