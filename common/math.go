package common

import "encoding/binary"

// Uint32sToBytes encodes a slice of u32 values as little-endian bytes, the byte order of every
// WebGPU storage buffer.
//
// Parameters:
//   - values: the values to encode
//
// Returns:
//   - []byte: a freshly allocated buffer of len(values)*4 bytes
func Uint32sToBytes(values []uint32) []byte {
	buf := make([]byte, len(values)*4)
	for i, v := range values {
		binary.LittleEndian.PutUint32(buf[i*4:], v)
	}
	return buf
}

// BytesToUint32s decodes little-endian bytes into u32 values. Trailing bytes that do not form
// a whole value are ignored.
//
// Parameters:
//   - data: the bytes to decode
//
// Returns:
//   - []uint32: the decoded values
func BytesToUint32s(data []byte) []uint32 {
	out := make([]uint32, len(data)/4)
	for i := range out {
		out[i] = binary.LittleEndian.Uint32(data[i*4:])
	}
	return out
}
