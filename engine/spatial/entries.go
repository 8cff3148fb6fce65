package spatial

import "encoding/binary"

// PaddingEntry is the entry appended to fill a non-power-of-two entries buffer.
var PaddingEntry = GPUSpatialEntry{Index: SentinelKey, Hash: SentinelKey, Key: SentinelKey}

// MarshalEntries packs entries into the tightly strided byte layout of the entries buffer.
//
// Parameters:
//   - entries: the entries to pack
//
// Returns:
//   - []byte: len(entries)*12 bytes
func MarshalEntries(entries []GPUSpatialEntry) []byte {
	buf := make([]byte, len(entries)*GPUSpatialEntrySize)
	for i := range entries {
		entries[i].put(buf[i*GPUSpatialEntrySize:])
	}
	return buf
}

// UnmarshalEntries decodes an entries buffer. Trailing bytes that do not form a whole entry are ignored.
//
// Parameters:
//   - data: bytes read back from an entries buffer
//
// Returns:
//   - []GPUSpatialEntry: the decoded entries
func UnmarshalEntries(data []byte) []GPUSpatialEntry {
	out := make([]GPUSpatialEntry, len(data)/GPUSpatialEntrySize)
	for i := range out {
		b := data[i*GPUSpatialEntrySize:]
		out[i] = GPUSpatialEntry{
			Index: binary.LittleEndian.Uint32(b[0:4]),
			Hash:  binary.LittleEndian.Uint32(b[4:8]),
			Key:   binary.LittleEndian.Uint32(b[8:12]),
		}
	}
	return out
}

// PadEntries returns entries extended with PaddingEntry up to length n.
// The input is returned unchanged when it already holds n or more entries.
//
// Parameters:
//   - entries: the real entries
//   - n: the target length, normally the next power of two
//
// Returns:
//   - []GPUSpatialEntry: a slice of length max(len(entries), n)
func PadEntries(entries []GPUSpatialEntry, n int) []GPUSpatialEntry {
	if len(entries) >= n {
		return entries
	}
	out := make([]GPUSpatialEntry, n)
	copy(out, entries)
	for i := len(entries); i < n; i++ {
		out[i] = PaddingEntry
	}
	return out
}

// StripPadding drops padding entries from a sorted entries slice. Padding sorts last, so this
// truncates at the first padding entry.
//
// Parameters:
//   - entries: sorted entries
//
// Returns:
//   - []GPUSpatialEntry: the prefix of real entries
func StripPadding(entries []GPUSpatialEntry) []GPUSpatialEntry {
	for i := range entries {
		if entries[i].IsPadding() {
			return entries[:i]
		}
	}
	return entries
}

// EntryAt decodes the i-th entry of an entries buffer in place.
//
// Parameters:
//   - data: the entries buffer memory
//   - i: the entry index
//
// Returns:
//   - GPUSpatialEntry: the decoded entry
func EntryAt(data []byte, i uint32) GPUSpatialEntry {
	b := data[i*GPUSpatialEntrySize:]
	return GPUSpatialEntry{
		Index: binary.LittleEndian.Uint32(b[0:4]),
		Hash:  binary.LittleEndian.Uint32(b[4:8]),
		Key:   binary.LittleEndian.Uint32(b[8:12]),
	}
}

// PutEntry encodes e as the i-th entry of an entries buffer.
//
// Parameters:
//   - data: the entries buffer memory
//   - i: the entry index
//   - e: the entry to store
func PutEntry(data []byte, i uint32, e GPUSpatialEntry) {
	e.put(data[i*GPUSpatialEntrySize:])
}

// KeyAt returns the sort key of the i-th entry of an entries buffer.
func KeyAt(data []byte, i uint32) uint32 {
	return binary.LittleEndian.Uint32(data[i*GPUSpatialEntrySize+8:])
}
