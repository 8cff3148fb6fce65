package spatial

// LookupRun returns the contiguous run of sorted entries whose key equals key, using the offsets
// table to find where the run starts. It returns nil when the bucket is empty or out of range.
//
// Parameters:
//   - entries: entries sorted by key
//   - offsets: the offsets table produced for entries
//   - key: the bucket to look up
//
// Returns:
//   - []GPUSpatialEntry: a sub-slice of entries, all carrying key
func LookupRun(entries []GPUSpatialEntry, offsets []uint32, key uint32) []GPUSpatialEntry {
	if int(key) >= len(offsets) {
		return nil
	}
	start := offsets[key]
	if start == EmptyOffset || int(start) >= len(entries) {
		return nil
	}
	end := int(start)
	for end < len(entries) && entries[end].Key == key {
		end++
	}
	return entries[start:end]
}
