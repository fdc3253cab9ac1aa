// Package order implements the gapped integer keyspace used for manual task
// ordering. Keys are spaced Step apart so an insert at either end of a
// partition never renumbers existing rows; a repack restores even spacing
// when the partition has drifted.
package order

// Step is the gap between adjacent canonical keys.
const Step int64 = 1000

// NextAppendKey returns the key for an item appended to a partition whose
// current maximum key is max. ok is false for an empty partition.
func NextAppendKey(max int64, ok bool) int64 {
	if !ok {
		return Step
	}
	return max + Step
}

// NextPrependKey returns the key for an item inserted at the front of a
// partition whose current minimum key is min. ok is false for an empty
// partition. Keys may go negative; a repack after the insert bounds growth.
func NextPrependKey(min int64, ok bool) int64 {
	if !ok {
		return Step
	}
	return min - Step
}

// Repack returns canonical keys Step, 2*Step, ... n*Step for a partition of
// n items, to be assigned in the partition's current relative order.
func Repack(n int) []int64 {
	keys := make([]int64, n)
	for i := range keys {
		keys[i] = int64(i+1) * Step
	}
	return keys
}

// MergeReorder resolves a caller-requested ordering against the partition's
// current contents. requested holds the dragged ids in their desired order;
// existing holds every id in the partition in its prior order. The result is
// the requested ids that actually belong to the partition, in the requested
// order, followed by the untouched ids in their prior relative order. Ids in
// requested that are not partition members are dropped rather than invented,
// so a single drag spanning several partitions can be split and resolved
// per partition.
func MergeReorder(requested, existing []int64) []int64 {
	members := make(map[int64]struct{}, len(existing))
	for _, id := range existing {
		members[id] = struct{}{}
	}

	touched := make(map[int64]struct{}, len(requested))
	result := make([]int64, 0, len(existing))
	for _, id := range requested {
		if _, ok := members[id]; !ok {
			continue
		}
		if _, dup := touched[id]; dup {
			continue
		}
		touched[id] = struct{}{}
		result = append(result, id)
	}
	for _, id := range existing {
		if _, ok := touched[id]; ok {
			continue
		}
		result = append(result, id)
	}
	return result
}
