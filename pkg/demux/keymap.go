// SPDX-License-Identifier: GPL-2.0-or-later

package demux

import "sort"

// KeyMap is the set of sync samples.
type KeyMap struct {
	keys []int // Ascending, zero-based. nil when every sample is a sync sample.
}

// NewKeyMap converts a 1-based stss table. A nil table marks every sample as sync.
func NewKeyMap(stss []uint32) *KeyMap {
	if stss == nil {
		return &KeyMap{}
	}
	keys := make([]int, 0, len(stss))
	for _, n := range stss {
		if n == 0 {
			continue
		}
		keys = append(keys, int(n)-1)
	}
	sort.Ints(keys)
	return &KeyMap{keys: keys}
}

// AllSync reports if every sample is a sync sample.
func (k *KeyMap) AllSync() bool { return k.keys == nil }

// IsSync reports if sample n is a sync sample.
func (k *KeyMap) IsSync(n int) bool {
	if k.keys == nil {
		return true
	}
	i := sort.SearchInts(k.keys, n)
	return i < len(k.keys) && k.keys[i] == n
}

// SyncFor returns the sync sample at or before n,
// or the first sync sample if none precede it.
func (k *KeyMap) SyncFor(n int) int {
	if k.keys == nil {
		return n
	}
	if len(k.keys) == 0 {
		return 0
	}
	i := sort.SearchInts(k.keys, n+1)
	if i == 0 {
		return k.keys[0]
	}
	return k.keys[i-1]
}

// Next returns the first sync sample after n, false if there is none.
func (k *KeyMap) Next(n int) (int, bool) {
	if k.keys == nil {
		return n + 1, true
	}
	i := sort.SearchInts(k.keys, n+1)
	if i == len(k.keys) {
		return 0, false
	}
	return k.keys[i], true
}
