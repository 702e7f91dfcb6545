package store

import (
	"slices"
	"sync"
)

// keyIndex remembers which keys this node wrote. Providers cannot enumerate their
// contents, so bulk operations walk the index and drop keys the provider evicted.
type keyIndex struct {
	mu   sync.RWMutex
	keys map[string]struct{}
}

func newKeyIndex() *keyIndex { return &keyIndex{keys: make(map[string]struct{})} }

func (x *keyIndex) add(k string) {
	x.mu.Lock()
	x.keys[k] = struct{}{}
	x.mu.Unlock()
}

func (x *keyIndex) remove(k string) {
	x.mu.Lock()
	delete(x.keys, k)
	x.mu.Unlock()
}

// snapshot returns the indexed keys, sorted.
func (x *keyIndex) snapshot() []string {
	x.mu.RLock()
	out := make([]string, 0, len(x.keys))
	for k := range x.keys {
		out = append(out, k)
	}
	x.mu.RUnlock()
	slices.Sort(out)
	return out
}

func (x *keyIndex) len() int {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return len(x.keys)
}
