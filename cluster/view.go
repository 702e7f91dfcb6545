// Package cluster holds this node's picture of the cluster: which members are live
// right now (View) and which members own a key (Ring).
package cluster

import (
	"slices"
	"sort"
	"sync"
)

// Snapshot is one published membership view.
type Snapshot struct {
	Version uint64
	Live    []string // sorted
}

// Contains reports whether id is live in s.
func (s Snapshot) Contains(id string) bool {
	_, ok := slices.BinarySearch(s.Live, id)
	return ok
}

// View tracks the live members as reported by a failure detector. Every change bumps
// Version and is pushed to subscribers; subscribers may see versions out of order under
// concurrent updates and should drop anything older than what they already applied.
type View struct {
	self string

	mu      sync.RWMutex
	version uint64
	live    []string
	subs    map[int]func(Snapshot)
	nextSub int
}

// NewView creates a view where self and the given members are live.
func NewView(self string, live ...string) *View {
	v := &View{self: self, subs: make(map[int]func(Snapshot))}
	v.live = normalize(append([]string{self}, live...))
	v.version = 1
	return v
}

func (v *View) Self() string { return v.self }

// LiveMembers returns the currently reachable members, sorted.
func (v *View) LiveMembers() []string {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return slices.Clone(v.live)
}

func (v *View) Snapshot() Snapshot {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return Snapshot{Version: v.version, Live: slices.Clone(v.live)}
}

func (v *View) IsLive(id string) bool { return v.Snapshot().Contains(id) }

// Set replaces the live set. Self is always kept live.
func (v *View) Set(live ...string) {
	next := normalize(append([]string{v.self}, live...))
	v.apply(func(cur []string) []string { return next })
}

// Up marks id live.
func (v *View) Up(id string) {
	v.apply(func(cur []string) []string { return normalize(append(slices.Clone(cur), id)) })
}

// Down marks id unreachable. Self cannot be marked down.
func (v *View) Down(id string) {
	if id == v.self {
		return
	}
	v.apply(func(cur []string) []string {
		return slices.DeleteFunc(slices.Clone(cur), func(m string) bool { return m == id })
	})
}

// Subscribe registers fn for every future change and returns a cancel function.
func (v *View) Subscribe(fn func(Snapshot)) (cancel func()) {
	v.mu.Lock()
	id := v.nextSub
	v.nextSub++
	v.subs[id] = fn
	v.mu.Unlock()
	return func() {
		v.mu.Lock()
		delete(v.subs, id)
		v.mu.Unlock()
	}
}

func (v *View) apply(fn func(cur []string) []string) {
	v.mu.Lock()
	next := fn(v.live)
	if slices.Equal(next, v.live) {
		v.mu.Unlock()
		return
	}
	v.live = next
	v.version++
	snap := Snapshot{Version: v.version, Live: slices.Clone(next)}
	subs := make([]func(Snapshot), 0, len(v.subs))
	for _, fn := range v.subs {
		subs = append(subs, fn)
	}
	v.mu.Unlock()

	for _, fn := range subs {
		fn(snap)
	}
}

func normalize(ids []string) []string {
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id != "" {
			out = append(out, id)
		}
	}
	sort.Strings(out)
	return slices.Compact(out)
}
