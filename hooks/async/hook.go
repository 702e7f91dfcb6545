// Package asynchook moves hook delivery off the request path.
//
//	raw := hslog.New(slog.Default(), hslog.Options{SuspectEvery: 10})
//	h := asynchook.New(hooks.Multi{raw, m.Hooks()}, 1, 1000) // 1 worker; queue 1000 events
//	defer h.Close()
//
// Events are dropped when the queue is full.
package asynchook

import (
	"slices"
	"sync"
	"sync/atomic"

	"github.com/unkn0wn-root/splitcache/hooks"
)

type Hooks struct {
	inner hooks.Hooks
	q     chan func()
	wg    sync.WaitGroup
	once  sync.Once

	mu      sync.RWMutex
	closed  bool
	dropped atomic.Uint64
}

var _ hooks.Hooks = (*Hooks)(nil)

func New(inner hooks.Hooks, workers, qlen int) *Hooks {
	if workers <= 0 {
		workers = 1
	}
	if qlen <= 0 {
		qlen = 1024
	}

	h := &Hooks{inner: hooks.OrNop(inner), q: make(chan func(), qlen)}
	h.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func() {
			defer h.wg.Done()
			for f := range h.q {
				f()
			}
		}()
	}
	return h
}

// Close drains queued events and stops the workers. Events fired after Close are dropped.
func (h *Hooks) Close() {
	h.once.Do(func() {
		h.mu.Lock()
		h.closed = true
		close(h.q)
		h.mu.Unlock()
		h.wg.Wait()
	})
}

// Dropped returns how many events were discarded because the queue was full or closed.
func (h *Hooks) Dropped() uint64 { return h.dropped.Load() }

func (h *Hooks) try(f func()) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.closed {
		h.dropped.Add(1)
		return
	}
	select {
	case h.q <- f:
	default:
		h.dropped.Add(1)
	}
}

// keys slices are cloned: callers may reuse them once the hook returns.

func (h *Hooks) AvailabilityDenied(op string, keys []string) {
	keys = slices.Clone(keys)
	h.try(func() { h.inner.AvailabilityDenied(op, keys) })
}

func (h *Hooks) ReadMasked(keys []string, cause error) {
	keys = slices.Clone(keys)
	h.try(func() { h.inner.ReadMasked(keys, cause) })
}

func (h *Hooks) SuspectAbsence(keys []string) {
	keys = slices.Clone(keys)
	h.try(func() { h.inner.SuspectAbsence(keys) })
}

func (h *Hooks) ModeChanged(from, to string)      { h.try(func() { h.inner.ModeChanged(from, to) }) }
func (h *Hooks) ChainChanged(op string, size int) { h.try(func() { h.inner.ChainChanged(op, size) }) }

func (h *Hooks) PartialCommit(txID string, failed []string) {
	failed = slices.Clone(failed)
	h.try(func() { h.inner.PartialCommit(txID, failed) })
}
