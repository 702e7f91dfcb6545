package partition

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/unkn0wn-root/splitcache/cluster"
	"github.com/unkn0wn-root/splitcache/hooks"
	"github.com/unkn0wn-root/splitcache/log"
	"github.com/unkn0wn-root/splitcache/txstore"
)

type LocalManagerOptions struct {
	// Expected is the full membership. Defaults to the view's live members at construction.
	Expected []string
	// Store records partially committed transactions. Defaults to an in-process store.
	Store  txstore.Store
	Logger log.Logger
	Hooks  hooks.Hooks
	// LookupTimeout bounds IsPartiallyCommitted calls against Store. Default 200ms.
	LookupTimeout time.Duration
}

// LocalManager derives availability from this node's own membership view.
//
// It enters DegradedMode as soon as an expected member is missing and returns to
// Available once all of them are back. While degraded, a key may be read or written
// only if every one of its owners is reachable; clear and bulk reads are refused.
type LocalManager struct {
	owners   Ownership
	expected []string
	txs      txstore.Store
	log      log.Logger
	hooks    hooks.Hooks
	timeout  time.Duration

	mode atomic.Uint32
	live atomic.Pointer[cluster.Snapshot]

	mu      sync.Mutex // orders view updates
	applied uint64
	cancel  func()
}

var _ Manager = (*LocalManager)(nil)

func NewLocalManager(view *cluster.View, owners Ownership, opts LocalManagerOptions) *LocalManager {
	m := &LocalManager{
		owners:   owners,
		expected: opts.Expected,
		txs:      opts.Store,
		log:      log.OrNop(opts.Logger),
		hooks:    hooks.OrNop(opts.Hooks),
		timeout:  opts.LookupTimeout,
	}
	if m.txs == nil {
		m.txs = txstore.NewLocal(time.Minute, time.Hour)
	}
	if m.timeout <= 0 {
		m.timeout = 200 * time.Millisecond
	}
	if len(m.expected) == 0 {
		m.expected = view.LiveMembers()
	}
	m.cancel = view.Subscribe(m.onView)
	m.onView(view.Snapshot())
	return m
}

// onView applies a membership change. Out of order snapshots are dropped.
func (m *LocalManager) onView(s cluster.Snapshot) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s.Version < m.applied {
		return
	}
	m.applied = s.Version
	m.live.Store(&s)

	next := Available
	var missing []string
	for _, e := range m.expected {
		if !s.Contains(e) {
			missing = append(missing, e)
		}
	}
	if len(missing) > 0 {
		next = DegradedMode
	}
	prev := AvailabilityMode(m.mode.Swap(uint32(next)))
	if prev == next {
		return
	}
	m.log.Info("availability mode changed", log.Fields{"from": prev.String(), "to": next.String(), "missing": missing, "view": s.Version})
	m.hooks.ModeChanged(prev.String(), next.String())
}

func (m *LocalManager) AvailabilityMode() AvailabilityMode {
	return AvailabilityMode(m.mode.Load())
}

func (m *LocalManager) CheckWrite(key string) error { return m.checkKey("write", key) }
func (m *LocalManager) CheckRead(key string) error  { return m.checkKey("read", key) }

func (m *LocalManager) CheckClear() error {
	if m.AvailabilityMode() == Available {
		return nil
	}
	return &AvailabilityError{Op: "clear"}
}

func (m *LocalManager) CheckBulkRead() error {
	if m.AvailabilityMode() == Available {
		return nil
	}
	return &AvailabilityError{Op: "bulk read"}
}

func (m *LocalManager) checkKey(op, key string) error {
	if m.AvailabilityMode() == Available {
		return nil
	}
	live := m.live.Load()
	for _, o := range m.owners.Locate(key) {
		if !live.Contains(o) {
			return KeyUnavailable(op, key)
		}
	}
	return nil
}

// IsPartiallyCommitted treats a failing registry as "not recorded", which keeps the
// post-commit check in place.
func (m *LocalManager) IsPartiallyCommitted(txID string) bool {
	ctx, cancel := context.WithTimeout(context.Background(), m.timeout)
	defer cancel()
	ok, err := m.txs.IsMarked(ctx, txID)
	if err != nil {
		m.log.Warn("partial commit lookup failed", log.Fields{"tx": txID, "err": err})
		return false
	}
	return ok
}

// MarkPartiallyCommitted records that txID reached only part of its owners.
func (m *LocalManager) MarkPartiallyCommitted(ctx context.Context, txID string, failed []string) error {
	if err := m.txs.Mark(ctx, txID, failed); err != nil {
		return err
	}
	m.log.Warn("transaction partially committed", log.Fields{"tx": txID, "failed": failed})
	m.hooks.PartialCommit(txID, failed)
	return nil
}

// ForgetTransaction drops txID from the registry.
func (m *LocalManager) ForgetTransaction(ctx context.Context, txID string) error {
	return m.txs.Forget(ctx, txID)
}

// Close stops following the view and releases the registry.
func (m *LocalManager) Close(ctx context.Context) error {
	m.cancel()
	return m.txs.Close(ctx)
}
