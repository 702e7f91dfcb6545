package partition

import (
	"context"
	"errors"
	"reflect"
	"sync"
	"testing"

	"github.com/unkn0wn-root/splitcache/cluster"
	"github.com/unkn0wn-root/splitcache/txstore"
)

type modeHooks struct {
	recHooks
	mu      sync.Mutex
	changes []string
	partial []string
}

func (h *modeHooks) ModeChanged(from, to string) {
	h.mu.Lock()
	h.changes = append(h.changes, from+"->"+to)
	h.mu.Unlock()
}

func (h *modeHooks) PartialCommit(txID string, _ []string) {
	h.mu.Lock()
	h.partial = append(h.partial, txID)
	h.mu.Unlock()
}

func newLocal(t *testing.T) (*LocalManager, *cluster.View, *modeHooks) {
	t.Helper()
	view := cluster.NewView("a", "b", "c")
	h := &modeHooks{}
	m := NewLocalManager(view, ownerMap{"ab": {"a", "b"}, "c": {"c"}}, LocalManagerOptions{Hooks: h})
	t.Cleanup(func() { _ = m.Close(context.Background()) })
	return m, view, h
}

func TestLocalManagerTransitions(t *testing.T) {
	m, view, h := newLocal(t)
	if m.AvailabilityMode() != Available {
		t.Fatalf("initial mode=%v", m.AvailabilityMode())
	}

	view.Down("c")
	if m.AvailabilityMode() != DegradedMode {
		t.Fatalf("mode after losing c=%v", m.AvailabilityMode())
	}
	view.Up("d") // unexpected members do not heal the partition
	if m.AvailabilityMode() != DegradedMode {
		t.Fatalf("mode=%v", m.AvailabilityMode())
	}
	view.Up("c")
	if m.AvailabilityMode() != Available {
		t.Fatalf("mode after heal=%v", m.AvailabilityMode())
	}
	if !reflect.DeepEqual(h.changes, []string{"AVAILABLE->DEGRADED_MODE", "DEGRADED_MODE->AVAILABLE"}) {
		t.Fatalf("changes=%v", h.changes)
	}
}

func TestLocalManagerChecks(t *testing.T) {
	m, view, _ := newLocal(t)
	for _, err := range []error{m.CheckRead("c"), m.CheckWrite("c"), m.CheckClear(), m.CheckBulkRead()} {
		if err != nil {
			t.Fatalf("available mode denied: %v", err)
		}
	}

	view.Down("c")
	if err := m.CheckRead("ab"); err != nil {
		t.Fatalf("fully owned key denied: %v", err)
	}
	var ae *AvailabilityError
	if err := m.CheckWrite("c"); !errors.As(err, &ae) || !reflect.DeepEqual(ae.Keys, []string{"c"}) {
		t.Fatalf("write c err=%v", err)
	}
	if err := m.CheckRead("c"); !errors.Is(err, ErrDegradedMode) {
		t.Fatalf("read c err=%v", err)
	}
	if !errors.Is(m.CheckClear(), ErrDegradedMode) || !errors.Is(m.CheckBulkRead(), ErrDegradedMode) {
		t.Fatalf("clear/bulk read must be denied while degraded")
	}
}

func TestLocalManagerPartialCommits(t *testing.T) {
	m, _, h := newLocal(t)
	ctx := context.Background()
	if m.IsPartiallyCommitted("tx") {
		t.Fatalf("unknown tx reported partial")
	}
	if err := m.MarkPartiallyCommitted(ctx, "tx", []string{"c"}); err != nil {
		t.Fatal(err)
	}
	if !m.IsPartiallyCommitted("tx") {
		t.Fatalf("marked tx not reported")
	}
	if !reflect.DeepEqual(h.partial, []string{"tx"}) {
		t.Fatalf("partial hook=%v", h.partial)
	}
	_ = m.ForgetTransaction(ctx, "tx")
	if m.IsPartiallyCommitted("tx") {
		t.Fatalf("forgotten tx still reported")
	}
}

func TestLocalManagerExplicitExpected(t *testing.T) {
	view := cluster.NewView("a", "b")
	m := NewLocalManager(view, ownerMap{}, LocalManagerOptions{
		Expected: []string{"a", "b", "c"},
		Store:    txstore.NewLocal(0, 0),
	})
	defer m.Close(context.Background())
	if m.AvailabilityMode() != DegradedMode {
		t.Fatalf("starting without c must be degraded")
	}
}

func TestLocalManagerDropsStaleSnapshots(t *testing.T) {
	m, view, _ := newLocal(t)
	stale := view.Snapshot()
	view.Down("c")
	m.onView(stale)
	if m.AvailabilityMode() != DegradedMode {
		t.Fatalf("stale snapshot applied")
	}
}
