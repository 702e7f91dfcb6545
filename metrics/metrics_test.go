package metrics

import (
	"context"
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/unkn0wn-root/splitcache/cluster"
	"github.com/unkn0wn-root/splitcache/command"
	"github.com/unkn0wn-root/splitcache/interceptor"
	"github.com/unkn0wn-root/splitcache/partition"
)

func TestInterceptorCountsByStatus(t *testing.T) {
	m := New(prometheus.NewRegistry())
	var next error
	term := interceptor.Func(func(inv *interceptor.Invocation, cmd *command.Command) interceptor.Step {
		return inv.Return("v", next)
	})
	c := interceptor.New(interceptor.Options{}, m.Interceptor(), term)
	run := func(cmd *command.Command) {
		_, _ = c.Invoke(interceptor.NewInvocation(context.Background()), cmd)
	}

	run(command.NewGet("a"))
	run(command.NewGet("b"))
	next = partition.KeyUnavailable("get", "c")
	run(command.NewGet("c"))
	next = &cluster.TransportError{Node: "n2", Op: "put", Err: errors.New("timeout")}
	run(command.NewPut("d", nil, 0))
	next = errors.New("boom")
	run(command.NewClear())

	cases := []struct {
		kind, status string
		want         float64
	}{
		{"get", "ok", 2},
		{"get", "unavailable", 1},
		{"put", "transport", 1},
		{"clear", "error", 1},
		{"put", "ok", 0},
	}
	for _, tc := range cases {
		if got := testutil.ToFloat64(m.CommandsTotal.WithLabelValues(tc.kind, tc.status)); got != tc.want {
			t.Fatalf("%s/%s=%v want %v", tc.kind, tc.status, got, tc.want)
		}
	}
	if got := testutil.ToFloat64(m.CommandsInFlight); got != 0 {
		t.Fatalf("in flight=%v", got)
	}
	if n := testutil.CollectAndCount(m.CommandDuration); n != 3 {
		t.Fatalf("duration series=%d", n)
	}
}

func TestInterceptorKeepsResult(t *testing.T) {
	m := New(prometheus.NewRegistry())
	term := interceptor.Func(func(inv *interceptor.Invocation, cmd *command.Command) interceptor.Step {
		return inv.ShortCircuit(42)
	})
	c := interceptor.New(interceptor.Options{}, m.Interceptor(), term)
	if v, err := c.Invoke(interceptor.NewInvocation(context.Background()), command.NewKeySet()); v != 42 || err != nil {
		t.Fatalf("v=%v err=%v", v, err)
	}
}

func TestHooks(t *testing.T) {
	m := New(prometheus.NewRegistry())
	h := m.Hooks()
	h.AvailabilityDenied("put", []string{"k"})
	h.AvailabilityDenied("put", []string{"k"})
	h.ReadMasked([]string{"k"}, errors.New("x"))
	h.SuspectAbsence([]string{"k"})
	h.ModeChanged("AVAILABLE", "DEGRADED_MODE")
	h.ChainChanged("append", 5)
	h.PartialCommit("tx", []string{"n2"})

	if got := testutil.ToFloat64(m.DeniedTotal.WithLabelValues("put")); got != 2 {
		t.Fatalf("denied=%v", got)
	}
	if testutil.ToFloat64(m.Degraded) != 1 || testutil.ToFloat64(m.ModeChangesTotal) != 1 {
		t.Fatalf("mode metrics not updated")
	}
	if testutil.ToFloat64(m.ChainSize) != 5 || testutil.ToFloat64(m.PartialCommitsTotal) != 1 {
		t.Fatalf("chain/partial metrics not updated")
	}
	if testutil.ToFloat64(m.MaskedReadsTotal) != 1 || testutil.ToFloat64(m.SuspectAbsenceTotal) != 1 {
		t.Fatalf("read metrics not updated")
	}
	h.ModeChanged("DEGRADED_MODE", "AVAILABLE")
	if testutil.ToFloat64(m.Degraded) != 0 {
		t.Fatalf("degraded gauge not reset")
	}
}
