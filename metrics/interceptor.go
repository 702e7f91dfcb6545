package metrics

import (
	"errors"
	"time"

	"github.com/unkn0wn-root/splitcache/cluster"
	"github.com/unkn0wn-root/splitcache/command"
	"github.com/unkn0wn-root/splitcache/interceptor"
	"github.com/unkn0wn-root/splitcache/partition"
)

// Interceptor times every command from this stage to its result. Put it first to
// measure the whole chain.
type Interceptor struct {
	m *Metrics
}

func (m *Metrics) Interceptor() *Interceptor { return &Interceptor{m: m} }

func (s *Interceptor) Visit(inv *interceptor.Invocation, cmd *command.Command) interceptor.Step {
	start := time.Now()
	kind := cmd.Kind.String()
	s.m.CommandsInFlight.Inc()
	return inv.Suspend(inv.Fork(cmd).Then(func(v any, err error) (any, error) {
		s.m.CommandsInFlight.Dec()
		s.m.CommandDuration.WithLabelValues(kind).Observe(time.Since(start).Seconds())
		s.m.CommandsTotal.WithLabelValues(kind, status(err)).Inc()
		return v, err
	}))
}

func status(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, partition.ErrDegradedMode):
		return "unavailable"
	case cluster.IsTransportError(err):
		return "transport"
	}
	return "error"
}
