package metrics

import (
	"github.com/unkn0wn-root/splitcache/hooks"
	"github.com/unkn0wn-root/splitcache/partition"
)

type promHooks struct{ m *Metrics }

// Hooks returns hooks.Hooks feeding m. Combine with other hooks through hooks.Multi.
func (m *Metrics) Hooks() hooks.Hooks { return promHooks{m: m} }

func (h promHooks) AvailabilityDenied(op string, _ []string) {
	h.m.DeniedTotal.WithLabelValues(op).Inc()
}

func (h promHooks) ReadMasked([]string, error) { h.m.MaskedReadsTotal.Inc() }
func (h promHooks) SuspectAbsence([]string)    { h.m.SuspectAbsenceTotal.Inc() }

func (h promHooks) ModeChanged(_, to string) {
	h.m.ModeChangesTotal.Inc()
	if to == partition.DegradedMode.String() {
		h.m.Degraded.Set(1)
	} else {
		h.m.Degraded.Set(0)
	}
}

func (h promHooks) ChainChanged(_ string, size int)   { h.m.ChainSize.Set(float64(size)) }
func (h promHooks) PartialCommit(string, []string)    { h.m.PartialCommitsTotal.Inc() }
