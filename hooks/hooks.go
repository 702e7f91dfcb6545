// Package hooks carries high-signal events out of the request pipeline.
package hooks

// Hooks are lightweight callbacks for high-signal events.
// Implementations MUST be cheap and non-blocking: they run on the request path.
type Hooks interface {
	// A pre-check refused the operation. op is the command kind, keys the offending
	// keys (empty for clear / bulk reads).
	AvailabilityDenied(op string, keys []string)

	// A remote failure on a read was replaced by an availability error.
	ReadMasked(keys []string, cause error)

	// A read came back empty while none of the keys' owners is live.
	SuspectAbsence(keys []string)

	// The availability oracle switched modes.
	ModeChanged(from, to string)

	// A structural chain edit happened. op ∈ {"add", "remove", "remove_all",
	// "add_after", "add_before", "replace", "append"}.
	ChainChanged(op string, size int)

	// A transaction commit reached some owners but not all of them.
	PartialCommit(txID string, failed []string)
}

// NopHooks is the default no-op.
type NopHooks struct{}

func (NopHooks) AvailabilityDenied(string, []string) {}
func (NopHooks) ReadMasked([]string, error)          {}
func (NopHooks) SuspectAbsence([]string)             {}
func (NopHooks) ModeChanged(string, string)          {}
func (NopHooks) ChainChanged(string, int)            {}
func (NopHooks) PartialCommit(string, []string)      {}

// OrNop returns h, or NopHooks when h is nil.
func OrNop(h Hooks) Hooks {
	if h == nil {
		return NopHooks{}
	}
	return h
}

// Multi fans every event out to each of its members, in order.
type Multi []Hooks

var _ Hooks = Multi(nil)

func (m Multi) AvailabilityDenied(op string, keys []string) {
	for _, h := range m {
		h.AvailabilityDenied(op, keys)
	}
}

func (m Multi) ReadMasked(keys []string, cause error) {
	for _, h := range m {
		h.ReadMasked(keys, cause)
	}
}

func (m Multi) SuspectAbsence(keys []string) {
	for _, h := range m {
		h.SuspectAbsence(keys)
	}
}

func (m Multi) ModeChanged(from, to string) {
	for _, h := range m {
		h.ModeChanged(from, to)
	}
}

func (m Multi) ChainChanged(op string, size int) {
	for _, h := range m {
		h.ChainChanged(op, size)
	}
}

func (m Multi) PartialCommit(txID string, failed []string) {
	for _, h := range m {
		h.PartialCommit(txID, failed)
	}
}
