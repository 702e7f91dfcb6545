package slog

import (
	stdslog "log/slog"
	"sync/atomic"

	"github.com/unkn0wn-root/splitcache/hooks"
	"github.com/unkn0wn-root/splitcache/internal/util"
)

type Options struct {
	// Sampling to avoid floods during a long split; 0/1 = log all.
	DeniedEvery  uint64
	SuspectEvery uint64
	// Optional key redactor. Defaults to SHA-256 prefix.
	Redact func(string) string
}

type Hooks struct {
	l    *stdslog.Logger
	opts Options

	deniedCtr  atomic.Uint64
	suspectCtr atomic.Uint64
}

var _ hooks.Hooks = (*Hooks)(nil)

func New(l *stdslog.Logger, opts Options) *Hooks {
	return &Hooks{l: l, opts: opts}
}

func (h *Hooks) redact(k string) string {
	if h.opts.Redact != nil {
		return h.opts.Redact(k)
	}
	return util.KeyDigest(k)
}

func (h *Hooks) redactAll(keys []string) []string {
	out := make([]string, len(keys))
	for i, k := range keys {
		out[i] = h.redact(k)
	}
	return out
}

func sample(n uint64, ctr *atomic.Uint64) bool {
	if n == 0 || n == 1 {
		return true
	}
	return ctr.Add(1)%n == 0
}

func (h *Hooks) AvailabilityDenied(op string, keys []string) {
	if h.l == nil || !sample(h.opts.DeniedEvery, &h.deniedCtr) {
		return
	}
	h.l.Info("splitcache.availability_denied",
		"op", op,
		"keys", h.redactAll(keys))
}

func (h *Hooks) ReadMasked(keys []string, cause error) {
	if h.l == nil {
		return
	}
	h.l.Warn("splitcache.read_masked",
		"keys", h.redactAll(keys),
		"cause", cause)
}

func (h *Hooks) SuspectAbsence(keys []string) {
	if h.l == nil || !sample(h.opts.SuspectEvery, &h.suspectCtr) {
		return
	}
	h.l.Warn("splitcache.suspect_absence",
		"keys", h.redactAll(keys))
}

func (h *Hooks) ModeChanged(from, to string) {
	if h.l == nil {
		return
	}
	h.l.Warn("splitcache.mode_changed",
		"from", from,
		"to", to)
}

func (h *Hooks) ChainChanged(op string, size int) {
	if h.l == nil {
		return
	}
	h.l.Debug("splitcache.chain_changed",
		"op", op,
		"size", size)
}

func (h *Hooks) PartialCommit(txID string, failed []string) {
	if h.l == nil {
		return
	}
	h.l.Error("splitcache.partial_commit",
		"tx", txID,
		"failed_nodes", failed)
}
