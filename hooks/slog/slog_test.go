package slog

import (
	"bytes"
	"encoding/json"
	stdslog "log/slog"
	"strings"
	"testing"

	"github.com/unkn0wn-root/splitcache/internal/util"
)

func newBuffered(opts Options) (*Hooks, *bytes.Buffer) {
	var buf bytes.Buffer
	l := stdslog.New(stdslog.NewJSONHandler(&buf, &stdslog.HandlerOptions{Level: stdslog.LevelDebug}))
	return New(l, opts), &buf
}

func lines(buf *bytes.Buffer) []map[string]any {
	var out []map[string]any
	for _, ln := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if ln == "" {
			continue
		}
		var m map[string]any
		if err := json.Unmarshal([]byte(ln), &m); err == nil {
			out = append(out, m)
		}
	}
	return out
}

func TestKeysAreRedacted(t *testing.T) {
	h, buf := newBuffered(Options{})
	h.AvailabilityDenied("put", []string{"user:42"})
	got := lines(buf)
	if len(got) != 1 || got[0]["msg"] != "splitcache.availability_denied" {
		t.Fatalf("records=%v", got)
	}
	if strings.Contains(buf.String(), "user:42") {
		t.Fatalf("raw key logged: %s", buf.String())
	}
	keys := got[0]["keys"].([]any)
	if keys[0] != util.KeyDigest("user:42") {
		t.Fatalf("keys=%v", keys)
	}
}

func TestCustomRedactor(t *testing.T) {
	h, buf := newBuffered(Options{Redact: func(string) string { return "***" }})
	h.SuspectAbsence([]string{"a", "b"})
	if !strings.Contains(buf.String(), `"keys":["***","***"]`) {
		t.Fatalf("out=%s", buf.String())
	}
}

func TestSampling(t *testing.T) {
	h, buf := newBuffered(Options{DeniedEvery: 3})
	for i := 0; i < 9; i++ {
		h.AvailabilityDenied("get", []string{"k"})
	}
	if n := len(lines(buf)); n != 3 {
		t.Fatalf("logged %d of 9, want 3", n)
	}
}

func TestNilLoggerIsSilent(t *testing.T) {
	h := New(nil, Options{})
	h.ModeChanged("AVAILABLE", "DEGRADED_MODE")
	h.PartialCommit("tx", []string{"n2"})
	h.ChainChanged("add", 1)
	h.ReadMasked(nil, nil)
}
