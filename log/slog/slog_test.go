package slog

import (
	"bytes"
	"errors"
	stdslog "log/slog"
	"strings"
	"testing"

	"github.com/neilotoole/slogt"

	"github.com/unkn0wn-root/splitcache/log"
)

func TestFieldsSortedAndLevelled(t *testing.T) {
	var buf bytes.Buffer
	l := Logger{L: stdslog.New(stdslog.NewTextHandler(&buf, &stdslog.HandlerOptions{Level: stdslog.LevelInfo}))}

	l.Debug("hidden", nil)
	l.Warn("peer unreachable", log.Fields{"peer": "n2", "err": errors.New("timeout"), "misses": 3})

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Fatalf("debug record emitted at info level: %s", out)
	}
	if !strings.Contains(out, "level=WARN") {
		t.Fatalf("level missing: %s", out)
	}
	ie, im, ip := strings.Index(out, "err="), strings.Index(out, "misses="), strings.Index(out, "peer=")
	if ie < 0 || !(ie < im && im < ip) {
		t.Fatalf("fields not sorted: %s", out)
	}
}

func TestWithTestLogger(t *testing.T) {
	var l log.Logger = Logger{L: slogt.New(t)}
	l.Info("node started", log.Fields{"node": "n1"})
	l.Error("request failed", log.Fields{"path": "/v1/keys"})
}
