package zap

import (
	"go.uber.org/zap"

	"github.com/unkn0wn-root/splitcache/log"
)

var _ log.Logger = Logger{}

// Logger adapts a *zap.Logger. Fields are emitted with zap.Any.
type Logger struct{ L *zap.Logger }

func (z Logger) Debug(msg string, f log.Fields) { z.L.Debug(msg, zf(f)...) }
func (z Logger) Info(msg string, f log.Fields)  { z.L.Info(msg, zf(f)...) }
func (z Logger) Warn(msg string, f log.Fields)  { z.L.Warn(msg, zf(f)...) }
func (z Logger) Error(msg string, f log.Fields) { z.L.Error(msg, zf(f)...) }

// Named returns a child logger scoped to a component.
func (z Logger) Named(component string) Logger { return Logger{L: z.L.Named(component)} }

func zf(f log.Fields) []zap.Field {
	if len(f) == 0 {
		return nil
	}
	out := make([]zap.Field, 0, len(f))
	for k, v := range f {
		if err, ok := v.(error); ok {
			out = append(out, zap.NamedError(k, err))
			continue
		}
		out = append(out, zap.Any(k, v))
	}
	return out
}
