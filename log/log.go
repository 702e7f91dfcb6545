// Package log is the tiny leveled logging surface used across splitcache.
// Wire your own stack through one of the adapter subpackages (zap, logrus, slog).
package log

// Fields is a minimal structured field map for logs.
type Fields map[string]any

// Logger is a leveled logger. A nil Logger in any Options means NopLogger.
type Logger interface {
	Debug(msg string, f Fields)
	Info(msg string, f Fields)
	Warn(msg string, f Fields)
	Error(msg string, f Fields)
}

type NopLogger struct{}

func (NopLogger) Debug(string, Fields) {}
func (NopLogger) Info(string, Fields)  {}
func (NopLogger) Warn(string, Fields)  {}
func (NopLogger) Error(string, Fields) {}

// OrNop returns l, or NopLogger when l is nil.
func OrNop(l Logger) Logger {
	if l == nil {
		return NopLogger{}
	}
	return l
}
