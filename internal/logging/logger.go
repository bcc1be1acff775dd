// Package logging provides the concrete glog.Logger used by the binaries.
package logging

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"

	glog "github.com/goliatone/go-logger/glog"
)

const levelTrace = slog.Level(-8)

type correlationKey struct{}

var exit = os.Exit

var (
	_ glog.Logger = (*Logger)(nil)
)

// Logger writes one JSON object per line. Args are key/value pairs.
type Logger struct {
	base *slog.Logger
}

// New returns a Logger writing to w at the given level (trace, debug, info, warn, error).
func New(level string, w io.Writer) *Logger {
	if w == nil {
		w = os.Stdout
	}
	handler := slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level: ParseLevel(level),
		ReplaceAttr: func(_ []string, attr slog.Attr) slog.Attr {
			if attr.Key == slog.LevelKey {
				if lvl, ok := attr.Value.Any().(slog.Level); ok && lvl == levelTrace {
					attr.Value = slog.StringValue("TRACE")
				}
			}
			return attr
		},
	})
	return &Logger{base: slog.New(handler)}
}

// ParseLevel maps a config string to a slog level, defaulting to info.
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "trace":
		return levelTrace
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func (l *Logger) Trace(msg string, args ...any) {
	l.base.Log(context.Background(), levelTrace, msg, args...)
}

func (l *Logger) Debug(msg string, args ...any) {
	l.base.Debug(msg, args...)
}

func (l *Logger) Info(msg string, args ...any) {
	l.base.Info(msg, args...)
}

func (l *Logger) Warn(msg string, args ...any) {
	l.base.Warn(msg, args...)
}

func (l *Logger) Error(msg string, args ...any) {
	l.base.Error(msg, args...)
}

// Fatal logs at error level and exits the process.
func (l *Logger) Fatal(msg string, args ...any) {
	l.base.Error(msg, args...)
	exit(1)
}

// WithContext returns a logger carrying the request correlation id, if any.
func (l *Logger) WithContext(ctx context.Context) glog.Logger {
	if id := CorrelationID(ctx); id != "" {
		return &Logger{base: l.base.With("correlation_id", id)}
	}
	return l
}

// WithFields returns a logger that always includes fields.
func (l *Logger) WithFields(fields map[string]any) glog.Logger {
	args := make([]any, 0, len(fields)*2)
	for key, value := range fields {
		args = append(args, key, value)
	}
	return &Logger{base: l.base.With(args...)}
}

// ContextWithCorrelationID stores id for later WithContext calls.
func ContextWithCorrelationID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, correlationKey{}, id)
}

// CorrelationID returns the id stored by ContextWithCorrelationID.
func CorrelationID(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	id, _ := ctx.Value(correlationKey{}).(string)
	return id
}

// OrNop returns logger, or a no-op logger when it is nil.
func OrNop(logger glog.Logger) glog.Logger {
	if logger == nil {
		return glog.Nop()
	}
	return logger
}
