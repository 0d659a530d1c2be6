// Package logger builds the process-wide *slog.Logger and carries it through
// context. Domain attribute helpers keep key names consistent across packages.
package logger

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"
)

// Format selects the handler used by New.
type Format string

const (
	// FormatJSON writes one JSON object per record.
	FormatJSON Format = "json"
	// FormatText writes logfmt-style key=value records.
	FormatText Format = "text"
)

// ParseLevel parses a level name. Unknown names map to info.
func ParseLevel(s string) slog.Level {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "DEBUG":
		return slog.LevelDebug
	case "WARN", "WARNING":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Options configures the logger.
type Options struct {
	Output    io.Writer
	Level     slog.Level
	Format    Format
	AddSource bool
}

// DefaultOptions returns sensible defaults for the logger.
func DefaultOptions() Options {
	return Options{
		Output: os.Stdout,
		Level:  slog.LevelInfo,
		Format: FormatJSON,
	}
}

// New creates a logger with the given options.
func New(opts Options) *slog.Logger {
	if opts.Output == nil {
		opts.Output = os.Stdout
	}

	handlerOpts := &slog.HandlerOptions{
		Level:     opts.Level,
		AddSource: opts.AddSource,
	}

	var handler slog.Handler
	if opts.Format == FormatText {
		handler = slog.NewTextHandler(opts.Output, handlerOpts)
	} else {
		handler = slog.NewJSONHandler(opts.Output, handlerOpts)
	}
	return slog.New(handler)
}

// Nop returns a logger that discards everything. Handy in tests.
func Nop() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type ctxKey struct{}

// WithContext returns a new context with the logger attached.
func WithContext(ctx context.Context, l *slog.Logger) context.Context {
	return context.WithValue(ctx, ctxKey{}, l)
}

// FromContext retrieves the logger from context, or slog.Default().
func FromContext(ctx context.Context) *slog.Logger {
	if l, ok := ctx.Value(ctxKey{}).(*slog.Logger); ok {
		return l
	}
	return slog.Default()
}

// RequestIDKey is the attribute key for request tracing.
const RequestIDKey = "request_id"

// Engine attribute helpers.
func UserID(id string) slog.Attr        { return slog.String("user_id", id) }
func Points(n int) slog.Attr            { return slog.Int("points", n) }
func Reason(r string) slog.Attr         { return slog.String("reason", r) }
func AchievementID(id string) slog.Attr { return slog.String("achievement_id", id) }
func Component(name string) slog.Attr   { return slog.String("component", name) }
func Operation(name string) slog.Attr   { return slog.String("operation", name) }
func RequestID(id string) slog.Attr     { return slog.String(RequestIDKey, id) }
func Latency(d time.Duration) slog.Attr { return slog.Duration("latency", d) }

// Err creates an error attribute; nil errors log as an empty string.
func Err(err error) slog.Attr {
	if err == nil {
		return slog.String("error", "")
	}
	return slog.String("error", err.Error())
}
