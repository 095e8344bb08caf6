// Package logging provides the structured logger used by the service. It is a
// thin layer over log/slog whose handlers are always wrapped in an
// EnrichHandler, so every record carries the request ID of the request it was
// logged for.
package logging

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"

	"gopkg.in/natefinch/lumberjack.v2"
)

// Level is the minimum level a logger emits
type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

// ParseLevel converts a level name to a Level, defaulting to info
func ParseLevel(s string) Level {
	switch strings.ToLower(s) {
	case "debug", "trace":
		return LevelDebug
	case "warn", "warning":
		return LevelWarn
	case "error", "fatal":
		return LevelError
	default:
		return LevelInfo
	}
}

func (l Level) slogLevel() slog.Level {
	switch l {
	case LevelDebug:
		return slog.LevelDebug
	case LevelWarn:
		return slog.LevelWarn
	case LevelError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Format selects the output encoding
type Format int

const (
	FormatJSON Format = iota
	FormatText
	FormatDevelopment
)

// ParseFormat converts a format name to a Format, defaulting to JSON
func ParseFormat(s string) Format {
	switch strings.ToLower(s) {
	case "text":
		return FormatText
	case "dev", "development":
		return FormatDevelopment
	default:
		return FormatJSON
	}
}

// Config configures a Logger
type Config struct {
	Output   io.Writer
	Level    Level
	Format   Format
	AppName  string
	Hostname string

	// NoRequestID is written as request_id when no identity is active
	NoRequestID string
	// LogUserID adds user_id to every record
	LogUserID bool
	// NoUserID is written as user_id when the identity has no user
	NoUserID string
}

// Logger is the logging surface used throughout the service
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)

	WithField(key string, value any) Logger
	WithFields(fields map[string]any) Logger
	WithError(err error) Logger
	// WithContext returns a logger whose records are enriched from ctx
	WithContext(ctx context.Context) Logger

	Slog() *slog.Logger
}

type logger struct {
	sl  *slog.Logger
	ctx context.Context
}

// NewLogger creates a Logger from cfg
func NewLogger(cfg Config) Logger {
	return &logger{sl: slog.New(NewHandler(cfg)), ctx: context.Background()}
}

// NewHandler builds the enriched slog.Handler described by cfg
func NewHandler(cfg Config) slog.Handler {
	out := cfg.Output
	if out == nil {
		out = os.Stderr
	}

	opts := &slog.HandlerOptions{Level: cfg.Level.slogLevel()}

	var base slog.Handler
	switch cfg.Format {
	case FormatText:
		opts.ReplaceAttr = lowerLevel
		base = slog.NewTextHandler(out, opts)
	case FormatDevelopment:
		base = slog.NewTextHandler(out, opts)
	default:
		opts.ReplaceAttr = jsonKeys
		base = slog.NewJSONHandler(out, opts)
	}

	var static []slog.Attr
	if cfg.AppName != "" {
		static = append(static, slog.String("app", cfg.AppName))
	}
	if cfg.Hostname != "" {
		static = append(static, slog.String("hostname", cfg.Hostname))
	}
	if len(static) > 0 {
		base = base.WithAttrs(static)
	}

	return NewEnrichHandler(base, EnrichOptions{
		NoRequestID: cfg.NoRequestID,
		LogUserID:   cfg.LogUserID,
		NoUserID:    cfg.NoUserID,
	})
}

func lowerLevel(groups []string, a slog.Attr) slog.Attr {
	if len(groups) == 0 && a.Key == slog.LevelKey {
		if lvl, ok := a.Value.Any().(slog.Level); ok {
			a.Value = slog.StringValue(strings.ToLower(lvl.String()))
		}
	}
	return a
}

func jsonKeys(groups []string, a slog.Attr) slog.Attr {
	if len(groups) > 0 {
		return a
	}
	switch a.Key {
	case slog.MessageKey:
		a.Key = "message"
	case slog.TimeKey:
		a.Key = "timestamp"
	}
	return lowerLevel(groups, a)
}

func (l *logger) log(level slog.Level, msg string, args ...any) {
	l.sl.Log(l.ctx, level, msg, args...)
}

func (l *logger) Debug(msg string, args ...any) { l.log(slog.LevelDebug, msg, args...) }
func (l *logger) Info(msg string, args ...any)  { l.log(slog.LevelInfo, msg, args...) }
func (l *logger) Warn(msg string, args ...any)  { l.log(slog.LevelWarn, msg, args...) }
func (l *logger) Error(msg string, args ...any) { l.log(slog.LevelError, msg, args...) }

func (l *logger) WithField(key string, value any) Logger {
	return &logger{sl: l.sl.With(key, value), ctx: l.ctx}
}

func (l *logger) WithFields(fields map[string]any) Logger {
	args := make([]any, 0, len(fields)*2)
	for k, v := range fields {
		args = append(args, k, v)
	}
	return &logger{sl: l.sl.With(args...), ctx: l.ctx}
}

func (l *logger) WithError(err error) Logger {
	if err == nil {
		return l
	}
	return &logger{
		sl:  l.sl.With(slog.Group("error", slog.String("message", err.Error()))),
		ctx: l.ctx,
	}
}

func (l *logger) WithContext(ctx context.Context) Logger {
	if ctx == nil {
		ctx = context.Background()
	}
	return &logger{sl: l.sl, ctx: ctx}
}

func (l *logger) Slog() *slog.Logger {
	return l.sl
}

type loggerKey struct{}

var (
	defaultMu     sync.RWMutex
	defaultLogger = NewLogger(Config{Level: LevelInfo, Format: FormatJSON})
)

// SetDefault replaces the fallback logger used when a context carries none
func SetDefault(l Logger) {
	if l == nil {
		return
	}
	defaultMu.Lock()
	defaultLogger = l
	defaultMu.Unlock()
}

// Default returns the process fallback logger
func Default() Logger {
	defaultMu.RLock()
	defer defaultMu.RUnlock()
	return defaultLogger
}

// WithLogger stores logger in ctx
func WithLogger(ctx context.Context, l Logger) context.Context {
	return context.WithValue(ctx, loggerKey{}, l)
}

// FromContext returns the logger stored in ctx bound to ctx, or the default
// logger bound to ctx when there is none.
func FromContext(ctx context.Context) Logger {
	if ctx == nil {
		return Default()
	}
	if l, ok := ctx.Value(loggerKey{}).(Logger); ok && l != nil {
		return l.WithContext(ctx)
	}
	return Default().WithContext(ctx)
}

// OpenFile returns a size-rotated log file writer
func OpenFile(path string, maxSizeMB, maxBackups, maxAgeDays int) io.WriteCloser {
	return &lumberjack.Logger{
		Filename:   path,
		MaxSize:    maxSizeMB,
		MaxBackups: maxBackups,
		MaxAge:     maxAgeDays,
		Compress:   true,
	}
}
