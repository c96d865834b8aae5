// Package logging provides the structured logger used across bbsgate.
// It wraps charmbracelet/log so every component logs through the same
// leveled, key/value interface regardless of which front-end or filter
// emitted the line.
package logging

import (
	"io"
	"os"
	"sync"
	"sync/atomic"

	charmlog "github.com/charmbracelet/log"
)

// Level mirrors the LOG_LEVEL values accepted by configuration.
type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

// ParseLevel converts a LOG_LEVEL string ("debug", "info", "warn", "error")
// into a Level, defaulting to LevelInfo for anything unrecognized.
func ParseLevel(s string) Level {
	switch s {
	case "debug":
		return LevelDebug
	case "warn", "warning":
		return LevelWarn
	case "error":
		return LevelError
	default:
		return LevelInfo
	}
}

func (l Level) charm() charmlog.Level {
	switch l {
	case LevelDebug:
		return charmlog.DebugLevel
	case LevelWarn:
		return charmlog.WarnLevel
	case LevelError:
		return charmlog.ErrorLevel
	default:
		return charmlog.InfoLevel
	}
}

// Config controls how a Logger is constructed.
type Config struct {
	Output io.Writer
	Level  Level
	JSON   bool
}

// DefaultConfig returns the configuration used when none is supplied:
// info level, text formatting, writing to stderr.
func DefaultConfig() Config {
	return Config{
		Output: os.Stderr,
		Level:  LevelInfo,
	}
}

// Logger is a thin, component-scoped wrapper around a charmbracelet/log
// logger. The zero value is not usable; construct with New.
type Logger struct {
	inner *charmlog.Logger
}

// New builds a Logger from cfg, defaulting Output to stderr when unset.
func New(cfg Config) *Logger {
	out := cfg.Output
	if out == nil {
		out = os.Stderr
	}
	l := charmlog.NewWithOptions(out, charmlog.Options{
		Level:           cfg.Level.charm(),
		ReportTimestamp: true,
	})
	if cfg.JSON {
		l.SetFormatter(charmlog.JSONFormatter)
	}
	return &Logger{inner: l}
}

// WithComponent returns a derived Logger that tags every line with the
// given component name, leaving the receiver untouched.
func (l *Logger) WithComponent(name string) *Logger {
	return &Logger{inner: l.inner.With("component", name)}
}

func (l *Logger) Debug(msg string, kv ...any) { l.inner.Debug(msg, kv...) }
func (l *Logger) Info(msg string, kv ...any)  { l.inner.Info(msg, kv...) }
func (l *Logger) Warn(msg string, kv ...any)  { l.inner.Warn(msg, kv...) }
func (l *Logger) Error(msg string, kv ...any) { l.inner.Error(msg, kv...) }
func (l *Logger) Fatal(msg string, kv ...any) { l.inner.Fatal(msg, kv...) }

var (
	defaultMu  sync.Mutex
	defaultPtr atomic.Pointer[Logger]
)

func init() {
	defaultPtr.Store(New(DefaultConfig()))
}

// SetDefault replaces the package-level default logger used by the
// package functions below.
func SetDefault(l *Logger) {
	defaultMu.Lock()
	defer defaultMu.Unlock()
	defaultPtr.Store(l)
}

// Default returns the current package-level logger.
func Default() *Logger {
	return defaultPtr.Load()
}

func Debug(msg string, kv ...any) { Default().Debug(msg, kv...) }
func Info(msg string, kv ...any)  { Default().Info(msg, kv...) }
func Warn(msg string, kv ...any)  { Default().Warn(msg, kv...) }
func Error(msg string, kv ...any) { Default().Error(msg, kv...) }
func Fatal(msg string, kv ...any) { Default().Fatal(msg, kv...) }
