// Package plog provides the process-wide logger. Output is split by level:
// DEBUG/NOTICE/INFO go to stdout, WARN/ERROR go to stderr, matching the
// convention backup tooling users expect (progress on stdout, problems on
// stderr).
package plog

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync/atomic"
)

// Level mirrors slog.Level but names the NOTICE tier pgl-backup uses for
// "this happened and you should see it even outside verbose logging"
// messages that aren't warnings (lock acquired, file deleted, WAL copied).
type Level int

const (
	LevelDebug  Level = -4
	LevelInfo   Level = 0
	LevelNotice Level = 2
	LevelWarn   Level = 4
	LevelError  Level = 8
)

// LevelFromString parses a level name. Unrecognized names fall back to Info.
func LevelFromString(s string) Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return LevelDebug
	case "notice":
		return LevelNotice
	case "warn", "warning":
		return LevelWarn
	case "error":
		return LevelError
	default:
		return LevelInfo
	}
}

// LevelDispatchHandler is a slog.Handler that writes log records to different
// handlers based on the record's level. NOTICE and below go to stdout,
// while WARNING and above go to stderr.
type LevelDispatchHandler struct {
	stdoutHandler slog.Handler
	stderrHandler slog.Handler
}

// Enabled checks if the level is enabled for either of the underlying handlers.
func (h *LevelDispatchHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.stdoutHandler.Enabled(ctx, level) || h.stderrHandler.Enabled(ctx, level)
}

// Handle dispatches the record to the appropriate handler.
func (h *LevelDispatchHandler) Handle(ctx context.Context, r slog.Record) error {
	if r.Level >= slog.LevelWarn {
		return h.stderrHandler.Handle(ctx, r)
	}
	return h.stdoutHandler.Handle(ctx, r)
}

// WithAttrs returns a new LevelDispatchHandler with the given attributes added.
func (h *LevelDispatchHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &LevelDispatchHandler{
		stdoutHandler: h.stdoutHandler.WithAttrs(attrs),
		stderrHandler: h.stderrHandler.WithAttrs(attrs),
	}
}

// WithGroup returns a new LevelDispatchHandler with the given group.
func (h *LevelDispatchHandler) WithGroup(name string) slog.Handler {
	return &LevelDispatchHandler{
		stdoutHandler: h.stdoutHandler.WithGroup(name),
		stderrHandler: h.stderrHandler.WithGroup(name),
	}
}

var defaultLogger *slog.Logger
var currentLevel atomic.Int64 // holds a plog.Level
var output io.Writer          // set by SetOutput; nil means stdout/stderr

// replaceLevel prints LevelNotice as "NOTICE" instead of slog's "INFO+2".
func replaceLevel(_ []string, a slog.Attr) slog.Attr {
	if lvl, ok := a.Value.Any().(slog.Level); ok && a.Key == slog.LevelKey && lvl == slog.Level(LevelNotice) {
		a.Value = slog.StringValue("NOTICE")
	}
	return a
}

func rebuild(out, errOut io.Writer, level Level) *slog.Logger {
	stdoutHandler := slog.NewTextHandler(out, &slog.HandlerOptions{Level: slog.Level(level), ReplaceAttr: replaceLevel})
	stderrHandler := slog.NewTextHandler(errOut, &slog.HandlerOptions{Level: slog.LevelWarn, ReplaceAttr: replaceLevel})
	return slog.New(&LevelDispatchHandler{stdoutHandler: stdoutHandler, stderrHandler: stderrHandler})
}

// SetOutput redirects the logger's output to a single writer, primarily for
// tests. The redirect stays in effect across later SetLevel calls.
func SetOutput(w io.Writer) {
	output = w
	defaultLogger = rebuild(w, w, Level(currentLevel.Load()))
}

// SetLevel sets the minimum level that reaches either handler.
func SetLevel(level Level) {
	currentLevel.Store(int64(level))
	if output != nil {
		defaultLogger = rebuild(output, output, level)
		return
	}
	defaultLogger = rebuild(os.Stdout, os.Stderr, level)
}

// SetQuiet is a convenience wrapper over SetLevel: quiet mode suppresses
// INFO and DEBUG, leaving NOTICE and above visible.
func SetQuiet(quiet bool) {
	if quiet {
		SetLevel(LevelNotice)
	} else {
		SetLevel(LevelInfo)
	}
}

// IsQuiet reports whether the current level suppresses INFO.
func IsQuiet() bool {
	return Level(currentLevel.Load()) > LevelInfo
}

func init() {
	SetLevel(LevelInfo)
}

// Debug logs a debug-level message.
func Debug(msg string, args ...any) { defaultLogger.Debug(msg, args...) }

// Info logs an informational message.
func Info(msg string, args ...any) { defaultLogger.Info(msg, args...) }

// Notice logs at a level between Info and Warn: visible progress that isn't a problem.
func Notice(msg string, args ...any) {
	defaultLogger.Log(context.Background(), slog.Level(LevelNotice), msg, args...)
}

// Warn logs a warning message.
func Warn(msg string, args ...any) {
	defaultLogger.Warn(msg, args...)
}

// Error logs an error message.
func Error(msg string, args ...any) {
	defaultLogger.Error(msg, args...)
}
