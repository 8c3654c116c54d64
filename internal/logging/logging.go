// Package logging configures slog for the ngconsole host.
package logging

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/tessro/ngconsole/internal/paths"
)

// Options controls where and how much the host logs.
type Options struct {
	// Path of the JSON log file. Empty means paths.LogPath().
	Path string
	// Level is the minimum level written.
	Level slog.Level
	// Mirror, when set, receives a copy of every record (e.g. os.Stderr).
	Mirror io.Writer
}

// ParseLevel converts "debug", "info", "warn" or "error" (any case)
// into a slog.Level. Anything else is info.
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
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

// Setup installs a JSON slog handler as the default logger and returns
// a cleanup func that closes the log file.
func Setup(opts Options) (cleanup func(), err error) {
	path := opts.Path
	if path == "" {
		path = paths.LogPath()
	}
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0600)
	if err != nil {
		return nil, err
	}

	var w io.Writer = f
	if opts.Mirror != nil {
		w = io.MultiWriter(f, opts.Mirror)
	}
	slog.SetDefault(slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: opts.Level})))

	return func() { f.Close() }, nil
}

// SetupTest routes logs to w in text format at debug level.
func SetupTest(w io.Writer) {
	slog.SetDefault(slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: slog.LevelDebug})))
}

// LogPanic recovers and logs a panic. Defer it first thing in a goroutine:
//
//	defer logging.LogPanic("terminal-reader", nil)
//
// onRecover, if non-nil, runs with the recovered value so the caller can
// turn the panic into a state change.
func LogPanic(name string, onRecover func(any)) {
	if r := recover(); r != nil {
		slog.Error("panic recovered",
			"goroutine", name,
			"panic", r,
			"stack", string(captureStack()),
		)
		if onRecover != nil {
			onRecover(r)
		}
	}
}

func captureStack() []byte {
	buf := make([]byte, 4096)
	for {
		n := runtime.Stack(buf, false)
		if n < len(buf) {
			return buf[:n]
		}
		buf = make([]byte, len(buf)*2)
	}
}
