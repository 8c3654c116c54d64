package companion

import (
	"bytes"
	"context"
	"log/slog"
	"sync"

	"github.com/tessro/ngconsole/internal/ringbuffer"
)

// diagnosticLines is how much output a CrashError carries.
const diagnosticLines = 20

// outputLogger logs companion output line by line and keeps the tail for
// crash diagnostics.
type outputLogger struct {
	log   *slog.Logger
	level slog.Level
	tail  *ringbuffer.Lines

	mu sync.Mutex
	// +checklocks:mu
	partial []byte
}

func newOutputLogger(log *slog.Logger, quiet bool) *outputLogger {
	level := slog.LevelInfo
	if quiet {
		level = slog.LevelDebug
	}
	return &outputLogger{log: log, level: level, tail: ringbuffer.New(0)}
}

func (o *outputLogger) Write(p []byte) (int, error) {
	o.tail.Write(p)

	o.mu.Lock()
	defer o.mu.Unlock()
	o.partial = append(o.partial, p...)
	for {
		i := bytes.IndexByte(o.partial, '\n')
		if i < 0 {
			break
		}
		line := bytes.TrimRight(o.partial[:i], "\r")
		if len(line) > 0 {
			o.log.Log(context.Background(), o.level, "companion output", "line", string(line))
		}
		o.partial = o.partial[i+1:]
	}
	return len(p), nil
}

// diagnostic returns the last lines of output, including an unterminated one.
func (o *outputLogger) diagnostic() string {
	o.tail.Flush()
	return o.tail.String(diagnosticLines)
}
