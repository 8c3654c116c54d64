// Package ringbuffer keeps the most recent lines of a process's output.
package ringbuffer

import (
	"strings"
	"sync"
)

// DefaultLines is the capacity used when New is given a non-positive size.
const DefaultLines = 200

// Lines is a thread-safe fixed-capacity line buffer. It implements io.Writer;
// bytes are split on '\n' and the oldest line is overwritten once full.
// A trailing '\r' is dropped from each line.
type Lines struct {
	mu sync.Mutex
	// +checklocks:mu
	lines []string
	// +checklocks:mu
	head int
	// +checklocks:mu
	count int
	// +checklocks:mu
	partial []byte
}

// New returns a buffer holding at most size lines.
func New(size int) *Lines {
	if size <= 0 {
		size = DefaultLines
	}
	return &Lines{lines: make([]string, size)}
}

// Write implements io.Writer. It never fails.
func (b *Lines) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, c := range p {
		if c == '\n' {
			b.store()
			continue
		}
		b.partial = append(b.partial, c)
	}
	return len(p), nil
}

// +checklocks:b.mu
func (b *Lines) store() {
	line := strings.TrimSuffix(string(b.partial), "\r")
	b.partial = b.partial[:0]
	b.lines[b.head] = line
	b.head = (b.head + 1) % len(b.lines)
	if b.count < len(b.lines) {
		b.count++
	}
}

// Flush commits a pending partial line, if any.
func (b *Lines) Flush() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.partial) > 0 {
		b.store()
	}
}

// Tail returns up to n of the newest lines, oldest first.
// n <= 0 returns everything stored.
func (b *Lines) Tail(n int) []string {
	b.mu.Lock()
	defer b.mu.Unlock()

	if n <= 0 || n > b.count {
		n = b.count
	}
	out := make([]string, n)
	size := len(b.lines)
	start := (b.head - n + size) % size
	for i := range n {
		out[i] = b.lines[(start+i)%size]
	}
	return out
}

// String joins the newest n lines with '\n'.
func (b *Lines) String(n int) string {
	return strings.Join(b.Tail(n), "\n")
}

// Len reports how many complete lines are stored.
func (b *Lines) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.count
}

// Reset drops all content.
func (b *Lines) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	clear(b.lines)
	b.head = 0
	b.count = 0
	b.partial = b.partial[:0]
}
