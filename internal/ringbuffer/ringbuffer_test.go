package ringbuffer

import (
	"fmt"
	"reflect"
	"sync"
	"testing"
)

func TestNew(t *testing.T) {
	if got := len(New(0).lines); got != DefaultLines {
		t.Errorf("New(0) capacity = %d, want %d", got, DefaultLines)
	}
	if got := len(New(7).lines); got != 7 {
		t.Errorf("New(7) capacity = %d, want 7", got)
	}
}

func TestWriteSplitsLines(t *testing.T) {
	tests := []struct {
		name   string
		writes []string
		want   []string
	}{
		{"single", []string{"hello\n"}, []string{"hello"}},
		{"multiple", []string{"a\nb\nc\n"}, []string{"a", "b", "c"}},
		{"partial joined", []string{"par", "tial\n"}, []string{"partial"}},
		{"crlf trimmed", []string{"win\r\n"}, []string{"win"}},
		{"no newline yet", []string{"pending"}, []string{}},
		{"empty line kept", []string{"\n"}, []string{""}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := New(10)
			for _, w := range tt.writes {
				if _, err := b.Write([]byte(w)); err != nil {
					t.Fatalf("Write: %v", err)
				}
			}
			if got := b.Tail(0); !reflect.DeepEqual(got, tt.want) {
				t.Errorf("Tail(0) = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestOverwritesOldest(t *testing.T) {
	b := New(3)
	for i := range 5 {
		fmt.Fprintf(b, "line%d\n", i)
	}
	if b.Len() != 3 {
		t.Fatalf("Len() = %d, want 3", b.Len())
	}
	want := []string{"line2", "line3", "line4"}
	if got := b.Tail(0); !reflect.DeepEqual(got, want) {
		t.Errorf("Tail(0) = %q, want %q", got, want)
	}
	if got := b.String(2); got != "line3\nline4" {
		t.Errorf("String(2) = %q", got)
	}
}

func TestFlushAndReset(t *testing.T) {
	b := New(4)
	b.Write([]byte("tail without newline"))
	b.Flush()
	if got := b.String(0); got != "tail without newline" {
		t.Errorf("after Flush, String(0) = %q", got)
	}
	b.Flush()
	if b.Len() != 1 {
		t.Errorf("second Flush stored an empty line")
	}

	b.Reset()
	if b.Len() != 0 || b.String(0) != "" {
		t.Errorf("Reset left content: %q", b.String(0))
	}
}

func TestConcurrentWrites(t *testing.T) {
	b := New(1000)
	var wg sync.WaitGroup
	for i := range 10 {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			for j := range 50 {
				fmt.Fprintf(b, "w%d-%d\n", n, j)
			}
		}(i)
	}
	wg.Wait()
	if b.Len() != 500 {
		t.Errorf("Len() = %d, want 500", b.Len())
	}
}
