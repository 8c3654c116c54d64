package terminal

import (
	"errors"
	"fmt"
	"io"
	"reflect"
	"strings"
	"sync"
	"syscall"
	"testing"
	"time"
)

type recordingSink struct {
	mu     sync.Mutex
	events []string
	exits  chan int
}

func newRecordingSink() *recordingSink {
	return &recordingSink{exits: make(chan int, 16)}
}

func (r *recordingSink) TerminalOutput(text string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, "out:"+text)
}

func (r *recordingSink) TerminalExit(code int) {
	r.mu.Lock()
	r.events = append(r.events, fmt.Sprintf("exit:%d", code))
	r.mu.Unlock()
	r.exits <- code
}

func (r *recordingSink) snapshot() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.events...)
}

func (r *recordingSink) output() string {
	var b strings.Builder
	for _, ev := range r.snapshot() {
		if text, ok := strings.CutPrefix(ev, "out:"); ok {
			b.WriteString(text)
		}
	}
	return b.String()
}

func (r *recordingSink) exitCount() int {
	n := 0
	for _, ev := range r.snapshot() {
		if strings.HasPrefix(ev, "exit:") {
			n++
		}
	}
	return n
}

func waitExit(t *testing.T, sink *recordingSink) int {
	t.Helper()
	select {
	case code := <-sink.exits:
		return code
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for TerminalExit")
		return -1
	}
}

func testConfig() Config {
	return Config{GracePeriod: 200 * time.Millisecond}
}

func TestExecSuccess(t *testing.T) {
	sink := newRecordingSink()
	r := NewRunner(testConfig(), sink)
	defer r.Close()

	if _, err := r.Exec(Request{Cwd: t.TempDir(), Program: "echo", Args: []string{"hi"}}); err != nil {
		t.Fatalf("Exec: %v", err)
	}
	if code := waitExit(t, sink); code != 0 {
		t.Errorf("exit code = %d, want 0", code)
	}

	out := sink.output()
	if !strings.Contains(out, "hi\r\n") {
		t.Errorf("output %q does not contain hi\\r\\n", out)
	}
	if !strings.HasSuffix(out, SuccessBanner) {
		t.Errorf("output %q does not end with success banner", out)
	}
	events := sink.snapshot()
	if events[len(events)-1] != "exit:0" {
		t.Errorf("last event = %q, want exit:0", events[len(events)-1])
	}
}

func TestExecNonZeroExitIsReported(t *testing.T) {
	sink := newRecordingSink()
	r := NewRunner(testConfig(), sink)
	defer r.Close()

	s, err := r.Exec(Request{Program: "sh", Args: []string{"-c", "exit 2"}})
	if err != nil {
		t.Fatalf("Exec: %v", err)
	}
	if code := waitExit(t, sink); code != 2 {
		t.Errorf("exit code = %d, want 2", code)
	}
	if !strings.HasSuffix(sink.output(), FailureBanner) {
		t.Errorf("output %q does not end with failure banner", sink.output())
	}
	<-s.Done()
	if !s.Exited() || s.ExitCode() != 2 {
		t.Errorf("session Exited=%v ExitCode=%d", s.Exited(), s.ExitCode())
	}
}

func TestExecRunsInCwdWithTerminalEnv(t *testing.T) {
	dir := t.TempDir()
	sink := newRecordingSink()
	r := NewRunner(testConfig(), sink)
	defer r.Close()

	if _, err := r.Exec(Request{Cwd: dir, Program: "sh", Args: []string{"-c", "pwd; echo $TERM; stty size"}}); err != nil {
		t.Fatalf("Exec: %v", err)
	}
	waitExit(t, sink)

	out := sink.output()
	for _, want := range []string{dir, termType(), "24 80"} {
		if !strings.Contains(out, want) {
			t.Errorf("output %q missing %q", out, want)
		}
	}
}

func TestExecTerminatesPreviousFirst(t *testing.T) {
	sink := newRecordingSink()
	r := NewRunner(testConfig(), sink)
	defer r.Close()

	first, err := r.Exec(Request{Program: "sleep", Args: []string{"30"}})
	if err != nil {
		t.Fatalf("Exec sleep: %v", err)
	}
	if _, err := r.Exec(Request{Program: "echo", Args: []string{"second"}}); err != nil {
		t.Fatalf("Exec echo: %v", err)
	}

	select {
	case <-first.Done():
	default:
		t.Fatal("previous session still running after second Exec returned")
	}

	firstExit := <-sink.exits
	if firstExit != 128+int(syscall.SIGTERM) {
		t.Errorf("previous session exit = %d, want %d", firstExit, 128+int(syscall.SIGTERM))
	}
	waitExit(t, sink)

	events := sink.snapshot()
	exitIdx, secondIdx := -1, -1
	for i, ev := range events {
		if exitIdx < 0 && strings.HasPrefix(ev, "exit:") {
			exitIdx = i
		}
		if secondIdx < 0 && strings.Contains(ev, "second") {
			secondIdx = i
		}
	}
	if exitIdx < 0 || secondIdx < 0 || exitIdx > secondIdx {
		t.Errorf("previous exit must precede new output, events = %q", events)
	}
}

func TestExecEchoThenSleepReportsOneExitForEcho(t *testing.T) {
	sink := newRecordingSink()
	r := NewRunner(testConfig(), sink)
	defer r.Close()

	echo, err := r.Exec(Request{Cwd: "/tmp", Program: "echo", Args: []string{"hi"}})
	if err != nil {
		t.Fatalf("Exec echo: %v", err)
	}
	if _, err := r.Exec(Request{Cwd: "/tmp", Program: "sleep", Args: []string{"5"}}); err != nil {
		t.Fatalf("Exec sleep: %v", err)
	}
	<-echo.Done()
	if n := sink.exitCount(); n != 1 {
		t.Errorf("exits after second Exec = %d, want 1", n)
	}

	r.Kill()
	waitExit(t, sink)
	waitExit(t, sink)
	if n := sink.exitCount(); n != 2 {
		t.Errorf("total exits = %d, want 2", n)
	}
}

func TestKillIsIdempotent(t *testing.T) {
	sink := newRecordingSink()
	r := NewRunner(testConfig(), sink)
	defer r.Close()

	r.Kill() // nothing running

	s, err := r.Exec(Request{Program: "sleep", Args: []string{"30"}})
	if err != nil {
		t.Fatalf("Exec: %v", err)
	}
	r.Kill()
	r.Kill()
	waitExit(t, sink)
	<-s.Done()
	r.Kill()
	s.Kill()

	time.Sleep(100 * time.Millisecond)
	if n := sink.exitCount(); n != 1 {
		t.Errorf("exit events = %d, want 1", n)
	}
}

func TestKillEscalatesWhenTermIgnored(t *testing.T) {
	sink := newRecordingSink()
	r := NewRunner(testConfig(), sink)
	defer r.Close()

	if _, err := r.Exec(Request{Program: "sh", Args: []string{"-c", "trap '' TERM; echo ready; while :; do sleep 0.05; done"}}); err != nil {
		t.Fatalf("Exec: %v", err)
	}
	deadline := time.Now().Add(2 * time.Second)
	for !strings.Contains(sink.output(), "ready") && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}

	r.Kill()
	if code := waitExit(t, sink); code != 128+int(syscall.SIGKILL) {
		t.Errorf("exit code = %d, want %d", code, 128+int(syscall.SIGKILL))
	}
}

func TestCurrentDoesNotWaitForHandover(t *testing.T) {
	sink := newRecordingSink()
	r := NewRunner(Config{GracePeriod: time.Second}, sink)
	defer r.Close()

	first, err := r.Exec(Request{Program: "sh", Args: []string{"-c", "trap '' TERM; echo ready; while :; do sleep 0.05; done"}})
	if err != nil {
		t.Fatalf("Exec: %v", err)
	}
	deadline := time.Now().Add(2 * time.Second)
	for !strings.Contains(sink.output(), "ready") && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}

	handover := make(chan error, 1)
	go func() {
		_, err := r.Exec(Request{Program: "echo", Args: []string{"next"}})
		handover <- err
	}()
	// Let the second Exec reach the grace-period wait.
	time.Sleep(100 * time.Millisecond)

	begin := time.Now()
	cur := r.Current()
	r.Kill()
	_ = r.Resize(100)
	if elapsed := time.Since(begin); elapsed > 200*time.Millisecond {
		t.Errorf("Current/Kill/Resize blocked %s during handover", elapsed)
	}
	if cur != first {
		t.Errorf("Current() during handover = %v, want the session being replaced", cur)
	}

	if err := <-handover; err != nil {
		t.Fatalf("second Exec: %v", err)
	}
	if r.Current() == first {
		t.Error("Current() still returns the replaced session")
	}
}

func TestExecSpawnFailure(t *testing.T) {
	sink := newRecordingSink()
	r := NewRunner(testConfig(), sink)
	defer r.Close()

	_, err := r.Exec(Request{Program: "definitely-not-a-real-program-xyz"})
	var spawnErr *SpawnError
	if !errors.As(err, &spawnErr) {
		t.Fatalf("Exec error = %v, want *SpawnError", err)
	}
	if spawnErr.Program != "definitely-not-a-real-program-xyz" {
		t.Errorf("SpawnError.Program = %q", spawnErr.Program)
	}
	if r.Current() != nil {
		t.Error("failed spawn left a current session")
	}
	if len(sink.snapshot()) != 0 {
		t.Errorf("failed spawn produced events: %q", sink.snapshot())
	}
}

func TestResize(t *testing.T) {
	sink := newRecordingSink()
	r := NewRunner(testConfig(), sink)
	defer r.Close()

	if err := r.Resize(100); !errors.Is(err, ErrNoSession) {
		t.Errorf("Resize without session = %v, want ErrNoSession", err)
	}

	s, err := r.Exec(Request{Program: "sleep", Args: []string{"30"}})
	if err != nil {
		t.Fatalf("Exec: %v", err)
	}
	if err := r.Resize(132); err != nil {
		t.Errorf("Resize live session: %v", err)
	}
	r.Kill()
	<-s.Done()
	if err := s.Resize(90); !errors.Is(err, ErrNoSession) {
		t.Errorf("Resize after exit = %v, want ErrNoSession", err)
	}
}

type chunkReader struct {
	chunks []string
}

func (c *chunkReader) Read(p []byte) (int, error) {
	if len(c.chunks) == 0 {
		return 0, io.EOF
	}
	n := copy(p, c.chunks[0])
	c.chunks = c.chunks[1:]
	return n, nil
}

func TestPumpSuppressesEchoOnce(t *testing.T) {
	sink := newRecordingSink()
	s := &Session{Request: Request{Program: "npm", Args: []string{"run", "build"}}, sink: sink}

	s.pump(&chunkReader{chunks: []string{"npm run build\r\n", "building\n", "npm run build\r\n"}})

	want := []string{"out:building\r\n", "out:npm run build\r\n"}
	if got := sink.snapshot(); !reflect.DeepEqual(got, want) {
		t.Errorf("events = %q, want %q", got, want)
	}
}

func TestToTerminalLineEndings(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"", ""},
		{"plain", "plain"},
		{"a\nb\n", "a\r\nb\r\n"},
		{"a\r\nb", "a\r\nb"},
		{"mixed\r\nand\n", "mixed\r\nand\r\n"},
		{"progress\r50%\n", "progress\r50%\r\n"},
	}
	for _, tt := range tests {
		if got := toTerminalLineEndings(tt.in); got != tt.want {
			t.Errorf("toTerminalLineEndings(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestParseRequest(t *testing.T) {
	tests := []struct {
		name    string
		payload string
		want    Request
		wantErr bool
	}{
		{
			name:    "full",
			payload: `{"cwd":"/proj/a","program":"npx","args":["nx","build","app"]}`,
			want:    Request{Cwd: "/proj/a", Program: "npx", Args: []string{"nx", "build", "app"}},
		},
		{
			name:    "no args",
			payload: `{"cwd":"/tmp","program":"ls"}`,
			want:    Request{Cwd: "/tmp", Program: "ls"},
		},
		{name: "missing program", payload: `{"cwd":"/tmp"}`, wantErr: true},
		{name: "not json", payload: `npx nx build`, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseRequest(tt.payload)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseRequest() error = %v, wantErr %v", err, tt.wantErr)
			}
			if !tt.wantErr && !reflect.DeepEqual(got, tt.want) {
				t.Errorf("ParseRequest() = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestInvocation(t *testing.T) {
	req := Request{Program: "npx", Args: []string{"nx", "serve"}}
	if got := req.Invocation(); got != "npx nx serve" {
		t.Errorf("Invocation() = %q", got)
	}
}
