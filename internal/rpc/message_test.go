package rpc

import (
	"encoding/json"
	"testing"
)

func TestMessageArgs(t *testing.T) {
	var msg Message
	if err := json.Unmarshal([]byte(`{"domain":"ngConsoleServer","command":"serverStarted","args":["4200",7,1.5,{"a":1}]}`), &msg); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}

	if n, err := msg.IntArg(0); err != nil || n != 4200 {
		t.Errorf("IntArg(0) = %d, %v", n, err)
	}
	if n, err := msg.IntArg(1); err != nil || n != 7 {
		t.Errorf("IntArg(1) = %d, %v", n, err)
	}
	if _, err := msg.IntArg(2); err == nil {
		t.Error("IntArg(2) accepted a fraction")
	}
	if _, err := msg.IntArg(9); err == nil {
		t.Error("IntArg(9) accepted a missing argument")
	}

	tests := []struct {
		i    int
		want string
	}{
		{0, "4200"},
		{1, "7"},
		{2, "1.5"},
		{3, `{"a":1}`},
	}
	for _, tt := range tests {
		got, err := msg.StringArg(tt.i)
		if err != nil {
			t.Errorf("StringArg(%d) error = %v", tt.i, err)
			continue
		}
		if got != tt.want {
			t.Errorf("StringArg(%d) = %q, want %q", tt.i, got, tt.want)
		}
	}
	if _, err := msg.StringArg(4); err == nil {
		t.Error("StringArg(4) accepted a missing argument")
	}
}

func TestMessageJSONShape(t *testing.T) {
	b, err := json.Marshal(Message{Domain: "ngConsoleServer", Command: "onExit", Args: []any{0}})
	if err != nil {
		t.Fatal(err)
	}
	if got := string(b); got != `{"domain":"ngConsoleServer","command":"onExit","args":[0]}` {
		t.Errorf("Marshal = %s", got)
	}
}
