// Package rpc is the host side of the bus shared with the companion server:
// a domain-scoped command dispatcher plus the websocket listener the
// companion dials back into.
package rpc

import (
	"encoding/json"
	"fmt"
	"strconv"
)

// Message is one command exchanged with the peer. Args hold strings or numbers.
type Message struct {
	Domain  string `json:"domain"`
	Command string `json:"command"`
	Args    []any  `json:"args,omitempty"`
}

func (m Message) String() string {
	return fmt.Sprintf("%s.%s/%d", m.Domain, m.Command, len(m.Args))
}

// StringArg returns argument i rendered as a string.
func (m Message) StringArg(i int) (string, error) {
	if i >= len(m.Args) {
		return "", fmt.Errorf("%s: missing argument %d", m.Command, i)
	}
	switch v := m.Args[i].(type) {
	case string:
		return v, nil
	case json.Number:
		return v.String(), nil
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64), nil
	case int:
		return strconv.Itoa(v), nil
	case nil:
		return "", fmt.Errorf("%s: argument %d is null", m.Command, i)
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return "", fmt.Errorf("%s: argument %d: %w", m.Command, i, err)
		}
		return string(b), nil
	}
}

// IntArg returns argument i as an int. Numeric strings are accepted since
// the peer sends every argument as a string.
func (m Message) IntArg(i int) (int, error) {
	if i >= len(m.Args) {
		return 0, fmt.Errorf("%s: missing argument %d", m.Command, i)
	}
	switch v := m.Args[i].(type) {
	case int:
		return v, nil
	case float64:
		if v != float64(int(v)) {
			return 0, fmt.Errorf("%s: argument %d is not an integer: %v", m.Command, i, v)
		}
		return int(v), nil
	case json.Number:
		n, err := v.Int64()
		if err != nil {
			return 0, fmt.Errorf("%s: argument %d: %w", m.Command, i, err)
		}
		return int(n), nil
	case string:
		n, err := strconv.Atoi(v)
		if err != nil {
			return 0, fmt.Errorf("%s: argument %d: %w", m.Command, i, err)
		}
		return n, nil
	default:
		return 0, fmt.Errorf("%s: argument %d has type %T", m.Command, i, v)
	}
}
