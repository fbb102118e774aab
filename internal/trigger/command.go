// Package trigger receives start/stop datagrams and owns the lifecycle of
// the single decision loop they control.
package trigger

import (
	"bytes"
	"fmt"
	"strings"
)

// Command is a decoded trigger payload.
type Command int

const (
	Unknown Command = iota
	Start
	Stop
)

// ParseCommand decodes a datagram. Surrounding whitespace is ignored so
// payloads sent with a trailing newline still match.
func ParseCommand(payload []byte) Command {
	switch string(bytes.TrimSpace(payload)) {
	case "1":
		return Start
	case "0":
		return Stop
	default:
		return Unknown
	}
}

// CommandFromName accepts "start", "stop", "1" or "0".
func CommandFromName(name string) (Command, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "start", "1":
		return Start, nil
	case "stop", "0":
		return Stop, nil
	}
	return Unknown, fmt.Errorf("unknown trigger command %q", name)
}

func (c Command) String() string {
	switch c {
	case Start:
		return "start"
	case Stop:
		return "stop"
	default:
		return "unknown"
	}
}

// MarshalText renders the command by name in JSON.
func (c Command) MarshalText() ([]byte, error) {
	return []byte(c.String()), nil
}

// Payload is the wire form of c. Unknown has no wire form.
func (c Command) Payload() []byte {
	switch c {
	case Start:
		return []byte("1")
	case Stop:
		return []byte("0")
	default:
		return nil
	}
}

// RunState is whether a decision loop is currently running.
type RunState int

const (
	Stopped RunState = iota
	Running
)

func (s RunState) String() string {
	if s == Running {
		return "running"
	}
	return "stopped"
}

// MarshalText renders the state by name in JSON.
func (s RunState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}
