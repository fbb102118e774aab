package actuator

import (
	"fmt"
	"sync"
)

// Op names a recorded actuator call.
type Op string

const (
	OpSteer    Op = "steer"
	OpPan      Op = "pan"
	OpTilt     Op = "tilt"
	OpForward  Op = "forward"
	OpBackward Op = "backward"
	OpStop     Op = "stop"
)

// Command is one recorded actuator call.
type Command struct {
	Op    Op
	Value int
}

func (c Command) String() string {
	if c.Op == OpStop {
		return string(c.Op)
	}
	return fmt.Sprintf("%s(%d)", c.Op, c.Value)
}

// Recorder is an Actuator that keeps every call in order. It is safe for
// concurrent use.
type Recorder struct {
	mu       sync.Mutex
	commands []Command
}

var _ Actuator = (*Recorder)(nil)

func (r *Recorder) add(op Op, v int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.commands = append(r.commands, Command{Op: op, Value: v})
}

func (r *Recorder) SetSteeringAngle(deg int) { r.add(OpSteer, deg) }
func (r *Recorder) SetPanAngle(deg int)      { r.add(OpPan, deg) }
func (r *Recorder) SetTiltAngle(deg int)     { r.add(OpTilt, deg) }
func (r *Recorder) Forward(power int)        { r.add(OpForward, power) }
func (r *Recorder) Backward(power int)       { r.add(OpBackward, power) }
func (r *Recorder) Stop()                    { r.add(OpStop, 0) }

// Commands returns a copy of everything recorded so far.
func (r *Recorder) Commands() []Command {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Command, len(r.commands))
	copy(out, r.commands)
	return out
}

// Count returns how many calls of op were recorded.
func (r *Recorder) Count(op Op) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, c := range r.commands {
		if c.Op == op {
			n++
		}
	}
	return n
}

// Reset forgets all recorded calls.
func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.commands = nil
}
