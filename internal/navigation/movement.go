package navigation

import (
	"math/rand/v2"
	"time"

	"github.com/banshee-data/picar.autonav/internal/actuator"
	"github.com/banshee-data/picar.autonav/internal/config"
)

// Mode is a recovery movement. Recoveries walk the modes round-robin.
type Mode int

const (
	Forward Mode = iota
	Backward
	Right
	Left
	modeCount
)

// Next returns the mode after m in the cycle forward, backward, right, left.
func (m Mode) Next() Mode {
	return (m + 1) % modeCount
}

func (m Mode) String() string {
	switch m {
	case Forward:
		return "forward"
	case Backward:
		return "backward"
	case Right:
		return "right"
	case Left:
		return "left"
	default:
		return "unknown"
	}
}

// ParseMode is the inverse of Mode.String.
func ParseMode(s string) (Mode, bool) {
	for m := Forward; m < modeCount; m++ {
		if m.String() == s {
			return m, true
		}
	}
	return Forward, false
}

// MarshalText renders the mode by name in JSON.
func (m Mode) MarshalText() ([]byte, error) {
	return []byte(m.String()), nil
}

// Action is a concrete movement: where to point the wheels, which way to
// drive and for how long.
type Action struct {
	Mode     Mode
	Steering int
	Power    int
	Hold     time.Duration
}

// Reverse reports whether the action drives backwards.
func (a Action) Reverse() bool { return a.Mode == Backward }

// ActionFor builds the recovery action for mode. Backing up picks a random
// steering side so repeated recoveries do not retrace the same arc.
func ActionFor(mode Mode, s config.Settings, rng *rand.Rand) Action {
	a := Action{Mode: mode, Power: s.Power, Hold: s.RecoveryHold}
	switch mode {
	case Backward:
		a.Steering = s.RecoverySteering
		if rng.IntN(2) == 0 {
			a.Steering = -s.RecoverySteering
		}
		a.Hold = s.BackwardHold
	case Right:
		a.Steering = s.RecoverySteering
	case Left:
		a.Steering = -s.RecoverySteering
	}
	return a
}

// Apply sends a to the actuator: steering first, then drive.
func Apply(a Action, act actuator.Actuator) {
	act.SetSteeringAngle(a.Steering)
	if a.Reverse() {
		act.Backward(a.Power)
		return
	}
	act.Forward(a.Power)
}
