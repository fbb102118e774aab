package navigation

import (
	"context"
	"math/rand/v2"
	"time"

	"github.com/banshee-data/picar.autonav/internal/actuator"
	"github.com/banshee-data/picar.autonav/internal/config"
	"github.com/banshee-data/picar.autonav/internal/timeutil"
)

// Counters is the per-run state of the decision loop.
type Counters struct {
	NoDetection  int  `json:"no_detection"`
	FailedScans  int  `json:"failed_scans"`
	Mode         Mode `json:"mode"`
	PanAngle     int  `json:"pan_angle"`
	PanDirection int  `json:"pan_direction"`
}

func newCounters() Counters {
	return Counters{Mode: Forward, PanDirection: 1}
}

// clearPath resets everything after a cycle that found a clear way ahead.
func (c *Counters) clearPath() {
	*c = newCounters()
}

// afterRecovery resets the failure counts but keeps the movement mode so the
// next recovery moves on to the following one.
func (c *Counters) afterRecovery() {
	c.NoDetection = 0
	c.FailedScans = 0
	c.PanAngle = 0
	c.PanDirection = 1
}

// Scanner moves the camera or chassis before each reading so the robot looks
// around instead of waiting passively.
type Scanner interface {
	// Aim is called at the top of every cycle.
	Aim(ctx context.Context, c *Counters) error
	// Miss is called after a cycle that did not find a clear path.
	Miss(c *Counters)
	// Reset returns to the rest position.
	Reset(c *Counters)
}

// NewScanner returns the scanner selected by s.ScanMode.
func NewScanner(s config.Settings, act actuator.Actuator, clock timeutil.Clock, rng *rand.Rand) Scanner {
	if s.ScanMode == config.ScanModeSweep {
		return &SweepScanner{act: act, clock: clock, rng: rng, step: s.SweepStepDelay}
	}
	return &PanScanner{act: act, max: s.PanMax, step: s.PanStep, tilt: s.TiltAngle}
}

// PanScanner points the camera gimbal. Every failed scan moves the pan angle
// one step, bouncing between -max and +max.
type PanScanner struct {
	act  actuator.Actuator
	max  int
	step int
	tilt int
}

func (p *PanScanner) Aim(_ context.Context, c *Counters) error {
	p.act.SetPanAngle(c.PanAngle)
	p.act.SetTiltAngle(p.tilt)
	return nil
}

func (p *PanScanner) Miss(c *Counters) {
	if p.step <= 0 || p.max <= 0 {
		return
	}
	if c.PanDirection == 0 {
		c.PanDirection = 1
	}
	c.PanAngle += p.step * c.PanDirection
	if c.PanAngle >= p.max {
		c.PanAngle = p.max
		c.PanDirection = -1
	} else if c.PanAngle <= -p.max {
		c.PanAngle = -p.max
		c.PanDirection = 1
	}
}

func (p *PanScanner) Reset(c *Counters) {
	c.PanAngle = 0
	c.PanDirection = 1
	p.act.SetPanAngle(0)
}

// SweepScanner swings the steering servo across its range one degree at a
// time: from a random start near centre to +35, across to -35, then back to
// centre.
type SweepScanner struct {
	act   actuator.Actuator
	clock timeutil.Clock
	rng   *rand.Rand
	step  time.Duration
}

const (
	sweepLimit  = 35
	sweepJitter = 10
)

// SweepAngles returns the steering angles visited by one sweep from start.
func SweepAngles(start int) []int {
	var out []int
	if start < sweepLimit {
		for a := start; a < sweepLimit; a++ {
			out = append(out, a)
		}
	} else {
		for a := start; a > sweepLimit; a-- {
			out = append(out, a)
		}
	}
	for a := sweepLimit; a > -sweepLimit; a-- {
		out = append(out, a)
	}
	for a := -sweepLimit; a <= 0; a++ {
		out = append(out, a)
	}
	return out
}

func (s *SweepScanner) Aim(ctx context.Context, _ *Counters) error {
	start := s.rng.IntN(2*sweepJitter+1) - sweepJitter
	s.act.SetSteeringAngle(start)
	if err := s.clock.Sleep(ctx, 10*s.step); err != nil {
		return err
	}
	for _, a := range SweepAngles(start) {
		s.act.SetSteeringAngle(a)
		if err := s.clock.Sleep(ctx, s.step); err != nil {
			return err
		}
	}
	return nil
}

func (s *SweepScanner) Miss(*Counters) {}

func (s *SweepScanner) Reset(c *Counters) {
	c.PanAngle = 0
	c.PanDirection = 1
}
