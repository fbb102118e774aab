package navigation

import (
	"context"
	"math/rand/v2"
	"testing"
	"time"

	"github.com/banshee-data/picar.autonav/internal/actuator"
	"github.com/banshee-data/picar.autonav/internal/config"
	"github.com/banshee-data/picar.autonav/internal/timeutil"
)

func TestPanScanner_BouncesWithinLimits(t *testing.T) {
	var rec actuator.Recorder
	p := &PanScanner{act: &rec, max: 30, step: 5}
	c := newCounters()

	var angles []int
	for i := 0; i < 20; i++ {
		p.Miss(&c)
		angles = append(angles, c.PanAngle)
		if c.PanAngle > 30 || c.PanAngle < -30 {
			t.Fatalf("pan angle %d escaped limits", c.PanAngle)
		}
	}
	want := []int{5, 10, 15, 20, 25, 30, 25, 20, 15, 10, 5, 0, -5, -10, -15, -20, -25, -30, -25, -20}
	for i := range want {
		if angles[i] != want[i] {
			t.Fatalf("angles = %v, want %v", angles, want)
		}
	}

	p.Reset(&c)
	if c.PanAngle != 0 || c.PanDirection != 1 {
		t.Errorf("Reset left %+v", c)
	}
	if got := rec.Commands(); len(got) != 1 || got[0] != (actuator.Command{Op: actuator.OpPan, Value: 0}) {
		t.Errorf("Reset commands = %v", got)
	}
}

func TestPanScanner_ZeroStepHoldsStill(t *testing.T) {
	p := &PanScanner{act: &actuator.Recorder{}, max: 30, step: 0}
	c := newCounters()
	p.Miss(&c)
	if c.PanAngle != 0 {
		t.Errorf("PanAngle = %d", c.PanAngle)
	}
}

func TestPanScanner_AimSetsGimbal(t *testing.T) {
	var rec actuator.Recorder
	p := &PanScanner{act: &rec, max: 30, step: 5, tilt: 10}
	c := Counters{PanAngle: -15}
	if err := p.Aim(context.Background(), &c); err != nil {
		t.Fatal(err)
	}
	want := []actuator.Command{{Op: actuator.OpPan, Value: -15}, {Op: actuator.OpTilt, Value: 10}}
	got := rec.Commands()
	if len(got) != 2 || got[0] != want[0] || got[1] != want[1] {
		t.Errorf("Aim commands = %v, want %v", got, want)
	}
}

func TestSweepAngles(t *testing.T) {
	for _, start := range []int{-10, 0, 7, 10} {
		a := SweepAngles(start)
		if a[0] != start {
			t.Errorf("start %d: first angle %d", start, a[0])
		}
		if a[len(a)-1] != 0 {
			t.Errorf("start %d: sweep ends at %d, want 0", start, a[len(a)-1])
		}
		var hitMax, hitMin bool
		for i, v := range a {
			if v == 35 {
				hitMax = true
			}
			if v == -35 {
				hitMin = true
			}
			if i > 0 && abs(v-a[i-1]) > 1 {
				t.Fatalf("start %d: jump from %d to %d", start, a[i-1], v)
			}
		}
		if !hitMax || !hitMin {
			t.Errorf("start %d: sweep did not reach both ends", start)
		}
	}
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}

func TestSweepScanner_StepsThroughAngles(t *testing.T) {
	s := config.DefaultSettings()
	s.ScanMode = config.ScanModeSweep

	var rec actuator.Recorder
	clock := timeutil.NewMockClock(time.Unix(0, 0))
	sc := NewScanner(s, &rec, clock, rand.New(rand.NewPCG(5, 6)))
	if _, ok := sc.(*SweepScanner); !ok {
		t.Fatalf("NewScanner returned %T", sc)
	}

	c := newCounters()
	if err := sc.Aim(context.Background(), &c); err != nil {
		t.Fatal(err)
	}
	cmds := rec.Commands()
	start := cmds[0].Value
	if start < -10 || start > 10 {
		t.Errorf("random start %d outside +-10", start)
	}
	if len(cmds) != len(SweepAngles(start))+1 {
		t.Errorf("commands = %d, want %d", len(cmds), len(SweepAngles(start))+1)
	}
	if rec.Count(actuator.OpSteer) != len(cmds) {
		t.Error("sweep should only move the steering servo")
	}
	sleeps := clock.Sleeps()
	if sleeps[0] != 100*time.Millisecond || sleeps[1] != 10*time.Millisecond {
		t.Errorf("sleeps start %v", sleeps[:2])
	}
}

func TestSweepScanner_StopsOnCancel(t *testing.T) {
	s := config.DefaultSettings()
	var rec actuator.Recorder
	clock := timeutil.NewMockClock(time.Unix(0, 0))
	sc := &SweepScanner{act: &rec, clock: clock, rng: rand.New(rand.NewPCG(1, 1)), step: s.SweepStepDelay}

	ctx, cancel := context.WithCancel(context.Background())
	n := 0
	clock.OnSleep(func(time.Duration) {
		n++
		if n == 5 {
			cancel()
		}
	})
	if err := sc.Aim(ctx, &Counters{}); err == nil {
		t.Fatal("Aim should report cancellation")
	}
	if len(rec.Commands()) != 5 {
		t.Errorf("commands after cancel = %d, want 5", len(rec.Commands()))
	}
}
