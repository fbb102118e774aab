package actuator

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/sirupsen/logrus/hooks/test"

	"github.com/banshee-data/picar.autonav/internal/serialmux"
)

func TestSerialDriverWritesClampedLines(t *testing.T) {
	port := serialmux.NewFakePort()
	mux := serialmux.NewSerialMux(port)
	d := NewSerialDriver(mux, DefaultLimits())

	d.SetSteeringAngle(45)
	d.SetPanAngle(-5)
	d.SetTiltAngle(-90)
	d.Forward(30)
	d.Backward(250)
	d.Stop()

	want := []string{"STEER 30", "PAN -5", "TILT -35", "FWD 30", "BWD 100", "STOP"}
	got := port.Written()
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("written lines mismatch (-want +got):\n%s", diff)
	}
}

type failingCommander struct{ calls int }

func (f *failingCommander) SendCommand(string) error {
	f.calls++
	return errors.New("port gone")
}

func TestSerialDriverLogsWriteFailures(t *testing.T) {
	logger, hook := test.NewNullLogger()
	cmd := &failingCommander{}
	d := NewSerialDriver(cmd, DefaultLimits())
	d.SetLogger(logger)

	// must not panic or block
	d.Forward(30)
	d.Stop()

	if cmd.calls != 2 {
		t.Errorf("calls = %d, want 2", cmd.calls)
	}
	if len(hook.AllEntries()) != 2 {
		t.Fatalf("log entries = %d, want 2", len(hook.AllEntries()))
	}
	if got := hook.LastEntry().Data["command"]; got != "STOP" {
		t.Errorf("command field = %v", got)
	}
}

func TestRecorder(t *testing.T) {
	var r Recorder
	r.SetPanAngle(5)
	r.Forward(30)
	r.Stop()
	r.Stop()

	want := []Command{{OpPan, 5}, {OpForward, 30}, {OpStop, 0}, {OpStop, 0}}
	if diff := cmp.Diff(want, r.Commands()); diff != "" {
		t.Errorf("Commands() mismatch (-want +got):\n%s", diff)
	}
	if r.Count(OpStop) != 2 {
		t.Errorf("Count(stop) = %d", r.Count(OpStop))
	}
	if s := r.Commands()[1].String(); s != "forward(30)" {
		t.Errorf("String() = %q", s)
	}
	r.Reset()
	if len(r.Commands()) != 0 {
		t.Error("Reset() left commands behind")
	}
}

func TestLimits(t *testing.T) {
	l := DefaultLimits()
	cases := []struct {
		name      string
		got, want int
	}{
		{"steer low", l.Steering(-100), -30},
		{"steer mid", l.Steering(12), 12},
		{"pan high", l.Pan(120), 90},
		{"tilt high", l.Tilt(80), 65},
		{"power negative", l.Power(-1), 0},
		{"power high", l.Power(101), 100},
	}
	for _, c := range cases {
		if c.got != c.want {
			t.Errorf("%s = %d, want %d", c.name, c.got, c.want)
		}
	}
}
