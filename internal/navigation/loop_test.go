package navigation

import (
	"context"
	"errors"
	"image"
	"math/rand/v2"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/picar.autonav/internal/actuator"
	"github.com/banshee-data/picar.autonav/internal/config"
	"github.com/banshee-data/picar.autonav/internal/testutil"
	"github.com/banshee-data/picar.autonav/internal/timeutil"
	"github.com/banshee-data/picar.autonav/internal/vision"
)

type fakeJournal struct {
	mu         sync.Mutex
	runs       int
	recoveries []Recovery
	finished   []Summary
	beginErr   error
}

func (j *fakeJournal) BeginRun(context.Context, time.Time) (string, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.beginErr != nil {
		return "", j.beginErr
	}
	j.runs++
	return "run-1", nil
}

func (j *fakeJournal) RecordRecovery(_ context.Context, _ string, r Recovery) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.recoveries = append(j.recoveries, r)
	return nil
}

func (j *fakeJournal) FinishRun(_ context.Context, _ string, s Summary) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.finished = append(j.finished, s)
	return nil
}

type harness struct {
	settings config.Settings
	sensor   *vision.Scripted
	rec      *actuator.Recorder
	clock    *timeutil.MockClock
	journal  *fakeJournal
	log      *logrus.Logger
	hook     *test.Hook
	driver   *Driver
}

func newHarness(t *testing.T, s config.Settings, sensor *vision.Scripted) *harness {
	t.Helper()
	logger, hook := test.NewNullLogger()
	logger.SetLevel(logrus.DebugLevel)
	h := &harness{
		settings: s,
		sensor:   sensor,
		rec:      &actuator.Recorder{},
		clock:    timeutil.NewMockClock(time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)),
		journal:  &fakeJournal{},
		log:      logger,
		hook:     hook,
	}
	h.driver = NewDriver(DriverConfig{
		Settings: s,
		Sensor:   sensor,
		Actuator: h.rec,
		Clock:    h.clock,
		Rand:     rand.New(rand.NewPCG(1, 2)),
		Journal:  h.journal,
		Logger:   logger,
	})
	return h
}

// runCycles runs the driver until n end-of-cycle sleeps have happened.
func (h *harness) runCycles(t *testing.T, n int) error {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := 0
	h.clock.OnSleep(func(d time.Duration) {
		if d == h.settings.CycleDelay {
			done++
			if done >= n {
				cancel()
			}
		}
	})
	return h.driver.Run(ctx)
}

// runUntil runs the driver and cancels it during the first sleep of d.
func (h *harness) runUntil(t *testing.T, d time.Duration) error {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	h.clock.OnSleep(func(got time.Duration) {
		if got == d {
			cancel()
		}
	})
	return h.driver.Run(ctx)
}

func box(w, h int) image.Rectangle { return image.Rect(0, 0, w, h) }

func TestDriver_ObstacleStopsTheCar(t *testing.T) {
	s := config.DefaultSettings()
	s.ObstacleAreaThreshold = 0.4
	chair := vision.Detection{Label: "chair", Box: box(100, 50), Confidence: 0.9}
	h := newHarness(t, s, vision.NewScripted(100, 100, vision.With(100, 100, chair)))

	require.NoError(t, h.runCycles(t, 1))

	assert.Equal(t, 0, h.rec.Count(actuator.OpForward), "car must not drive towards a close obstacle")
	assert.Equal(t, 2, h.rec.Count(actuator.OpStop), "cycle stop plus teardown stop")

	entries := testutil.EntriesWithMessage(h.hook, "Obstacle too close. Trying alternative path.")
	require.Len(t, entries, 1, "obstacle message should be logged")
	assert.Equal(t, []string{"chair"}, entries[0].Data["labels"])
}

func TestDriver_ClearPathDrivesForward(t *testing.T) {
	s := config.DefaultSettings()
	bin := vision.Detection{Label: "bin", Box: box(10, 10)}
	h := newHarness(t, s, vision.NewScripted(100, 100, vision.With(100, 100, bin)))

	require.NoError(t, h.runCycles(t, 2))

	assert.Equal(t, 2, h.rec.Count(actuator.OpForward))
	assert.Equal(t, 1, h.rec.Count(actuator.OpStop), "only the teardown stop")
	for _, c := range h.rec.Commands() {
		if c.Op == actuator.OpForward {
			assert.Equal(t, 30, c.Value)
		}
	}

	st := h.driver.Status()
	assert.False(t, st.Running)
	require.NotNil(t, st.LastRun)
	assert.Equal(t, 2, st.LastRun.ClearCycles)
}

func TestDriver_NoDetectionsEscalatesOnThirdCycle(t *testing.T) {
	s := config.DefaultSettings()

	h := newHarness(t, s, vision.NewScripted(640, 480))
	require.NoError(t, h.runCycles(t, 2))
	assert.Equal(t, 0, h.rec.Count(actuator.OpBackward), "no recovery after two empty cycles")

	h = newHarness(t, s, vision.NewScripted(640, 480))
	require.NoError(t, h.runCycles(t, 3))
	assert.Equal(t, 1, h.rec.Count(actuator.OpBackward), "backward recovery on the third empty cycle")
	require.Len(t, h.journal.recoveries, 1)
	assert.Equal(t, Backward, h.journal.recoveries[0].Mode)
	assert.Equal(t, "no_detections", h.journal.recoveries[0].Reason)
	assert.Equal(t, 3*time.Second, h.journal.recoveries[0].Hold)
	assert.Contains(t, h.clock.Sleeps(), 3*time.Second)
}

func TestDriver_RecoveryModesRotate(t *testing.T) {
	h := newHarness(t, config.DefaultSettings(), vision.NewScripted(640, 480))
	require.NoError(t, h.runCycles(t, 12))

	var modes []Mode
	for _, r := range h.journal.recoveries {
		modes = append(modes, r.Mode)
		assert.Equal(t, 3, r.FailedScans)
	}
	assert.Equal(t, []Mode{Backward, Right, Left, Forward}, modes)

	assert.Equal(t, 1, h.rec.Count(actuator.OpBackward))
	// right, left and forward recoveries all drive forwards
	assert.Equal(t, 3, h.rec.Count(actuator.OpForward))

	require.Len(t, h.journal.finished, 1)
	assert.Equal(t, 4, h.journal.finished[0].Recoveries)
	assert.Equal(t, 12, h.journal.finished[0].FailedScans)
}

func TestDriver_ClearPathResetsCounters(t *testing.T) {
	cup := vision.With(100, 100, vision.Detection{Label: "cup", Box: box(5, 5)})
	sensor := vision.NewScripted(100, 100,
		vision.Empty(100, 100),
		vision.Empty(100, 100),
		cup,
		vision.Empty(100, 100),
		vision.Empty(100, 100),
	)
	h := newHarness(t, config.DefaultSettings(), sensor)
	require.NoError(t, h.runCycles(t, 5))

	assert.Equal(t, 0, h.rec.Count(actuator.OpBackward))
	assert.Empty(t, h.journal.recoveries)
	assert.Equal(t, 1, h.rec.Count(actuator.OpForward))
}

func TestDriver_CancelDuringForwardHoldStopsOnce(t *testing.T) {
	s := config.DefaultSettings()
	cup := vision.With(100, 100, vision.Detection{Label: "cup", Box: box(5, 5)})
	h := newHarness(t, s, vision.NewScripted(100, 100, cup))

	require.NoError(t, h.runUntil(t, s.ForwardHold))

	cmds := h.rec.Commands()
	require.NotEmpty(t, cmds)
	assert.Equal(t, 1, h.rec.Count(actuator.OpStop))
	assert.Equal(t, actuator.Command{Op: actuator.OpStop}, cmds[len(cmds)-1])
	assert.Equal(t, actuator.Command{Op: actuator.OpForward, Value: 30}, cmds[len(cmds)-2])
}

func TestDriver_CancelDuringBackwardHold(t *testing.T) {
	s := config.DefaultSettings()
	h := newHarness(t, s, vision.NewScripted(640, 480))

	require.NoError(t, h.runUntil(t, s.BackwardHold))

	cmds := h.rec.Commands()
	require.GreaterOrEqual(t, len(cmds), 2)
	assert.Equal(t, actuator.OpBackward, cmds[len(cmds)-2].Op)
	assert.Equal(t, actuator.Command{Op: actuator.OpStop}, cmds[len(cmds)-1])
	// three cycle stops before the recovery, then the teardown stop
	assert.Equal(t, 4, h.rec.Count(actuator.OpStop))

	opens, _, closes := h.sensor.Counts()
	assert.Equal(t, 1, opens)
	assert.Equal(t, 1, closes)
}

func TestDriver_FrameFailuresSkipCycle(t *testing.T) {
	h := newHarness(t, config.DefaultSettings(), vision.NewScripted(640, 480, vision.Unavailable()))
	require.NoError(t, h.runCycles(t, 3))

	assert.Equal(t, 1, h.rec.Count(actuator.OpStop), "frame failures do not stop the car")
	assert.Equal(t, 0, h.rec.Count(actuator.OpForward))

	last := h.driver.Status().LastRun
	require.NotNil(t, last)
	assert.Equal(t, 3, last.FrameFailures)
	assert.Equal(t, 0, last.Cycles)

	warnings := testutil.EntriesWithMessage(h.hook, "Frame capture failed.")
	require.Len(t, warnings, 3)
	for _, e := range warnings {
		assert.Equal(t, logrus.WarnLevel, e.Level)
	}
}

func TestDriver_SensorOpenFailure(t *testing.T) {
	sensor := vision.NewScripted(640, 480)
	sensor.OpenErr = errors.New("no camera")
	h := newHarness(t, config.DefaultSettings(), sensor)

	err := h.driver.Run(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, sensor.OpenErr)

	assert.Equal(t, []actuator.Command{{Op: actuator.OpStop}}, h.rec.Commands())
	_, senses, closes := sensor.Counts()
	assert.Equal(t, 0, senses)
	assert.Equal(t, 0, closes)

	require.Len(t, h.journal.finished, 1)
	assert.Contains(t, h.journal.finished[0].Err, "no camera")
}

func TestDriver_CloseFailureIsLogged(t *testing.T) {
	sensor := vision.NewScripted(640, 480)
	sensor.CloseErr = errors.New("device busy")
	h := newHarness(t, config.DefaultSettings(), sensor)

	require.NoError(t, h.runCycles(t, 1))

	entries := testutil.EntriesWithMessage(h.hook, "teardown incomplete")
	require.Len(t, entries, 1)
	assert.Equal(t, logrus.ErrorLevel, entries[0].Level)
	assert.Equal(t, "Detection loop stopped.", h.hook.LastEntry().Message)
}

func TestDriver_JournalFailureDoesNotStopRun(t *testing.T) {
	h := newHarness(t, config.DefaultSettings(), vision.NewScripted(640, 480))
	h.journal.beginErr = errors.New("disk full")

	require.NoError(t, h.runCycles(t, 3))
	assert.Equal(t, 1, h.rec.Count(actuator.OpBackward))
	assert.Empty(t, h.journal.recoveries, "recoveries need a run id")
	assert.Empty(t, h.journal.finished)
}

func TestDriver_SweepScanMode(t *testing.T) {
	s := config.DefaultSettings()
	s.ScanMode = config.ScanModeSweep
	// keep the cycle delay distinct from the 10-step sweep pause
	s.CycleDelay = 250 * time.Millisecond
	cup := vision.With(100, 100, vision.Detection{Label: "cup", Box: box(5, 5)})
	h := newHarness(t, s, vision.NewScripted(100, 100, cup))

	require.NoError(t, h.runCycles(t, 2))

	assert.Equal(t, 0, h.rec.Count(actuator.OpPan), "sweep mode leaves the gimbal alone")
	// SweepAngles(10) is the shortest sweep a random start can produce
	assert.Greater(t, h.rec.Count(actuator.OpSteer), 2*len(SweepAngles(10)))
	assert.Equal(t, 2, h.rec.Count(actuator.OpForward))
}

func TestDriver_PanAdvancesOnMiss(t *testing.T) {
	s := config.DefaultSettings()
	s.NoDetectionThreshold = 10
	s.BackupThreshold = 10
	h := newHarness(t, s, vision.NewScripted(640, 480))

	require.NoError(t, h.runCycles(t, 3))

	var pans []int
	for _, c := range h.rec.Commands() {
		if c.Op == actuator.OpPan {
			pans = append(pans, c.Value)
		}
	}
	// rest position, then one aim per cycle
	assert.Equal(t, []int{0, 0, 5, 10}, pans)
}

func TestDriver_StatusWhileRunning(t *testing.T) {
	s := config.DefaultSettings()
	h := newHarness(t, s, vision.NewScripted(640, 480))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	var during Status
	cycles := 0
	h.clock.OnSleep(func(d time.Duration) {
		if d == s.CycleDelay {
			cycles++
			if cycles == 2 {
				during = h.driver.Status()
				cancel()
			}
		}
	})
	require.NoError(t, h.driver.Run(ctx))

	assert.True(t, during.Running)
	assert.Equal(t, 1, during.Counters.NoDetection)
	assert.False(t, h.driver.Status().Running)
}
