// Package navigation is the obstacle-avoidance decision loop: it reads
// detection snapshots, decides whether the way ahead is clear and drives the
// actuators, escalating to recovery manoeuvres after repeated failed scans.
package navigation

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/banshee-data/picar.autonav/internal/actuator"
	"github.com/banshee-data/picar.autonav/internal/config"
	"github.com/banshee-data/picar.autonav/internal/monitoring"
	"github.com/banshee-data/picar.autonav/internal/timeutil"
	"github.com/banshee-data/picar.autonav/internal/vision"
)

// Recovery describes one recovery manoeuvre for the journal.
type Recovery struct {
	At          time.Time     `json:"at"`
	Mode        Mode          `json:"mode"`
	Steering    int           `json:"steering"`
	Hold        time.Duration `json:"hold_ns"`
	Reason      string        `json:"reason"`
	FailedScans int           `json:"failed_scans"`
	NoDetection int           `json:"no_detection"`
}

// Journal persists run history. All methods are best effort: errors are
// logged and never stop the robot.
type Journal interface {
	BeginRun(ctx context.Context, started time.Time) (string, error)
	RecordRecovery(ctx context.Context, runID string, r Recovery) error
	FinishRun(ctx context.Context, runID string, s Summary) error
}

// DriverConfig wires a Driver. Settings, Sensor and Actuator are required.
type DriverConfig struct {
	Settings config.Settings
	Sensor   vision.Sensor
	Actuator actuator.Actuator

	Clock   timeutil.Clock     // RealClock if nil
	Rand    *rand.Rand         // time seeded if nil
	Journal Journal            // optional
	Logger  logrus.FieldLogger // monitoring.Component("navigation") if nil
}

// Driver runs the decision loop. A Driver may be run many times but only
// once at a time; the trigger supervisor guarantees that.
type Driver struct {
	settings config.Settings
	sensor   vision.Sensor
	act      actuator.Actuator
	clock    timeutil.Clock
	rng      *rand.Rand
	journal  Journal
	log      logrus.FieldLogger
	eval     Evaluator
	scanner  Scanner

	mu      sync.Mutex
	running bool
	current Counters
	last    *Summary
}

// NewDriver returns a Driver for cfg.
func NewDriver(cfg DriverConfig) *Driver {
	d := &Driver{
		settings: cfg.Settings,
		sensor:   cfg.Sensor,
		act:      cfg.Actuator,
		clock:    cfg.Clock,
		rng:      cfg.Rand,
		journal:  cfg.Journal,
		log:      cfg.Logger,
	}
	if d.clock == nil {
		d.clock = timeutil.RealClock{}
	}
	if d.rng == nil {
		now := uint64(time.Now().UnixNano())
		d.rng = rand.New(rand.NewPCG(now, now>>7))
	}
	if d.log == nil {
		d.log = monitoring.Component("navigation")
	}
	d.eval = Evaluator{Threshold: d.settings.ObstacleAreaThreshold, Log: d.log}
	d.scanner = NewScanner(d.settings, d.act, d.clock, d.rng)
	return d
}

// Run drives until ctx is cancelled or the sensor cannot be opened. However
// it ends, the actuators receive exactly one final Stop and the sensor is
// closed before Run returns. Only a startup failure is returned.
func (d *Driver) Run(ctx context.Context) error {
	started := d.clock.Now()
	stats := newStats(started)
	log := d.log

	runID := ""
	if d.journal != nil {
		id, err := d.journal.BeginRun(context.WithoutCancel(ctx), started)
		if err != nil {
			log.WithError(err).Warn("journal: could not record run start")
		} else {
			runID = id
			log = log.WithField("run_id", runID)
		}
	}

	c := newCounters()
	d.setRunning(true, c)

	opened := false
	var runErr error
	defer func() {
		d.teardown(ctx, log, runID, stats, opened, runErr)
	}()

	if err := d.sensor.Open(); err != nil {
		runErr = fmt.Errorf("open sensor: %w", err)
		return runErr
	}
	opened = true
	log.Info("Detection loop started.")

	d.scanner.Reset(&c)
	for ctx.Err() == nil {
		if err := d.cycle(ctx, &c, stats, log, runID); err != nil {
			break
		}
		d.setRunning(true, c)
	}
	return nil
}

// teardown is the single exit path of a run.
func (d *Driver) teardown(ctx context.Context, log logrus.FieldLogger, runID string, stats *Stats, opened bool, runErr error) {
	d.act.Stop()

	var errs []error
	if opened {
		if err := d.sensor.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close sensor: %w", err))
		}
	}

	summary := stats.Summary(d.clock.Now())
	if runErr != nil {
		summary.Err = runErr.Error()
	}
	if d.journal != nil && runID != "" {
		if err := d.journal.FinishRun(context.WithoutCancel(ctx), runID, summary); err != nil {
			errs = append(errs, fmt.Errorf("journal finish: %w", err))
		}
	}
	if err := errors.Join(errs...); err != nil {
		log.WithError(err).Error("teardown incomplete")
	}

	d.mu.Lock()
	d.running = false
	d.last = &summary
	d.mu.Unlock()

	log.WithFields(logrus.Fields{
		"cycles":     summary.Cycles,
		"recoveries": summary.Recoveries,
		"mean_cycle": summary.MeanCycle,
	}).Info("Detection loop stopped.")
}

// cycle runs one sense, evaluate, act, sleep iteration. It returns an error
// only when ctx was cancelled part way through, in which case no further
// actuator command has been issued.
func (d *Driver) cycle(ctx context.Context, c *Counters, stats *Stats, log logrus.FieldLogger, runID string) error {
	start := d.clock.Now()
	s := d.settings

	if err := d.scanner.Aim(ctx, c); err != nil {
		return err
	}

	snap, err := d.sensor.Sense(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		stats.FrameFailures++
		log.WithError(err).Warn("Frame capture failed.")
		return d.clock.Sleep(ctx, s.CycleDelay)
	}

	tooClose := d.eval.TooClose(snap.Detections, snap.Width, snap.Height)
	if !snap.Empty() && !tooClose {
		c.clearPath()
		d.scanner.Reset(c)
		stats.ClearCycles++
		Apply(Action{Mode: Forward, Power: s.Power, Hold: s.ForwardHold}, d.act)
		if err := d.clock.Sleep(ctx, s.ForwardHold); err != nil {
			return err
		}
	} else {
		d.act.Stop()
		if err := d.clock.Sleep(ctx, s.StopSettle); err != nil {
			return err
		}

		reason := "obstacle"
		if snap.Empty() {
			reason = "no_detections"
			c.NoDetection++
			log.Info("No detections. Waiting for scene to clear.")
		} else {
			log.WithField("labels", snap.Labels()).Info("Obstacle too close. Trying alternative path.")
		}

		if err := d.clock.Sleep(ctx, s.StopPause); err != nil {
			return err
		}
		c.FailedScans++
		stats.FailedScans++
		d.scanner.Miss(c)

		if c.FailedScans >= s.BackupThreshold || c.NoDetection >= s.NoDetectionThreshold {
			if err := d.recover(ctx, c, stats, log, runID, reason); err != nil {
				return err
			}
		}
	}

	stats.observeCycle(d.clock.Since(start))
	return d.clock.Sleep(ctx, s.CycleDelay)
}

// recover advances the movement mode one step and performs it.
func (d *Driver) recover(ctx context.Context, c *Counters, stats *Stats, log logrus.FieldLogger, runID, reason string) error {
	c.Mode = c.Mode.Next()
	a := ActionFor(c.Mode, d.settings, d.rng)

	log.WithFields(logrus.Fields{
		"mode":         a.Mode,
		"steering":     a.Steering,
		"hold":         a.Hold,
		"failed_scans": c.FailedScans,
		"no_detection": c.NoDetection,
	}).Infof("Attempting to move: %s", a.Mode)

	stats.Recoveries++
	if d.journal != nil && runID != "" {
		rec := Recovery{
			At:          d.clock.Now(),
			Mode:        a.Mode,
			Steering:    a.Steering,
			Hold:        a.Hold,
			Reason:      reason,
			FailedScans: c.FailedScans,
			NoDetection: c.NoDetection,
		}
		if err := d.journal.RecordRecovery(context.WithoutCancel(ctx), runID, rec); err != nil {
			log.WithError(err).Warn("journal: could not record recovery")
		}
	}

	Apply(a, d.act)
	if err := d.clock.Sleep(ctx, a.Hold); err != nil {
		return err
	}
	d.act.Stop()
	c.afterRecovery()
	d.scanner.Reset(c)
	return nil
}

func (d *Driver) setRunning(running bool, c Counters) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.running = running
	d.current = c
}

// Status is a snapshot of the driver for the admin API.
type Status struct {
	Running  bool     `json:"running"`
	Counters Counters `json:"counters"`
	LastRun  *Summary `json:"last_run,omitempty"`
}

// Status returns the live counters and the summary of the last finished run.
func (d *Driver) Status() Status {
	d.mu.Lock()
	defer d.mu.Unlock()
	st := Status{Running: d.running, Counters: d.current}
	if d.last != nil {
		last := *d.last
		st.LastRun = &last
	}
	return st
}
