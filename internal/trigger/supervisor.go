package trigger

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/banshee-data/picar.autonav/internal/monitoring"
)

var (
	// ErrJoinTimeout is returned by Stop when the loop did not exit within
	// the join timeout. The task stays tracked until it does exit.
	ErrJoinTimeout = errors.New("decision loop did not stop within the join timeout")

	// ErrStillTerminating is returned by Start while a loop that timed out
	// on an earlier Stop is still winding down.
	ErrStillTerminating = errors.New("previous decision loop is still terminating")
)

// Runner is the decision loop. Run blocks until ctx is cancelled or the loop
// gives up, and must release everything it acquired before returning.
type Runner interface {
	Run(ctx context.Context) error
}

// Outcome is what a trigger command did.
type Outcome int

const (
	OutcomeIgnored Outcome = iota
	OutcomeStarted
	OutcomeStopped
	OutcomeAlreadyRunning
	OutcomeNotRunning
	OutcomeFailed
	OutcomeRateLimited
)

func (o Outcome) String() string {
	switch o {
	case OutcomeStarted:
		return "started"
	case OutcomeStopped:
		return "stopped"
	case OutcomeAlreadyRunning:
		return "already_running"
	case OutcomeNotRunning:
		return "not_running"
	case OutcomeFailed:
		return "failed"
	case OutcomeRateLimited:
		return "rate_limited"
	default:
		return "ignored"
	}
}

// MarshalText renders the outcome by name in JSON.
func (o Outcome) MarshalText() ([]byte, error) {
	return []byte(o.String()), nil
}

// task is the handle on one spawned decision loop.
type task struct {
	cancel context.CancelFunc
	done   chan struct{}
	err    error
}

func spawn(parent context.Context, r Runner, log logrus.FieldLogger) *task {
	ctx, cancel := context.WithCancel(parent)
	t := &task{cancel: cancel, done: make(chan struct{})}
	go func() {
		defer close(t.done)
		defer cancel()
		t.err = r.Run(ctx)
		if t.err != nil {
			log.WithError(t.err).Error("Detection loop exited with error.")
		}
	}()
	return t
}

func (t *task) requestStop() {
	t.cancel()
}

// awaitTermination waits for the loop to exit. A timeout of zero or less
// waits forever.
func (t *task) awaitTermination(timeout time.Duration) error {
	if timeout <= 0 {
		<-t.done
		return nil
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-t.done:
		return nil
	case <-timer.C:
		return ErrJoinTimeout
	}
}

func (t *task) exited() bool {
	select {
	case <-t.done:
		return true
	default:
		return false
	}
}

// SupervisorOptions configures a Supervisor.
type SupervisorOptions struct {
	// JoinTimeout bounds how long Stop waits for the loop. Zero waits
	// forever.
	JoinTimeout time.Duration
	// Context is the parent of every spawned loop. Background if nil.
	Context context.Context
	Logger  logrus.FieldLogger
}

// Supervisor owns RunState and the single decision loop task. Commands are
// applied one at a time in the order they arrive.
type Supervisor struct {
	runner      Runner
	joinTimeout time.Duration
	base        context.Context
	log         logrus.FieldLogger

	// cmdMu serialises Start and Stop, including the join.
	cmdMu sync.Mutex

	mu        sync.Mutex
	current   *task
	lingering *task
	starts    int
}

// NewSupervisor returns a stopped Supervisor for r.
func NewSupervisor(r Runner, opts SupervisorOptions) *Supervisor {
	s := &Supervisor{
		runner:      r,
		joinTimeout: opts.JoinTimeout,
		base:        opts.Context,
		log:         opts.Logger,
	}
	if s.base == nil {
		s.base = context.Background()
	}
	if s.log == nil {
		s.log = monitoring.Component("trigger")
	}
	return s
}

// Handle applies cmd and reports what happened. Errors are logged, never
// returned: a bad trigger must not take the listener down.
func (s *Supervisor) Handle(cmd Command) Outcome {
	switch cmd {
	case Start:
		out, _ := s.Start()
		return out
	case Stop:
		out, _ := s.Stop()
		return out
	default:
		s.log.Warn("Unknown trigger message received.")
		return OutcomeIgnored
	}
}

// Start spawns the decision loop unless one is already running. It returns
// as soon as the loop goroutine exists.
func (s *Supervisor) Start() (Outcome, error) {
	s.cmdMu.Lock()
	defer s.cmdMu.Unlock()

	s.mu.Lock()
	defer s.mu.Unlock()
	s.reapLocked()

	if s.current != nil {
		s.log.Info("Detection already running.")
		return OutcomeAlreadyRunning, nil
	}
	if s.lingering != nil {
		s.log.WithError(ErrStillTerminating).Error("refusing to start")
		return OutcomeFailed, ErrStillTerminating
	}

	s.log.Info("Starting detection.")
	s.current = spawn(s.base, s.runner, s.log)
	s.starts++
	return OutcomeStarted, nil
}

// Stop cancels the running loop and waits for it to exit, up to the join
// timeout. On timeout the loop is remembered as lingering and RunState is
// Stopped, but Start is refused until the loop actually exits.
func (s *Supervisor) Stop() (Outcome, error) {
	s.cmdMu.Lock()
	defer s.cmdMu.Unlock()

	s.mu.Lock()
	s.reapLocked()
	t := s.current
	s.mu.Unlock()

	if t == nil {
		s.log.Info("Detection is not running.")
		return OutcomeNotRunning, nil
	}

	s.log.Info("Stopping detection.")
	t.requestStop()
	err := t.awaitTermination(s.joinTimeout)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.current = nil
	if err != nil {
		s.lingering = t
		s.log.WithError(err).WithField("join_timeout", s.joinTimeout).Error("Detection loop did not stop in time.")
		return OutcomeFailed, err
	}
	s.log.Info("Detection stopped.")
	return OutcomeStopped, nil
}

// reapLocked forgets tasks that have exited on their own.
func (s *Supervisor) reapLocked() {
	if s.current != nil && s.current.exited() {
		s.current = nil
	}
	if s.lingering != nil && s.lingering.exited() {
		s.lingering = nil
	}
}

// State reports whether a loop is running. A loop that exited on its own
// (for example because the camera failed to open) counts as Stopped.
func (s *Supervisor) State() RunState {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current != nil && !s.current.exited() {
		return Running
	}
	return Stopped
}

// Starts returns how many loops have been spawned.
func (s *Supervisor) Starts() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.starts
}

// Shutdown stops the running loop, if any. It is safe to call when
// nothing is running.
func (s *Supervisor) Shutdown() error {
	if s.State() == Stopped {
		return nil
	}
	_, err := s.Stop()
	return err
}
