package vision

import (
	"context"
	"sync"
)

// Step is one scripted Sense result.
type Step struct {
	Snapshot Snapshot
	Err      error
}

// Scripted is a Sensor that replays a fixed list of results. Once the list
// is exhausted the last step repeats; an empty script always returns an
// empty snapshot of the configured size. It is used by tests and dry runs.
type Scripted struct {
	mu     sync.Mutex
	steps  []Step
	next   int
	width  int
	height int

	opens  int
	closes int
	senses int

	OpenErr  error
	CloseErr error
}

// NewScripted returns a Scripted sensor reporting frames of width x height.
func NewScripted(width, height int, steps ...Step) *Scripted {
	return &Scripted{steps: steps, width: width, height: height}
}

// Empty returns a step with no detections for a width x height frame.
func Empty(width, height int) Step {
	return Step{Snapshot: Snapshot{Width: width, Height: height}}
}

// With returns a step holding the given detections.
func With(width, height int, dets ...Detection) Step {
	return Step{Snapshot: Snapshot{Width: width, Height: height, Detections: dets}}
}

// Unavailable returns a step whose frame could not be acquired.
func Unavailable() Step {
	return Step{Err: ErrFrameUnavailable}
}

func (s *Scripted) Open() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.opens++
	s.next = 0
	return s.OpenErr
}

func (s *Scripted) Sense(ctx context.Context) (Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return Snapshot{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.senses++

	if len(s.steps) == 0 {
		return Snapshot{Width: s.width, Height: s.height}, nil
	}
	i := s.next
	if i >= len(s.steps) {
		i = len(s.steps) - 1
	} else {
		s.next++
	}
	st := s.steps[i]
	return st.Snapshot, st.Err
}

func (s *Scripted) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closes++
	return s.CloseErr
}

// Counts reports how many times each method was called.
func (s *Scripted) Counts() (opens, senses, closes int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.opens, s.senses, s.closes
}
