package navigation

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestStatsSummary(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	s := newStats(start)

	empty := s.Summary(start)
	assert.Zero(t, empty.MeanCycle)
	assert.Zero(t, empty.StdDevCycle)

	s.observeCycle(100 * time.Millisecond)
	one := s.Summary(start)
	assert.Equal(t, 100*time.Millisecond, one.MeanCycle)
	assert.Zero(t, one.StdDevCycle)

	s.observeCycle(200 * time.Millisecond)
	s.observeCycle(300 * time.Millisecond)
	s.Recoveries = 2

	end := start.Add(time.Minute)
	got := s.Summary(end)
	assert.Equal(t, 3, got.Cycles)
	assert.Equal(t, 2, got.Recoveries)
	assert.Equal(t, end, got.Ended)
	assert.InDelta(t, float64(200*time.Millisecond), float64(got.MeanCycle), float64(time.Microsecond))
	assert.InDelta(t, float64(100*time.Millisecond), float64(got.StdDevCycle), float64(time.Microsecond))
}

func TestStatsSummary_WindowIsCapped(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	s := newStats(start)

	for i := 0; i < CycleWindow; i++ {
		s.observeCycle(time.Second)
	}
	// a full window of slower cycles displaces every earlier sample
	for i := 0; i < CycleWindow; i++ {
		s.observeCycle(100 * time.Millisecond)
	}

	got := s.Summary(start)
	assert.Equal(t, 2*CycleWindow, got.Cycles)
	assert.Len(t, s.cycleMillis, CycleWindow)
	assert.InDelta(t, float64(100*time.Millisecond), float64(got.MeanCycle), float64(time.Microsecond))
	assert.InDelta(t, 0, float64(got.StdDevCycle), float64(time.Microsecond))
}
