package navigation

import (
	"time"

	"gonum.org/v1/gonum/stat"
)

// CycleWindow is how many recent cycle durations feed the timing summary.
const CycleWindow = 4096

// Stats accumulates counts for one run.
type Stats struct {
	Started       time.Time
	Cycles        int
	ClearCycles   int
	FailedScans   int
	Recoveries    int
	FrameFailures int

	// cycleMillis is a ring of the last CycleWindow cycle durations.
	cycleMillis []float64
	next        int
}

func newStats(started time.Time) *Stats {
	return &Stats{Started: started}
}

func (s *Stats) observeCycle(d time.Duration) {
	s.Cycles++
	ms := float64(d) / float64(time.Millisecond)
	if len(s.cycleMillis) < CycleWindow {
		s.cycleMillis = append(s.cycleMillis, ms)
		return
	}
	s.cycleMillis[s.next] = ms
	s.next = (s.next + 1) % CycleWindow
}

// Summary is the end-of-run report. MeanCycle and StdDevCycle cover the last
// CycleWindow cycles.
type Summary struct {
	Started       time.Time     `json:"started"`
	Ended         time.Time     `json:"ended"`
	Cycles        int           `json:"cycles"`
	ClearCycles   int           `json:"clear_cycles"`
	FailedScans   int           `json:"failed_scans"`
	Recoveries    int           `json:"recoveries"`
	FrameFailures int           `json:"frame_failures"`
	MeanCycle     time.Duration `json:"mean_cycle_ns"`
	StdDevCycle   time.Duration `json:"stddev_cycle_ns"`
	Err           string        `json:"error,omitempty"`
}

// Summary reports the run as of ended.
func (s *Stats) Summary(ended time.Time) Summary {
	out := Summary{
		Started:       s.Started,
		Ended:         ended,
		Cycles:        s.Cycles,
		ClearCycles:   s.ClearCycles,
		FailedScans:   s.FailedScans,
		Recoveries:    s.Recoveries,
		FrameFailures: s.FrameFailures,
	}
	switch len(s.cycleMillis) {
	case 0:
	case 1:
		out.MeanCycle = millis(s.cycleMillis[0])
	default:
		mean, std := stat.MeanStdDev(s.cycleMillis, nil)
		out.MeanCycle = millis(mean)
		out.StdDevCycle = millis(std)
	}
	return out
}

func millis(v float64) time.Duration {
	return time.Duration(v * float64(time.Millisecond))
}
