// Package vision defines the detection snapshots the drive loop consumes and
// the sensors that produce them.
package vision

import (
	"context"
	"errors"
	"image"
	"time"
)

// ErrFrameUnavailable is returned by Sense when no usable frame could be
// acquired this cycle. Callers skip the cycle and try again.
var ErrFrameUnavailable = errors.New("vision: frame unavailable")

// Detection is one recognised object in one frame. Box is in pixel
// coordinates of the frame the detection came from and is never
// canonicalised, so a box with Max below Min stays malformed.
type Detection struct {
	Label      string          `json:"label"`
	Box        image.Rectangle `json:"box"`
	Confidence float64         `json:"confidence"`
}

// Snapshot is the detection list for one frame together with the frame size.
type Snapshot struct {
	Detections []Detection
	Width      int
	Height     int
	Taken      time.Time
}

// Empty reports whether the snapshot holds no detections.
func (s Snapshot) Empty() bool { return len(s.Detections) == 0 }

// Labels returns the label of every detection in order.
func (s Snapshot) Labels() []string {
	out := make([]string, len(s.Detections))
	for i, d := range s.Detections {
		out[i] = d.Label
	}
	return out
}

// Sensor produces detection snapshots. A Sensor is opened at the start of a
// run and closed in the run's teardown.
type Sensor interface {
	Open() error
	// Sense returns the latest snapshot without waiting for a new frame.
	// A failed detection pass yields an empty snapshot; a missing frame
	// yields an error wrapping ErrFrameUnavailable.
	Sense(ctx context.Context) (Snapshot, error)
	Close() error
}
