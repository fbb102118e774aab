package navigation

import (
	"image"

	"github.com/sirupsen/logrus"

	"github.com/banshee-data/picar.autonav/internal/vision"
)

// NormalizedArea returns the fraction of a width x height frame covered by
// box, clipped to the frame, so the result is always within [0, 1]. It
// reports false when the frame size is invalid or the box is malformed
// (inverted or zero sized).
func NormalizedArea(box image.Rectangle, width, height int) (float64, bool) {
	if width <= 0 || height <= 0 || box.Empty() {
		return 0, false
	}
	visible := box.Intersect(image.Rect(0, 0, width, height))
	if visible.Empty() {
		return 0, true
	}
	return float64(visible.Dx()*visible.Dy()) / float64(width*height), true
}

// Evaluator decides whether anything in a detection list is too close.
type Evaluator struct {
	// Threshold is the normalised area at or above which an object counts
	// as too close.
	Threshold float64
	Log       logrus.FieldLogger
}

// TooClose reports whether any detection covers at least Threshold of the
// frame. Entries with malformed boxes are skipped.
func (e Evaluator) TooClose(dets []vision.Detection, width, height int) bool {
	for _, d := range dets {
		area, ok := NormalizedArea(d.Box, width, height)
		if !ok {
			if e.Log != nil {
				e.Log.WithField("label", d.Label).Debug("skipping detection with unusable box")
			}
			continue
		}
		if e.Log != nil {
			e.Log.WithFields(logrus.Fields{"label": d.Label, "area": area}).Debugf("Normalized Area: %.2f", area)
		}
		if area >= e.Threshold {
			return true
		}
	}
	return false
}
