package navigation

import (
	"image"
	"math"
	"math/rand/v2"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"

	"github.com/banshee-data/picar.autonav/internal/vision"
)

func TestNormalizedArea(t *testing.T) {
	tests := []struct {
		name   string
		box    image.Rectangle
		w, h   int
		want   float64
		wantOK bool
	}{
		{"whole frame", image.Rect(0, 0, 640, 480), 640, 480, 1, true},
		{"quarter", image.Rect(0, 0, 320, 240), 640, 480, 0.25, true},
		{"clipped to frame", image.Rect(-100, -100, 320, 240), 640, 480, 0.25, true},
		{"larger than frame", image.Rect(-10, -10, 1000, 1000), 640, 480, 1, true},
		{"outside frame", image.Rect(700, 500, 800, 600), 640, 480, 0, true},
		{"inverted box", image.Rectangle{Min: image.Pt(50, 50), Max: image.Pt(10, 10)}, 100, 100, 0, false},
		{"zero width", image.Rect(10, 10, 10, 50), 100, 100, 0, false},
		{"zero box", image.Rectangle{}, 100, 100, 0, false},
		{"zero frame", image.Rect(0, 0, 10, 10), 0, 480, 0, false},
		{"negative frame", image.Rect(0, 0, 10, 10), 640, -1, 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := NormalizedArea(tt.box, tt.w, tt.h)
			if ok != tt.wantOK {
				t.Fatalf("ok = %v, want %v", ok, tt.wantOK)
			}
			if math.Abs(got-tt.want) > 1e-9 {
				t.Errorf("area = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestEvaluator_ChairScenario(t *testing.T) {
	logger, hook := test.NewNullLogger()
	logger.SetLevel(logrus.DebugLevel)
	e := Evaluator{Threshold: 0.4, Log: logger}

	chair := vision.Detection{Label: "chair", Box: image.Rect(0, 0, 100, 50)}
	if !e.TooClose([]vision.Detection{chair}, 100, 100) {
		t.Fatal("area 0.5 against threshold 0.4 should be too close")
	}
	if hook.LastEntry() == nil || hook.LastEntry().Data["area"] != 0.5 {
		t.Errorf("expected the computed area to be logged, got %+v", hook.LastEntry())
	}
}

func TestEvaluator_ThresholdIsInclusive(t *testing.T) {
	e := Evaluator{Threshold: 0.25}
	exact := vision.Detection{Box: image.Rect(0, 0, 50, 50)}
	if !e.TooClose([]vision.Detection{exact}, 100, 100) {
		t.Error("area equal to the threshold should count as too close")
	}
}

func TestEvaluator_EmptyIsNeverTooClose(t *testing.T) {
	for _, thr := range []float64{0.0001, 0.25, 0.4, 1} {
		e := Evaluator{Threshold: thr}
		if e.TooClose(nil, 640, 480) || e.TooClose([]vision.Detection{}, 640, 480) {
			t.Errorf("empty list too close at threshold %v", thr)
		}
	}
}

func TestEvaluator_SkipsMalformedBoxes(t *testing.T) {
	e := Evaluator{Threshold: 0.25}
	dets := []vision.Detection{
		{Label: "ghost", Box: image.Rectangle{Min: image.Pt(100, 100), Max: image.Pt(0, 0)}},
		{Label: "missing"},
		{Label: "bin", Box: image.Rect(0, 0, 80, 80)},
	}
	if !e.TooClose(dets, 100, 100) {
		t.Error("a valid large box after malformed ones should still be too close")
	}
	if e.TooClose(dets[:2], 100, 100) {
		t.Error("malformed boxes alone should not be too close")
	}
}

func TestEvaluator_InvalidFrameIsNotTooClose(t *testing.T) {
	e := Evaluator{Threshold: 0.25}
	dets := []vision.Detection{{Box: image.Rect(0, 0, 100, 100)}}
	if e.TooClose(dets, 0, 0) {
		t.Error("unknown frame size should not report an obstacle")
	}
}

// TestEvaluator_Property checks random lists: true exactly when some entry
// reaches the threshold.
func TestEvaluator_Property(t *testing.T) {
	rng := rand.New(rand.NewPCG(7, 11))
	const w, h = 640, 480

	for i := 0; i < 500; i++ {
		thr := 0.05 + rng.Float64()*0.9
		e := Evaluator{Threshold: thr}

		n := rng.IntN(6)
		dets := make([]vision.Detection, 0, n)
		anyAbove := false
		for j := 0; j < n; j++ {
			x0, y0 := rng.IntN(w), rng.IntN(h)
			box := image.Rect(x0, y0, x0+1+rng.IntN(w), y0+1+rng.IntN(h))
			area, ok := NormalizedArea(box, w, h)
			if !ok || area < 0 || area > 1 {
				t.Fatalf("NormalizedArea(%v) = %v, %v", box, area, ok)
			}
			if area >= thr {
				anyAbove = true
			}
			dets = append(dets, vision.Detection{Box: box})
		}

		if got := e.TooClose(dets, w, h); got != anyAbove {
			t.Fatalf("case %d: TooClose = %v, want %v (threshold %.3f, %v)", i, got, anyAbove, thr, dets)
		}
	}
}
