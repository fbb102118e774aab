package camera

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"gocv.io/x/gocv"

	"github.com/banshee-data/picar.autonav/internal/monitoring"
	"github.com/banshee-data/picar.autonav/internal/vision"
)

// Sensor is a vision.Sensor backed by a local camera and detector.
type Sensor struct {
	cam *VideoCamera
	det Detector
	log logrus.FieldLogger
}

var _ vision.Sensor = (*Sensor)(nil)

// NewSensor pairs a camera with a detector. The sensor owns the camera's
// lifetime but not the detector's, which outlives individual runs.
func NewSensor(cam *VideoCamera, det Detector) *Sensor {
	return &Sensor{cam: cam, det: det, log: monitoring.Component("camera")}
}

func (s *Sensor) Open() error {
	if err := s.cam.Start(); err != nil {
		return err
	}
	w, h := s.cam.Size()
	s.log.WithFields(logrus.Fields{"width": w, "height": h}).Info("camera started")
	return nil
}

func (s *Sensor) Sense(ctx context.Context) (vision.Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return vision.Snapshot{}, err
	}

	frame := gocv.NewMat()
	defer frame.Close()
	if err := s.cam.Read(&frame); err != nil {
		return vision.Snapshot{}, fmt.Errorf("%w: %v", vision.ErrFrameUnavailable, err)
	}

	snap := vision.Snapshot{Width: frame.Cols(), Height: frame.Rows(), Taken: time.Now()}
	dets, err := s.det.Detect(frame)
	if err != nil {
		if errors.Is(err, ErrEmptyFrame) {
			return vision.Snapshot{}, fmt.Errorf("%w: %v", vision.ErrFrameUnavailable, err)
		}
		s.log.WithError(err).Warn("detection failed")
		return snap, nil
	}
	snap.Detections = dets
	return snap, nil
}

func (s *Sensor) Close() error {
	return s.cam.Stop()
}
