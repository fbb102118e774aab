// Package camera captures frames with OpenCV and turns them into detection
// snapshots for the drive loop.
package camera

import (
	"errors"
	"fmt"
	"strconv"
	"sync"

	"gocv.io/x/gocv"
)

var (
	ErrNotStarted = errors.New("camera not started")
	ErrEmptyFrame = errors.New("camera returned an empty frame")
)

// ParseSource turns a device string into what gocv expects: an integer
// device index such as "0", or a file path or stream URL.
func ParseSource(s string) interface{} {
	if n, err := strconv.Atoi(s); err == nil && n >= 0 {
		return n
	}
	return s
}

// VideoCamera wraps a gocv capture device.
type VideoCamera struct {
	source interface{}

	mu      sync.Mutex
	capture *gocv.VideoCapture
	width   int
	height  int
}

// NewVideoCamera returns a camera for source (see ParseSource). Nothing is
// opened until Start.
func NewVideoCamera(source string) *VideoCamera {
	return &VideoCamera{source: ParseSource(source)}
}

// Start opens the device and reads one frame to learn the frame size.
func (c *VideoCamera) Start() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.capture != nil {
		return nil
	}

	capture, err := gocv.OpenVideoCapture(c.source)
	if err != nil {
		return fmt.Errorf("open camera %v: %w", c.source, err)
	}
	// keep only the newest frame queued
	capture.Set(gocv.VideoCaptureBufferSize, 1)

	img := gocv.NewMat()
	defer img.Close()
	if ok := capture.Read(&img); !ok || img.Empty() {
		_ = capture.Close()
		return fmt.Errorf("read first frame from %v: %w", c.source, ErrEmptyFrame)
	}
	c.width, c.height = img.Cols(), img.Rows()
	c.capture = capture
	return nil
}

// Read fills dst with the next frame.
func (c *VideoCamera) Read(dst *gocv.Mat) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.capture == nil {
		return ErrNotStarted
	}
	if ok := c.capture.Read(dst); !ok || dst.Empty() {
		return ErrEmptyFrame
	}
	return nil
}

// Size returns the frame size learned by Start.
func (c *VideoCamera) Size() (width, height int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.width, c.height
}

// Stop releases the device. Calling Stop on a stopped camera is a no-op.
func (c *VideoCamera) Stop() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.capture == nil {
		return nil
	}
	err := c.capture.Close()
	c.capture = nil
	if err != nil {
		return fmt.Errorf("close camera %v: %w", c.source, err)
	}
	return nil
}
