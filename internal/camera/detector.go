package camera

import (
	"fmt"
	"image"
	"os"
	"strings"
	"sync"

	"gocv.io/x/gocv"

	"github.com/banshee-data/picar.autonav/internal/vision"
)

// Detector finds objects in a frame.
type Detector interface {
	Detect(frame gocv.Mat) ([]vision.Detection, error)
	Close() error
}

// DNNOptions configures a DNNDetector.
type DNNOptions struct {
	Weights       string // .weights or .onnx
	Config        string // .cfg for darknet models, empty for onnx
	Names         string // one class label per line
	InputSize     int    // square network input, 416 if zero
	MinConfidence float32
}

// DNNDetector runs a YOLO style network through OpenCV's dnn module. Each
// output row is cx, cy, w, h, objectness followed by per-class scores, all
// normalised to the network input.
type DNNDetector struct {
	mu         sync.Mutex
	net        gocv.Net
	classNames []string
	inputSize  int
	minConf    float32
}

// NewDNNDetector loads the network and class names.
func NewDNNDetector(opts DNNOptions) (*DNNDetector, error) {
	// OpenCV aborts rather than erroring on a missing model file
	for _, path := range []string{opts.Weights, opts.Config} {
		if path == "" {
			continue
		}
		if _, err := os.Stat(path); err != nil {
			return nil, fmt.Errorf("detector model: %w", err)
		}
	}
	net := gocv.ReadNet(opts.Weights, opts.Config)
	if net.Empty() {
		return nil, fmt.Errorf("failed to load network from %s and %s", opts.Weights, opts.Config)
	}
	_ = net.SetPreferableBackend(gocv.NetBackendDefault)
	_ = net.SetPreferableTarget(gocv.NetTargetCPU)

	namesBytes, err := os.ReadFile(opts.Names)
	if err != nil {
		_ = net.Close()
		return nil, fmt.Errorf("could not read class names: %w", err)
	}
	var names []string
	for _, line := range strings.Split(string(namesBytes), "\n") {
		names = append(names, strings.TrimSpace(line))
	}

	size := opts.InputSize
	if size <= 0 {
		size = 416
	}
	minConf := opts.MinConfidence
	if minConf <= 0 {
		minConf = 0.3
	}
	return &DNNDetector{net: net, classNames: names, inputSize: size, minConf: minConf}, nil
}

// Detect performs one forward pass on frame.
func (d *DNNDetector) Detect(frame gocv.Mat) ([]vision.Detection, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if frame.Empty() {
		return nil, ErrEmptyFrame
	}

	blob := gocv.BlobFromImage(frame, 1.0/255.0, image.Pt(d.inputSize, d.inputSize), gocv.NewScalar(0, 0, 0, 0), true, false)
	defer blob.Close()

	d.net.SetInput(blob, "")
	output := d.net.Forward("")
	defer output.Close()

	if output.Cols() <= 5 {
		return nil, fmt.Errorf("unexpected network output shape %dx%d", output.Rows(), output.Cols())
	}

	fw, fh := float32(frame.Cols()), float32(frame.Rows())
	var dets []vision.Detection
	for i := 0; i < output.Rows(); i++ {
		row := output.RowRange(i, i+1)
		scores := row.ColRange(5, row.Cols())
		_, maxVal, _, maxLoc := gocv.MinMaxLoc(scores)
		classID := maxLoc.X

		if maxVal >= d.minConf && classID < len(d.classNames) {
			cx := row.GetFloatAt(0, 0) * fw
			cy := row.GetFloatAt(0, 1) * fh
			w := row.GetFloatAt(0, 2) * fw
			h := row.GetFloatAt(0, 3) * fh
			left := int(cx - w/2)
			top := int(cy - h/2)
			dets = append(dets, vision.Detection{
				Label:      d.classNames[classID],
				Box:        image.Rect(left, top, left+int(w), top+int(h)),
				Confidence: float64(maxVal),
			})
		}

		scores.Close()
		row.Close()
	}
	return dets, nil
}

// Close releases the network.
func (d *DNNDetector) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.net.Close()
}
