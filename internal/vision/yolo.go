package vision

import (
	"fmt"
	"image"
	"image/color"
	"os"
	"strings"
	"sync"
	"time"

	"gocv.io/x/gocv"

	"gimbal-tracker/internal/config"
	"gimbal-tracker/internal/frames"
	"gimbal-tracker/internal/metrics"
	"gimbal-tracker/internal/monitoring"
	"gimbal-tracker/internal/tracking"
)

var padColor = color.RGBA{R: 114, G: 114, B: 114}

// YOLO runs a Darknet YOLO model through the OpenCV DNN module. A Net is
// not safe for concurrent use, so Detect serializes on mu.
type YOLO struct {
	mu       sync.Mutex
	net      gocv.Net
	outNames []string

	labels  []string
	targets map[string]bool
	size    int
	conf    float32
	nms     float32
	m       *metrics.Metrics
}

// NewYOLO loads the model named by cfg.
func NewYOLO(cfg config.DetectionConfig, m *metrics.Metrics) (*YOLO, error) {
	labels, err := loadLabels(cfg.Names)
	if err != nil {
		return nil, err
	}

	net := gocv.ReadNet(cfg.Model, cfg.ModelConfig)
	if net.Empty() {
		return nil, fmt.Errorf("failed to load YOLO network from %s and %s", cfg.Model, cfg.ModelConfig)
	}
	if err := net.SetPreferableBackend(gocv.NetBackendDefault); err != nil {
		net.Close()
		return nil, err
	}
	if err := net.SetPreferableTarget(gocv.NetTargetCPU); err != nil {
		net.Close()
		return nil, err
	}

	layers := net.GetLayerNames()
	var outNames []string
	for _, id := range net.GetUnconnectedOutLayers() {
		outNames = append(outNames, layers[id-1])
	}

	y := &YOLO{
		net:      net,
		outNames: outNames,
		labels:   labels,
		size:     cfg.InputSize,
		conf:     float32(cfg.Confidence),
		nms:      float32(cfg.NMS),
		m:        metrics.OrDiscard(m),
	}
	if len(cfg.TargetClasses) > 0 {
		y.targets = make(map[string]bool, len(cfg.TargetClasses))
		for _, c := range cfg.TargetClasses {
			y.targets[c] = true
		}
	}
	monitoring.Logf("Detector: Loaded %s (%d classes, outputs %v)", cfg.Model, len(labels), outNames)
	return y, nil
}

func loadLabels(path string) ([]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("could not read class names: %w", err)
	}
	var labels []string
	for _, line := range strings.Split(string(data), "\n") {
		if line = strings.TrimSpace(line); line != "" {
			labels = append(labels, line)
		}
	}
	return labels, nil
}

// Detect runs one inference pass over f.
func (y *YOLO) Detect(f frames.Frame) ([]tracking.Detection, error) {
	src, release, err := matOf(f)
	if err != nil {
		return nil, err
	}
	defer release()

	y.mu.Lock()
	defer y.mu.Unlock()

	start := time.Now()
	defer func() { y.m.DetectionSeconds.Observe(time.Since(start).Seconds()) }()

	lb := newLetterbox(f.Bounds(), y.size)
	input := y.preprocess(src, lb)
	defer input.Close()

	blob := gocv.BlobFromImage(input, 1.0/255.0, image.Pt(y.size, y.size), gocv.NewScalar(0, 0, 0, 0), true, false)
	defer blob.Close()
	y.net.SetInput(blob, "")

	outputs := y.net.ForwardLayers(y.outNames)
	defer func() {
		for i := range outputs {
			outputs[i].Close()
		}
	}()

	var (
		boxes  []image.Rectangle
		scores []float32
		labels []string
	)
	for _, out := range outputs {
		for r := 0; r < out.Rows(); r++ {
			class, score := -1, float32(0)
			for c := 5; c < out.Cols(); c++ {
				if s := out.GetFloatAt(r, c); s > score {
					class, score = c-5, s
				}
			}
			if class < 0 || score < y.conf {
				continue
			}
			label := y.label(class)
			if y.targets != nil && !y.targets[label] {
				continue
			}
			box := lb.toSource(
				float64(out.GetFloatAt(r, 0)), float64(out.GetFloatAt(r, 1)),
				float64(out.GetFloatAt(r, 2)), float64(out.GetFloatAt(r, 3)))
			if box.Empty() {
				continue
			}
			boxes = append(boxes, box)
			scores = append(scores, score)
			labels = append(labels, label)
		}
	}
	if len(boxes) == 0 {
		return nil, nil
	}

	keep := gocv.NMSBoxes(boxes, scores, y.conf, y.nms)
	dets := make([]tracking.Detection, 0, len(keep))
	for _, i := range keep {
		dets = append(dets, tracking.Detection{
			Label:      labels[i],
			Confidence: float64(scores[i]),
			Box:        boxes[i],
		})
	}
	return dets, nil
}

// preprocess resizes src into the letterbox and pads it with grey.
func (y *YOLO) preprocess(src gocv.Mat, lb letterbox) gocv.Mat {
	resized := gocv.NewMat()
	defer resized.Close()
	gocv.Resize(src, &resized, image.Pt(lb.w, lb.h), 0, 0, gocv.InterpolationCubic)

	padded := gocv.NewMat()
	gocv.CopyMakeBorder(resized, &padded,
		lb.dy, y.size-lb.h-lb.dy,
		lb.dx, y.size-lb.w-lb.dx,
		gocv.BorderConstant, padColor)
	return padded
}

func (y *YOLO) label(class int) string {
	if class < len(y.labels) {
		return y.labels[class]
	}
	return fmt.Sprintf("class %d", class)
}

func (y *YOLO) Close() error {
	y.mu.Lock()
	defer y.mu.Unlock()
	return y.net.Close()
}
