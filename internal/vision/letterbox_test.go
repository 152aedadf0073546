package vision

import (
	"image"
	"testing"

	"github.com/stretchr/testify/assert"

	"gimbal-tracker/internal/config"
)

func TestLetterboxGeometry(t *testing.T) {
	lb := newLetterbox(image.Rect(0, 0, 1280, 720), 416)
	assert.InDelta(t, 0.325, lb.scale, 1e-9)
	assert.Equal(t, 416, lb.w)
	assert.Equal(t, 234, lb.h)
	assert.Equal(t, 0, lb.dx)
	assert.Equal(t, 91, lb.dy)
}

func TestLetterboxToSource(t *testing.T) {
	lb := newLetterbox(image.Rect(0, 0, 1280, 720), 416)

	// The center of the network input is the center of the frame.
	cy := (91 + 117.0) / 416
	got := lb.toSource(0.5, cy, 40.0/416, 40.0/416)
	assert.Equal(t, 640, (got.Min.X+got.Max.X)/2)
	assert.Equal(t, 360, (got.Min.Y+got.Max.Y)/2)
	assert.InDelta(t, 123, got.Dx(), 1)

	// Boxes reaching into the padding are clipped to the frame.
	got = lb.toSource(0.05, 0.2, 0.2, 0.2)
	assert.Equal(t, 0, got.Min.X)
	assert.Equal(t, 0, got.Min.Y)
}

func TestPipeline(t *testing.T) {
	cfg := config.Default().Camera
	cfg.URL = "rtsp://10.0.0.7:8554/main.264"
	cfg.Codec = "h265"
	cfg.Latency = 10
	assert.Equal(t,
		"rtspsrc location=rtsp://10.0.0.7:8554/main.264 latency=10 ! rtph265depay ! h265parse ! avdec_h265 ! videoconvert ! appsink drop=true max-buffers=1",
		Pipeline(cfg))
}

func TestNewVisualFactoryRejectsUnknown(t *testing.T) {
	_, err := NewVisualFactory("mosse")
	assert.Error(t, err)
}
