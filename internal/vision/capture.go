package vision

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"gocv.io/x/gocv"

	"gimbal-tracker/internal/config"
	"gimbal-tracker/internal/frames"
	"gimbal-tracker/internal/monitoring"
)

var errGrab = errors.New("vision: frame grab failed")

// Capture reads decoded frames from the camera stream.
type Capture struct {
	vc *gocv.VideoCapture
}

// Pipeline returns the low latency GStreamer pipeline for an RTSP URL.
// appsink keeps a single buffer and drops the rest.
func Pipeline(cfg config.CameraConfig) string {
	codec := cfg.Codec
	if codec == "" {
		codec = "h264"
	}
	return fmt.Sprintf("rtspsrc location=%s latency=%d ! rtp%sdepay ! %sparse ! avdec_%s ! videoconvert ! appsink drop=true max-buffers=1",
		cfg.URL, cfg.Latency, codec, codec, codec)
}

// OpenCapture opens cfg.URL. RTSP URLs go through GStreamer first when
// enabled and fall back to the default backend.
func OpenCapture(cfg config.CameraConfig) (*Capture, error) {
	if cfg.GStreamer && strings.HasPrefix(cfg.URL, "rtsp") {
		pipeline := Pipeline(cfg)
		monitoring.Logf("Camera: Opening GStreamer pipeline: %s", pipeline)
		vc, err := gocv.OpenVideoCaptureWithAPI(pipeline, gocv.VideoCaptureGstreamer)
		if err == nil && vc.IsOpened() {
			return &Capture{vc: vc}, nil
		}
		if vc != nil {
			vc.Close()
		}
		monitoring.Logf("Camera: GStreamer failed (%v), falling back to default backend", err)
	}

	vc, err := gocv.OpenVideoCapture(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to open video stream %s: %w", cfg.URL, err)
	}
	if !vc.IsOpened() {
		vc.Close()
		return nil, fmt.Errorf("failed to open video stream %s", cfg.URL)
	}
	vc.Set(gocv.VideoCaptureBufferSize, 1)
	return &Capture{vc: vc}, nil
}

// Grab blocks for the next frame. It returns io.EOF once the stream is
// closed.
func (c *Capture) Grab() (frames.Frame, error) {
	if !c.vc.IsOpened() {
		return nil, io.EOF
	}
	m := gocv.NewMat()
	if ok := c.vc.Read(&m); !ok || m.Empty() {
		m.Close()
		return nil, errGrab
	}
	return NewFrame(m), nil
}

func (c *Capture) Close() error {
	return c.vc.Close()
}
