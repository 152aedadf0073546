package vision

import (
	"fmt"
	"image"

	"gocv.io/x/gocv"
	"gocv.io/x/gocv/contrib"

	"gimbal-tracker/internal/config"
	"gimbal-tracker/internal/frames"
	"gimbal-tracker/internal/tracking"
)

// NewVisualFactory returns a factory for the named OpenCV tracker.
func NewVisualFactory(algorithm string) (tracking.VisualFactory, error) {
	var create func() gocv.Tracker
	switch algorithm {
	case config.AlgorithmCSRT, "":
		create = contrib.NewTrackerCSRT
	case config.AlgorithmKCF:
		create = contrib.NewTrackerKCF
	case config.AlgorithmMIL:
		create = gocv.NewTrackerMIL
	default:
		return nil, fmt.Errorf("vision: unknown tracker %q", algorithm)
	}
	return func() (tracking.VisualTracker, error) {
		return &cvTracker{t: create()}, nil
	}, nil
}

type cvTracker struct {
	t gocv.Tracker
}

func (c *cvTracker) Init(f frames.Frame, box image.Rectangle) error {
	if !box.In(f.Bounds()) {
		return fmt.Errorf("box %v outside frame %v", box, f.Bounds())
	}
	m, release, err := matOf(f)
	if err != nil {
		return err
	}
	defer release()
	if !c.t.Init(m, box) {
		return fmt.Errorf("tracker rejected box %v", box)
	}
	return nil
}

func (c *cvTracker) Update(f frames.Frame) (image.Rectangle, bool) {
	m, release, err := matOf(f)
	if err != nil {
		return image.Rectangle{}, false
	}
	defer release()
	box, ok := c.t.Update(m)
	if !ok || box.Empty() {
		return image.Rectangle{}, false
	}
	return box, true
}

func (c *cvTracker) Close() error {
	return c.t.Close()
}
