package tracking

import (
	"fmt"
	"image"

	"gimbal-tracker/internal/frames"
	"gimbal-tracker/internal/mot"
	"gimbal-tracker/internal/monitoring"
)

// VisualTracker follows one region from frame to frame without a detector.
type VisualTracker interface {
	Init(f frames.Frame, box image.Rectangle) error
	// Update returns the new box, or ok=false once the target is lost.
	Update(f frames.Frame) (box image.Rectangle, ok bool)
	Close() error
}

// VisualFactory creates a fresh visual tracker for each selection.
type VisualFactory func() (VisualTracker, error)

// backend is the closed set of tracking strategies. observe runs outside
// the tracker lock; the other methods run under it.
type backend interface {
	name() string
	observe(f frames.Frame) ([]Detection, error)
	start(f frames.Frame, box image.Rectangle, dets []Detection) (image.Rectangle, error)
	step(f frames.Frame, dets []Detection) (image.Rectangle, error)
	stop()
}

type visualBackend struct {
	factory VisualFactory
	vt      VisualTracker
}

func (b *visualBackend) name() string { return "visual" }

func (b *visualBackend) observe(frames.Frame) ([]Detection, error) {
	return nil, nil
}

func (b *visualBackend) start(f frames.Frame, box image.Rectangle, _ []Detection) (image.Rectangle, error) {
	b.stop()
	if box.Empty() {
		return image.Rectangle{}, fmt.Errorf("%w: empty box %v", ErrSelectionFailed, box)
	}
	vt, err := b.factory()
	if err != nil {
		return image.Rectangle{}, fmt.Errorf("%w: %v", ErrSelectionFailed, err)
	}
	if err := vt.Init(f, box); err != nil {
		vt.Close()
		return image.Rectangle{}, fmt.Errorf("%w: %v", ErrSelectionFailed, err)
	}
	b.vt = vt
	return box, nil
}

func (b *visualBackend) step(f frames.Frame, _ []Detection) (image.Rectangle, error) {
	if b.vt == nil {
		return image.Rectangle{}, ErrNotActive
	}
	box, ok := b.vt.Update(f)
	if !ok {
		return image.Rectangle{}, ErrTrackingLost
	}
	return box, nil
}

func (b *visualBackend) stop() {
	if b.vt != nil {
		b.vt.Close()
		b.vt = nil
	}
}

type identityBackend struct {
	detector  Detector
	motCfg    mot.Config
	radius    float64
	maxMisses int

	mt     *mot.Tracker
	id     int
	misses int
}

func (b *identityBackend) name() string { return "identity" }

func (b *identityBackend) observe(f frames.Frame) ([]Detection, error) {
	return b.detector.Detect(f)
}

func (b *identityBackend) start(_ frames.Frame, box image.Rectangle, dets []Detection) (image.Rectangle, error) {
	b.stop()

	cx, cy := centerOf(box)
	idx, dist := Nearest(dets, cx, cy)
	if idx < 0 {
		return image.Rectangle{}, fmt.Errorf("%w: no detections", ErrSelectionFailed)
	}
	if dist > b.radius {
		return image.Rectangle{}, fmt.Errorf("%w: nearest detection is %.0f px away", ErrSelectionFailed, dist)
	}

	// The pick is seeded directly; mot's birth threshold only gates
	// detections nobody selected.
	b.mt = mot.NewTracker(b.motCfg)
	tr := b.mt.Seed(toMOT(dets[idx : idx+1])[0])
	b.id = tr.ID
	monitoring.Logf("Tracker: Locked on identity %d (%s %.2f, %.0f px from selection)", tr.ID, dets[idx].Label, dets[idx].Confidence, dist)
	return dets[idx].Box, nil
}

func (b *identityBackend) step(_ frames.Frame, dets []Detection) (image.Rectangle, error) {
	if b.mt == nil {
		return image.Rectangle{}, ErrNotActive
	}
	for _, tr := range b.mt.Update(toMOT(dets)) {
		if tr.ID == b.id {
			b.misses = 0
			return tr.Box.Rect(), nil
		}
	}

	b.misses++
	if b.maxMisses > 0 && b.misses >= b.maxMisses {
		return image.Rectangle{}, fmt.Errorf("%w: identity %d missing for %d frames", ErrTrackingLost, b.id, b.misses)
	}
	return image.Rectangle{}, ErrNoMatch
}

func (b *identityBackend) stop() {
	b.mt = nil
	b.id = 0
	b.misses = 0
}

func toMOT(dets []Detection) []mot.Detection {
	out := make([]mot.Detection, len(dets))
	for i, d := range dets {
		out[i] = mot.Detection{Box: mot.BoxFromRect(d.Box), Score: d.Confidence}
	}
	return out
}
