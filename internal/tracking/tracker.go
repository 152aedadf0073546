// Package tracking keeps one selected target locked from frame to frame,
// either with a visual tracker or by following a detector identity.
package tracking

import (
	"errors"
	"fmt"
	"image"
	"sync"

	"gimbal-tracker/internal/config"
	"gimbal-tracker/internal/frames"
	"gimbal-tracker/internal/metrics"
	"gimbal-tracker/internal/monitoring"
	"gimbal-tracker/internal/mot"
)

var (
	// ErrSelectionFailed means Init could not lock onto anything.
	ErrSelectionFailed = errors.New("tracking: selection failed")
	// ErrTrackingLost means the target is gone; the tracker is Idle again.
	ErrTrackingLost = errors.New("tracking: target lost")
	// ErrNoMatch means the locked identity was not seen this frame. The
	// tracker stays Active.
	ErrNoMatch = errors.New("tracking: no match this frame")
	// ErrNotActive is returned by Update while Idle, and when Stop or a
	// new Init overtook the call.
	ErrNotActive = errors.New("tracking: not active")
)

// State of the tracker.
type State int

const (
	Idle State = iota
	Initializing
	Active
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Initializing:
		return "initializing"
	case Active:
		return "active"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// Options wires the tracker's collaborators.
type Options struct {
	// Visual creates visual trackers. Required: hold-point always uses one.
	Visual VisualFactory
	// Detector is required by the identity backend.
	Detector Detector
	Metrics  *metrics.Metrics
}

// Tracker is the target state machine. One mutex guards all state;
// detection passes run outside it.
type Tracker struct {
	primary backend
	visual  *visualBackend
	m       *metrics.Metrics

	mu     sync.Mutex
	state  State
	active backend
	box    image.Rectangle
	// gen advances on every Init and Stop. A detection result computed
	// under an older generation is discarded.
	gen uint64
}

// New builds the backend named by cfg.Backend once.
func New(cfg config.TrackingConfig, opts Options) (*Tracker, error) {
	if opts.Visual == nil {
		return nil, errors.New("tracking: a visual tracker factory is required")
	}
	t := &Tracker{
		visual: &visualBackend{factory: opts.Visual},
		m:      metrics.OrDiscard(opts.Metrics),
	}

	switch cfg.Backend {
	case config.BackendVisual, "":
		t.primary = t.visual
	case config.BackendIdentity:
		if opts.Detector == nil {
			return nil, errors.New("tracking: the identity backend needs a detector")
		}
		radius := cfg.AcceptRadius
		if radius <= 0 {
			radius = 100
		}
		t.primary = &identityBackend{
			detector: opts.Detector,
			motCfg: mot.Config{
				TrackThresh: cfg.TrackThresh,
				HighThresh:  cfg.HighThresh,
				MatchThresh: cfg.MatchThresh,
				TrackBuffer: cfg.TrackBuffer,
			},
			radius:    radius,
			maxMisses: cfg.MaxMisses,
		}
	default:
		return nil, fmt.Errorf("tracking: unknown backend %q", cfg.Backend)
	}
	return t, nil
}

// Init locks onto box in f using the configured backend.
func (t *Tracker) Init(f frames.Frame, box image.Rectangle) error {
	return t.init(t.primary, f, box)
}

// InitVisual locks onto box with a visual tracker whatever the configured
// backend. Used to hold an arbitrary point that no detector would report.
func (t *Tracker) InitVisual(f frames.Frame, box image.Rectangle) error {
	return t.init(t.visual, f, box)
}

func (t *Tracker) init(b backend, f frames.Frame, box image.Rectangle) error {
	t.mu.Lock()
	if t.active != nil {
		t.active.stop()
	}
	t.gen++
	gen := t.gen
	t.state = Initializing
	t.active = b
	t.mu.Unlock()

	dets, derr := b.observe(f)

	t.mu.Lock()
	defer t.mu.Unlock()

	if gen != t.gen {
		return ErrNotActive
	}
	if derr != nil {
		t.idleLocked("selection_failed")
		return fmt.Errorf("%w: detection: %v", ErrSelectionFailed, derr)
	}

	locked, err := b.start(f, box, dets)
	if err != nil {
		t.idleLocked("selection_failed")
		monitoring.Logf("Tracker: Selection at %v failed: %v", box, err)
		return err
	}

	t.state = Active
	t.box = locked
	t.m.TrackerActive.Set(1)
	t.m.TrackingEvents.WithLabelValues("init").Inc()
	monitoring.Logf("Tracker: Initialized (%s) on %v", b.name(), locked)
	return nil
}

// Update advances the lock by one frame and returns the target box.
func (t *Tracker) Update(f frames.Frame) (image.Rectangle, error) {
	t.mu.Lock()
	if t.state != Active {
		t.mu.Unlock()
		return image.Rectangle{}, ErrNotActive
	}
	gen := t.gen
	b := t.active
	t.mu.Unlock()

	dets, derr := b.observe(f)

	t.mu.Lock()
	defer t.mu.Unlock()

	if gen != t.gen || t.state != Active {
		return image.Rectangle{}, ErrNotActive
	}
	if derr != nil {
		// A failed detection pass counts as a frame without the target.
		dets = nil
		monitoring.Logf("Tracker: Detection failed: %v", derr)
	}

	box, err := b.step(f, dets)
	switch {
	case err == nil:
		t.box = box
		return box, nil
	case errors.Is(err, ErrNoMatch):
		t.m.TrackingEvents.WithLabelValues("miss").Inc()
		return image.Rectangle{}, err
	default:
		b.stop()
		t.idleLocked("lost")
		monitoring.Logf("Tracker: Tracking lost: %v", err)
		if !errors.Is(err, ErrTrackingLost) {
			err = fmt.Errorf("%w: %v", ErrTrackingLost, err)
		}
		return image.Rectangle{}, err
	}
}

// Stop returns to Idle at once. A detection pass already running is not
// waited for; its result is dropped.
func (t *Tracker) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.gen++
	if t.active != nil {
		t.active.stop()
	}
	if t.state != Idle {
		t.idleLocked("stop")
	}
}

func (t *Tracker) idleLocked(event string) {
	t.state = Idle
	t.active = nil
	t.box = image.Rectangle{}
	t.m.TrackerActive.Set(0)
	t.m.TrackingEvents.WithLabelValues(event).Inc()
}

// State returns the current state.
func (t *Tracker) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// Active reports whether a target is locked.
func (t *Tracker) Active() bool {
	return t.State() == Active
}

// Box returns the last known target box and whether tracking is active.
func (t *Tracker) Box() (image.Rectangle, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.box, t.state == Active
}

// Backend names the configured strategy.
func (t *Tracker) Backend() string {
	return t.primary.name()
}
