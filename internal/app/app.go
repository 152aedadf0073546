// Package app runs the control loop that keeps the selected target in the
// middle of the frame, and exposes the operations an operator drives it
// with.
package app

import (
	"context"
	"errors"
	"fmt"
	"image"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"gimbal-tracker/internal/config"
	"gimbal-tracker/internal/frames"
	"gimbal-tracker/internal/journal"
	"gimbal-tracker/internal/metrics"
	"gimbal-tracker/internal/monitoring"
	"gimbal-tracker/internal/pid"
	"gimbal-tracker/internal/ptz"
	"gimbal-tracker/internal/tracking"
)

const idleSleep = 10 * time.Millisecond

var (
	// ErrNoTarget means a point selection hit no detection.
	ErrNoTarget = errors.New("app: no detection at the selected point")
	// ErrTrackingActive is returned by operations refused while tracking.
	ErrTrackingActive = errors.New("app: tracking is active")
)

// FrameReader is the non-blocking side of frames.Source.
type FrameReader interface {
	Read() (frames.Frame, bool)
	Seq() uint64
}

// Recorder persists tracking sessions and attitude samples.
type Recorder interface {
	StartSession(backend string) (string, error)
	EndSession(id string) error
	RecordEvent(session, kind string, box image.Rectangle) error
	RecordAttitude(a ptz.Attitude) error
}

// Options wires the control loop's collaborators. Gimbal, Frames and
// Tracker are required.
type Options struct {
	Gimbal  ptz.Controller
	Frames  FrameReader
	Tracker *tracking.Tracker
	// Detector feeds the selection snapshot while idle. Nil disables it.
	Detector tracking.Detector
	// Telemetry is polled for attitude when configured.
	Telemetry ptz.Telemetry
	Journal   Recorder
	Metrics   *metrics.Metrics
	Clock     pid.Clock
}

// selection is a target request applied against the next frame.
type selection struct {
	box    image.Rectangle
	visual bool
}

// App owns the control loop.
type App struct {
	cfg      config.GimbalConfig
	trackCfg config.TrackingConfig
	camera   config.CameraConfig

	gimbal    ptz.Controller
	frames    FrameReader
	tracker   *tracking.Tracker
	detector  tracking.Detector
	telemetry ptz.Telemetry
	journal   Recorder
	m         *metrics.Metrics
	clock     pid.Clock
	tracer    trace.Tracer

	// ctlMu guards the PID state and the move throttle.
	ctlMu    sync.Mutex
	yaw      *pid.Axis
	pitch    *pid.Axis
	lastMove time.Time
	lastCmd  [2]int

	mu         sync.Mutex
	pending    *selection
	detections []tracking.Detection
	bounds     image.Rectangle
	session    string
	attitude   ptz.Attitude
	hasAtt     bool
}

// New builds the control loop from cfg.
func New(cfg config.Config, opts Options) (*App, error) {
	if opts.Gimbal == nil || opts.Frames == nil || opts.Tracker == nil {
		return nil, errors.New("app: gimbal, frames and tracker are required")
	}
	clock := opts.Clock
	if clock == nil {
		clock = time.Now
	}
	yaw, err := pid.NewAxis(gains(cfg.Gimbal.Yaw), clock)
	if err != nil {
		return nil, fmt.Errorf("yaw: %w", err)
	}
	pitch, err := pid.NewAxis(gains(cfg.Gimbal.Pitch), clock)
	if err != nil {
		return nil, fmt.Errorf("pitch: %w", err)
	}

	return &App{
		cfg:       cfg.Gimbal,
		trackCfg:  cfg.Tracking,
		camera:    cfg.Camera,
		gimbal:    opts.Gimbal,
		frames:    opts.Frames,
		tracker:   opts.Tracker,
		detector:  opts.Detector,
		telemetry: opts.Telemetry,
		journal:   opts.Journal,
		m:         metrics.OrDiscard(opts.Metrics),
		clock:     clock,
		tracer:    otel.Tracer("gimbal-tracker/app"),
		yaw:       yaw,
		pitch:     pitch,
		bounds:    image.Rect(0, 0, cfg.Camera.Width, cfg.Camera.Height),
	}, nil
}

func gains(c config.PIDConfig) pid.Gains {
	return pid.Gains{Kp: c.Kp, Ki: c.Ki, Kd: c.Kd, Min: c.Min, Max: c.Max}
}

// Run drives the loop until ctx is cancelled, then stops the gimbal.
func (a *App) Run(ctx context.Context) error {
	if a.telemetry != nil && a.cfg.AttitudePoll > 0 {
		go a.pollAttitude(ctx)
	}
	defer func() {
		if err := a.gimbal.Stop(); err != nil {
			monitoring.Logf("App: Failed to stop gimbal on exit: %v", err)
		}
	}()

	var seen uint64
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		seq := a.frames.Seq()
		f, ok := a.frames.Read()
		if !ok || seq == seen {
			if f != nil {
				frames.Release(f)
			}
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(idleSleep):
			}
			continue
		}
		seen = seq

		a.cycle(ctx, f)
		frames.Release(f)
	}
}

// cycle runs one iteration of the loop on f.
func (a *App) cycle(ctx context.Context, f frames.Frame) {
	ctx, span := a.tracer.Start(ctx, "cycle")
	defer span.End()
	start := time.Now()
	defer func() { a.m.CycleSeconds.Observe(time.Since(start).Seconds()) }()

	bounds := f.Bounds()
	a.mu.Lock()
	a.bounds = bounds
	pending := a.pending
	a.pending = nil
	a.mu.Unlock()

	if pending != nil {
		a.applySelection(f, *pending)
	}

	if a.tracker.Active() {
		span.SetAttributes(attribute.Bool("tracking", true))
		box, err := a.tracker.Update(f)
		switch {
		case err == nil:
			a.steer(box, bounds)
		case errors.Is(err, tracking.ErrNoMatch):
			a.hold()
		case errors.Is(err, tracking.ErrTrackingLost):
			span.RecordError(err)
			span.SetStatus(codes.Error, "target lost")
			a.lost()
		case errors.Is(err, tracking.ErrNotActive):
			// Cancelled while the update was running.
		default:
			monitoring.Logf("App: Tracker update failed: %v", err)
		}
		return
	}

	if a.detector == nil {
		return
	}
	_, detSpan := a.tracer.Start(ctx, "detect")
	dets, err := a.detector.Detect(f)
	if err != nil {
		detSpan.RecordError(err)
		monitoring.Logf("App: Detection failed: %v", err)
		dets = nil
	}
	detSpan.SetAttributes(attribute.Int("detections", len(dets)))
	detSpan.End()
	a.setDetections(dets)
}

func (a *App) applySelection(f frames.Frame, sel selection) {
	box := sel.box.Intersect(f.Bounds())
	var err error
	if sel.visual {
		err = a.tracker.InitVisual(f, box)
	} else {
		err = a.tracker.Init(f, box)
	}
	if err != nil {
		monitoring.Logf("App: Selection %v failed: %v", box, err)
		return
	}

	a.resetControl()
	locked, _ := a.tracker.Box()
	a.startSession(locked)
}

// steer converts the target offset from the frame centre into speeds.
func (a *App) steer(box, bounds image.Rectangle) {
	tx := box.Min.X + box.Dx()/2
	ty := box.Min.Y + box.Dy()/2
	cx := bounds.Min.X + bounds.Dx()/2
	cy := bounds.Min.Y + bounds.Dy()/2

	errX := tx - cx
	errY := ty - cy
	// Image y grows downward; positive pitch tilts up.
	if a.cfg.InvertPitch {
		errY = -errY
	}

	a.ctlMu.Lock()
	defer a.ctlMu.Unlock()
	yaw := a.axisSpeed(a.yaw, errX)
	pitch := a.axisSpeed(a.pitch, errY)
	a.driveLocked(yaw, pitch)
}

// axisSpeed applies the deadzone. Inside it the axis is reset so the
// integral cannot grow while the target is centred.
func (a *App) axisSpeed(axis *pid.Axis, err int) int {
	if abs(err) <= a.cfg.Deadzone {
		axis.Reset()
		return 0
	}
	return int(axis.Update(float64(err)))
}

// hold keeps the gimbal still while the identity is briefly missing.
func (a *App) hold() {
	a.ctlMu.Lock()
	defer a.ctlMu.Unlock()
	a.yaw.Reset()
	a.pitch.Reset()
	a.driveLocked(0, 0)
}

// driveLocked sends at most one motion command per move interval. Zero
// speeds send an explicit stop.
func (a *App) driveLocked(yaw, pitch int) {
	now := a.clock()
	if !a.lastMove.IsZero() && now.Sub(a.lastMove) < a.cfg.MoveInterval {
		return
	}
	a.lastMove = now
	a.lastCmd = [2]int{yaw, pitch}

	if yaw == 0 && pitch == 0 {
		a.m.MotionCommands.WithLabelValues("stop").Inc()
		if err := a.gimbal.Stop(); err != nil {
			monitoring.Logf("App: Stop failed: %v", err)
		}
		return
	}
	a.m.MotionCommands.WithLabelValues("rotate").Inc()
	if err := a.gimbal.Rotate(yaw, pitch); err != nil {
		monitoring.Logf("App: Rotate yaw=%d pitch=%d failed: %v", yaw, pitch, err)
	}
}

func (a *App) lost() {
	monitoring.Logf("App: Tracking lost")
	a.resetControl()
	if err := a.gimbal.Stop(); err != nil {
		monitoring.Logf("App: Stop failed: %v", err)
	}
	a.endSession(journal.EventLost, image.Rectangle{})
}

// resetControl clears both PID axes and the move throttle.
func (a *App) resetControl() {
	a.ctlMu.Lock()
	defer a.ctlMu.Unlock()
	a.yaw.Reset()
	a.pitch.Reset()
	a.lastMove = time.Time{}
	a.lastCmd = [2]int{}
}

func (a *App) setDetections(dets []tracking.Detection) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.detections = dets
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
