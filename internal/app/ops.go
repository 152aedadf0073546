package app

import (
	"context"
	"errors"
	"image"
	"time"

	"gimbal-tracker/internal/journal"
	"gimbal-tracker/internal/monitoring"
	"gimbal-tracker/internal/ptz"
	"gimbal-tracker/internal/tracking"
)

// Status is a point-in-time view of the loop.
type Status struct {
	Tracking   bool            `json:"tracking"`
	State      string          `json:"state"`
	Backend    string          `json:"backend"`
	Box        image.Rectangle `json:"box"`
	Detections int             `json:"detections"`
	Frame      image.Rectangle `json:"frame"`
	Speed      [2]int          `json:"speed"`
	Attitude   *ptz.Attitude   `json:"attitude,omitempty"`
	Session    string          `json:"session,omitempty"`
}

// SelectBox starts tracking box on the next frame.
func (a *App) SelectBox(box image.Rectangle) error {
	box = box.Canon()
	if box.Empty() {
		return tracking.ErrSelectionFailed
	}
	a.queue(selection{box: box})
	monitoring.Logf("App: Box selection %v queued", box)
	return nil
}

// SelectPoint starts tracking the detection at p: the first box of the
// current snapshot containing p, otherwise the nearest one within
// tolerance pixels.
func (a *App) SelectPoint(p image.Point, tolerance float64) (tracking.Detection, error) {
	dets := a.Detections()
	d, ok := tracking.SelectAt(dets, p, tolerance)
	if !ok {
		monitoring.Logf("App: Click at %v hit none of %d detections", p, len(dets))
		return tracking.Detection{}, ErrNoTarget
	}
	a.queue(selection{box: d.Box})
	monitoring.Logf("App: Selected %s (%.2f) at %v", d.Label, d.Confidence, d.Box)
	return d, nil
}

// HoldPoint keeps the point at normalized coordinates centred by tracking
// a small region around it with a visual tracker.
func (a *App) HoldPoint(xNorm, yNorm float64) (image.Rectangle, error) {
	if xNorm < 0 || xNorm > 1 || yNorm < 0 || yNorm > 1 {
		return image.Rectangle{}, tracking.ErrSelectionFailed
	}
	bounds := a.FrameSize()
	x := bounds.Min.X + int(xNorm*float64(bounds.Dx()))
	y := bounds.Min.Y + int(yNorm*float64(bounds.Dy()))

	size := a.trackCfg.HoldROI
	x0 := max(bounds.Min.X, x-size/2)
	y0 := max(bounds.Min.Y, y-size/2)
	box := image.Rect(x0, y0, x0+size, y0+size)

	a.queue(selection{box: box, visual: true})
	monitoring.Logf("App: Hold point requested at (%d, %d)", x, y)
	return box, nil
}

func (a *App) queue(sel selection) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.pending = &sel
}

// CancelTracking stops tracking and the gimbal. center also returns the
// gimbal home.
func (a *App) CancelTracking(center bool) error {
	a.mu.Lock()
	a.pending = nil
	a.mu.Unlock()

	box, active := a.tracker.Box()
	a.tracker.Stop()
	a.resetControl()
	if active {
		a.endSession(journal.EventCancel, box)
	}

	err := a.gimbal.Stop()
	if center {
		err = errors.Join(err, a.gimbal.Center())
	}
	monitoring.Logf("App: Tracking cancelled (center=%t)", center)
	return err
}

// Tracking reports whether a target is locked.
func (a *App) Tracking() bool {
	return a.tracker.Active()
}

// Nudge rotates the gimbal by hand. Any tracking, and any selection not yet
// applied, is cancelled first.
func (a *App) Nudge(yaw, pitch int) error {
	a.mu.Lock()
	a.pending = nil
	a.mu.Unlock()

	if box, active := a.tracker.Box(); active {
		a.tracker.Stop()
		a.endSession(journal.EventCancel, box)
		monitoring.Logf("App: Manual move cancels tracking")
	}
	a.resetControl()
	return a.gimbal.Rotate(yaw, pitch)
}

// NudgeSpeed is the configured manual rotation speed.
func (a *App) NudgeSpeed() int {
	return a.cfg.NudgeSpeed
}

func (a *App) StopMotion() error {
	return a.gimbal.Stop()
}

// Center returns the gimbal home. It is refused while tracking.
func (a *App) Center() error {
	if a.tracker.Active() {
		monitoring.Logf("App: Center ignored while tracking")
		return ErrTrackingActive
	}
	a.resetControl()
	return a.gimbal.Center()
}

func (a *App) ZoomIn() error          { return a.gimbal.ZoomIn() }
func (a *App) ZoomOut() error         { return a.gimbal.ZoomOut() }
func (a *App) StopZoom() error        { return a.gimbal.StopZoom() }
func (a *App) CapturePhoto() error    { return a.gimbal.TakePhoto() }
func (a *App) ToggleRecording() error { return a.gimbal.ToggleRecording() }

// Detections returns the latest selection snapshot. The slice is shared
// and must not be modified.
func (a *App) Detections() []tracking.Detection {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.detections
}

// FrameSize is the size of the last processed frame, or the configured
// camera size before the first one.
func (a *App) FrameSize() image.Rectangle {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.bounds
}

func (a *App) Status() Status {
	box, active := a.tracker.Box()
	a.ctlMu.Lock()
	speed := a.lastCmd
	a.ctlMu.Unlock()

	a.mu.Lock()
	defer a.mu.Unlock()
	st := Status{
		Tracking:   active,
		State:      a.tracker.State().String(),
		Backend:    a.tracker.Backend(),
		Box:        box,
		Detections: len(a.detections),
		Frame:      a.bounds,
		Speed:      speed,
		Session:    a.session,
	}
	if a.hasAtt {
		att := a.attitude
		st.Attitude = &att
	}
	return st
}

func (a *App) startSession(box image.Rectangle) {
	if a.journal == nil {
		return
	}
	a.mu.Lock()
	prev := a.session
	a.session = ""
	a.mu.Unlock()
	if prev != "" {
		a.closeSession(prev, journal.EventCancel, image.Rectangle{})
	}

	id, err := a.journal.StartSession(a.tracker.Backend())
	if err != nil {
		monitoring.Logf("App: Journal: %v", err)
		return
	}
	if err := a.journal.RecordEvent(id, journal.EventSelect, box); err != nil {
		monitoring.Logf("App: Journal: %v", err)
	}
	a.mu.Lock()
	a.session = id
	a.mu.Unlock()
}

func (a *App) endSession(kind string, box image.Rectangle) {
	if a.journal == nil {
		return
	}
	a.mu.Lock()
	id := a.session
	a.session = ""
	a.mu.Unlock()
	if id != "" {
		a.closeSession(id, kind, box)
	}
}

func (a *App) closeSession(id, kind string, box image.Rectangle) {
	if err := a.journal.RecordEvent(id, kind, box); err != nil {
		monitoring.Logf("App: Journal: %v", err)
	}
	if err := a.journal.EndSession(id); err != nil {
		monitoring.Logf("App: Journal: %v", err)
	}
}

// pollAttitude samples the gimbal attitude until ctx ends.
func (a *App) pollAttitude(ctx context.Context) {
	ticker := time.NewTicker(a.cfg.AttitudePoll)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		att, ok, err := a.telemetry.Attitude(ctx)
		if err != nil {
			monitoring.Logf("App: Attitude query failed: %v", err)
			continue
		}
		if !ok {
			continue
		}
		a.mu.Lock()
		a.attitude, a.hasAtt = att, true
		a.mu.Unlock()

		if a.journal != nil {
			if err := a.journal.RecordAttitude(att); err != nil {
				monitoring.Logf("App: Journal: %v", err)
			}
		}
	}
}
