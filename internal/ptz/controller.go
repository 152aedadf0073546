package ptz

import (
	"context"
	"fmt"

	"gimbal-tracker/internal/monitoring"
)

// Controller is the motion and camera surface the control loop drives.
type Controller interface {
	// Rotate sets yaw and pitch speeds, each -100..100.
	// Positive yaw turns right, positive pitch tilts up.
	Rotate(yaw, pitch int) error

	// Stop halts rotation immediately.
	Stop() error

	// Center returns the gimbal to its home attitude.
	Center() error

	// ZoomIn, ZoomOut and StopZoom drive continuous zoom.
	ZoomIn() error
	ZoomOut() error
	StopZoom() error

	TakePhoto() error
	ToggleRecording() error

	// Close releases the device connection.
	Close() error
}

// Attitude is the gimbal orientation in degrees.
type Attitude struct {
	Yaw   float64 `json:"yaw"`
	Pitch float64 `json:"pitch"`
	Roll  float64 `json:"roll"`
}

func (a Attitude) String() string {
	return fmt.Sprintf("yaw=%.1f° pitch=%.1f° roll=%.1f°", a.Yaw, a.Pitch, a.Roll)
}

// Telemetry is implemented by controllers that can report their attitude.
// ok is false when the device did not answer in time.
type Telemetry interface {
	Attitude(ctx context.Context) (a Attitude, ok bool, err error)
}

// Offline stands in for the gimbal when it cannot be reached. Every call
// is logged and succeeds, so the rest of the system keeps running.
type Offline struct{}

func (Offline) Rotate(yaw, pitch int) error {
	monitoring.Logf("PTZ: offline, ignoring rotate yaw=%d pitch=%d", yaw, pitch)
	return nil
}

func (Offline) Stop() error {
	monitoring.Logf("PTZ: offline, ignoring stop")
	return nil
}

func (Offline) Center() error {
	monitoring.Logf("PTZ: offline, ignoring center")
	return nil
}

func (Offline) ZoomIn() error          { return offline("zoom in") }
func (Offline) ZoomOut() error         { return offline("zoom out") }
func (Offline) StopZoom() error        { return offline("stop zoom") }
func (Offline) TakePhoto() error       { return offline("take photo") }
func (Offline) ToggleRecording() error { return offline("toggle recording") }
func (Offline) Close() error           { return nil }

func offline(op string) error {
	monitoring.Logf("PTZ: offline, ignoring %s", op)
	return nil
}
