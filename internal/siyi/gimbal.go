package siyi

import (
	"context"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"gimbal-tracker/internal/monitoring"
	"gimbal-tracker/internal/ptz"
)

// MaxSpeed bounds the rotate command on both axes.
const MaxSpeed = 100

// Gimbal exposes typed SIYI commands over a Link. Setters are
// fire-and-forget; getters round-trip through Link.Request.
type Gimbal struct {
	link    *Link
	timeout time.Duration
}

var (
	_ ptz.Controller = (*Gimbal)(nil)
	_ ptz.Telemetry  = (*Gimbal)(nil)
)

// NewGimbal wraps link. requestTimeout bounds every getter.
func NewGimbal(link *Link, requestTimeout time.Duration) *Gimbal {
	if requestTimeout <= 0 {
		requestTimeout = 2 * time.Second
	}
	return &Gimbal{link: link, timeout: requestTimeout}
}

// Link returns the underlying session.
func (g *Gimbal) Link() *Link {
	return g.link
}

// Center returns the gimbal to its home attitude.
func (g *Gimbal) Center() error {
	return g.send(CmdCenter, centerPayload)
}

// Rotate sets yaw and pitch speeds. Values are clamped to ±100.
func (g *Gimbal) Rotate(yaw, pitch int) error {
	payload := []byte{
		byte(int8(clampInt(yaw, -MaxSpeed, MaxSpeed))),
		byte(int8(clampInt(pitch, -MaxSpeed, MaxSpeed))),
	}
	return g.send(CmdRotate, payload)
}

// Stop sends a zero-speed rotate.
func (g *Gimbal) Stop() error {
	return g.Rotate(0, 0)
}

// SetAngle points the gimbal at an absolute attitude in degrees. The
// device clamps to its mechanical range (yaw ±135°, pitch -90°..25°).
func (g *Gimbal) SetAngle(yaw, pitch float64) error {
	payload := make([]byte, 4)
	binary.LittleEndian.PutUint16(payload[0:2], uint16(tenths(yaw)))
	binary.LittleEndian.PutUint16(payload[2:4], uint16(tenths(pitch)))
	return g.send(CmdAngle, payload)
}

// ManualZoom starts zooming in (dir > 0), out (dir < 0) or stops (0).
func (g *Gimbal) ManualZoom(dir int) error {
	return g.send(CmdManualZoom, []byte{byte(int8(clampInt(dir, -1, 1)))})
}

func (g *Gimbal) ZoomIn() error   { return g.ManualZoom(1) }
func (g *Gimbal) ZoomOut() error  { return g.ManualZoom(-1) }
func (g *Gimbal) StopZoom() error { return g.ManualZoom(0) }

// SetZoom requests an absolute zoom level such as 4.5. The level is sent
// as an integer byte and a tenths byte.
func (g *Gimbal) SetZoom(level float64) error {
	if level < 1 || math.Round(level*10) > 2559 {
		return fmt.Errorf("siyi: zoom level %.1f out of range", level)
	}
	whole, frac := splitZoom(level)

	payload := make([]byte, 16)
	payload[10] = whole
	payload[11] = frac
	return g.send(CmdAbsoluteZoom, payload)
}

// AutoFocus triggers a single focus cycle.
func (g *Gimbal) AutoFocus() error {
	return g.send(CmdAutoFocus, autoFocusPayload)
}

// TakePhoto captures a still to the camera's storage.
func (g *Gimbal) TakePhoto() error {
	return g.SetCaptureMode(CapturePhoto)
}

// ToggleRecording starts or stops video recording. The protocol has no
// separate start and stop.
func (g *Gimbal) ToggleRecording() error {
	return g.SetCaptureMode(CaptureRecord)
}

// SetCaptureMode sends one of the CaptureMode functions.
func (g *Gimbal) SetCaptureMode(mode CaptureMode) error {
	return g.send(CmdCaptureMode, []byte{byte(mode)})
}

// send writes a fire-and-forget command. While the link is down setters
// are logged no-ops.
func (g *Gimbal) send(cmd Command, payload []byte) error {
	err := g.link.Send(cmd, payload, false)
	if errors.Is(err, ErrNotConnected) {
		monitoring.Logf("SIYI: Not connected, dropping %s", cmd)
		return nil
	}
	return err
}

// Close ends the session.
func (g *Gimbal) Close() error {
	return g.link.Close()
}

// Attitude reads yaw, pitch and roll.
func (g *Gimbal) Attitude(ctx context.Context) (ptz.Attitude, bool, error) {
	pkt, ok, err := g.request(ctx, CmdAttitude)
	if err != nil || !ok {
		return ptz.Attitude{}, ok, err
	}
	if len(pkt.Payload) < 6 {
		return ptz.Attitude{}, false, fmt.Errorf("%w: attitude payload is %d bytes", ErrMalformedPacket, len(pkt.Payload))
	}
	p := pkt.Payload
	return ptz.Attitude{
		Yaw:   float64(int16(binary.LittleEndian.Uint16(p[0:2]))) / 10,
		Pitch: float64(int16(binary.LittleEndian.Uint16(p[2:4]))) / 10,
		Roll:  float64(int16(binary.LittleEndian.Uint16(p[4:6]))) / 10,
	}, true, nil
}

// Status returns the raw gimbal status payload.
func (g *Gimbal) Status(ctx context.Context) ([]byte, bool, error) {
	pkt, ok, err := g.request(ctx, CmdStatus)
	return pkt.Payload, ok, err
}

// FirmwareVersion returns "major.minor.patch", or the payload in hex when
// it is too short to decode.
func (g *Gimbal) FirmwareVersion(ctx context.Context) (string, bool, error) {
	pkt, ok, err := g.request(ctx, CmdFirmwareVersion)
	if err != nil || !ok {
		return "", ok, err
	}
	p := pkt.Payload
	if len(p) < 3 {
		return hex.EncodeToString(p), true, nil
	}
	return fmt.Sprintf("%d.%d.%d", p[0], p[1], p[2]), true, nil
}

// HardwareID returns the device id string.
func (g *Gimbal) HardwareID(ctx context.Context) (string, bool, error) {
	pkt, ok, err := g.request(ctx, CmdHardwareID)
	if err != nil || !ok {
		return "", ok, err
	}
	return strings.Trim(string(pkt.Payload), "\x00 "), true, nil
}

// MaxZoom returns the highest zoom level the camera supports.
func (g *Gimbal) MaxZoom(ctx context.Context) (float64, bool, error) {
	return g.zoomValue(ctx, CmdMaxZoom)
}

// CurrentZoom returns the present zoom level.
func (g *Gimbal) CurrentZoom(ctx context.Context) (float64, bool, error) {
	return g.zoomValue(ctx, CmdCurrentZoom)
}

// WorkingMode returns the motion mode (lock, follow or fpv).
func (g *Gimbal) WorkingMode(ctx context.Context) (CaptureMode, bool, error) {
	pkt, ok, err := g.request(ctx, CmdWorkingMode)
	if err != nil || !ok {
		return 0, ok, err
	}
	if len(pkt.Payload) < 1 {
		return 0, false, fmt.Errorf("%w: empty working mode payload", ErrMalformedPacket)
	}
	return CaptureMode(pkt.Payload[0]), true, nil
}

func (g *Gimbal) zoomValue(ctx context.Context, cmd Command) (float64, bool, error) {
	pkt, ok, err := g.request(ctx, cmd)
	if err != nil || !ok {
		return 0, ok, err
	}
	if len(pkt.Payload) < 2 {
		return 0, false, fmt.Errorf("%w: %s payload is %d bytes", ErrMalformedPacket, cmd, len(pkt.Payload))
	}
	return float64(pkt.Payload[0]) + float64(pkt.Payload[1])/10, true, nil
}

func (g *Gimbal) request(ctx context.Context, cmd Command) (Packet, bool, error) {
	return g.link.Request(ctx, cmd, nil, g.timeout)
}

// tenths converts degrees to the int16 tenths-of-degree encoding,
// truncating toward zero and saturating at the int16 range.
func tenths(deg float64) int16 {
	v := math.Trunc(deg * 10)
	switch {
	case v > math.MaxInt16:
		return math.MaxInt16
	case v < math.MinInt16:
		return math.MinInt16
	}
	return int16(v)
}

// splitZoom rounds level to one decimal and returns its integer and
// tenths parts.
func splitZoom(level float64) (whole, frac byte) {
	t := int(math.Round(level * 10))
	return byte(t / 10), byte(t % 10)
}

func clampInt(v, min, max int) int {
	if v < min {
		return min
	}
	if v > max {
		return max
	}
	return v
}
