package siyi

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gimbal-tracker/internal/ptz"
)

func newTestGimbal(t *testing.T) (*fakeDevice, *Gimbal) {
	t.Helper()
	cfg := fastConfig()
	// Keep heartbeats out of the way of the command assertions.
	cfg.HeartbeatInterval = time.Hour
	d, l := newFakeDevice(t, cfg)
	d.waitFor(t, CmdHeartbeat)
	return d, NewGimbal(l, 200*time.Millisecond)
}

func TestGimbalSetters(t *testing.T) {
	tests := []struct {
		name    string
		call    func(*Gimbal) error
		cmd     Command
		payload []byte
	}{
		{"center", (*Gimbal).Center, CmdCenter, []byte{0x01}},
		{"rotate", func(g *Gimbal) error { return g.Rotate(50, -30) }, CmdRotate, []byte{0x32, 0xe2}},
		{"rotate clamps", func(g *Gimbal) error { return g.Rotate(250, -250) }, CmdRotate, []byte{0x64, 0x9c}},
		{"stop", (*Gimbal).Stop, CmdRotate, []byte{0x00, 0x00}},
		{"zoom in", (*Gimbal).ZoomIn, CmdManualZoom, []byte{0x01}},
		{"zoom out", (*Gimbal).ZoomOut, CmdManualZoom, []byte{0xff}},
		{"stop zoom", (*Gimbal).StopZoom, CmdManualZoom, []byte{0x00}},
		{"auto focus", (*Gimbal).AutoFocus, CmdAutoFocus, []byte{0x01}},
		{"photo", (*Gimbal).TakePhoto, CmdCaptureMode, []byte{0x00}},
		{"record", (*Gimbal).ToggleRecording, CmdCaptureMode, []byte{0x02}},
		{"follow mode", func(g *Gimbal) error { return g.SetCaptureMode(MotionFollow) }, CmdCaptureMode, []byte{0x04}},
		{"angle", func(g *Gimbal) error { return g.SetAngle(-90.5, 25) }, CmdAngle, []byte{0x77, 0xfc, 0xfa, 0x00}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, g := newTestGimbal(t)
			require.NoError(t, tt.call(g))

			pkt := d.waitFor(t, tt.cmd)
			assert.False(t, pkt.NeedAck())
			assert.Equal(t, tt.payload, pkt.Payload)
		})
	}
}

func TestGimbalSetZoom(t *testing.T) {
	d, g := newTestGimbal(t)

	require.NoError(t, g.SetZoom(4.5))
	pkt := d.waitFor(t, CmdAbsoluteZoom)
	require.Len(t, pkt.Payload, 16)
	assert.Equal(t, byte(4), pkt.Payload[10])
	assert.Equal(t, byte(5), pkt.Payload[11])

	// 2.96 rounds up into the integer part.
	require.NoError(t, g.SetZoom(2.96))
	pkt = d.waitFor(t, CmdAbsoluteZoom)
	assert.Equal(t, byte(3), pkt.Payload[10])
	assert.Equal(t, byte(0), pkt.Payload[11])

	assert.Error(t, g.SetZoom(0.5))
	// 255.96 would round to 256.0, which does not fit the integer byte.
	assert.Error(t, g.SetZoom(255.96))

	require.NoError(t, g.SetZoom(255.94))
	pkt = d.waitFor(t, CmdAbsoluteZoom)
	assert.Equal(t, byte(255), pkt.Payload[10])
	assert.Equal(t, byte(9), pkt.Payload[11])
}

func TestGimbalSettersAreNoOpsWhileDisconnected(t *testing.T) {
	_, g := newTestGimbal(t)
	require.NoError(t, g.Link().Close())

	var c ptz.Controller = g
	assert.NoError(t, c.Rotate(20, 10))
	assert.NoError(t, c.Stop())
	assert.NoError(t, c.Center())
	assert.NoError(t, c.ZoomIn())
	assert.NoError(t, c.TakePhoto())
	assert.NoError(t, c.ToggleRecording())

	_, ok, err := g.Attitude(context.Background())
	assert.False(t, ok)
	assert.ErrorIs(t, err, ErrNotConnected)
}

func TestGimbalAttitude(t *testing.T) {
	d, g := newTestGimbal(t)
	d.setResponder(func(p Packet) [][]byte {
		if p.Cmd != CmdAttitude {
			return nil
		}
		// yaw 10.0, pitch -10.0, roll 0.5
		return [][]byte{Encode(CtrlCommand, 0, CmdAttitude, []byte{0x64, 0x00, 0x9c, 0xff, 0x05, 0x00})}
	})

	att, ok, err := g.Attitude(context.Background())
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, ptz.Attitude{Yaw: 10, Pitch: -10, Roll: 0.5}, att)
}

func TestGimbalAttitudeTimeout(t *testing.T) {
	_, g := newTestGimbal(t)

	_, ok, err := g.Attitude(context.Background())
	assert.NoError(t, err)
	assert.False(t, ok)
}

func TestGimbalAttitudeShortPayload(t *testing.T) {
	d, g := newTestGimbal(t)
	d.setResponder(func(p Packet) [][]byte {
		return [][]byte{Encode(CtrlCommand, 0, p.Cmd, []byte{0x01})}
	})

	_, ok, err := g.Attitude(context.Background())
	assert.False(t, ok)
	assert.ErrorIs(t, err, ErrMalformedPacket)
}

func TestGimbalInfoGetters(t *testing.T) {
	d, g := newTestGimbal(t)
	d.setResponder(func(p Packet) [][]byte {
		var payload []byte
		switch p.Cmd {
		case CmdFirmwareVersion:
			payload = []byte{3, 1, 4, 0}
		case CmdHardwareID:
			payload = []byte("A8MINI\x00\x00")
		case CmdMaxZoom:
			payload = []byte{6, 0}
		case CmdCurrentZoom:
			payload = []byte{2, 5}
		case CmdWorkingMode:
			payload = []byte{byte(MotionLock)}
		default:
			return nil
		}
		return [][]byte{Encode(CtrlCommand, 0, p.Cmd, payload)}
	})
	ctx := context.Background()

	fw, ok, err := g.FirmwareVersion(ctx)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "3.1.4", fw)

	id, _, err := g.HardwareID(ctx)
	require.NoError(t, err)
	assert.Equal(t, "A8MINI", id)

	max, _, err := g.MaxZoom(ctx)
	require.NoError(t, err)
	assert.Equal(t, 6.0, max)

	cur, _, err := g.CurrentZoom(ctx)
	require.NoError(t, err)
	assert.InDelta(t, 2.5, cur, 1e-9)

	mode, _, err := g.WorkingMode(ctx)
	require.NoError(t, err)
	assert.Equal(t, MotionLock, mode)
}

func TestGimbalFirmwareFallsBackToHex(t *testing.T) {
	d, g := newTestGimbal(t)
	d.setResponder(func(p Packet) [][]byte {
		return [][]byte{Encode(CtrlCommand, 0, p.Cmd, []byte{0xab, 0xcd})}
	})

	fw, ok, err := g.FirmwareVersion(context.Background())
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "abcd", fw)
}

func TestGimbalAfterClose(t *testing.T) {
	_, g := newTestGimbal(t)
	require.NoError(t, g.Close())

	assert.ErrorIs(t, g.Rotate(10, 10), ErrNotConnected)
	_, _, err := g.Attitude(context.Background())
	assert.ErrorIs(t, err, ErrNotConnected)
}

func TestTenthsSaturates(t *testing.T) {
	assert.Equal(t, int16(-905), tenths(-90.5))
	assert.Equal(t, int16(32767), tenths(1e6))
	assert.Equal(t, int16(-32768), tenths(-1e6))
}
