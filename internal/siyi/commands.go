package siyi

import "fmt"

// Command is a protocol command id.
type Command byte

const (
	CmdHeartbeat       Command = 0x00
	CmdFirmwareVersion Command = 0x01
	CmdHardwareID      Command = 0x02
	CmdAutoFocus       Command = 0x04
	CmdManualZoom      Command = 0x05
	CmdRotate          Command = 0x07
	CmdCenter          Command = 0x08
	CmdStatus          Command = 0x0A
	CmdCaptureMode     Command = 0x0C
	CmdAttitude        Command = 0x0D
	CmdAngle           Command = 0x0E
	CmdAbsoluteZoom    Command = 0x0F
	CmdMaxZoom         Command = 0x16
	CmdCurrentZoom     Command = 0x18
	CmdWorkingMode     Command = 0x19
)

var commandNames = map[Command]string{
	CmdHeartbeat:       "heartbeat",
	CmdFirmwareVersion: "firmware_version",
	CmdHardwareID:      "hardware_id",
	CmdAutoFocus:       "auto_focus",
	CmdManualZoom:      "manual_zoom",
	CmdRotate:          "rotate",
	CmdCenter:          "center",
	CmdStatus:          "status",
	CmdCaptureMode:     "capture_mode",
	CmdAttitude:        "attitude",
	CmdAngle:           "angle",
	CmdAbsoluteZoom:    "absolute_zoom",
	CmdMaxZoom:         "max_zoom",
	CmdCurrentZoom:     "current_zoom",
	CmdWorkingMode:     "working_mode",
}

func (c Command) String() string {
	if name, ok := commandNames[c]; ok {
		return name
	}
	return fmt.Sprintf("0x%02x", byte(c))
}

// CaptureMode is the payload byte of CmdCaptureMode. Photo and recording
// share the command id with the gimbal motion modes.
type CaptureMode byte

const (
	CapturePhoto  CaptureMode = 0x00
	CaptureRecord CaptureMode = 0x02
	MotionLock    CaptureMode = 0x03
	MotionFollow  CaptureMode = 0x04
	MotionFPV     CaptureMode = 0x05
)

func (m CaptureMode) String() string {
	switch m {
	case CapturePhoto:
		return "photo"
	case CaptureRecord:
		return "record"
	case MotionLock:
		return "lock"
	case MotionFollow:
		return "follow"
	case MotionFPV:
		return "fpv"
	}
	return fmt.Sprintf("unknown(0x%02x)", byte(m))
}

// Fixed payloads.
var (
	heartbeatPayload = []byte{0x00}
	centerPayload    = []byte{0x01}
	autoFocusPayload = []byte{0x01}
)
