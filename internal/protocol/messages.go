// Package protocol defines the JSON messages exchanged with the browser
// over the websocket.
package protocol

import "encoding/json"

// Message types
const (
	TypePing         = "ping"
	TypePong         = "pong"
	TypeStatus       = "status"
	TypeOffer        = "offer"
	TypeAnswer       = "answer"
	TypeICECandidate = "ice_candidate"
	TypeTrackPoint   = "track_point"
	TypeDragBox      = "drag_box"
	TypeHoldPoint    = "hold_point"
	TypeClearTrack   = "clear_track"
	TypeNudge        = "nudge"
	TypeStop         = "stop"
	TypeCenter       = "center"
	TypeZoom         = "zoom"
	TypeCapture      = "capture"
	TypeDetections   = "detections"
	TypeError        = "error"
)

// Error codes
const (
	ErrCameraDisconnected = "CAMERA_DISCONNECTED"
	ErrRTSP               = "RTSP_ERROR"
	ErrGimbal             = "GIMBAL_ERROR"
	ErrInvalidMessage     = "INVALID_MESSAGE"
	ErrNoTarget           = "NO_TARGET"
	ErrTrackingActive     = "TRACKING_ACTIVE"
)

// Message is the base envelope for all WebSocket messages
type Message struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// PingPayload for ping messages
type PingPayload struct {
	Timestamp int64 `json:"timestamp"`
}

// PongPayload for pong messages
type PongPayload struct {
	ClientTimestamp int64 `json:"client_timestamp"`
	ServerTimestamp int64 `json:"server_timestamp"`
}

// StatusPayload is pushed on connect and after every tracking change.
type StatusPayload struct {
	CameraConnected bool    `json:"camera_connected"`
	GimbalConnected bool    `json:"gimbal_connected"`
	RTSPURL         string  `json:"rtsp_url,omitempty"`
	Tracking        bool    `json:"tracking"`
	Backend         string  `json:"backend"`
	Box             *Box    `json:"box,omitempty"`
	FrameWidth      int     `json:"frame_width"`
	FrameHeight     int     `json:"frame_height"`
	Yaw             float64 `json:"yaw,omitempty"`
	Pitch           float64 `json:"pitch,omitempty"`
}

// Box is a pixel rectangle in the processed frame.
type Box struct {
	X int `json:"x"`
	Y int `json:"y"`
	W int `json:"w"`
	H int `json:"h"`
}

// SDPPayload for offer/answer messages
type SDPPayload struct {
	SDP string `json:"sdp"`
}

// ICECandidatePayload for ICE candidate messages
type ICECandidatePayload struct {
	Candidate     string `json:"candidate"`
	SDPMid        string `json:"sdp_mid"`
	SDPMLineIndex uint16 `json:"sdp_mline_index"`
}

// PointPayload selects or holds a point in normalized video coordinates.
type PointPayload struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// DragPayload selects the box between two normalized corners.
type DragPayload struct {
	X1 float64 `json:"x1"`
	Y1 float64 `json:"y1"`
	X2 float64 `json:"x2"`
	Y2 float64 `json:"y2"`
}

// ClearPayload cancels tracking.
type ClearPayload struct {
	Center bool `json:"center"`
}

// NudgePayload moves the gimbal by hand. Each axis is -1, 0 or 1 and is
// scaled by the configured nudge speed.
type NudgePayload struct {
	Yaw   int `json:"yaw"`
	Pitch int `json:"pitch"`
}

// ZoomPayload drives continuous zoom: "in", "out" or "stop".
type ZoomPayload struct {
	Direction string `json:"direction"`
}

// CapturePayload is "photo" or "record".
type CapturePayload struct {
	Action string `json:"action"`
}

// Detection is one entry of a detections message.
type Detection struct {
	Label      string  `json:"label"`
	Confidence float64 `json:"confidence"`
	Box        Box     `json:"box"`
}

// DetectionsPayload carries the current selection snapshot.
type DetectionsPayload struct {
	Detections []Detection `json:"detections"`
}

// ErrorPayload for error messages
type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// NewMessage creates a new message with the given type and payload
func NewMessage(msgType string, payload any) (*Message, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return &Message{
		Type:    msgType,
		Payload: data,
	}, nil
}

// ParsePayload unmarshals the payload into the given struct
func (m *Message) ParsePayload(v any) error {
	return json.Unmarshal(m.Payload, v)
}
