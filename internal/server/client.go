package server

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	pwebrtc "github.com/pion/webrtc/v3"

	"gimbal-tracker/internal/app"
	"gimbal-tracker/internal/protocol"
	"gimbal-tracker/internal/webrtc"
)

// Client represents a connected WebSocket client
type Client struct {
	conn    *websocket.Conn
	server  *Server
	webrtc  *webrtc.Session
	send    chan []byte
	rtpChan chan []byte // Per-client RTP channel
	stopRTP chan struct{}
	mu      sync.Mutex
	closed  bool
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("WebSocket upgrade error: %v", err)
		return
	}

	client := &Client{
		conn:    conn,
		server:  s,
		send:    make(chan []byte, 256),
		rtpChan: make(chan []byte, 500),
		stopRTP: make(chan struct{}),
	}

	s.clientsMu.Lock()
	s.clients[client] = true
	s.clientsMu.Unlock()

	go client.writePump()
	go client.readPump()

	client.sendStatus()
	client.sendMessage(protocol.TypeDetections, s.detectionsPayload())

	if s.cameraConnected() {
		if err := client.initWebRTC(); err != nil {
			log.Printf("Failed to initialize WebRTC: %v", err)
			client.sendMessage(protocol.TypeError, protocol.ErrorPayload{
				Code:    protocol.ErrRTSP,
				Message: err.Error(),
			})
		}
	} else {
		client.sendMessage(protocol.TypeError, protocol.ErrorPayload{
			Code:    protocol.ErrCameraDisconnected,
			Message: "Camera stream is not available",
		})
	}
}

func (c *Client) initWebRTC() error {
	session, err := webrtc.NewSession(c.server.cfg.WebRTC, func(candidate *pwebrtc.ICECandidate) {
		init := candidate.ToJSON()
		payload := protocol.ICECandidatePayload{Candidate: init.Candidate}
		if init.SDPMid != nil {
			payload.SDPMid = *init.SDPMid
		}
		if init.SDPMLineIndex != nil {
			payload.SDPMLineIndex = *init.SDPMLineIndex
		}
		c.sendMessage(protocol.TypeICECandidate, payload)
	})
	if err != nil {
		return err
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return session.Close()
	}
	c.webrtc = session
	c.mu.Unlock()

	if err := session.AddH264Track(); err != nil {
		return err
	}

	offer, err := session.CreateOffer()
	if err != nil {
		return err
	}
	c.sendMessage(protocol.TypeOffer, protocol.SDPPayload{SDP: offer})

	go c.forwardRTP(session)
	return nil
}

func (c *Client) session() *webrtc.Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.webrtc
}

func (c *Client) forwardRTP(session *webrtc.Session) {
	for {
		select {
		case <-c.stopRTP:
			return
		case packet := <-c.rtpChan:
			if err := session.WriteRTP(packet); err != nil {
				// Client disconnected or track closed
				return
			}
		}
	}
}

func (c *Client) sendStatus() {
	c.sendMessage(protocol.TypeStatus, c.server.statusPayload())
}

func (c *Client) sendError(err error) {
	c.sendMessage(protocol.TypeError, protocol.ErrorPayload{
		Code:    errorCode(err),
		Message: err.Error(),
	})
}

func (c *Client) sendMessage(msgType string, payload any) {
	msg, err := protocol.NewMessage(msgType, payload)
	if err != nil {
		log.Printf("Failed to create message: %v", err)
		return
	}

	data, err := json.Marshal(msg)
	if err != nil {
		log.Printf("Failed to marshal message: %v", err)
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	select {
	case c.send <- data:
	default:
		log.Printf("Client send buffer full, dropping message")
	}
}

func (c *Client) readPump() {
	defer func() {
		c.server.clientsMu.Lock()
		delete(c.server.clients, c)
		c.server.clientsMu.Unlock()
		c.Close()
	}()

	c.conn.SetReadLimit(65536)
	c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Printf("WebSocket error: %v", err)
			}
			return
		}

		c.handleMessage(data)
	}
}

func (c *Client) invalid(reason string) {
	c.sendMessage(protocol.TypeError, protocol.ErrorPayload{
		Code:    protocol.ErrInvalidMessage,
		Message: reason,
	})
}

func (c *Client) handleMessage(data []byte) {
	var msg protocol.Message
	if err := json.Unmarshal(data, &msg); err != nil {
		c.invalid("Failed to parse message")
		return
	}
	ctrl := c.server.ctrl

	switch msg.Type {
	case protocol.TypePing:
		var payload protocol.PingPayload
		if err := msg.ParsePayload(&payload); err != nil {
			c.invalid("Bad ping payload")
			return
		}
		c.sendMessage(protocol.TypePong, protocol.PongPayload{
			ClientTimestamp: payload.Timestamp,
			ServerTimestamp: time.Now().UnixMilli(),
		})

	case protocol.TypeAnswer:
		var payload protocol.SDPPayload
		if err := msg.ParsePayload(&payload); err != nil {
			c.invalid("Bad answer payload")
			return
		}
		if session := c.session(); session != nil {
			if err := session.SetAnswer(payload.SDP); err != nil {
				log.Printf("Failed to set answer: %v", err)
			}
		}

	case protocol.TypeICECandidate:
		var payload protocol.ICECandidatePayload
		if err := msg.ParsePayload(&payload); err != nil {
			c.invalid("Bad ICE candidate payload")
			return
		}
		if session := c.session(); session != nil {
			if err := session.AddICECandidate(payload.Candidate, payload.SDPMid, payload.SDPMLineIndex); err != nil {
				log.Printf("Failed to add ICE candidate: %v", err)
			}
		}

	case protocol.TypeTrackPoint:
		var payload protocol.PointPayload
		if err := msg.ParsePayload(&payload); err != nil {
			c.invalid("Bad track_point payload")
			return
		}
		c.reply(c.server.selectPoint(payload.X, payload.Y))

	case protocol.TypeDragBox:
		var payload protocol.DragPayload
		if err := msg.ParsePayload(&payload); err != nil {
			c.invalid("Bad drag_box payload")
			return
		}
		c.reply(c.server.dragBox(payload.X1, payload.Y1, payload.X2, payload.Y2))

	case protocol.TypeHoldPoint:
		var payload protocol.PointPayload
		if err := msg.ParsePayload(&payload); err != nil {
			c.invalid("Bad hold_point payload")
			return
		}
		c.reply(ctrl.HoldPoint(payload.X, payload.Y))

	case protocol.TypeClearTrack:
		var payload protocol.ClearPayload
		if len(msg.Payload) > 0 {
			if err := msg.ParsePayload(&payload); err != nil {
				c.invalid("Bad clear_track payload")
				return
			}
		}
		c.reply(nil, ctrl.CancelTracking(payload.Center))

	case protocol.TypeNudge:
		var payload protocol.NudgePayload
		if err := msg.ParsePayload(&payload); err != nil {
			c.invalid("Bad nudge payload")
			return
		}
		yaw, pitch := sign(payload.Yaw), sign(payload.Pitch)
		if yaw == 0 && pitch == 0 {
			c.reply(nil, ctrl.StopMotion())
			return
		}
		speed := ctrl.NudgeSpeed()
		c.reply(nil, ctrl.Nudge(yaw*speed, pitch*speed))

	case protocol.TypeStop:
		c.reply(nil, ctrl.StopMotion())

	case protocol.TypeCenter:
		c.reply(nil, ctrl.Center())

	case protocol.TypeZoom:
		var payload protocol.ZoomPayload
		if err := msg.ParsePayload(&payload); err != nil {
			c.invalid("Bad zoom payload")
			return
		}
		switch payload.Direction {
		case "in":
			c.reply(nil, ctrl.ZoomIn())
		case "out":
			c.reply(nil, ctrl.ZoomOut())
		case "stop":
			c.reply(nil, ctrl.StopZoom())
		default:
			c.invalid("Unknown zoom direction " + payload.Direction)
		}

	case protocol.TypeCapture:
		var payload protocol.CapturePayload
		if err := msg.ParsePayload(&payload); err != nil {
			c.invalid("Bad capture payload")
			return
		}
		switch payload.Action {
		case "photo":
			c.reply(nil, ctrl.CapturePhoto())
		case "record":
			c.reply(nil, ctrl.ToggleRecording())
		default:
			c.invalid("Unknown capture action " + payload.Action)
		}

	case protocol.TypeDetections:
		c.sendMessage(protocol.TypeDetections, c.server.detectionsPayload())

	default:
		log.Printf("Unknown message type: %s", msg.Type)
		c.invalid("Unknown message type " + msg.Type)
	}
}

// reply reports err, or the resulting status on success. The first
// argument is whatever the operation returned alongside the error.
func (c *Client) reply(_ any, err error) {
	if err != nil {
		if !errors.Is(err, app.ErrNoTarget) && !errors.Is(err, app.ErrTrackingActive) {
			log.Printf("Operator command failed: %v", err)
		}
		c.sendError(err)
		return
	}
	c.sendStatus()
}

func sign(v int) int {
	switch {
	case v > 0:
		return 1
	case v < 0:
		return -1
	}
	return 0
}

func (c *Client) writePump() {
	ticker := time.NewTicker(30 * time.Second)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// Close closes the client connection
func (c *Client) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true

	// Stop RTP forwarding
	close(c.stopRTP)
	close(c.send)

	session := c.webrtc
	c.webrtc = nil
	c.mu.Unlock()

	// Closing the peer connection can wait on callbacks that take c.mu.
	if session != nil {
		session.Close()
	}
}
