package server

import (
	"encoding/json"
	"errors"
	"image"
	"log"
	"math"
	"net/http"

	"gimbal-tracker/internal/app"
	"gimbal-tracker/internal/protocol"
	"gimbal-tracker/internal/tracking"
)

type trackPointRequest struct {
	XNorm       float64 `json:"x_norm"`
	YNorm       float64 `json:"y_norm"`
	VideoWidth  float64 `json:"video_width"`
	VideoHeight float64 `json:"video_height"`
}

type dragPointRequest struct {
	X1Norm      float64 `json:"x1_norm"`
	Y1Norm      float64 `json:"y1_norm"`
	X2Norm      float64 `json:"x2_norm"`
	Y2Norm      float64 `json:"y2_norm"`
	VideoWidth  float64 `json:"video_width"`
	VideoHeight float64 `json:"video_height"`
}

type holdPointRequest struct {
	HoldX       float64 `json:"hold_x"`
	HoldY       float64 `json:"hold_y"`
	VideoWidth  float64 `json:"video_width"`
	VideoHeight float64 `json:"video_height"`
}

type trackStatusRequest struct {
	TrackingStatus bool `json:"trackingStatus"`
}

var (
	statusOK       = map[string]string{"status": "ok"}
	statusNoTarget = map[string]string{"status": "no_target"}
	statusIgnored  = map[string]string{"status": "ignored"}
)

// selectPoint maps normalized client coordinates onto the processed
// frame, whatever size the client displays the video at.
func (s *Server) selectPoint(xNorm, yNorm float64) (tracking.Detection, error) {
	bounds := s.ctrl.FrameSize()
	p := image.Pt(
		bounds.Min.X+int(xNorm*float64(bounds.Dx())),
		bounds.Min.Y+int(yNorm*float64(bounds.Dy())),
	)
	return s.ctrl.SelectPoint(p, s.cfg.ClickTolerance)
}

func (s *Server) dragBox(x1, y1, x2, y2 float64) (image.Rectangle, error) {
	bounds := s.ctrl.FrameSize()
	w, h := float64(bounds.Dx()), float64(bounds.Dy())

	x := bounds.Min.X + int(math.Min(x1, x2)*w)
	y := bounds.Min.Y + int(math.Min(y1, y2)*h)
	box := image.Rect(x, y, x+int(math.Abs(x2-x1)*w), y+int(math.Abs(y2-y1)*h))
	return box, s.ctrl.SelectBox(box)
}

func (s *Server) handleTrackPoint(w http.ResponseWriter, r *http.Request) {
	var req trackPointRequest
	if !decode(w, r, &req) {
		return
	}
	log.Printf("API: Track point (%.3f, %.3f)", req.XNorm, req.YNorm)

	d, err := s.selectPoint(req.XNorm, req.YNorm)
	switch {
	case errors.Is(err, app.ErrNoTarget):
		writeJSON(w, http.StatusOK, statusNoTarget)
	case err != nil:
		writeError(w, err)
	default:
		writeJSON(w, http.StatusOK, map[string]any{
			"status": "ok",
			"target": protocol.Detection{Label: d.Label, Confidence: d.Confidence, Box: toBox(d.Box)},
		})
	}
}

func (s *Server) handleDragPoint(w http.ResponseWriter, r *http.Request) {
	var req dragPointRequest
	if !decode(w, r, &req) {
		return
	}
	box, err := s.dragBox(req.X1Norm, req.Y1Norm, req.X2Norm, req.Y2Norm)
	log.Printf("API: Drag selection %v", box)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, statusOK)
}

func (s *Server) handleHoldPoint(w http.ResponseWriter, r *http.Request) {
	var req holdPointRequest
	if !decode(w, r, &req) {
		return
	}
	if _, err := s.ctrl.HoldPoint(req.HoldX, req.HoldY); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, statusOK)
}

// handleSetTrackStatus only acts on false: tracking cannot be enabled
// without a target.
func (s *Server) handleSetTrackStatus(w http.ResponseWriter, r *http.Request) {
	var req trackStatusRequest
	if !decode(w, r, &req) {
		return
	}
	log.Printf("API: Set tracking enabled: %t", req.TrackingStatus)
	if !req.TrackingStatus {
		if err := s.ctrl.CancelTracking(false); err != nil {
			writeError(w, err)
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]bool{"enabled": req.TrackingStatus})
}

func (s *Server) handleGetTrackStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]bool{"enabled": s.ctrl.Tracking()})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.statusPayload())
}

func (s *Server) handleDetections(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.detectionsPayload())
}

func (s *Server) command(name string, fn func() error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		log.Printf("API: %s", name)
		err := fn()
		switch {
		case errors.Is(err, app.ErrTrackingActive):
			writeJSON(w, http.StatusOK, statusIgnored)
		case err != nil:
			writeError(w, err)
		default:
			writeJSON(w, http.StatusOK, statusOK)
		}
	}
}

// nudge rotates at the configured manual speed in the given direction.
func (s *Server) nudge(name string, yaw, pitch int) http.HandlerFunc {
	return s.command(name, func() error {
		speed := s.ctrl.NudgeSpeed()
		return s.ctrl.Nudge(yaw*speed, pitch*speed)
	})
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeJSON(w, http.StatusUnprocessableEntity, map[string]string{"detail": err.Error()})
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("Failed to write response: %v", err)
	}
}

func writeError(w http.ResponseWriter, err error) {
	code := http.StatusBadGateway
	if errors.Is(err, tracking.ErrSelectionFailed) {
		code = http.StatusBadRequest
	}
	writeJSON(w, code, map[string]string{"detail": err.Error(), "code": errorCode(err)})
}

// errorCode maps an operation error onto the websocket error codes.
func errorCode(err error) string {
	switch {
	case errors.Is(err, app.ErrNoTarget):
		return protocol.ErrNoTarget
	case errors.Is(err, app.ErrTrackingActive):
		return protocol.ErrTrackingActive
	case errors.Is(err, tracking.ErrSelectionFailed):
		return protocol.ErrInvalidMessage
	default:
		return protocol.ErrGimbal
	}
}
