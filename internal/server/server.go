// Package server is the operator surface: a REST API, a websocket
// carrying the same operations plus WebRTC signalling, and the web page.
package server

import (
	"context"
	"errors"
	"fmt"
	"image"
	"io/fs"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"gimbal-tracker/internal/app"
	"gimbal-tracker/internal/protocol"
	"gimbal-tracker/internal/rtsp"
	"gimbal-tracker/internal/tracking"
	"gimbal-tracker/internal/webrtc"
)

// Controller is the control loop as driven by operators. *app.App
// implements it.
type Controller interface {
	SelectBox(box image.Rectangle) error
	SelectPoint(p image.Point, tolerance float64) (tracking.Detection, error)
	HoldPoint(xNorm, yNorm float64) (image.Rectangle, error)
	CancelTracking(center bool) error
	Tracking() bool

	Nudge(yaw, pitch int) error
	NudgeSpeed() int
	StopMotion() error
	Center() error

	ZoomIn() error
	ZoomOut() error
	StopZoom() error
	CapturePhoto() error
	ToggleRecording() error

	Detections() []tracking.Detection
	FrameSize() image.Rectangle
	Status() app.Status
}

// Config for the server
type Config struct {
	ListenAddr string
	// RTSPURL is relayed to browsers over WebRTC. Empty disables video.
	RTSPURL string
	WebRTC  webrtc.Config
	// ClickTolerance is passed to point selections.
	ClickTolerance float64
	// GimbalOnline is reported to clients; false when running offline.
	GimbalOnline bool
	// StatusInterval is how often status and detections are pushed to
	// websocket clients. Zero means one second.
	StatusInterval time.Duration
	// Gatherer backs /metrics. Defaults to the global registry.
	Gatherer prometheus.Gatherer
}

// Server is the gimbal tracker's operator server
type Server struct {
	cfg       Config
	ctrl      Controller
	clients   map[*Client]bool
	clientsMu sync.RWMutex
	upgrader  websocket.Upgrader
	staticFS  fs.FS
	router    chi.Router

	mu         sync.Mutex
	rtspClient *rtsp.Client
	httpServer *http.Server
	done       chan struct{}
	stopped    bool
}

// New creates a new server instance. staticFS must hold the page under
// web/.
func New(cfg Config, ctrl Controller, staticFS fs.FS) (*Server, error) {
	webFS, err := fs.Sub(staticFS, "web")
	if err != nil {
		return nil, fmt.Errorf("failed to access embedded web files: %w", err)
	}
	if cfg.StatusInterval <= 0 {
		cfg.StatusInterval = time.Second
	}
	if cfg.Gatherer == nil {
		cfg.Gatherer = prometheus.DefaultGatherer
	}

	s := &Server{
		cfg:      cfg,
		ctrl:     ctrl,
		clients:  make(map[*Client]bool),
		staticFS: webFS,
		done:     make(chan struct{}),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true // Ground stations load the page from anywhere
			},
		},
	}
	s.router = s.routes()
	return s, nil
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(cors)

	r.Post("/track_point", s.handleTrackPoint)
	r.Post("/drag_point", s.handleDragPoint)
	r.Post("/hold_point", s.handleHoldPoint)
	r.Post("/track_status", s.handleSetTrackStatus)
	r.Get("/track_status", s.handleGetTrackStatus)
	r.Post("/clear_track", s.command("Clear track", func() error {
		return s.ctrl.CancelTracking(false)
	}))
	r.Post("/center", s.command("Center gimbal", s.ctrl.Center))

	r.Post("/zoom_in", s.command("Zoom in", s.ctrl.ZoomIn))
	r.Post("/zoom_out", s.command("Zoom out", s.ctrl.ZoomOut))
	r.Post("/stop_zoom", s.command("Stop zoom", s.ctrl.StopZoom))
	r.Post("/take_photo", s.command("Take photo", s.ctrl.CapturePhoto))
	// The camera only exposes a toggle.
	r.Post("/start_recording", s.command("Start recording", s.ctrl.ToggleRecording))
	r.Post("/stop_recording", s.command("Stop recording", s.ctrl.ToggleRecording))

	r.Post("/pitch_up", s.nudge("Pitch up", 0, 1))
	r.Post("/pitch_down", s.nudge("Pitch down", 0, -1))
	r.Post("/yaw_left", s.nudge("Yaw left", -1, 0))
	r.Post("/yaw_right", s.nudge("Yaw right", 1, 0))
	r.Post("/stop_gimbal", s.command("Stop gimbal", s.ctrl.StopMotion))

	r.Get("/status", s.handleStatus)
	r.Get("/detections", s.handleDetections)
	r.Get("/ws", s.handleWebSocket)
	r.Handle("/metrics", promhttp.HandlerFor(s.cfg.Gatherer, promhttp.HandlerOpts{}))
	r.Handle("/*", http.FileServer(http.FS(s.staticFS)))
	return r
}

// cors allows any origin; the API is called from ground-station UIs
// served elsewhere.
func cors(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h.Set("Access-Control-Allow-Origin", "*")
		h.Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		h.Set("Access-Control-Allow-Headers", "*")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// Handler returns the HTTP handler serving every route.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start connects the RTSP relay and serves until Stop.
func (s *Server) Start() error {
	if s.cfg.RTSPURL != "" {
		client, err := rtsp.NewClient(s.cfg.RTSPURL)
		if err != nil {
			log.Printf("Warning: Failed to create RTSP client: %v", err)
		} else if err := client.Connect(); err != nil {
			log.Printf("Warning: Failed to connect to RTSP: %v", err)
			client.Close()
		} else {
			s.mu.Lock()
			s.rtspClient = client
			s.mu.Unlock()
			log.Printf("Connected to RTSP: %s", s.cfg.RTSPURL)
			go s.broadcastRTP(client)
		}
	}

	srv := &http.Server{
		Addr:              s.cfg.ListenAddr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return http.ErrServerClosed
	}
	s.httpServer = srv
	s.mu.Unlock()

	go s.broadcastState()

	log.Printf("Server starting on %s", s.cfg.ListenAddr)
	if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// broadcastRTP fans camera packets out to every client.
func (s *Server) broadcastRTP(client *rtsp.Client) {
	rtpChan := client.RTPChannel()

	for {
		select {
		case <-client.Done():
			return
		case packet := <-rtpChan:
			s.clientsMu.RLock()
			for c := range s.clients {
				// Non-blocking send to each client's RTP channel
				select {
				case c.rtpChan <- packet:
				default:
					// Client's buffer full, drop packet for this client
				}
			}
			s.clientsMu.RUnlock()
		}
	}
}

// broadcastState pushes status, and detections while idle, to every
// client.
func (s *Server) broadcastState() {
	ticker := time.NewTicker(s.cfg.StatusInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
		}

		s.clientsMu.RLock()
		n := len(s.clients)
		s.clientsMu.RUnlock()
		if n == 0 {
			continue
		}

		status := s.statusPayload()
		var dets protocol.DetectionsPayload
		if !status.Tracking {
			dets = s.detectionsPayload()
		}

		s.clientsMu.RLock()
		for c := range s.clients {
			c.sendMessage(protocol.TypeStatus, status)
			if !status.Tracking {
				c.sendMessage(protocol.TypeDetections, dets)
			}
		}
		s.clientsMu.RUnlock()
	}
}

// Stop closes every client and the RTSP relay, then shuts the HTTP
// server down.
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return nil
	}
	s.stopped = true
	close(s.done)
	rtspClient := s.rtspClient
	srv := s.httpServer
	s.mu.Unlock()

	s.clientsMu.Lock()
	for client := range s.clients {
		client.Close()
	}
	s.clientsMu.Unlock()

	if rtspClient != nil {
		rtspClient.Close()
	}
	if srv != nil {
		return srv.Shutdown(ctx)
	}
	return nil
}

func (s *Server) cameraConnected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rtspClient != nil
}

func (s *Server) statusPayload() protocol.StatusPayload {
	st := s.ctrl.Status()
	status := protocol.StatusPayload{
		CameraConnected: s.cameraConnected(),
		GimbalConnected: s.cfg.GimbalOnline,
		RTSPURL:         s.cfg.RTSPURL,
		Tracking:        st.Tracking,
		Backend:         st.Backend,
		FrameWidth:      st.Frame.Dx(),
		FrameHeight:     st.Frame.Dy(),
	}
	if st.Tracking {
		box := toBox(st.Box)
		status.Box = &box
	}
	if st.Attitude != nil {
		status.Yaw = st.Attitude.Yaw
		status.Pitch = st.Attitude.Pitch
	}
	return status
}

func (s *Server) detectionsPayload() protocol.DetectionsPayload {
	dets := s.ctrl.Detections()
	payload := protocol.DetectionsPayload{Detections: make([]protocol.Detection, 0, len(dets))}
	for _, d := range dets {
		payload.Detections = append(payload.Detections, protocol.Detection{
			Label:      d.Label,
			Confidence: d.Confidence,
			Box:        toBox(d.Box),
		})
	}
	return payload
}

func toBox(r image.Rectangle) protocol.Box {
	return protocol.Box{X: r.Min.X, Y: r.Min.Y, W: r.Dx(), H: r.Dy()}
}
