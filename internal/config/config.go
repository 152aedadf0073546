// Package config holds the settings every component is constructed from.
package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Tracking backends.
const (
	BackendVisual   = "visual"
	BackendIdentity = "identity"
)

// Visual tracking algorithms.
const (
	AlgorithmCSRT = "csrt"
	AlgorithmKCF  = "kcf"
	AlgorithmMIL  = "mil"
)

// Config is built once at startup and passed to each constructor.
type Config struct {
	Gimbal    GimbalConfig    `yaml:"gimbal"`
	Camera    CameraConfig    `yaml:"camera"`
	Detection DetectionConfig `yaml:"detection"`
	Tracking  TrackingConfig  `yaml:"tracking"`
	Server    ServerConfig    `yaml:"server"`
	Journal   JournalConfig   `yaml:"journal"`
}

// GimbalConfig covers the device link and the motion controller.
type GimbalConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`

	// SerialDevice selects the UART transport instead of TCP when set.
	SerialDevice string `yaml:"serial_device"`
	SerialBaud   int    `yaml:"serial_baud"`

	DialTimeout       time.Duration `yaml:"dial_timeout"`
	HeartbeatInterval time.Duration `yaml:"heartbeat_interval"`
	RequestTimeout    time.Duration `yaml:"request_timeout"`
	// AttitudePoll is how often attitude is sampled into the journal.
	// Zero disables polling.
	AttitudePoll time.Duration `yaml:"attitude_poll"`

	Deadzone     int           `yaml:"deadzone"`
	MoveInterval time.Duration `yaml:"move_interval"`
	InvertPitch  bool          `yaml:"invert_pitch"`
	NudgeSpeed   int           `yaml:"nudge_speed"`

	Yaw   PIDConfig `yaml:"yaw"`
	Pitch PIDConfig `yaml:"pitch"`
}

// Address returns host:port for the TCP transport.
func (g GimbalConfig) Address() string {
	return net.JoinHostPort(g.Host, strconv.Itoa(g.Port))
}

// PIDConfig holds the gains and output limits of one axis.
type PIDConfig struct {
	Kp  float64 `yaml:"kp"`
	Ki  float64 `yaml:"ki"`
	Kd  float64 `yaml:"kd"`
	Min float64 `yaml:"min"`
	Max float64 `yaml:"max"`
}

// CameraConfig describes the video feed.
type CameraConfig struct {
	URL       string `yaml:"url"`
	Codec     string `yaml:"codec"` // h264 or h265
	Latency   int    `yaml:"latency_ms"`
	Width     int    `yaml:"width"`
	Height    int    `yaml:"height"`
	GStreamer bool   `yaml:"gstreamer"`
}

// DetectionConfig configures the YOLO detector.
type DetectionConfig struct {
	Enabled       bool     `yaml:"enabled"`
	Model         string   `yaml:"model"`
	ModelConfig   string   `yaml:"model_config"`
	Names         string   `yaml:"names"`
	Confidence    float64  `yaml:"confidence"`
	NMS           float64  `yaml:"nms"`
	InputSize     int      `yaml:"input_size"`
	TargetClasses []string `yaml:"target_classes"`
}

// TrackingConfig selects and tunes the tracker backend.
type TrackingConfig struct {
	Backend   string `yaml:"backend"`
	Algorithm string `yaml:"algorithm"`
	// AcceptRadius is the largest centroid distance in pixels at which a
	// detection is accepted for a point selection.
	AcceptRadius float64 `yaml:"accept_radius"`
	// ClickTolerance lets a click that misses every box select the nearest
	// detection within that many pixels. Zero requires a hit.
	ClickTolerance float64 `yaml:"click_tolerance"`
	HoldROI        int     `yaml:"hold_roi"`
	// MaxMisses turns that many consecutive identity misses into a lost
	// target. Zero keeps the lock indefinitely.
	MaxMisses int `yaml:"max_misses"`

	TrackThresh float64 `yaml:"track_thresh"`
	HighThresh  float64 `yaml:"high_thresh"`
	MatchThresh float64 `yaml:"match_thresh"`
	TrackBuffer int     `yaml:"track_buffer"`
}

// ServerConfig configures the operator surface.
type ServerConfig struct {
	ListenAddr string `yaml:"listen"`
	// RTSPURL is forwarded to browsers over WebRTC. Defaults to the camera URL.
	RTSPURL string `yaml:"rtsp_url"`
	// ICEIPs lists static server IPs; setting it enables ICE-lite.
	ICEIPs string `yaml:"ice_ips"`
}

// JournalConfig locates the SQLite journal. An empty path disables it.
type JournalConfig struct {
	Path string `yaml:"path"`
}

// Default returns a configuration for a SIYI A8 mini on its factory address.
func Default() Config {
	return Config{
		Gimbal: GimbalConfig{
			Host:              "192.168.144.25",
			Port:              37260,
			SerialBaud:        115200,
			DialTimeout:       5 * time.Second,
			HeartbeatInterval: time.Second,
			RequestTimeout:    2 * time.Second,
			Deadzone:          20,
			MoveInterval:      50 * time.Millisecond,
			InvertPitch:       true,
			NudgeSpeed:        15,
			Yaw:               PIDConfig{Kp: 0.15, Ki: 0.01, Kd: 0.005, Min: -100, Max: 100},
			Pitch:             PIDConfig{Kp: 0.15, Ki: 0.01, Kd: 0.005, Min: -100, Max: 100},
		},
		Camera: CameraConfig{
			URL:       "rtsp://192.168.144.25:8554/main.264",
			Codec:     "h264",
			Latency:   0,
			Width:     1280,
			Height:    720,
			GStreamer: true,
		},
		Detection: DetectionConfig{
			Enabled:       true,
			Model:         "yolov4-tiny.weights",
			ModelConfig:   "yolov4-tiny.cfg",
			Names:         "coco.names",
			Confidence:    0.5,
			NMS:           0.4,
			InputSize:     416,
			TargetClasses: []string{"person", "car", "truck", "bus", "motorbike", "bicycle"},
		},
		Tracking: TrackingConfig{
			Backend:        BackendVisual,
			Algorithm:      AlgorithmCSRT,
			AcceptRadius:   100,
			ClickTolerance: 30,
			HoldROI:        64,
			TrackThresh:    0.5,
			HighThresh:     0.6,
			MatchThresh:    0.8,
			TrackBuffer:    30,
		},
		Server: ServerConfig{
			ListenAddr: ":8080",
		},
	}
}

// Load reads a YAML file over the defaults. Keys missing from the file keep
// their default values.
func Load(path string) (Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("failed to read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate reports every impossible value at once.
func (c Config) Validate() error {
	var errs []error
	check := func(ok bool, format string, v ...any) {
		if !ok {
			errs = append(errs, fmt.Errorf(format, v...))
		}
	}

	g := c.Gimbal
	check(g.SerialDevice != "" || g.Host != "", "gimbal.host is required without gimbal.serial_device")
	check(g.SerialDevice != "" || (g.Port > 0 && g.Port < 65536), "gimbal.port %d out of range", g.Port)
	check(g.SerialDevice == "" || g.SerialBaud > 0, "gimbal.serial_baud must be positive")
	check(g.DialTimeout > 0, "gimbal.dial_timeout must be positive")
	check(g.HeartbeatInterval > 0, "gimbal.heartbeat_interval must be positive")
	check(g.RequestTimeout > 0, "gimbal.request_timeout must be positive")
	check(g.AttitudePoll >= 0, "gimbal.attitude_poll must not be negative")
	check(g.Deadzone >= 0, "gimbal.deadzone must not be negative")
	check(g.MoveInterval > 0, "gimbal.move_interval must be positive")
	check(g.NudgeSpeed > 0 && g.NudgeSpeed <= 100, "gimbal.nudge_speed %d out of range 1..100", g.NudgeSpeed)
	check(g.Yaw.Min < g.Yaw.Max, "gimbal.yaw: min %.1f must be below max %.1f", g.Yaw.Min, g.Yaw.Max)
	check(g.Pitch.Min < g.Pitch.Max, "gimbal.pitch: min %.1f must be below max %.1f", g.Pitch.Min, g.Pitch.Max)

	check(c.Camera.URL != "", "camera.url is required")
	check(c.Camera.Codec == "h264" || c.Camera.Codec == "h265", "camera.codec %q must be h264 or h265", c.Camera.Codec)

	d := c.Detection
	if d.Enabled {
		check(d.Model != "", "detection.model is required when detection is enabled")
		check(d.Confidence > 0 && d.Confidence <= 1, "detection.confidence %.2f out of range", d.Confidence)
		check(d.NMS > 0 && d.NMS <= 1, "detection.nms %.2f out of range", d.NMS)
		check(d.InputSize > 0 && d.InputSize%32 == 0, "detection.input_size %d must be a positive multiple of 32", d.InputSize)
	}

	t := c.Tracking
	switch t.Backend {
	case BackendVisual, BackendIdentity:
	default:
		errs = append(errs, fmt.Errorf("tracking.backend %q unknown", t.Backend))
	}
	switch t.Algorithm {
	case AlgorithmCSRT, AlgorithmKCF, AlgorithmMIL:
	default:
		errs = append(errs, fmt.Errorf("tracking.algorithm %q unknown", t.Algorithm))
	}
	if t.Backend == BackendIdentity {
		check(d.Enabled, "tracking.backend identity needs detection.enabled")
	}
	check(t.AcceptRadius > 0, "tracking.accept_radius must be positive")
	check(t.ClickTolerance >= 0, "tracking.click_tolerance must not be negative")
	check(t.HoldROI > 0, "tracking.hold_roi must be positive")
	check(t.MaxMisses >= 0, "tracking.max_misses must not be negative")
	check(t.TrackBuffer > 0, "tracking.track_buffer must be positive")

	check(c.Server.ListenAddr != "", "server.listen is required")

	return errors.Join(errs...)
}
