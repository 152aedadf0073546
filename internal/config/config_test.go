package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, "192.168.144.25:37260", cfg.Gimbal.Address())
	assert.Equal(t, 20, cfg.Gimbal.Deadzone)
	assert.Equal(t, 50*time.Millisecond, cfg.Gimbal.MoveInterval)
	assert.Equal(t, 100.0, cfg.Tracking.AcceptRadius)
}

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadOverridesDefaults(t *testing.T) {
	path := writeConfig(t, `
gimbal:
  host: 10.0.0.7
  move_interval: 80ms
  yaw:
    kp: 0.3
    ki: 0
    kd: 0.01
    min: -60
    max: 60
camera:
  url: rtsp://10.0.0.7:8554/main.264
  codec: h265
tracking:
  backend: identity
  max_misses: 15
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	want := Default()
	want.Gimbal.Host = "10.0.0.7"
	want.Gimbal.MoveInterval = 80 * time.Millisecond
	want.Gimbal.Yaw = PIDConfig{Kp: 0.3, Ki: 0, Kd: 0.01, Min: -60, Max: 60}
	want.Camera.URL = "rtsp://10.0.0.7:8554/main.264"
	want.Camera.Codec = "h265"
	want.Tracking.Backend = BackendIdentity
	want.Tracking.MaxMisses = 15

	if diff := cmp.Diff(want, cfg); diff != "" {
		t.Errorf("Load() mismatch (-want +got):\n%s", diff)
	}
}

func TestLoadErrors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	_, err = Load(writeConfig(t, "gimbal: [not, a, map"))
	assert.Error(t, err)
}

func TestValidateRejectsImpossibleValues(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero heartbeat", func(c *Config) { c.Gimbal.HeartbeatInterval = 0 }},
		{"zero move interval", func(c *Config) { c.Gimbal.MoveInterval = 0 }},
		{"port", func(c *Config) { c.Gimbal.Port = 70000 }},
		{"inverted limits", func(c *Config) { c.Gimbal.Pitch.Min, c.Gimbal.Pitch.Max = 100, -100 }},
		{"nudge speed", func(c *Config) { c.Gimbal.NudgeSpeed = 0 }},
		{"codec", func(c *Config) { c.Camera.Codec = "mjpeg" }},
		{"backend", func(c *Config) { c.Tracking.Backend = "sonar" }},
		{"algorithm", func(c *Config) { c.Tracking.Algorithm = "mosse" }},
		{"identity without detection", func(c *Config) {
			c.Tracking.Backend = BackendIdentity
			c.Detection.Enabled = false
		}},
		{"input size", func(c *Config) { c.Detection.InputSize = 300 }},
		{"radius", func(c *Config) { c.Tracking.AcceptRadius = 0 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(&cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestValidateSerialNeedsNoHost(t *testing.T) {
	cfg := Default()
	cfg.Gimbal.Host = ""
	cfg.Gimbal.Port = 0
	cfg.Gimbal.SerialDevice = "/dev/ttyUSB0"
	assert.NoError(t, cfg.Validate())
}

func TestValidateReportsEveryProblem(t *testing.T) {
	cfg := Default()
	cfg.Gimbal.Deadzone = -1
	cfg.Server.ListenAddr = ""
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "gimbal.deadzone")
	assert.Contains(t, err.Error(), "server.listen")
}
