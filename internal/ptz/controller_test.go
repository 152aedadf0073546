package ptz

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	"gimbal-tracker/internal/monitoring"
)

func TestOfflineLogsAndSucceeds(t *testing.T) {
	var lines []string
	monitoring.SetLogger(func(format string, v ...any) {
		lines = append(lines, fmt.Sprintf(format, v...))
	})
	t.Cleanup(func() { monitoring.SetLogger(nil) })

	var c Controller = Offline{}
	assert.NoError(t, c.Rotate(10, -5))
	assert.NoError(t, c.Stop())
	assert.NoError(t, c.Center())
	assert.NoError(t, c.ZoomIn())
	assert.NoError(t, c.TakePhoto())
	assert.NoError(t, c.Close())

	assert.Len(t, lines, 5)
	assert.Contains(t, lines[0], "rotate yaw=10 pitch=-5")
}

func TestAttitudeString(t *testing.T) {
	a := Attitude{Yaw: 12.34, Pitch: -5, Roll: 0}
	assert.Equal(t, "yaw=12.3° pitch=-5.0° roll=0.0°", a.String())
}
