package journal

import (
	"image"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gimbal-tracker/internal/monitoring"
	"gimbal-tracker/internal/ptz"
)

func init() {
	monitoring.SetLogger(nil)
}

func openTest(t *testing.T) *Journal {
	t.Helper()
	j, err := Open(filepath.Join(t.TempDir(), "journal.db"))
	require.NoError(t, err)
	t.Cleanup(func() { j.Close() })

	base := time.Unix(1700000000, 0)
	var tick int64
	j.now = func() time.Time {
		tick++
		return base.Add(time.Duration(tick) * time.Second)
	}
	return j
}

func TestSessionEvents(t *testing.T) {
	j := openTest(t)

	session, err := j.StartSession("identity")
	require.NoError(t, err)
	_, err = uuid.Parse(session)
	require.NoError(t, err)

	require.NoError(t, j.RecordEvent(session, EventSelect, image.Rect(10, 20, 50, 100)))
	require.NoError(t, j.RecordEvent(session, EventLost, image.Rectangle{}))
	require.NoError(t, j.EndSession(session))

	other, err := j.StartSession("visual")
	require.NoError(t, err)
	require.NoError(t, j.RecordEvent(other, EventCancel, image.Rect(0, 0, 1, 1)))

	events, err := j.Events(session)
	require.NoError(t, err)
	want := []Event{
		{Session: session, Kind: EventSelect, Box: image.Rect(10, 20, 50, 100), At: time.Unix(1700000002, 0)},
		{Session: session, Kind: EventLost, Box: image.Rectangle{}, At: time.Unix(1700000003, 0)},
	}
	if diff := cmp.Diff(want, events); diff != "" {
		t.Errorf("Events() mismatch (-want +got):\n%s", diff)
	}
}

func TestEventNeedsSession(t *testing.T) {
	j := openTest(t)
	assert.Error(t, j.RecordEvent("no-such-session", EventSelect, image.Rect(0, 0, 1, 1)))
}

func TestRecentAttitude(t *testing.T) {
	j := openTest(t)

	for i := 0; i < 5; i++ {
		require.NoError(t, j.RecordAttitude(ptz.Attitude{Yaw: float64(i), Pitch: -10, Roll: 0.5}))
	}

	samples, err := j.RecentAttitude(2)
	require.NoError(t, err)
	require.Len(t, samples, 2)
	assert.Equal(t, ptz.Attitude{Yaw: 4, Pitch: -10, Roll: 0.5}, samples[0].Attitude)
	assert.Equal(t, 3.0, samples[1].Attitude.Yaw)
	assert.True(t, samples[0].At.After(samples[1].At))
}

func TestReopenKeepsData(t *testing.T) {
	path := filepath.Join(t.TempDir(), "journal.db")
	j, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, j.RecordAttitude(ptz.Attitude{Yaw: 12.5}))
	require.NoError(t, j.Close())

	j, err = Open(path)
	require.NoError(t, err)
	defer j.Close()
	samples, err := j.RecentAttitude(10)
	require.NoError(t, err)
	require.Len(t, samples, 1)
	assert.Equal(t, 12.5, samples[0].Attitude.Yaw)
}
