package mot

import (
	"image"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAssignOptimal(t *testing.T) {
	cost := [][]float64{
		{0.9, 0.1, 0.5},
		{0.2, 0.8, 0.6},
		{0.7, 0.6, 0.3},
	}
	matches, rows, cols := assign(cost, 3, 1)

	want := [][2]int{{0, 1}, {1, 0}, {2, 2}}
	if diff := cmp.Diff(want, matches); diff != "" {
		t.Errorf("assign() mismatch (-want +got):\n%s", diff)
	}
	assert.Empty(t, rows)
	assert.Empty(t, cols)
}

func TestAssignPrefersGlobalOptimum(t *testing.T) {
	// Greedy would take row 0 -> col 0 (0.1) and leave row 1 with 0.9.
	cost := [][]float64{
		{0.1, 0.2},
		{0.15, 0.9},
	}
	matches, _, _ := assign(cost, 2, 1)
	assert.Equal(t, [][2]int{{0, 1}, {1, 0}}, matches)
}

func TestAssignRectangularAndGated(t *testing.T) {
	cost := [][]float64{
		{0.3, 0.95},
		{0.99, 0.97},
		{0.96, 0.2},
	}
	matches, rows, cols := assign(cost, 2, 0.8)
	assert.Equal(t, [][2]int{{0, 0}, {2, 1}}, matches)
	assert.Equal(t, []int{1}, rows)
	assert.Empty(t, cols)
}

func TestAssignEmpty(t *testing.T) {
	matches, rows, cols := assign(nil, 3, 0.8)
	assert.Empty(t, matches)
	assert.Empty(t, rows)
	assert.Equal(t, []int{0, 1, 2}, cols)

	matches, rows, cols = assign([][]float64{{}, {}}, 0, 0.8)
	assert.Empty(t, matches)
	assert.Equal(t, []int{0, 1}, rows)
	assert.Empty(t, cols)
}

func TestIoU(t *testing.T) {
	a := Box{X: 0, Y: 0, W: 10, H: 10}
	assert.Equal(t, 1.0, IoU(a, a))
	assert.Equal(t, 0.0, IoU(a, Box{X: 20, Y: 20, W: 5, H: 5}))
	assert.InDelta(t, 25.0/175.0, IoU(a, Box{X: 5, Y: 5, W: 10, H: 10}), 1e-9)
}

func TestBoxRectRoundTrip(t *testing.T) {
	r := image.Rect(10, 20, 110, 220)
	assert.Equal(t, r, BoxFromRect(r).Rect())
	cx, cy := BoxFromRect(r).Center()
	assert.Equal(t, 60.0, cx)
	assert.Equal(t, 120.0, cy)
}

func det(x, y, w, h, score float64) Detection {
	return Detection{Box: Box{X: x, Y: y, W: w, H: h}, Score: score}
}

func TestTrackerKeepsIdentityAcrossFrames(t *testing.T) {
	tr := NewTracker(DefaultConfig())

	first := tr.Update([]Detection{det(100, 100, 50, 100, 0.9), det(400, 100, 50, 100, 0.9)})
	require.Len(t, first, 2)
	assert.True(t, first[0].Confirmed)
	assert.NotEqual(t, first[0].ID, first[1].ID)

	a, b := first[0].ID, first[1].ID
	for i := 1; i <= 10; i++ {
		dx := float64(i * 4)
		// Detection order swaps every frame; identities must not.
		out := tr.Update([]Detection{det(400-dx, 100, 50, 100, 0.9), det(100+dx, 100, 50, 100, 0.9)})
		require.Len(t, out, 2)
		assert.Equal(t, b, out[0].ID, "frame %d", i)
		assert.Equal(t, a, out[1].ID, "frame %d", i)
		assert.Equal(t, 0, out[0].Det)
		assert.Equal(t, 1, out[1].Det)
	}
}

func TestTrackerBirthsNeedHighScore(t *testing.T) {
	tr := NewTracker(DefaultConfig())
	out := tr.Update([]Detection{det(0, 0, 10, 10, 0.55), det(100, 100, 10, 10, 0.3)})
	assert.Empty(t, out)
	assert.Zero(t, tr.Len())
}

func TestTrackerSeedIgnoresBirthThreshold(t *testing.T) {
	tr := NewTracker(DefaultConfig())
	seeded := tr.Seed(det(200, 200, 60, 60, 0.55))
	assert.True(t, seeded.Confirmed)
	assert.Equal(t, 1, tr.Len())

	out := tr.Update([]Detection{det(203, 200, 60, 60, 0.55), det(600, 200, 60, 60, 0.9)})
	require.Len(t, out, 2)
	assert.Equal(t, seeded.ID, out[0].ID)
	assert.NotEqual(t, seeded.ID, out[1].ID)
}

func TestTrackerLaterBirthsStartUnconfirmed(t *testing.T) {
	tr := NewTracker(DefaultConfig())
	tr.Update(nil)

	out := tr.Update([]Detection{det(0, 0, 20, 20, 0.9)})
	require.Len(t, out, 1)
	assert.False(t, out[0].Confirmed)

	out = tr.Update([]Detection{det(1, 0, 20, 20, 0.9)})
	require.Len(t, out, 1)
	assert.True(t, out[0].Confirmed)
}

func TestTrackerRecoversWithWeakDetection(t *testing.T) {
	tr := NewTracker(DefaultConfig())
	id := tr.Update([]Detection{det(200, 200, 60, 60, 0.9)})[0].ID

	// Occlusion drops the score below the confident threshold.
	out := tr.Update([]Detection{det(202, 200, 60, 60, 0.3)})
	require.Len(t, out, 1)
	assert.Equal(t, id, out[0].ID)
}

func TestTrackerRecoversLostTrack(t *testing.T) {
	tr := NewTracker(DefaultConfig())
	id := tr.Update([]Detection{det(200, 200, 60, 60, 0.9)})[0].ID

	for i := 0; i < 5; i++ {
		assert.Empty(t, tr.Update(nil))
	}

	out := tr.Update([]Detection{det(200, 200, 60, 60, 0.9)})
	require.Len(t, out, 1)
	assert.Equal(t, id, out[0].ID)
}

func TestTrackerExpiresLostTracks(t *testing.T) {
	cfg := DefaultConfig()
	cfg.TrackBuffer = 3
	tr := NewTracker(cfg)
	id := tr.Update([]Detection{det(200, 200, 60, 60, 0.9)})[0].ID

	for i := 0; i < 5; i++ {
		tr.Update(nil)
	}
	assert.Zero(t, tr.Len())

	out := tr.Update([]Detection{det(200, 200, 60, 60, 0.9)})
	require.Len(t, out, 1)
	assert.Greater(t, out[0].ID, id)
}
