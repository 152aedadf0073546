package pid

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time { return c.now }

func (c *fakeClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func TestProportionalOnly(t *testing.T) {
	clk := newFakeClock()
	a, err := NewAxis(Gains{Kp: 0.5, Min: -100, Max: 100}, clk.Now)
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		assert.InDelta(t, 20.0, a.Update(40), 1e-9)
		clk.Advance(50 * time.Millisecond)
	}
}

func TestOutputClamped(t *testing.T) {
	clk := newFakeClock()
	a, err := NewAxis(Gains{Kp: 1, Min: -100, Max: 100}, clk.Now)
	require.NoError(t, err)

	assert.Equal(t, 100.0, a.Update(500))
	assert.Equal(t, -100.0, a.Update(-500))
}

func TestIntegralAccumulates(t *testing.T) {
	clk := newFakeClock()
	a, err := NewAxis(Gains{Ki: 1, Min: -100, Max: 100}, clk.Now)
	require.NoError(t, err)

	// First call: dt = 0, integral unchanged.
	assert.Equal(t, 0.0, a.Update(10))

	clk.Advance(time.Second)
	assert.InDelta(t, 10.0, a.Update(10), 1e-9)

	clk.Advance(500 * time.Millisecond)
	assert.InDelta(t, 15.0, a.Update(10), 1e-9)
}

func TestIntegralBoundedToOutputRange(t *testing.T) {
	clk := newFakeClock()
	a, err := NewAxis(Gains{Kp: 0, Ki: 1, Min: -100, Max: 100}, clk.Now)
	require.NoError(t, err)

	a.Update(1000)
	for i := 0; i < 10; i++ {
		clk.Advance(time.Second)
		a.Update(1000)
	}
	// A long saturation does not leave a huge integral behind.
	clk.Advance(time.Second)
	assert.InDelta(t, 0.0, a.Update(-100), 1e-9)
}

func TestDerivative(t *testing.T) {
	clk := newFakeClock()
	a, err := NewAxis(Gains{Kd: 1, Min: -100, Max: 100}, clk.Now)
	require.NoError(t, err)

	assert.Equal(t, 0.0, a.Update(10))
	clk.Advance(time.Second)
	assert.InDelta(t, 20.0, a.Update(30), 1e-9)
}

func TestResetSuppressesDerivative(t *testing.T) {
	clk := newFakeClock()
	a, err := NewAxis(Gains{Kp: 1, Kd: 1, Min: -100, Max: 100}, clk.Now)
	require.NoError(t, err)

	a.Update(0)
	clk.Advance(100 * time.Millisecond)
	a.Update(5)

	a.Reset()
	clk.Advance(100 * time.Millisecond)
	// Only the proportional term survives the reset.
	assert.InDelta(t, 50.0, a.Update(50), 1e-9)
}

func TestResetZeroesIntegral(t *testing.T) {
	clk := newFakeClock()
	a, err := NewAxis(Gains{Kp: 1, Ki: 1, Min: -100, Max: 100}, clk.Now)
	require.NoError(t, err)

	a.Update(10)
	clk.Advance(time.Second)
	require.InDelta(t, 20.0, a.Update(10), 1e-9)

	a.Reset()
	clk.Advance(time.Second)
	assert.InDelta(t, 10.0, a.Update(10), 1e-9)
}

func TestInvalidLimits(t *testing.T) {
	_, err := NewAxis(Gains{Kp: 1, Min: 10, Max: 10}, nil)
	assert.Error(t, err)
}

func TestDefaultGains(t *testing.T) {
	g := DefaultGains()
	assert.Less(t, g.Min, g.Max)
	assert.Greater(t, g.Kp, 0.0)
}
