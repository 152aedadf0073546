// Package pid turns a pixel error into a gimbal speed for one axis.
package pid

import (
	"fmt"
	"sync"
	"time"

	"github.com/felixge/pidctrl"
)

// Clock supplies the timestamps dt is measured between.
type Clock func() time.Time

// Gains and output limits of one axis.
type Gains struct {
	Kp, Ki, Kd float64
	Min, Max   float64
}

// DefaultGains matches the tuning used on an A8 mini at 1280x720.
func DefaultGains() Gains {
	return Gains{Kp: 0.15, Ki: 0.01, Kd: 0.005, Min: -100, Max: 100}
}

// Axis computes Kp·e + Ki·∫e·dt + Kd·de/dt clamped to [Min, Max], with the
// Ki·∫e·dt term itself also held within [Min, Max]. That bound is pidctrl's
// anti-windup; there is no other limit on the accumulator.
//
// The first Update after construction or Reset uses dt = 0, so it has no
// derivative term and leaves the integral unchanged.
type Axis struct {
	gains Gains
	clock Clock

	mu   sync.Mutex
	ctrl *pidctrl.PIDController
	last time.Time
}

// NewAxis validates g. A nil clock uses time.Now.
func NewAxis(g Gains, clock Clock) (*Axis, error) {
	if g.Min >= g.Max {
		return nil, fmt.Errorf("pid: output limits %.1f..%.1f are empty", g.Min, g.Max)
	}
	if clock == nil {
		clock = time.Now
	}
	a := &Axis{gains: g, clock: clock}
	a.ctrl = a.newController()
	return a, nil
}

func (a *Axis) newController() *pidctrl.PIDController {
	c := pidctrl.NewPIDController(a.gains.Kp, a.gains.Ki, a.gains.Kd)
	c.SetOutputLimits(a.gains.Min, a.gains.Max)
	c.Set(0)
	return c
}

// Update feeds one error sample and returns the clamped output.
func (a *Axis) Update(err float64) float64 {
	a.mu.Lock()
	defer a.mu.Unlock()

	now := a.clock()
	var dt time.Duration
	if !a.last.IsZero() {
		dt = now.Sub(a.last)
		if dt < 0 {
			dt = 0
		}
	}
	a.last = now

	// The controller drives its measurement toward setpoint 0, so the
	// measurement is the negated error.
	return a.ctrl.UpdateDuration(-err, dt)
}

// Reset zeroes the integral, previous error and timestamp.
func (a *Axis) Reset() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.ctrl = a.newController()
	a.last = time.Time{}
}

// Gains returns the configured gains.
func (a *Axis) Gains() Gains {
	return a.gains
}
