// v2
// internal/pid/pid.go
package pid

import (
	"errors"
	"fmt"
	"log/slog"
)

// ErrNonPositiveDt is returned when a controller is stepped with dt <= 0.
// The controller recovers locally: it returns its neutral output, counts the
// fault and leaves its state untouched, so the enclosing tick can continue.
var ErrNonPositiveDt = errors.New("pid: non-positive dt")

// Gains are the tunables for one controlled variable.
type Gains struct {
	Kp float64 `json:"kp"`
	Ki float64 `json:"ki"`
	Kd float64 `json:"kd"`
	// Output clamp bounds.
	OutMin float64 `json:"outMin"`
	OutMax float64 `json:"outMax"`
	// Anti-windup bound on the accumulated integral (symmetric, absolute).
	IntegralCap float64 `json:"integralCap"`
	// Neutral is what Update returns on a transient fault. Usually 0.
	Neutral float64 `json:"neutral"`
}

// Validate rejects gain sets the controller cannot run with. Called once at
// dome initialization so bad configuration never reaches the loop.
func (g Gains) Validate() error {
	if g.Kp < 0 || g.Ki < 0 || g.Kd < 0 {
		return fmt.Errorf("pid gains must be non-negative (kp=%.3f ki=%.3f kd=%.3f)", g.Kp, g.Ki, g.Kd)
	}
	if g.OutMin >= g.OutMax {
		return fmt.Errorf("pid output bounds inverted (%.3f >= %.3f)", g.OutMin, g.OutMax)
	}
	if g.IntegralCap <= 0 {
		return fmt.Errorf("pid integral cap must be positive (got %.3f)", g.IntegralCap)
	}
	if g.Neutral < g.OutMin || g.Neutral > g.OutMax {
		return fmt.Errorf("pid neutral %.3f outside output bounds", g.Neutral)
	}
	return nil
}

// Controller is a discrete PID regulator. One instance owns exactly one
// PIDState; nothing else mutates it. Not safe for concurrent use; each dome
// steps its controllers from a single tick goroutine.
type Controller struct {
	gains Gains
	log   *slog.Logger

	integral float64
	prevErr  float64
	primed   bool // prevErr holds a real sample, derivative term is valid
	faults   int64
}

// New builds a controller with validated gains.
func New(name string, gains Gains, log *slog.Logger) (*Controller, error) {
	if err := gains.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	return &Controller{
		gains: gains,
		log:   log.With(slog.String("component", "pid"), slog.String("loop", name)),
	}, nil
}

// Update advances the controller by dt seconds and returns a bounded output.
// error = setpoint - measured; integral accumulates with anti-windup; the
// derivative acts on the error delta. On dt <= 0 the neutral output and
// ErrNonPositiveDt are returned and no state changes.
func (c *Controller) Update(setpoint, measured, dt float64) (float64, error) {
	if dt <= 0 {
		c.faults++
		c.log.Warn("non-positive dt, returning neutral output", "dt", dt, "faults", c.faults)
		return c.gains.Neutral, ErrNonPositiveDt
	}

	err := setpoint - measured

	c.integral += err * dt
	if c.integral > c.gains.IntegralCap {
		c.integral = c.gains.IntegralCap
	} else if c.integral < -c.gains.IntegralCap {
		c.integral = -c.gains.IntegralCap
	}

	var deriv float64
	if c.primed {
		deriv = (err - c.prevErr) / dt
	}
	c.prevErr = err
	c.primed = true

	out := c.gains.Kp*err + c.gains.Ki*c.integral + c.gains.Kd*deriv
	if out < c.gains.OutMin {
		out = c.gains.OutMin
	} else if out > c.gains.OutMax {
		out = c.gains.OutMax
	}
	return out, nil
}

// Reset clears the accumulated integral and derivative history. Callers reset
// only on explicit events (operator mode changes), never implicitly: entering
// EMERGENCY keeps the integral to avoid a control shock on recovery.
func (c *Controller) Reset() {
	c.integral = 0
	c.prevErr = 0
	c.primed = false
}

// State is the controller's mutable regulation state. Snapshots exist so a
// dome tick that faults after stepping its loops can roll the loops back and
// leave the whole DomeState at its pre-tick value.
type State struct {
	Integral float64 `json:"integral"`
	PrevErr  float64 `json:"prevErr"`
	Primed   bool    `json:"primed"`
}

// Snapshot captures the current regulation state.
func (c *Controller) Snapshot() State {
	return State{Integral: c.integral, PrevErr: c.prevErr, Primed: c.primed}
}

// Restore rewinds the regulation state to a prior snapshot.
func (c *Controller) Restore(s State) {
	c.integral = s.Integral
	c.prevErr = s.PrevErr
	c.primed = s.Primed
}

// Faults reports how many transient dt faults this controller absorbed.
func (c *Controller) Faults() int64 { return c.faults }

// Integral exposes the accumulated integral term for status reporting.
func (c *Controller) Integral() float64 { return c.integral }
