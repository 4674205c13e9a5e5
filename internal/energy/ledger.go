// v1
// internal/energy/ledger.go

// Package energy integrates actuator power draw into cumulative per-subsystem
// totals. Accounting runs every tick in every mode; an idle dome still books
// its configured baseline draw.
package energy

import "fmt"
import "github.com/dfeen87/Bio-Stabilizing-Lunar-Spray/internal/telemetry"

// PowerCurves maps commanded fractions to instantaneous draw in kW.
// The heater is resistive-plus-losses and draws with the square of its
// commanded fraction; the other channels are linear.
type PowerCurves struct {
	HeaterKW float64 `json:"heaterKW"` // draw at full power
	LightKW  float64 `json:"lightKW"`
	VentKW   float64 `json:"ventKW"`
	MisterKW float64 `json:"misterKW"`
	// ScrubberKW is drawn by the CO2 scrubber/injector at full rate in
	// either direction and books under "other".
	ScrubberKW float64 `json:"scrubberKW"`
	// IdleKW is the avionics/controller baseline, drawn in every mode
	// including SHUTDOWN.
	IdleKW float64 `json:"idleKW"`
}

func DefaultPowerCurves() PowerCurves {
	return PowerCurves{
		HeaterKW:   2.0,
		LightKW:    1.0,
		VentKW:     0.4,
		MisterKW:   0.2,
		ScrubberKW: 0.3,
		IdleKW:     0.05,
	}
}

func (p PowerCurves) Validate() error {
	for name, v := range map[string]float64{
		"heater": p.HeaterKW, "light": p.LightKW, "vent": p.VentKW,
		"mister": p.MisterKW, "scrubber": p.ScrubberKW, "idle": p.IdleKW,
	} {
		if v < 0 {
			return fmt.Errorf("energy: %s rating must be non-negative (got %.3f)", name, v)
		}
	}
	return nil
}

// Ledger holds cumulative kWh per subsystem. Totals are monotonically
// non-decreasing for the lifetime of a run and reset only with the dome.
type Ledger struct {
	HeatingKWh     float64 `json:"heatingKWh"`
	LightingKWh    float64 `json:"lightingKWh"`
	VentilationKWh float64 `json:"ventilationKWh"`
	MistingKWh     float64 `json:"mistingKWh"`
	OtherKWh       float64 `json:"otherKWh"`
}

// TotalKWh sums all subsystems.
func (l Ledger) TotalKWh() float64 {
	return l.HeatingKWh + l.LightingKWh + l.VentilationKWh + l.MistingKWh + l.OtherKWh
}

// Accountant applies the configured curves to a command and integrates.
type Accountant struct {
	curves PowerCurves
	ledger Ledger
}

func NewAccountant(curves PowerCurves) (*Accountant, error) {
	if err := curves.Validate(); err != nil {
		return nil, err
	}
	return &Accountant{curves: curves}, nil
}

// Draw returns the instantaneous per-channel draw in kW for a command.
func (a *Accountant) Draw(cmd telemetry.ActuatorCommand) (heating, lighting, ventilation, misting, other float64) {
	cmd = cmd.Clamp()
	heating = a.curves.HeaterKW * cmd.Heater * cmd.Heater
	lighting = a.curves.LightKW * cmd.Light
	ventilation = a.curves.VentKW * cmd.Vent
	misting = a.curves.MisterKW * cmd.Mister
	scrub := cmd.CO2Rate
	if scrub < 0 {
		scrub = -scrub
	}
	other = a.curves.ScrubberKW*scrub + a.curves.IdleKW
	return
}

// Accumulate books one tick of draw. dt is in seconds; the ledger is kWh.
// Non-positive dt books nothing, so a transient fault can never make a
// counter move backward.
func (a *Accountant) Accumulate(cmd telemetry.ActuatorCommand, dt float64) {
	if dt <= 0 {
		return
	}
	h, li, v, mi, o := a.Draw(cmd)
	hours := dt / 3600
	a.ledger.HeatingKWh += h * hours
	a.ledger.LightingKWh += li * hours
	a.ledger.VentilationKWh += v * hours
	a.ledger.MistingKWh += mi * hours
	a.ledger.OtherKWh += o * hours
}

// Ledger returns a copy of the running totals.
func (a *Accountant) Ledger() Ledger { return a.ledger }
