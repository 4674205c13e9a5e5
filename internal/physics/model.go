// v3
// internal/physics/model.go

// Package physics holds the simulated dome response: how the interior reacts
// to actuator commands under hostile exterior conditions. Every variable
// relaxes exponentially toward a forcing value with its own time constant;
// this is deliberately a first-order lag model, not a transport solver.
package physics

import (
	"fmt"
	"math"

	"github.com/dfeen87/Bio-Stabilizing-Lunar-Spray/internal/telemetry"
)

// Params are the per-variable time constants and forcing gains.
type Params struct {
	// Time constants, seconds.
	TauThermalS  float64 `json:"tauThermalS"`
	TauHumidityS float64 `json:"tauHumidityS"`
	TauGasS      float64 `json:"tauGasS"`
	TauCanopyS   float64 `json:"tauCanopyS"` // lag of photosynthetic response behind lighting
	TauSoilS     float64 `json:"tauSoilS"`
	TauPressureS float64 `json:"tauPressureS"`

	// HeaterGainC is the temperature rise above exterior at full heater power.
	HeaterGainC float64 `json:"heaterGainC"`
	// VentLeak scales how strongly an open vent drags each interior variable
	// toward the lethal ambient composition (0..1 blend at full vent).
	VentLeak float64 `json:"ventLeak"`

	// CO2 forcing spans around the equilibrium point, ppm.
	CO2BasePpm   float64 `json:"co2BasePpm"`
	CO2InjectPpm float64 `json:"co2InjectPpm"`
	CO2ScrubPpm  float64 `json:"co2ScrubPpm"`
	// PhotoCO2Ppm is the CO2 drawdown at full canopy light.
	PhotoCO2Ppm float64 `json:"photoCo2Ppm"`
	// PhotoO2Pct is the O2 contribution of photosynthesis at full canopy light.
	PhotoO2Pct float64 `json:"photoO2Pct"`
	O2BasePct  float64 `json:"o2BasePct"`

	NominalPressureKPa float64 `json:"nominalPressureKPa"`
	// InjectPressureKPa is the overpressure contribution of gas injection and
	// misting at full rate; venting relieves toward ambient.
	InjectPressureKPa float64 `json:"injectPressureKPa"`
}

// DefaultParams mirrors the calibration used in the reference runs: a 120 s
// thermal constant with a 25 C heater span, slow gas exchange, fast lamps.
func DefaultParams() Params {
	return Params{
		TauThermalS:  120,
		TauHumidityS: 300,
		TauGasS:      600,
		TauCanopyS:   900,
		TauSoilS:     1200,
		TauPressureS: 60,

		HeaterGainC: 25,
		VentLeak:    0.8,

		CO2BasePpm:   400,
		CO2InjectPpm: 1600,
		CO2ScrubPpm:  350,
		PhotoCO2Ppm:  300,
		PhotoO2Pct:   2.5,
		O2BasePct:    20.9,

		NominalPressureKPa: 101.3,
		InjectPressureKPa:  4,
	}
}

// Validate rejects parameter sets the lag model cannot integrate.
func (p Params) Validate() error {
	taus := map[string]float64{
		"tau_thermal":  p.TauThermalS,
		"tau_humidity": p.TauHumidityS,
		"tau_gas":      p.TauGasS,
		"tau_canopy":   p.TauCanopyS,
		"tau_soil":     p.TauSoilS,
		"tau_pressure": p.TauPressureS,
	}
	for name, tau := range taus {
		if tau <= 0 {
			return fmt.Errorf("physics: %s must be positive (got %.3f)", name, tau)
		}
	}
	if p.VentLeak < 0 || p.VentLeak > 1 {
		return fmt.Errorf("physics: vent leak %.3f outside 0..1", p.VentLeak)
	}
	return nil
}

// Model advances sensor readings. It is stateless apart from its parameters;
// the previous reading carries all integration state.
type Model struct {
	p Params
}

func NewModel(p Params) (*Model, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return &Model{p: p}, nil
}

// Step produces the next reading from the previous one, the command applied
// during the interval and the exterior boundary condition. dt must be
// positive; the caller owns that invariant (the dome controller refuses
// non-positive ticks before physics runs).
func (m *Model) Step(prev telemetry.SensorReading, cmd telemetry.ActuatorCommand, amb telemetry.Ambient, dt float64) telemetry.SensorReading {
	cmd = cmd.Clamp()
	p := m.p

	next := prev
	next.Timestamp = prev.Timestamp + dt

	// The measured light level follows the lamps with the canopy constant,
	// and the gas forcings below are driven from the previous level, so the
	// photosynthetic response always lags the lighting command.
	next.LightLevel = clamp01(relax(prev.LightLevel, cmd.Light, p.TauCanopyS, dt))
	canopy := clamp01(prev.LightLevel)

	// Temperature: heater lifts the forcing above exterior, an open vent
	// bleeds the forcing back toward exterior.
	tempForcing := amb.TempC + p.HeaterGainC*cmd.Heater
	tempForcing = lerp(tempForcing, amb.TempC, cmd.Vent*p.VentLeak)
	next.TempC = relax(prev.TempC, tempForcing, p.TauThermalS, dt)

	// Humidity: mist drives toward saturation, venting toward ambient (dry).
	humForcing := lerp(amb.HumidityPct, 100, cmd.Mister)
	humForcing = lerp(humForcing, amb.HumidityPct, cmd.Vent*p.VentLeak)
	next.HumidityPct = clamp(relax(prev.HumidityPct, humForcing, p.TauHumidityS, dt), 0, 100)

	// CO2: signed injector/scrubber shifts the equilibrium, the canopy draws
	// it down, venting exchanges toward ambient.
	co2Forcing := p.CO2BasePpm
	if cmd.CO2Rate >= 0 {
		co2Forcing += cmd.CO2Rate * p.CO2InjectPpm
	} else {
		co2Forcing += cmd.CO2Rate * p.CO2ScrubPpm
	}
	co2Forcing -= canopy * p.PhotoCO2Ppm
	co2Forcing = lerp(co2Forcing, amb.CO2Ppm, cmd.Vent*p.VentLeak)
	next.CO2Ppm = math.Max(0, relax(prev.CO2Ppm, co2Forcing, p.TauGasS, dt))

	// O2: photosynthesis is the only interior source; venting is a loss
	// toward the (near-zero) exterior.
	o2Forcing := p.O2BasePct + canopy*p.PhotoO2Pct
	o2Forcing = lerp(o2Forcing, amb.O2Pct, cmd.Vent*p.VentLeak)
	next.O2Pct = clamp(relax(prev.O2Pct, o2Forcing, p.TauGasS, dt), 0, 100)

	next.SoilMoisture = clamp01(relax(prev.SoilMoisture, cmd.Mister, p.TauSoilS, dt))

	pressForcing := p.NominalPressureKPa + (math.Max(cmd.CO2Rate, 0)+cmd.Mister)*p.InjectPressureKPa
	pressForcing = lerp(pressForcing, amb.PressureKPa, cmd.Vent*p.VentLeak)
	next.PressureKPa = math.Max(0, relax(prev.PressureKPa, pressForcing, p.TauPressureS, dt))

	return next
}

// relax moves v toward target with exponential approach: the gap shrinks by
// a factor e^(-dt/tau) per step, so the step size never overshoots.
func relax(v, target, tau, dt float64) float64 {
	return target + (v-target)*math.Exp(-dt/tau)
}

func lerp(a, b, t float64) float64 { return a + (b-a)*t }

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func clamp01(v float64) float64 { return clamp(v, 0, 1) }
