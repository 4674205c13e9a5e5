// v1
// internal/mission/mission.go

// Package mission carries the read-only collaborator inputs the control core
// consumes: the exterior day/night boundary condition, the substrate-ready
// gate supplied by the curing model, and the nutrient-release day series.
// Nothing here is recomputed; these are outputs of the external models.
package mission

import (
	"fmt"
	"math"

	"github.com/dfeen87/Bio-Stabilizing-Lunar-Spray/internal/telemetry"
)

// AmbientProfile is the hostile exterior cycle. The exterior swings between
// the day and night extremes with a square-wave day/night split; the dome's
// thermal lag does the smoothing. The defaults describe the shielded habitat
// exterior (regolith berm), not the raw surface: the heater span has to be
// able to cover the night extreme.
type AmbientProfile struct {
	DayTempC   float64 `json:"dayTempC"`
	NightTempC float64 `json:"nightTempC"`
	// PeriodH is the full light/dark cycle length in hours (24 for a
	// sun-synchronous habitat, ~708 for raw lunar surface).
	PeriodH float64 `json:"periodH"`
	// DayFraction is the lit share of the period, 0..1.
	DayFraction float64 `json:"dayFraction"`
	PressureKPa float64 `json:"pressureKPa"` // exterior pressure, ~0 in vacuum
}

func DefaultAmbientProfile() AmbientProfile {
	return AmbientProfile{
		DayTempC:    0,
		NightTempC:  -5,
		PeriodH:     24,
		DayFraction: 0.5,
	}
}

func (p AmbientProfile) Validate() error {
	if p.PeriodH <= 0 {
		return fmt.Errorf("mission: ambient period must be positive (got %.1f)", p.PeriodH)
	}
	if p.DayFraction < 0 || p.DayFraction > 1 {
		return fmt.Errorf("mission: day fraction %.2f outside 0..1", p.DayFraction)
	}
	return nil
}

// At returns the exterior boundary condition at a simulation time. The
// exterior atmosphere is lethal by construction: no humidity, no oxygen.
func (p AmbientProfile) At(simSeconds float64) telemetry.Ambient {
	phase := math.Mod(simSeconds/3600, p.PeriodH) / p.PeriodH
	temp := p.NightTempC
	if phase < p.DayFraction {
		temp = p.DayTempC
	}
	return telemetry.Ambient{TempC: temp, PressureKPa: p.PressureKPa}
}

// SubstrateGate gates GROWING mode on the curing model's output: the day the
// treated surface reaches load-bearing strength.
type SubstrateGate struct {
	ReadyDay int `json:"readyDay"`
}

// Ready reports whether the substrate can carry a crop at a simulation time.
func (g SubstrateGate) Ready(simSeconds float64) bool {
	return simSeconds >= float64(g.ReadyDay)*24*3600
}

// NutrientPlan is the nutrient-release model's day series, consumed to decide
// whether misting should carry the nutrient solution.
type NutrientPlan struct {
	// ConcentrationMgL holds one value per mission day.
	ConcentrationMgL []float64 `json:"concentrationMgL"`
	PH               []float64 `json:"ph"`
	// DoseThresholdMgL is the floor under which dosing is pointless.
	DoseThresholdMgL float64 `json:"doseThresholdMgL"`
	// PHMin and PHMax bound the range in which dosing is safe.
	PHMin float64 `json:"phMin"`
	PHMax float64 `json:"phMax"`
}

func DefaultNutrientPlan() NutrientPlan {
	return NutrientPlan{DoseThresholdMgL: 10, PHMin: 5.5, PHMax: 7.5}
}

// DoseAt reports whether mist water should carry nutrients on the day
// containing simSeconds. Days beyond the series never dose.
func (n NutrientPlan) DoseAt(simSeconds float64) bool {
	day := int(simSeconds / (24 * 3600))
	if day < 0 || day >= len(n.ConcentrationMgL) {
		return false
	}
	if n.ConcentrationMgL[day] < n.DoseThresholdMgL {
		return false
	}
	if day < len(n.PH) {
		if ph := n.PH[day]; ph < n.PHMin || ph > n.PHMax {
			return false
		}
	}
	return true
}
