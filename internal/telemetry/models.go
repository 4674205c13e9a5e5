// v1
// internal/telemetry/models.go
package telemetry

// SensorReading is the dome's instantaneous interior state as produced by the
// physical response model once per tick. Controllers treat it as read-only.
type SensorReading struct {
	TempC        float64 `json:"tempC"`
	HumidityPct  float64 `json:"humidityPct"`
	CO2Ppm       float64 `json:"co2Ppm"`
	O2Pct        float64 `json:"o2Pct"`
	LightLevel   float64 `json:"lightLevel"`   // 0..1 fraction of full canopy light
	SoilMoisture float64 `json:"soilMoisture"` // 0..1
	PressureKPa  float64 `json:"pressureKPa"`
	Timestamp    float64 `json:"timestamp"` // simulation seconds since dome init
}

// ActuatorCommand carries the fractions last commanded to each actuator
// channel. CO2Rate is signed: negative scrubs, positive injects.
type ActuatorCommand struct {
	Heater  float64 `json:"heater"`  // 0..1
	Vent    float64 `json:"vent"`    // 0..1
	Mister  float64 `json:"mister"`  // 0..1
	Light   float64 `json:"light"`   // 0..1
	CO2Rate float64 `json:"co2Rate"` // -1..1
	// DoseNutrients marks mist water carrying the nutrient solution. It is
	// driven by the nutrient-release collaborator, not by a control loop.
	DoseNutrients bool `json:"doseNutrients"`
}

// Clamp bounds every channel to its admissible range. Commands must never be
// physically inadmissible when they reach the response model.
func (c ActuatorCommand) Clamp() ActuatorCommand {
	c.Heater = clamp(c.Heater, 0, 1)
	c.Vent = clamp(c.Vent, 0, 1)
	c.Mister = clamp(c.Mister, 0, 1)
	c.Light = clamp(c.Light, 0, 1)
	c.CO2Rate = clamp(c.CO2Rate, -1, 1)
	return c
}

// SafeOff is the actuator state used in SHUTDOWN: everything de-energized.
func SafeOff() ActuatorCommand {
	return ActuatorCommand{}
}

// Setpoint holds the targets one operating mode drives toward.
type Setpoint struct {
	TempC        float64 `json:"tempC"`
	HumidityPct  float64 `json:"humidityPct"`
	CO2Ppm       float64 `json:"co2Ppm"`
	O2Pct        float64 `json:"o2Pct"`
	PhotoperiodH float64 `json:"photoperiodH"` // hours of light per day
}

// Ambient is the hostile exterior boundary condition for one tick.
type Ambient struct {
	TempC       float64 `json:"tempC"`
	HumidityPct float64 `json:"humidityPct"` // ~0 outside a sealed dome
	CO2Ppm      float64 `json:"co2Ppm"`
	O2Pct       float64 `json:"o2Pct"`
	PressureKPa float64 `json:"pressureKPa"` // ~0 in vacuum
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
