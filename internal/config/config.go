// v3
// internal/config/config.go

// Package config loads the daemon configuration: a Java-style .properties
// file pointed to by HABITAT_PROPERTIES, with env overrides for transport
// endpoints. Malformed optional values warn and fall back to defaults;
// missing required keys and semantically invalid values are hard errors.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"math"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/dfeen87/Bio-Stabilizing-Lunar-Spray/internal/coord"
	"github.com/dfeen87/Bio-Stabilizing-Lunar-Spray/internal/dome"
	"github.com/dfeen87/Bio-Stabilizing-Lunar-Spray/internal/energy"
	"github.com/dfeen87/Bio-Stabilizing-Lunar-Spray/internal/hazard"
	"github.com/dfeen87/Bio-Stabilizing-Lunar-Spray/internal/mission"
	"github.com/dfeen87/Bio-Stabilizing-Lunar-Spray/internal/modes"
	"github.com/dfeen87/Bio-Stabilizing-Lunar-Spray/internal/physics"
	"github.com/dfeen87/Bio-Stabilizing-Lunar-Spray/internal/pid"
	"github.com/dfeen87/Bio-Stabilizing-Lunar-Spray/internal/telemetry"
)

// Config is everything habitatd needs to run a fleet.
type Config struct {
	ListenAddr string
	DomeIDs    []string

	// TickInterval is the wall-clock pause between simulation steps;
	// SimStepS is how many simulated seconds each step advances.
	TickInterval time.Duration
	SimStepS     float64

	TempGains     pid.Gains
	HumidityGains pid.Gains
	CO2Gains      pid.Gains

	Physics    physics.Params
	Thresholds hazard.Thresholds
	Modes      modes.Config
	Coord      coord.Config
	Profiles   dome.Profiles
	Power      energy.PowerCurves

	Ambient   mission.AmbientProfile
	Substrate mission.SubstrateGate

	RunLogPath string

	// Transports; empty broker lists disable the corresponding publisher.
	KafkaBrokers    []string
	TelemetryTopic  string
	MQTTBroker      string
	MQTTTopicPrefix string
}

func loadProps(path string) (map[string]string, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot load properties file: %w", err)
	}
	lines := strings.Split(string(b), "\n")
	m := map[string]string{}
	for _, ln := range lines {
		ln = strings.TrimSpace(ln)
		if ln == "" || strings.HasPrefix(ln, "#") || strings.HasPrefix(ln, "//") {
			continue
		}
		kv := strings.SplitN(ln, "=", 2)
		if len(kv) != 2 {
			continue
		}
		m[strings.TrimSpace(kv[0])] = strings.TrimSpace(kv[1])
	}
	return m, nil
}

func getf(m map[string]string, key string, def float64, log *slog.Logger) float64 {
	if v, ok := m[key]; ok {
		// ParseFloat accepts "NaN" and "Inf"; neither belongs in a
		// control parameter.
		if f, err := strconv.ParseFloat(v, 64); err == nil && !math.IsNaN(f) && !math.IsInf(f, 0) {
			return f
		}
		log.Warn("invalid float in properties, using default", "key", key, "val", v, "default", def)
	}
	return def
}

func geti(m map[string]string, key string, def int, log *slog.Logger) int {
	if v, ok := m[key]; ok {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
		log.Warn("invalid int in properties, using default", "key", key, "val", v, "default", def)
	}
	return def
}

func getd(m map[string]string, key string, def time.Duration, log *slog.Logger) time.Duration {
	if v, ok := m[key]; ok {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
		log.Warn("invalid duration in properties, using default", "key", key, "val", v, "default", def)
	}
	return def
}

func splitCSV(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		out = append(out, p)
	}
	return out
}

// Load reads HABITAT_PROPERTIES and assembles the validated configuration.
func Load(log *slog.Logger) (Config, error) {
	propsPath := os.Getenv("HABITAT_PROPERTIES")
	if propsPath == "" {
		return Config{}, errors.New("HABITAT_PROPERTIES env var not set")
	}
	props, err := loadProps(propsPath)
	if err != nil {
		return Config{}, err
	}
	return build(props, log)
}

func build(props map[string]string, log *slog.Logger) (Config, error) {
	addr := props["listen_addr"]
	if addr == "" {
		return Config{}, errors.New("properties must include listen_addr")
	}
	domes := splitCSV(props["domes"])
	if len(domes) == 0 {
		return Config{}, errors.New("properties must include a non-empty domes list")
	}
	seen := map[string]bool{}
	for _, id := range domes {
		if seen[id] {
			return Config{}, fmt.Errorf("duplicate dome id %q", id)
		}
		seen[id] = true
	}

	cfg := Config{
		ListenAddr:   addr,
		DomeIDs:      domes,
		TickInterval: getd(props, "sim.tick", time.Second, log),
		SimStepS:     getd(props, "sim.step", 10*time.Second, log).Seconds(),
		RunLogPath:   props["run_log"],
	}
	if cfg.TickInterval <= 0 {
		return Config{}, fmt.Errorf("sim.tick must be positive (got %s)", cfg.TickInterval)
	}
	if cfg.SimStepS <= 0 {
		return Config{}, fmt.Errorf("sim.step must be positive (got %.1fs)", cfg.SimStepS)
	}
	if cfg.RunLogPath == "" {
		cfg.RunLogPath = "habitatd.runlog"
	}

	cfg.TempGains = gains(props, "pid.temp", dome.DefaultTempGains(), log)
	cfg.HumidityGains = gains(props, "pid.humidity", dome.DefaultHumidityGains(), log)
	cfg.CO2Gains = gains(props, "pid.co2", dome.DefaultCO2Gains(), log)
	for _, g := range []struct {
		name string
		g    pid.Gains
	}{
		{"pid.temp", cfg.TempGains},
		{"pid.humidity", cfg.HumidityGains},
		{"pid.co2", cfg.CO2Gains},
	} {
		if err := g.g.Validate(); err != nil {
			return Config{}, fmt.Errorf("%s: %w", g.name, err)
		}
	}

	cfg.Physics = physics.DefaultParams()
	cfg.Physics.TauThermalS = getd(props, "physics.tau_thermal", 120*time.Second, log).Seconds()
	cfg.Physics.HeaterGainC = getf(props, "physics.heater_gain_c", cfg.Physics.HeaterGainC, log)
	if err := cfg.Physics.Validate(); err != nil {
		return Config{}, err
	}

	cfg.Thresholds = hazard.DefaultThresholds()
	cfg.Thresholds.TempMinC = getf(props, "hazard.temp_min_c", cfg.Thresholds.TempMinC, log)
	cfg.Thresholds.TempMaxC = getf(props, "hazard.temp_max_c", cfg.Thresholds.TempMaxC, log)
	cfg.Thresholds.HumidityMinPct = getf(props, "hazard.humidity_min_pct", cfg.Thresholds.HumidityMinPct, log)
	cfg.Thresholds.HumidityMaxPct = getf(props, "hazard.humidity_max_pct", cfg.Thresholds.HumidityMaxPct, log)
	cfg.Thresholds.CO2MaxPpm = getf(props, "hazard.co2_max_ppm", cfg.Thresholds.CO2MaxPpm, log)
	cfg.Thresholds.O2MinPct = getf(props, "hazard.o2_min_pct", cfg.Thresholds.O2MinPct, log)
	cfg.Thresholds.PressureMaxKPa = getf(props, "hazard.pressure_max_kpa", cfg.Thresholds.PressureMaxKPa, log)
	if err := cfg.Thresholds.Validate(); err != nil {
		return Config{}, err
	}

	defProfiles := dome.DefaultProfiles()
	cfg.Profiles = dome.Profiles{
		Startup:     setpoint(props, "profile.startup", defProfiles.Startup, log),
		Idle:        setpoint(props, "profile.idle", defProfiles.Idle, log),
		Growing:     setpoint(props, "profile.growing", defProfiles.Growing, log),
		Maintenance: setpoint(props, "profile.maintenance", defProfiles.Maintenance, log),
		SafeHold:    setpoint(props, "profile.safe_hold", defProfiles.SafeHold, log),
	}
	if err := cfg.Profiles.Validate(cfg.Thresholds); err != nil {
		return Config{}, err
	}

	cfg.Power = energy.DefaultPowerCurves()
	cfg.Power.HeaterKW = getf(props, "power.heater_kw", cfg.Power.HeaterKW, log)
	cfg.Power.LightKW = getf(props, "power.light_kw", cfg.Power.LightKW, log)
	cfg.Power.VentKW = getf(props, "power.vent_kw", cfg.Power.VentKW, log)
	cfg.Power.MisterKW = getf(props, "power.mister_kw", cfg.Power.MisterKW, log)
	cfg.Power.ScrubberKW = getf(props, "power.scrubber_kw", cfg.Power.ScrubberKW, log)
	cfg.Power.IdleKW = getf(props, "power.idle_kw", cfg.Power.IdleKW, log)
	if err := cfg.Power.Validate(); err != nil {
		return Config{}, err
	}

	cfg.Modes = modes.DefaultConfig()
	cfg.Modes.StartupDwellS = getd(props, "modes.startup_dwell", 2*time.Minute, log).Seconds()
	cfg.Modes.CooldownS = getd(props, "modes.cooldown", 5*time.Minute, log).Seconds()
	cfg.Modes.EscalationCount = geti(props, "hazard.escalation_count", cfg.Modes.EscalationCount, log)
	cfg.Modes.EscalationWindowS = getd(props, "hazard.escalation_window", 6*time.Hour, log).Seconds()
	if err := cfg.Modes.Validate(); err != nil {
		return Config{}, err
	}

	cfg.Coord = coord.Config{
		CadenceTicks: geti(props, "coord.cadence_ticks", 10, log),
		SurplusPct:   getf(props, "coord.surplus_pct", 22, log),
	}
	if err := cfg.Coord.Validate(); err != nil {
		return Config{}, err
	}

	cfg.Ambient = mission.DefaultAmbientProfile()
	cfg.Ambient.DayTempC = getf(props, "ambient.day_temp_c", cfg.Ambient.DayTempC, log)
	cfg.Ambient.NightTempC = getf(props, "ambient.night_temp_c", cfg.Ambient.NightTempC, log)
	cfg.Ambient.PeriodH = getd(props, "ambient.period", 24*time.Hour, log).Hours()
	if err := cfg.Ambient.Validate(); err != nil {
		return Config{}, err
	}
	cfg.Substrate = mission.SubstrateGate{ReadyDay: geti(props, "mission.substrate_ready_day", 25, log)}

	brokersEnv := os.Getenv("KAFKA_BROKERS")
	cfg.KafkaBrokers = splitCSV(brokersEnv)
	cfg.TelemetryTopic = os.Getenv("TOPIC_TELEMETRY")
	if cfg.TelemetryTopic == "" {
		cfg.TelemetryTopic = "dome.telemetry"
	}
	cfg.MQTTBroker = os.Getenv("MQTT_BROKER")
	cfg.MQTTTopicPrefix = os.Getenv("MQTT_TOPIC_PREFIX")
	if cfg.MQTTTopicPrefix == "" {
		cfg.MQTTTopicPrefix = "dome"
	}

	return cfg, nil
}

func gains(props map[string]string, prefix string, def pid.Gains, log *slog.Logger) pid.Gains {
	g := def
	g.Kp = getf(props, prefix+".kp", def.Kp, log)
	g.Ki = getf(props, prefix+".ki", def.Ki, log)
	g.Kd = getf(props, prefix+".kd", def.Kd, log)
	g.IntegralCap = getf(props, prefix+".integral_cap", def.IntegralCap, log)
	g.OutMin = getf(props, prefix+".out_min", def.OutMin, log)
	g.OutMax = getf(props, prefix+".out_max", def.OutMax, log)
	return g
}

func setpoint(props map[string]string, prefix string, def telemetry.Setpoint, log *slog.Logger) telemetry.Setpoint {
	sp := def
	sp.TempC = getf(props, prefix+".temp_c", def.TempC, log)
	sp.HumidityPct = getf(props, prefix+".humidity_pct", def.HumidityPct, log)
	sp.CO2Ppm = getf(props, prefix+".co2_ppm", def.CO2Ppm, log)
	sp.O2Pct = getf(props, prefix+".o2_pct", def.O2Pct, log)
	sp.PhotoperiodH = getf(props, prefix+".photoperiod_h", def.PhotoperiodH, log)
	return sp
}
