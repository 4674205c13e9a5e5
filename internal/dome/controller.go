// v5
// internal/dome/controller.go

// Package dome owns one enclosure: its sensor state, PID loops, mode machine,
// emergency monitor and energy ledger, and the tick that binds them together.
package dome

import (
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"

	"github.com/dfeen87/Bio-Stabilizing-Lunar-Spray/internal/energy"
	"github.com/dfeen87/Bio-Stabilizing-Lunar-Spray/internal/hazard"
	"github.com/dfeen87/Bio-Stabilizing-Lunar-Spray/internal/modes"
	"github.com/dfeen87/Bio-Stabilizing-Lunar-Spray/internal/physics"
	"github.com/dfeen87/Bio-Stabilizing-Lunar-Spray/internal/pid"
	"github.com/dfeen87/Bio-Stabilizing-Lunar-Spray/internal/telemetry"
)

var (
	// ErrNonPositiveTick is the transient fault for dt <= 0; the dome state
	// is untouched and the run continues.
	ErrNonPositiveTick = errors.New("dome: non-positive tick interval")
	// ErrSubstrateNotReady rejects GROWING before the curing model says the
	// substrate can carry a crop.
	ErrSubstrateNotReady = errors.New("dome: substrate not ready for growing")
	// ErrShutDown marks operations against a dome that reached SHUTDOWN.
	ErrShutDown = errors.New("dome: shut down")
	// ErrProfileImmutable rejects setpoint updates for the boot and
	// safe-hold profiles.
	ErrProfileImmutable = errors.New("dome: profile not operator-adjustable")
)

// AmbientSource supplies the exterior boundary condition per tick.
type AmbientSource interface {
	At(simSeconds float64) telemetry.Ambient
}

// SubstrateGate reports whether the cured substrate can carry a crop.
type SubstrateGate interface {
	Ready(simSeconds float64) bool
}

// NutrientSource reports whether mist water should carry nutrient solution.
type NutrientSource interface {
	DoseAt(simSeconds float64) bool
}

// Profiles are the per-mode setpoints. SafeHold is what EMERGENCY drives
// toward while corrective overrides run.
type Profiles struct {
	Startup     telemetry.Setpoint `json:"startup"`
	Idle        telemetry.Setpoint `json:"idle"`
	Growing     telemetry.Setpoint `json:"growing"`
	Maintenance telemetry.Setpoint `json:"maintenance"`
	SafeHold    telemetry.Setpoint `json:"safeHold"`
}

func DefaultProfiles() Profiles {
	return Profiles{
		Startup:     telemetry.Setpoint{TempC: 18, HumidityPct: 55, CO2Ppm: 600, O2Pct: 20.9, PhotoperiodH: 0},
		Idle:        telemetry.Setpoint{TempC: 18, HumidityPct: 55, CO2Ppm: 600, O2Pct: 20.9, PhotoperiodH: 8},
		Growing:     telemetry.Setpoint{TempC: 22, HumidityPct: 65, CO2Ppm: 800, O2Pct: 20.9, PhotoperiodH: 16},
		Maintenance: telemetry.Setpoint{TempC: 16, HumidityPct: 45, CO2Ppm: 500, O2Pct: 20.9, PhotoperiodH: 4},
		SafeHold:    telemetry.Setpoint{TempC: 18, HumidityPct: 55, CO2Ppm: 600, O2Pct: 20.9, PhotoperiodH: 0},
	}
}

// ForMode selects the active profile. EMERGENCY and SHUTDOWN hold the
// safe-hold targets.
func (p Profiles) ForMode(m modes.Mode) telemetry.Setpoint {
	switch m {
	case modes.Idle:
		return p.Idle
	case modes.Growing:
		return p.Growing
	case modes.Maintenance:
		return p.Maintenance
	case modes.Emergency, modes.Shutdown:
		return p.SafeHold
	default:
		return p.Startup
	}
}

// StabilityTolerance is the band around the startup profile within which
// readings count as stable for the STARTUP -> IDLE dwell.
type StabilityTolerance struct {
	TempC       float64 `json:"tempC"`
	HumidityPct float64 `json:"humidityPct"`
	CO2Ppm      float64 `json:"co2Ppm"`
	O2Pct       float64 `json:"o2Pct"`
}

func DefaultStabilityTolerance() StabilityTolerance {
	return StabilityTolerance{TempC: 2, HumidityPct: 10, CO2Ppm: 300, O2Pct: 1}
}

// Config assembles everything one dome needs. Zero-value subsections are
// filled with defaults by New; validation failures surface immediately, never
// as silent clamping.
type Config struct {
	ID string `json:"id"`

	TempGains     pid.Gains `json:"tempGains"`
	HumidityGains pid.Gains `json:"humidityGains"`
	CO2Gains      pid.Gains `json:"co2Gains"`

	Physics    physics.Params     `json:"physics"`
	Thresholds hazard.Thresholds  `json:"thresholds"`
	Modes      modes.Config       `json:"modes"`
	Power      energy.PowerCurves `json:"power"`
	Profiles   Profiles           `json:"profiles"`
	Stability  StabilityTolerance `json:"stability"`

	Initial telemetry.SensorReading `json:"initial"`
	// HistoryCap bounds the in-memory tick series; 0 keeps the default.
	HistoryCap int `json:"historyCap"`
}

// DefaultGains mirror the reference tuning for the three regulated loops.
func DefaultTempGains() pid.Gains {
	return pid.Gains{Kp: 0.2, Ki: 0.01, Kd: 0.05, OutMin: -1, OutMax: 1, IntegralCap: 60}
}
func DefaultHumidityGains() pid.Gains {
	return pid.Gains{Kp: 0.05, Ki: 0.002, Kd: 0.01, OutMin: -1, OutMax: 1, IntegralCap: 200}
}
func DefaultCO2Gains() pid.Gains {
	return pid.Gains{Kp: 0.002, Ki: 0.0001, Kd: 0, OutMin: -1, OutMax: 1, IntegralCap: 4000}
}

const defaultHistoryCap = 20160 // two weeks of minute ticks

// TickRecord is one row of the output time series: everything a reporter
// needs without re-deriving control logic.
type TickRecord struct {
	Time    float64                   `json:"time"`
	Mode    string                    `json:"mode"`
	Reading telemetry.SensorReading   `json:"reading"`
	Command telemetry.ActuatorCommand `json:"command"`
	Ledger  energy.Ledger             `json:"ledger"`
}

// Status is a point-in-time snapshot for the operations API.
type Status struct {
	ID          string                    `json:"id"`
	Mode        string                    `json:"mode"`
	Time        float64                   `json:"time"`
	Reading     telemetry.SensorReading   `json:"reading"`
	LastCommand telemetry.ActuatorCommand `json:"lastCommand"`
	Setpoint    telemetry.Setpoint        `json:"setpoint"`
	Ledger      energy.Ledger             `json:"ledger"`
	OpenHazards []string                  `json:"openHazards"`
	Emergencies int                       `json:"emergencies"`
	Faults      int64                     `json:"faults"`
}

// Controller runs one dome. Tick is stepped from a single goroutine; the
// read accessors and the coordinator's O2 delta take the same lock so
// concurrent HTTP reads observe only fully committed ticks.
type Controller struct {
	cfg       Config
	log       *slog.Logger
	ambient   AmbientSource
	substrate SubstrateGate
	nutrients NutrientSource

	model   *physics.Model
	machine *modes.Machine
	monitor *hazard.Monitor
	acct    *energy.Accountant
	tempPID *pid.Controller
	humPID  *pid.Controller
	co2PID  *pid.Controller

	mu      sync.RWMutex
	now     float64
	reading telemetry.SensorReading
	lastCmd telemetry.ActuatorCommand
	history []TickRecord
	faults  int64
}

// New validates the configuration and builds a dome in STARTUP.
func New(cfg Config, ambient AmbientSource, substrate SubstrateGate, nutrients NutrientSource, log *slog.Logger) (*Controller, error) {
	if cfg.ID == "" {
		return nil, fmt.Errorf("dome: id must not be empty")
	}
	applyDefaults(&cfg)
	if ambient == nil {
		return nil, fmt.Errorf("dome %s: ambient source is required", cfg.ID)
	}
	log = log.With(slog.String("component", "dome"), slog.String("dome", cfg.ID))

	model, err := physics.NewModel(cfg.Physics)
	if err != nil {
		return nil, fmt.Errorf("dome %s: %w", cfg.ID, err)
	}
	monitor, err := hazard.NewMonitor(cfg.Thresholds, log)
	if err != nil {
		return nil, fmt.Errorf("dome %s: %w", cfg.ID, err)
	}
	machine, err := modes.NewMachine(cfg.Modes, log)
	if err != nil {
		return nil, fmt.Errorf("dome %s: %w", cfg.ID, err)
	}
	acct, err := energy.NewAccountant(cfg.Power)
	if err != nil {
		return nil, fmt.Errorf("dome %s: %w", cfg.ID, err)
	}
	tempPID, err := pid.New("temperature", cfg.TempGains, log)
	if err != nil {
		return nil, fmt.Errorf("dome %s: %w", cfg.ID, err)
	}
	humPID, err := pid.New("humidity", cfg.HumidityGains, log)
	if err != nil {
		return nil, fmt.Errorf("dome %s: %w", cfg.ID, err)
	}
	co2PID, err := pid.New("co2", cfg.CO2Gains, log)
	if err != nil {
		return nil, fmt.Errorf("dome %s: %w", cfg.ID, err)
	}
	if err := cfg.Profiles.Validate(cfg.Thresholds); err != nil {
		return nil, fmt.Errorf("dome %s: %w", cfg.ID, err)
	}

	c := &Controller{
		cfg:       cfg,
		log:       log,
		ambient:   ambient,
		substrate: substrate,
		nutrients: nutrients,
		model:     model,
		machine:   machine,
		monitor:   monitor,
		acct:      acct,
		tempPID:   tempPID,
		humPID:    humPID,
		co2PID:    co2PID,
		reading:   cfg.Initial,
	}
	log.Info("dome initialized", "mode", machine.Current().String(), "historyCap", cfg.HistoryCap)
	return c, nil
}

func applyDefaults(cfg *Config) {
	if cfg.TempGains == (pid.Gains{}) {
		cfg.TempGains = DefaultTempGains()
	}
	if cfg.HumidityGains == (pid.Gains{}) {
		cfg.HumidityGains = DefaultHumidityGains()
	}
	if cfg.CO2Gains == (pid.Gains{}) {
		cfg.CO2Gains = DefaultCO2Gains()
	}
	if cfg.Physics == (physics.Params{}) {
		cfg.Physics = physics.DefaultParams()
	}
	if cfg.Thresholds == (hazard.Thresholds{}) {
		cfg.Thresholds = hazard.DefaultThresholds()
	}
	if cfg.Modes == (modes.Config{}) {
		cfg.Modes = modes.DefaultConfig()
	}
	if cfg.Power == (energy.PowerCurves{}) {
		cfg.Power = energy.DefaultPowerCurves()
	}
	if cfg.Profiles == (Profiles{}) {
		cfg.Profiles = DefaultProfiles()
	}
	if cfg.Stability == (StabilityTolerance{}) {
		cfg.Stability = DefaultStabilityTolerance()
	}
	if cfg.Initial == (telemetry.SensorReading{}) {
		cfg.Initial = telemetry.SensorReading{
			TempC: 18, HumidityPct: 55, CO2Ppm: 600, O2Pct: 20.9,
			PressureKPa: cfg.Physics.NominalPressureKPa,
		}
	}
	if cfg.HistoryCap <= 0 {
		cfg.HistoryCap = defaultHistoryCap
	}
}

// Validate rejects mode setpoints outside the declared survivable envelope.
// Out-of-envelope operator profiles are a configuration error at load time,
// never a silent clamp.
func (p Profiles) Validate(th hazard.Thresholds) error {
	check := func(name string, sp telemetry.Setpoint) error {
		if sp.TempC < th.TempMinC || sp.TempC > th.TempMaxC {
			return fmt.Errorf("profile %s: temperature %.1fC outside survivable band %.1f..%.1f", name, sp.TempC, th.TempMinC, th.TempMaxC)
		}
		if sp.HumidityPct < th.HumidityMinPct || sp.HumidityPct > th.HumidityMaxPct {
			return fmt.Errorf("profile %s: humidity %.1f%% outside survivable band %.1f..%.1f", name, sp.HumidityPct, th.HumidityMinPct, th.HumidityMaxPct)
		}
		if sp.CO2Ppm <= 0 || sp.CO2Ppm > th.CO2MaxPpm {
			return fmt.Errorf("profile %s: CO2 %.0f ppm outside 0..%.0f", name, sp.CO2Ppm, th.CO2MaxPpm)
		}
		if sp.O2Pct < th.O2MinPct {
			return fmt.Errorf("profile %s: O2 %.1f%% below viability %.1f%%", name, sp.O2Pct, th.O2MinPct)
		}
		if sp.PhotoperiodH < 0 || sp.PhotoperiodH > 24 {
			return fmt.Errorf("profile %s: photoperiod %.1fh outside 0..24", name, sp.PhotoperiodH)
		}
		return nil
	}
	for name, sp := range map[string]telemetry.Setpoint{
		"startup": p.Startup, "idle": p.Idle, "growing": p.Growing,
		"maintenance": p.Maintenance, "safe-hold": p.SafeHold,
	} {
		if err := check(name, sp); err != nil {
			return err
		}
	}
	return nil
}

// Tick advances the dome by dt seconds: hazard evaluation, mode step, PID
// loops (or emergency override), physics, energy accounting, history. A tick
// either fully commits or, on fault, leaves the dome at its pre-tick state
// with the fault counted.
func (c *Controller) Tick(dt float64) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if dt <= 0 {
		c.faults++
		c.log.Warn("tick rejected", "dt", dt, "err", ErrNonPositiveTick)
		return ErrNonPositiveTick
	}
	if !finiteReading(c.reading) {
		c.faults++
		c.log.Error("tick rejected, non-finite sensor state", "reading", c.reading)
		return fmt.Errorf("dome %s: non-finite sensor state", c.cfg.ID)
	}

	now := c.now + dt

	if c.machine.Current() == modes.Shutdown {
		// The dome no longer responds to control; only the idle draw and the
		// history series keep moving.
		cmd := telemetry.SafeOff()
		c.acct.Accumulate(cmd, dt)
		c.now = now
		c.lastCmd = cmd
		c.appendHistory(now, cmd)
		return nil
	}

	// Emergency predicates run before any PID computation. Their snapshots
	// join the PID ones: a faulted tick must not leave a mode change or a
	// new emergency event behind.
	monSnap, machSnap := c.monitor.Snapshot(), c.machine.Snapshot()
	hazardOpen := c.monitor.Evaluate(c.reading, now)
	c.machine.Tick(now, c.stable(), hazardOpen)
	mode := c.machine.Current()

	if mode == modes.Shutdown {
		cmd := telemetry.SafeOff()
		c.acct.Accumulate(cmd, dt)
		c.now = now
		c.lastCmd = cmd
		c.appendHistory(now, cmd)
		c.log.Warn("dome entered SHUTDOWN, actuators safed")
		return nil
	}

	sp := c.cfg.Profiles.ForMode(mode)

	tempSnap, humSnap, co2Snap := c.tempPID.Snapshot(), c.humPID.Snapshot(), c.co2PID.Snapshot()
	cmd := c.regulate(sp, now, dt)
	if mode == modes.Emergency {
		cmd = c.monitor.Override(c.reading, cmd)
	}
	cmd = cmd.Clamp()

	next := c.model.Step(c.reading, cmd, c.ambient.At(now), dt)
	if !finiteReading(next) {
		// Roll everything back and leave the dome exactly where it was.
		c.tempPID.Restore(tempSnap)
		c.humPID.Restore(humSnap)
		c.co2PID.Restore(co2Snap)
		c.monitor.Restore(monSnap)
		c.machine.Restore(machSnap)
		c.faults++
		c.log.Error("physics produced non-finite state, tick dropped", "t", now)
		return fmt.Errorf("dome %s: non-finite physics output", c.cfg.ID)
	}

	// Accounting is never skipped, whatever the mode.
	c.acct.Accumulate(cmd, dt)
	c.now = now
	c.reading = next
	c.lastCmd = cmd
	c.appendHistory(now, cmd)
	return nil
}

// regulate runs the three PID loops against the active setpoint and shapes
// their outputs onto the actuator channels. The vent is shared between
// cooling and dehumidification; the stronger demand wins.
func (c *Controller) regulate(sp telemetry.Setpoint, now, dt float64) telemetry.ActuatorCommand {
	var cmd telemetry.ActuatorCommand

	tempOut, err := c.tempPID.Update(sp.TempC, c.reading.TempC, dt)
	if err != nil {
		c.faults++
	}
	humOut, err := c.humPID.Update(sp.HumidityPct, c.reading.HumidityPct, dt)
	if err != nil {
		c.faults++
	}
	co2Out, err := c.co2PID.Update(sp.CO2Ppm, c.reading.CO2Ppm, dt)
	if err != nil {
		c.faults++
	}

	cmd.Heater = math.Max(tempOut, 0)
	coolVent := math.Max(-tempOut, 0)
	cmd.Mister = math.Max(humOut, 0)
	dryVent := math.Max(-humOut, 0)
	cmd.Vent = math.Max(coolVent, dryVent)
	cmd.CO2Rate = co2Out
	cmd.Light = photoperiodLight(now, sp.PhotoperiodH)
	if cmd.Mister > 0 && c.nutrients != nil {
		cmd.DoseNutrients = c.nutrients.DoseAt(now)
	}
	return cmd
}

// photoperiodLight is the lighting schedule: full power through the
// photoperiod with a one-hour ramp at each end, dark otherwise.
func photoperiodLight(simSeconds, photoperiodH float64) float64 {
	if photoperiodH <= 0 {
		return 0
	}
	if photoperiodH >= 24 {
		return 1
	}
	hour := math.Mod(simSeconds/3600, 24)
	if hour >= photoperiodH {
		return 0
	}
	if hour < 1 {
		return hour
	}
	if hour > photoperiodH-1 {
		return photoperiodH - hour
	}
	return 1
}

// stable is the STARTUP predicate: every reading within tolerance of the
// benign startup profile.
func (c *Controller) stable() bool {
	sp := c.cfg.Profiles.Startup
	tol := c.cfg.Stability
	r := c.reading
	return math.Abs(r.TempC-sp.TempC) <= tol.TempC &&
		math.Abs(r.HumidityPct-sp.HumidityPct) <= tol.HumidityPct &&
		math.Abs(r.CO2Ppm-sp.CO2Ppm) <= tol.CO2Ppm &&
		math.Abs(r.O2Pct-sp.O2Pct) <= tol.O2Pct
}

func (c *Controller) appendHistory(now float64, cmd telemetry.ActuatorCommand) {
	rec := TickRecord{
		Time:    now,
		Mode:    c.machine.Current().String(),
		Reading: c.reading,
		Command: cmd,
		Ledger:  c.acct.Ledger(),
	}
	c.history = append(c.history, rec)
	if len(c.history) > c.cfg.HistoryCap {
		c.history = c.history[len(c.history)-c.cfg.HistoryCap:]
	}
}

// RequestMode applies an operator transition. GROWING is additionally gated
// on the substrate-ready day from the curing model. A successful transition
// is the one explicit event that resets the PID loops.
func (c *Controller) RequestMode(target modes.Mode) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if target == modes.Growing && c.substrate != nil && !c.substrate.Ready(c.now) {
		return ErrSubstrateNotReady
	}
	before := c.machine.Current()
	if err := c.machine.Request(target, c.now); err != nil {
		return err
	}
	if c.machine.Current() != before {
		c.tempPID.Reset()
		c.humPID.Reset()
		c.co2PID.Reset()
	}
	return nil
}

// UpdateSetpoint replaces the setpoint profile for one operating mode. Only
// the IDLE, GROWING and MAINTENANCE profiles are operator-adjustable, and the
// replacement must sit inside the survivable envelope. Updating the active
// mode's profile resets the PID loops so no integral state carries a stale
// target.
func (c *Controller) UpdateSetpoint(target modes.Mode, sp telemetry.Setpoint) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.machine.Current() == modes.Shutdown {
		return ErrShutDown
	}
	trial := c.cfg.Profiles
	switch target {
	case modes.Idle:
		trial.Idle = sp
	case modes.Growing:
		trial.Growing = sp
	case modes.Maintenance:
		trial.Maintenance = sp
	default:
		return fmt.Errorf("%w: %s", ErrProfileImmutable, target)
	}
	if err := trial.Validate(c.cfg.Thresholds); err != nil {
		return err
	}
	c.cfg.Profiles = trial
	if c.machine.Current() == target {
		c.tempPID.Reset()
		c.humPID.Reset()
		c.co2PID.Reset()
	}
	c.log.Info("setpoint profile updated", "mode", target.String(),
		"tempC", sp.TempC, "humidityPct", sp.HumidityPct, "co2Ppm", sp.CO2Ppm)
	return nil
}

// ApplyO2Delta commits a coordinator transfer onto this dome's own sensor
// state. The coordinator never reaches into PID or mode internals.
func (c *Controller) ApplyO2Delta(delta float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.reading.O2Pct = math.Min(100, math.Max(0, c.reading.O2Pct+delta))
}

// ID returns the dome identifier.
func (c *Controller) ID() string { return c.cfg.ID }

// Mode returns the active operating mode.
func (c *Controller) Mode() modes.Mode {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.machine.Current()
}

// Reading returns the latest committed sensor state.
func (c *Controller) Reading() telemetry.SensorReading {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.reading
}

// O2ViabilityPct exposes the configured viability floor to the coordinator.
func (c *Controller) O2ViabilityPct() float64 { return c.cfg.Thresholds.O2MinPct }

// Ledger returns the cumulative energy totals.
func (c *Controller) Ledger() energy.Ledger {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.acct.Ledger()
}

// Events returns the full emergency log.
func (c *Controller) Events() []*hazard.Event {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.monitor.Events()
}

// Transitions returns the recorded mode history.
func (c *Controller) Transitions() []modes.Transition {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.machine.Transitions()
}

// History returns up to limit most recent tick records (all for limit <= 0).
func (c *Controller) History(limit int) []TickRecord {
	c.mu.RLock()
	defer c.mu.RUnlock()
	n := len(c.history)
	if limit > 0 && limit < n {
		n = limit
	}
	out := make([]TickRecord, n)
	copy(out, c.history[len(c.history)-n:])
	return out
}

// Status builds the snapshot served by the operations API.
func (c *Controller) Status() Status {
	c.mu.RLock()
	defer c.mu.RUnlock()
	mode := c.machine.Current()
	var open []string
	for _, k := range c.monitor.ActiveKinds() {
		open = append(open, k.String())
	}
	return Status{
		ID:          c.cfg.ID,
		Mode:        mode.String(),
		Time:        c.now,
		Reading:     c.reading,
		LastCommand: c.lastCmd,
		Setpoint:    c.cfg.Profiles.ForMode(mode),
		Ledger:      c.acct.Ledger(),
		OpenHazards: open,
		Emergencies: len(c.monitor.Events()),
		Faults:      c.faults,
	}
}

func finiteReading(r telemetry.SensorReading) bool {
	for _, v := range []float64{r.TempC, r.HumidityPct, r.CO2Ppm, r.O2Pct, r.LightLevel, r.SoilMoisture, r.PressureKPa} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}
