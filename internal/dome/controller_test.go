// v3
// internal/dome/controller_test.go
package dome

import (
	"errors"
	"io"
	"log/slog"
	"math"
	"testing"

	"github.com/dfeen87/Bio-Stabilizing-Lunar-Spray/internal/hazard"
	"github.com/dfeen87/Bio-Stabilizing-Lunar-Spray/internal/mission"
	"github.com/dfeen87/Bio-Stabilizing-Lunar-Spray/internal/modes"
	"github.com/dfeen87/Bio-Stabilizing-Lunar-Spray/internal/pid"
	"github.com/dfeen87/Bio-Stabilizing-Lunar-Spray/internal/telemetry"
)

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fixedAmbient struct{ amb telemetry.Ambient }

func (f fixedAmbient) At(float64) telemetry.Ambient { return f.amb }

type readyGate bool

func (g readyGate) Ready(float64) bool { return bool(g) }

func newDome(t *testing.T, cfg Config) *Controller {
	t.Helper()
	if cfg.ID == "" {
		cfg.ID = "DOME-001"
	}
	c, err := New(cfg, fixedAmbient{telemetry.Ambient{}}, readyGate(true), mission.DefaultNutrientPlan(), discard())
	if err != nil {
		t.Fatalf("new dome: %v", err)
	}
	return c
}

// tickS keeps the control cadence well inside the thermal time constant; the
// discrete loop is tuned for fine steps, not coarse ones.
const tickS = 10.0

// settle walks a fresh dome through STARTUP into IDLE.
func settle(t *testing.T, c *Controller) {
	t.Helper()
	for i := 0; i < 500 && c.Mode() != modes.Idle; i++ {
		if err := c.Tick(tickS); err != nil {
			t.Fatalf("tick %d: %v", i, err)
		}
	}
	if c.Mode() != modes.Idle {
		t.Fatalf("dome never settled into IDLE, stuck in %s", c.Mode())
	}
}

func TestInitValidation(t *testing.T) {
	base := Config{ID: "D"}
	amb := fixedAmbient{}

	t.Run("empty id", func(t *testing.T) {
		if _, err := New(Config{}, amb, nil, nil, discard()); err == nil {
			t.Fatalf("expected error for empty id")
		}
	})
	t.Run("bad gains", func(t *testing.T) {
		cfg := base
		cfg.TempGains = pid.Gains{Kp: -1, OutMin: -1, OutMax: 1, IntegralCap: 1}
		if _, err := New(cfg, amb, nil, nil, discard()); err == nil {
			t.Fatalf("expected error for negative gain")
		}
	})
	t.Run("profile outside envelope", func(t *testing.T) {
		cfg := base
		cfg.Profiles = DefaultProfiles()
		cfg.Profiles.Growing.TempC = 80 // beyond the 40C survivable max
		if _, err := New(cfg, amb, nil, nil, discard()); err == nil {
			t.Fatalf("expected error for out-of-envelope setpoint")
		}
	})
	t.Run("defaults are valid", func(t *testing.T) {
		if _, err := New(base, amb, nil, nil, discard()); err != nil {
			t.Fatalf("default config rejected: %v", err)
		}
	})
}

func TestStartupSettlesIntoIdle(t *testing.T) {
	c := newDome(t, Config{})
	if c.Mode() != modes.Startup {
		t.Fatalf("fresh dome must be in STARTUP, got %s", c.Mode())
	}
	settle(t, c)
}

func TestNonPositiveTickLeavesStateUntouched(t *testing.T) {
	c := newDome(t, Config{})
	settle(t, c)
	before := c.Status()

	if err := c.Tick(0); !errors.Is(err, ErrNonPositiveTick) {
		t.Fatalf("expected ErrNonPositiveTick, got %v", err)
	}
	after := c.Status()
	if after.Reading != before.Reading || after.Time != before.Time {
		t.Fatalf("faulted tick mutated the dome: %+v vs %+v", before, after)
	}
	if after.Faults != before.Faults+1 {
		t.Fatalf("fault not recorded: %d -> %d", before.Faults, after.Faults)
	}
	if after.Ledger != before.Ledger {
		t.Fatalf("faulted tick moved the energy ledger")
	}
	// The run continues: the next valid tick commits normally.
	if err := c.Tick(tickS); err != nil {
		t.Fatalf("recovery tick: %v", err)
	}
}

// CO2 at 5000 ppm against a 2000 ppm threshold: the very next tick must open
// a CO2_EXCESS event, force EMERGENCY and command maximum scrub and vent.
func TestCO2SpikeForcesEmergencySameTick(t *testing.T) {
	c := newDome(t, Config{})
	settle(t, c)

	c.mu.Lock()
	c.reading.CO2Ppm = 5000
	c.mu.Unlock()

	if err := c.Tick(tickS); err != nil {
		t.Fatalf("tick: %v", err)
	}
	st := c.Status()
	if st.Mode != "EMERGENCY" {
		t.Fatalf("expected EMERGENCY, got %s", st.Mode)
	}
	if st.LastCommand.CO2Rate != -1 || st.LastCommand.Vent != 1 {
		t.Fatalf("expected scrub=max vent=max, got %+v", st.LastCommand)
	}
	evs := c.Events()
	if len(evs) == 0 || evs[len(evs)-1].Kind != hazard.CO2Excess {
		t.Fatalf("expected an open CO2_EXCESS event, got %+v", evs)
	}
}

func TestEmergencyRecoveryAndEscalation(t *testing.T) {
	cfg := Config{}
	cfg.Modes = modes.DefaultConfig()
	cfg.Modes.CooldownS = 300
	cfg.Modes.EscalationCount = 3
	cfg.Modes.EscalationWindowS = 6 * 3600
	c := newDome(t, cfg)
	settle(t, c)

	spike := func() {
		c.mu.Lock()
		c.reading.CO2Ppm = 5000
		c.mu.Unlock()
		if err := c.Tick(tickS); err != nil {
			t.Fatalf("spike tick: %v", err)
		}
		if got := c.Mode(); got != modes.Emergency && got != modes.Shutdown {
			t.Fatalf("spike did not trip the dome, mode %s", got)
		}
	}
	recover := func() {
		// Scrub hard enough that the predicate clears, then wait out the
		// cooldown with clear readings.
		c.mu.Lock()
		c.reading.CO2Ppm = 800
		c.mu.Unlock()
		for i := 0; i < 50 && c.Mode() == modes.Emergency; i++ {
			if err := c.Tick(tickS); err != nil {
				t.Fatalf("cooldown tick: %v", err)
			}
			c.mu.Lock()
			c.reading.CO2Ppm = 800
			c.mu.Unlock()
		}
	}

	spike()
	recover()
	if c.Mode() != modes.Idle {
		t.Fatalf("first emergency should recover to IDLE, got %s", c.Mode())
	}
	spike()
	recover()
	if c.Mode() != modes.Idle {
		t.Fatalf("second emergency should recover to IDLE, got %s", c.Mode())
	}
	spike()
	if c.Mode() != modes.Shutdown {
		t.Fatalf("third emergency within the window must SHUTDOWN, got %s", c.Mode())
	}

	// Terminal but not fatal: ticks keep booking idle energy only.
	before := c.Ledger()
	if err := c.Tick(3600); err != nil {
		t.Fatalf("shutdown tick: %v", err)
	}
	after := c.Ledger()
	if after.OtherKWh <= before.OtherKWh {
		t.Fatalf("idle draw must keep accruing in SHUTDOWN")
	}
	if after.HeatingKWh != before.HeatingKWh {
		t.Fatalf("SHUTDOWN must not book active channels")
	}
	st := c.Status()
	if st.LastCommand != telemetry.SafeOff() {
		t.Fatalf("SHUTDOWN actuators must be safe-off, got %+v", st.LastCommand)
	}
}

func TestLedgerMonotonicAcrossModes(t *testing.T) {
	c := newDome(t, Config{})
	prev := c.Ledger()
	for i := 0; i < 300; i++ {
		if i == 100 { // force a hazard partway through
			c.mu.Lock()
			c.reading.CO2Ppm = 5000
			c.mu.Unlock()
		}
		if i == 150 {
			c.mu.Lock()
			c.reading.CO2Ppm = 800
			c.mu.Unlock()
		}
		if err := c.Tick(tickS); err != nil {
			t.Fatalf("tick %d: %v", i, err)
		}
		cur := c.Ledger()
		if cur.TotalKWh() < prev.TotalKWh() {
			t.Fatalf("ledger decreased at tick %d", i)
		}
		prev = cur
	}
}

func TestOperatorModeRequests(t *testing.T) {
	c := newDome(t, Config{})
	settle(t, c)
	if err := c.RequestMode(modes.Growing); err != nil {
		t.Fatalf("IDLE -> GROWING: %v", err)
	}
	if c.Mode() != modes.Growing {
		t.Fatalf("expected GROWING, got %s", c.Mode())
	}
	if err := c.RequestMode(modes.Maintenance); err != nil {
		t.Fatalf("GROWING -> MAINTENANCE: %v", err)
	}
}

func TestGrowingGatedOnSubstrate(t *testing.T) {
	cfg := Config{ID: "D"}
	c, err := New(cfg, fixedAmbient{telemetry.Ambient{}}, readyGate(false), nil, discard())
	if err != nil {
		t.Fatalf("new dome: %v", err)
	}
	settle(t, c)
	if err := c.RequestMode(modes.Growing); !errors.Is(err, ErrSubstrateNotReady) {
		t.Fatalf("expected ErrSubstrateNotReady, got %v", err)
	}
	if c.Mode() != modes.Idle {
		t.Fatalf("denied request must not change mode, got %s", c.Mode())
	}
}

// Heating regulation: a growing dome against a cold exterior must pull the
// interior to the setpoint and hold it there.
func TestTemperatureRegulationConverges(t *testing.T) {
	c := newDome(t, Config{})
	settle(t, c)
	if err := c.RequestMode(modes.Growing); err != nil {
		t.Fatalf("request growing: %v", err)
	}
	for i := 0; i < 720; i++ { // two simulated hours
		if err := c.Tick(tickS); err != nil {
			t.Fatalf("tick %d: %v", i, err)
		}
	}
	got := c.Reading().TempC
	want := DefaultProfiles().Growing.TempC
	if got < want-2 || got > want+2 {
		t.Fatalf("temperature did not converge: want %.1f±2, got %.2f", want, got)
	}
	if c.Mode() != modes.Growing {
		t.Fatalf("regulated dome should stay in GROWING, got %s", c.Mode())
	}
}

func TestHistoryIsBoundedAndOrdered(t *testing.T) {
	cfg := Config{HistoryCap: 50}
	c := newDome(t, cfg)
	for i := 0; i < 120; i++ {
		if err := c.Tick(tickS); err != nil {
			t.Fatalf("tick %d: %v", i, err)
		}
	}
	h := c.History(0)
	if len(h) != 50 {
		t.Fatalf("expected capped history of 50, got %d", len(h))
	}
	for i := 1; i < len(h); i++ {
		if h[i].Time <= h[i-1].Time {
			t.Fatalf("history out of order at %d", i)
		}
	}
	if tail := c.History(10); len(tail) != 10 || tail[9] != h[49] {
		t.Fatalf("History(10) must return the most recent records")
	}
}

func TestApplyO2Delta(t *testing.T) {
	c := newDome(t, Config{})
	before := c.Reading().O2Pct
	c.ApplyO2Delta(1.5)
	if got := c.Reading().O2Pct; got != before+1.5 {
		t.Fatalf("expected %.2f, got %.2f", before+1.5, got)
	}
	c.ApplyO2Delta(-200) // clamped at zero, never negative
	if got := c.Reading().O2Pct; got != 0 {
		t.Fatalf("expected clamp at 0, got %.2f", got)
	}
}

func TestUpdateSetpoint(t *testing.T) {
	c := newDome(t, Config{})
	settle(t, c)

	sp := DefaultProfiles().Idle
	sp.TempC = 20
	if err := c.UpdateSetpoint(modes.Idle, sp); err != nil {
		t.Fatalf("update idle setpoint: %v", err)
	}
	if got := c.Status().Setpoint.TempC; got != 20 {
		t.Fatalf("active setpoint temp = %.1f, want 20", got)
	}

	sp.TempC = 80 // beyond the survivable max
	if err := c.UpdateSetpoint(modes.Idle, sp); err == nil {
		t.Fatal("expected rejection for out-of-envelope setpoint")
	}
	if got := c.Status().Setpoint.TempC; got != 20 {
		t.Fatalf("rejected update must not stick, temp = %.1f", got)
	}

	if err := c.UpdateSetpoint(modes.Startup, DefaultProfiles().Startup); !errors.Is(err, ErrProfileImmutable) {
		t.Fatalf("startup profile update: got %v, want ErrProfileImmutable", err)
	}
	if err := c.UpdateSetpoint(modes.Emergency, DefaultProfiles().SafeHold); !errors.Is(err, ErrProfileImmutable) {
		t.Fatalf("safe-hold profile update: got %v, want ErrProfileImmutable", err)
	}
}

// A tick that faults after the hazard predicates ran must leave no trace:
// no mode change, no new emergency event, no resolution stamp.
func TestFaultedTickRollsBackModeAndEmergencyLog(t *testing.T) {
	c := newDome(t, Config{})
	settle(t, c)

	c.mu.Lock()
	c.reading.CO2Ppm = 5000
	c.mu.Unlock()
	c.ambient = fixedAmbient{telemetry.Ambient{TempC: math.NaN()}}

	before := c.Status()
	transitionsBefore := len(c.Transitions())
	if err := c.Tick(tickS); err == nil {
		t.Fatal("expected a fault for non-finite physics output")
	}

	after := c.Status()
	if after.Mode != before.Mode {
		t.Fatalf("mode changed on a faulted tick: %s -> %s", before.Mode, after.Mode)
	}
	if got := len(c.Events()); got != 0 {
		t.Fatalf("faulted tick left %d emergency events behind", got)
	}
	if got := len(c.Transitions()); got != transitionsBefore {
		t.Fatalf("faulted tick recorded a transition: %d -> %d", transitionsBefore, got)
	}
	if after.Time != before.Time || after.Reading != before.Reading {
		t.Fatalf("faulted tick moved state: %+v -> %+v", before, after)
	}
	if after.Faults != before.Faults+1 {
		t.Fatalf("fault not counted: %d -> %d", before.Faults, after.Faults)
	}

	// With a finite ambient the same excursion opens normally.
	c.ambient = fixedAmbient{telemetry.Ambient{}}
	if err := c.Tick(tickS); err != nil {
		t.Fatalf("recovery tick: %v", err)
	}
	if c.Mode() != modes.Emergency || len(c.Events()) != 1 {
		t.Fatalf("expected EMERGENCY with one event after recovery, got %s / %d events", c.Mode(), len(c.Events()))
	}
}
