// v3
// internal/hazard/hazard.go

// Package hazard detects dangerous excursions and owns the emergency log.
// The hazard set is closed: every predicate maps to exactly one Kind and
// every Kind has a fixed corrective action.
package hazard

import (
	"fmt"
	"log/slog"

	"github.com/dfeen87/Bio-Stabilizing-Lunar-Spray/internal/telemetry"
)

// Kind enumerates the hazard taxonomy.
type Kind int

const (
	TempExcursion Kind = iota
	HumidityExcursion
	CO2Excess
	O2Deficit
	Overpressure
	kindCount
)

func (k Kind) String() string {
	switch k {
	case TempExcursion:
		return "TEMP_EXCURSION"
	case HumidityExcursion:
		return "HUMIDITY_EXCURSION"
	case CO2Excess:
		return "CO2_EXCESS"
	case O2Deficit:
		return "O2_DEFICIT"
	case Overpressure:
		return "OVERPRESSURE"
	default:
		return fmt.Sprintf("KIND(%d)", int(k))
	}
}

// Thresholds are the survivable bands a reading is judged against.
type Thresholds struct {
	TempMinC       float64 `json:"tempMinC"`
	TempMaxC       float64 `json:"tempMaxC"`
	HumidityMinPct float64 `json:"humidityMinPct"`
	HumidityMaxPct float64 `json:"humidityMaxPct"`
	CO2MaxPpm      float64 `json:"co2MaxPpm"`
	O2MinPct       float64 `json:"o2MinPct"`
	PressureMaxKPa float64 `json:"pressureMaxKPa"`
}

// DefaultThresholds is the survivable envelope for leafy crops under a
// sealed dome.
func DefaultThresholds() Thresholds {
	return Thresholds{
		TempMinC:       5,
		TempMaxC:       40,
		HumidityMinPct: 20,
		HumidityMaxPct: 95,
		CO2MaxPpm:      2000,
		O2MinPct:       19,
		PressureMaxKPa: 110,
	}
}

func (t Thresholds) Validate() error {
	if t.TempMinC >= t.TempMaxC {
		return fmt.Errorf("hazard: temperature band inverted (%.1f >= %.1f)", t.TempMinC, t.TempMaxC)
	}
	if t.HumidityMinPct >= t.HumidityMaxPct {
		return fmt.Errorf("hazard: humidity band inverted (%.1f >= %.1f)", t.HumidityMinPct, t.HumidityMaxPct)
	}
	if t.CO2MaxPpm <= 0 {
		return fmt.Errorf("hazard: CO2 threshold must be positive (got %.1f)", t.CO2MaxPpm)
	}
	if t.O2MinPct <= 0 || t.O2MinPct >= 100 {
		return fmt.Errorf("hazard: O2 viability threshold %.1f out of range", t.O2MinPct)
	}
	if t.PressureMaxKPa <= 0 {
		return fmt.Errorf("hazard: pressure limit must be positive (got %.1f)", t.PressureMaxKPa)
	}
	return nil
}

// Event is one hazard occurrence. Resolved stays nil while the condition
// persists; the log keeps every event for the lifetime of the run.
type Event struct {
	Kind       Kind                    `json:"kind"`
	KindName   string                  `json:"kindName"`
	OpenedAt   float64                 `json:"openedAt"` // simulation seconds
	Reading    telemetry.SensorReading `json:"reading"`  // reading that tripped the predicate
	Action     string                  `json:"action"`
	ResolvedAt *float64                `json:"resolvedAt"`
}

// Monitor evaluates the hazard predicates each tick, before any PID runs.
type Monitor struct {
	thresholds Thresholds
	log        *slog.Logger

	open   [kindCount]*Event
	events []*Event // append-only, never truncated during a run
}

func NewMonitor(thresholds Thresholds, log *slog.Logger) (*Monitor, error) {
	if err := thresholds.Validate(); err != nil {
		return nil, err
	}
	return &Monitor{
		thresholds: thresholds,
		log:        log.With(slog.String("component", "hazard")),
	}, nil
}

// Evaluate opens an event the first tick a predicate turns true and stamps
// ResolvedAt the tick it turns false. It returns whether any hazard is open
// after this evaluation.
func (m *Monitor) Evaluate(r telemetry.SensorReading, now float64) bool {
	th := m.thresholds
	checks := [kindCount]bool{
		TempExcursion:     r.TempC < th.TempMinC || r.TempC > th.TempMaxC,
		HumidityExcursion: r.HumidityPct < th.HumidityMinPct || r.HumidityPct > th.HumidityMaxPct,
		CO2Excess:         r.CO2Ppm > th.CO2MaxPpm,
		O2Deficit:         r.O2Pct < th.O2MinPct,
		Overpressure:      r.PressureKPa > th.PressureMaxKPa,
	}

	for k := Kind(0); k < kindCount; k++ {
		tripped := checks[k]
		ev := m.open[k]
		switch {
		case tripped && ev == nil:
			ev = &Event{
				Kind:     k,
				KindName: k.String(),
				OpenedAt: now,
				Reading:  r,
				Action:   m.actionLabel(k, r),
			}
			m.open[k] = ev
			m.events = append(m.events, ev)
			m.log.Warn("hazard opened", "kind", k.String(), "t", now, "action", ev.Action)
		case !tripped && ev != nil:
			at := now
			ev.ResolvedAt = &at
			m.open[k] = nil
			m.log.Info("hazard resolved", "kind", k.String(), "t", now, "openFor", now-ev.OpenedAt)
		}
	}
	return m.AnyOpen()
}

// State captures the monitor's mutable state so a dome tick that faults
// after evaluating the predicates can roll the emergency log back along with
// the rest of the DomeState.
type State struct {
	open     [kindCount]*Event
	resolved [kindCount]*float64
	events   int
}

// Snapshot captures the open set and log length before an Evaluate.
func (m *Monitor) Snapshot() State {
	s := State{open: m.open, events: len(m.events)}
	for k, ev := range m.open {
		if ev != nil {
			s.resolved[k] = ev.ResolvedAt
		}
	}
	return s
}

// Restore rewinds the monitor to a prior snapshot: events opened since are
// dropped and resolution stamps applied since are cleared.
func (m *Monitor) Restore(s State) {
	m.events = m.events[:s.events]
	for k, ev := range s.open {
		if ev != nil {
			ev.ResolvedAt = s.resolved[k]
		}
	}
	m.open = s.open
}

// AnyOpen reports whether at least one hazard is unresolved.
func (m *Monitor) AnyOpen() bool {
	for _, ev := range m.open {
		if ev != nil {
			return true
		}
	}
	return false
}

// ActiveKinds lists open hazards in severity order (most severe first).
func (m *Monitor) ActiveKinds() []Kind {
	order := []Kind{Overpressure, O2Deficit, CO2Excess, TempExcursion, HumidityExcursion}
	var out []Kind
	for _, k := range order {
		if m.open[k] != nil {
			out = append(out, k)
		}
	}
	return out
}

// Override composes the corrective actuator command for the open hazards.
// Policy is fixed per kind; when several hazards are open the most severe is
// applied last so its channels win. The result takes precedence over any PID
// output while a hazard remains open.
func (m *Monitor) Override(r telemetry.SensorReading, base telemetry.ActuatorCommand) telemetry.ActuatorCommand {
	cmd := base
	// Least severe first so the severe kinds overwrite conflicting channels.
	for _, k := range m.activeAscending() {
		cmd = applyAction(k, r, cmd, m.thresholds)
	}
	return cmd.Clamp()
}

func (m *Monitor) activeAscending() []Kind {
	kinds := m.ActiveKinds()
	// ActiveKinds is most-severe-first; reverse it.
	out := make([]Kind, len(kinds))
	for i, k := range kinds {
		out[len(kinds)-1-i] = k
	}
	return out
}

// applyAction mutates only the channels a hazard owns; the rest pass through.
func applyAction(k Kind, r telemetry.SensorReading, cmd telemetry.ActuatorCommand, th Thresholds) telemetry.ActuatorCommand {
	switch k {
	case CO2Excess:
		cmd.CO2Rate = -1 // maximum scrub
		cmd.Vent = 1
	case TempExcursion:
		if r.TempC > th.TempMaxC {
			cmd.Heater = 0
			cmd.Vent = 1
		} else {
			cmd.Heater = 1
			cmd.Vent = 0
		}
	case HumidityExcursion:
		if r.HumidityPct > th.HumidityMaxPct {
			cmd.Mister = 0
			cmd.Vent = 1
		} else {
			cmd.Mister = 1
			cmd.Vent = 0
		}
	case O2Deficit:
		// Venting to vacuum only loses more O2: seal the dome and push the
		// canopy to produce.
		cmd.Vent = 0
		cmd.Light = 1
	case Overpressure:
		cmd.Vent = 1
		cmd.Mister = 0
		if cmd.CO2Rate > 0 {
			cmd.CO2Rate = 0
		}
	}
	return cmd
}

func (m *Monitor) actionLabel(k Kind, r telemetry.SensorReading) string {
	switch k {
	case CO2Excess:
		return "scrub=max vent=max"
	case TempExcursion:
		if r.TempC > m.thresholds.TempMaxC {
			return "heater=off vent=max"
		}
		return "heater=max vent=closed"
	case HumidityExcursion:
		if r.HumidityPct > m.thresholds.HumidityMaxPct {
			return "mister=off vent=max"
		}
		return "mister=max vent=closed"
	case O2Deficit:
		return "vent=closed light=max"
	case Overpressure:
		return "vent=max mister=off inject=off"
	default:
		return ""
	}
}

// Events returns the full emergency log in open order. The slice header is a
// copy; the events themselves are shared and must be treated as read-only by
// callers outside this package once resolved.
func (m *Monitor) Events() []*Event {
	out := make([]*Event, len(m.events))
	copy(out, m.events)
	return out
}

// Thresholds exposes the configured bands (the coordinator reads the O2
// viability floor from here).
func (m *Monitor) Thresholds() Thresholds { return m.thresholds }
