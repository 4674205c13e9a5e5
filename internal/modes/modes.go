// v3
// internal/modes/modes.go

// Package modes implements the operating-mode state machine. Transitions are
// a closed set: STARTUP -> IDLE <-> GROWING <-> MAINTENANCE, any state ->
// EMERGENCY, EMERGENCY -> IDLE on cooldown or -> SHUTDOWN on escalation.
// SHUTDOWN is terminal for the run.
package modes

import (
	"errors"
	"fmt"
	"log/slog"
)

// Mode is the dome's operating mode. Exactly one is active per dome.
type Mode int

const (
	Startup Mode = iota
	Idle
	Growing
	Maintenance
	Emergency
	Shutdown
)

func (m Mode) String() string {
	switch m {
	case Startup:
		return "STARTUP"
	case Idle:
		return "IDLE"
	case Growing:
		return "GROWING"
	case Maintenance:
		return "MAINTENANCE"
	case Emergency:
		return "EMERGENCY"
	case Shutdown:
		return "SHUTDOWN"
	default:
		return fmt.Sprintf("MODE(%d)", int(m))
	}
}

// ParseMode maps the wire name back to a Mode for the operator API.
func ParseMode(s string) (Mode, error) {
	switch s {
	case "STARTUP":
		return Startup, nil
	case "IDLE":
		return Idle, nil
	case "GROWING":
		return Growing, nil
	case "MAINTENANCE":
		return Maintenance, nil
	case "EMERGENCY":
		return Emergency, nil
	case "SHUTDOWN":
		return Shutdown, nil
	default:
		return Startup, fmt.Errorf("unknown mode %q", s)
	}
}

var (
	// ErrTransitionDenied covers operator requests the machine rejects.
	ErrTransitionDenied = errors.New("mode transition denied")
	// ErrTerminal is returned for any request against a SHUTDOWN dome.
	ErrTerminal = errors.New("dome is shut down")
)

// Config are the timing rules of the machine, in simulation seconds.
type Config struct {
	// StartupDwellS is how long readings must hold stable before
	// STARTUP advances to IDLE.
	StartupDwellS float64 `json:"startupDwellS"`
	// CooldownS is how long every hazard must stay clear before
	// EMERGENCY returns to IDLE.
	CooldownS float64 `json:"cooldownS"`
	// EscalationCount EMERGENCY entries within EscalationWindowS force
	// SHUTDOWN instead of another recovery.
	EscalationCount   int     `json:"escalationCount"`
	EscalationWindowS float64 `json:"escalationWindowS"`
}

func DefaultConfig() Config {
	return Config{
		StartupDwellS:     120,
		CooldownS:         300,
		EscalationCount:   3,
		EscalationWindowS: 6 * 3600,
	}
}

func (c Config) Validate() error {
	if c.StartupDwellS < 0 {
		return fmt.Errorf("modes: startup dwell must be non-negative (got %.1f)", c.StartupDwellS)
	}
	if c.CooldownS <= 0 {
		return fmt.Errorf("modes: cooldown must be positive (got %.1f)", c.CooldownS)
	}
	if c.EscalationCount < 1 {
		return fmt.Errorf("modes: escalation count must be >= 1 (got %d)", c.EscalationCount)
	}
	if c.EscalationWindowS <= 0 {
		return fmt.Errorf("modes: escalation window must be positive (got %.1f)", c.EscalationWindowS)
	}
	return nil
}

// Transition records one mode change for the run history.
type Transition struct {
	From   Mode    `json:"from"`
	To     Mode    `json:"to"`
	At     float64 `json:"at"`
	Reason string  `json:"reason"`
}

// Machine drives the mode lifecycle for one dome. It is stepped once per
// tick from the dome's own goroutine and is not safe for concurrent use.
type Machine struct {
	cfg Config
	log *slog.Logger

	current     Mode
	stableSince float64 // STARTUP: when readings last became stable (-1: unstable)
	clearSince  float64 // EMERGENCY: when hazards last cleared (-1: still open)
	entries     []float64
	transitions []Transition
}

func NewMachine(cfg Config, log *slog.Logger) (*Machine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Machine{
		cfg:         cfg,
		log:         log.With(slog.String("component", "modes")),
		current:     Startup,
		stableSince: -1,
		clearSince:  -1,
	}, nil
}

// Current returns the active mode.
func (m *Machine) Current() Mode { return m.current }

// Transitions returns the recorded mode history.
func (m *Machine) Transitions() []Transition {
	out := make([]Transition, len(m.transitions))
	copy(out, m.transitions)
	return out
}

// State captures the machine's mutable state so a dome tick that faults
// after stepping the machine can roll the mode change back.
type State struct {
	current     Mode
	stableSince float64
	clearSince  float64
	entries     []float64
	transitions int
}

// Snapshot captures the machine state before a Tick.
func (m *Machine) Snapshot() State {
	return State{
		current:     m.current,
		stableSince: m.stableSince,
		clearSince:  m.clearSince,
		entries:     append([]float64(nil), m.entries...),
		transitions: len(m.transitions),
	}
}

// Restore rewinds the machine to a prior snapshot; transitions recorded
// since are dropped.
func (m *Machine) Restore(s State) {
	m.current = s.current
	m.stableSince = s.stableSince
	m.clearSince = s.clearSince
	m.entries = s.entries
	m.transitions = m.transitions[:s.transitions]
}

// Tick advances the machine one step. hazardOpen reflects the emergency
// monitor's post-evaluation state for this tick; stable is the startup
// stability predicate (readings within tolerance of the benign setpoint).
// A hazard forces EMERGENCY on the same tick regardless of the prior mode.
func (m *Machine) Tick(now float64, stable, hazardOpen bool) {
	if m.current == Shutdown {
		return
	}

	if hazardOpen {
		if m.current != Emergency {
			m.enterEmergency(now)
		}
		m.clearSince = -1
		return
	}

	switch m.current {
	case Emergency:
		if m.clearSince < 0 {
			m.clearSince = now
		}
		if now-m.clearSince >= m.cfg.CooldownS {
			m.set(Idle, now, "hazards clear for full cooldown")
			m.clearSince = -1
		}
	case Startup:
		if !stable {
			m.stableSince = -1
			return
		}
		if m.stableSince < 0 {
			m.stableSince = now
		}
		if now-m.stableSince >= m.cfg.StartupDwellS {
			m.set(Idle, now, "startup readings stabilized")
		}
	}
}

func (m *Machine) enterEmergency(now float64) {
	m.entries = append(m.entries, now)
	// Drop entries that fell out of the rolling window.
	cut := 0
	for cut < len(m.entries) && now-m.entries[cut] > m.cfg.EscalationWindowS {
		cut++
	}
	m.entries = m.entries[cut:]

	if len(m.entries) >= m.cfg.EscalationCount {
		m.set(Shutdown, now, fmt.Sprintf("%d emergencies within escalation window", len(m.entries)))
		return
	}
	m.set(Emergency, now, "hazard predicate true")
}

// Request applies an operator-driven transition. Only IDLE, GROWING and
// MAINTENANCE are reachable this way, and only from one another; EMERGENCY
// and SHUTDOWN reject every request.
func (m *Machine) Request(target Mode, now float64) error {
	switch m.current {
	case Shutdown:
		return ErrTerminal
	case Emergency, Startup:
		return fmt.Errorf("%w: %s -> %s", ErrTransitionDenied, m.current, target)
	}
	switch target {
	case Idle, Growing, Maintenance:
		if target == m.current {
			return nil
		}
		m.set(target, now, "operator request")
		return nil
	default:
		return fmt.Errorf("%w: %s -> %s", ErrTransitionDenied, m.current, target)
	}
}

// ForceShutdown is the operator's abort switch; it is also terminal.
func (m *Machine) ForceShutdown(now float64, reason string) {
	if m.current == Shutdown {
		return
	}
	m.set(Shutdown, now, reason)
}

func (m *Machine) set(to Mode, now float64, reason string) {
	from := m.current
	m.current = to
	m.transitions = append(m.transitions, Transition{From: from, To: to, At: now, Reason: reason})
	m.log.Info("mode transition", "from", from.String(), "to", to.String(), "t", now, "reason", reason)
}
