// v3
// internal/coord/coordinator.go

// Package coord rebalances shared consumables across domes. It runs at a
// coarser cadence than the control tick, observes every dome's post-tick
// state at a barrier, and applies all transfers before the next tick starts.
package coord

import (
	"fmt"
	"log/slog"
	"math"

	"github.com/dfeen87/Bio-Stabilizing-Lunar-Spray/internal/telemetry"
)

// Dome is the narrow surface the coordinator needs. It never touches PID or
// mode internals: it reads sensor state and hands back deltas the dome
// applies to itself.
type Dome interface {
	ID() string
	Reading() telemetry.SensorReading
	O2ViabilityPct() float64
	ApplyO2Delta(delta float64)
}

// Config tunes the redistribution pass.
type Config struct {
	// CadenceTicks is how many control ticks pass between redistribution
	// passes.
	CadenceTicks int `json:"cadenceTicks"`
	// SurplusPct is the floor a donor may never be driven below; only domes
	// above it donate.
	SurplusPct float64 `json:"surplusPct"`
}

func DefaultConfig() Config {
	return Config{CadenceTicks: 10, SurplusPct: 22}
}

func (c Config) Validate() error {
	if c.CadenceTicks < 1 {
		return fmt.Errorf("coord: cadence must be >= 1 tick (got %d)", c.CadenceTicks)
	}
	if c.SurplusPct <= 0 || c.SurplusPct >= 100 {
		return fmt.Errorf("coord: surplus threshold %.1f out of range", c.SurplusPct)
	}
	return nil
}

// Transfer is one applied redistribution: O2 percentage points moved from a
// donor to a deficit dome. Domes share one pressurized volume class, so
// percentage points conserve across the fleet.
type Transfer struct {
	From   string  `json:"from"`
	To     string  `json:"to"`
	Amount float64 `json:"amount"`
}

// Declined records a deficit the coordinator could not serve without driving
// a donor below its floor. The deficit dome's own emergency monitor handles
// it from here; the coordinator never fakes a safety margin.
type Declined struct {
	Dome    string  `json:"dome"`
	Deficit float64 `json:"deficit"`
	Reason  string  `json:"reason"`
}

// Result is one redistribution pass.
type Result struct {
	Transfers []Transfer `json:"transfers"`
	Declined  []Declined `json:"declined"`
}

// Coordinator holds non-owning references to the fleet.
type Coordinator struct {
	cfg   Config
	log   *slog.Logger
	domes []Dome
}

func New(cfg Config, domes []Dome, log *slog.Logger) (*Coordinator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Coordinator{
		cfg:   cfg,
		log:   log.With(slog.String("component", "coordinator")),
		domes: domes,
	}, nil
}

// CadenceTicks exposes the configured cadence to the simulation loop.
func (c *Coordinator) CadenceTicks() int { return c.cfg.CadenceTicks }

// Rebalance computes and applies O2 transfers. For every dome below its own
// viability floor it draws proportionally from the headroom of domes above
// the surplus threshold. The transfer set always sums to zero and no donor
// crosses the surplus floor or its own viability threshold, whichever is
// higher; a deficit that cannot be (even partially) served is declined and
// logged.
func (c *Coordinator) Rebalance() Result {
	type donor struct {
		dome     Dome
		headroom float64
		give     float64
	}

	var donors []donor
	var totalHeadroom float64
	type needy struct {
		dome    Dome
		deficit float64
	}
	var deficits []needy

	for _, d := range c.domes {
		o2 := d.Reading().O2Pct
		if o2 < d.O2ViabilityPct() {
			deficits = append(deficits, needy{dome: d, deficit: d.O2ViabilityPct() - o2})
			continue
		}
		// A donor is never driven below its own viability threshold, even
		// when the configured surplus floor sits lower.
		floor := math.Max(c.cfg.SurplusPct, d.O2ViabilityPct())
		if o2 > floor {
			h := o2 - floor
			donors = append(donors, donor{dome: d, headroom: h})
			totalHeadroom += h
		}
	}

	var res Result
	if len(deficits) == 0 {
		return res
	}

	for _, n := range deficits {
		if totalHeadroom <= 0 {
			res.Declined = append(res.Declined, Declined{
				Dome:    n.dome.ID(),
				Deficit: n.deficit,
				Reason:  "no donor headroom above surplus threshold",
			})
			c.log.Warn("redistribution declined", "dome", n.dome.ID(), "deficit", n.deficit)
			continue
		}
		grant := n.deficit
		if grant > totalHeadroom {
			grant = totalHeadroom
		}
		// Draw proportionally to each donor's remaining headroom.
		drawn := 0.0
		for i := range donors {
			if donors[i].headroom <= 0 {
				continue
			}
			share := grant * donors[i].headroom / totalHeadroom
			donors[i].give += share
			donors[i].headroom -= share
			drawn += share
			res.Transfers = append(res.Transfers, Transfer{
				From:   donors[i].dome.ID(),
				To:     n.dome.ID(),
				Amount: share,
			})
		}
		totalHeadroom -= drawn
		n.dome.ApplyO2Delta(drawn)
		if drawn < n.deficit {
			res.Declined = append(res.Declined, Declined{
				Dome:    n.dome.ID(),
				Deficit: n.deficit - drawn,
				Reason:  "donor headroom exhausted, deficit partially served",
			})
			c.log.Warn("redistribution partial", "dome", n.dome.ID(), "granted", drawn, "remaining", n.deficit-drawn)
		}
	}

	// Commit donor sides after all grants so every dome observes one atomic
	// redistribution, never a partial pass.
	for _, d := range donors {
		if d.give > 0 {
			d.dome.ApplyO2Delta(-d.give)
		}
	}

	if len(res.Transfers) > 0 {
		c.log.Info("redistribution applied", "transfers", len(res.Transfers), "declined", len(res.Declined))
	}
	return res
}
