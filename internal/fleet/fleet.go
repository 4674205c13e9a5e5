// v3
// internal/fleet/fleet.go

// Package fleet runs the habitat simulation loop: every wall tick advances
// all live domes in parallel, then journals what changed, refreshes metrics,
// publishes telemetry and, at its coarser cadence, runs the O2 redistribution
// pass. Domes own disjoint state, so the per-tick fan-out is a plain
// WaitGroup barrier.
package fleet

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/dfeen87/Bio-Stabilizing-Lunar-Spray/internal/coord"
	"github.com/dfeen87/Bio-Stabilizing-Lunar-Spray/internal/dome"
	"github.com/dfeen87/Bio-Stabilizing-Lunar-Spray/internal/metrics"
	"github.com/dfeen87/Bio-Stabilizing-Lunar-Spray/internal/modes"
	"github.com/dfeen87/Bio-Stabilizing-Lunar-Spray/internal/runlog"
	"github.com/dfeen87/Bio-Stabilizing-Lunar-Spray/internal/telemetry"
)

// TickPublisher pushes one committed tick record to the telemetry bus.
type TickPublisher interface {
	Publish(ctx context.Context, domeID string, rec dome.TickRecord) error
}

// SensorUplink mirrors sensor readings to lightweight consumers.
type SensorUplink interface {
	Publish(domeID string, r telemetry.SensorReading)
}

// Deps assembles a fleet. Journal, Metrics, Bus and Uplink are optional.
type Deps struct {
	Log     *slog.Logger
	Domes   []*dome.Controller
	Coord   *coord.Coordinator
	Journal *runlog.RunLog
	Metrics *metrics.Set
	Bus     TickPublisher
	Uplink  SensorUplink
	// StepS is how many simulated seconds one tick advances.
	StepS float64
}

// domeTrack remembers what the loop has already journaled per dome.
type domeTrack struct {
	opened      int
	resolved    map[int]bool
	transitions int
	shutdown    bool
}

type Fleet struct {
	d     Deps
	log   *slog.Logger
	ticks int
	track map[string]*domeTrack
}

func New(d Deps) (*Fleet, error) {
	if len(d.Domes) == 0 {
		return nil, errors.New("fleet: no domes configured")
	}
	if d.StepS <= 0 {
		return nil, errors.New("fleet: step must be positive")
	}
	f := &Fleet{
		d:     d,
		log:   d.Log.With(slog.String("component", "fleet")),
		track: make(map[string]*domeTrack, len(d.Domes)),
	}
	for _, c := range d.Domes {
		f.track[c.ID()] = &domeTrack{resolved: make(map[int]bool)}
	}
	return f, nil
}

// Run drives Step at the wall-clock interval until the context ends.
func (f *Fleet) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	f.log.Info("fleet loop started", "domes", len(f.d.Domes), "interval", interval, "stepS", f.d.StepS)
	for {
		select {
		case <-ctx.Done():
			f.log.Info("fleet loop stopped", "ticks", f.ticks)
			return
		case <-ticker.C:
			f.Step(ctx)
		}
	}
}

// Step advances the whole fleet by one tick. Transient dome faults are
// already logged and counted inside the dome; the fleet never stops for
// them, and a SHUTDOWN dome keeps ticking its idle draw. A dome whose tick
// faulted committed nothing, so it is not observed or republished this tick.
func (f *Fleet) Step(ctx context.Context) {
	errs := make([]error, len(f.d.Domes))
	var wg sync.WaitGroup
	for i, c := range f.d.Domes {
		wg.Add(1)
		go func(i int, c *dome.Controller) {
			defer wg.Done()
			errs[i] = c.Tick(f.d.StepS)
		}(i, c)
	}
	wg.Wait()
	f.ticks++

	for i, c := range f.d.Domes {
		if errs[i] != nil {
			f.log.Warn("tick faulted, observation skipped", "dome", c.ID(), "err", errs[i])
			continue
		}
		f.observe(ctx, c)
	}

	if f.d.Coord != nil && f.ticks%f.d.Coord.CadenceTicks() == 0 {
		f.rebalance()
	}
}

func (f *Fleet) observe(ctx context.Context, c *dome.Controller) {
	id := c.ID()
	st := c.Status()
	tr := f.track[id]

	if f.d.Metrics != nil {
		f.d.Metrics.ObserveStatus(st)
	}

	evs := c.Events()
	for i := tr.opened; i < len(evs); i++ {
		f.journal(runlog.TypeEmergencyOpened, id, st.Time, evs[i])
		if f.d.Metrics != nil {
			f.d.Metrics.HazardOpened(id, evs[i].KindName)
		}
	}
	tr.opened = len(evs)
	for i, ev := range evs {
		if ev.ResolvedAt != nil && !tr.resolved[i] {
			f.journal(runlog.TypeEmergencyResolved, id, st.Time, ev)
			tr.resolved[i] = true
		}
	}

	trans := c.Transitions()
	for i := tr.transitions; i < len(trans); i++ {
		f.journal(runlog.TypeModeTransition, id, st.Time, trans[i])
		if trans[i].To == modes.Shutdown && !tr.shutdown {
			f.journal(runlog.TypeShutdown, id, st.Time, trans[i])
			tr.shutdown = true
			f.log.Error("dome shut down", "dome", id, "reason", trans[i].Reason)
		}
	}
	tr.transitions = len(trans)

	if f.d.Bus != nil {
		if recs := c.History(1); len(recs) == 1 {
			_ = f.d.Bus.Publish(ctx, id, recs[0])
		}
	}
	if f.d.Uplink != nil {
		f.d.Uplink.Publish(id, st.Reading)
	}
}

func (f *Fleet) rebalance() {
	res := f.d.Coord.Rebalance()
	if len(res.Transfers) == 0 && len(res.Declined) == 0 {
		return
	}
	var moved float64
	for _, t := range res.Transfers {
		moved += t.Amount
	}
	if f.d.Metrics != nil {
		f.d.Metrics.ObserveRebalance(len(res.Transfers), moved, len(res.Declined))
	}
	simTime := f.d.Domes[0].Status().Time
	f.journal(runlog.TypeRedistribution, "", simTime, res)
}

func (f *Fleet) journal(typ, domeID string, simTime float64, payload any) {
	if f.d.Journal == nil {
		return
	}
	if _, err := f.d.Journal.Append(typ, domeID, simTime, payload); err != nil {
		f.log.Error("journal append failed", "type", typ, "dome", domeID, "err", err)
	}
}

// Ticks reports how many fleet steps have run.
func (f *Fleet) Ticks() int { return f.ticks }
