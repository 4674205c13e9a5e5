// v3
// cmd/habitatd/main.go

// habitatd runs the dome fleet: one closed-loop controller per configured
// dome, the O2 coordinator, the append-only run journal and the operations
// HTTP API, stepped by a single wall-clock simulation loop.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dfeen87/Bio-Stabilizing-Lunar-Spray/internal/breaker"
	"github.com/dfeen87/Bio-Stabilizing-Lunar-Spray/internal/bus"
	"github.com/dfeen87/Bio-Stabilizing-Lunar-Spray/internal/config"
	"github.com/dfeen87/Bio-Stabilizing-Lunar-Spray/internal/coord"
	"github.com/dfeen87/Bio-Stabilizing-Lunar-Spray/internal/dome"
	"github.com/dfeen87/Bio-Stabilizing-Lunar-Spray/internal/fleet"
	"github.com/dfeen87/Bio-Stabilizing-Lunar-Spray/internal/httpapi"
	"github.com/dfeen87/Bio-Stabilizing-Lunar-Spray/internal/logging"
	"github.com/dfeen87/Bio-Stabilizing-Lunar-Spray/internal/metrics"
	"github.com/dfeen87/Bio-Stabilizing-Lunar-Spray/internal/mission"
	"github.com/dfeen87/Bio-Stabilizing-Lunar-Spray/internal/mqttpub"
	"github.com/dfeen87/Bio-Stabilizing-Lunar-Spray/internal/runlog"
)

func main() {
	log := logging.Init("habitatd")
	log.Info("habitatd starting")

	cfg, err := config.Load(log)
	if err != nil {
		log.Error("configuration failed", "err", err)
		os.Exit(1)
	}

	journal, err := runlog.Open(cfg.RunLogPath, log)
	if err != nil {
		log.Error("cannot open run journal", "path", cfg.RunLogPath, "err", err)
		os.Exit(1)
	}
	defer journal.Close()

	plan := mission.DefaultNutrientPlan()
	domes := make([]*dome.Controller, 0, len(cfg.DomeIDs))
	coordDomes := make([]coord.Dome, 0, len(cfg.DomeIDs))
	for _, id := range cfg.DomeIDs {
		c, err := dome.New(dome.Config{
			ID:            id,
			TempGains:     cfg.TempGains,
			HumidityGains: cfg.HumidityGains,
			CO2Gains:      cfg.CO2Gains,
			Physics:       cfg.Physics,
			Thresholds:    cfg.Thresholds,
			Modes:         cfg.Modes,
			Power:         cfg.Power,
			Profiles:      cfg.Profiles,
		}, cfg.Ambient, cfg.Substrate, plan, log)
		if err != nil {
			log.Error("cannot build dome", "dome", id, "err", err)
			os.Exit(1)
		}
		domes = append(domes, c)
		coordDomes = append(coordDomes, c)
	}

	coordinator, err := coord.New(cfg.Coord, coordDomes, log)
	if err != nil {
		log.Error("cannot build coordinator", "err", err)
		os.Exit(1)
	}

	met := metrics.New()

	deps := fleet.Deps{
		Log:     log,
		Domes:   domes,
		Coord:   coordinator,
		Journal: journal,
		Metrics: met,
		StepS:   cfg.SimStepS,
	}
	if len(cfg.KafkaBrokers) > 0 {
		pub := bus.New(cfg.KafkaBrokers, cfg.TelemetryTopic, breaker.DefaultConfig(), log)
		defer pub.Close()
		deps.Bus = pub
		log.Info("kafka telemetry enabled", "brokers", cfg.KafkaBrokers, "topic", cfg.TelemetryTopic)
	}
	if cfg.MQTTBroker != "" {
		up, err := mqttpub.Connect(cfg.MQTTBroker, cfg.MQTTTopicPrefix, "habitatd", log)
		if err != nil {
			log.Error("mqtt uplink unavailable, continuing without it", "broker", cfg.MQTTBroker, "err", err)
		} else {
			defer up.Close()
			deps.Uplink = up
			log.Info("mqtt uplink enabled", "broker", cfg.MQTTBroker, "prefix", cfg.MQTTTopicPrefix)
		}
	}

	fl, err := fleet.New(deps)
	if err != nil {
		log.Error("cannot build fleet", "err", err)
		os.Exit(1)
	}

	api := httpapi.NewServer(httpapi.Deps{
		Log:       log,
		Domes:     domes,
		Journal:   journal,
		Metrics:   met.Handler(),
		AccessLog: os.Stdout,
	})
	srv := &http.Server{Addr: cfg.ListenAddr, Handler: api.Router()}
	go func() {
		log.Info("http api listening", "addr", cfg.ListenAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("http server failed", "err", err)
			os.Exit(1)
		}
	}()

	ctx, cancel := context.WithCancel(context.Background())
	go fl.Run(ctx, cfg.TickInterval)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	log.Info("shutting down", "signal", sig.String())

	cancel()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("http shutdown failed", "err", err)
	}
	log.Info("habitatd stopped", "ticks", fl.Ticks())
}
