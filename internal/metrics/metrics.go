// v1
// internal/metrics/metrics.go

// Package metrics exposes the fleet's operational state in Prometheus format.
// One Set owns its registry so tests never collide on the default one.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/dfeen87/Bio-Stabilizing-Lunar-Spray/internal/dome"
)

// Set holds every collector the daemon updates.
type Set struct {
	reg *prometheus.Registry

	sensor      *prometheus.GaugeVec
	actuator    *prometheus.GaugeVec
	mode        *prometheus.GaugeVec
	energyKWh   *prometheus.GaugeVec
	hazards     *prometheus.CounterVec
	openHazards *prometheus.GaugeVec
	faults      *prometheus.GaugeVec
	ticks       *prometheus.CounterVec
	transfers   prometheus.Counter
	transferO2  prometheus.Counter
	declined    prometheus.Counter
}

func New() *Set {
	s := &Set{reg: prometheus.NewRegistry()}

	s.sensor = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "habitat_sensor_value",
		Help: "Latest sensor reading per dome and variable.",
	}, []string{"dome", "variable"})
	s.actuator = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "habitat_actuator_command",
		Help: "Latest commanded actuator fraction per dome and channel.",
	}, []string{"dome", "channel"})
	s.mode = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "habitat_dome_mode",
		Help: "1 for the dome's active operating mode, 0 otherwise.",
	}, []string{"dome", "mode"})
	s.energyKWh = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "habitat_energy_kwh_total",
		Help: "Cumulative energy per dome and subsystem in kWh.",
	}, []string{"dome", "subsystem"})
	s.hazards = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "habitat_hazard_events_total",
		Help: "Hazard events opened, per dome and kind.",
	}, []string{"dome", "kind"})
	s.openHazards = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "habitat_open_hazards",
		Help: "Currently open hazard count per dome.",
	}, []string{"dome"})
	s.faults = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "habitat_control_faults_total",
		Help: "Transient control faults absorbed per dome.",
	}, []string{"dome"})
	s.ticks = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "habitat_ticks_total",
		Help: "Committed control ticks per dome.",
	}, []string{"dome"})
	s.transfers = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "habitat_o2_transfers_total",
		Help: "Applied O2 redistribution transfers.",
	})
	s.transferO2 = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "habitat_o2_transferred_points_total",
		Help: "Total O2 percentage points moved between domes.",
	})
	s.declined = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "habitat_o2_redistribution_declined_total",
		Help: "Redistribution requests declined for lack of donor headroom.",
	})

	s.reg.MustRegister(
		s.sensor, s.actuator, s.mode, s.energyKWh,
		s.hazards, s.openHazards, s.faults, s.ticks,
		s.transfers, s.transferO2, s.declined,
	)
	return s
}

var modeNames = []string{"STARTUP", "IDLE", "GROWING", "MAINTENANCE", "EMERGENCY", "SHUTDOWN"}

// ObserveStatus refreshes the per-dome gauges from one status snapshot.
func (s *Set) ObserveStatus(st dome.Status) {
	r := st.Reading
	s.sensor.WithLabelValues(st.ID, "temp_c").Set(r.TempC)
	s.sensor.WithLabelValues(st.ID, "humidity_pct").Set(r.HumidityPct)
	s.sensor.WithLabelValues(st.ID, "co2_ppm").Set(r.CO2Ppm)
	s.sensor.WithLabelValues(st.ID, "o2_pct").Set(r.O2Pct)
	s.sensor.WithLabelValues(st.ID, "pressure_kpa").Set(r.PressureKPa)
	s.sensor.WithLabelValues(st.ID, "light_level").Set(r.LightLevel)

	cmd := st.LastCommand
	s.actuator.WithLabelValues(st.ID, "heater").Set(cmd.Heater)
	s.actuator.WithLabelValues(st.ID, "vent").Set(cmd.Vent)
	s.actuator.WithLabelValues(st.ID, "mister").Set(cmd.Mister)
	s.actuator.WithLabelValues(st.ID, "light").Set(cmd.Light)
	s.actuator.WithLabelValues(st.ID, "co2_rate").Set(cmd.CO2Rate)

	for _, m := range modeNames {
		v := 0.0
		if m == st.Mode {
			v = 1
		}
		s.mode.WithLabelValues(st.ID, m).Set(v)
	}

	l := st.Ledger
	s.energyKWh.WithLabelValues(st.ID, "heating").Set(l.HeatingKWh)
	s.energyKWh.WithLabelValues(st.ID, "lighting").Set(l.LightingKWh)
	s.energyKWh.WithLabelValues(st.ID, "ventilation").Set(l.VentilationKWh)
	s.energyKWh.WithLabelValues(st.ID, "misting").Set(l.MistingKWh)
	s.energyKWh.WithLabelValues(st.ID, "other").Set(l.OtherKWh)

	s.openHazards.WithLabelValues(st.ID).Set(float64(len(st.OpenHazards)))
	s.faults.WithLabelValues(st.ID).Set(float64(st.Faults))
	s.ticks.WithLabelValues(st.ID).Inc()
}

// HazardOpened counts one opened hazard event.
func (s *Set) HazardOpened(domeID, kind string) {
	s.hazards.WithLabelValues(domeID, kind).Inc()
}

// ObserveRebalance counts one redistribution pass.
func (s *Set) ObserveRebalance(transfers int, movedPoints float64, declined int) {
	s.transfers.Add(float64(transfers))
	s.transferO2.Add(movedPoints)
	s.declined.Add(float64(declined))
}

// Handler serves the registry in the Prometheus exposition format.
func (s *Set) Handler() http.Handler {
	return promhttp.HandlerFor(s.reg, promhttp.HandlerOpts{})
}

// Registry exposes the underlying registry for tests.
func (s *Set) Registry() *prometheus.Registry { return s.reg }
