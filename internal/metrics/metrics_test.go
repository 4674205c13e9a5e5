// v1
// internal/metrics/metrics_test.go
package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/dfeen87/Bio-Stabilizing-Lunar-Spray/internal/dome"
	"github.com/dfeen87/Bio-Stabilizing-Lunar-Spray/internal/energy"
	"github.com/dfeen87/Bio-Stabilizing-Lunar-Spray/internal/telemetry"
)

func scrape(t *testing.T, s *Set) string {
	t.Helper()
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()
	resp, err := http.Get(srv.URL)
	if err != nil {
		t.Fatalf("scrape: %v", err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return string(body)
}

func TestObserveStatusExported(t *testing.T) {
	s := New()
	s.ObserveStatus(dome.Status{
		ID:          "DOME-001",
		Mode:        "GROWING",
		Reading:     telemetry.SensorReading{TempC: 21.7, CO2Ppm: 810, O2Pct: 20.9},
		LastCommand: telemetry.ActuatorCommand{Heater: 0.8, Light: 1},
		Ledger:      energy.Ledger{HeatingKWh: 12.5},
		OpenHazards: []string{"CO2_EXCESS"},
		Faults:      2,
	})

	body := scrape(t, s)
	for _, want := range []string{
		`habitat_sensor_value{dome="DOME-001",variable="temp_c"} 21.7`,
		`habitat_sensor_value{dome="DOME-001",variable="co2_ppm"} 810`,
		`habitat_actuator_command{channel="heater",dome="DOME-001"} 0.8`,
		`habitat_dome_mode{dome="DOME-001",mode="GROWING"} 1`,
		`habitat_dome_mode{dome="DOME-001",mode="IDLE"} 0`,
		`habitat_energy_kwh_total{dome="DOME-001",subsystem="heating"} 12.5`,
		`habitat_open_hazards{dome="DOME-001"} 1`,
		`habitat_control_faults_total{dome="DOME-001"} 2`,
		`habitat_ticks_total{dome="DOME-001"} 1`,
	} {
		if !strings.Contains(body, want) {
			t.Fatalf("exposition missing %q\n%s", want, body)
		}
	}
}

func TestHazardAndRebalanceCounters(t *testing.T) {
	s := New()
	s.HazardOpened("D1", "CO2_EXCESS")
	s.HazardOpened("D1", "CO2_EXCESS")
	s.ObserveRebalance(2, 3.5, 1)

	body := scrape(t, s)
	for _, want := range []string{
		`habitat_hazard_events_total{dome="D1",kind="CO2_EXCESS"} 2`,
		`habitat_o2_transfers_total 2`,
		`habitat_o2_transferred_points_total 3.5`,
		`habitat_o2_redistribution_declined_total 1`,
	} {
		if !strings.Contains(body, want) {
			t.Fatalf("exposition missing %q\n%s", want, body)
		}
	}
}
