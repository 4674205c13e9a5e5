// v2
// internal/config/config_test.go
package config

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func writeProps(t *testing.T, content string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "habitat.properties")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("write properties: %v", err)
	}
	t.Setenv("HABITAT_PROPERTIES", path)
}

const minimal = `
listen_addr = :8080
domes = DOME-001, DOME-002
`

func TestLoadMinimal(t *testing.T) {
	writeProps(t, minimal)
	cfg, err := Load(discard())
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.ListenAddr != ":8080" {
		t.Fatalf("listen addr %q", cfg.ListenAddr)
	}
	if len(cfg.DomeIDs) != 2 || cfg.DomeIDs[0] != "DOME-001" || cfg.DomeIDs[1] != "DOME-002" {
		t.Fatalf("domes %v", cfg.DomeIDs)
	}
	if cfg.TickInterval != time.Second || cfg.SimStepS != 10 {
		t.Fatalf("tick defaults: %s / %.1f", cfg.TickInterval, cfg.SimStepS)
	}
	if cfg.Coord.CadenceTicks != 10 || cfg.Coord.SurplusPct != 22 {
		t.Fatalf("coord defaults: %+v", cfg.Coord)
	}
	if cfg.Modes.EscalationCount != 3 || cfg.Modes.EscalationWindowS != 6*3600 {
		t.Fatalf("escalation defaults: %+v", cfg.Modes)
	}
	if cfg.RunLogPath != "habitatd.runlog" {
		t.Fatalf("run log default %q", cfg.RunLogPath)
	}
	if len(cfg.KafkaBrokers) != 0 {
		t.Fatalf("kafka must be disabled without KAFKA_BROKERS, got %v", cfg.KafkaBrokers)
	}
	if cfg.TelemetryTopic != "dome.telemetry" || cfg.MQTTTopicPrefix != "dome" {
		t.Fatalf("topic defaults: %q %q", cfg.TelemetryTopic, cfg.MQTTTopicPrefix)
	}
}

func TestLoadOverrides(t *testing.T) {
	writeProps(t, minimal+`
sim.tick = 250ms
sim.step = 5s
pid.temp.kp = 0.3
pid.temp.out_min = -0.5
pid.temp.out_max = 0.5
hazard.co2_max_ppm = 1500
hazard.temp_max_c = 38
profile.growing.temp_c = 24
profile.growing.photoperiod_h = 18
power.heater_kw = 3.5
hazard.escalation_count = 2
hazard.escalation_window = 2h
coord.surplus_pct = 21.5
ambient.night_temp_c = -8
mission.substrate_ready_day = 30
run_log = /tmp/run.jsonl
`)
	t.Setenv("KAFKA_BROKERS", "k1:9092, k2:9092")
	t.Setenv("MQTT_BROKER", "tcp://mqtt:1883")
	cfg, err := Load(discard())
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.TickInterval != 250*time.Millisecond || cfg.SimStepS != 5 {
		t.Fatalf("tick overrides: %s / %.1f", cfg.TickInterval, cfg.SimStepS)
	}
	if cfg.TempGains.Kp != 0.3 || cfg.TempGains.OutMin != -0.5 || cfg.TempGains.OutMax != 0.5 {
		t.Fatalf("temp gains %+v", cfg.TempGains)
	}
	if cfg.Thresholds.CO2MaxPpm != 1500 || cfg.Thresholds.TempMaxC != 38 {
		t.Fatalf("thresholds %+v", cfg.Thresholds)
	}
	if cfg.Profiles.Growing.TempC != 24 || cfg.Profiles.Growing.PhotoperiodH != 18 {
		t.Fatalf("growing profile %+v", cfg.Profiles.Growing)
	}
	if cfg.Profiles.Idle.TempC != 18 {
		t.Fatalf("untouched profile must keep its default, got %+v", cfg.Profiles.Idle)
	}
	if cfg.Power.HeaterKW != 3.5 || cfg.Power.LightKW != 1.0 {
		t.Fatalf("power curves %+v", cfg.Power)
	}
	if cfg.Modes.EscalationCount != 2 || cfg.Modes.EscalationWindowS != 2*3600 {
		t.Fatalf("escalation overrides: %+v", cfg.Modes)
	}
	if cfg.Coord.SurplusPct != 21.5 {
		t.Fatalf("surplus %.1f", cfg.Coord.SurplusPct)
	}
	if cfg.Ambient.NightTempC != -8 {
		t.Fatalf("night temp %.1f", cfg.Ambient.NightTempC)
	}
	if cfg.Substrate.ReadyDay != 30 {
		t.Fatalf("ready day %d", cfg.Substrate.ReadyDay)
	}
	if cfg.RunLogPath != "/tmp/run.jsonl" {
		t.Fatalf("run log %q", cfg.RunLogPath)
	}
	if len(cfg.KafkaBrokers) != 2 || cfg.KafkaBrokers[1] != "k2:9092" {
		t.Fatalf("brokers %v", cfg.KafkaBrokers)
	}
	if cfg.MQTTBroker != "tcp://mqtt:1883" {
		t.Fatalf("mqtt broker %q", cfg.MQTTBroker)
	}
}

func TestMalformedOptionalFallsBack(t *testing.T) {
	writeProps(t, minimal+`
pid.temp.kp = not-a-number
sim.step = soon
`)
	cfg, err := Load(discard())
	if err != nil {
		t.Fatalf("malformed optionals must not fail the load: %v", err)
	}
	if cfg.TempGains.Kp != 0.2 {
		t.Fatalf("expected default kp, got %.2f", cfg.TempGains.Kp)
	}
	if cfg.SimStepS != 10 {
		t.Fatalf("expected default step, got %.1f", cfg.SimStepS)
	}
}

// strconv.ParseFloat accepts "NaN" and "Inf"; a control parameter never may.
func TestNonFiniteFloatsFallBack(t *testing.T) {
	writeProps(t, minimal+`
ambient.day_temp_c = NaN
pid.temp.kp = +Inf
power.idle_kw = -Inf
`)
	cfg, err := Load(discard())
	if err != nil {
		t.Fatalf("non-finite optionals must fall back, not fail: %v", err)
	}
	if cfg.Ambient.DayTempC != 0 {
		t.Fatalf("NaN must fall back to the default, got %v", cfg.Ambient.DayTempC)
	}
	if cfg.TempGains.Kp != 0.2 {
		t.Fatalf("+Inf must fall back to the default, got %v", cfg.TempGains.Kp)
	}
	if cfg.Power.IdleKW != 0.05 {
		t.Fatalf("-Inf must fall back to the default, got %v", cfg.Power.IdleKW)
	}
}

func TestLoadRejections(t *testing.T) {
	cases := []struct {
		name  string
		props string
		want  string
	}{
		{"missing listen addr", "domes = D1\n", "listen_addr"},
		{"missing domes", "listen_addr = :8080\n", "domes"},
		{"duplicate dome", "listen_addr = :8080\ndomes = D1,D1\n", "duplicate"},
		{"negative tick", minimal + "sim.tick = -1s\n", "sim.tick"},
		{"negative gain", minimal + "pid.temp.kp = -0.1\n", "pid"},
		{"inverted hazard band", minimal + "hazard.o2_min_pct = 120\n", "O2"},
		{"inverted temp band", minimal + "hazard.temp_min_c = 50\n", "temperature band"},
		{"profile outside envelope", minimal + "profile.growing.temp_c = 80\n", "profile growing"},
		{"inverted pid bounds", minimal + "pid.temp.out_min = 2\n", "pid"},
		{"negative power rating", minimal + "power.vent_kw = -1\n", "rating"},
		{"zero escalation", minimal + "hazard.escalation_count = 0\n", "escalation"},
		{"bad surplus", minimal + "coord.surplus_pct = 101\n", "surplus"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			writeProps(t, tc.props)
			_, err := Load(discard())
			if err == nil {
				t.Fatalf("expected load failure")
			}
			if !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("error %q does not mention %q", err, tc.want)
			}
		})
	}
}

func TestMissingPropertiesEnv(t *testing.T) {
	t.Setenv("HABITAT_PROPERTIES", "")
	if _, err := Load(discard()); err == nil {
		t.Fatalf("expected error without HABITAT_PROPERTIES")
	}
}
