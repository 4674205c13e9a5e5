// v1
// internal/mission/mission_test.go
package mission

import "testing"

func TestAmbientCycle(t *testing.T) {
	p := DefaultAmbientProfile() // 24h period, half lit, 0C day / -5C night
	if got := p.At(0).TempC; got != 0 {
		t.Fatalf("start of period is day, got %.1f", got)
	}
	if got := p.At(13 * 3600).TempC; got != -5 {
		t.Fatalf("hour 13 is night, got %.1f", got)
	}
	if got := p.At(25 * 3600).TempC; got != 0 {
		t.Fatalf("cycle must wrap, got %.1f", got)
	}
	if amb := p.At(0); amb.O2Pct != 0 || amb.HumidityPct != 0 {
		t.Fatalf("exterior must be lethal: %+v", amb)
	}
}

func TestSubstrateGate(t *testing.T) {
	g := SubstrateGate{ReadyDay: 25}
	if g.Ready(24 * 24 * 3600) {
		t.Fatalf("day 24 must not be ready")
	}
	if !g.Ready(25 * 24 * 3600) {
		t.Fatalf("day 25 must be ready")
	}
}

func TestNutrientDosing(t *testing.T) {
	n := NutrientPlan{
		ConcentrationMgL: []float64{5, 50, 80},
		PH:               []float64{6.5, 9.0, 6.8},
		DoseThresholdMgL: 10,
		PHMin:            5.5,
		PHMax:            7.5,
	}
	day := func(d int) float64 { return float64(d)*24*3600 + 100 }
	if n.DoseAt(day(0)) {
		t.Fatalf("day 0 concentration below threshold")
	}
	if n.DoseAt(day(1)) {
		t.Fatalf("day 1 pH out of range")
	}
	if !n.DoseAt(day(2)) {
		t.Fatalf("day 2 should dose")
	}
	if n.DoseAt(day(3)) {
		t.Fatalf("beyond the series must not dose")
	}
}
