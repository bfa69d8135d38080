package audit

import (
	"math"
	"reflect"
	"testing"
	"time"

	"fleet-audit/internal/models"
)

func violation(vehicle string, ts time.Time, method models.DetectionMethod, severity models.Severity, confidence, loss float64) models.Violation {
	return models.Violation{
		VehicleID:     vehicle,
		Timestamp:     ts,
		Type:          models.ViolationFuelTheft,
		Method:        method,
		Description:   string(method),
		Severity:      severity,
		Confidence:    confidence,
		EstimatedLoss: loss,
	}
}

func TestConsolidateMergesSameEvent(t *testing.T) {
	d := NewDeduplicator(2.0)
	ts := time.Date(2025, 3, 3, 10, 0, 0, 0, time.UTC)

	vs := []models.Violation{
		violation("VEH-001", ts, models.MethodVolumeExcess, models.SeverityHigh, 0.95, 17.50),
		violation("VEH-001", ts.Add(30*time.Minute), models.MethodPatternDeviation, models.SeverityMedium, 0.70, 10.00),
	}

	incidents := d.Consolidate(vs)
	if len(incidents) != 1 {
		t.Fatalf("expected 1 incident, got %d", len(incidents))
	}
	inc := incidents[0]
	if inc.EvidenceCount != 2 {
		t.Errorf("evidence count = %d, want 2", inc.EvidenceCount)
	}
	if inc.Severity != models.SeverityHigh {
		t.Errorf("severity = %s, want high (max of members)", inc.Severity)
	}
	if math.Abs(inc.TotalEstimatedLoss-27.50) > 1e-9 {
		t.Errorf("loss = %.2f, want 27.50 (sum of members)", inc.TotalEstimatedLoss)
	}
	// Corroboration adds 0.1 to the max member confidence, capped.
	if math.Abs(inc.Confidence-0.99) > 1e-9 {
		t.Errorf("confidence = %.3f, want 0.99", inc.Confidence)
	}
	if !inc.Timestamp.Equal(ts) {
		t.Errorf("timestamp = %v, want earliest member %v", inc.Timestamp, ts)
	}
}

func TestConsolidateKeepsUnrelatedApart(t *testing.T) {
	d := NewDeduplicator(2.0)
	ts := time.Date(2025, 3, 3, 10, 0, 0, 0, time.UTC)

	tests := []struct {
		name string
		vs   []models.Violation
	}{
		{
			name: "different vehicles",
			vs: []models.Violation{
				violation("VEH-001", ts, models.MethodVolumeExcess, models.SeverityHigh, 0.95, 10),
				violation("VEH-002", ts, models.MethodVolumeExcess, models.SeverityHigh, 0.95, 10),
			},
		},
		{
			name: "outside the window",
			vs: []models.Violation{
				violation("VEH-001", ts, models.MethodVolumeExcess, models.SeverityHigh, 0.95, 10),
				violation("VEH-001", ts.Add(3*time.Hour), models.MethodVolumeExcess, models.SeverityHigh, 0.95, 10),
			},
		},
		{
			name: "no shared cluster, no shared location",
			vs: []models.Violation{
				violation("VEH-001", ts, models.MethodVolumeExcess, models.SeverityHigh, 0.95, 10),
				violation("VEH-001", ts.Add(time.Hour), models.MethodGhostJobNoActivity, models.SeverityMedium, 0.80, 0),
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			incidents := d.Consolidate(tt.vs)
			if len(incidents) != 2 {
				t.Errorf("expected 2 incidents, got %d", len(incidents))
			}
		})
	}
}

func TestConsolidateTransitiveChain(t *testing.T) {
	d := NewDeduplicator(2.0)
	ts := time.Date(2025, 3, 3, 8, 0, 0, 0, time.UTC)

	// A~B and B~C inside the window; A and C are 3 hours apart and not
	// directly related, yet the chain pulls all three together.
	vs := []models.Violation{
		violation("VEH-001", ts, models.MethodVolumeExcess, models.SeverityHigh, 0.95, 10),
		violation("VEH-001", ts.Add(90*time.Minute), models.MethodRapidRefill, models.SeverityHigh, 0.95, 20),
		violation("VEH-001", ts.Add(3*time.Hour), models.MethodDailyExcess, models.SeverityHigh, 0.85, 30),
	}

	incidents := d.Consolidate(vs)
	if len(incidents) != 1 {
		t.Fatalf("expected 1 incident from transitive chain, got %d", len(incidents))
	}
	if incidents[0].EvidenceCount != 3 {
		t.Errorf("evidence count = %d, want 3", incidents[0].EvidenceCount)
	}
}

func TestConsolidateSameLocationMerges(t *testing.T) {
	d := NewDeduplicator(2.0)
	ts := time.Date(2025, 3, 3, 10, 0, 0, 0, time.UTC)

	// Different clusters but identical station within the window.
	a := violation("VEH-001", ts, models.MethodVolumeExcess, models.SeverityHigh, 0.95, 10)
	a.Location = "Shell Station 42"
	b := violation("VEH-001", ts.Add(time.Hour), models.MethodIdleRefillMPG, models.SeverityHigh, 0.90, 20)
	b.Location = "Shell Station 42"

	incidents := d.Consolidate([]models.Violation{a, b})
	if len(incidents) != 1 {
		t.Fatalf("expected 1 incident, got %d", len(incidents))
	}
	if incidents[0].Description == "" {
		t.Error("merged incident has empty description")
	}
}

func TestConsolidateMultiFactorHeadline(t *testing.T) {
	d := NewDeduplicator(2.0)
	ts := time.Date(2025, 3, 3, 10, 0, 0, 0, time.UTC)

	a := violation("VEH-001", ts, models.MethodVolumeExcess, models.SeverityHigh, 0.95, 10)
	a.Location = "Shell Station 42"
	b := violation("VEH-001", ts.Add(time.Hour), models.MethodFuelDumpingMPG, models.SeverityHigh, 0.95, 50)
	b.Location = "Shell Station 42"

	incidents := d.Consolidate([]models.Violation{a, b})
	if len(incidents) != 1 {
		t.Fatalf("expected 1 incident, got %d", len(incidents))
	}
	want := "MULTI-FACTOR FUEL THEFT DETECTED"
	if got := incidents[0].Description; len(got) < len(want) || got[:len(want)] != want {
		t.Errorf("description = %q, want %q prefix", got, want)
	}
}

func TestConsolidateDeterministic(t *testing.T) {
	d := NewDeduplicator(2.0)
	ts := time.Date(2025, 3, 3, 10, 0, 0, 0, time.UTC)

	vs := []models.Violation{
		violation("VEH-002", ts.Add(time.Hour), models.MethodRapidRefill, models.SeverityHigh, 0.95, 20),
		violation("VEH-001", ts, models.MethodVolumeExcess, models.SeverityHigh, 0.95, 10),
		violation("VEH-001", ts.Add(30*time.Minute), models.MethodPatternDeviation, models.SeverityMedium, 0.70, 5),
		violation("VEH-003", ts, models.MethodTimingAnomaly, models.SeverityLow, 0.50, 0),
	}

	// Same input in a different order must consolidate identically.
	shuffled := []models.Violation{vs[3], vs[1], vs[0], vs[2]}

	first := d.Consolidate(vs)
	second := d.Consolidate(shuffled)
	if !reflect.DeepEqual(first, second) {
		t.Errorf("consolidation is order-dependent:\n%v\nvs\n%v", first, second)
	}

	// Sorted by severity then loss.
	for i := 1; i < len(first); i++ {
		prev, cur := first[i-1], first[i]
		if prev.Severity.Rank() < cur.Severity.Rank() {
			t.Errorf("incident %d outranks its predecessor", i)
		}
		if prev.Severity == cur.Severity && prev.TotalEstimatedLoss < cur.TotalEstimatedLoss {
			t.Errorf("incident %d has higher loss than its predecessor at equal severity", i)
		}
	}
}

func TestConsolidateConfidenceBounds(t *testing.T) {
	d := NewDeduplicator(2.0)
	ts := time.Date(2025, 3, 3, 10, 0, 0, 0, time.UTC)

	vs := []models.Violation{
		violation("VEH-001", ts, models.MethodVolumeExcess, models.SeverityHigh, 0.95, 10),
		violation("VEH-001", ts.Add(10*time.Minute), models.MethodRapidRefill, models.SeverityHigh, 0.95, 20),
		violation("VEH-001", ts.Add(20*time.Minute), models.MethodDailyExcess, models.SeverityHigh, 0.85, 30),
	}

	incidents := d.Consolidate(vs)
	if len(incidents) != 1 {
		t.Fatalf("expected 1 incident, got %d", len(incidents))
	}
	if got := incidents[0].Confidence; math.Abs(got-0.99) > 1e-9 {
		t.Errorf("confidence = %.3f, want capped at 0.99", got)
	}
}
