package audit

import (
	"context"
	"errors"
	"reflect"
	"testing"
	"time"

	"fleet-audit/internal/config"
	"fleet-audit/internal/detection"
	"fleet-audit/internal/models"
)

func TestEngineNoData(t *testing.T) {
	eng := NewEngine(config.Default())
	_, err := eng.Run(context.Background(), detection.Inputs{})
	if !errors.Is(err, ErrNoData) {
		t.Fatalf("Run() error = %v, want ErrNoData", err)
	}
}

func TestEngineDisjointSourcesDegrade(t *testing.T) {
	eng := NewEngine(config.Default())

	result, err := eng.Run(context.Background(), janFebInputs())
	if err != nil {
		t.Fatalf("Run() error: %v", err)
	}

	if len(result.OverlapWarnings) != 1 || result.OverlapWarnings[0].Kind != models.OverlapNone {
		t.Errorf("overlap warnings = %v, want one no_overlap", result.OverlapWarnings)
	}
	// Cross-source analysis is disabled without a shared window.
	if got := result.RawViolations["mpg_analysis"]; len(got) != 0 {
		t.Errorf("mpg_analysis produced %d violations across disjoint sources", len(got))
	}
}

func TestEngineEndToEnd(t *testing.T) {
	eng := NewEngine(config.Default())
	day := time.Date(2025, 3, 3, 0, 0, 0, 0, time.UTC)

	in := detection.Inputs{
		Fuel: []models.FuelRecord{
			// Over-capacity purchase.
			{VehicleID: "VEH-001", Timestamp: day.Add(9 * time.Hour), Location: "Shell Station 42",
				Gallons: models.Float64Ptr(45), Amount: models.Float64Ptr(45 * 3.50)},
			// Normal purchase on another vehicle.
			{VehicleID: "VEH-002", Timestamp: day.Add(10 * time.Hour), Location: "Wawa I-4",
				Gallons: models.Float64Ptr(20), Amount: models.Float64Ptr(70)},
		},
		GPS: []models.GPSPing{
			{VehicleID: "VEH-001", Timestamp: day.Add(9 * time.Hour), Latitude: 28.5, Longitude: -81.3, SpeedMPH: 20},
			{VehicleID: "VEH-002", Timestamp: day.Add(10 * time.Hour), Latitude: 28.6, Longitude: -81.4, SpeedMPH: 30},
		},
	}

	result, err := eng.Run(context.Background(), in)
	if err != nil {
		t.Fatalf("Run() error: %v", err)
	}

	if result.AuditID == "" {
		t.Error("empty audit ID")
	}
	if result.VehiclesAnalyzed != 2 {
		t.Errorf("vehicles analyzed = %d, want 2", result.VehiclesAnalyzed)
	}
	if result.DataQuality.Tier != 1 {
		t.Errorf("data quality tier = %d, want 1", result.DataQuality.Tier)
	}
	if len(result.Consolidated) == 0 {
		t.Fatal("expected at least one incident")
	}

	// Violation invariants.
	for name, vs := range result.RawViolations {
		for _, v := range vs {
			if v.Confidence < 0 || v.Confidence > 1 {
				t.Errorf("%s: confidence %.3f out of range", name, v.Confidence)
			}
			if v.EstimatedLoss < 0 {
				t.Errorf("%s: negative loss %.2f", name, v.EstimatedLoss)
			}
		}
	}

	// Incident invariants: loss sums members, severity is member max.
	for _, inc := range result.Consolidated {
		var sum float64
		max := models.Severity("")
		for _, m := range inc.Members {
			sum += m.EstimatedLoss
			max = models.MaxSeverity(max, m.Severity)
		}
		if diff := inc.TotalEstimatedLoss - sum; diff > 1e-9 || diff < -1e-9 {
			t.Errorf("incident loss %.2f != member sum %.2f", inc.TotalEstimatedLoss, sum)
		}
		if inc.Severity != max {
			t.Errorf("incident severity %s != member max %s", inc.Severity, max)
		}
		if inc.Confidence < 0 || inc.Confidence > 1 {
			t.Errorf("incident confidence %.3f out of range", inc.Confidence)
		}
	}

	// The flagged vehicle appears in the financial summary.
	fs := result.FinancialSummary
	if _, ok := fs.Vehicles["VEH-001"]; !ok {
		t.Error("VEH-001 missing from financial summary")
	}
	if fs.TotalLoss <= 0 {
		t.Errorf("fleet loss = %.2f, want positive", fs.TotalLoss)
	}
}

func TestEngineRerunIdempotent(t *testing.T) {
	eng := NewEngine(config.Default())
	day := time.Date(2025, 3, 3, 0, 0, 0, 0, time.UTC)

	in := detection.Inputs{
		Fuel: []models.FuelRecord{
			{VehicleID: "VEH-001", Timestamp: day.Add(9 * time.Hour), Location: "Shell Station 42",
				Gallons: models.Float64Ptr(45), Amount: models.Float64Ptr(45 * 3.50)},
			{VehicleID: "VEH-001", Timestamp: day.Add(14 * time.Hour), Location: "Wawa I-4",
				Gallons: models.Float64Ptr(44), Amount: models.Float64Ptr(44 * 3.50)},
		},
	}

	first, err := eng.Run(context.Background(), in)
	if err != nil {
		t.Fatalf("first Run() error: %v", err)
	}
	second, err := eng.Run(context.Background(), in)
	if err != nil {
		t.Fatalf("second Run() error: %v", err)
	}

	// Only the audit ID and generation time may differ between runs.
	if !reflect.DeepEqual(first.Consolidated, second.Consolidated) {
		t.Errorf("consolidated incidents differ between identical runs")
	}
	if !reflect.DeepEqual(first.RawViolations, second.RawViolations) {
		t.Errorf("raw violations differ between identical runs")
	}
	if !reflect.DeepEqual(first.FinancialSummary, second.FinancialSummary) {
		t.Errorf("financial summaries differ between identical runs")
	}
	if first.AuditID == second.AuditID {
		t.Errorf("audit IDs should be unique per run")
	}
}

type stubEnricher struct {
	calls int
}

func (s *stubEnricher) Enrich(ctx context.Context, vs []models.Violation) ([]models.Violation, error) {
	s.calls++
	for i := range vs {
		vs[i].Description = "[enriched] " + vs[i].Description
	}
	return vs, nil
}

func TestEngineEnricher(t *testing.T) {
	enricher := &stubEnricher{}
	eng := NewEngine(config.Default(), WithEnricher(enricher))
	day := time.Date(2025, 3, 3, 9, 0, 0, 0, time.UTC)

	in := detection.Inputs{
		Fuel: []models.FuelRecord{
			{VehicleID: "VEH-001", Timestamp: day, Location: "Shell Station 42",
				Gallons: models.Float64Ptr(45), Amount: models.Float64Ptr(45 * 3.50)},
		},
	}
	result, err := eng.Run(context.Background(), in)
	if err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	if enricher.calls != 1 {
		t.Errorf("enricher called %d times, want 1", enricher.calls)
	}
	if len(result.Consolidated) == 0 {
		t.Fatal("expected incidents")
	}
	desc := result.Consolidated[0].Members[0].Description
	if len(desc) < 11 || desc[:11] != "[enriched] " {
		t.Errorf("member description %q not enriched", desc)
	}
}

func TestEngineContextCancellation(t *testing.T) {
	eng := NewEngine(config.Default())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	day := time.Date(2025, 3, 3, 9, 0, 0, 0, time.UTC)
	in := detection.Inputs{
		Fuel: []models.FuelRecord{
			{VehicleID: "VEH-001", Timestamp: day, Gallons: models.Float64Ptr(45)},
		},
	}
	if _, err := eng.Run(ctx, in); err == nil {
		t.Error("Run() with canceled context succeeded, want error")
	}
}
