package detection

import (
	"context"
	"math"
	"testing"
	"time"

	"fleet-audit/internal/config"
	"fleet-audit/internal/models"
)

func mustDetect(t *testing.T, d Detector, in Inputs) []models.Violation {
	t.Helper()
	vs, err := d.Detect(context.Background(), in)
	if err != nil {
		t.Fatalf("Detect() error: %v", err)
	}
	return vs
}

func byMethod(vs []models.Violation, m models.DetectionMethod) []models.Violation {
	var out []models.Violation
	for _, v := range vs {
		if v.Method == m {
			out = append(out, v)
		}
	}
	return out
}

func fuelRec(vehicle string, ts time.Time, location string, gallons, amount float64) models.FuelRecord {
	r := models.FuelRecord{VehicleID: vehicle, Timestamp: ts, Location: location}
	if gallons > 0 {
		r.Gallons = models.Float64Ptr(gallons)
	}
	if amount > 0 {
		r.Amount = models.Float64Ptr(amount)
	}
	return r
}

func TestVolumeExcess(t *testing.T) {
	cfg := config.Default()
	d := NewFuelTheftDetector(cfg, nil)
	ts := time.Date(2025, 3, 3, 10, 30, 0, 0, time.UTC)

	vs := mustDetect(t, d, Inputs{Fuel: []models.FuelRecord{
		fuelRec("VEH-001", ts, "Shell Station 42", 45, 45*3.50),
	}})

	got := byMethod(vs, models.MethodVolumeExcess)
	if len(got) != 1 {
		t.Fatalf("expected 1 volume_excess violation, got %d (all: %v)", len(got), vs)
	}
	v := got[0]
	if v.Severity != models.SeverityHigh {
		t.Errorf("severity = %s, want high", v.Severity)
	}
	if math.Abs(v.Confidence-0.95) > 1e-9 {
		t.Errorf("confidence = %.3f, want 0.95", v.Confidence)
	}
	wantLoss := (45.0 - 40.0) * 3.50
	if math.Abs(v.EstimatedLoss-wantLoss) > 1e-9 {
		t.Errorf("loss = %.2f, want %.2f", v.EstimatedLoss, wantLoss)
	}
	details, ok := v.Details.(models.VolumeDetails)
	if !ok {
		t.Fatalf("details type = %T, want VolumeDetails", v.Details)
	}
	if details.Estimated {
		t.Error("details.Estimated = true for real gallons")
	}
}

func TestVolumeExcessWithinCapacity(t *testing.T) {
	cfg := config.Default()
	d := NewFuelTheftDetector(cfg, nil)
	ts := time.Date(2025, 3, 3, 10, 30, 0, 0, time.UTC)

	vs := mustDetect(t, d, Inputs{Fuel: []models.FuelRecord{
		fuelRec("VEH-001", ts, "Shell Station 42", 39.5, 39.5*3.50),
	}})
	if got := byMethod(vs, models.MethodVolumeExcess); len(got) != 0 {
		t.Errorf("expected no volume_excess at 39.5 gallons, got %d", len(got))
	}
}

func TestEstimatedVolumeExcessAmountOnly(t *testing.T) {
	cfg := config.Default()
	d := NewFuelTheftDetector(cfg, nil)
	ts := time.Date(2025, 3, 3, 10, 30, 0, 0, time.UTC)

	// $200 at $3.50/gal estimates 57 gallons against a 40 gallon tank.
	vs := mustDetect(t, d, Inputs{Fuel: []models.FuelRecord{
		fuelRec("VEH-001", ts, "Shell Station 42", 0, 200),
	}})

	got := byMethod(vs, models.MethodEstimatedVolumeExcess)
	if len(got) != 1 {
		t.Fatalf("expected 1 estimated_volume_excess, got %d (all: %v)", len(got), vs)
	}
	// Tier 2 scales the base 0.95 by 0.8.
	if math.Abs(got[0].Confidence-0.95*0.8) > 1e-9 {
		t.Errorf("confidence = %.3f, want %.3f", got[0].Confidence, 0.95*0.8)
	}
	details := got[0].Details.(models.VolumeDetails)
	if !details.Estimated {
		t.Error("details.Estimated = false for amount-derived gallons")
	}
}

func TestRapidRefill(t *testing.T) {
	cfg := config.Default()
	d := NewFuelTheftDetector(cfg, nil)
	day := time.Date(2025, 3, 3, 0, 0, 0, 0, time.UTC)

	vs := mustDetect(t, d, Inputs{Fuel: []models.FuelRecord{
		fuelRec("VEH-001", day.Add(8*time.Hour), "Shell Station 42", 38, 38*3.50),
		fuelRec("VEH-001", day.Add(13*time.Hour), "Shell Station 42", 49, 49*3.50),
	}})

	got := byMethod(vs, models.MethodRapidRefill)
	if len(got) != 1 {
		t.Fatalf("expected 1 rapid_refill, got %d (all: %v)", len(got), vs)
	}
	v := got[0]
	if v.Severity != models.SeverityHigh {
		t.Errorf("severity = %s, want high", v.Severity)
	}
	if math.Abs(v.Confidence-0.95) > 1e-9 {
		t.Errorf("confidence = %.3f, want 0.95", v.Confidence)
	}
	details := v.Details.(models.RefillDetails)
	if math.Abs(details.HoursSincePrev-5) > 1e-9 {
		t.Errorf("hours since prev = %.1f, want 5", details.HoursSincePrev)
	}
}

func TestRapidRefillConfidenceReductions(t *testing.T) {
	cfg := config.Default()
	d := NewFuelTheftDetector(cfg, nil)
	day := time.Date(2025, 3, 3, 0, 0, 0, 0, time.UTC)

	tests := []struct {
		name     string
		prev     models.FuelRecord
		cur      models.FuelRecord
		wantConf float64
	}{
		{
			name:     "ran out of gas splash then fill",
			prev:     fuelRec("VEH-001", day.Add(23*time.Hour+30*time.Minute), "Shell Station 42", 3, 3*3.50),
			cur:      fuelRec("VEH-001", day.Add(24*time.Hour+30*time.Minute), "Shell Station 42", 38, 38*3.50),
			wantConf: 0.60,
		},
		{
			name:     "different stations",
			prev:     fuelRec("VEH-001", day.Add(8*time.Hour), "Shell Station 42", 38, 38*3.50),
			cur:      fuelRec("VEH-001", day.Add(13*time.Hour), "Wawa I-4", 49, 49*3.50),
			wantConf: 0.80,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			vs := mustDetect(t, d, Inputs{Fuel: []models.FuelRecord{tt.prev, tt.cur}})
			got := byMethod(vs, models.MethodRapidRefill)
			if len(got) != 1 {
				t.Fatalf("expected 1 rapid_refill, got %d", len(got))
			}
			if math.Abs(got[0].Confidence-tt.wantConf) > 1e-9 {
				t.Errorf("confidence = %.3f, want %.3f", got[0].Confidence, tt.wantConf)
			}
		})
	}
}

func TestRapidRefillSkipsDateOnlyTimestamps(t *testing.T) {
	cfg := config.Default()
	d := NewFuelTheftDetector(cfg, nil)
	// Midnight timestamps mean the export only carried dates.
	day := time.Date(2025, 3, 3, 0, 0, 0, 0, time.UTC)

	vs := mustDetect(t, d, Inputs{Fuel: []models.FuelRecord{
		fuelRec("VEH-001", day, "Shell Station 42", 38, 38*3.50),
		fuelRec("VEH-001", day, "Shell Station 42", 49, 49*3.50),
	}})
	if got := byMethod(vs, models.MethodRapidRefill); len(got) != 0 {
		t.Errorf("expected no rapid_refill for date-only data, got %d", len(got))
	}
}

func TestPriceExcess(t *testing.T) {
	cfg := config.Default()
	d := NewFuelTheftDetector(cfg, nil)
	ts := time.Date(2025, 3, 3, 10, 0, 0, 0, time.UTC)

	tests := []struct {
		name         string
		gallons      float64
		amount       float64
		method       models.DetectionMethod
		wantSeverity models.Severity
		wantConf     float64
	}{
		{
			name:    "padded transaction",
			gallons: 20, amount: 160, // $8/gal
			method:       models.MethodPriceExcess,
			wantSeverity: models.SeverityMedium,
			wantConf:     0.75,
		},
		{
			name:    "DEF plausible",
			gallons: 5, amount: 40, // $8/gal but inside the DEF band
			method:       models.MethodPriceExcess,
			wantSeverity: models.SeverityLow,
			wantConf:     0.45,
		},
		{
			name:    "premium price",
			gallons: 20, amount: 111, // $5.55/gal, above avg+2.00 but under the 1.5x excess bar
			method:       models.MethodPricePremium,
			wantSeverity: models.SeverityLow,
			wantConf:     0.50,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			vs := mustDetect(t, d, Inputs{Fuel: []models.FuelRecord{
				fuelRec("VEH-001", ts, "Shell Station 42", tt.gallons, tt.amount),
			}})
			got := byMethod(vs, tt.method)
			if len(got) != 1 {
				t.Fatalf("expected 1 %s, got %d (all: %v)", tt.method, len(got), vs)
			}
			if got[0].Severity != tt.wantSeverity {
				t.Errorf("severity = %s, want %s", got[0].Severity, tt.wantSeverity)
			}
			if math.Abs(got[0].Confidence-tt.wantConf) > 1e-9 {
				t.Errorf("confidence = %.3f, want %.3f", got[0].Confidence, tt.wantConf)
			}
		})
	}
}

func TestPatternDeviation(t *testing.T) {
	cfg := config.Default()
	d := NewFuelTheftDetector(cfg, nil)
	day := time.Date(2025, 3, 3, 10, 0, 0, 0, time.UTC)

	// Baseline history around 30 gallons (stddev 2), one 60 gallon spike.
	gallons := []float64{27, 29, 30, 31, 33, 60}
	var fuel []models.FuelRecord
	for i, g := range gallons {
		fuel = append(fuel, fuelRec("VEH-001", day.AddDate(0, 0, i), "Shell Station 42", g, g*3.50))
	}

	vs := mustDetect(t, d, Inputs{Fuel: fuel})
	got := byMethod(vs, models.MethodPatternDeviation)
	if len(got) != 1 {
		t.Fatalf("expected 1 pattern_deviation, got %d (all: %v)", len(got), vs)
	}
	v := got[0]
	if math.Abs(v.Confidence-0.70) > 1e-9 {
		t.Errorf("confidence = %.3f, want 0.70", v.Confidence)
	}
	details := v.Details.(models.PatternDetails)
	if math.Abs(details.ZScore-15) > 0.01 {
		t.Errorf("z-score = %.2f, want 15", details.ZScore)
	}
	if details.Observed != 60*3.50 {
		t.Errorf("observed = %.2f, want %.2f (amount metric)", details.Observed, 60*3.50)
	}
}

func TestPatternDeviationNeedsHistory(t *testing.T) {
	cfg := config.Default()
	d := NewFuelTheftDetector(cfg, nil)
	day := time.Date(2025, 3, 3, 10, 0, 0, 0, time.UTC)

	// Four samples are below the minimum history requirement.
	vs := mustDetect(t, d, Inputs{Fuel: []models.FuelRecord{
		fuelRec("VEH-001", day, "Shell Station 42", 28, 28*3.50),
		fuelRec("VEH-001", day.AddDate(0, 0, 1), "Shell Station 42", 30, 30*3.50),
		fuelRec("VEH-001", day.AddDate(0, 0, 2), "Shell Station 42", 32, 32*3.50),
		fuelRec("VEH-001", day.AddDate(0, 0, 3), "Shell Station 42", 60, 60*3.50),
	}})
	if got := byMethod(vs, models.MethodPatternDeviation); len(got) != 0 {
		t.Errorf("expected no pattern_deviation with 4 samples, got %d", len(got))
	}
}

func TestDailyExcess(t *testing.T) {
	cfg := config.Default()
	d := NewFuelTheftDetector(cfg, nil)
	day := time.Date(2025, 3, 3, 0, 0, 0, 0, time.UTC)

	// Three purchases totaling 90 gallons against a 40 gallon tank.
	vs := mustDetect(t, d, Inputs{Fuel: []models.FuelRecord{
		fuelRec("VEH-001", day.Add(7*time.Hour), "Shell Station 42", 35, 35*3.50),
		fuelRec("VEH-001", day.Add(12*time.Hour), "Wawa I-4", 30, 30*3.50),
		fuelRec("VEH-001", day.Add(17*time.Hour), "Circle K Main St", 25, 25*3.50),
	}})

	got := byMethod(vs, models.MethodDailyExcess)
	if len(got) != 1 {
		t.Fatalf("expected 1 daily_excess, got %d (all: %v)", len(got), vs)
	}
	v := got[0]
	if v.Severity != models.SeverityHigh {
		t.Errorf("severity = %s, want high", v.Severity)
	}
	if math.Abs(v.Confidence-0.85) > 1e-9 {
		t.Errorf("confidence = %.3f, want 0.85", v.Confidence)
	}
	wantLoss := (90.0 - 40.0) * 3.50
	if math.Abs(v.EstimatedLoss-wantLoss) > 1e-9 {
		t.Errorf("loss = %.2f, want %.2f", v.EstimatedLoss, wantLoss)
	}
}

func TestDailyExcessManySmallPurchases(t *testing.T) {
	cfg := config.Default()
	d := NewFuelTheftDetector(cfg, nil)
	day := time.Date(2025, 3, 3, 0, 0, 0, 0, time.UTC)

	// Five small purchases: likely equipment refueling, softer call.
	var fuel []models.FuelRecord
	for i := 0; i < 5; i++ {
		fuel = append(fuel, fuelRec("VEH-001", day.Add(time.Duration(7+2*i)*time.Hour), "Shell Station 42", 17, 17*3.50))
	}

	vs := mustDetect(t, d, Inputs{Fuel: fuel})
	got := byMethod(vs, models.MethodDailyExcess)
	if len(got) != 1 {
		t.Fatalf("expected 1 daily_excess, got %d", len(got))
	}
	if got[0].Severity != models.SeverityMedium {
		t.Errorf("severity = %s, want medium", got[0].Severity)
	}
	if math.Abs(got[0].Confidence-0.60) > 1e-9 {
		t.Errorf("confidence = %.3f, want 0.60", got[0].Confidence)
	}
}

func TestUnusualLocation(t *testing.T) {
	cfg := config.Default()
	d := NewFuelTheftDetector(cfg, nil)
	day := time.Date(2025, 3, 3, 10, 0, 0, 0, time.UTC)

	locations := []string{
		"Shell Station 42", "Shell Station 42",
		"Wawa I-4", "Wawa I-4",
		"Circle K Main St", "Circle K Main St",
		"Pilot Travel Center", // one-off
	}
	var fuel []models.FuelRecord
	for i, loc := range locations {
		fuel = append(fuel, fuelRec("VEH-001", day.AddDate(0, 0, i), loc, 20, 20*3.50))
	}

	vs := mustDetect(t, d, Inputs{Fuel: fuel})
	got := byMethod(vs, models.MethodUnusualLocation)
	if len(got) != 1 {
		t.Fatalf("expected 1 unusual_location, got %d (all: %v)", len(got), vs)
	}
	if got[0].Location != "Pilot Travel Center" {
		t.Errorf("location = %q, want the one-off station", got[0].Location)
	}
	if got[0].Type != models.ViolationFuelAnomaly {
		t.Errorf("type = %s, want fuel_anomaly", got[0].Type)
	}
}

func TestTimingOnlyTierFallbacks(t *testing.T) {
	cfg := config.Default()
	d := NewFuelTheftDetector(cfg, nil)
	day := time.Date(2025, 3, 3, 0, 0, 0, 0, time.UTC)

	// No gallons and no amounts anywhere: tier 4.
	vs := mustDetect(t, d, Inputs{Fuel: []models.FuelRecord{
		fuelRec("VEH-001", day.Add(3*time.Hour), "Shell Station 42", 0, 0),
		fuelRec("VEH-001", day.Add(9*time.Hour), "Shell Station 42", 0, 0),
		fuelRec("VEH-001", day.Add(14*time.Hour), "Wawa I-4", 0, 0),
	}})

	timing := byMethod(vs, models.MethodTimingAnomaly)
	if len(timing) != 1 {
		t.Fatalf("expected 1 timing_anomaly (03:00 purchase), got %d (all: %v)", len(timing), vs)
	}
	if math.Abs(timing[0].Confidence-0.50) > 1e-9 {
		t.Errorf("timing confidence = %.3f, want 0.50", timing[0].Confidence)
	}
	if timing[0].EstimatedLoss != 0 {
		t.Errorf("timing loss = %.2f, want 0", timing[0].EstimatedLoss)
	}

	freq := byMethod(vs, models.MethodFrequencyAnomaly)
	if len(freq) != 1 {
		t.Fatalf("expected 1 frequency_anomaly (3 purchases in a day), got %d", len(freq))
	}
	if math.Abs(freq[0].Confidence-0.45) > 1e-9 {
		t.Errorf("frequency confidence = %.3f, want 0.45", freq[0].Confidence)
	}

	// Volume-style checks must not fire without volume data.
	if got := byMethod(vs, models.MethodVolumeExcess); len(got) != 0 {
		t.Errorf("unexpected volume_excess in tier 4: %v", got)
	}
}

func TestProximityCheck(t *testing.T) {
	cfg := config.Default()
	geocoder := NewStaticGeocoder(map[string]models.Coordinate{
		"Shell Station 42": {Lat: 28.5383, Lon: -81.3792},
	})
	d := NewFuelTheftDetector(cfg, geocoder)
	ts := time.Date(2025, 3, 3, 10, 0, 0, 0, time.UTC)

	fuel := []models.FuelRecord{
		fuelRec("VEH-001", ts, "Shell Station 42", 30, 30*3.50),
	}

	t.Run("vehicle elsewhere", func(t *testing.T) {
		// A ping in the window but roughly 14 miles north.
		vs := mustDetect(t, d, Inputs{Fuel: fuel, GPS: []models.GPSPing{
			{VehicleID: "VEH-001", Timestamp: ts.Add(5 * time.Minute), Latitude: 28.74, Longitude: -81.3792, SpeedMPH: 40},
		}})
		got := byMethod(vs, models.MethodNoGPSAtPurchase)
		if len(got) != 1 {
			t.Fatalf("expected 1 no_gps_at_purchase, got %d (all: %v)", len(got), vs)
		}
		if math.Abs(got[0].Confidence-0.85) > 1e-9 {
			t.Errorf("confidence = %.3f, want 0.85", got[0].Confidence)
		}
	})

	t.Run("vehicle at the pump", func(t *testing.T) {
		vs := mustDetect(t, d, Inputs{Fuel: fuel, GPS: []models.GPSPing{
			{VehicleID: "VEH-001", Timestamp: ts.Add(2 * time.Minute), Latitude: 28.5385, Longitude: -81.3790},
		}})
		if got := byMethod(vs, models.MethodNoGPSAtPurchase); len(got) != 0 {
			t.Errorf("expected no proximity violation, got %v", got)
		}
	})

	t.Run("purchase outside GPS coverage", func(t *testing.T) {
		// Fuel data starts days before GPS coverage does. The early
		// purchase has no pings to corroborate it either way, so only
		// the in-coverage purchase may be flagged.
		early := time.Date(2025, 1, 2, 9, 30, 0, 0, time.UTC)
		inCoverage := time.Date(2025, 1, 6, 10, 0, 0, 0, time.UTC)
		vs := mustDetect(t, d, Inputs{
			Fuel: []models.FuelRecord{
				fuelRec("VEH-001", early, "Shell Station 42", 30, 30*3.50),
				fuelRec("VEH-001", inCoverage, "Shell Station 42", 30, 30*3.50),
			},
			GPS: []models.GPSPing{
				{VehicleID: "VEH-001", Timestamp: time.Date(2025, 1, 5, 8, 0, 0, 0, time.UTC), Latitude: 28.74, Longitude: -81.3792, SpeedMPH: 40},
				{VehicleID: "VEH-001", Timestamp: inCoverage.Add(5 * time.Minute), Latitude: 28.74, Longitude: -81.3792, SpeedMPH: 40},
				{VehicleID: "VEH-001", Timestamp: time.Date(2025, 1, 10, 17, 0, 0, 0, time.UTC), Latitude: 28.74, Longitude: -81.3792, SpeedMPH: 40},
			},
		})
		got := byMethod(vs, models.MethodNoGPSAtPurchase)
		if len(got) != 1 {
			t.Fatalf("expected 1 no_gps_at_purchase, got %d (all: %v)", len(got), vs)
		}
		if !got[0].Timestamp.Equal(inCoverage) {
			t.Errorf("flagged purchase at %v, want the in-coverage one at %v", got[0].Timestamp, inCoverage)
		}
	})

	t.Run("null geocoder disables the check", func(t *testing.T) {
		null := NewFuelTheftDetector(cfg, NullGeocoder{})
		vs := mustDetect(t, null, Inputs{Fuel: fuel, GPS: []models.GPSPing{
			{VehicleID: "VEH-001", Timestamp: ts.Add(5 * time.Minute), Latitude: 28.74, Longitude: -81.3792},
		}})
		if got := byMethod(vs, models.MethodNoGPSAtPurchase); len(got) != 0 {
			t.Errorf("expected no proximity violation without a geocoder, got %v", got)
		}
	})
}

func TestTierMultiplierScalesConfidence(t *testing.T) {
	cfg := config.Default()
	d := NewFuelTheftDetector(cfg, nil)
	ts := time.Date(2025, 3, 3, 10, 0, 0, 0, time.UTC)

	// Gallons-only data lands in tier 3 (multiplier 0.7).
	vs := mustDetect(t, d, Inputs{Fuel: []models.FuelRecord{
		fuelRec("VEH-001", ts, "Shell Station 42", 45, 0),
	}})
	got := byMethod(vs, models.MethodVolumeExcess)
	if len(got) != 1 {
		t.Fatalf("expected 1 volume_excess, got %d", len(got))
	}
	if math.Abs(got[0].Confidence-0.95*0.7) > 1e-9 {
		t.Errorf("confidence = %.3f, want %.3f", got[0].Confidence, 0.95*0.7)
	}
}
