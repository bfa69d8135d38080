package detection

import (
	"context"
	"fmt"
	"sort"
	"time"

	"fleet-audit/internal/config"
	"fleet-audit/internal/models"
)

// IdleDetector finds extended stretches where a vehicle sat with the
// engine reporting but essentially no movement.
type IdleDetector struct {
	cfg config.Config
}

func NewIdleDetector(cfg config.Config) *IdleDetector {
	return &IdleDetector{cfg: cfg}
}

// Name implements Detector.
func (d *IdleDetector) Name() string { return "idle_abuse" }

// Detect implements Detector.
func (d *IdleDetector) Detect(ctx context.Context, in Inputs) ([]models.Violation, error) {
	if len(in.GPS) == 0 {
		return nil, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	byVehicle := make(map[string][]models.GPSPing)
	for _, p := range in.GPS {
		if p.VehicleID == "" || p.Timestamp.IsZero() {
			continue
		}
		byVehicle[p.VehicleID] = append(byVehicle[p.VehicleID], p)
	}

	vehicles := make([]string, 0, len(byVehicle))
	for id := range byVehicle {
		vehicles = append(vehicles, id)
	}
	sort.Strings(vehicles)

	var out []models.Violation
	for _, vehicleID := range vehicles {
		pings := byVehicle[vehicleID]
		sort.SliceStable(pings, func(i, j int) bool {
			return pings[i].Timestamp.Before(pings[j].Timestamp)
		})
		out = append(out, d.idleRuns(vehicleID, pings)...)
	}
	return out, nil
}

// idleRuns partitions the time-sorted pings into maximal low-speed runs
// and flags runs that span at least the configured minimum.
func (d *IdleDetector) idleRuns(vehicleID string, pings []models.GPSPing) []models.Violation {
	minSpan := time.Duration(d.cfg.IdleMinMinutes) * time.Minute

	var out []models.Violation
	var run []models.GPSPing
	flush := func() {
		defer func() { run = nil }()
		if len(run) < 2 {
			return
		}
		span := run[len(run)-1].Timestamp.Sub(run[0].Timestamp)
		if span < minSpan {
			return
		}
		out = append(out, d.idleViolation(vehicleID, run, span))
	}

	for _, p := range pings {
		if p.SpeedMPH <= d.cfg.IdleMaxSpeedMPH {
			run = append(run, p)
			continue
		}
		flush()
	}
	flush()
	return out
}

func (d *IdleDetector) idleViolation(vehicleID string, run []models.GPSPing, span time.Duration) models.Violation {
	var latSum, lonSum float64
	for _, p := range run {
		latSum += p.Latitude
		lonSum += p.Longitude
	}
	lat := latSum / float64(len(run))
	lon := lonSum / float64(len(run))

	minutes := span.Minutes()
	severity := models.SeverityLow
	if minutes >= 3*d.cfg.IdleMinMinutes {
		severity = models.SeverityMedium
	}
	loss := span.Hours() * d.cfg.IdleBurnGalPerHour * d.cfg.AvgFuelPriceUSD

	return models.Violation{
		VehicleID: vehicleID,
		Timestamp: run[0].Timestamp,
		Type:      models.ViolationIdleAbuse,
		Method:    models.MethodIdleAbuse,
		Description: fmt.Sprintf("Vehicle idle for %.0f minutes near (%.4f, %.4f) burning fuel the whole time",
			minutes, lat, lon),
		Location:      fmt.Sprintf("%.4f,%.4f", lat, lon),
		Severity:      severity,
		Confidence:    0.75,
		EstimatedLoss: loss,
		Details: models.IdleDetails{
			Start:           run[0].Timestamp,
			End:             run[len(run)-1].Timestamp,
			DurationMinutes: minutes,
			Lat:             lat,
			Lon:             lon,
		},
	}
}
