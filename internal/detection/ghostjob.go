package detection

import (
	"context"
	"fmt"
	"sort"
	"time"

	"fleet-audit/internal/config"
	"fleet-audit/internal/logging"
	"fleet-audit/internal/models"
)

// GhostJobDetector checks each scheduled job for corroborating vehicle
// presence. A job with no GPS activity in its window, or with activity
// that never comes near the job site, is billed work nobody did.
type GhostJobDetector struct {
	cfg      config.Config
	geocoder Geocoder
}

// NewGhostJobDetector builds the detector. A nil geocoder means no job
// address can be placed on the map, which silences this detector.
func NewGhostJobDetector(cfg config.Config, geocoder Geocoder) *GhostJobDetector {
	if geocoder == nil {
		geocoder = NullGeocoder{}
	}
	return &GhostJobDetector{cfg: cfg, geocoder: geocoder}
}

// Name implements Detector.
func (d *GhostJobDetector) Name() string { return "ghost_jobs" }

// Detect implements Detector.
func (d *GhostJobDetector) Detect(ctx context.Context, in Inputs) ([]models.Violation, error) {
	if len(in.Jobs) == 0 || len(in.GPS) == 0 {
		return nil, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	before := time.Duration(d.cfg.GhostJobBufferMin) * time.Minute
	after := 2 * before

	var out []models.Violation
	skipped := 0
	for _, job := range in.Jobs {
		if job.ScheduledTime.IsZero() || job.Address == "" {
			skipped++
			continue
		}
		lat, lon, ok := d.geocoder.Geocode(job.Address)
		if !ok {
			skipped++
			continue
		}

		start := job.ScheduledTime.Add(-before)
		end := job.ScheduledTime.Add(after)
		pings := jobWindowPings(in.GPS, job.DriverID, start, end)

		if len(pings) == 0 {
			out = append(out, d.ghostViolation(job, models.MethodGhostJobNoActivity, 0.80,
				fmt.Sprintf("No GPS activity anywhere near job %s scheduled at %s - job may not have been performed",
					job.JobID, job.ScheduledTime.Format("2006-01-02 15:04"))))
			continue
		}

		nearSite := false
		for _, p := range pings {
			if HaversineMiles(p.Latitude, p.Longitude, lat, lon) <= d.cfg.GhostJobMaxMiles {
				nearSite = true
				break
			}
		}
		if !nearSite {
			out = append(out, d.ghostViolation(job, models.MethodGhostJobWrongLocation, 0.70,
				fmt.Sprintf("Vehicle active during job %s window but never within %.1f miles of %s",
					job.JobID, d.cfg.GhostJobMaxMiles, job.Address)))
		}
	}
	if skipped > 0 {
		logging.Warn().Int("skipped", skipped).Msg("jobs skipped: missing schedule, address, or geocode")
	}
	return out, nil
}

// jobWindowPings returns the GPS pings in [start, end] for the given
// driver. Job schedules key on driver, and driver IDs double as vehicle
// IDs in this fleet; an empty driver matches every vehicle.
func jobWindowPings(gps []models.GPSPing, driverID string, start, end time.Time) []models.GPSPing {
	var out []models.GPSPing
	for _, p := range gps {
		if p.Timestamp.IsZero() || p.Timestamp.Before(start) || p.Timestamp.After(end) {
			continue
		}
		if driverID != "" && p.VehicleID != driverID {
			continue
		}
		out = append(out, p)
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Timestamp.Before(out[j].Timestamp)
	})
	return out
}

func (d *GhostJobDetector) ghostViolation(job models.JobRecord, method models.DetectionMethod, confidence float64, desc string) models.Violation {
	severity := models.SeverityMedium
	return models.Violation{
		VehicleID:     job.DriverID,
		Timestamp:     job.ScheduledTime,
		Type:          models.ViolationGhostJob,
		Method:        method,
		Description:   desc,
		Location:      job.Address,
		Severity:      severity,
		Confidence:    confidence,
		EstimatedLoss: 0,
		Details: models.GhostJobDetails{
			JobID:         job.JobID,
			DriverID:      job.DriverID,
			Address:       job.Address,
			ScheduledTime: job.ScheduledTime,
		},
	}
}
