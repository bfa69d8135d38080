// Package detection implements the individual violation detectors that
// run over normalized fleet record tables: tiered fuel-theft analysis,
// MPG-based fraud classification, and the behavioral GPS checks (idle,
// after-hours, ghost jobs). Each detector is independent, read-only
// over its inputs, and safe to run concurrently with the others.
package detection

import (
	"context"

	"fleet-audit/internal/models"
)

// Inputs is an immutable snapshot of the record tables a detector may
// read. The orchestrator pre-filters cross-source tables to their
// temporal overlap window before handing them to a detector, so a
// detector never has to reason about source coverage itself.
type Inputs struct {
	Fuel []models.FuelRecord
	GPS  []models.GPSPing
	Jobs []models.JobRecord
}

// Empty reports whether no source contributed any records.
func (in Inputs) Empty() bool {
	return len(in.Fuel) == 0 && len(in.GPS) == 0 && len(in.Jobs) == 0
}

// Detector is implemented by every violation detector.
type Detector interface {
	// Name identifies the detector in results and logs.
	Name() string

	// Detect evaluates the input snapshot and returns raw violations.
	// Missing inputs yield an empty slice, never an error.
	Detect(ctx context.Context, in Inputs) ([]models.Violation, error)
}

func clampConfidence(c float64) float64 {
	if c < 0 {
		return 0
	}
	if c > 1 {
		return 1
	}
	return c
}

// hasClockTime reports whether a timestamp carries time-of-day
// information. Date-only exports parse to midnight; treating those as
// real clock times would fabricate timing evidence.
func hasClockTime(t models.FuelRecord) bool {
	ts := t.Timestamp
	return !(ts.Hour() == 0 && ts.Minute() == 0 && ts.Second() == 0)
}
