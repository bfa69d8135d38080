// Package audit orchestrates the detectors, merges their findings into
// consolidated incidents, and produces the financial rollup.
package audit

import (
	"fmt"
	"time"

	"fleet-audit/internal/detection"
	"fleet-audit/internal/models"
)

// Data source names used in overlap warnings.
const (
	SourceFuel = "fuel"
	SourceGPS  = "gps"
	SourceJobs = "jobs"
)

// dateRange is the inclusive time span covered by one data source.
type dateRange struct {
	start, end time.Time
}

func (r dateRange) valid() bool { return !r.start.IsZero() && !r.end.IsZero() }

func (r dateRange) days() float64 {
	if !r.valid() {
		return 0
	}
	return r.end.Sub(r.start).Hours() / 24
}

// intersect returns the overlap of two ranges; ok is false when they
// are disjoint.
func (r dateRange) intersect(o dateRange) (dateRange, bool) {
	if !r.valid() || !o.valid() {
		return dateRange{}, false
	}
	start, end := r.start, r.end
	if o.start.After(start) {
		start = o.start
	}
	if o.end.Before(end) {
		end = o.end
	}
	if end.Before(start) {
		return dateRange{}, false
	}
	return dateRange{start, end}, true
}

// Coverage holds per-source date ranges for one audit's inputs.
type Coverage struct {
	Fuel dateRange
	GPS  dateRange
	Jobs dateRange
}

// NewCoverage scans the inputs and records each source's span. Records
// with zero timestamps are ignored.
func NewCoverage(in detection.Inputs) Coverage {
	var c Coverage
	for _, r := range in.Fuel {
		c.Fuel = extend(c.Fuel, r.Timestamp)
	}
	for _, p := range in.GPS {
		c.GPS = extend(c.GPS, p.Timestamp)
	}
	for _, j := range in.Jobs {
		c.Jobs = extend(c.Jobs, j.ScheduledTime)
	}
	return c
}

func extend(r dateRange, t time.Time) dateRange {
	if t.IsZero() {
		return r
	}
	if r.start.IsZero() || t.Before(r.start) {
		r.start = t
	}
	if r.end.IsZero() || t.After(r.end) {
		r.end = t
	}
	return r
}

func (c Coverage) rangeFor(source string) dateRange {
	switch source {
	case SourceFuel:
		return c.Fuel
	case SourceGPS:
		return c.GPS
	case SourceJobs:
		return c.Jobs
	}
	return dateRange{}
}

// PeriodDays is the full audit span: earliest record to latest record
// across every populated source.
func (c Coverage) PeriodDays() float64 {
	var total dateRange
	for _, r := range []dateRange{c.Fuel, c.GPS, c.Jobs} {
		if !r.valid() {
			continue
		}
		total = extend(extend(total, r.start), r.end)
	}
	return total.days()
}

// Warnings compares every populated pair of sources and reports missing
// or thin temporal overlap. Cross-source detectors degrade to the
// intersecting window rather than fabricating correlations, so these
// are advisories, not errors.
func (c Coverage) Warnings() []models.OverlapWarning {
	pairs := [][2]string{
		{SourceFuel, SourceGPS},
		{SourceFuel, SourceJobs},
		{SourceGPS, SourceJobs},
	}

	var out []models.OverlapWarning
	for _, pair := range pairs {
		a, b := c.rangeFor(pair[0]), c.rangeFor(pair[1])
		if !a.valid() || !b.valid() {
			continue
		}
		inter, ok := a.intersect(b)
		if !ok {
			gap := a.start.Sub(b.end)
			if b.start.After(a.end) {
				gap = b.start.Sub(a.end)
			}
			gapDays := gap.Hours() / 24
			out = append(out, models.OverlapWarning{
				SourceA: pair[0],
				SourceB: pair[1],
				Kind:    models.OverlapNone,
				GapDays: gapDays,
				Message: fmt.Sprintf("%s and %s data cover disjoint periods (%.0f day gap) - cross-source checks between them are disabled",
					pair[0], pair[1], gapDays),
			})
			continue
		}
		shorter := a.days()
		if b.days() < shorter {
			shorter = b.days()
		}
		if shorter > 0 && inter.days() < 0.3*shorter {
			out = append(out, models.OverlapWarning{
				SourceA:     pair[0],
				SourceB:     pair[1],
				Kind:        models.OverlapLimited,
				OverlapDays: inter.days(),
				Message: fmt.Sprintf("%s and %s data overlap for only %.1f days - cross-source findings are limited to that window",
					pair[0], pair[1], inter.days()),
			})
		}
	}
	return out
}

// Window returns the shared range of two sources; ok is false when
// they do not overlap (or either is empty).
func (c Coverage) Window(sourceA, sourceB string) (start, end time.Time, ok bool) {
	inter, ok := c.rangeFor(sourceA).intersect(c.rangeFor(sourceB))
	if !ok {
		return time.Time{}, time.Time{}, false
	}
	return inter.start, inter.end, true
}

// FilterGPS returns the pings falling inside [start, end].
func FilterGPS(gps []models.GPSPing, start, end time.Time) []models.GPSPing {
	out := make([]models.GPSPing, 0, len(gps))
	for _, p := range gps {
		if p.Timestamp.IsZero() || p.Timestamp.Before(start) || p.Timestamp.After(end) {
			continue
		}
		out = append(out, p)
	}
	return out
}

// FilterFuel returns the fuel records falling inside [start, end].
func FilterFuel(fuel []models.FuelRecord, start, end time.Time) []models.FuelRecord {
	out := make([]models.FuelRecord, 0, len(fuel))
	for _, r := range fuel {
		if r.Timestamp.IsZero() || r.Timestamp.Before(start) || r.Timestamp.After(end) {
			continue
		}
		out = append(out, r)
	}
	return out
}

// FilterJobs returns the jobs scheduled inside [start, end].
func FilterJobs(jobs []models.JobRecord, start, end time.Time) []models.JobRecord {
	out := make([]models.JobRecord, 0, len(jobs))
	for _, j := range jobs {
		if j.ScheduledTime.IsZero() || j.ScheduledTime.Before(start) || j.ScheduledTime.After(end) {
			continue
		}
		out = append(out, j)
	}
	return out
}
