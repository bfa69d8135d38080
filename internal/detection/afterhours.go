package detection

import (
	"context"
	"fmt"
	"sort"
	"time"

	"fleet-audit/internal/config"
	"fleet-audit/internal/models"
)

// AfterHoursDetector flags GPS activity on weekends or outside business
// hours. One violation per vehicle per calendar day, not per ping.
type AfterHoursDetector struct {
	cfg config.Config
}

func NewAfterHoursDetector(cfg config.Config) *AfterHoursDetector {
	return &AfterHoursDetector{cfg: cfg}
}

// Name implements Detector.
func (d *AfterHoursDetector) Name() string { return "after_hours" }

// Detect implements Detector.
func (d *AfterHoursDetector) Detect(ctx context.Context, in Inputs) ([]models.Violation, error) {
	if len(in.GPS) == 0 {
		return nil, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	type dayKey struct {
		vehicleID string
		date      string
	}
	type dayAgg struct {
		first, last time.Time
		count       int
	}
	days := make(map[dayKey]*dayAgg)

	for _, p := range in.GPS {
		if p.VehicleID == "" || p.Timestamp.IsZero() {
			continue
		}
		if !d.afterHours(p.Timestamp) {
			continue
		}
		key := dayKey{p.VehicleID, p.Timestamp.Format("2006-01-02")}
		agg, ok := days[key]
		if !ok {
			agg = &dayAgg{first: p.Timestamp, last: p.Timestamp}
			days[key] = agg
		}
		agg.count++
		if p.Timestamp.Before(agg.first) {
			agg.first = p.Timestamp
		}
		if p.Timestamp.After(agg.last) {
			agg.last = p.Timestamp
		}
	}

	keys := make([]dayKey, 0, len(days))
	for k := range days {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].vehicleID != keys[j].vehicleID {
			return keys[i].vehicleID < keys[j].vehicleID
		}
		return keys[i].date < keys[j].date
	})

	out := make([]models.Violation, 0, len(keys))
	for _, key := range keys {
		agg := days[key]
		out = append(out, models.Violation{
			VehicleID: key.vehicleID,
			Timestamp: agg.first,
			Type:      models.ViolationAfterHours,
			Method:    models.MethodAfterHoursDriving,
			Description: fmt.Sprintf("%d GPS records outside business hours on %s (%s to %s)",
				agg.count, key.date, agg.first.Format("15:04"), agg.last.Format("15:04")),
			Severity:      models.SeverityLow,
			Confidence:    0.65,
			EstimatedLoss: 0,
			Details: models.AfterHoursDetails{
				Date:        key.date,
				FirstRecord: agg.first,
				LastRecord:  agg.last,
				RecordCount: agg.count,
			},
		})
	}
	return out, nil
}

func (d *AfterHoursDetector) afterHours(t time.Time) bool {
	switch t.Weekday() {
	case time.Saturday, time.Sunday:
		return true
	}
	h := t.Hour()
	return h < d.cfg.BusinessHours.StartHour || h >= d.cfg.BusinessHours.EndHour
}
