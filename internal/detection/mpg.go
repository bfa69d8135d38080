package detection

import (
	"context"
	"fmt"
	"sort"
	"time"

	"fleet-audit/internal/config"
	"fleet-audit/internal/models"
)

// MPGDetector cross-references fuel consumed between consecutive fills
// with GPS-derived distance. It needs both sources and real gallon
// figures, so it quietly produces nothing on thin data.
type MPGDetector struct {
	cfg config.Config
}

func NewMPGDetector(cfg config.Config) *MPGDetector {
	return &MPGDetector{cfg: cfg}
}

// Name implements Detector.
func (d *MPGDetector) Name() string { return "mpg_analysis" }

// Detect implements Detector.
func (d *MPGDetector) Detect(ctx context.Context, in Inputs) ([]models.Violation, error) {
	if len(in.Fuel) == 0 || len(in.GPS) == 0 {
		return nil, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	fuelByVehicle := make(map[string][]models.FuelRecord)
	for _, rec := range in.Fuel {
		if rec.VehicleID == "" || rec.Timestamp.IsZero() {
			continue
		}
		if rec.Gallons == nil || *rec.Gallons <= 0 {
			continue
		}
		fuelByVehicle[rec.VehicleID] = append(fuelByVehicle[rec.VehicleID], rec)
	}

	gpsByVehicle := make(map[string][]models.GPSPing)
	for _, ping := range in.GPS {
		if ping.VehicleID == "" || ping.Timestamp.IsZero() {
			continue
		}
		gpsByVehicle[ping.VehicleID] = append(gpsByVehicle[ping.VehicleID], ping)
	}

	vehicles := make([]string, 0, len(fuelByVehicle))
	for id := range fuelByVehicle {
		vehicles = append(vehicles, id)
	}
	sort.Strings(vehicles)

	var out []models.Violation
	for _, vehicleID := range vehicles {
		fills := fuelByVehicle[vehicleID]
		pings := gpsByVehicle[vehicleID]
		if len(fills) < 2 || len(pings) == 0 {
			continue
		}
		sort.SliceStable(fills, func(i, j int) bool {
			return fills[i].Timestamp.Before(fills[j].Timestamp)
		})
		sort.SliceStable(pings, func(i, j int) bool {
			return pings[i].Timestamp.Before(pings[j].Timestamp)
		})
		out = append(out, d.analyzeVehicle(vehicleID, fills, pings)...)
	}
	return out, nil
}

// analyzeVehicle walks consecutive fill pairs: the gallons of the
// second fill approximate what was burned since the first.
func (d *MPGDetector) analyzeVehicle(vehicleID string, fills []models.FuelRecord, pings []models.GPSPing) []models.Violation {
	expected := d.cfg.MPGRangeFor(vehicleID)

	var out []models.Violation
	for i := 0; i < len(fills)-1; i++ {
		cur, next := fills[i], fills[i+1]
		consumed := *next.Gallons
		if consumed < d.cfg.MPGMinFillGallons {
			// Tiny top-ups make the ratio meaningless.
			continue
		}
		distance := distanceBetween(pings, cur.Timestamp, next.Timestamp)

		if distance < d.cfg.MPGParkedMaxMiles {
			// A whole tank's worth of fuel with the vehicle parked.
			out = append(out, models.Violation{
				VehicleID: vehicleID,
				Timestamp: next.Timestamp,
				Type:      models.ViolationFuelTheft,
				Method:    models.MethodIdleRefillMPG,
				Description: fmt.Sprintf("Purchased %.1f gallons but vehicle traveled only %.1f miles since previous fill - fuel went somewhere else",
					consumed, distance),
				Location:      next.Location,
				Severity:      models.SeverityHigh,
				Confidence:    0.90,
				EstimatedLoss: consumed * 0.8 * d.cfg.AvgFuelPriceUSD,
				Details: models.MPGDetails{
					ActualMPG:     0,
					ExpectedMin:   expected.Min,
					ExpectedMax:   expected.Max,
					DistanceMiles: distance,
					Gallons:       consumed,
					ExcessGallons: consumed,
				},
			})
			continue
		}

		mpg := distance / consumed
		if mpg >= 0.7*expected.Min {
			continue
		}

		excessGallons := consumed - distance/expected.Avg
		loss := excessGallons * d.cfg.AvgFuelPriceUSD
		if loss < 0 {
			loss = 0
		}

		var (
			method     models.DetectionMethod
			vtype      models.ViolationType
			severity   models.Severity
			confidence float64
			desc       string
		)
		switch {
		case mpg < 0.3*expected.Min:
			method = models.MethodFuelDumpingMPG
			vtype = models.ViolationFuelTheft
			severity = models.SeverityHigh
			confidence = 0.95
			desc = fmt.Sprintf("Effective %.1f MPG vs expected %.0f-%.0f - far too much fuel for the distance driven, consistent with siphoning",
				mpg, expected.Min, expected.Max)
		case mpg < 0.5*expected.Min:
			method = models.MethodOdometerFraudMPG
			vtype = models.ViolationFuelTheft
			severity = models.SeverityHigh
			confidence = 0.90
			desc = fmt.Sprintf("Effective %.1f MPG vs expected %.0f-%.0f - distance and consumption disagree badly",
				mpg, expected.Min, expected.Max)
		default:
			method = models.MethodExcessiveConsumptionMPG
			vtype = models.ViolationIdleAbuse
			severity = models.SeverityMedium
			confidence = 0.75
			desc = fmt.Sprintf("Effective %.1f MPG vs expected %.0f-%.0f - heavy idling or unauthorized use",
				mpg, expected.Min, expected.Max)
		}

		out = append(out, models.Violation{
			VehicleID:     vehicleID,
			Timestamp:     next.Timestamp,
			Type:          vtype,
			Method:        method,
			Description:   desc,
			Location:      next.Location,
			Severity:      severity,
			Confidence:    confidence,
			EstimatedLoss: loss,
			Details: models.MPGDetails{
				ActualMPG:     mpg,
				ExpectedMin:   expected.Min,
				ExpectedMax:   expected.Max,
				DistanceMiles: distance,
				Gallons:       consumed,
				ExcessGallons: excessGallons,
			},
		})
	}
	return out
}

// distanceBetween sums haversine hops over the pings falling inside
// [start, end]. Pings are assumed time-sorted.
func distanceBetween(pings []models.GPSPing, start, end time.Time) float64 {
	var (
		total float64
		prev  *models.GPSPing
	)
	for i := range pings {
		p := pings[i]
		if p.Timestamp.Before(start) {
			continue
		}
		if p.Timestamp.After(end) {
			break
		}
		if prev != nil {
			total += HaversineMiles(prev.Latitude, prev.Longitude, p.Latitude, p.Longitude)
		}
		prev = &pings[i]
	}
	return total
}
