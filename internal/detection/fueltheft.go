package detection

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"

	"fleet-audit/internal/config"
	"fleet-audit/internal/models"
)

// FuelTheftDetector runs the tiered fuel-card analysis. The checks that
// actually execute depend on which columns the fuel table carries:
//
//	tier 1 (amount+gallons): volume, rapid refill, price, pattern,
//	        daily, unusual location, GPS proximity
//	tier 2 (amount only):    same minus price, with gallons estimated
//	        from the average fuel price
//	tier 3 (gallons only):   volume, rapid refill, pattern, daily,
//	        unusual location
//	tier 4 (neither):        timing and frequency heuristics only
//
// Every violation's confidence is scaled by the tier multiplier.
type FuelTheftDetector struct {
	cfg      config.Config
	geocoder Geocoder
}

// NewFuelTheftDetector builds the detector. A nil geocoder disables the
// GPS-proximity check.
func NewFuelTheftDetector(cfg config.Config, geocoder Geocoder) *FuelTheftDetector {
	if geocoder == nil {
		geocoder = NullGeocoder{}
	}
	return &FuelTheftDetector{cfg: cfg, geocoder: geocoder}
}

// Name implements Detector.
func (d *FuelTheftDetector) Name() string { return "fuel_theft" }

// purchase is a fuel record with its numeric columns resolved for the
// active tier.
type purchase struct {
	rec        models.FuelRecord
	gallons    float64
	hasGallons bool
	estimated  bool // gallons derived from amount / avg price
	amount     float64
	hasAmount  bool
}

// Detect implements Detector.
func (d *FuelTheftDetector) Detect(ctx context.Context, in Inputs) ([]models.Violation, error) {
	if len(in.Fuel) == 0 {
		return nil, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	quality := AssessFuelQuality(in.Fuel)
	tier := Tier(quality.Tier)
	mult := tier.Multiplier()

	byVehicle := d.groupPurchases(in.Fuel, tier)

	vehicles := make([]string, 0, len(byVehicle))
	for id := range byVehicle {
		vehicles = append(vehicles, id)
	}
	sort.Strings(vehicles)

	var out []models.Violation
	for _, vehicleID := range vehicles {
		purchases := byVehicle[vehicleID]
		capacity := d.cfg.TankCapacity(vehicleID)

		if tier == TierTimingOnly {
			out = append(out, d.fallbackChecks(vehicleID, purchases, mult)...)
			continue
		}

		out = append(out, d.volumeChecks(vehicleID, purchases, capacity, mult)...)
		out = append(out, d.rapidRefillChecks(vehicleID, purchases, capacity, mult)...)
		if tier == TierFull {
			out = append(out, d.priceChecks(vehicleID, purchases, mult)...)
		}
		out = append(out, d.patternChecks(vehicleID, purchases, tier, mult)...)
		out = append(out, d.dailyChecks(vehicleID, purchases, capacity, mult)...)
		out = append(out, d.locationChecks(vehicleID, purchases, mult)...)
		out = append(out, d.proximityChecks(vehicleID, purchases, in.GPS, mult)...)
	}
	return out, nil
}

// groupPurchases resolves numeric columns per the tier and returns
// time-sorted per-vehicle purchase lists.
func (d *FuelTheftDetector) groupPurchases(fuel []models.FuelRecord, tier Tier) map[string][]purchase {
	byVehicle := make(map[string][]purchase)
	for _, rec := range fuel {
		if rec.VehicleID == "" {
			continue
		}
		p := purchase{rec: rec}
		if rec.Amount != nil && *rec.Amount > 0 {
			p.amount = *rec.Amount
			p.hasAmount = true
		}
		switch {
		case rec.Gallons != nil && *rec.Gallons > 0:
			p.gallons = *rec.Gallons
			p.hasGallons = true
		case tier == TierAmountOnly && p.hasAmount:
			p.gallons = p.amount / d.cfg.AvgFuelPriceUSD
			p.hasGallons = true
			p.estimated = true
		}
		byVehicle[rec.VehicleID] = append(byVehicle[rec.VehicleID], p)
	}
	for id := range byVehicle {
		ps := byVehicle[id]
		sort.SliceStable(ps, func(i, j int) bool {
			return ps[i].rec.Timestamp.Before(ps[j].rec.Timestamp)
		})
		byVehicle[id] = ps
	}
	return byVehicle
}

// volumeChecks flags single purchases that exceed the tank.
func (d *FuelTheftDetector) volumeChecks(vehicleID string, purchases []purchase, capacity, mult float64) []models.Violation {
	var out []models.Violation
	for _, p := range purchases {
		if !p.hasGallons || p.gallons <= capacity {
			continue
		}
		method := models.MethodVolumeExcess
		desc := fmt.Sprintf("Purchase of %.1f gallons exceeds tank capacity (%.0f gallons) - likely filling another vehicle too", p.gallons, capacity)
		if p.estimated {
			method = models.MethodEstimatedVolumeExcess
			desc = fmt.Sprintf("Estimated %.1f gallons (from $%.2f) exceeds tank capacity (%.0f gallons)", p.gallons, p.amount, capacity)
		}
		out = append(out, models.Violation{
			VehicleID:     vehicleID,
			Timestamp:     p.rec.Timestamp,
			Type:          models.ViolationFuelTheft,
			Method:        method,
			Description:   desc,
			Location:      p.rec.Location,
			Severity:      models.SeverityHigh,
			Confidence:    clampConfidence(0.95 * mult),
			EstimatedLoss: (p.gallons - capacity) * d.cfg.AvgFuelPriceUSD,
			Details: models.VolumeDetails{
				Gallons:      p.gallons,
				TankCapacity: capacity,
				Estimated:    p.estimated,
			},
		})
	}
	return out
}

// rapidRefillChecks flags back-to-back fills that only make sense if
// fuel left the tank somewhere other than the engine. Plain "two fills
// in a day" is not enough: legitimate long hauls refill often, so only
// compound conditions fire.
func (d *FuelTheftDetector) rapidRefillChecks(vehicleID string, purchases []purchase, capacity, mult float64) []models.Violation {
	var out []models.Violation
	for i := 1; i < len(purchases); i++ {
		cur, prev := purchases[i], purchases[i-1]
		if !cur.hasGallons || !prev.hasGallons {
			continue
		}
		if cur.rec.Timestamp.IsZero() || prev.rec.Timestamp.IsZero() {
			continue
		}
		if !hasClockTime(cur.rec) || !hasClockTime(prev.rec) {
			// Date-only exports collapse to midnight; elapsed hours
			// would be fiction.
			continue
		}
		hours := cur.rec.Timestamp.Sub(prev.rec.Timestamp).Hours()
		if hours < 0 {
			continue
		}

		sameDay := sameCalendarDay(prev.rec.Timestamp, cur.rec.Timestamp)
		suspicious := false
		switch {
		case hours < 12 && prev.gallons >= 0.9*capacity && cur.gallons > 1.2*capacity:
			suspicious = true
		case hours < 8 && sameDay && prev.gallons > capacity && cur.gallons > capacity:
			suspicious = true
		case prev.rec.Timestamp.Hour() >= 18 && cur.rec.Timestamp.Hour() <= 10 &&
			hours < 16 && cur.gallons >= 0.9*capacity:
			suspicious = true
		}
		if !suspicious {
			continue
		}

		confidence := 0.95
		switch {
		case prev.gallons < 5 && hours < 2:
			// Small splash then a full tank reads like "ran out of gas".
			confidence = 0.60
		case prev.rec.Location != "" && cur.rec.Location != "" && prev.rec.Location != cur.rec.Location:
			confidence = 0.80
		}

		out = append(out, models.Violation{
			VehicleID: vehicleID,
			Timestamp: cur.rec.Timestamp,
			Type:      models.ViolationFuelTheft,
			Method:    models.MethodRapidRefill,
			Description: fmt.Sprintf("Large refill (%.1f gal) only %.1f hours after previous purchase (%.1f gal) - tank should still be full",
				cur.gallons, hours, prev.gallons),
			Location:      cur.rec.Location,
			Severity:      models.SeverityHigh,
			Confidence:    clampConfidence(confidence * mult),
			EstimatedLoss: cur.gallons * d.cfg.AvgFuelPriceUSD,
			Details: models.RefillDetails{
				Gallons:        cur.gallons,
				PriorGallons:   prev.gallons,
				HoursSincePrev: hours,
				PriorLocation:  prev.rec.Location,
			},
		})
	}
	return out
}

// priceChecks flags transactions costing far more than their volume
// justifies. Requires real amounts and real gallons, so tier 1 only.
func (d *FuelTheftDetector) priceChecks(vehicleID string, purchases []purchase, mult float64) []models.Violation {
	var out []models.Violation
	for _, p := range purchases {
		if !p.hasAmount || !p.hasGallons || p.estimated {
			continue
		}
		pricePerGallon := p.amount / p.gallons
		maxExpected := p.gallons * (d.cfg.AvgFuelPriceUSD + d.cfg.PriceToleranceUSD)

		if p.amount > maxExpected*1.5 {
			excess := p.amount - maxExpected
			severity := models.SeverityMedium
			confidence := 0.75
			desc := fmt.Sprintf("Transaction cost $%.2f is $%.2f more than expected for %.1f gallons ($%.2f/gal vs ~$%.2f/gal) - likely includes non-fuel purchases",
				p.amount, excess, p.gallons, pricePerGallon, d.cfg.AvgFuelPriceUSD)
			// DEF fluid purchases land in a narrow band and are easy to
			// mistake for padding.
			if p.amount >= 15 && p.amount <= 60 && p.gallons < 15 {
				severity = models.SeverityLow
				confidence = 0.45
				desc = fmt.Sprintf("Transaction cost $%.2f for %.1f gallons is high but consistent with a DEF fluid purchase", p.amount, p.gallons)
			}
			out = append(out, models.Violation{
				VehicleID:     vehicleID,
				Timestamp:     p.rec.Timestamp,
				Type:          models.ViolationFuelTheft,
				Method:        models.MethodPriceExcess,
				Description:   desc,
				Location:      p.rec.Location,
				Severity:      severity,
				Confidence:    clampConfidence(confidence * mult),
				EstimatedLoss: excess,
				Details: models.PriceDetails{
					Gallons:        p.gallons,
					Amount:         p.amount,
					PricePerGallon: pricePerGallon,
					ExcessCost:     excess,
				},
			})
			continue
		}

		if pricePerGallon > d.cfg.AvgFuelPriceUSD+2.00 {
			out = append(out, models.Violation{
				VehicleID: vehicleID,
				Timestamp: p.rec.Timestamp,
				Type:      models.ViolationFuelTheft,
				Method:    models.MethodPricePremium,
				Description: fmt.Sprintf("Extremely high price per gallon: $%.2f vs ~$%.2f - may include premium services or non-fuel items",
					pricePerGallon, d.cfg.AvgFuelPriceUSD),
				Location:      p.rec.Location,
				Severity:      models.SeverityLow,
				Confidence:    clampConfidence(0.50 * mult),
				EstimatedLoss: (pricePerGallon - d.cfg.AvgFuelPriceUSD) * p.gallons,
				Details: models.PriceDetails{
					Gallons:        p.gallons,
					Amount:         p.amount,
					PricePerGallon: pricePerGallon,
				},
			})
		}
	}
	return out
}

// patternChecks flags purchases far outside the vehicle's own history.
// Amount is the metric when cost data exists, gallons otherwise.
func (d *FuelTheftDetector) patternChecks(vehicleID string, purchases []purchase, tier Tier, mult float64) []models.Violation {
	metric := "amount"
	value := func(p purchase) (float64, bool) { return p.amount, p.hasAmount }
	if tier == TierGallonsOnly {
		metric = "gallons"
		value = func(p purchase) (float64, bool) { return p.gallons, p.hasGallons }
	}

	var (
		values  []float64
		indices []int
	)
	for i, p := range purchases {
		if v, ok := value(p); ok {
			values = append(values, v)
			indices = append(indices, i)
		}
	}
	if len(values) < d.cfg.MinPatternSamples {
		return nil
	}

	var out []models.Violation
	for k, v := range values {
		p := purchases[indices[k]]
		// Baseline excludes the candidate so one huge purchase cannot
		// hide inside its own inflated standard deviation.
		baseline := make([]float64, 0, len(values)-1)
		baseline = append(baseline, values[:k]...)
		baseline = append(baseline, values[k+1:]...)
		mean, stddev := meanStdDev(baseline)
		if stddev == 0 {
			continue
		}
		z := (v - mean) / stddev
		if z <= d.cfg.PatternZThreshold {
			continue
		}
		loss := (v - mean) * 0.6
		unit := "$"
		if metric == "gallons" {
			loss = (v - mean) * d.cfg.AvgFuelPriceUSD * 0.6
			unit = ""
		}
		out = append(out, models.Violation{
			VehicleID: vehicleID,
			Timestamp: p.rec.Timestamp,
			Type:      models.ViolationFuelTheft,
			Method:    models.MethodPatternDeviation,
			Description: fmt.Sprintf("Purchase %s%.2f significantly exceeds this vehicle's normal pattern (avg %s%.2f, %.1f std deviations above)",
				unit, v, unit, mean, z),
			Location:      p.rec.Location,
			Severity:      models.SeverityMedium,
			Confidence:    clampConfidence(0.70 * mult),
			EstimatedLoss: loss,
			Details: models.PatternDetails{
				Metric:   metric,
				Observed: v,
				Mean:     mean,
				StdDev:   stddev,
				ZScore:   z,
			},
		})
	}
	return out
}

// dailyChecks flags days where the vehicle bought more than twice its
// tank. Many small purchases soften the call: crews topping up
// equipment look like this too.
func (d *FuelTheftDetector) dailyChecks(vehicleID string, purchases []purchase, capacity, mult float64) []models.Violation {
	type dayAgg struct {
		count   int
		gallons float64
		maxGal  float64
		first   time.Time
	}
	days := make(map[string]*dayAgg)
	for _, p := range purchases {
		if p.rec.Timestamp.IsZero() || !p.hasGallons {
			continue
		}
		key := p.rec.Timestamp.Format("2006-01-02")
		agg, ok := days[key]
		if !ok {
			agg = &dayAgg{first: p.rec.Timestamp}
			days[key] = agg
		}
		agg.count++
		agg.gallons += p.gallons
		if p.gallons > agg.maxGal {
			agg.maxGal = p.gallons
		}
		if p.rec.Timestamp.Before(agg.first) {
			agg.first = p.rec.Timestamp
		}
	}

	keys := make([]string, 0, len(days))
	for k := range days {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var out []models.Violation
	for _, key := range keys {
		agg := days[key]
		if agg.count < 2 || agg.gallons <= 2*capacity {
			continue
		}
		severity := models.SeverityHigh
		confidence := 0.85
		if agg.count >= 4 && agg.maxGal < capacity/2 {
			// A stack of small purchases suggests refueling several
			// machines, not walking off with fuel.
			severity = models.SeverityMedium
			confidence = 0.60
		}
		out = append(out, models.Violation{
			VehicleID: vehicleID,
			Timestamp: agg.first,
			Type:      models.ViolationFuelTheft,
			Method:    models.MethodDailyExcess,
			Description: fmt.Sprintf("%d purchases on %s totaling %.1f gallons - more than twice tank capacity (%.0f gal)",
				agg.count, key, agg.gallons, capacity),
			Location:      "Multiple locations",
			Severity:      severity,
			Confidence:    clampConfidence(confidence * mult),
			EstimatedLoss: (agg.gallons - capacity) * d.cfg.AvgFuelPriceUSD,
			Details: models.DailyDetails{
				PurchaseCount: agg.count,
				TotalGallons:  agg.gallons,
				TankCapacity:  capacity,
			},
		})
	}
	return out
}

// locationChecks flags one-off purchases at stations the vehicle has
// never used, once it has an established multi-station history.
func (d *FuelTheftDetector) locationChecks(vehicleID string, purchases []purchase, mult float64) []models.Violation {
	if len(purchases) < d.cfg.MinPatternSamples {
		return nil
	}
	counts := make(map[string]int)
	for _, p := range purchases {
		if p.rec.Location != "" {
			counts[p.rec.Location]++
		}
	}
	if len(counts) <= 3 {
		return nil
	}

	var out []models.Violation
	for _, p := range purchases {
		if p.rec.Location == "" || counts[p.rec.Location] != 1 {
			continue
		}
		loss := 0.0
		if p.hasGallons {
			loss = p.gallons * d.cfg.AvgFuelPriceUSD * 0.25
		}
		out = append(out, models.Violation{
			VehicleID:     vehicleID,
			Timestamp:     p.rec.Timestamp,
			Type:          models.ViolationFuelAnomaly,
			Method:        models.MethodUnusualLocation,
			Description:   fmt.Sprintf("One-time fuel purchase at unfamiliar location: %s", p.rec.Location),
			Location:      p.rec.Location,
			Severity:      models.SeverityLow,
			Confidence:    clampConfidence(0.60 * mult),
			EstimatedLoss: loss,
			Details:       models.LocationDetails{KnownLocations: len(counts)},
		})
	}
	return out
}

// proximityChecks flags purchases with no GPS presence near the pump.
// Requires a geocoder that can place the station and GPS coverage for
// the vehicle; otherwise it is a no-op.
func (d *FuelTheftDetector) proximityChecks(vehicleID string, purchases []purchase, gps []models.GPSPing, mult float64) []models.Violation {
	if len(gps) == 0 {
		return nil
	}
	var vehiclePings []models.GPSPing
	for _, p := range gps {
		if p.VehicleID == vehicleID {
			vehiclePings = append(vehiclePings, p)
		}
	}
	if len(vehiclePings) == 0 {
		return nil
	}

	firstPing := vehiclePings[0].Timestamp
	lastPing := firstPing
	for _, ping := range vehiclePings[1:] {
		if ping.Timestamp.Before(firstPing) {
			firstPing = ping.Timestamp
		}
		if ping.Timestamp.After(lastPing) {
			lastPing = ping.Timestamp
		}
	}

	window := time.Duration(d.cfg.PurchaseWindowMin) * time.Minute
	var out []models.Violation
	for _, p := range purchases {
		if p.rec.Timestamp.IsZero() || !hasClockTime(p.rec) || p.rec.Location == "" {
			continue
		}
		// A purchase outside the vehicle's GPS coverage has no pings to
		// corroborate it either way; absence there is a data gap, not
		// evidence.
		if p.rec.Timestamp.Add(window).Before(firstPing) || p.rec.Timestamp.Add(-window).After(lastPing) {
			continue
		}
		lat, lon, ok := d.geocoder.Geocode(p.rec.Location)
		if !ok {
			continue
		}
		found := false
		for _, ping := range vehiclePings {
			dt := ping.Timestamp.Sub(p.rec.Timestamp)
			if dt < -window || dt > window {
				continue
			}
			if HaversineMiles(ping.Latitude, ping.Longitude, lat, lon) <= d.cfg.PurchaseProximityMi {
				found = true
				break
			}
		}
		if found {
			continue
		}
		loss := 0.0
		if p.hasGallons {
			loss = p.gallons * d.cfg.AvgFuelPriceUSD
		}
		out = append(out, models.Violation{
			VehicleID: vehicleID,
			Timestamp: p.rec.Timestamp,
			Type:      models.ViolationFuelTheft,
			Method:    models.MethodNoGPSAtPurchase,
			Description: fmt.Sprintf("Fuel purchase of %.1f gallons with no GPS activity within %.1f miles and %d minutes of the station",
				p.gallons, d.cfg.PurchaseProximityMi, d.cfg.PurchaseWindowMin),
			Location:      p.rec.Location,
			Severity:      models.SeverityHigh,
			Confidence:    clampConfidence(0.85 * mult),
			EstimatedLoss: loss,
			Details: models.ProximityDetails{
				Gallons:       p.gallons,
				DistanceMiles: d.cfg.PurchaseProximityMi,
				WindowMinutes: d.cfg.PurchaseWindowMin,
			},
		})
	}
	return out
}

// fallbackChecks are the tier-4 heuristics: with neither cost nor
// volume, only purchase timing and frequency remain.
func (d *FuelTheftDetector) fallbackChecks(vehicleID string, purchases []purchase, mult float64) []models.Violation {
	var out []models.Violation

	type dayAgg struct {
		count int
		first time.Time
	}
	days := make(map[string]*dayAgg)

	for _, p := range purchases {
		if p.rec.Timestamp.IsZero() {
			continue
		}
		key := p.rec.Timestamp.Format("2006-01-02")
		agg, ok := days[key]
		if !ok {
			agg = &dayAgg{first: p.rec.Timestamp}
			days[key] = agg
		}
		agg.count++
		if p.rec.Timestamp.Before(agg.first) {
			agg.first = p.rec.Timestamp
		}

		if !hasClockTime(p.rec) {
			continue
		}
		hour := p.rec.Timestamp.Hour()
		if hour >= d.cfg.FuelPurchaseHours.StartHour && hour < d.cfg.FuelPurchaseHours.EndHour {
			continue
		}
		out = append(out, models.Violation{
			VehicleID: vehicleID,
			Timestamp: p.rec.Timestamp,
			Type:      models.ViolationFuelAnomaly,
			Method:    models.MethodTimingAnomaly,
			Description: fmt.Sprintf("Fuel purchase at %02d:%02d - outside the %02d:00-%02d:00 purchasing window",
				hour, p.rec.Timestamp.Minute(), d.cfg.FuelPurchaseHours.StartHour, d.cfg.FuelPurchaseHours.EndHour),
			Location:      p.rec.Location,
			Severity:      models.SeverityLow,
			Confidence:    clampConfidence(1.0 * mult),
			EstimatedLoss: 0,
			Details:       models.TimingDetails{Hour: hour},
		})
	}

	keys := make([]string, 0, len(days))
	for k := range days {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, key := range keys {
		agg := days[key]
		if agg.count <= 2 {
			continue
		}
		out = append(out, models.Violation{
			VehicleID:     vehicleID,
			Timestamp:     agg.first,
			Type:          models.ViolationFuelAnomaly,
			Method:        models.MethodFrequencyAnomaly,
			Description:   fmt.Sprintf("%d fuel purchases on %s - suspicious frequency for a single vehicle", agg.count, key),
			Location:      "Multiple locations",
			Severity:      models.SeverityLow,
			Confidence:    clampConfidence(0.9 * mult),
			EstimatedLoss: 0,
			Details:       models.FrequencyDetails{PurchaseCount: agg.count, Date: key},
		})
	}
	return out
}

func sameCalendarDay(a, b time.Time) bool {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}

func meanStdDev(values []float64) (mean, stddev float64) {
	if len(values) == 0 {
		return 0, 0
	}
	for _, v := range values {
		mean += v
	}
	mean /= float64(len(values))

	var sumSq float64
	for _, v := range values {
		d := v - mean
		sumSq += d * d
	}
	stddev = math.Sqrt(sumSq / float64(len(values)))
	return mean, stddev
}
