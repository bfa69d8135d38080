package detection

import "fleet-audit/internal/models"

// Tier classifies how complete the fuel table is and therefore which
// detection methods are eligible. Lower tiers carry less evidentiary
// weight, so every fuel violation's confidence is scaled by the tier's
// multiplier.
type Tier int

const (
	// TierFull has both transaction amount and gallons.
	TierFull Tier = 1
	// TierAmountOnly has amounts; gallons are estimated from the
	// average fuel price.
	TierAmountOnly Tier = 2
	// TierGallonsOnly has volumes but no cost data.
	TierGallonsOnly Tier = 3
	// TierTimingOnly has neither; only timing and frequency heuristics
	// remain usable.
	TierTimingOnly Tier = 4
)

// Multiplier returns the confidence scale factor for the tier.
func (t Tier) Multiplier() float64 {
	switch t {
	case TierFull:
		return 1.0
	case TierAmountOnly:
		return 0.8
	case TierGallonsOnly:
		return 0.7
	case TierTimingOnly:
		return 0.5
	default:
		return 0
	}
}

func (t Tier) String() string {
	switch t {
	case TierFull:
		return "full cost and volume data"
	case TierAmountOnly:
		return "cost data only, volumes estimated"
	case TierGallonsOnly:
		return "volume data only"
	case TierTimingOnly:
		return "timing data only"
	default:
		return "no fuel data"
	}
}

// AssessFuelQuality inspects which of the amount/gallons columns carry
// values and classifies the table into a detection tier. A column counts
// as populated when any record carries a value; per-record gaps are
// handled by the individual checks.
func AssessFuelQuality(fuel []models.FuelRecord) models.DataQualitySummary {
	var hasAmount, hasGallons bool
	for _, r := range fuel {
		if r.Amount != nil {
			hasAmount = true
		}
		if r.Gallons != nil {
			hasGallons = true
		}
		if hasAmount && hasGallons {
			break
		}
	}

	var tier Tier
	switch {
	case len(fuel) == 0:
		tier = 0
	case hasAmount && hasGallons:
		tier = TierFull
	case hasAmount:
		tier = TierAmountOnly
	case hasGallons:
		tier = TierGallonsOnly
	default:
		tier = TierTimingOnly
	}

	return models.DataQualitySummary{
		Tier:                 int(tier),
		HasAmount:            hasAmount,
		HasGallons:           hasGallons,
		ConfidenceMultiplier: tier.Multiplier(),
		FuelRecords:          len(fuel),
		Description:          tier.String(),
	}
}
