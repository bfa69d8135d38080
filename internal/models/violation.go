package models

import "time"

// Severity indicates how serious a violation is.
type Severity string

const (
	SeverityLow    Severity = "low"
	SeverityMedium Severity = "medium"
	SeverityHigh   Severity = "high"
)

// Rank returns the ordinal position of the severity (low < medium < high).
func (s Severity) Rank() int {
	switch s {
	case SeverityLow:
		return 1
	case SeverityMedium:
		return 2
	case SeverityHigh:
		return 3
	default:
		return 0
	}
}

// MaxSeverity returns the higher of two severities by ordinal.
func MaxSeverity(a, b Severity) Severity {
	if b.Rank() > a.Rank() {
		return b
	}
	return a
}

// ViolationType is the broad category of a violation.
type ViolationType string

const (
	ViolationFuelTheft    ViolationType = "fuel_theft"
	ViolationIdleAbuse    ViolationType = "idle_abuse"
	ViolationAfterHours   ViolationType = "after_hours_driving"
	ViolationGhostJob     ViolationType = "ghost_job"
	ViolationFuelAnomaly  ViolationType = "fuel_anomaly"
)

// DetectionMethod identifies the specific check that produced a violation.
type DetectionMethod string

const (
	// Fuel-card analysis methods.
	MethodVolumeExcess          DetectionMethod = "volume_excess"
	MethodEstimatedVolumeExcess DetectionMethod = "estimated_volume_excess"
	MethodRapidRefill           DetectionMethod = "rapid_refill"
	MethodPriceExcess           DetectionMethod = "price_excess"
	MethodPricePremium          DetectionMethod = "price_premium"
	MethodPatternDeviation      DetectionMethod = "pattern_deviation"
	MethodDailyExcess           DetectionMethod = "daily_excess"
	MethodUnusualLocation       DetectionMethod = "unusual_location"
	MethodNoGPSAtPurchase       DetectionMethod = "no_gps_at_purchase"
	MethodFrequencyAnomaly      DetectionMethod = "frequency_anomaly"
	MethodTimingAnomaly         DetectionMethod = "timing_anomaly"

	// MPG analysis methods.
	MethodFuelDumpingMPG          DetectionMethod = "fuel_dumping_mpg"
	MethodOdometerFraudMPG        DetectionMethod = "odometer_fraud_mpg"
	MethodExcessiveConsumptionMPG DetectionMethod = "excessive_consumption_mpg"
	MethodIdleRefillMPG           DetectionMethod = "idle_refill_mpg"

	// Behavioral GPS methods.
	MethodIdleAbuse             DetectionMethod = "idle_abuse"
	MethodAfterHoursDriving     DetectionMethod = "after_hours_driving"
	MethodGhostJobNoActivity    DetectionMethod = "ghost_job_no_activity"
	MethodGhostJobWrongLocation DetectionMethod = "ghost_job_wrong_location"
)

// Details carries the method-specific fields of a violation. Exactly one
// concrete detail type exists per detection method family, so consumers
// can switch on the concrete type instead of probing optional keys.
type Details interface {
	isViolationDetails()
}

// VolumeDetails describes a purchase that exceeds tank capacity.
type VolumeDetails struct {
	Gallons      float64 `json:"gallons"`
	TankCapacity float64 `json:"tank_capacity"`
	Estimated    bool    `json:"estimated,omitempty"` // gallons derived from amount
}

// RefillDetails describes a suspicious back-to-back refill pair.
type RefillDetails struct {
	Gallons        float64 `json:"gallons"`
	PriorGallons   float64 `json:"prior_gallons"`
	HoursSincePrev float64 `json:"hours_since_prev"`
	PriorLocation  string  `json:"prior_location,omitempty"`
}

// PriceDetails describes a transaction whose cost is out of line with
// its volume.
type PriceDetails struct {
	Gallons        float64 `json:"gallons"`
	Amount         float64 `json:"amount"`
	PricePerGallon float64 `json:"price_per_gallon"`
	ExcessCost     float64 `json:"excess_cost,omitempty"`
}

// PatternDetails describes a statistical outlier against the vehicle's
// own purchase history.
type PatternDetails struct {
	Metric   string  `json:"metric"` // "amount" or "gallons"
	Observed float64 `json:"observed"`
	Mean     float64 `json:"mean"`
	StdDev   float64 `json:"std_dev"`
	ZScore   float64 `json:"z_score"`
}

// DailyDetails describes aggregate same-day purchasing.
type DailyDetails struct {
	PurchaseCount int     `json:"purchase_count"`
	TotalGallons  float64 `json:"total_gallons"`
	TankCapacity  float64 `json:"tank_capacity"`
}

// TimingDetails describes a purchase at an implausible hour.
type TimingDetails struct {
	Hour int `json:"hour"`
}

// FrequencyDetails describes an implausible purchase count.
type FrequencyDetails struct {
	PurchaseCount int    `json:"purchase_count"`
	Date          string `json:"date"`
}

// LocationDetails describes a one-off purchase at an unfamiliar station.
type LocationDetails struct {
	KnownLocations int `json:"known_locations"`
}

// ProximityDetails describes a purchase with no corroborating GPS.
type ProximityDetails struct {
	Gallons        float64 `json:"gallons"`
	DistanceMiles  float64 `json:"distance_miles"`
	WindowMinutes  int     `json:"window_minutes"`
}

// MPGDetails describes a fuel-efficiency-based finding.
type MPGDetails struct {
	ActualMPG     float64 `json:"actual_mpg"`
	ExpectedMin   float64 `json:"expected_min_mpg"`
	ExpectedMax   float64 `json:"expected_max_mpg"`
	DistanceMiles float64 `json:"distance_miles"`
	Gallons       float64 `json:"fuel_gallons"`
	ExcessGallons float64 `json:"excess_fuel_gallons"`
}

// IdleDetails describes an extended low-speed run.
type IdleDetails struct {
	Start           time.Time `json:"start_time"`
	End             time.Time `json:"end_time"`
	DurationMinutes float64   `json:"duration_minutes"`
	Lat             float64   `json:"location_lat"`
	Lon             float64   `json:"location_lon"`
}

// AfterHoursDetails summarizes one vehicle-day of out-of-hours activity.
type AfterHoursDetails struct {
	Date        string    `json:"date"`
	FirstRecord time.Time `json:"first_record"`
	LastRecord  time.Time `json:"last_record"`
	RecordCount int       `json:"record_count"`
}

// GhostJobDetails describes a job with no corroborating vehicle presence.
type GhostJobDetails struct {
	JobID         string    `json:"job_id"`
	DriverID      string    `json:"driver_id"`
	Address       string    `json:"address"`
	ScheduledTime time.Time `json:"scheduled_time"`
}

func (VolumeDetails) isViolationDetails()     {}
func (RefillDetails) isViolationDetails()     {}
func (PriceDetails) isViolationDetails()      {}
func (PatternDetails) isViolationDetails()    {}
func (DailyDetails) isViolationDetails()      {}
func (TimingDetails) isViolationDetails()     {}
func (FrequencyDetails) isViolationDetails()  {}
func (LocationDetails) isViolationDetails()   {}
func (ProximityDetails) isViolationDetails()  {}
func (MPGDetails) isViolationDetails()        {}
func (IdleDetails) isViolationDetails()       {}
func (AfterHoursDetails) isViolationDetails() {}
func (GhostJobDetails) isViolationDetails()   {}

// Violation is a single raw finding produced by exactly one detector.
// It is never mutated after creation; several violations may describe
// the same real-world event and are merged downstream.
type Violation struct {
	VehicleID     string          `json:"vehicle_id"`
	Timestamp     time.Time       `json:"timestamp"`
	Type          ViolationType   `json:"violation_type"`
	Method        DetectionMethod `json:"detection_method"`
	Description   string          `json:"description"`
	Location      string          `json:"location,omitempty"`
	Severity      Severity        `json:"severity"`
	Confidence    float64         `json:"confidence"`     // [0,1]
	EstimatedLoss float64         `json:"estimated_loss"` // USD, >= 0
	Details       Details         `json:"details,omitempty"`
}

// Incident is the result of merging one or more raw violations believed
// to describe the same real-world event. Read-only once produced.
type Incident struct {
	VehicleID          string            `json:"vehicle_id"`
	Timestamp          time.Time         `json:"timestamp"` // earliest member
	Location           string            `json:"location,omitempty"`
	Severity           Severity          `json:"severity"`
	Confidence         float64           `json:"confidence"`
	TotalEstimatedLoss float64           `json:"total_estimated_loss"`
	Description        string            `json:"description"`
	Methods            []DetectionMethod `json:"detection_methods"`
	EvidenceCount      int               `json:"evidence_count"`
	Members            []Violation       `json:"evidence,omitempty"`
}

// OverlapKind classifies a cross-source coverage warning.
type OverlapKind string

const (
	OverlapNone    OverlapKind = "no_overlap"
	OverlapLimited OverlapKind = "limited_overlap"
)

// OverlapWarning reports missing or thin temporal coverage between two
// data sources. It is informational; detection degrades rather than fails.
type OverlapWarning struct {
	SourceA     string      `json:"source_a"`
	SourceB     string      `json:"source_b"`
	Kind        OverlapKind `json:"kind"`
	GapDays     float64     `json:"gap_days,omitempty"`
	OverlapDays float64     `json:"overlap_days,omitempty"`
	Message     string      `json:"message"`
}

// DataQualitySummary describes the completeness of the fuel table and
// the resulting detection tier.
type DataQualitySummary struct {
	Tier                 int     `json:"tier"` // 1..4, 0 when no fuel data
	HasAmount            bool    `json:"has_amount"`
	HasGallons           bool    `json:"has_gallons"`
	ConfidenceMultiplier float64 `json:"confidence_multiplier"`
	FuelRecords          int     `json:"fuel_records"`
	GPSRecords           int     `json:"gps_records"`
	JobRecords           int     `json:"job_records"`
	Description          string  `json:"description"`
}

// VehicleSummary aggregates consolidated incidents for one vehicle.
type VehicleSummary struct {
	VehicleID             string            `json:"vehicle_id"`
	TotalLoss             float64           `json:"total_loss"`
	WeeklyEstimate        float64           `json:"weekly_estimate"`
	MonthlyEstimate       float64           `json:"monthly_estimate"`
	IncidentCount         int               `json:"incident_count"`
	HighestSingleIncident float64           `json:"highest_single_incident"`
	Methods               []DetectionMethod `json:"violation_methods"`
	Summary               string            `json:"summary_text"`
}

// FleetSummary is the fleet-wide financial rollup.
type FleetSummary struct {
	TotalLoss       float64                   `json:"total_fleet_loss"`
	WeeklyEstimate  float64                   `json:"weekly_fleet_estimate"`
	MonthlyEstimate float64                   `json:"monthly_fleet_estimate"`
	TotalIncidents  int                       `json:"total_incidents"`
	VehiclesFlagged int                       `json:"vehicles_flagged"`
	WorstOffender   string                    `json:"worst_offender,omitempty"`
	Vehicles        map[string]VehicleSummary `json:"vehicle_summaries"`
}

// Result is the complete output of one audit run: the sole contract
// consumed by reporting, UI, and delivery collaborators.
type Result struct {
	AuditID          string                 `json:"audit_id"`
	GeneratedAt      time.Time              `json:"generated_at"`
	RawViolations    map[string][]Violation `json:"raw_violations"` // keyed by detector name
	Consolidated     []Incident             `json:"consolidated_violations"`
	FinancialSummary FleetSummary           `json:"financial_summary"`
	OverlapWarnings  []OverlapWarning       `json:"overlap_warnings"`
	DataQuality      DataQualitySummary     `json:"data_quality"`
	AuditPeriodDays  float64                `json:"audit_period_days"`
	VehiclesAnalyzed int                    `json:"vehicles_analyzed"`
}

// TotalRawViolations returns the count of raw findings across detectors.
func (r *Result) TotalRawViolations() int {
	n := 0
	for _, vs := range r.RawViolations {
		n += len(vs)
	}
	return n
}
