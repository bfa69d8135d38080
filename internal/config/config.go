// Package config defines the audit tolerances and thresholds. A Config
// is loaded once, validated, and passed by value into the engine and
// detectors; nothing mutates it afterwards, so a fixed Config makes
// every audit run deterministic.
package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"fleet-audit/internal/models"
)

// MPGRange is the expected fuel economy for a vehicle class.
type MPGRange struct {
	Min float64 `yaml:"min" json:"min"`
	Max float64 `yaml:"max" json:"max"`
	Avg float64 `yaml:"avg" json:"avg"`
}

// HourWindow is an inclusive start/end pair of hours in local time.
type HourWindow struct {
	StartHour int `yaml:"start_hour" json:"start_hour"`
	EndHour   int `yaml:"end_hour" json:"end_hour"`
}

// Config holds every tunable the audit engine consumes.
type Config struct {
	// Fuel pricing.
	AvgFuelPriceUSD   float64 `yaml:"avg_fuel_price_usd" json:"avg_fuel_price_usd"`
	PriceToleranceUSD float64 `yaml:"price_tolerance_usd" json:"price_tolerance_usd"`

	// Tank capacities, gallons. Overrides are keyed by vehicle ID.
	DefaultTankCapacityGal float64            `yaml:"default_tank_capacity_gal" json:"default_tank_capacity_gal"`
	TankCapacityOverrides  map[string]float64 `yaml:"tank_capacity_overrides" json:"tank_capacity_overrides,omitempty"`

	// MPG expectations by vehicle class; VehicleTypes pins a specific
	// vehicle ID to a class when the ID itself doesn't carry a keyword.
	MPGExpectations map[string]MPGRange `yaml:"mpg_expectations" json:"mpg_expectations"`
	VehicleTypes    map[string]string   `yaml:"vehicle_types" json:"vehicle_types,omitempty"`

	// MPG analysis: fills smaller than MPGMinFillGallons are skipped as
	// top-ups; travel under MPGParkedMaxMiles between fills counts as
	// parked.
	MPGMinFillGallons float64 `yaml:"mpg_min_fill_gallons" json:"mpg_min_fill_gallons"`
	MPGParkedMaxMiles float64 `yaml:"mpg_parked_max_miles" json:"mpg_parked_max_miles"`

	// Behavioral thresholds.
	BusinessHours       HourWindow `yaml:"business_hours" json:"business_hours"`
	FuelPurchaseHours   HourWindow `yaml:"fuel_purchase_hours" json:"fuel_purchase_hours"`
	IdleMaxSpeedMPH     float64    `yaml:"idle_max_speed_mph" json:"idle_max_speed_mph"`
	IdleMinMinutes      float64    `yaml:"idle_min_minutes" json:"idle_min_minutes"`
	IdleBurnGalPerHour  float64    `yaml:"idle_burn_gal_per_hour" json:"idle_burn_gal_per_hour"`
	GhostJobBufferMin   int        `yaml:"ghost_job_buffer_minutes" json:"ghost_job_buffer_minutes"`
	GhostJobMaxMiles    float64    `yaml:"ghost_job_max_miles" json:"ghost_job_max_miles"`
	PurchaseProximityMi float64    `yaml:"purchase_proximity_miles" json:"purchase_proximity_miles"`
	PurchaseWindowMin   int        `yaml:"purchase_window_minutes" json:"purchase_window_minutes"`

	// Statistical pattern analysis.
	MinPatternSamples int     `yaml:"min_pattern_samples" json:"min_pattern_samples"`
	PatternZThreshold float64 `yaml:"pattern_z_threshold" json:"pattern_z_threshold"`

	// Incident consolidation.
	GroupingWindowHours float64 `yaml:"grouping_window_hours" json:"grouping_window_hours"`

	// Known station/job-site coordinates, keyed by normalized address.
	// Feeds the static geocoder; empty means addresses never resolve.
	Geocodes map[string]models.Coordinate `yaml:"geocodes" json:"geocodes,omitempty"`
}

// Default returns the standard audit configuration.
func Default() Config {
	return Config{
		AvgFuelPriceUSD:        3.50,
		PriceToleranceUSD:      0.25,
		DefaultTankCapacityGal: 40.0,
		TankCapacityOverrides:  map[string]float64{},
		MPGExpectations: map[string]MPGRange{
			"truck":   {Min: 7, Max: 12, Avg: 9},
			"van":     {Min: 12, Max: 18, Avg: 15},
			"pickup":  {Min: 15, Max: 25, Avg: 20},
			"car":     {Min: 20, Max: 35, Avg: 28},
			"default": {Min: 9, Max: 12, Avg: 10.5},
		},
		VehicleTypes:        map[string]string{},
		MPGMinFillGallons:   3.0,
		MPGParkedMaxMiles:   5.0,
		BusinessHours:       HourWindow{StartHour: 7, EndHour: 18},
		FuelPurchaseHours:   HourWindow{StartHour: 5, EndHour: 23},
		IdleMaxSpeedMPH:     3.0,
		IdleMinMinutes:      10,
		IdleBurnGalPerHour:  0.8,
		GhostJobBufferMin:   30,
		GhostJobMaxMiles:    0.5,
		PurchaseProximityMi: 1.0,
		PurchaseWindowMin:   15,
		MinPatternSamples:   5,
		PatternZThreshold:   3.0,
		GroupingWindowHours: 2.0,
		Geocodes:            map[string]models.Coordinate{},
	}
}

// Load reads a YAML file over the defaults. Missing keys keep their
// default values.
func Load(path string) (Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("config: read file: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("config: decode yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Validate rejects configurations that would make detection nonsensical.
func (c Config) Validate() error {
	if c.AvgFuelPriceUSD <= 0 {
		return fmt.Errorf("config: avg_fuel_price_usd must be positive")
	}
	if c.DefaultTankCapacityGal <= 0 {
		return fmt.Errorf("config: default_tank_capacity_gal must be positive")
	}
	if c.IdleMaxSpeedMPH < 0 {
		return fmt.Errorf("config: idle_max_speed_mph cannot be negative")
	}
	if c.IdleMinMinutes <= 0 {
		return fmt.Errorf("config: idle_min_minutes must be positive")
	}
	if c.GroupingWindowHours <= 0 {
		return fmt.Errorf("config: grouping_window_hours must be positive")
	}
	if c.PatternZThreshold <= 0 {
		return fmt.Errorf("config: pattern_z_threshold must be positive")
	}
	if c.MPGMinFillGallons <= 0 {
		return fmt.Errorf("config: mpg_min_fill_gallons must be positive")
	}
	if _, ok := c.MPGExpectations["default"]; !ok {
		return fmt.Errorf("config: mpg_expectations must include a %q entry", "default")
	}
	for class, r := range c.MPGExpectations {
		if r.Min <= 0 || r.Max < r.Min || r.Avg <= 0 {
			return fmt.Errorf("config: invalid mpg_expectations for %q", class)
		}
	}
	return nil
}

// TankCapacity returns the capacity for a vehicle, honoring overrides.
func (c Config) TankCapacity(vehicleID string) float64 {
	if capacity, ok := c.TankCapacityOverrides[vehicleID]; ok && capacity > 0 {
		return capacity
	}
	return c.DefaultTankCapacityGal
}

// MPGRangeFor resolves the expected MPG range for a vehicle: an explicit
// class assignment wins, then a keyword inside the vehicle ID, then the
// conservative commercial default.
func (c Config) MPGRangeFor(vehicleID string) MPGRange {
	if class, ok := c.VehicleTypes[vehicleID]; ok {
		if r, ok := c.MPGExpectations[strings.ToLower(class)]; ok {
			return r
		}
	}
	id := strings.ToLower(vehicleID)
	// Pickup before truck: "pickup truck" IDs should match the lighter class.
	for _, class := range []string{"pickup", "truck", "van", "car"} {
		if strings.Contains(id, class) {
			if r, ok := c.MPGExpectations[class]; ok {
				return r
			}
		}
	}
	return c.MPGExpectations["default"]
}
