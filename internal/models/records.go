package models

import "time"

// FuelRecord represents a single fuel-card purchase transaction.
// Gallons and Amount may be individually absent depending on the card
// provider's export; data completeness determines which detection
// methods are eligible.
type FuelRecord struct {
	ID        int64      `json:"id"`
	VehicleID string     `json:"vehicle_id"`
	Timestamp time.Time  `json:"timestamp"`
	Location  string     `json:"location"`
	Gallons   *float64   `json:"gallons,omitempty"`
	Amount    *float64   `json:"amount,omitempty"` // transaction total, USD
}

// GPSPing represents a single GPS telemetry reading from a vehicle.
type GPSPing struct {
	ID        int64     `json:"id"`
	VehicleID string    `json:"vehicle_id"`
	Timestamp time.Time `json:"timestamp"`
	Latitude  float64   `json:"lat"`
	Longitude float64   `json:"lon"`
	SpeedMPH  float64   `json:"speed_mph"`
}

// JobRecord represents a scheduled job/dispatch assignment.
type JobRecord struct {
	JobID         string    `json:"job_id"`
	ScheduledTime time.Time `json:"scheduled_time"`
	Address       string    `json:"address"`
	DriverID      string    `json:"driver_id"` // maps to the assigned vehicle
}

// Vehicle represents a fleet vehicle.
type Vehicle struct {
	ID              string    `json:"id"`
	Name            string    `json:"name"`
	LicensePlate    string    `json:"license_plate"`
	VehicleType     string    `json:"vehicle_type"`
	TankCapacityGal float64   `json:"tank_capacity_gal,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
}

// Coordinate is a geographic point.
type Coordinate struct {
	Lat float64 `json:"lat" yaml:"lat"`
	Lon float64 `json:"lon" yaml:"lon"`
}

// Float64Ptr returns a pointer to v. Convenience for building records
// with optional numeric columns.
func Float64Ptr(v float64) *float64 { return &v }
