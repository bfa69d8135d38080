package db

import (
	"database/sql"
	"fmt"
	"time"

	"fleet-audit/internal/models"

	_ "github.com/mattn/go-sqlite3"
)

// Database wraps the SQLite connection holding ingested audit inputs.
// Audit results are never persisted; reruns over the same rows must
// produce the same findings.
type Database struct {
	conn *sql.DB
}

// New creates a new database connection
func New(dbPath string) (*Database, error) {
	// Enable WAL mode and other optimizations via connection string
	connStr := fmt.Sprintf("%s?_journal_mode=WAL&_synchronous=NORMAL&_cache_size=10000", dbPath)

	conn, err := sql.Open("sqlite3", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite works best with a single writer
	conn.SetMaxOpenConns(1)
	conn.SetMaxIdleConns(1)
	conn.SetConnMaxLifetime(time.Hour)

	db := &Database{conn: conn}

	if err := db.initialize(); err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	return db, nil
}

// initialize creates tables and indexes
func (db *Database) initialize() error {
	schema := `
	CREATE TABLE IF NOT EXISTS vehicles (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		license_plate TEXT UNIQUE NOT NULL,
		vehicle_type TEXT NOT NULL,
		tank_capacity_gal REAL,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS fuel_transactions (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		vehicle_id TEXT NOT NULL,
		timestamp DATETIME NOT NULL,
		location TEXT,
		gallons REAL,
		amount REAL
	);

	CREATE TABLE IF NOT EXISTS gps_pings (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		vehicle_id TEXT NOT NULL,
		timestamp DATETIME NOT NULL,
		latitude REAL NOT NULL,
		longitude REAL NOT NULL,
		speed_mph REAL NOT NULL
	);

	CREATE TABLE IF NOT EXISTS jobs (
		job_id TEXT PRIMARY KEY,
		scheduled_time DATETIME NOT NULL,
		address TEXT,
		driver_id TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_fuel_vehicle_timestamp ON fuel_transactions(vehicle_id, timestamp);
	CREATE INDEX IF NOT EXISTS idx_gps_vehicle_timestamp ON gps_pings(vehicle_id, timestamp);
	CREATE INDEX IF NOT EXISTS idx_gps_timestamp ON gps_pings(timestamp);
	CREATE INDEX IF NOT EXISTS idx_jobs_scheduled ON jobs(scheduled_time);
	`

	_, err := db.conn.Exec(schema)
	return err
}

// Close closes the database connection
func (db *Database) Close() error {
	return db.conn.Close()
}

// InsertVehicle adds a new vehicle
func (db *Database) InsertVehicle(v *models.Vehicle) error {
	query := `INSERT INTO vehicles (id, name, license_plate, vehicle_type, tank_capacity_gal) VALUES (?, ?, ?, ?, ?)`
	var capacity sql.NullFloat64
	if v.TankCapacityGal > 0 {
		capacity = sql.NullFloat64{Float64: v.TankCapacityGal, Valid: true}
	}
	_, err := db.conn.Exec(query, v.ID, v.Name, v.LicensePlate, v.VehicleType, capacity)
	return err
}

// GetVehicle retrieves a vehicle by ID
func (db *Database) GetVehicle(id string) (*models.Vehicle, error) {
	query := `SELECT id, name, license_plate, vehicle_type, tank_capacity_gal, created_at FROM vehicles WHERE id = ?`

	var v models.Vehicle
	var capacity sql.NullFloat64
	err := db.conn.QueryRow(query, id).Scan(&v.ID, &v.Name, &v.LicensePlate, &v.VehicleType, &capacity, &v.CreatedAt)
	if err != nil {
		return nil, err
	}
	if capacity.Valid {
		v.TankCapacityGal = capacity.Float64
	}
	return &v, nil
}

// ListVehicles returns all vehicles
func (db *Database) ListVehicles() ([]models.Vehicle, error) {
	query := `SELECT id, name, license_plate, vehicle_type, tank_capacity_gal, created_at FROM vehicles ORDER BY name`

	rows, err := db.conn.Query(query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var vehicles []models.Vehicle
	for rows.Next() {
		var v models.Vehicle
		var capacity sql.NullFloat64
		if err := rows.Scan(&v.ID, &v.Name, &v.LicensePlate, &v.VehicleType, &capacity, &v.CreatedAt); err != nil {
			return nil, err
		}
		if capacity.Valid {
			v.TankCapacityGal = capacity.Float64
		}
		vehicles = append(vehicles, v)
	}
	return vehicles, rows.Err()
}

// InsertFuelBatch inserts fuel transactions inside one transaction.
func (db *Database) InsertFuelBatch(records []models.FuelRecord) (int64, error) {
	tx, err := db.conn.Begin()
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(`
		INSERT INTO fuel_transactions (vehicle_id, timestamp, location, gallons, amount)
		VALUES (?, ?, ?, ?, ?)
	`)
	if err != nil {
		return 0, err
	}
	defer stmt.Close()

	var count int64
	for _, r := range records {
		_, err := stmt.Exec(r.VehicleID, r.Timestamp, r.Location, nullFloat(r.Gallons), nullFloat(r.Amount))
		if err != nil {
			return count, err
		}
		count++
	}

	return count, tx.Commit()
}

// InsertGPSBatch inserts GPS pings inside one transaction.
func (db *Database) InsertGPSBatch(records []models.GPSPing) (int64, error) {
	tx, err := db.conn.Begin()
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(`
		INSERT INTO gps_pings (vehicle_id, timestamp, latitude, longitude, speed_mph)
		VALUES (?, ?, ?, ?, ?)
	`)
	if err != nil {
		return 0, err
	}
	defer stmt.Close()

	var count int64
	for _, p := range records {
		_, err := stmt.Exec(p.VehicleID, p.Timestamp, p.Latitude, p.Longitude, p.SpeedMPH)
		if err != nil {
			return count, err
		}
		count++
	}

	return count, tx.Commit()
}

// InsertJobBatch inserts job schedules inside one transaction. Jobs
// re-ingested with the same ID replace the old row.
func (db *Database) InsertJobBatch(records []models.JobRecord) (int64, error) {
	tx, err := db.conn.Begin()
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(`
		INSERT OR REPLACE INTO jobs (job_id, scheduled_time, address, driver_id)
		VALUES (?, ?, ?, ?)
	`)
	if err != nil {
		return 0, err
	}
	defer stmt.Close()

	var count int64
	for _, j := range records {
		_, err := stmt.Exec(j.JobID, j.ScheduledTime, j.Address, j.DriverID)
		if err != nil {
			return count, err
		}
		count++
	}

	return count, tx.Commit()
}

// ListFuel returns fuel transactions, optionally bounded in time,
// ordered for deterministic audits.
func (db *Database) ListFuel(start, end time.Time) ([]models.FuelRecord, error) {
	query := `SELECT id, vehicle_id, timestamp, location, gallons, amount FROM fuel_transactions`
	query, args := timeBounds(query, start, end)
	query += " ORDER BY vehicle_id, timestamp, id"

	rows, err := db.conn.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []models.FuelRecord
	for rows.Next() {
		var r models.FuelRecord
		var location sql.NullString
		var gallons, amount sql.NullFloat64
		if err := rows.Scan(&r.ID, &r.VehicleID, &r.Timestamp, &location, &gallons, &amount); err != nil {
			return nil, err
		}
		r.Location = location.String
		if gallons.Valid {
			r.Gallons = models.Float64Ptr(gallons.Float64)
		}
		if amount.Valid {
			r.Amount = models.Float64Ptr(amount.Float64)
		}
		results = append(results, r)
	}
	return results, rows.Err()
}

// ListGPS returns GPS pings, optionally bounded in time.
func (db *Database) ListGPS(start, end time.Time) ([]models.GPSPing, error) {
	query := `SELECT id, vehicle_id, timestamp, latitude, longitude, speed_mph FROM gps_pings`
	query, args := timeBounds(query, start, end)
	query += " ORDER BY vehicle_id, timestamp, id"

	rows, err := db.conn.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []models.GPSPing
	for rows.Next() {
		var p models.GPSPing
		if err := rows.Scan(&p.ID, &p.VehicleID, &p.Timestamp, &p.Latitude, &p.Longitude, &p.SpeedMPH); err != nil {
			return nil, err
		}
		results = append(results, p)
	}
	return results, rows.Err()
}

// ListJobs returns job schedules, optionally bounded in time.
func (db *Database) ListJobs(start, end time.Time) ([]models.JobRecord, error) {
	query := `SELECT job_id, scheduled_time, address, driver_id FROM jobs`
	var args []interface{}
	var conditions []string
	if !start.IsZero() {
		conditions = append(conditions, "scheduled_time >= ?")
		args = append(args, start)
	}
	if !end.IsZero() {
		conditions = append(conditions, "scheduled_time <= ?")
		args = append(args, end)
	}
	for i, c := range conditions {
		if i == 0 {
			query += " WHERE " + c
		} else {
			query += " AND " + c
		}
	}
	query += " ORDER BY scheduled_time, job_id"

	rows, err := db.conn.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []models.JobRecord
	for rows.Next() {
		var j models.JobRecord
		var address, driver sql.NullString
		if err := rows.Scan(&j.JobID, &j.ScheduledTime, &address, &driver); err != nil {
			return nil, err
		}
		j.Address = address.String
		j.DriverID = driver.String
		results = append(results, j)
	}
	return results, rows.Err()
}

// GetStats returns row counts per table.
func (db *Database) GetStats() (map[string]interface{}, error) {
	stats := make(map[string]interface{})

	counts := map[string]string{
		"total_vehicles":          "SELECT COUNT(*) FROM vehicles",
		"total_fuel_transactions": "SELECT COUNT(*) FROM fuel_transactions",
		"total_gps_pings":         "SELECT COUNT(*) FROM gps_pings",
		"total_jobs":              "SELECT COUNT(*) FROM jobs",
	}
	for key, q := range counts {
		var n int64
		if err := db.conn.QueryRow(q).Scan(&n); err != nil {
			return nil, err
		}
		stats[key] = n
	}
	return stats, nil
}

func timeBounds(query string, start, end time.Time) (string, []interface{}) {
	var args []interface{}
	added := false
	if !start.IsZero() {
		query += " WHERE timestamp >= ?"
		args = append(args, start)
		added = true
	}
	if !end.IsZero() {
		if added {
			query += " AND timestamp <= ?"
		} else {
			query += " WHERE timestamp <= ?"
		}
		args = append(args, end)
	}
	return query, args
}

func nullFloat(v *float64) sql.NullFloat64 {
	if v == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *v, Valid: true}
}
