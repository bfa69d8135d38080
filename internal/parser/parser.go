// Package parser reads fuel-card, GPS, and job-schedule exports in CSV
// or JSON form. Provider exports are messy: columns go missing, numbers
// carry currency symbols, timestamps come in a handful of formats. The
// parsers are deliberately lenient, skipping bad rows with a warning
// instead of failing the file.
package parser

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"fleet-audit/internal/logging"
	"fleet-audit/internal/models"
)

// ParseFuelFile parses a fuel-card transaction export, choosing the
// format by file extension (.csv or .json).
func ParseFuelFile(filename string) ([]models.FuelRecord, error) {
	file, err := os.Open(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to open file: %w", err)
	}
	defer file.Close()

	switch ext(filename) {
	case "csv":
		return parseFuelCSV(file)
	case "json":
		return decodeJSON[models.FuelRecord](file)
	default:
		return nil, fmt.Errorf("unsupported format: %s", ext(filename))
	}
}

// ParseGPSFile parses a GPS ping export.
func ParseGPSFile(filename string) ([]models.GPSPing, error) {
	file, err := os.Open(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to open file: %w", err)
	}
	defer file.Close()

	switch ext(filename) {
	case "csv":
		return parseGPSCSV(file)
	case "json":
		return decodeJSON[models.GPSPing](file)
	default:
		return nil, fmt.Errorf("unsupported format: %s", ext(filename))
	}
}

// ParseJobFile parses a job-schedule export.
func ParseJobFile(filename string) ([]models.JobRecord, error) {
	file, err := os.Open(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to open file: %w", err)
	}
	defer file.Close()

	switch ext(filename) {
	case "csv":
		return parseJobCSV(file)
	case "json":
		return decodeJSON[models.JobRecord](file)
	default:
		return nil, fmt.Errorf("unsupported format: %s", ext(filename))
	}
}

func ext(filename string) string {
	return strings.ToLower(strings.TrimPrefix(filepath.Ext(filename), "."))
}

// csvRows reads a headered CSV and returns a lookup of lowercase column
// name to index plus the data rows.
func csvRows(r io.Reader) (map[string]int, [][]string, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read header: %w", err)
	}
	indices := make(map[string]int)
	for i, h := range header {
		indices[strings.ToLower(strings.TrimSpace(h))] = i
	}

	var rows [][]string
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return indices, rows, fmt.Errorf("error at line %d: %w", len(rows)+2, err)
		}
		rows = append(rows, record)
	}
	return indices, rows, nil
}

// field returns the first populated value among the candidate column
// names for this row.
func field(row []string, indices map[string]int, names ...string) string {
	for _, name := range names {
		if idx, ok := indices[name]; ok && idx < len(row) {
			if v := strings.TrimSpace(row[idx]); v != "" {
				return v
			}
		}
	}
	return ""
}

func parseFuelCSV(r io.Reader) ([]models.FuelRecord, error) {
	indices, rows, err := csvRows(r)
	if err != nil {
		return nil, err
	}

	var results []models.FuelRecord
	for i, row := range rows {
		vehicleID := field(row, indices, "vehicle_id", "vehicle", "unit")
		if vehicleID == "" {
			logging.Warn().Int("line", i+2).Msg("fuel row missing vehicle_id, skipped")
			continue
		}
		ts, err := ParseTimestamp(field(row, indices, "timestamp", "date", "transaction_date"))
		if err != nil {
			logging.Warn().Int("line", i+2).Err(err).Msg("fuel row has unparseable timestamp, skipped")
			continue
		}
		rec := models.FuelRecord{
			VehicleID: vehicleID,
			Timestamp: ts,
			Location:  field(row, indices, "location", "merchant", "station"),
		}
		if v, ok := parseOptionalFloat(field(row, indices, "gallons", "fuel_gallons", "quantity")); ok {
			rec.Gallons = models.Float64Ptr(v)
		}
		if v, ok := parseOptionalFloat(field(row, indices, "amount", "total", "cost", "total_cost")); ok {
			rec.Amount = models.Float64Ptr(v)
		}
		results = append(results, rec)
	}
	return results, nil
}

func parseGPSCSV(r io.Reader) ([]models.GPSPing, error) {
	indices, rows, err := csvRows(r)
	if err != nil {
		return nil, err
	}

	var results []models.GPSPing
	for i, row := range rows {
		vehicleID := field(row, indices, "vehicle_id", "vehicle", "unit")
		if vehicleID == "" {
			logging.Warn().Int("line", i+2).Msg("gps row missing vehicle_id, skipped")
			continue
		}
		ts, err := ParseTimestamp(field(row, indices, "timestamp", "time", "date"))
		if err != nil {
			logging.Warn().Int("line", i+2).Err(err).Msg("gps row has unparseable timestamp, skipped")
			continue
		}
		ping := models.GPSPing{VehicleID: vehicleID, Timestamp: ts}
		ping.Latitude, _ = strconv.ParseFloat(field(row, indices, "latitude", "lat"), 64)
		ping.Longitude, _ = strconv.ParseFloat(field(row, indices, "longitude", "lon", "lng"), 64)
		ping.SpeedMPH, _ = strconv.ParseFloat(field(row, indices, "speed_mph", "speed"), 64)
		results = append(results, ping)
	}
	return results, nil
}

func parseJobCSV(r io.Reader) ([]models.JobRecord, error) {
	indices, rows, err := csvRows(r)
	if err != nil {
		return nil, err
	}

	var results []models.JobRecord
	for i, row := range rows {
		ts, err := ParseTimestamp(field(row, indices, "scheduled_time", "scheduled", "timestamp", "date"))
		if err != nil {
			logging.Warn().Int("line", i+2).Err(err).Msg("job row has unparseable schedule, skipped")
			continue
		}
		results = append(results, models.JobRecord{
			JobID:         field(row, indices, "job_id", "id", "work_order"),
			ScheduledTime: ts,
			Address:       field(row, indices, "address", "location", "site"),
			DriverID:      field(row, indices, "driver_id", "driver", "vehicle_id"),
		})
	}
	return results, nil
}

// decodeJSON reads either a JSON array or newline-delimited objects.
func decodeJSON[T any](r io.Reader) ([]T, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}

	var results []T
	if err := json.Unmarshal(data, &results); err == nil {
		return results, nil
	}

	for i, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(line), ","))
		if line == "" || line == "[" || line == "]" {
			continue
		}
		var t T
		if err := json.Unmarshal([]byte(line), &t); err != nil {
			logging.Warn().Int("line", i+1).Err(err).Msg("skipping malformed JSON line")
			continue
		}
		results = append(results, t)
	}
	return results, nil
}

// parseOptionalFloat parses a numeric column, stripping currency
// symbols and thousands separators. Zero and negative values are
// treated as absent.
func parseOptionalFloat(s string) (float64, bool) {
	s = strings.TrimSpace(strings.ReplaceAll(strings.TrimPrefix(s, "$"), ",", ""))
	if s == "" {
		return 0, false
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil || v <= 0 {
		return 0, false
	}
	return v, true
}

// ParseTimestamp tries the timestamp formats seen across provider
// exports, falling back to Unix seconds.
func ParseTimestamp(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, fmt.Errorf("empty timestamp")
	}
	formats := []string{
		time.RFC3339,
		time.RFC3339Nano,
		"2006-01-02T15:04:05",
		"2006-01-02 15:04:05",
		"2006/01/02 15:04:05",
		"01/02/2006 15:04:05",
		"01/02/2006 15:04",
		"2006-01-02",
		"01/02/2006",
	}
	for _, format := range formats {
		if t, err := time.Parse(format, s); err == nil {
			return t, nil
		}
	}
	if ts, err := strconv.ParseInt(s, 10, 64); err == nil {
		return time.Unix(ts, 0).UTC(), nil
	}
	return time.Time{}, fmt.Errorf("unable to parse timestamp: %s", s)
}
