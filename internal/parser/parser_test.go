package parser

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("writing %s: %v", name, err)
	}
	return path
}

func TestParseFuelCSV(t *testing.T) {
	csv := `vehicle_id,timestamp,location,gallons,amount
VEH-001,2025-03-03 10:30:00,Shell Station 42,22.5,"$78.75"
VEH-002,2025-03-03,Wawa I-4,,45.00
VEH-003,03/04/2025 09:15,Circle K,18.0,
,2025-03-03 11:00:00,No Vehicle,5,17.50
VEH-004,not-a-date,Somewhere,5,17.50
`
	records, err := ParseFuelFile(writeFile(t, "fuel.csv", csv))
	if err != nil {
		t.Fatalf("ParseFuelFile() error: %v", err)
	}
	if len(records) != 3 {
		t.Fatalf("parsed %d records, want 3 (bad rows skipped)", len(records))
	}

	r := records[0]
	if r.VehicleID != "VEH-001" {
		t.Errorf("vehicle = %s, want VEH-001", r.VehicleID)
	}
	if r.Gallons == nil || *r.Gallons != 22.5 {
		t.Errorf("gallons = %v, want 22.5", r.Gallons)
	}
	if r.Amount == nil || *r.Amount != 78.75 {
		t.Errorf("amount = %v, want 78.75 (dollar sign stripped)", r.Amount)
	}
	want := time.Date(2025, 3, 3, 10, 30, 0, 0, time.UTC)
	if !r.Timestamp.Equal(want) {
		t.Errorf("timestamp = %v, want %v", r.Timestamp, want)
	}

	// Missing gallons stay nil, they are not zero.
	if records[1].Gallons != nil {
		t.Errorf("missing gallons parsed as %v, want nil", *records[1].Gallons)
	}
	if records[2].Amount != nil {
		t.Errorf("missing amount parsed as %v, want nil", *records[2].Amount)
	}
}

func TestParseFuelCSVAlternateHeaders(t *testing.T) {
	csv := `vehicle,date,merchant,quantity,total
VEH-001,2025-03-03,Shell Station 42,20,70.00
`
	records, err := ParseFuelFile(writeFile(t, "fuel.csv", csv))
	if err != nil {
		t.Fatalf("ParseFuelFile() error: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("parsed %d records, want 1", len(records))
	}
	r := records[0]
	if r.VehicleID != "VEH-001" || r.Location != "Shell Station 42" {
		t.Errorf("record = %+v, alternate headers not mapped", r)
	}
	if r.Gallons == nil || *r.Gallons != 20 || r.Amount == nil || *r.Amount != 70 {
		t.Errorf("numeric columns not mapped: %+v", r)
	}
}

func TestParseGPSCSV(t *testing.T) {
	csv := `vehicle_id,timestamp,latitude,longitude,speed_mph
VEH-001,2025-03-03T10:30:00Z,28.5383,-81.3792,35.5
VEH-001,2025-03-03T10:31:00Z,28.5390,-81.3800,0
`
	records, err := ParseGPSFile(writeFile(t, "gps.csv", csv))
	if err != nil {
		t.Fatalf("ParseGPSFile() error: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("parsed %d records, want 2", len(records))
	}
	if records[0].Latitude != 28.5383 || records[0].SpeedMPH != 35.5 {
		t.Errorf("first ping = %+v", records[0])
	}
}

func TestParseJobCSV(t *testing.T) {
	csv := `job_id,scheduled_time,address,driver_id
JOB-1,2025-03-03 14:00:00,"100 Main St, Orlando FL",VEH-001
JOB-2,2025-03-04 09:00:00,200 Oak Ave,
`
	records, err := ParseJobFile(writeFile(t, "jobs.csv", csv))
	if err != nil {
		t.Fatalf("ParseJobFile() error: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("parsed %d records, want 2", len(records))
	}
	if records[0].Address != "100 Main St, Orlando FL" {
		t.Errorf("address = %q", records[0].Address)
	}
	if records[1].DriverID != "" {
		t.Errorf("driver = %q, want empty", records[1].DriverID)
	}
}

func TestParseFuelJSON(t *testing.T) {
	jsonData := `[
		{"vehicle_id": "VEH-001", "timestamp": "2025-03-03T10:30:00Z", "location": "Shell Station 42", "gallons": 22.5, "amount": 78.75},
		{"vehicle_id": "VEH-002", "timestamp": "2025-03-03T11:00:00Z", "amount": 45}
	]`
	records, err := ParseFuelFile(writeFile(t, "fuel.json", jsonData))
	if err != nil {
		t.Fatalf("ParseFuelFile() error: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("parsed %d records, want 2", len(records))
	}
	if records[1].Gallons != nil {
		t.Errorf("absent gallons = %v, want nil", *records[1].Gallons)
	}
}

func TestParseUnsupportedExtension(t *testing.T) {
	if _, err := ParseFuelFile(writeFile(t, "fuel.xml", "<x/>")); err == nil {
		t.Error("expected error for unsupported extension")
	}
}

func TestParseTimestampFormats(t *testing.T) {
	tests := []struct {
		in   string
		want time.Time
	}{
		{"2025-03-03T10:30:00Z", time.Date(2025, 3, 3, 10, 30, 0, 0, time.UTC)},
		{"2025-03-03 10:30:00", time.Date(2025, 3, 3, 10, 30, 0, 0, time.UTC)},
		{"03/03/2025 10:30", time.Date(2025, 3, 3, 10, 30, 0, 0, time.UTC)},
		{"2025-03-03", time.Date(2025, 3, 3, 0, 0, 0, 0, time.UTC)},
		{"1741000000", time.Unix(1741000000, 0).UTC()},
	}
	for _, tt := range tests {
		got, err := ParseTimestamp(tt.in)
		if err != nil {
			t.Errorf("ParseTimestamp(%q) error: %v", tt.in, err)
			continue
		}
		if !got.Equal(tt.want) {
			t.Errorf("ParseTimestamp(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}

	if _, err := ParseTimestamp("yesterday-ish"); err == nil {
		t.Error("expected error for garbage timestamp")
	}
	if _, err := ParseTimestamp(""); err == nil {
		t.Error("expected error for empty timestamp")
	}
}

func TestParseOptionalFloat(t *testing.T) {
	tests := []struct {
		in     string
		want   float64
		wantOK bool
	}{
		{"78.75", 78.75, true},
		{"$78.75", 78.75, true},
		{"1,250.00", 1250, true},
		{"", 0, false},
		{"0", 0, false},
		{"-5", 0, false},
		{"n/a", 0, false},
	}
	for _, tt := range tests {
		got, ok := parseOptionalFloat(tt.in)
		if ok != tt.wantOK || got != tt.want {
			t.Errorf("parseOptionalFloat(%q) = (%v, %v), want (%v, %v)", tt.in, got, ok, tt.want, tt.wantOK)
		}
	}
}
