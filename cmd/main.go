package main

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"net/http"
	"os"
	"time"

	"fleet-audit/internal/api"
	"fleet-audit/internal/audit"
	"fleet-audit/internal/config"
	"fleet-audit/internal/db"
	"fleet-audit/internal/detection"
	"fleet-audit/internal/logging"
	"fleet-audit/internal/models"
	"fleet-audit/internal/parser"

	"github.com/spf13/cobra"
)

var (
	dbPath     string
	configPath string
	logLevel   string
	database   *db.Database
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "fleet-audit",
		Short: "Fleet Audit - fuel theft and fleet violation detection",
		Long: `A CLI tool that cross-references fuel-card transactions, GPS telemetry,
and job schedules to detect fuel theft, efficiency fraud, idle abuse,
after-hours use, and ghost jobs, then consolidates findings into
incidents with financial loss estimates.`,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			logging.Init(logging.Config{Level: logLevel, Format: "console"})
		},
	}

	// Global flags
	rootCmd.PersistentFlags().StringVar(&dbPath, "db", "fleet_audit.db", "Path to SQLite database")
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to YAML config file")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "warn", "Log level (debug, info, warn, error)")

	// Add commands
	rootCmd.AddCommand(auditCmd())
	rootCmd.AddCommand(serverCmd())
	rootCmd.AddCommand(ingestCmd())
	rootCmd.AddCommand(statsCmd())
	rootCmd.AddCommand(generateCmd())
	rootCmd.AddCommand(vehicleCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// initDB initializes database connection
func initDB() error {
	var err error
	database, err = db.New(dbPath)
	return err
}

// loadConfig loads the YAML config or falls back to defaults.
func loadConfig() (config.Config, error) {
	if configPath == "" {
		return config.Default(), nil
	}
	return config.Load(configPath)
}

// auditCmd runs a full audit over files or the database.
func auditCmd() *cobra.Command {
	var fuelFile, gpsFile, jobsFile, output string

	cmd := &cobra.Command{
		Use:   "audit",
		Short: "Run a fleet audit over ingested or file-based data",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			var in detection.Inputs
			if fuelFile == "" && gpsFile == "" && jobsFile == "" {
				if err := initDB(); err != nil {
					return fmt.Errorf("database error: %w", err)
				}
				defer database.Close()

				if in.Fuel, err = database.ListFuel(time.Time{}, time.Time{}); err != nil {
					return fmt.Errorf("loading fuel transactions: %w", err)
				}
				if in.GPS, err = database.ListGPS(time.Time{}, time.Time{}); err != nil {
					return fmt.Errorf("loading gps pings: %w", err)
				}
				if in.Jobs, err = database.ListJobs(time.Time{}, time.Time{}); err != nil {
					return fmt.Errorf("loading jobs: %w", err)
				}
			} else {
				if fuelFile != "" {
					if in.Fuel, err = parser.ParseFuelFile(fuelFile); err != nil {
						return fmt.Errorf("parsing %s: %w", fuelFile, err)
					}
				}
				if gpsFile != "" {
					if in.GPS, err = parser.ParseGPSFile(gpsFile); err != nil {
						return fmt.Errorf("parsing %s: %w", gpsFile, err)
					}
				}
				if jobsFile != "" {
					if in.Jobs, err = parser.ParseJobFile(jobsFile); err != nil {
						return fmt.Errorf("parsing %s: %w", jobsFile, err)
					}
				}
			}

			engine := audit.NewEngine(cfg)
			start := time.Now()
			result, err := engine.Run(context.Background(), in)
			if err != nil {
				return err
			}
			elapsed := time.Since(start)

			if output != "" {
				file, err := os.Create(output)
				if err != nil {
					return fmt.Errorf("error creating output file: %w", err)
				}
				defer file.Close()
				enc := json.NewEncoder(file)
				enc.SetIndent("", "  ")
				if err := enc.Encode(result); err != nil {
					return err
				}
				fmt.Printf("Full report written to %s\n", output)
			}

			printAuditReport(result, elapsed)
			return nil
		},
	}

	cmd.Flags().StringVar(&fuelFile, "fuel", "", "Fuel transaction file (csv or json)")
	cmd.Flags().StringVar(&gpsFile, "gps", "", "GPS ping file (csv or json)")
	cmd.Flags().StringVar(&jobsFile, "jobs", "", "Job schedule file (csv or json)")
	cmd.Flags().StringVarP(&output, "output", "o", "", "Write full JSON report to file")
	return cmd
}

func printAuditReport(result *models.Result, elapsed time.Duration) {
	fmt.Printf("🔍 Fleet Audit Report (%s)\n", result.AuditID)
	fmt.Println("=====================================")
	fmt.Printf("  Vehicles analyzed:  %d\n", result.VehiclesAnalyzed)
	fmt.Printf("  Audit period:       %.1f days\n", result.AuditPeriodDays)
	fmt.Printf("  Data quality:       %s\n", result.DataQuality.Description)
	fmt.Printf("  Raw violations:     %d\n", result.TotalRawViolations())
	fmt.Printf("  Incidents:          %d\n", len(result.Consolidated))
	fmt.Printf("  Analysis time:      %v\n\n", elapsed)

	for _, w := range result.OverlapWarnings {
		fmt.Printf("  ⚠️  %s\n", w.Message)
	}
	if len(result.OverlapWarnings) > 0 {
		fmt.Println()
	}

	for i, inc := range result.Consolidated {
		fmt.Printf("[%d] %s | %s | %s\n", i+1, inc.VehicleID,
			inc.Timestamp.Format("2006-01-02 15:04"), inc.Severity)
		fmt.Printf("    %s\n", inc.Description)
		fmt.Printf("    confidence %.2f, evidence %d, loss $%.2f\n\n",
			inc.Confidence, inc.EvidenceCount, inc.TotalEstimatedLoss)
	}

	fs := result.FinancialSummary
	fmt.Println("💰 Financial Summary")
	fmt.Println("=====================================")
	fmt.Printf("  Observed loss:      $%.2f\n", fs.TotalLoss)
	fmt.Printf("  Weekly estimate:    $%.2f\n", fs.WeeklyEstimate)
	fmt.Printf("  Monthly estimate:   $%.2f\n", fs.MonthlyEstimate)
	fmt.Printf("  Vehicles flagged:   %d\n", fs.VehiclesFlagged)
	if fs.WorstOffender != "" {
		fmt.Printf("  Worst offender:     %s\n", fs.WorstOffender)
	}
}

// serverCmd starts the REST API server
func serverCmd() *cobra.Command {
	var port int

	cmd := &cobra.Command{
		Use:   "server",
		Short: "Start the REST API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if err := initDB(); err != nil {
				return fmt.Errorf("database error: %w", err)
			}
			defer database.Close()

			server := api.NewServer(database, cfg)
			addr := fmt.Sprintf(":%d", port)

			fmt.Printf("🚀 Fleet Audit API Server\n")
			fmt.Printf("   Listening on http://localhost%s\n", addr)
			fmt.Printf("   Database: %s\n\n", dbPath)
			fmt.Println("Available endpoints:")
			fmt.Println("  GET  /health")
			fmt.Println("  GET  /api/v1/vehicles")
			fmt.Println("  POST /api/v1/vehicles")
			fmt.Println("  GET  /api/v1/vehicles/{id}")
			fmt.Println("  POST /api/v1/fuel/batch")
			fmt.Println("  POST /api/v1/gps/batch")
			fmt.Println("  POST /api/v1/jobs/batch")
			fmt.Println("  POST /api/v1/audit")
			fmt.Println("  GET  /api/v1/stats")
			fmt.Println()

			return http.ListenAndServe(addr, server.Router())
		},
	}

	cmd.Flags().IntVarP(&port, "port", "p", 8080, "Server port")
	return cmd
}

// ingestCmd ingests audit source data from files
func ingestCmd() *cobra.Command {
	var source string

	cmd := &cobra.Command{
		Use:   "ingest [file...]",
		Short: "Ingest fuel, gps, or job data from files",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := initDB(); err != nil {
				return fmt.Errorf("database error: %w", err)
			}
			defer database.Close()

			totalRecords := 0
			totalErrors := 0

			for _, file := range args {
				fmt.Printf("Processing %s...\n", file)
				start := time.Now()

				var count int64
				var err error
				switch source {
				case "fuel":
					var records []models.FuelRecord
					if records, err = parser.ParseFuelFile(file); err == nil {
						count, err = database.InsertFuelBatch(records)
					}
				case "gps":
					var records []models.GPSPing
					if records, err = parser.ParseGPSFile(file); err == nil {
						count, err = database.InsertGPSBatch(records)
					}
				case "jobs":
					var records []models.JobRecord
					if records, err = parser.ParseJobFile(file); err == nil {
						count, err = database.InsertJobBatch(records)
					}
				default:
					return fmt.Errorf("unknown source %q (use fuel, gps, or jobs)", source)
				}
				if err != nil {
					fmt.Printf("  Error: %v\n", err)
					totalErrors++
					continue
				}

				elapsed := time.Since(start)
				fmt.Printf("  ✓ Inserted %d records in %v (%.0f records/sec)\n",
					count, elapsed, float64(count)/elapsed.Seconds())
				totalRecords += int(count)
			}

			fmt.Printf("\nTotal: %d records ingested", totalRecords)
			if totalErrors > 0 {
				fmt.Printf(", %d errors", totalErrors)
			}
			fmt.Println()

			return nil
		},
	}

	cmd.Flags().StringVarP(&source, "source", "s", "fuel", "Data source (fuel, gps, jobs)")
	return cmd
}

// statsCmd shows database statistics
func statsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show database statistics",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := initDB(); err != nil {
				return fmt.Errorf("database error: %w", err)
			}
			defer database.Close()

			stats, err := database.GetStats()
			if err != nil {
				return fmt.Errorf("error getting stats: %w", err)
			}

			fmt.Println("📊 Fleet Audit Database Statistics")
			fmt.Println("=====================================")
			fmt.Printf("  Total Vehicles:     %v\n", stats["total_vehicles"])
			fmt.Printf("  Fuel Transactions:  %v\n", stats["total_fuel_transactions"])
			fmt.Printf("  GPS Pings:          %v\n", stats["total_gps_pings"])
			fmt.Printf("  Jobs:               %v\n", stats["total_jobs"])
			fmt.Printf("  Database:           %s\n", dbPath)

			return nil
		},
	}
}

// generateCmd generates sample audit data with seeded fraud patterns
func generateCmd() *cobra.Command {
	var days int
	var vehicleCount int
	var seed int64

	cmd := &cobra.Command{
		Use:   "generate",
		Short: "Generate sample fleet data with seeded fraud patterns",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := initDB(); err != nil {
				return fmt.Errorf("database error: %w", err)
			}
			defer database.Close()

			rng := rand.New(rand.NewSource(seed))

			vehicleTypes := []string{"Truck", "Van", "Pickup"}
			vehicles := make([]models.Vehicle, 0, vehicleCount)
			for i := 1; i <= vehicleCount; i++ {
				v := models.Vehicle{
					ID:           fmt.Sprintf("VEH-%03d", i),
					Name:         fmt.Sprintf("%s %d", vehicleTypes[i%len(vehicleTypes)], i),
					LicensePlate: fmt.Sprintf("FL-%04d", rng.Intn(10000)),
					VehicleType:  vehicleTypes[i%len(vehicleTypes)],
				}
				vehicles = append(vehicles, v)
				database.InsertVehicle(&v)
			}
			fmt.Printf("Created %d vehicles\n", vehicleCount)

			baseTime := time.Now().AddDate(0, 0, -days).Truncate(24 * time.Hour)
			var fuel []models.FuelRecord
			var pings []models.GPSPing
			var jobs []models.JobRecord

			stations := []string{"Shell Station 42", "Circle K Main St", "Wawa I-4", "Pilot Travel Center"}
			for day := 0; day < days; day++ {
				for vi, v := range vehicles {
					dayStart := baseTime.AddDate(0, 0, day).Add(8 * time.Hour)

					// Normal fill every other day.
					if day%2 == vi%2 {
						gallons := 20 + rng.Float64()*10
						fuel = append(fuel, models.FuelRecord{
							VehicleID: v.ID,
							Timestamp: dayStart.Add(time.Duration(rng.Intn(120)) * time.Minute),
							Location:  stations[rng.Intn(len(stations))],
							Gallons:   models.Float64Ptr(gallons),
							Amount:    models.Float64Ptr(gallons * 3.50),
						})
					}

					// Driving pings through the work day.
					lat, lon := 28.5383, -81.3792
					for m := 0; m < 8*60; m += 5 {
						lat += (rng.Float64() - 0.5) * 0.01
						lon += (rng.Float64() - 0.5) * 0.01
						pings = append(pings, models.GPSPing{
							VehicleID: v.ID,
							Timestamp: dayStart.Add(time.Duration(m) * time.Minute),
							Latitude:  lat,
							Longitude: lon,
							SpeedMPH:  rng.Float64() * 55,
						})
					}

					jobs = append(jobs, models.JobRecord{
						JobID:         fmt.Sprintf("JOB-%03d-%02d", vi+1, day),
						ScheduledTime: dayStart.Add(2 * time.Hour),
						Address:       "Orlando FL",
						DriverID:      v.ID,
					})
				}
			}

			// Seed fraud into the first vehicle: an over-capacity
			// purchase and a same-day double fill.
			cheat := vehicles[0]
			theftDay := baseTime.AddDate(0, 0, days/2)
			fuel = append(fuel,
				models.FuelRecord{
					VehicleID: cheat.ID,
					Timestamp: theftDay.Add(9 * time.Hour),
					Location:  stations[0],
					Gallons:   models.Float64Ptr(55),
					Amount:    models.Float64Ptr(55 * 3.50),
				},
				models.FuelRecord{
					VehicleID: cheat.ID,
					Timestamp: theftDay.Add(15 * time.Hour),
					Location:  stations[1],
					Gallons:   models.Float64Ptr(48),
					Amount:    models.Float64Ptr(48 * 3.50),
				},
			)

			if _, err := database.InsertFuelBatch(fuel); err != nil {
				return fmt.Errorf("inserting fuel: %w", err)
			}
			if _, err := database.InsertGPSBatch(pings); err != nil {
				return fmt.Errorf("inserting gps: %w", err)
			}
			if _, err := database.InsertJobBatch(jobs); err != nil {
				return fmt.Errorf("inserting jobs: %w", err)
			}

			fmt.Printf("✓ Generated %d fuel transactions, %d GPS pings, %d jobs over %d days\n",
				len(fuel), len(pings), len(jobs), days)
			fmt.Printf("  Seeded fraud patterns on %s - run 'fleet-audit audit' to find them\n", cheat.ID)
			return nil
		},
	}

	cmd.Flags().IntVarP(&days, "days", "d", 14, "Number of days of data to generate")
	cmd.Flags().IntVarP(&vehicleCount, "vehicles", "n", 5, "Number of vehicles to create")
	cmd.Flags().Int64Var(&seed, "seed", 1, "Random seed")
	return cmd
}

// vehicleCmd manages vehicles
func vehicleCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "vehicle",
		Short: "Vehicle management commands",
	}

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List all vehicles",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := initDB(); err != nil {
				return fmt.Errorf("database error: %w", err)
			}
			defer database.Close()

			vehicles, err := database.ListVehicles()
			if err != nil {
				return fmt.Errorf("error listing vehicles: %w", err)
			}

			if len(vehicles) == 0 {
				fmt.Println("No vehicles found. Use 'fleet-audit generate' to create sample data.")
				return nil
			}

			fmt.Printf("%-10s %-20s %-12s %-10s %s\n", "ID", "Name", "Plate", "Type", "Tank (gal)")
			for _, v := range vehicles {
				tank := "-"
				if v.TankCapacityGal > 0 {
					tank = fmt.Sprintf("%.0f", v.TankCapacityGal)
				}
				fmt.Printf("%-10s %-20s %-12s %-10s %s\n", v.ID, v.Name, v.LicensePlate, v.VehicleType, tank)
			}

			return nil
		},
	}

	cmd.AddCommand(listCmd)
	return cmd
}
