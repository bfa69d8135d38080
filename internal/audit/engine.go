package audit

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"fleet-audit/internal/config"
	"fleet-audit/internal/detection"
	"fleet-audit/internal/logging"
	"fleet-audit/internal/models"
)

// ErrNoData is returned when every input source is empty.
var ErrNoData = errors.New("audit: no input data in any source")

// Enricher post-processes raw violations before consolidation, e.g. to
// attach vehicle names from a registry. The default engine uses none.
type Enricher interface {
	Enrich(ctx context.Context, violations []models.Violation) ([]models.Violation, error)
}

// Engine runs every detector over one set of inputs and assembles the
// audit result.
type Engine struct {
	cfg       config.Config
	geocoder  detection.Geocoder
	detectors []detection.Detector
	dedupe    *Deduplicator
	enricher  Enricher
}

// Option customizes an Engine.
type Option func(*Engine)

// WithEnricher installs a violation enricher.
func WithEnricher(e Enricher) Option {
	return func(eng *Engine) { eng.enricher = e }
}

// WithGeocoder overrides the geocoder used by location-aware detectors.
func WithGeocoder(g detection.Geocoder) Option {
	return func(eng *Engine) { eng.geocoder = g }
}

// NewEngine builds an engine with the standard detector set.
func NewEngine(cfg config.Config, opts ...Option) *Engine {
	eng := &Engine{
		cfg:    cfg,
		dedupe: NewDeduplicator(cfg.GroupingWindowHours),
	}
	if len(cfg.Geocodes) > 0 {
		eng.geocoder = detection.NewStaticGeocoder(cfg.Geocodes)
	} else {
		eng.geocoder = detection.NullGeocoder{}
	}
	for _, opt := range opts {
		opt(eng)
	}
	if _, isNull := eng.geocoder.(detection.NullGeocoder); isNull {
		logging.Warn().Msg("no geocoder configured: job-site and purchase-proximity checks will not fire")
	}

	eng.detectors = []detection.Detector{
		detection.NewFuelTheftDetector(cfg, eng.geocoder),
		detection.NewMPGDetector(cfg),
		detection.NewIdleDetector(cfg),
		detection.NewAfterHoursDetector(cfg),
		detection.NewGhostJobDetector(cfg, eng.geocoder),
	}
	return eng
}

// Run executes the full audit: coverage analysis, concurrent detection,
// enrichment, consolidation, and financial summary. Detectors that need
// two sources only see records inside the sources' shared window.
func (e *Engine) Run(ctx context.Context, in detection.Inputs) (*models.Result, error) {
	if in.Empty() {
		return nil, ErrNoData
	}

	coverage := NewCoverage(in)
	warnings := coverage.Warnings()
	for _, w := range warnings {
		logging.Warn().
			Str("source_a", w.SourceA).
			Str("source_b", w.SourceB).
			Str("kind", string(w.Kind)).
			Msg(w.Message)
	}

	quality := detection.AssessFuelQuality(in.Fuel)
	quality.GPSRecords = len(in.GPS)
	quality.JobRecords = len(in.Jobs)

	raw := make(map[string][]models.Violation, len(e.detectors))
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		errs = make([]error, len(e.detectors))
	)
	for i, det := range e.detectors {
		wg.Add(1)
		go func(i int, det detection.Detector) {
			defer wg.Done()
			inputs := e.inputsFor(det.Name(), in, coverage)
			vs, err := det.Detect(ctx, inputs)
			if err != nil {
				errs[i] = fmt.Errorf("detector %s: %w", det.Name(), err)
				return
			}
			mu.Lock()
			raw[det.Name()] = vs
			mu.Unlock()
			logging.Debug().Str("detector", det.Name()).Int("violations", len(vs)).Msg("detector finished")
		}(i, det)
	}
	wg.Wait()
	for _, err := range errs {
		if err != nil {
			return nil, err
		}
	}

	var all []models.Violation
	for _, det := range e.detectors {
		all = append(all, raw[det.Name()]...)
	}
	sortViolations(all)

	if e.enricher != nil {
		enriched, err := e.enricher.Enrich(ctx, all)
		if err != nil {
			return nil, fmt.Errorf("enrich violations: %w", err)
		}
		all = enriched
	}

	incidents := e.dedupe.Consolidate(all)
	periodDays := coverage.PeriodDays()

	result := &models.Result{
		AuditID:          uuid.NewString(),
		GeneratedAt:      time.Now().UTC(),
		RawViolations:    raw,
		Consolidated:     incidents,
		FinancialSummary: Summarize(incidents, periodDays),
		OverlapWarnings:  warnings,
		DataQuality:      quality,
		AuditPeriodDays:  periodDays,
		VehiclesAnalyzed: countVehicles(in),
	}

	logging.Info().
		Str("audit_id", result.AuditID).
		Int("raw_violations", result.TotalRawViolations()).
		Int("incidents", len(incidents)).
		Float64("estimated_loss", result.FinancialSummary.TotalLoss).
		Msg("audit complete")
	return result, nil
}

// inputsFor scopes the inputs to what a detector may legitimately
// correlate. Single-source detectors get their source in full;
// cross-source detectors only see the shared window, so disjoint
// sources produce nothing instead of nonsense.
func (e *Engine) inputsFor(name string, in detection.Inputs, c Coverage) detection.Inputs {
	switch name {
	case "fuel_theft":
		scoped := detection.Inputs{Fuel: in.Fuel}
		if start, end, ok := c.Window(SourceFuel, SourceGPS); ok {
			scoped.GPS = FilterGPS(in.GPS, start, end)
		}
		return scoped
	case "mpg_analysis":
		start, end, ok := c.Window(SourceFuel, SourceGPS)
		if !ok {
			return detection.Inputs{}
		}
		return detection.Inputs{
			Fuel: FilterFuel(in.Fuel, start, end),
			GPS:  FilterGPS(in.GPS, start, end),
		}
	case "ghost_jobs":
		start, end, ok := c.Window(SourceJobs, SourceGPS)
		if !ok {
			return detection.Inputs{}
		}
		// Jobs keep their full set; a job just outside the GPS window
		// still deserves the no-activity check against in-window pings.
		buffer := time.Duration(e.cfg.GhostJobBufferMin) * time.Minute
		return detection.Inputs{
			Jobs: FilterJobs(in.Jobs, start.Add(-2*buffer), end.Add(2*buffer)),
			GPS:  FilterGPS(in.GPS, start, end),
		}
	default:
		return detection.Inputs{GPS: in.GPS}
	}
}

func countVehicles(in detection.Inputs) int {
	ids := make(map[string]bool)
	for _, r := range in.Fuel {
		if r.VehicleID != "" {
			ids[r.VehicleID] = true
		}
	}
	for _, p := range in.GPS {
		if p.VehicleID != "" {
			ids[p.VehicleID] = true
		}
	}
	for _, j := range in.Jobs {
		if j.DriverID != "" {
			ids[j.DriverID] = true
		}
	}
	return len(ids)
}
