package audit

import (
	"fmt"
	"sort"

	"fleet-audit/internal/models"
)

// Summarize rolls consolidated incidents up into per-vehicle and fleet
// financial figures. periodDays is the audited span; weekly and monthly
// estimates extrapolate observed loss across it and are zero when the
// span is unknown.
func Summarize(incidents []models.Incident, periodDays float64) models.FleetSummary {
	summary := models.FleetSummary{
		Vehicles: make(map[string]models.VehicleSummary),
	}
	if len(incidents) == 0 {
		return summary
	}

	for _, inc := range incidents {
		vs := summary.Vehicles[inc.VehicleID]
		vs.VehicleID = inc.VehicleID
		vs.TotalLoss += inc.TotalEstimatedLoss
		vs.IncidentCount++
		if inc.TotalEstimatedLoss > vs.HighestSingleIncident {
			vs.HighestSingleIncident = inc.TotalEstimatedLoss
		}
		vs.Methods = mergeMethods(vs.Methods, inc.Methods)
		summary.Vehicles[inc.VehicleID] = vs

		summary.TotalLoss += inc.TotalEstimatedLoss
		summary.TotalIncidents++
	}

	worstLoss := -1.0
	ids := make([]string, 0, len(summary.Vehicles))
	for id := range summary.Vehicles {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		vs := summary.Vehicles[id]
		vs.WeeklyEstimate = extrapolate(vs.TotalLoss, periodDays, 7)
		vs.MonthlyEstimate = extrapolate(vs.TotalLoss, periodDays, 30)
		vs.Summary = fmt.Sprintf("%s: %d incident(s), $%.2f observed loss, est. $%.2f/month",
			id, vs.IncidentCount, vs.TotalLoss, vs.MonthlyEstimate)
		summary.Vehicles[id] = vs

		if vs.TotalLoss > worstLoss {
			worstLoss = vs.TotalLoss
			summary.WorstOffender = id
		}
	}

	summary.VehiclesFlagged = len(summary.Vehicles)
	summary.WeeklyEstimate = extrapolate(summary.TotalLoss, periodDays, 7)
	summary.MonthlyEstimate = extrapolate(summary.TotalLoss, periodDays, 30)
	return summary
}

// extrapolate scales observed loss over periodDays onto a target span.
func extrapolate(loss, periodDays, targetDays float64) float64 {
	if periodDays <= 0 {
		return 0
	}
	return loss * targetDays / periodDays
}

func mergeMethods(existing, add []models.DetectionMethod) []models.DetectionMethod {
	seen := make(map[models.DetectionMethod]bool, len(existing))
	for _, m := range existing {
		seen[m] = true
	}
	for _, m := range add {
		if !seen[m] {
			seen[m] = true
			existing = append(existing, m)
		}
	}
	return existing
}
