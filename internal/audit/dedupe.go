package audit

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"fleet-audit/internal/models"
)

// methodClusters groups detection methods that tend to fire together on
// the same underlying event. Two violations sharing any cluster are
// candidates for merging.
var methodClusters = map[string][]models.DetectionMethod{
	"fuel_theft": {
		models.MethodVolumeExcess,
		models.MethodEstimatedVolumeExcess,
		models.MethodRapidRefill,
		models.MethodPriceExcess,
		models.MethodPricePremium,
		models.MethodPatternDeviation,
		models.MethodDailyExcess,
	},
	"mpg_fraud": {
		models.MethodFuelDumpingMPG,
		models.MethodOdometerFraudMPG,
		models.MethodExcessiveConsumptionMPG,
		models.MethodIdleRefillMPG,
	},
	"idle": {
		models.MethodIdleAbuse,
		models.MethodExcessiveConsumptionMPG,
	},
	"timing": {
		models.MethodTimingAnomaly,
		models.MethodFrequencyAnomaly,
	},
}

var clustersByMethod = buildClusterIndex()

func buildClusterIndex() map[models.DetectionMethod][]string {
	idx := make(map[models.DetectionMethod][]string)
	names := make([]string, 0, len(methodClusters))
	for name := range methodClusters {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		for _, m := range methodClusters[name] {
			idx[m] = append(idx[m], name)
		}
	}
	return idx
}

func sharesCluster(a, b models.DetectionMethod) bool {
	for _, ca := range clustersByMethod[a] {
		for _, cb := range clustersByMethod[b] {
			if ca == cb {
				return true
			}
		}
	}
	return false
}

// Deduplicator merges raw violations that describe the same real-world
// event into consolidated incidents.
type Deduplicator struct {
	window time.Duration
}

// NewDeduplicator builds a deduplicator with the given grouping window
// in hours.
func NewDeduplicator(windowHours float64) *Deduplicator {
	return &Deduplicator{window: time.Duration(windowHours * float64(time.Hour))}
}

// related reports whether two violations likely describe one event:
// same vehicle, close in time, and either overlapping method clusters
// or the same recorded location.
func (d *Deduplicator) related(a, b models.Violation) bool {
	if a.VehicleID != b.VehicleID {
		return false
	}
	gap := b.Timestamp.Sub(a.Timestamp)
	if gap < 0 {
		gap = -gap
	}
	if gap > d.window {
		return false
	}
	if sharesCluster(a.Method, b.Method) {
		return true
	}
	return a.Location != "" && a.Location == b.Location
}

// Consolidate merges the violations into incidents. Relatedness is
// transitive through a shared member: A~B and B~C lands all three in
// one incident even when A and C are not directly related. Output order
// is deterministic for a given input set.
func (d *Deduplicator) Consolidate(violations []models.Violation) []models.Incident {
	if len(violations) == 0 {
		return nil
	}

	vs := make([]models.Violation, len(violations))
	copy(vs, violations)
	sortViolations(vs)

	parent := make([]int, len(vs))
	for i := range parent {
		parent[i] = i
	}
	var find func(int) int
	find = func(i int) int {
		for parent[i] != i {
			parent[i] = parent[parent[i]]
			i = parent[i]
		}
		return i
	}
	union := func(i, j int) {
		ri, rj := find(i), find(j)
		if ri != rj {
			parent[rj] = ri
		}
	}

	// Sorted by vehicle then time, so only a bounded forward window
	// needs pairwise checks.
	for i := 0; i < len(vs); i++ {
		for j := i + 1; j < len(vs); j++ {
			if vs[j].VehicleID != vs[i].VehicleID {
				break
			}
			if vs[j].Timestamp.Sub(vs[i].Timestamp) > d.window {
				break
			}
			if d.related(vs[i], vs[j]) {
				union(i, j)
			}
		}
	}

	groups := make(map[int][]models.Violation)
	roots := make([]int, 0)
	for i := range vs {
		r := find(i)
		if _, seen := groups[r]; !seen {
			roots = append(roots, r)
		}
		groups[r] = append(groups[r], vs[i])
	}

	incidents := make([]models.Incident, 0, len(roots))
	for _, r := range roots {
		incidents = append(incidents, buildIncident(groups[r]))
	}
	sortIncidents(incidents)
	return incidents
}

// sortViolations orders by vehicle, time, then method and description
// so equal inputs always consolidate identically.
func sortViolations(vs []models.Violation) {
	sort.SliceStable(vs, func(i, j int) bool {
		if vs[i].VehicleID != vs[j].VehicleID {
			return vs[i].VehicleID < vs[j].VehicleID
		}
		if !vs[i].Timestamp.Equal(vs[j].Timestamp) {
			return vs[i].Timestamp.Before(vs[j].Timestamp)
		}
		if vs[i].Method != vs[j].Method {
			return vs[i].Method < vs[j].Method
		}
		return vs[i].Description < vs[j].Description
	})
}

func sortIncidents(incidents []models.Incident) {
	sort.SliceStable(incidents, func(i, j int) bool {
		a, b := incidents[i], incidents[j]
		if a.Severity.Rank() != b.Severity.Rank() {
			return a.Severity.Rank() > b.Severity.Rank()
		}
		if a.TotalEstimatedLoss != b.TotalEstimatedLoss {
			return a.TotalEstimatedLoss > b.TotalEstimatedLoss
		}
		if a.VehicleID != b.VehicleID {
			return a.VehicleID < b.VehicleID
		}
		return a.Timestamp.Before(b.Timestamp)
	})
}

// buildIncident collapses one related group. Members arrive time-sorted.
func buildIncident(members []models.Violation) models.Incident {
	inc := models.Incident{
		VehicleID:     members[0].VehicleID,
		Timestamp:     members[0].Timestamp,
		EvidenceCount: len(members),
		Members:       members,
	}

	seen := make(map[models.DetectionMethod]bool)
	maxConf := 0.0
	for _, v := range members {
		inc.Severity = models.MaxSeverity(inc.Severity, v.Severity)
		inc.TotalEstimatedLoss += v.EstimatedLoss
		if v.Confidence > maxConf {
			maxConf = v.Confidence
		}
		if inc.Location == "" && v.Location != "" {
			inc.Location = v.Location
		}
		if !seen[v.Method] {
			seen[v.Method] = true
			inc.Methods = append(inc.Methods, v.Method)
		}
	}

	// Corroborating evidence raises confidence, capped below certainty.
	inc.Confidence = maxConf
	if len(members) > 1 {
		inc.Confidence = maxConf + 0.1
		if inc.Confidence > 0.99 {
			inc.Confidence = 0.99
		}
	}

	inc.Description = describeIncident(inc, members)
	return inc
}

// describeIncident synthesizes a headline for the merged incident. A
// single-member incident keeps its original description.
func describeIncident(inc models.Incident, members []models.Violation) string {
	if len(members) == 1 {
		return members[0].Description
	}

	hasFuel, hasMPG := false, false
	for _, m := range inc.Methods {
		for _, cm := range methodClusters["fuel_theft"] {
			if m == cm {
				hasFuel = true
			}
		}
		for _, cm := range methodClusters["mpg_fraud"] {
			if m == cm {
				hasMPG = true
			}
		}
	}

	var headline string
	switch {
	case hasFuel && hasMPG:
		headline = "MULTI-FACTOR FUEL THEFT DETECTED"
	case hasFuel:
		headline = "FUEL THEFT DETECTED"
	case hasMPG:
		headline = "FUEL EFFICIENCY FRAUD DETECTED"
	default:
		headline = "FLEET VIOLATION DETECTED"
	}

	shown := inc.Methods
	if len(shown) > 3 {
		shown = shown[:3]
	}
	parts := make([]string, len(shown))
	for i, m := range shown {
		parts[i] = strings.ReplaceAll(string(m), "_", " ")
	}
	suffix := strings.Join(parts, ", ")
	if len(inc.Methods) > 3 {
		suffix += fmt.Sprintf(" and %d more", len(inc.Methods)-3)
	}

	s := fmt.Sprintf("%s: %d corroborating signals (%s)", headline, len(members), suffix)
	if inc.TotalEstimatedLoss > 0 {
		s += fmt.Sprintf(" - estimated loss $%.2f", inc.TotalEstimatedLoss)
	}
	return s
}
