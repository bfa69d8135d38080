package detection

import (
	"math"
	"strings"

	"fleet-audit/internal/models"
)

const earthRadiusMiles = 3958.8

// HaversineMiles returns the great-circle distance in miles between two
// coordinates.
func HaversineMiles(lat1, lon1, lat2, lon2 float64) float64 {
	lat1Rad := lat1 * math.Pi / 180.0
	lon1Rad := lon1 * math.Pi / 180.0
	lat2Rad := lat2 * math.Pi / 180.0
	lon2Rad := lon2 * math.Pi / 180.0

	dLat := lat2Rad - lat1Rad
	dLon := lon2Rad - lon1Rad

	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1Rad)*math.Cos(lat2Rad)*
			math.Sin(dLon/2)*math.Sin(dLon/2)

	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))

	return earthRadiusMiles * c
}

// Geocoder resolves a free-text address or station description to
// coordinates. Detection paths that need coordinates skip any record
// whose address does not resolve; they never guess.
type Geocoder interface {
	// Geocode returns the coordinates for an address, or ok=false when
	// the address cannot be resolved.
	Geocode(address string) (lat, lon float64, ok bool)
}

// NullGeocoder never resolves anything. It disables every GPS-proximity
// check; the engine warns when it is in use so the degraded coverage is
// visible rather than silent.
type NullGeocoder struct{}

// Geocode always reports failure.
func (NullGeocoder) Geocode(string) (float64, float64, bool) { return 0, 0, false }

// StaticGeocoder resolves addresses from a fixed table, typically the
// fleet's known job sites and fuel stations loaded from configuration.
type StaticGeocoder struct {
	coords map[string]models.Coordinate
}

// NewStaticGeocoder builds a geocoder over an address→coordinate table.
// Keys are matched case-insensitively after trimming.
func NewStaticGeocoder(table map[string]models.Coordinate) *StaticGeocoder {
	coords := make(map[string]models.Coordinate, len(table))
	for addr, c := range table {
		coords[normalizeAddress(addr)] = c
	}
	return &StaticGeocoder{coords: coords}
}

// Geocode looks the address up in the static table.
func (g *StaticGeocoder) Geocode(address string) (float64, float64, bool) {
	c, ok := g.coords[normalizeAddress(address)]
	if !ok {
		return 0, 0, false
	}
	return c.Lat, c.Lon, true
}

// Len returns the number of resolvable addresses.
func (g *StaticGeocoder) Len() int { return len(g.coords) }

func normalizeAddress(addr string) string {
	return strings.ToLower(strings.Join(strings.Fields(addr), " "))
}
