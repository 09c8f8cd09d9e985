package resolver

import (
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/campusrouter/go-campuscache/upstream"
)

// Request is a logical request for one data category. Params must already
// be normalized; the helpers below produce canonical forms so that
// semantically identical requests always map to the same cache key.
type Request struct {
	Category Category
	Params   upstream.Params
}

// cacheKey derives the deterministic cache key for a request. Params are
// sorted by name, so insertion order never changes the key.
func (r Request) cacheKey() string {
	names := make([]string, 0, len(r.Params))
	for name := range r.Params {
		names = append(names, name)
	}
	sort.Strings(names)

	var b strings.Builder
	b.WriteString(string(r.Category))
	b.WriteByte('/')
	for i, name := range names {
		if i != 0 {
			b.WriteByte('&')
		}
		b.WriteString(name)
		b.WriteByte('=')
		b.WriteString(r.Params[name])
	}
	return b.String()
}

// NormalizeCoord renders a coordinate pair in canonical form: 4 decimal
// places, about 11 meters of resolution. Nearby requests share cache
// entries instead of fragmenting the cache per GPS jitter.
func NormalizeCoord(lat, lon float64) string {
	return fmt.Sprintf("%.4f,%.4f", lat, lon)
}

// NormalizeDeparture buckets a departure time to 5 minutes in UTC, so that
// "now" requests arriving moments apart resolve to the same key.
func NormalizeDeparture(t time.Time) string {
	return t.UTC().Truncate(5 * time.Minute).Format(time.RFC3339)
}

// RouteParams builds the normalized params for a transit routing request.
func RouteParams(fromLat, fromLon, toLat, toLon float64, departure time.Time) upstream.Params {
	return upstream.Params{
		"from":      NormalizeCoord(fromLat, fromLon),
		"to":        NormalizeCoord(toLat, toLon),
		"departure": NormalizeDeparture(departure),
	}
}

// NearbyParams builds the normalized params for a positional lookup such as
// bike availability or weather.
func NearbyParams(lat, lon float64, radiusMeters int) upstream.Params {
	return upstream.Params{
		"near":   NormalizeCoord(lat, lon),
		"radius": strconv.Itoa(radiusMeters),
	}
}

// parseCoord parses a canonical "lat,lon" value.
func parseCoord(s string) (lat, lon float64, ok bool) {
	latStr, lonStr, found := strings.Cut(s, ",")
	if !found {
		return 0, 0, false
	}
	lat, err := strconv.ParseFloat(latStr, 64)
	if err != nil {
		return 0, 0, false
	}
	lon, err = strconv.ParseFloat(lonStr, 64)
	if err != nil {
		return 0, 0, false
	}
	return lat, lon, true
}

const earthRadiusMeters = 6371000

// haversineMeters returns the great-circle distance between two points.
func haversineMeters(lat1, lon1, lat2, lon2 float64) float64 {
	const degToRad = math.Pi / 180
	dLat := (lat2 - lat1) * degToRad
	dLon := (lon2 - lon1) * degToRad
	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1*degToRad)*math.Cos(lat2*degToRad)*math.Sin(dLon/2)*math.Sin(dLon/2)
	return 2 * earthRadiusMeters * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
}
