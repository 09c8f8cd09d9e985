package resolver

import "time"

// Category identifies one kind of upstream data. Each category has its own
// provider set and freshness policy.
type Category string

const (
	Routes    Category = "routes"
	Bikes     Category = "bikes"
	Weather   Category = "weather"
	Menus     Category = "menus"
	Schedules Category = "schedules"
)

// Policy is the freshness policy for one category. AllowStale permits
// serving an expired cache entry, explicitly marked stale, when every
// provider has failed; it is reserved for slow-moving data where last
// week's answer beats no answer.
type Policy struct {
	TTL        time.Duration
	AllowStale bool
}

// DefaultPolicies returns the default per-category freshness table.
// Volatility differs by orders of magnitude between categories: bike
// positions churn within a minute while course schedules hold for a
// semester.
func DefaultPolicies() map[Category]Policy {
	return map[Category]Policy{
		Routes:    {TTL: 5 * time.Minute},
		Bikes:     {TTL: 30 * time.Second},
		Weather:   {TTL: 10 * time.Minute},
		Menus:     {TTL: 7 * 24 * time.Hour, AllowStale: true},
		Schedules: {TTL: 14 * 24 * time.Hour, AllowStale: true},
	}
}
