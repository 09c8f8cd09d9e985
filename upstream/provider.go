// Package upstream contains clients for the external data sources the
// resolver aggregates: public-transport routing, bike-share availability,
// weather, cafeteria menus and course schedules. Each client implements the
// Provider interface and is individually swappable, which is what makes
// same-category failover (for example BVG to VBB transit routing) possible.
package upstream

import "context"

// Params is a set of normalized request parameters. Values are already in
// canonical form ("from", "to", "near" as "lat,lon" pairs) when they reach
// a provider; each client translates them into whatever query parameters
// its upstream expects, so the canonical names stay provider-agnostic.
type Params map[string]string

// Provider is a single upstream data source for one data category.
type Provider interface {
	// Name returns the provider identifier used in health tracking and
	// results.
	Name() string
	// Fetch performs the upstream request and returns the raw response
	// document.
	Fetch(ctx context.Context, params Params) ([]byte, error)
	// Probe performs a lightweight liveness check.
	Probe(ctx context.Context) error
}
