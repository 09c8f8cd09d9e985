package resolver

import (
	"fmt"
	"time"

	"github.com/campusrouter/go-campuscache/upstream"
)

const (
	defaultCallTimeout   = 10 * time.Second
	defaultMinTripMeters = 200
)

// Normalizer maps one provider's raw response document into the unified
// payload shape for its category. A nil normalizer passes the raw document
// through unchanged.
type Normalizer func(raw []byte) ([]byte, error)

type registration struct {
	provider  upstream.Provider
	normalize Normalizer
}

type config struct {
	policies      map[Category]Policy
	sets          map[Category][]registration
	callTimeout   time.Duration
	minTripMeters float64
}

// Option is a function that sets a value in a config.
type Option func(*config) error

// getOpts creates a config and applies Options to it.
func getOpts(opts []Option) (config, error) {
	cfg := config{
		policies:      DefaultPolicies(),
		sets:          make(map[Category][]registration),
		callTimeout:   defaultCallTimeout,
		minTripMeters: defaultMinTripMeters,
	}
	for i, opt := range opts {
		if err := opt(&cfg); err != nil {
			return config{}, fmt.Errorf("option %d failed: %s", i, err)
		}
	}
	return cfg, nil
}

// WithProvider adds a provider to a category's provider set. Registration
// order defines failover preference within the set. The normalizer shapes
// that provider's raw responses; nil keeps them as-is.
func WithProvider(category Category, provider upstream.Provider, normalize Normalizer) Option {
	return func(cfg *config) error {
		if provider == nil {
			return fmt.Errorf("nil provider for category %s", category)
		}
		for _, reg := range cfg.sets[category] {
			if reg.provider.Name() == provider.Name() {
				return fmt.Errorf("duplicate provider %s for category %s", provider.Name(), category)
			}
		}
		cfg.sets[category] = append(cfg.sets[category], registration{
			provider:  provider,
			normalize: normalize,
		})
		return nil
	}
}

// WithPolicy overrides the freshness policy for one category.
func WithPolicy(category Category, policy Policy) Option {
	return func(cfg *config) error {
		if policy.TTL <= 0 {
			return fmt.Errorf("ttl must be positive for category %s", category)
		}
		cfg.policies[category] = policy
		return nil
	}
}

// WithCallTimeout sets the timeout for a single upstream provider call.
// Every upstream call is bounded; a call past its deadline counts as a
// provider failure.
//
// Default is 10 seconds.
func WithCallTimeout(timeout time.Duration) Option {
	return func(cfg *config) error {
		if timeout <= 0 {
			return fmt.Errorf("call timeout must be positive")
		}
		cfg.callTimeout = timeout
		return nil
	}
}

// WithMinTripDistance sets the distance below which a routing request is
// answered with an explicit empty result instead of asking any provider.
// Walking beats any vehicle below this bound.
//
// Default is 200 meters.
func WithMinTripDistance(meters float64) Option {
	return func(cfg *config) error {
		if meters < 0 {
			return fmt.Errorf("minimum trip distance cannot be negative")
		}
		cfg.minTripMeters = meters
		return nil
	}
}
