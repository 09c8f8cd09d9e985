package rcache

import (
	"fmt"
	"time"

	"github.com/benbjohnson/clock"
	ds "github.com/ipfs/go-datastore"
)

const defaultDurableTimeout = 5 * time.Second

type config struct {
	clock          clock.Clock
	durable        ds.TTLDatastore
	durableTimeout time.Duration
}

// Option is a function that sets a value in a config.
type Option func(*config) error

// getOpts creates a config and applies Options to it.
func getOpts(opts []Option) (config, error) {
	cfg := config{
		clock:          clock.New(),
		durableTimeout: defaultDurableTimeout,
	}
	for i, opt := range opts {
		if err := opt(&cfg); err != nil {
			return config{}, fmt.Errorf("option %d failed: %s", i, err)
		}
	}
	return cfg, nil
}

// WithClock sets the clock used to judge entry freshness. Intended for
// testing with a mock clock.
//
// Default is the wall clock.
func WithClock(c clock.Clock) Option {
	return func(cfg *config) error {
		if c != nil {
			cfg.clock = c
		}
		return nil
	}
}

// WithDurable configures a durable backing tier. Entries written to the
// cache are mirrored into the datastore asynchronously, and memory misses
// fall through to it. If not set, the cache operates memory-only.
func WithDurable(dstore ds.TTLDatastore) Option {
	return func(cfg *config) error {
		cfg.durable = dstore
		return nil
	}
}

// WithDurableTimeout sets the per-operation timeout for durable tier access.
//
// Default is 5 seconds.
func WithDurableTimeout(timeout time.Duration) Option {
	return func(cfg *config) error {
		if timeout <= 0 {
			return fmt.Errorf("durable timeout must be positive")
		}
		cfg.durableTimeout = timeout
		return nil
	}
}
