package phealth

import (
	"fmt"
	"time"

	"github.com/benbjohnson/clock"
)

const (
	defaultDegradedThreshold = 3
	defaultDownThreshold     = 5
	defaultProbeInterval     = 10 * time.Minute
	defaultProbeTimeout      = 5 * time.Second
)

type config struct {
	clock             clock.Clock
	degradedThreshold int
	downThreshold     int
	probeInterval     time.Duration
	probeTimeout      time.Duration
}

// Option is a function that sets a value in a config.
type Option func(*config) error

// getOpts creates a config and applies Options to it.
func getOpts(opts []Option) (config, error) {
	cfg := config{
		clock:             clock.New(),
		degradedThreshold: defaultDegradedThreshold,
		downThreshold:     defaultDownThreshold,
		probeInterval:     defaultProbeInterval,
		probeTimeout:      defaultProbeTimeout,
	}
	for i, opt := range opts {
		if err := opt(&cfg); err != nil {
			return config{}, fmt.Errorf("option %d failed: %s", i, err)
		}
	}
	if cfg.downThreshold <= cfg.degradedThreshold {
		return config{}, fmt.Errorf("down threshold must be greater than degraded threshold")
	}
	return cfg, nil
}

// WithClock sets the clock used for probe scheduling and outcome
// timestamps. Intended for testing with a mock clock.
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

// WithDegradedThreshold sets the number of consecutive failures that moves
// a healthy provider to degraded.
//
// Default is 3.
func WithDegradedThreshold(n int) Option {
	return func(cfg *config) error {
		if n < 1 {
			return fmt.Errorf("degraded threshold must be at least 1")
		}
		cfg.degradedThreshold = n
		return nil
	}
}

// WithDownThreshold sets the number of consecutive failures that moves a
// degraded provider to down.
//
// Default is 5.
func WithDownThreshold(n int) Option {
	return func(cfg *config) error {
		if n < 1 {
			return fmt.Errorf("down threshold must be at least 1")
		}
		cfg.downThreshold = n
		return nil
	}
}

// WithProbeInterval sets the interval between background liveness probes of
// non-healthy providers. If set to 0, then background probing is disabled.
//
// Default is 10 minutes.
func WithProbeInterval(interval time.Duration) Option {
	return func(cfg *config) error {
		if interval < 0 {
			return fmt.Errorf("probe interval cannot be negative")
		}
		cfg.probeInterval = interval
		return nil
	}
}

// WithProbeTimeout sets the timeout for a single liveness probe.
//
// Default is 5 seconds.
func WithProbeTimeout(timeout time.Duration) Option {
	return func(cfg *config) error {
		if timeout <= 0 {
			return fmt.Errorf("probe timeout must be positive")
		}
		cfg.probeTimeout = timeout
		return nil
	}
}
