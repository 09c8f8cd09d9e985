package upstream

import (
	"fmt"
	"net/http"
	"time"

	"github.com/hashicorp/go-retryablehttp"
)

const (
	defaultHTTPTimeout  = 10 * time.Second
	defaultRetryMax     = 2
	defaultRetryWaitMin = 200 * time.Millisecond
	defaultRetryWaitMax = 2 * time.Second
)

type config struct {
	httpClient  *http.Client
	httpTimeout time.Duration
	retryMax    int
}

// Option is a function that sets a value in a config.
type Option func(*config) error

// getOpts creates a config and applies Options to it.
func getOpts(opts []Option) (config, error) {
	cfg := config{
		httpTimeout: defaultHTTPTimeout,
		retryMax:    defaultRetryMax,
	}
	for i, opt := range opts {
		if err := opt(&cfg); err != nil {
			return config{}, fmt.Errorf("option %d failed: %s", i, err)
		}
	}
	return cfg, nil
}

// client builds the HTTP client a provider uses, wrapping the base client
// in retry behavior unless retries are disabled.
func (cfg config) client() *http.Client {
	httpClient := cfg.httpClient
	if httpClient == nil {
		httpClient = &http.Client{
			Timeout: cfg.httpTimeout,
		}
	}
	if cfg.retryMax == 0 {
		return httpClient
	}
	rclient := &retryablehttp.Client{
		HTTPClient:   httpClient,
		RetryWaitMin: defaultRetryWaitMin,
		RetryWaitMax: defaultRetryWaitMax,
		RetryMax:     cfg.retryMax,
		CheckRetry:   retryablehttp.DefaultRetryPolicy,
		Backoff:      retryablehttp.DefaultBackoff,
	}
	return rclient.StandardClient()
}

// WithClient allows creation of the provider client using an underlying
// network round tripper / client.
func WithClient(c *http.Client) Option {
	return func(cfg *config) error {
		if c != nil {
			cfg.httpClient = c
		}
		return nil
	}
}

// WithHTTPTimeout sets the timeout for a single upstream HTTP request.
//
// Default is 10 seconds.
func WithHTTPTimeout(timeout time.Duration) Option {
	return func(cfg *config) error {
		if timeout <= 0 {
			return fmt.Errorf("http timeout must be positive")
		}
		cfg.httpTimeout = timeout
		return nil
	}
}

// WithRetryMax sets the number of times a failed upstream request is
// retried before the call is reported as failed. If set to 0, then requests
// are not retried.
//
// Default is 2.
func WithRetryMax(n int) Option {
	return func(cfg *config) error {
		if n < 0 {
			return fmt.Errorf("retry max cannot be negative")
		}
		cfg.retryMax = n
		return nil
	}
}
