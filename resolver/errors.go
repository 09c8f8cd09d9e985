package resolver

import (
	"context"
	"errors"
	"fmt"
)

// ErrNoProviderAvailable means every provider in the requested category is
// down. No upstream call is attempted in this case.
var ErrNoProviderAvailable = errors.New("no provider available")

// ErrUpstreamUnavailable means every eligible provider was attempted for
// this request and all of them failed.
var ErrUpstreamUnavailable = errors.New("all upstream providers failed")

// AttemptError is the failure of a single provider attempt. Timeout marks
// an upstream call that exceeded its deadline; any other failure is a plain
// upstream error.
type AttemptError struct {
	Provider string
	Timeout  bool
	Err      error
}

func newAttemptError(provider string, err error) *AttemptError {
	return &AttemptError{
		Provider: provider,
		Timeout:  errors.Is(err, context.DeadlineExceeded),
		Err:      err,
	}
}

func (e *AttemptError) Error() string {
	if e.Timeout {
		return fmt.Sprintf("provider %s timed out: %s", e.Provider, e.Err)
	}
	return fmt.Sprintf("provider %s failed: %s", e.Provider, e.Err)
}

func (e *AttemptError) Unwrap() error {
	return e.Err
}
