package upstream

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// StatusError is the error returned for an upstream HTTP response with a
// non-success status. It carries the status code so callers can interpret
// the failure.
type StatusError struct {
	err    error
	status int
}

func NewStatusError(err error, status int) *StatusError {
	return &StatusError{
		err:    err,
		status: status,
	}
}

// errorFromResponse builds an error from a non-success upstream response,
// using the response body as the message when it has one.
func errorFromResponse(status int, body []byte) error {
	var err error
	text := strings.TrimSpace(string(body))
	if text != "" {
		err = errors.New(text)
	}
	return NewStatusError(err, status)
}

func (e *StatusError) Error() string {
	if e.err != nil {
		return fmt.Sprintf("%d: %s", e.status, e.err.Error())
	}
	if text := http.StatusText(e.status); text != "" {
		return fmt.Sprintf("%d %s", e.status, text)
	}
	return fmt.Sprintf("%d", e.status)
}

func (e *StatusError) Status() int {
	return e.status
}

func (e *StatusError) Unwrap() error {
	return e.err
}
