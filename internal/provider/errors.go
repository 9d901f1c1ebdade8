package provider

import (
	"errors"
	"fmt"

	"github.com/anthropics/anthropic-sdk-go"
)

// StatusError is a non-success HTTP answer from an inference backend.
type StatusError struct {
	Provider   string
	StatusCode int
	Message    string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s api error (status %d): %s", e.Provider, e.StatusCode, e.Message)
}

// StatusCode extracts the HTTP status carried by err, or 0 when err did
// not come from a backend response.
func StatusCode(err error) int {
	var se *StatusError
	if errors.As(err, &se) {
		return se.StatusCode
	}
	var ae *anthropic.Error
	if errors.As(err, &ae) {
		return ae.StatusCode
	}
	return 0
}
