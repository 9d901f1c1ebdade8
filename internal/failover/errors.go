package failover

import (
	"fmt"
	"net/http"

	"github.com/opentalon/autopilot/internal/provider"
)

func IsRateLimitError(err error) bool {
	return provider.StatusCode(err) == http.StatusTooManyRequests
}

func IsAuthError(err error) bool {
	code := provider.StatusCode(err)
	return code == http.StatusUnauthorized || code == http.StatusForbidden
}

// IsRetryable reports whether another model may succeed where this one
// failed.
func IsRetryable(err error) bool {
	switch provider.StatusCode(err) {
	case http.StatusTooManyRequests, http.StatusUnauthorized, http.StatusForbidden,
		http.StatusInternalServerError, http.StatusBadGateway, http.StatusServiceUnavailable,
		http.StatusGatewayTimeout, 529:
		return true
	}
	return false
}

// AllExhaustedError is returned when every model in the chain failed or
// was cooling down.
type AllExhaustedError struct {
	Attempted []string
	Last      error
}

func (e *AllExhaustedError) Error() string {
	if e.Last == nil {
		return fmt.Sprintf("all models exhausted, attempted: %v", e.Attempted)
	}
	return fmt.Sprintf("all models exhausted, attempted: %v: %v", e.Attempted, e.Last)
}

func (e *AllExhaustedError) Unwrap() error { return e.Last }
