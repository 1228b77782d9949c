package dispatch

import (
	"fmt"
	"net/http"
)

// StatusError is a non-2xx callback response.
type StatusError struct {
	StatusCode int

	// Body holds the start of the response body, for logs.
	Body string
}

// Error implements the error interface.
func (e *StatusError) Error() string {
	if e.Body != "" {
		return fmt.Sprintf("callback returned status %d: %s", e.StatusCode, e.Body)
	}
	return fmt.Sprintf("callback returned status %d", e.StatusCode)
}

// Retryable reports whether a later attempt may succeed. Client errors
// are final except for request timeouts and rate limiting.
func (e *StatusError) Retryable() bool {
	if e.StatusCode >= 400 && e.StatusCode < 500 {
		return e.StatusCode == http.StatusRequestTimeout || e.StatusCode == http.StatusTooManyRequests
	}
	return true
}

// DeliveryError is returned by Deliver when a batch could not be delivered.
type DeliveryError struct {
	RuleID string

	// URL is the redacted callback URL.
	URL string

	// StatusCode of the last response, 0 when none was received.
	StatusCode int

	Attempts int
	Cause    error
}

// Error implements the error interface.
func (e *DeliveryError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("delivery for rule %q to %s failed after %d attempt(s) (status %d): %v",
			e.RuleID, e.URL, e.Attempts, e.StatusCode, e.Cause)
	}
	return fmt.Sprintf("delivery for rule %q to %s failed after %d attempt(s): %v",
		e.RuleID, e.URL, e.Attempts, e.Cause)
}

// Unwrap returns the underlying cause error.
func (e *DeliveryError) Unwrap() error {
	return e.Cause
}
