package delta

import "fmt"

// DecodeError reports a changeset body that could not be decoded.
type DecodeError struct {
	Format string // "native" or "mu"
	Index  int    // Element index within the body, -1 for the whole body
	Cause  error
}

// Error implements the error interface.
func (e *DecodeError) Error() string {
	if e.Index >= 0 {
		return fmt.Sprintf("decode error [format=%s, index=%d]: %v", e.Format, e.Index, e.Cause)
	}
	return fmt.Sprintf("decode error [format=%s]: %v", e.Format, e.Cause)
}

// Unwrap returns the underlying cause error.
func (e *DecodeError) Unwrap() error {
	return e.Cause
}

// NewDecodeError creates a new DecodeError.
func NewDecodeError(format string, index int, cause error) *DecodeError {
	return &DecodeError{
		Format: format,
		Index:  index,
		Cause:  cause,
	}
}
