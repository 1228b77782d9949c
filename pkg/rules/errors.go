package rules

import (
	"fmt"
	"strings"
)

// FieldError describes one invalid field of one rule.
type FieldError struct {
	Index   int    // Position in the rule file
	RuleID  string // May be empty when the ID itself is missing
	Field   string // Dotted path within the rule, e.g. "callback.url"
	Message string
}

// Error implements the error interface.
func (e FieldError) Error() string {
	if e.RuleID != "" {
		return fmt.Sprintf("rule[%d] %q: %s: %s", e.Index, e.RuleID, e.Field, e.Message)
	}
	return fmt.Sprintf("rule[%d]: %s: %s", e.Index, e.Field, e.Message)
}

// ValidationError collects every problem found in a rule set.
type ValidationError struct {
	Errors []FieldError
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	if len(e.Errors) == 1 {
		return "invalid rule table: " + e.Errors[0].Error()
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "invalid rule table: %d errors:", len(e.Errors))
	for _, fe := range e.Errors {
		sb.WriteString("\n  - ")
		sb.WriteString(fe.Error())
	}
	return sb.String()
}

// LoadError reports a rule file that could not be read or decoded.
type LoadError struct {
	Path  string
	Cause error
}

// Error implements the error interface.
func (e *LoadError) Error() string {
	return fmt.Sprintf("load rules [path=%s]: %v", e.Path, e.Cause)
}

// Unwrap returns the underlying cause error.
func (e *LoadError) Unwrap() error {
	return e.Cause
}
