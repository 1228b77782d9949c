package rules

import (
	"fmt"
	"net/url"
	"slices"
	"strings"

	"mercator-hq/notifier/pkg/delta"
)

var validMethods = map[string]bool{
	"GET": true, "POST": true, "PUT": true, "PATCH": true, "DELETE": true,
}

// Validate checks every rule and returns a *ValidationError listing all
// problems, or nil.
func Validate(rules []Rule) error {
	var errs []FieldError
	seen := make(map[string]int, len(rules))

	for i, r := range rules {
		add := func(field, format string, args ...any) {
			errs = append(errs, FieldError{Index: i, RuleID: r.ID, Field: field, Message: fmt.Sprintf(format, args...)})
		}

		if r.ID == "" {
			add("id", "id is required")
		} else if prev, dup := seen[r.ID]; dup {
			add("id", "duplicate id (also used by rule[%d])", prev)
		} else {
			seen[r.ID] = i
		}

		checkTerm := func(field string, t *delta.Term) {
			if t == nil {
				return
			}
			if t.Type == "" {
				add(field+".type", "type is required when the component is present")
			}
			if t.Value == "" {
				add(field+".value", "value is required when the component is present")
			}
		}
		checkTerm("match.subject", r.Match.Subject)
		checkTerm("match.predicate", r.Match.Predicate)
		checkTerm("match.object", r.Match.Object)

		if r.Callback.URL == "" {
			add("callback.url", "url is required")
		} else if u, err := url.Parse(r.Callback.URL); err != nil {
			add("callback.url", "invalid url: %v", err)
		} else if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			add("callback.url", "url must be absolute http(s), got %q", r.Callback.URL)
		}

		if r.Callback.Method == "" {
			add("callback.method", "method is required")
		} else if !validMethods[strings.ToUpper(r.Callback.Method)] {
			add("callback.method", "unsupported method %q", r.Callback.Method)
		}

		if r.Options.ResourceFormat == "" {
			add("options.resourceFormat", "resourceFormat is required")
		} else if !slices.Contains(KnownFormats, r.Options.ResourceFormat) {
			add("options.resourceFormat", "unknown resource format %q", r.Options.ResourceFormat)
		}
		if r.Options.GracePeriod < 0 {
			add("options.gracePeriod", "grace period must be non-negative")
		}
		if r.Options.Retry != nil && *r.Options.Retry < 0 {
			add("options.retry", "retry must be non-negative")
		}
		if r.Options.RetryTimeout < 0 {
			add("options.retryTimeout", "retry timeout must be non-negative")
		}
	}

	if len(errs) > 0 {
		return &ValidationError{Errors: errs}
	}
	return nil
}
