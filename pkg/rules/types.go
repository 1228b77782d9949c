package rules

import (
	"net/url"
	"time"

	"mercator-hq/notifier/pkg/delta"
)

// ResourceFormat names the wire shape of a callback body.
type ResourceFormat string

const (
	// FormatV001 sends a JSON array with one {inserts, deletes} object per
	// contributing changeset, each statement as {subject, predicate, object}
	// of {type, value} terms. The body is the bare array with no version
	// envelope; the format name travels only in the X-Delta-Resource-Format
	// request header.
	FormatV001 ResourceFormat = "v0.0.1"

	// FormatGenesis sends {"delta": {"inserts": [...], "deletes": [...]}}
	// with each statement flattened to {s, p, o} value strings.
	FormatGenesis ResourceFormat = "v0.0.0-genesis"
)

// KnownFormats lists the resource formats the dispatcher can render.
var KnownFormats = []ResourceFormat{FormatV001, FormatGenesis}

// Pattern selects statements. A nil component is a wildcard; the zero
// Pattern matches every statement.
type Pattern struct {
	Subject   *delta.Term `json:"subject,omitempty" yaml:"subject,omitempty"`
	Predicate *delta.Term `json:"predicate,omitempty" yaml:"predicate,omitempty"`
	Object    *delta.Term `json:"object,omitempty" yaml:"object,omitempty"`
}

// IsCatchAll reports whether the pattern has no concrete component.
func (p Pattern) IsCatchAll() bool {
	return p.Subject == nil && p.Predicate == nil && p.Object == nil
}

func (p Pattern) clone() Pattern {
	return Pattern{
		Subject:   cloneTerm(p.Subject),
		Predicate: cloneTerm(p.Predicate),
		Object:    cloneTerm(p.Object),
	}
}

func cloneTerm(t *delta.Term) *delta.Term {
	if t == nil {
		return nil
	}
	c := *t
	return &c
}

// Callback is the HTTP target of a rule.
type Callback struct {
	URL    string `json:"url" yaml:"url"`
	Method string `json:"method" yaml:"method"`
}

// Host returns the host[:port] of the callback URL.
func (c Callback) Host() string {
	u, err := url.Parse(c.URL)
	if err != nil {
		return ""
	}
	return u.Host
}

// Options controls debounce and delivery for a rule.
type Options struct {
	ResourceFormat ResourceFormat `json:"resourceFormat"`
	GracePeriod    time.Duration  `json:"gracePeriod"`
	IgnoreFromSelf bool           `json:"ignoreFromSelf"`

	// Retry overrides the dispatcher's retry count when non-nil.
	Retry *int `json:"retry,omitempty"`

	// RetryTimeout overrides the dispatcher's total delivery budget when
	// positive.
	RetryTimeout time.Duration `json:"retryTimeout,omitempty"`
}

// Rule binds a match pattern to a callback. Rules are values and are never
// mutated after the table is built.
type Rule struct {
	ID       string   `json:"id"`
	Match    Pattern  `json:"match"`
	Callback Callback `json:"callback"`
	Options  Options  `json:"options"`
}

func (r Rule) clone() Rule {
	c := r
	c.Match = r.Match.clone()
	if r.Options.Retry != nil {
		n := *r.Options.Retry
		c.Options.Retry = &n
	}
	return c
}
