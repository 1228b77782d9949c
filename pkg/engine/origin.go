package engine

import (
	"mercator-hq/notifier/pkg/delta"
	"mercator-hq/notifier/pkg/rules"
)

// OriginFilter suppresses changesets the engine caused itself.
type OriginFilter struct {
	// Identity is the origin under which this engine's callbacks write
	// back into the store. Empty disables identity matching.
	Identity string

	// IdentifyByCallbackHost also treats an origin equal to the rule's
	// callback host as self.
	IdentifyByCallbackHost bool
}

// ShouldIgnore reports whether cs must be skipped for rule r. Only rules
// with ignoreFromSelf are affected, and a changeset without an origin is
// never ignored.
func (f OriginFilter) ShouldIgnore(r rules.Rule, cs *delta.Changeset) bool {
	if !r.Options.IgnoreFromSelf || cs.Origin == "" {
		return false
	}
	if f.Identity != "" && cs.Origin == f.Identity {
		return true
	}
	if f.IdentifyByCallbackHost {
		if host := r.Callback.Host(); host != "" && cs.Origin == host {
			return true
		}
	}
	return false
}
