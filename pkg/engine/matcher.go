package engine

import (
	"mercator-hq/notifier/pkg/delta"
	"mercator-hq/notifier/pkg/rules"
)

// Matches reports whether statement s satisfies pattern p: every present
// pattern component must equal the statement's component in type and
// value. An incomplete statement matches nothing, not even a catch-all.
func Matches(p rules.Pattern, s delta.Statement) bool {
	if !s.Complete() {
		return false
	}
	return componentMatches(p.Subject, s.Subject) &&
		componentMatches(p.Predicate, s.Predicate) &&
		componentMatches(p.Object, s.Object)
}

func componentMatches(want, got *delta.Term) bool {
	if want == nil {
		return true
	}
	return want.Equal(*got)
}

// MatchStatements returns the statements of stmts matching p, in order.
func MatchStatements(p rules.Pattern, stmts []delta.Statement) []delta.Statement {
	var out []delta.Statement
	for _, s := range stmts {
		if Matches(p, s) {
			out = append(out, s)
		}
	}
	return out
}
