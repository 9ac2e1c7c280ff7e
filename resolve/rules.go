package resolve

import (
	"path"

	"github.com/c0deZ3R0/docsync/conflict"
)

// Spec is a predicate matching conflicts to rules. Combinators build larger
// matches from small, testable pieces.
type Spec func(conflict.ConflictInfo) bool

// And matches when both specs match.
func And(a, b Spec) Spec {
	return func(c conflict.ConflictInfo) bool { return a != nil && b != nil && a(c) && b(c) }
}

// Or matches when at least one spec matches.
func Or(a, b Spec) Spec {
	return func(c conflict.ConflictInfo) bool { return (a != nil && a(c)) || (b != nil && b(c)) }
}

// Not negates a spec.
func Not(a Spec) Spec { return func(c conflict.ConflictInfo) bool { return a == nil || !a(c) } }

// Always matches every conflict.
func Always() Spec { return func(conflict.ConflictInfo) bool { return true } }

// TypeIs matches any of the given conflict types.
func TypeIs(types ...conflict.ConflictType) Spec {
	return func(c conflict.ConflictInfo) bool {
		for _, t := range types {
			if c.Type == t {
				return true
			}
		}
		return false
	}
}

// SeverityAtMost matches conflicts no more severe than s.
func SeverityAtMost(s conflict.Severity) Spec {
	return func(c conflict.ConflictInfo) bool { return c.Severity <= s }
}

// AnyFieldIn matches when any conflicting path matches one of patterns.
// Patterns use path.Match syntax against the dotted path, so "meta.*"
// matches "meta.owner".
func AnyFieldIn(patterns ...string) Spec {
	return func(c conflict.ConflictInfo) bool {
		for _, f := range c.ConflictingFields {
			if matchAny(patterns, f) {
				return true
			}
		}
		return false
	}
}

// AllFieldsIn matches when every conflicting path matches one of patterns.
func AllFieldsIn(patterns ...string) Spec {
	return func(c conflict.ConflictInfo) bool {
		if len(c.ConflictingFields) == 0 {
			return false
		}
		for _, f := range c.ConflictingFields {
			if !matchAny(patterns, f) {
				return false
			}
		}
		return true
	}
}

func matchAny(patterns []string, field string) bool {
	for _, p := range patterns {
		if p == field {
			return true
		}
		if ok, _ := path.Match(p, field); ok {
			return true
		}
	}
	return false
}

// Rule overrides the suggested resolution of the conflicts it matches.
type Rule struct {
	Name    string
	Match   Spec
	Suggest conflict.ResolutionType
}

// Rules are evaluated in order; the first match wins.
type Rules []Rule

// Apply sets c's suggested resolution from the first matching rule and
// returns that rule's name. A rule never makes a conflict auto-resolvable;
// a rule suggesting manual resolution makes it queue.
func (rs Rules) Apply(c *conflict.ConflictInfo) (string, bool) {
	for _, r := range rs {
		if r.Match == nil || !r.Match(*c) {
			continue
		}
		c.SuggestedResolution = r.Suggest
		if r.Suggest == conflict.Manual {
			c.CanAutoResolve = false
		}
		return r.Name, true
	}
	return "", false
}
