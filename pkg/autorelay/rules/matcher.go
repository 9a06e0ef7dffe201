// matcher.go decides which rule fires for an inbound message. Matching is
// case-insensitive substring containment: the inbound text matches a rule
// when it contains the rule's trigger anywhere. At most one rule fires per
// message.
package rules

import "strings"

// MatchMode selects how overlapping triggers are resolved.
type MatchMode string

const (
	// MatchFirst fires the first matching rule in storage order.
	MatchFirst MatchMode = "first"

	// MatchLongest fires the rule with the longest matching trigger;
	// ties are broken by storage order.
	MatchLongest MatchMode = "longest"
)

// Match returns the rule that fires for the given inbound text, or ok=false
// when no trigger is contained in it. The snapshot must come from
// Store.Snapshot so the trigger/reply pair is consistent.
func Match(text string, snapshot []Rule, mode MatchMode) (Rule, bool) {
	lowered := strings.ToLower(text)

	var best Rule
	var found bool

	for _, r := range snapshot {
		if !strings.Contains(lowered, r.Trigger) {
			continue
		}
		if mode != MatchLongest {
			return r, true
		}
		if !found || len(r.Trigger) > len(best.Trigger) {
			best = r
			found = true
		}
	}

	return best, found
}
