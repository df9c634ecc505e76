package replay

import (
	"strings"
	"time"

	"github.com/pavankpdev/rate-limiting-implementation/internal/admission"
)

// Filter defines criteria for selecting journal events during replay.
type Filter struct {
	Identities []string         // only include these identities (empty = all)
	Flows      []admission.Flow // only include these flows (empty = all)
	After      time.Time        // only include events after this time (zero = no limit)
	Before     time.Time        // only include events before this time (zero = no limit)
}

// Match returns true if the event passes the filter. Identity patterns
// match exactly or as substrings, so "user:" selects every logged-in
// identity.
func (f *Filter) Match(e admission.Event) bool {
	if len(f.Identities) > 0 && !matchIdentity(f.Identities, e.Identity) {
		return false
	}
	if len(f.Flows) > 0 && !containsFlow(f.Flows, e.Flow) {
		return false
	}
	if !f.After.IsZero() && !e.Time.After(f.After) {
		return false
	}
	if !f.Before.IsZero() && !e.Time.Before(f.Before) {
		return false
	}
	return true
}

func matchIdentity(patterns []string, identity string) bool {
	for _, p := range patterns {
		if p == identity || strings.Contains(identity, p) {
			return true
		}
	}
	return false
}

func containsFlow(flows []admission.Flow, flow admission.Flow) bool {
	for _, f := range flows {
		if f == flow {
			return true
		}
	}
	return false
}
