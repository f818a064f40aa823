package policy

import (
	"sort"

	"github.com/journalmuse/taskrouter"
)

// HeadroomFirst orders candidates by remaining daily admissions, most
// first, breaking ties by remaining minute admissions. Spreads load across
// models instead of draining the primary, at the cost of deterministic
// primary-first routing.
type HeadroomFirst struct{}

var _ taskrouter.Policy = (*HeadroomFirst)(nil)

// Select orders candidates by headroom descending.
func (p *HeadroomFirst) Select(candidates []taskrouter.Candidate) []taskrouter.Candidate {
	result := make([]taskrouter.Candidate, len(candidates))
	copy(result, candidates)

	sort.SliceStable(result, func(i, j int) bool {
		ci, cj := result[i], result[j]
		if ci.DayRemaining != cj.DayRemaining {
			return ci.DayRemaining > cj.DayRemaining
		}
		return ci.MinuteRemaining > cj.MinuteRemaining
	})

	return result
}
