package policy

import "github.com/journalmuse/taskrouter"

// ConfigOrder keeps candidates in their configured priority order: the
// primary model first, then fallbacks. This is the router's default.
type ConfigOrder struct{}

var _ taskrouter.Policy = (*ConfigOrder)(nil)

// Select returns the candidates unchanged.
func (p *ConfigOrder) Select(candidates []taskrouter.Candidate) []taskrouter.Candidate {
	return candidates
}
