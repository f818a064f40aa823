package taskrouter

// Candidate pairs a model descriptor with a snapshot of its admission
// headroom and health at dispatch time, for use by ordering policies.
type Candidate struct {
	Model           *ModelDescriptor
	MinuteRemaining int
	DayRemaining    int
	Health          HealthState
}

// Policy orders candidates before a dispatch walks them. The default policy
// preserves the configured order (primary first), which keeps routing
// deterministic.
type Policy interface {
	// Select orders candidates by priority, highest first.
	Select(candidates []Candidate) []Candidate
}
