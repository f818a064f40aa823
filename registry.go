package taskrouter

import (
	"sort"
	"time"
)

// ModelDescriptor describes one configured backend model. Immutable after
// construction; the embedded bucket is the only mutable state and guards
// itself.
type ModelDescriptor struct {
	Name    string
	Backend Backend
	RPM     int
	RPD     int

	bucket *Bucket
}

// TryAdmit consumes one admission slot from the model's quota bucket.
func (m *ModelDescriptor) TryAdmit(now time.Time) Admission {
	return m.bucket.TryAdmit(now)
}

// Remaining reports the model's remaining minute and day admissions.
func (m *ModelDescriptor) Remaining(now time.Time) (minute, day int) {
	return m.bucket.Remaining(now)
}

// Registry is the static routing table from task category to an ordered
// candidate list. It owns one quota bucket per model. Read-only after
// construction, safe for concurrent use.
type Registry struct {
	tasks  map[string][]*ModelDescriptor
	models map[string]*ModelDescriptor
}

// NewRegistry builds a registry from a validated config and the set of
// registered backends, keyed by backend name. Unknown backend references
// are a construction error, never a dispatch error.
func NewRegistry(cfg Config, backends map[string]Backend) (*Registry, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	models := make(map[string]*ModelDescriptor, len(cfg.Models))
	for _, mc := range cfg.Models {
		be, ok := backends[mc.Backend]
		if !ok {
			return nil, configErrorf("model %s: no backend registered with name %q", mc.Name, mc.Backend)
		}
		models[mc.Name] = &ModelDescriptor{
			Name:    mc.Name,
			Backend: be,
			RPM:     mc.RPM,
			RPD:     mc.RPD,
			bucket:  NewBucket(mc.RPM, mc.RPD),
		}
	}

	tasks := make(map[string][]*ModelDescriptor, len(cfg.Tasks))
	for _, tc := range cfg.Tasks {
		candidates := make([]*ModelDescriptor, 0, len(tc.Models))
		for _, name := range tc.Models {
			candidates = append(candidates, models[name])
		}
		tasks[tc.Name] = candidates
	}

	return &Registry{tasks: tasks, models: models}, nil
}

// CandidatesFor returns the ordered candidate models for a task category,
// primary first. Returns ErrUnknownTask for unconfigured categories.
func (r *Registry) CandidatesFor(task string) ([]*ModelDescriptor, error) {
	candidates, ok := r.tasks[task]
	if !ok {
		return nil, ErrUnknownTask
	}
	return candidates, nil
}

// Model returns the descriptor for a model name.
func (r *Registry) Model(name string) (*ModelDescriptor, bool) {
	m, ok := r.models[name]
	return m, ok
}

// Tasks returns the configured task categories in sorted order.
func (r *Registry) Tasks() []string {
	names := make([]string, 0, len(r.tasks))
	for name := range r.tasks {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
