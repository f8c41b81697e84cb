package engine

import "github.com/ArthurVigier/Cerastes-Public-API/internal/config"

// Quota is the effective plan limits for one owner.
type Quota struct {
	MaxConcurrent int
	MaxQueueDepth int
	MaxTextLength int
	Priority      int
}

// Quotas resolves an owner to its plan limits. Implementations must be safe
// for concurrent use.
type Quotas interface {
	Lookup(owner string) Quota
}

// StaticQuotas assigns plans from a fixed owner to plan-name table, falling
// back to a default plan for unknown owners.
type StaticQuotas struct {
	plans       map[string]Quota
	assignments map[string]string
	defaultPlan string
}

// NewStaticQuotas builds a resolver from configured plans. assignments maps
// owner keys to plan names; unlisted owners get defaultPlan.
func NewStaticQuotas(plans map[string]config.Plan, assignments map[string]string, defaultPlan string) *StaticQuotas {
	if len(plans) == 0 {
		plans = config.DefaultPlans()
	}
	if defaultPlan == "" {
		defaultPlan = "free"
	}
	q := &StaticQuotas{
		plans:       make(map[string]Quota, len(plans)),
		assignments: assignments,
		defaultPlan: defaultPlan,
	}
	for name, p := range plans {
		q.plans[name] = Quota{
			MaxConcurrent: p.MaxConcurrent,
			MaxQueueDepth: p.MaxQueueDepth,
			MaxTextLength: p.MaxTextLength,
			Priority:      p.Priority,
		}
	}
	return q
}

func (q *StaticQuotas) Lookup(owner string) Quota {
	name := q.defaultPlan
	if plan, ok := q.assignments[owner]; ok {
		name = plan
	}
	if quota, ok := q.plans[name]; ok {
		return quota
	}
	// Misconfigured default: fall back to the strictest sane limits.
	return Quota{MaxConcurrent: 1, MaxQueueDepth: 8, MaxTextLength: 10000}
}
