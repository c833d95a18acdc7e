package billing

import "context"

// StaticResolver resolves plans from a fixed user → plan table. Useful for
// tests, development, and deployments that manage plans out of band.
type StaticResolver struct {
	plans       map[string]string
	defaultPlan string
}

// NewStaticResolver builds a resolver over a copy of the given table. Users
// absent from the table resolve to defaultPlan (DefaultPlan when empty).
func NewStaticResolver(plans map[string]string, defaultPlan string) *StaticResolver {
	if defaultPlan == "" {
		defaultPlan = DefaultPlan
	}

	copied := make(map[string]string, len(plans))
	for userID, plan := range plans {
		copied[userID] = plan
	}

	return &StaticResolver{plans: copied, defaultPlan: defaultPlan}
}

// ResolvePlan implements Resolver. It never fails.
func (r *StaticResolver) ResolvePlan(ctx context.Context, userID string) (string, error) {
	if plan, ok := r.plans[userID]; ok {
		return plan, nil
	}
	return r.defaultPlan, nil
}
