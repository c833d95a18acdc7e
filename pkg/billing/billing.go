// Package billing resolves users to subscription plans. The rest of the
// system treats plan names as opaque strings; this package owns the lookup,
// whether from a static table or a live billing provider.
package billing

import "context"

// DefaultPlan is the plan users resolve to when no mapping or subscription
// exists for them.
const DefaultPlan = "business"

// Resolver maps a user to their subscription plan. Implementations must be
// safe for concurrent use.
type Resolver interface {
	// ResolvePlan returns the plan slug for the user. Users unknown to the
	// backing provider resolve to the implementation's default plan, not
	// an error; errors mean the provider could not be consulted at all.
	ResolvePlan(ctx context.Context, userID string) (string, error)
}
