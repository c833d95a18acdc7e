// Package stripe resolves plans from live Stripe subscription data. A user's
// plan is derived from their active subscriptions: each subscription item's
// price ID is mapped through a configured table, and the highest-ranked plan
// wins.
package stripe

import (
	"context"
	"strings"

	"github.com/stripe/stripe-go/v83"

	"github.com/impactlab/impactcast/pkg/billing"
	"github.com/impactlab/impactcast/pkg/logging"
)

const (
	wildcardKey              = "*"
	defaultKey               = "default"
	subscriptionStatusActive = "active"
)

// defaultPlanWeights ranks the built-in plan ladder. Higher wins when a
// customer carries several active subscriptions.
var defaultPlanWeights = map[string]int{
	"business":   1,
	"pro":        2,
	"enterprise": 3,
}

// Config configures the Stripe resolver.
type Config struct {
	// APIKey is the Stripe secret key used for API calls.
	APIKey string

	// PriceToPlan maps Stripe price IDs to plan slugs, e.g.
	// {"price_1AbC": "pro"}. The reserved keys "*" and "default" set the
	// plan returned for users without an active subscription.
	PriceToPlan map[string]string

	// PlanWeights ranks plans when a customer has several active
	// subscriptions (higher wins). Defaults to the built-in ladder
	// business < pro < enterprise.
	PlanWeights map[string]int

	// CustomerID optionally maps a user ID straight to a Stripe customer
	// ID, skipping the Search API round trip. Errors fall back to search.
	CustomerID func(ctx context.Context, userID string) (string, error)

	// Logger defaults to the no-op logger.
	Logger logging.Logger
}

// Resolver implements billing.Resolver against the Stripe API.
type Resolver struct {
	client      *stripe.Client
	priceToPlan map[string]string
	planWeights map[string]int
	defaultPlan string
	customerID  func(ctx context.Context, userID string) (string, error)
	log         logging.Logger
}

// NewResolver creates a Stripe-backed plan resolver.
func NewResolver(config Config) (*Resolver, error) {
	apiKey := strings.TrimSpace(config.APIKey)
	if apiKey == "" {
		return nil, billing.ErrNotConfigured
	}

	priceToPlan := make(map[string]string, len(config.PriceToPlan))
	for priceID, plan := range config.PriceToPlan {
		priceToPlan[strings.ToLower(priceID)] = plan
	}

	defaultPlan := billing.DefaultPlan
	if plan, ok := priceToPlan[wildcardKey]; ok {
		defaultPlan = plan
	} else if plan, ok := priceToPlan[defaultKey]; ok {
		defaultPlan = plan
	}

	planWeights := make(map[string]int)
	if config.PlanWeights != nil {
		for plan, weight := range config.PlanWeights {
			planWeights[plan] = weight
		}
	} else {
		for plan, weight := range defaultPlanWeights {
			planWeights[plan] = weight
		}
	}

	log := config.Logger
	if log == nil {
		log = &logging.NoopLogger{}
	}

	return &Resolver{
		client:      stripe.NewClient(apiKey),
		priceToPlan: priceToPlan,
		planWeights: planWeights,
		defaultPlan: defaultPlan,
		customerID:  config.CustomerID,
		log:         log,
	}, nil
}

// DefaultPlan returns the plan used for users without an active subscription.
func (r *Resolver) DefaultPlan() string {
	return r.defaultPlan
}

// mapPriceToPlan maps a Stripe price ID to a plan slug. Lookup is
// case-insensitive; unknown prices map to the default plan.
func (r *Resolver) mapPriceToPlan(priceID string) string {
	if priceID == "" {
		return r.defaultPlan
	}
	if plan, ok := r.priceToPlan[strings.ToLower(strings.TrimSpace(priceID))]; ok {
		return plan
	}
	return r.defaultPlan
}

// planWeight returns the rank of a plan; unknown plans rank lowest.
func (r *Resolver) planWeight(plan string) int {
	return r.planWeights[plan]
}
