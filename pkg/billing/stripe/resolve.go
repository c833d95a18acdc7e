package stripe

import (
	"context"
	"errors"
	"fmt"

	"github.com/stripe/stripe-go/v83"

	"github.com/impactlab/impactcast/pkg/billing"
	"github.com/impactlab/impactcast/pkg/logging"
)

// ResolvePlan implements billing.Resolver. Users without a Stripe customer
// record or without active subscriptions resolve to the default plan; an
// error means Stripe could not be consulted.
func (r *Resolver) ResolvePlan(ctx context.Context, userID string) (string, error) {
	customerID, err := r.lookupCustomerID(ctx, userID)
	if errors.Is(err, billing.ErrUserNotFound) {
		r.log.Debug("stripe customer not found, using default plan",
			logging.F("user_id", userID),
			logging.F("plan", r.defaultPlan))
		return r.defaultPlan, nil
	}
	if err != nil {
		return r.defaultPlan, err
	}

	subscriptions, err := r.listActiveSubscriptions(ctx, customerID)
	if err != nil {
		return r.defaultPlan, err
	}

	plan := r.planFromSubscriptions(subscriptions)
	r.log.Debug("resolved plan from stripe",
		logging.F("user_id", userID),
		logging.F("plan", plan),
		logging.F("subscriptions", len(subscriptions)))
	return plan, nil
}

// lookupCustomerID finds the Stripe customer for a user. The fast path asks
// the configured CustomerID hook; the slow path is the Search API, which is
// eventually consistent and costs a network round trip.
func (r *Resolver) lookupCustomerID(ctx context.Context, userID string) (string, error) {
	if r.customerID != nil {
		customerID, err := r.customerID(ctx, userID)
		if err == nil && customerID != "" {
			return customerID, nil
		}
		if err != nil {
			r.log.Warn("customer id hook failed, falling back to search",
				logging.F("user_id", userID),
				logging.F("error", err))
		}
	}

	return r.searchCustomerByMetadata(ctx, userID)
}

// searchCustomerByMetadata finds the customer whose metadata carries the user
// ID. The Search API can return partial matches, so hits are verified.
func (r *Resolver) searchCustomerByMetadata(ctx context.Context, userID string) (string, error) {
	params := &stripe.CustomerSearchParams{}
	params.Query = fmt.Sprintf("metadata['user_id']:'%s'", userID)

	for cust, err := range r.client.V1Customers.Search(ctx, params) {
		if err != nil {
			return "", fmt.Errorf("stripe customer search: %w", err)
		}
		if cust.Metadata != nil && cust.Metadata["user_id"] == userID {
			return cust.ID, nil
		}
	}

	return "", billing.ErrUserNotFound
}

// listActiveSubscriptions fetches the customer's active subscriptions.
func (r *Resolver) listActiveSubscriptions(ctx context.Context, customerID string) ([]*stripe.Subscription, error) {
	params := &stripe.SubscriptionListParams{}
	params.Customer = stripe.String(customerID)
	params.Status = stripe.String(subscriptionStatusActive)

	var subscriptions []*stripe.Subscription
	for sub, err := range r.client.V1Subscriptions.List(ctx, params) {
		if err != nil {
			return nil, fmt.Errorf("stripe subscription list: %w", err)
		}
		if sub.Status == subscriptionStatusActive {
			subscriptions = append(subscriptions, sub)
		}
	}

	return subscriptions, nil
}

// planFromSubscriptions maps every subscription item's price through the
// plan table and keeps the highest-ranked plan. Ties go to the most recently
// created subscription.
func (r *Resolver) planFromSubscriptions(subscriptions []*stripe.Subscription) string {
	best := ""
	bestWeight := -1
	var mostRecentCreated int64

	for _, sub := range subscriptions {
		if sub.Status != subscriptionStatusActive || sub.Items == nil {
			continue
		}
		for _, item := range sub.Items.Data {
			if item.Price == nil {
				continue
			}
			plan := r.mapPriceToPlan(item.Price.ID)
			weight := r.planWeight(plan)
			if weight > bestWeight || (weight == bestWeight && sub.Created > mostRecentCreated) {
				bestWeight = weight
				best = plan
				mostRecentCreated = sub.Created
			}
		}
	}

	if best == "" {
		return r.defaultPlan
	}
	return best
}
