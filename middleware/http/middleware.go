// Package http provides net/http middleware for forecast quota enforcement.
// Each admitted request spends one forecast from the user's monthly
// allowance before the wrapped handler runs.
package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/impactlab/impactcast/pkg/quota"
)

// UserIDExtractor extracts the user ID from an HTTP request.
// Return empty string if user is not authenticated.
type UserIDExtractor func(r *http.Request) string

// PlanExtractor extracts the plan slug from an HTTP request. An empty string
// resolves to the ledger's default cap.
type PlanExtractor func(r *http.Request) string

// Config holds middleware configuration.
type Config struct {
	// Ledger is the quota ledger instance (required).
	Ledger *quota.Ledger

	// GetUserID extracts user ID from request (required).
	GetUserID UserIDExtractor

	// GetPlan extracts the plan from request (optional). If nil, the
	// ledger's default cap applies.
	GetPlan PlanExtractor

	// OnQuotaExceeded is called when the monthly cap is reached.
	// If nil, returns 402 Payment Required with a JSON body.
	OnQuotaExceeded func(w http.ResponseWriter, r *http.Request, counter quota.Counter)

	// OnUnauthorized is called when user is not authenticated.
	// If nil, returns 401 Unauthorized.
	OnUnauthorized func(w http.ResponseWriter, r *http.Request)

	// OnError is called when the quota store cannot be consulted.
	// If nil, returns 503 Service Unavailable.
	OnError func(w http.ResponseWriter, r *http.Request, err error)
}

// Middleware creates an HTTP middleware that enforces the monthly forecast
// cap. Responses carry X-Quota-Count, X-Quota-Cap, and X-Quota-Remaining
// headers whenever the counter was consulted.
func Middleware(config Config) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			userID := config.GetUserID(r)
			if userID == "" {
				if config.OnUnauthorized != nil {
					config.OnUnauthorized(w, r)
				} else {
					http.Error(w, "Unauthorized", http.StatusUnauthorized)
				}
				return
			}

			plan := ""
			if config.GetPlan != nil {
				plan = config.GetPlan(r)
			}

			counter, err := config.Ledger.Increment(r.Context(), userID, plan)
			if err != nil {
				var exceeded *quota.ExceededError
				if errors.As(err, &exceeded) {
					setQuotaHeaders(w, counter)
					if config.OnQuotaExceeded != nil {
						config.OnQuotaExceeded(w, r, counter)
					} else {
						writeJSON(w, http.StatusPaymentRequired, map[string]interface{}{
							"error": "Quota exceeded",
							"count": exceeded.Count,
							"cap":   exceeded.Cap,
						})
					}
					return
				}
				if config.OnError != nil {
					config.OnError(w, r, err)
				} else {
					http.Error(w, "Service Unavailable", http.StatusServiceUnavailable)
				}
				return
			}

			setQuotaHeaders(w, counter)
			next.ServeHTTP(w, r)
		})
	}
}

// HandlerFunc creates an HTTP middleware that enforces the monthly forecast
// cap (HandlerFunc version).
func HandlerFunc(config Config) func(http.HandlerFunc) http.HandlerFunc {
	middleware := Middleware(config)
	return func(next http.HandlerFunc) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			middleware(next).ServeHTTP(w, r)
		}
	}
}

func setQuotaHeaders(w http.ResponseWriter, counter quota.Counter) {
	w.Header().Set("X-Quota-Count", strconv.Itoa(counter.Count))
	w.Header().Set("X-Quota-Cap", strconv.Itoa(counter.Cap))
	w.Header().Set("X-Quota-Remaining", strconv.Itoa(counter.Remaining()))
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// Common extractors for convenience

// ContextKey is a type for context keys.
type ContextKey string

// UserIDKey is the context key the FromContext extractor reads by default.
const UserIDKey ContextKey = "impactcast:userID"

// FromContext returns a UserIDExtractor that gets user ID from the request
// context, as set by an upstream auth middleware via WithUserID.
func FromContext(key ContextKey) UserIDExtractor {
	return func(r *http.Request) string {
		if userID, ok := r.Context().Value(key).(string); ok {
			return userID
		}
		return ""
	}
}

// FromHeader returns a UserIDExtractor that gets user ID from a header.
func FromHeader(headerName string) UserIDExtractor {
	return func(r *http.Request) string {
		return r.Header.Get(headerName)
	}
}

// FixedPlan returns a PlanExtractor that always returns a fixed plan.
func FixedPlan(plan string) PlanExtractor {
	return func(r *http.Request) string {
		return plan
	}
}

// PlanFromHeader returns a PlanExtractor that gets the plan from a header.
func PlanFromHeader(headerName string) PlanExtractor {
	return func(r *http.Request) string {
		return r.Header.Get(headerName)
	}
}

// WithUserID adds user ID to request context under UserIDKey.
func WithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, UserIDKey, userID)
}
