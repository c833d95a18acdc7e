// Package gin provides Gin middleware for forecast quota enforcement.
// Each admitted request spends one forecast from the user's monthly
// allowance before the route handler runs.
package gin

import (
	"errors"
	"net/http"
	"strconv"

	gongin "github.com/gin-gonic/gin"

	"github.com/impactlab/impactcast/pkg/quota"
)

// UserIDExtractor extracts the user ID from a Gin context.
// Return empty string if user is not authenticated.
type UserIDExtractor func(c *gongin.Context) string

// PlanExtractor extracts the plan slug from a Gin context. An empty string
// resolves to the ledger's default cap.
type PlanExtractor func(c *gongin.Context) string

// Config holds middleware configuration.
type Config struct {
	// Ledger is the quota ledger instance (required).
	Ledger *quota.Ledger

	// GetUserID extracts user ID from context (required).
	GetUserID UserIDExtractor

	// GetPlan extracts the plan from context (optional). If nil, the
	// ledger's default cap applies.
	GetPlan PlanExtractor

	// QuotaExceededStatusCode is the HTTP status code returned when the
	// cap is reached. Default: 402 (Payment Required).
	QuotaExceededStatusCode int

	// OnQuotaExceeded is called when the monthly cap is reached.
	// If nil, uses the default JSON response with quota headers.
	OnQuotaExceeded func(c *gongin.Context, counter quota.Counter)

	// OnUnauthorized is called when user is not authenticated.
	// If nil, returns 401 Unauthorized.
	OnUnauthorized func(c *gongin.Context)

	// OnError is called when the quota store cannot be consulted.
	// If nil, returns 503 Service Unavailable.
	OnError func(c *gongin.Context, err error)
}

// Middleware creates a Gin middleware that enforces the monthly forecast
// cap. Responses carry X-Quota-Count, X-Quota-Cap, and X-Quota-Remaining
// headers whenever the counter was consulted.
func Middleware(cfg Config) gongin.HandlerFunc {
	// Validate required configuration at startup (fail fast)
	if cfg.Ledger == nil {
		panic("impactcast/gin: Config.Ledger is required")
	}
	if cfg.GetUserID == nil {
		panic("impactcast/gin: Config.GetUserID is required")
	}

	if cfg.QuotaExceededStatusCode == 0 {
		cfg.QuotaExceededStatusCode = http.StatusPaymentRequired
	}

	return func(c *gongin.Context) {
		userID := cfg.GetUserID(c)
		if userID == "" {
			if cfg.OnUnauthorized != nil {
				cfg.OnUnauthorized(c)
			} else {
				c.JSON(http.StatusUnauthorized, gongin.H{"error": "Unauthorized"})
			}
			c.Abort()
			return
		}

		plan := ""
		if cfg.GetPlan != nil {
			plan = cfg.GetPlan(c)
		}

		counter, err := cfg.Ledger.Increment(c.Request.Context(), userID, plan)
		if err != nil {
			var exceeded *quota.ExceededError
			if errors.As(err, &exceeded) {
				setQuotaHeaders(c, counter)
				if cfg.OnQuotaExceeded != nil {
					cfg.OnQuotaExceeded(c, counter)
				} else {
					c.JSON(cfg.QuotaExceededStatusCode, gongin.H{
						"error": "Quota exceeded",
						"count": counter.Count,
						"cap":   counter.Cap,
					})
				}
				c.Abort()
				return
			}
			if cfg.OnError != nil {
				cfg.OnError(c, err)
			} else {
				c.JSON(http.StatusServiceUnavailable, gongin.H{"error": "Service Unavailable"})
			}
			c.Abort()
			return
		}

		setQuotaHeaders(c, counter)
		c.Next()
	}
}

func setQuotaHeaders(c *gongin.Context, counter quota.Counter) {
	c.Header("X-Quota-Count", strconv.Itoa(counter.Count))
	c.Header("X-Quota-Cap", strconv.Itoa(counter.Cap))
	c.Header("X-Quota-Remaining", strconv.Itoa(counter.Remaining()))
}

// Convenience extractors for User ID

// FromContext returns a UserIDExtractor that gets user ID from Gin context
// values, as set by auth middleware via c.Set("UserID", "...").
func FromContext(key string) UserIDExtractor {
	return func(c *gongin.Context) string {
		if val, exists := c.Get(key); exists {
			if str, ok := val.(string); ok {
				return str
			}
		}
		return ""
	}
}

// FromHeader returns a UserIDExtractor that gets user ID from a header.
func FromHeader(headerName string) UserIDExtractor {
	return func(c *gongin.Context) string {
		return c.GetHeader(headerName)
	}
}

// FromParam returns a UserIDExtractor that gets user ID from a route parameter.
func FromParam(paramName string) UserIDExtractor {
	return func(c *gongin.Context) string {
		return c.Param(paramName)
	}
}

// FromQuery returns a UserIDExtractor that gets user ID from a query parameter.
func FromQuery(queryName string) UserIDExtractor {
	return func(c *gongin.Context) string {
		return c.Query(queryName)
	}
}

// Convenience extractors for Plan

// FixedPlan returns a PlanExtractor that always returns a fixed plan.
func FixedPlan(plan string) PlanExtractor {
	return func(*gongin.Context) string {
		return plan
	}
}

// PlanFromHeader returns a PlanExtractor that gets the plan from a header.
func PlanFromHeader(headerName string) PlanExtractor {
	return func(c *gongin.Context) string {
		return c.GetHeader(headerName)
	}
}

// PlanFromContext returns a PlanExtractor that gets the plan from Gin
// context values.
func PlanFromContext(key string) PlanExtractor {
	return func(c *gongin.Context) string {
		if val, exists := c.Get(key); exists {
			if str, ok := val.(string); ok {
				return str
			}
		}
		return ""
	}
}
