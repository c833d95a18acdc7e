// Package fiber provides Fiber middleware for forecast quota enforcement.
// Each admitted request spends one forecast from the user's monthly
// allowance before the route handler runs.
package fiber

import (
	"errors"
	"strconv"

	"github.com/gofiber/fiber/v2"

	"github.com/impactlab/impactcast/pkg/quota"
)

// UserIDExtractor extracts the user ID from a Fiber context.
// Return empty string if user is not authenticated.
type UserIDExtractor func(c *fiber.Ctx) string

// PlanExtractor extracts the plan slug from a Fiber context. An empty string
// resolves to the ledger's default cap.
type PlanExtractor func(c *fiber.Ctx) string

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
	OnQuotaExceeded func(c *fiber.Ctx, counter quota.Counter) error

	// OnUnauthorized is called when user is not authenticated.
	// If nil, returns 401 Unauthorized.
	OnUnauthorized func(c *fiber.Ctx) error

	// OnError is called when the quota store cannot be consulted.
	// If nil, returns 503 Service Unavailable.
	OnError func(c *fiber.Ctx, err error) error
}

// Middleware creates a Fiber middleware that enforces the monthly forecast
// cap. Responses carry X-Quota-Count, X-Quota-Cap, and X-Quota-Remaining
// headers whenever the counter was consulted.
func Middleware(cfg Config) fiber.Handler {
	// Validate required configuration at startup (fail fast)
	if cfg.Ledger == nil {
		panic("impactcast/fiber: Config.Ledger is required")
	}
	if cfg.GetUserID == nil {
		panic("impactcast/fiber: Config.GetUserID is required")
	}

	if cfg.QuotaExceededStatusCode == 0 {
		cfg.QuotaExceededStatusCode = fiber.StatusPaymentRequired
	}

	return func(c *fiber.Ctx) error {
		userID := cfg.GetUserID(c)
		if userID == "" {
			if cfg.OnUnauthorized != nil {
				return cfg.OnUnauthorized(c)
			}
			return defaultUnauthorized(c)
		}

		plan := ""
		if cfg.GetPlan != nil {
			plan = cfg.GetPlan(c)
		}

		// Fiber rides on fasthttp, so c.UserContext() is the request's
		// context.Context.
		counter, err := cfg.Ledger.Increment(c.UserContext(), userID, plan)
		if err != nil {
			var exceeded *quota.ExceededError
			if errors.As(err, &exceeded) {
				setQuotaHeaders(c, counter)
				if cfg.OnQuotaExceeded != nil {
					return cfg.OnQuotaExceeded(c, counter)
				}
				return defaultQuotaExceeded(c, counter, cfg.QuotaExceededStatusCode)
			}
			if cfg.OnError != nil {
				return cfg.OnError(c, err)
			}
			return defaultError(c)
		}

		setQuotaHeaders(c, counter)
		return c.Next()
	}
}

func setQuotaHeaders(c *fiber.Ctx, counter quota.Counter) {
	c.Set("X-Quota-Count", strconv.Itoa(counter.Count))
	c.Set("X-Quota-Cap", strconv.Itoa(counter.Cap))
	c.Set("X-Quota-Remaining", strconv.Itoa(counter.Remaining()))
}

// Default error handlers

func defaultUnauthorized(c *fiber.Ctx) error {
	return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "Unauthorized"})
}

func defaultQuotaExceeded(c *fiber.Ctx, counter quota.Counter, statusCode int) error {
	return c.Status(statusCode).JSON(fiber.Map{
		"error": "Quota exceeded",
		"count": counter.Count,
		"cap":   counter.Cap,
	})
}

func defaultError(c *fiber.Ctx) error {
	return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"error": "Service Unavailable"})
}

// Convenience extractors for User ID

// FromContext returns a UserIDExtractor that gets user ID from Fiber context
// values (Locals). This is the recommended approach for integrating with auth
// middleware that sets user information via c.Locals("UserID", "...").
func FromContext(key string) UserIDExtractor {
	return func(c *fiber.Ctx) string {
		if val := c.Locals(key); val != nil {
			if str, ok := val.(string); ok {
				return str
			}
		}
		return ""
	}
}

// FromHeader returns a UserIDExtractor that gets user ID from a header.
// Fiber v2 uses c.Get() for headers (not c.GetHeader()).
func FromHeader(headerName string) UserIDExtractor {
	return func(c *fiber.Ctx) string {
		return c.Get(headerName)
	}
}

// FromParam returns a UserIDExtractor that gets user ID from a route parameter.
func FromParam(paramName string) UserIDExtractor {
	return func(c *fiber.Ctx) string {
		return c.Params(paramName)
	}
}

// FromQuery returns a UserIDExtractor that gets user ID from a query parameter.
func FromQuery(queryName string) UserIDExtractor {
	return func(c *fiber.Ctx) string {
		return c.Query(queryName)
	}
}

// Convenience extractors for Plan

// FixedPlan returns a PlanExtractor that always returns a fixed plan.
func FixedPlan(plan string) PlanExtractor {
	return func(*fiber.Ctx) string {
		return plan
	}
}

// PlanFromHeader returns a PlanExtractor that gets the plan from a header.
func PlanFromHeader(headerName string) PlanExtractor {
	return func(c *fiber.Ctx) string {
		return c.Get(headerName)
	}
}

// PlanFromContext returns a PlanExtractor that gets the plan from Fiber
// context values (Locals).
func PlanFromContext(key string) PlanExtractor {
	return func(c *fiber.Ctx) string {
		if val := c.Locals(key); val != nil {
			if str, ok := val.(string); ok {
				return str
			}
		}
		return ""
	}
}
