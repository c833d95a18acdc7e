// Package echo provides Echo middleware for forecast quota enforcement.
// Each admitted request spends one forecast from the user's monthly
// allowance before the route handler runs.
package echo

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/impactlab/impactcast/pkg/quota"
)

// UserIDExtractor extracts the user ID from an Echo context.
// Return empty string if user is not authenticated.
type UserIDExtractor func(c echo.Context) string

// PlanExtractor extracts the plan slug from an Echo context. An empty string
// resolves to the ledger's default cap.
type PlanExtractor func(c echo.Context) string

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
	OnQuotaExceeded func(c echo.Context, counter quota.Counter) error

	// OnUnauthorized is called when user is not authenticated.
	// If nil, returns 401 Unauthorized.
	OnUnauthorized func(c echo.Context) error

	// OnError is called when the quota store cannot be consulted.
	// If nil, returns 503 Service Unavailable.
	OnError func(c echo.Context, err error) error
}

// Middleware creates an Echo middleware that enforces the monthly forecast
// cap. Responses carry X-Quota-Count, X-Quota-Cap, and X-Quota-Remaining
// headers whenever the counter was consulted.
func Middleware(cfg Config) echo.MiddlewareFunc {
	// Validate required configuration at startup (fail fast)
	if cfg.Ledger == nil {
		panic("impactcast/echo: Config.Ledger is required")
	}
	if cfg.GetUserID == nil {
		panic("impactcast/echo: Config.GetUserID is required")
	}

	if cfg.QuotaExceededStatusCode == 0 {
		cfg.QuotaExceededStatusCode = http.StatusPaymentRequired
	}

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
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

			counter, err := cfg.Ledger.Increment(c.Request().Context(), userID, plan)
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
			return next(c)
		}
	}
}

func setQuotaHeaders(c echo.Context, counter quota.Counter) {
	header := c.Response().Header()
	header.Set("X-Quota-Count", strconv.Itoa(counter.Count))
	header.Set("X-Quota-Cap", strconv.Itoa(counter.Cap))
	header.Set("X-Quota-Remaining", strconv.Itoa(counter.Remaining()))
}

// Default error handlers

func defaultUnauthorized(c echo.Context) error {
	return c.JSON(http.StatusUnauthorized, map[string]string{"error": "Unauthorized"})
}

func defaultQuotaExceeded(c echo.Context, counter quota.Counter, statusCode int) error {
	return c.JSON(statusCode, map[string]interface{}{
		"error": "Quota exceeded",
		"count": counter.Count,
		"cap":   counter.Cap,
	})
}

func defaultError(c echo.Context) error {
	return c.JSON(http.StatusServiceUnavailable, map[string]string{"error": "Service Unavailable"})
}

// Convenience extractors for User ID

// FromContext returns a UserIDExtractor that gets user ID from Echo context
// values, as set by auth middleware via c.Set("UserID", "...").
func FromContext(key string) UserIDExtractor {
	return func(c echo.Context) string {
		if val := c.Get(key); val != nil {
			if str, ok := val.(string); ok {
				return str
			}
		}
		return ""
	}
}

// FromHeader returns a UserIDExtractor that gets user ID from a header.
func FromHeader(headerName string) UserIDExtractor {
	return func(c echo.Context) string {
		return c.Request().Header.Get(headerName)
	}
}

// FromParam returns a UserIDExtractor that gets user ID from a route parameter.
func FromParam(paramName string) UserIDExtractor {
	return func(c echo.Context) string {
		return c.Param(paramName)
	}
}

// FromQuery returns a UserIDExtractor that gets user ID from a query parameter.
func FromQuery(queryName string) UserIDExtractor {
	return func(c echo.Context) string {
		return c.QueryParam(queryName)
	}
}

// Convenience extractors for Plan

// FixedPlan returns a PlanExtractor that always returns a fixed plan.
func FixedPlan(plan string) PlanExtractor {
	return func(echo.Context) string {
		return plan
	}
}

// PlanFromHeader returns a PlanExtractor that gets the plan from a header.
func PlanFromHeader(headerName string) PlanExtractor {
	return func(c echo.Context) string {
		return c.Request().Header.Get(headerName)
	}
}

// PlanFromContext returns a PlanExtractor that gets the plan from Echo
// context values.
func PlanFromContext(key string) PlanExtractor {
	return func(c echo.Context) string {
		if val := c.Get(key); val != nil {
			if str, ok := val.(string); ok {
				return str
			}
		}
		return ""
	}
}
