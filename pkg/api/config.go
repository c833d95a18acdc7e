package api

import (
	"fmt"
	"net/http"

	"github.com/impactlab/impactcast/pkg/billing"
	"github.com/impactlab/impactcast/pkg/forecast"
	"github.com/impactlab/impactcast/pkg/logging"
	"github.com/impactlab/impactcast/pkg/quota"
)

// Config holds the collaborators for the forecast API handler.
type Config struct {
	// Orchestrator runs the forecast pipeline, including quota admission
	// (required).
	Orchestrator *forecast.Orchestrator

	// Ledger serves GET /v1/usage reads (required). The handler never
	// increments through it; admission belongs to the orchestrator.
	Ledger *quota.Ledger

	// Plans resolves the caller's subscription plan (optional). When nil
	// the plan claimed in the request is used as-is.
	Plans billing.Resolver

	// GetUserID extracts the caller's user ID from the request (required).
	GetUserID func(*http.Request) string

	// OnError overrides the JSON error writer for every failure path.
	// If nil, errors are encoded as ErrorResponse with the mapped status.
	OnError func(http.ResponseWriter, *http.Request, error)

	// Logger is optional and defaults to a no-op.
	Logger logging.Logger
}

// Validate checks that the configuration is valid
func (c *Config) Validate() error {
	if c.Orchestrator == nil {
		return fmt.Errorf("orchestrator is required")
	}
	if c.Ledger == nil {
		return fmt.Errorf("ledger is required")
	}
	if c.GetUserID == nil {
		return fmt.Errorf("getUserID is required")
	}
	return nil
}

// NewHandler creates a new forecast API handler with the given configuration
func NewHandler(config Config) (*Handler, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if config.Logger == nil {
		config.Logger = &logging.NoopLogger{}
	}
	return &Handler{
		config: config,
	}, nil
}

// Helper functions for common UserID extraction patterns

// FromHeader returns a GetUserID function that extracts user ID from a header
func FromHeader(headerName string) func(*http.Request) string {
	return func(r *http.Request) string {
		return r.Header.Get(headerName)
	}
}

// FromContext returns a GetUserID function that extracts user ID from request context
// Uses the same context key pattern as middleware/http
func FromContext(key interface{}) func(*http.Request) string {
	return func(r *http.Request) string {
		if userID, ok := r.Context().Value(key).(string); ok {
			return userID
		}
		return ""
	}
}
