// Package api exposes the forecast pipeline over HTTP: POST /v1/forecast
// generates a forecast and GET /v1/usage reports the caller's quota standing.
// The orchestrator owns admission and fallback; the handler owns transport
// mapping only.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/google/uuid"

	"github.com/impactlab/impactcast/pkg/billing"
	"github.com/impactlab/impactcast/pkg/forecast"
	"github.com/impactlab/impactcast/pkg/logging"
	"github.com/impactlab/impactcast/pkg/quota"
)

const (
	maxUserIDLen   = 255
	maxRequestBody = 1 << 20

	// RequestIDHeader carries the per-request UUID. Inbound values are
	// echoed back; otherwise the handler mints one. Every log line for the
	// request carries the same ID.
	RequestIDHeader = "X-Request-ID"
)

// Handler provides the HTTP endpoints for forecast generation and quota
// inspection.
type Handler struct {
	config Config
}

// CreateForecast handles POST /v1/forecast. The body is a forecast request;
// the response is the full forecast document, including degraded results
// whose meta block records the fallback. Only validation failures, quota
// rejections, and store outages surface as non-200s.
func (h *Handler) CreateForecast(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := h.tagRequest(w, r)

	// 1. Extract User ID
	userID := h.config.GetUserID(r)
	if userID == "" {
		h.handleError(w, r, fmt.Errorf("user ID not found"), http.StatusUnauthorized)
		return
	}
	if len(userID) > maxUserIDLen {
		h.handleError(w, r, fmt.Errorf("invalid user ID format"), http.StatusBadRequest)
		return
	}

	// 2. Decode the request body
	var req forecast.Request
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBody)).Decode(&req); err != nil {
		h.handleError(w, r, fmt.Errorf("invalid request body: %v", err), http.StatusBadRequest)
		return
	}

	// 3. Resolve the plan the forecast is budgeted and capped under
	req.Plan = h.resolvePlan(ctx, userID, req.Plan, requestID)

	// 4. Generate
	result, err := h.config.Orchestrator.Generate(ctx, userID, req)
	if err != nil {
		h.failGenerate(w, r, requestID, userID, err)
		return
	}

	h.config.Logger.Info("forecast served",
		logging.F("request_id", requestID),
		logging.F("user_id", userID),
		logging.F("source", result.Meta.Source),
	)
	writeJSON(w, http.StatusOK, result)
}

// GetUsage handles GET /v1/usage: the caller's counter for the current
// period, with the cap resolved from their plan. Reading consumes nothing.
func (h *Handler) GetUsage(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := h.tagRequest(w, r)

	userID := h.config.GetUserID(r)
	if userID == "" {
		h.handleError(w, r, fmt.Errorf("user ID not found"), http.StatusUnauthorized)
		return
	}
	if len(userID) > maxUserIDLen {
		h.handleError(w, r, fmt.Errorf("invalid user ID format"), http.StatusBadRequest)
		return
	}

	plan := h.resolvePlan(ctx, userID, r.URL.Query().Get("plan"), requestID)

	counter, err := h.config.Ledger.Read(ctx, userID, plan)
	if err != nil {
		h.config.Logger.Warn("usage read failed",
			logging.F("request_id", requestID),
			logging.F("user_id", userID),
			logging.F("error", err.Error()),
		)
		h.handleError(w, r, fmt.Errorf("quota store unavailable"), http.StatusServiceUnavailable)
		return
	}

	writeJSON(w, http.StatusOK, UsageResponse{
		UserID:    userID,
		Plan:      plan,
		Period:    counter.PeriodKey,
		Count:     counter.Count,
		Cap:       counter.Cap,
		Remaining: counter.Remaining(),
	})
}

// resolvePlan picks the plan for this request. A configured billing resolver
// wins over whatever the request claims; when the resolver fails, the claim
// is discarded too and the request runs under the default plan rather than an
// unverified one. Without a resolver the claim is trusted, empty claims
// defaulting per the plan table.
func (h *Handler) resolvePlan(ctx context.Context, userID, claimed, requestID string) string {
	if h.config.Plans == nil {
		if claimed == "" {
			return billing.DefaultPlan
		}
		return claimed
	}
	plan, err := h.config.Plans.ResolvePlan(ctx, userID)
	if err != nil {
		h.config.Logger.Warn("plan resolution failed, using default plan",
			logging.F("request_id", requestID),
			logging.F("user_id", userID),
			logging.F("error", err.Error()),
		)
		return billing.DefaultPlan
	}
	return plan
}

// failGenerate maps orchestrator errors onto transport: 400 for validation,
// 402 for quota rejections (with the counter in headers and body), 503 when
// the quota store is unreachable.
func (h *Handler) failGenerate(w http.ResponseWriter, r *http.Request, requestID, userID string, err error) {
	var invalid *forecast.ValidationError
	var exceeded *quota.ExceededError

	switch {
	case errors.As(err, &invalid):
		h.writeError(w, r, err, http.StatusBadRequest, ErrorResponse{
			Error: invalid.Error(),
			Field: invalid.Field,
		})

	case errors.As(err, &exceeded):
		h.config.Logger.Info("forecast rejected over quota",
			logging.F("request_id", requestID),
			logging.F("user_id", userID),
			logging.F("count", exceeded.Count),
			logging.F("cap", exceeded.Cap),
		)
		counter := quota.Counter{Count: exceeded.Count, Cap: exceeded.Cap}
		setQuotaHeaders(w, counter)
		h.writeError(w, r, err, http.StatusPaymentRequired, ErrorResponse{
			Error: "Quota exceeded",
			Count: exceeded.Count,
			Cap:   exceeded.Cap,
		})

	case errors.Is(err, quota.ErrStoreUnavailable):
		h.config.Logger.Warn("forecast aborted, quota store unavailable",
			logging.F("request_id", requestID),
			logging.F("user_id", userID),
			logging.F("error", err.Error()),
		)
		h.writeError(w, r, err, http.StatusServiceUnavailable, ErrorResponse{
			Error: "quota store unavailable",
		})

	default:
		h.config.Logger.Error("forecast failed",
			logging.F("request_id", requestID),
			logging.F("user_id", userID),
			logging.F("error", err.Error()),
		)
		h.writeError(w, r, err, http.StatusInternalServerError, ErrorResponse{
			Error: "internal error",
		})
	}
}

// tagRequest ensures the response carries a request ID and returns it.
func (h *Handler) tagRequest(w http.ResponseWriter, r *http.Request) string {
	id := r.Header.Get(RequestIDHeader)
	if id == "" {
		id = uuid.NewString()
	}
	w.Header().Set(RequestIDHeader, id)
	return id
}

// handleError handles errors with appropriate HTTP status codes
func (h *Handler) handleError(w http.ResponseWriter, r *http.Request, err error, statusCode int) {
	h.writeError(w, r, err, statusCode, ErrorResponse{Error: err.Error()})
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error, statusCode int, body ErrorResponse) {
	if h.config.OnError != nil {
		h.config.OnError(w, r, err)
		return
	}
	writeJSON(w, statusCode, body)
}

func setQuotaHeaders(w http.ResponseWriter, counter quota.Counter) {
	w.Header().Set("X-Quota-Count", strconv.Itoa(counter.Count))
	w.Header().Set("X-Quota-Cap", strconv.Itoa(counter.Cap))
	w.Header().Set("X-Quota-Remaining", strconv.Itoa(counter.Remaining()))
}

func writeJSON(w http.ResponseWriter, statusCode int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		// Response already committed; nothing useful left to do.
		_ = err
	}
}
