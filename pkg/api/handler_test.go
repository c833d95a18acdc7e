package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/impactlab/impactcast/pkg/billing"
	"github.com/impactlab/impactcast/pkg/forecast"
	"github.com/impactlab/impactcast/pkg/quota"
	"github.com/impactlab/impactcast/storage/memory"
)

const (
	testUserID = "user123"
	testBody   = `{"event": "steel tariff 25%", "geo": "ohio", "naics": "3312", "scenario": "severe"}`
)

// failingStore simulates an unreachable backend.
type failingStore struct{}

func (failingStore) Increment(ctx context.Context, userID, periodKey string, limit int) (quota.Counter, error) {
	return quota.Counter{}, quota.ErrStoreUnavailable
}

func (failingStore) Read(ctx context.Context, userID, periodKey string) (quota.Counter, error) {
	return quota.Counter{}, quota.ErrStoreUnavailable
}

// failingResolver simulates a billing provider outage.
type failingResolver struct{}

func (failingResolver) ResolvePlan(ctx context.Context, userID string) (string, error) {
	return "", errors.New("billing provider down")
}

func newTestLedger(t *testing.T, store quota.Store, defaultCap int, planCaps map[string]int) *quota.Ledger {
	t.Helper()
	ledger, err := quota.NewLedger(store, quota.Config{
		DefaultCap: defaultCap,
		PlanCaps:   planCaps,
	})
	if err != nil {
		t.Fatalf("Failed to create ledger: %v", err)
	}
	return ledger
}

// newTestHandler wires a real orchestrator (no model client, so every
// forecast is served deterministically) against an in-memory ledger.
func newTestHandler(t *testing.T, cfg Config) *Handler {
	t.Helper()
	if cfg.Ledger == nil {
		cfg.Ledger = newTestLedger(t, memory.New(), 50, nil)
	}
	if cfg.Orchestrator == nil {
		cfg.Orchestrator = forecast.NewOrchestrator(nil, cfg.Ledger, forecast.Config{})
	}
	if cfg.GetUserID == nil {
		cfg.GetUserID = func(_ *http.Request) string { return testUserID }
	}
	handler, err := NewHandler(cfg)
	if err != nil {
		t.Fatalf("Failed to create handler: %v", err)
	}
	return handler
}

func postForecast(handler *Handler, body string, header map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/v1/forecast", strings.NewReader(body))
	for k, v := range header {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	handler.CreateForecast(w, req)
	return w
}

func TestHandler_CreateForecast_Success(t *testing.T) {
	handler := newTestHandler(t, Config{})

	w := postForecast(handler, testBody, nil)

	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d: %s", w.Code, w.Body.String())
	}
	if ct := w.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Expected Content-Type application/json, got %q", ct)
	}
	if w.Header().Get(RequestIDHeader) == "" {
		t.Error("Expected a generated X-Request-ID header")
	}

	var result forecast.Result
	if err := json.Unmarshal(w.Body.Bytes(), &result); err != nil {
		t.Fatalf("Failed to unmarshal response: %v", err)
	}
	if result.Meta.Source != forecast.SourceDemo {
		t.Errorf("Expected source %q, got %q", forecast.SourceDemo, result.Meta.Source)
	}
	if result.Meta.GeoCanonical != "ohio" {
		t.Errorf("Expected canonical geo ohio, got %q", result.Meta.GeoCanonical)
	}
	if n := len(result.Drivers); n < 3 || n > 6 {
		t.Errorf("Expected 3 to 6 drivers, got %d", n)
	}
	if result.DemandPct == 0 {
		t.Error("Expected a non-zero demand forecast")
	}
}

func TestHandler_CreateForecast_EchoesRequestID(t *testing.T) {
	handler := newTestHandler(t, Config{})

	w := postForecast(handler, testBody, map[string]string{RequestIDHeader: "req-42"})

	if got := w.Header().Get(RequestIDHeader); got != "req-42" {
		t.Errorf("Expected X-Request-ID req-42, got %q", got)
	}
}

func TestHandler_CreateForecast_InvalidJSON(t *testing.T) {
	handler := newTestHandler(t, Config{})

	w := postForecast(handler, `{"event": `, nil)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("Expected status 400, got %d", w.Code)
	}
}

func TestHandler_CreateForecast_ValidationSkipsQuota(t *testing.T) {
	ledger := newTestLedger(t, memory.New(), 50, nil)
	handler := newTestHandler(t, Config{Ledger: ledger})

	w := postForecast(handler, `{"event": "tariff", "geo": "ohio"}`, nil)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("Expected status 400, got %d: %s", w.Code, w.Body.String())
	}

	var body ErrorResponse
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("Failed to unmarshal error body: %v", err)
	}
	if body.Field != "naics" {
		t.Errorf("Expected field naics, got %q", body.Field)
	}
	if !strings.Contains(body.Error, "naics is required") {
		t.Errorf("Expected message naming the missing field, got %q", body.Error)
	}

	// Rejected before admission, so nothing was consumed.
	counter, err := ledger.Read(context.Background(), testUserID, "")
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	if counter.Count != 0 {
		t.Errorf("Expected count 0 after validation failure, got %d", counter.Count)
	}
}

func TestHandler_CreateForecast_Unauthorized(t *testing.T) {
	handler := newTestHandler(t, Config{
		GetUserID: func(_ *http.Request) string { return "" },
	})

	w := postForecast(handler, testBody, nil)

	if w.Code != http.StatusUnauthorized {
		t.Fatalf("Expected status 401, got %d", w.Code)
	}
}

func TestHandler_CreateForecast_QuotaExceeded(t *testing.T) {
	ledger := newTestLedger(t, memory.New(), 1, nil)
	handler := newTestHandler(t, Config{Ledger: ledger})

	if w := postForecast(handler, testBody, nil); w.Code != http.StatusOK {
		t.Fatalf("Expected first request to pass, got %d", w.Code)
	}

	w := postForecast(handler, testBody, nil)
	if w.Code != http.StatusPaymentRequired {
		t.Fatalf("Expected status 402, got %d: %s", w.Code, w.Body.String())
	}
	if got := w.Header().Get("X-Quota-Remaining"); got != "0" {
		t.Errorf("Expected X-Quota-Remaining 0, got %q", got)
	}

	var body ErrorResponse
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("Failed to unmarshal error body: %v", err)
	}
	if body.Error != "Quota exceeded" {
		t.Errorf("Expected error 'Quota exceeded', got %q", body.Error)
	}
	if body.Count != 1 || body.Cap != 1 {
		t.Errorf("Expected count/cap 1/1, got %d/%d", body.Count, body.Cap)
	}
}

func TestHandler_CreateForecast_StoreUnavailable(t *testing.T) {
	ledger := newTestLedger(t, failingStore{}, 50, nil)
	handler := newTestHandler(t, Config{Ledger: ledger})

	w := postForecast(handler, testBody, nil)

	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("Expected status 503, got %d", w.Code)
	}
}

func TestHandler_CreateForecast_ResolverOverridesClaim(t *testing.T) {
	// The resolver puts the user on business (cap 1); the body claims
	// enterprise (cap 100). The second request must hit the business cap.
	ledger := newTestLedger(t, memory.New(), 50, map[string]int{"business": 1, "enterprise": 100})
	handler := newTestHandler(t, Config{
		Ledger: ledger,
		Plans:  billing.NewStaticResolver(map[string]string{testUserID: "business"}, ""),
	})
	claim := `{"event": "tariff", "geo": "ohio", "naics": "3312", "plan": "enterprise"}`

	if w := postForecast(handler, claim, nil); w.Code != http.StatusOK {
		t.Fatalf("Expected first request to pass, got %d", w.Code)
	}

	w := postForecast(handler, claim, nil)
	if w.Code != http.StatusPaymentRequired {
		t.Fatalf("Expected the resolved plan's cap to apply, got %d", w.Code)
	}
	if got := w.Header().Get("X-Quota-Cap"); got != "1" {
		t.Errorf("Expected X-Quota-Cap 1, got %q", got)
	}
}

func TestHandler_CreateForecast_ResolverFailureUsesDefaultPlan(t *testing.T) {
	ledger := newTestLedger(t, memory.New(), 50, map[string]int{"business": 1, "enterprise": 100})
	handler := newTestHandler(t, Config{
		Ledger: ledger,
		Plans:  failingResolver{},
	})
	claim := `{"event": "tariff", "geo": "ohio", "naics": "3312", "plan": "enterprise"}`

	if w := postForecast(handler, claim, nil); w.Code != http.StatusOK {
		t.Fatalf("Expected first request to pass, got %d", w.Code)
	}

	// The enterprise claim is discarded when the resolver is down.
	w := postForecast(handler, claim, nil)
	if w.Code != http.StatusPaymentRequired {
		t.Fatalf("Expected the default plan's cap to apply, got %d", w.Code)
	}
}

func TestHandler_GetUsage(t *testing.T) {
	ledger := newTestLedger(t, memory.New(), 50, map[string]int{"pro": 500})
	handler := newTestHandler(t, Config{Ledger: ledger})

	ctx := context.Background()
	for i := 0; i < 2; i++ {
		if _, err := ledger.Increment(ctx, testUserID, "business"); err != nil {
			t.Fatalf("Increment failed: %v", err)
		}
	}

	req := httptest.NewRequest(http.MethodGet, "/v1/usage", http.NoBody)
	w := httptest.NewRecorder()
	handler.GetUsage(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d: %s", w.Code, w.Body.String())
	}

	var usage UsageResponse
	if err := json.Unmarshal(w.Body.Bytes(), &usage); err != nil {
		t.Fatalf("Failed to unmarshal response: %v", err)
	}
	if usage.UserID != testUserID {
		t.Errorf("Expected user %s, got %s", testUserID, usage.UserID)
	}
	if usage.Plan != billing.DefaultPlan {
		t.Errorf("Expected plan %s, got %s", billing.DefaultPlan, usage.Plan)
	}
	if want := quota.PeriodKey(time.Now()); usage.Period != want {
		t.Errorf("Expected period %s, got %s", want, usage.Period)
	}
	if usage.Count != 2 || usage.Cap != 50 || usage.Remaining != 48 {
		t.Errorf("Expected 2/50 with 48 remaining, got %d/%d with %d", usage.Count, usage.Cap, usage.Remaining)
	}
}

func TestHandler_GetUsage_PlanQuery(t *testing.T) {
	ledger := newTestLedger(t, memory.New(), 50, map[string]int{"pro": 500})
	handler := newTestHandler(t, Config{Ledger: ledger})

	req := httptest.NewRequest(http.MethodGet, "/v1/usage?plan=pro", http.NoBody)
	w := httptest.NewRecorder()
	handler.GetUsage(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", w.Code)
	}

	var usage UsageResponse
	if err := json.Unmarshal(w.Body.Bytes(), &usage); err != nil {
		t.Fatalf("Failed to unmarshal response: %v", err)
	}
	if usage.Cap != 500 {
		t.Errorf("Expected pro cap 500, got %d", usage.Cap)
	}
}

func TestHandler_GetUsage_StoreUnavailable(t *testing.T) {
	ledger := newTestLedger(t, failingStore{}, 50, nil)
	handler := newTestHandler(t, Config{Ledger: ledger})

	req := httptest.NewRequest(http.MethodGet, "/v1/usage", http.NoBody)
	w := httptest.NewRecorder()
	handler.GetUsage(w, req)

	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("Expected status 503, got %d", w.Code)
	}
}

func TestHandler_CustomOnError(t *testing.T) {
	handler := newTestHandler(t, Config{
		GetUserID: func(_ *http.Request) string { return "" },
		OnError: func(w http.ResponseWriter, _ *http.Request, _ error) {
			w.WriteHeader(http.StatusTeapot)
		},
	})

	w := postForecast(handler, testBody, nil)

	if w.Code != http.StatusTeapot {
		t.Fatalf("Expected custom error status 418, got %d", w.Code)
	}
}

func TestNewHandler_Validation(t *testing.T) {
	ledger := newTestLedger(t, memory.New(), 50, nil)
	orch := forecast.NewOrchestrator(nil, nil, forecast.Config{})
	getUser := func(_ *http.Request) string { return testUserID }

	cases := []struct {
		name   string
		config Config
	}{
		{"missing orchestrator", Config{Ledger: ledger, GetUserID: getUser}},
		{"missing ledger", Config{Orchestrator: orch, GetUserID: getUser}},
		{"missing getUserID", Config{Orchestrator: orch, Ledger: ledger}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := NewHandler(tc.config); err == nil {
				t.Error("Expected a config error")
			}
		})
	}
}

func TestFromHeader(t *testing.T) {
	getUser := FromHeader("X-User-ID")
	req := httptest.NewRequest(http.MethodGet, "/v1/usage", http.NoBody)
	req.Header.Set("X-User-ID", "alice")

	if got := getUser(req); got != "alice" {
		t.Errorf("Expected alice, got %q", got)
	}
}

func TestFromContext(t *testing.T) {
	type ctxKey string
	const key ctxKey = "user"

	getUser := FromContext(key)
	req := httptest.NewRequest(http.MethodGet, "/v1/usage", http.NoBody)
	req = req.WithContext(context.WithValue(req.Context(), key, "bob"))

	if got := getUser(req); got != "bob" {
		t.Errorf("Expected bob, got %q", got)
	}
	if got := getUser(httptest.NewRequest(http.MethodGet, "/", http.NoBody)); got != "" {
		t.Errorf("Expected empty user without context value, got %q", got)
	}
}
