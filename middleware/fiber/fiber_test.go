package fiber

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v2"

	"github.com/impactlab/impactcast/pkg/quota"
	"github.com/impactlab/impactcast/storage/memory"
)

// failingStore always reports the backend as unavailable.
type failingStore struct{}

func (failingStore) Increment(_ context.Context, _, _ string, _ int) (quota.Counter, error) {
	return quota.Counter{}, quota.ErrStoreUnavailable
}

func (failingStore) Read(_ context.Context, _, _ string) (quota.Counter, error) {
	return quota.Counter{}, quota.ErrStoreUnavailable
}

func setupTestLedger(t *testing.T, defaultCap int, caps map[string]int) *quota.Ledger {
	t.Helper()

	ledger, err := quota.NewLedger(memory.New(), quota.Config{
		DefaultCap: defaultCap,
		PlanCaps:   caps,
	})
	if err != nil {
		t.Fatalf("Failed to create ledger: %v", err)
	}
	return ledger
}

func setupApp(cfg Config) *fiber.App {
	app := fiber.New()
	app.Use(Middleware(cfg))
	app.Post("/v1/forecast", func(c *fiber.Ctx) error {
		return c.SendString("success")
	})
	return app
}

func TestMiddleware_Success(t *testing.T) {
	app := setupApp(Config{
		Ledger:    setupTestLedger(t, 2, nil),
		GetUserID: FromHeader("X-User-ID"),
	})

	req := httptest.NewRequest("POST", "/v1/forecast", http.NoBody)
	req.Header.Set("X-User-ID", "user1")
	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("Request failed: %v", err)
	}

	if resp.StatusCode != http.StatusOK {
		t.Errorf("Expected status 200, got %d", resp.StatusCode)
	}
	body, _ := io.ReadAll(resp.Body)
	if string(body) != "success" {
		t.Errorf("Expected 'success', got %s", string(body))
	}
	if got := resp.Header.Get("X-Quota-Count"); got != "1" {
		t.Errorf("X-Quota-Count = %q, want %q", got, "1")
	}
	if got := resp.Header.Get("X-Quota-Cap"); got != "2" {
		t.Errorf("X-Quota-Cap = %q, want %q", got, "2")
	}
	if got := resp.Header.Get("X-Quota-Remaining"); got != "1" {
		t.Errorf("X-Quota-Remaining = %q, want %q", got, "1")
	}
}

func TestMiddleware_QuotaExceeded(t *testing.T) {
	app := setupApp(Config{
		Ledger:    setupTestLedger(t, 1, nil),
		GetUserID: FromHeader("X-User-ID"),
	})

	req := httptest.NewRequest("POST", "/v1/forecast", http.NoBody)
	req.Header.Set("X-User-ID", "user1")
	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("First request failed: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("First request status = %d, want 200", resp.StatusCode)
	}

	req = httptest.NewRequest("POST", "/v1/forecast", http.NoBody)
	req.Header.Set("X-User-ID", "user1")
	resp, err = app.Test(req)
	if err != nil {
		t.Fatalf("Second request failed: %v", err)
	}

	if resp.StatusCode != http.StatusPaymentRequired {
		t.Errorf("Second request status = %d, want 402", resp.StatusCode)
	}
	if got := resp.Header.Get("X-Quota-Remaining"); got != "0" {
		t.Errorf("X-Quota-Remaining = %q, want %q", got, "0")
	}
}

func TestMiddleware_MissingAuth(t *testing.T) {
	app := setupApp(Config{
		Ledger:    setupTestLedger(t, 2, nil),
		GetUserID: FromHeader("X-User-ID"),
	})

	req := httptest.NewRequest("POST", "/v1/forecast", http.NoBody)
	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("Request failed: %v", err)
	}

	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("Expected status 401, got %d", resp.StatusCode)
	}
}

func TestMiddleware_PlanFromLocals(t *testing.T) {
	app := fiber.New()
	// Auth middleware runs first and stashes the caller's plan.
	app.Use(func(c *fiber.Ctx) error {
		c.Locals("Plan", "pro")
		return c.Next()
	})
	app.Use(Middleware(Config{
		Ledger:    setupTestLedger(t, 2, map[string]int{"pro": 500}),
		GetUserID: FromHeader("X-User-ID"),
		GetPlan:   PlanFromContext("Plan"),
	}))
	app.Post("/v1/forecast", func(c *fiber.Ctx) error {
		return c.SendString("success")
	})

	req := httptest.NewRequest("POST", "/v1/forecast", http.NoBody)
	req.Header.Set("X-User-ID", "user1")
	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("Request failed: %v", err)
	}

	if resp.StatusCode != http.StatusOK {
		t.Errorf("Expected status 200, got %d", resp.StatusCode)
	}
	if got := resp.Header.Get("X-Quota-Cap"); got != "500" {
		t.Errorf("X-Quota-Cap = %q, want %q", got, "500")
	}
}

func TestMiddleware_StoreUnavailable(t *testing.T) {
	ledger, err := quota.NewLedger(failingStore{}, quota.Config{})
	if err != nil {
		t.Fatalf("Failed to create ledger: %v", err)
	}
	app := setupApp(Config{
		Ledger:    ledger,
		GetUserID: FromHeader("X-User-ID"),
	})

	req := httptest.NewRequest("POST", "/v1/forecast", http.NoBody)
	req.Header.Set("X-User-ID", "user1")
	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("Request failed: %v", err)
	}

	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("Expected status 503, got %d", resp.StatusCode)
	}
}

func TestMiddleware_CustomExceededStatus(t *testing.T) {
	app := setupApp(Config{
		Ledger:                  setupTestLedger(t, 1, nil),
		GetUserID:               FromHeader("X-User-ID"),
		QuotaExceededStatusCode: http.StatusTooManyRequests,
	})

	for i := 0; i < 2; i++ {
		req := httptest.NewRequest("POST", "/v1/forecast", http.NoBody)
		req.Header.Set("X-User-ID", "user1")
		resp, err := app.Test(req)
		if err != nil {
			t.Fatalf("Request %d failed: %v", i+1, err)
		}
		if i == 1 && resp.StatusCode != http.StatusTooManyRequests {
			t.Errorf("Expected status 429, got %d", resp.StatusCode)
		}
	}
}

func TestMiddleware_RequiresConfig(t *testing.T) {
	t.Run("nil ledger", func(t *testing.T) {
		defer func() {
			if recover() == nil {
				t.Error("Expected panic for missing Ledger")
			}
		}()
		Middleware(Config{GetUserID: FromHeader("X-User-ID")})
	})

	t.Run("nil GetUserID", func(t *testing.T) {
		ledger := setupTestLedger(t, 1, nil)
		defer func() {
			if recover() == nil {
				t.Error("Expected panic for missing GetUserID")
			}
		}()
		Middleware(Config{Ledger: ledger})
	})
}

func TestExtractors(t *testing.T) {
	ledger := setupTestLedger(t, 5, nil)

	app := fiber.New()
	app.Use(func(c *fiber.Ctx) error {
		c.Locals("UserID", "user-local")
		return c.Next()
	})
	app.Post("/query", Middleware(Config{Ledger: ledger, GetUserID: FromQuery("user")}), func(c *fiber.Ctx) error {
		return c.SendString("ok")
	})
	app.Post("/param/:id", Middleware(Config{Ledger: ledger, GetUserID: FromParam("id")}), func(c *fiber.Ctx) error {
		return c.SendString("ok")
	})
	app.Post("/local", Middleware(Config{Ledger: ledger, GetUserID: FromContext("UserID")}), func(c *fiber.Ctx) error {
		return c.SendString("ok")
	})

	paths := []string{"/query?user=user-q", "/param/user-p", "/local"}
	for _, path := range paths {
		req := httptest.NewRequest("POST", path, http.NoBody)
		resp, err := app.Test(req)
		if err != nil {
			t.Fatalf("Request %s failed: %v", path, err)
		}
		if resp.StatusCode != http.StatusOK {
			t.Errorf("%s status = %d, want 200", path, resp.StatusCode)
		}
	}
}
