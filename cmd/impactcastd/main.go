// Command impactcastd serves economic impact forecasts over HTTP with
// per-plan monthly quotas enforced against a pluggable counter store.
//
// Configuration is environment-driven; a .env file in the working directory
// is loaded first when present. QUOTA_BACKEND selects the counter store
// (memory, redis, postgres, firestore, or tiered for redis-over-postgres),
// OPENROUTER_API_KEY enables live generation, and STRIPE_API_KEY enables
// plan resolution from subscriptions. Without a model key every forecast is
// served by the deterministic synthesizer.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	gcfirestore "cloud.google.com/go/firestore"
	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/impactlab/impactcast/pkg/api"
	"github.com/impactlab/impactcast/pkg/billing"
	stripebilling "github.com/impactlab/impactcast/pkg/billing/stripe"
	"github.com/impactlab/impactcast/pkg/forecast"
	forecastprom "github.com/impactlab/impactcast/pkg/forecast/metrics/prometheus"
	"github.com/impactlab/impactcast/pkg/logging"
	zerologadapter "github.com/impactlab/impactcast/pkg/logging/zerolog"
	"github.com/impactlab/impactcast/pkg/openrouter"
	"github.com/impactlab/impactcast/pkg/quota"
	quotaprom "github.com/impactlab/impactcast/pkg/quota/metrics/prometheus"
	firestorestore "github.com/impactlab/impactcast/storage/firestore"
	memorystore "github.com/impactlab/impactcast/storage/memory"
	postgresstore "github.com/impactlab/impactcast/storage/postgres"
	redisstore "github.com/impactlab/impactcast/storage/redis"
	tieredstore "github.com/impactlab/impactcast/storage/tiered"
)

const (
	shutdownTimeout = 30 * time.Second

	breakerFailureThreshold = 5
	breakerResetTimeout     = 30 * time.Second
)

type config struct {
	addr             string
	backend          string
	redisURL         string
	postgresDSN      string
	firestoreProject string
	openRouterKey    string
	openRouterModel  string
	openRouterURL    string
	stripeKey        string
	stripePriceMap   map[string]string
	planCacheTTL     time.Duration
	mockMode         bool
	singleStage      bool
	prettyLogs       bool
}

func loadConfig() config {
	return config{
		addr:             envOr("IMPACTCAST_ADDR", ":8080"),
		backend:          strings.ToLower(envOr("QUOTA_BACKEND", "memory")),
		redisURL:         envOr("REDIS_URL", "redis://localhost:6379"),
		postgresDSN:      os.Getenv("POSTGRES_DSN"),
		firestoreProject: os.Getenv("FIRESTORE_PROJECT_ID"),
		openRouterKey:    os.Getenv("OPENROUTER_API_KEY"),
		openRouterModel:  os.Getenv("OPENROUTER_MODEL"),
		openRouterURL:    os.Getenv("OPENROUTER_BASE_URL"),
		stripeKey:        os.Getenv("STRIPE_API_KEY"),
		stripePriceMap:   parsePlanMap(os.Getenv("STRIPE_PRICE_TO_PLAN")),
		planCacheTTL:     envDuration("PLAN_CACHE_TTL"),
		mockMode:         envBool("IMPACTCAST_MOCK_MODE"),
		singleStage:      envBool("IMPACTCAST_SINGLE_STAGE"),
		prettyLogs:       envBool("IMPACTCAST_PRETTY_LOGS"),
	}
}

func main() {
	// A missing .env is fine; the process environment wins either way.
	_ = godotenv.Load()

	cfg := loadConfig()
	zl := newZerolog(cfg.prettyLogs)

	if err := run(cfg, zerologadapter.NewLogger(zl)); err != nil {
		zl.Fatal().Err(err).Msg("impactcastd failed")
	}
}

func run(cfg config, log logging.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	registry := prometheus.NewRegistry()
	forecastMetrics := forecastprom.NewMetrics(registry, "impactcast")
	quotaMetrics := quotaprom.NewMetrics(registry, "impactcast")

	store, closeStore, err := newStore(ctx, cfg, log)
	if err != nil {
		return fmt.Errorf("quota store: %w", err)
	}
	defer closeStore()

	plans := forecast.DefaultPlans()
	ledger, err := quota.NewLedger(store, quota.Config{
		PlanCaps: plans.MonthlyCaps(),
		Logger:   log,
		Metrics:  quotaMetrics,
	})
	if err != nil {
		return fmt.Errorf("quota ledger: %w", err)
	}

	model, err := newModelClient(cfg, log)
	if err != nil {
		return fmt.Errorf("model client: %w", err)
	}

	orchestrator := forecast.NewOrchestrator(model, ledger, forecast.Config{
		Plans:       plans,
		SingleStage: cfg.singleStage,
		MockMode:    cfg.mockMode,
		Logger:      log,
		Metrics:     forecastMetrics,
	})

	resolver, err := newPlanResolver(cfg, log)
	if err != nil {
		return fmt.Errorf("plan resolver: %w", err)
	}

	handler, err := api.NewHandler(api.Config{
		Orchestrator: orchestrator,
		Ledger:       ledger,
		Plans:        resolver,
		GetUserID:    api.FromHeader("X-User-ID"),
		Logger:       log,
	})
	if err != nil {
		return fmt.Errorf("api handler: %w", err)
	}

	router := chi.NewRouter()
	router.Use(chimiddleware.Logger)
	router.Use(chimiddleware.Recoverer)

	router.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprintln(w, "OK")
	})
	router.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	router.Post("/v1/forecast", handler.CreateForecast)
	router.Get("/v1/usage", handler.GetUsage)

	server := &http.Server{
		Addr:        cfg.addr,
		Handler:     router,
		ReadTimeout: 10 * time.Second,
		// Two-stage generation may retry the narrative, so responses can
		// outlive a single model timeout.
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	group, ctx := errgroup.WithContext(ctx)
	group.Go(func() error {
		log.Info("impactcastd listening",
			logging.F("addr", cfg.addr),
			logging.F("backend", cfg.backend),
			logging.F("live_model", model != nil),
		)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	group.Go(func() error {
		<-ctx.Done()
		log.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})
	return group.Wait()
}

// newStore builds the counter store named by QUOTA_BACKEND and a cleanup
// function releasing its connections.
func newStore(ctx context.Context, cfg config, log logging.Logger) (quota.Store, func(), error) {
	noop := func() {}

	switch cfg.backend {
	case "", "memory":
		return memorystore.New(), noop, nil

	case "redis":
		client, err := newRedisClient(ctx, cfg.redisURL)
		if err != nil {
			return nil, nil, err
		}
		store, err := redisstore.New(client, redisstore.DefaultConfig())
		if err != nil {
			_ = client.Close()
			return nil, nil, err
		}
		return store, func() { _ = client.Close() }, nil

	case "postgres":
		store, err := newPostgresStore(ctx, cfg.postgresDSN)
		if err != nil {
			return nil, nil, err
		}
		return store, store.Close, nil

	case "firestore":
		if cfg.firestoreProject == "" {
			return nil, nil, errors.New("FIRESTORE_PROJECT_ID is required for the firestore backend")
		}
		client, err := gcfirestore.NewClient(ctx, cfg.firestoreProject)
		if err != nil {
			return nil, nil, fmt.Errorf("firestore client: %w", err)
		}
		store, err := firestorestore.New(client, firestorestore.Config{})
		if err != nil {
			_ = client.Close()
			return nil, nil, err
		}
		return store, func() { _ = client.Close() }, nil

	case "tiered":
		// Redis admits on the request path, Postgres keeps the durable
		// audit copy.
		client, err := newRedisClient(ctx, cfg.redisURL)
		if err != nil {
			return nil, nil, err
		}
		hot, err := redisstore.New(client, redisstore.DefaultConfig())
		if err != nil {
			_ = client.Close()
			return nil, nil, err
		}
		cold, err := newPostgresStore(ctx, cfg.postgresDSN)
		if err != nil {
			_ = client.Close()
			return nil, nil, err
		}
		store, err := tieredstore.New(tieredstore.Config{
			Hot:       hot,
			Cold:      cold,
			AsyncSync: true,
			SyncErrorHandler: func(err error) {
				log.Warn("cold counter mirror", logging.F("error", err.Error()))
			},
		})
		if err != nil {
			cold.Close()
			_ = client.Close()
			return nil, nil, err
		}
		cleanup := func() {
			_ = store.Close()
			cold.Close()
			_ = client.Close()
		}
		return store, cleanup, nil

	default:
		return nil, nil, fmt.Errorf("unknown QUOTA_BACKEND %q (want memory, redis, postgres, firestore, or tiered)", cfg.backend)
	}
}

func newRedisClient(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("REDIS_URL: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return client, nil
}

func newPostgresStore(ctx context.Context, dsn string) (*postgresstore.Store, error) {
	if dsn == "" {
		return nil, errors.New("POSTGRES_DSN is required for the postgres backend")
	}
	config := postgresstore.DefaultConfig()
	config.ConnectionString = dsn
	store, err := postgresstore.New(ctx, config)
	if err != nil {
		return nil, err
	}
	if err := store.EnsureSchema(ctx); err != nil {
		store.Close()
		return nil, err
	}
	return store, nil
}

// newModelClient returns nil when no API key is configured; the orchestrator
// then serves deterministic demo forecasts. A live client is wrapped in a
// circuit breaker so a flapping upstream fails fast into the fallback path.
func newModelClient(cfg config, log logging.Logger) (forecast.ModelClient, error) {
	if cfg.openRouterKey == "" {
		log.Info("OPENROUTER_API_KEY not set, serving deterministic forecasts")
		return nil, nil
	}
	client, err := openrouter.NewClient(openrouter.Config{
		APIKey:  cfg.openRouterKey,
		Model:   cfg.openRouterModel,
		BaseURL: cfg.openRouterURL,
		Logger:  log,
	})
	if err != nil {
		return nil, err
	}
	breaker := forecast.NewBreakerClient(client, breakerFailureThreshold, breakerResetTimeout, func(state forecast.BreakerState) {
		log.Warn("model breaker state changed", logging.F("state", string(state)))
	})
	return breaker, nil
}

// newPlanResolver returns nil when Stripe is not configured; the API then
// trusts the plan claimed in each request. A configured resolver is wrapped
// in a TTL cache so hot users cost one Stripe lookup per cache window, not
// per forecast.
func newPlanResolver(cfg config, log logging.Logger) (billing.Resolver, error) {
	if cfg.stripeKey == "" {
		return nil, nil
	}
	resolver, err := stripebilling.NewResolver(stripebilling.Config{
		APIKey:      cfg.stripeKey,
		PriceToPlan: cfg.stripePriceMap,
		Logger:      log,
	})
	if err != nil {
		return nil, err
	}
	return billing.NewCachedResolver(resolver, billing.CacheConfig{TTL: cfg.planCacheTTL})
}

func newZerolog(pretty bool) zerolog.Logger {
	if pretty {
		output := zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}
		return zerolog.New(output).With().Timestamp().Logger()
	}
	return zerolog.New(os.Stdout).With().Timestamp().Logger()
}

func envOr(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

func envBool(key string) bool {
	v, err := strconv.ParseBool(strings.TrimSpace(os.Getenv(key)))
	return err == nil && v
}

// envDuration returns the parsed duration or zero, leaving the consumer's
// default in force.
func envDuration(key string) time.Duration {
	d, err := time.ParseDuration(strings.TrimSpace(os.Getenv(key)))
	if err != nil {
		return 0
	}
	return d
}

// parsePlanMap reads "price_id:plan" pairs separated by commas, e.g.
// "price_1AbC:business,price_2DeF:pro,*:business".
func parsePlanMap(raw string) map[string]string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	out := make(map[string]string)
	for _, pair := range strings.Split(raw, ",") {
		price, plan, ok := strings.Cut(pair, ":")
		price = strings.TrimSpace(price)
		plan = strings.TrimSpace(plan)
		if !ok || price == "" || plan == "" {
			continue
		}
		out[price] = plan
	}
	return out
}
