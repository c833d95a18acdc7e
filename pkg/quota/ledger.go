package quota

import (
	"context"
	"errors"
	"time"

	"github.com/impactlab/impactcast/pkg/logging"
)

// Config configures a Ledger.
type Config struct {
	// DefaultCap applies to plans missing from PlanCaps. Defaults to 50.
	DefaultCap int

	// PlanCaps maps plan names to monthly forecast caps.
	PlanCaps map[string]int

	// Now supplies the clock used to derive the current period, for tests.
	// Defaults to time.Now.
	Now func() time.Time

	Logger  logging.Logger
	Metrics Metrics
}

// Ledger applies per-plan monthly caps on top of a Store. It satisfies the
// forecast orchestrator's admission seam.
type Ledger struct {
	store Store
	cfg   Config
}

// NewLedger creates a Ledger over store with the given configuration.
func NewLedger(store Store, cfg Config) (*Ledger, error) {
	if store == nil {
		return nil, ErrStoreUnavailable
	}
	if cfg.DefaultCap <= 0 {
		cfg.DefaultCap = 50
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Logger == nil {
		cfg.Logger = &logging.NoopLogger{}
	}
	if cfg.Metrics == nil {
		cfg.Metrics = &NoopMetrics{}
	}
	return &Ledger{store: store, cfg: cfg}, nil
}

// CapFor returns the monthly cap for plan.
func (l *Ledger) CapFor(plan string) int {
	if limit, ok := l.cfg.PlanCaps[plan]; ok && limit > 0 {
		return limit
	}
	return l.cfg.DefaultCap
}

// Increment consumes one forecast from the user's monthly allowance and
// returns the updated counter. On rejection the returned error unwraps to
// ErrQuotaExceeded; on backend failure it wraps ErrStoreUnavailable. Neither
// is ever masked: callers decide how rejections surface.
func (l *Ledger) Increment(ctx context.Context, userID, plan string) (Counter, error) {
	start := time.Now()
	limit := l.CapFor(plan)

	counter, err := l.store.Increment(ctx, userID, PeriodKey(l.cfg.Now()), limit)
	l.cfg.Metrics.RecordIncrement(plan, err == nil, time.Since(start))
	if err != nil {
		if errors.Is(err, ErrQuotaExceeded) {
			l.cfg.Logger.Info("quota increment rejected",
				logging.F("user_id", userID),
				logging.F("plan", plan),
				logging.F("count", counter.Count),
				logging.F("cap", counter.Cap),
			)
		} else {
			l.cfg.Metrics.RecordStoreError("increment")
			l.cfg.Logger.Error("quota store increment failed",
				logging.F("user_id", userID),
				logging.F("error", err.Error()),
			)
		}
		return counter, err
	}
	return counter, nil
}

// Read returns the user's current usage without consuming any. The cap is
// resolved from the plan even when the stored counter predates a plan change.
func (l *Ledger) Read(ctx context.Context, userID, plan string) (Counter, error) {
	start := time.Now()
	counter, err := l.store.Read(ctx, userID, PeriodKey(l.cfg.Now()))
	l.cfg.Metrics.RecordRead(time.Since(start))
	if err != nil {
		l.cfg.Metrics.RecordStoreError("read")
		l.cfg.Logger.Error("quota store read failed",
			logging.F("user_id", userID),
			logging.F("error", err.Error()),
		)
		return Counter{}, err
	}
	counter.UserID = userID
	counter.Cap = l.CapFor(plan)
	return counter, nil
}

// Admit implements the orchestrator's Admitter: admission is an increment
// whose counter the caller does not need.
func (l *Ledger) Admit(ctx context.Context, userID, plan string) error {
	_, err := l.Increment(ctx, userID, plan)
	return err
}
