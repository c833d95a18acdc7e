package forecast_test

import (
	"testing"

	"github.com/impactlab/impactcast/pkg/forecast"
)

func TestDefaultPlans(t *testing.T) {
	plans := forecast.DefaultPlans()

	tests := []struct {
		plan   string
		tokens int
		words  int
		cap    int
	}{
		{forecast.PlanBusiness, 4000, 700, 50},
		{forecast.PlanPro, 9000, 1600, 500},
		{forecast.PlanEnterprise, 13000, 2300, 5000},
	}
	for _, tt := range tests {
		cfg, ok := plans[tt.plan]
		if !ok {
			t.Fatalf("plan %q missing from default table", tt.plan)
		}
		if cfg.TokenBudget != tt.tokens {
			t.Errorf("%s TokenBudget = %d, want %d", tt.plan, cfg.TokenBudget, tt.tokens)
		}
		if cfg.NarrativeWords != tt.words {
			t.Errorf("%s NarrativeWords = %d, want %d", tt.plan, cfg.NarrativeWords, tt.words)
		}
		if cfg.MonthlyCap != tt.cap {
			t.Errorf("%s MonthlyCap = %d, want %d", tt.plan, cfg.MonthlyCap, tt.cap)
		}
	}
}

func TestPlanConfig_Stage1Tokens(t *testing.T) {
	plans := forecast.DefaultPlans()
	if got := plans[forecast.PlanBusiness].Stage1Tokens(); got != 1400 {
		t.Errorf("business Stage1Tokens = %d, want 1400", got)
	}
	if got := plans[forecast.PlanEnterprise].Stage1Tokens(); got != 4550 {
		t.Errorf("enterprise Stage1Tokens = %d, want 4550", got)
	}
}

func TestPlanTable_Lookup(t *testing.T) {
	plans := forecast.DefaultPlans()

	if got := plans.Lookup(forecast.PlanPro); got.TokenBudget != 9000 {
		t.Errorf("Lookup(pro) TokenBudget = %d, want 9000", got.TokenBudget)
	}
	if got := plans.Lookup("no-such-plan"); got.TokenBudget != 4000 {
		t.Errorf("unknown plan should get business budgets, got %+v", got)
	}

	// A table without a business row still resolves to usable budgets.
	bare := forecast.PlanTable{"vip": {TokenBudget: 99000, NarrativeWords: 9000, MonthlyCap: 9}}
	got := bare.Lookup("someone-else")
	if got.TokenBudget != 4000 || got.NarrativeWords != 700 {
		t.Errorf("fallback config = %+v, want built-in business defaults", got)
	}
}

func TestPlanTable_MonthlyCaps(t *testing.T) {
	caps := forecast.DefaultPlans().MonthlyCaps()
	if len(caps) != 3 {
		t.Fatalf("expected 3 cap entries, got %d", len(caps))
	}
	if caps[forecast.PlanBusiness] != 50 || caps[forecast.PlanPro] != 500 || caps[forecast.PlanEnterprise] != 5000 {
		t.Errorf("caps = %v", caps)
	}
}
