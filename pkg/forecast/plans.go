package forecast

// Plan tiers.
const (
	PlanBusiness   = "business"
	PlanPro        = "pro"
	PlanEnterprise = "enterprise"
)

// stage1Percent is the share of a plan's token budget spent on the numbers
// stage; the narrative stage gets the full budget. Integer math keeps the
// budgets exact.
const stage1Percent = 35

// PlanConfig carries the per-plan generation budgets and the default monthly
// forecast quota.
type PlanConfig struct {
	// TokenBudget is the max_tokens ceiling for the narrative stage and for
	// single-stage generation.
	TokenBudget int

	// NarrativeWords is the target word count for the narrative's full
	// text. Stage 2 accepts a narrative at or above 80% of this target.
	NarrativeWords int

	// MonthlyCap is the default number of forecasts per calendar month.
	MonthlyCap int
}

// Stage1Tokens is the token budget for the numbers/outline stage.
func (c PlanConfig) Stage1Tokens() int {
	return c.TokenBudget * stage1Percent / 100
}

// PlanTable maps plan names to their configuration. Tables are injected into
// the orchestrator and the quota ledger; nothing reads plan settings from the
// environment.
type PlanTable map[string]PlanConfig

// DefaultPlans returns the standard three-tier table.
func DefaultPlans() PlanTable {
	return PlanTable{
		PlanBusiness:   {TokenBudget: 4000, NarrativeWords: 700, MonthlyCap: 50},
		PlanPro:        {TokenBudget: 9000, NarrativeWords: 1600, MonthlyCap: 500},
		PlanEnterprise: {TokenBudget: 13000, NarrativeWords: 2300, MonthlyCap: 5000},
	}
}

// Lookup returns the configuration for plan. Unrecognized plans get the
// business tier; a table without a business row falls back to the built-in
// business defaults.
func (t PlanTable) Lookup(plan string) PlanConfig {
	if cfg, ok := t[plan]; ok {
		return cfg
	}
	if cfg, ok := t[PlanBusiness]; ok {
		return cfg
	}
	return DefaultPlans()[PlanBusiness]
}

// MonthlyCaps projects the table to plan→cap, the shape the quota ledger
// takes.
func (t PlanTable) MonthlyCaps() map[string]int {
	caps := make(map[string]int, len(t))
	for plan, cfg := range t {
		caps[plan] = cfg.MonthlyCap
	}
	return caps
}
