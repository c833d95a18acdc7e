// Package forecast implements the economic impact forecast pipeline: a
// deterministic synthesizer that always produces a usable result, a two-stage
// orchestration of an external text-generation model, and the request/result
// types shared by both paths.
package forecast

import (
	"strings"
)

// Tone classifies a driver's directional implication.
type Tone string

const (
	ToneGood Tone = "good"
	ToneBad  Tone = "bad"
	ToneWarn Tone = "warn"
)

// Supported forecast horizons.
const (
	HorizonShort  = "short"
	HorizonMedium = "medium"
	HorizonLong   = "long"
)

// Request defaults, applied by WithDefaults.
const (
	DefaultHorizon  = HorizonMedium
	DefaultScenario = "Base"
)

// Forecast sources, recorded in Meta.Source. The value always names the code
// path that actually produced the numbers.
const (
	// SourceDemo: deterministic synthesizer, no model configured.
	SourceDemo = "demo"
	// SourceLive: single-stage model generation succeeded.
	SourceLive = "openrouter"
	// SourceTwoStage: both model stages succeeded and were merged.
	SourceTwoStage = "openrouter_2stage"
	// SourceLiveFallback: stage-1 numbers survived a stage-2 failure and
	// were overlaid on a synthesized result.
	SourceLiveFallback = "openrouter_fallback"
	// SourceFallbackDemo: a model was configured but failed before usable
	// numbers existed; the result is fully synthesized.
	SourceFallbackDemo = "fallback-demo"
	// SourceMock: mock mode, deterministic output without model spend.
	SourceMock = "mock"
)

// Request is the immutable input to a forecast.
type Request struct {
	Event        string `json:"event"`
	Geo          string `json:"geo"`
	NAICS        string `json:"naics"`
	Horizon      string `json:"horizon,omitempty"`
	Scenario     string `json:"scenario,omitempty"`
	ExtraFactors string `json:"extra_factors,omitempty"`
	Plan         string `json:"plan,omitempty"`
}

// WithDefaults returns a copy of the request with empty horizon, scenario,
// and plan fields filled in. Non-empty but unrecognized values are kept as
// given; the lookup helpers (HorizonMonths, ScenarioMultiplier,
// PlanTable.Lookup) map those to their defaults instead of erroring.
func (r Request) WithDefaults() Request {
	if strings.TrimSpace(r.Horizon) == "" {
		r.Horizon = DefaultHorizon
	}
	if strings.TrimSpace(r.Scenario) == "" {
		r.Scenario = DefaultScenario
	}
	if strings.TrimSpace(r.Plan) == "" {
		r.Plan = PlanBusiness
	}
	return r
}

// Validate checks the required free-text fields. It returns a
// *ValidationError naming the first missing field, or nil.
func (r Request) Validate() error {
	if strings.TrimSpace(r.Event) == "" {
		return &ValidationError{Field: "event", Message: "event is required"}
	}
	if strings.TrimSpace(r.Geo) == "" {
		return &ValidationError{Field: "geo", Message: "geo is required"}
	}
	if strings.TrimSpace(r.NAICS) == "" {
		return &ValidationError{Field: "naics", Message: "naics is required"}
	}
	return nil
}

// HorizonMonths maps a horizon label to its length in months. Unrecognized
// values map to the medium horizon.
func HorizonMonths(horizon string) int {
	switch horizon {
	case HorizonShort:
		return 3
	case HorizonLong:
		return 24
	default:
		return 12
	}
}

// ScenarioMultiplier returns the shock multiplier for a scenario label,
// matched by substring on the lower-cased value: severe scenarios amplify
// shifts, best-case scenarios dampen them.
func ScenarioMultiplier(scenario string) float64 {
	s := strings.ToLower(scenario)
	switch {
	case strings.Contains(s, "severe"):
		return 1.8
	case strings.Contains(s, "best"):
		return 0.6
	default:
		return 1.0
	}
}

// CanonicalGeo trims the location string and collapses runs of inner
// whitespace to single spaces. Idempotent.
func CanonicalGeo(geo string) string {
	return strings.Join(strings.Fields(geo), " ")
}

// CanonicalNAICS trims and upper-cases the industry code. Idempotent.
func CanonicalNAICS(naics string) string {
	return strings.ToUpper(strings.TrimSpace(naics))
}

// Driver is a short, tone-tagged explanatory statement attached to a
// forecast.
type Driver struct {
	Text string `json:"text"`
	Tone Tone   `json:"tone"`
}

// Narrative is the long-form portion of a forecast. The list sections always
// serialize as arrays, never null.
type Narrative struct {
	Summary      string   `json:"summary"`
	Full         string   `json:"full"`
	Assumptions  []string `json:"assumptions"`
	Risks        []string `json:"risks"`
	LocalSignals []string `json:"local_signals"`
	TimePath     []string `json:"time_path"`
	Actions      []string `json:"actions"`
	DataAnchors  []string `json:"data_anchors"`
}

// maxNarrativeItems bounds every narrative list section.
const maxNarrativeItems = 5

// normalize replaces nil sections with empty lists and clips each section to
// the item bound.
func (n *Narrative) normalize() {
	n.Assumptions = clampList(n.Assumptions)
	n.Risks = clampList(n.Risks)
	n.LocalSignals = clampList(n.LocalSignals)
	n.TimePath = clampList(n.TimePath)
	n.Actions = clampList(n.Actions)
	n.DataAnchors = clampList(n.DataAnchors)
}

func clampList(items []string) []string {
	if items == nil {
		return []string{}
	}
	if len(items) > maxNarrativeItems {
		items = items[:maxNarrativeItems]
	}
	return items
}

// Meta describes how a forecast was produced.
type Meta struct {
	GeoCanonical   string `json:"geo_canonical"`
	NAICSCanonical string `json:"naics_canonical"`
	HorizonMonths  int    `json:"horizon_months"`
	LatencyMS      int64  `json:"latency_ms"`
	Source         string `json:"source"`
	Error          string `json:"error,omitempty"`
}

// Result is a complete forecast. Percentages carry one decimal, margins are
// whole basis points, and the driver list always holds 3 to 6 entries.
type Result struct {
	DemandPct  float64    `json:"demand_pct"`
	CostPct    float64    `json:"cost_pct"`
	MarginBps  int        `json:"margin_bps"`
	Drivers    []Driver   `json:"drivers"`
	Confidence float64    `json:"confidence"`
	Narrative  *Narrative `json:"narrative,omitempty"`
	Meta       Meta       `json:"meta"`
}

// metaFor seeds a Meta with the request-derived fields shared by every
// generation path.
func metaFor(req Request) Meta {
	return Meta{
		GeoCanonical:   CanonicalGeo(req.Geo),
		NAICSCanonical: CanonicalNAICS(req.NAICS),
		HorizonMonths:  HorizonMonths(req.Horizon),
	}
}
