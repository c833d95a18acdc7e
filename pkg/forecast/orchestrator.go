package forecast

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/impactlab/impactcast/pkg/logging"
)

// ModelClient is the narrow seam to the external text-generation service.
// Generate returns the parsed JSON object produced by the model, or
// (nil, nil) when the model answered but no usable JSON could be extracted.
// Callers treat nil as "no usable output", not as a hard error.
type ModelClient interface {
	Generate(ctx context.Context, systemPrompt, userPrompt string, maxTokens int) (json.RawMessage, error)
}

// Admitter decides whether a request may proceed, typically by incrementing
// the caller's usage counter. Quota and store errors are returned unchanged
// and surface to the caller; they are never downgraded to fallback output.
type Admitter interface {
	Admit(ctx context.Context, userID, plan string) error
}

// Config configures an Orchestrator. The zero value selects two-stage
// generation with the default plan table, two narrative attempts, and an 80%
// word-count acceptance threshold.
type Config struct {
	// Plans is the per-plan budget table. Nil selects DefaultPlans().
	Plans PlanTable

	// SingleStage requests numbers and narrative in one model call instead
	// of the two-stage split. Cheaper, but no outline/narrative consistency
	// pass and no length enforcement.
	SingleStage bool

	// MockMode skips the model entirely and serves deterministic output
	// labeled "mock". Quota is still enforced.
	MockMode bool

	// Stage2Attempts bounds the narrative stage, including the first try.
	// Defaults to 2.
	Stage2Attempts int

	// MinWordRatio is the accepted fraction of the plan's narrative word
	// target. Defaults to 0.8.
	MinWordRatio float64

	Logger  logging.Logger
	Metrics Metrics
}

// Orchestrator runs the forecast pipeline: quota admission, the staged model
// calls with validation and merge, and the deterministic fallback that keeps
// model trouble away from callers.
type Orchestrator struct {
	client   ModelClient
	admitter Admitter
	cfg      Config
}

// NewOrchestrator builds an Orchestrator. client may be nil: every request is
// then served by the deterministic synthesizer with source "demo". admitter
// may be nil: no quota is enforced here (the middleware packages cover edge
// enforcement).
func NewOrchestrator(client ModelClient, admitter Admitter, cfg Config) *Orchestrator {
	if cfg.Plans == nil {
		cfg.Plans = DefaultPlans()
	}
	if cfg.Stage2Attempts <= 0 {
		cfg.Stage2Attempts = 2
	}
	if cfg.MinWordRatio <= 0 {
		cfg.MinWordRatio = 0.8
	}
	if cfg.Logger == nil {
		cfg.Logger = &logging.NoopLogger{}
	}
	if cfg.Metrics == nil {
		cfg.Metrics = &NoopMetrics{}
	}
	return &Orchestrator{client: client, admitter: admitter, cfg: cfg}
}

// Generate runs the full pipeline for req on behalf of userID. Validation and
// quota errors surface; model failures never do: the result degrades to the
// deterministic synthesizer and Meta.Source/Meta.Error record what happened.
func (o *Orchestrator) Generate(ctx context.Context, userID string, req Request) (*Result, error) {
	start := time.Now()
	req = req.WithDefaults()

	if err := req.Validate(); err != nil {
		return nil, err
	}

	if o.admitter != nil {
		if err := o.admitter.Admit(ctx, userID, req.Plan); err != nil {
			return nil, err
		}
	}

	if o.cfg.MockMode {
		res := Synthesize(req)
		res.Meta.Source = SourceMock
		return o.finish(&res, start), nil
	}
	if o.client == nil {
		res := Synthesize(req)
		return o.finish(&res, start), nil
	}

	plan := o.cfg.Plans.Lookup(req.Plan)
	if o.cfg.SingleStage {
		return o.generateSingle(ctx, start, req, plan), nil
	}
	return o.generateTwoStage(ctx, start, req, plan), nil
}

// finish stamps latency, records metrics, and logs the outcome. Every
// generation path funnels through here exactly once.
func (o *Orchestrator) finish(res *Result, start time.Time) *Result {
	elapsed := time.Since(start)
	res.Meta.LatencyMS = elapsed.Milliseconds()
	o.cfg.Metrics.RecordForecast(res.Meta.Source, elapsed)
	o.cfg.Logger.Info("forecast generated",
		logging.F("source", res.Meta.Source),
		logging.F("latency_ms", res.Meta.LatencyMS),
	)
	return res
}

func (o *Orchestrator) generateTwoStage(ctx context.Context, start time.Time, req Request, plan PlanConfig) *Result {
	s1, err := o.runStage1(ctx, req, plan)
	if err != nil {
		return o.finish(o.fallback(req, nil, fmt.Sprintf("stage1: %v", err)), start)
	}

	narrative, err := o.runStage2(ctx, req, plan, s1)
	if err != nil {
		return o.finish(o.fallback(req, s1, fmt.Sprintf("stage2: %v", err)), start)
	}

	res := o.resultFromStage1(req, s1)
	backfillNarrative(narrative, s1.Outline)
	res.Narrative = narrative
	res.Meta.Source = SourceTwoStage
	return o.finish(res, start)
}

func (o *Orchestrator) generateSingle(ctx context.Context, start time.Time, req Request, plan PlanConfig) *Result {
	raw, err := o.client.Generate(ctx, singleStageSystemPrompt, singleStageUserPrompt(req, plan.NarrativeWords), plan.TokenBudget)
	if err == nil && raw == nil {
		err = errNoPayload
	}

	var payload singlePayload
	if err == nil {
		if uerr := json.Unmarshal(raw, &payload); uerr != nil {
			err = fmt.Errorf("decode: %w", uerr)
		}
	}
	if err != nil {
		o.cfg.Metrics.RecordStageFailure("single")
		o.cfg.Logger.Warn("single-stage generation failed", logging.F("error", err.Error()))
		return o.finish(o.fallback(req, nil, fmt.Sprintf("single: %v", err)), start)
	}

	res := o.resultFromStage1(req, &payload.stage1Payload)
	narrative := narrativeFromPayload(payload.Narrative)
	backfillNarrative(narrative, payload.Outline)
	res.Narrative = narrative
	res.Meta.Source = SourceLive
	return o.finish(res, start)
}

// stage1Payload is the strict-JSON shape requested from the model in the
// numbers stage. Pointer fields keep absent values distinguishable so the
// documented coercion defaults apply.
type stage1Payload struct {
	DemandPct  *float64       `json:"demand_pct"`
	CostPct    *float64       `json:"cost_pct"`
	MarginBps  *float64       `json:"margin_bps"`
	Confidence *float64       `json:"confidence"`
	Drivers    []stage1Driver `json:"drivers"`
	Outline    outlinePayload `json:"outline"`
}

type stage1Driver struct {
	Text string `json:"text"`
	Tone string `json:"tone"`
}

type outlinePayload struct {
	Assumptions  []string `json:"assumptions"`
	Risks        []string `json:"risks"`
	LocalSignals []string `json:"local_signals"`
	TimePath     []string `json:"time_path"`
	Actions      []string `json:"actions"`
	DataAnchors  []string `json:"data_anchors"`
}

type narrativePayload struct {
	Summary      string   `json:"summary"`
	Full         string   `json:"full"`
	Assumptions  []string `json:"assumptions"`
	Risks        []string `json:"risks"`
	LocalSignals []string `json:"local_signals"`
	TimePath     []string `json:"time_path"`
	Actions      []string `json:"actions"`
	DataAnchors  []string `json:"data_anchors"`
}

type singlePayload struct {
	stage1Payload
	Narrative narrativePayload `json:"narrative"`
}

func (o *Orchestrator) runStage1(ctx context.Context, req Request, plan PlanConfig) (*stage1Payload, error) {
	raw, err := o.client.Generate(ctx, stage1SystemPrompt, stage1UserPrompt(req), plan.Stage1Tokens())
	if err == nil && raw == nil {
		err = errNoPayload
	}

	var payload stage1Payload
	if err == nil {
		if uerr := json.Unmarshal(raw, &payload); uerr != nil {
			err = fmt.Errorf("decode: %w", uerr)
		}
	}
	if err != nil {
		o.cfg.Metrics.RecordStageFailure("stage1")
		o.cfg.Logger.Warn("stage1 failed", logging.F("error", err.Error()))
		return nil, err
	}
	return &payload, nil
}

// runStage2 asks for the narrative and enforces the per-plan length target.
// The attempt budget covers every failure mode the same way: HTTP errors,
// unusable JSON, and under-length narratives all consume one attempt.
func (o *Orchestrator) runStage2(ctx context.Context, req Request, plan PlanConfig, s1 *stage1Payload) (*Narrative, error) {
	target := plan.NarrativeWords
	minWords := int(float64(target) * o.cfg.MinWordRatio)
	userPrompt := stage2UserPrompt(req, s1.Outline, target)

	var lastErr error
	for attempt := 1; attempt <= o.cfg.Stage2Attempts; attempt++ {
		if attempt > 1 {
			o.cfg.Metrics.RecordStageRetry("stage2")
		}

		raw, err := o.client.Generate(ctx, stage2SystemPrompt, userPrompt, plan.TokenBudget)
		if err == nil && raw == nil {
			err = errNoPayload
		}

		var payload narrativePayload
		if err == nil {
			if uerr := json.Unmarshal(raw, &payload); uerr != nil {
				err = fmt.Errorf("decode: %w", uerr)
			}
		}
		if err == nil {
			if wc := wordCount(payload.Full); wc < minWords {
				err = fmt.Errorf("narrative under length: %d words, want at least %d", wc, minWords)
			}
		}
		if err == nil {
			return narrativeFromPayload(payload), nil
		}

		lastErr = err
		o.cfg.Metrics.RecordStageFailure("stage2")
		o.cfg.Logger.Warn("stage2 attempt failed",
			logging.F("attempt", attempt),
			logging.F("error", err.Error()),
		)
	}
	return nil, lastErr
}

// resultFromStage1 applies the coercion rules to a stage-1 payload: missing
// or non-finite numbers take their documented defaults, percentages are
// re-rounded, confidence is clamped, and the driver list is normalized into
// the 3..6 window.
func (o *Orchestrator) resultFromStage1(req Request, p *stage1Payload) *Result {
	res := &Result{
		DemandPct:  round1(finiteOr(p.DemandPct, 0)),
		CostPct:    round1(finiteOr(p.CostPct, 0)),
		MarginBps:  int(math.Round(finiteOr(p.MarginBps, 0))),
		Confidence: clamp01(finiteOr(p.Confidence, DefaultConfidence)),
		Drivers:    normalizeDrivers(p.Drivers, req),
	}
	res.Meta = metaFor(req)
	return res
}

// fallback serves the deterministic result. When stage-1 numbers had already
// validated they overlay the synthesized ones (numbers stay live, narrative
// is synthetic) and the source says so.
func (o *Orchestrator) fallback(req Request, s1 *stage1Payload, reason string) *Result {
	res := Synthesize(req)
	if s1 != nil {
		live := o.resultFromStage1(req, s1)
		res.DemandPct = live.DemandPct
		res.CostPct = live.CostPct
		res.MarginBps = live.MarginBps
		res.Confidence = live.Confidence
		res.Drivers = live.Drivers
		res.Meta.Source = SourceLiveFallback
	} else {
		res.Meta.Source = SourceFallbackDemo
	}
	res.Meta.Error = reason
	return &res
}

func finiteOr(v *float64, def float64) float64 {
	if v == nil || math.IsNaN(*v) || math.IsInf(*v, 0) {
		return def
	}
	return *v
}

// normalizeDrivers clips model-supplied drivers into the 3..6 window:
// truncate past six, drop empties, clip text to the length bound, coerce
// unknown tones to warn, and pad a shortfall from the fallback pool using a
// stream seeded from the request so padding stays deterministic.
func normalizeDrivers(in []stage1Driver, req Request) []Driver {
	drivers := make([]Driver, 0, maxDrivers)
	for _, d := range in {
		if len(drivers) == maxDrivers {
			break
		}
		text := strings.TrimSpace(d.Text)
		if text == "" {
			continue
		}
		drivers = append(drivers, Driver{Text: clipText(text, maxDriverTextLen), Tone: toneOrWarn(d.Tone)})
	}

	if len(drivers) < minDrivers {
		rng := NewStream(Seed(seedString(req)))
		for _, pad := range SynthesizeDrivers("", rng) {
			if len(drivers) >= minDrivers {
				break
			}
			if hasDriverText(drivers, pad.Text) {
				continue
			}
			drivers = append(drivers, pad)
		}
	}
	return drivers
}

func hasDriverText(drivers []Driver, text string) bool {
	for _, d := range drivers {
		if d.Text == text {
			return true
		}
	}
	return false
}

func toneOrWarn(tone string) Tone {
	switch Tone(strings.ToLower(strings.TrimSpace(tone))) {
	case ToneGood:
		return ToneGood
	case ToneBad:
		return ToneBad
	default:
		return ToneWarn
	}
}

// clipText truncates to at most limit runes without splitting a rune.
func clipText(s string, limit int) string {
	if utf8.RuneCountInString(s) <= limit {
		return s
	}
	runes := []rune(s)
	return string(runes[:limit])
}

func wordCount(s string) int {
	return len(strings.Fields(s))
}

func narrativeFromPayload(p narrativePayload) *Narrative {
	n := &Narrative{
		Summary:      strings.TrimSpace(p.Summary),
		Full:         strings.TrimSpace(p.Full),
		Assumptions:  p.Assumptions,
		Risks:        p.Risks,
		LocalSignals: p.LocalSignals,
		TimePath:     p.TimePath,
		Actions:      p.Actions,
		DataAnchors:  p.DataAnchors,
	}
	n.normalize()
	return n
}

// backfillNarrative fills list sections the narrative stage left empty from
// the stage-1 outline, then re-normalizes.
func backfillNarrative(n *Narrative, outline outlinePayload) {
	if len(n.Assumptions) == 0 {
		n.Assumptions = outline.Assumptions
	}
	if len(n.Risks) == 0 {
		n.Risks = outline.Risks
	}
	if len(n.LocalSignals) == 0 {
		n.LocalSignals = outline.LocalSignals
	}
	if len(n.TimePath) == 0 {
		n.TimePath = outline.TimePath
	}
	if len(n.Actions) == 0 {
		n.Actions = outline.Actions
	}
	if len(n.DataAnchors) == 0 {
		n.DataAnchors = outline.DataAnchors
	}
	n.normalize()
}
