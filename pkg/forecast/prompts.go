package forecast

import (
	"encoding/json"
	"fmt"
	"strings"
)

const stage1SystemPrompt = `You are an economic impact analyst producing structured forecasts for regional businesses.
Respond with one strict JSON object and nothing else. No prose, no markdown fences.
Schema:
{
  "demand_pct": number,            // expected demand shift in percent, one decimal
  "cost_pct": number,              // expected input cost shift in percent, one decimal
  "margin_bps": number,            // expected margin impact in basis points, integer
  "confidence": number,            // 0..1
  "drivers": [{"text": string, "tone": "good"|"bad"|"warn"}],   // 3 to 6 entries, each text under 350 characters
  "outline": {
    "assumptions": [string], "risks": [string], "local_signals": [string],
    "time_path": [string], "actions": [string], "data_anchors": [string]
  }
}
Each outline list holds at most 5 short items. Ground every number in the event, location, industry, and scenario you are given.`

const stage2SystemPrompt = `You are an economic analyst writing a client-ready impact narrative.
Respond with one strict JSON object and nothing else. No prose outside JSON, no markdown fences.
Schema:
{
  "summary": string,               // 2-3 sentences
  "full": string,                  // the narrative body, plain text, hitting the requested word count
  "assumptions": [string], "risks": [string], "local_signals": [string],
  "time_path": [string], "actions": [string], "data_anchors": [string]
}
Each list holds at most 5 short items. The narrative must stay consistent with the outline and numbers you are given.`

const singleStageSystemPrompt = `You are an economic impact analyst producing a complete structured forecast in one pass.
Respond with one strict JSON object and nothing else. No prose, no markdown fences.
Schema:
{
  "demand_pct": number, "cost_pct": number, "margin_bps": number, "confidence": number,
  "drivers": [{"text": string, "tone": "good"|"bad"|"warn"}],
  "outline": {"assumptions": [string], "risks": [string], "local_signals": [string],
              "time_path": [string], "actions": [string], "data_anchors": [string]},
  "narrative": {"summary": string, "full": string,
                "assumptions": [string], "risks": [string], "local_signals": [string],
                "time_path": [string], "actions": [string], "data_anchors": [string]}
}
Lists hold at most 5 short items; drivers hold 3 to 6 entries with text under 350 characters.`

// requestBrief renders the shared request context block used by every prompt.
func requestBrief(req Request) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Event: %s\n", req.Event)
	fmt.Fprintf(&b, "Location: %s\n", CanonicalGeo(req.Geo))
	fmt.Fprintf(&b, "Industry (NAICS): %s\n", CanonicalNAICS(req.NAICS))
	fmt.Fprintf(&b, "Horizon: %d months\n", HorizonMonths(req.Horizon))
	fmt.Fprintf(&b, "Scenario: %s\n", req.Scenario)
	if strings.TrimSpace(req.ExtraFactors) != "" {
		fmt.Fprintf(&b, "Extra factors: %s\n", req.ExtraFactors)
	}
	return b.String()
}

func stage1UserPrompt(req Request) string {
	var b strings.Builder
	b.WriteString("Produce the numeric forecast and outline for:\n\n")
	b.WriteString(requestBrief(req))
	return b.String()
}

func stage2UserPrompt(req Request, outline outlinePayload, targetWords int) string {
	var b strings.Builder
	b.WriteString("Write the narrative for this forecast.\n\n")
	b.WriteString(requestBrief(req))
	fmt.Fprintf(&b, "\nTarget length for the \"full\" field: about %d words.\n", targetWords)
	if enc, err := json.Marshal(outline); err == nil {
		b.WriteString("\nStage-1 outline to stay consistent with:\n")
		b.Write(enc)
		b.WriteString("\n")
	}
	return b.String()
}

func singleStageUserPrompt(req Request, targetWords int) string {
	var b strings.Builder
	b.WriteString("Produce the complete forecast for:\n\n")
	b.WriteString(requestBrief(req))
	fmt.Fprintf(&b, "\nTarget length for narrative.full: about %d words.\n", targetWords)
	return b.String()
}
