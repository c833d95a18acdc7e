package forecast

import "strings"

// Driver list bounds. Rule matches above the maximum are truncated; shortfall
// below the minimum is padded from the fallback pool.
const (
	minDrivers       = 3
	maxDrivers       = 6
	maxDriverTextLen = 350
)

// driverRule maps a keyword family to one driver statement. Rules are
// evaluated in order and each contributes at most once; every matching rule
// is included.
type driverRule struct {
	keywords []string
	text     string
	tone     Tone
}

var driverRules = []driverRule{
	{
		keywords: []string{"war", "conflict", "invasion", "military"},
		text:     "Armed conflict raises supply-chain disruption risk, insurance premiums, and input shortages across affected trade corridors.",
		tone:     ToneBad,
	},
	{
		keywords: []string{"tariff", "embargo", "sanction"},
		text:     "Trade barriers of this kind typically raise landed input costs and compress margins for import-dependent operators before substitution takes hold.",
		tone:     ToneBad,
	},
	{
		keywords: []string{"subsid", "stimulus", "tax credit", "grant"},
		text:     "Public support programs tend to lift near-term demand and ease capital constraints for qualifying operators.",
		tone:     ToneGood,
	},
	{
		keywords: []string{"drought", "flood", "hurricane", "storm", "heatwave", "wildfire"},
		text:     "Severe weather disrupts logistics and local demand patterns; recovery timelines vary widely by subsector.",
		tone:     ToneWarn,
	},
	{
		keywords: []string{"election", "coup", "regime", "nationaliz"},
		text:     "Shifts in political control add regulatory uncertainty; permitting, procurement, and enforcement priorities can change mid-horizon.",
		tone:     ToneWarn,
	},
	{
		keywords: []string{"interest rate", "rate hike", "rate cut", "central bank", "monetary policy"},
		text:     "Rate-policy moves feed through to financing costs and big-ticket demand with a one-to-two quarter lag.",
		tone:     ToneWarn,
	},
}

// fallbackPool holds the generic statements used to pad the driver list up to
// the minimum when too few rules match.
var fallbackPool = [5]string{
	"Labor availability remains the binding constraint on capacity expansion in most metros.",
	"Input price volatility is elevated relative to the trailing five-year average.",
	"Freight and logistics lead times are normalizing but stay sensitive to fuel costs.",
	"Consumer demand is holding up in essentials while discretionary categories soften.",
	"Credit conditions for small and mid-size operators are tighter than a year ago.",
}

// SynthesizeDrivers derives 3 to 6 tone-tagged drivers from free text,
// typically the event description joined with any extra factors. Matching is
// case-insensitive. When fewer than three rules match, pool statements are
// drawn from rng (index, then tone, per iteration; duplicate picks re-draw)
// until the minimum is reached, so the padding order is reproducible for a
// fixed stream.
func SynthesizeDrivers(text string, rng *Stream) []Driver {
	lower := strings.ToLower(text)

	drivers := make([]Driver, 0, maxDrivers)
	for _, rule := range driverRules {
		for _, kw := range rule.keywords {
			if strings.Contains(lower, kw) {
				drivers = append(drivers, Driver{Text: rule.text, Tone: rule.tone})
				break
			}
		}
	}

	used := make(map[int]bool, minDrivers)
	for len(drivers) < minDrivers {
		idx := int(rng.Float64() * float64(len(fallbackPool)))
		tone := toneFromDraw(rng.Float64())
		if used[idx] {
			continue
		}
		used[idx] = true
		drivers = append(drivers, Driver{Text: fallbackPool[idx], Tone: tone})
	}

	if len(drivers) > maxDrivers {
		drivers = drivers[:maxDrivers]
	}
	return drivers
}

// toneFromDraw buckets a [0,1) draw into the three tones.
func toneFromDraw(d float64) Tone {
	switch {
	case d < 1.0/3.0:
		return ToneGood
	case d < 2.0/3.0:
		return ToneBad
	default:
		return ToneWarn
	}
}
