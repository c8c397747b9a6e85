package llm

// modelRate is per-1K-token pricing in USD.
type modelRate struct {
	In  float64
	Out float64
}

// defaultRate applies to models missing from the table.
var defaultRate = modelRate{In: 0.001, Out: 0.002}

// modelRates is keyed by model identifier. Prices drift; these are
// order-of-magnitude estimates for telemetry, not billing.
var modelRates = map[string]modelRate{
	"gpt-4o":                  {In: 0.0025, Out: 0.01},
	"gpt-4o-mini":             {In: 0.00015, Out: 0.0006},
	"claude-sonnet-4":         {In: 0.003, Out: 0.015},
	"claude-3-5-haiku":        {In: 0.0008, Out: 0.004},
	"gemini-1.5-pro":          {In: 0.00125, Out: 0.005},
	"gemini-2.0-flash":        {In: 0.0001, Out: 0.0004},
	"anthropic/claude-sonnet-4": {In: 0.003, Out: 0.015},
	"google/gemini-2.0-flash":   {In: 0.0001, Out: 0.0004},
}

// EstimateCost returns the estimated USD cost of a response.
func EstimateCost(model string, promptTokens, completionTokens int) float64 {
	rate, ok := modelRates[model]
	if !ok {
		rate = defaultRate
	}
	return float64(promptTokens)/1000*rate.In + float64(completionTokens)/1000*rate.Out
}
