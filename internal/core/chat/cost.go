package chat

import "math"

type modelPrice struct {
	InputPer1K  float64
	OutputPer1K float64
}

var pricing = map[string]modelPrice{
	"llama-3.1-8b-instant": {InputPer1K: 0.00005, OutputPer1K: 0.00008},
	"gemma2-9b-it":         {InputPer1K: 0.0001, OutputPer1K: 0.0001},
}

var defaultPrice = modelPrice{InputPer1K: 0.0001, OutputPer1K: 0.0001}

// EstimateCost returns the USD cost of a completion, rounded to 8 decimals.
// Unknown models are billed at the default rate.
func EstimateCost(model string, inputTokens, outputTokens int) float64 {
	p, ok := pricing[model]
	if !ok {
		p = defaultPrice
	}
	in := float64(max(inputTokens, 0)) / 1000 * p.InputPer1K
	out := float64(max(outputTokens, 0)) / 1000 * p.OutputPer1K
	return math.Round((in+out)*1e8) / 1e8
}
