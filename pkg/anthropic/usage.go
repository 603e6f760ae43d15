package anthropic

import "go.uber.org/zap"

// TokenUsage tracks what one API call consumed.
type TokenUsage struct {
	InputTokens              int64
	OutputTokens             int64
	CacheCreationInputTokens int64
	CacheReadInputTokens     int64
}

// modelRate holds USD per million tokens.
type modelRate struct {
	input  float64
	output float64
}

var rates = map[string]modelRate{
	"claude-haiku-4-5-20251001":  {input: 0.80, output: 4.00},
	"claude-sonnet-4-5-20250929": {input: 3.00, output: 15.00},
}

// EstimateCost converts usage into USD for a known model, 0 for anything
// else. Prompt-cache writes bill at 1.25x the input rate and reads at 0.1x.
func (u TokenUsage) EstimateCost(model string) float64 {
	r, ok := rates[model]
	if !ok {
		return 0
	}
	weightedIn := float64(u.InputTokens) +
		1.25*float64(u.CacheCreationInputTokens) +
		0.1*float64(u.CacheReadInputTokens)
	return (weightedIn*r.input + float64(u.OutputTokens)*r.output) / 1e6
}

// LogCost records the usage and estimated spend of one operation.
func (u TokenUsage) LogCost(model, operation string) {
	zap.L().Info("anthropic usage",
		zap.String("model", model),
		zap.String("operation", operation),
		zap.Int64("input_tokens", u.InputTokens),
		zap.Int64("output_tokens", u.OutputTokens),
		zap.Int64("cache_write_tokens", u.CacheCreationInputTokens),
		zap.Int64("cache_read_tokens", u.CacheReadInputTokens),
		zap.Float64("estimated_cost_usd", u.EstimateCost(model)),
	)
}
