package shaper

import (
	"strings"

	"chatgate/internal/core"
)

// nonReasoningModels are direct-API models that reject a reasoning object.
// Matching is exact; anything else without a slash is assumed to reason.
var nonReasoningModels = map[string]struct{}{
	"gpt-3.5-turbo":          {},
	"gpt-3.5-turbo-16k":      {},
	"gpt-3.5-turbo-0125":     {},
	"gpt-3.5-turbo-1106":     {},
	"gpt-4":                  {},
	"gpt-4-turbo":            {},
	"gpt-4-turbo-preview":    {},
	"gpt-4-turbo-2024-04-09": {},
	"gpt-4-0125-preview":     {},
	"gpt-4-1106-preview":     {},
	"gpt-4-0613":             {},
	"gpt-4o":                 {},
	"gpt-4o-2024-05-13":      {},
	"gpt-4o-2024-08-06":      {},
	"gpt-4o-mini":            {},
	"gpt-4o-mini-2024-07-18": {},
	"chatgpt-4o-latest":      {},
}

// SupportsDirectReasoning reports whether a direct-API model accepts a
// reasoning effort.
func SupportsDirectReasoning(model string) bool {
	if IsAggregatorModel(model) {
		return false
	}
	_, denied := nonReasoningModels[model]
	return !denied
}

// IsAnthropicModel reports whether an aggregator model is served by Anthropic.
func IsAnthropicModel(model string) bool {
	return strings.HasPrefix(model, "anthropic/")
}

// Reasoning computes the reasoning object for a request, or nil when the
// target must not receive one. Missing knobs fall back to the defaults.
//
//   - aggregator, anthropic/ models: {max_tokens}
//   - aggregator, other vendors: {effort}
//   - Azure endpoints: none
//   - direct API: {effort} unless the model is a known non-reasoning model
func Reasoning(model string, target Target, azureEndpoint bool, cfg *core.ReasoningConfig) *core.ReasoningPayload {
	effort := core.ReasoningEffortMedium
	maxTokens := core.DefaultReasoningMaxTokens
	if cfg != nil {
		if cfg.Effort != "" {
			effort = cfg.Effort
		}
		if cfg.MaxTokens > 0 {
			maxTokens = cfg.MaxTokens
		}
	}

	switch {
	case target.Kind == TargetAggregator:
		if IsAnthropicModel(model) {
			return &core.ReasoningPayload{MaxTokens: maxTokens}
		}
		return &core.ReasoningPayload{Effort: effort}
	case target.Kind == TargetAzure || azureEndpoint:
		return nil
	case SupportsDirectReasoning(model):
		return &core.ReasoningPayload{Effort: effort}
	default:
		return nil
	}
}
