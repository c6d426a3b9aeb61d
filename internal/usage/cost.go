package usage

import "chatgate/internal/core"

// Price returns the USD cost of a completion at per-million-token rates.
// Reasoning and cached tokens are already inside the prompt and completion
// counts, so they are not priced again. ok is false without pricing.
func Price(promptTokens, completionTokens int, pricing *core.Pricing) (cost float64, ok bool) {
	if pricing == nil {
		return 0, false
	}
	cost = (float64(promptTokens)*pricing.InputPerMtok + float64(completionTokens)*pricing.OutputPerMtok) / 1_000_000
	return cost, true
}

// applyPricing prices r with the first catalog hit among the upstream
// model and the requested model.
func (r *Record) applyPricing(pricing PricingResolver) {
	r.Cost = nil
	if pricing == nil {
		return
	}
	for _, model := range []string{r.UpstreamModel, r.Model} {
		if model == "" {
			continue
		}
		if cost, ok := Price(r.PromptTokens, r.CompletionTokens, pricing.Pricing(model)); ok {
			r.Cost = &cost
			return
		}
	}
}
