package usage

import (
	"time"

	"github.com/google/uuid"
	"github.com/tidwall/gjson"
)

// FromCompletion builds a record from a non-streaming chat completion. It
// returns nil when body is not a JSON object; a body without usage yields
// a record with zero tokens.
func FromCompletion(body []byte, meta Meta) *Record {
	if !gjson.ValidBytes(body) {
		return nil
	}
	doc := gjson.ParseBytes(body)
	if !doc.IsObject() {
		return nil
	}
	rec := newRecord(doc, meta)
	parseUsage(rec, doc.Get("usage"))
	return rec
}

func newRecord(doc gjson.Result, meta Meta) *Record {
	return &Record{
		ID:            uuid.NewString(),
		RequestID:     meta.RequestID,
		CompletionID:  doc.Get("id").String(),
		CreatedAt:     time.Now().UTC(),
		Model:         meta.Model,
		UpstreamModel: doc.Get("model").String(),
		Target:        meta.Target,
	}
}

// parseUsage reads an OpenAI-style usage object. Both the
// prompt/completion and the input/output spellings are accepted.
func parseUsage(rec *Record, u gjson.Result) bool {
	if !u.IsObject() {
		return false
	}
	rec.PromptTokens = firstInt(u, "prompt_tokens", "input_tokens")
	rec.CompletionTokens = firstInt(u, "completion_tokens", "output_tokens")
	rec.TotalTokens = int(u.Get("total_tokens").Int())
	if rec.TotalTokens == 0 {
		rec.TotalTokens = rec.PromptTokens + rec.CompletionTokens
	}
	rec.CachedTokens = firstInt(u, "prompt_tokens_details.cached_tokens", "input_tokens_details.cached_tokens")
	rec.ReasoningTokens = firstInt(u, "completion_tokens_details.reasoning_tokens", "output_tokens_details.reasoning_tokens")

	// OpenRouter reports the billed amount when usage accounting is on.
	if c := u.Get("cost"); c.Type == gjson.Number {
		billed := c.Float()
		rec.BilledCost = &billed
	}
	return rec.hasTokens()
}

func firstInt(r gjson.Result, paths ...string) int {
	for _, p := range paths {
		if v := r.Get(p); v.Exists() {
			return int(v.Int())
		}
	}
	return 0
}
