package usage

import (
	"fmt"
	"strings"
)

const usageTable = "completion_usage"

// recordColumns is the column order shared by the SQL stores.
var recordColumns = []string{
	"id", "request_id", "completion_id", "created_at",
	"model", "upstream_model", "target", "streamed",
	"prompt_tokens", "completion_tokens", "total_tokens",
	"cached_tokens", "reasoning_tokens",
	"cost", "billed_cost",
}

// createdAtColumn indexes created_at in recordColumns and values.
const createdAtColumn = 3

func (r *Record) values() []any {
	return []any{
		r.ID, r.RequestID, r.CompletionID, r.CreatedAt.UTC(),
		r.Model, r.UpstreamModel, r.Target, r.Streamed,
		r.PromptTokens, r.CompletionTokens, r.TotalTokens,
		r.CachedTokens, r.ReasoningTokens,
		r.Cost, r.BilledCost,
	}
}

func insertStatement(verb string, placeholder func(n int) string, suffix string) string {
	marks := make([]string, len(recordColumns))
	for i := range marks {
		marks[i] = placeholder(i + 1)
	}
	return fmt.Sprintf("%s INTO %s (%s) VALUES (%s)%s",
		verb, usageTable, strings.Join(recordColumns, ", "), strings.Join(marks, ", "), suffix)
}

var indexStatements = []string{
	"CREATE INDEX IF NOT EXISTS idx_completion_usage_created_at ON " + usageTable + " (created_at)",
	"CREATE INDEX IF NOT EXISTS idx_completion_usage_request_id ON " + usageTable + " (request_id)",
	"CREATE INDEX IF NOT EXISTS idx_completion_usage_model ON " + usageTable + " (model)",
}
