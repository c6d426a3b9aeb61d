// Package usage keeps a ledger of token usage and cost for the completions
// the gateway serves. Records are queued in memory and persisted in batches
// to SQLite, PostgreSQL or MongoDB.
package usage

import (
	"context"
	"time"

	"chatgate/internal/core"
)

// Record is the ledger line for one completion.
type Record struct {
	ID           string    `json:"id" bson:"_id"`
	RequestID    string    `json:"request_id,omitempty" bson:"request_id,omitempty"`
	CompletionID string    `json:"completion_id,omitempty" bson:"completion_id,omitempty"`
	CreatedAt    time.Time `json:"created_at" bson:"created_at"`

	// Model is what the client asked for; UpstreamModel is what the
	// upstream says it ran, often a dated variant.
	Model         string `json:"model" bson:"model"`
	UpstreamModel string `json:"upstream_model,omitempty" bson:"upstream_model,omitempty"`
	Target        string `json:"target" bson:"target"`
	Streamed      bool   `json:"streamed" bson:"streamed"`

	PromptTokens     int `json:"prompt_tokens" bson:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens" bson:"completion_tokens"`
	TotalTokens      int `json:"total_tokens" bson:"total_tokens"`
	CachedTokens     int `json:"cached_tokens,omitempty" bson:"cached_tokens,omitempty"`
	ReasoningTokens  int `json:"reasoning_tokens,omitempty" bson:"reasoning_tokens,omitempty"`

	// Cost is the catalog price in USD, nil for unpriced models.
	Cost *float64 `json:"cost,omitempty" bson:"cost,omitempty"`

	// BilledCost is the amount the aggregator reported, when it did.
	BilledCost *float64 `json:"billed_cost,omitempty" bson:"billed_cost,omitempty"`
}

func (r *Record) hasTokens() bool {
	return r.PromptTokens > 0 || r.CompletionTokens > 0 || r.TotalTokens > 0
}

// Meta is what the gateway knows about a request before the upstream answers.
type Meta struct {
	RequestID string
	Model     string
	Target    string
}

// Sink accepts records. Record must not block the request path.
type Sink interface {
	Record(r *Record)
	Enabled() bool
	Close() error
}

// Store persists batches of records.
type Store interface {
	// Insert writes records, skipping ids that already exist.
	Insert(ctx context.Context, records []*Record) error
	Close() error
}

// PricingResolver returns the price of a model, or nil when it is unknown.
// *catalog.Catalog satisfies it.
type PricingResolver interface {
	Pricing(model string) *core.Pricing
}

// Config tunes the Recorder.
type Config struct {
	// QueueSize bounds the records waiting to be persisted
	QueueSize     int
	// BatchSize triggers a write without waiting for the interval
	BatchSize     int
	FlushInterval time.Duration
	// RetentionDays purges older records; 0 keeps them forever
	RetentionDays int
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		QueueSize:     1000,
		BatchSize:     100,
		FlushInterval: 5 * time.Second,
		RetentionDays: 90,
	}
}

func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.QueueSize <= 0 {
		c.QueueSize = def.QueueSize
	}
	if c.BatchSize <= 0 {
		c.BatchSize = def.BatchSize
	}
	if c.FlushInterval <= 0 {
		c.FlushInterval = def.FlushInterval
	}
	return c
}

// Noop discards records. It is used when accounting is disabled.
type Noop struct{}

func (Noop) Record(*Record) {}

func (Noop) Enabled() bool { return false }

func (Noop) Close() error { return nil }
