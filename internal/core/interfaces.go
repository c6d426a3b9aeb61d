package core

import (
	"context"
	"encoding/json"
)

// ChatRequest is a fully specified completion call. Credentials and the
// base endpoint travel with the request; nothing is read from ambient state.
type ChatRequest struct {
	Endpoint      string
	APIKey        string
	AggregatorKey string
	Headers       map[string]string
	Messages      []Message
	Config        GenerationConfig
}

// EventStream is a finite, non-restartable sequence of stream events.
// Recv returns io.EOF after the Done event has been delivered.
// Close releases the underlying connection and is safe to call more than once.
type EventStream interface {
	Recv() (StreamEvent, error)
	Close() error
}

// Completer executes chat requests against an upstream.
type Completer interface {
	// Complete performs a non-streaming request and returns the upstream JSON.
	Complete(ctx context.Context, req *ChatRequest) (json.RawMessage, error)

	// Stream performs a streaming request, emulating one when the model
	// cannot stream.
	Stream(ctx context.Context, req *ChatRequest) (EventStream, error)
}
