// Package sse decodes the line-oriented event-stream format used by
// OpenAI-compatible completion APIs.
package sse

import (
	"encoding/json"
	"strings"

	"chatgate/internal/core"
)

const (
	// KeepAlive is the comment event OpenRouter sends while a model warms up.
	KeepAlive = ": OPENROUTER PROCESSING"
	// DoneSentinel terminates a stream.
	DoneSentinel = "[DONE]"

	dataPrefix = "data:"
)

// Options controls how events without a data line are handled.
type Options struct {
	// PassThroughOpaque emits non-blank events that carry no data line as
	// Unparsed instead of dropping them.
	PassThroughOpaque bool
}

// Decode parses a complete event-stream text into ordered events.
// It never fails: malformed payloads become Unparsed events.
func Decode(text string) []core.StreamEvent {
	return Options{}.Decode(text)
}

// Decode parses text using o.
func (o Options) Decode(text string) []core.StreamEvent {
	text = strings.ReplaceAll(text, "\r\n", "\n")

	var events []core.StreamEvent
	for _, raw := range strings.Split(text, "\n\n") {
		if ev, ok := o.decodeEvent(raw); ok {
			events = append(events, ev)
		}
	}
	return events
}

func (o Options) decodeEvent(raw string) (core.StreamEvent, bool) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" || trimmed == KeepAlive {
		return core.StreamEvent{}, false
	}

	var parts []string
	for _, line := range strings.Split(raw, "\n") {
		if rest, ok := strings.CutPrefix(line, dataPrefix); ok {
			parts = append(parts, strings.TrimSpace(rest))
		}
	}
	if len(parts) == 0 {
		if o.PassThroughOpaque {
			return core.UnparsedEvent(raw), true
		}
		return core.StreamEvent{}, false
	}

	payload := strings.TrimSpace(strings.Join(parts, " "))
	switch {
	case payload == DoneSentinel:
		return core.DoneEvent(), true
	case payload == "":
		return core.StreamEvent{}, false
	case json.Valid([]byte(payload)):
		return core.ChunkEvent(json.RawMessage(payload)), true
	default:
		return core.UnparsedEvent(payload), true
	}
}
