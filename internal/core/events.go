package core

import "encoding/json"

// EventKind tags a StreamEvent.
type EventKind int

const (
	// EventChunk carries one parsed JSON payload.
	EventChunk EventKind = iota
	// EventDone is the terminal sentinel of a stream.
	EventDone
	// EventUnparsed carries payload text that was not valid JSON.
	EventUnparsed
)

func (k EventKind) String() string {
	switch k {
	case EventChunk:
		return "chunk"
	case EventDone:
		return "done"
	case EventUnparsed:
		return "unparsed"
	default:
		return "unknown"
	}
}

// StreamEvent is one decoded element of a completion stream.
type StreamEvent struct {
	Kind EventKind
	// Data is the raw JSON payload of a chunk.
	Data json.RawMessage
	// Text is the original text of an unparsed event.
	Text string
}

// ChunkEvent wraps a JSON payload.
func ChunkEvent(data json.RawMessage) StreamEvent {
	return StreamEvent{Kind: EventChunk, Data: data}
}

// DoneEvent returns the terminal event.
func DoneEvent() StreamEvent {
	return StreamEvent{Kind: EventDone}
}

// UnparsedEvent wraps text that failed to decode as JSON.
func UnparsedEvent(text string) StreamEvent {
	return StreamEvent{Kind: EventUnparsed, Text: text}
}

// IsDone reports whether e terminates the stream.
func (e StreamEvent) IsDone() bool {
	return e.Kind == EventDone
}
