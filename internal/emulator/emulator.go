// Package emulator replays a completed chat response as a stream of delta
// chunks, so callers of models that cannot stream see the same events as
// for a live stream.
package emulator

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/tidwall/gjson"

	"chatgate/internal/core"
)

const (
	// DefaultChunkSize is the number of characters per emitted chunk.
	DefaultChunkSize = 100
	// DefaultDelay separates consecutive chunks.
	DefaultDelay = time.Millisecond

	contentPath = "choices.0.message.content"
)

// Options tunes the pacing of an emulated stream.
type Options struct {
	ChunkSize int
	Delay     time.Duration
}

func (o Options) withDefaults() Options {
	if o.ChunkSize <= 0 {
		o.ChunkSize = DefaultChunkSize
	}
	if o.Delay < 0 {
		o.Delay = 0
	}
	return o
}

// DefaultOptions returns 100-character chunks paced 1ms apart.
func DefaultOptions() Options {
	return Options{ChunkSize: DefaultChunkSize, Delay: DefaultDelay}
}

// Stream is an emulated core.EventStream.
type Stream struct {
	ctx    context.Context
	chunks []string
	delay  time.Duration
	next   int
	done   bool

	closed    chan struct{}
	closeOnce sync.Once
}

// Emulate builds a stream from a non-streaming completion body. The body
// must carry choices[0].message.content.
func Emulate(ctx context.Context, body []byte, opts Options) (*Stream, error) {
	content := gjson.GetBytes(body, contentPath)
	if !content.Exists() || content.Type == gjson.Null {
		return nil, core.NewRequestFailedError(http.StatusBadGateway, "response has no message content: "+string(body))
	}
	opts = opts.withDefaults()
	return &Stream{
		ctx:    ctx,
		chunks: Split(content.String(), opts.ChunkSize),
		delay:  opts.Delay,
		closed: make(chan struct{}),
	}, nil
}

// Split cuts text into consecutive pieces of at most size characters.
// Multi-byte characters are never split.
func Split(text string, size int) []string {
	if text == "" {
		return nil
	}
	runes := []rune(text)
	pieces := make([]string, 0, (len(runes)+size-1)/size)
	for i := 0; i < len(runes); i += size {
		end := min(i+size, len(runes))
		pieces = append(pieces, string(runes[i:end]))
	}
	return pieces
}

// Recv returns the next chunk, then Done, then io.EOF.
func (s *Stream) Recv() (core.StreamEvent, error) {
	if s.isClosed() || s.done {
		return core.StreamEvent{}, io.EOF
	}
	if err := s.ctx.Err(); err != nil {
		return core.StreamEvent{}, err
	}

	if s.next >= len(s.chunks) {
		s.done = true
		return core.DoneEvent(), nil
	}

	if s.next > 0 && s.delay > 0 {
		timer := time.NewTimer(s.delay)
		select {
		case <-s.ctx.Done():
			timer.Stop()
			return core.StreamEvent{}, s.ctx.Err()
		case <-s.closed:
			timer.Stop()
			return core.StreamEvent{}, io.EOF
		case <-timer.C:
		}
	}

	data, err := DeltaChunk(s.chunks[s.next])
	if err != nil {
		return core.StreamEvent{}, err
	}
	s.next++
	return core.ChunkEvent(data), nil
}

// Close stops the stream. A Recv waiting between chunks returns io.EOF
// at once, as do later calls. It is safe to call from another goroutine.
func (s *Stream) Close() error {
	s.closeOnce.Do(func() { close(s.closed) })
	return nil
}

func (s *Stream) isClosed() bool {
	select {
	case <-s.closed:
		return true
	default:
		return false
	}
}

type delta struct {
	Content string `json:"content"`
}

type choice struct {
	Delta delta `json:"delta"`
}

type chunk struct {
	Choices []choice `json:"choices"`
}

// DeltaChunk encodes content as a streaming delta payload.
func DeltaChunk(content string) (json.RawMessage, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(chunk{Choices: []choice{{Delta: delta{Content: content}}}}); err != nil {
		return nil, err
	}
	return json.RawMessage(bytes.TrimRight(buf.Bytes(), "\n")), nil
}
