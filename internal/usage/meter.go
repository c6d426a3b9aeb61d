package usage

import (
	"errors"
	"io"
	"sync"

	"github.com/tidwall/gjson"

	"chatgate/internal/core"
)

// meteredStream watches chunks for the usage object that OpenAI-compatible
// upstreams attach near the end of a stream. At most one record is written,
// when the stream finishes or is closed, and only if usage was seen.
type meteredStream struct {
	core.EventStream
	sink    Sink
	pricing PricingResolver
	meta    Meta

	mu       sync.Mutex
	last     *Record
	recorded sync.Once
}

// Meter wraps stream so its usage lands in sink. A nil or disabled sink
// leaves stream untouched.
func Meter(stream core.EventStream, sink Sink, pricing PricingResolver, meta Meta) core.EventStream {
	if sink == nil || !sink.Enabled() {
		return stream
	}
	return &meteredStream{EventStream: stream, sink: sink, pricing: pricing, meta: meta}
}

func (m *meteredStream) Recv() (core.StreamEvent, error) {
	ev, err := m.EventStream.Recv()
	switch {
	case errors.Is(err, io.EOF):
		m.commit()
	case err != nil:
	case ev.IsDone():
		m.commit()
	case ev.Kind == core.EventChunk:
		m.inspect(ev.Data)
	}
	return ev, err
}

// Close records whatever usage was seen, then closes the inner stream.
func (m *meteredStream) Close() error {
	m.commit()
	return m.EventStream.Close()
}

func (m *meteredStream) inspect(data []byte) {
	doc := gjson.ParseBytes(data)
	u := doc.Get("usage")
	if !u.IsObject() {
		return
	}
	rec := newRecord(doc, m.meta)
	rec.Streamed = true
	if !parseUsage(rec, u) {
		return
	}
	m.mu.Lock()
	m.last = rec
	m.mu.Unlock()
}

func (m *meteredStream) commit() {
	m.recorded.Do(func() {
		m.mu.Lock()
		rec := m.last
		m.mu.Unlock()
		if rec == nil {
			return
		}
		rec.applyPricing(m.pricing)
		m.sink.Record(rec)
	})
}

// RecordCompletion writes the usage of a non-streaming response body.
func RecordCompletion(sink Sink, pricing PricingResolver, body []byte, meta Meta) {
	if sink == nil || !sink.Enabled() {
		return
	}
	rec := FromCompletion(body, meta)
	if rec == nil {
		return
	}
	rec.applyPricing(pricing)
	sink.Record(rec)
}
