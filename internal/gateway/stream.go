package gateway

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"chatgate/internal/core"
	"chatgate/internal/sse"
)

// liveStream decodes an upstream event-stream body. The body is closed as
// soon as the stream ends for any reason.
type liveStream struct {
	ctx       context.Context
	body      io.ReadCloser
	reader    *sse.Reader
	target    string
	finished  bool
	closed    atomic.Bool
	closeOnce sync.Once
	closeErr  error
}

func newLiveStream(ctx context.Context, body io.ReadCloser, opts sse.Options, target string) *liveStream {
	return &liveStream{
		ctx:    ctx,
		body:   body,
		reader: sse.NewReaderWithOptions(body, opts),
		target: target,
	}
}

// Recv returns the next event. After Done it returns io.EOF. A read
// failure or end of body before Done ends the stream with a
// network_failure error.
func (s *liveStream) Recv() (core.StreamEvent, error) {
	if s.finished || s.closed.Load() {
		return core.StreamEvent{}, io.EOF
	}

	ev, err := s.reader.Next()
	switch {
	case err == nil:
		if ev.IsDone() {
			s.finish()
		}
		return ev, nil
	case s.closed.Load():
		return core.StreamEvent{}, io.EOF
	case errors.Is(err, io.EOF) && s.ctx.Err() == nil:
		slog.Warn("upstream stream ended without done sentinel", "target", s.target)
		s.finish()
		return core.StreamEvent{}, core.NewNetworkFailureError("stream ended before [DONE]", io.ErrUnexpectedEOF).WithTarget(s.target)
	default:
		s.finish()
		if ctxErr := s.ctx.Err(); ctxErr != nil {
			err = ctxErr
		}
		return core.StreamEvent{}, core.NewNetworkFailureError("stream interrupted: "+err.Error(), err).WithTarget(s.target)
	}
}

// Close releases the connection. It is safe to call more than once.
func (s *liveStream) Close() error {
	s.closed.Store(true)
	return s.release()
}

func (s *liveStream) finish() {
	s.finished = true
	_ = s.release()
}

func (s *liveStream) release() error {
	s.closeOnce.Do(func() {
		s.closeErr = s.body.Close()
	})
	return s.closeErr
}

// observedStream reports the outcome of a stream exactly once.
type observedStream struct {
	core.EventStream
	observer Observer
	target   string
	emulated bool
	start    time.Time
	events   int
	once     sync.Once
}

func (s *observedStream) Recv() (core.StreamEvent, error) {
	ev, err := s.EventStream.Recv()
	switch {
	case err == nil:
		s.events++
		if ev.IsDone() {
			s.report(nil)
		}
	case errors.Is(err, io.EOF):
		s.report(nil)
	default:
		s.report(err)
	}
	return ev, err
}

func (s *observedStream) Close() error {
	s.report(context.Canceled)
	return s.EventStream.Close()
}

func (s *observedStream) report(err error) {
	s.once.Do(func() {
		s.observer.ObserveStream(s.target, s.emulated, s.events, err, time.Since(s.start))
	})
}
