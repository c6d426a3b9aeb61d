package usage

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const persistTimeout = 30 * time.Second

var writeFailures = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "chatgate_usage_write_failures_total",
	Help: "Usage batches that were not fully persisted, by reason (partial, error).",
}, []string{"reason"})

// Recorder is the asynchronous Sink in front of a Store. Records are
// queued and written in batches, when BatchSize is reached or every
// FlushInterval, whichever comes first.
type Recorder struct {
	store Store
	cfg   Config

	mu      sync.RWMutex
	closed  bool
	queue   chan *Record
	done    chan struct{}
	dropped atomic.Uint64
}

// NewRecorder starts a Recorder writing to store.
func NewRecorder(store Store, cfg Config) *Recorder {
	cfg = cfg.withDefaults()
	r := &Recorder{
		store: store,
		cfg:   cfg,
		queue: make(chan *Record, cfg.QueueSize),
		done:  make(chan struct{}),
	}
	go r.run()
	return r
}

// Record queues rec without blocking. It is dropped when the queue is
// full or the Recorder is closed.
func (r *Recorder) Record(rec *Record) {
	if rec == nil {
		return
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		return
	}
	select {
	case r.queue <- rec:
	default:
		r.dropped.Add(1)
		slog.Warn("usage queue full, dropping record",
			"request_id", rec.RequestID,
			"model", rec.Model,
			"target", rec.Target,
		)
	}
}

// Enabled is always true for a Recorder.
func (r *Recorder) Enabled() bool { return true }

// Dropped counts records lost to a full queue.
func (r *Recorder) Dropped() uint64 {
	return r.dropped.Load()
}

// Close persists everything queued, then closes the store. Calling it
// again is a no-op.
func (r *Recorder) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	close(r.queue)
	r.mu.Unlock()

	<-r.done
	return r.store.Close()
}

func (r *Recorder) run() {
	defer close(r.done)

	ticker := time.NewTicker(r.cfg.FlushInterval)
	defer ticker.Stop()

	pending := make([]*Record, 0, r.cfg.BatchSize)
	flush := func() {
		if len(pending) > 0 {
			r.persist(pending)
			pending = pending[:0]
		}
	}

	for {
		select {
		case rec, ok := <-r.queue:
			if !ok {
				flush()
				return
			}
			pending = append(pending, rec)
			if len(pending) >= r.cfg.BatchSize {
				flush()
			}
		case <-ticker.C:
			flush()
		}
	}
}

func (r *Recorder) persist(batch []*Record) {
	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()

	err := r.store.Insert(ctx, batch)
	switch {
	case err == nil:
	case errors.Is(err, ErrPartialWrite):
		writeFailures.WithLabelValues("partial").Inc()
		slog.Warn("usage batch partially persisted", "error", err, "count", len(batch))
	default:
		writeFailures.WithLabelValues("error").Inc()
		slog.Error("failed to persist usage batch", "error", err, "count", len(batch))
	}
}
