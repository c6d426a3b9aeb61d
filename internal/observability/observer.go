package observability

import (
	"strconv"
	"time"

	"chatgate/internal/core"
)

// Outcome labels.
const (
	OutcomeOK = "ok"
)

// Observer records gateway and upstream-client events as metrics. It
// satisfies llmclient.Observer and gateway.Observer.
type Observer struct{}

// NewObserver returns an Observer writing to the default registry.
func NewObserver() *Observer {
	return &Observer{}
}

// ObserveUpstream records one upstream call.
func (o *Observer) ObserveUpstream(target string, stream bool, _ int, err error, elapsed time.Duration) {
	s := strconv.FormatBool(stream)
	UpstreamRequestsTotal.WithLabelValues(target, s, outcome(err)).Inc()
	UpstreamLatency.WithLabelValues(target, s).Observe(elapsed.Seconds())
}

// ObserveStream records the end of a client stream.
func (o *Observer) ObserveStream(target string, emulated bool, events int, err error, elapsed time.Duration) {
	mode := "live"
	if emulated {
		mode = "emulated"
	}
	StreamsTotal.WithLabelValues(target, mode, outcome(err)).Inc()
	StreamEvents.WithLabelValues(target, mode).Observe(float64(events))
	StreamDuration.WithLabelValues(target, mode).Observe(elapsed.Seconds())
}

// ObserveCache records a response cache lookup.
func (o *Observer) ObserveCache(hit bool) {
	if hit {
		CacheLookupsTotal.WithLabelValues("hit").Inc()
		return
	}
	CacheLookupsTotal.WithLabelValues("miss").Inc()
}

// outcome is "ok" or the error category.
func outcome(err error) string {
	if err == nil {
		return OutcomeOK
	}
	return string(core.Category(err))
}
