// Package gateway orchestrates a completion call: it shapes the request,
// sends it upstream, and normalizes the answer into one event stream
// regardless of whether the upstream streamed.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"chatgate/internal/cache"
	"chatgate/internal/core"
	"chatgate/internal/emulator"
	"chatgate/internal/pkg/llmclient"
	"chatgate/internal/shaper"
	"chatgate/internal/sse"
)

// DefaultNonStreamingPrefixes lists model prefixes whose upstream rejects
// stream:true.
var DefaultNonStreamingPrefixes = []string{"o1"}

// Observer is notified when a stream ends.
type Observer interface {
	ObserveStream(target string, emulated bool, events int, err error, elapsed time.Duration)
	ObserveCache(hit bool)
}

// Config holds the static behaviour of a Gateway.
type Config struct {
	Shaper               shaper.Options
	Emulator             emulator.Options
	Decoder              sse.Options
	NonStreamingPrefixes []string
	// Cache stores non-streaming responses; nil disables caching
	Cache    cache.Cache
	CacheTTL time.Duration
	Observer Observer
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		Shaper:               shaper.DefaultOptions(),
		Emulator:             emulator.DefaultOptions(),
		NonStreamingPrefixes: DefaultNonStreamingPrefixes,
	}
}

// Gateway implements core.Completer on top of an llmclient.Client.
type Gateway struct {
	client *llmclient.Client
	cfg    Config
}

var _ core.Completer = (*Gateway)(nil)

// New creates a Gateway.
func New(client *llmclient.Client, cfg Config) *Gateway {
	if cfg.NonStreamingPrefixes == nil {
		cfg.NonStreamingPrefixes = DefaultNonStreamingPrefixes
	}
	return &Gateway{client: client, cfg: cfg}
}

// RequiresEmulation reports whether model must be called without streaming.
func (g *Gateway) RequiresEmulation(model string) bool {
	for _, p := range g.cfg.NonStreamingPrefixes {
		if p != "" && strings.HasPrefix(model, p) {
			return true
		}
	}
	return false
}

// Complete performs a non-streaming call and returns the upstream JSON
// object. Any non-success status fails with request_failed carrying the
// raw response text. Nothing is retried.
func (g *Gateway) Complete(ctx context.Context, req *core.ChatRequest) (json.RawMessage, error) {
	shaped := shaper.Shape(req, g.cfg.Shaper)
	body, err := json.Marshal(shaped.Payload.WithStream(false))
	if err != nil {
		return nil, core.NewInvalidRequestError("failed to encode request: "+err.Error(), err)
	}

	key := cache.Key(shaped.Endpoint, shaped.Headers, body)
	if cached := g.cacheGet(ctx, key); cached != nil {
		return cached, nil
	}

	data, err := g.call(ctx, shaped, body)
	if err != nil {
		var statusErr *llmclient.StatusError
		if errors.As(err, &statusErr) {
			return nil, core.NewRequestFailedError(statusErr.StatusCode, string(statusErr.Body)).WithTarget(shaped.Target.String())
		}
		return nil, core.AsGatewayError(err).WithTarget(shaped.Target.String())
	}

	g.cacheSet(ctx, key, data)
	return data, nil
}

// Stream performs a streaming call. Models that cannot stream are called
// once without streaming and replayed through the emulator. Upstream
// failures are classified before any event is produced.
func (g *Gateway) Stream(ctx context.Context, req *core.ChatRequest) (core.EventStream, error) {
	shaped := shaper.Shape(req, g.cfg.Shaper)
	target := shaped.Target.String()
	start := time.Now()

	logger := slog.With("request_id", core.GetRequestID(ctx), "model", req.Config.Model, "target", target)

	if g.RequiresEmulation(req.Config.Model) {
		body, err := json.Marshal(shaped.Payload.WithStream(false))
		if err != nil {
			return nil, core.NewInvalidRequestError("failed to encode request: "+err.Error(), err)
		}
		data, err := g.call(ctx, shaped, body)
		if err != nil {
			return nil, g.classify(err, target)
		}
		em, err := emulator.Emulate(ctx, data, g.cfg.Emulator)
		if err != nil {
			return nil, core.AsGatewayError(err).WithTarget(target)
		}
		logger.Debug("emulating stream for non-streaming model")
		return g.observed(em, target, true, start), nil
	}

	body, err := json.Marshal(shaped.Payload.WithStream(true))
	if err != nil {
		return nil, core.NewInvalidRequestError("failed to encode request: "+err.Error(), err)
	}
	rc, err := g.client.DoStream(ctx, llmclient.Request{
		Method:  http.MethodPost,
		URL:     shaped.Endpoint,
		Body:    body,
		Headers: shaped.Headers,
		Target:  target,
	})
	if err != nil {
		return nil, g.classify(err, target)
	}

	logger.Debug("upstream stream opened")
	return g.observed(newLiveStream(ctx, rc, g.cfg.Decoder, target), target, false, start), nil
}

func (g *Gateway) call(ctx context.Context, shaped shaper.Shaped, body []byte) (json.RawMessage, error) {
	resp, err := g.client.DoRaw(ctx, llmclient.Request{
		Method:  http.MethodPost,
		URL:     shaped.Endpoint,
		Body:    body,
		Headers: shaped.Headers,
		Target:  shaped.Target.String(),
	})
	if err != nil {
		return nil, err
	}
	if !json.Valid(resp.Body) {
		return nil, core.NewRequestFailedError(http.StatusBadGateway, "upstream returned invalid JSON: "+string(resp.Body))
	}
	return json.RawMessage(resp.Body), nil
}

func (g *Gateway) classify(err error, target string) error {
	var statusErr *llmclient.StatusError
	if errors.As(err, &statusErr) {
		return core.ClassifyHTTP(statusErr.StatusCode, statusErr.Body).WithTarget(target)
	}
	return core.AsGatewayError(err).WithTarget(target)
}

func (g *Gateway) cacheGet(ctx context.Context, key string) json.RawMessage {
	if g.cfg.Cache == nil {
		return nil
	}
	data, err := g.cfg.Cache.Get(ctx, key)
	if err != nil {
		slog.Warn("response cache read failed", "error", err)
		return nil
	}
	if g.cfg.Observer != nil {
		g.cfg.Observer.ObserveCache(data != nil)
	}
	if data == nil {
		return nil
	}
	return json.RawMessage(data)
}

func (g *Gateway) cacheSet(ctx context.Context, key string, data json.RawMessage) {
	if g.cfg.Cache == nil {
		return
	}
	if err := g.cfg.Cache.Set(ctx, key, data, g.cfg.CacheTTL); err != nil {
		slog.Warn("response cache write failed", "error", err)
	}
}

func (g *Gateway) observed(s core.EventStream, target string, emulated bool, start time.Time) core.EventStream {
	if g.cfg.Observer == nil {
		return s
	}
	return &observedStream{EventStream: s, observer: g.cfg.Observer, target: target, emulated: emulated, start: start}
}
