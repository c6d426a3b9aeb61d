package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"

	"chatgate/internal/cache"
	"chatgate/internal/core"
	"chatgate/internal/emulator"
	"chatgate/internal/pkg/llmclient"
)

type upstream struct {
	*httptest.Server
	mu     sync.Mutex
	bodies []map[string]any
	paths  []string
	calls  atomic.Int32
}

func newUpstream(t *testing.T, handler http.HandlerFunc) *upstream {
	t.Helper()
	u := &upstream{}
	u.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		u.calls.Add(1)
		raw, _ := io.ReadAll(r.Body)
		var body map[string]any
		_ = json.Unmarshal(raw, &body)
		u.mu.Lock()
		u.bodies = append(u.bodies, body)
		u.paths = append(u.paths, r.URL.Path)
		u.mu.Unlock()
		handler(w, r)
	}))
	t.Cleanup(u.Close)
	return u
}

func (u *upstream) lastBody() map[string]any {
	u.mu.Lock()
	defer u.mu.Unlock()
	if len(u.bodies) == 0 {
		return nil
	}
	return u.bodies[len(u.bodies)-1]
}

func newGateway(cfg Config) *Gateway {
	cfg.Emulator = emulator.Options{ChunkSize: 100}
	return New(llmclient.New(llmclient.DefaultConfig()), cfg)
}

func chatRequest(endpoint, model string) *core.ChatRequest {
	cfg := core.DefaultGenerationConfig()
	cfg.Model = model
	return &core.ChatRequest{
		Endpoint: endpoint,
		APIKey:   "sk-test",
		Messages: []core.Message{core.NewTextMessage(core.RoleUser, "hello")},
		Config:   cfg,
	}
}

func drain(t *testing.T, s core.EventStream) ([]core.StreamEvent, error) {
	t.Helper()
	var events []core.StreamEvent
	for {
		ev, err := s.Recv()
		if errors.Is(err, io.EOF) {
			return events, nil
		}
		if err != nil {
			return events, err
		}
		events = append(events, ev)
	}
}

func completionBody(content string) string {
	b, _ := json.Marshal(map[string]any{
		"id":      "chatcmpl-1",
		"choices": []any{map[string]any{"message": map[string]any{"role": "assistant", "content": content}}},
		"usage":   map[string]any{"prompt_tokens": 3, "completion_tokens": 5, "total_tokens": 8},
	})
	return string(b)
}

func TestGateway_Complete(t *testing.T) {
	up := newUpstream(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(completionBody("hi there")))
	})

	g := newGateway(DefaultConfig())
	data, err := g.Complete(context.Background(), chatRequest(up.URL, "gpt-4o"))
	require.NoError(t, err)
	assert.Equal(t, "hi there", gjson.GetBytes(data, "choices.0.message.content").String())

	body := up.lastBody()
	assert.Equal(t, false, body["stream"])
	assert.NotContains(t, body, "max_tokens")
	assert.NotContains(t, body, "reasoning", "gpt-4o does not reason")
}

func TestGateway_Complete_FailureKeepsRawBody(t *testing.T) {
	up := newUpstream(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte("raw failure text"))
	})

	_, err := newGateway(DefaultConfig()).Complete(context.Background(), chatRequest(up.URL, "gpt-5"))

	var gwErr *core.GatewayError
	require.ErrorAs(t, err, &gwErr)
	assert.Equal(t, core.ErrorTypeRequestFailed, gwErr.Type)
	assert.Equal(t, "raw failure text", gwErr.Message)
	assert.Equal(t, http.StatusTooManyRequests, gwErr.HTTPStatusCode())
	assert.Equal(t, int32(1), up.calls.Load(), "no retry")
}

func TestGateway_Complete_InvalidJSON(t *testing.T) {
	up := newUpstream(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("<html>"))
	})

	_, err := newGateway(DefaultConfig()).Complete(context.Background(), chatRequest(up.URL, "gpt-5"))
	assert.Equal(t, core.ErrorTypeRequestFailed, core.Category(err))
}

type recordingObserver struct {
	mu       sync.Mutex
	streams  int
	events   int
	lastErr  error
	emulated bool
	hits     int
	misses   int
}

func (o *recordingObserver) ObserveStream(_ string, emulated bool, events int, err error, _ time.Duration) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.streams++
	o.events = events
	o.lastErr = err
	o.emulated = emulated
}

func (o *recordingObserver) ObserveCache(hit bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if hit {
		o.hits++
	} else {
		o.misses++
	}
}

func TestGateway_Complete_Cache(t *testing.T) {
	up := newUpstream(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(completionBody("cached")))
	})

	obs := &recordingObserver{}
	cfg := DefaultConfig()
	cfg.Cache = cache.NewLocalCache(time.Minute, 10)
	cfg.Observer = obs
	g := newGateway(cfg)

	for range 2 {
		data, err := g.Complete(context.Background(), chatRequest(up.URL, "gpt-4o"))
		require.NoError(t, err)
		assert.Equal(t, "cached", gjson.GetBytes(data, "choices.0.message.content").String())
	}

	assert.Equal(t, int32(1), up.calls.Load())
	assert.Equal(t, 1, obs.hits)
	assert.Equal(t, 1, obs.misses)

	other := chatRequest(up.URL, "gpt-4o")
	other.Messages = []core.Message{core.NewTextMessage(core.RoleUser, "different")}
	_, err := g.Complete(context.Background(), other)
	require.NoError(t, err)
	assert.Equal(t, int32(2), up.calls.Load())
}

func TestGateway_Complete_CacheIsPerCredential(t *testing.T) {
	up := newUpstream(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer sk-good" {
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(`{"error":{"message":"invalid api key"}}`))
			return
		}
		_, _ = w.Write([]byte(completionBody("secret answer")))
	})

	cfg := DefaultConfig()
	cfg.Cache = cache.NewLocalCache(time.Minute, 10)
	g := newGateway(cfg)

	good := chatRequest(up.URL, "gpt-4o")
	good.APIKey = "sk-good"
	data, err := g.Complete(context.Background(), good)
	require.NoError(t, err)
	assert.Equal(t, "secret answer", gjson.GetBytes(data, "choices.0.message.content").String())

	wrong := chatRequest(up.URL, "gpt-4o")
	wrong.APIKey = "sk-wrong"
	data, err = g.Complete(context.Background(), wrong)
	require.Error(t, err)
	assert.Nil(t, data)

	var gwErr *core.GatewayError
	require.ErrorAs(t, err, &gwErr)
	assert.Equal(t, http.StatusUnauthorized, gwErr.StatusCode)
	assert.Equal(t, int32(2), up.calls.Load(), "each credential reaches the upstream")

	_, err = g.Complete(context.Background(), good)
	require.NoError(t, err)
	assert.Equal(t, int32(2), up.calls.Load(), "same credential is served from cache")
}

func TestGateway_Stream_Live(t *testing.T) {
	up := newUpstream(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		flusher := w.(http.Flusher)
		_, _ = fmt.Fprint(w, ": OPENROUTER PROCESSING\n\n")
		flusher.Flush()
		_, _ = fmt.Fprint(w, "data: {\"choices\":[{\"delta\":{\"content\":\"Hel\"}}]}\n\n")
		flusher.Flush()
		_, _ = fmt.Fprint(w, "data: {\"choices\":[{\"delta\":{\"content\":\"lo\"}}]}\n\ndata: [DONE]\n\n")
	})

	obs := &recordingObserver{}
	cfg := DefaultConfig()
	cfg.Observer = obs
	s, err := newGateway(cfg).Stream(context.Background(), chatRequest(up.URL, "gpt-5"))
	require.NoError(t, err)
	defer func() { _ = s.Close() }()

	events, err := drain(t, s)
	require.NoError(t, err)
	require.Len(t, events, 3)
	assert.True(t, events[2].IsDone())

	var text strings.Builder
	for _, ev := range events[:2] {
		text.WriteString(gjson.GetBytes(ev.Data, "choices.0.delta.content").String())
	}
	assert.Equal(t, "Hello", text.String())

	body := up.lastBody()
	assert.Equal(t, true, body["stream"])
	assert.Equal(t, map[string]any{"effort": "medium"}, body["reasoning"])

	assert.Equal(t, 1, obs.streams)
	assert.Equal(t, 3, obs.events)
	assert.NoError(t, obs.lastErr)
	assert.False(t, obs.emulated)
}

func TestGateway_Stream_CleanEOFBeforeDoneIsNetworkFailure(t *testing.T) {
	up := newUpstream(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = fmt.Fprint(w, "data: {\"a\":1}\n\n")
	})

	s, err := newGateway(DefaultConfig()).Stream(context.Background(), chatRequest(up.URL, "gpt-5"))
	require.NoError(t, err)
	events, err := drain(t, s)
	require.Len(t, events, 1)
	assert.Equal(t, core.EventChunk, events[0].Kind)

	var gwErr *core.GatewayError
	require.ErrorAs(t, err, &gwErr)
	assert.Equal(t, core.ErrorTypeNetworkFailure, gwErr.Type)
	assert.Equal(t, "direct", gwErr.Target)
	assert.ErrorIs(t, err, io.ErrUnexpectedEOF)

	_, err = s.Recv()
	assert.ErrorIs(t, err, io.EOF)
}

func TestGateway_Stream_StatusPolicy(t *testing.T) {
	tests := []struct {
		name     string
		status   int
		body     string
		wantType core.ErrorType
	}{
		{"rate limited", http.StatusTooManyRequests, "slow", core.ErrorTypeRateLimit},
		{"model not found", http.StatusNotFound, `{"error":{"code":"model_not_found"}}`, core.ErrorTypeModelNotFound},
		{"invalid endpoint", http.StatusNotFound, "nope", core.ErrorTypeInvalidEndpoint},
		{"method not allowed", http.StatusMethodNotAllowed, "", core.ErrorTypeInvalidEndpoint},
		{"quota", http.StatusForbidden, `{"error":{"code":"insufficient_quota"}}`, core.ErrorTypeQuotaExceeded},
		{"server error", http.StatusInternalServerError, "boom", core.ErrorTypeRequestFailed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			up := newUpstream(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			})

			s, err := newGateway(DefaultConfig()).Stream(context.Background(), chatRequest(up.URL, "gpt-5"))
			require.Nil(t, s)
			var gwErr *core.GatewayError
			require.ErrorAs(t, err, &gwErr)
			assert.Equal(t, tt.wantType, gwErr.Type)
			assert.Equal(t, "direct", gwErr.Target)
		})
	}
}

func TestGateway_Stream_EmulatesNonStreamingModels(t *testing.T) {
	text := strings.Repeat("0123456789", 25)
	up := newUpstream(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(completionBody(text)))
	})

	obs := &recordingObserver{}
	cfg := DefaultConfig()
	cfg.Observer = obs
	s, err := newGateway(cfg).Stream(context.Background(), chatRequest(up.URL, "o1-mini-2024-09-12"))
	require.NoError(t, err)

	events, err := drain(t, s)
	require.NoError(t, err)
	require.Len(t, events, 4)
	assert.True(t, events[3].IsDone())

	var rebuilt strings.Builder
	for _, ev := range events[:3] {
		rebuilt.WriteString(gjson.GetBytes(ev.Data, "choices.0.delta.content").String())
	}
	assert.Equal(t, text, rebuilt.String())
	assert.Equal(t, false, up.lastBody()["stream"])
	assert.True(t, obs.emulated)
}

func TestGateway_Stream_EmulatedFailureIsClassified(t *testing.T) {
	up := newUpstream(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte("slow"))
	})

	_, err := newGateway(DefaultConfig()).Stream(context.Background(), chatRequest(up.URL, "o1-preview-2024-09-12"))
	assert.Equal(t, core.ErrorTypeRateLimit, core.Category(err))
}

func TestGateway_Stream_MidStreamFailure(t *testing.T) {
	up := newUpstream(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = fmt.Fprint(w, "data: {\"a\":1}\n\n")
		w.(http.Flusher).Flush()
		panic(http.ErrAbortHandler)
	})

	obs := &recordingObserver{}
	cfg := DefaultConfig()
	cfg.Observer = obs
	s, err := newGateway(cfg).Stream(context.Background(), chatRequest(up.URL, "gpt-5"))
	require.NoError(t, err)

	events, err := drain(t, s)
	require.Error(t, err)
	assert.Len(t, events, 1)
	assert.Equal(t, core.ErrorTypeNetworkFailure, core.Category(err))
	assert.Equal(t, core.ErrorTypeNetworkFailure, core.Category(obs.lastErr))

	_, err = s.Recv()
	assert.ErrorIs(t, err, io.EOF, "stream stays finished after a failure")
}

func TestGateway_Stream_CloseReleasesConnection(t *testing.T) {
	released := make(chan struct{})
	up := newUpstream(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = fmt.Fprint(w, "data: {\"a\":1}\n\n")
		w.(http.Flusher).Flush()
		<-r.Context().Done()
		close(released)
	})

	s, err := newGateway(DefaultConfig()).Stream(context.Background(), chatRequest(up.URL, "gpt-5"))
	require.NoError(t, err)

	ev, err := s.Recv()
	require.NoError(t, err)
	assert.Equal(t, core.EventChunk, ev.Kind)

	require.NoError(t, s.Close())
	_, err = s.Recv()
	assert.ErrorIs(t, err, io.EOF)

	select {
	case <-released:
	case <-time.After(5 * time.Second):
		t.Fatal("upstream connection was not released")
	}
}

func TestGateway_Stream_ContextCancel(t *testing.T) {
	up := newUpstream(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = fmt.Fprint(w, "data: {\"a\":1}\n\n")
		w.(http.Flusher).Flush()
		<-r.Context().Done()
	})

	ctx, cancel := context.WithCancel(context.Background())
	s, err := newGateway(DefaultConfig()).Stream(ctx, chatRequest(up.URL, "gpt-5"))
	require.NoError(t, err)
	defer func() { _ = s.Close() }()

	_, err = s.Recv()
	require.NoError(t, err)
	cancel()

	_, err = s.Recv()
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, core.ErrorTypeNetworkFailure, core.Category(err))
}

func TestGateway_Stream_AggregatorRouting(t *testing.T) {
	var auth string
	up := newUpstream(t, func(w http.ResponseWriter, r *http.Request) {
		auth = r.Header.Get("Authorization")
		_, _ = fmt.Fprint(w, "data: [DONE]\n\n")
	})

	cfg := DefaultConfig()
	cfg.Shaper.AggregatorEndpoint = up.URL + "/api/v1/chat/completions"
	req := chatRequest("https://api.openai.com/v1/chat/completions", "anthropic/claude-sonnet-4.5")
	req.AggregatorKey = "or-key"

	s, err := newGateway(cfg).Stream(context.Background(), req)
	require.NoError(t, err)
	events, err := drain(t, s)
	require.NoError(t, err)
	require.Len(t, events, 1)

	assert.Equal(t, "Bearer or-key", auth)
	assert.Equal(t, []string{"/api/v1/chat/completions"}, up.paths)
	assert.Equal(t, map[string]any{"max_tokens": float64(31000)}, up.lastBody()["reasoning"])
}

func TestGateway_RequiresEmulation(t *testing.T) {
	g := newGateway(DefaultConfig())
	assert.True(t, g.RequiresEmulation("o1-preview-2024-09-12"))
	assert.False(t, g.RequiresEmulation("gpt-5"))
	assert.False(t, g.RequiresEmulation("openai/o1"))

	custom := New(llmclient.New(llmclient.DefaultConfig()), Config{NonStreamingPrefixes: []string{}})
	assert.False(t, custom.RequiresEmulation("o1-mini"))
}
