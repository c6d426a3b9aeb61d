// Package server provides HTTP handlers and server setup for the completion gateway.
package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"

	"chatgate/internal/catalog"
	"chatgate/internal/core"
	"chatgate/internal/observability"
	"chatgate/internal/shaper"
	"chatgate/internal/usage"
)

// Headers a caller may use to redirect one request to another upstream.
const (
	HeaderUpstreamEndpoint = "X-Upstream-Endpoint"
	HeaderUpstreamAPIKey   = "X-Upstream-Api-Key"
	HeaderAggregatorAPIKey = "X-OpenRouter-Api-Key"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// chatCompletionRequest is the OpenAI-compatible body accepted on
// /v1/chat/completions. Unset sampling fields fall back to the server defaults.
type chatCompletionRequest struct {
	Model            string                `json:"model"`
	Messages         []core.Message        `json:"messages" validate:"required,min=1,dive"`
	Stream           bool                  `json:"stream"`
	MaxTokens        *int                  `json:"max_tokens" validate:"omitempty,gte=1"`
	Temperature      *float64              `json:"temperature" validate:"omitempty,gte=0,lte=2"`
	TopP             *float64              `json:"top_p" validate:"omitempty,gte=0,lte=1"`
	PresencePenalty  *float64              `json:"presence_penalty" validate:"omitempty,gte=-2,lte=2"`
	FrequencyPenalty *float64              `json:"frequency_penalty" validate:"omitempty,gte=-2,lte=2"`
	Reasoning        *core.ReasoningConfig `json:"reasoning"`
}

func (r *chatCompletionRequest) check() error {
	if err := validate.Struct(r); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fe := verrs[0]
			return core.NewInvalidRequestError(
				fmt.Sprintf("invalid field %s: failed %q", strings.ToLower(fe.Field()), fe.Tag()), err)
		}
		return core.NewInvalidRequestError("invalid request body", err)
	}
	for i, m := range r.Messages {
		if !m.Role.Valid() {
			return core.NewInvalidRequestError(fmt.Sprintf("messages[%d]: unknown role %q", i, m.Role), nil)
		}
		if len(m.Content) == 0 {
			return core.NewInvalidRequestError(fmt.Sprintf("messages[%d]: content is required", i), nil)
		}
		for j, p := range m.Content {
			switch {
			case p.Type == core.ContentTypeText:
			case p.Type == core.ContentTypeImageURL && p.ImageURL != nil && p.ImageURL.URL != "":
			case p.Type == core.ContentTypeImageURL:
				return core.NewInvalidRequestError(fmt.Sprintf("messages[%d].content[%d]: image_url.url is required", i, j), nil)
			default:
				return core.NewInvalidRequestError(fmt.Sprintf("messages[%d].content[%d]: unknown content type %q", i, j, p.Type), nil)
			}
		}
	}
	if r.Reasoning != nil {
		switch r.Reasoning.Effort {
		case "", core.ReasoningEffortLow, core.ReasoningEffortMedium, core.ReasoningEffortHigh:
		default:
			return core.NewInvalidRequestError(fmt.Sprintf("unknown reasoning effort %q", r.Reasoning.Effort), nil)
		}
		if r.Reasoning.MaxTokens < 0 {
			return core.NewInvalidRequestError("reasoning max_tokens must not be negative", nil)
		}
	}
	return nil
}

// Handler holds the HTTP handlers
type Handler struct {
	gateway core.Completer
	models  *catalog.Catalog
	cfg     Config
}

// NewHandler creates a new handler serving requests through gw.
func NewHandler(gw core.Completer, models *catalog.Catalog, cfg Config) *Handler {
	if models == nil {
		models = catalog.Default()
	}
	if cfg.Usage == nil {
		cfg.Usage = usage.Noop{}
	}
	return &Handler{gateway: gw, models: models, cfg: cfg}
}

// ChatCompletion handles POST /v1/chat/completions
func (h *Handler) ChatCompletion(c echo.Context) error {
	var body chatCompletionRequest
	if err := c.Bind(&body); err != nil {
		return handleError(c, core.NewInvalidRequestError("invalid request body: "+err.Error(), err))
	}
	if err := body.check(); err != nil {
		return handleError(c, err)
	}

	ctx := c.Request().Context()
	req := h.buildRequest(c.Request().Header, &body)
	meta := usage.Meta{
		RequestID: core.GetRequestID(ctx),
		Model:     req.Config.Model,
		Target:    shaper.Detect(req, h.cfg.Shaper).String(),
	}

	if body.Stream {
		stream, err := h.gateway.Stream(ctx, req)
		if err != nil {
			return handleError(c, err)
		}
		stream = usage.Meter(stream, h.cfg.Usage, h.models, meta)
		defer func() {
			_ = stream.Close() //nolint:errcheck
		}()
		return writeStream(c, stream)
	}

	resp, err := h.gateway.Complete(ctx, req)
	if err != nil {
		return handleError(c, err)
	}
	usage.RecordCompletion(h.cfg.Usage, h.models, resp, meta)

	return c.JSONBlob(http.StatusOK, resp)
}

func (h *Handler) buildRequest(header http.Header, body *chatCompletionRequest) *core.ChatRequest {
	gen := h.cfg.Defaults
	if gen.Reasoning != nil {
		r := *gen.Reasoning
		gen.Reasoning = &r
	}
	if body.Model != "" {
		gen.Model = body.Model
	}
	if gen.Model == "" {
		gen.Model = core.DefaultModel
	}
	if body.MaxTokens != nil {
		gen.MaxTokens = *body.MaxTokens
	}
	if body.Temperature != nil {
		gen.Temperature = *body.Temperature
	}
	if body.TopP != nil {
		gen.TopP = *body.TopP
	}
	if body.PresencePenalty != nil {
		gen.PresencePenalty = *body.PresencePenalty
	}
	if body.FrequencyPenalty != nil {
		gen.FrequencyPenalty = *body.FrequencyPenalty
	}
	if body.Reasoning != nil {
		r := *body.Reasoning
		gen.Reasoning = &r
	}

	req := &core.ChatRequest{
		Endpoint:      h.cfg.Upstream.Endpoint,
		APIKey:        h.cfg.Upstream.APIKey,
		AggregatorKey: h.cfg.Upstream.AggregatorKey,
		Messages:      body.Messages,
		Config:        gen,
	}
	if len(h.cfg.Upstream.Headers) > 0 {
		req.Headers = make(map[string]string, len(h.cfg.Upstream.Headers))
		for k, v := range h.cfg.Upstream.Headers {
			req.Headers[k] = v
		}
	}
	if v := header.Get(HeaderUpstreamEndpoint); v != "" {
		req.Endpoint = v
	}
	if v := header.Get(HeaderUpstreamAPIKey); v != "" {
		req.APIKey = v
	}
	if v := header.Get(HeaderAggregatorAPIKey); v != "" {
		req.AggregatorKey = v
	}
	return req
}

// writeStream re-emits events as server-sent events. Once the header is
// written errors can only be reported in-band.
func writeStream(c echo.Context, stream core.EventStream) error {
	observability.StreamingConnections.Inc()
	defer observability.StreamingConnections.Dec()

	res := c.Response()
	res.Header().Set("Content-Type", "text/event-stream")
	res.Header().Set("Cache-Control", "no-cache")
	res.Header().Set("Connection", "keep-alive")
	res.WriteHeader(http.StatusOK)
	res.Flush()

	for {
		ev, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			slog.Warn("stream aborted",
				"request_id", core.GetRequestID(c.Request().Context()),
				"error", err)
			_ = writeFrame(res, errorFrame(err)) //nolint:errcheck
			return nil
		}

		var frame []byte
		switch ev.Kind {
		case core.EventChunk:
			frame = ev.Data
		case core.EventUnparsed:
			slog.Debug("skipping unparsed stream event",
				"request_id", core.GetRequestID(c.Request().Context()),
				"text", ev.Text)
			continue
		case core.EventDone:
			frame = []byte("[DONE]")
		}
		if err := writeFrame(res, frame); err != nil {
			// client went away
			return nil
		}
		if ev.IsDone() {
			return nil
		}
	}
}

func writeFrame(res *echo.Response, payload []byte) error {
	buf := make([]byte, 0, len(payload)+8)
	buf = append(buf, "data: "...)
	buf = append(buf, payload...)
	buf = append(buf, "\n\n"...)
	if _, err := res.Write(buf); err != nil {
		return err
	}
	res.Flush()
	return nil
}

func errorFrame(err error) []byte {
	data, mErr := json.Marshal(clientError(err).Body())
	if mErr != nil {
		return []byte(`{"error":{"type":"internal_error","message":"an unexpected error occurred"}}`)
	}
	return data
}

// clientError keeps gateway errors as they are and hides anything else.
func clientError(err error) *core.GatewayError {
	var gw *core.GatewayError
	if errors.As(err, &gw) {
		return gw
	}
	return core.NewInternalError(err)
}

// Health handles GET /health
func (h *Handler) Health(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

// ListModels handles GET /v1/models
func (h *Handler) ListModels(c echo.Context) error {
	return c.JSON(http.StatusOK, h.models.ModelsResponse())
}

// handleError converts gateway errors to appropriate HTTP responses
func handleError(c echo.Context, err error) error {
	gw := clientError(err)
	return c.JSON(gw.HTTPStatusCode(), gw.Body())
}
