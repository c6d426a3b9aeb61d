// Package llmclient executes shaped chat requests against an upstream:
// - a single attempt per call; retrying is left to the caller
// - transparent brotli and gzip response decoding
// - full error bodies read before a non-success status is reported,
//   decoded when possible and kept raw otherwise
// - request observation for metrics
package llmclient

import (
	"bytes"
	"compress/gzip"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/andybalholm/brotli"

	"chatgate/internal/core"
	"chatgate/internal/httpclient"
)

// DefaultUserAgent identifies the gateway to upstreams.
const DefaultUserAgent = "chatgate/1.0"

// Observer is notified once per upstream call.
type Observer interface {
	ObserveUpstream(target string, stream bool, statusCode int, err error, elapsed time.Duration)
}

// Config holds configuration for the LLM client
type Config struct {
	// UserAgent is sent unless the request sets its own
	UserAgent string
	// Observer receives per-call outcomes; nil disables observation
	Observer Observer
}

// DefaultConfig returns default client configuration
func DefaultConfig() Config {
	return Config{UserAgent: DefaultUserAgent}
}

// Client is the HTTP client used for upstream completion calls
type Client struct {
	httpClient *http.Client
	config     Config
}

// New creates a new LLM client with the given configuration
func New(config Config) *Client {
	return NewWithHTTPClient(httpclient.New(httpclient.Defaults()), config)
}

// NewWithHTTPClient creates a new LLM client with a custom HTTP client
func NewWithHTTPClient(httpClient *http.Client, config Config) *Client {
	if config.UserAgent == "" {
		config.UserAgent = DefaultUserAgent
	}
	return &Client{httpClient: httpClient, config: config}
}

// Request represents an HTTP request to be made
type Request struct {
	Method  string
	URL     string
	Body    []byte
	Headers http.Header
	// Target labels the upstream for observation
	Target string
	// Stream asks for an event-stream response
	Stream bool
}

// Response represents an HTTP response
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// StatusError reports a non-success upstream status together with the
// complete response body.
type StatusError struct {
	StatusCode int
	Body       []byte
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("upstream returned status %d: %s", e.StatusCode, e.Body)
}

// DoRaw executes a request and returns the decoded response body.
// A non-2xx status yields a *StatusError.
func (c *Client) DoRaw(ctx context.Context, req Request) (*Response, error) {
	start := time.Now()
	resp, err := c.send(ctx, req)
	if err != nil {
		c.observe(req, 0, err, start)
		return nil, err
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if !isSuccess(resp.StatusCode) {
		statusErr := &StatusError{StatusCode: resp.StatusCode, Body: readErrorBody(resp)}
		c.observe(req, resp.StatusCode, statusErr, start)
		return nil, statusErr
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		err = core.NewNetworkFailureError("failed to read response: "+err.Error(), err)
		c.observe(req, resp.StatusCode, err, start)
		return nil, err
	}

	c.observe(req, resp.StatusCode, nil, start)
	return &Response{StatusCode: resp.StatusCode, Header: resp.Header, Body: body}, nil
}

// DoStream executes a streaming request, returning the open body.
// On a non-2xx status the full body is read and the connection closed
// before a *StatusError is returned. The caller must close the body.
func (c *Client) DoStream(ctx context.Context, req Request) (io.ReadCloser, error) {
	req.Stream = true
	start := time.Now()
	resp, err := c.send(ctx, req)
	if err != nil {
		c.observe(req, 0, err, start)
		return nil, err
	}

	if !isSuccess(resp.StatusCode) {
		respBody := readErrorBody(resp)
		_ = resp.Body.Close()

		statusErr := &StatusError{StatusCode: resp.StatusCode, Body: respBody}
		c.observe(req, resp.StatusCode, statusErr, start)
		return nil, statusErr
	}

	c.observe(req, resp.StatusCode, nil, start)
	return resp.Body, nil
}

// send performs one round trip. A successful response body is wrapped in
// a decompressor when the upstream encoded it; error bodies are left raw
// for readErrorBody.
func (c *Client) send(ctx context.Context, req Request) (*http.Response, error) {
	httpReq, err := c.buildRequest(ctx, req)
	if err != nil {
		return nil, err
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, core.NewNetworkFailureError("failed to send request: "+err.Error(), err)
	}
	if !isSuccess(resp.StatusCode) {
		return resp, nil
	}

	body, err := decodeBody(resp)
	if err != nil {
		_ = resp.Body.Close()
		return nil, core.NewNetworkFailureError("failed to decode response: "+err.Error(), err)
	}
	resp.Body = body
	return resp, nil
}

// buildRequest creates an HTTP request from a Request
func (c *Client) buildRequest(ctx context.Context, req Request) (*http.Request, error) {
	method := req.Method
	if method == "" {
		method = http.MethodPost
	}

	var bodyReader io.Reader
	if req.Body != nil {
		bodyReader = bytes.NewReader(req.Body)
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, req.URL, bodyReader)
	if err != nil {
		return nil, core.NewInvalidRequestError("failed to create request", err)
	}

	if req.Body != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	httpReq.Header.Set("User-Agent", c.config.UserAgent)
	if req.Stream {
		httpReq.Header.Set("Accept", "text/event-stream")
	} else {
		httpReq.Header.Set("Accept", "application/json")
		httpReq.Header.Set("Accept-Encoding", "br, gzip")
	}

	for key, values := range req.Headers {
		httpReq.Header.Del(key)
		for _, v := range values {
			httpReq.Header.Add(key, v)
		}
	}

	if id := core.GetRequestID(ctx); id != "" && httpReq.Header.Get(core.RequestIDHeader) == "" {
		httpReq.Header.Set(core.RequestIDHeader, id)
	}

	return httpReq, nil
}

func (c *Client) observe(req Request, statusCode int, err error, start time.Time) {
	if c.config.Observer == nil {
		return
	}
	c.config.Observer.ObserveUpstream(req.Target, req.Stream, statusCode, err, time.Since(start))
}

func isSuccess(statusCode int) bool {
	return statusCode >= 200 && statusCode < 300
}

type readCloser struct {
	io.Reader
	closers []io.Closer
}

func (r *readCloser) Close() error {
	var firstErr error
	for _, c := range r.closers {
		if err := c.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// readErrorBody reads a non-success body in full. Decoding is best effort:
// when the declared Content-Encoding does not match the bytes, the raw body
// is returned so the status can still be classified.
func readErrorBody(resp *http.Response) []byte {
	raw, err := io.ReadAll(resp.Body)
	if err != nil && len(raw) == 0 {
		return []byte("failed to read error response")
	}
	if resp.Header.Get("Content-Encoding") == "" || len(raw) == 0 {
		return raw
	}

	decoded, err := decodeBody(&http.Response{
		Header: resp.Header.Clone(),
		Body:   io.NopCloser(bytes.NewReader(raw)),
	})
	if err != nil {
		return raw
	}
	defer func() { _ = decoded.Close() }()

	body, err := io.ReadAll(decoded)
	if err != nil {
		return raw
	}
	return body
}

// decodeBody undoes a Content-Encoding the transport left in place. The
// transport only decompresses gzip on its own when it chose the
// Accept-Encoding header itself.
func decodeBody(resp *http.Response) (io.ReadCloser, error) {
	switch strings.ToLower(strings.TrimSpace(resp.Header.Get("Content-Encoding"))) {
	case "br":
		resp.Header.Del("Content-Encoding")
		resp.Header.Del("Content-Length")
		return &readCloser{Reader: brotli.NewReader(resp.Body), closers: []io.Closer{resp.Body}}, nil
	case "gzip":
		zr, err := gzip.NewReader(resp.Body)
		if err != nil {
			return nil, err
		}
		resp.Header.Del("Content-Encoding")
		resp.Header.Del("Content-Length")
		return &readCloser{Reader: zr, closers: []io.Closer{zr, resp.Body}}, nil
	default:
		return resp.Body, nil
	}
}
