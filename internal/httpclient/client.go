// Package httpclient builds the HTTP clients used for upstream calls.
package httpclient

import (
	"log/slog"
	"net"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"
)

// Options tunes the transport of an upstream client.
type Options struct {
	// Timeout bounds a whole exchange including the body, so it also
	// caps how long a stream may run.
	Timeout               time.Duration
	ResponseHeaderTimeout time.Duration
	DialTimeout           time.Duration
	KeepAlive             time.Duration
	TLSHandshakeTimeout   time.Duration
	IdleConnTimeout       time.Duration
	MaxIdleConns          int
	MaxIdleConnsPerHost   int
}

// Reasoning models may think for minutes before sending the first byte.
const upstreamPatience = 10 * time.Minute

// Defaults returns the options for completion upstreams. HTTP_TIMEOUT and
// HTTP_RESPONSE_HEADER_TIMEOUT override the two timeouts, given as
// seconds or as Go durations ("90s", "1h30m").
func Defaults() Options {
	return Options{
		Timeout:               envDuration("HTTP_TIMEOUT", upstreamPatience),
		ResponseHeaderTimeout: envDuration("HTTP_RESPONSE_HEADER_TIMEOUT", upstreamPatience),
		DialTimeout:           30 * time.Second,
		KeepAlive:             30 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		IdleConnTimeout:       90 * time.Second,
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   100,
	}
}

func envDuration(key string, fallback time.Duration) time.Duration {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback
	}
	if secs, err := strconv.Atoi(raw); err == nil {
		return time.Duration(secs) * time.Second
	}
	if d, err := time.ParseDuration(raw); err == nil {
		return d
	}
	slog.Warn("ignoring invalid duration", "env", key, "value", raw)
	return fallback
}

// Override returns o with the non-zero timeouts applied.
func (o Options) Override(timeout, responseHeaderTimeout time.Duration) Options {
	if timeout > 0 {
		o.Timeout = timeout
	}
	if responseHeaderTimeout > 0 {
		o.ResponseHeaderTimeout = responseHeaderTimeout
	}
	return o
}

func (o Options) transport() *http.Transport {
	dialer := &net.Dialer{Timeout: o.DialTimeout, KeepAlive: o.KeepAlive}
	return &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           dialer.DialContext,
		ForceAttemptHTTP2:     true,
		MaxIdleConns:          o.MaxIdleConns,
		MaxIdleConnsPerHost:   o.MaxIdleConnsPerHost,
		IdleConnTimeout:       o.IdleConnTimeout,
		TLSHandshakeTimeout:   o.TLSHandshakeTimeout,
		ResponseHeaderTimeout: o.ResponseHeaderTimeout,
		ExpectContinueTimeout: time.Second,
	}
}

// New returns a client with its own transport built from o.
func New(o Options) *http.Client {
	return &http.Client{Transport: o.transport(), Timeout: o.Timeout}
}
