package core

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassifyHTTP(t *testing.T) {
	tests := []struct {
		name       string
		status     int
		body       string
		wantType   ErrorType
		wantPrefix string
		wantSuffix string
	}{
		{
			name:       "rate limited",
			status:     http.StatusTooManyRequests,
			body:       "slow down",
			wantType:   ErrorTypeRateLimit,
			wantPrefix: "slow down",
			wantSuffix: HintRateLimited,
		},
		{
			name:       "model not found on 404",
			status:     http.StatusNotFound,
			body:       `{"error":{"code":"model_not_found"}}`,
			wantType:   ErrorTypeModelNotFound,
			wantPrefix: `{"error":{"code":"model_not_found"}}`,
			wantSuffix: HintModelAccess,
		},
		{
			name:       "model not found on 405",
			status:     http.StatusMethodNotAllowed,
			body:       "model_not_found",
			wantType:   ErrorTypeModelNotFound,
			wantSuffix: HintModelAccess,
		},
		{
			name:     "plain 404 is an invalid endpoint",
			status:   http.StatusNotFound,
			body:     "<html>not here</html>",
			wantType: ErrorTypeInvalidEndpoint,
		},
		{
			name:     "405 is an invalid endpoint",
			status:   http.StatusMethodNotAllowed,
			wantType: ErrorTypeInvalidEndpoint,
		},
		{
			name:       "quota exhausted reported with 429",
			status:     http.StatusTooManyRequests,
			body:       `{"error":{"type":"insufficient_quota"}}`,
			wantType:   ErrorTypeQuotaExceeded,
			wantSuffix: HintQuotaExceeded,
		},
		{
			name:       "server error keeps raw body",
			status:     http.StatusInternalServerError,
			body:       "boom",
			wantType:   ErrorTypeRequestFailed,
			wantPrefix: "boom",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ClassifyHTTP(tt.status, []byte(tt.body))
			require.NotNil(t, err)
			assert.Equal(t, tt.wantType, err.Type)
			assert.True(t, strings.HasPrefix(err.Message, tt.wantPrefix), "message %q", err.Message)
			assert.True(t, strings.HasSuffix(err.Message, tt.wantSuffix), "message %q", err.Message)
		})
	}

	t.Run("request failed message is exactly the body", func(t *testing.T) {
		err := ClassifyHTTP(http.StatusInternalServerError, []byte("boom"))
		assert.Equal(t, "boom", err.Message)
		assert.Equal(t, http.StatusInternalServerError, err.HTTPStatusCode())
	})

	t.Run("invalid endpoint keeps body for debugging", func(t *testing.T) {
		err := ClassifyHTTP(http.StatusNotFound, []byte("nope"))
		require.Error(t, err.Err)
		assert.Equal(t, "nope", err.Err.Error())
	})
}

type timeoutErr struct{}

func (timeoutErr) Error() string   { return "i/o timeout" }
func (timeoutErr) Timeout() bool   { return true }
func (timeoutErr) Temporary() bool { return true }

func TestCategory(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want ErrorType
	}{
		{"nil", nil, ""},
		{"gateway error", NewRateLimitError("x"), ErrorTypeRateLimit},
		{"wrapped gateway error", fmt.Errorf("call: %w", NewQuotaExceededError(429, "x")), ErrorTypeQuotaExceeded},
		{"canceled", context.Canceled, ErrorTypeNetworkFailure},
		{"deadline", fmt.Errorf("read: %w", context.DeadlineExceeded), ErrorTypeNetworkFailure},
		{"net error", timeoutErr{}, ErrorTypeNetworkFailure},
		{"unknown", errors.New("weird"), ErrorTypeRequestFailed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Category(tt.err))
		})
	}
}

func TestAsGatewayError(t *testing.T) {
	orig := NewModelNotFoundError(404, "gone")
	assert.Same(t, orig, AsGatewayError(fmt.Errorf("wrap: %w", orig)))

	netErr := AsGatewayError(timeoutErr{})
	assert.Equal(t, ErrorTypeNetworkFailure, netErr.Type)

	other := AsGatewayError(errors.New("weird"))
	assert.Equal(t, ErrorTypeRequestFailed, other.Type)
	assert.Equal(t, http.StatusBadGateway, other.HTTPStatusCode())
}
