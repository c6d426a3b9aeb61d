// Package core provides the request, event, and error types shared by the
// completion gateway and everything built around it.
package core

import (
	"fmt"
	"net/http"
)

// ErrorType is the category reported to callers in error bodies.
type ErrorType string

const (
	// ErrorTypeInvalidEndpoint: the upstream rejected the request path (404/405).
	ErrorTypeInvalidEndpoint ErrorType = "invalid_endpoint"
	// ErrorTypeModelNotFound: the model does not exist or is not available to the key.
	ErrorTypeModelNotFound ErrorType = "model_not_found"
	ErrorTypeRateLimit     ErrorType = "rate_limit_error"
	ErrorTypeQuotaExceeded ErrorType = "quota_exceeded"
	// ErrorTypeRequestFailed covers every other non-success upstream response.
	ErrorTypeRequestFailed ErrorType = "request_failed"
	// ErrorTypeNetworkFailure: transport failure, before or during a stream.
	ErrorTypeNetworkFailure ErrorType = "network_failure"
	// ErrorTypeInvalidRequest: the inbound request was rejected before dispatch.
	ErrorTypeInvalidRequest ErrorType = "invalid_request_error"
	ErrorTypeAuthentication ErrorType = "authentication_error"
	ErrorTypeInternal       ErrorType = "internal_error"
)

// fixedStatus maps types whose client-facing status does not depend on
// what the upstream answered.
var fixedStatus = map[ErrorType]int{
	ErrorTypeInvalidEndpoint: http.StatusNotFound,
	ErrorTypeModelNotFound:   http.StatusNotFound,
	ErrorTypeRateLimit:       http.StatusTooManyRequests,
	ErrorTypeQuotaExceeded:   http.StatusPaymentRequired,
	ErrorTypeNetworkFailure:  http.StatusBadGateway,
	ErrorTypeAuthentication:  http.StatusUnauthorized,
	ErrorTypeInternal:        http.StatusInternalServerError,
}

// GatewayError is the error every gateway operation fails with.
type GatewayError struct {
	Type    ErrorType
	Message string
	// StatusCode is the upstream status, or the inbound one for request errors.
	StatusCode int
	// Target names the upstream shape the request was sent to, when known.
	Target string
	Err    error
}

func newError(t ErrorType, status int, message string, err error) *GatewayError {
	return &GatewayError{Type: t, Message: message, StatusCode: status, Err: err}
}

func (e *GatewayError) Error() string {
	if e.Target == "" {
		return fmt.Sprintf("%s: %s", e.Type, e.Message)
	}
	return fmt.Sprintf("[%s] %s: %s", e.Target, e.Type, e.Message)
}

func (e *GatewayError) Unwrap() error { return e.Err }

// HTTPStatusCode returns the status the gateway answers with. Upstream
// statuses pass through only when they are real error codes.
func (e *GatewayError) HTTPStatusCode() int {
	if status, ok := fixedStatus[e.Type]; ok {
		return status
	}
	if e.StatusCode >= 400 && e.StatusCode < 600 {
		return e.StatusCode
	}
	if e.Type == ErrorTypeInvalidRequest {
		return http.StatusBadRequest
	}
	return http.StatusBadGateway
}

// ErrorBody is the OpenAI-style error envelope sent to clients.
type ErrorBody struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail is the inner object of ErrorBody.
type ErrorDetail struct {
	Type    ErrorType `json:"type"`
	Message string    `json:"message"`
}

// Body renders the error for clients. Err never leaves the process.
func (e *GatewayError) Body() ErrorBody {
	return ErrorBody{Error: ErrorDetail{Type: e.Type, Message: e.Message}}
}

// WithTarget tags the error with the upstream shape it came from.
func (e *GatewayError) WithTarget(target string) *GatewayError {
	e.Target = target
	return e
}

// NewInvalidEndpointError is a 404/405 that is not about a missing model.
func NewInvalidEndpointError(statusCode int, message string) *GatewayError {
	return newError(ErrorTypeInvalidEndpoint, statusCode, message, nil)
}

func NewModelNotFoundError(statusCode int, message string) *GatewayError {
	return newError(ErrorTypeModelNotFound, statusCode, message, nil)
}

func NewRateLimitError(message string) *GatewayError {
	return newError(ErrorTypeRateLimit, http.StatusTooManyRequests, message, nil)
}

func NewQuotaExceededError(statusCode int, message string) *GatewayError {
	return newError(ErrorTypeQuotaExceeded, statusCode, message, nil)
}

// NewRequestFailedError carries the raw upstream response text as its message.
func NewRequestFailedError(statusCode int, body string) *GatewayError {
	return newError(ErrorTypeRequestFailed, statusCode, body, nil)
}

func NewNetworkFailureError(message string, err error) *GatewayError {
	return newError(ErrorTypeNetworkFailure, http.StatusBadGateway, message, err)
}

func NewInvalidRequestError(message string, err error) *GatewayError {
	return newError(ErrorTypeInvalidRequest, http.StatusBadRequest, message, err)
}

// NewAuthenticationError rejects a caller that failed the master key check.
func NewAuthenticationError(message string) *GatewayError {
	return newError(ErrorTypeAuthentication, http.StatusUnauthorized, message, nil)
}

// NewInternalError hides err behind a generic message.
func NewInternalError(err error) *GatewayError {
	return newError(ErrorTypeInternal, http.StatusInternalServerError, "an unexpected error occurred", err)
}
