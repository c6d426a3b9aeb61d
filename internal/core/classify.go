package core

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strings"
)

// Hints appended to upstream error text so a human can act on it.
const (
	HintModelAccess      = "\nPlease make sure your API key has access to this model."
	HintInvalidEndpoint  = "Invalid API endpoint! Please check the endpoint URL and that it accepts chat completion requests."
	HintQuotaExceeded    = "\nWe recommend changing your API endpoint or API key."
	HintRateLimited      = "\nRate limited!"
	markerModelNotFound  = "model_not_found"
	markerInsufficientQt = "insufficient_quota"
)

// ClassifyHTTP maps a non-success upstream response to the error taxonomy.
//
// 404 and 405 are checked first; quota exhaustion is detected from the body
// before the 429 check because providers report it with a 429.
func ClassifyHTTP(statusCode int, body []byte) *GatewayError {
	text := string(body)

	switch {
	case statusCode == http.StatusNotFound || statusCode == http.StatusMethodNotAllowed:
		if strings.Contains(text, markerModelNotFound) {
			return NewModelNotFoundError(statusCode, text+HintModelAccess)
		}
		e := NewInvalidEndpointError(statusCode, HintInvalidEndpoint)
		if text != "" {
			e.Err = errors.New(text)
		}
		return e
	case strings.Contains(text, markerInsufficientQt):
		return NewQuotaExceededError(statusCode, text+HintQuotaExceeded)
	case statusCode == http.StatusTooManyRequests:
		return NewRateLimitError(text + HintRateLimited)
	default:
		return NewRequestFailedError(statusCode, text)
	}
}

// Category returns the taxonomy bucket of any error produced while talking
// to an upstream.
func Category(err error) ErrorType {
	if err == nil {
		return ""
	}
	var gwErr *GatewayError
	if errors.As(err, &gwErr) {
		return gwErr.Type
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return ErrorTypeNetworkFailure
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return ErrorTypeNetworkFailure
	}
	return ErrorTypeRequestFailed
}

// AsGatewayError converts err into a GatewayError, classifying unknown errors.
func AsGatewayError(err error) *GatewayError {
	var gwErr *GatewayError
	if errors.As(err, &gwErr) {
		return gwErr
	}
	if Category(err) == ErrorTypeNetworkFailure {
		return NewNetworkFailureError(err.Error(), err)
	}
	return newError(ErrorTypeRequestFailed, http.StatusBadGateway, err.Error(), err)
}
