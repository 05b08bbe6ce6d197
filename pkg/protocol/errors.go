package protocol

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
)

// ErrorKind classifies gateway failures. The set is closed so callers can
// distinguish "fix your config" from "upstream is down".
type ErrorKind string

const (
	ErrInvalidProvider       ErrorKind = "invalid_provider"
	ErrProviderNotConfigured ErrorKind = "provider_not_configured"
	ErrUpstream              ErrorKind = "upstream_error"
	ErrUpstreamTimeout       ErrorKind = "upstream_timeout"
	ErrInvalidResponse       ErrorKind = "invalid_response"
	ErrInvalidRequest        ErrorKind = "invalid_request"
)

// GatewayError is the typed error surfaced by the dispatch path. It maps
// 1:1 onto a terminal Failed event.
type GatewayError struct {
	Kind              ErrorKind
	Message           string
	UpstreamStatus    int
	UpstreamRequestID string
}

func (e *GatewayError) Error() string {
	if e.UpstreamStatus != 0 {
		return fmt.Sprintf("%s: %s (upstream status %d)", e.Kind, e.Message, e.UpstreamStatus)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Errf builds a GatewayError with a formatted message.
func Errf(kind ErrorKind, format string, args ...interface{}) *GatewayError {
	return &GatewayError{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// KindOf extracts the error kind, classifying foreign errors along the way:
// deadline and net timeouts become upstream_timeout, JSON shape errors
// become invalid_response, anything else is an upstream error.
func KindOf(err error) ErrorKind {
	var gerr *GatewayError
	if errors.As(err, &gerr) {
		return gerr.Kind
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return ErrUpstreamTimeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return ErrUpstreamTimeout
	}
	var syntaxErr *json.SyntaxError
	var typeErr *json.UnmarshalTypeError
	if errors.As(err, &syntaxErr) || errors.As(err, &typeErr) {
		return ErrInvalidResponse
	}
	return ErrUpstream
}

// HTTPStatus maps an error kind to the status used by non-streaming
// responses and pre-stream failures.
func (k ErrorKind) HTTPStatus() int {
	switch k {
	case ErrInvalidProvider, ErrInvalidRequest:
		return http.StatusBadRequest
	case ErrProviderNotConfigured:
		return http.StatusFailedDependency
	case ErrUpstreamTimeout:
		return http.StatusGatewayTimeout
	case ErrUpstream, ErrInvalidResponse:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
