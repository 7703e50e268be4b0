// Package apperr defines PipeGate's error taxonomy and its HTTP status
// mapping: a machine-readable code, a human message, and a status code
// derived from the code.
package apperr

import (
	"fmt"
	"net/http"
)

// Code is a machine-readable error identifier.
type Code string

const (
	CodeMalformedMessage   Code = "MALFORMED_MESSAGE"
	CodeConnIDInUse        Code = "CONN_ID_IN_USE"
	CodeUnauthorized       Code = "UNAUTHORIZED"
	CodeTunnelNotConnected Code = "TUNNEL_NOT_CONNECTED"
	CodeTunnelClosed       Code = "TUNNEL_CLOSED"
	CodeUpstreamTimeout    Code = "UPSTREAM_TIMEOUT"
	CodeOriginError        Code = "ORIGIN_ERROR"
	CodeIOError            Code = "IO_ERROR"
)

// TunnelError is PipeGate's standard error type: a code plus an HTTP status
// derived from it.
type TunnelError struct {
	Code       Code
	Message    string
	StatusCode int
	cause      error
}

func (e *TunnelError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *TunnelError) Unwrap() error { return e.cause }

func statusForCode(code Code) int {
	switch code {
	case CodeUnauthorized:
		return http.StatusUnauthorized
	case CodeConnIDInUse:
		return http.StatusConflict
	case CodeTunnelNotConnected, CodeTunnelClosed, CodeIOError:
		return http.StatusBadGateway
	case CodeUpstreamTimeout:
		return http.StatusGatewayTimeout
	case CodeMalformedMessage:
		return http.StatusBadRequest
	case CodeOriginError:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// New creates a TunnelError with the status derived from code.
func New(code Code, message string) *TunnelError {
	return &TunnelError{Code: code, Message: message, StatusCode: statusForCode(code)}
}

// Wrap creates a TunnelError that carries an underlying cause.
func Wrap(code Code, message string, cause error) *TunnelError {
	return &TunnelError{Code: code, Message: message, StatusCode: statusForCode(code), cause: cause}
}

func MalformedMessage(reason string) *TunnelError {
	return New(CodeMalformedMessage, reason)
}

func ConnIDInUse(connID string) *TunnelError {
	return New(CodeConnIDInUse, fmt.Sprintf("connection id %s already has an active tunnel", connID))
}

func Unauthorized(reason string) *TunnelError {
	return New(CodeUnauthorized, reason)
}

func TunnelNotConnected(connID string) *TunnelError {
	return New(CodeTunnelNotConnected, fmt.Sprintf("no tunnel connected for %s", connID))
}

func TunnelClosed() *TunnelError {
	return New(CodeTunnelClosed, "tunnel closed")
}

func UpstreamTimeout() *TunnelError {
	return New(CodeUpstreamTimeout, "upstream did not respond before the deadline")
}

func OriginError(cause error) *TunnelError {
	return Wrap(CodeOriginError, "local origin request failed", cause)
}

func IOError(cause error) *TunnelError {
	return Wrap(CodeIOError, "transport failure", cause)
}
