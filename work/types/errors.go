package types

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrorKind classifies a failure so the request boundary can pick a status code.
type ErrorKind int

const (
	KindInternal     ErrorKind = iota // unexpected failure while rewriting or caching
	KindInvalidInput                  // missing or malformed target URL
	KindUnauthorized                  // admin token mismatch
	KindUpstream                      // non-2xx or network failure from the origin
)

// String returns the name used in logs and metric labels.
func (k ErrorKind) String() string {
	switch k {
	case KindInvalidInput:
		return "invalid_input"
	case KindUnauthorized:
		return "unauthorized"
	case KindUpstream:
		return "upstream"
	default:
		return "internal"
	}
}

// Sentinel errors, one per kind, for errors.Is checks.
var (
	ErrInvalidInput = errors.New("invalid input")
	ErrUnauthorized = errors.New("unauthorized")
	ErrUpstream     = errors.New("upstream error")
	ErrInternal     = errors.New("internal error")
)

// ProxyError is the single error type returned by the proxy core.
type ProxyError struct {
	Kind       ErrorKind
	StatusCode int    // upstream status code, KindUpstream only
	Status     string // upstream reason phrase, KindUpstream only
	Message    string
	Err        error
}

// Error implements the error interface.
func (e *ProxyError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

// Unwrap implements error unwrapping for errors.Is/As.
func (e *ProxyError) Unwrap() error {
	return e.Err
}

// Is matches the sentinel error of the same kind.
func (e *ProxyError) Is(target error) bool {
	return target == e.sentinel()
}

func (e *ProxyError) sentinel() error {
	switch e.Kind {
	case KindInvalidInput:
		return ErrInvalidInput
	case KindUnauthorized:
		return ErrUnauthorized
	case KindUpstream:
		return ErrUpstream
	default:
		return ErrInternal
	}
}

// InvalidInput builds a KindInvalidInput error.
func InvalidInput(message string, err error) *ProxyError {
	return &ProxyError{Kind: KindInvalidInput, Message: message, Err: err}
}

// Unauthorized builds a KindUnauthorized error.
func Unauthorized() *ProxyError {
	return &ProxyError{Kind: KindUnauthorized, Message: "Unauthorized"}
}

// UpstreamStatus builds a KindUpstream error for a non-2xx response.
func UpstreamStatus(code int, status string) *ProxyError {
	return &ProxyError{
		Kind:       KindUpstream,
		StatusCode: code,
		Status:     status,
		Message:    fmt.Sprintf("upstream responded with %s", status),
	}
}

// UpstreamFailure builds a KindUpstream error for a transport failure.
func UpstreamFailure(err error) *ProxyError {
	return &ProxyError{Kind: KindUpstream, Message: "upstream request failed", Err: err}
}

// Internal builds a KindInternal error.
func Internal(message string, err error) *ProxyError {
	return &ProxyError{Kind: KindInternal, Message: message, Err: err}
}

// KindOf returns the kind of err, KindInternal for foreign errors.
func KindOf(err error) ErrorKind {
	var pe *ProxyError
	if errors.As(err, &pe) {
		return pe.Kind
	}
	return KindInternal
}

// HTTPStatus maps err to the status code sent to the client.
func HTTPStatus(err error) int {
	switch KindOf(err) {
	case KindInvalidInput:
		return http.StatusBadRequest
	case KindUnauthorized:
		return http.StatusForbidden
	default:
		return http.StatusInternalServerError
	}
}
