package model

import (
	"context"
	"errors"
	"fmt"
)

// NetworkError reports a transport failure (DNS, connection reset, broken body).
type NetworkError struct {
	Err error
}

func (e *NetworkError) Error() string { return fmt.Sprintf("network error: %v", e.Err) }
func (e *NetworkError) Unwrap() error { return e.Err }

// HTTPStatusError reports a non-2xx response from the provider, or an error
// object the provider sent inside an otherwise successful stream. The latter
// carries StatusCode 0 and the provider's error code or type in Code.
type HTTPStatusError struct {
	StatusCode int
	Code       string
	Body       string
}

func (e *HTTPStatusError) Error() string {
	prefix := fmt.Sprintf("http status %d", e.StatusCode)
	if e.StatusCode == 0 {
		prefix = "provider error"
		if e.Code != "" {
			prefix += " " + e.Code
		}
	}
	if e.Body == "" {
		return prefix
	}

	return prefix + ": " + e.Body
}

// ParseError reports a stream payload that could not be decoded.
type ParseError struct {
	Data string
	Err  error
}

func (e *ParseError) Error() string { return fmt.Sprintf("parse error: %v", e.Err) }
func (e *ParseError) Unwrap() error { return e.Err }

// AbortError reports that the caller cancelled the request. It is kept apart
// from NetworkError so cancellation never renders as a failure.
type AbortError struct {
	Err error
}

func (e *AbortError) Error() string { return "request aborted" }
func (e *AbortError) Unwrap() error { return e.Err }

// ErrUnknownProvider is returned by Router for an unregistered provider name.
var ErrUnknownProvider = errors.New("unknown model provider")

// IsAbort reports whether err is (or wraps) an AbortError.
func IsAbort(err error) bool {
	var abortErr *AbortError
	return errors.As(err, &abortErr)
}

// ClassifyTransportError maps an error raised while sending a request or
// reading its body to AbortError (ctx cancelled) or NetworkError. Errors that
// are already classified pass through unchanged.
func ClassifyTransportError(ctx context.Context, err error) error {
	if err == nil {
		return nil
	}

	var (
		netErr    *NetworkError
		statusErr *HTTPStatusError
		parseErr  *ParseError
	)
	if IsAbort(err) || errors.As(err, &netErr) || errors.As(err, &statusErr) || errors.As(err, &parseErr) {
		return err
	}

	if errors.Is(err, context.Canceled) || errors.Is(ctx.Err(), context.Canceled) {
		return &AbortError{Err: err}
	}

	return &NetworkError{Err: err}
}
