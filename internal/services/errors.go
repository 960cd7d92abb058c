package services

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"
)

type ErrorKind string

const (
	KindInvalidSource         ErrorKind = "INVALID_SOURCE"
	KindNetworkFailure        ErrorKind = "NETWORK_FAILURE"
	KindNoCaptionsAvailable   ErrorKind = "NO_CAPTIONS"
	KindDependencyUnavailable ErrorKind = "DEPENDENCY_UNAVAILABLE"
	KindRecognitionFailure    ErrorKind = "RECOGNITION_FAILURE"
	KindStorageFailure        ErrorKind = "STORAGE_FAILURE"
)

// ExtractionError is the typed failure every pipeline component returns.
type ExtractionError struct {
	Kind    ErrorKind
	Message string
	Err     error
}

func (e *ExtractionError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *ExtractionError) Unwrap() error { return e.Err }

// Retryable reports whether the caller may try again later.
func (e *ExtractionError) Retryable() bool { return e.Kind == KindNetworkFailure }

func newError(kind ErrorKind, msg string, err error) *ExtractionError {
	return &ExtractionError{Kind: kind, Message: msg, Err: err}
}

// KindOf returns the kind of a wrapped ExtractionError, or "" for other errors.
func KindOf(err error) ErrorKind {
	var ee *ExtractionError
	if errors.As(err, &ee) {
		return ee.Kind
	}
	return ""
}

// IsRetryable reports whether err carries a retryable ExtractionError.
func IsRetryable(err error) bool {
	var ee *ExtractionError
	return errors.As(err, &ee) && ee.Retryable()
}

// HTTPStatusError is a non-2xx answer from an upstream endpoint.
type HTTPStatusError struct {
	URL        string
	StatusCode int
}

func (e *HTTPStatusError) Error() string {
	return fmt.Sprintf("unexpected status %d from %s", e.StatusCode, e.URL)
}

// isTransient separates failures in transit (timeouts, resets, 5xx, 429) from
// answers that will not change on retry.
func isTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var statusErr *HTTPStatusError
	if errors.As(err, &statusErr) {
		return statusErr.StatusCode == 429 || statusErr.StatusCode >= 500
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	var urlErr *url.Error
	return errors.As(err, &urlErr)
}

// classify wraps err as a NetworkFailure when transient, else as fallback.
func classify(err error, fallback ErrorKind, msg string) *ExtractionError {
	var ee *ExtractionError
	if errors.As(err, &ee) {
		return ee
	}
	if isTransient(err) {
		return newError(KindNetworkFailure, msg, err)
	}
	return newError(fallback, msg, err)
}
