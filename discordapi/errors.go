package discordapi

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strings"
)

// APIError is a non-2xx response from the Discord API.
type APIError struct {
	Status  int
	Code    int
	Message string
}

func (e *APIError) Error() string {
	if e.Message != "" {
		return "discord api: " + http.StatusText(e.Status) + ": " + e.Message
	}
	return "discord api: " + http.StatusText(e.Status)
}

// IsNotFound reports whether err is a 404 API response.
func IsNotFound(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Status == http.StatusNotFound
}

// ErrorClass represents whether an error should be retried or not.
type ErrorClass int

const (
	// ErrorClassRetryable indicates the operation should be retried (transient errors).
	ErrorClassRetryable ErrorClass = iota
	// ErrorClassFatal indicates the operation should not be retried (permanent errors).
	ErrorClassFatal
)

// String returns a human-readable name for the error class.
func (ec ErrorClass) String() string {
	switch ec {
	case ErrorClassRetryable:
		return "retryable"
	case ErrorClassFatal:
		return "fatal"
	default:
		return "unknown"
	}
}

// ClassifyError classifies remote failures into retryable vs fatal.
//
// Fatal (non-retryable):
// - Permission and auth failures (401, 403)
// - Missing or malformed identifiers (400, 404, 405)
//
// Retryable (transient):
// - Rate limiting (429)
// - Server errors (5xx)
// - Timeouts and transport-level network failures
//
// Errors that match no known pattern are treated as retryable so that a novel
// transient failure is not silently given up on.
func ClassifyError(err error) ErrorClass {
	if err == nil {
		return ErrorClassRetryable
	}

	var apiErr *APIError
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.Status == http.StatusTooManyRequests:
			return ErrorClassRetryable
		case apiErr.Status >= 500:
			return ErrorClassRetryable
		case apiErr.Status == http.StatusBadRequest,
			apiErr.Status == http.StatusUnauthorized,
			apiErr.Status == http.StatusForbidden,
			apiErr.Status == http.StatusNotFound,
			apiErr.Status == http.StatusMethodNotAllowed:
			return ErrorClassFatal
		default:
			return ErrorClassRetryable
		}
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return ErrorClassRetryable
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return ErrorClassRetryable
	}

	lower := strings.ToLower(err.Error())
	networkPatterns := []string{
		"connection reset",
		"connection refused",
		"connection timed out",
		"timeout",
		"temporary failure in name resolution",
		"no route to host",
		"network unreachable",
		"eof",
		"broken pipe",
	}
	for _, pattern := range networkPatterns {
		if strings.Contains(lower, pattern) {
			return ErrorClassRetryable
		}
	}

	invalidPatterns := []string{
		"guildid empty",
		"channelid empty",
		"channel name empty",
		"required",
	}
	for _, pattern := range invalidPatterns {
		if strings.Contains(lower, pattern) {
			return ErrorClassFatal
		}
	}

	return ErrorClassRetryable
}

// IsRetryableError checks if an error should trigger retry logic.
func IsRetryableError(err error) bool {
	return ClassifyError(err) == ErrorClassRetryable
}

// IsFatalError checks if an error should not be retried.
func IsFatalError(err error) bool {
	return ClassifyError(err) == ErrorClassFatal
}
