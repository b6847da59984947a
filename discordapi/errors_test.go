package discordapi

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"
)

func TestClassifyError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want ErrorClass
	}{
		{"rate limited", &APIError{Status: http.StatusTooManyRequests}, ErrorClassRetryable},
		{"internal server error", &APIError{Status: http.StatusInternalServerError}, ErrorClassRetryable},
		{"bad gateway", &APIError{Status: http.StatusBadGateway}, ErrorClassRetryable},
		{"service unavailable", &APIError{Status: http.StatusServiceUnavailable}, ErrorClassRetryable},
		{"unauthorized", &APIError{Status: http.StatusUnauthorized}, ErrorClassFatal},
		{"forbidden", &APIError{Status: http.StatusForbidden, Message: "Missing Permissions"}, ErrorClassFatal},
		{"not found", &APIError{Status: http.StatusNotFound, Code: 10003}, ErrorClassFatal},
		{"bad request", &APIError{Status: http.StatusBadRequest}, ErrorClassFatal},
		{"deadline exceeded", context.DeadlineExceeded, ErrorClassRetryable},
		{"wrapped deadline", fmt.Errorf("move member: %w", context.DeadlineExceeded), ErrorClassRetryable},
		{"connection reset", errors.New("read tcp: connection reset by peer"), ErrorClassRetryable},
		{"connection refused", errors.New("dial tcp: connection refused"), ErrorClassRetryable},
		{"invalid input", errors.New("guildID empty"), ErrorClassFatal},
		{"unknown defaults to retryable", errors.New("something odd happened"), ErrorClassRetryable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ClassifyError(tt.err); got != tt.want {
				t.Errorf("ClassifyError(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}

func TestIsNotFound(t *testing.T) {
	if !IsNotFound(&APIError{Status: http.StatusNotFound}) {
		t.Error("IsNotFound(404) = false")
	}
	if !IsNotFound(fmt.Errorf("wrapped: %w", &APIError{Status: http.StatusNotFound})) {
		t.Error("IsNotFound(wrapped 404) = false")
	}
	if IsNotFound(&APIError{Status: http.StatusForbidden}) {
		t.Error("IsNotFound(403) = true")
	}
	if IsNotFound(errors.New("not found")) {
		t.Error("IsNotFound(plain error) = true")
	}
}

func TestAPIErrorMessage(t *testing.T) {
	err := &APIError{Status: http.StatusForbidden, Code: 50013, Message: "Missing Permissions"}
	if got := err.Error(); got != "discord api: Forbidden: Missing Permissions" {
		t.Errorf("Error() = %q", got)
	}
	bare := &APIError{Status: http.StatusBadGateway}
	if got := bare.Error(); got != "discord api: Bad Gateway" {
		t.Errorf("Error() = %q", got)
	}
}
