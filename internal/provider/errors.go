package provider

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
)

// ErrorCode is the closed failure taxonomy the dispatch engine acts on.
// Only INVALID_TOKEN is permanent; everything else is retried.
type ErrorCode string

const (
	CodeInvalidToken        ErrorCode = "INVALID_TOKEN"
	CodeProviderUnavailable ErrorCode = "PROVIDER_UNAVAILABLE"
	CodeRateLimited         ErrorCode = "RATE_LIMITED"
	CodeUnknown             ErrorCode = "UNKNOWN"
)

func (c ErrorCode) String() string { return string(c) }

// Error classifies a single failed send. Raw provider detail goes in Message
// and Cause; the engine only branches on Code.
type Error struct {
	Code    ErrorCode
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}

	parts := make([]string, 0, 3)
	parts = append(parts, fmt.Sprintf("provider error [%s]", e.Code))
	if msg := strings.TrimSpace(e.Message); msg != "" {
		parts = append(parts, msg)
	}
	if e.Cause != nil {
		parts = append(parts, e.Cause.Error())
	}

	return strings.Join(parts, ": ")
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Cause
}

// ConfigurationError means the adapter has no usable credentials. It is a
// deployment problem, not a per-send failure, and is never permanent for
// the device token involved.
type ConfigurationError struct {
	Provider string
	Message  string
}

func (e *ConfigurationError) Error() string {
	if e == nil {
		return "<nil>"
	}
	return fmt.Sprintf("%s configuration error: %s", e.Provider, e.Message)
}

// CodeOf maps any send error onto the taxonomy. Unrecognized errors default
// to UNKNOWN (transient) so a surprising provider response never deletes a
// device.
func CodeOf(err error) ErrorCode {
	if err == nil {
		return ""
	}

	var providerErr *Error
	if errors.As(err, &providerErr) {
		if providerErr.Code != "" {
			return providerErr.Code
		}
		return CodeUnknown
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return CodeProviderUnavailable
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return CodeProviderUnavailable
	}

	return CodeUnknown
}

// IsPermanent reports whether the failure warrants removing the device.
func IsPermanent(err error) bool {
	return CodeOf(err) == CodeInvalidToken
}
