// Package analyzer holds the error taxonomy, retry policy and confidence rules
// shared by every analyzer client.
package analyzer

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net/http"
)

// Kind classifies an analyzer failure.
type Kind string

const (
	KindTimeout         Kind = "timeout"
	KindRateLimit       Kind = "rate_limit"
	KindUnavailable     Kind = "unavailable"
	KindQuota           Kind = "quota"
	KindInvalidInput    Kind = "invalid_input"
	KindAuth            Kind = "auth"
	KindInvalidResponse Kind = "invalid_response"
	KindInternal        Kind = "internal"
)

var (
	// ErrAnalyzer matches every *Error.
	ErrAnalyzer = errors.New("analyzer error")
	// ErrAnalyzerTimeout matches *Error values of KindTimeout.
	ErrAnalyzerTimeout = errors.New("analyzer timeout")
)

// Error is a classified analyzer failure.
type Error struct {
	Analyzer string
	Kind     Kind
	Err      error
}

// NewError wraps err with analyzer and kind.
func NewError(analyzer string, kind Kind, err error) *Error {
	return &Error{Analyzer: analyzer, Kind: kind, Err: err}
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("analyzer %s: %s", e.Analyzer, e.Kind)
	}
	return fmt.Sprintf("analyzer %s: %s: %v", e.Analyzer, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

func (e *Error) Is(target error) bool {
	switch target {
	case ErrAnalyzer:
		return true
	case ErrAnalyzerTimeout:
		return e.Kind == KindTimeout
	}
	return false
}

// Transient reports whether the failure is worth retrying.
func (e *Error) Transient() bool {
	switch e.Kind {
	case KindTimeout, KindRateLimit, KindUnavailable:
		return true
	}
	return false
}

// KindOf extracts the Kind of err. Context deadlines count as timeouts.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Kind
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTimeout
	}
	return KindInternal
}

// IsTransient reports whether err should be retried.
func IsTransient(err error) bool {
	var ae *Error
	return errors.As(err, &ae) && ae.Transient()
}

// KindFromStatus maps an HTTP status from a model service to a Kind.
func KindFromStatus(status int) Kind {
	switch {
	case status == http.StatusTooManyRequests:
		return KindRateLimit
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return KindAuth
	case status == http.StatusPaymentRequired:
		return KindQuota
	case status == http.StatusRequestTimeout || status == http.StatusGatewayTimeout:
		return KindTimeout
	case status >= 500:
		return KindUnavailable
	case status >= 400:
		return KindInvalidInput
	}
	return KindInvalidResponse
}

// ClampConfidence forces c into [0, 1]. NaN becomes 0.
func ClampConfidence(c float64) float64 {
	switch {
	case math.IsNaN(c), c < 0:
		return 0
	case c > 1:
		return 1
	}
	return c
}
