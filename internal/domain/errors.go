package domain

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"
)

var (
	ErrInvalidRequest     = errors.New("invalid request")
	ErrQuotaExceeded      = errors.New("quota exceeded")
	ErrUnsupportedPair    = errors.New("unsupported language pair")
	ErrTimeout            = errors.New("request timed out")
	ErrNetwork            = errors.New("network error")
	ErrModel              = errors.New("model error")
	ErrCancelled          = errors.New("request cancelled")
	ErrProviderNotFound   = errors.New("provider not found")
	ErrRequestNotFound    = errors.New("request not found")
	ErrCircuitBreakerOpen = errors.New("circuit breaker open")
)

// ErrorClass buckets errors for retry policy, metrics and per-item batch
// reporting.
type ErrorClass string

const (
	ClassQuota       ErrorClass = "quota"
	ClassUnsupported ErrorClass = "unsupported_pair"
	ClassTimeout     ErrorClass = "timeout"
	ClassNetwork     ErrorClass = "network"
	ClassModel       ErrorClass = "model"
	ClassCancelled   ErrorClass = "cancelled"
	ClassInternal    ErrorClass = "internal"
)

// QuotaError is the denial outcome of an admission check. It is retryable
// and carries the wait until the violated bucket resets, plus an optional
// admissible alternate provider.
type QuotaError struct {
	Provider  string
	Bucket    string
	Reason    string
	Wait      time.Duration
	Alternate string
}

func (e *QuotaError) Error() string {
	return fmt.Sprintf("quota exceeded for %s (%s bucket): %s, retry in %s",
		e.Provider, e.Bucket, e.Reason, e.Wait.Round(time.Millisecond))
}

func (e *QuotaError) Unwrap() error { return ErrQuotaExceeded }

// DispatchError wraps a provider failure with routing context.
type DispatchError struct {
	Err        error
	Provider   string
	SourceLang string
	TargetLang string
	Attempts   int
}

func (e *DispatchError) Error() string {
	return fmt.Sprintf("provider=%s pair=%s->%s attempts=%d: %v",
		e.Provider, e.SourceLang, e.TargetLang, e.Attempts, e.Err)
}

func (e *DispatchError) Unwrap() error { return e.Err }

// Classify maps an error onto the taxonomy. Cancellation is kept distinct
// from failure so callers can tell "I stopped it" from "it broke".
func Classify(err error) ErrorClass {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, context.Canceled), errors.Is(err, ErrCancelled):
		return ClassCancelled
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, ErrTimeout):
		return ClassTimeout
	case errors.Is(err, ErrQuotaExceeded):
		return ClassQuota
	case errors.Is(err, ErrUnsupportedPair):
		return ClassUnsupported
	case errors.Is(err, ErrModel):
		return ClassModel
	case errors.Is(err, ErrNetwork), isNetError(err):
		return ClassNetwork
	default:
		return ClassInternal
	}
}

// IsRetryable reports whether the error class permits retrying, possibly
// against another provider.
func IsRetryable(err error) bool {
	switch Classify(err) {
	case ClassQuota, ClassTimeout, ClassNetwork, ClassModel:
		return true
	default:
		return false
	}
}

func isNetError(err error) bool {
	var ne net.Error
	if errors.As(err, &ne) {
		return true
	}
	var op *net.OpError
	return errors.As(err, &op)
}
