package llm

import (
	"context"
	"errors"
	"fmt"

	"github.com/praxis-platform/praxis/pkg/fault"
)

// ErrorKind classifies a provider failure for retry and fallback decisions.
type ErrorKind string

const (
	ErrKindTimeout     ErrorKind = "timeout"
	ErrKindRateLimited ErrorKind = "rate_limited"
	ErrKindBadRequest  ErrorKind = "bad_request"
	ErrKindServer      ErrorKind = "server"
	ErrKindUnavailable ErrorKind = "unavailable"
	ErrKindValidation  ErrorKind = "validation"
	ErrKindUnknown     ErrorKind = "unknown"
)

// ProviderError is the typed failure a provider returns from Generate.
// Status carries the backend status code when one exists.
type ProviderError struct {
	Provider string
	Kind     ErrorKind
	Status   int
	Cause    error
}

func (e *ProviderError) Error() string {
	msg := fmt.Sprintf("provider %s: %s", e.Provider, e.Kind)
	if e.Status != 0 {
		msg = fmt.Sprintf("%s (status %d)", msg, e.Status)
	}
	if e.Cause != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Cause)
	}
	return msg
}

func (e *ProviderError) Unwrap() error { return e.Cause }

// Retryable reports whether the chain may retry the same provider.
func (e *ProviderError) Retryable() bool {
	switch e.Kind {
	case ErrKindTimeout, ErrKindRateLimited, ErrKindServer, ErrKindUnavailable:
		return true
	}
	return false
}

// classify maps an arbitrary provider error to its kind. Context errors map
// to timeout/unknown; unclassified errors are "unknown" and not retried.
func classify(err error) ErrorKind {
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe.Kind
	}
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return ErrKindTimeout
	case fault.CodeOf(err) == fault.CodeTimeout:
		return ErrKindTimeout
	case fault.CodeOf(err) == fault.CodeRateLimited:
		return ErrKindRateLimited
	case fault.CodeOf(err) == fault.CodeProviderUnavailable:
		return ErrKindUnavailable
	}
	return ErrKindUnknown
}

// kindRetryable reports retryability for a classified kind.
func kindRetryable(kind ErrorKind) bool {
	switch kind {
	case ErrKindTimeout, ErrKindRateLimited, ErrKindServer, ErrKindUnavailable:
		return true
	}
	return false
}
