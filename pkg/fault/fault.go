// Package fault defines the error taxonomy shared by every core component.
// All errors that cross a component boundary carry a stable Code plus the
// correlation metadata needed to tie them back to a task.
package fault

import (
	"context"
	"errors"
	"fmt"
)

// Code classifies a failure. Codes are stable wire-level identifiers; callers
// branch on Code, never on message text.
type Code string

const (
	CodeValidation          Code = "validation"
	CodeTimeout             Code = "timeout"
	CodeCancelled           Code = "cancelled"
	CodeRateLimited         Code = "rate_limited"
	CodeCircuitOpen         Code = "circuit_open"
	CodeProviderUnavailable Code = "provider_unavailable"
	CodeToolNotFound        Code = "tool_not_found"
	CodeToolExecutionFailed Code = "tool_execution_failed"
	CodeSecurityViolation   Code = "security_violation"
	CodeBudgetExceeded      Code = "budget_exceeded"
	CodeNotSupported        Code = "not_supported"
	CodeBusy                Code = "busy"
	CodeInternal            Code = "internal"
)

// Fault is the structured error carried across component boundaries.
// Provider and Status are populated only for provider-originated failures.
type Fault struct {
	Code          Code
	Message       string
	Cause         error
	CorrelationID string
	Provider      string
	Status        int
}

// New creates a Fault with the given code and formatted message.
func New(code Code, format string, args ...any) *Fault {
	return &Fault{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap creates a Fault that preserves the underlying error chain.
func Wrap(code Code, cause error, format string, args ...any) *Fault {
	return &Fault{Code: code, Message: fmt.Sprintf(format, args...), Cause: cause}
}

// WithCorrelation returns a copy carrying the correlation ID.
func (f *Fault) WithCorrelation(id string) *Fault {
	cp := *f
	cp.CorrelationID = id
	return &cp
}

// WithProvider returns a copy carrying provider identity and HTTP-ish status.
func (f *Fault) WithProvider(provider string, status int) *Fault {
	cp := *f
	cp.Provider = provider
	cp.Status = status
	return &cp
}

func (f *Fault) Error() string {
	msg := f.Message
	if msg == "" && f.Cause != nil {
		msg = f.Cause.Error()
	}
	if f.Provider != "" {
		return fmt.Sprintf("%s (provider=%s): %s", f.Code, f.Provider, msg)
	}
	return fmt.Sprintf("%s: %s", f.Code, msg)
}

// Unwrap returns the underlying cause to preserve the original error chain.
func (f *Fault) Unwrap() error { return f.Cause }

// Is makes errors.Is match any Fault with the same Code, so sentinel-style
// comparisons like errors.Is(err, &Fault{Code: CodeTimeout}) work.
func (f *Fault) Is(target error) bool {
	var t *Fault
	if !errors.As(target, &t) {
		return false
	}
	return t.Code == f.Code
}

// CodeOf extracts the taxonomy code from an error chain. Context errors map
// to their taxonomy equivalents; anything unclassified is internal.
func CodeOf(err error) Code {
	if err == nil {
		return ""
	}
	var f *Fault
	if errors.As(err, &f) {
		return f.Code
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return CodeTimeout
	}
	if errors.Is(err, context.Canceled) {
		return CodeCancelled
	}
	return CodeInternal
}

// As returns the first Fault in err's chain, if any.
func As(err error) (*Fault, bool) {
	var f *Fault
	if errors.As(err, &f) {
		return f, true
	}
	return nil, false
}

// Retryable reports whether retrying the failed operation without changing
// the request may succeed. Validation and security failures never retry;
// circuit_open is a control signal handled by the chain, not a retry case.
func Retryable(err error) bool {
	switch CodeOf(err) {
	case CodeTimeout, CodeRateLimited, CodeProviderUnavailable, CodeBusy:
		return true
	default:
		return false
	}
}

// FromContext converts a context error into the matching Fault. Returns nil
// when ctx.Err() is nil.
func FromContext(ctx context.Context) *Fault {
	switch {
	case errors.Is(ctx.Err(), context.DeadlineExceeded):
		return Wrap(CodeTimeout, ctx.Err(), "deadline exceeded")
	case errors.Is(ctx.Err(), context.Canceled):
		return Wrap(CodeCancelled, ctx.Err(), "cancelled")
	default:
		return nil
	}
}
