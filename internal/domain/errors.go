package domain

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrNotFound          = errors.New("not found")
	ErrInvalidBrief      = errors.New("invalid brief")
	ErrJobTerminal       = errors.New("job already terminal")
	ErrRateLimited       = errors.New("rate limited")
	ErrRequestRejected   = errors.New("request rejected")
	ErrGenerationTimeout = errors.New("generation timeout")
	ErrGenerationFailed  = errors.New("generation failed")
	// ErrProviderUnavailable covers outages: 5xx answers and transport errors.
	ErrProviderUnavailable = errors.New("provider unavailable")
	ErrProfileViolation    = errors.New("profile violation")
	ErrBudgetDenied        = errors.New("budget denied")

	ErrAllProvidersExhausted = errors.New("all providers exhausted")
	ErrAttemptsExhausted     = errors.New("attempts exhausted")
)

// ProviderError attributes one of the sentinel kinds above to a provider.
type ProviderError struct {
	Provider string
	Kind     error
	Detail   string
}

// NewProviderError builds a ProviderError with a formatted detail message.
func NewProviderError(provider string, kind error, format string, args ...any) *ProviderError {
	return &ProviderError{Provider: provider, Kind: kind, Detail: fmt.Sprintf(format, args...)}
}

func (e *ProviderError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("%s: %v", e.Provider, e.Kind)
	}
	return fmt.Sprintf("%s: %v: %s", e.Provider, e.Kind, e.Detail)
}

func (e *ProviderError) Unwrap() error { return e.Kind }

// ErrorKind returns the stable code for err, used in attempt records and API payloads.
func ErrorKind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrRateLimited):
		return "rate_limited"
	case errors.Is(err, ErrRequestRejected):
		return "request_rejected"
	case errors.Is(err, ErrGenerationTimeout):
		return "generation_timeout"
	case errors.Is(err, ErrProfileViolation):
		return "profile_violation"
	case errors.Is(err, ErrBudgetDenied):
		return "budget_denied"
	case errors.Is(err, ErrAttemptsExhausted):
		return "attempts_exhausted"
	case errors.Is(err, ErrAllProvidersExhausted):
		return "all_providers_exhausted"
	case errors.Is(err, ErrInvalidBrief):
		return "invalid_brief"
	case errors.Is(err, ErrProviderUnavailable):
		return "provider_unavailable"
	case errors.Is(err, ErrGenerationFailed):
		return "generation_failed"
	default:
		return "internal"
	}
}

// IsTransientKind reports whether an attempt failing with kind may succeed if retried later.
func IsTransientKind(kind string) bool {
	return kind == "rate_limited" || kind == "generation_timeout" || kind == "provider_unavailable"
}

// IsTransient reports whether err is a rate limit, timeout or provider outage.
func IsTransient(err error) bool {
	return errors.Is(err, ErrRateLimited) || errors.Is(err, ErrGenerationTimeout) || errors.Is(err, ErrProviderUnavailable)
}

// TerminalFailure is returned by the orchestrator when no provider produced an artifact.
type TerminalFailure struct {
	Attempts []GenerationAttempt
}

func (f *TerminalFailure) Error() string {
	if len(f.Attempts) == 0 {
		return ErrAllProvidersExhausted.Error() + ": no enabled providers"
	}
	parts := make([]string, 0, len(f.Attempts))
	for _, a := range f.Attempts {
		parts = append(parts, fmt.Sprintf("%s: %s", a.Provider, a.ErrorKind))
	}
	return fmt.Sprintf("%v (%d attempts): %s", ErrAllProvidersExhausted, len(f.Attempts), strings.Join(parts, "; "))
}

func (f *TerminalFailure) Unwrap() error { return ErrAllProvidersExhausted }

// Transient reports whether any attempt failed for a reason that may clear over time.
func (f *TerminalFailure) Transient() bool {
	for _, a := range f.Attempts {
		if IsTransientKind(a.ErrorKind) {
			return true
		}
	}
	return false
}

// AttemptsExhaustedError is the queue's terminal result after its last retry.
type AttemptsExhaustedError struct {
	Attempts int
	Last     error
}

func (e *AttemptsExhaustedError) Error() string {
	return fmt.Sprintf("%v after %d attempts: %v", ErrAttemptsExhausted, e.Attempts, e.Last)
}

func (e *AttemptsExhaustedError) Unwrap() []error {
	return []error{ErrAttemptsExhausted, e.Last}
}
