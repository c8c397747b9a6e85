package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// TransientError marks a failure worth retrying: network faults, 5xx, 429.
type TransientError struct {
	Provider ProviderID
	Err      error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("%s: transient provider error: %v", e.Provider, e.Err)
}

func (e *TransientError) Unwrap() error { return e.Err }

// PermanentError marks a failure that retrying cannot fix: auth, 4xx.
type PermanentError struct {
	Provider ProviderID
	Err      error
}

func (e *PermanentError) Error() string {
	return fmt.Sprintf("%s: permanent provider error: %v", e.Provider, e.Err)
}

func (e *PermanentError) Unwrap() error { return e.Err }

// MalformedResponseError marks a payload that could not be decoded.
type MalformedResponseError struct {
	Provider ProviderID
	Err      error
}

func (e *MalformedResponseError) Error() string {
	return fmt.Sprintf("%s: malformed response: %v", e.Provider, e.Err)
}

func (e *MalformedResponseError) Unwrap() error { return e.Err }

// AllProvidersExhaustedError is returned when every provider in the fallback
// order failed. It carries the last underlying error.
type AllProvidersExhaustedError struct {
	LastErr error
}

func (e *AllProvidersExhaustedError) Error() string {
	return fmt.Sprintf("all providers exhausted: %v", e.LastErr)
}

func (e *AllProvidersExhaustedError) Unwrap() error { return e.LastErr }

// IsTransient reports whether the error should be retried within the
// adapter. Context cancellation is never transient.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var te *TransientError
	if errors.As(err, &te) {
		return true
	}
	var pe *PermanentError
	if errors.As(err, &pe) {
		return false
	}
	switch classifyError(err) {
	case "rate_limit", "timeout", "server_error":
		return true
	default:
		return false
	}
}

// classifyError determines the failure type from the error content.
func classifyError(err error) string {
	if err == nil {
		return "unknown"
	}

	errStr := strings.ToLower(err.Error())

	if strings.Contains(errStr, "timeout") ||
		strings.Contains(errStr, "deadline exceeded") ||
		strings.Contains(errStr, "connection refused") ||
		strings.Contains(errStr, "connection reset") {
		return "timeout"
	}

	if strings.Contains(errStr, "rate limit") ||
		strings.Contains(errStr, "rate_limit") ||
		strings.Contains(errStr, "too many requests") ||
		strings.Contains(errStr, "429") {
		return "rate_limit"
	}

	if strings.Contains(errStr, "unauthorized") ||
		strings.Contains(errStr, "invalid api key") ||
		strings.Contains(errStr, "authentication") ||
		strings.Contains(errStr, "401") ||
		strings.Contains(errStr, "403") {
		return "auth"
	}

	if strings.Contains(errStr, "billing") ||
		strings.Contains(errStr, "payment") ||
		strings.Contains(errStr, "quota") ||
		strings.Contains(errStr, "402") {
		return "billing"
	}

	if strings.Contains(errStr, "internal server") ||
		strings.Contains(errStr, "server error") ||
		strings.Contains(errStr, "overloaded") ||
		strings.Contains(errStr, "500") ||
		strings.Contains(errStr, "502") ||
		strings.Contains(errStr, "503") ||
		strings.Contains(errStr, "504") {
		return "server_error"
	}

	return "unknown"
}

// Classify wraps a raw provider error into the transient/permanent taxonomy.
func Classify(provider ProviderID, err error) error {
	if err == nil {
		return nil
	}
	var te *TransientError
	var pe *PermanentError
	var me *MalformedResponseError
	if errors.As(err, &te) || errors.As(err, &pe) || errors.As(err, &me) {
		return err
	}
	switch classifyError(err) {
	case "rate_limit", "timeout", "server_error":
		return &TransientError{Provider: provider, Err: err}
	case "auth", "billing":
		return &PermanentError{Provider: provider, Err: err}
	default:
		return &PermanentError{Provider: provider, Err: err}
	}
}
