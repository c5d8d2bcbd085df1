package provider

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

// Sentinel errors for provider resolution.
var (
	ErrUnknownProvider = errors.New("unknown provider")
	ErrProviderExists  = errors.New("provider already registered")
	ErrEmptyProviderID = errors.New("provider id must not be empty")
	ErrUnknownModel    = errors.New("unknown model")
	ErrEmptyCompletion = errors.New("backend returned no completion choices")
)

// TransientError wraps a retryable backend failure: rate limiting,
// timeouts, and 5xx-equivalent conditions.
type TransientError struct {
	ProviderID string
	Status     int // HTTP status when applicable, zero otherwise
	Err        error
}

func (e *TransientError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("provider %s: transient failure (status %d): %v", e.ProviderID, e.Status, e.Err)
	}
	return fmt.Sprintf("provider %s: transient failure: %v", e.ProviderID, e.Err)
}

func (e *TransientError) Unwrap() error { return e.Err }

// FatalError wraps a non-retryable backend failure: auth problems,
// malformed requests, and context-limit violations reported upstream.
type FatalError struct {
	ProviderID string
	Status     int
	Err        error
}

func (e *FatalError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("provider %s: fatal failure (status %d): %v", e.ProviderID, e.Status, e.Err)
	}
	return fmt.Sprintf("provider %s: fatal failure: %v", e.ProviderID, e.Err)
}

func (e *FatalError) Unwrap() error { return e.Err }

// IsTransient reports whether err is retryable. Deadline expiry counts as
// transient: a per-call timeout is treated the same as a slow backend.
func IsTransient(err error) bool {
	var te *TransientError
	if errors.As(err, &te) {
		return true
	}
	return errors.Is(err, context.DeadlineExceeded)
}

// IsFatal reports whether err is a non-retryable provider failure.
func IsFatal(err error) bool {
	var fe *FatalError
	return errors.As(err, &fe)
}

// classifyStatus wraps an upstream HTTP error as transient or fatal based
// on the status code. 429 and all 5xx are retryable; everything else in
// the 4xx range is not.
func classifyStatus(providerID string, status int, err error) error {
	if status == http.StatusTooManyRequests || status >= 500 {
		return &TransientError{ProviderID: providerID, Status: status, Err: err}
	}
	return &FatalError{ProviderID: providerID, Status: status, Err: err}
}
