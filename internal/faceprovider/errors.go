package faceprovider

import (
	"errors"
	"fmt"
)

// ErrorKind classifies provider failures so callers can branch on them.
type ErrorKind string

const (
	// KindAuth means the credential exchange was rejected or unreachable.
	KindAuth ErrorKind = "auth"
	// KindRequest means a transport-level failure, including timeouts.
	KindRequest ErrorKind = "request"
	// KindSemantic means the provider answered but flagged the input,
	// e.g. a malformed image. Not retryable with the same input.
	KindSemantic ErrorKind = "semantic"
)

// ProviderError annotates a provider failure with its kind and operation.
type ProviderError struct {
	Kind ErrorKind
	Op   string
	Err  error
}

// Error implements the error interface.
func (e *ProviderError) Error() string {
	if e == nil || e.Err == nil {
		return ""
	}
	return fmt.Sprintf("%s (%s): %v", e.Op, e.Kind, e.Err)
}

// Unwrap returns the underlying error for errors.Is/As support.
func (e *ProviderError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// NewProviderError wraps an error with its failure kind.
func NewProviderError(kind ErrorKind, op string, err error) error {
	if err == nil {
		return nil
	}
	return &ProviderError{Kind: kind, Op: op, Err: err}
}

// KindOf extracts the failure kind from an error chain, or "" if the error
// did not originate from a provider call.
func KindOf(err error) ErrorKind {
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe.Kind
	}
	return ""
}

// IsKind reports whether err carries the given provider failure kind.
func IsKind(err error, kind ErrorKind) bool {
	return KindOf(err) == kind
}
