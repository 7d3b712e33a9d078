package domain

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

var (
	ErrValidation        = errors.New("validation failed")
	ErrSessionExpired    = errors.New("session expired")
	ErrRateLimited       = errors.New("rate limited")
	ErrMergeAborted      = errors.New("merge aborted")
	ErrRemoteUnavailable = errors.New("remote unavailable")
	ErrMalformedToken    = errors.New("malformed token")
	ErrEmptyCart         = errors.New("cart is empty")
)

// ValidationError carries field-level messages. It is raised before any remote call.
type ValidationError struct {
	Fields map[string]string
}

func NewValidationError(field, message string) *ValidationError {
	return &ValidationError{Fields: map[string]string{field: message}}
}

func (e *ValidationError) Error() string {
	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+": "+e.Fields[k])
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

// RemoteError is a classified failure from the marketplace API. Kind is one of
// ErrValidation, ErrSessionExpired, ErrRateLimited or ErrRemoteUnavailable.
type RemoteError struct {
	Kind       error
	StatusCode int
	Message    string
}

func (e *RemoteError) Error() string {
	if e.Message == "" {
		return e.Kind.Error()
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *RemoteError) Unwrap() error {
	return e.Kind
}

// MergeAbortedError is never fatal: login proceeds with the user's own cart.
type MergeAbortedError struct {
	Reason string
	Err    error
}

func (e *MergeAbortedError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("merge aborted: %s: %v", e.Reason, e.Err)
	}
	return "merge aborted: " + e.Reason
}

func (e *MergeAbortedError) Unwrap() error {
	return e.Err
}

func (e *MergeAbortedError) Is(target error) bool {
	return target == ErrMergeAborted
}

type MalformedTokenError struct {
	Reason string
}

func (e *MalformedTokenError) Error() string {
	return "malformed token: " + e.Reason
}

func (e *MalformedTokenError) Is(target error) bool {
	return target == ErrMalformedToken
}
