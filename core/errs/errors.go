// Package errs defines the error taxonomy shared across the matching core.
// Conflict and rate-limit errors are expected outcomes of normal operation
// and are surfaced to the immediate caller rather than logged as faults.
package errs

import (
	"errors"
	"fmt"
	"time"
)

// ValidationError rejects malformed input before any state mutation.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("validation: %s", e.Reason)
	}
	return fmt.Sprintf("validation: %s: %s", e.Field, e.Reason)
}

// NotFoundError signals an unknown entity id.
type NotFoundError struct {
	Kind string
	ID   string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Kind, e.ID)
}

// Conflict reasons.
const (
	ReasonAlreadyMatched   = "already_matched"
	ReasonRequestCancelled = "request_cancelled"
	ReasonBadTransition    = "invalid_transition"
)

// ConflictError signals a lost race or an impossible state transition.
type ConflictError struct {
	Reason string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("conflict: %s", e.Reason)
}

// RateLimitError carries the duration after which the caller may retry.
type RateLimitError struct {
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limit exceeded, retry after %s", e.RetryAfter)
}

// TransportError wraps a delivery failure. Transient failures are eligible
// for bounded retry; permanent ones (e.g. invalid recipient) are not.
type TransportError struct {
	Transient bool
	Err       error
}

func (e *TransportError) Error() string {
	kind := "permanent"
	if e.Transient {
		kind = "transient"
	}
	return fmt.Sprintf("transport (%s): %v", kind, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// ExpiredError signals an action attempted on a request whose lazily
// observed expiry has passed.
type ExpiredError struct {
	RequestID string
}

func (e *ExpiredError) Error() string {
	return fmt.Sprintf("request %s has expired", e.RequestID)
}

// IsNotFound reports whether err is a NotFoundError.
func IsNotFound(err error) bool {
	var e *NotFoundError
	return errors.As(err, &e)
}

// IsConflict reports whether err is a ConflictError.
func IsConflict(err error) bool {
	var e *ConflictError
	return errors.As(err, &e)
}

// IsValidation reports whether err is a ValidationError.
func IsValidation(err error) bool {
	var e *ValidationError
	return errors.As(err, &e)
}

// IsExpired reports whether err is an ExpiredError.
func IsExpired(err error) bool {
	var e *ExpiredError
	return errors.As(err, &e)
}

// IsRateLimited reports whether err is a RateLimitError.
func IsRateLimited(err error) bool {
	var e *RateLimitError
	return errors.As(err, &e)
}

// IsTransient reports whether err is a transport error eligible for retry.
func IsTransient(err error) bool {
	var e *TransportError
	return errors.As(err, &e) && e.Transient
}
