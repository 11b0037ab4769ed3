package model

import (
	"fmt"
	"time"
)

// ResponseKind is how a responder answered a notification.
type ResponseKind string

const (
	KindAccept  ResponseKind = "accept"
	KindDecline ResponseKind = "decline"
	KindMaybe   ResponseKind = "maybe"
)

// Valid reports whether the kind is known.
func (k ResponseKind) Valid() bool {
	switch k {
	case KindAccept, KindDecline, KindMaybe:
		return true
	}
	return false
}

func (k ResponseKind) String() string { return string(k) }

// ResponseStatus tracks the state of an individual response row.
type ResponseStatus string

const (
	ResponsePending   ResponseStatus = "pending"
	ResponseConfirmed ResponseStatus = "confirmed"
	ResponseCancelled ResponseStatus = "cancelled"
)

// Response records a responder's answer to a request. There is at most one
// row per (responder, request) pair; a resubmission updates the row in place.
type Response struct {
	ID          string         `json:"id"`
	RequestID   string         `json:"request_id"`
	ResponderID string         `json:"responder_id"`
	Kind        ResponseKind   `json:"kind"`
	Status      ResponseStatus `json:"status"`

	// ETAMinutes is the responder's own arrival estimate. Zero means none
	// was given.
	ETAMinutes int `json:"eta_minutes,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Validate checks the caller-controlled fields.
func (r Response) Validate() error {
	if r.RequestID == "" || r.ResponderID == "" {
		return fmt.Errorf("request and responder ids are required")
	}
	if !r.Kind.Valid() {
		return fmt.Errorf("unknown response kind %q", r.Kind)
	}
	if r.ETAMinutes < 0 {
		return fmt.Errorf("eta must not be negative")
	}
	return nil
}
