package model

import (
	"fmt"
	"time"
)

// Urgency is the tier that drives a request's time-to-expiry.
type Urgency string

const (
	UrgencyNormal   Urgency = "normal"
	UrgencyUrgent   Urgency = "urgent"
	UrgencyCritical Urgency = "critical"
)

// Valid reports whether the urgency is a known tier.
func (u Urgency) Valid() bool {
	switch u {
	case UrgencyNormal, UrgencyUrgent, UrgencyCritical:
		return true
	}
	return false
}

func (u Urgency) String() string { return string(u) }

// RequestStatus is the lifecycle state of a request.
type RequestStatus string

const (
	StatusPending   RequestStatus = "pending"
	StatusMatched   RequestStatus = "matched"
	StatusCompleted RequestStatus = "completed"
	StatusExpired   RequestStatus = "expired"
	StatusCancelled RequestStatus = "cancelled"
)

// Terminal reports whether no further transition is possible from the status.
func (s RequestStatus) Terminal() bool {
	switch s {
	case StatusCompleted, StatusExpired, StatusCancelled:
		return true
	}
	return false
}

func (s RequestStatus) String() string { return string(s) }

// Location is a WGS84 coordinate pair.
type Location struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// Request is a unit of demand looking for exactly one binding responder.
type Request struct {
	ID        string        `json:"id"`
	BloodType BloodType     `json:"blood_type"`
	Units     int           `json:"units"`
	Urgency   Urgency       `json:"urgency"`
	Status    RequestStatus `json:"status"`

	// Location of the requesting facility. Nil when unknown; ranking then
	// falls back to a default distance.
	Location *Location `json:"location,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	// ExpiresAt is derived once at creation from the urgency tier and is
	// never extended afterwards, not even by escalation.
	ExpiresAt time.Time `json:"expires_at"`

	EscalationCount int `json:"escalation_count"`
	ResponseCount   int `json:"response_count"`

	// MatchedResponderID is set exactly once, by the match arbiter. It is
	// non-empty iff Status is matched or completed.
	MatchedResponderID string `json:"matched_responder_id,omitempty"`
}

// Validate checks the fields a caller controls at creation time.
func (r Request) Validate() error {
	if !r.BloodType.Valid() {
		return fmt.Errorf("unknown blood type %q", r.BloodType)
	}
	if r.Units <= 0 {
		return fmt.Errorf("units must be positive")
	}
	if !r.Urgency.Valid() {
		return fmt.Errorf("unknown urgency %q", r.Urgency)
	}
	return nil
}

// ExpiredAt reports whether the request is past its deadline at the given
// instant. Expiration is observed lazily; a pending request can be stale
// before any reader writes the transition back.
func (r Request) ExpiredAt(now time.Time) bool {
	return now.After(r.ExpiresAt)
}
