// Package events defines the event payloads published on the internal bus.
package events

import (
	"time"

	"github.com/hemolink/hemolink/core/model"
)

// RequestCreated is published when a new request enters the lifecycle.
type RequestCreated struct {
	Request model.Request
}

// NotificationEvent reports the outcome of a single notification attempt.
type NotificationEvent struct {
	RequestID   string
	ResponderID string
	Outcome     string
	Attempts    int
	Latency     time.Duration
	Err         error
}

// MatchEvent is published when a tryMatch call resolves.
type MatchEvent struct {
	RequestID   string
	ResponderID string
	Bound       bool
}

// EscalationEvent is published when a quiet request widens its search.
type EscalationEvent struct {
	RequestID string
	Count     int
}

// ExpirationEvent is published when a pending request is observed expired.
type ExpirationEvent struct {
	RequestID string
}
