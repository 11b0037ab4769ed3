// Package transport defines the outbound notification contract. Delivery
// backends (MQTT push, SMS gateways) live under infra/transport.
package transport

import (
	"context"
	"time"
)

// Payload is the notification handed to the delivery backend.
type Payload struct {
	RequestID string `json:"request_id"`
	BloodType string `json:"blood_type"`
	Units     int    `json:"units"`
	Urgency   string `json:"urgency"`
	Message   string `json:"message"`
	// ETAMinutes is the estimated travel time for this recipient.
	ETAMinutes int       `json:"eta_minutes,omitempty"`
	SentAt     time.Time `json:"sent_at"`
}

// Transport delivers a payload to one recipient. Errors are classified via
// errs.TransportError: transient failures are retry-eligible, permanent ones
// (e.g. unknown recipient) are not. Implementations must honor the context
// deadline; a timed-out send counts as transient.
type Transport interface {
	Send(ctx context.Context, recipientID string, p Payload) error
}
