package transport

import (
	"context"
	"fmt"
	"sync"

	"github.com/hemolink/hemolink/core/errs"
	coretransport "github.com/hemolink/hemolink/core/transport"
)

// MockTransport is a simple in-memory transport used in tests.
type MockTransport struct {
	mu sync.Mutex
	// Messages records the last payload delivered per recipient.
	Messages map[string]coretransport.Payload
	// FailIDs lists recipients whose sends fail transiently.
	FailIDs map[string]bool
	// RejectIDs lists recipients whose sends fail permanently.
	RejectIDs map[string]bool
}

// NewMockTransport creates a new MockTransport.
func NewMockTransport() *MockTransport {
	return &MockTransport{
		Messages:  make(map[string]coretransport.Payload),
		FailIDs:   make(map[string]bool),
		RejectIDs: make(map[string]bool),
	}
}

// Send records the payload or returns an error if configured to fail.
func (m *MockTransport) Send(_ context.Context, recipientID string, p coretransport.Payload) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.RejectIDs[recipientID] {
		return &errs.TransportError{Transient: false, Err: fmt.Errorf("unknown recipient %s", recipientID)}
	}
	if m.FailIDs[recipientID] {
		return &errs.TransportError{Transient: true, Err: fmt.Errorf("publish failed")}
	}
	m.Messages[recipientID] = p
	return nil
}

// Sent reports whether the recipient received a payload.
func (m *MockTransport) Sent(recipientID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.Messages[recipientID]
	return ok
}
