// Package lifecycle governs request status transitions, urgency-derived
// expiration and quiet-request escalation.
//
// Expiration is lazy: there is no per-request timer. Any read of a pending
// request past its deadline writes the expired status back at that moment,
// and a periodic external sweep is the only guaranteed trigger for eventual
// transition. Callers must therefore tolerate pending rows that are stale
// but not yet observed.
package lifecycle

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/hemolink/hemolink/core/errs"
	"github.com/hemolink/hemolink/core/events"
	"github.com/hemolink/hemolink/core/logger"
	"github.com/hemolink/hemolink/core/model"
	"github.com/hemolink/hemolink/core/store"
	"github.com/hemolink/hemolink/internal/eventbus"
)

// transitions lists the allowed status edges.
var transitions = map[model.RequestStatus][]model.RequestStatus{
	model.StatusPending: {model.StatusMatched, model.StatusExpired, model.StatusCancelled},
	model.StatusMatched: {model.StatusCompleted, model.StatusCancelled},
}

// CanTransition reports whether from→to is a legal edge.
func CanTransition(from, to model.RequestStatus) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// ExpiryFor returns the time-to-expiry for an urgency tier.
func ExpiryFor(u model.Urgency) time.Duration {
	switch u {
	case model.UrgencyCritical:
		return 2 * time.Hour
	case model.UrgencyUrgent:
		return 6 * time.Hour
	default:
		return 24 * time.Hour
	}
}

// CreateSpec is the caller-provided part of a new request.
type CreateSpec struct {
	BloodType model.BloodType
	Units     int
	Urgency   model.Urgency
	Location  *model.Location
}

// Manager drives the request state machine against the request store.
type Manager struct {
	requests store.RequestStore
	bus      eventbus.EventBus
	log      logger.Logger
	now      func() time.Time

	// escalationThreshold is the fraction of time-to-expiry after which a
	// request with zero responses escalates.
	escalationThreshold float64
	maxEscalations      int
}

// NewManager creates a lifecycle manager with the default escalation policy.
func NewManager(requests store.RequestStore, bus eventbus.EventBus, log logger.Logger) *Manager {
	return &Manager{
		requests:            requests,
		bus:                 bus,
		log:                 log,
		now:                 time.Now,
		escalationThreshold: 0.5,
		maxEscalations:      3,
	}
}

// SetNow overrides the clock. Intended for tests.
func (m *Manager) SetNow(now func() time.Time) { m.now = now }

// SetEscalationPolicy tunes when and how often quiet requests escalate.
func (m *Manager) SetEscalationPolicy(threshold float64, maxEscalations int) {
	if threshold > 0 {
		m.escalationThreshold = threshold
	}
	if maxEscalations >= 0 {
		m.maxEscalations = maxEscalations
	}
}

// Create validates the spec and persists a new pending request. ExpiresAt is
// fixed here and never extended afterwards.
func (m *Manager) Create(ctx context.Context, spec CreateSpec) (model.Request, error) {
	now := m.now()
	req := model.Request{
		ID:        uuid.NewString(),
		BloodType: spec.BloodType,
		Units:     spec.Units,
		Urgency:   spec.Urgency,
		Status:    model.StatusPending,
		Location:  spec.Location,
		CreatedAt: now,
		ExpiresAt: now.Add(ExpiryFor(spec.Urgency)),
	}
	if err := req.Validate(); err != nil {
		return model.Request{}, &errs.ValidationError{Reason: err.Error()}
	}
	if err := m.requests.Insert(ctx, req); err != nil {
		return model.Request{}, err
	}
	if m.bus != nil {
		m.bus.Publish(events.RequestCreated{Request: req})
	}
	return req, nil
}

// Observe loads a request and applies lazy expiration: a pending request
// past its deadline is transitioned to expired before being returned.
func (m *Manager) Observe(ctx context.Context, id string) (model.Request, error) {
	req, err := m.requests.Get(ctx, id)
	if err != nil {
		return model.Request{}, err
	}
	if req.Status != model.StatusPending || !req.ExpiredAt(m.now()) {
		return req, nil
	}
	ok, err := m.requests.UpdateStatusIf(ctx, id, model.StatusPending, model.StatusExpired)
	if err != nil {
		return model.Request{}, err
	}
	if !ok {
		// Lost a race against a concurrent transition; reload the truth.
		return m.requests.Get(ctx, id)
	}
	req.Status = model.StatusExpired
	if m.bus != nil {
		m.bus.Publish(events.ExpirationEvent{RequestID: id})
	}
	return req, nil
}

// Cancel moves a pending or matched request to cancelled.
func (m *Manager) Cancel(ctx context.Context, id string) error {
	return m.transition(ctx, id, model.StatusCancelled)
}

// Complete moves a matched request to completed.
func (m *Manager) Complete(ctx context.Context, id string) error {
	return m.transition(ctx, id, model.StatusCompleted)
}

func (m *Manager) transition(ctx context.Context, id string, to model.RequestStatus) error {
	req, err := m.Observe(ctx, id)
	if err != nil {
		return err
	}
	if !CanTransition(req.Status, to) {
		if req.Status == model.StatusExpired {
			return &errs.ExpiredError{RequestID: id}
		}
		return &errs.ConflictError{Reason: errs.ReasonBadTransition}
	}
	ok, err := m.requests.UpdateStatusIf(ctx, id, req.Status, to)
	if err != nil {
		return err
	}
	if !ok {
		return &errs.ConflictError{Reason: errs.ReasonBadTransition}
	}
	return nil
}

// NeedsEscalation reports whether a pending request has been quiet long
// enough to widen its search. Escalation never touches ExpiresAt.
func (m *Manager) NeedsEscalation(req model.Request, now time.Time) bool {
	if req.Status != model.StatusPending || req.ResponseCount > 0 {
		return false
	}
	if req.EscalationCount >= m.maxEscalations {
		return false
	}
	ttl := req.ExpiresAt.Sub(req.CreatedAt)
	if ttl <= 0 {
		return false
	}
	elapsed := now.Sub(req.CreatedAt)
	// Each escalation pushes the next trigger further into the TTL.
	trigger := m.escalationThreshold * float64(req.EscalationCount+1)
	return elapsed.Seconds()/ttl.Seconds() >= trigger
}

// Escalate increments the escalation counter and returns the updated row.
func (m *Manager) Escalate(ctx context.Context, id string) (model.Request, error) {
	if err := m.requests.IncrementEscalation(ctx, id); err != nil {
		return model.Request{}, err
	}
	req, err := m.requests.Get(ctx, id)
	if err != nil {
		return model.Request{}, err
	}
	if m.bus != nil {
		m.bus.Publish(events.EscalationEvent{RequestID: id, Count: req.EscalationCount})
	}
	return req, nil
}

// Sweep forces eventual transition of stale pending requests. It expires
// everything past its deadline and returns the expired ids together with the
// requests that should escalate. Driven by an external periodic tick.
func (m *Manager) Sweep(ctx context.Context) (expired []string, escalate []model.Request, err error) {
	now := m.now()

	stale, err := m.requests.FindStalePending(ctx, now)
	if err != nil {
		return nil, nil, err
	}
	for _, req := range stale {
		ok, err := m.requests.UpdateStatusIf(ctx, req.ID, model.StatusPending, model.StatusExpired)
		if err != nil {
			m.log.Errorf("sweep: expire %s: %v", req.ID, err)
			continue
		}
		if ok {
			expired = append(expired, req.ID)
			if m.bus != nil {
				m.bus.Publish(events.ExpirationEvent{RequestID: req.ID})
			}
		}
	}

	pending, err := m.requests.ListPending(ctx)
	if err != nil {
		return expired, nil, err
	}
	for _, req := range pending {
		if m.NeedsEscalation(req, now) {
			escalate = append(escalate, req)
		}
	}
	return expired, escalate, nil
}
