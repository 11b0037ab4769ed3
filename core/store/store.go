// Package store defines the persistence contracts for the matching core.
// The persisted rows are the only source of truth for match state: the core
// may run as several independent processes, so every state transition that
// must happen at most once is expressed as a conditional update here, never
// as a read-then-write pair in the callers.
package store

import (
	"context"
	"time"

	"github.com/hemolink/hemolink/core/model"
)

// RequestStore persists requests. Implementations return
// *errs.NotFoundError for unknown ids.
type RequestStore interface {
	Insert(ctx context.Context, req model.Request) error
	Get(ctx context.Context, id string) (model.Request, error)

	// BindMatch atomically transitions the request from pending to matched
	// and sets the matched responder id, only if the persisted status is
	// still pending. Returns false when another caller won the race or the
	// request left the pending state. This is the compare-and-swap the
	// match arbiter relies on.
	BindMatch(ctx context.Context, id, responderID string) (bool, error)

	// UpdateStatusIf transitions the status only if the current persisted
	// value equals from. Returns false without error when it does not.
	UpdateStatusIf(ctx context.Context, id string, from, to model.RequestStatus) (bool, error)

	IncrementResponseCount(ctx context.Context, id string) error
	IncrementEscalation(ctx context.Context, id string) error

	ListPending(ctx context.Context) ([]model.Request, error)
	// FindStalePending returns pending requests whose expires_at lies
	// before now. Used by the lifecycle sweep.
	FindStalePending(ctx context.Context, now time.Time) ([]model.Request, error)
}

// ResponderStore persists responders.
type ResponderStore interface {
	Insert(ctx context.Context, r model.Responder) error
	Get(ctx context.Context, id string) (model.Responder, error)
	// ListEligible returns available, opt-in responders whose blood type is
	// in the given set.
	ListEligible(ctx context.Context, types []model.BloodType) ([]model.Responder, error)
}

// ResponseStore persists responses with at most one row per
// (request, responder) pair.
type ResponseStore interface {
	// Upsert inserts the response or, when a row for the pair already
	// exists, updates its kind, eta and timestamps in place. The second
	// return value is true when a new row was created.
	Upsert(ctx context.Context, resp model.Response) (model.Response, bool, error)
	Get(ctx context.Context, requestID, responderID string) (model.Response, error)
	// Confirm marks the winning responder's row confirmed. Other pending
	// rows are left untouched for manual reconciliation.
	Confirm(ctx context.Context, requestID, responderID string) error
	ListByRequest(ctx context.Context, requestID string) ([]model.Response, error)
}
