// Package match arbitrates which responder binds to a request. Any number of
// responders may accept concurrently; exactly one wins, and every loser gets
// a ConflictError rather than a silent failure.
package match

import (
	"context"
	"time"

	"github.com/hemolink/hemolink/core/errs"
	"github.com/hemolink/hemolink/core/events"
	"github.com/hemolink/hemolink/core/logger"
	"github.com/hemolink/hemolink/core/metrics"
	"github.com/hemolink/hemolink/core/model"
	"github.com/hemolink/hemolink/core/store"
	"github.com/hemolink/hemolink/internal/eventbus"
)

// Arbiter resolves match attempts through a compare-and-set on the request
// row. The store's conditional update is the single source of truth; the
// arbiter never decides a winner in memory.
type Arbiter struct {
	requests  store.RequestStore
	responses store.ResponseStore
	log       logger.Logger
	bus       eventbus.EventBus
	rec       metrics.MatchRecorder
	now       func() time.Time
}

// NewArbiter creates an Arbiter. bus and rec may be nil.
func NewArbiter(requests store.RequestStore, responses store.ResponseStore, log logger.Logger, bus eventbus.EventBus, rec metrics.MatchRecorder) *Arbiter {
	return &Arbiter{
		requests:  requests,
		responses: responses,
		log:       log,
		bus:       bus,
		rec:       rec,
		now:       time.Now,
	}
}

// SetNow overrides the clock. Intended for tests.
func (a *Arbiter) SetNow(now func() time.Time) { a.now = now }

// TryMatch attempts to bind responderID to the request. On success the
// returned request is in the matched state with MatchedResponderID set. A
// lost race, a cancelled request or an expired one each map to a distinct
// error so callers can tell the responder what actually happened.
func (a *Arbiter) TryMatch(ctx context.Context, requestID, responderID string) (model.Request, error) {
	req, err := a.requests.Get(ctx, requestID)
	if err != nil {
		return model.Request{}, err
	}

	if req.Status == model.StatusPending && req.ExpiredAt(a.now()) {
		// Lazy expiry: write the transition back before refusing.
		if _, uerr := a.requests.UpdateStatusIf(ctx, requestID, model.StatusPending, model.StatusExpired); uerr != nil {
			return model.Request{}, uerr
		}
		a.observe(requestID, responderID, false)
		return model.Request{}, &errs.ExpiredError{RequestID: requestID}
	}
	if req.Status != model.StatusPending {
		a.observe(requestID, responderID, false)
		return model.Request{}, a.refusal(req)
	}

	bound, err := a.requests.BindMatch(ctx, requestID, responderID)
	if err != nil {
		return model.Request{}, err
	}
	if !bound {
		// Lost the race; reload to report what won.
		req, err = a.requests.Get(ctx, requestID)
		if err != nil {
			return model.Request{}, err
		}
		a.observe(requestID, responderID, false)
		return model.Request{}, a.refusal(req)
	}

	// Confirmation of the winning response is best effort; the binding
	// itself is already durable.
	if a.responses != nil {
		if cerr := a.responses.Confirm(ctx, requestID, responderID); cerr != nil && !errs.IsNotFound(cerr) {
			a.log.Warnf("confirm response %s/%s: %v", requestID, responderID, cerr)
		}
	}

	req, err = a.requests.Get(ctx, requestID)
	if err != nil {
		return model.Request{}, err
	}
	a.observe(requestID, responderID, true)
	return req, nil
}

// refusal maps a non-pending request to the error a losing caller receives.
func (a *Arbiter) refusal(req model.Request) error {
	switch req.Status {
	case model.StatusExpired:
		return &errs.ExpiredError{RequestID: req.ID}
	case model.StatusCancelled:
		return &errs.ConflictError{Reason: errs.ReasonRequestCancelled}
	default:
		return &errs.ConflictError{Reason: errs.ReasonAlreadyMatched}
	}
}

func (a *Arbiter) observe(requestID, responderID string, bound bool) {
	if a.bus != nil {
		a.bus.Publish(events.MatchEvent{RequestID: requestID, ResponderID: responderID, Bound: bound})
	}
	if a.rec != nil {
		ev := metrics.MatchEvent{RequestID: requestID, ResponderID: responderID, Bound: bound, Time: a.now()}
		if err := a.rec.RecordMatch(ev); err != nil {
			a.log.Errorf("metrics error: %v", err)
		}
	}
}
