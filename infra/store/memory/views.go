package memory

import (
	"context"

	"github.com/hemolink/hemolink/core/model"
	"github.com/hemolink/hemolink/core/store"
)

// Store implements store.RequestStore directly; the responder and response
// contracts use the same method names, so they are exposed as views over the
// shared data.

type responderView struct{ s *Store }

func (v responderView) Insert(ctx context.Context, r model.Responder) error {
	return v.s.InsertResponder(ctx, r)
}

func (v responderView) Get(ctx context.Context, id string) (model.Responder, error) {
	return v.s.GetResponder(ctx, id)
}

func (v responderView) ListEligible(ctx context.Context, types []model.BloodType) ([]model.Responder, error) {
	return v.s.ListEligible(ctx, types)
}

type responseView struct{ s *Store }

func (v responseView) Upsert(ctx context.Context, resp model.Response) (model.Response, bool, error) {
	return v.s.Upsert(ctx, resp)
}

func (v responseView) Get(ctx context.Context, requestID, responderID string) (model.Response, error) {
	return v.s.GetResponse(ctx, requestID, responderID)
}

func (v responseView) Confirm(ctx context.Context, requestID, responderID string) error {
	return v.s.Confirm(ctx, requestID, responderID)
}

func (v responseView) ListByRequest(ctx context.Context, requestID string) ([]model.Response, error) {
	return v.s.ListByRequest(ctx, requestID)
}

// Requests returns the store.RequestStore view.
func (s *Store) Requests() store.RequestStore { return s }

// Responders returns the store.ResponderStore view.
func (s *Store) Responders() store.ResponderStore { return responderView{s} }

// Responses returns the store.ResponseStore view.
func (s *Store) Responses() store.ResponseStore { return responseView{s} }
