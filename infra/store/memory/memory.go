// Package memory provides mutex-guarded in-memory implementations of the
// persistence contracts. Used by tests and single-process development runs;
// production deployments use the postgres package.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/hemolink/hemolink/core/errs"
	"github.com/hemolink/hemolink/core/model"
)

// Store implements store.RequestStore, store.ResponderStore and
// store.ResponseStore. Conditional updates run under the store lock, giving
// the same exactly-once guarantee the SQL implementation gets from a
// conditional UPDATE.
type Store struct {
	mu         sync.RWMutex
	requests   map[string]model.Request
	responders map[string]model.Responder
	responses  map[string]model.Response
}

// NewStore creates an empty Store.
func NewStore() *Store {
	return &Store{
		requests:   make(map[string]model.Request),
		responders: make(map[string]model.Responder),
		responses:  make(map[string]model.Response),
	}
}

func responseKey(requestID, responderID string) string {
	return requestID + "|" + responderID
}

// --- RequestStore ---

func (s *Store) Insert(_ context.Context, req model.Request) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.requests[req.ID] = req
	return nil
}

func (s *Store) Get(_ context.Context, id string) (model.Request, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	req, ok := s.requests[id]
	if !ok {
		return model.Request{}, &errs.NotFoundError{Kind: "request", ID: id}
	}
	return req, nil
}

func (s *Store) BindMatch(_ context.Context, id, responderID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	req, ok := s.requests[id]
	if !ok {
		return false, &errs.NotFoundError{Kind: "request", ID: id}
	}
	if req.Status != model.StatusPending {
		return false, nil
	}
	req.Status = model.StatusMatched
	req.MatchedResponderID = responderID
	s.requests[id] = req
	return true, nil
}

func (s *Store) UpdateStatusIf(_ context.Context, id string, from, to model.RequestStatus) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	req, ok := s.requests[id]
	if !ok {
		return false, &errs.NotFoundError{Kind: "request", ID: id}
	}
	if req.Status != from {
		return false, nil
	}
	req.Status = to
	s.requests[id] = req
	return true, nil
}

func (s *Store) IncrementResponseCount(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	req, ok := s.requests[id]
	if !ok {
		return &errs.NotFoundError{Kind: "request", ID: id}
	}
	req.ResponseCount++
	s.requests[id] = req
	return nil
}

func (s *Store) IncrementEscalation(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	req, ok := s.requests[id]
	if !ok {
		return &errs.NotFoundError{Kind: "request", ID: id}
	}
	req.EscalationCount++
	s.requests[id] = req
	return nil
}

func (s *Store) ListPending(_ context.Context) ([]model.Request, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []model.Request
	for _, req := range s.requests {
		if req.Status == model.StatusPending {
			out = append(out, req)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *Store) FindStalePending(_ context.Context, now time.Time) ([]model.Request, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []model.Request
	for _, req := range s.requests {
		if req.Status == model.StatusPending && req.ExpiredAt(now) {
			out = append(out, req)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// --- ResponderStore ---

func (s *Store) InsertResponder(_ context.Context, r model.Responder) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.responders[r.ID] = r
	return nil
}

func (s *Store) GetResponder(_ context.Context, id string) (model.Responder, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.responders[id]
	if !ok {
		return model.Responder{}, &errs.NotFoundError{Kind: "responder", ID: id}
	}
	return r, nil
}

func (s *Store) ListEligible(_ context.Context, types []model.BloodType) ([]model.Responder, error) {
	wanted := make(map[model.BloodType]bool, len(types))
	for _, t := range types {
		wanted[t] = true
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []model.Responder
	for _, r := range s.responders {
		if r.Eligible() && wanted[r.BloodType] {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// --- ResponseStore ---

func (s *Store) Upsert(_ context.Context, resp model.Response) (model.Response, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := responseKey(resp.RequestID, resp.ResponderID)
	if existing, ok := s.responses[key]; ok {
		existing.Kind = resp.Kind
		existing.ETAMinutes = resp.ETAMinutes
		existing.UpdatedAt = resp.UpdatedAt
		s.responses[key] = existing
		return existing, false, nil
	}
	s.responses[key] = resp
	return resp, true, nil
}

func (s *Store) GetResponse(_ context.Context, requestID, responderID string) (model.Response, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	resp, ok := s.responses[responseKey(requestID, responderID)]
	if !ok {
		return model.Response{}, &errs.NotFoundError{Kind: "response", ID: responseKey(requestID, responderID)}
	}
	return resp, nil
}

func (s *Store) Confirm(_ context.Context, requestID, responderID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := responseKey(requestID, responderID)
	resp, ok := s.responses[key]
	if !ok {
		return &errs.NotFoundError{Kind: "response", ID: key}
	}
	resp.Status = model.ResponseConfirmed
	s.responses[key] = resp
	return nil
}

func (s *Store) ListByRequest(_ context.Context, requestID string) ([]model.Response, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []model.Response
	for _, resp := range s.responses {
		if resp.RequestID == requestID {
			out = append(out, resp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ResponderID < out[j].ResponderID })
	return out, nil
}
