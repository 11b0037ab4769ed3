package match

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/hemolink/hemolink/core/errs"
	"github.com/hemolink/hemolink/core/model"
	"github.com/hemolink/hemolink/infra/logger"
	"github.com/hemolink/hemolink/infra/store/memory"
)

func seedRequest(t *testing.T, st *memory.Store, status model.RequestStatus, expiresAt time.Time) model.Request {
	t.Helper()
	req := model.Request{
		ID:        "req1",
		BloodType: model.ONeg,
		Units:     1,
		Urgency:   model.UrgencyUrgent,
		Status:    status,
		CreatedAt: expiresAt.Add(-6 * time.Hour),
		ExpiresAt: expiresAt,
	}
	if err := st.Insert(context.Background(), req); err != nil {
		t.Fatal(err)
	}
	return req
}

func newTestArbiter(st *memory.Store) *Arbiter {
	return NewArbiter(st.Requests(), st.Responses(), logger.NopLogger{}, nil, nil)
}

func TestTryMatchBindsWinner(t *testing.T) {
	st := memory.NewStore()
	seedRequest(t, st, model.StatusPending, time.Now().Add(time.Hour))
	a := newTestArbiter(st)

	got, err := a.TryMatch(context.Background(), "req1", "donor1")
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != model.StatusMatched || got.MatchedResponderID != "donor1" {
		t.Fatalf("unexpected binding: %+v", got)
	}
}

func TestTryMatchConfirmsWinningResponse(t *testing.T) {
	st := memory.NewStore()
	seedRequest(t, st, model.StatusPending, time.Now().Add(time.Hour))
	now := time.Now()
	st.Upsert(context.Background(), model.Response{
		ID: "resp1", RequestID: "req1", ResponderID: "donor1",
		Kind: model.KindAccept, Status: model.ResponsePending,
		CreatedAt: now, UpdatedAt: now,
	})
	a := newTestArbiter(st)

	if _, err := a.TryMatch(context.Background(), "req1", "donor1"); err != nil {
		t.Fatal(err)
	}
	resp, err := st.GetResponse(context.Background(), "req1", "donor1")
	if err != nil {
		t.Fatal(err)
	}
	if resp.Status != model.ResponseConfirmed {
		t.Fatalf("winning response should be confirmed, got %s", resp.Status)
	}
}

func TestTryMatchExactlyOneWinner(t *testing.T) {
	st := memory.NewStore()
	seedRequest(t, st, model.StatusPending, time.Now().Add(time.Hour))
	a := newTestArbiter(st)

	const callers = 16
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		winners   []string
		conflicts int
	)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			id := fmt.Sprintf("donor%d", n)
			req, err := a.TryMatch(context.Background(), "req1", id)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				if req.MatchedResponderID != id {
					t.Errorf("winner %s saw binding to %s", id, req.MatchedResponderID)
				}
				winners = append(winners, id)
			case errs.IsConflict(err):
				conflicts++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}(i)
	}
	wg.Wait()

	if len(winners) != 1 {
		t.Fatalf("expected exactly one winner, got %d", len(winners))
	}
	if conflicts != callers-1 {
		t.Fatalf("expected %d conflicts, got %d", callers-1, conflicts)
	}
	req, _ := st.Get(context.Background(), "req1")
	if req.MatchedResponderID != winners[0] {
		t.Fatalf("stored binding %s does not match winner %s", req.MatchedResponderID, winners[0])
	}
}

func TestTryMatchAfterMatchConflicts(t *testing.T) {
	st := memory.NewStore()
	seedRequest(t, st, model.StatusPending, time.Now().Add(time.Hour))
	a := newTestArbiter(st)

	if _, err := a.TryMatch(context.Background(), "req1", "donor1"); err != nil {
		t.Fatal(err)
	}
	_, err := a.TryMatch(context.Background(), "req1", "donor2")
	var conflict *errs.ConflictError
	if !errors.As(err, &conflict) {
		t.Fatalf("expected ConflictError, got %v", err)
	}
	if conflict.Reason != errs.ReasonAlreadyMatched {
		t.Fatalf("expected already_matched, got %s", conflict.Reason)
	}
}

func TestTryMatchExpiredRequest(t *testing.T) {
	st := memory.NewStore()
	seedRequest(t, st, model.StatusPending, time.Now().Add(-time.Minute))
	a := newTestArbiter(st)

	_, err := a.TryMatch(context.Background(), "req1", "donor1")
	if !errs.IsExpired(err) {
		t.Fatalf("expected ExpiredError, got %v", err)
	}
	req, _ := st.Get(context.Background(), "req1")
	if req.Status != model.StatusExpired {
		t.Fatalf("expiry must be written back, got %s", req.Status)
	}
}

func TestTryMatchCancelledRequest(t *testing.T) {
	st := memory.NewStore()
	seedRequest(t, st, model.StatusCancelled, time.Now().Add(time.Hour))
	a := newTestArbiter(st)

	_, err := a.TryMatch(context.Background(), "req1", "donor1")
	var conflict *errs.ConflictError
	if !errors.As(err, &conflict) {
		t.Fatalf("expected ConflictError, got %v", err)
	}
	if conflict.Reason != errs.ReasonRequestCancelled {
		t.Fatalf("expected request_cancelled, got %s", conflict.Reason)
	}
}

func TestTryMatchUnknownRequest(t *testing.T) {
	st := memory.NewStore()
	a := newTestArbiter(st)

	_, err := a.TryMatch(context.Background(), "nope", "donor1")
	if !errs.IsNotFound(err) {
		t.Fatalf("expected NotFoundError, got %v", err)
	}
}
