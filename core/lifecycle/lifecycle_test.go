package lifecycle

import (
	"context"
	"testing"
	"time"

	"github.com/hemolink/hemolink/core/errs"
	"github.com/hemolink/hemolink/core/model"
	"github.com/hemolink/hemolink/infra/logger"
	"github.com/hemolink/hemolink/infra/store/memory"
)

func newTestManager() (*Manager, *memory.Store, *time.Time) {
	st := memory.NewStore()
	m := NewManager(st.Requests(), nil, logger.NopLogger{})
	now := time.Date(2026, 8, 28, 10, 0, 0, 0, time.UTC)
	clock := &now
	m.SetNow(func() time.Time { return *clock })
	return m, st, clock
}

func TestExpiryForUrgencyTiers(t *testing.T) {
	cases := []struct {
		urgency model.Urgency
		want    time.Duration
	}{
		{model.UrgencyCritical, 2 * time.Hour},
		{model.UrgencyUrgent, 6 * time.Hour},
		{model.UrgencyNormal, 24 * time.Hour},
	}
	for _, tc := range cases {
		if got := ExpiryFor(tc.urgency); got != tc.want {
			t.Errorf("ExpiryFor(%s) = %v, want %v", tc.urgency, got, tc.want)
		}
	}
}

func TestCreateSetsDeadlineFromUrgency(t *testing.T) {
	m, _, clock := newTestManager()
	req, err := m.Create(context.Background(), CreateSpec{
		BloodType: model.ABPos, Units: 1, Urgency: model.UrgencyCritical,
	})
	if err != nil {
		t.Fatal(err)
	}
	if req.Status != model.StatusPending {
		t.Fatalf("new request must be pending, got %s", req.Status)
	}
	if want := clock.Add(2 * time.Hour); !req.ExpiresAt.Equal(want) {
		t.Fatalf("ExpiresAt = %v, want %v", req.ExpiresAt, want)
	}
	if req.ID == "" {
		t.Fatal("request must get an id")
	}
}

func TestCreateRejectsInvalidSpec(t *testing.T) {
	m, _, _ := newTestManager()
	_, err := m.Create(context.Background(), CreateSpec{
		BloodType: "X+", Units: 1, Urgency: model.UrgencyNormal,
	})
	if !errs.IsValidation(err) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
	_, err = m.Create(context.Background(), CreateSpec{
		BloodType: model.ONeg, Units: 0, Urgency: model.UrgencyNormal,
	})
	if !errs.IsValidation(err) {
		t.Fatalf("expected ValidationError for zero units, got %v", err)
	}
}

func TestObserveExpiresLazily(t *testing.T) {
	m, st, clock := newTestManager()
	req, err := m.Create(context.Background(), CreateSpec{
		BloodType: model.ONeg, Units: 1, Urgency: model.UrgencyUrgent,
	})
	if err != nil {
		t.Fatal(err)
	}

	got, err := m.Observe(context.Background(), req.ID)
	if err != nil || got.Status != model.StatusPending {
		t.Fatalf("fresh request must stay pending: %v %s", err, got.Status)
	}

	*clock = clock.Add(6*time.Hour + time.Second)
	got, err = m.Observe(context.Background(), req.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != model.StatusExpired {
		t.Fatalf("stale request must expire on observation, got %s", got.Status)
	}
	stored, _ := st.Get(context.Background(), req.ID)
	if stored.Status != model.StatusExpired {
		t.Fatalf("expiry must be written back, got %s", stored.Status)
	}
}

func TestTransitionTable(t *testing.T) {
	allowed := []struct{ from, to model.RequestStatus }{
		{model.StatusPending, model.StatusMatched},
		{model.StatusPending, model.StatusExpired},
		{model.StatusPending, model.StatusCancelled},
		{model.StatusMatched, model.StatusCompleted},
		{model.StatusMatched, model.StatusCancelled},
	}
	for _, tc := range allowed {
		if !CanTransition(tc.from, tc.to) {
			t.Errorf("%s -> %s should be allowed", tc.from, tc.to)
		}
	}
	denied := []struct{ from, to model.RequestStatus }{
		{model.StatusExpired, model.StatusMatched},
		{model.StatusCancelled, model.StatusPending},
		{model.StatusCompleted, model.StatusCancelled},
		{model.StatusPending, model.StatusCompleted},
		{model.StatusMatched, model.StatusPending},
	}
	for _, tc := range denied {
		if CanTransition(tc.from, tc.to) {
			t.Errorf("%s -> %s should be denied", tc.from, tc.to)
		}
	}
}

func TestCancelAndComplete(t *testing.T) {
	m, st, _ := newTestManager()
	ctx := context.Background()
	req, _ := m.Create(ctx, CreateSpec{BloodType: model.ONeg, Units: 1, Urgency: model.UrgencyNormal})

	if err := m.Complete(ctx, req.ID); !errs.IsConflict(err) {
		t.Fatalf("pending request cannot complete, got %v", err)
	}
	st.UpdateStatusIf(ctx, req.ID, model.StatusPending, model.StatusMatched)
	if err := m.Complete(ctx, req.ID); err != nil {
		t.Fatalf("matched request should complete: %v", err)
	}
	if err := m.Cancel(ctx, req.ID); !errs.IsConflict(err) {
		t.Fatalf("completed request cannot cancel, got %v", err)
	}
}

func TestCancelExpiredReturnsExpiredError(t *testing.T) {
	m, _, clock := newTestManager()
	ctx := context.Background()
	req, _ := m.Create(ctx, CreateSpec{BloodType: model.ONeg, Units: 1, Urgency: model.UrgencyCritical})

	*clock = clock.Add(3 * time.Hour)
	err := m.Complete(ctx, req.ID)
	if !errs.IsExpired(err) {
		t.Fatalf("expected ExpiredError, got %v", err)
	}
}

func TestNeedsEscalation(t *testing.T) {
	m, _, clock := newTestManager()
	ctx := context.Background()
	req, _ := m.Create(ctx, CreateSpec{BloodType: model.ONeg, Units: 1, Urgency: model.UrgencyNormal})

	if m.NeedsEscalation(req, *clock) {
		t.Fatal("fresh request must not escalate")
	}
	at := clock.Add(13 * time.Hour)
	if !m.NeedsEscalation(req, at) {
		t.Fatal("quiet request past half its ttl must escalate")
	}

	responded := req
	responded.ResponseCount = 1
	if m.NeedsEscalation(responded, at) {
		t.Fatal("request with responses must not escalate")
	}

	escalated := req
	escalated.EscalationCount = 1
	if m.NeedsEscalation(escalated, at) {
		t.Fatal("second escalation needs the full ttl elapsed")
	}

	capped := req
	capped.EscalationCount = 3
	if m.NeedsEscalation(capped, clock.Add(23*time.Hour)) {
		t.Fatal("escalation count is capped")
	}
}

func TestEscalateNeverExtendsDeadline(t *testing.T) {
	m, _, clock := newTestManager()
	ctx := context.Background()
	req, _ := m.Create(ctx, CreateSpec{BloodType: model.ONeg, Units: 1, Urgency: model.UrgencyUrgent})

	*clock = clock.Add(4 * time.Hour)
	got, err := m.Escalate(ctx, req.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.EscalationCount != 1 {
		t.Fatalf("escalation count = %d, want 1", got.EscalationCount)
	}
	if !got.ExpiresAt.Equal(req.ExpiresAt) {
		t.Fatalf("escalation must not move the deadline: %v != %v", got.ExpiresAt, req.ExpiresAt)
	}
}

func TestSweepExpiresAndFindsEscalations(t *testing.T) {
	m, _, clock := newTestManager()
	ctx := context.Background()

	critical, _ := m.Create(ctx, CreateSpec{BloodType: model.ONeg, Units: 1, Urgency: model.UrgencyCritical})
	urgent, _ := m.Create(ctx, CreateSpec{BloodType: model.APos, Units: 1, Urgency: model.UrgencyUrgent})
	normal, _ := m.Create(ctx, CreateSpec{BloodType: model.BNeg, Units: 1, Urgency: model.UrgencyNormal})

	*clock = clock.Add(4 * time.Hour)
	expired, escalate, err := m.Sweep(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(expired) != 1 || expired[0] != critical.ID {
		t.Fatalf("expected only the critical request to expire, got %v", expired)
	}
	ids := make(map[string]bool)
	for _, r := range escalate {
		ids[r.ID] = true
	}
	// 4h is past half of the urgent 6h ttl but not of the normal 24h one.
	if !ids[urgent.ID] || ids[normal.ID] {
		t.Fatalf("unexpected escalation set: %v", ids)
	}

	// A second sweep is idempotent for the already expired request.
	expired, _, err = m.Sweep(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(expired) != 0 {
		t.Fatalf("second sweep must not re-expire, got %v", expired)
	}
}
