// Package app wires the matching core together behind one service facade.
// The HTTP layer and the CLI both talk to this package only.
package app

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/hemolink/hemolink/config"
	"github.com/hemolink/hemolink/core/compat"
	"github.com/hemolink/hemolink/core/dispatch"
	"github.com/hemolink/hemolink/core/errs"
	"github.com/hemolink/hemolink/core/lifecycle"
	"github.com/hemolink/hemolink/core/logger"
	"github.com/hemolink/hemolink/core/match"
	"github.com/hemolink/hemolink/core/metrics"
	"github.com/hemolink/hemolink/core/model"
	"github.com/hemolink/hemolink/core/rank"
	"github.com/hemolink/hemolink/core/ratelimit"
	"github.com/hemolink/hemolink/core/store"
	"github.com/hemolink/hemolink/core/transport"
	inframetrics "github.com/hemolink/hemolink/infra/metrics"
	"github.com/hemolink/hemolink/internal/eventbus"
)

// Deps are the infrastructure pieces the service runs on.
type Deps struct {
	Requests   store.RequestStore
	Responders store.ResponderStore
	Responses  store.ResponseStore
	Transport  transport.Transport
	Limiter    *ratelimit.Limiter
	Sink       metrics.MetricsSink
	Bus        eventbus.EventBus
	Log        logger.Logger
}

// Service exposes the matching operations.
type Service struct {
	deps       Deps
	cfg        *config.Config
	ranker     rank.Ranker
	dispatcher *dispatch.Dispatcher
	lifecycle  *lifecycle.Manager
	arbiter    *match.Arbiter
	now        func() time.Time
}

// New assembles a Service from configuration and dependencies.
func New(cfg *config.Config, deps Deps) *Service {
	cfg.SetDefaults()
	ranker := rank.NewRanker()
	ranker.DefaultDistanceKm = cfg.Ranking.DefaultDistanceKm

	lm := lifecycle.NewManager(deps.Requests, deps.Bus, deps.Log)
	lm.SetEscalationPolicy(cfg.Lifecycle.EscalationThreshold, cfg.Lifecycle.MaxEscalations)

	var matchRec metrics.MatchRecorder
	if rec, ok := deps.Sink.(metrics.MatchRecorder); ok {
		matchRec = rec
	}

	return &Service{
		deps:       deps,
		cfg:        cfg,
		ranker:     ranker,
		dispatcher: dispatch.NewDispatcher(deps.Transport, deps.Limiter, cfg.Dispatch, deps.Log, deps.Sink, deps.Bus),
		lifecycle:  lm,
		arbiter:    match.NewArbiter(deps.Requests, deps.Responses, deps.Log, deps.Bus, matchRec),
		now:        time.Now,
	}
}

// SetNow overrides the clock on the service and its components. Intended for
// tests.
func (s *Service) SetNow(now func() time.Time) {
	s.now = now
	s.lifecycle.SetNow(now)
	s.arbiter.SetNow(now)
	s.dispatcher.SetNow(now)
	if s.deps.Limiter != nil {
		s.deps.Limiter.SetNow(now)
	}
}

// CreateRequest validates and persists a new pending request.
func (s *Service) CreateRequest(ctx context.Context, spec lifecycle.CreateSpec) (model.Request, error) {
	return s.lifecycle.Create(ctx, spec)
}

// GetRequest returns the request, applying lazy expiration first.
func (s *Service) GetRequest(ctx context.Context, id string) (model.Request, error) {
	return s.lifecycle.Observe(ctx, id)
}

// CancelRequest cancels a pending or matched request.
func (s *Service) CancelRequest(ctx context.Context, id string) error {
	return s.lifecycle.Cancel(ctx, id)
}

// CompleteRequest completes a matched request.
func (s *Service) CompleteRequest(ctx context.Context, id string) error {
	return s.lifecycle.Complete(ctx, id)
}

// RegisterResponder validates and stores a responder profile.
func (s *Service) RegisterResponder(ctx context.Context, r model.Responder) error {
	if r.ID == "" {
		return &errs.ValidationError{Field: "id", Reason: "required"}
	}
	if !r.BloodType.Valid() {
		return &errs.ValidationError{Field: "blood_type", Reason: "unknown blood type"}
	}
	return s.deps.Responders.Insert(ctx, r)
}

// RankCandidates returns eligible compatible responders ordered by score.
// Escalated requests search a widened radius.
func (s *Service) RankCandidates(ctx context.Context, requestID string) ([]rank.Candidate, error) {
	req, err := s.pendingRequest(ctx, requestID)
	if err != nil {
		return nil, err
	}
	return s.candidatesFor(ctx, req)
}

func (s *Service) candidatesFor(ctx context.Context, req model.Request) ([]rank.Candidate, error) {
	donors := compat.DonorsFor(req.BloodType)
	responders, err := s.deps.Responders.ListEligible(ctx, donors)
	if err != nil {
		return nil, err
	}
	return s.rankerFor(req).Rank(req, responders, s.now()), nil
}

func (s *Service) rankerFor(req model.Request) rank.Ranker {
	r := s.ranker
	if s.cfg.Ranking.RadiusKm > 0 {
		r = r.WithRadius(s.cfg.Ranking.RadiusKm + float64(req.EscalationCount)*s.cfg.Ranking.EscalationRadiusKm)
	}
	return r
}

// Dispatch ranks the candidates and fans notifications out to the top of the
// list.
func (s *Service) Dispatch(ctx context.Context, requestID string) (dispatch.Report, error) {
	req, err := s.pendingRequest(ctx, requestID)
	if err != nil {
		return dispatch.Report{}, err
	}
	candidates, err := s.candidatesFor(ctx, req)
	if err != nil {
		return dispatch.Report{}, err
	}
	return s.dispatcher.Dispatch(ctx, req, candidates), nil
}

// SubmitResponse records a responder's answer to a request. One row is kept
// per (request, responder) pair; resubmitting replaces the previous answer
// without inflating the response count.
func (s *Service) SubmitResponse(ctx context.Context, requestID, responderID string, kind model.ResponseKind, etaMinutes int) (model.Response, error) {
	if _, err := s.deps.Responders.Get(ctx, responderID); err != nil {
		return model.Response{}, err
	}
	req, err := s.pendingRequest(ctx, requestID)
	if err != nil {
		return model.Response{}, err
	}

	now := s.now()
	resp := model.Response{
		ID:          uuid.NewString(),
		RequestID:   req.ID,
		ResponderID: responderID,
		Kind:        kind,
		Status:      model.ResponsePending,
		ETAMinutes:  etaMinutes,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := resp.Validate(); err != nil {
		return model.Response{}, &errs.ValidationError{Reason: err.Error()}
	}
	stored, created, err := s.deps.Responses.Upsert(ctx, resp)
	if err != nil {
		return model.Response{}, err
	}
	if created {
		if err := s.deps.Requests.IncrementResponseCount(ctx, req.ID); err != nil {
			s.deps.Log.Errorf("increment response count for %s: %v", req.ID, err)
		}
	}
	return stored, nil
}

// TryMatch binds the responder to the request if it is still pending.
func (s *Service) TryMatch(ctx context.Context, requestID, responderID string) (model.Request, error) {
	if _, err := s.deps.Responders.Get(ctx, responderID); err != nil {
		return model.Request{}, err
	}
	return s.arbiter.TryMatch(ctx, requestID, responderID)
}

// CheckRateLimit consumes one unit of the named quota. A denial surfaces as
// a RateLimitError carrying the retry-after hint.
func (s *Service) CheckRateLimit(ctx context.Context, key ratelimit.Key, cfg ratelimit.Config) (ratelimit.Result, error) {
	res := s.deps.Limiter.Check(ctx, key, cfg)
	if rec, ok := s.deps.Sink.(metrics.RateLimitRecorder); ok {
		ev := metrics.RateLimitEvent{Key: key.String(), Allowed: res.Allowed, Degraded: res.Degraded, Time: s.now()}
		if err := rec.RecordRateLimit(ev); err != nil {
			s.deps.Log.Errorf("metrics error: %v", err)
		}
	}
	if !res.Allowed {
		return res, &errs.RateLimitError{RetryAfter: res.RetryAfter}
	}
	return res, nil
}

// SweepExpirations expires stale pending requests and re-dispatches the ones
// due for escalation.
func (s *Service) SweepExpirations(ctx context.Context) (expired []string, escalated []string, err error) {
	started := s.now()
	expired, candidates, err := s.lifecycle.Sweep(ctx)
	if err != nil {
		return nil, nil, err
	}
	for _, req := range candidates {
		if _, err := s.lifecycle.Escalate(ctx, req.ID); err != nil {
			s.deps.Log.Errorf("escalate %s: %v", req.ID, err)
			continue
		}
		escalated = append(escalated, req.ID)
		if _, err := s.Dispatch(ctx, req.ID); err != nil {
			s.deps.Log.Errorf("escalation dispatch %s: %v", req.ID, err)
		}
	}
	if rec, ok := s.deps.Sink.(metrics.SweepRecorder); ok {
		ev := metrics.SweepEvent{
			Expired:   len(expired),
			Escalated: len(escalated),
			Duration:  s.now().Sub(started),
			Time:      started,
		}
		if err := rec.RecordSweep(ev); err != nil {
			s.deps.Log.Errorf("metrics error: %v", err)
		}
	}
	return expired, escalated, nil
}

// pendingRequest observes the request and refuses anything not pending.
func (s *Service) pendingRequest(ctx context.Context, id string) (model.Request, error) {
	req, err := s.lifecycle.Observe(ctx, id)
	if err != nil {
		return model.Request{}, err
	}
	switch req.Status {
	case model.StatusPending:
		return req, nil
	case model.StatusExpired:
		return model.Request{}, &errs.ExpiredError{RequestID: id}
	case model.StatusCancelled:
		return model.Request{}, &errs.ConflictError{Reason: errs.ReasonRequestCancelled}
	default:
		return model.Request{}, &errs.ConflictError{Reason: errs.ReasonAlreadyMatched}
	}
}

// Run drives the periodic sweep and, when enabled, the Prometheus endpoint.
// It blocks until the context is canceled.
func (s *Service) Run(ctx context.Context) error {
	if s.cfg.Metrics.PrometheusEnabled {
		go func() {
			if err := inframetrics.StartPromServer(ctx, ":"+s.cfg.Metrics.PrometheusPort); err != nil {
				s.deps.Log.Errorf("prom server: %v", err)
			}
		}()
	}

	ticker := time.NewTicker(s.cfg.Lifecycle.SweepInterval())
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			expired, escalated, err := s.SweepExpirations(ctx)
			if err != nil {
				s.deps.Log.Errorf("sweep: %v", err)
				continue
			}
			if len(expired) > 0 || len(escalated) > 0 {
				s.deps.Log.Infof("sweep expired=%d escalated=%d", len(expired), len(escalated))
			}
		}
	}
}
