// Package dispatch fans a ranked candidate list out over the notification
// transport with bounded concurrency, per-responder and global quotas, and
// bounded retry on transient delivery failures.
package dispatch

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/hemolink/hemolink/core/errs"
	"github.com/hemolink/hemolink/core/events"
	"github.com/hemolink/hemolink/core/logger"
	"github.com/hemolink/hemolink/core/metrics"
	"github.com/hemolink/hemolink/core/model"
	"github.com/hemolink/hemolink/core/rank"
	"github.com/hemolink/hemolink/core/ratelimit"
	"github.com/hemolink/hemolink/core/transport"
	"github.com/hemolink/hemolink/internal/eventbus"
)

// ActionNotify is the rate limit action consumed by the fan-out.
const ActionNotify = "notify"

// GlobalScope is the rate limit scope shared by all outbound notifications.
const GlobalScope = "global"

// Dispatcher notifies the top ranked candidates about a request.
type Dispatcher struct {
	transport transport.Transport
	limiter   *ratelimit.Limiter
	cfg       Config
	log       logger.Logger
	sink      metrics.MetricsSink
	bus       eventbus.EventBus
	now       func() time.Time
}

// NewDispatcher creates a Dispatcher. sink and bus may be nil.
func NewDispatcher(t transport.Transport, l *ratelimit.Limiter, cfg Config, log logger.Logger, sink metrics.MetricsSink, bus eventbus.EventBus) *Dispatcher {
	cfg.SetDefaults()
	return &Dispatcher{
		transport: t,
		limiter:   l,
		cfg:       cfg,
		log:       log,
		sink:      sink,
		bus:       bus,
		now:       time.Now,
	}
}

// SetNow overrides the clock. Intended for tests.
func (d *Dispatcher) SetNow(now func() time.Time) { d.now = now }

// Dispatch notifies up to TopN candidates in rank order. Quotas are consumed
// sequentially by rank so a lower-ranked candidate never takes quota a
// higher-ranked one needed. Delivery itself runs on a bounded worker pool.
// The returned report always covers every considered candidate.
func (d *Dispatcher) Dispatch(ctx context.Context, req model.Request, candidates []rank.Candidate) Report {
	started := d.now()
	if len(candidates) > d.cfg.TopN {
		candidates = candidates[:d.cfg.TopN]
	}
	rep := Report{RequestID: req.ID, Started: started}

	admitted, skipped, degraded := d.applyQuotas(ctx, candidates)
	rep.Degraded = degraded
	rep.Results = append(rep.Results, skipped...)
	for _, res := range skipped {
		rateLimitedTotal.Inc()
		d.publish(req, res)
	}

	rep.Results = append(rep.Results, d.send(ctx, req, admitted)...)
	rep.Duration = d.now().Sub(started)

	urgency := string(req.Urgency)
	for _, res := range rep.Results {
		notificationsTotal.WithLabelValues(urgency, string(res.Outcome)).Inc()
	}
	if total := len(rep.Results); total > 0 {
		deliveryRate.WithLabelValues(urgency).Set(float64(rep.Notified()) / float64(total))
	}
	d.record(rep)
	return rep
}

// applyQuotas consumes the global and per-responder quotas in rank order and
// splits the candidates into admitted and skipped.
func (d *Dispatcher) applyQuotas(ctx context.Context, candidates []rank.Candidate) (admitted []rank.Candidate, skipped []CandidateResult, degraded bool) {
	globalKey := ratelimit.Key{Scope: GlobalScope, Action: ActionNotify}
	globalExhausted := false
	var globalRetryAfter time.Duration

	for _, c := range candidates {
		if globalExhausted {
			skipped = append(skipped, CandidateResult{
				ResponderID: c.Responder.ID,
				Score:       c.Score,
				Outcome:     OutcomeRateLimited,
				RetryAfter:  globalRetryAfter,
			})
			continue
		}
		res := d.limiter.Check(ctx, ratelimit.Key{Scope: "responder:" + c.Responder.ID, Action: ActionNotify}, d.cfg.ResponderLimit)
		degraded = degraded || res.Degraded
		if !res.Allowed {
			skipped = append(skipped, CandidateResult{
				ResponderID: c.Responder.ID,
				Score:       c.Score,
				Outcome:     OutcomeRateLimited,
				RetryAfter:  res.RetryAfter,
			})
			continue
		}
		gres := d.limiter.Check(ctx, globalKey, d.cfg.GlobalLimit)
		degraded = degraded || gres.Degraded
		if !gres.Allowed {
			// Global quota gone: everything from here down is skipped
			// without consuming per-responder quota.
			globalExhausted = true
			globalRetryAfter = gres.RetryAfter
			skipped = append(skipped, CandidateResult{
				ResponderID: c.Responder.ID,
				Score:       c.Score,
				Outcome:     OutcomeRateLimited,
				RetryAfter:  gres.RetryAfter,
			})
			continue
		}
		admitted = append(admitted, c)
	}
	return admitted, skipped, degraded
}

// send delivers the payloads concurrently on a pool of cfg.Workers goroutines
// and collects per-candidate results.
func (d *Dispatcher) send(ctx context.Context, req model.Request, candidates []rank.Candidate) []CandidateResult {
	if len(candidates) == 0 {
		return nil
	}
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		results []CandidateResult
	)
	update := func(res CandidateResult) {
		mu.Lock()
		results = append(results, res)
		mu.Unlock()
		sendLatency.WithLabelValues(string(req.Urgency)).Observe(res.Latency.Seconds())
		d.publish(req, res)
	}

	jobs := make(chan rank.Candidate)
	workers := d.cfg.Workers
	if workers > len(candidates) {
		workers = len(candidates)
	}
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for c := range jobs {
				update(d.sendOne(ctx, req, c))
			}
		}()
	}
	for _, c := range candidates {
		jobs <- c
	}
	close(jobs)
	wg.Wait()
	return results
}

// sendOne attempts delivery to a single candidate, retrying transient
// failures up to MaxRetries times with linear backoff.
func (d *Dispatcher) sendOne(ctx context.Context, req model.Request, c rank.Candidate) CandidateResult {
	p := transport.Payload{
		RequestID:  req.ID,
		BloodType:  string(req.BloodType),
		Units:      req.Units,
		Urgency:    string(req.Urgency),
		Message:    fmt.Sprintf("%s blood needed, %d unit(s), urgency %s", req.BloodType, req.Units, req.Urgency),
		ETAMinutes: int(c.ETAMinutes + 0.5),
		SentAt:     d.now(),
	}
	res := CandidateResult{ResponderID: c.Responder.ID, Score: c.Score}
	start := d.now()

	var err error
	for attempt := 1; attempt <= d.cfg.MaxRetries+1; attempt++ {
		res.Attempts = attempt
		if attempt > 1 {
			retriesTotal.Inc()
			if serr := sleep(ctx, time.Duration(attempt-1)*d.cfg.RetryBackoff()); serr != nil {
				err = &errs.TransportError{Transient: true, Err: serr}
				break
			}
		}
		sctx, cancel := context.WithTimeout(ctx, d.cfg.SendTimeout())
		err = d.transport.Send(sctx, c.Responder.ID, p)
		cancel()
		if err == nil || !errs.IsTransient(err) {
			break
		}
		d.log.Warnf("send to %s attempt %d failed: %v", c.Responder.ID, attempt, err)
	}
	res.Latency = d.now().Sub(start)
	switch {
	case err == nil:
		res.Outcome = OutcomeNotified
	case errs.IsTransient(err):
		res.Outcome = OutcomeFailedTransient
		res.Err = err
	default:
		res.Outcome = OutcomeFailedPermanent
		res.Err = err
	}
	return res
}

func (d *Dispatcher) publish(req model.Request, res CandidateResult) {
	if d.bus == nil {
		return
	}
	d.bus.Publish(events.NotificationEvent{
		RequestID:   req.ID,
		ResponderID: res.ResponderID,
		Outcome:     string(res.Outcome),
		Attempts:    res.Attempts,
		Latency:     res.Latency,
		Err:         res.Err,
	})
}

// record persists the report to the metrics sink if one is configured.
func (d *Dispatcher) record(rep Report) {
	if d.sink == nil {
		return
	}
	recs := make([]metrics.NotificationResult, 0, len(rep.Results))
	for _, res := range rep.Results {
		recs = append(recs, metrics.NotificationResult{
			RequestID:   rep.RequestID,
			ResponderID: res.ResponderID,
			Outcome:     string(res.Outcome),
			Attempts:    res.Attempts,
			Latency:     res.Latency,
			Degraded:    rep.Degraded,
			Time:        rep.Started,
		})
	}
	if err := d.sink.RecordNotification(recs); err != nil {
		d.log.Errorf("metrics error: %v", err)
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
