package dispatch

import "time"

// Outcome classifies what happened to one candidate during a fan-out.
type Outcome string

const (
	OutcomeNotified        Outcome = "notified"
	OutcomeRateLimited     Outcome = "rate_limited"
	OutcomeFailedTransient Outcome = "failed_transient"
	OutcomeFailedPermanent Outcome = "failed_permanent"
)

// CandidateResult is the per-candidate line of a dispatch report.
type CandidateResult struct {
	ResponderID string
	Score       float64
	Outcome     Outcome
	// Attempts counts send attempts, zero when the candidate was rate
	// limited before any send.
	Attempts int
	Latency  time.Duration
	// RetryAfter is set only for rate limited candidates.
	RetryAfter time.Duration
	Err        error
}

// Report summarizes one fan-out.
type Report struct {
	RequestID string
	Results   []CandidateResult
	// Degraded is true when at least one quota answer came from the local
	// fallback store.
	Degraded bool
	Started  time.Time
	Duration time.Duration
}

// Notified counts candidates that received the notification.
func (r Report) Notified() int { return r.count(OutcomeNotified) }

// RateLimited counts candidates skipped by quota.
func (r Report) RateLimited() int { return r.count(OutcomeRateLimited) }

// Failed counts candidates whose delivery failed after all attempts.
func (r Report) Failed() int {
	return r.count(OutcomeFailedTransient) + r.count(OutcomeFailedPermanent)
}

func (r Report) count(o Outcome) int {
	n := 0
	for _, res := range r.Results {
		if res.Outcome == o {
			n++
		}
	}
	return n
}
