// Package rank scores and orders eligible responders for a request.
package rank

import (
	"sort"
	"time"

	"github.com/hemolink/hemolink/core/model"
)

// Scoring constants. The distance penalty is capped so a far responder with
// a strong type match can still outrank a close but weaker one.
const (
	baseScore          = 100.0
	exactMatchBonus    = 50.0
	distancePenaltyKm  = 2.0
	maxDistancePenalty = 30.0
	recencyBonusLong   = 20.0 // last donation at least 56 days ago
	recencyBonusShort  = 10.0 // at least 42 days ago
	longCooldownDays   = 56
	shortCooldownDays  = 42
	etaMinutesPerKm    = 2.0
)

// Candidate is a responder annotated with its score for one request.
type Candidate struct {
	Responder  model.Responder
	Score      float64
	DistanceKm float64
	// ETAMinutes is a linear travel estimate, not a routing result.
	ETAMinutes float64
	ExactMatch bool
}

// Ranker orders responders by descending compatibility score.
type Ranker struct {
	// DefaultDistanceKm substitutes for the real distance when either side
	// has no known location.
	DefaultDistanceKm float64
	// RadiusKm excludes candidates farther than this when positive.
	// Escalation widens it.
	RadiusKm float64
}

// NewRanker returns a ranker with the default distance fallback and no
// radius cutoff.
func NewRanker() Ranker {
	return Ranker{DefaultDistanceKm: 10}
}

// WithRadius returns a copy of the ranker limited to the given radius.
func (r Ranker) WithRadius(km float64) Ranker {
	r.RadiusKm = km
	return r
}

// Rank scores every responder against the request and returns candidates
// sorted by descending score, ties broken by responder id for reproducible
// ordering.
func (r Ranker) Rank(req model.Request, responders []model.Responder, now time.Time) []Candidate {
	list := make([]Candidate, 0, len(responders))
	for _, resp := range responders {
		dist := r.DefaultDistanceKm
		if req.Location != nil && resp.Location != nil {
			dist = HaversineKm(*req.Location, *resp.Location)
		}
		if r.RadiusKm > 0 && dist > r.RadiusKm {
			continue
		}
		list = append(list, Candidate{
			Responder:  resp,
			Score:      r.score(req, resp, dist, now),
			DistanceKm: dist,
			ETAMinutes: dist * etaMinutesPerKm,
			ExactMatch: resp.BloodType == req.BloodType,
		})
	}
	sort.Slice(list, func(i, j int) bool {
		if list[i].Score != list[j].Score {
			return list[i].Score > list[j].Score
		}
		return list[i].Responder.ID < list[j].Responder.ID
	})
	return list
}

func (r Ranker) score(req model.Request, resp model.Responder, distKm float64, now time.Time) float64 {
	score := baseScore
	if resp.BloodType == req.BloodType {
		score += exactMatchBonus
	}
	penalty := distancePenaltyKm * distKm
	if penalty > maxDistancePenalty {
		penalty = maxDistancePenalty
	}
	score -= penalty

	switch days := resp.DaysSinceDonation(now); {
	case days >= longCooldownDays:
		score += recencyBonusLong
	case days >= shortCooldownDays:
		score += recencyBonusShort
	}
	if score < 0 {
		return 0
	}
	return score
}
