package aggregate

import (
	"github.com/shopspring/decimal"

	"github.com/rovshanmuradov/position-monitor/internal/domain"
)

var (
	// DefaultWeight applies to any persona without an explicit weight.
	DefaultWeight = decimal.RequireFromString("0.2")
	// Quorum is the minimum winning share; below it the verdict is hold.
	Quorum = decimal.RequireFromString("0.5")
)

const precision = 12

// Aggregator combines persona votes by confidence-weighted majority.
type Aggregator struct {
	weights map[string]decimal.Decimal
}

// New creates an aggregator with per-persona weights.
func New(weights map[string]decimal.Decimal) *Aggregator {
	w := make(map[string]decimal.Decimal, len(weights))
	for id, v := range weights {
		w[id] = v
	}
	return &Aggregator{weights: w}
}

func (a *Aggregator) weight(personaID string) decimal.Decimal {
	if w, ok := a.weights[personaID]; ok {
		return w
	}
	return DefaultWeight
}

// Aggregate returns the recommendation for one position. Each verdict class
// scores Σ weight·confidence; the winner is the argmax with ties going to
// the more cautious verdict, and its share of the total mass is the
// aggregate confidence. A share under Quorum yields hold. When every vote
// has zero confidence, classes are scored by weight alone.
func (a *Aggregator) Aggregate(positionID string, votes []domain.Vote) domain.Recommendation {
	rec := domain.Recommendation{
		PositionID:          positionID,
		Verdict:             domain.VerdictHold,
		AggregateConfidence: decimal.Zero,
		Votes:               append([]domain.Vote(nil), votes...),
	}
	if len(votes) == 0 {
		return rec
	}

	mass := make(map[domain.Verdict]decimal.Decimal, len(domain.Verdicts))
	weightOnly := make(map[domain.Verdict]decimal.Decimal, len(domain.Verdicts))
	for _, v := range domain.Verdicts {
		mass[v] = decimal.Zero
		weightOnly[v] = decimal.Zero
	}
	for _, v := range votes {
		w := a.weight(v.PersonaID)
		mass[v.Decision] = mass[v.Decision].Add(w.Mul(v.Confidence))
		weightOnly[v.Decision] = weightOnly[v.Decision].Add(w)
	}

	total := sum(mass)
	if total.IsZero() {
		mass = weightOnly
		total = sum(mass)
	}
	if !total.IsPositive() {
		rec.DissentCount = dissent(votes, rec.Verdict)
		return rec
	}

	winner := domain.VerdictHold
	for _, v := range domain.Verdicts {
		if mass[v].GreaterThan(mass[winner]) {
			winner = v
		}
	}

	share := mass[winner].DivRound(total, precision)
	if share.LessThan(Quorum) {
		winner = domain.VerdictHold
		share = mass[domain.VerdictHold].DivRound(total, precision)
	}

	rec.Verdict = winner
	rec.AggregateConfidence = share
	rec.DissentCount = dissent(votes, winner)
	return rec
}

func sum(m map[domain.Verdict]decimal.Decimal) decimal.Decimal {
	total := decimal.Zero
	for _, v := range domain.Verdicts {
		total = total.Add(m[v])
	}
	return total
}

func dissent(votes []domain.Vote, verdict domain.Verdict) int {
	n := 0
	for _, v := range votes {
		if v.Decision != verdict {
			n++
		}
	}
	return n
}
