package aggregate

import (
	"math/rand/v2"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"

	"github.com/rovshanmuradov/position-monitor/internal/domain"
)

var personas = []string{"strategic", "aggressive", "newbie", "scalper", "patient"}

func votes(decisions []domain.Verdict, confidences []string) []domain.Vote {
	out := make([]domain.Vote, len(decisions))
	for i := range decisions {
		out[i] = domain.Vote{
			PersonaID:  personas[i],
			Decision:   decisions[i],
			Confidence: decimal.RequireFromString(confidences[i]),
		}
	}
	return out
}

func equalWeights() *Aggregator {
	w := map[string]decimal.Decimal{}
	for _, p := range personas {
		w[p] = DefaultWeight
	}
	return New(w)
}

func TestUnanimous(t *testing.T) {
	a := equalWeights()
	for _, v := range domain.Verdicts {
		for _, conf := range []string{"0.3", "1", "0"} {
			all := []domain.Verdict{v, v, v, v, v}
			rec := a.Aggregate("P1", votes(all, []string{conf, conf, conf, conf, conf}))
			assert.Equal(t, v, rec.Verdict)
			assert.True(t, rec.AggregateConfidence.Equal(decimal.NewFromInt(1)), "%s %s", v, conf)
			assert.Zero(t, rec.DissentCount)
		}
	}
}

func TestFibExtensionMix(t *testing.T) {
	rec := equalWeights().Aggregate("P1", votes(
		[]domain.Verdict{domain.VerdictExitFull, domain.VerdictExitPartial, domain.VerdictHold,
			domain.VerdictExitPartial, domain.VerdictHold},
		[]string{"1", "0.75", "0.5", "1", "0"},
	))
	// partial 0.35, full 0.2, hold 0.1 of 0.65
	assert.Equal(t, domain.VerdictExitPartial, rec.Verdict)
	assert.True(t, rec.AggregateConfidence.Equal(decimal.RequireFromString("0.538461538462")),
		rec.AggregateConfidence.String())
	assert.Equal(t, 3, rec.DissentCount)
}

func TestTieBreaksTowardCaution(t *testing.T) {
	a := equalWeights()
	rec := a.Aggregate("P1", votes(
		[]domain.Verdict{domain.VerdictExitFull, domain.VerdictExitFull,
			domain.VerdictExitPartial, domain.VerdictExitPartial, domain.VerdictHold},
		[]string{"1", "1", "1", "1", "0"},
	))
	// partial and full tie at 0.4 each, share 0.5
	assert.Equal(t, domain.VerdictExitPartial, rec.Verdict)
	assert.True(t, rec.AggregateConfidence.Equal(decimal.RequireFromString("0.5")))

	rec = a.Aggregate("P1", votes(
		[]domain.Verdict{domain.VerdictHold, domain.VerdictHold,
			domain.VerdictExitFull, domain.VerdictExitFull, domain.VerdictHold},
		[]string{"1", "1", "1", "1", "0"},
	))
	assert.Equal(t, domain.VerdictHold, rec.Verdict)
}

func TestQuorumFloor(t *testing.T) {
	rec := equalWeights().Aggregate("P1", votes(
		[]domain.Verdict{domain.VerdictExitFull, domain.VerdictExitFull,
			domain.VerdictExitPartial, domain.VerdictExitPartial, domain.VerdictHold},
		[]string{"1", "1", "0.9", "0.9", "0.5"},
	))
	// full 0.4 of 0.86 is below quorum
	assert.Equal(t, domain.VerdictHold, rec.Verdict)
	assert.Equal(t, 4, rec.DissentCount)
}

// Any recommendation whose winner would hold less than half the mass is hold.
func TestQuorumProperty(t *testing.T) {
	rng := rand.New(rand.NewPCG(3, 5))
	a := equalWeights()

	for i := 0; i < 500; i++ {
		var (
			decisions []domain.Verdict
			confs     []string
		)
		for range personas {
			decisions = append(decisions, domain.Verdicts[rng.IntN(3)])
			confs = append(confs, decimal.NewFromInt(int64(rng.IntN(101))).Div(decimal.NewFromInt(100)).String())
		}
		rec := a.Aggregate("P", votes(decisions, confs))

		assert.True(t, rec.Verdict == domain.VerdictHold || rec.AggregateConfidence.GreaterThanOrEqual(Quorum))
		assert.True(t, rec.AggregateConfidence.LessThanOrEqual(decimal.NewFromInt(1)))
		assert.Equal(t, dissent(rec.Votes, rec.Verdict), rec.DissentCount)
	}
}

func TestCustomWeights(t *testing.T) {
	a := New(map[string]decimal.Decimal{
		"strategic": decimal.RequireFromString("0.6"),
		"patient":   decimal.RequireFromString("0.1"),
	})
	rec := a.Aggregate("P1", votes(
		[]domain.Verdict{domain.VerdictExitFull, domain.VerdictHold, domain.VerdictHold,
			domain.VerdictHold, domain.VerdictHold},
		[]string{"1", "0.5", "0.5", "0.5", "1"},
	))
	// full 0.6 vs hold 0.1+0.1+0.1+0.1 = 0.4
	assert.Equal(t, domain.VerdictExitFull, rec.Verdict)
	assert.True(t, rec.AggregateConfidence.Equal(decimal.RequireFromString("0.6")))
}

func TestNoVotes(t *testing.T) {
	rec := equalWeights().Aggregate("P1", nil)
	assert.Equal(t, domain.VerdictHold, rec.Verdict)
	assert.True(t, rec.AggregateConfidence.IsZero())
}
