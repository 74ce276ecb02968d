// Package fib computes Fibonacci retracement and extension levels for a
// position and scores how close the mark price sits to the nearest level.
package fib

import (
	"math"

	"github.com/shopspring/decimal"

	"github.com/rovshanmuradov/position-monitor/internal/domain"
)

// Precision is the number of decimal digits kept for level prices and scores.
const Precision = 12

var (
	// Tolerance is the absolute tolerance for distance comparisons.
	Tolerance = decimal.New(1, -10)
	// DefaultSigmaRatio scales the harmony decay width to 0.5% of entry.
	DefaultSigmaRatio = decimal.RequireFromString("0.005")

	// Ratios are the canonical retracement and extension ratios, ascending.
	Ratios = []decimal.Decimal{
		decimal.RequireFromString("0.236"),
		decimal.RequireFromString("0.382"),
		decimal.RequireFromString("0.5"),
		decimal.RequireFromString("0.618"),
		decimal.RequireFromString("0.786"),
		decimal.RequireFromString("1.0"),
		decimal.RequireFromString("1.272"),
		decimal.RequireFromString("1.414"),
		decimal.RequireFromString("1.618"),
		decimal.RequireFromString("2.0"),
		decimal.RequireFromString("2.618"),
	}
)

// Level is one ratio and its price.
type Level struct {
	Ratio decimal.Decimal `json:"ratio"`
	Price decimal.Decimal `json:"price"`
}

// Levels is the full overlay for one position at one mark.
type Levels struct {
	Side       domain.Side     `json:"side"`
	Entry      decimal.Decimal `json:"entry"`
	Anchor     decimal.Decimal `json:"anchor"`
	Range      decimal.Decimal `json:"range"`
	Sigma      decimal.Decimal `json:"sigma"`
	Mark       decimal.Decimal `json:"mark"`
	Levels     []Level         `json:"levels"`
	Nearest    Level           `json:"nearest"`
	Distance   decimal.Decimal `json:"distance"`
	Harmony    decimal.Decimal `json:"harmony"`
	Degenerate bool            `json:"degenerate"`
}

// Analyzer is stateless; the zero value uses DefaultSigmaRatio.
type Analyzer struct {
	SigmaRatio decimal.Decimal
}

// Analyze anchors the levels at the profit-side extreme since open: the
// high for longs and the low for shorts.
func (a Analyzer) Analyze(pos domain.Position, mark, high, low decimal.Decimal) Levels {
	anchor := high
	if pos.Side == domain.SideShort {
		anchor = low
	}
	sigmaRatio := a.SigmaRatio
	if sigmaRatio.IsZero() {
		sigmaRatio = DefaultSigmaRatio
	}
	return Compute(pos.Side, pos.EntryPrice, anchor, mark, sigmaRatio)
}

// Compute builds levels E + dir·r·|X−E| for entry E and anchor X and scores
// mark against them. The overlay is degenerate when |X−E| is below sigma:
// levels collapse onto the entry and harmony is zero.
func Compute(side domain.Side, entry, anchor, mark, sigmaRatio decimal.Decimal) Levels {
	dir := side.Direction()
	rng := anchor.Sub(entry).Abs().Round(Precision)
	sigma := entry.Mul(sigmaRatio).Round(Precision)

	l := Levels{
		Side:       side,
		Entry:      entry,
		Anchor:     anchor,
		Range:      rng,
		Sigma:      sigma,
		Mark:       mark,
		Levels:     make([]Level, 0, len(Ratios)),
		Degenerate: rng.LessThan(sigma) || !sigma.IsPositive(),
	}

	for _, r := range Ratios {
		price := entry.Add(dir.Mul(r).Mul(rng)).Round(Precision)
		l.Levels = append(l.Levels, Level{Ratio: r, Price: price})
	}

	best := -1
	var bestDist decimal.Decimal
	for i, lvl := range l.Levels {
		d := mark.Sub(lvl.Price).Abs()
		// strictly closer beyond tolerance; ties keep the smaller ratio
		if best < 0 || d.LessThan(bestDist.Sub(Tolerance)) {
			best, bestDist = i, d
		}
	}
	l.Nearest = l.Levels[best]
	l.Distance = bestDist.Round(Precision)

	if !l.Degenerate {
		l.Harmony = harmony(l.Distance, sigma)
	}
	return l
}

// harmony is exp(−d/σ) clamped to [0, 1]. The exponential is the only
// floating-point step.
func harmony(distance, sigma decimal.Decimal) decimal.Decimal {
	x, _ := distance.DivRound(sigma, Precision).Float64()
	h := math.Exp(-x)
	switch {
	case math.IsNaN(h) || h < 0:
		h = 0
	case h > 1:
		h = 1
	}
	return decimal.NewFromFloat(h).Round(Precision)
}

// Level returns the level for ratio r.
func (l Levels) Level(r decimal.Decimal) (Level, bool) {
	for _, lvl := range l.Levels {
		if lvl.Ratio.Equal(r) {
			return lvl, true
		}
	}
	return Level{}, false
}

// Crossed returns the levels passed moving from prev to cur: prices p with
// prev < p <= cur when rising, cur <= p < prev when falling.
func (l Levels) Crossed(prev, cur decimal.Decimal) []Level {
	var out []Level
	for _, lvl := range l.Levels {
		p := lvl.Price
		rising := prev.LessThan(p) && p.LessThanOrEqual(cur)
		falling := cur.LessThanOrEqual(p) && p.LessThan(prev)
		if rising || falling {
			out = append(out, lvl)
		}
	}
	return out
}

// CrossedInProfit returns the levels crossed moving from prev to cur in
// the position's profit direction.
func (l Levels) CrossedInProfit(prev, cur decimal.Decimal) []Level {
	if l.Side == domain.SideShort {
		if !cur.LessThan(prev) {
			return nil
		}
	} else if !cur.GreaterThan(prev) {
		return nil
	}
	return l.Crossed(prev, cur)
}
