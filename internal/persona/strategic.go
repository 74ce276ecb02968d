package persona

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/rovshanmuradov/position-monitor/internal/domain"
)

var (
	strategicHarmony = decimal.RequireFromString("0.8")
	ratioGolden      = decimal.RequireFromString("0.618")
)

// StrategicVote exits at strong harmony with a profit-side level: fully at
// ratios of 1.0 and above, partially at 0.618.
func StrategicVote(in Input) (domain.Vote, error) {
	if err := checkInput(in); err != nil {
		return domain.Vote{}, err
	}

	l := in.Levels
	profit := in.Position.ProfitAt(in.Mark)
	hash := inputsHash(Strategic,
		"side", string(in.Position.Side),
		"entry", fmtDec(in.Position.EntryPrice),
		"mark", fmtDec(in.Mark),
		"anchor", fmtDec(l.Anchor),
		"nearest", fmtDec(l.Nearest.Ratio),
		"harmony", fmtDec(l.Harmony),
		"degenerate", fmt.Sprint(l.Degenerate),
	)

	if l.Degenerate {
		return newVote(Strategic, domain.VerdictHold, half, "no usable fib range", hash), nil
	}

	h := l.Harmony
	r := l.Nearest.Ratio
	if profit.IsPositive() && h.GreaterThan(strategicHarmony) {
		switch {
		case r.GreaterThanOrEqual(one):
			return newVote(Strategic, domain.VerdictExitFull, h,
				fmt.Sprintf("harmony %s at %s extension", h.StringFixed(2), r), hash), nil
		case r.Equal(ratioGolden):
			return newVote(Strategic, domain.VerdictExitPartial, h,
				fmt.Sprintf("harmony %s at 0.618 retracement", h.StringFixed(2)), hash), nil
		}
	}

	return newVote(Strategic, domain.VerdictHold, one.Sub(h),
		fmt.Sprintf("nearest %s, harmony %s", r, h.StringFixed(2)), hash), nil
}
