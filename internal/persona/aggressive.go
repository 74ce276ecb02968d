package persona

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/rovshanmuradov/position-monitor/internal/domain"
)

var (
	drawdownLimit   = decimal.RequireFromString("0.5")
	ratioShallow    = decimal.RequireFromString("0.382")
	crossConviction = decimal.RequireFromString("0.75")
)

// AggressiveVote exits fully once half of the best unrealized profit has
// been given back, and partially whenever the mark crosses the 0.382 level.
func AggressiveVote(in Input) (domain.Vote, error) {
	if err := checkInput(in); err != nil {
		return domain.Vote{}, err
	}

	l := in.Levels
	qty := in.Position.Quantity
	maxPnL := l.Range.Mul(qty)
	cur := in.Position.ProfitAt(in.Mark).Mul(qty)

	prior := ""
	if in.Context.Prior != nil {
		prior = fmtDec(in.Context.Prior.Position.MarkPrice)
	}
	hash := inputsHash(Aggressive,
		"side", string(in.Position.Side),
		"entry", fmtDec(in.Position.EntryPrice),
		"mark", fmtDec(in.Mark),
		"anchor", fmtDec(l.Anchor),
		"qty", fmtDec(qty),
		"prior_mark", prior,
		"degenerate", fmt.Sprint(l.Degenerate),
	)

	if !l.Degenerate && maxPnL.IsPositive() {
		drawdown := maxPnL.Sub(cur)
		if drawdown.GreaterThanOrEqual(maxPnL.Mul(drawdownLimit)) {
			share := drawdown.DivRound(maxPnL, 12)
			return newVote(Aggressive, domain.VerdictExitFull, share,
				fmt.Sprintf("gave back %s%% of max profit", share.Mul(decimal.NewFromInt(100)).StringFixed(0)), hash), nil
		}
	}

	if !l.Degenerate && in.Context.Prior != nil {
		for _, lvl := range l.Crossed(in.Context.Prior.Position.MarkPrice, in.Mark) {
			if lvl.Ratio.Equal(ratioShallow) {
				return newVote(Aggressive, domain.VerdictExitPartial, crossConviction,
					"crossed 0.382 level", hash), nil
			}
		}
	}

	return newVote(Aggressive, domain.VerdictHold, half, "drawdown within limit", hash), nil
}
