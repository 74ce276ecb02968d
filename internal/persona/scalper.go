package persona

import (
	"fmt"

	"github.com/rovshanmuradov/position-monitor/internal/domain"
)

// ScalperVote takes partial profit on every level crossed in the profit
// direction since the previous poll, with harmony as conviction.
func ScalperVote(in Input) (domain.Vote, error) {
	if err := checkInput(in); err != nil {
		return domain.Vote{}, err
	}

	l := in.Levels
	prior := ""
	if in.Context.Prior != nil {
		prior = fmtDec(in.Context.Prior.Position.MarkPrice)
	}
	hash := inputsHash(Scalper,
		"side", string(in.Position.Side),
		"entry", fmtDec(in.Position.EntryPrice),
		"anchor", fmtDec(l.Anchor),
		"mark", fmtDec(in.Mark),
		"prior_mark", prior,
		"harmony", fmtDec(l.Harmony),
	)

	if l.Degenerate || in.Context.Prior == nil {
		return newVote(Scalper, domain.VerdictHold, half, "no level crossing", hash), nil
	}

	crossed := l.CrossedInProfit(in.Context.Prior.Position.MarkPrice, in.Mark)
	if len(crossed) == 0 {
		return newVote(Scalper, domain.VerdictHold, half, "no level crossing", hash), nil
	}

	// levels are ordered by ratio, so the last one is farthest into profit
	farthest := crossed[len(crossed)-1]
	return newVote(Scalper, domain.VerdictExitPartial, l.Harmony,
		fmt.Sprintf("crossed %d level(s) up to %s", len(crossed), farthest.Ratio), hash), nil
}
