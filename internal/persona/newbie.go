package persona

import (
	"strconv"

	"github.com/rovshanmuradov/position-monitor/internal/domain"
)

// NewbieVote panics out the moment unrealized PnL flips from profit to loss.
// A flip that passes through zero over several polls still counts.
func NewbieVote(in Input) (domain.Vote, error) {
	if err := checkInput(in); err != nil {
		return domain.Vote{}, err
	}

	pnl := in.Position.UnrealizedPnL
	if in.Context.Prior == nil {
		return newVote(Newbie, domain.VerdictHold, half, "first observation",
			inputsHash(Newbie, "pnl", fmtDec(pnl), "prior_pnl", "")), nil
	}

	prev := in.Context.Prior.Position.UnrealizedPnL
	prevSign := prev.Sign()
	if prevSign == 0 {
		prevSign = in.Context.PriorPnLSign
	}
	hash := inputsHash(Newbie, "pnl", fmtDec(pnl), "prior_pnl", fmtDec(prev), "prior_sign", strconv.Itoa(prevSign))
	if prevSign > 0 && pnl.IsNegative() {
		return newVote(Newbie, domain.VerdictExitFull, one, "pnl flipped to loss", hash), nil
	}
	return newVote(Newbie, domain.VerdictHold, half, "no pnl flip", hash), nil
}
