package persona

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/rovshanmuradov/position-monitor/internal/domain"
	"github.com/rovshanmuradov/position-monitor/internal/fib"
)

var (
	liquidationBuffer = decimal.RequireFromString("0.05")
	comfortSpan       = decimal.RequireFromString("0.20")
)

// PatientVote holds unless the mark is within 5% of entry from liquidation.
func PatientVote(in Input) (domain.Vote, error) {
	if err := checkInput(in); err != nil {
		return domain.Vote{}, err
	}

	liq := in.Position.LiquidationPrice
	if !liq.Valid {
		return newVote(Patient, domain.VerdictHold, decimal.Zero, "no liquidation price",
			inputsHash(Patient, "mark", fmtDec(in.Mark), "liq", "")), nil
	}

	ratio := in.Mark.Sub(liq.Decimal).Abs().DivRound(in.Position.EntryPrice, fib.Precision)
	hash := inputsHash(Patient,
		"mark", fmtDec(in.Mark),
		"liq", fmtDec(liq.Decimal),
		"entry", fmtDec(in.Position.EntryPrice),
	)

	if ratio.LessThan(liquidationBuffer) {
		conf := one.Sub(ratio.DivRound(liquidationBuffer, fib.Precision))
		return newVote(Patient, domain.VerdictExitFull, conf,
			fmt.Sprintf("liquidation %s%% away", ratio.Mul(decimal.NewFromInt(100)).StringFixed(2)), hash), nil
	}

	conf := ratio.Sub(liquidationBuffer).DivRound(comfortSpan, fib.Precision)
	return newVote(Patient, domain.VerdictHold, conf,
		fmt.Sprintf("liquidation %s%% away", ratio.Mul(decimal.NewFromInt(100)).StringFixed(2)), hash), nil
}
