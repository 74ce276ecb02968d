package domain

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Side is the direction of a futures position.
type Side string

const (
	SideLong  Side = "long"
	SideShort Side = "short"
)

// Valid reports whether s is a known side.
func (s Side) Valid() bool {
	return s == SideLong || s == SideShort
}

// Direction returns +1 for longs and -1 for shorts.
func (s Side) Direction() decimal.Decimal {
	if s == SideShort {
		return decimal.NewFromInt(-1)
	}
	return decimal.NewFromInt(1)
}

// ErrInconsistentInput marks position data that cannot be evaluated.
var ErrInconsistentInput = errors.New("inconsistent position input")

// Position is one open position as reported by the venue.
type Position struct {
	ID               string              `json:"id"`
	Symbol           string              `json:"symbol"`
	Side             Side                `json:"side"`
	MarginCoin       string              `json:"margin_coin,omitempty"`
	EntryPrice       decimal.Decimal     `json:"entry_price"`
	MarkPrice        decimal.Decimal     `json:"mark_price"`
	Quantity         decimal.Decimal     `json:"quantity"`
	Leverage         int                 `json:"leverage"`
	UnrealizedPnL    decimal.Decimal     `json:"unrealized_pnl"`
	LiquidationPrice decimal.NullDecimal `json:"liquidation_price"`
	OpenedAt         time.Time           `json:"opened_at"`
	LastSeenAt       time.Time           `json:"last_seen_at"`
}

// Validate checks the structural invariants of a position. A zero quantity
// is structurally valid; callers filter those before analysis.
func (p Position) Validate() error {
	switch {
	case p.ID == "":
		return fmt.Errorf("%w: empty id", ErrInconsistentInput)
	case !p.Side.Valid():
		return fmt.Errorf("%w: unknown side %q", ErrInconsistentInput, p.Side)
	case !p.EntryPrice.IsPositive():
		return fmt.Errorf("%w: entry price %s", ErrInconsistentInput, p.EntryPrice)
	case !p.MarkPrice.IsPositive():
		return fmt.Errorf("%w: mark price %s", ErrInconsistentInput, p.MarkPrice)
	case p.Quantity.IsNegative():
		return fmt.Errorf("%w: quantity %s", ErrInconsistentInput, p.Quantity)
	case p.Leverage < 1:
		return fmt.Errorf("%w: leverage %d", ErrInconsistentInput, p.Leverage)
	}
	return nil
}

// Direction returns +1 for longs and -1 for shorts.
func (p Position) Direction() decimal.Decimal {
	return p.Side.Direction()
}

// ProfitAt returns the signed price move in the position's favour at price.
func (p Position) ProfitAt(price decimal.Decimal) decimal.Decimal {
	return p.Direction().Mul(price.Sub(p.EntryPrice))
}

// PnLSignConsistent reports whether unrealized PnL agrees in sign with the
// mark/entry relationship for the position side. Zero on either side is
// treated as consistent.
func (p Position) PnLSignConsistent() bool {
	move := p.ProfitAt(p.MarkPrice).Sign()
	pnl := p.UnrealizedPnL.Sign()
	return move == 0 || pnl == 0 || move == pnl
}

// ChangedFields lists the fields that differ between p and other. Decimal
// fields compare with the absolute tolerance eps, the rest exactly.
// LastSeenAt is bookkeeping and never counts as a change.
func (p Position) ChangedFields(other Position, eps decimal.Decimal) []string {
	var fields []string
	differs := func(a, b decimal.Decimal) bool {
		return a.Sub(b).Abs().GreaterThan(eps)
	}

	if p.Symbol != other.Symbol {
		fields = append(fields, "symbol")
	}
	if p.Side != other.Side {
		fields = append(fields, "side")
	}
	if p.MarginCoin != other.MarginCoin {
		fields = append(fields, "margin_coin")
	}
	if differs(p.EntryPrice, other.EntryPrice) {
		fields = append(fields, "entry_price")
	}
	if differs(p.MarkPrice, other.MarkPrice) {
		fields = append(fields, "mark_price")
	}
	if differs(p.Quantity, other.Quantity) {
		fields = append(fields, "quantity")
	}
	if p.Leverage != other.Leverage {
		fields = append(fields, "leverage")
	}
	if differs(p.UnrealizedPnL, other.UnrealizedPnL) {
		fields = append(fields, "unrealized_pnl")
	}
	if p.LiquidationPrice.Valid != other.LiquidationPrice.Valid ||
		(p.LiquidationPrice.Valid && differs(p.LiquidationPrice.Decimal, other.LiquidationPrice.Decimal)) {
		fields = append(fields, "liquidation_price")
	}
	if !p.OpenedAt.Equal(other.OpenedAt) {
		fields = append(fields, "opened_at")
	}
	return fields
}

// Snapshot is an immutable capture of a position at a poll instant.
type Snapshot struct {
	Position  Position  `json:"position"`
	SampledAt time.Time `json:"sampled_at"`
	PollSeq   uint64    `json:"poll_seq"`
}

// ID is a shorthand for the position id.
func (s Snapshot) ID() string {
	return s.Position.ID
}

// Change pairs the prior and current snapshot of a position that changed.
type Change struct {
	Prior   Snapshot `json:"prior"`
	Current Snapshot `json:"current"`
	Fields  []string `json:"fields"`
}

// Delta is the difference produced by one cache ingest.
type Delta struct {
	Opened  []Snapshot `json:"opened"`
	Closed  []Snapshot `json:"closed"`
	Changed []Change   `json:"changed"`
}

// Empty reports whether the delta carries no changes at all.
func (d Delta) Empty() bool {
	return len(d.Opened) == 0 && len(d.Closed) == 0 && len(d.Changed) == 0
}
