package domain

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testPosition() Position {
	return Position{
		ID:            "P1",
		Symbol:        "BTCUSDT",
		Side:          SideLong,
		EntryPrice:    decimal.NewFromInt(60000),
		MarkPrice:     decimal.NewFromInt(60100),
		Quantity:      decimal.RequireFromString("0.1"),
		Leverage:      10,
		UnrealizedPnL: decimal.NewFromInt(10),
		OpenedAt:      time.Unix(1700000000, 0),
	}
}

func TestPositionValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Position)
		wantErr bool
	}{
		{"valid", func(*Position) {}, false},
		{"zero quantity allowed", func(p *Position) { p.Quantity = decimal.Zero }, false},
		{"missing id", func(p *Position) { p.ID = "" }, true},
		{"bad side", func(p *Position) { p.Side = "flat" }, true},
		{"zero entry", func(p *Position) { p.EntryPrice = decimal.Zero }, true},
		{"negative mark", func(p *Position) { p.MarkPrice = decimal.NewFromInt(-1) }, true},
		{"negative quantity", func(p *Position) { p.Quantity = decimal.NewFromInt(-1) }, true},
		{"zero leverage", func(p *Position) { p.Leverage = 0 }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := testPosition()
			tt.mutate(&p)
			err := p.Validate()
			if tt.wantErr {
				require.Error(t, err)
				assert.ErrorIs(t, err, ErrInconsistentInput)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestPositionPnLSign(t *testing.T) {
	p := testPosition()
	assert.True(t, p.PnLSignConsistent())

	p.UnrealizedPnL = decimal.NewFromInt(-10)
	assert.False(t, p.PnLSignConsistent())

	p.Side = SideShort
	assert.True(t, p.PnLSignConsistent())
	assert.True(t, p.ProfitAt(decimal.NewFromInt(59000)).IsPositive())
}

func TestChangedFields(t *testing.T) {
	eps := decimal.New(1, -8)
	a := testPosition()

	b := a
	b.LastSeenAt = a.LastSeenAt.Add(time.Minute)
	b.MarkPrice = a.MarkPrice.Add(decimal.New(1, -9))
	assert.Empty(t, a.ChangedFields(b, eps))

	b.MarkPrice = a.MarkPrice.Add(decimal.New(1, -7))
	b.Leverage = 20
	assert.Equal(t, []string{"mark_price", "leverage"}, a.ChangedFields(b, eps))

	c := a
	c.LiquidationPrice = decimal.NewNullDecimal(decimal.NewFromInt(54000))
	assert.Equal(t, []string{"liquidation_price"}, a.ChangedFields(c, eps))
}

func TestVerdictSeverity(t *testing.T) {
	assert.Less(t, VerdictHold.Severity(), VerdictExitPartial.Severity())
	assert.Less(t, VerdictExitPartial.Severity(), VerdictExitFull.Severity())

	v, err := ParseVerdict("exit_full")
	require.NoError(t, err)
	assert.Equal(t, VerdictExitFull, v)

	_, err = ParseVerdict("sell")
	assert.Error(t, err)
}
