package report

import (
	"bytes"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rovshanmuradov/position-monitor/internal/domain"
	"github.com/rovshanmuradov/position-monitor/internal/monitor"
)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func sampleOutcome() monitor.Outcome {
	return monitor.Outcome{
		PollSeq:   7,
		SampledAt: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
		Malformed: 1,
		Recommendations: []domain.Recommendation{
			{
				PositionID:          "P1",
				Symbol:              "BTCUSDT",
				PollSeq:             7,
				Verdict:             domain.VerdictExitPartial,
				AggregateConfidence: dec("0.538461538462"),
				DissentCount:        3,
				Votes: []domain.Vote{
					{PersonaID: "strategic", Decision: domain.VerdictHold, Confidence: dec("0.4")},
					{PersonaID: "aggressive", Decision: domain.VerdictExitPartial, Confidence: dec("0.7")},
				},
			},
			{
				PositionID:          "P2",
				Symbol:              "ETHUSDT",
				PollSeq:             7,
				Verdict:             domain.VerdictHold,
				AggregateConfidence: dec("1"),
			},
		},
		Orders: []monitor.OrderOutcome{
			{
				Request: domain.OrderRequest{PositionID: "P1", Verdict: domain.VerdictExitPartial, Type: domain.OrderTypeMarket, Quantity: dec("0.05")},
				Result:  domain.OrderResult{OrderID: "1001"},
				Status:  monitor.OrderSubmitted,
			},
			{
				Request: domain.OrderRequest{PositionID: "P3", Verdict: domain.VerdictExitFull, Type: domain.OrderTypeMarket, Quantity: dec("1")},
				Status:  monitor.OrderFailed,
				Err:     errors.New("insufficient"),
			},
		},
	}
}

func TestRendererOutcome(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, NewRenderer(DefaultPalette()).Outcome(&buf, sampleOutcome()))
	out := buf.String()

	assert.Contains(t, out, "poll 7 at 2026-03-01 12:00:00Z")
	assert.Contains(t, out, "skipped 1 malformed, 0 empty positions")
	for _, want := range []string{"POSITION", "STRATEGIC", "PATIENT", "P1", "BTCUSDT", "exit_partial", "0.538", "hold 0.40", "exit_partial 0.70", "ETHUSDT", "1.000"} {
		assert.Contains(t, out, want)
	}
	assert.Contains(t, out, "1001")
	assert.Contains(t, out, "insufficient")
	assert.Contains(t, out, monitor.OrderFailed)
}

func TestRendererNoPositions(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, NewRenderer(DefaultPalette()).Outcome(&buf, monitor.Outcome{PollSeq: 1}))
	assert.Contains(t, buf.String(), "no open positions")
	assert.NotContains(t, buf.String(), "ORDER ID")
}

func TestTableColumnsAlign(t *testing.T) {
	tbl := NewTable(DefaultPalette(), Column{Header: "A"}, Column{Header: "LONGER"}).SetBorder(false)
	tbl.AddRow("x", "y")
	tbl.AddRow("wide cell", "z")
	assert.Equal(t, 2, tbl.Len())

	lines := strings.Split(tbl.Render(), "\n")
	require.Len(t, lines, 4)
	width := len([]rune(lines[0]))
	for _, line := range lines[1:] {
		assert.Equal(t, width, len([]rune(line)), line)
	}
	assert.Contains(t, lines[3], "wide cell")
}

func TestTableTruncatesFixedWidth(t *testing.T) {
	tbl := NewTable(DefaultPalette(), Column{Header: "ID", Width: 6}).SetBorder(false)
	tbl.AddRow("abcdefghij")
	assert.Contains(t, tbl.Render(), "abc...")
}
