package report

import (
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/rovshanmuradov/position-monitor/internal/domain"
	"github.com/rovshanmuradov/position-monitor/internal/monitor"
	"github.com/rovshanmuradov/position-monitor/internal/persona"
)

// Renderer prints poll outcomes for humans.
type Renderer struct {
	palette Palette
	verdict map[domain.Verdict]lipgloss.Style
	title   lipgloss.Style
	muted   lipgloss.Style
}

// NewRenderer creates a renderer with palette.
func NewRenderer(palette Palette) *Renderer {
	bold := lipgloss.NewStyle().Bold(true)
	return &Renderer{
		palette: palette,
		verdict: map[domain.Verdict]lipgloss.Style{
			domain.VerdictHold:        bold.Foreground(palette.Hold),
			domain.VerdictExitPartial: bold.Foreground(palette.Partial),
			domain.VerdictExitFull:    bold.Foreground(palette.Full),
		},
		title: lipgloss.NewStyle().Foreground(palette.Primary).Bold(true),
		muted: lipgloss.NewStyle().Foreground(palette.Muted),
	}
}

// Outcome writes the summary line, the recommendation table and, when any
// orders were attempted, the order table.
func (r *Renderer) Outcome(w io.Writer, out monitor.Outcome) error {
	var b strings.Builder

	summary := fmt.Sprintf("poll %d at %s", out.PollSeq, out.SampledAt.UTC().Format("2006-01-02 15:04:05Z"))
	b.WriteString(r.title.Render(summary))
	b.WriteString("\n")
	if out.Malformed > 0 || out.Filtered > 0 {
		b.WriteString(r.muted.Render(fmt.Sprintf("skipped %d malformed, %d empty positions", out.Malformed, out.Filtered)))
		b.WriteString("\n")
	}

	if len(out.Recommendations) == 0 {
		b.WriteString(r.muted.Render("no open positions"))
		b.WriteString("\n")
	} else {
		b.WriteString(r.Recommendations(out.Recommendations))
		b.WriteString("\n")
	}

	if len(out.Orders) > 0 {
		b.WriteString(r.Orders(out.Orders))
		b.WriteString("\n")
	}

	_, err := io.WriteString(w, b.String())
	return err
}

// Recommendations renders one row per recommendation with a column per
// persona vote.
func (r *Renderer) Recommendations(recs []domain.Recommendation) string {
	columns := []Column{
		{Header: "POSITION"},
		{Header: "SYMBOL"},
		{Header: "VERDICT"},
		{Header: "CONF", Align: lipgloss.Right},
		{Header: "DISSENT", Align: lipgloss.Right},
	}
	for _, id := range persona.Order {
		columns = append(columns, Column{Header: strings.ToUpper(string(id))})
	}

	t := NewTable(r.palette, columns...)
	for _, rec := range recs {
		cells := []string{
			rec.PositionID,
			rec.Symbol,
			string(rec.Verdict),
			rec.AggregateConfidence.StringFixed(3),
			fmt.Sprintf("%d", rec.DissentCount),
		}
		for _, id := range persona.Order {
			cells = append(cells, voteCell(rec, string(id)))
		}

		if style, ok := r.verdict[rec.Verdict]; ok && rec.Verdict != domain.VerdictHold {
			t.AddStyledRow(style, cells...)
		} else {
			t.AddRow(cells...)
		}
	}
	return t.Render()
}

func voteCell(rec domain.Recommendation, personaID string) string {
	v, ok := rec.Vote(personaID)
	if !ok {
		return "-"
	}
	return fmt.Sprintf("%s %s", v.Decision, v.Confidence.StringFixed(2))
}

// Orders renders the execute-mode order attempts.
func (r *Renderer) Orders(orders []monitor.OrderOutcome) string {
	t := NewTable(r.palette,
		Column{Header: "POSITION"},
		Column{Header: "VERDICT"},
		Column{Header: "QTY", Align: lipgloss.Right},
		Column{Header: "TYPE"},
		Column{Header: "STATUS"},
		Column{Header: "ORDER ID"},
		Column{Header: "ERROR"},
	)
	for _, o := range orders {
		errText := ""
		if o.Err != nil {
			errText = o.Err.Error()
		}
		cells := []string{
			o.Request.PositionID,
			string(o.Request.Verdict),
			o.Request.Quantity.String(),
			string(o.Request.Type),
			o.Status,
			o.Result.OrderID,
			errText,
		}
		if o.Status == monitor.OrderFailed {
			t.AddStyledRow(r.verdict[domain.VerdictExitFull], cells...)
		} else {
			t.AddRow(cells...)
		}
	}
	return t.Render()
}
