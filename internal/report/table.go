package report

import (
	"strings"

	"github.com/charmbracelet/lipgloss"
)

// Column configures one table column. A zero Width fits the widest cell.
type Column struct {
	Header string
	Width  int
	Align  lipgloss.Position
}

// Row is one line of cells with an optional per-row style.
type Row struct {
	Data  []string
	Style *lipgloss.Style
}

// Table renders rows of text in fixed-width columns.
type Table struct {
	columns []Column
	rows    []Row

	headerStyle lipgloss.Style
	rowStyle    lipgloss.Style
	borderStyle lipgloss.Style
	showBorder  bool
}

// NewTable creates a bordered table with the default palette.
func NewTable(palette Palette, columns ...Column) *Table {
	return &Table{
		columns: append([]Column(nil), columns...),
		headerStyle: lipgloss.NewStyle().
			Foreground(palette.Primary).
			Bold(true).
			Padding(0, 1),
		rowStyle: lipgloss.NewStyle().
			Foreground(palette.Text).
			Padding(0, 1),
		borderStyle: lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(palette.Muted),
		showBorder: true,
	}
}

// SetBorder toggles the outer border.
func (t *Table) SetBorder(show bool) *Table {
	t.showBorder = show
	return t
}

// AddRow appends a row rendered with the default row style.
func (t *Table) AddRow(cells ...string) {
	t.rows = append(t.rows, Row{Data: cells})
}

// AddStyledRow appends a row rendered with s.
func (t *Table) AddStyledRow(s lipgloss.Style, cells ...string) {
	t.rows = append(t.rows, Row{Data: cells, Style: &s})
}

// Len returns the number of rows.
func (t *Table) Len() int {
	return len(t.rows)
}

// Render draws the table.
func (t *Table) Render() string {
	widths := t.widths()

	var content strings.Builder
	var header strings.Builder
	for i, col := range t.columns {
		header.WriteString(renderCell(col.Header, widths[i], col.Align, t.headerStyle))
		if i < len(t.columns)-1 {
			header.WriteString("│")
		}
	}
	content.WriteString(header.String())
	content.WriteString("\n")

	var separator strings.Builder
	for i, w := range widths {
		// cells are padded by one on each side
		separator.WriteString(strings.Repeat("─", w+2))
		if i < len(widths)-1 {
			separator.WriteString("┼")
		}
	}
	content.WriteString(separator.String())

	for _, row := range t.rows {
		style := t.rowStyle
		if row.Style != nil {
			style = row.Style.Padding(0, 1)
		}

		content.WriteString("\n")
		for i, col := range t.columns {
			cell := ""
			if i < len(row.Data) {
				cell = row.Data[i]
			}
			content.WriteString(renderCell(cell, widths[i], col.Align, style))
			if i < len(t.columns)-1 {
				content.WriteString("│")
			}
		}
	}

	out := content.String()
	if t.showBorder {
		out = t.borderStyle.Render(out)
	}
	return out
}

func (t *Table) widths() []int {
	widths := make([]int, len(t.columns))
	for i, col := range t.columns {
		if col.Width > 0 {
			widths[i] = col.Width
			continue
		}
		w := lipgloss.Width(col.Header)
		for _, row := range t.rows {
			if i < len(row.Data) {
				w = max(w, lipgloss.Width(row.Data[i]))
			}
		}
		widths[i] = w
	}
	return widths
}

// renderCell truncates content to width and pads it to the column.
func renderCell(content string, width int, align lipgloss.Position, style lipgloss.Style) string {
	if len(content) > width {
		if width > 3 {
			content = content[:width-3] + "..."
		} else {
			content = content[:width]
		}
	}
	// Width includes horizontal padding
	return style.Width(width + 2).Align(align).Render(content)
}
