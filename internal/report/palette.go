package report

import "github.com/charmbracelet/lipgloss"

var (
	Cyan   = lipgloss.Color("#00E5FF")
	Yellow = lipgloss.Color("#FFB500")
	Green  = lipgloss.Color("#2AFFAA")
	Red    = lipgloss.Color("#FF5555")
	Base01 = lipgloss.Color("#6C7280")
	Base2  = lipgloss.Color("#ECEFF4")
)

// Palette groups the colors used by the report renderers.
type Palette struct {
	Primary lipgloss.Color
	Text    lipgloss.Color
	Muted   lipgloss.Color
	Hold    lipgloss.Color
	Partial lipgloss.Color
	Full    lipgloss.Color
}

// DefaultPalette returns the default color palette.
func DefaultPalette() Palette {
	return Palette{
		Primary: Cyan,
		Text:    Base2,
		Muted:   Base01,
		Hold:    Green,
		Partial: Yellow,
		Full:    Red,
	}
}
