package ui

import (
	"github.com/charmbracelet/lipgloss"
)

// Palette is the set of colors a theme renders with
type Palette struct {
	Primary   lipgloss.Color
	Secondary lipgloss.Color
	Success   lipgloss.Color
	Error     lipgloss.Color
	Warning   lipgloss.Color
	Muted     lipgloss.Color
	Border    lipgloss.Color
	Text      lipgloss.Color
}

var (
	darkPalette = Palette{
		Primary:   lipgloss.Color("39"),  // Blue
		Secondary: lipgloss.Color("213"), // Pink
		Success:   lipgloss.Color("42"),  // Green
		Error:     lipgloss.Color("196"), // Red
		Warning:   lipgloss.Color("214"), // Orange
		Muted:     lipgloss.Color("243"), // Gray
		Border:    lipgloss.Color("238"), // Dark gray
		Text:      lipgloss.Color("252"),
	}

	lightPalette = Palette{
		Primary:   lipgloss.Color("25"),
		Secondary: lipgloss.Color("127"),
		Success:   lipgloss.Color("28"),
		Error:     lipgloss.Color("160"),
		Warning:   lipgloss.Color("166"),
		Muted:     lipgloss.Color("245"),
		Border:    lipgloss.Color("250"),
		Text:      lipgloss.Color("235"),
	}
)

// Theme holds every style the chat view renders with
type Theme struct {
	Dark    bool
	Palette Palette

	Header lipgloss.Style
	Status lipgloss.Style
	Footer lipgloss.Style

	Pane      lipgloss.Style
	PaneTitle lipgloss.Style

	SelectedItem lipgloss.Style
	Item         lipgloss.Style
	Unread       lipgloss.Style
	Online       lipgloss.Style

	Author         lipgloss.Style
	OwnAuthor      lipgloss.Style
	MessageTime    lipgloss.Style
	MessageContent lipgloss.Style
	MessageStatus  lipgloss.Style

	Typing lipgloss.Style
	Input  lipgloss.Style
	Muted  lipgloss.Style

	Error   lipgloss.Style
	Success lipgloss.Style
	Warning lipgloss.Style
}

// NewTheme builds the dark or light theme
func NewTheme(dark bool) Theme {
	p := lightPalette
	if dark {
		p = darkPalette
	}
	base := lipgloss.NewStyle()

	return Theme{
		Dark:    dark,
		Palette: p,

		Header: base.Bold(true).Foreground(p.Primary).Padding(0, 1),
		Status: base.Foreground(p.Muted).Padding(0, 1),
		Footer: base.Foreground(p.Muted).Padding(0, 1),

		Pane: base.
			Border(lipgloss.RoundedBorder()).
			BorderForeground(p.Border).
			Padding(0, 1),
		PaneTitle: base.Bold(true).Foreground(p.Primary),

		SelectedItem: base.Foreground(p.Primary).Bold(true),
		Item:         base.Foreground(p.Text),
		Unread:       base.Foreground(p.Warning).Bold(true),
		Online:       base.Foreground(p.Success),

		Author:         base.Foreground(p.Secondary),
		OwnAuthor:      base.Foreground(p.Success).Bold(true),
		MessageTime:    base.Foreground(p.Muted).Italic(true),
		MessageContent: base.Foreground(p.Text),
		MessageStatus:  base.Foreground(p.Muted),

		Typing: base.Foreground(p.Muted).Italic(true).Padding(0, 1),
		Input: base.
			Border(lipgloss.RoundedBorder()).
			BorderForeground(p.Primary).
			Padding(0, 1),
		Muted: base.Foreground(p.Muted),

		Error:   base.Foreground(p.Error).Bold(true),
		Success: base.Foreground(p.Success).Bold(true),
		Warning: base.Foreground(p.Warning).Bold(true),
	}
}

// RenderError renders an error message
func (t Theme) RenderError(msg string) string {
	return t.Error.Render("✗ " + msg)
}

// RenderWarning renders a warning message
func (t Theme) RenderWarning(msg string) string {
	return t.Warning.Render("⚠ " + msg)
}
