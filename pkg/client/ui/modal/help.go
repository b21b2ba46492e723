package modal

import (
	"fmt"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

// helpChrome is the rows taken by border, padding, title and hint
const helpChrome = 8

// HelpModal lists keyboard shortcuts, scrollable when the terminal is short
type HelpModal struct {
	entries [][]string // [keys, description]
	offset  int
	visible int // rows shown at the last render
}

// NewHelpModal creates a help modal for the given [keys, description] pairs
func NewHelpModal(entries [][]string) *HelpModal {
	return &HelpModal{entries: entries}
}

// Type returns the modal type
func (m *HelpModal) Type() ModalType {
	return ModalHelp
}

// HandleKey closes on f1 or esc, scrolls on up/down and swallows everything else
func (m *HelpModal) HandleKey(msg tea.KeyMsg) (bool, Modal, tea.Cmd) {
	switch msg.String() {
	case "f1", "esc":
		return true, nil, nil
	case "up", "k":
		if m.offset > 0 {
			m.offset--
		}
	case "down", "j":
		if m.visible > 0 && m.offset+m.visible < len(m.entries) {
			m.offset++
		}
	}
	return true, m, nil
}

// Render draws the shortcut table centered in width x height
func (m *HelpModal) Render(width, height int) string {
	accent := lipgloss.Color("39")
	keyStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("213")).Width(18)
	descStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("252"))
	hintStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("243")).Italic(true)

	m.visible = len(m.entries)
	if rows := height - helpChrome; rows > 0 && rows < m.visible {
		m.visible = rows
	}
	if m.offset+m.visible > len(m.entries) {
		m.offset = len(m.entries) - m.visible
	}

	rows := make([]string, 0, m.visible)
	for _, e := range m.entries[m.offset : m.offset+m.visible] {
		rows = append(rows, keyStyle.Render(e[0])+descStyle.Render(e[1]))
	}
	if len(rows) == 0 {
		rows = append(rows, hintStyle.Render("No shortcuts available here"))
	}

	hint := "[Press F1 or Esc to close]"
	if m.visible < len(m.entries) {
		hint = fmt.Sprintf("[↑/↓ scroll %d-%d of %d]  %s", m.offset+1, m.offset+m.visible, len(m.entries), hint)
	}

	body := lipgloss.JoinVertical(lipgloss.Left,
		lipgloss.NewStyle().Bold(true).Foreground(accent).Render("Keyboard Shortcuts"),
		"",
		strings.Join(rows, "\n"),
		"",
		hintStyle.Render(hint),
	)

	box := lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(accent).
		Padding(1, 2).
		Render(body)

	return lipgloss.Place(width, height, lipgloss.Center, lipgloss.Center, box)
}

// IsBlockingInput returns true, the view gets no keys while help is open
func (m *HelpModal) IsBlockingInput() bool {
	return true
}
