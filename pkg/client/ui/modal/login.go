package modal

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

// MaxNameLength caps display names entered at login
const MaxNameLength = 32

// LoginModal asks for a display name. It stays open until the login succeeds.
type LoginModal struct {
	input        textinput.Model
	errorMessage string
	pending      bool
	onConfirm    func(name string) tea.Cmd
	onCancel     func() tea.Cmd
}

// NewLoginModal creates the login prompt, prefilled with initialName
func NewLoginModal(initialName string, onConfirm func(string) tea.Cmd, onCancel func() tea.Cmd) *LoginModal {
	input := textinput.New()
	input.Placeholder = "Your name"
	input.CharLimit = MaxNameLength
	input.Width = 40
	input.Prompt = ""
	input.SetValue(initialName)
	input.Focus()

	return &LoginModal{
		input:     input,
		onConfirm: onConfirm,
		onCancel:  onCancel,
	}
}

// Type returns the modal type
func (m *LoginModal) Type() ModalType {
	return ModalLogin
}

// Value returns the name typed so far
func (m *LoginModal) Value() string {
	return m.input.Value()
}

// SetError shows a failed login attempt and re-enables input
func (m *LoginModal) SetError(msg string) {
	m.errorMessage = msg
	m.pending = false
}

// Pending reports whether a login attempt is in flight
func (m *LoginModal) Pending() bool {
	return m.pending
}

// HandleKey processes keyboard input
func (m *LoginModal) HandleKey(msg tea.KeyMsg) (bool, Modal, tea.Cmd) {
	switch msg.String() {
	case "enter":
		if m.pending {
			return true, m, nil
		}
		name := strings.TrimSpace(m.input.Value())
		if name == "" {
			m.errorMessage = "Name cannot be empty"
			return true, m, nil
		}

		m.errorMessage = ""
		m.pending = true
		var cmd tea.Cmd
		if m.onConfirm != nil {
			cmd = m.onConfirm(name)
		}
		// Closed by the model once the login result arrives
		return true, m, cmd

	case "esc":
		var cmd tea.Cmd
		if m.onCancel != nil {
			cmd = m.onCancel()
		}
		return true, nil, cmd
	}

	if m.pending {
		return true, m, nil
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return true, m, cmd
}

// Render returns the modal content
func (m *LoginModal) Render(width, height int) string {
	titleStyle := lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color("39")).
		MarginBottom(1)

	inputStyle := lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.Color("39")).
		Padding(0, 1).
		Width(44)

	mutedStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("243"))

	errorStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("196")).
		Bold(true)

	modalStyle := lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.Color("39")).
		Padding(1, 2)

	status := mutedStyle.Render(fmt.Sprintf("Characters: %d/%d", len([]rune(m.input.Value())), MaxNameLength))
	if m.pending {
		status = mutedStyle.Render("Connecting…")
	}

	var errorMsg string
	if m.errorMessage != "" {
		errorMsg = "\n" + errorStyle.Render("⚠ "+m.errorMessage)
	}

	content := lipgloss.JoinVertical(
		lipgloss.Left,
		titleStyle.Render("Join the chat"),
		"Pick a display name:",
		"",
		inputStyle.Render(m.input.View()),
		status,
		errorMsg,
		"",
		mutedStyle.Render("[Enter] Join  [Esc] Quit"),
	)

	return lipgloss.Place(width, height, lipgloss.Center, lipgloss.Center, modalStyle.Render(content))
}

// IsBlockingInput returns true (this modal blocks all input)
func (m *LoginModal) IsBlockingInput() bool {
	return true
}
