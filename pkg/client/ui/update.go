package ui

import (
	"errors"

	"github.com/aeolun/chatsync/pkg/client"
	"github.com/aeolun/chatsync/pkg/client/ui/modal"
	tea "github.com/charmbracelet/bubbletea"
)

// chromeHeight is the rows used by header, typing line, input and footer
const chromeHeight = 6

// Update handles incoming messages and updates the model
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return m.handleKeyPress(msg)

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		w, h := m.layout()
		m.viewport.Width = w
		m.viewport.Height = h
		m.composer.Width = m.width - 8
		m.refresh()
		return m, nil

	case sessionChangedMsg:
		m.refresh()
		return m, waitForChange(m.session.Changes())

	case loginResultMsg:
		return m.handleLoginResult(msg)

	case logoutResultMsg:
		if msg.err != nil {
			m.logf("Logout failed: %v", msg.err)
			m.errorMessage = "Logout failed: " + msg.err.Error()
		}
		m.view = ViewLogin
		m.composer.Reset()
		m.composer.Blur()
		m.modalStack = modal.ModalStack{}
		m.modalStack.Push(m.newLoginModal(""))
		m.statusMessage = ""
		return m, nil

	case roomSelectedMsg:
		if msg.err != nil {
			m.logf("Switching to %s: %v", msg.room, msg.err)
			m.errorMessage = "Could not load #" + msg.room + ": " + msg.err.Error()
		} else {
			m.errorMessage = ""
			m.statusMessage = "Joined #" + msg.room
		}
		m.renderedCount = 0
		m.refresh()
		return m, nil
	}

	return m, nil
}

func (m Model) handleLoginResult(msg loginResultMsg) (tea.Model, tea.Cmd) {
	if msg.err != nil {
		m.logf("Login failed: %v", msg.err)
		text := msg.err.Error()
		if errors.Is(msg.err, client.ErrEmptyName) {
			text = "Name cannot be empty"
		}
		if login, ok := m.modalStack.Top().(*modal.LoginModal); ok {
			login.SetError(text)
		}
		return m, nil
	}

	m.enterChat()
	if msg.user != nil {
		m.statusMessage = "Welcome, " + msg.user.Name
	}
	return m, nil
}

func (m Model) handleKeyPress(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	key := msg.String()

	// Quit works everywhere, even with a blocking modal open
	if key == "ctrl+c" {
		return m, tea.Quit
	}

	if !m.modalStack.IsEmpty() {
		if handled, cmd := m.modalStack.HandleKey(msg); handled {
			return m, cmd
		}
	}

	if cmd := m.commands.GetCommand(key, int(m.view), m.modalStack.TopType(), &m); cmd != nil && cmd.Execute != nil {
		result, teaCmd := cmd.Execute(&m)
		return *result.(*Model), teaCmd
	}

	if m.view != ViewChat || !m.modalStack.IsEmpty() {
		return m, nil
	}

	before := m.composer.Value()
	var cmd tea.Cmd
	m.composer, cmd = m.composer.Update(msg)
	if m.composer.Value() != before {
		m.session.Keystroke()
	}
	return m, cmd
}
