package ui

import (
	"context"
	"log"

	"github.com/aeolun/chatsync/pkg/client"
	"github.com/aeolun/chatsync/pkg/client/ui/commands"
	"github.com/aeolun/chatsync/pkg/client/ui/modal"
	"github.com/aeolun/chatsync/pkg/protocol"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
)

// ViewState represents the current view
type ViewState int

const (
	ViewLogin ViewState = iota
	ViewChat
)

const maxMessageLength = 2000

// Backend performs the login flow for the view
type Backend interface {
	Login(ctx context.Context, name string) (*protocol.User, error)
	Logout() error
}

// Model represents the application state
type Model struct {
	ctx     context.Context
	backend Backend
	session *client.Session
	logger  *log.Logger

	// Current view and modals
	view       ViewState
	modalStack modal.ModalStack
	commands   *commands.Registry

	// Widgets
	composer textinput.Model
	viewport viewport.Model
	theme    Theme

	// UI state
	width         int
	height        int
	renderedCount int // messages in the viewport at the last refresh

	// Error and status
	errorMessage  string
	statusMessage string
}

// NewModel creates the application model. resumed is the stored identity if
// one was found; resumeErr is the error from starting its session.
func NewModel(ctx context.Context, backend Backend, session *client.Session, resumed *protocol.User, resumeErr error, logger *log.Logger) Model {
	composer := textinput.New()
	composer.Placeholder = "Type a message…"
	composer.CharLimit = maxMessageLength
	composer.Prompt = "> "

	m := Model{
		ctx:      ctx,
		backend:  backend,
		session:  session,
		logger:   logger,
		composer: composer,
		theme:    NewTheme(session.DarkMode()),
	}

	m.commands = commands.NewRegistry()
	m.registerCommands()

	if resumed != nil && resumeErr == nil {
		m.enterChat()
	} else {
		name := ""
		if resumed != nil {
			name = resumed.Name
		}
		login := m.newLoginModal(name)
		if resumeErr != nil {
			login.SetError(resumeErr.Error())
		}
		m.view = ViewLogin
		m.modalStack.Push(login)
	}

	return m
}

func (m *Model) logf(format string, args ...interface{}) {
	if m.logger != nil {
		m.logger.Printf(format, args...)
	}
}

func (m *Model) newLoginModal(name string) *modal.LoginModal {
	backend, ctx := m.backend, m.ctx
	return modal.NewLoginModal(name,
		func(name string) tea.Cmd {
			return func() tea.Msg {
				user, err := backend.Login(ctx, name)
				return loginResultMsg{user: user, err: err}
			}
		},
		func() tea.Cmd { return tea.Quit },
	)
}

func (m *Model) enterChat() {
	m.view = ViewChat
	m.modalStack.Remove(modal.ModalLogin)
	m.composer.Focus()
	m.errorMessage = ""
	m.renderedCount = 0
	m.refresh()
}

// registerCommands sets up all keyboard commands
func (m *Model) registerCommands() {
	// === Global Commands ===

	m.commands.Register(commands.NewCommand().
		Keys("ctrl+c").
		Name("Quit").
		Help("Quit the application").
		Global().
		Priority(900).
		Do(func(i interface{}) (interface{}, tea.Cmd) {
			return i, tea.Quit
		}).
		Build())

	m.commands.Register(commands.NewCommand().
		Keys("f1").
		Name("Help").
		Help("Show keyboard shortcuts").
		InViews(int(ViewChat)).
		InModals(modal.ModalNone).
		Priority(800).
		Do(func(i interface{}) (interface{}, tea.Cmd) {
			model := i.(*Model)
			help := model.commands.GenerateHelp(int(model.view), modal.ModalNone, model)
			model.modalStack.Push(modal.NewHelpModal(help))
			return model, nil
		}).
		Build())

	// === Chat Commands ===

	m.commands.Register(commands.NewCommand().
		Keys("enter").
		Name("Send").
		Help("Send the message").
		InViews(int(ViewChat)).
		InModals(modal.ModalNone).
		Priority(10).
		Do(func(i interface{}) (interface{}, tea.Cmd) {
			model := i.(*Model)
			model.send()
			return model, nil
		}).
		Build())

	m.commands.Register(commands.NewCommand().
		Keys("tab").
		Name("Next room").
		Help("Switch to the next room").
		InViews(int(ViewChat)).
		InModals(modal.ModalNone).
		When(func(i interface{}) bool {
			return len(i.(*Model).session.Rooms()) > 1
		}).
		Priority(20).
		Do(func(i interface{}) (interface{}, tea.Cmd) {
			model := i.(*Model)
			return model, model.switchRoom(1)
		}).
		Build())

	m.commands.Register(commands.NewCommand().
		Keys("shift+tab").
		Help("Switch to the previous room").
		InViews(int(ViewChat)).
		InModals(modal.ModalNone).
		When(func(i interface{}) bool {
			return len(i.(*Model).session.Rooms()) > 1
		}).
		Priority(21).
		Do(func(i interface{}) (interface{}, tea.Cmd) {
			model := i.(*Model)
			return model, model.switchRoom(-1)
		}).
		Build())

	m.commands.Register(commands.NewCommand().
		Keys("pgup").
		Help("Scroll messages up").
		InViews(int(ViewChat)).
		InModals(modal.ModalNone).
		Priority(30).
		Do(func(i interface{}) (interface{}, tea.Cmd) {
			model := i.(*Model)
			model.viewport.HalfViewUp()
			return model, nil
		}).
		Build())

	m.commands.Register(commands.NewCommand().
		Keys("pgdown").
		Help("Scroll messages down").
		InViews(int(ViewChat)).
		InModals(modal.ModalNone).
		Priority(31).
		Do(func(i interface{}) (interface{}, tea.Cmd) {
			model := i.(*Model)
			model.viewport.HalfViewDown()
			return model, nil
		}).
		Build())

	m.commands.Register(commands.NewCommand().
		Keys("ctrl+t").
		Name("Theme").
		Help("Toggle dark/light theme").
		InViews(int(ViewChat)).
		InModals(modal.ModalNone).
		Priority(40).
		Do(func(i interface{}) (interface{}, tea.Cmd) {
			model := i.(*Model)
			model.theme = NewTheme(model.session.ToggleTheme())
			model.refresh()
			return model, nil
		}).
		Build())

	m.commands.Register(commands.NewCommand().
		Keys("ctrl+l").
		Name("Logout").
		Help("Log out and forget this identity").
		InViews(int(ViewChat)).
		InModals(modal.ModalNone).
		Priority(50).
		Do(func(i interface{}) (interface{}, tea.Cmd) {
			model := i.(*Model)
			backend := model.backend
			return model, func() tea.Msg {
				return logoutResultMsg{err: backend.Logout()}
			}
		}).
		Build())
}

// send submits the composer content to the current room
func (m *Model) send() {
	sent, err := m.session.SendMessage(m.composer.Value())
	if sent {
		m.composer.Reset()
	}
	if err != nil {
		m.logf("Send failed: %v", err)
		m.errorMessage = "Message not delivered: " + err.Error()
	} else if sent {
		m.errorMessage = ""
	}
	m.refresh()
	m.viewport.GotoBottom()
}

// switchRoom selects the room delta positions away from the current one
func (m *Model) switchRoom(delta int) tea.Cmd {
	rooms := m.session.Rooms()
	if len(rooms) < 2 {
		return nil
	}

	current := 0
	for i, r := range rooms {
		if r.ID == m.session.CurrentRoom() {
			current = i
			break
		}
	}
	target := rooms[(current+delta+len(rooms))%len(rooms)].ID

	session, ctx := m.session, m.ctx
	return func() tea.Msg {
		return roomSelectedMsg{room: target, err: session.SelectRoom(ctx, target)}
	}
}

// refresh rebuilds the message viewport from the session
func (m *Model) refresh() {
	if m.theme.Dark != m.session.DarkMode() {
		m.theme = NewTheme(m.session.DarkMode())
	}
	if m.viewport.Width == 0 || m.viewport.Height == 0 {
		return
	}

	messages := m.session.RenderableMessages()
	selfID := ""
	if u := m.session.CurrentUser(); u != nil {
		selfID = u.ID
	}

	follow := m.viewport.AtBottom() || len(messages) < m.renderedCount
	m.viewport.SetContent(buildMessageContent(m.theme, messages, selfID, m.viewport.Width))
	if follow || m.renderedCount == 0 {
		m.viewport.GotoBottom()
	}
	m.renderedCount = len(messages)
}

// layout returns the message viewport size for the current window
func (m *Model) layout() (width, height int) {
	sideColumns := 1
	if m.session.MultiRoom() {
		sideColumns = 2
	}
	ratio := 4 + sideColumns

	// Pane border and padding take 4 columns and 2 rows
	width = m.width*4/ratio - 4
	height = m.height - chromeHeight - 2
	if width < 10 {
		width = 10
	}
	if height < 1 {
		height = 1
	}
	return width, height
}

// Init starts listening for session changes
func (m Model) Init() tea.Cmd {
	return tea.Batch(textinput.Blink, waitForChange(m.session.Changes()))
}

// Messages

type sessionChangedMsg struct{}

type loginResultMsg struct {
	user *protocol.User
	err  error
}

type logoutResultMsg struct {
	err error
}

type roomSelectedMsg struct {
	room string
	err  error
}

// waitForChange blocks until the session signals a mutation
func waitForChange(changes <-chan struct{}) tea.Cmd {
	return func() tea.Msg {
		if _, ok := <-changes; !ok {
			return nil
		}
		return sessionChangedMsg{}
	}
}
