package ui

import (
	"strings"

	"github.com/76creates/stickers/flexbox"
	"github.com/aeolun/chatsync/pkg/client"
	"github.com/aeolun/chatsync/pkg/client/ui/modal"
	"github.com/charmbracelet/lipgloss"
)

// View renders the current view
func (m Model) View() string {
	if m.width == 0 || m.height == 0 {
		return "Loading..."
	}

	if top := m.modalStack.Top(); top != nil {
		return top.Render(m.width, m.height)
	}

	if m.view == ViewLogin {
		return ""
	}
	return m.renderChat()
}

func (m Model) renderChat() string {
	contentHeight := m.height - chromeHeight
	if contentHeight < 3 {
		contentHeight = 3
	}

	layout := flexbox.New(m.width, m.height)

	headerRow := layout.NewRow().AddCells(
		flexbox.NewCell(1, 1).SetContent(m.renderHeader()),
	)
	contentRow := layout.NewRow().AddCells(
		flexbox.NewCell(1, contentHeight).SetContent(m.renderPanes(contentHeight)),
	)
	typingRow := layout.NewRow().AddCells(
		flexbox.NewCell(1, 1).SetContent(m.theme.Typing.Render(formatTypingLine(m.session.Typing()))),
	)
	inputRow := layout.NewRow().AddCells(
		flexbox.NewCell(1, 3).SetContent(m.theme.Input.Width(m.width - 2).Render(m.composer.View())),
	)
	footerRow := layout.NewRow().AddCells(
		flexbox.NewCell(1, 1).SetContent(m.renderFooter()),
	)

	layout.AddRows([]*flexbox.Row{headerRow, contentRow, typingRow, inputRow, footerRow})
	return layout.Render()
}

// renderPanes lays out rooms, messages and roster side by side
func (m Model) renderPanes(height int) string {
	panes := flexbox.NewHorizontal(m.width, height)

	var columns []*flexbox.Column
	if m.session.MultiRoom() {
		columns = append(columns, panes.NewColumn().AddCells(
			flexbox.NewCell(1, 1).SetStyle(m.theme.Pane).SetContent(m.renderRooms()),
		))
	}
	columns = append(columns,
		panes.NewColumn().AddCells(
			flexbox.NewCell(4, 1).SetStyle(m.theme.Pane).SetContent(m.viewport.View()),
		),
		panes.NewColumn().AddCells(
			flexbox.NewCell(1, 1).SetStyle(m.theme.Pane).SetContent(m.renderRoster()),
		),
	)

	panes.AddColumns(columns)
	return panes.Render()
}

func (m Model) renderHeader() string {
	title := "chatsync · #" + m.session.CurrentRoom()

	var status string
	switch state := m.session.ConnectionState(); state {
	case client.StateTypeConnected:
		status = m.theme.Success.Render("● " + state.String())
	case client.StateTypeReconnecting:
		status = m.theme.RenderWarning(state.String() + "…")
	default:
		status = m.theme.RenderError(state.String())
	}
	if u := m.session.CurrentUser(); u != nil {
		status = m.theme.Status.Render(u.Name) + " " + status
	}

	left := m.theme.Header.Render(title)
	gap := m.width - lipgloss.Width(left) - lipgloss.Width(status)
	if gap < 1 {
		gap = 1
	}
	return left + strings.Repeat(" ", gap) + status
}

func (m Model) renderRooms() string {
	lines := []string{m.theme.PaneTitle.Render("Rooms")}
	current := m.session.CurrentRoom()
	for _, r := range m.session.Rooms() {
		lines = append(lines, formatRoom(m.theme, r, r.ID == current))
	}
	return strings.Join(lines, "\n")
}

func (m Model) renderRoster() string {
	roster := m.session.Roster()
	selfID := ""
	if u := m.session.CurrentUser(); u != nil {
		selfID = u.ID
	}

	lines := []string{m.theme.PaneTitle.Render("Online")}
	if len(roster) == 0 {
		lines = append(lines, m.theme.Muted.Render("Nobody here"))
	}
	for _, u := range roster {
		lines = append(lines, formatRosterEntry(m.theme, u, selfID))
	}
	return strings.Join(lines, "\n")
}

func (m Model) renderFooter() string {
	footer := m.commands.GenerateFooter(int(m.view), modal.ModalNone, &m)

	switch {
	case m.errorMessage != "":
		footer = m.theme.RenderError(m.errorMessage) + "  " + footer
	case m.statusMessage != "":
		footer = m.theme.Success.Render(m.statusMessage) + "  " + footer
	}
	return m.theme.Footer.Render(footer)
}
