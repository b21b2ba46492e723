package ui

import (
	"fmt"
	"strings"

	"github.com/aeolun/chatsync/pkg/protocol"
	"github.com/charmbracelet/lipgloss"
)

// formatTypingLine describes who is typing, e.g. "Bob and Carol are typing…"
func formatTypingLine(users []protocol.User) string {
	names := make([]string, 0, len(users))
	for _, u := range users {
		if u.Name != "" {
			names = append(names, u.Name)
		}
	}

	switch len(names) {
	case 0:
		return ""
	case 1:
		return names[0] + " is typing…"
	case 2:
		return names[0] + " and " + names[1] + " are typing…"
	case 3:
		return names[0] + ", " + names[1] + " and " + names[2] + " are typing…"
	default:
		return fmt.Sprintf("%s, %s and %d others are typing…", names[0], names[1], len(names)-2)
	}
}

// statusMarker shows delivery state for the user's own messages
func statusMarker(s protocol.MessageStatus) string {
	switch s {
	case protocol.StatusSent:
		return "✓"
	case protocol.StatusDelivered:
		return "✓✓"
	case protocol.StatusSeen:
		return "✓✓ seen"
	}
	return ""
}

// formatMessage renders one message wrapped to width
func formatMessage(t Theme, m protocol.Message, selfID string, width int) string {
	author := t.Author.Render(m.Sender.Name)
	own := m.Sender.ID == selfID
	if own {
		author = t.OwnAuthor.Render(m.Sender.Name)
	}

	line := t.MessageTime.Render(m.Timestamp) + " " + author + ": " + t.MessageContent.Render(m.Content)
	if own {
		if marker := statusMarker(m.Status); marker != "" {
			line += " " + t.MessageStatus.Render(marker)
		}
	}

	if width <= 0 {
		return line
	}
	return lipgloss.NewStyle().Width(width).Render(line)
}

// buildMessageContent renders the whole log for the viewport
func buildMessageContent(t Theme, messages []protocol.Message, selfID string, width int) string {
	if len(messages) == 0 {
		return t.Muted.Render("No messages yet. Say hello!")
	}

	lines := make([]string, len(messages))
	for i, m := range messages {
		lines[i] = formatMessage(t, m, selfID, width)
	}
	return strings.Join(lines, "\n")
}

// formatRoom renders one room list entry
func formatRoom(t Theme, r protocol.Room, current bool) string {
	label := "# " + r.ID
	if r.Unread > 0 {
		label += " " + t.Unread.Render(fmt.Sprintf("(%d)", r.Unread))
	}
	if current {
		return t.SelectedItem.Render("▸ " + label)
	}
	return t.Item.Render("  " + label)
}

// formatRosterEntry renders one present user
func formatRosterEntry(t Theme, u protocol.User, selfID string) string {
	name := u.Name
	if name == "" {
		name = u.ID
	}
	if u.ID == selfID {
		name += " (you)"
	}
	return t.Online.Render("● ") + t.Item.Render(name)
}
