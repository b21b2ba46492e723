package commands

import (
	"strings"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/aeolun/chatsync/pkg/client/ui/modal"
)

// Command represents a single keyboard command
type Command struct {
	// Keys that trigger this command (e.g., "enter", "ctrl+t")
	Keys []string

	// Name is shown in the footer next to the keys
	Name string

	// HelpText is shown in the help modal
	HelpText string

	Scope CommandScope

	// ViewStates lists the views where a ScopeView command is active
	ViewStates []int

	// ModalStates lists the modals where this command stays active.
	// Empty means the command is available in every modal.
	ModalStates []modal.ModalType

	// IsAvailable checks model state; nil means always available
	IsAvailable func(interface{}) bool

	// Execute runs the command against the model
	Execute func(interface{}) (interface{}, tea.Cmd)

	// Priority orders footer and help output (lower first)
	Priority int
}

// CommandScope defines the availability scope of a command
type CommandScope int

const (
	ScopeGlobal CommandScope = iota // Available everywhere
	ScopeView                       // Limited to specific views
)

// FooterText renders "[Keys] Name", e.g. "[Ctrl+T] Theme"
func (c *Command) FooterText() string {
	if c.Name == "" || len(c.Keys) == 0 {
		return ""
	}

	formatted := make([]string, len(c.Keys))
	for i, k := range c.Keys {
		formatted[i] = formatKey(k)
	}
	return "[" + strings.Join(formatted, "/") + "] " + c.Name
}

// formatKey converts a key string to display format
func formatKey(key string) string {
	switch key {
	case "up":
		return "↑"
	case "down":
		return "↓"
	case "enter":
		return "Enter"
	case "esc":
		return "Esc"
	case "tab":
		return "Tab"
	case "shift+tab":
		return "Shift+Tab"
	case "pgup":
		return "PgUp"
	case "pgdown":
		return "PgDn"
	case "f1":
		return "F1"
	}
	if strings.HasPrefix(key, "ctrl+") && len(key) == 6 {
		return "Ctrl+" + strings.ToUpper(key[5:])
	}
	return key
}

// CommandBuilder provides a fluent interface for building commands
type CommandBuilder struct {
	cmd Command
}

// NewCommand creates a new command builder with sensible defaults
func NewCommand() *CommandBuilder {
	return &CommandBuilder{
		cmd: Command{
			Scope:    ScopeView,
			Priority: 100,
		},
	}
}

// Keys sets the key bindings for this command
func (b *CommandBuilder) Keys(keys ...string) *CommandBuilder {
	b.cmd.Keys = keys
	return b
}

// Name sets the command name (used for footer generation)
func (b *CommandBuilder) Name(name string) *CommandBuilder {
	b.cmd.Name = name
	return b
}

// Help sets the help text description
func (b *CommandBuilder) Help(text string) *CommandBuilder {
	b.cmd.HelpText = text
	return b
}

// Global marks this as a global command (available everywhere)
func (b *CommandBuilder) Global() *CommandBuilder {
	b.cmd.Scope = ScopeGlobal
	return b
}

// InViews restricts this command to specific views
func (b *CommandBuilder) InViews(views ...int) *CommandBuilder {
	b.cmd.ViewStates = views
	return b
}

// InModals restricts this command to specific modals.
// InModals(modal.ModalNone) disables it whenever a modal is open.
func (b *CommandBuilder) InModals(modals ...modal.ModalType) *CommandBuilder {
	b.cmd.ModalStates = modals
	return b
}

// When sets the availability condition function
func (b *CommandBuilder) When(fn func(interface{}) bool) *CommandBuilder {
	b.cmd.IsAvailable = fn
	return b
}

// Do sets the command execution function
func (b *CommandBuilder) Do(fn func(interface{}) (interface{}, tea.Cmd)) *CommandBuilder {
	b.cmd.Execute = fn
	return b
}

// Priority sets the display priority (lower = shown first)
func (b *CommandBuilder) Priority(p int) *CommandBuilder {
	b.cmd.Priority = p
	return b
}

// Build returns the constructed Command
func (b *CommandBuilder) Build() Command {
	return b.cmd
}
