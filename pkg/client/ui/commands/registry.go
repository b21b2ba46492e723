package commands

import (
	"sort"
	"strings"

	"github.com/aeolun/chatsync/pkg/client/ui/modal"
)

// Registry manages all registered commands
type Registry struct {
	commands []*Command
	keyMap   map[string][]*Command // key -> commands (for dispatch)
}

// NewRegistry creates a new command registry
func NewRegistry() *Registry {
	return &Registry{keyMap: make(map[string][]*Command)}
}

// Register adds a command to the registry
func (r *Registry) Register(cmd Command) {
	c := &cmd
	r.commands = append(r.commands, c)
	for _, key := range cmd.Keys {
		r.keyMap[key] = append(r.keyMap[key], c)
	}
}

// GetCommand finds the first available command for key in the current context.
// Commands are checked in registration order.
func (r *Registry) GetCommand(key string, view int, activeModal modal.ModalType, model interface{}) *Command {
	for _, cmd := range r.keyMap[key] {
		if r.isCommandAvailable(cmd, view, activeModal, model) {
			return cmd
		}
	}
	return nil
}

func (r *Registry) isCommandAvailable(cmd *Command, view int, activeModal modal.ModalType, model interface{}) bool {
	if len(cmd.ModalStates) > 0 && !containsModal(cmd.ModalStates, activeModal) {
		return false
	}

	if cmd.Scope == ScopeView && len(cmd.ViewStates) > 0 && !containsView(cmd.ViewStates, view) {
		return false
	}

	if cmd.IsAvailable != nil && !cmd.IsAvailable(model) {
		return false
	}

	return true
}

func containsModal(list []modal.ModalType, t modal.ModalType) bool {
	for _, m := range list {
		if m == t {
			return true
		}
	}
	return false
}

func containsView(list []int, v int) bool {
	for _, x := range list {
		if x == v {
			return true
		}
	}
	return false
}

// GetAvailableCommands returns the commands available in the current context
// sorted by priority
func (r *Registry) GetAvailableCommands(view int, activeModal modal.ModalType, model interface{}) []*Command {
	var available []*Command
	for _, cmd := range r.commands {
		if r.isCommandAvailable(cmd, view, activeModal, model) {
			available = append(available, cmd)
		}
	}

	sort.SliceStable(available, func(i, j int) bool {
		return available[i].Priority < available[j].Priority
	})
	return available
}

// GenerateFooter creates footer text like "[Enter] Send  [Ctrl+T] Theme"
func (r *Registry) GenerateFooter(view int, activeModal modal.ModalType, model interface{}) string {
	var parts []string
	for _, cmd := range r.GetAvailableCommands(view, activeModal, model) {
		if text := cmd.FooterText(); text != "" {
			parts = append(parts, text)
		}
	}
	return strings.Join(parts, "  ")
}

// GenerateHelp returns [keys, description] pairs for the available commands
func (r *Registry) GenerateHelp(view int, activeModal modal.ModalType, model interface{}) [][]string {
	var help [][]string
	seen := make(map[string]bool)

	for _, cmd := range r.GetAvailableCommands(view, activeModal, model) {
		formatted := make([]string, len(cmd.Keys))
		for i, k := range cmd.Keys {
			formatted[i] = formatKey(k)
		}
		keys := strings.Join(formatted, " / ")
		if seen[keys] || len(cmd.Keys) == 0 || cmd.HelpText == "" {
			continue
		}
		seen[keys] = true
		help = append(help, []string{keys, cmd.HelpText})
	}

	return help
}
