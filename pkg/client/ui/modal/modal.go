package modal

import tea "github.com/charmbracelet/bubbletea"

// ModalType identifies a modal for command scoping
type ModalType int

const (
	ModalNone ModalType = iota
	ModalLogin
	ModalHelp
)

// Modal is an overlay that takes keyboard input while it is on top
type Modal interface {
	Type() ModalType

	// HandleKey processes a key. handled reports whether the key was consumed;
	// next is the modal to keep on the stack, or nil to close it.
	HandleKey(msg tea.KeyMsg) (handled bool, next Modal, cmd tea.Cmd)

	Render(width, height int) string

	// IsBlockingInput reports whether keys must not fall through to the view
	IsBlockingInput() bool
}

// ModalStack holds open modals, topmost last
type ModalStack struct {
	modals []Modal
}

// Push opens m on top of the stack
func (s *ModalStack) Push(m Modal) {
	s.modals = append(s.modals, m)
}

// Pop closes the top modal
func (s *ModalStack) Pop() Modal {
	if len(s.modals) == 0 {
		return nil
	}
	top := s.modals[len(s.modals)-1]
	s.modals = s.modals[:len(s.modals)-1]
	return top
}

// Top returns the top modal or nil
func (s *ModalStack) Top() Modal {
	if len(s.modals) == 0 {
		return nil
	}
	return s.modals[len(s.modals)-1]
}

// TopType returns the type of the top modal, ModalNone when empty
func (s *ModalStack) TopType() ModalType {
	if top := s.Top(); top != nil {
		return top.Type()
	}
	return ModalNone
}

// IsEmpty reports whether no modal is open
func (s *ModalStack) IsEmpty() bool {
	return len(s.modals) == 0
}

// Remove closes every modal of type t
func (s *ModalStack) Remove(t ModalType) {
	kept := s.modals[:0]
	for _, m := range s.modals {
		if m.Type() != t {
			kept = append(kept, m)
		}
	}
	s.modals = kept
}

// HandleKey routes a key to the top modal and applies its stack decision
func (s *ModalStack) HandleKey(msg tea.KeyMsg) (bool, tea.Cmd) {
	top := s.Top()
	if top == nil {
		return false, nil
	}

	handled, next, cmd := top.HandleKey(msg)
	if next == nil {
		s.Pop()
	} else if next != top {
		s.modals[len(s.modals)-1] = next
	}

	if !handled && top.IsBlockingInput() {
		handled = true
	}
	return handled, cmd
}
