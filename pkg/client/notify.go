package client

import (
	"log"
	"sync"
	"time"

	"github.com/aeolun/chatsync/pkg/client/assets"
	"github.com/gen2brain/beeep"
)

const maxNotifyRunes = 200

// DesktopNotifier shows incoming messages as desktop notifications
type DesktopNotifier struct {
	icon     string
	logger   *log.Logger
	minGap   time.Duration
	now      func() time.Time
	send     func(title, body string, icon any) error
	mu       sync.Mutex
	lastSent time.Time
}

// NewDesktopNotifier creates a notifier. The notification icon is written to
// the state directory; without it notifications go out with the system default.
func NewDesktopNotifier(state StateInterface, logger *log.Logger) *DesktopNotifier {
	n := &DesktopNotifier{
		logger: logger,
		minGap: time.Second,
		now:    time.Now,
		send:   beeep.Notify,
	}

	if state != nil {
		icon, err := assets.NotificationIcon(state.GetStateDir(), state)
		if err != nil {
			n.logf("Notification icon unavailable: %v", err)
		} else {
			n.icon = icon
		}
	}

	beeep.AppName = "chatsync"
	return n
}

func (n *DesktopNotifier) logf(format string, args ...interface{}) {
	if n.logger != nil {
		n.logger.Printf(format, args...)
	}
}

// Notify shows one notification; bursts within a second collapse into the first
func (n *DesktopNotifier) Notify(title, body string) error {
	n.mu.Lock()
	now := n.now()
	if !n.lastSent.IsZero() && now.Sub(n.lastSent) < n.minGap {
		n.mu.Unlock()
		return nil
	}
	n.lastSent = now
	n.mu.Unlock()

	if r := []rune(body); len(r) > maxNotifyRunes {
		body = string(r[:maxNotifyRunes]) + "…"
	}
	return n.send(title, body, n.icon)
}

// NoopNotifier discards notifications
type NoopNotifier struct{}

func (NoopNotifier) Notify(title, body string) error { return nil }
