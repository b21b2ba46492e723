package client

import (
	"context"

	"github.com/aeolun/chatsync/pkg/protocol"
)

// EventTransport is the part of the socket transport the session depends on.
// This allows for mocking in tests while the real Transport implements all these methods
type EventTransport interface {
	Emit(event string, payload interface{}) error
	On(event string, h Handler) *Subscription
}

// HistoryFetcher performs the bulk REST fetches the session needs
type HistoryFetcher interface {
	FetchUsers(ctx context.Context) (protocol.Roster, error)
	FetchChats(ctx context.Context) ([]protocol.Room, error)
	FetchMessages(ctx context.Context, chatID string) ([]protocol.Message, error)
}

// StateInterface defines the interface for client state persistence
// This allows for mocking in tests while the real State implements all these methods
type StateInterface interface {
	GetConfig(key string) (string, error)
	SetConfig(key, value string) error
	DeleteConfig(key string) error

	// State directory
	GetStateDir() string

	Close() error
}

// Notifier shows out-of-band alerts for incoming messages
type Notifier interface {
	Notify(title, body string) error
}

var (
	_ EventTransport = (*Transport)(nil)
	_ HistoryFetcher = (*APIClient)(nil)
	_ StateInterface = (*State)(nil)
)
