package protocol

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/big"
	"strings"
	"time"

	"github.com/google/uuid"
)

var (
	ErrMissingUserID = errors.New("user id is empty")
	ErrMissingName   = errors.New("user name is empty")
)

// DefaultRoomID is the implicit global room used when the backend has no chat list
const DefaultRoomID = "global"

// TimestampLayout is the display format for message timestamps (hour:minute, local time)
const TimestampLayout = "15:04"

// User is a chat participant
type User struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Avatar string `json:"avatar,omitempty"`
}

// Validate checks the fields every rendered or persisted user needs
func (u User) Validate() error {
	if strings.TrimSpace(u.ID) == "" {
		return ErrMissingUserID
	}
	if strings.TrimSpace(u.Name) == "" {
		return ErrMissingName
	}
	return nil
}

// UnmarshalJSON accepts a full user object or a bare user ID reference
func (u *User) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) > 0 && trimmed[0] == '"' {
		var id string
		if err := json.Unmarshal(trimmed, &id); err != nil {
			return err
		}
		*u = User{ID: id}
		return nil
	}

	type plain User
	var p plain
	if err := json.Unmarshal(trimmed, &p); err != nil {
		return err
	}
	*u = User(p)
	return nil
}

// Roster maps user ID to user, as sent by "active users" and GET /api/users
type Roster map[string]User

// MessageStatus is the delivery state of a message
type MessageStatus string

const (
	StatusSent      MessageStatus = "sent"
	StatusDelivered MessageStatus = "delivered"
	StatusSeen      MessageStatus = "seen"
)

// Valid reports whether s is a known status (empty is allowed on the wire)
func (s MessageStatus) Valid() bool {
	switch s {
	case "", StatusSent, StatusDelivered, StatusSeen:
		return true
	}
	return false
}

// Message is a single chat message. Timestamp is a display string, not sortable.
type Message struct {
	ID        string        `json:"id"`
	ChatID    string        `json:"chatId"`
	Content   string        `json:"content"`
	Timestamp string        `json:"timestamp"`
	Sender    User          `json:"sender"`
	Status    MessageStatus `json:"status,omitempty"`
	// ClientID correlates an optimistic local copy with the server echo
	ClientID string `json:"clientId,omitempty"`
}

// Room is a conversation scope in multi-chat deployments
type Room struct {
	ID          string   `json:"id"`
	Members     []string `json:"members"`
	LastMessage string   `json:"lastMessage"`
	Unread      int      `json:"unread"`
	Online      bool     `json:"online"`
	Timestamp   string   `json:"timestamp"`
}

// FormatTimestamp renders t the way message timestamps are displayed
func FormatTimestamp(t time.Time) string {
	return t.Local().Format(TimestampLayout)
}

// NewMessageID returns a fresh message ID
func NewMessageID() string {
	return uuid.NewString()
}

// NewClientID returns a fresh correlation ID for an outgoing message
func NewClientID() string {
	return uuid.NewString()
}

const userIDSuffixLen = 9

// GenerateUserID builds an identity ID of the form user_<unixmillis>_<random base36>.
// random supplies the entropy for the suffix (crypto/rand.Reader in production).
func GenerateUserID(now time.Time, random io.Reader) (string, error) {
	buf := make([]byte, 8)
	if _, err := io.ReadFull(random, buf); err != nil {
		return "", fmt.Errorf("failed to read random suffix: %w", err)
	}

	suffix := new(big.Int).SetBytes(buf).Text(36)
	if len(suffix) < userIDSuffixLen {
		suffix = strings.Repeat("0", userIDSuffixLen-len(suffix)) + suffix
	}
	suffix = suffix[len(suffix)-userIDSuffixLen:]

	return fmt.Sprintf("user_%d_%s", now.UnixMilli(), suffix), nil
}
