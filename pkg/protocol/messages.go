package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Socket event names. The inbound and outbound typing events share a name.
const (
	EventAuth        = "auth"
	EventNewMessage  = "newMessage"
	EventTyping      = "typing"
	EventUserJoined  = "user joined"
	EventUserLeft    = "user left"
	EventActiveUsers = "active users"
	EventJoinRoom    = "joinRoom"
	EventSendMessage = "sendMessage"
)

var (
	ErrUnknownEvent   = errors.New("unknown event")
	ErrMissingPayload = errors.New("missing payload")
)

// Event is a typed inbound socket event
type Event interface {
	EventName() string
}

// NewMessageEvent carries a message relayed by the server
type NewMessageEvent struct {
	Message Message
}

func (NewMessageEvent) EventName() string { return EventNewMessage }

// TypingEvent is a remote user's typing signal
type TypingEvent struct {
	ChatID   string `json:"chatId,omitempty"`
	User     User   `json:"user"`
	IsTyping bool   `json:"isTyping"`
}

func (TypingEvent) EventName() string { return EventTyping }

// UserJoinedEvent announces a user entering the roster
type UserJoinedEvent struct {
	User User
}

func (UserJoinedEvent) EventName() string { return EventUserJoined }

// UserLeftEvent announces a user leaving the roster
type UserLeftEvent struct {
	UserID string
}

func (UserLeftEvent) EventName() string { return EventUserLeft }

// ActiveUsersEvent is a full roster snapshot
type ActiveUsersEvent struct {
	Users Roster
}

func (ActiveUsersEvent) EventName() string { return EventActiveUsers }

// AuthPayload is sent as the first frame after the socket opens
type AuthPayload struct {
	User User `json:"user"`
}

// SendMessageRequest relays a locally sent message
type SendMessageRequest struct {
	ChatID  string  `json:"chatId"`
	Message Message `json:"message"`
}

// TypingRequest is the outbound typing signal
type TypingRequest struct {
	ChatID   string `json:"chatId,omitempty"`
	IsTyping bool   `json:"isTyping"`
}

// DecodeEvent converts an inbound envelope into its typed event
func DecodeEvent(env *Envelope) (Event, error) {
	switch env.Event {
	case EventNewMessage:
		var msg Message
		if err := env.Decode(&msg); err != nil {
			return nil, err
		}
		return NewMessageEvent{Message: msg}, nil

	case EventTyping:
		var ev TypingEvent
		if err := env.Decode(&ev); err != nil {
			return nil, err
		}
		return ev, nil

	case EventUserJoined:
		var u User
		if err := env.Decode(&u); err != nil {
			return nil, err
		}
		return UserJoinedEvent{User: u}, nil

	case EventUserLeft:
		id, err := decodeUserID(env)
		if err != nil {
			return nil, err
		}
		return UserLeftEvent{UserID: id}, nil

	case EventActiveUsers:
		users := Roster{}
		if err := env.Decode(&users); err != nil {
			return nil, err
		}
		return ActiveUsersEvent{Users: users}, nil

	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownEvent, env.Event)
	}
}

// decodeUserID accepts either a bare id string or a user object
func decodeUserID(env *Envelope) (string, error) {
	var id string
	if err := env.Decode(&id); err == nil {
		return id, nil
	}

	var u User
	if err := json.Unmarshal(env.Data, &u); err != nil {
		return "", fmt.Errorf("%q: failed to decode user id: %w", env.Event, err)
	}
	return u.ID, nil
}
