package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

const (
	// MaxFrameSize is the maximum allowed encoded envelope size (1 MB)
	MaxFrameSize = 1024 * 1024
)

var (
	ErrFrameTooLarge = errors.New("frame exceeds maximum size (1 MB)")
	ErrEmptyEvent    = errors.New("envelope has no event name")
)

// Envelope is the unit exchanged over the socket.
// Format: {"event": "<name>", "data": <payload>}
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// NewEnvelope marshals payload into an envelope for event
func NewEnvelope(event string, payload interface{}) (*Envelope, error) {
	if strings.TrimSpace(event) == "" {
		return nil, ErrEmptyEvent
	}

	env := &Envelope{Event: event}
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("failed to encode %q payload: %w", event, err)
		}
		env.Data = data
	}
	return env, nil
}

// EncodeFrame serializes an envelope into a websocket text frame
func EncodeFrame(env *Envelope) ([]byte, error) {
	if env == nil || env.Event == "" {
		return nil, ErrEmptyEvent
	}

	data, err := json.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("failed to encode frame: %w", err)
	}

	if len(data) > MaxFrameSize {
		return nil, ErrFrameTooLarge
	}

	return data, nil
}

// DecodeFrame parses a websocket text frame into an envelope
func DecodeFrame(data []byte) (*Envelope, error) {
	if len(data) > MaxFrameSize {
		return nil, ErrFrameTooLarge
	}

	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("failed to decode frame: %w", err)
	}

	if env.Event == "" {
		return nil, ErrEmptyEvent
	}

	return &env, nil
}

// Decode unmarshals the envelope payload into v
func (e *Envelope) Decode(v interface{}) error {
	if len(e.Data) == 0 {
		return fmt.Errorf("%q: %w", e.Event, ErrMissingPayload)
	}
	if err := json.Unmarshal(e.Data, v); err != nil {
		return fmt.Errorf("%q: failed to decode payload: %w", e.Event, err)
	}
	return nil
}
