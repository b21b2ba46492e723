package protocol

import (
	"bytes"
	"encoding/json"
	"io"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUserValidate(t *testing.T) {
	tests := []struct {
		name string
		user User
		err  error
	}{
		{"valid", User{ID: "user_1_abc", Name: "Alice"}, nil},
		{"missing id", User{Name: "Alice"}, ErrMissingUserID},
		{"blank id", User{ID: "   ", Name: "Alice"}, ErrMissingUserID},
		{"missing name", User{ID: "user_1_abc"}, ErrMissingName},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.user.Validate()
			if tt.err == nil {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tt.err)
		})
	}
}

func TestMessageStatusValid(t *testing.T) {
	for _, s := range []MessageStatus{"", StatusSent, StatusDelivered, StatusSeen} {
		assert.True(t, s.Valid(), "status %q", s)
	}
	assert.False(t, MessageStatus("read").Valid())
}

func TestFormatTimestamp(t *testing.T) {
	ts := time.Date(2024, 3, 9, 7, 5, 59, 0, time.Local)
	assert.Equal(t, "07:05", FormatTimestamp(ts))

	// Seconds are dropped, so two sends in the same minute share a timestamp
	assert.Equal(t, FormatTimestamp(ts), FormatTimestamp(ts.Add(-30*time.Second)))
}

var userIDPattern = regexp.MustCompile(`^user_\d+_[0-9a-z]{9}$`)

func TestGenerateUserID(t *testing.T) {
	now := time.UnixMilli(1700000000123)

	id, err := GenerateUserID(now, bytes.NewReader([]byte{1, 2, 3, 4, 5, 6, 7, 8}))
	require.NoError(t, err)
	assert.Regexp(t, userIDPattern, id)
	assert.True(t, strings.HasPrefix(id, "user_1700000000123_"))
}

func TestGenerateUserIDPadsShortSuffix(t *testing.T) {
	id, err := GenerateUserID(time.UnixMilli(5), bytes.NewReader(make([]byte, 8)))
	require.NoError(t, err)
	assert.Equal(t, "user_5_000000000", id)
}

func TestGenerateUserIDRandomFailure(t *testing.T) {
	_, err := GenerateUserID(time.Now(), bytes.NewReader([]byte{1}))
	assert.ErrorIs(t, err, io.ErrUnexpectedEOF)
}

func TestNewIDsAreUnique(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		id := NewMessageID()
		require.False(t, seen[id], "duplicate id %s", id)
		seen[id] = true
	}
	assert.NotEqual(t, NewClientID(), NewClientID())
}

func TestMessageSenderReference(t *testing.T) {
	var byRef Message
	require.NoError(t, json.Unmarshal([]byte(`{"id":"m1","content":"hi","sender":"u1"}`), &byRef))
	assert.Equal(t, User{ID: "u1"}, byRef.Sender)

	var embedded Message
	require.NoError(t, json.Unmarshal([]byte(`{"id":"m2","sender":{"id":"u2","name":"Bob"}}`), &embedded))
	assert.Equal(t, User{ID: "u2", Name: "Bob"}, embedded.Sender)

	var bad User
	assert.Error(t, json.Unmarshal([]byte(`42`), &bad))
}
