package protocol

import (
	"testing"

	"pgregory.net/rapid"
)

func genUser(t *rapid.T, label string) User {
	return User{
		ID:     rapid.StringMatching(`user_[0-9]{1,13}_[0-9a-z]{9}`).Draw(t, label+"ID"),
		Name:   rapid.String().Draw(t, label+"Name"),
		Avatar: rapid.String().Draw(t, label+"Avatar"),
	}
}

// TestEnvelopeRoundTrip checks that any message survives the socket framing
func TestEnvelopeRoundTrip(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		original := Message{
			ID:        rapid.String().Draw(t, "id"),
			ChatID:    rapid.String().Draw(t, "chatID"),
			Content:   rapid.String().Draw(t, "content"),
			Timestamp: rapid.StringMatching(`[0-2][0-9]:[0-5][0-9]`).Draw(t, "timestamp"),
			Sender:    genUser(t, "sender"),
			Status:    rapid.SampledFrom([]MessageStatus{"", StatusSent, StatusDelivered, StatusSeen}).Draw(t, "status"),
			ClientID:  rapid.String().Draw(t, "clientID"),
		}

		env, err := NewEnvelope(EventNewMessage, original)
		if err != nil {
			t.Fatalf("envelope failed: %v", err)
		}
		data, err := EncodeFrame(env)
		if err != nil {
			t.Fatalf("encode failed: %v", err)
		}
		decoded, err := DecodeFrame(data)
		if err != nil {
			t.Fatalf("decode failed: %v", err)
		}
		ev, err := DecodeEvent(decoded)
		if err != nil {
			t.Fatalf("event decode failed: %v", err)
		}

		got := ev.(NewMessageEvent).Message
		if got != original {
			t.Fatalf("message mismatch: got %+v, want %+v", got, original)
		}
	})
}

// TestActiveUsersRoundTrip checks roster snapshots keep every entry
func TestActiveUsersRoundTrip(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		n := rapid.IntRange(0, 20).Draw(t, "n")
		roster := Roster{}
		for i := 0; i < n; i++ {
			u := genUser(t, "user")
			roster[u.ID] = u
		}

		env, err := NewEnvelope(EventActiveUsers, roster)
		if err != nil {
			t.Fatalf("envelope failed: %v", err)
		}
		ev, err := DecodeEvent(env)
		if err != nil {
			t.Fatalf("event decode failed: %v", err)
		}

		got := ev.(ActiveUsersEvent).Users
		if len(got) != len(roster) {
			t.Fatalf("roster size mismatch: got %d, want %d", len(got), len(roster))
		}
		for id, u := range roster {
			if got[id] != u {
				t.Fatalf("user %s mismatch: got %+v, want %+v", id, got[id], u)
			}
		}
	})
}
