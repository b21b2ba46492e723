package client

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/aeolun/chatsync/pkg/protocol"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

type emission struct {
	event   string
	payload interface{}
}

// fakeTransport records emits and lets tests deliver inbound events synchronously
type fakeTransport struct {
	mu       sync.Mutex
	emits    []emission
	handlers map[string]map[int]Handler
	nextID   int
	emitErr  error
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{handlers: make(map[string]map[int]Handler)}
}

func (f *fakeTransport) Emit(event string, payload interface{}) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.emits = append(f.emits, emission{event: event, payload: payload})
	return f.emitErr
}

func (f *fakeTransport) On(event string, h Handler) *Subscription {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.nextID++
	id := f.nextID
	if f.handlers[event] == nil {
		f.handlers[event] = make(map[int]Handler)
	}
	f.handlers[event][id] = h

	return &Subscription{release: func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		delete(f.handlers[event], id)
	}}
}

func (f *fakeTransport) deliver(ev protocol.Event) {
	f.mu.Lock()
	var hs []Handler
	for _, h := range f.handlers[ev.EventName()] {
		hs = append(hs, h)
	}
	f.mu.Unlock()

	for _, h := range hs {
		h(ev)
	}
}

func (f *fakeTransport) emitted(event string) []interface{} {
	f.mu.Lock()
	defer f.mu.Unlock()

	var out []interface{}
	for _, e := range f.emits {
		if e.event == event {
			out = append(out, e.payload)
		}
	}
	return out
}

func (f *fakeTransport) events() []string {
	f.mu.Lock()
	defer f.mu.Unlock()

	out := make([]string, len(f.emits))
	for i, e := range f.emits {
		out[i] = e.event
	}
	return out
}

func (f *fakeTransport) handlerCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()

	n := 0
	for _, hs := range f.handlers {
		n += len(hs)
	}
	return n
}

type fakeFetcher struct {
	mu        sync.Mutex
	users     protocol.Roster
	rooms     []protocol.Room
	history   map[string][]protocol.Message
	usersErr  error
	roomsErr  error
	histErr   error
	fetched   []string
	onHistory func(chatID string)
}

func (f *fakeFetcher) FetchUsers(ctx context.Context) (protocol.Roster, error) {
	if f.usersErr != nil {
		return nil, f.usersErr
	}
	return f.users, nil
}

func (f *fakeFetcher) FetchChats(ctx context.Context) ([]protocol.Room, error) {
	if f.roomsErr != nil {
		return nil, f.roomsErr
	}
	return f.rooms, nil
}

func (f *fakeFetcher) FetchMessages(ctx context.Context, chatID string) ([]protocol.Message, error) {
	f.mu.Lock()
	f.fetched = append(f.fetched, chatID)
	hook := f.onHistory
	f.mu.Unlock()

	if hook != nil {
		hook(chatID)
	}
	if f.histErr != nil {
		return nil, f.histErr
	}
	return append([]protocol.Message(nil), f.history[chatID]...), nil
}

func (f *fakeFetcher) fetchCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.fetched)
}

type recordingNotifier struct {
	mu    sync.Mutex
	calls []string
}

func (n *recordingNotifier) Notify(title, body string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.calls = append(n.calls, title+": "+body)
	return nil
}

func (n *recordingNotifier) received() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]string(nil), n.calls...)
}

// blockingNotifier holds every Notify call until release is closed
type blockingNotifier struct {
	recordingNotifier
	release chan struct{}
}

func (n *blockingNotifier) Notify(title, body string) error {
	<-n.release
	return n.recordingNotifier.Notify(title, body)
}

var (
	alice = protocol.User{ID: "user_1_alice", Name: "Alice"}
	bob   = protocol.User{ID: "user_2_bob", Name: "Bob"}
	carol = protocol.User{ID: "user_3_carol", Name: "Carol"}
)

func newTestSession(t *testing.T, api *fakeFetcher, opts ...SessionOption) (*Session, *fakeTransport, *fakeClock) {
	t.Helper()

	tr := newFakeTransport()
	clock := newFakeClock()
	if api == nil {
		api = &fakeFetcher{roomsErr: errors.New("not found")}
	}
	opts = append([]SessionOption{WithSessionClock(clock.AfterFunc, nil)}, opts...)
	s := NewSession(tr, api, opts...)
	require.NoError(t, s.Start(context.Background(), alice))
	t.Cleanup(s.Stop)

	return s, tr, clock
}

func msg(id string, sender protocol.User, content string) protocol.Message {
	return protocol.Message{ID: id, Content: content, Timestamp: "10:00", Sender: sender}
}

func TestSessionStartSingleRoom(t *testing.T) {
	api := &fakeFetcher{
		users:    protocol.Roster{bob.ID: bob},
		roomsErr: errors.New("GET /api/chats: status 404"),
		history: map[string][]protocol.Message{
			protocol.DefaultRoomID: {msg("m1", bob, "hello")},
		},
	}
	s, tr, _ := newTestSession(t, api)

	assert.False(t, s.MultiRoom())
	assert.Equal(t, protocol.DefaultRoomID, s.CurrentRoom())
	assert.Equal(t, []protocol.Room{{ID: protocol.DefaultRoomID}}, s.Rooms())
	assert.Empty(t, tr.emitted(protocol.EventJoinRoom))

	messages := s.Messages()
	require.Len(t, messages, 1)
	assert.Equal(t, "hello", messages[0].Content)
	assert.Equal(t, protocol.DefaultRoomID, messages[0].ChatID)

	assert.Equal(t, alice, *s.CurrentUser())
	assert.Empty(t, s.Roster(), "the user directory is not presence")
}

func TestSessionStartRejectsInvalidIdentity(t *testing.T) {
	s := NewSession(newFakeTransport(), &fakeFetcher{})
	assert.ErrorIs(t, s.Start(context.Background(), protocol.User{Name: "x"}), protocol.ErrMissingUserID)
	assert.Nil(t, s.CurrentUser())
}

func TestSessionStartTwice(t *testing.T) {
	s, _, _ := newTestSession(t, nil)
	assert.Error(t, s.Start(context.Background(), alice))
}

func TestSessionFetchFailuresLeaveEmptyCollections(t *testing.T) {
	api := &fakeFetcher{
		usersErr: errors.New("boom"),
		roomsErr: errors.New("boom"),
		histErr:  errors.New("boom"),
	}
	s, _, _ := newTestSession(t, api)

	assert.Empty(t, s.Messages())
	assert.Empty(t, s.Roster())
	assert.Equal(t, protocol.DefaultRoomID, s.CurrentRoom())

	ok, err := s.SendMessage("still works")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Len(t, s.Messages(), 1)
}

func TestSessionMultiRoomJoinsBeforeHistory(t *testing.T) {
	tr := newFakeTransport()
	api := &fakeFetcher{
		rooms: []protocol.Room{{ID: "chat-1"}, {ID: "chat-2"}},
		history: map[string][]protocol.Message{
			"chat-1": {msg("m1", bob, "one")},
			"chat-2": {msg("m2", carol, "two")},
		},
	}
	var joinsAtFetch []int
	api.onHistory = func(string) {
		joinsAtFetch = append(joinsAtFetch, len(tr.emitted(protocol.EventJoinRoom)))
	}

	s := NewSession(tr, api)
	require.NoError(t, s.Start(context.Background(), alice))
	defer s.Stop()

	assert.True(t, s.MultiRoom())
	assert.Equal(t, "chat-1", s.CurrentRoom())
	assert.Equal(t, []interface{}{"chat-1"}, tr.emitted(protocol.EventJoinRoom))

	require.NoError(t, s.SelectRoom(context.Background(), "chat-2"))
	assert.Equal(t, "chat-2", s.CurrentRoom())
	assert.Equal(t, []interface{}{"chat-1", "chat-2"}, tr.emitted(protocol.EventJoinRoom))
	assert.Equal(t, []int{1, 2}, joinsAtFetch)

	require.Len(t, s.Messages(), 1)
	assert.Equal(t, "two", s.Messages()[0].Content)
	assert.Len(t, s.MessagesFor("chat-1"), 1)
}

func TestSessionPrefersConfiguredDefaultRoom(t *testing.T) {
	api := &fakeFetcher{rooms: []protocol.Room{{ID: "a"}, {ID: "lobby"}}}
	s, _, _ := newTestSession(t, api, WithDefaultRoom("lobby"))
	assert.Equal(t, "lobby", s.CurrentRoom())
}

func TestSessionSelectRoomJoinFailure(t *testing.T) {
	api := &fakeFetcher{rooms: []protocol.Room{{ID: "a"}, {ID: "b"}}}
	s, tr, _ := newTestSession(t, api)

	tr.emitErr = ErrNotConnected
	err := s.SelectRoom(context.Background(), "b")
	assert.ErrorIs(t, err, ErrNotConnected)
	assert.Equal(t, "b", s.CurrentRoom(), "the view switches even when the join is not delivered")

	assert.Error(t, s.SelectRoom(context.Background(), "  "))
}

func TestSessionHistoryMergeKeepsLiveMessages(t *testing.T) {
	tr := newFakeTransport()
	api := &fakeFetcher{
		roomsErr: errors.New("none"),
		history: map[string][]protocol.Message{
			protocol.DefaultRoomID: {msg("m1", bob, "old"), msg("m2", bob, "also old")},
		},
	}
	// A live message lands between subscription and history load
	api.onHistory = func(string) {
		tr.deliver(protocol.NewMessageEvent{Message: msg("m2", bob, "also old")})
		tr.deliver(protocol.NewMessageEvent{Message: msg("m3", bob, "live")})
	}

	s := NewSession(tr, api)
	require.NoError(t, s.Start(context.Background(), alice))
	defer s.Stop()

	var contents []string
	for _, m := range s.Messages() {
		contents = append(contents, m.Content)
	}
	assert.Equal(t, []string{"old", "also old", "live"}, contents)
}

func TestSessionSendMessageOptimistic(t *testing.T) {
	s, tr, _ := newTestSession(t, nil)

	ok, err := s.SendMessage("hi")
	require.NoError(t, err)
	assert.True(t, ok)

	messages := s.Messages()
	require.Len(t, messages, 1)
	m := messages[0]
	assert.Equal(t, "hi", m.Content)
	assert.Equal(t, alice, m.Sender)
	assert.Equal(t, protocol.StatusSent, m.Status)
	assert.Equal(t, protocol.DefaultRoomID, m.ChatID)
	assert.NotEmpty(t, m.ID)
	assert.NotEmpty(t, m.ClientID)

	sent := tr.emitted(protocol.EventSendMessage)
	require.Len(t, sent, 1)
	req, ok := sent[0].(protocol.SendMessageRequest)
	require.True(t, ok)
	assert.Equal(t, protocol.DefaultRoomID, req.ChatID)
	assert.Equal(t, m, req.Message)
}

func TestSessionSendSameContentTwice(t *testing.T) {
	fixed := time.Date(2024, 5, 1, 14, 7, 0, 0, time.Local)
	s, tr, _ := newTestSession(t, nil, WithSessionClock(nil, func() time.Time { return fixed }))

	for i := 0; i < 2; i++ {
		ok, err := s.SendMessage("hi")
		require.NoError(t, err)
		require.True(t, ok)
	}

	messages := s.Messages()
	require.Len(t, messages, 2)
	first, second := messages[0], messages[1]
	assert.Equal(t, "hi", first.Content)
	assert.Equal(t, "hi", second.Content)
	assert.Equal(t, "14:07", first.Timestamp)
	assert.Equal(t, first.Timestamp, second.Timestamp)
	assert.NotEqual(t, first.ID, second.ID)
	assert.NotEqual(t, first.ClientID, second.ClientID)

	sent := tr.emitted(protocol.EventSendMessage)
	require.Len(t, sent, 2)
	assert.Equal(t, first, sent[0].(protocol.SendMessageRequest).Message)
	assert.Equal(t, second, sent[1].(protocol.SendMessageRequest).Message)
}

func TestSessionSendMessageBlank(t *testing.T) {
	s, tr, _ := newTestSession(t, nil)

	for _, content := range []string{"", "   ", "\t\n"} {
		ok, err := s.SendMessage(content)
		assert.NoError(t, err)
		assert.False(t, ok)
	}
	assert.Empty(t, s.Messages())
	assert.Empty(t, tr.emitted(protocol.EventSendMessage))
}

func TestSessionSendMessageNotLoggedIn(t *testing.T) {
	s := NewSession(newFakeTransport(), &fakeFetcher{})
	ok, err := s.SendMessage("hi")
	assert.False(t, ok)
	assert.ErrorIs(t, err, ErrNotLoggedIn)
}

func TestSessionSendMessageTransportError(t *testing.T) {
	s, tr, _ := newTestSession(t, nil)
	tr.emitErr = ErrQueueFull

	ok, err := s.SendMessage("hi")
	assert.True(t, ok, "the optimistic copy is kept")
	assert.ErrorIs(t, err, ErrQueueFull)
	assert.Len(t, s.Messages(), 1)
}

func TestSessionSendStopsTyping(t *testing.T) {
	s, tr, clock := newTestSession(t, nil)

	s.Keystroke()
	s.Keystroke()
	_, err := s.SendMessage("hi")
	require.NoError(t, err)

	assert.Equal(t, []string{protocol.EventTyping, protocol.EventTyping, protocol.EventSendMessage}, tr.events())
	assert.Equal(t, []interface{}{
		protocol.TypingRequest{IsTyping: true},
		protocol.TypingRequest{IsTyping: false},
	}, tr.emitted(protocol.EventTyping))

	clock.Advance(DefaultTypingTimeout)
	assert.Len(t, tr.emitted(protocol.EventTyping), 2, "no stop after submit")
}

func TestSessionKeystrokeMultiRoomCarriesChatID(t *testing.T) {
	api := &fakeFetcher{rooms: []protocol.Room{{ID: "chat-1"}}}
	s, tr, clock := newTestSession(t, api)

	s.Keystroke()
	clock.Advance(DefaultTypingTimeout)

	assert.Equal(t, []interface{}{
		protocol.TypingRequest{ChatID: "chat-1", IsTyping: true},
		protocol.TypingRequest{ChatID: "chat-1", IsTyping: false},
	}, tr.emitted(protocol.EventTyping))
}

func TestSessionKeystrokeBeforeSyncUsesRoomMode(t *testing.T) {
	tr := newFakeTransport()
	clock := newFakeClock()
	api := &fakeFetcher{rooms: []protocol.Room{{ID: "chat-1"}, {ID: protocol.DefaultRoomID}}}
	s := NewSession(tr, api, WithSessionClock(clock.AfterFunc, nil))
	t.Cleanup(s.Stop)

	require.NoError(t, s.Attach(alice))
	s.Keystroke()
	require.NoError(t, s.Sync(context.Background()))
	require.True(t, s.MultiRoom())
	require.Equal(t, protocol.DefaultRoomID, s.CurrentRoom())

	clock.Advance(DefaultTypingTimeout)

	assert.Equal(t, []interface{}{
		protocol.TypingRequest{IsTyping: true},
		protocol.TypingRequest{ChatID: protocol.DefaultRoomID, IsTyping: false},
	}, tr.emitted(protocol.EventTyping))
}

func TestSessionKeystrokeWithoutUser(t *testing.T) {
	tr := newFakeTransport()
	s := NewSession(tr, &fakeFetcher{})
	s.Keystroke()
	assert.Empty(t, tr.events())
}

func TestSessionEchoSuppressed(t *testing.T) {
	metrics := NewMetrics(nil)
	s, tr, _ := newTestSession(t, nil, WithSessionMetrics(metrics))

	_, err := s.SendMessage("hi")
	require.NoError(t, err)

	tr.deliver(protocol.NewMessageEvent{Message: msg("server-1", alice, "hi")})

	assert.Len(t, s.Messages(), 1)
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.echoSuppressed))
}

func TestSessionEchoReconciled(t *testing.T) {
	s, tr, _ := newTestSession(t, nil)

	_, err := s.SendMessage("hi")
	require.NoError(t, err)
	local := s.Messages()[0]

	echo := msg("server-1", alice, "hi")
	echo.ChatID = local.ChatID
	echo.ClientID = local.ClientID
	tr.deliver(protocol.NewMessageEvent{Message: echo})

	messages := s.Messages()
	require.Len(t, messages, 1)
	assert.Equal(t, "server-1", messages[0].ID)
	assert.Equal(t, protocol.StatusDelivered, messages[0].Status)
}

func TestSessionIncomingMessage(t *testing.T) {
	n := &recordingNotifier{}
	s, tr, _ := newTestSession(t, nil, WithNotifier(n))

	tr.deliver(protocol.NewMessageEvent{Message: msg("m1", bob, "hey")})
	tr.deliver(protocol.NewMessageEvent{Message: msg("m1", bob, "hey")})

	messages := s.Messages()
	require.Len(t, messages, 1, "duplicate ids are ignored")
	assert.Equal(t, bob, messages[0].Sender)
	assert.Equal(t, "hey", s.Rooms()[0].LastMessage)
	assert.Eventually(t, func() bool {
		return assert.ObjectsAreEqual([]string{"Bob: hey"}, n.received())
	}, testWait, 5*time.Millisecond)
}

func TestSessionSlowNotifierDoesNotBlockEvents(t *testing.T) {
	n := &blockingNotifier{release: make(chan struct{})}
	s, tr, _ := newTestSession(t, nil, WithNotifier(n))

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < alertQueueSize+5; i++ {
			tr.deliver(protocol.NewMessageEvent{Message: msg(fmt.Sprintf("m%d", i), bob, "hey")})
		}
	}()

	select {
	case <-done:
	case <-time.After(testWait):
		t.Fatal("event handling blocked on the notifier")
	}
	assert.Len(t, s.Messages(), alertQueueSize+5)

	close(n.release)
	assert.Eventually(t, func() bool {
		return len(n.received()) > 0
	}, testWait, 5*time.Millisecond)
}

func TestSessionOwnMessagesDoNotNotify(t *testing.T) {
	n := &recordingNotifier{}
	s, tr, _ := newTestSession(t, nil, WithNotifier(n))

	_, err := s.SendMessage("hi")
	require.NoError(t, err)
	tr.deliver(protocol.NewMessageEvent{Message: msg("server-1", alice, "hi")})
	s.Stop()

	assert.Empty(t, n.received())
}

func TestSessionDropsSenderlessMessage(t *testing.T) {
	s, tr, _ := newTestSession(t, nil)

	tr.deliver(protocol.NewMessageEvent{Message: protocol.Message{ID: "m1", Content: "ghost"}})
	assert.Empty(t, s.Messages())
}

func TestSessionUnreadCounters(t *testing.T) {
	api := &fakeFetcher{rooms: []protocol.Room{{ID: "a"}, {ID: "b"}}}
	s, tr, _ := newTestSession(t, api)
	require.Equal(t, "a", s.CurrentRoom())

	other := msg("m1", bob, "psst")
	other.ChatID = "b"
	tr.deliver(protocol.NewMessageEvent{Message: other})
	tr.deliver(protocol.NewMessageEvent{Message: msg("m2", bob, "here")})

	rooms := s.Rooms()
	assert.Equal(t, 0, rooms[0].Unread)
	assert.Equal(t, 1, rooms[1].Unread)
	assert.Equal(t, "psst", rooms[1].LastMessage)
	assert.Len(t, s.Messages(), 1)

	require.NoError(t, s.SelectRoom(context.Background(), "b"))
	assert.Equal(t, 0, s.Rooms()[1].Unread)
	assert.Len(t, s.Messages(), 1)
}

func TestSessionRenderableMessagesResolvesSenders(t *testing.T) {
	api := &fakeFetcher{
		users:    protocol.Roster{bob.ID: bob},
		roomsErr: errors.New("none"),
	}
	s, tr, _ := newTestSession(t, api)

	tr.deliver(protocol.NewMessageEvent{Message: msg("m1", protocol.User{ID: bob.ID}, "by reference")})
	tr.deliver(protocol.NewMessageEvent{Message: msg("m2", protocol.User{ID: "stranger"}, "unknown")})

	assert.Len(t, s.Messages(), 2)

	rendered := s.RenderableMessages()
	require.Len(t, rendered, 1)
	assert.Equal(t, "Bob", rendered[0].Sender.Name)
	assert.Equal(t, "by reference", rendered[0].Content)
}

func TestSessionPresence(t *testing.T) {
	s, tr, _ := newTestSession(t, nil)

	tr.deliver(protocol.UserJoinedEvent{User: bob})
	tr.deliver(protocol.UserJoinedEvent{User: carol})
	assert.Equal(t, []protocol.User{bob, carol}, s.Roster())

	tr.deliver(protocol.UserLeftEvent{UserID: bob.ID})
	assert.Equal(t, []protocol.User{carol}, s.Roster())

	// A snapshot replaces everything seen before it
	tr.deliver(protocol.ActiveUsersEvent{Users: protocol.Roster{alice.ID: alice, bob.ID: bob}})
	assert.Equal(t, []protocol.User{alice, bob}, s.Roster())

	// Later deltas apply on top of the snapshot
	tr.deliver(protocol.UserJoinedEvent{User: carol})
	tr.deliver(protocol.UserLeftEvent{UserID: alice.ID})
	assert.Equal(t, []protocol.User{bob, carol}, s.Roster())

	tr.deliver(protocol.UserJoinedEvent{User: protocol.User{Name: "no id"}})
	assert.Len(t, s.Roster(), 2)
}

func TestSessionRosterSortsByNameThenID(t *testing.T) {
	s, _, _ := newTestSession(t, nil)

	s.ApplyUserJoined(protocol.User{ID: "b", Name: "Sam"})
	s.ApplyUserJoined(protocol.User{ID: "a", Name: "Sam"})
	s.ApplyUserJoined(protocol.User{ID: "c", Name: "Ann"})

	var ids []string
	for _, u := range s.Roster() {
		ids = append(ids, u.ID)
	}
	assert.Equal(t, []string{"c", "a", "b"}, ids)
}

func TestSessionTypingSet(t *testing.T) {
	s, tr, _ := newTestSession(t, nil)

	tr.deliver(protocol.TypingEvent{User: bob, IsTyping: true})
	tr.deliver(protocol.TypingEvent{User: bob, IsTyping: true})
	tr.deliver(protocol.TypingEvent{User: carol, IsTyping: true})
	assert.Equal(t, []protocol.User{bob, carol}, s.Typing())

	tr.deliver(protocol.TypingEvent{User: bob, IsTyping: false})
	assert.Equal(t, []protocol.User{carol}, s.Typing())

	tr.deliver(protocol.TypingEvent{User: alice, IsTyping: true})
	assert.Equal(t, []protocol.User{carol}, s.Typing(), "own typing is not shown")

	tr.deliver(protocol.UserLeftEvent{UserID: carol.ID})
	assert.Empty(t, s.Typing())
}

func TestSessionTypingExpiry(t *testing.T) {
	s, tr, clock := newTestSession(t, nil, WithTypingExpiry(5*time.Second))

	tr.deliver(protocol.TypingEvent{User: bob, IsTyping: true})
	clock.Advance(4 * time.Second)
	tr.deliver(protocol.TypingEvent{User: bob, IsTyping: true})

	clock.Advance(4 * time.Second)
	assert.Equal(t, []protocol.User{bob}, s.Typing(), "a repeated signal extends the indicator")

	clock.Advance(time.Second)
	assert.Empty(t, s.Typing())
	assert.Zero(t, clock.Active())
}

func TestSessionTypingExpiryDisabled(t *testing.T) {
	s, tr, clock := newTestSession(t, nil, WithTypingExpiry(0))

	tr.deliver(protocol.TypingEvent{User: bob, IsTyping: true})
	clock.Advance(time.Hour)
	assert.Equal(t, []protocol.User{bob}, s.Typing())
	assert.Zero(t, clock.Active())
}

func TestSessionTypingResolvesReference(t *testing.T) {
	api := &fakeFetcher{users: protocol.Roster{bob.ID: bob}, roomsErr: errors.New("none")}
	s, tr, _ := newTestSession(t, api)

	tr.deliver(protocol.TypingEvent{User: protocol.User{ID: bob.ID}, IsTyping: true})
	assert.Equal(t, []protocol.User{bob}, s.Typing())
}

func TestSessionTypingScopedToCurrentRoom(t *testing.T) {
	api := &fakeFetcher{rooms: []protocol.Room{{ID: "a"}, {ID: "b"}}}
	s, tr, _ := newTestSession(t, api)

	tr.deliver(protocol.TypingEvent{ChatID: "b", User: bob, IsTyping: true})
	assert.Empty(t, s.Typing())

	tr.deliver(protocol.TypingEvent{ChatID: "a", User: bob, IsTyping: true})
	assert.Equal(t, []protocol.User{bob}, s.Typing())

	require.NoError(t, s.SelectRoom(context.Background(), "b"))
	assert.Empty(t, s.Typing(), "switching rooms clears the typing set")
}

func TestSessionReconnectResyncs(t *testing.T) {
	api := &fakeFetcher{rooms: []protocol.Room{{ID: "a"}}}
	s, tr, _ := newTestSession(t, api)
	ctx := context.Background()

	require.Equal(t, 1, api.fetchCount())
	tr.deliver(protocol.TypingEvent{ChatID: "a", User: bob, IsTyping: true})

	s.ApplyConnectionState(ctx, ConnectionStateUpdate{State: StateTypeConnected})
	assert.Equal(t, 1, api.fetchCount(), "first connect does not resync")

	s.ApplyConnectionState(ctx, ConnectionStateUpdate{State: StateTypeDisconnected})
	assert.Equal(t, StateTypeDisconnected, s.ConnectionState())
	assert.Empty(t, s.Typing())

	s.ApplyConnectionState(ctx, ConnectionStateUpdate{State: StateTypeReconnecting, Attempt: 1})
	s.ApplyConnectionState(ctx, ConnectionStateUpdate{State: StateTypeConnected})
	assert.Equal(t, StateTypeConnected, s.ConnectionState())
	assert.Equal(t, 2, api.fetchCount())
	assert.Equal(t, []interface{}{"a", "a"}, tr.emitted(protocol.EventJoinRoom))
}

func TestSessionWatchConnection(t *testing.T) {
	s, _, _ := newTestSession(t, nil)

	updates := make(chan ConnectionStateUpdate, 2)
	updates <- ConnectionStateUpdate{State: StateTypeConnected}
	updates <- ConnectionStateUpdate{State: StateTypeReconnecting, Attempt: 3}
	close(updates)

	s.WatchConnection(context.Background(), updates)
	assert.Equal(t, StateTypeReconnecting, s.ConnectionState())
}

func TestSessionChangesCoalesce(t *testing.T) {
	s, _, _ := newTestSession(t, nil)

	// Drain the signal left by Start
	select {
	case <-s.Changes():
	default:
	}

	assert.False(t, s.DarkMode())
	assert.True(t, s.ToggleTheme())
	assert.False(t, s.ToggleTheme())
	s.ApplyUserJoined(bob)

	select {
	case <-s.Changes():
	default:
		t.Fatal("expected a change signal")
	}
	select {
	case <-s.Changes():
		t.Fatal("signals should coalesce")
	default:
	}
}

func TestSessionWithDarkMode(t *testing.T) {
	s := NewSession(newFakeTransport(), &fakeFetcher{}, WithDarkMode(true))
	assert.True(t, s.DarkMode())
}

func TestSessionStopReleasesHandlers(t *testing.T) {
	tr := newFakeTransport()
	s := NewSession(tr, &fakeFetcher{roomsErr: errors.New("none")})
	require.NoError(t, s.Start(context.Background(), alice))
	assert.Equal(t, 5, tr.handlerCount())

	s.Stop()
	assert.Zero(t, tr.handlerCount())

	tr.deliver(protocol.NewMessageEvent{Message: msg("m1", bob, "late")})
	assert.Empty(t, s.Messages())
}

// Own messages never appear twice however the echoes interleave with others' traffic
func TestSessionEchoProperty(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		tr := newFakeTransport()
		s := NewSession(tr, &fakeFetcher{roomsErr: errors.New("none")})
		if err := s.Start(context.Background(), alice); err != nil {
			t.Fatalf("start: %v", err)
		}
		defer s.Stop()

		var sent []protocol.Message
		want := 0
		steps := rapid.IntRange(1, 40).Draw(t, "steps")
		for i := 0; i < steps; i++ {
			switch rapid.IntRange(0, 3).Draw(t, "op") {
			case 0:
				content := rapid.StringMatching(`[a-z ]{0,8}`).Draw(t, "content")
				ok, err := s.SendMessage(content)
				if err != nil {
					t.Fatalf("send: %v", err)
				}
				if ok {
					want++
					sent = append(sent, s.Messages()[len(s.Messages())-1])
				}
			case 1:
				if len(sent) == 0 {
					continue
				}
				// Echo without correlation
				orig := sent[rapid.IntRange(0, len(sent)-1).Draw(t, "echo")]
				tr.deliver(protocol.NewMessageEvent{Message: msg(fmt.Sprintf("srv-%d", i), alice, orig.Content)})
			case 2:
				if len(sent) == 0 {
					continue
				}
				// Echo with correlation
				orig := sent[rapid.IntRange(0, len(sent)-1).Draw(t, "echo")]
				echo := orig
				echo.ID = fmt.Sprintf("srv-%d", i)
				echo.ClientID = orig.ClientID
				tr.deliver(protocol.NewMessageEvent{Message: echo})
			case 3:
				want++
				tr.deliver(protocol.NewMessageEvent{Message: msg(fmt.Sprintf("other-%d", i), bob, "x")})
			}
		}

		if got := len(s.Messages()); got != want {
			t.Fatalf("log has %d messages, want %d", got, want)
		}
		if emits := len(tr.emitted(protocol.EventSendMessage)); emits != len(sent) {
			t.Fatalf("%d relay emits for %d sends", emits, len(sent))
		}
	})
}

// The roster always equals the last snapshot with later deltas applied in order
func TestSessionPresenceProperty(t *testing.T) {
	users := []protocol.User{alice, bob, carol, {ID: "user_4_dan", Name: "Dan"}}

	rapid.Check(t, func(t *rapid.T) {
		s := NewSession(newFakeTransport(), &fakeFetcher{})
		model := map[string]protocol.User{}

		steps := rapid.IntRange(1, 50).Draw(t, "steps")
		for i := 0; i < steps; i++ {
			u := users[rapid.IntRange(0, len(users)-1).Draw(t, "user")]
			switch rapid.IntRange(0, 2).Draw(t, "op") {
			case 0:
				s.ApplyUserJoined(u)
				model[u.ID] = u
			case 1:
				s.ApplyUserLeft(u.ID)
				delete(model, u.ID)
			case 2:
				snapshot := protocol.Roster{}
				for _, su := range users {
					if rapid.Bool().Draw(t, "in snapshot") {
						snapshot[su.ID] = su
					}
				}
				s.ApplyActiveUsers(snapshot)
				model = copyRoster(snapshot)
			}
		}

		if got, want := s.Roster(), sortedUsers(model); !equalUsers(got, want) {
			t.Fatalf("roster %v, want %v", got, want)
		}
	})
}

func copyRoster(m map[string]protocol.User) map[string]protocol.User {
	out := make(map[string]protocol.User, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func equalUsers(a, b []protocol.User) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestSessionStopForgetsUser(t *testing.T) {
	tr := newFakeTransport()
	s := NewSession(tr, &fakeFetcher{roomsErr: errors.New("none")})
	require.NoError(t, s.Start(context.Background(), alice))
	s.ApplyUserJoined(bob)
	_, err := s.SendMessage("hi")
	require.NoError(t, err)

	s.Stop()
	assert.Nil(t, s.CurrentUser())
	assert.Empty(t, s.Messages())
	assert.Empty(t, s.Roster())

	// A different user can attach afterwards
	require.NoError(t, s.Start(context.Background(), bob))
	assert.Equal(t, bob, *s.CurrentUser())
	s.Stop()
}

func TestSessionSyncRequiresAttach(t *testing.T) {
	s := NewSession(newFakeTransport(), &fakeFetcher{})
	assert.ErrorIs(t, s.Sync(context.Background()), ErrNotLoggedIn)
}
