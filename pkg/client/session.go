package client

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/aeolun/chatsync/pkg/protocol"
)

// DefaultTypingExpiry drops a remote typing indicator that never received a stop
const DefaultTypingExpiry = 5 * time.Second

var ErrNotLoggedIn = errors.New("not logged in")

type typingEntry struct {
	user       protocol.User
	timer      Timer
	generation uint64
}

// Session is the in-memory store behind the view: current user, roster, message
// logs and typing set. Every reducer applies its whole mutation under one lock.
type Session struct {
	transport EventTransport
	api       HistoryFetcher
	logger    *log.Logger
	metrics   *Metrics
	notifier  Notifier
	after     AfterFunc
	now       func() time.Time

	typingTimeout time.Duration
	typingExpiry  time.Duration
	defaultRoom   string

	mu          sync.Mutex
	started     bool
	currentUser *protocol.User
	multiRoom   bool
	rooms       []protocol.Room
	currentRoom string
	logs        map[string][]protocol.Message
	roster      map[string]protocol.User
	directory   map[string]protocol.User // every user ever seen, for sender lookup
	typing      map[string]*typingEntry  // current room only
	typingGen   uint64
	debouncers  map[string]*TypingDebouncer
	darkMode    bool
	connState   ConnectionStateType
	wasOffline  bool
	subs        []*Subscription
	alerts      chan alert // nil unless started with a notifier

	changes chan struct{}
}

// alertQueueSize bounds pending desktop notifications; overflow is dropped
const alertQueueSize = 16

type alert struct {
	title, body string
}

// SessionOption configures a Session
type SessionOption func(*Session)

// WithSessionLogger sets a logger for reducer and fetch diagnostics
func WithSessionLogger(logger *log.Logger) SessionOption {
	return func(s *Session) { s.logger = logger }
}

// WithSessionMetrics records reducer outcomes on m
func WithSessionMetrics(m *Metrics) SessionOption {
	return func(s *Session) { s.metrics = m }
}

// WithNotifier alerts on messages from other users
func WithNotifier(n Notifier) SessionOption {
	return func(s *Session) { s.notifier = n }
}

// WithSessionClock replaces the timer and wall-clock sources
func WithSessionClock(after AfterFunc, now func() time.Time) SessionOption {
	return func(s *Session) {
		if after != nil {
			s.after = after
		}
		if now != nil {
			s.now = now
		}
	}
}

// WithTypingTimeout sets the local keystroke debounce period
func WithTypingTimeout(d time.Duration) SessionOption {
	return func(s *Session) { s.typingTimeout = d }
}

// WithTypingExpiry sets how long a remote typing indicator lives without a stop; 0 disables
func WithTypingExpiry(d time.Duration) SessionOption {
	return func(s *Session) { s.typingExpiry = d }
}

// WithDefaultRoom names the room joined at start when the backend has no chat list
func WithDefaultRoom(id string) SessionOption {
	return func(s *Session) {
		if id != "" {
			s.defaultRoom = id
		}
	}
}

// WithDarkMode sets the initial theme
func WithDarkMode(on bool) SessionOption {
	return func(s *Session) { s.darkMode = on }
}

// NewSession creates a session store over an explicit transport and REST client
func NewSession(transport EventTransport, api HistoryFetcher, opts ...SessionOption) *Session {
	s := &Session{
		transport:     transport,
		api:           api,
		after:         realAfterFunc,
		now:           time.Now,
		typingTimeout: DefaultTypingTimeout,
		typingExpiry:  DefaultTypingExpiry,
		defaultRoom:   protocol.DefaultRoomID,
		logs:          make(map[string][]protocol.Message),
		roster:        make(map[string]protocol.User),
		directory:     make(map[string]protocol.User),
		typing:        make(map[string]*typingEntry),
		debouncers:    make(map[string]*TypingDebouncer),
		connState:     StateTypeDisconnected,
		changes:       make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.currentRoom = s.defaultRoom
	return s
}

func (s *Session) logf(format string, args ...interface{}) {
	if s.logger != nil {
		s.logger.Printf(format, args...)
	}
}

// Changes delivers a coalesced signal after every state mutation
func (s *Session) Changes() <-chan struct{} {
	return s.changes
}

func (s *Session) notifyChange() {
	select {
	case s.changes <- struct{}{}:
	default:
	}
}

// Start binds the session to identity and loads its initial state
func (s *Session) Start(ctx context.Context, identity protocol.User) error {
	if err := s.Attach(identity); err != nil {
		return err
	}
	return s.Sync(ctx)
}

// Attach binds the session to identity and subscribes to inbound events.
// Call it before the transport connects so no early event is missed.
func (s *Session) Attach(identity protocol.User) error {
	if err := identity.Validate(); err != nil {
		return fmt.Errorf("invalid identity: %w", err)
	}

	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return fmt.Errorf("session already started")
	}
	s.started = true
	user := identity
	s.currentUser = &user
	s.directory[user.ID] = user
	if s.notifier != nil {
		s.alerts = make(chan alert, alertQueueSize)
		go s.deliverAlerts(s.alerts)
	}
	s.mu.Unlock()

	s.subscribe()
	s.notifyChange()
	return nil
}

// Sync loads the user directory and room list, then joins the first room.
// Fetch failures leave empty collections.
func (s *Session) Sync(ctx context.Context) error {
	s.mu.Lock()
	started := s.started
	s.mu.Unlock()
	if !started {
		return ErrNotLoggedIn
	}

	if users, err := s.api.FetchUsers(ctx); err != nil {
		s.logf("Failed to load users: %v", err)
	} else {
		s.mu.Lock()
		for id, u := range users {
			if id == "" {
				continue
			}
			if u.ID == "" {
				u.ID = id
			}
			s.directory[id] = u
		}
		s.mu.Unlock()
	}

	room := s.loadRooms(ctx)
	s.notifyChange()

	return s.SelectRoom(ctx, room)
}

// subscribe registers the inbound event reducers
func (s *Session) subscribe() {
	subs := []*Subscription{
		s.transport.On(protocol.EventNewMessage, func(ev protocol.Event) {
			if m, ok := ev.(protocol.NewMessageEvent); ok {
				s.ApplyIncomingMessage(m.Message)
			}
		}),
		s.transport.On(protocol.EventTyping, func(ev protocol.Event) {
			if t, ok := ev.(protocol.TypingEvent); ok {
				s.ApplyTyping(t)
			}
		}),
		s.transport.On(protocol.EventUserJoined, func(ev protocol.Event) {
			if j, ok := ev.(protocol.UserJoinedEvent); ok {
				s.ApplyUserJoined(j.User)
			}
		}),
		s.transport.On(protocol.EventUserLeft, func(ev protocol.Event) {
			if l, ok := ev.(protocol.UserLeftEvent); ok {
				s.ApplyUserLeft(l.UserID)
			}
		}),
		s.transport.On(protocol.EventActiveUsers, func(ev protocol.Event) {
			if a, ok := ev.(protocol.ActiveUsersEvent); ok {
				s.ApplyActiveUsers(a.Users)
			}
		}),
	}

	s.mu.Lock()
	s.subs = append(s.subs, subs...)
	s.mu.Unlock()
}

// loadRooms fetches the chat list and returns the room to join first
func (s *Session) loadRooms(ctx context.Context) string {
	rooms, err := s.api.FetchChats(ctx)
	if err != nil {
		s.logf("No chat list, using single room %q: %v", s.defaultRoom, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if len(rooms) == 0 {
		s.multiRoom = false
		s.rooms = []protocol.Room{{ID: s.defaultRoom}}
		return s.defaultRoom
	}

	s.multiRoom = true
	s.rooms = append([]protocol.Room(nil), rooms...)
	for _, r := range rooms {
		if r.ID == s.defaultRoom {
			return r.ID
		}
	}
	return rooms[0].ID
}

// Stop releases all subscriptions and timers and forgets the logged-in user's state
func (s *Session) Stop() {
	s.mu.Lock()
	subs := s.subs
	s.subs = nil
	debouncers := s.debouncers
	s.debouncers = make(map[string]*TypingDebouncer)
	s.clearTypingLocked()
	s.started = false
	s.currentUser = nil
	s.multiRoom = false
	s.rooms = nil
	s.currentRoom = s.defaultRoom
	s.logs = make(map[string][]protocol.Message)
	s.roster = make(map[string]protocol.User)
	s.directory = make(map[string]protocol.User)
	s.wasOffline = false
	if s.alerts != nil {
		close(s.alerts)
		s.alerts = nil
	}
	s.mu.Unlock()

	for _, sub := range subs {
		sub.Release()
	}
	for _, d := range debouncers {
		d.Close()
	}
	s.notifyChange()
}

// SelectRoom switches the current room. In multi-room mode the server is asked to
// join the room before its history is loaded.
func (s *Session) SelectRoom(ctx context.Context, chatID string) error {
	if strings.TrimSpace(chatID) == "" {
		return fmt.Errorf("room id is empty")
	}

	s.mu.Lock()
	multiRoom := s.multiRoom
	s.mu.Unlock()

	var joinErr error
	if multiRoom {
		if err := s.transport.Emit(protocol.EventJoinRoom, chatID); err != nil {
			s.logf("Failed to join room %s: %v", chatID, err)
			joinErr = fmt.Errorf("failed to join room %s: %w", chatID, err)
		}
	}

	s.mu.Lock()
	previous := s.debouncers[s.currentRoom]
	if s.currentRoom != chatID {
		s.clearTypingLocked()
	}
	s.currentRoom = chatID
	s.ensureRoomLocked(chatID)
	for i := range s.rooms {
		if s.rooms[i].ID == chatID {
			s.rooms[i].Unread = 0
		}
	}
	s.mu.Unlock()

	// Leaving a room ends any typing announcement there
	if previous != nil {
		previous.Submit()
	}
	s.notifyChange()

	history, err := s.api.FetchMessages(ctx, chatID)
	if err != nil {
		s.logf("Failed to load history for %s: %v", chatID, err)
		return joinErr
	}

	s.mu.Lock()
	s.mergeHistoryLocked(chatID, history)
	s.mu.Unlock()
	s.notifyChange()

	return joinErr
}

// mergeHistoryLocked replaces the room log with history, keeping messages that
// arrived live but are not part of it yet
func (s *Session) mergeHistoryLocked(chatID string, history []protocol.Message) {
	merged := make([]protocol.Message, 0, len(history)+len(s.logs[chatID]))
	ids := make(map[string]bool, len(history))
	for _, m := range history {
		if m.ChatID == "" {
			m.ChatID = chatID
		}
		if m.ID != "" {
			ids[m.ID] = true
		}
		if m.Sender.Name != "" {
			s.rememberLocked(m.Sender)
		}
		merged = append(merged, m)
	}
	for _, m := range s.logs[chatID] {
		if m.ID != "" && ids[m.ID] {
			continue
		}
		merged = append(merged, m)
	}
	s.logs[chatID] = merged
}

func (s *Session) ensureRoomLocked(chatID string) {
	for _, r := range s.rooms {
		if r.ID == chatID {
			return
		}
	}
	s.rooms = append(s.rooms, protocol.Room{ID: chatID})
}

func (s *Session) rememberLocked(u protocol.User) {
	if u.ID == "" {
		return
	}
	s.directory[u.ID] = u
}

// ApplyIncomingMessage appends a server-relayed message. The user's own messages
// reconcile with their optimistic copy by client ID, or are dropped as echoes.
func (s *Session) ApplyIncomingMessage(msg protocol.Message) {
	s.mu.Lock()

	if strings.TrimSpace(msg.Sender.ID) == "" {
		s.mu.Unlock()
		s.logf("Dropping message %s without sender", msg.ID)
		s.metrics.RecordDroppedMessage()
		return
	}

	chatID := msg.ChatID
	if chatID == "" {
		chatID = s.currentRoom
		msg.ChatID = chatID
	}

	if s.currentUser != nil && msg.Sender.ID == s.currentUser.ID {
		reconciled := s.reconcileLocked(chatID, msg)
		s.mu.Unlock()
		if reconciled {
			s.metrics.RecordReconciled()
			s.notifyChange()
		} else {
			s.metrics.RecordEchoSuppressed()
		}
		return
	}

	if msg.ID != "" && s.hasMessageLocked(chatID, msg.ID) {
		s.mu.Unlock()
		return
	}

	if msg.Sender.Name != "" {
		s.rememberLocked(msg.Sender)
	}
	s.logs[chatID] = append(s.logs[chatID], msg)
	s.touchRoomLocked(chatID, msg, chatID != s.currentRoom)
	if s.alerts != nil {
		sender := s.resolveLocked(msg.Sender)
		select {
		case s.alerts <- alert{title: sender.Name, body: msg.Content}:
		default:
			s.logf("Notification queue full, dropping alert for %s", msg.ID)
		}
	}
	s.mu.Unlock()

	s.notifyChange()
}

// deliverAlerts runs notifications off the dispatch goroutine until alerts is closed
func (s *Session) deliverAlerts(alerts <-chan alert) {
	for a := range alerts {
		if err := s.notifier.Notify(a.title, a.body); err != nil {
			s.logf("Notification failed: %v", err)
		}
	}
}

// reconcileLocked replaces the optimistic entry carrying msg.ClientID
func (s *Session) reconcileLocked(chatID string, msg protocol.Message) bool {
	if msg.ClientID == "" {
		return false
	}
	log := s.logs[chatID]
	for i := len(log) - 1; i >= 0; i-- {
		if log[i].ClientID != msg.ClientID {
			continue
		}
		if msg.Status == "" || msg.Status == protocol.StatusSent {
			msg.Status = protocol.StatusDelivered
		}
		log[i] = msg
		return true
	}
	return false
}

func (s *Session) hasMessageLocked(chatID, id string) bool {
	for _, m := range s.logs[chatID] {
		if m.ID == id {
			return true
		}
	}
	return false
}

func (s *Session) touchRoomLocked(chatID string, msg protocol.Message, unread bool) {
	for i := range s.rooms {
		if s.rooms[i].ID != chatID {
			continue
		}
		s.rooms[i].LastMessage = msg.Content
		s.rooms[i].Timestamp = msg.Timestamp
		if unread {
			s.rooms[i].Unread++
		}
		return
	}
}

// SendMessage sends content to the current room. Blank content is ignored and
// reported as not sent. The message is appended before it is relayed.
func (s *Session) SendMessage(content string) (bool, error) {
	if strings.TrimSpace(content) == "" {
		return false, nil
	}

	s.mu.Lock()
	if s.currentUser == nil {
		s.mu.Unlock()
		return false, ErrNotLoggedIn
	}

	chatID := s.currentRoom
	msg := protocol.Message{
		ID:        protocol.NewMessageID(),
		ChatID:    chatID,
		Content:   content,
		Timestamp: protocol.FormatTimestamp(s.now()),
		Sender:    *s.currentUser,
		Status:    protocol.StatusSent,
		ClientID:  protocol.NewClientID(),
	}
	s.logs[chatID] = append(s.logs[chatID], msg)
	s.touchRoomLocked(chatID, msg, false)
	debouncer := s.debouncers[chatID]
	s.mu.Unlock()

	s.notifyChange()

	if debouncer != nil {
		debouncer.Submit()
	}

	if err := s.transport.Emit(protocol.EventSendMessage, protocol.SendMessageRequest{
		ChatID:  chatID,
		Message: msg,
	}); err != nil {
		s.logf("Failed to relay message %s: %v", msg.ID, err)
		return true, fmt.Errorf("failed to send message: %w", err)
	}

	return true, nil
}

// Keystroke reports input activity in the current room
func (s *Session) Keystroke() {
	s.mu.Lock()
	if s.currentUser == nil {
		s.mu.Unlock()
		return
	}
	d := s.debouncerLocked(s.currentRoom)
	s.mu.Unlock()

	d.Keystroke()
}

func (s *Session) debouncerLocked(chatID string) *TypingDebouncer {
	if d, ok := s.debouncers[chatID]; ok {
		return d
	}

	d := NewTypingDebouncer(func(isTyping bool) {
		// Room mode can change after the debouncer exists (typing before Sync)
		wireChatID := ""
		if s.MultiRoom() {
			wireChatID = chatID
		}
		if err := s.transport.Emit(protocol.EventTyping, protocol.TypingRequest{
			ChatID:   wireChatID,
			IsTyping: isTyping,
		}); err != nil {
			s.logf("Failed to send typing=%v: %v", isTyping, err)
		}
	}, s.typingTimeout, WithAfterFunc(s.after))
	s.debouncers[chatID] = d
	return d
}

// ApplyUserJoined upserts a user into the roster
func (s *Session) ApplyUserJoined(u protocol.User) {
	if u.ID == "" {
		return
	}

	s.mu.Lock()
	s.roster[u.ID] = u
	s.rememberLocked(u)
	s.mu.Unlock()

	s.notifyChange()
}

// ApplyUserLeft removes a user from the roster and the typing set
func (s *Session) ApplyUserLeft(userID string) {
	s.mu.Lock()
	delete(s.roster, userID)
	s.removeTypingLocked(userID)
	s.mu.Unlock()

	s.notifyChange()
}

// ApplyActiveUsers replaces the roster with a full snapshot. Presence events
// apply in arrival order: the snapshot discards everything before it, and
// later joined/left events apply on top of it.
func (s *Session) ApplyActiveUsers(users protocol.Roster) {
	s.mu.Lock()
	s.roster = make(map[string]protocol.User, len(users))
	for id, u := range users {
		if id == "" {
			continue
		}
		if u.ID == "" {
			u.ID = id
		}
		s.roster[id] = u
		s.rememberLocked(u)
	}
	s.mu.Unlock()

	s.notifyChange()
}

// ApplyTyping updates the typing set from a remote typing signal
func (s *Session) ApplyTyping(ev protocol.TypingEvent) {
	s.mu.Lock()

	if ev.User.ID == "" || (s.currentUser != nil && ev.User.ID == s.currentUser.ID) {
		s.mu.Unlock()
		return
	}
	if s.multiRoom && ev.ChatID != "" && ev.ChatID != s.currentRoom {
		s.mu.Unlock()
		return
	}

	if !ev.IsTyping {
		s.removeTypingLocked(ev.User.ID)
		s.mu.Unlock()
		s.notifyChange()
		return
	}

	user := ev.User
	if user.Name == "" {
		user = s.resolveLocked(user)
	} else {
		s.rememberLocked(user)
	}

	entry, ok := s.typing[user.ID]
	if !ok {
		entry = &typingEntry{}
		s.typing[user.ID] = entry
	}
	entry.user = user
	if entry.timer != nil {
		entry.timer.Stop()
		entry.timer = nil
	}
	if s.typingExpiry > 0 {
		s.typingGen++
		gen := s.typingGen
		userID := user.ID
		entry.generation = gen
		entry.timer = s.after(s.typingExpiry, func() { s.expireTyping(userID, gen) })
	}
	s.mu.Unlock()

	s.notifyChange()
}

func (s *Session) expireTyping(userID string, gen uint64) {
	s.mu.Lock()
	entry, ok := s.typing[userID]
	if !ok || entry.generation != gen {
		s.mu.Unlock()
		return
	}
	delete(s.typing, userID)
	s.mu.Unlock()

	s.logf("Typing indicator for %s expired", userID)
	s.notifyChange()
}

func (s *Session) removeTypingLocked(userID string) {
	entry, ok := s.typing[userID]
	if !ok {
		return
	}
	if entry.timer != nil {
		entry.timer.Stop()
	}
	delete(s.typing, userID)
}

func (s *Session) clearTypingLocked() {
	for id := range s.typing {
		s.removeTypingLocked(id)
	}
}

// WatchConnection applies transport state updates until ctx ends or updates closes
func (s *Session) WatchConnection(ctx context.Context, updates <-chan ConnectionStateUpdate) {
	for {
		select {
		case <-ctx.Done():
			return
		case update, ok := <-updates:
			if !ok {
				return
			}
			s.ApplyConnectionState(ctx, update)
		}
	}
}

// ApplyConnectionState records the connection status. Coming back online
// re-joins the current room and reloads its history.
func (s *Session) ApplyConnectionState(ctx context.Context, update ConnectionStateUpdate) {
	s.mu.Lock()
	s.connState = update.State
	resync := false
	switch update.State {
	case StateTypeConnected:
		resync = s.wasOffline && s.started
		s.wasOffline = false
	case StateTypeDisconnected, StateTypeReconnecting:
		s.wasOffline = true
		// Remote typing state is unknowable while offline
		s.clearTypingLocked()
	}
	room := s.currentRoom
	s.mu.Unlock()

	s.notifyChange()

	if resync {
		s.logf("Back online, resyncing room %s", room)
		if err := s.SelectRoom(ctx, room); err != nil {
			s.logf("Resync failed: %v", err)
		}
	}
}

// ToggleTheme flips the display theme
func (s *Session) ToggleTheme() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.darkMode = !s.darkMode
	s.notifyChange()
	return s.darkMode
}

// DarkMode reports the display theme
func (s *Session) DarkMode() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.darkMode
}

// ConnectionState returns the last applied connection status
func (s *Session) ConnectionState() ConnectionStateType {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connState
}

// CurrentUser returns a copy of the logged-in user, or nil
func (s *Session) CurrentUser() *protocol.User {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.currentUser == nil {
		return nil
	}
	u := *s.currentUser
	return &u
}

// CurrentRoom returns the ID of the room being viewed
func (s *Session) CurrentRoom() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.currentRoom
}

// MultiRoom reports whether the backend exposes a chat list
func (s *Session) MultiRoom() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.multiRoom
}

// Rooms returns the room list in server order
func (s *Session) Rooms() []protocol.Room {
	s.mu.Lock()
	defer s.mu.Unlock()

	rooms := make([]protocol.Room, len(s.rooms))
	for i, r := range s.rooms {
		r.Members = append([]string(nil), r.Members...)
		rooms[i] = r
	}
	return rooms
}

// Messages returns the current room's log, oldest first
func (s *Session) Messages() []protocol.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]protocol.Message(nil), s.logs[s.currentRoom]...)
}

// MessagesFor returns the log of chatID, oldest first
func (s *Session) MessagesFor(chatID string) []protocol.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]protocol.Message(nil), s.logs[chatID]...)
}

// RenderableMessages returns the current room's log with senders resolved.
// Messages whose sender cannot be resolved to a name are skipped.
func (s *Session) RenderableMessages() []protocol.Message {
	s.mu.Lock()
	defer s.mu.Unlock()

	log := s.logs[s.currentRoom]
	out := make([]protocol.Message, 0, len(log))
	for _, m := range log {
		sender := s.resolveLocked(m.Sender)
		if sender.Name == "" {
			continue
		}
		m.Sender = sender
		out = append(out, m)
	}
	return out
}

// resolveLocked fills in a sender reference from known users
func (s *Session) resolveLocked(u protocol.User) protocol.User {
	if u.Name != "" {
		return u
	}
	if known, ok := s.directory[u.ID]; ok {
		return known
	}
	if known, ok := s.roster[u.ID]; ok {
		return known
	}
	return u
}

// Roster returns the present users sorted by name
func (s *Session) Roster() []protocol.User {
	s.mu.Lock()
	defer s.mu.Unlock()
	return sortedUsers(s.roster)
}

// Typing returns the users typing in the current room sorted by name
func (s *Session) Typing() []protocol.User {
	s.mu.Lock()
	defer s.mu.Unlock()

	users := make(map[string]protocol.User, len(s.typing))
	for id, e := range s.typing {
		users[id] = e.user
	}
	return sortedUsers(users)
}

func sortedUsers(m map[string]protocol.User) []protocol.User {
	users := make([]protocol.User, 0, len(m))
	for _, u := range m {
		users = append(users, u)
	}
	sort.Slice(users, func(i, j int) bool {
		if users[i].Name != users[j].Name {
			return users[i].Name < users[j].Name
		}
		return users[i].ID < users[j].ID
	})
	return users
}
