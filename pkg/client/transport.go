package client

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/aeolun/chatsync/pkg/protocol"
)

// ConnectionStateType represents the connection status
type ConnectionStateType int

const (
	StateTypeConnected ConnectionStateType = iota
	StateTypeDisconnected
	StateTypeReconnecting
)

func (s ConnectionStateType) String() string {
	switch s {
	case StateTypeConnected:
		return "connected"
	case StateTypeDisconnected:
		return "offline"
	case StateTypeReconnecting:
		return "reconnecting"
	}
	return "unknown"
}

// ConnectionStateUpdate represents a connection state change
type ConnectionStateUpdate struct {
	State   ConnectionStateType
	Attempt int
	Err     error
}

var (
	ErrNotConnected    = errors.New("not connected")
	ErrQueueFull       = errors.New("outgoing queue full")
	ErrTransportClosed = errors.New("transport closed")

	errConnectSuperseded = errors.New("connect superseded by Connect or Disconnect")
)

// Handler receives decoded inbound events
type Handler func(protocol.Event)

// TransportConfig configures the socket transport
type TransportConfig struct {
	URL               string
	Header            http.Header
	AutoReconnect     bool
	ReconnectDelay    time.Duration
	MaxReconnectDelay time.Duration
	QueueSize         int
}

// envelopeConn is one established socket connection
type envelopeConn interface {
	ReadEnvelope() (*protocol.Envelope, error)
	WriteEnvelope(env *protocol.Envelope) (int, error)
	Close() error
}

type dialFunc func(ctx context.Context, url string, header http.Header) (envelopeConn, error)

type handlerEntry struct {
	id uint64
	h  Handler
}

// Transport is the duplex event channel to the chat server. Inbound events are
// delivered to handlers on a single dispatch goroutine in arrival order.
type Transport struct {
	cfg  TransportConfig
	dial dialFunc

	mu           sync.RWMutex
	conn         envelopeConn
	connDone     chan struct{}
	identity     *protocol.User
	connected    bool
	generation   uint64        // bumped by Connect and Disconnect; stale dials are discarded
	stopRetry    chan struct{} // closed to cancel the running reconnect loop
	closed       bool
	stateClosed  bool

	handlersMu sync.RWMutex
	handlers   map[string][]handlerEntry
	nextID     uint64

	// Channels for communication
	inbound     chan *protocol.Envelope
	outgoing    chan *protocol.Envelope
	stateChange chan ConnectionStateUpdate

	logger  *log.Logger
	metrics *Metrics

	// Shutdown
	shutdown  chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

// TransportOption configures a Transport
type TransportOption func(*Transport)

// WithLogger sets a logger for debugging connection events
func WithLogger(logger *log.Logger) TransportOption {
	return func(t *Transport) { t.logger = logger }
}

// WithMetrics records transport traffic on m
func WithMetrics(m *Metrics) TransportOption {
	return func(t *Transport) { t.metrics = m }
}

func withDialer(d dialFunc) TransportOption {
	return func(t *Transport) { t.dial = d }
}

// NewTransport creates a transport; nothing is dialed until Connect
func NewTransport(cfg TransportConfig, opts ...TransportOption) *Transport {
	if cfg.ReconnectDelay <= 0 {
		cfg.ReconnectDelay = time.Second
	}
	if cfg.MaxReconnectDelay <= 0 {
		cfg.MaxReconnectDelay = 30 * time.Second
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 100
	}

	t := &Transport{
		cfg: cfg,
		dial: func(ctx context.Context, url string, header http.Header) (envelopeConn, error) {
			return DialWebSocket(ctx, url, header)
		},
		handlers:    make(map[string][]handlerEntry),
		inbound:     make(chan *protocol.Envelope, cfg.QueueSize),
		outgoing:    make(chan *protocol.Envelope, cfg.QueueSize),
		stateChange: make(chan ConnectionStateUpdate, 10),
		shutdown:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(t)
	}

	t.wg.Add(1)
	go t.dispatchLoop()

	return t
}

// logf logs a message if a logger is set
func (t *Transport) logf(format string, args ...interface{}) {
	if t.logger != nil {
		t.logger.Printf(format, args...)
	}
}

// Connect dials the server and authenticates as identity
func (t *Transport) Connect(ctx context.Context, identity protocol.User) error {
	if err := identity.Validate(); err != nil {
		return fmt.Errorf("invalid identity: %w", err)
	}

	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return ErrTransportClosed
	}
	if t.connected {
		t.mu.Unlock()
		return fmt.Errorf("already connected")
	}
	t.cancelRetryLocked()
	t.generation++
	gen := t.generation
	t.identity = &identity
	t.mu.Unlock()

	return t.connect(ctx, gen)
}

// cancelRetryLocked stops a pending reconnect loop. Caller holds t.mu.
func (t *Transport) cancelRetryLocked() {
	if t.stopRetry != nil {
		close(t.stopRetry)
		t.stopRetry = nil
	}
}

// connect dials and installs a connection unless gen was superseded meanwhile
func (t *Transport) connect(ctx context.Context, gen uint64) error {
	t.mu.RLock()
	identity := *t.identity
	t.mu.RUnlock()

	t.logf("Connecting to %s as %s...", t.cfg.URL, identity.ID)

	conn, err := t.dial(ctx, t.cfg.URL, t.cfg.Header)
	if err != nil {
		t.logf("Connection failed: %v", err)
		return fmt.Errorf("failed to connect: %w", err)
	}

	auth, err := protocol.NewEnvelope(protocol.EventAuth, protocol.AuthPayload{User: identity})
	if err != nil {
		conn.Close()
		return err
	}
	if _, err := conn.WriteEnvelope(auth); err != nil {
		conn.Close()
		return fmt.Errorf("failed to authenticate: %w", err)
	}
	t.metrics.RecordEventSent(protocol.EventAuth)

	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		conn.Close()
		return ErrTransportClosed
	}
	if t.generation != gen || t.connected {
		t.mu.Unlock()
		conn.Close()
		return errConnectSuperseded
	}
	done := make(chan struct{})
	t.conn = conn
	t.connDone = done
	t.connected = true
	t.wg.Add(2)
	t.mu.Unlock()

	t.logf("Connected successfully to %s", t.cfg.URL)
	t.metrics.SetConnected(true)
	t.publishState(ConnectionStateUpdate{State: StateTypeConnected})

	go t.readLoop(conn, done)
	go t.writeLoop(conn, done)

	return nil
}

// Disconnect closes the connection without reconnecting, and cancels any
// reconnect in progress. Connect may be called again.
func (t *Transport) Disconnect() {
	t.mu.Lock()
	t.cancelRetryLocked()
	t.generation++
	if !t.connected {
		t.mu.Unlock()
		return
	}
	t.logf("Disconnecting from %s", t.cfg.URL)
	conn, done := t.conn, t.connDone
	t.connected = false
	t.conn = nil
	t.connDone = nil
	t.mu.Unlock()

	close(done)
	conn.Close()
	t.metrics.SetConnected(false)
	t.publishState(ConnectionStateUpdate{State: StateTypeDisconnected})
}

// Close shuts down the transport permanently
func (t *Transport) Close() {
	t.closeOnce.Do(func() {
		t.mu.Lock()
		t.closed = true
		t.mu.Unlock()

		t.Disconnect()
		close(t.shutdown)
		t.wg.Wait()

		t.mu.Lock()
		t.stateClosed = true
		close(t.stateChange)
		t.mu.Unlock()
	})
}

// IsConnected returns whether the connection is active
func (t *Transport) IsConnected() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.connected
}

// StateChanges returns the channel for connection state updates
func (t *Transport) StateChanges() <-chan ConnectionStateUpdate {
	return t.stateChange
}

// Emit queues an event for the server
func (t *Transport) Emit(event string, payload interface{}) error {
	if !t.IsConnected() {
		return ErrNotConnected
	}

	env, err := protocol.NewEnvelope(event, payload)
	if err != nil {
		return err
	}

	select {
	case t.outgoing <- env:
		return nil
	case <-t.shutdown:
		return ErrTransportClosed
	default:
		t.metrics.RecordQueueDrop()
		return ErrQueueFull
	}
}

// On registers h for event. Releasing the returned subscription de-registers it.
func (t *Transport) On(event string, h Handler) *Subscription {
	t.handlersMu.Lock()
	defer t.handlersMu.Unlock()

	t.nextID++
	id := t.nextID
	t.handlers[event] = append(t.handlers[event], handlerEntry{id: id, h: h})

	return &Subscription{release: func() { t.removeHandler(event, id) }}
}

// Off removes every handler registered for event
func (t *Transport) Off(event string) {
	t.handlersMu.Lock()
	defer t.handlersMu.Unlock()
	delete(t.handlers, event)
}

func (t *Transport) removeHandler(event string, id uint64) {
	t.handlersMu.Lock()
	defer t.handlersMu.Unlock()

	entries := t.handlers[event]
	for i, e := range entries {
		if e.id == id {
			t.handlers[event] = append(entries[:i:i], entries[i+1:]...)
			break
		}
	}
	if len(t.handlers[event]) == 0 {
		delete(t.handlers, event)
	}
}

func (t *Transport) handlersFor(event string) []handlerEntry {
	t.handlersMu.RLock()
	defer t.handlersMu.RUnlock()
	return t.handlers[event]
}

// Subscription is a handler registration
type Subscription struct {
	release func()
	once    sync.Once
}

// Release de-registers the handler. Safe to call more than once.
func (s *Subscription) Release() {
	if s == nil || s.release == nil {
		return
	}
	s.once.Do(s.release)
}

func (t *Transport) publishState(update ConnectionStateUpdate) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.stateClosed {
		return
	}

	select {
	case t.stateChange <- update:
	default:
	}
}

// readLoop reads envelopes from one connection
func (t *Transport) readLoop(conn envelopeConn, done chan struct{}) {
	defer t.wg.Done()

	for {
		env, err := conn.ReadEnvelope()
		if err != nil {
			select {
			case <-done:
				// Closed locally
				return
			default:
			}
			var fe *frameError
			if errors.As(err, &fe) {
				t.logf("Dropping malformed frame: %v", err)
				t.metrics.RecordDecodeError()
				continue
			}
			t.logf("Read error: %v", err)
			t.handleDisconnect(conn, err)
			return
		}

		t.logf("← RECV: %s (%d bytes)", env.Event, len(env.Data))
		t.metrics.RecordEventReceived(env.Event)

		select {
		case t.inbound <- env:
		case <-done:
			return
		case <-t.shutdown:
			return
		}
	}
}

// frameError marks a malformed frame on an otherwise healthy socket
type frameError struct{ err error }

func (e *frameError) Error() string { return e.err.Error() }
func (e *frameError) Unwrap() error { return e.err }

// writeLoop sends queued envelopes to one connection
func (t *Transport) writeLoop(conn envelopeConn, done chan struct{}) {
	defer t.wg.Done()

	for {
		select {
		case env := <-t.outgoing:
			n, err := conn.WriteEnvelope(env)
			if err != nil {
				t.logf("Write error: %v", err)
				t.handleDisconnect(conn, err)
				return
			}
			t.logf("→ SEND: %s (%d bytes)", env.Event, n)
			t.metrics.RecordEventSent(env.Event)

		case <-done:
			return
		case <-t.shutdown:
			return
		}
	}
}

// dispatchLoop delivers inbound events to handlers one at a time
func (t *Transport) dispatchLoop() {
	defer t.wg.Done()

	for {
		select {
		case env := <-t.inbound:
			t.dispatch(env)
		case <-t.shutdown:
			return
		}
	}
}

func (t *Transport) dispatch(env *protocol.Envelope) {
	entries := t.handlersFor(env.Event)
	if len(entries) == 0 {
		return
	}

	ev, err := protocol.DecodeEvent(env)
	if err != nil {
		t.logf("Dropping %q: %v", env.Event, err)
		t.metrics.RecordDecodeError()
		return
	}

	for _, e := range entries {
		e.h(ev)
	}
}

// handleDisconnect handles unexpected disconnection of conn
func (t *Transport) handleDisconnect(conn envelopeConn, cause error) {
	t.mu.Lock()
	if !t.connected || t.conn != conn {
		t.mu.Unlock()
		return
	}
	done := t.connDone
	t.connected = false
	t.conn = nil
	t.connDone = nil
	autoReconnect := t.cfg.AutoReconnect && !t.closed
	var stop chan struct{}
	gen := t.generation
	if autoReconnect {
		t.cancelRetryLocked()
		stop = make(chan struct{})
		t.stopRetry = stop
	}
	t.mu.Unlock()

	close(done)
	conn.Close()

	t.logf("Disconnected from server")
	t.metrics.SetConnected(false)
	t.publishState(ConnectionStateUpdate{
		State: StateTypeDisconnected,
		Err:   fmt.Errorf("disconnected from server: %w", cause),
	})

	if autoReconnect {
		t.logf("Auto-reconnect enabled, starting reconnect loop")
		t.wg.Add(1)
		go t.reconnectLoop(stop, gen)
	}
}

// reconnectLoop attempts to reconnect with exponential backoff until it
// succeeds, stop is closed, or gen is superseded
func (t *Transport) reconnectLoop(stop chan struct{}, gen uint64) {
	defer t.wg.Done()
	defer func() {
		t.mu.Lock()
		if t.stopRetry == stop {
			t.stopRetry = nil
		}
		t.mu.Unlock()
	}()

	delay := t.cfg.ReconnectDelay
	attempt := 1

	for {
		select {
		case <-t.shutdown:
			t.logf("Reconnect loop cancelled (shutdown)")
			return
		case <-stop:
			t.logf("Reconnect loop cancelled")
			return
		case <-time.After(delay):
			t.mu.RLock()
			superseded := t.generation != gen
			t.mu.RUnlock()
			if superseded {
				return
			}

			t.logf("Reconnect attempt %d to %s", attempt, t.cfg.URL)
			t.metrics.RecordReconnectAttempt()
			t.publishState(ConnectionStateUpdate{State: StateTypeReconnecting, Attempt: attempt})

			ctx, cancel := context.WithTimeout(context.Background(), handshakeTimeout)
			err := t.connect(ctx, gen)
			cancel()
			if err != nil {
				if errors.Is(err, ErrTransportClosed) || errors.Is(err, errConnectSuperseded) {
					return
				}
				t.logf("Reconnect attempt %d failed: %v", attempt, err)

				delay = delay * 2
				if delay > t.cfg.MaxReconnectDelay {
					delay = t.cfg.MaxReconnectDelay
				}
				t.logf("Next reconnect attempt in %v", delay)
				attempt++
				continue
			}

			t.logf("Reconnected successfully after %d attempts", attempt)
			return
		}
	}
}
