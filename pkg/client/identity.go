package client

import (
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/url"
	"strings"
	"time"

	"github.com/aeolun/chatsync/pkg/protocol"
)

const identityKey = "current_user"

// DefaultAvatarBaseURL generates avatars seeded by display name
const DefaultAvatarBaseURL = "https://api.dicebear.com/7.x/avataaars/svg?seed="

var ErrEmptyName = errors.New("display name cannot be empty")

// IdentityStore persists the local user identity across sessions
type IdentityStore struct {
	state      StateInterface
	avatarBase string
	now        func() time.Time
	random     io.Reader
	logger     *log.Logger
}

// IdentityOption configures an IdentityStore
type IdentityOption func(*IdentityStore)

// WithAvatarBaseURL overrides the avatar URI prefix
func WithAvatarBaseURL(base string) IdentityOption {
	return func(s *IdentityStore) {
		if base != "" {
			s.avatarBase = base
		}
	}
}

// WithIdentityLogger sets a logger for identity warnings
func WithIdentityLogger(logger *log.Logger) IdentityOption {
	return func(s *IdentityStore) { s.logger = logger }
}

// withIdentityClock replaces the time and entropy sources (tests only)
func withIdentityClock(now func() time.Time, random io.Reader) IdentityOption {
	return func(s *IdentityStore) {
		s.now = now
		s.random = random
	}
}

// NewIdentityStore creates an identity store on top of client state
func NewIdentityStore(state StateInterface, opts ...IdentityOption) *IdentityStore {
	s := &IdentityStore{
		state:      state,
		avatarBase: DefaultAvatarBaseURL,
		now:        time.Now,
		random:     rand.Reader,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *IdentityStore) logf(format string, args ...interface{}) {
	if s.logger != nil {
		s.logger.Printf(format, args...)
	}
}

// Load returns the stored identity, or nil when nobody is logged in.
// A malformed stored identity is treated as logged out.
func (s *IdentityStore) Load() (*protocol.User, error) {
	raw, err := s.state.GetConfig(identityKey)
	if err != nil {
		return nil, fmt.Errorf("failed to read identity: %w", err)
	}
	if raw == "" {
		return nil, nil
	}

	var user protocol.User
	if err := json.Unmarshal([]byte(raw), &user); err != nil {
		s.logf("Ignoring malformed stored identity: %v", err)
		return nil, nil
	}
	if err := user.Validate(); err != nil {
		s.logf("Ignoring invalid stored identity: %v", err)
		return nil, nil
	}

	return &user, nil
}

// Login returns the identity for name, creating and persisting one if needed.
// Logging in again with the stored name reuses the stored identity.
func (s *IdentityStore) Login(name string) (protocol.User, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return protocol.User{}, ErrEmptyName
	}

	existing, err := s.Load()
	if err != nil {
		return protocol.User{}, err
	}
	if existing != nil && existing.Name == name {
		return *existing, nil
	}

	id, err := protocol.GenerateUserID(s.now(), s.random)
	if err != nil {
		return protocol.User{}, err
	}

	user := protocol.User{
		ID:     id,
		Name:   name,
		Avatar: s.avatarBase + url.QueryEscape(name),
	}

	data, err := json.Marshal(user)
	if err != nil {
		return protocol.User{}, fmt.Errorf("failed to encode identity: %w", err)
	}
	if err := s.state.SetConfig(identityKey, string(data)); err != nil {
		return protocol.User{}, fmt.Errorf("failed to save identity: %w", err)
	}

	s.logf("Created identity %s for %q", user.ID, user.Name)
	return user, nil
}

// Logout forgets the stored identity
func (s *IdentityStore) Logout() error {
	if err := s.state.DeleteConfig(identityKey); err != nil {
		return fmt.Errorf("failed to delete identity: %w", err)
	}
	return nil
}
