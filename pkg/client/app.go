package client

import (
	"context"
	"fmt"
	"log"

	"github.com/aeolun/chatsync/pkg/protocol"
)

// Connector opens and closes the authenticated socket
type Connector interface {
	Connect(ctx context.Context, identity protocol.User) error
	Disconnect()
}

// App ties the identity store, transport and session together for the login flow
type App struct {
	identity *IdentityStore
	conn     Connector
	session  *Session
	logger   *log.Logger
}

// NewApp creates the login flow controller
func NewApp(identity *IdentityStore, conn Connector, session *Session, logger *log.Logger) *App {
	return &App{identity: identity, conn: conn, session: session, logger: logger}
}

func (a *App) logf(format string, args ...interface{}) {
	if a.logger != nil {
		a.logger.Printf(format, args...)
	}
}

// Session returns the state store driven by this app
func (a *App) Session() *Session {
	return a.session
}

// Resume starts a session for the stored identity. It returns nil, nil when
// nobody is logged in.
func (a *App) Resume(ctx context.Context) (*protocol.User, error) {
	user, err := a.identity.Load()
	if err != nil || user == nil {
		return nil, err
	}
	if err := a.start(ctx, *user); err != nil {
		return user, err
	}
	return user, nil
}

// Login saves identity for name and starts a session for it
func (a *App) Login(ctx context.Context, name string) (*protocol.User, error) {
	user, err := a.identity.Login(name)
	if err != nil {
		return nil, err
	}
	if err := a.start(ctx, user); err != nil {
		return &user, err
	}
	return &user, nil
}

// Logout ends the session, closes the socket and clears the stored identity
func (a *App) Logout() error {
	a.session.Stop()
	a.conn.Disconnect()
	if err := a.identity.Logout(); err != nil {
		return fmt.Errorf("failed to clear identity: %w", err)
	}
	a.logf("Logged out")
	return nil
}

func (a *App) start(ctx context.Context, user protocol.User) error {
	if a.session.CurrentUser() != nil {
		// Retrying after a failed connect
		a.session.Stop()
	}
	if err := a.session.Attach(user); err != nil {
		return err
	}
	if err := a.conn.Connect(ctx, user); err != nil {
		a.session.Stop()
		return fmt.Errorf("failed to connect: %w", err)
	}
	if err := a.session.Sync(ctx); err != nil {
		// History loads are best effort; only the join failed
		a.logf("Initial sync incomplete: %v", err)
	}
	a.logf("Session started for %s (%s)", user.Name, user.ID)
	return nil
}
