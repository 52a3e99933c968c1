// ABOUTME: One bot identity's Matrix connection: whoami login, background sync and presence
// ABOUTME: Sync failures while not stopping are reported through the session's error hook

package matrix

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"maunium.net/go/mautrix"
	"maunium.net/go/mautrix/event"

	"github.com/2389/coven-warden/internal/fleet"
)

// BotSession is a fleet.Session backed by a mautrix client.
type BotSession struct {
	name    string
	client  *mautrix.Client
	onError func(error)
	logger  *slog.Logger

	mu       sync.Mutex
	cancel   context.CancelFunc
	done     chan struct{}
	stopping bool
}

// NewSessionFactory returns a fleet.SessionFactory creating sessions on homeserver.
func NewSessionFactory(homeserver string, logger *slog.Logger) fleet.SessionFactory {
	if logger == nil {
		logger = slog.Default()
	}
	return func(name, token string, onError func(error)) (fleet.Session, error) {
		client, err := newClient(homeserver, token)
		if err != nil {
			return nil, err
		}
		return &BotSession{
			name:    name,
			client:  client,
			onError: onError,
			logger:  logger.With("component", "bot-session", "name", name),
		}, nil
	}
}

// Login validates the token with whoami, marks the bot online and starts
// the sync loop. The session is ready when Login returns nil.
func (s *BotSession) Login(ctx context.Context) error {
	resp, err := s.client.Whoami(ctx)
	if err != nil {
		return fmt.Errorf("whoami: %w", err)
	}
	s.client.UserID = resp.UserID
	s.client.DeviceID = resp.DeviceID

	if err := setPresence(ctx, s.client, event.PresenceOnline, ""); err != nil {
		s.logger.Warn("failed to set initial presence", "error", err)
	}

	syncCtx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	s.mu.Lock()
	s.cancel = cancel
	s.done = done
	s.stopping = false
	s.mu.Unlock()

	go s.sync(syncCtx, done)

	s.logger.Info("bot session started", "user_id", resp.UserID)
	return nil
}

func (s *BotSession) sync(ctx context.Context, done chan struct{}) {
	defer close(done)

	err := s.client.SyncWithContext(ctx)

	s.mu.Lock()
	stopping := s.stopping
	s.mu.Unlock()

	if stopping || errors.Is(err, context.Canceled) {
		s.logger.Debug("sync loop stopped")
		return
	}
	if err == nil {
		err = errors.New("sync loop ended unexpectedly")
	}
	s.logger.Error("sync loop failed", "error", err)
	if s.onError != nil {
		s.onError(err)
	}
}

// Logout stops the sync loop and marks the bot offline. The access token is
// left valid so the identity can log in again.
func (s *BotSession) Logout(ctx context.Context) error {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.stopping = true
	s.mu.Unlock()

	if cancel == nil {
		return nil
	}
	cancel()

	select {
	case <-done:
	case <-ctx.Done():
		return fmt.Errorf("waiting for sync loop: %w", ctx.Err())
	}

	if err := setPresence(ctx, s.client, event.PresenceOffline, ""); err != nil {
		return err
	}
	s.logger.Info("bot session stopped")
	return nil
}

// SetActivity shows status as the bot's presence message.
func (s *BotSession) SetActivity(ctx context.Context, status string) error {
	return setPresence(ctx, s.client, event.PresenceOnline, status)
}

// Tag returns the bot's Matrix user ID, or its name before login.
func (s *BotSession) Tag() string {
	if s.client.UserID != "" {
		return s.client.UserID.String()
	}
	return s.name
}
