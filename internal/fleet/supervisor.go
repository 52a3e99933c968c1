// ABOUTME: Lifecycle supervisor that starts, stops and reconciles bot sessions against the store
// ABOUTME: Serialises work per bot name and keeps notifications and callbacks off the error path

package fleet

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/2389/coven-warden/internal/store"
)

// DefaultReconcileConcurrency bounds parallel logins during Reconcile.
const DefaultReconcileConcurrency = 4

// sideEffectTimeout bounds work started from a session's error hook, which
// has no caller context.
const sideEffectTimeout = 30 * time.Second

// Options configures a Supervisor.
type Options struct {
	Store      store.Store
	Control    Control
	NewSession SessionFactory
	Logger     *slog.Logger

	// HTTPClient sends init presence callbacks. Defaults to a client with a 15s timeout.
	HTTPClient *http.Client

	// OnSideEffectError receives failed notifications and init callbacks.
	OnSideEffectError func(op, name string, err error)

	// ReconcileConcurrency defaults to DefaultReconcileConcurrency.
	ReconcileConcurrency int

	// Now defaults to time.Now.
	Now func() time.Time
}

// Supervisor owns the active registry and every transition of a bot
// between connected and not connected.
type Supervisor struct {
	store      store.Store
	control    Control
	newSession SessionFactory
	registry   *Registry
	presence   *Presence
	locks      *keyedMutex
	httpClient *http.Client
	onSideErr  func(op, name string, err error)
	limit      int
	now        func() time.Time
	logger     *slog.Logger

	background sync.WaitGroup

	// closeMu guards closing. StartBot holds it shared around its checks
	// and the registry Put so Shutdown never misses a late registration.
	closeMu  sync.RWMutex
	closing  bool
	starting sync.WaitGroup
}

// NewSupervisor creates a Supervisor with an empty registry.
func NewSupervisor(opts Options) *Supervisor {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	client := opts.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: initCallbackTimeout}
	}
	limit := opts.ReconcileConcurrency
	if limit <= 0 {
		limit = DefaultReconcileConcurrency
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}

	registry := NewRegistry(logger.With("component", "registry"))
	return &Supervisor{
		store:      opts.Store,
		control:    opts.Control,
		newSession: opts.NewSession,
		registry:   registry,
		presence:   NewPresence(registry, opts.Control, logger),
		locks:      newKeyedMutex(),
		httpClient: client,
		onSideErr:  opts.OnSideEffectError,
		limit:      limit,
		now:        now,
		logger:     logger.With("component", "supervisor"),
	}
}

// Registry returns the active registry.
func (s *Supervisor) Registry() *Registry {
	return s.registry
}

// Presence returns the presence aggregator.
func (s *Supervisor) Presence() *Presence {
	return s.presence
}

// StartBot logs in a bot and registers it. It is a no-op when the name is
// already active. Login failures are persisted and announced in the control
// room but not returned. After Shutdown has begun it does nothing. When
// reconcile is true the caller publishes presence once for the whole batch.
func (s *Supervisor) StartBot(ctx context.Context, name, token string, reconcile bool) {
	logger := s.logger.With("name", name, "attempt", uuid.New().String())

	s.closeMu.RLock()
	if s.closing {
		s.closeMu.RUnlock()
		logger.Info("shutting down, not starting bot")
		return
	}
	s.starting.Add(1)
	s.closeMu.RUnlock()
	defer s.starting.Done()

	unlock := s.locks.Lock(name)
	defer unlock()

	if s.registry.Has(name) {
		logger.Info("bot already active, skipping start")
		return
	}

	var sess Session
	sess, err := s.newSession(name, token, func(err error) {
		s.background.Add(1)
		go func() {
			defer s.background.Done()
			s.handleRuntimeError(name, sess, err)
		}()
	})
	if err == nil {
		err = sess.Login(ctx)
	}
	if err != nil && ctx.Err() != nil {
		// Cancelled by shutdown, not a bad token. Leave the record enabled.
		logger.Warn("bot login interrupted", "error", err)
		return
	}
	if err != nil {
		logger.Error("failed to log in bot", "error", err)
		if perr := s.store.MarkFailed(ctx, name, err.Error(), s.now()); perr != nil {
			logger.Error("failed to record login failure", "error", perr)
		}
		s.notify(ctx, name, fmt.Sprintf("❌ Failed to log in bot with name **%s**: %v", name, err))
		return
	}

	if !s.register(name, sess, token) {
		logger.Info("shutdown began during login, logging bot out")
		lctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), sideEffectTimeout)
		defer cancel()
		if err := sess.Logout(lctx); err != nil {
			logger.Error("failed to log out bot", "error", err)
		}
		return
	}
	logger.Info("bot logged in", "tag", sess.Tag())

	if err := s.store.MarkConnected(ctx, name, s.now()); err != nil {
		logger.Error("failed to record connection", "error", err)
	}

	s.notify(ctx, name, fmt.Sprintf("✅ Bot with name **%s** successfully logged in as %s.", name, sess.Tag()))

	if bot, err := s.store.GetBot(ctx, name); err != nil {
		logger.Warn("failed to read init presence url", "error", err)
	} else if bot.InitPresenceURL != "" {
		s.fireInitCallback(name, bot.InitPresenceURL)
	}

	if !reconcile {
		s.presence.Publish(ctx)
	}
}

// register adds sess to the registry unless shutdown has begun.
func (s *Supervisor) register(name string, sess Session, token string) bool {
	s.closeMu.RLock()
	defer s.closeMu.RUnlock()
	if s.closing {
		return false
	}
	s.registry.Put(name, sess, token)
	return true
}

// StopBot logs out and unregisters a bot. Absent names are a no-op.
func (s *Supervisor) StopBot(ctx context.Context, name string) {
	unlock := s.locks.Lock(name)
	defer unlock()

	if s.stopLocked(ctx, name) {
		s.presence.Publish(ctx)
	}
}

// stopLocked must be called with the name lock held.
func (s *Supervisor) stopLocked(ctx context.Context, name string) bool {
	sess, ok := s.registry.Remove(name)
	if !ok {
		s.logger.Info("bot is not active", "name", name)
		return false
	}
	if err := sess.Logout(ctx); err != nil {
		s.logger.Error("failed to log out bot", "name", name, "error", err)
	} else {
		s.logger.Info("bot logged out and removed", "name", name)
	}
	return true
}

// Deactivate persists a bot as disabled and then stops it. Returns
// store.ErrNotFound when the name was never enrolled.
func (s *Supervisor) Deactivate(ctx context.Context, name string) error {
	unlock := s.locks.Lock(name)
	defer unlock()

	if err := s.store.Disable(ctx, name, s.now()); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return err
		}
		return fmt.Errorf("disabling bot: %w", err)
	}

	if s.stopLocked(ctx, name) {
		s.presence.Publish(ctx)
	}
	return nil
}

// Enroll validates and persists a bot identity, then starts it. Re-enrolling
// an existing name replaces its token and re-enables it.
func (s *Supervisor) Enroll(ctx context.Context, name, token string) error {
	if err := ValidateName(name); err != nil {
		return err
	}
	if token == "" {
		return ErrInvalidToken
	}

	if err := s.store.UpsertBot(ctx, name, token, s.now()); err != nil {
		return fmt.Errorf("saving bot: %w", err)
	}
	s.logger.Info("bot enrolled", "name", name)

	s.StartBot(ctx, name, token, false)
	return nil
}

// SetInitPresenceURL stores the callback fired after the bot next connects.
func (s *Supervisor) SetInitPresenceURL(ctx context.Context, name, url string) error {
	if err := ValidateInitURL(url); err != nil {
		return err
	}
	if err := s.store.SetInitPresenceURL(ctx, name, url); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return err
		}
		return fmt.Errorf("saving init url: %w", err)
	}
	s.logger.Info("init presence url updated", "name", name, "url", url)
	return nil
}

// SetBotPresence sets the displayed status of an active bot.
func (s *Supervisor) SetBotPresence(ctx context.Context, name, status string) error {
	sess, ok := s.registry.Get(name)
	if !ok {
		return ErrBotNotActive
	}
	if err := sess.SetActivity(ctx, status); err != nil {
		return fmt.Errorf("setting presence for %s: %w", name, err)
	}
	return nil
}

// Reconcile starts every enabled identity from the store and publishes
// presence exactly once when all attempts have finished.
func (s *Supervisor) Reconcile(ctx context.Context) {
	bots, err := s.store.ListEnabledBots(ctx)
	if err != nil {
		s.logger.Error("failed to list enabled bots", "error", err)
		bots = nil
	}

	s.logger.Info("reconciling bots", "enabled", len(bots))

	var g errgroup.Group
	g.SetLimit(s.limit)
	for _, bot := range bots {
		g.Go(func() error {
			s.StartBot(ctx, bot.Name, bot.Token, true)
			return nil
		})
	}
	_ = g.Wait()

	s.presence.Publish(ctx)
	s.logger.Info("reconcile complete", "active", s.registry.Len())
}

// Shutdown refuses new starts, waits for logins already in flight, then
// logs out every active bot in turn. Individual failures are logged and do
// not stop the remaining logouts. Waits are bounded by ctx.
func (s *Supervisor) Shutdown(ctx context.Context) {
	s.closeMu.Lock()
	s.closing = true
	s.closeMu.Unlock()

	if !waitCtx(ctx, &s.starting) {
		s.logger.Warn("bot logins still in flight at shutdown")
	}

	for _, e := range s.registry.Snapshot() {
		unlock := s.locks.Lock(e.Name)
		if _, ok := s.registry.Remove(e.Name); ok {
			if err := e.Session.Logout(ctx); err != nil {
				s.logger.Error("failed to log out bot", "name", e.Name, "error", err)
			} else {
				s.logger.Info("bot logged out", "name", e.Name)
			}
		}
		unlock()
	}

	if !waitCtx(ctx, &s.background) {
		s.logger.Warn("background side effects still running at shutdown")
	}
}

// waitCtx waits for wg and reports false if ctx ended first.
func waitCtx(ctx context.Context, wg *sync.WaitGroup) bool {
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return true
	case <-ctx.Done():
		return false
	}
}

// handleRuntimeError evicts a session that failed after login, provided it
// is still the one registered for name.
func (s *Supervisor) handleRuntimeError(name string, sess Session, cause error) {
	ctx, cancel := context.WithTimeout(context.Background(), sideEffectTimeout)
	defer cancel()

	unlock := s.locks.Lock(name)
	defer unlock()

	logger := s.logger.With("name", name)
	if !s.registry.RemoveIf(name, sess) {
		logger.Debug("ignoring error from inactive session", "error", cause)
		return
	}
	logger.Error("bot error", "error", cause)

	if err := s.store.MarkFailed(ctx, name, cause.Error(), s.now()); err != nil {
		logger.Error("failed to record bot error", "error", err)
	}
	s.notify(ctx, name, fmt.Sprintf("❌ Bot error for **%s**: %v", name, cause))

	if err := sess.Logout(ctx); err != nil {
		logger.Warn("failed to tear down errored session", "error", err)
	}
	s.presence.Publish(ctx)
}

// notify posts to the control room. Failures never reach the caller.
func (s *Supervisor) notify(ctx context.Context, name, msg string) {
	if err := s.control.Notify(ctx, msg); err != nil {
		s.logger.Error("failed to send control room notice", "name", name, "error", err)
		s.reportSideEffect("notify", name, err)
	}
}

func (s *Supervisor) reportSideEffect(op, name string, err error) {
	if s.onSideErr != nil {
		s.onSideErr(op, name, err)
	}
}

// Wait blocks until background side effects have finished. Used by tests
// and by shutdown paths that already bound the wait.
func (s *Supervisor) Wait() {
	s.background.Wait()
}
