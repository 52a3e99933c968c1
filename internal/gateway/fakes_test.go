// ABOUTME: Test doubles for the manager identity, control room, bot sessions and store close
// ABOUTME: Every fake writes to a shared ordered event log so tests can assert lifecycle order

package gateway

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/2389/coven-warden/internal/command"
	"github.com/2389/coven-warden/internal/config"
	"github.com/2389/coven-warden/internal/fleet"
	"github.com/2389/coven-warden/internal/matrix"
	"github.com/2389/coven-warden/internal/store"
)

const testAPIKey = "test-secret"

type eventLog struct {
	mu     sync.Mutex
	events []string
}

func (l *eventLog) add(e string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, e)
}

func (l *eventLog) all() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.events...)
}

type fakeManager struct {
	log      *eventLog
	loginErr error
	ready    atomic.Bool
	running  chan struct{}

	// inbox is handed to the handler as soon as Run starts.
	inbox    []matrix.Incoming
	handlers sync.WaitGroup
}

func (m *fakeManager) Login(ctx context.Context) error {
	m.log.add("manager-login")
	if m.loginErr != nil {
		return m.loginErr
	}
	m.ready.Store(true)
	return nil
}

func (m *fakeManager) Ready() bool { return m.ready.Load() }

func (m *fakeManager) Run(ctx context.Context, handle matrix.MessageHandler) error {
	m.log.add("manager-run")
	for _, msg := range m.inbox {
		m.handlers.Add(1)
		go func() {
			defer m.handlers.Done()
			handle(ctx, msg)
		}()
	}
	close(m.running)
	<-ctx.Done()
	m.handlers.Wait()
	m.log.add("manager-run-stopped")
	return nil
}

func (m *fakeManager) Logout(ctx context.Context) error {
	m.log.add("manager-logout")
	m.ready.Store(false)
	return nil
}

type fakeControl struct {
	log *eventLog
}

func (c *fakeControl) Notify(ctx context.Context, markdown string) error { return nil }
func (c *fakeControl) SetActivity(ctx context.Context, status string) error { return nil }

func (c *fakeControl) SetTopic(ctx context.Context, topic string) error {
	c.log.add("topic:" + topic)
	return nil
}

type fakeSession struct {
	name        string
	log         *eventLog
	activityErr error
	release     chan struct{} // when set, Logout blocks until closed
	loginDelay  time.Duration

	mu       sync.Mutex
	activity string
}

func (s *fakeSession) Login(ctx context.Context) error {
	time.Sleep(s.loginDelay)
	return nil
}

func (s *fakeSession) Logout(ctx context.Context) error {
	if s.release != nil {
		<-s.release
	}
	s.log.add("logout:" + s.name)
	return nil
}

func (s *fakeSession) SetActivity(ctx context.Context, status string) error {
	if s.activityErr != nil {
		return s.activityErr
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.activity = status
	return nil
}

func (s *fakeSession) Tag() string { return "@" + s.name + ":test" }

func (s *fakeSession) lastActivity() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.activity
}

type closeRecordingStore struct {
	*store.MockStore
	log *eventLog
}

func (s *closeRecordingStore) Close() error {
	s.log.add("store-close")
	return nil
}

type testEnv struct {
	gw       *Gateway
	log      *eventLog
	manager  *fakeManager
	store    *closeRecordingStore
	mu       sync.Mutex
	sessions map[string]*fakeSession

	// configure is applied to every new session.
	configure func(*fakeSession)
}

func (e *testEnv) session(name string) *fakeSession {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.sessions[name]
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	log := &eventLog{}
	env := &testEnv{
		log:      log,
		manager:  &fakeManager{log: log, running: make(chan struct{})},
		store:    &closeRecordingStore{MockStore: store.NewMockStore(), log: log},
		sessions: make(map[string]*fakeSession),
	}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	cfg := &config.Config{
		Matrix:          config.MatrixConfig{ControlRoom: "!control:test"},
		ListenAPI:       config.ListenAPIConfig{Host: "127.0.0.1", Port: 0, Key: testAPIKey},
		ShutdownTimeout: 5 * time.Second,
	}

	supervisor := fleet.NewSupervisor(fleet.Options{
		Store:   env.store,
		Control: &fakeControl{log: log},
		NewSession: func(name, token string, onError func(error)) (fleet.Session, error) {
			if token == "" {
				return nil, errors.New("no token")
			}
			s := &fakeSession{name: name, log: log}
			if env.configure != nil {
				env.configure(s)
			}
			env.mu.Lock()
			env.sessions[name] = s
			env.mu.Unlock()
			return s, nil
		},
		Logger: logger,
	})

	env.gw = &Gateway{
		config:     cfg,
		store:      env.store,
		manager:    env.manager,
		supervisor: supervisor,
		commands:   command.NewInterpreter(nopChat{}, supervisor, cfg.Matrix.ControlRoom, logger),
		logger:     logger,
	}
	env.gw.httpServer = newHTTPServer(env.gw)
	return env
}

type nopChat struct{}

func (nopChat) Reply(ctx context.Context, roomID, eventID, markdown string) error { return nil }
func (nopChat) Send(ctx context.Context, roomID, markdown string) error { return nil }
func (nopChat) Redact(ctx context.Context, roomID, eventID string) error { return nil }
func (nopChat) Purge(ctx context.Context, roomID string) error { return nil }
