// ABOUTME: The manager identity's Matrix client: command intake and control room operations
// ABOUTME: Implements notices, topic, presence, replies, redaction and room purge

package matrix

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"maunium.net/go/mautrix"
	"maunium.net/go/mautrix/event"
	"maunium.net/go/mautrix/id"

	"github.com/2389/coven-warden/internal/dedupe"
)

// purgePageSize is the number of events fetched per page while purging a room.
const purgePageSize = 100

// Rate limited (429) and gateway errors are retried by mautrix, honouring
// Retry-After, so a long purge survives M_LIMIT_EXCEEDED.
const (
	httpRetries = 5
	httpBackoff = 2 * time.Second
)

func newClient(homeserver, token string) (*mautrix.Client, error) {
	client, err := mautrix.NewClient(homeserver, "", token)
	if err != nil {
		return nil, fmt.Errorf("creating matrix client: %w", err)
	}
	client.DefaultHTTPRetries = httpRetries
	client.DefaultHTTPBackoff = httpBackoff
	return client, nil
}

// Incoming is a text message delivered to the manager.
type Incoming struct {
	RoomID  string
	EventID string
	Sender  string
	Body    string
}

// MessageHandler receives accepted messages, one goroutine per message.
type MessageHandler func(ctx context.Context, msg Incoming)

// ManagerConfig configures a Manager.
type ManagerConfig struct {
	Homeserver  string
	AccessToken string
	ControlRoom string
	Logger      *slog.Logger
}

// Manager is the manager identity. It satisfies fleet.Control and the
// command package's chat surface.
type Manager struct {
	client      *mautrix.Client
	controlRoom id.RoomID
	seen        *dedupe.Cache
	logger      *slog.Logger

	mu        sync.RWMutex
	startedMs int64
	ready     bool

	handlers sync.WaitGroup
}

// NewManager creates the manager client. Call Login before anything else.
func NewManager(cfg ManagerConfig) (*Manager, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	client, err := newClient(cfg.Homeserver, cfg.AccessToken)
	if err != nil {
		return nil, err
	}
	return &Manager{
		client:      client,
		controlRoom: id.RoomID(cfg.ControlRoom),
		seen:        dedupe.New(dedupe.DefaultTTL, dedupe.DefaultMaxSize),
		logger:      logger.With("component", "manager"),
	}, nil
}

// Login validates the manager token. Events older than the login are
// never treated as commands.
func (m *Manager) Login(ctx context.Context) error {
	resp, err := m.client.Whoami(ctx)
	if err != nil {
		return fmt.Errorf("manager whoami: %w", err)
	}
	m.client.UserID = resp.UserID
	m.client.DeviceID = resp.DeviceID

	m.mu.Lock()
	m.startedMs = time.Now().UnixMilli()
	m.ready = true
	m.mu.Unlock()

	m.logger.Info("manager logged in", "user_id", resp.UserID, "control_room", m.controlRoom)
	return nil
}

// Ready reports whether Login has succeeded.
func (m *Manager) Ready() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.ready
}

// UserID returns the manager's Matrix user ID.
func (m *Manager) UserID() string {
	return m.client.UserID.String()
}

// ControlRoom returns the control room ID.
func (m *Manager) ControlRoom() string {
	return m.controlRoom.String()
}

// Run syncs until ctx is cancelled, handing accepted messages to handle.
// Handlers share ctx and Run waits for them before returning, so nothing
// acts on a command once Run has returned. Returns nil on cancellation.
func (m *Manager) Run(ctx context.Context, handle MessageHandler) error {
	syncer, ok := m.client.Syncer.(*mautrix.DefaultSyncer)
	if !ok {
		return fmt.Errorf("unexpected syncer type: %T", m.client.Syncer)
	}
	syncer.OnEventType(event.EventMessage, func(_ context.Context, evt *event.Event) {
		msg, ok := m.accept(evt)
		if !ok {
			return
		}
		m.handlers.Add(1)
		go func() {
			defer m.handlers.Done()
			handle(ctx, msg)
		}()
	})

	m.logger.Info("manager sync starting")
	err := m.client.SyncWithContext(ctx)
	m.handlers.Wait()
	if ctx.Err() != nil {
		m.logger.Info("manager sync stopped")
		return nil
	}
	return fmt.Errorf("manager sync failed: %w", err)
}

// accept filters sync output down to new text messages from other users.
func (m *Manager) accept(evt *event.Event) (Incoming, bool) {
	if evt.Sender == m.client.UserID {
		return Incoming{}, false
	}

	m.mu.RLock()
	started := m.startedMs
	m.mu.RUnlock()
	if evt.Timestamp < started {
		return Incoming{}, false
	}

	content, ok := evt.Content.Parsed.(*event.MessageEventContent)
	if !ok || content.MsgType != event.MsgText {
		return Incoming{}, false
	}

	if m.seen.CheckAndMark(evt.ID.String()) {
		m.logger.Debug("dropping redelivered event", "event_id", evt.ID)
		return Incoming{}, false
	}

	return Incoming{
		RoomID:  evt.RoomID.String(),
		EventID: evt.ID.String(),
		Sender:  evt.Sender.String(),
		Body:    content.Body,
	}, true
}

// Notify posts markdown to the control room.
func (m *Manager) Notify(ctx context.Context, markdown string) error {
	return m.Send(ctx, m.controlRoom.String(), markdown)
}

// Send posts markdown to a room.
func (m *Manager) Send(ctx context.Context, roomID, markdown string) error {
	_, err := m.client.SendMessageEvent(ctx, id.RoomID(roomID), event.EventMessage, textContent(markdown))
	if err != nil {
		return fmt.Errorf("sending message to %s: %w", roomID, err)
	}
	return nil
}

// Reply posts markdown in reply to eventID.
func (m *Manager) Reply(ctx context.Context, roomID, eventID, markdown string) error {
	content := textContent(markdown)
	content.RelatesTo = &event.RelatesTo{
		InReplyTo: &event.InReplyTo{EventID: id.EventID(eventID)},
	}
	_, err := m.client.SendMessageEvent(ctx, id.RoomID(roomID), event.EventMessage, content)
	if err != nil {
		return fmt.Errorf("replying in %s: %w", roomID, err)
	}
	return nil
}

// Redact removes a single event.
func (m *Manager) Redact(ctx context.Context, roomID, eventID string) error {
	if _, err := m.client.RedactEvent(ctx, id.RoomID(roomID), id.EventID(eventID)); err != nil {
		return fmt.Errorf("redacting %s: %w", eventID, err)
	}
	return nil
}

// Purge redacts the room's message history, newest first, one page of
// purgePageSize events at a time. It stops once a page holds fewer than
// two events or the history is exhausted.
func (m *Manager) Purge(ctx context.Context, roomID string) error {
	room := id.RoomID(roomID)
	from := ""
	redacted := 0

	for {
		resp, err := m.client.Messages(ctx, room, from, "", mautrix.DirectionBackward, nil, purgePageSize)
		if err != nil {
			return fmt.Errorf("fetching messages: %w", err)
		}
		for _, evt := range resp.Chunk {
			if evt.Type != event.EventMessage || evt.Unsigned.RedactedBecause != nil {
				continue
			}
			if _, err := m.client.RedactEvent(ctx, room, evt.ID); err != nil {
				return fmt.Errorf("redacting %s: %w", evt.ID, err)
			}
			redacted++
		}
		if len(resp.Chunk) < 2 || resp.End == "" {
			break
		}
		from = resp.End
	}

	m.logger.Info("room purged", "room", roomID, "redacted", redacted)
	return nil
}

// SetTopic replaces the control room topic.
func (m *Manager) SetTopic(ctx context.Context, topic string) error {
	_, err := m.client.SendStateEvent(ctx, m.controlRoom, event.StateTopic, "", &event.TopicEventContent{Topic: topic})
	if err != nil {
		return fmt.Errorf("setting topic: %w", err)
	}
	return nil
}

// SetActivity shows status as the manager's presence message.
func (m *Manager) SetActivity(ctx context.Context, status string) error {
	return setPresence(ctx, m.client, event.PresenceOnline, status)
}

// Logout marks the manager offline. Sync is stopped by cancelling Run's context.
func (m *Manager) Logout(ctx context.Context) error {
	m.mu.Lock()
	m.ready = false
	m.mu.Unlock()

	if err := setPresence(ctx, m.client, event.PresenceOffline, ""); err != nil {
		return err
	}
	m.logger.Info("manager logged out")
	return nil
}
