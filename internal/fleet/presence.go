// ABOUTME: Derives the manager's status and the control room topic from the active registry
// ABOUTME: Publishes are serialised so the most recent snapshot is the one left visible

package fleet

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
)

// NoBotsTopic is the control room topic while nothing is connected.
const NoBotsTopic = "No bots are currently active."

// ActivityText is the manager status for n active bots.
func ActivityText(n int) string {
	if n == 1 {
		return "Watching over 1 bot"
	}
	return fmt.Sprintf("Watching over %d bots", n)
}

// TopicText is the control room topic for the given active names.
func TopicText(names []string) string {
	if len(names) == 0 {
		return NoBotsTopic
	}
	return "Active bots: " + strings.Join(names, ", ")
}

// Presence keeps the manager's status and the control room topic in line
// with the registry.
type Presence struct {
	registry *Registry
	control  Control
	mu       sync.Mutex
	logger   *slog.Logger
}

// NewPresence creates a Presence publishing through control.
func NewPresence(registry *Registry, control Control, logger *slog.Logger) *Presence {
	if logger == nil {
		logger = slog.Default()
	}
	return &Presence{
		registry: registry,
		control:  control,
		logger:   logger.With("component", "presence"),
	}
}

// Publish pushes the current registry snapshot. Failures are logged and swallowed.
func (p *Presence) Publish(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()

	names := p.registry.Names()
	activity := ActivityText(len(names))
	topic := TopicText(names)

	if err := p.control.SetActivity(ctx, activity); err != nil {
		p.logger.Error("failed to update manager presence", "error", err)
	} else {
		p.logger.Debug("manager presence updated", "status", activity)
	}

	if err := p.control.SetTopic(ctx, topic); err != nil {
		p.logger.Error("failed to update control room topic", "error", err)
	} else {
		p.logger.Info("control room topic updated", "topic", topic)
	}
}

// ClearTopic empties the control room topic, used while shutting down.
func (p *Presence) ClearTopic(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.control.SetTopic(ctx, ""); err != nil {
		return fmt.Errorf("clearing control room topic: %w", err)
	}
	p.logger.Info("control room topic cleared")
	return nil
}
