// ABOUTME: Store interface and data types for the persisted bot registry
// ABOUTME: Defines the Bot identity record and the operations the supervisor needs

package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a requested bot identity does not exist
var ErrNotFound = errors.New("not found")

// Bot is a registered bot identity. It exists independently of whether the bot
// is currently connected in this process.
type Bot struct {
	Name            string
	Token           string
	Enabled         bool
	InitPresenceURL string // empty when no init callback is configured
	CreatedOn       time.Time
	LastConnectedOn *time.Time
	DisabledOn      *time.Time
	LogonError      string // empty when the last logon succeeded
}

// Store defines the persistence operations for bot identities.
// Identities are never physically deleted; Disable clears the enabled flag.
type Store interface {
	// UpsertBot creates the identity, or re-enables an existing one with a fresh
	// token, clearing any recorded logon error and disable timestamp.
	UpsertBot(ctx context.Context, name, token string, at time.Time) error
	GetBot(ctx context.Context, name string) (*Bot, error)
	ListBots(ctx context.Context) ([]*Bot, error)
	ListEnabledBots(ctx context.Context) ([]*Bot, error)

	// Lifecycle transitions
	MarkConnected(ctx context.Context, name string, at time.Time) error
	MarkFailed(ctx context.Context, name, reason string, at time.Time) error
	Disable(ctx context.Context, name string, at time.Time) error

	SetInitPresenceURL(ctx context.Context, name, url string) error

	// Close releases any resources held by the store
	Close() error
}
