// ABOUTME: Contracts between the supervisor and the chat platform: bot sessions and the control room
// ABOUTME: Also holds the sentinel errors and input validation shared with commands and the API

package fleet

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"unicode/utf8"
)

// MaxNameLength is the longest accepted bot name, counted in characters.
const MaxNameLength = 50

var (
	// ErrBotNotActive indicates the named bot has no live session in this process.
	ErrBotNotActive = errors.New("bot not found or not logged in")

	// ErrInvalidName indicates a bot name outside 1..MaxNameLength characters.
	ErrInvalidName = fmt.Errorf("bot name must be between 1 and %d characters", MaxNameLength)

	// ErrInvalidToken indicates an empty bot token.
	ErrInvalidToken = errors.New("bot token is required")

	// ErrInvalidURL indicates an init presence URL that is not an absolute http(s) URL.
	ErrInvalidURL = errors.New("init URL must be an absolute http or https URL")
)

// Session is one live connection for a bot identity.
//
// Login returns nil once the identity is ready. Errors that occur after a
// successful login are reported through the hook passed to the SessionFactory,
// never through the return values of later calls.
type Session interface {
	Login(ctx context.Context) error
	Logout(ctx context.Context) error
	SetActivity(ctx context.Context, status string) error
	// Tag is the platform handle shown to humans, e.g. @ada:example.org.
	Tag() string
}

// SessionFactory builds an unstarted session. onError receives asynchronous
// runtime failures and may be called from any goroutine.
type SessionFactory func(name, token string, onError func(error)) (Session, error)

// Control is the manager identity's view of the control room.
type Control interface {
	// Notify posts a markdown message to the control room.
	Notify(ctx context.Context, markdown string) error
	// SetActivity sets the manager's displayed status.
	SetActivity(ctx context.Context, status string) error
	// SetTopic replaces the control room topic.
	SetTopic(ctx context.Context, topic string) error
}

// ValidateName checks the length rule for bot names.
func ValidateName(name string) error {
	n := utf8.RuneCountInString(name)
	if n < 1 || n > MaxNameLength {
		return ErrInvalidName
	}
	return nil
}

// ValidateInitURL accepts absolute http and https URLs only.
func ValidateInitURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return ErrInvalidURL
	}
	return nil
}
