// ABOUTME: Executes parsed chat commands through a fixed handler table
// ABOUTME: Replies to the sender on every outcome; only the supervisor mutates state

package command

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/2389/coven-warden/internal/fleet"
	"github.com/2389/coven-warden/internal/store"
)

// HelpText lists the available commands.
const HelpText = "Available commands: !addbot, !init-url, !delbot, !clear"

// Request is an incoming chat message.
type Request struct {
	RoomID  string
	EventID string
	Sender  string
	Body    string
}

// Chat is the messaging surface commands reply through.
type Chat interface {
	Reply(ctx context.Context, roomID, eventID, markdown string) error
	Send(ctx context.Context, roomID, markdown string) error
	Redact(ctx context.Context, roomID, eventID string) error
	Purge(ctx context.Context, roomID string) error
}

// Fleet is the subset of the supervisor commands drive.
type Fleet interface {
	Enroll(ctx context.Context, name, token string) error
	Deactivate(ctx context.Context, name string) error
	SetInitPresenceURL(ctx context.Context, name, url string) error
}

type handlerFunc func(ctx context.Context, req Request, cmd Command)

// Interpreter dispatches commands to their handlers.
type Interpreter struct {
	chat        Chat
	fleet       Fleet
	controlRoom string
	logger      *slog.Logger
	handlers    map[string]handlerFunc
}

// NewInterpreter creates an Interpreter. clear is only honoured in controlRoom.
func NewInterpreter(chat Chat, fleet Fleet, controlRoom string, logger *slog.Logger) *Interpreter {
	if logger == nil {
		logger = slog.Default()
	}
	i := &Interpreter{
		chat:        chat,
		fleet:       fleet,
		controlRoom: controlRoom,
		logger:      logger.With("component", "commands"),
	}
	i.handlers = map[string]handlerFunc{
		Clear{}.verb():   i.clear,
		AddBot{}.verb():  i.addBot,
		DelBot{}.verb():  i.delBot,
		InitURL{}.verb(): i.initURL,
		Help{}.verb():    i.help,
	}
	return i
}

// Handle parses and runs one message. Non-commands are ignored.
func (i *Interpreter) Handle(ctx context.Context, req Request) {
	cmd, err := Parse(req.Body)
	if err != nil {
		var usage *UsageError
		if errors.As(err, &usage) {
			i.reply(ctx, req, usage.Usage)
		}
		return
	}
	if cmd == nil {
		return
	}

	h, ok := i.handlers[cmd.verb()]
	if !ok {
		return
	}
	i.logger.Info("running command", "command", cmd.verb(), "sender", req.Sender, "room", req.RoomID)
	h(ctx, req, cmd)
}

func (i *Interpreter) clear(ctx context.Context, req Request, _ Command) {
	if req.RoomID != i.controlRoom {
		i.reply(ctx, req, "This command can only be used in the designated bot channel.")
		return
	}

	if err := i.chat.Purge(ctx, req.RoomID); err != nil {
		i.logger.Error("failed to clear messages", "room", req.RoomID, "error", err)
		i.reply(ctx, req, "❌ Failed to clear messages. Please try again later.")
		return
	}
	i.send(ctx, req.RoomID, "✅ All messages in this channel have been cleared.")
}

func (i *Interpreter) addBot(ctx context.Context, req Request, cmd Command) {
	c := cmd.(AddBot)

	if err := fleet.ValidateName(c.Name); err != nil {
		i.reply(ctx, req, fmt.Sprintf("Bot name must be between 1 and %d characters.", fleet.MaxNameLength))
		return
	}

	// The message carries the token; take it down before anything else.
	if err := i.chat.Redact(ctx, req.RoomID, req.EventID); err != nil {
		i.logger.Error("failed to redact addbot message", "room", req.RoomID, "error", err)
		i.send(ctx, req.RoomID, "❌ Failed to add the bot: "+err.Error())
		return
	}

	if err := i.fleet.Enroll(ctx, c.Name, c.Token); err != nil {
		i.logger.Error("failed to add bot", "name", c.Name, "error", err)
		i.send(ctx, req.RoomID, "❌ Failed to add the bot: "+err.Error())
		return
	}

	i.send(ctx, req.RoomID, fmt.Sprintf(
		"> **%s**: !addbot %s xxx\n\n✅ Bot **%s** registered successfully.",
		req.Sender, c.Name, c.Name,
	))
}

func (i *Interpreter) delBot(ctx context.Context, req Request, cmd Command) {
	c := cmd.(DelBot)

	err := i.fleet.Deactivate(ctx, c.Name)
	switch {
	case errors.Is(err, store.ErrNotFound):
		i.reply(ctx, req, fmt.Sprintf("No bot with the name **%s** found.", c.Name))
	case err != nil:
		i.logger.Error("failed to remove bot", "name", c.Name, "error", err)
		i.reply(ctx, req, "Failed to unregister the bot: "+err.Error())
	default:
		i.reply(ctx, req, "Bot unregistered and logged out successfully.")
	}
}

func (i *Interpreter) initURL(ctx context.Context, req Request, cmd Command) {
	c := cmd.(InitURL)

	err := i.fleet.SetInitPresenceURL(ctx, c.Name, c.URL)
	switch {
	case errors.Is(err, fleet.ErrInvalidURL):
		i.reply(ctx, req, "❌ Invalid URL: "+fleet.ErrInvalidURL.Error()+".")
	case errors.Is(err, store.ErrNotFound):
		i.reply(ctx, req, fmt.Sprintf("No bot with the name **%s** found.", c.Name))
	case err != nil:
		i.logger.Error("failed to update init url", "name", c.Name, "error", err)
		i.reply(ctx, req, fmt.Sprintf("❌ Failed to update the init URL for bot **%s**.", c.Name))
	default:
		i.reply(ctx, req, fmt.Sprintf("✅ The init URL for bot **%s** has been updated to: %s", c.Name, c.URL))
	}
}

func (i *Interpreter) help(ctx context.Context, req Request, _ Command) {
	i.reply(ctx, req, HelpText)
}

func (i *Interpreter) reply(ctx context.Context, req Request, markdown string) {
	if err := i.chat.Reply(ctx, req.RoomID, req.EventID, markdown); err != nil {
		i.logger.Error("failed to reply", "room", req.RoomID, "error", err)
	}
}

func (i *Interpreter) send(ctx context.Context, roomID, markdown string) {
	if err := i.chat.Send(ctx, roomID, markdown); err != nil {
		i.logger.Error("failed to send message", "room", roomID, "error", err)
	}
}
