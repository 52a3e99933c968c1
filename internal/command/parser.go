// ABOUTME: Parses chat text into typed commands; non-commands and unknown verbs parse to nil
// ABOUTME: Arguments are split on single spaces and missing ones yield a UsageError

package command

import (
	"strings"
)

// Prefix marks a chat message as a command.
const Prefix = "!"

// Command is one of Clear, AddBot, DelBot, InitURL or Help.
type Command interface {
	verb() string
}

// Clear purges the control room.
type Clear struct{}

// AddBot enrolls a bot identity.
type AddBot struct {
	Name  string
	Token string
}

// DelBot deactivates a bot identity.
type DelBot struct {
	Name string
}

// InitURL sets a bot's init presence callback.
type InitURL struct {
	Name string
	URL  string
}

// Help lists the available commands.
type Help struct{}

func (Clear) verb() string   { return "clear" }
func (AddBot) verb() string  { return "addbot" }
func (DelBot) verb() string  { return "delbot" }
func (InitURL) verb() string { return "init-url" }
func (Help) verb() string    { return "help" }

// UsageError is returned when a known command is missing arguments.
type UsageError struct {
	Verb  string
	Usage string
}

func (e *UsageError) Error() string {
	return e.Usage
}

var usages = map[string]string{
	"addbot":   "Please provide a bot name and token. Usage: !addbot <name> <token>",
	"delbot":   "Please provide a bot name. Usage: !delbot <name>",
	"init-url": "Please provide a bot name and a URL. Usage: !init-url <botname> <url>",
}

// Parse turns a message body into a Command. It returns (nil, nil) for
// text that is not a recognised command.
func Parse(body string) (Command, error) {
	if !strings.HasPrefix(body, Prefix) {
		return nil, nil
	}

	// Split on single spaces so repeated spaces produce empty arguments.
	fields := strings.Split(strings.TrimPrefix(body, Prefix), " ")
	verb, args := fields[0], fields[1:]
	arg := func(i int) string {
		if i < len(args) {
			return args[i]
		}
		return ""
	}

	switch verb {
	case "clear":
		return Clear{}, nil
	case "help":
		return Help{}, nil
	case "addbot":
		name, token := arg(0), arg(1)
		if name == "" || token == "" {
			return nil, usageError(verb)
		}
		return AddBot{Name: name, Token: token}, nil
	case "delbot":
		name := arg(0)
		if name == "" {
			return nil, usageError(verb)
		}
		return DelBot{Name: name}, nil
	case "init-url":
		name, url := arg(0), arg(1)
		if name == "" || url == "" {
			return nil, usageError(verb)
		}
		return InitURL{Name: name, URL: url}, nil
	default:
		return nil, nil
	}
}

func usageError(verb string) *UsageError {
	return &UsageError{Verb: verb, Usage: usages[verb]}
}
