package scheduler

import (
	"errors"

	"modfeed_bot/internal/bot"
	"modfeed_bot/internal/nexus"
	"modfeed_bot/internal/storage"
)

// TerminalError marks a failure after which a feed can never succeed again.
// The feed is deleted and its owner told why.
type TerminalError struct {
	Reason string
	Err    error
}

func (e *TerminalError) Error() string {
	if e.Err == nil {
		return e.Reason
	}
	return e.Reason + ": " + e.Err.Error()
}

func (e *TerminalError) Unwrap() error {
	return e.Err
}

func terminal(reason string, err error) error {
	return &TerminalError{Reason: reason, Err: err}
}

// IsTerminal reports whether err carries a TerminalError.
func IsTerminal(err error) bool {
	var te *TerminalError
	return errors.As(err, &te)
}

// classifyDestination turns destination lookup errors into terminal ones where
// retrying cannot help.
func classifyDestination(err error) error {
	switch {
	case errors.Is(err, bot.ErrGuildNotFound):
		return terminal("the server is no longer available to the bot", err)
	case errors.Is(err, bot.ErrChannelNotFound):
		return terminal("the channel no longer exists", err)
	case errors.Is(err, bot.ErrMissingPermissions):
		return terminal("the bot can no longer post in the channel", err)
	}
	return err
}

func classifyOwner(err error) error {
	if errors.Is(err, storage.ErrNotFound) {
		return terminal("the owner's account is no longer linked", err)
	}
	return err
}

func classifyPlatform(err error) error {
	if errors.Is(err, nexus.ErrUnauthorized) {
		return terminal("the owner's API key was rejected", err)
	}
	return err
}
