// Package storage defines the feed store interface and its implementations.
package storage

import (
	"context"
	"errors"
	"fmt"

	"modfeed_bot/internal/model"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("record not found")

// Fields is a partial update keyed by column name.
type Fields map[string]any

// Updatable columns.
const (
	FieldTitle         = "title"
	FieldMessage       = "message"
	FieldLastTimestamp = "last_timestamp"
	FieldWebhookID     = "webhook_id"
	FieldWebhookToken  = "webhook_token"
	FieldNSFW          = "nsfw"
	FieldSFW           = "sfw"
	FieldShowNew       = "show_new"
	FieldShowUpdates   = "show_updates"
	FieldCompact       = "compact"
	FieldShowFiles     = "show_files"
	FieldShowOther     = "show_other"
	FieldLastStatus    = "last_status"
)

// FieldError reports the failure of a single field in a partial update.
type FieldError struct {
	Field string
	Err   error
}

func (e *FieldError) Error() string {
	return fmt.Sprintf("update field %q: %v", e.Field, e.Err)
}

func (e *FieldError) Unwrap() error {
	return e.Err
}

// Storage is the interface for all feed store operations.
type Storage interface {
	CreateGameFeed(ctx context.Context, feed *model.GameFeed) error
	GetGameFeed(ctx context.Context, id int64) (*model.GameFeed, error)
	ListGameFeeds(ctx context.Context) ([]model.GameFeed, error)
	UpdateGameFeed(ctx context.Context, id int64, fields Fields) error
	DeleteGameFeed(ctx context.Context, id int64) error

	CreateModFeed(ctx context.Context, feed *model.ModFeed) error
	GetModFeed(ctx context.Context, id int64) (*model.ModFeed, error)
	ListModFeeds(ctx context.Context) ([]model.ModFeed, error)
	UpdateModFeed(ctx context.Context, id int64, fields Fields) error
	DeleteModFeed(ctx context.Context, id int64) error

	CreateAccount(ctx context.Context, acc *model.Account) error
	GetAccount(ctx context.Context, discordID string) (*model.Account, error)

	Close() error
}
