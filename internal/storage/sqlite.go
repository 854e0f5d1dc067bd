package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/huandu/go-sqlbuilder"
	_ "modernc.org/sqlite" // SQLite driver registration.

	"modfeed_bot/internal/model"
	"modfeed_bot/migrations"
)

const timeLayout = "2006-01-02T15:04:05Z"

const (
	tableAccounts  = "accounts"
	tableGameFeeds = "game_feeds"
	tableModFeeds  = "mod_feeds"
)

var gameFeedColumns = []string{
	"id", "channel_id", "guild_id", "owner_id", "domain", "title",
	"nsfw", "sfw", "show_new", "show_updates", "compact",
	"webhook_id", "webhook_token", "message", "last_timestamp", "created_at",
}

var modFeedColumns = []string{
	"id", "channel_id", "guild_id", "owner_id", "domain", "mod_id", "title",
	"show_files", "show_other", "last_status", "message",
	"webhook_id", "webhook_token", "last_timestamp", "created_at",
}

var gameFeedUpdatable = map[string]bool{
	FieldTitle: true, FieldMessage: true, FieldLastTimestamp: true,
	FieldWebhookID: true, FieldWebhookToken: true,
	FieldNSFW: true, FieldSFW: true, FieldShowNew: true, FieldShowUpdates: true, FieldCompact: true,
}

var modFeedUpdatable = map[string]bool{
	FieldTitle: true, FieldMessage: true, FieldLastTimestamp: true,
	FieldWebhookID: true, FieldWebhookToken: true,
	FieldShowFiles: true, FieldShowOther: true, FieldLastStatus: true,
}

var errUnknownField = errors.New("unknown or read-only field")

// SQLite implements Storage backed by a SQLite database.
type SQLite struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at dsn and runs pending migrations.
func NewSQLite(dsn string) (*SQLite, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// A single connection serialises writers and keeps ":memory:" databases shared
	// between the concurrently processed feeds.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set busy timeout: %w", err)
	}

	if err := migrations.Run(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &SQLite{db: db}, nil
}

// Close closes the underlying database connection.
func (s *SQLite) Close() error {
	return s.db.Close()
}

// CreateGameFeed inserts a new game feed and populates its ID and CreatedAt.
func (s *SQLite) CreateGameFeed(ctx context.Context, feed *model.GameFeed) error {
	now := time.Now().UTC().Format(timeLayout)
	ib := sqlbuilder.SQLite.NewInsertBuilder()
	ib.InsertInto(tableGameFeeds).
		Cols(gameFeedColumns[1:]...).
		Values(
			feed.ChannelID, feed.GuildID, feed.OwnerID, feed.Domain, feed.Title,
			boolToInt(feed.NSFW), boolToInt(feed.SFW), boolToInt(feed.ShowNew),
			boolToInt(feed.ShowUpdates), boolToInt(feed.Compact),
			feed.Webhook.ID, feed.Webhook.Token, feed.Message, feed.LastTimestamp, now,
		)
	id, err := s.insert(ctx, ib)
	if err != nil {
		return fmt.Errorf("insert game feed: %w", err)
	}
	feed.ID = id
	feed.CreatedAt, _ = time.Parse(timeLayout, now)
	return nil
}

// GetGameFeed returns a single game feed by its ID.
func (s *SQLite) GetGameFeed(ctx context.Context, id int64) (*model.GameFeed, error) {
	sb := sqlbuilder.SQLite.NewSelectBuilder()
	sb.Select(gameFeedColumns...).From(tableGameFeeds).Where(sb.Equal("id", id))
	query, args := sb.Build()
	return scanGameFeed(s.db.QueryRowContext(ctx, query, args...))
}

// ListGameFeeds returns all game feeds ordered by ID.
func (s *SQLite) ListGameFeeds(ctx context.Context) ([]model.GameFeed, error) {
	sb := sqlbuilder.SQLite.NewSelectBuilder()
	sb.Select(gameFeedColumns...).From(tableGameFeeds).OrderBy("id")
	query, args := sb.Build()
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query game feeds: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var feeds []model.GameFeed
	for rows.Next() {
		f, err := scanGameFeed(rows)
		if err != nil {
			return nil, err
		}
		feeds = append(feeds, *f)
	}
	return feeds, rows.Err()
}

// UpdateGameFeed applies a partial update to a game feed.
func (s *SQLite) UpdateGameFeed(ctx context.Context, id int64, fields Fields) error {
	return s.updateFields(ctx, tableGameFeeds, gameFeedUpdatable, id, fields)
}

// DeleteGameFeed removes a game feed.
func (s *SQLite) DeleteGameFeed(ctx context.Context, id int64) error {
	return s.deleteByID(ctx, tableGameFeeds, id)
}

// CreateModFeed inserts a new mod feed and populates its ID and CreatedAt.
func (s *SQLite) CreateModFeed(ctx context.Context, feed *model.ModFeed) error {
	now := time.Now().UTC().Format(timeLayout)
	ib := sqlbuilder.SQLite.NewInsertBuilder()
	ib.InsertInto(tableModFeeds).
		Cols(modFeedColumns[1:]...).
		Values(
			feed.ChannelID, feed.GuildID, feed.OwnerID, feed.Domain, feed.ModID, feed.Title,
			boolToInt(feed.ShowFiles), boolToInt(feed.ShowOther), feed.LastStatus, feed.Message,
			feed.Webhook.ID, feed.Webhook.Token, feed.LastTimestamp, now,
		)
	id, err := s.insert(ctx, ib)
	if err != nil {
		return fmt.Errorf("insert mod feed: %w", err)
	}
	feed.ID = id
	feed.CreatedAt, _ = time.Parse(timeLayout, now)
	return nil
}

// GetModFeed returns a single mod feed by its ID.
func (s *SQLite) GetModFeed(ctx context.Context, id int64) (*model.ModFeed, error) {
	sb := sqlbuilder.SQLite.NewSelectBuilder()
	sb.Select(modFeedColumns...).From(tableModFeeds).Where(sb.Equal("id", id))
	query, args := sb.Build()
	return scanModFeed(s.db.QueryRowContext(ctx, query, args...))
}

// ListModFeeds returns all mod feeds ordered by ID.
func (s *SQLite) ListModFeeds(ctx context.Context) ([]model.ModFeed, error) {
	sb := sqlbuilder.SQLite.NewSelectBuilder()
	sb.Select(modFeedColumns...).From(tableModFeeds).OrderBy("id")
	query, args := sb.Build()
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query mod feeds: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var feeds []model.ModFeed
	for rows.Next() {
		f, err := scanModFeed(rows)
		if err != nil {
			return nil, err
		}
		feeds = append(feeds, *f)
	}
	return feeds, rows.Err()
}

// UpdateModFeed applies a partial update to a mod feed.
func (s *SQLite) UpdateModFeed(ctx context.Context, id int64, fields Fields) error {
	return s.updateFields(ctx, tableModFeeds, modFeedUpdatable, id, fields)
}

// DeleteModFeed removes a mod feed.
func (s *SQLite) DeleteModFeed(ctx context.Context, id int64) error {
	return s.deleteByID(ctx, tableModFeeds, id)
}

// CreateAccount inserts or replaces the account linked to a Discord user.
func (s *SQLite) CreateAccount(ctx context.Context, acc *model.Account) error {
	now := time.Now().UTC().Format(timeLayout)
	ib := sqlbuilder.SQLite.NewInsertBuilder()
	ib.ReplaceInto(tableAccounts).
		Cols("discord_id", "name", "api_key", "created_at").
		Values(acc.DiscordID, acc.Name, acc.APIKey, now)
	query, args := ib.Build()
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("insert account: %w", err)
	}
	acc.CreatedAt, _ = time.Parse(timeLayout, now)
	return nil
}

// GetAccount returns the account linked to a Discord user.
func (s *SQLite) GetAccount(ctx context.Context, discordID string) (*model.Account, error) {
	sb := sqlbuilder.SQLite.NewSelectBuilder()
	sb.Select("discord_id", "name", "api_key", "created_at").
		From(tableAccounts).
		Where(sb.Equal("discord_id", discordID))
	query, args := sb.Build()

	var acc model.Account
	var created string
	err := s.db.QueryRowContext(ctx, query, args...).Scan(&acc.DiscordID, &acc.Name, &acc.APIKey, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("account %s: %w", discordID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("scan account: %w", err)
	}
	acc.CreatedAt, _ = time.Parse(timeLayout, created)
	return &acc, nil
}

func (s *SQLite) insert(ctx context.Context, ib *sqlbuilder.InsertBuilder) (int64, error) {
	query, args := ib.Build()
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("last insert id: %w", err)
	}
	return id, nil
}

func (s *SQLite) deleteByID(ctx context.Context, table string, id int64) error {
	dlb := sqlbuilder.SQLite.NewDeleteBuilder()
	dlb.DeleteFrom(table).Where(dlb.Equal("id", id))
	query, args := dlb.Build()
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("delete from %s: %w", table, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("%s %d: %w", table, id, ErrNotFound)
	}
	return nil
}

// updateFields writes each field with its own statement inside one transaction, so a
// failure names the offending field and leaves the row untouched.
func (s *SQLite) updateFields(ctx context.Context, table string, allowed map[string]bool, id int64, fields Fields) error {
	if len(fields) == 0 {
		return nil
	}

	names := make([]string, 0, len(fields))
	var invalid []error
	for name := range fields {
		if !allowed[name] {
			invalid = append(invalid, &FieldError{Field: name, Err: errUnknownField})
			continue
		}
		names = append(names, name)
	}
	if len(invalid) > 0 {
		return errors.Join(invalid...)
	}
	sort.Strings(names)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, name := range names {
		ub := sqlbuilder.SQLite.NewUpdateBuilder()
		ub.Update(table)
		value := normalize(fields[name])
		if name == FieldLastTimestamp {
			// The cursor never moves backwards.
			ub.Set(fmt.Sprintf("%s = MAX(%s, %s)", name, name, ub.Var(value)))
		} else {
			ub.Set(ub.Assign(name, value))
		}
		ub.Where(ub.Equal("id", id))

		query, args := ub.Build()
		res, err := tx.ExecContext(ctx, query, args...)
		if err != nil {
			return &FieldError{Field: name, Err: err}
		}
		if n, err := res.RowsAffected(); err == nil && n == 0 {
			return fmt.Errorf("%s %d: %w", table, id, ErrNotFound)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit update: %w", err)
	}
	return nil
}

func normalize(v any) any {
	if b, ok := v.(bool); ok {
		return boolToInt(b)
	}
	return v
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

type scannable interface {
	Scan(dest ...any) error
}

func scanGameFeed(row scannable) (*model.GameFeed, error) {
	var f model.GameFeed
	var nsfw, sfw, showNew, showUpdates, compact int
	var created string
	err := row.Scan(
		&f.ID, &f.ChannelID, &f.GuildID, &f.OwnerID, &f.Domain, &f.Title,
		&nsfw, &sfw, &showNew, &showUpdates, &compact,
		&f.Webhook.ID, &f.Webhook.Token, &f.Message, &f.LastTimestamp, &created,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("game feed: %w", ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("scan game feed: %w", err)
	}
	f.NSFW = nsfw == 1
	f.SFW = sfw == 1
	f.ShowNew = showNew == 1
	f.ShowUpdates = showUpdates == 1
	f.Compact = compact == 1
	f.CreatedAt, _ = time.Parse(timeLayout, created)
	return &f, nil
}

func scanModFeed(row scannable) (*model.ModFeed, error) {
	var f model.ModFeed
	var showFiles, showOther int
	var created string
	err := row.Scan(
		&f.ID, &f.ChannelID, &f.GuildID, &f.OwnerID, &f.Domain, &f.ModID, &f.Title,
		&showFiles, &showOther, &f.LastStatus, &f.Message,
		&f.Webhook.ID, &f.Webhook.Token, &f.LastTimestamp, &created,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("mod feed: %w", ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("scan mod feed: %w", err)
	}
	f.ShowFiles = showFiles == 1
	f.ShowOther = showOther == 1
	f.CreatedAt, _ = time.Parse(timeLayout, created)
	return &f, nil
}
