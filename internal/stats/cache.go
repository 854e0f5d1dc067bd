// Package stats caches per-game download counts.
package stats

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"modfeed_bot/internal/model"
)

// DefaultTTL is how long a fetched per-game set stays valid.
const DefaultTTL = 5 * time.Minute

// Source fetches the raw bulk download counts of a game.
type Source interface {
	DownloadStats(ctx context.Context, gameID int64) ([]byte, error)
}

// Recorder observes cache outcomes.
type Recorder interface {
	CacheResult(result string)
}

// Cache outcomes passed to Recorder.
const (
	ResultHit        = "hit"
	ResultMiss       = "miss"
	ResultFetchError = "fetch_error"
)

type entry struct {
	mods    map[int64]model.DownloadStats
	expires time.Time
}

// Cache memoizes per-game download counts for a fixed TTL. Concurrent misses for
// the same game share a single upstream fetch.
type Cache struct {
	source Source
	ttl    time.Duration
	log    *slog.Logger
	rec    Recorder
	now    func() time.Time

	mu      sync.Mutex
	entries map[int64]entry
	group   singleflight.Group
}

// New creates a Cache with the default TTL.
func New(source Source, rec Recorder, log *slog.Logger) *Cache {
	return &Cache{
		source:  source,
		ttl:     DefaultTTL,
		log:     log,
		rec:     rec,
		now:     time.Now,
		entries: make(map[int64]entry),
	}
}

// Get returns the download counts of modID in gameID. A mod missing from the
// game's set yields zero counts rather than an error.
func (c *Cache) Get(ctx context.Context, gameID, modID int64) (model.DownloadStats, error) {
	mods, ok := c.lookup(gameID)
	if ok {
		c.record(ResultHit)
	} else {
		c.record(ResultMiss)
		var err error
		mods, err = c.fill(ctx, gameID)
		if err != nil {
			c.record(ResultFetchError)
			return model.DownloadStats{}, err
		}
	}

	if s, ok := mods[modID]; ok {
		return s, nil
	}
	return model.DownloadStats{ModID: modID}, nil
}

// lookup sweeps expired entries and returns the live set for gameID.
func (c *Cache) lookup(gameID int64) (map[int64]model.DownloadStats, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	for id, e := range c.entries {
		if !now.Before(e.expires) {
			delete(c.entries, id)
		}
	}
	e, ok := c.entries[gameID]
	return e.mods, ok
}

func (c *Cache) fill(ctx context.Context, gameID int64) (map[int64]model.DownloadStats, error) {
	v, err, _ := c.group.Do(strconv.FormatInt(gameID, 10), func() (any, error) {
		// Another caller may have stored the set while this one waited for the group.
		if mods, ok := c.lookup(gameID); ok {
			return mods, nil
		}

		data, err := c.source.DownloadStats(ctx, gameID)
		if err != nil {
			return nil, fmt.Errorf("fetch download stats for game %d: %w", gameID, err)
		}
		mods := Parse(data, c.log.With("game_id", gameID))

		c.mu.Lock()
		c.entries[gameID] = entry{mods: mods, expires: c.now().Add(c.ttl)}
		c.mu.Unlock()

		c.log.Debug("cached download stats", "game_id", gameID, "mods", len(mods))
		return mods, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(map[int64]model.DownloadStats), nil
}

func (c *Cache) record(result string) {
	if c.rec != nil {
		c.rec.CacheResult(result)
	}
}
