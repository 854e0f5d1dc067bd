// Package fetcher discovers updated mods from the site's per-game RSS feeds.
package fetcher

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"time"

	"github.com/mmcdole/gofeed"

	"modfeed_bot/internal/model"
)

// DefaultSiteURL is the public site hosting the feeds.
const DefaultSiteURL = "https://www.nexusmods.com"

const maxFeedSize = 5 * 1024 * 1024

var modLinkRe = regexp.MustCompile(`/mods/(\d+)`)

// ErrFeedTooLarge means the feed body exceeded the size limit.
var ErrFeedTooLarge = errors.New("feed too large")

// HTTPClient is the interface for performing HTTP requests.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// Fetcher downloads and parses the "updated today" feed of a game.
type Fetcher struct {
	client  HTTPClient
	siteURL string
	appName string
	timeout time.Duration
	maxSize int64
	log     *slog.Logger
}

// New creates a Fetcher with the given HTTP client.
func New(client HTTPClient, siteURL, appName string, log *slog.Logger) *Fetcher {
	if siteURL == "" {
		siteURL = DefaultSiteURL
	}
	return &Fetcher{
		client:  client,
		siteURL: siteURL,
		appName: appName,
		timeout: 15 * time.Second,
		maxSize: maxFeedSize,
		log:     log,
	}
}

// Fetch downloads and parses a feed.
func (f *Fetcher) Fetch(ctx context.Context, target string) (*gofeed.Feed, error) {
	ctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", f.appName)

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http get: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, f.maxSize+1))
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	if int64(len(body)) > f.maxSize {
		return nil, fmt.Errorf("%w: over %d bytes", ErrFeedTooLarge, f.maxSize)
	}

	parser := gofeed.NewParser()
	feed, err := parser.ParseString(string(body))
	if err != nil {
		return nil, fmt.Errorf("parse feed: %w", err)
	}
	return feed, nil
}

// UpdatedMods lists the mods of a game from its RSS feed. The feed is public and
// always covers the current day, so the key and period are not used.
func (f *Fetcher) UpdatedMods(ctx context.Context, _, domain, _ string) ([]model.Candidate, error) {
	target := fmt.Sprintf("%s/%s/rss/updatedtoday", f.siteURL, url.PathEscape(domain))
	feed, err := f.Fetch(ctx, target)
	if err != nil {
		return nil, fmt.Errorf("fetch updated mods for %s: %w", domain, err)
	}
	return Candidates(feed, f.log), nil
}

// Candidates turns feed items into candidates. Items without a mod link or a
// date are skipped.
func Candidates(feed *gofeed.Feed, log *slog.Logger) []model.Candidate {
	out := make([]model.Candidate, 0, len(feed.Items))
	for _, item := range feed.Items {
		modID, ok := ModID(item.Link)
		if !ok {
			log.Debug("skip feed item without mod link", "link", item.Link)
			continue
		}
		at := itemTime(item)
		if at.IsZero() {
			log.Warn("skip feed item without date", "mod_id", modID)
			continue
		}
		out = append(out, model.Candidate{ModID: modID, LatestUpdate: at.Unix(), Available: true})
	}
	return out
}

// ModID extracts the mod id from a mod page link.
func ModID(link string) (int64, bool) {
	m := modLinkRe.FindStringSubmatch(link)
	if m == nil {
		return 0, false
	}
	id, err := strconv.ParseInt(m[1], 10, 64)
	if err != nil {
		return 0, false
	}
	return id, true
}

func itemTime(item *gofeed.Item) time.Time {
	switch {
	case item.UpdatedParsed != nil:
		return *item.UpdatedParsed
	case item.PublishedParsed != nil:
		return *item.PublishedParsed
	}
	return time.Time{}
}
