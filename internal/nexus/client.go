// Package nexus is a client for the modding platform's public API.
package nexus

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/cenkalti/backoff/v4"
	"golang.org/x/time/rate"

	"modfeed_bot/internal/model"
)

const (
	// DefaultTimeout bounds every API call, retries included.
	DefaultTimeout = 15 * time.Second

	maxBodySize  = 8 * 1024 * 1024
	maxStatsSize = 64 * 1024 * 1024
	maxRetries   = 2
)

// PeriodDay is the shortest window accepted by the updated-mods endpoint.
const PeriodDay = "1d"

var (
	// ErrUnauthorized means the API key was rejected.
	ErrUnauthorized = errors.New("platform credential rejected")
	// ErrNotFound means the requested game or mod does not exist.
	ErrNotFound = errors.New("platform resource not found")
	// ErrTooLarge means a response body exceeded its size limit.
	ErrTooLarge = errors.New("response body too large")
)

// StatusError is an unexpected HTTP status from the platform.
type StatusError struct {
	Code int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status %d", e.Code)
}

// Temporary reports whether retrying later may succeed.
func (e *StatusError) Temporary() bool {
	return e.Code == http.StatusTooManyRequests || e.Code >= 500
}

// HTTPClient is the interface for performing HTTP requests.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// Options configures a Client.
type Options struct {
	BaseURL  string
	StatsURL string
	AppName  string
	// Limit and Burst shape outgoing requests; zero values select the defaults.
	Limit   rate.Limit
	Burst   int
	Timeout time.Duration
}

// Client talks to the platform API.
type Client struct {
	http     HTTPClient
	baseURL  string
	statsURL string
	appName  string
	limiter  *rate.Limiter
	timeout  time.Duration
	log      *slog.Logger

	// initialBackoff is shortened in tests.
	initialBackoff time.Duration
}

// New creates a Client.
func New(httpClient HTTPClient, opts Options, log *slog.Logger) *Client {
	if opts.Limit == 0 {
		opts.Limit = rate.Every(250 * time.Millisecond)
	}
	if opts.Burst <= 0 {
		opts.Burst = 10
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.AppName == "" {
		opts.AppName = "modfeed_bot"
	}
	return &Client{
		http:           httpClient,
		baseURL:        opts.BaseURL,
		statsURL:       opts.StatsURL,
		appName:        opts.AppName,
		limiter:        rate.NewLimiter(opts.Limit, opts.Burst),
		timeout:        opts.Timeout,
		log:            log,
		initialBackoff: 500 * time.Millisecond,
	}
}

// Games returns the game catalog.
func (c *Client) Games(ctx context.Context, apiKey string, includeUnapproved bool) ([]model.Game, error) {
	q := url.Values{}
	q.Set("include_unapproved", strconv.FormatBool(includeUnapproved))

	var resp []gameResponse
	if err := c.getJSON(ctx, apiKey, "/games.json", q, &resp); err != nil {
		return nil, fmt.Errorf("get games: %w", err)
	}
	games := make([]model.Game, 0, len(resp))
	for _, g := range resp {
		games = append(games, g.toModel())
	}
	return games, nil
}

// UpdatedMods returns the mods of a game updated within period.
// The platform does not guarantee any ordering.
func (c *Client) UpdatedMods(ctx context.Context, apiKey, domain, period string) ([]model.Candidate, error) {
	q := url.Values{}
	q.Set("period", period)

	var resp []updatedModResponse
	path := fmt.Sprintf("/games/%s/mods/updated.json", url.PathEscape(domain))
	if err := c.getJSON(ctx, apiKey, path, q, &resp); err != nil {
		return nil, fmt.Errorf("get updated mods for %s: %w", domain, err)
	}
	out := make([]model.Candidate, 0, len(resp))
	for _, u := range resp {
		out = append(out, u.toModel())
	}
	return out, nil
}

// ModDetail returns the full record of a mod.
func (c *Client) ModDetail(ctx context.Context, apiKey, domain string, modID int64) (*model.ModDetail, error) {
	var resp modResponse
	path := fmt.Sprintf("/games/%s/mods/%d.json", url.PathEscape(domain), modID)
	if err := c.getJSON(ctx, apiKey, path, nil, &resp); err != nil {
		return nil, fmt.Errorf("get mod %s/%d: %w", domain, modID, err)
	}
	detail := resp.toModel()
	if detail.Domain == "" {
		detail.Domain = domain
	}
	if detail.ModID == 0 {
		detail.ModID = modID
	}
	return &detail, nil
}

// Changelogs returns the changelog lines of a mod keyed by version.
func (c *Client) Changelogs(ctx context.Context, apiKey, domain string, modID int64) (map[string][]string, error) {
	var raw json.RawMessage
	path := fmt.Sprintf("/games/%s/mods/%d/changelogs.json", url.PathEscape(domain), modID)
	if err := c.getJSON(ctx, apiKey, path, nil, &raw); err != nil {
		return nil, fmt.Errorf("get changelogs for %s/%d: %w", domain, modID, err)
	}
	// Mods without changelogs answer with an empty array.
	if trimmed := bytes.TrimSpace(raw); len(trimmed) == 0 || trimmed[0] == '[' {
		return map[string][]string{}, nil
	}
	var logs map[string][]string
	if err := json.Unmarshal(raw, &logs); err != nil {
		return nil, fmt.Errorf("decode changelogs for %s/%d: %w", domain, modID, err)
	}
	return logs, nil
}

// Validate returns the identity the API key belongs to.
func (c *Client) Validate(ctx context.Context, apiKey string) (*model.Identity, error) {
	var resp validateResponse
	if err := c.getJSON(ctx, apiKey, "/users/validate.json", nil, &resp); err != nil {
		return nil, fmt.Errorf("validate key: %w", err)
	}
	return &model.Identity{UserID: resp.UserID, Name: resp.Name}, nil
}

// DownloadStats returns the raw per-mod download counts CSV of a game.
func (c *Client) DownloadStats(ctx context.Context, gameID int64) ([]byte, error) {
	target := fmt.Sprintf("%s/%d.csv", c.statsURL, gameID)
	body, err := c.get(ctx, "", target, maxStatsSize)
	if err != nil {
		return nil, fmt.Errorf("get download stats for game %d: %w", gameID, err)
	}
	return body, nil
}

func (c *Client) getJSON(ctx context.Context, apiKey, path string, q url.Values, out any) error {
	target := c.baseURL + path
	if len(q) > 0 {
		target += "?" + q.Encode()
	}
	body, err := c.get(ctx, apiKey, target, maxBodySize)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// get performs a rate-limited GET, retrying 429 and 5xx answers with exponential
// backoff until the call's timeout expires.
func (c *Client) get(ctx context.Context, apiKey, target string, limit int64) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var body []byte
	op := func() error {
		if err := c.limiter.Wait(ctx); err != nil {
			return backoff.Permanent(err)
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
		if err != nil {
			return backoff.Permanent(fmt.Errorf("create request: %w", err))
		}
		req.Header.Set("User-Agent", c.appName)
		req.Header.Set("Application-Name", c.appName)
		req.Header.Set("Accept", "application/json")
		if apiKey != "" {
			req.Header.Set("apikey", apiKey)
		}

		resp, err := c.http.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return backoff.Permanent(fmt.Errorf("http get: %w", err))
			}
			return fmt.Errorf("http get: %w", err)
		}
		defer func() { _ = resp.Body.Close() }()

		switch {
		case resp.StatusCode == http.StatusOK:
		case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
			return backoff.Permanent(ErrUnauthorized)
		case resp.StatusCode == http.StatusNotFound:
			return backoff.Permanent(ErrNotFound)
		default:
			serr := &StatusError{Code: resp.StatusCode}
			if serr.Temporary() {
				return serr
			}
			return backoff.Permanent(serr)
		}

		data, err := io.ReadAll(io.LimitReader(resp.Body, limit+1))
		if err != nil {
			return fmt.Errorf("read body: %w", err)
		}
		if int64(len(data)) > limit {
			return backoff.Permanent(fmt.Errorf("%w: over %d bytes", ErrTooLarge, limit))
		}
		body = data
		return nil
	}

	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = c.initialBackoff
	eb.MaxInterval = 4 * time.Second
	policy := backoff.WithContext(backoff.WithMaxRetries(eb, maxRetries), ctx)

	notify := func(err error, wait time.Duration) {
		c.log.Debug("retrying platform request", "url", redact(target), "wait", wait, "error", err)
	}
	if err := backoff.RetryNotify(op, policy, notify); err != nil {
		return nil, err
	}
	return body, nil
}

func redact(target string) string {
	u, err := url.Parse(target)
	if err != nil {
		return target
	}
	u.RawQuery = ""
	return u.String()
}
