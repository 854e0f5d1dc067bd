package nexus

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"golang.org/x/time/rate"

	"modfeed_bot/internal/model"
)

func newTestClient(t *testing.T, handler http.Handler) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	c := New(srv.Client(), Options{
		BaseURL:  srv.URL + "/v1",
		StatsURL: srv.URL + "/stats",
		AppName:  "test-app",
		Limit:    rate.Inf,
	}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	c.initialBackoff = time.Millisecond
	return c
}

func TestGames(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if diff := cmp.Diff("/v1/games.json", r.URL.Path); diff != "" {
			t.Errorf("path mismatch (-want +got):\n%s", diff)
		}
		if diff := cmp.Diff("key", r.Header.Get("apikey")); diff != "" {
			t.Errorf("apikey header mismatch (-want +got):\n%s", diff)
		}
		if diff := cmp.Diff("false", r.URL.Query().Get("include_unapproved")); diff != "" {
			t.Errorf("query mismatch (-want +got):\n%s", diff)
		}
		_, _ = io.WriteString(w, `[{
			"id": 1704, "name": "Skyrim Special Edition", "domain_name": "skyrimspecialedition",
			"nexusmods_url": "https://www.nexusmods.com/skyrimspecialedition", "approved_date": 1477958400,
			"categories": [
				{"category_id": 1, "name": "Skyrim Special Edition", "parent_category": false},
				{"category_id": 23, "name": "Gameplay", "parent_category": 1}
			]
		}]`)
	}))

	got, err := c.Games(context.Background(), "key", false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := []model.Game{{
		ID:       1704,
		Name:     "Skyrim Special Edition",
		Domain:   "skyrimspecialedition",
		URL:      "https://www.nexusmods.com/skyrimspecialedition",
		Approved: true,
		Categories: []model.Category{
			{ID: 1, Name: "Skyrim Special Edition"},
			{ID: 23, Name: "Gameplay", ParentID: 1},
		},
	}}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Games() mismatch (-want +got):\n%s", diff)
	}
}

func TestUpdatedMods(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if diff := cmp.Diff("/v1/games/stardewvalley/mods/updated.json", r.URL.Path); diff != "" {
			t.Errorf("path mismatch (-want +got):\n%s", diff)
		}
		if diff := cmp.Diff(PeriodDay, r.URL.Query().Get("period")); diff != "" {
			t.Errorf("period mismatch (-want +got):\n%s", diff)
		}
		_, _ = io.WriteString(w, `[
			{"mod_id": 2, "latest_file_update": 1200, "latest_mod_activity": 1300},
			{"mod_id": 1, "latest_file_update": 0, "latest_mod_activity": 900}
		]`)
	}))

	got, err := c.UpdatedMods(context.Background(), "key", "stardewvalley", PeriodDay)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := []model.Candidate{
		{ModID: 2, LatestUpdate: 1200, Available: true},
		{ModID: 1, LatestUpdate: 900, Available: true},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("UpdatedMods() mismatch (-want +got):\n%s", diff)
	}
}

func TestModDetail(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{
			"name": "SkyUI", "summary": "Elegant<br />UI", "picture_url": "https://img/1.png",
			"mod_id": 12604, "game_id": 1704, "domain_name": "skyrimspecialedition", "version": "5.2",
			"category_id": 42, "author": "SkyUI Team", "uploaded_by": "schlangster",
			"uploaded_users_profile_url": "https://www.nexusmods.com/users/28794",
			"status": "published", "available": true, "contains_adult_content": false,
			"created_timestamp": 1000, "updated_timestamp": 5000
		}`)
	}))

	got, err := c.ModDetail(context.Background(), "key", "skyrimspecialedition", 12604)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := &model.ModDetail{
		ModID: 12604, GameID: 1704, Domain: "skyrimspecialedition",
		Name: "SkyUI", Summary: "Elegant<br />UI", PictureURL: "https://img/1.png",
		Version: "5.2", CategoryID: 42, Author: "SkyUI Team", UploadedBy: "schlangster",
		UploaderURL: "https://www.nexusmods.com/users/28794",
		Status:      model.StatusPublished, Available: true,
		CreatedTimestamp: 1000, UpdatedTimestamp: 5000,
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("ModDetail() mismatch (-want +got):\n%s", diff)
	}
}

func TestStatusClassification(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		wantErr   error
		wantCalls int32
	}{
		{name: "unauthorized", status: http.StatusUnauthorized, wantErr: ErrUnauthorized, wantCalls: 1},
		{name: "forbidden", status: http.StatusForbidden, wantErr: ErrUnauthorized, wantCalls: 1},
		{name: "not found", status: http.StatusNotFound, wantErr: ErrNotFound, wantCalls: 1},
		{name: "server error retried", status: http.StatusBadGateway, wantCalls: maxRetries + 1},
		{name: "rate limited retried", status: http.StatusTooManyRequests, wantCalls: maxRetries + 1},
		{name: "bad request not retried", status: http.StatusBadRequest, wantCalls: 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var calls atomic.Int32
			c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				calls.Add(1)
				w.WriteHeader(tt.status)
			}))

			_, err := c.Validate(context.Background(), "key")
			if err == nil {
				t.Fatal("expected error, got nil")
			}
			if tt.wantErr != nil && !errors.Is(err, tt.wantErr) {
				t.Errorf("expected %v, got %v", tt.wantErr, err)
			}
			if tt.wantErr == nil {
				var serr *StatusError
				if !errors.As(err, &serr) {
					t.Fatalf("expected *StatusError, got %T: %v", err, err)
				}
				if diff := cmp.Diff(tt.status, serr.Code); diff != "" {
					t.Errorf("status mismatch (-want +got):\n%s", diff)
				}
			}
			if diff := cmp.Diff(tt.wantCalls, calls.Load()); diff != "" {
				t.Errorf("call count mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestRetryRecovers(t *testing.T) {
	var calls atomic.Int32
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = io.WriteString(w, `{"user_id": 7, "name": "Pickysaurus"}`)
	}))

	got, err := c.Validate(context.Background(), "key")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if diff := cmp.Diff(&model.Identity{UserID: 7, Name: "Pickysaurus"}, got); diff != "" {
		t.Errorf("Validate() mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(int32(2), calls.Load()); diff != "" {
		t.Errorf("call count mismatch (-want +got):\n%s", diff)
	}
}

func TestTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	t.Cleanup(srv.Close)

	c := New(srv.Client(), Options{BaseURL: srv.URL, Limit: rate.Inf, Timeout: 50 * time.Millisecond},
		slog.New(slog.NewTextHandler(io.Discard, nil)))

	start := time.Now()
	_, err := c.Validate(context.Background(), "key")
	if err == nil {
		t.Fatal("expected timeout error, got nil")
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Errorf("call took %v, expected it to stop near the timeout", elapsed)
	}
}

func TestChangelogs(t *testing.T) {
	tests := []struct {
		name string
		body string
		want map[string][]string
	}{
		{
			name: "versions",
			body: `{"1.0": ["Initial release"], "1.1": ["Fixed crash", "Added MCM"]}`,
			want: map[string][]string{"1.0": {"Initial release"}, "1.1": {"Fixed crash", "Added MCM"}},
		},
		{
			name: "empty array",
			body: `[]`,
			want: map[string][]string{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if diff := cmp.Diff("/v1/games/fallout4/mods/9/changelogs.json", r.URL.Path); diff != "" {
					t.Errorf("path mismatch (-want +got):\n%s", diff)
				}
				_, _ = io.WriteString(w, tt.body)
			}))

			got, err := c.Changelogs(context.Background(), "key", "fallout4", 9)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("Changelogs() mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestDownloadStats(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if diff := cmp.Diff("/stats/1704.csv", r.URL.Path); diff != "" {
			t.Errorf("path mismatch (-want +got):\n%s", diff)
		}
		if r.Header.Get("apikey") != "" {
			t.Error("stats request must not carry an API key")
		}
		_, _ = io.WriteString(w, "123,5000,4000\n")
	}))

	got, err := c.DownloadStats(context.Background(), 1704)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if diff := cmp.Diff("123,5000,4000\n", string(got)); diff != "" {
		t.Errorf("DownloadStats() mismatch (-want +got):\n%s", diff)
	}
}

func TestBodySizeLimit(t *testing.T) {
	var calls atomic.Int32
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		_, _ = io.WriteString(w, "1,2,3\n4,5,6\n")
	}))

	tests := []struct {
		name    string
		limit   int64
		wantErr error
	}{
		{name: "exactly at limit", limit: 12},
		{name: "over limit", limit: 11, wantErr: ErrTooLarge},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			before := calls.Load()
			got, err := c.get(context.Background(), "", c.statsURL+"/1.csv", tt.limit)
			if diff := cmp.Diff(int32(1), calls.Load()-before); diff != "" {
				t.Errorf("call count mismatch (-want +got):\n%s", diff)
			}
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("expected %v, got %v", tt.wantErr, err)
				}
				if got != nil {
					t.Errorf("expected no partial body, got %q", got)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if diff := cmp.Diff("1,2,3\n4,5,6\n", string(got)); diff != "" {
				t.Errorf("body mismatch (-want +got):\n%s", diff)
			}
		})
	}
}
