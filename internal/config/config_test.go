package config

import (
	"testing"

	"github.com/google/go-cmp/cmp"
)

var envKeys = []string{
	"DISCORD_TOKEN", "DATABASE_PATH", "LOG_LEVEL", "POLL_CONCURRENCY", "METRICS_ADDR",
	"NEXUS_API_URL", "NEXUS_STATS_URL", "NEXUS_APP_NAME", "CANDIDATE_SOURCE",
}

func TestLoad(t *testing.T) {
	defaults := func(token string) *Config {
		return &Config{
			DiscordToken:    token,
			DatabasePath:    "./data/bot.db",
			LogLevel:        "info",
			PollConcurrency: 4,
			NexusAPIURL:     "https://api.nexusmods.com/v1",
			NexusStatsURL:   "https://staticstats.nexusmods.com/live_download_counts/mods",
			AppName:         "modfeed_bot",
			CandidateSource: SourceAPI,
		}
	}

	tests := []struct {
		name    string
		env     map[string]string
		want    *Config
		wantErr bool
	}{
		{
			name:    "missing token",
			env:     map[string]string{},
			wantErr: true,
		},
		{
			name: "token only, defaults applied",
			env:  map[string]string{"DISCORD_TOKEN": "test-token"},
			want: defaults("test-token"),
		},
		{
			name: "all values set",
			env: map[string]string{
				"DISCORD_TOKEN":    "tok",
				"DATABASE_PATH":    "/tmp/bot.db",
				"LOG_LEVEL":        "debug",
				"POLL_CONCURRENCY": "8",
				"METRICS_ADDR":     ":9090",
				"NEXUS_API_URL":    "http://localhost:8080/v1/",
				"NEXUS_STATS_URL":  "http://localhost:8081/stats",
				"NEXUS_APP_NAME":   "test-app",
				"CANDIDATE_SOURCE": "RSS",
			},
			want: &Config{
				DiscordToken:    "tok",
				DatabasePath:    "/tmp/bot.db",
				LogLevel:        "debug",
				PollConcurrency: 8,
				MetricsAddr:     ":9090",
				NexusAPIURL:     "http://localhost:8080/v1",
				NexusStatsURL:   "http://localhost:8081/stats",
				AppName:         "test-app",
				CandidateSource: SourceRSS,
			},
		},
		{
			name: "zero concurrency",
			env: map[string]string{
				"DISCORD_TOKEN":    "tok",
				"POLL_CONCURRENCY": "0",
			},
			wantErr: true,
		},
		{
			name: "non-numeric concurrency",
			env: map[string]string{
				"DISCORD_TOKEN":    "tok",
				"POLL_CONCURRENCY": "lots",
			},
			wantErr: true,
		},
		{
			name: "unknown candidate source",
			env: map[string]string{
				"DISCORD_TOKEN":    "tok",
				"CANDIDATE_SOURCE": "scrape",
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			// Clear relevant env vars
			for _, key := range envKeys {
				t.Setenv(key, "")
			}
			for k, v := range tt.env {
				t.Setenv(k, v)
			}

			got, err := Load()
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error, got nil")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("Load() mismatch (-want +got):\n%s", diff)
			}
		})
	}
}
