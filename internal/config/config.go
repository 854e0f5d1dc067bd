// Package config handles application configuration from environment variables.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// Candidate sources.
const (
	SourceAPI = "api"
	SourceRSS = "rss"
)

// Config holds the application configuration.
type Config struct {
	DiscordToken    string
	DatabasePath    string
	LogLevel        string
	PollConcurrency int
	MetricsAddr     string
	NexusAPIURL     string
	NexusStatsURL   string
	AppName         string
	CandidateSource string
}

// Load reads configuration from environment variables.
// A .env file in the working directory is applied first when present;
// variables already set in the environment take precedence.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	token := os.Getenv("DISCORD_TOKEN")
	if token == "" {
		return nil, fmt.Errorf("DISCORD_TOKEN is required")
	}

	concurrency := 4
	if raw := strings.TrimSpace(os.Getenv("POLL_CONCURRENCY")); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			return nil, fmt.Errorf("invalid POLL_CONCURRENCY %q: must be a positive integer", raw)
		}
		concurrency = n
	}

	source := strings.ToLower(envOrDefault("CANDIDATE_SOURCE", SourceAPI))
	if source != SourceAPI && source != SourceRSS {
		return nil, fmt.Errorf("invalid CANDIDATE_SOURCE %q, use: api, rss", source)
	}

	return &Config{
		DiscordToken:    token,
		DatabasePath:    envOrDefault("DATABASE_PATH", "./data/bot.db"),
		LogLevel:        envOrDefault("LOG_LEVEL", "info"),
		PollConcurrency: concurrency,
		MetricsAddr:     os.Getenv("METRICS_ADDR"),
		NexusAPIURL:     strings.TrimRight(envOrDefault("NEXUS_API_URL", "https://api.nexusmods.com/v1"), "/"),
		NexusStatsURL:   strings.TrimRight(envOrDefault("NEXUS_STATS_URL", "https://staticstats.nexusmods.com/live_download_counts/mods"), "/"),
		AppName:         envOrDefault("NEXUS_APP_NAME", "modfeed_bot"),
		CandidateSource: source,
	}, nil
}

func envOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
