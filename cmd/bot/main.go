package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"modfeed_bot/internal/bot"
	"modfeed_bot/internal/config"
	"modfeed_bot/internal/fetcher"
	"modfeed_bot/internal/metrics"
	"modfeed_bot/internal/nexus"
	"modfeed_bot/internal/scheduler"
	"modfeed_bot/internal/stats"
	"modfeed_bot/internal/storage"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("load config", "error", err)
		os.Exit(1)
	}

	log := newLogger(cfg.LogLevel)

	if dir := filepath.Dir(cfg.DatabasePath); dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			log.Error("create data directory", "path", dir, "error", err)
			os.Exit(1)
		}
	}

	store, err := storage.NewSQLite(cfg.DatabasePath)
	if err != nil {
		log.Error("open database", "path", cfg.DatabasePath, "error", err)
		os.Exit(1)
	}
	defer func() { _ = store.Close() }()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	b, err := bot.New(cfg.DiscordToken, log)
	if err != nil {
		log.Error("create bot", "error", err)
		os.Exit(1)
	}
	if err := b.Open(ctx); err != nil {
		log.Error("connect to discord", "error", err)
		os.Exit(1)
	}
	defer func() { _ = b.Close() }()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	collector := metrics.NewCollector(reg)

	client := nexus.New(http.DefaultClient, nexus.Options{
		BaseURL:  cfg.NexusAPIURL,
		StatsURL: cfg.NexusStatsURL,
		AppName:  cfg.AppName,
	}, log)

	sched := scheduler.New(store, client, b, bot.NewPublisher(b, collector, log), log)
	sched.SetStats(stats.New(client, collector, log))
	sched.SetRecorder(collector)
	sched.SetConcurrency(cfg.PollConcurrency)
	if cfg.CandidateSource == config.SourceRSS {
		sched.SetCandidateSource(fetcher.New(http.DefaultClient, fetcher.DefaultSiteURL, cfg.AppName, log))
		log.Info("listing updated mods from the site feed")
	}

	if cfg.MetricsAddr != "" {
		go func() {
			if err := metrics.Serve(ctx, cfg.MetricsAddr, metrics.Router(reg), log); err != nil {
				log.Error("metrics server", "error", err)
			}
		}()
	}

	log.Info("starting feed scheduler", "concurrency", cfg.PollConcurrency)
	sched.Run(ctx)
	log.Info("bot stopped")
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}
