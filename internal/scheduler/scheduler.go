package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/google/uuid"
	"github.com/samber/lo"
	"golang.org/x/sync/errgroup"

	"modfeed_bot/internal/bot"
	"modfeed_bot/internal/model"
	"modfeed_bot/internal/storage"
)

// Default schedule.
const (
	GameInterval       = 10 * time.Minute
	ModInterval        = 60 * time.Minute
	DefaultConcurrency = 4
)

// Feed outcomes passed to Recorder.
const (
	OutcomeOK        = "ok"
	OutcomeSkipped   = "skipped"
	OutcomeTransient = "transient"
	OutcomeTerminal  = "terminal"
)

// Platform is the modding platform API.
type Platform interface {
	CandidateSource
	Games(ctx context.Context, apiKey string, includeUnapproved bool) ([]model.Game, error)
	ModDetail(ctx context.Context, apiKey, domain string, modID int64) (*model.ModDetail, error)
	Changelogs(ctx context.Context, apiKey, domain string, modID int64) (map[string][]string, error)
	Validate(ctx context.Context, apiKey string) (*model.Identity, error)
}

// CandidateSource lists recently updated mods of a game.
type CandidateSource interface {
	UpdatedMods(ctx context.Context, apiKey, domain, period string) ([]model.Candidate, error)
}

// StatsCache returns download counts of a mod.
type StatsCache interface {
	Get(ctx context.Context, gameID, modID int64) (model.DownloadStats, error)
}

// Discord resolves destinations and reaches feed owners.
type Discord interface {
	Resolve(ctx context.Context, guildID, channelID string) error
	CanPost(ctx context.Context, channelID string) error
	ValidateWebhook(ctx context.Context, channelID string, wh model.Webhook) error
	DirectMessage(ctx context.Context, userID, text string) error
}

// Publisher delivers rendered notifications.
type Publisher interface {
	Publish(ctx context.Context, dest bot.Destination, embeds []*discordgo.MessageEmbed) bot.Result
}

// Recorder observes cycles and feed outcomes.
type Recorder interface {
	CycleCompleted(kind string, d time.Duration)
	FeedOutcome(kind, outcome string)
}

// Summary counts feed outcomes of one cycle.
type Summary struct {
	OK        int
	Skipped   int
	Transient int
	Terminal  int
}

func (s *Summary) add(outcome string) {
	switch outcome {
	case OutcomeOK:
		s.OK++
	case OutcomeSkipped:
		s.Skipped++
	case OutcomeTransient:
		s.Transient++
	case OutcomeTerminal:
		s.Terminal++
	}
}

type feedKey struct {
	kind model.FeedKind
	id   int64
}

// Scheduler polls game and mod feeds on independent timers and publishes what
// changed since each feed's cursor.
type Scheduler struct {
	store      storage.Storage
	platform   Platform
	candidates CandidateSource
	stats      StatsCache
	discord    Discord
	publisher  Publisher
	rec        Recorder
	log        *slog.Logger

	gameTick    time.Duration
	modTick     time.Duration
	concurrency int

	mu       sync.Mutex
	inflight map[feedKey]struct{}
	cycles   sync.WaitGroup
}

// New creates a Scheduler with the default schedule.
func New(store storage.Storage, platform Platform, discord Discord, publisher Publisher, log *slog.Logger) *Scheduler {
	return &Scheduler{
		store:       store,
		platform:    platform,
		candidates:  platform,
		discord:     discord,
		publisher:   publisher,
		log:         log,
		gameTick:    GameInterval,
		modTick:     ModInterval,
		concurrency: DefaultConcurrency,
		inflight:    make(map[feedKey]struct{}),
	}
}

// SetCandidateSource replaces the platform's updated-mods listing.
func (s *Scheduler) SetCandidateSource(src CandidateSource) {
	s.candidates = src
}

// SetStats enables download counts in game feed notifications.
func (s *Scheduler) SetStats(c StatsCache) {
	s.stats = c
}

// SetRecorder sets the metrics sink.
func (s *Scheduler) SetRecorder(r Recorder) {
	s.rec = r
}

// SetConcurrency bounds how many feeds are processed at once within a cycle.
func (s *Scheduler) SetConcurrency(n int) {
	if n > 0 {
		s.concurrency = n
	}
}

// SetTickIntervals overrides the default game and mod feed intervals.
func (s *Scheduler) SetTickIntervals(game, mod time.Duration) {
	s.gameTick = game
	s.modTick = mod
}

// Run starts both schedules, blocking until ctx is cancelled and every started
// cycle has finished.
func (s *Scheduler) Run(ctx context.Context) {
	var loops sync.WaitGroup
	loops.Add(2)
	go func() {
		defer loops.Done()
		s.loop(ctx, s.gameTick, func(ctx context.Context) { s.RunGameCycle(ctx) })
	}()
	go func() {
		defer loops.Done()
		s.loop(ctx, s.modTick, func(ctx context.Context) { s.RunModCycle(ctx) })
	}()
	loops.Wait()

	s.log.Info("waiting for running cycles")
	s.cycles.Wait()
}

func (s *Scheduler) loop(ctx context.Context, every time.Duration, cycle func(context.Context)) {
	s.launch(ctx, cycle)

	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.launch(ctx, cycle)
		}
	}
}

// launch runs a cycle in the background. The cycle is detached from ctx so
// that shutdown lets it finish instead of cutting cursor writes short.
func (s *Scheduler) launch(ctx context.Context, cycle func(context.Context)) {
	s.cycles.Add(1)
	go func() {
		defer s.cycles.Done()
		cycle(context.WithoutCancel(ctx))
	}()
}

// feedJob is one feed's work within a cycle.
type feedJob struct {
	id    int64
	attrs []any
	run   func(log *slog.Logger) error
}

// RunGameCycle processes every game feed once.
func (s *Scheduler) RunGameCycle(ctx context.Context) Summary {
	log := s.log.With("kind", model.KindGame, "cycle_id", uuid.NewString())
	feeds, err := s.store.ListGameFeeds(ctx)
	if err != nil {
		log.Error("list game feeds", "error", err)
		return Summary{}
	}

	cat := newCatalog(s.platform)
	jobs := lo.Map(feeds, func(feed model.GameFeed, _ int) feedJob {
		return feedJob{
			id:    feed.ID,
			attrs: []any{"game", feed.Domain},
			run: func(log *slog.Logger) error {
				return s.processGameFeed(ctx, log, cat, feed)
			},
		}
	})
	return s.runCycle(log, model.KindGame, jobs)
}

// RunModCycle processes every mod feed once.
func (s *Scheduler) RunModCycle(ctx context.Context) Summary {
	log := s.log.With("kind", model.KindMod, "cycle_id", uuid.NewString())
	feeds, err := s.store.ListModFeeds(ctx)
	if err != nil {
		log.Error("list mod feeds", "error", err)
		return Summary{}
	}

	cat := newCatalog(s.platform)
	jobs := lo.Map(feeds, func(feed model.ModFeed, _ int) feedJob {
		return feedJob{
			id:    feed.ID,
			attrs: []any{"game", feed.Domain, "mod_id", feed.ModID},
			run: func(log *slog.Logger) error {
				return s.processModFeed(ctx, log, cat, feed)
			},
		}
	})
	return s.runCycle(log, model.KindMod, jobs)
}

// runCycle fans feed work out over a bounded group and waits for all of it.
func (s *Scheduler) runCycle(log *slog.Logger, kind model.FeedKind, jobs []feedJob) Summary {
	start := time.Now()
	log.Info("poll cycle started", "feeds", len(jobs))

	var (
		mu      sync.Mutex
		summary Summary
	)
	var g errgroup.Group
	g.SetLimit(s.concurrency)
	for _, job := range jobs {
		g.Go(func() error {
			flog := log.With("feed_id", job.id).With(job.attrs...)
			outcome := s.runFeed(flog, kind, job)
			mu.Lock()
			summary.add(outcome)
			mu.Unlock()
			if s.rec != nil {
				s.rec.FeedOutcome(string(kind), outcome)
			}
			return nil
		})
	}
	_ = g.Wait()

	elapsed := time.Since(start)
	if s.rec != nil {
		s.rec.CycleCompleted(string(kind), elapsed)
	}
	log.Info("poll cycle finished",
		"duration", elapsed,
		"ok", summary.OK,
		"skipped", summary.Skipped,
		"transient", summary.Transient,
		"terminal", summary.Terminal,
	)
	return summary
}

// runFeed runs the job unless the same feed is still being processed by an
// earlier cycle. A panic in the job is contained to the feed.
func (s *Scheduler) runFeed(log *slog.Logger, kind model.FeedKind, job feedJob) (outcome string) {
	key := feedKey{kind: kind, id: job.id}
	if !s.acquire(key) {
		log.Warn("feed still in flight, skipping")
		return OutcomeSkipped
	}
	defer s.release(key)

	defer func() {
		if r := recover(); r != nil {
			log.Error("feed processing panicked", "panic", fmt.Sprint(r))
			outcome = OutcomeTransient
		}
	}()

	err := job.run(log)
	switch {
	case err == nil:
		return OutcomeOK
	case IsTerminal(err):
		return OutcomeTerminal
	default:
		log.Warn("feed skipped this cycle", "error", err)
		return OutcomeTransient
	}
}

func (s *Scheduler) acquire(key feedKey) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, busy := s.inflight[key]; busy {
		return false
	}
	s.inflight[key] = struct{}{}
	return true
}

func (s *Scheduler) release(key feedKey) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.inflight, key)
}
