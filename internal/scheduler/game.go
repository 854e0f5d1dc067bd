package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/bwmarrin/discordgo"
	"github.com/samber/lo"

	"modfeed_bot/internal/filter"
	"modfeed_bot/internal/model"
	"modfeed_bot/internal/nexus"
	"modfeed_bot/internal/storage"
)

// lookback is the trailing window asked of the updated-mods listing.
const lookback = nexus.PeriodDay

func (s *Scheduler) processGameFeed(ctx context.Context, log *slog.Logger, cs *cycleState, feed model.GameFeed) error {
	err := s.pollGameFeed(ctx, log, cs, feed)
	if IsTerminal(err) {
		label := feed.Title
		if label == "" {
			label = feed.Domain
		}
		s.remove(ctx, log, feed.OwnerID, removalNotice(model.KindGame, label, feed.ChannelID, err), err,
			func(ctx context.Context) error { return s.store.DeleteGameFeed(ctx, feed.ID) })
	}
	return err
}

func (s *Scheduler) pollGameFeed(ctx context.Context, log *slog.Logger, cs *cycleState, feed model.GameFeed) error {
	acc, err := s.prepare(ctx, cs, feed.GuildID, feed.ChannelID, feed.OwnerID)
	if err != nil {
		return err
	}

	candidates, err := s.candidates.UpdatedMods(ctx, acc.APIKey, feed.Domain, lookback)
	if err != nil {
		if errors.Is(err, nexus.ErrNotFound) {
			return terminal("the game no longer exists", err)
		}
		return classifyPlatform(err)
	}
	pending := filter.Pending(candidates, feed.LastTimestamp, filter.BatchSize)
	if len(pending) == 0 {
		log.Debug("no new updates", "cursor", feed.LastTimestamp)
		return nil
	}

	game, err := cs.game(ctx, acc.APIKey, feed.Domain)
	if err != nil {
		return classifyPlatform(err)
	}

	evaluated, accepted, stopErr := s.evaluate(ctx, log, acc.APIKey, &feed, pending)
	if IsTerminal(stopErr) {
		return stopErr
	}

	cursor := filter.Advance(feed.LastTimestamp, evaluated)
	if cursor > feed.LastTimestamp {
		if err := s.store.UpdateGameFeed(ctx, feed.ID, storage.Fields{storage.FieldLastTimestamp: cursor}); err != nil {
			return fmt.Errorf("advance cursor: %w", err)
		}
		log.Debug("cursor advanced", "from", feed.LastTimestamp, "to", cursor)
	}

	if len(accepted) > 0 {
		embeds := lo.Map(accepted, func(mod *model.ModDetail, _ int) *discordgo.MessageEmbed {
			return s.render(ctx, log, acc.APIKey, feed.Domain, game, mod, feed.Compact)
		})
		dest := s.destination(ctx, log, feed.ChannelID, feed.Webhook, feed.Message, func(ctx context.Context) error {
			return s.store.UpdateGameFeed(ctx, feed.ID, clearWebhookFields())
		})
		res := s.publisher.Publish(ctx, dest, embeds)
		log.Info("published updates",
			"evaluated", len(evaluated),
			"accepted", len(accepted),
			"webhook", res.Webhook,
			"direct", res.Direct,
			"failed", res.Failed,
		)
	}
	return stopErr
}

// evaluate fetches the detail of each pending candidate and applies the feed's
// content policy. Every candidate looked at counts towards the cursor, accepted
// or not. A transient failure ends evaluation; candidates from the failed one's
// instant onwards are left for the next cycle.
func (s *Scheduler) evaluate(ctx context.Context, log *slog.Logger, apiKey string, feed *model.GameFeed, pending []model.Candidate) ([]model.Candidate, []*model.ModDetail, error) {
	type result struct {
		at  int64
		mod *model.ModDetail
	}
	var (
		evaluated []model.Candidate
		kept      []result
	)

	for _, c := range pending {
		mod, err := s.platform.ModDetail(ctx, apiKey, feed.Domain, c.ModID)
		switch {
		case err == nil:
		case errors.Is(err, nexus.ErrNotFound):
			log.Debug("mod no longer exists", "mod_id", c.ModID)
			evaluated = append(evaluated, c)
			continue
		case errors.Is(err, nexus.ErrUnauthorized):
			return nil, nil, classifyPlatform(err)
		default:
			before := func(at int64) bool { return at < c.LatestUpdate }
			evaluated = lo.Filter(evaluated, func(e model.Candidate, _ int) bool { return before(e.LatestUpdate) })
			kept = lo.Filter(kept, func(r result, _ int) bool { return before(r.at) })
			return evaluated, lo.Map(kept, func(r result, _ int) *model.ModDetail { return r.mod }),
				fmt.Errorf("get mod %d: %w", c.ModID, err)
		}

		evaluated = append(evaluated, c)
		if !c.Available {
			log.Debug("mod filtered", "mod_id", c.ModID, "reason", filter.ReasonUnavail)
			continue
		}
		if ok, reason := filter.Match(feed, mod); !ok {
			log.Debug("mod filtered", "mod_id", c.ModID, "reason", reason)
			continue
		}
		kept = append(kept, result{at: c.LatestUpdate, mod: mod})
	}
	return evaluated, lo.Map(kept, func(r result, _ int) *model.ModDetail { return r.mod }), nil
}
