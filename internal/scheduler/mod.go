package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/bwmarrin/discordgo"

	"modfeed_bot/internal/bot"
	"modfeed_bot/internal/model"
	"modfeed_bot/internal/nexus"
	"modfeed_bot/internal/storage"
)

func (s *Scheduler) processModFeed(ctx context.Context, log *slog.Logger, cs *cycleState, feed model.ModFeed) error {
	err := s.pollModFeed(ctx, log, cs, feed)
	if IsTerminal(err) {
		label := feed.Title
		if label == "" {
			label = fmt.Sprintf("%s/%d", feed.Domain, feed.ModID)
		}
		s.remove(ctx, log, feed.OwnerID, removalNotice(model.KindMod, label, feed.ChannelID, err), err,
			func(ctx context.Context) error { return s.store.DeleteModFeed(ctx, feed.ID) })
	}
	return err
}

func (s *Scheduler) pollModFeed(ctx context.Context, log *slog.Logger, cs *cycleState, feed model.ModFeed) error {
	acc, err := s.prepare(ctx, cs, feed.GuildID, feed.ChannelID, feed.OwnerID)
	if err != nil {
		return err
	}

	mod, err := s.platform.ModDetail(ctx, acc.APIKey, feed.Domain, feed.ModID)
	if err != nil {
		if errors.Is(err, nexus.ErrNotFound) {
			return terminal("the mod no longer exists", err)
		}
		return classifyPlatform(err)
	}

	fields := storage.Fields{}
	statusChanged := mod.Status != "" && mod.Status != feed.LastStatus
	if statusChanged {
		fields[storage.FieldLastStatus] = mod.Status
	}
	updated := mod.UpdatedTimestamp > feed.LastTimestamp
	if updated {
		fields[storage.FieldLastTimestamp] = mod.UpdatedTimestamp
	}
	if len(fields) == 0 {
		log.Debug("mod unchanged")
		return nil
	}

	// The first status seen is only recorded; there is nothing to compare it with.
	announceStatus := statusChanged && feed.ShowOther && feed.LastStatus != ""
	announceUpdate := updated && feed.ShowFiles && mod.Available

	var game *model.Game
	if announceStatus || announceUpdate {
		if game, err = cs.game(ctx, acc.APIKey, feed.Domain); err != nil {
			return classifyPlatform(err)
		}
	}

	if err := s.store.UpdateModFeed(ctx, feed.ID, fields); err != nil {
		return fmt.Errorf("record mod state: %w", err)
	}
	log.Debug("mod state recorded", "status", mod.Status, "updated", mod.UpdatedTimestamp)

	var embeds []*discordgo.MessageEmbed
	if announceStatus {
		embeds = append(embeds, bot.BuildStatusEmbed(mod, game, feed.LastStatus))
	}
	if announceUpdate {
		embeds = append(embeds, s.render(ctx, log, acc.APIKey, feed.Domain, game, mod, false))
	}
	if len(embeds) == 0 {
		return nil
	}

	dest := s.destination(ctx, log, feed.ChannelID, feed.Webhook, feed.Message, func(ctx context.Context) error {
		return s.store.UpdateModFeed(ctx, feed.ID, clearWebhookFields())
	})
	res := s.publisher.Publish(ctx, dest, embeds)
	log.Info("published mod changes",
		"status_changed", announceStatus,
		"updated", announceUpdate,
		"webhook", res.Webhook,
		"direct", res.Direct,
		"failed", res.Failed,
	)
	return nil
}
