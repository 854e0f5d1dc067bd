package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/bwmarrin/discordgo"

	"modfeed_bot/internal/bot"
	"modfeed_bot/internal/filter"
	"modfeed_bot/internal/model"
	"modfeed_bot/internal/storage"
)

// cycleState holds lookups shared by all feeds of one cycle.
type cycleState struct {
	platform Platform

	mu        sync.Mutex
	games     map[string]*model.Game
	loaded    bool
	validKeys map[string]bool
}

func newCatalog(p Platform) *cycleState {
	return &cycleState{platform: p, validKeys: make(map[string]bool)}
}

// game returns the catalog entry for domain, fetching the catalog on first use.
// An unknown domain yields nil.
func (c *cycleState) game(ctx context.Context, apiKey, domain string) (*model.Game, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.loaded {
		games, err := c.platform.Games(ctx, apiKey, false)
		if err != nil {
			return nil, fmt.Errorf("load game catalog: %w", err)
		}
		c.games = make(map[string]*model.Game, len(games))
		for i := range games {
			c.games[games[i].Domain] = &games[i]
		}
		c.loaded = true
	}
	return c.games[domain], nil
}

// validate checks an API key once per cycle; only successes are remembered.
func (c *cycleState) validate(ctx context.Context, apiKey string) error {
	c.mu.Lock()
	ok := c.validKeys[apiKey]
	c.mu.Unlock()
	if ok {
		return nil
	}

	if _, err := c.platform.Validate(ctx, apiKey); err != nil {
		return err
	}
	c.mu.Lock()
	c.validKeys[apiKey] = true
	c.mu.Unlock()
	return nil
}

// prepare resolves the feed's destination and owner, and checks that the owner's
// key and the bot's permissions still work.
func (s *Scheduler) prepare(ctx context.Context, cs *cycleState, guildID, channelID, ownerID string) (*model.Account, error) {
	if err := s.discord.Resolve(ctx, guildID, channelID); err != nil {
		return nil, classifyDestination(fmt.Errorf("resolve destination: %w", err))
	}
	acc, err := s.store.GetAccount(ctx, ownerID)
	if err != nil {
		return nil, classifyOwner(fmt.Errorf("get owner: %w", err))
	}
	if err := cs.validate(ctx, acc.APIKey); err != nil {
		return nil, classifyPlatform(fmt.Errorf("validate api key: %w", err))
	}
	if err := s.discord.CanPost(ctx, channelID); err != nil {
		return nil, classifyDestination(fmt.Errorf("check permissions: %w", err))
	}
	return acc, nil
}

// remove deletes a feed after a terminal failure and tells its owner.
func (s *Scheduler) remove(ctx context.Context, log *slog.Logger, ownerID, text string, cause error, del func(context.Context) error) {
	log.Warn("removing feed", "error", cause)
	if err := del(ctx); err != nil && !errors.Is(err, storage.ErrNotFound) {
		log.Error("delete feed", "error", err)
		return
	}
	if err := s.discord.DirectMessage(ctx, ownerID, text); err != nil {
		log.Info("could not notify owner", "owner_id", ownerID, "error", err)
	}
}

func removalNotice(kind model.FeedKind, label, channelID string, cause error) string {
	reason := "it can no longer be delivered"
	var te *TerminalError
	if errors.As(cause, &te) {
		reason = te.Reason
	}
	return fmt.Sprintf("Your %s feed %s in <#%s> was removed: %s.", kind, label, channelID, reason)
}

// destination picks the delivery route, dropping stored webhook credentials
// that no longer belong to the channel.
func (s *Scheduler) destination(ctx context.Context, log *slog.Logger, channelID string, wh model.Webhook, announce string, clear func(context.Context) error) bot.Destination {
	dest := bot.Destination{ChannelID: channelID, Announce: announce}
	if wh == (model.Webhook{}) {
		return dest
	}

	err := s.discord.ValidateWebhook(ctx, channelID, wh)
	switch {
	case err == nil:
		dest.Webhook = wh
	case errors.Is(err, bot.ErrWebhookInvalid):
		log.Warn("stored webhook is invalid, posting directly", "webhook_id", wh.ID, "error", err)
		if err := clear(ctx); err != nil {
			log.Error("clear webhook", "error", err)
		}
	default:
		// Publisher falls back on its own if the webhook really is broken.
		log.Warn("could not validate webhook", "webhook_id", wh.ID, "error", err)
		dest.Webhook = wh
	}
	return dest
}

func clearWebhookFields() storage.Fields {
	return storage.Fields{storage.FieldWebhookID: "", storage.FieldWebhookToken: ""}
}

// render builds the embed of a new or updated mod. Changelog and download
// count failures only leave those fields out.
func (s *Scheduler) render(ctx context.Context, log *slog.Logger, apiKey, domain string, game *model.Game, mod *model.ModDetail, compact bool) *discordgo.MessageEmbed {
	n := bot.Notification{Mod: mod, Game: game, New: filter.IsNew(mod), Compact: compact}

	if !n.New && !compact {
		logs, err := s.platform.Changelogs(ctx, apiKey, domain, mod.ModID)
		if err != nil {
			log.Debug("changelog unavailable", "mod_id", mod.ModID, "error", err)
		} else {
			n.Changelogs = logs
		}
	}

	if s.stats != nil && mod.GameID != 0 {
		st, err := s.stats.Get(ctx, mod.GameID, mod.ModID)
		if err != nil {
			log.Debug("download stats unavailable", "mod_id", mod.ModID, "error", err)
		} else {
			n.Stats = &st
		}
	}
	return bot.BuildModEmbed(n)
}
