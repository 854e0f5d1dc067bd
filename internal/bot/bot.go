package bot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/bwmarrin/discordgo"

	"modfeed_bot/internal/model"
)

var (
	// ErrGuildNotFound means the bot can no longer see the feed's server.
	ErrGuildNotFound = errors.New("guild not found")
	// ErrChannelNotFound means the destination channel was deleted or moved.
	ErrChannelNotFound = errors.New("channel not found")
	// ErrMissingPermissions means the bot may not post embeds in the channel.
	ErrMissingPermissions = errors.New("missing permissions")
	// ErrWebhookInvalid means stored webhook credentials no longer work for the channel.
	ErrWebhookInvalid = errors.New("webhook invalid")
	// ErrUserUnreachable means a direct message could not be delivered.
	ErrUserUnreachable = errors.New("user unreachable")
)

// RequestTimeout bounds every Discord REST call.
const RequestTimeout = 15 * time.Second

// postPermissions are required to deliver notifications.
const postPermissions = discordgo.PermissionViewChannel |
	discordgo.PermissionSendMessages |
	discordgo.PermissionEmbedLinks

type discordAPI interface {
	User(userID string, options ...discordgo.RequestOption) (*discordgo.User, error)
	Guild(guildID string, options ...discordgo.RequestOption) (*discordgo.Guild, error)
	Channel(channelID string, options ...discordgo.RequestOption) (*discordgo.Channel, error)
	UserChannelPermissions(userID, channelID string, fetchOptions ...discordgo.RequestOption) (int64, error)
	UserChannelCreate(recipientID string, options ...discordgo.RequestOption) (*discordgo.Channel, error)
	ChannelMessageSendComplex(channelID string, data *discordgo.MessageSend, options ...discordgo.RequestOption) (*discordgo.Message, error)
	WebhookWithToken(webhookID, token string, options ...discordgo.RequestOption) (*discordgo.Webhook, error)
	WebhookExecute(webhookID, token string, wait bool, data *discordgo.WebhookParams, options ...discordgo.RequestOption) (*discordgo.Message, error)
}

// Bot is the Discord side of the feed engine: it resolves destinations and
// delivers messages.
type Bot struct {
	api     discordAPI
	session *discordgo.Session
	selfID  string
	timeout time.Duration
	log     *slog.Logger
}

// New creates a Bot with the given Discord token.
func New(token string, log *slog.Logger) (*Bot, error) {
	s, err := discordgo.New("Bot " + token)
	if err != nil {
		return nil, fmt.Errorf("create discord session: %w", err)
	}
	s.Identify.Intents = discordgo.IntentsGuilds

	return &Bot{api: s, session: s, timeout: RequestTimeout, log: log}, nil
}

// Open connects to the gateway and looks up the bot's own user.
func (b *Bot) Open(ctx context.Context) error {
	if b.session != nil {
		if err := b.session.Open(); err != nil {
			return fmt.Errorf("open discord session: %w", err)
		}
	}
	uctx, cancel := b.withTimeout(ctx)
	defer cancel()
	me, err := b.api.User("@me", discordgo.WithContext(uctx))
	if err != nil {
		return fmt.Errorf("get current user: %w", err)
	}
	b.selfID = me.ID
	b.log.Info("connected to discord", "user", me.Username, "user_id", me.ID)
	return nil
}

// Close disconnects from the gateway.
func (b *Bot) Close() error {
	if b.session == nil {
		return nil
	}
	return b.session.Close()
}

// Resolve confirms that the guild exists and still contains the channel.
func (b *Bot) Resolve(ctx context.Context, guildID, channelID string) error {
	ctx, cancel := b.withTimeout(ctx)
	defer cancel()

	if _, err := b.api.Guild(guildID, discordgo.WithContext(ctx)); err != nil {
		return fmt.Errorf("get guild %s: %w", guildID, classify(err, ErrGuildNotFound))
	}
	ch, err := b.api.Channel(channelID, discordgo.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("get channel %s: %w", channelID, classify(err, ErrChannelNotFound))
	}
	if ch.GuildID != guildID {
		return fmt.Errorf("channel %s moved to guild %s: %w", channelID, ch.GuildID, ErrChannelNotFound)
	}
	return nil
}

// CanPost checks that the bot may post embeds in the channel.
func (b *Bot) CanPost(ctx context.Context, channelID string) error {
	ctx, cancel := b.withTimeout(ctx)
	defer cancel()

	perms, err := b.api.UserChannelPermissions(b.selfID, channelID, discordgo.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("get permissions in %s: %w", channelID, classify(err, ErrChannelNotFound))
	}
	if perms&discordgo.PermissionAdministrator != 0 {
		return nil
	}
	if missing := postPermissions &^ perms; missing != 0 {
		return fmt.Errorf("channel %s lacks permission bits %#x: %w", channelID, missing, ErrMissingPermissions)
	}
	return nil
}

// ValidateWebhook checks that the credentials still address a webhook bound to channelID.
func (b *Bot) ValidateWebhook(ctx context.Context, channelID string, wh model.Webhook) error {
	ctx, cancel := b.withTimeout(ctx)
	defer cancel()

	if !wh.Valid() {
		return ErrWebhookInvalid
	}
	got, err := b.api.WebhookWithToken(wh.ID, wh.Token, discordgo.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("get webhook %s: %w", wh.ID, classifyWebhook(err))
	}
	if got.ChannelID != channelID {
		return fmt.Errorf("webhook %s posts to %s: %w", wh.ID, got.ChannelID, ErrWebhookInvalid)
	}
	return nil
}

// DirectMessage sends text to a user's DM channel.
func (b *Bot) DirectMessage(ctx context.Context, userID, text string) error {
	ctx, cancel := b.withTimeout(ctx)
	defer cancel()

	ch, err := b.api.UserChannelCreate(userID, discordgo.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("open dm with %s: %w", userID, classify(err, ErrUserUnreachable))
	}
	msg := &discordgo.MessageSend{Content: text}
	if _, err := b.api.ChannelMessageSendComplex(ch.ID, msg, discordgo.WithContext(ctx)); err != nil {
		return fmt.Errorf("dm %s: %w", userID, classify(err, ErrUserUnreachable))
	}
	return nil
}

// SendMessage posts content and an optional embed to a channel.
func (b *Bot) SendMessage(ctx context.Context, channelID, content string, embed *discordgo.MessageEmbed) error {
	ctx, cancel := b.withTimeout(ctx)
	defer cancel()

	msg := &discordgo.MessageSend{Content: content}
	if embed != nil {
		msg.Embeds = []*discordgo.MessageEmbed{embed}
	}
	if _, err := b.api.ChannelMessageSendComplex(channelID, msg, discordgo.WithContext(ctx)); err != nil {
		return classify(err, ErrChannelNotFound)
	}
	return nil
}

// ExecuteWebhook posts content and embeds through a webhook in a single call.
func (b *Bot) ExecuteWebhook(ctx context.Context, wh model.Webhook, content string, embeds []*discordgo.MessageEmbed) error {
	ctx, cancel := b.withTimeout(ctx)
	defer cancel()

	params := &discordgo.WebhookParams{Content: content, Embeds: embeds}
	if _, err := b.api.WebhookExecute(wh.ID, wh.Token, false, params, discordgo.WithContext(ctx)); err != nil {
		return classifyWebhook(err)
	}
	return nil
}

// withTimeout bounds a single REST call.
func (b *Bot) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	timeout := b.timeout
	if timeout <= 0 {
		timeout = RequestTimeout
	}
	return context.WithTimeout(ctx, timeout)
}

// classifyWebhook is classify for calls authenticated by a webhook token, where
// a rejected token means the stored credentials are stale.
func classifyWebhook(err error) error {
	var rerr *discordgo.RESTError
	if errors.As(err, &rerr) {
		if rerr.Message != nil && rerr.Message.Code == discordgo.ErrCodeInvalidWebhookTokenProvided {
			return fmt.Errorf("%w: %w", ErrWebhookInvalid, err)
		}
		if rerr.Response != nil && rerr.Response.StatusCode == http.StatusUnauthorized {
			return fmt.Errorf("%w: %w", ErrWebhookInvalid, err)
		}
	}
	return classify(err, ErrWebhookInvalid)
}

// classify maps Discord API errors onto the package's sentinel errors. notFound
// is used for a bare 404 without an error code.
func classify(err error, notFound error) error {
	var rerr *discordgo.RESTError
	if !errors.As(err, &rerr) {
		return err
	}
	if rerr.Message != nil {
		switch rerr.Message.Code {
		case discordgo.ErrCodeUnknownGuild, discordgo.ErrCodeUnknownMember:
			return fmt.Errorf("%w: %w", ErrGuildNotFound, err)
		case discordgo.ErrCodeUnknownChannel:
			return fmt.Errorf("%w: %w", ErrChannelNotFound, err)
		case discordgo.ErrCodeUnknownWebhook:
			return fmt.Errorf("%w: %w", ErrWebhookInvalid, err)
		case discordgo.ErrCodeMissingAccess, discordgo.ErrCodeMissingPermissions:
			return fmt.Errorf("%w: %w", ErrMissingPermissions, err)
		case discordgo.ErrCodeCannotSendMessagesToThisUser, discordgo.ErrCodeUnknownUser:
			return fmt.Errorf("%w: %w", ErrUserUnreachable, err)
		}
	}
	if rerr.Response != nil && rerr.Response.StatusCode == http.StatusNotFound {
		return fmt.Errorf("%w: %w", notFound, err)
	}
	return err
}
