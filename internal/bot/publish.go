package bot

import (
	"context"
	"log/slog"

	"github.com/bwmarrin/discordgo"
	"github.com/samber/lo"

	"modfeed_bot/internal/model"
)

// maxEmbedsPerMessage is Discord's limit for one message.
const maxEmbedsPerMessage = 10

// Delivery paths passed to Recorder.
const (
	PathWebhook = "webhook"
	PathDirect  = "direct"
	PathFailed  = "failed"
)

// Sender delivers messages to Discord.
type Sender interface {
	ExecuteWebhook(ctx context.Context, wh model.Webhook, content string, embeds []*discordgo.MessageEmbed) error
	SendMessage(ctx context.Context, channelID, content string, embed *discordgo.MessageEmbed) error
}

// Recorder observes delivery outcomes.
type Recorder interface {
	Delivered(path string, n int)
}

// Destination is where a feed's notifications go.
type Destination struct {
	ChannelID string
	// Webhook is used when valid; otherwise embeds are posted directly.
	Webhook model.Webhook
	// Announce is sent once ahead of the embeds.
	Announce string
}

// Result counts the embeds delivered per path.
type Result struct {
	Webhook int
	Direct  int
	Failed  int
}

// Publisher sends batches of embeds, preferring the destination's webhook.
type Publisher struct {
	sender Sender
	rec    Recorder
	log    *slog.Logger
}

// NewPublisher creates a Publisher.
func NewPublisher(sender Sender, rec Recorder, log *slog.Logger) *Publisher {
	return &Publisher{sender: sender, rec: rec, log: log}
}

// Publish delivers embeds to dest. Failures are logged and counted, never
// returned: the caller has already moved its cursor past these embeds.
func (p *Publisher) Publish(ctx context.Context, dest Destination, embeds []*discordgo.MessageEmbed) Result {
	var res Result
	if len(embeds) == 0 {
		return res
	}
	log := p.log.With("channel_id", dest.ChannelID)

	announce := dest.Announce
	pending := embeds
	if dest.Webhook.Valid() {
		pending = nil
		chunks := lo.Chunk(embeds, maxEmbedsPerMessage)
		for i, chunk := range chunks {
			if err := p.sender.ExecuteWebhook(ctx, dest.Webhook, announce, chunk); err != nil {
				log.Warn("webhook delivery failed, falling back to direct posts", "webhook_id", dest.Webhook.ID, "error", err)
				pending = lo.Flatten(chunks[i:])
				break
			}
			announce = ""
			res.Webhook += len(chunk)
		}
	}

	if len(pending) > 0 && announce != "" {
		if err := p.sender.SendMessage(ctx, dest.ChannelID, announce, nil); err != nil {
			log.Warn("send announce message", "error", err)
		}
	}
	for _, e := range pending {
		if err := p.sender.SendMessage(ctx, dest.ChannelID, "", e); err != nil {
			log.Error("send notification", "title", e.Title, "error", err)
			res.Failed++
			continue
		}
		res.Direct++
	}

	p.record(res)
	return res
}

func (p *Publisher) record(res Result) {
	if p.rec == nil {
		return
	}
	for path, n := range map[string]int{PathWebhook: res.Webhook, PathDirect: res.Direct, PathFailed: res.Failed} {
		if n > 0 {
			p.rec.Delivered(path, n)
		}
	}
}
