package bot

import (
	"fmt"
	"html"
	"regexp"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/bwmarrin/discordgo"
	"github.com/dustin/go-humanize"
	"github.com/microcosm-cc/bluemonday"

	"modfeed_bot/internal/model"
)

// SiteURL is the public site mod links point to.
const SiteURL = "https://www.nexusmods.com"

// Embed colours.
const (
	ColorNew    = 0xda8e35
	ColorUpdate = 0x57a5cc
	ColorStatus = 0x9b59b6
)

const (
	maxChangelog   = 1024
	maxDescription = 4096
	ellipsis       = "…"
	noSummary      = "No summary provided."
)

var (
	lineBreakRe = regexp.MustCompile(`(?i)<br\s*/?>`)
	textPolicy  = bluemonday.StrictPolicy()
)

// Notification is everything needed to render one mod update.
type Notification struct {
	Mod  *model.ModDetail
	Game *model.Game
	New  bool
	// Changelogs maps versions to their lines; only the mod's current version is shown.
	Changelogs map[string][]string
	// Stats is nil when download counts are unavailable.
	Stats   *model.DownloadStats
	Compact bool
}

// ModURL returns the canonical page of a mod.
func ModURL(domain string, modID int64) string {
	return fmt.Sprintf("%s/%s/mods/%d", SiteURL, domain, modID)
}

// BuildModEmbed renders a new or updated mod. Missing optional data leaves the
// matching field out.
func BuildModEmbed(n Notification) *discordgo.MessageEmbed {
	mod := n.Mod
	e := &discordgo.MessageEmbed{
		URL:       ModURL(mod.Domain, mod.ModID),
		Title:     mod.Name,
		Color:     ColorUpdate,
		Timestamp: time.Unix(mod.UpdatedTimestamp, 0).UTC().Format(time.RFC3339),
		Footer:    &discordgo.MessageEmbedFooter{Text: footer(n.Game, mod)},
	}

	label := "Updated Mod"
	if n.New {
		label = "New Mod"
		e.Color = ColorNew
	}
	if n.Game != nil {
		label += " for " + n.Game.Name
	}
	e.Author = &discordgo.MessageEmbedAuthor{Name: label}

	if !n.Compact {
		e.Description = truncate(PlainText(mod.Summary), maxDescription)
		if e.Description == "" {
			e.Description = noSummary
		}
		if mod.PictureURL != "" {
			e.Thumbnail = &discordgo.MessageEmbedThumbnail{URL: mod.PictureURL}
		}
	}

	if mod.Version != "" {
		e.Fields = append(e.Fields, &discordgo.MessageEmbedField{Name: "Version", Value: mod.Version, Inline: true})
	}
	if mod.Author != "" {
		e.Fields = append(e.Fields, &discordgo.MessageEmbedField{Name: "Author", Value: mod.Author, Inline: true})
	}
	if up := uploader(mod); up != "" {
		e.Fields = append(e.Fields, &discordgo.MessageEmbedField{Name: "Uploader", Value: up, Inline: true})
	}
	if name, ok := n.Game.CategoryName(mod.CategoryID); ok {
		e.Fields = append(e.Fields, &discordgo.MessageEmbedField{Name: "Category", Value: name, Inline: true})
	}
	if !n.Compact {
		if text := changelog(n.Changelogs, mod.Version); text != "" {
			e.Fields = append(e.Fields, &discordgo.MessageEmbedField{Name: "Changelog", Value: text})
		}
	}
	if n.Stats != nil {
		e.Fields = append(e.Fields,
			&discordgo.MessageEmbedField{Name: "Unique DLs", Value: formatCount(n.Stats.Unique), Inline: true},
			&discordgo.MessageEmbedField{Name: "Total DLs", Value: formatCount(n.Stats.Total), Inline: true},
		)
	}
	return e
}

// BuildStatusEmbed renders a change of a mod's publishing status.
func BuildStatusEmbed(mod *model.ModDetail, game *model.Game, from string) *discordgo.MessageEmbed {
	if from == "" {
		from = "unknown"
	}
	return &discordgo.MessageEmbed{
		URL:         ModURL(mod.Domain, mod.ModID),
		Title:       mod.Name,
		Color:       ColorStatus,
		Author:      &discordgo.MessageEmbedAuthor{Name: "Mod status changed"},
		Description: fmt.Sprintf("%s → %s", statusLabel(from), statusLabel(mod.Status)),
		Timestamp:   time.Unix(mod.UpdatedTimestamp, 0).UTC().Format(time.RFC3339),
		Footer:      &discordgo.MessageEmbedFooter{Text: footer(game, mod)},
	}
}

// PlainText turns platform HTML into plain text, keeping line breaks.
func PlainText(s string) string {
	s = lineBreakRe.ReplaceAllString(s, "\n")
	s = html.UnescapeString(textPolicy.Sanitize(s))
	return strings.TrimSpace(s)
}

func footer(game *model.Game, mod *model.ModDetail) string {
	id := "Mod ID " + strconv.FormatInt(mod.ModID, 10)
	if game == nil {
		return id
	}
	return game.Name + " • " + id
}

func uploader(mod *model.ModDetail) string {
	switch {
	case mod.UploadedBy == "":
		return ""
	case mod.UploaderURL == "":
		return mod.UploadedBy
	}
	return fmt.Sprintf("[%s](%s)", mod.UploadedBy, mod.UploaderURL)
}

func changelog(logs map[string][]string, version string) string {
	lines, ok := logs[version]
	if !ok || len(lines) == 0 {
		return ""
	}
	var b strings.Builder
	for i, line := range lines {
		if i > 0 {
			b.WriteByte('\n')
		}
		b.WriteString("- ")
		b.WriteString(PlainText(line))
	}
	return truncate(b.String(), maxChangelog)
}

// truncate cuts s to at most limit characters, ellipsis included.
func truncate(s string, limit int) string {
	if utf8.RuneCountInString(s) <= limit {
		return s
	}
	runes := []rune(s)
	return string(runes[:limit-utf8.RuneCountInString(ellipsis)]) + ellipsis
}

func statusLabel(status string) string {
	return strings.ReplaceAll(status, "_", " ")
}

func formatCount(n int64) string {
	return humanize.Comma(n)
}
