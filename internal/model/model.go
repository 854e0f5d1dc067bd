// Package model defines the domain types used across the application.
package model

import "time"

// FeedKind distinguishes the two subscription types.
type FeedKind string

// Supported feed kinds.
const (
	KindGame FeedKind = "game"
	KindMod  FeedKind = "mod"
)

// Webhook holds channel-bound webhook credentials.
type Webhook struct {
	ID    string
	Token string
}

// Valid reports whether both parts of the credential are present.
func (w Webhook) Valid() bool {
	return w.ID != "" && w.Token != ""
}

// GameFeed subscribes a channel to new and updated mods for one game.
type GameFeed struct {
	ID          int64
	ChannelID   string
	GuildID     string
	OwnerID     string
	Domain      string
	Title       string
	NSFW        bool
	SFW         bool
	ShowNew     bool
	ShowUpdates bool
	Compact     bool
	Webhook     Webhook
	Message     string
	// LastTimestamp is the cursor: unix seconds of the newest update already evaluated.
	LastTimestamp int64
	CreatedAt     time.Time
}

// ModFeed subscribes a channel to changes of a single mod.
type ModFeed struct {
	ID            int64
	ChannelID     string
	GuildID       string
	OwnerID       string
	Domain        string
	ModID         int64
	Title         string
	ShowFiles     bool
	ShowOther     bool
	LastStatus    string
	Message       string
	Webhook       Webhook
	LastTimestamp int64
	CreatedAt     time.Time
}

// Account links a Discord user to their platform API key.
type Account struct {
	DiscordID string
	Name      string
	APIKey    string
	CreatedAt time.Time
}

// Candidate is a platform-reported update discovered during one poll cycle.
type Candidate struct {
	ModID        int64
	LatestUpdate int64
	Available    bool
}

// Mod statuses reported by the platform.
const (
	StatusPublished    = "published"
	StatusHidden       = "hidden"
	StatusNotPublished = "not_published"
	StatusRemoved      = "removed"
	StatusWastebinned  = "wastebinned"
)

// ModDetail is the full record of a mod as returned by the platform.
type ModDetail struct {
	ModID            int64
	GameID           int64
	Domain           string
	Name             string
	Summary          string
	PictureURL       string
	Version          string
	CategoryID       int64
	Author           string
	UploadedBy       string
	UploaderURL      string
	Status           string
	Available        bool
	ContainsAdult    bool
	CreatedTimestamp int64
	UpdatedTimestamp int64
}

// Category is one entry of a game's category tree.
type Category struct {
	ID       int64
	Name     string
	ParentID int64
}

// Game is a platform game catalog entry.
type Game struct {
	ID         int64
	Name       string
	Domain     string
	URL        string
	Approved   bool
	Categories []Category
}

// CategoryName returns the name of the category with the given id.
func (g *Game) CategoryName(id int64) (string, bool) {
	if g == nil {
		return "", false
	}
	for _, c := range g.Categories {
		if c.ID == id {
			return c.Name, true
		}
	}
	return "", false
}

// DownloadStats holds the download counters of one mod.
type DownloadStats struct {
	ModID  int64
	Total  int64
	Unique int64
}

// Identity is the platform user a credential belongs to.
type Identity struct {
	UserID int64
	Name   string
}
