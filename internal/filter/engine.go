// Package filter implements the content policy that decides which platform
// updates a feed publishes, and the cursor arithmetic around it.
package filter

import (
	"cmp"
	"slices"
	"time"

	"github.com/samber/lo"

	"modfeed_bot/internal/model"
)

// NewThreshold separates freshly created mods from updates of older ones.
const NewThreshold = time.Hour

// BatchSize caps how many candidates a feed evaluates per cycle.
const BatchSize = 10

// Reason explains why a mod was rejected. The zero value means accepted.
type Reason string

// Rejection reasons.
const (
	Accepted        Reason = ""
	ReasonUnavail   Reason = "unavailable"
	ReasonAdult     Reason = "adult content not allowed"
	ReasonSafe      Reason = "non-adult content not allowed"
	ReasonNewOff    Reason = "new mods disabled"
	ReasonUpdateOff Reason = "updates disabled"
)

// IsNew reports whether the mod was updated within NewThreshold of its creation.
// The boundary itself counts as an update.
func IsNew(mod *model.ModDetail) bool {
	return mod.UpdatedTimestamp-mod.CreatedTimestamp < int64(NewThreshold/time.Second)
}

// Match checks a mod against the feed's content flags.
func Match(feed *model.GameFeed, mod *model.ModDetail) (bool, Reason) {
	switch {
	case !mod.Available:
		return false, ReasonUnavail
	case mod.ContainsAdult && !feed.NSFW:
		return false, ReasonAdult
	case !mod.ContainsAdult && !feed.SFW:
		return false, ReasonSafe
	}

	if IsNew(mod) {
		if !feed.ShowNew {
			return false, ReasonNewOff
		}
	} else if !feed.ShowUpdates {
		return false, ReasonUpdateOff
	}
	return true, Accepted
}

// Pending returns the candidates strictly newer than cursor, oldest first, at most
// limit long. When the cap would split candidates sharing one instant, the batch
// is shortened so that the whole group is deferred together; if the group alone
// exceeds the cap it is kept whole, otherwise the cursor could never pass it.
func Pending(candidates []model.Candidate, cursor int64, limit int) []model.Candidate {
	type key struct{ mod, at int64 }

	fresh := lo.Filter(candidates, func(c model.Candidate, _ int) bool {
		return c.LatestUpdate > cursor
	})
	fresh = lo.UniqBy(fresh, func(c model.Candidate) key {
		return key{c.ModID, c.LatestUpdate}
	})
	slices.SortStableFunc(fresh, func(a, b model.Candidate) int {
		if a.LatestUpdate != b.LatestUpdate {
			return cmp.Compare(a.LatestUpdate, b.LatestUpdate)
		}
		return cmp.Compare(a.ModID, b.ModID)
	})

	if limit <= 0 || len(fresh) <= limit {
		return fresh
	}

	boundary := fresh[limit].LatestUpdate
	cut := limit
	for cut > 0 && fresh[cut-1].LatestUpdate == boundary {
		cut--
	}
	if cut == 0 {
		for cut < len(fresh) && fresh[cut].LatestUpdate == boundary {
			cut++
		}
	}
	return fresh[:cut]
}

// Advance returns the new cursor after evaluating candidates. It never moves
// backwards.
func Advance(cursor int64, evaluated []model.Candidate) int64 {
	if len(evaluated) == 0 {
		return cursor
	}
	latest := lo.Max(lo.Map(evaluated, func(c model.Candidate, _ int) int64 {
		return c.LatestUpdate
	}))
	return max(cursor, latest)
}
