package source

import (
	"math"
	"strings"
	"time"
)

const redditBaseURL = "https://www.reddit.com"

// Normalize converts a raw record into a canonical Post observed at now.
// Records without an id or title are rejected with ok == false.
func Normalize(raw RawPost, keyword string, now time.Time) (Post, bool) {
	id := strings.TrimSpace(raw.ID)
	title := strings.TrimSpace(raw.Title)
	if id == "" || title == "" {
		return Post{}, false
	}

	author := DeletedAuthor
	if raw.Author != nil && *raw.Author != "" {
		author = *raw.Author
	}

	var created time.Time
	if raw.CreatedUTC != nil {
		sec, frac := math.Modf(*raw.CreatedUTC)
		created = time.Unix(int64(sec), int64(frac*1e9)).UTC()
	} else {
		created = time.Unix(0, 0).UTC()
	}

	ratio := 0.5
	if raw.UpvoteRatio != nil {
		ratio = min(max(*raw.UpvoteRatio, 0), 1)
	}

	return Post{
		ID:              id,
		Title:           title,
		Content:         raw.Body,
		Author:          author,
		Subreddit:       raw.Subreddit,
		URL:             permalinkURL(raw.Permalink),
		PostDate:        created,
		Score:           intOr(raw.Score, 0),
		UpvoteRatio:     ratio,
		NumComments:     intOr(raw.NumComments, 0),
		Awards:          intOr(raw.Awards, 0),
		NSFW:            raw.Over18 != nil && *raw.Over18,
		MatchedKeywords: keyword,
		AgeHours:        now.Sub(created).Hours(),
		EngagementScore: 0,
		CollectedAt:     now.UTC(),
	}, true
}

// NormalizeBatch normalizes every record and reports how many were dropped.
func NormalizeBatch(raws []RawPost, keyword string, now time.Time) ([]Post, int) {
	posts := make([]Post, 0, len(raws))
	skipped := 0
	for _, raw := range raws {
		p, ok := Normalize(raw, keyword, now)
		if !ok {
			skipped++
			continue
		}
		posts = append(posts, p)
	}
	return posts, skipped
}

func permalinkURL(permalink string) string {
	switch {
	case permalink == "":
		return ""
	case strings.HasPrefix(permalink, "http://"), strings.HasPrefix(permalink, "https://"):
		return permalink
	case strings.HasPrefix(permalink, "/"):
		return redditBaseURL + permalink
	}
	return redditBaseURL + "/" + permalink
}

func intOr(v *int, def int) int {
	if v == nil {
		return def
	}
	return *v
}
