package analytics

import (
	"sort"

	"github.com/elonfeng/redditmon/pkg/source"
)

// Rank returns the n posts with the highest engagement score. n <= 0
// returns every post. The input slice is not modified.
func Rank(posts []source.Post, n int) []source.Post {
	out := make([]source.Post, len(posts))
	copy(out, posts)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].EngagementScore > out[j].EngagementScore
	})
	if n > 0 && len(out) > n {
		out = out[:n]
	}
	return out
}

// Trending returns recent, well-upvoted posts ordered by engagement.
func Trending(posts []source.Post, maxAgeHours float64, minScore int) []source.Post {
	var out []source.Post
	for _, p := range posts {
		if p.AgeHours <= maxAgeHours && p.Score >= minScore {
			out = append(out, p)
		}
	}
	return Rank(out, 0)
}

// Criteria selects posts for display. Zero fields do not filter.
type Criteria struct {
	MinScore    int
	MinComments int
	MaxAgeHours float64
	ExcludeNSFW bool
}

// Filter returns the posts matching every criterion.
func Filter(posts []source.Post, c Criteria) []source.Post {
	var out []source.Post
	for _, p := range posts {
		if c.MinScore > 0 && p.Score < c.MinScore {
			continue
		}
		if c.MinComments > 0 && p.NumComments < c.MinComments {
			continue
		}
		if c.MaxAgeHours > 0 && p.AgeHours > c.MaxAgeHours {
			continue
		}
		if c.ExcludeNSFW && p.NSFW {
			continue
		}
		out = append(out, p)
	}
	return out
}
