// Package analytics reduces collections of scored posts into summary,
// grouped, time-bucketed and period-over-period views. Every function is
// pure and treats empty input as a valid, zero-valued answer.
package analytics

import (
	"math"
	"sort"
	"time"

	"github.com/elonfeng/redditmon/pkg/source"
)

// NoData is reported as the top subreddit of an empty collection.
const NoData = "N/A"

// Summary holds headline statistics for a collection.
type Summary struct {
	TotalPosts      int     `json:"total_posts"`
	AvgScore        float64 `json:"avg_score"`
	AvgComments     float64 `json:"avg_comments"`
	AvgEngagement   float64 `json:"avg_engagement"`
	TopSubreddit    string  `json:"top_subreddit"`
	TotalSubreddits int     `json:"total_subreddits"`
	TotalAwards     int     `json:"total_awards"`
}

// GroupStats is one row of a by-subreddit or by-keyword breakdown.
type GroupStats struct {
	Name          string  `json:"name"`
	Posts         int     `json:"posts"`
	AvgScore      float64 `json:"avg_score"`
	AvgComments   float64 `json:"avg_comments,omitempty"`
	AvgEngagement float64 `json:"avg_engagement"`
}

// DailyStats is one calendar day (UTC) of the time series.
type DailyStats struct {
	Date          time.Time `json:"date"`
	Posts         int       `json:"posts"`
	AvgScore      float64   `json:"avg_score"`
	AvgEngagement float64   `json:"avg_engagement"`
}

// Growth compares a current period against a previous one.
type Growth struct {
	PostsCurrent       int     `json:"posts_current"`
	PostsPrevious      int     `json:"posts_previous"`
	PostsGrowth        float64 `json:"posts_growth"`
	EngagementCurrent  float64 `json:"engagement_current"`
	EngagementPrevious float64 `json:"engagement_previous"`
	EngagementGrowth   float64 `json:"engagement_growth"`
}

// Summarize computes headline statistics. Ties for the top subreddit are
// broken alphabetically.
func Summarize(posts []source.Post) Summary {
	if len(posts) == 0 {
		return Summary{TopSubreddit: NoData}
	}

	var score, comments, engagement float64
	awards := 0
	counts := make(map[string]int)
	for _, p := range posts {
		score += float64(p.Score)
		comments += float64(p.NumComments)
		engagement += p.EngagementScore
		awards += p.Awards
		counts[p.Subreddit]++
	}

	top, topCount := "", -1
	for sub, n := range counts {
		if n > topCount || (n == topCount && sub < top) {
			top, topCount = sub, n
		}
	}

	n := float64(len(posts))
	return Summary{
		TotalPosts:      len(posts),
		AvgScore:        round(score/n, 1),
		AvgComments:     round(comments/n, 1),
		AvgEngagement:   round(engagement/n, 2),
		TopSubreddit:    top,
		TotalSubreddits: len(counts),
		TotalAwards:     awards,
	}
}

type accumulator struct {
	posts      int
	score      float64
	comments   float64
	engagement float64
}

func (a *accumulator) add(p source.Post) {
	a.posts++
	a.score += float64(p.Score)
	a.comments += float64(p.NumComments)
	a.engagement += p.EngagementScore
}

func (a accumulator) mean(v float64) float64 { return v / float64(a.posts) }

// BySubreddit groups posts by subreddit, ordered by mean engagement.
func BySubreddit(posts []source.Post) []GroupStats {
	return groupBy(posts, func(p source.Post) string { return p.Subreddit }, true)
}

// ByKeyword groups posts by their matched-keywords tag, ordered by mean
// engagement.
func ByKeyword(posts []source.Post) []GroupStats {
	return groupBy(posts, func(p source.Post) string { return p.MatchedKeywords }, false)
}

func groupBy(posts []source.Post, key func(source.Post) string, withComments bool) []GroupStats {
	groups := make(map[string]*accumulator)
	for _, p := range posts {
		k := key(p)
		acc, ok := groups[k]
		if !ok {
			acc = &accumulator{}
			groups[k] = acc
		}
		acc.add(p)
	}

	out := make([]GroupStats, 0, len(groups))
	for name, acc := range groups {
		gs := GroupStats{
			Name:          name,
			Posts:         acc.posts,
			AvgScore:      round(acc.mean(acc.score), 1),
			AvgEngagement: round(acc.mean(acc.engagement), 2),
		}
		if withComments {
			gs.AvgComments = round(acc.mean(acc.comments), 1)
		}
		out = append(out, gs)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].AvgEngagement != out[j].AvgEngagement {
			return out[i].AvgEngagement > out[j].AvgEngagement
		}
		return out[i].Name < out[j].Name
	})
	return out
}

// Daily buckets posts by the UTC calendar date they were created on.
// Days without posts are not emitted.
func Daily(posts []source.Post) []DailyStats {
	buckets := make(map[time.Time]*accumulator)
	for _, p := range posts {
		d := p.PostDate.UTC()
		day := time.Date(d.Year(), d.Month(), d.Day(), 0, 0, 0, 0, time.UTC)
		acc, ok := buckets[day]
		if !ok {
			acc = &accumulator{}
			buckets[day] = acc
		}
		acc.add(p)
	}

	out := make([]DailyStats, 0, len(buckets))
	for day, acc := range buckets {
		out = append(out, DailyStats{
			Date:          day,
			Posts:         acc.posts,
			AvgScore:      round(acc.mean(acc.score), 1),
			AvgEngagement: round(acc.mean(acc.engagement), 2),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Date.Before(out[j].Date) })
	return out
}

// SplitAt partitions posts into those created at or after cutoff (current)
// and those created before it (previous).
func SplitAt(posts []source.Post, cutoff time.Time) (current, previous []source.Post) {
	for _, p := range posts {
		if p.PostDate.Before(cutoff) {
			previous = append(previous, p)
		} else {
			current = append(current, p)
		}
	}
	return current, previous
}

// GrowthRate compares two periods. Post growth is 100% when only the
// current period has posts and 0% when both are empty; engagement growth is
// 0% whenever the previous mean is not positive.
func GrowthRate(current, previous []source.Post) Growth {
	g := Growth{PostsCurrent: len(current), PostsPrevious: len(previous)}

	switch {
	case g.PostsPrevious == 0 && g.PostsCurrent == 0:
		g.PostsGrowth = 0
	case g.PostsPrevious == 0:
		g.PostsGrowth = 100
	default:
		g.PostsGrowth = float64(g.PostsCurrent-g.PostsPrevious) / float64(g.PostsPrevious) * 100
	}

	curMean := meanEngagement(current)
	prevMean := meanEngagement(previous)
	if prevMean > 0 {
		g.EngagementGrowth = (curMean - prevMean) / prevMean * 100
	}

	g.PostsGrowth = round(g.PostsGrowth, 1)
	g.EngagementGrowth = round(g.EngagementGrowth, 1)
	g.EngagementCurrent = round(curMean, 2)
	g.EngagementPrevious = round(prevMean, 2)
	return g
}

func meanEngagement(posts []source.Post) float64 {
	if len(posts) == 0 {
		return 0
	}
	sum := 0.0
	for _, p := range posts {
		sum += p.EngagementScore
	}
	return sum / float64(len(posts))
}

func round(v float64, places int) float64 {
	pow := math.Pow(10, float64(places))
	return math.Round(v*pow) / pow
}
