package collector

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/elonfeng/redditmon/pkg/engagement"
	"github.com/elonfeng/redditmon/pkg/source"
)

// Default per-request limits for scoped and global searches.
const (
	DefaultScopedLimit   = 25
	DefaultUnscopedLimit = 50
)

// Run is a read-only snapshot of a profile's configuration taken at the
// start of a collection run.
type Run struct {
	Profile   string
	Keywords  []string
	Whitelist []string
	Blacklist []string
	Window    source.TimeWindow
	Weights   engagement.Weights
}

// ProgressFunc receives one update per keyword processed.
type ProgressFunc func(completed, total int, keyword string)

// Diagnostic describes one failed or degraded fetch.
type Diagnostic struct {
	Keyword     string        `json:"keyword,omitempty"`
	Subreddit   string        `json:"subreddit,omitempty"`
	Query       string        `json:"query,omitempty"`
	Message     string        `json:"message"`
	RateLimited bool          `json:"rate_limited,omitempty"`
	Backoff     time.Duration `json:"backoff,omitempty"`
}

// Result is the outcome of a collection run. It is always returned, even
// when every fetch failed.
type Result struct {
	Posts       []source.Post `json:"posts"`
	Fetches     int           `json:"fetches"`
	Failed      int           `json:"failed"`
	Fetched     int           `json:"fetched"`
	Skipped     int           `json:"skipped"`
	Blacklisted int           `json:"blacklisted"`
	Duplicates  int           `json:"duplicates"`
	Filtered    int           `json:"filtered"`
	Unreachable bool          `json:"unreachable"`
	Diagnostics []Diagnostic  `json:"diagnostics,omitempty"`
}

// Options tunes a Collector. Zero values select the defaults.
type Options struct {
	ScopedLimit   int
	UnscopedLimit int
	ExcludeNSFW   bool
	MinScore      int
	// MergeKeywords joins the keyword tags of duplicate hits into the kept
	// post instead of discarding them.
	MergeKeywords bool
	Pacer         Pacer
	Progress      ProgressFunc
	Now           func() time.Time
}

// Collector drives the keyword × subreddit fetch matrix.
type Collector struct {
	fetcher source.Fetcher
	opts    Options
}

// New creates a collector around a fetcher.
func New(f source.Fetcher, opts Options) *Collector {
	if opts.ScopedLimit <= 0 {
		opts.ScopedLimit = DefaultScopedLimit
	}
	if opts.UnscopedLimit <= 0 {
		opts.UnscopedLimit = DefaultUnscopedLimit
	}
	if opts.Pacer == nil {
		opts.Pacer = NoDelay{}
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Collector{fetcher: f, opts: opts}
}

type query struct {
	keyword   string
	subreddit string
	text      string
	limit     int
}

// Collect runs every fetch for the snapshot sequentially and returns the
// merged, blacklisted, deduplicated and scored posts.
func (c *Collector) Collect(ctx context.Context, run Run) Result {
	keywords := source.NormalizeList(run.Keywords)
	scope := source.NewScope(run.Whitelist, run.Blacklist)
	window := run.Window
	if window == "" {
		window = source.WindowWeek
	}

	var res Result
	var merged []source.Post
	var backoff time.Duration

	for i, kw := range keywords {
		for _, q := range c.queries(kw, scope) {
			if res.Fetches > 0 {
				if err := c.opts.Pacer.Wait(ctx, backoff); err != nil {
					slog.Warn("collector: pacing interrupted", "error", err)
				}
			}
			backoff = 0
			res.Fetches++

			raws, err := c.fetcher.Fetch(ctx, q.text, window, q.limit)
			if err != nil {
				res.Failed++
				d := diagnose(q, err)
				backoff = d.Backoff
				res.Diagnostics = append(res.Diagnostics, d)
				slog.Warn("collector: fetch failed", "query", q.text, "error", err)
				continue
			}
			res.Fetched += len(raws)

			posts, skipped := source.NormalizeBatch(raws, kw, c.opts.Now())
			if skipped > 0 {
				slog.Info("collector: skipped malformed records", "query", q.text, "count", skipped)
			}
			res.Skipped += skipped
			if len(raws) == 0 {
				res.Diagnostics = append(res.Diagnostics, Diagnostic{
					Keyword: q.keyword, Subreddit: q.subreddit, Query: q.text,
					Message: "no posts found",
				})
			}
			merged = append(merged, posts...)
		}
		if c.opts.Progress != nil {
			c.opts.Progress(i+1, len(keywords), kw)
		}
	}

	if res.Fetches > 0 && res.Failed == res.Fetches {
		res.Unreachable = true
		res.Diagnostics = append(res.Diagnostics, Diagnostic{
			Message: fmt.Sprintf("%s unreachable: all %d requests failed", c.fetcher.Name(), res.Fetches),
		})
	}

	kept := merged[:0]
	for _, p := range merged {
		if scope.Excluded(p.Subreddit) {
			res.Blacklisted++
			continue
		}
		kept = append(kept, p)
	}

	unique := c.dedup(kept)
	res.Duplicates = len(kept) - len(unique)

	final := make([]source.Post, 0, len(unique))
	for _, p := range unique {
		if c.opts.ExcludeNSFW && p.NSFW {
			res.Filtered++
			continue
		}
		if c.opts.MinScore > 0 && p.Score < c.opts.MinScore {
			res.Filtered++
			continue
		}
		p.Profile = run.Profile
		p.EngagementScore = engagement.Score(p, run.Weights)
		final = append(final, p)
	}
	res.Posts = final

	slog.Info("collector: run complete",
		"profile", run.Profile,
		"keywords", len(keywords),
		"fetches", res.Fetches,
		"failed", res.Failed,
		"posts", len(res.Posts))
	return res
}

func (c *Collector) queries(kw string, scope *source.Scope) []query {
	if !scope.Scoped() {
		return []query{{keyword: kw, text: kw, limit: c.opts.UnscopedLimit}}
	}
	qs := make([]query, 0, len(scope.Whitelist()))
	for _, sub := range scope.Whitelist() {
		qs = append(qs, query{
			keyword:   kw,
			subreddit: sub,
			text:      fmt.Sprintf("%s subreddit:%s", kw, sub),
			limit:     c.opts.ScopedLimit,
		})
	}
	return qs
}

// dedup keeps the first occurrence of every post id.
func (c *Collector) dedup(posts []source.Post) []source.Post {
	index := make(map[string]int, len(posts))
	out := make([]source.Post, 0, len(posts))
	for _, p := range posts {
		i, seen := index[p.ID]
		if !seen {
			index[p.ID] = len(out)
			out = append(out, p)
			continue
		}
		if c.opts.MergeKeywords {
			out[i].MatchedKeywords = mergeTags(out[i].MatchedKeywords, p.MatchedKeywords)
		}
	}
	return out
}

func mergeTags(existing, add string) string {
	for _, kw := range strings.Split(existing, ",") {
		if kw == add {
			return existing
		}
	}
	if existing == "" {
		return add
	}
	return existing + "," + add
}

func diagnose(q query, err error) Diagnostic {
	d := Diagnostic{Keyword: q.keyword, Subreddit: q.subreddit, Query: q.text, Message: err.Error()}
	var rl *source.RateLimitError
	if errors.As(err, &rl) {
		d.RateLimited = true
		d.Backoff = rl.RetryAfter
	}
	return d
}
