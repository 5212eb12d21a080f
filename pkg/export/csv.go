// Package export writes stored posts and daily series as CSV.
package export

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/elonfeng/redditmon/pkg/analytics"
	"github.com/elonfeng/redditmon/pkg/source"
)

// Header is the canonical column order of a post export.
var Header = []string{
	"post_id", "profile_id", "title", "content", "author", "subreddit", "url",
	"post_date", "score", "upvote_ratio", "num_comments", "awards", "is_nsfw",
	"matched_keywords", "age_hours", "engagement_score",
}

// DailyHeader is the column order of a daily series export.
var DailyHeader = []string{"date", "posts", "avg_score", "avg_engagement"}

// WritePosts writes posts as CSV with Header as the first row.
func WritePosts(w io.Writer, posts []source.Post) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(Header); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	for _, p := range posts {
		if err := cw.Write(postRecord(p)); err != nil {
			return fmt.Errorf("write post %s: %w", p.ID, err)
		}
	}
	cw.Flush()
	return cw.Error()
}

func postRecord(p source.Post) []string {
	return []string{
		p.ID,
		p.Profile,
		p.Title,
		p.Content,
		p.Author,
		p.Subreddit,
		p.URL,
		p.PostDate.UTC().Format(time.RFC3339Nano),
		strconv.Itoa(p.Score),
		strconv.FormatFloat(p.UpvoteRatio, 'f', -1, 64),
		strconv.Itoa(p.NumComments),
		strconv.Itoa(p.Awards),
		strconv.FormatBool(p.NSFW),
		p.MatchedKeywords,
		strconv.FormatFloat(p.AgeHours, 'f', -1, 64),
		strconv.FormatFloat(p.EngagementScore, 'f', -1, 64),
	}
}

// ReadPosts parses a post export. Columns are matched by header name, so
// column order does not matter, but every Header column must be present.
func ReadPosts(r io.Reader) ([]source.Post, error) {
	cr := csv.NewReader(r)
	head, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	col := make(map[string]int, len(head))
	for i, name := range head {
		col[name] = i
	}
	for _, name := range Header {
		if _, ok := col[name]; !ok {
			return nil, fmt.Errorf("missing column %q", name)
		}
	}

	var posts []source.Post
	for line := 2; ; line++ {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		p, err := parseRecord(rec, col)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		posts = append(posts, p)
	}
	return posts, nil
}

type fieldParser struct {
	rec []string
	col map[string]int
	err error
}

func (f *fieldParser) str(name string) string { return f.rec[f.col[name]] }

func (f *fieldParser) num(name string) int {
	if f.err != nil {
		return 0
	}
	v, err := strconv.Atoi(f.str(name))
	if err != nil {
		f.err = fmt.Errorf("%s: %w", name, err)
	}
	return v
}

func (f *fieldParser) real(name string) float64 {
	if f.err != nil {
		return 0
	}
	v, err := strconv.ParseFloat(f.str(name), 64)
	if err != nil {
		f.err = fmt.Errorf("%s: %w", name, err)
	}
	return v
}

func (f *fieldParser) flag(name string) bool {
	if f.err != nil {
		return false
	}
	v, err := strconv.ParseBool(f.str(name))
	if err != nil {
		f.err = fmt.Errorf("%s: %w", name, err)
	}
	return v
}

func (f *fieldParser) date(name string) time.Time {
	if f.err != nil {
		return time.Time{}
	}
	v, err := time.Parse(time.RFC3339Nano, f.str(name))
	if err != nil {
		f.err = fmt.Errorf("%s: %w", name, err)
	}
	return v
}

func parseRecord(rec []string, col map[string]int) (source.Post, error) {
	f := &fieldParser{rec: rec, col: col}
	p := source.Post{
		ID:              f.str("post_id"),
		Profile:         f.str("profile_id"),
		Title:           f.str("title"),
		Content:         f.str("content"),
		Author:          f.str("author"),
		Subreddit:       f.str("subreddit"),
		URL:             f.str("url"),
		PostDate:        f.date("post_date"),
		Score:           f.num("score"),
		UpvoteRatio:     f.real("upvote_ratio"),
		NumComments:     f.num("num_comments"),
		Awards:          f.num("awards"),
		NSFW:            f.flag("is_nsfw"),
		MatchedKeywords: f.str("matched_keywords"),
		AgeHours:        f.real("age_hours"),
		EngagementScore: f.real("engagement_score"),
	}
	return p, f.err
}

// WriteDaily writes the daily series with DailyHeader as the first row.
func WriteDaily(w io.Writer, days []analytics.DailyStats) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(DailyHeader); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	for _, d := range days {
		rec := []string{
			d.Date.Format(time.DateOnly),
			strconv.Itoa(d.Posts),
			strconv.FormatFloat(d.AvgScore, 'f', -1, 64),
			strconv.FormatFloat(d.AvgEngagement, 'f', -1, 64),
		}
		if err := cw.Write(rec); err != nil {
			return fmt.Errorf("write day %s: %w", rec[0], err)
		}
	}
	cw.Flush()
	return cw.Error()
}
