package source

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// TimeWindow is the search time filter understood by Reddit.
type TimeWindow string

const (
	WindowHour  TimeWindow = "hour"
	WindowDay   TimeWindow = "day"
	WindowWeek  TimeWindow = "week"
	WindowMonth TimeWindow = "month"
	WindowYear  TimeWindow = "year"
	WindowAll   TimeWindow = "all"
)

// AllWindows returns all known time windows.
func AllWindows() []TimeWindow {
	return []TimeWindow{WindowHour, WindowDay, WindowWeek, WindowMonth, WindowYear, WindowAll}
}

// ParseTimeWindow validates a time window name. An empty string means week.
func ParseTimeWindow(s string) (TimeWindow, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return WindowWeek, nil
	}
	for _, w := range AllWindows() {
		if string(w) == s {
			return w, nil
		}
	}
	return "", fmt.Errorf("unknown time window %q", s)
}

// DeletedAuthor is used when a record has no author.
const DeletedAuthor = "[deleted]"

// Post is the canonical, scored post shared by every component.
type Post struct {
	ID              string    `json:"post_id" db:"post_id"`
	Profile         string    `json:"profile_id" db:"profile_id"`
	Title           string    `json:"title" db:"title"`
	Content         string    `json:"content" db:"content"`
	Author          string    `json:"author" db:"author"`
	Subreddit       string    `json:"subreddit" db:"subreddit"`
	URL             string    `json:"url" db:"url"`
	PostDate        time.Time `json:"post_date" db:"post_date"`
	Score           int       `json:"score" db:"score"`
	UpvoteRatio     float64   `json:"upvote_ratio" db:"upvote_ratio"`
	NumComments     int       `json:"num_comments" db:"num_comments"`
	Awards          int       `json:"awards" db:"awards"`
	NSFW            bool      `json:"is_nsfw" db:"is_nsfw"`
	MatchedKeywords string    `json:"matched_keywords" db:"matched_keywords"`
	AgeHours        float64   `json:"age_hours" db:"age_hours"`
	EngagementScore float64   `json:"engagement_score" db:"engagement_score"`
	CollectedAt     time.Time `json:"collected_at" db:"collected_at"`
}

// Keywords splits the comma-joined matched keywords.
func (p Post) Keywords() []string {
	var out []string
	for _, kw := range strings.Split(p.MatchedKeywords, ",") {
		if kw = strings.TrimSpace(kw); kw != "" {
			out = append(out, kw)
		}
	}
	return out
}

// RawPost is one record as returned by a Fetcher. Optional fields are
// pointers so the normalizer can tell missing values from zero values.
type RawPost struct {
	ID          string
	Title       string
	Body        string
	Author      *string
	Subreddit   string
	Permalink   string
	CreatedUTC  *float64
	Score       *int
	UpvoteRatio *float64
	NumComments *int
	Awards      *int
	Over18      *bool
}

// Fetcher runs one search query against the external source.
type Fetcher interface {
	Name() string
	Fetch(ctx context.Context, query string, window TimeWindow, limit int) ([]RawPost, error)
}

// ErrRateLimited matches any *RateLimitError with errors.Is.
var ErrRateLimited = errors.New("rate limited")

// RateLimitError is returned when the source answers 429. RetryAfter is the
// backoff the caller should add before its next request.
type RateLimitError struct {
	Query      string
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limited on %q (retry after %s)", e.Query, e.RetryAfter)
}

func (e *RateLimitError) Is(target error) bool { return target == ErrRateLimited }

// StatusError is returned for any other non-2xx answer.
type StatusError struct {
	Query      string
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("status %d for %q", e.StatusCode, e.Query)
}
