package source

import (
	"context"
	"fmt"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/mmcdole/gofeed"
)

var subredditPath = regexp.MustCompile(`/r/([^/]+)/`)

// RedditRSS searches Reddit through its Atom feed. The feed carries no
// engagement metrics, so posts collected this way score on defaults only.
type RedditRSS struct {
	client    *http.Client
	parser    *gofeed.Parser
	baseURL   string
	userAgent string
}

// NewRedditRSS creates a new Atom search fetcher.
func NewRedditRSS(baseURL, userAgent string, timeout time.Duration) *RedditRSS {
	if baseURL == "" {
		baseURL = redditBaseURL
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &RedditRSS{
		client:    &http.Client{Timeout: timeout},
		parser:    gofeed.NewParser(),
		baseURL:   strings.TrimRight(baseURL, "/"),
		userAgent: userAgent,
	}
}

func (r *RedditRSS) Name() string { return "reddit-rss" }

func (r *RedditRSS) Fetch(ctx context.Context, query string, window TimeWindow, limit int) ([]RawPost, error) {
	reqURL := r.baseURL + "/search.rss?" + searchParams(query, window, limit).Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("create rss request %q: %w", query, err)
	}
	setBrowserHeaders(req, r.userAgent)

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch rss %q: %w", query, err)
	}
	defer resp.Body.Close()

	if err := checkStatus(resp, query); err != nil {
		return nil, err
	}

	parsed, err := r.parser.Parse(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("parse rss %q: %w", query, err)
	}

	posts := make([]RawPost, 0, len(parsed.Items))
	for _, entry := range parsed.Items {
		raw := RawPost{
			ID:        strings.TrimPrefix(entry.GUID, "t3_"),
			Title:     entry.Title,
			Body:      htmlText(entry.Content),
			Subreddit: entrySubreddit(entry),
			Permalink: entry.Link,
		}
		if entry.Author != nil && entry.Author.Name != "" {
			name := strings.TrimPrefix(entry.Author.Name, "/u/")
			raw.Author = &name
		}
		published := entry.PublishedParsed
		if published == nil {
			published = entry.UpdatedParsed
		}
		if published != nil {
			created := float64(published.Unix())
			raw.CreatedUTC = &created
		}
		posts = append(posts, raw)
	}
	return posts, nil
}

func entrySubreddit(entry *gofeed.Item) string {
	if len(entry.Categories) > 0 && entry.Categories[0] != "" {
		return strings.TrimPrefix(entry.Categories[0], "r/")
	}
	if m := subredditPath.FindStringSubmatch(entry.Link); m != nil {
		return m[1]
	}
	return ""
}

// htmlText flattens feed HTML to whitespace-normalized text.
func htmlText(html string) string {
	if strings.TrimSpace(html) == "" {
		return ""
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return html
	}
	doc.Find("script, style").Remove()
	return strings.Join(strings.Fields(doc.Text()), " ")
}
