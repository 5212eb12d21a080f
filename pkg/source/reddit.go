package source

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand/v2"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"
)

// DefaultRateLimitBackoff is used when a 429 carries no Retry-After header.
const DefaultRateLimitBackoff = 60 * time.Second

var browserUserAgents = []string{
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.1 Safari/605.1.15",
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64; rv:121.0) Gecko/20100101 Firefox/121.0",
	"Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
}

// RedditOptions configures the JSON search fetcher.
type RedditOptions struct {
	BaseURL      string // anonymous endpoint, default https://www.reddit.com
	OAuthURL     string // authenticated endpoint, default https://oauth.reddit.com
	TokenURL     string
	ClientID     string
	ClientSecret string
	UserAgent    string // empty rotates browser user agents
	Timeout      time.Duration
}

// Reddit searches Reddit through its JSON listing endpoint.
type Reddit struct {
	client *http.Client
	opts   RedditOptions

	mu          sync.Mutex
	token       string
	tokenExpiry time.Time
}

// NewReddit creates a new Reddit search fetcher. With client credentials set
// it authenticates against the OAuth API, otherwise it uses the public site.
func NewReddit(opts RedditOptions) *Reddit {
	if opts.BaseURL == "" {
		opts.BaseURL = redditBaseURL
	}
	if opts.OAuthURL == "" {
		opts.OAuthURL = "https://oauth.reddit.com"
	}
	if opts.TokenURL == "" {
		opts.TokenURL = "https://www.reddit.com/api/v1/access_token"
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	return &Reddit{
		client: &http.Client{Timeout: opts.Timeout},
		opts:   opts,
	}
}

func (r *Reddit) Name() string { return "reddit" }

func (r *Reddit) Fetch(ctx context.Context, query string, window TimeWindow, limit int) ([]RawPost, error) {
	base := r.opts.BaseURL
	if r.opts.ClientID != "" {
		if err := r.authenticate(ctx); err != nil {
			return nil, fmt.Errorf("reddit auth: %w", err)
		}
		base = r.opts.OAuthURL
	}

	reqURL := strings.TrimRight(base, "/") + "/search.json?" + searchParams(query, window, limit).Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, err
	}
	setBrowserHeaders(req, r.opts.UserAgent)
	req.Header.Set("Accept", "application/json")
	if r.opts.ClientID != "" {
		r.mu.Lock()
		req.Header.Set("Authorization", "Bearer "+r.token)
		r.mu.Unlock()
	}

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("search %q: %w", query, err)
	}
	defer resp.Body.Close()

	if err := checkStatus(resp, query); err != nil {
		return nil, err
	}

	var listing redditListing
	if err := json.NewDecoder(resp.Body).Decode(&listing); err != nil {
		return nil, fmt.Errorf("decode search %q: %w", query, err)
	}

	posts := make([]RawPost, 0, len(listing.Data.Children))
	for _, child := range listing.Data.Children {
		p := child.Data
		posts = append(posts, RawPost{
			ID:          p.ID,
			Title:       p.Title,
			Body:        p.Selftext,
			Author:      p.Author,
			Subreddit:   p.Subreddit,
			Permalink:   p.Permalink,
			CreatedUTC:  p.CreatedUTC,
			Score:       p.Score,
			UpvoteRatio: p.UpvoteRatio,
			NumComments: p.NumComments,
			Awards:      p.TotalAwards,
			Over18:      p.Over18,
		})
	}
	return posts, nil
}

func (r *Reddit) authenticate(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.token != "" && time.Now().Before(r.tokenExpiry) {
		return nil
	}

	data := url.Values{"grant_type": {"client_credentials"}}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.opts.TokenURL,
		strings.NewReader(data.Encode()))
	if err != nil {
		return err
	}

	req.SetBasicAuth(r.opts.ClientID, r.opts.ClientSecret)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("User-Agent", "redditmon/1.0")

	resp, err := r.client.Do(req)
	if err != nil {
		return fmt.Errorf("reddit token request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("reddit auth status %d", resp.StatusCode)
	}

	var tokenResp struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   int    `json:"expires_in"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&tokenResp); err != nil {
		return fmt.Errorf("decode reddit token: %w", err)
	}

	r.token = tokenResp.AccessToken
	r.tokenExpiry = time.Now().Add(time.Duration(tokenResp.ExpiresIn-60) * time.Second)
	return nil
}

func searchParams(query string, window TimeWindow, limit int) url.Values {
	if limit <= 0 || limit > 100 {
		limit = 100
	}
	if window == "" {
		window = WindowWeek
	}
	return url.Values{
		"q":     {query},
		"t":     {string(window)},
		"sort":  {"relevance"},
		"limit": {strconv.Itoa(limit)},
	}
}

func setBrowserHeaders(req *http.Request, userAgent string) {
	if userAgent == "" {
		userAgent = browserUserAgents[rand.IntN(len(browserUserAgents))]
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept-Language", "en-US,en;q=0.5")
	req.Header.Set("DNT", "1")
}

// checkStatus maps 429 and other non-2xx answers to typed errors.
func checkStatus(resp *http.Response, query string) error {
	if resp.StatusCode == http.StatusTooManyRequests {
		return &RateLimitError{Query: query, RetryAfter: retryAfter(resp.Header.Get("Retry-After"))}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &StatusError{Query: query, StatusCode: resp.StatusCode}
	}
	return nil
}

func retryAfter(h string) time.Duration {
	if secs, err := strconv.Atoi(strings.TrimSpace(h)); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	return DefaultRateLimitBackoff
}

type redditListing struct {
	Data struct {
		Children []struct {
			Data redditPost `json:"data"`
		} `json:"children"`
	} `json:"data"`
}

type redditPost struct {
	ID          string   `json:"id"`
	Title       string   `json:"title"`
	Selftext    string   `json:"selftext"`
	Author      *string  `json:"author"`
	Subreddit   string   `json:"subreddit"`
	Permalink   string   `json:"permalink"`
	CreatedUTC  *float64 `json:"created_utc"`
	Score       *int     `json:"score"`
	UpvoteRatio *float64 `json:"upvote_ratio"`
	NumComments *int     `json:"num_comments"`
	TotalAwards *int     `json:"total_awards_received"`
	Over18      *bool    `json:"over_18"`
}
