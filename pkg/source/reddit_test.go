package source

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

const searchJSON = `{
  "data": {
    "children": [
      {"data": {"id": "a1", "title": "First", "selftext": "body", "author": "bob",
        "subreddit": "golang", "permalink": "/r/golang/comments/a1/first/",
        "created_utc": 1700000000.0, "score": 42, "upvote_ratio": 0.9,
        "num_comments": 7, "total_awards_received": 2, "over_18": false}},
      {"data": {"id": "a2", "title": "Sparse", "subreddit": "rust"}}
    ]
  }
}`

func TestRedditFetch(t *testing.T) {
	var gotQuery, gotWindow, gotLimit string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/search.json" {
			http.NotFound(w, r)
			return
		}
		gotQuery = r.URL.Query().Get("q")
		gotWindow = r.URL.Query().Get("t")
		gotLimit = r.URL.Query().Get("limit")
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(searchJSON))
	}))
	defer srv.Close()

	r := NewReddit(RedditOptions{BaseURL: srv.URL, UserAgent: "test"})
	posts, err := r.Fetch(context.Background(), "go subreddit:golang", WindowDay, 25)
	if err != nil {
		t.Fatalf("Fetch error: %v", err)
	}
	if gotQuery != "go subreddit:golang" || gotWindow != "day" || gotLimit != "25" {
		t.Errorf("unexpected params q=%q t=%q limit=%q", gotQuery, gotWindow, gotLimit)
	}
	if len(posts) != 2 {
		t.Fatalf("got %d posts, want 2", len(posts))
	}
	first := posts[0]
	if first.ID != "a1" || *first.Author != "bob" || *first.Score != 42 || *first.Awards != 2 {
		t.Errorf("unexpected first post %+v", first)
	}
	sparse := posts[1]
	if sparse.Author != nil || sparse.Score != nil || sparse.UpvoteRatio != nil {
		t.Errorf("missing fields should stay nil: %+v", sparse)
	}
}

func TestRedditFetchRateLimited(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "5")
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	r := NewReddit(RedditOptions{BaseURL: srv.URL})
	_, err := r.Fetch(context.Background(), "go", WindowWeek, 50)
	if !errors.Is(err, ErrRateLimited) {
		t.Fatalf("expected rate limit error, got %v", err)
	}
	var rl *RateLimitError
	if !errors.As(err, &rl) || rl.RetryAfter != 5*time.Second {
		t.Errorf("retry after = %v, want 5s", rl)
	}
}

func TestRedditFetchStatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	r := NewReddit(RedditOptions{BaseURL: srv.URL})
	_, err := r.Fetch(context.Background(), "go", WindowWeek, 50)
	var se *StatusError
	if !errors.As(err, &se) || se.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403 status error, got %v", err)
	}
}

func TestRedditFetchOAuth(t *testing.T) {
	var gotAuth string
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/access_token", func(w http.ResponseWriter, r *http.Request) {
		if user, pass, ok := r.BasicAuth(); !ok || user != "id" || pass != "secret" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Write([]byte(`{"access_token":"tok","expires_in":3600}`))
	})
	mux.HandleFunc("/search.json", func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		w.Write([]byte(`{"data":{"children":[]}}`))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	r := NewReddit(RedditOptions{
		OAuthURL:     srv.URL,
		TokenURL:     srv.URL + "/api/v1/access_token",
		ClientID:     "id",
		ClientSecret: "secret",
	})
	if _, err := r.Fetch(context.Background(), "go", WindowWeek, 10); err != nil {
		t.Fatalf("Fetch error: %v", err)
	}
	if gotAuth != "Bearer tok" {
		t.Errorf("authorization = %q, want bearer token", gotAuth)
	}
}
