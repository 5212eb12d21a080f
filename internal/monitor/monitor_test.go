package monitor

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/elonfeng/redditmon/internal/store"
	"github.com/elonfeng/redditmon/pkg/collector"
	"github.com/elonfeng/redditmon/pkg/engagement"
	"github.com/elonfeng/redditmon/pkg/source"
)

var now = time.Date(2025, 6, 10, 12, 0, 0, 0, time.UTC)

func ptr[T any](v T) *T { return &v }

type fakeFetcher struct {
	mu      sync.Mutex
	queries []string
	block   chan struct{}
	err     error
}

func (f *fakeFetcher) Name() string { return "fake" }

func (f *fakeFetcher) Fetch(ctx context.Context, query string, _ source.TimeWindow, _ int) ([]source.RawPost, error) {
	f.mu.Lock()
	f.queries = append(f.queries, query)
	f.mu.Unlock()
	if f.block != nil {
		<-f.block
	}
	if f.err != nil {
		return nil, f.err
	}
	created := float64(now.Add(-2 * time.Hour).Unix())
	return []source.RawPost{{
		ID:          "id-" + query,
		Title:       "post about " + query,
		Subreddit:   "golang",
		Permalink:   "/r/golang/comments/x/",
		CreatedUTC:  &created,
		Score:       ptr(100),
		UpvoteRatio: ptr(0.9),
		NumComments: ptr(10),
		Author:      ptr("gopher"),
	}}, nil
}

type failingStore struct {
	store.Store
}

func (failingStore) SavePosts(context.Context, []source.Post) error {
	return errors.New("disk full")
}

func newService(t *testing.T, f source.Fetcher) (*Service, *store.SQLiteStore) {
	t.Helper()
	st, err := store.New(filepath.Join(t.TempDir(), "m.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { st.Close() })
	return New(st, f, collector.Options{Now: func() time.Time { return now }}), st
}

func TestCollectSavesPostsAndRun(t *testing.T) {
	ctx := context.Background()
	f := &fakeFetcher{}
	svc, st := newService(t, f)

	if err := svc.Seed(ctx, "p1", []string{"go", "rust"}, nil, nil, &store.Profile{Weights: engagement.DefaultWeights()}); err != nil {
		t.Fatalf("Seed: %v", err)
	}

	var progress []int
	report, err := svc.Collect(ctx, "p1", source.WindowDay, func(done, total int, _ string) {
		progress = append(progress, done)
	})
	if err != nil {
		t.Fatalf("Collect: %v", err)
	}
	if len(report.Result.Posts) != 2 || !report.Run.Saved || report.Run.Window != "day" {
		t.Errorf("report = %+v", report.Run)
	}
	if len(progress) != 2 {
		t.Errorf("progress calls = %v", progress)
	}

	posts, _ := st.ListPosts(ctx, store.PostQuery{Profile: "p1"})
	if len(posts) != 2 {
		t.Fatalf("stored %d posts, want 2", len(posts))
	}
	// 100*1 + 10*2 + 0*5 + 0.9*10 = 129, fresh bonus 1.2
	if posts[0].EngagementScore != 154.8 {
		t.Errorf("engagement = %v, want 154.8", posts[0].EngagementScore)
	}

	runs, _ := st.ListRuns(ctx, "p1", 5)
	if len(runs) != 1 || runs[0].ID != report.Run.ID {
		t.Errorf("runs = %+v", runs)
	}
}

func TestCollectWithoutKeywords(t *testing.T) {
	svc, _ := newService(t, &fakeFetcher{})
	if _, err := svc.Collect(context.Background(), "empty", source.WindowWeek, nil); !errors.Is(err, ErrNoKeywords) {
		t.Errorf("err = %v, want ErrNoKeywords", err)
	}
}

func TestCollectUnreachableStillRecordsRun(t *testing.T) {
	ctx := context.Background()
	svc, st := newService(t, &fakeFetcher{err: &source.StatusError{Query: "go", StatusCode: 503}})
	st.AddKeyword(ctx, "p1", "go")

	report, err := svc.Collect(ctx, "p1", source.WindowWeek, nil)
	if err != nil {
		t.Fatalf("Collect: %v", err)
	}
	if !report.Result.Unreachable || len(report.Result.Posts) != 0 {
		t.Errorf("result = %+v", report.Result)
	}
	runs, _ := st.ListRuns(ctx, "p1", 5)
	if len(runs) != 1 || !runs[0].Unreachable {
		t.Errorf("runs = %+v", runs)
	}
}

func TestCollectStorageFailure(t *testing.T) {
	ctx := context.Background()
	svc, st := newService(t, &fakeFetcher{})
	st.AddKeyword(ctx, "p1", "go")
	svc.store = failingStore{Store: st}

	report, err := svc.Collect(ctx, "p1", source.WindowWeek, nil)
	if err == nil {
		t.Fatal("expected storage error")
	}
	if report == nil || report.Run.Saved || len(report.Result.Posts) != 1 {
		t.Errorf("report = %+v", report)
	}
	runs, _ := st.ListRuns(ctx, "p1", 5)
	if len(runs) != 1 || runs[0].Saved {
		t.Errorf("run should be recorded as unsaved: %+v", runs)
	}
}

func TestCollectRejectsConcurrentRun(t *testing.T) {
	ctx := context.Background()
	f := &fakeFetcher{block: make(chan struct{})}
	svc, st := newService(t, f)
	st.AddKeyword(ctx, "p1", "go")

	done := make(chan error)
	go func() {
		_, err := svc.Collect(ctx, "p1", source.WindowWeek, nil)
		done <- err
	}()

	deadline := time.Now().Add(2 * time.Second)
	for !svc.Running("p1") && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if _, err := svc.Collect(ctx, "p1", source.WindowWeek, nil); !errors.Is(err, ErrRunInProgress) {
		t.Errorf("second run: err = %v", err)
	}
	close(f.block)
	if err := <-done; err != nil {
		t.Errorf("first run: %v", err)
	}
	if svc.Running("p1") {
		t.Error("profile still marked running")
	}
}

func TestStartRunsInBackground(t *testing.T) {
	ctx := context.Background()
	f := &fakeFetcher{block: make(chan struct{})}
	svc, st := newService(t, f)

	if _, err := svc.Start(ctx, "p1", ""); !errors.Is(err, ErrNoKeywords) {
		t.Errorf("empty profile: err = %v", err)
	}
	if svc.Running("p1") {
		t.Fatal("failed start left the profile marked running")
	}

	st.AddKeyword(ctx, "p1", "go")
	out, err := svc.Start(ctx, "p1", "")
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if _, err := svc.Start(ctx, "p1", ""); !errors.Is(err, ErrRunInProgress) {
		t.Errorf("second start: err = %v", err)
	}
	close(f.block)

	o := <-out
	if o.Err != nil || o.Report.Run.Window != "week" || len(o.Report.Result.Posts) != 1 {
		t.Errorf("outcome = %+v", o)
	}
}

func TestGrowthAndDigest(t *testing.T) {
	ctx := context.Background()
	svc, st := newService(t, &fakeFetcher{})

	// The store filters on the wall clock, so these posts are dated from it.
	svc.now = time.Now
	base := time.Now().UTC()
	mk := func(id string, age time.Duration, eng float64) source.Post {
		return source.Post{
			ID: id, Profile: "p1", Title: id, Subreddit: "golang",
			PostDate: base.Add(-age), CollectedAt: base, EngagementScore: eng,
		}
	}
	day := 24 * time.Hour
	posts := []source.Post{mk("new1", day, 30), mk("new2", 2*day, 30), mk("old1", 10*day, 20)}
	if err := st.SavePosts(ctx, posts); err != nil {
		t.Fatal(err)
	}

	g, err := svc.Growth(ctx, "p1", 14)
	if err != nil {
		t.Fatalf("Growth: %v", err)
	}
	if g.PostsCurrent != 2 || g.PostsPrevious != 1 || g.PostsGrowth != 100 || g.EngagementGrowth != 50 {
		t.Errorf("growth = %+v", g)
	}
	if _, err := svc.Growth(ctx, "p1", 1); err == nil {
		t.Error("expected error for one-day growth")
	}

	st.UpsertProfile(ctx, &store.Profile{ID: "p1", Weights: engagement.DefaultWeights(), TelegramChatID: "99"})
	n, err := svc.Digest(ctx, "p1", 7)
	if err != nil {
		t.Fatalf("Digest: %v", err)
	}
	if n.Recipient != "99" || n.Summary.TotalPosts != 2 {
		t.Errorf("digest = %+v summary %+v", n, n.Summary)
	}
}

func TestPostAlert(t *testing.T) {
	ctx := context.Background()
	svc, st := newService(t, &fakeFetcher{})
	now := time.Now().UTC()
	st.SavePosts(ctx, []source.Post{{ID: "abc", Profile: "p1", Title: "hello", Subreddit: "golang", PostDate: now, CollectedAt: now}})
	st.UpsertProfile(ctx, &store.Profile{ID: "p1", Weights: engagement.DefaultWeights(), TelegramChatID: "7"})

	n, err := svc.PostAlert(ctx, "p1", "abc")
	if err != nil {
		t.Fatalf("PostAlert: %v", err)
	}
	if n.Recipient != "7" || len(n.Posts) != 1 || n.Posts[0].ID != "abc" || n.Summary != nil {
		t.Errorf("alert = %+v", n)
	}
	if _, err := svc.PostAlert(ctx, "p1", "missing"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("missing post: err = %v", err)
	}
}
