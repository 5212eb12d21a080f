package scheduler

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/elonfeng/redditmon/internal/monitor"
	"github.com/elonfeng/redditmon/internal/store"
	"github.com/elonfeng/redditmon/pkg/alert"
	"github.com/elonfeng/redditmon/pkg/collector"
	"github.com/elonfeng/redditmon/pkg/engagement"
	"github.com/elonfeng/redditmon/pkg/source"
)

type staticFetcher struct {
	calls int
	at    []time.Time
}

func (f *staticFetcher) Name() string { return "static" }

func (f *staticFetcher) Fetch(_ context.Context, query string, _ source.TimeWindow, _ int) ([]source.RawPost, error) {
	f.calls++
	f.at = append(f.at, time.Now())
	created := float64(time.Now().Add(-time.Hour).Unix())
	return []source.RawPost{{ID: "post-" + query, Title: query, Subreddit: "golang", CreatedUTC: &created}}, nil
}

type recorder struct{ got []*alert.Notification }

func (r *recorder) Name() string { return "recorder" }

func (r *recorder) Send(_ context.Context, n *alert.Notification) error {
	r.got = append(r.got, n)
	return nil
}

func setup(t *testing.T) (*Scheduler, *store.SQLiteStore, *staticFetcher, *recorder) {
	t.Helper()
	st, err := store.New(filepath.Join(t.TempDir(), "s.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { st.Close() })

	f := &staticFetcher{}
	rec := &recorder{}
	svc := monitor.New(st, f, collector.Options{})
	s := New(svc, alert.NewManager([]alert.Notifier{rec}), Options{DigestInterval: time.Hour})
	return s, st, f, rec
}

func TestCollectAllAndDigest(t *testing.T) {
	ctx := context.Background()
	s, st, f, rec := setup(t)

	st.AddKeyword(ctx, "a", "go")
	st.AddKeyword(ctx, "b", "rust")
	st.UpsertProfile(ctx, &store.Profile{ID: "c", Weights: engagement.DefaultWeights()})

	s.CollectAll(ctx)
	if f.calls != 2 {
		t.Errorf("fetch calls = %d, want 2 (profile c has no keywords)", f.calls)
	}
	for _, p := range []string{"a", "b"} {
		posts, _ := st.ListPosts(ctx, store.PostQuery{Profile: p})
		if len(posts) != 1 {
			t.Errorf("profile %s: %d posts", p, len(posts))
		}
	}

	s.DigestAll(ctx)
	if len(rec.got) != 2 {
		t.Fatalf("digests = %d, want 2", len(rec.got))
	}
	if rec.got[0].Profile != "a" || rec.got[0].Summary.TotalPosts != 1 {
		t.Errorf("digest = %+v", rec.got[0])
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	s, _, _, _ := setup(t)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error)
	go func() { done <- s.Run(ctx) }()
	cancel()
	select {
	case err := <-done:
		if err != context.Canceled {
			t.Errorf("Run = %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestCollectAllPacesAcrossProfiles(t *testing.T) {
	st, err := store.New(filepath.Join(t.TempDir(), "pace.db"))
	if err != nil {
		t.Fatal(err)
	}
	defer st.Close()

	const delay = 100 * time.Millisecond
	f := &staticFetcher{}
	svc := monitor.New(st, f, collector.Options{Pacer: collector.RandomDelay{Min: delay, Max: delay}})
	s := New(svc, alert.NewManager(nil), Options{})

	ctx := context.Background()
	st.AddKeyword(ctx, "a", "go")
	st.AddKeyword(ctx, "a", "rust")
	st.AddKeyword(ctx, "b", "zig")

	s.CollectAll(ctx)
	if len(f.at) != 3 {
		t.Fatalf("fetches = %d, want 3", len(f.at))
	}
	for i := 1; i < len(f.at); i++ {
		if gap := f.at[i].Sub(f.at[i-1]); gap < delay {
			t.Errorf("fetch %d came %s after the previous one, want >= %s", i, gap, delay)
		}
	}
}
