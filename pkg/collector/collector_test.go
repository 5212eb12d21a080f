package collector

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/elonfeng/redditmon/pkg/engagement"
	"github.com/elonfeng/redditmon/pkg/source"
)

type fakeFetcher struct {
	results map[string][]source.RawPost
	errs    map[string]error
	calls   []string
	limits  []int
}

func (f *fakeFetcher) Name() string { return "fake" }

func (f *fakeFetcher) Fetch(_ context.Context, query string, _ source.TimeWindow, limit int) ([]source.RawPost, error) {
	f.calls = append(f.calls, query)
	f.limits = append(f.limits, limit)
	if err := f.errs[query]; err != nil {
		return nil, err
	}
	return f.results[query], nil
}

type recordingPacer struct {
	waits  int
	extras []time.Duration
}

func (p *recordingPacer) Wait(_ context.Context, extra time.Duration) error {
	p.waits++
	p.extras = append(p.extras, extra)
	return nil
}

var fixedNow = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func raw(id, sub string, score int) source.RawPost {
	created := float64(fixedNow.Add(-2 * time.Hour).Unix())
	return source.RawPost{ID: id, Title: "post " + id, Subreddit: sub, Score: &score, CreatedUTC: &created}
}

func newTestCollector(f source.Fetcher, opts Options) *Collector {
	opts.Now = func() time.Time { return fixedNow }
	return New(f, opts)
}

func TestCollectUnscopedOneFetchPerKeyword(t *testing.T) {
	f := &fakeFetcher{results: map[string][]source.RawPost{
		"golang": {raw("1", "golang", 10)},
		"rust":   {raw("2", "rust", 20)},
	}}
	c := newTestCollector(f, Options{})

	res := c.Collect(context.Background(), Run{
		Profile:  "alice",
		Keywords: []string{"GoLang", "rust"},
		Weights:  engagement.DefaultWeights(),
	})

	if len(f.calls) != 2 || f.calls[0] != "golang" || f.calls[1] != "rust" {
		t.Fatalf("calls = %v", f.calls)
	}
	if f.limits[0] != DefaultUnscopedLimit {
		t.Errorf("limit = %d, want %d", f.limits[0], DefaultUnscopedLimit)
	}
	if len(res.Posts) != 2 {
		t.Fatalf("got %d posts, want 2", len(res.Posts))
	}
	for _, p := range res.Posts {
		if p.Profile != "alice" {
			t.Errorf("post %s profile = %q", p.ID, p.Profile)
		}
		if p.EngagementScore == 0 {
			t.Errorf("post %s not scored", p.ID)
		}
	}
	if res.Posts[0].MatchedKeywords != "golang" {
		t.Errorf("matched keyword = %q", res.Posts[0].MatchedKeywords)
	}
}

func TestCollectScopedCrossProduct(t *testing.T) {
	f := &fakeFetcher{}
	c := newTestCollector(f, Options{})

	c.Collect(context.Background(), Run{
		Keywords:  []string{"go", "rust"},
		Whitelist: []string{"programming", "r/Coding"},
	})

	want := []string{
		"go subreddit:programming",
		"go subreddit:coding",
		"rust subreddit:programming",
		"rust subreddit:coding",
	}
	if len(f.calls) != len(want) {
		t.Fatalf("calls = %v, want %v", f.calls, want)
	}
	for i := range want {
		if f.calls[i] != want[i] {
			t.Errorf("call %d = %q, want %q", i, f.calls[i], want[i])
		}
		if f.limits[i] != DefaultScopedLimit {
			t.Errorf("call %d limit = %d", i, f.limits[i])
		}
	}
}

func TestCollectDeduplicatesFirstWins(t *testing.T) {
	f := &fakeFetcher{results: map[string][]source.RawPost{
		"go":     {raw("dup", "golang", 5), raw("a", "golang", 1)},
		"golang": {raw("dup", "golang", 5)},
	}}
	c := newTestCollector(f, Options{})

	res := c.Collect(context.Background(), Run{Keywords: []string{"go", "golang"}})
	count := 0
	for _, p := range res.Posts {
		if p.ID == "dup" {
			count++
			if p.MatchedKeywords != "go" {
				t.Errorf("first occurrence should win, got keyword %q", p.MatchedKeywords)
			}
		}
	}
	if count != 1 {
		t.Fatalf("dup appears %d times, want 1", count)
	}
	if res.Duplicates != 1 {
		t.Errorf("duplicates = %d, want 1", res.Duplicates)
	}
}

func TestCollectMergeKeywords(t *testing.T) {
	f := &fakeFetcher{results: map[string][]source.RawPost{
		"go":     {raw("dup", "golang", 5)},
		"golang": {raw("dup", "golang", 5)},
	}}
	c := newTestCollector(f, Options{MergeKeywords: true})

	res := c.Collect(context.Background(), Run{Keywords: []string{"go", "golang"}})
	if len(res.Posts) != 1 || res.Posts[0].MatchedKeywords != "go,golang" {
		t.Fatalf("posts = %+v", res.Posts)
	}
}

func TestCollectBlacklistWinsOverWhitelist(t *testing.T) {
	f := &fakeFetcher{results: map[string][]source.RawPost{
		"go subreddit:golang": {raw("1", "golang", 1)},
		"go subreddit:memes":  {raw("2", "Memes", 1)},
	}}
	c := newTestCollector(f, Options{})

	res := c.Collect(context.Background(), Run{
		Keywords:  []string{"go"},
		Whitelist: []string{"golang", "memes"},
		Blacklist: []string{"MEMES"},
	})
	for _, p := range res.Posts {
		if p.Subreddit == "Memes" {
			t.Fatalf("blacklisted subreddit leaked: %+v", p)
		}
	}
	if len(res.Posts) != 1 || res.Blacklisted != 1 {
		t.Errorf("posts = %d blacklisted = %d", len(res.Posts), res.Blacklisted)
	}
}

func TestCollectBlacklistWithGlobalScope(t *testing.T) {
	f := &fakeFetcher{results: map[string][]source.RawPost{
		"go": {raw("1", "golang", 1), raw("2", "spam", 1)},
	}}
	c := newTestCollector(f, Options{})

	res := c.Collect(context.Background(), Run{Keywords: []string{"go"}, Blacklist: []string{"spam"}})
	if len(res.Posts) != 1 || res.Posts[0].ID != "1" {
		t.Fatalf("posts = %+v", res.Posts)
	}
}

func TestCollectPartialFailureContinues(t *testing.T) {
	f := &fakeFetcher{
		results: map[string][]source.RawPost{"rust": {raw("r", "rust", 3)}},
		errs:    map[string]error{"go": errors.New("timeout")},
	}
	c := newTestCollector(f, Options{})

	res := c.Collect(context.Background(), Run{Keywords: []string{"go", "rust"}})
	if len(res.Posts) != 1 {
		t.Fatalf("got %d posts, want 1", len(res.Posts))
	}
	if res.Unreachable {
		t.Error("partial failure should not mark source unreachable")
	}
	if res.Failed != 1 || len(res.Diagnostics) != 1 || res.Diagnostics[0].Keyword != "go" {
		t.Errorf("failed = %d diagnostics = %+v", res.Failed, res.Diagnostics)
	}
}

func TestCollectAllFailuresUnreachable(t *testing.T) {
	boom := errors.New("connection refused")
	f := &fakeFetcher{errs: map[string]error{"go": boom, "rust": boom}}
	c := newTestCollector(f, Options{})

	res := c.Collect(context.Background(), Run{Keywords: []string{"go", "rust"}})
	if !res.Unreachable {
		t.Fatal("expected unreachable result")
	}
	if res.Posts == nil || len(res.Posts) != 0 {
		t.Errorf("posts = %v, want empty non-nil", res.Posts)
	}
	if len(res.Diagnostics) != 3 {
		t.Errorf("diagnostics = %+v", res.Diagnostics)
	}
}

func TestCollectRateLimitBackoffReachesPacer(t *testing.T) {
	f := &fakeFetcher{errs: map[string]error{
		"go": &source.RateLimitError{Query: "go", RetryAfter: 42 * time.Second},
	}}
	pacer := &recordingPacer{}
	c := newTestCollector(f, Options{Pacer: pacer})

	res := c.Collect(context.Background(), Run{Keywords: []string{"go", "rust", "zig"}})
	if pacer.waits != 2 {
		t.Fatalf("pacer waits = %d, want 2", pacer.waits)
	}
	if pacer.extras[0] != 42*time.Second || pacer.extras[1] != 0 {
		t.Errorf("extras = %v", pacer.extras)
	}
	if !res.Diagnostics[0].RateLimited {
		t.Errorf("diagnostic should flag rate limit: %+v", res.Diagnostics[0])
	}
}

func TestCollectProgress(t *testing.T) {
	type update struct {
		done, total int
		kw          string
	}
	var got []update
	f := &fakeFetcher{}
	c := newTestCollector(f, Options{Progress: func(done, total int, kw string) {
		got = append(got, update{done, total, kw})
	}})

	c.Collect(context.Background(), Run{Keywords: []string{"a", "b", "c"}, Whitelist: []string{"x", "y"}})
	want := []update{{1, 3, "a"}, {2, 3, "b"}, {3, 3, "c"}}
	if len(got) != len(want) {
		t.Fatalf("progress = %v", got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("progress[%d] = %v, want %v", i, got[i], want[i])
		}
	}
}

func TestCollectFilters(t *testing.T) {
	nsfw := raw("n", "x", 100)
	yes := true
	nsfw.Over18 = &yes
	f := &fakeFetcher{results: map[string][]source.RawPost{
		"go": {nsfw, raw("low", "x", 2), raw("ok", "x", 50), {ID: "", Title: "bad"}},
	}}
	c := newTestCollector(f, Options{ExcludeNSFW: true, MinScore: 10})

	res := c.Collect(context.Background(), Run{Keywords: []string{"go"}})
	if len(res.Posts) != 1 || res.Posts[0].ID != "ok" {
		t.Fatalf("posts = %+v", res.Posts)
	}
	if res.Filtered != 2 || res.Skipped != 1 {
		t.Errorf("filtered = %d skipped = %d", res.Filtered, res.Skipped)
	}
}

func TestRandomDelayHonoursContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := RandomDelay{Min: time.Hour, Max: 2 * time.Hour}.Wait(ctx, 0)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Wait err = %v, want context.Canceled", err)
	}
	if err := (RandomDelay{}).Wait(context.Background(), 0); err != nil {
		t.Errorf("zero delay err = %v", err)
	}
}

func TestGateSpansCollectors(t *testing.T) {
	f := &fakeFetcher{errs: map[string]error{
		"zig": &source.RateLimitError{Query: "zig", RetryAfter: 30 * time.Second},
	}}
	pacer := &recordingPacer{}
	gate := NewGate(pacer)

	first := newTestCollector(gate.Wrap(f), Options{})
	second := newTestCollector(gate.Wrap(f), Options{})
	first.Collect(context.Background(), Run{Keywords: []string{"go", "zig"}})
	second.Collect(context.Background(), Run{Keywords: []string{"rust"}})

	// Three fetches, two waits: the second run waits too, carrying the
	// backoff from the last fetch of the first run.
	if pacer.waits != 2 {
		t.Fatalf("pacer waits = %d, want 2", pacer.waits)
	}
	if pacer.extras[0] != 0 || pacer.extras[1] != 30*time.Second {
		t.Errorf("extras = %v", pacer.extras)
	}
}

func TestGateStopsOnCancel(t *testing.T) {
	f := &fakeFetcher{}
	gate := NewGate(RandomDelay{Min: time.Hour, Max: time.Hour})
	gated := gate.Wrap(f)

	if _, err := gated.Fetch(context.Background(), "go", source.WindowDay, 10); err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := gated.Fetch(ctx, "rust", source.WindowDay, 10); !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
	if len(f.calls) != 1 {
		t.Errorf("calls = %v", f.calls)
	}
	if gated.Name() != "fake" {
		t.Errorf("name = %q", gated.Name())
	}
}
