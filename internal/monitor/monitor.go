// Package monitor ties the collector to storage: it snapshots a profile's
// configuration, runs a collection, persists the result and records the run.
package monitor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/elonfeng/redditmon/internal/store"
	"github.com/elonfeng/redditmon/pkg/alert"
	"github.com/elonfeng/redditmon/pkg/analytics"
	"github.com/elonfeng/redditmon/pkg/collector"
	"github.com/elonfeng/redditmon/pkg/source"
	"github.com/google/uuid"
)

// HistoryLimit caps the posts loaded for analytics views.
const HistoryLimit = 5000

var (
	// ErrNoKeywords is returned when a profile has nothing to search for.
	ErrNoKeywords = errors.New("profile has no keywords")
	// ErrRunInProgress is returned when a profile is already collecting.
	ErrRunInProgress = errors.New("collection already running for profile")
	// ErrInvalidRange is returned for history ranges an analysis cannot use.
	ErrInvalidRange = errors.New("invalid range")
)

// Report is the outcome of one Collect call.
type Report struct {
	Run    store.Run        `json:"run"`
	Result collector.Result `json:"result"`
}

// Service runs profile-scoped collections and analytics queries.
type Service struct {
	store   store.Store
	fetcher source.Fetcher
	opts    collector.Options
	now     func() time.Time

	mu      sync.Mutex
	running map[string]bool
}

// New creates a service. opts is applied to every collection run. The
// pacer in opts is shared by all runs, so fetches stay spaced across
// profiles and overlapping runs.
func New(st store.Store, f source.Fetcher, opts collector.Options) *Service {
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	gate := collector.NewGate(opts.Pacer)
	opts.Pacer = collector.NoDelay{}
	return &Service{
		store:   st,
		fetcher: gate.Wrap(f),
		opts:    opts,
		now:     now,
		running: make(map[string]bool),
	}
}

// Store exposes the underlying store.
func (s *Service) Store() store.Store { return s.store }

// Snapshot reads a profile's keywords, subreddit lists and weights.
func (s *Service) Snapshot(ctx context.Context, profile string, window source.TimeWindow) (collector.Run, error) {
	if window == "" {
		window = source.WindowWeek
	}
	run := collector.Run{Profile: profile, Window: window}

	var err error
	if run.Keywords, err = s.store.ListKeywords(ctx, profile); err != nil {
		return run, err
	}
	if run.Whitelist, err = s.store.ListSubreddits(ctx, profile, store.Whitelist); err != nil {
		return run, err
	}
	if run.Blacklist, err = s.store.ListSubreddits(ctx, profile, store.Blacklist); err != nil {
		return run, err
	}
	p, err := s.store.GetProfile(ctx, profile)
	if err != nil {
		return run, err
	}
	run.Weights = p.Weights
	return run, nil
}

// Running reports whether a collection is active for profile.
func (s *Service) Running(profile string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running[profile]
}

func (s *Service) acquire(profile string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running[profile] {
		return false
	}
	s.running[profile] = true
	return true
}

func (s *Service) release(profile string) {
	s.mu.Lock()
	delete(s.running, profile)
	s.mu.Unlock()
}

// Collect runs one collection for profile. Posts are saved all-or-nothing;
// a storage failure is returned with the report so callers can still show
// the collection diagnostics.
func (s *Service) Collect(ctx context.Context, profile string, window source.TimeWindow, progress collector.ProgressFunc) (*Report, error) {
	if !s.acquire(profile) {
		return nil, fmt.Errorf("%s: %w", profile, ErrRunInProgress)
	}
	defer s.release(profile)

	snap, err := s.prepare(ctx, profile, window)
	if err != nil {
		return nil, err
	}
	return s.run(ctx, snap, progress)
}

// Outcome is delivered once by Start.
type Outcome struct {
	Report *Report
	Err    error
}

// Start validates the profile and runs its collection in the background.
// Busy profiles and profiles without keywords fail immediately.
func (s *Service) Start(ctx context.Context, profile string, window source.TimeWindow) (<-chan Outcome, error) {
	if !s.acquire(profile) {
		return nil, fmt.Errorf("%s: %w", profile, ErrRunInProgress)
	}
	snap, err := s.prepare(ctx, profile, window)
	if err != nil {
		s.release(profile)
		return nil, err
	}

	out := make(chan Outcome, 1)
	go func() {
		defer close(out)
		defer s.release(profile)
		report, err := s.run(ctx, snap, nil)
		if err != nil {
			slog.Error("monitor: background collection failed", "profile", profile, "error", err)
		}
		out <- Outcome{Report: report, Err: err}
	}()
	return out, nil
}

func (s *Service) prepare(ctx context.Context, profile string, window source.TimeWindow) (collector.Run, error) {
	snap, err := s.Snapshot(ctx, profile, window)
	if err != nil {
		return snap, fmt.Errorf("snapshot profile %s: %w", profile, err)
	}
	if len(snap.Keywords) == 0 {
		return snap, fmt.Errorf("%s: %w", profile, ErrNoKeywords)
	}
	return snap, nil
}

func (s *Service) run(ctx context.Context, snap collector.Run, progress collector.ProgressFunc) (*Report, error) {
	profile := snap.Profile
	opts := s.opts
	opts.Progress = progress
	started := s.now()
	res := collector.New(s.fetcher, opts).Collect(ctx, snap)

	report := &Report{
		Result: res,
		Run: store.Run{
			ID:          uuid.NewString(),
			Profile:     profile,
			Window:      string(snap.Window),
			StartedAt:   started,
			Keywords:    len(snap.Keywords),
			Fetches:     res.Fetches,
			Failed:      res.Failed,
			Posts:       len(res.Posts),
			Unreachable: res.Unreachable,
			Diagnostics: res.Diagnostics,
		},
	}

	saveErr := s.store.SavePosts(ctx, res.Posts)
	report.Run.Saved = saveErr == nil
	report.Run.FinishedAt = s.now()

	// The run record is written even when the posts were not.
	if err := s.store.SaveRun(context.WithoutCancel(ctx), &report.Run); err != nil {
		slog.Error("monitor: save run failed", "profile", profile, "run", report.Run.ID, "error", err)
	}

	if saveErr != nil {
		return report, fmt.Errorf("save posts for %s: %w", profile, saveErr)
	}

	slog.Info("monitor: collection saved",
		"profile", profile,
		"run", report.Run.ID,
		"posts", len(res.Posts),
		"unreachable", res.Unreachable)
	return report, nil
}

// History loads the posts created in the last days days.
func (s *Service) History(ctx context.Context, profile string, days int) ([]source.Post, error) {
	q := store.PostQuery{Profile: profile, Limit: HistoryLimit}
	if days > 0 {
		q.Since = s.now().Add(-time.Duration(days) * 24 * time.Hour)
	}
	return s.store.ListPosts(ctx, q)
}

// Growth compares the newer half of the last days days against the older half.
func (s *Service) Growth(ctx context.Context, profile string, days int) (analytics.Growth, error) {
	if days < 2 {
		return analytics.Growth{}, fmt.Errorf("%w: growth needs at least 2 days, got %d", ErrInvalidRange, days)
	}
	posts, err := s.History(ctx, profile, days)
	if err != nil {
		return analytics.Growth{}, err
	}
	cutoff := s.now().Add(-time.Duration(days/2) * 24 * time.Hour)
	current, previous := analytics.SplitAt(posts, cutoff)
	return analytics.GrowthRate(current, previous), nil
}

// Digest builds the periodic report for a profile, addressed to its
// Telegram chat when one is configured.
func (s *Service) Digest(ctx context.Context, profile string, days int) (*alert.Notification, error) {
	posts, err := s.History(ctx, profile, days)
	if err != nil {
		return nil, err
	}
	p, err := s.store.GetProfile(ctx, profile)
	if err != nil {
		return nil, err
	}
	n := alert.Digest(profile, posts)
	n.Recipient = p.TelegramChatID
	return n, nil
}

// PostAlert builds an alert for one stored post, addressed like Digest.
func (s *Service) PostAlert(ctx context.Context, profile, postID string) (*alert.Notification, error) {
	posts, err := s.History(ctx, profile, 0)
	if err != nil {
		return nil, err
	}
	i := slices.IndexFunc(posts, func(p source.Post) bool { return p.ID == postID })
	if i < 0 {
		return nil, fmt.Errorf("post %s in %s: %w", postID, profile, store.ErrNotFound)
	}
	p, err := s.store.GetProfile(ctx, profile)
	if err != nil {
		return nil, err
	}
	n := alert.PostAlert(profile, posts[i])
	n.Recipient = p.TelegramChatID
	return n, nil
}

// Cleanup deletes posts older than days across every profile.
func (s *Service) Cleanup(ctx context.Context, days int) (int64, error) {
	n, err := s.store.DeleteOlderThan(ctx, "", days)
	if err != nil {
		return 0, err
	}
	slog.Info("monitor: retention cleanup", "days", days, "deleted", n)
	return n, nil
}

// Seed adds configured keywords, subreddits and weights to a profile.
// Existing stored entries are kept.
func (s *Service) Seed(ctx context.Context, profile string, keywords, whitelist, blacklist []string, p *store.Profile) error {
	for _, kw := range keywords {
		if err := s.store.AddKeyword(ctx, profile, kw); err != nil {
			return err
		}
	}
	for _, sub := range whitelist {
		if err := s.store.AddSubreddit(ctx, profile, sub, store.Whitelist); err != nil {
			return err
		}
	}
	for _, sub := range blacklist {
		if err := s.store.AddSubreddit(ctx, profile, sub, store.Blacklist); err != nil {
			return err
		}
	}
	if p != nil {
		p.ID = profile
		return s.store.UpsertProfile(ctx, p)
	}
	return nil
}
