package scheduler

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/elonfeng/redditmon/internal/monitor"
	"github.com/elonfeng/redditmon/pkg/alert"
	"github.com/elonfeng/redditmon/pkg/source"
)

// DigestDays is the history covered by a periodic digest.
const DigestDays = 7

// Options configures the scheduler loops.
type Options struct {
	Window          source.TimeWindow
	CollectInterval time.Duration
	CleanupInterval time.Duration
	// DigestInterval of zero disables digests.
	DigestInterval time.Duration
	RetentionDays  int
	// Profiles lists the profiles to collect. Nil means every stored profile.
	Profiles func(ctx context.Context) ([]string, error)
}

// Scheduler runs periodic collection, retention cleanup and digests.
type Scheduler struct {
	svc      *monitor.Service
	alertMgr *alert.Manager
	opts     Options
}

// New creates a new scheduler.
func New(svc *monitor.Service, alertMgr *alert.Manager, opts Options) *Scheduler {
	if opts.CollectInterval == 0 {
		opts.CollectInterval = 6 * time.Hour
	}
	if opts.CleanupInterval == 0 {
		opts.CleanupInterval = 24 * time.Hour
	}
	if opts.RetentionDays == 0 {
		opts.RetentionDays = 30
	}
	if opts.Window == "" {
		opts.Window = source.WindowWeek
	}
	if opts.Profiles == nil {
		opts.Profiles = svc.Store().ListProfiles
	}
	return &Scheduler{svc: svc, alertMgr: alertMgr, opts: opts}
}

// Run starts the scheduler loop. Blocks until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) error {
	collectTicker := time.NewTicker(s.opts.CollectInterval)
	cleanupTicker := time.NewTicker(s.opts.CleanupInterval)
	defer collectTicker.Stop()
	defer cleanupTicker.Stop()

	var digestC <-chan time.Time
	if s.opts.DigestInterval > 0 && s.alertMgr != nil && s.alertMgr.HasNotifiers() {
		digestTicker := time.NewTicker(s.opts.DigestInterval)
		defer digestTicker.Stop()
		digestC = digestTicker.C
	}

	// Run immediately on start.
	slog.Info("scheduler: initial collection")
	s.CollectAll(ctx)
	s.Cleanup(ctx)

	slog.Info("scheduler: running",
		"collect_every", s.opts.CollectInterval,
		"cleanup_every", s.opts.CleanupInterval,
		"digest_every", s.opts.DigestInterval)

	for {
		select {
		case <-ctx.Done():
			slog.Info("scheduler: stopped")
			return ctx.Err()
		case <-collectTicker.C:
			s.CollectAll(ctx)
		case <-cleanupTicker.C:
			s.Cleanup(ctx)
		case <-digestC:
			s.DigestAll(ctx)
		}
	}
}

// CollectAll runs one collection per profile, sequentially.
func (s *Scheduler) CollectAll(ctx context.Context) {
	profiles, err := s.opts.Profiles(ctx)
	if err != nil {
		slog.Error("scheduler: list profiles", "error", err)
		return
	}
	for _, p := range profiles {
		if ctx.Err() != nil {
			return
		}
		report, err := s.svc.Collect(ctx, p, s.opts.Window, nil)
		switch {
		case errors.Is(err, monitor.ErrNoKeywords), errors.Is(err, monitor.ErrRunInProgress):
			slog.Info("scheduler: skipping profile", "profile", p, "reason", err)
		case err != nil:
			slog.Error("scheduler: collection failed", "profile", p, "error", err)
		default:
			slog.Info("scheduler: collected",
				"profile", p,
				"posts", len(report.Result.Posts),
				"failed", report.Result.Failed,
				"unreachable", report.Result.Unreachable)
		}
	}
}

// Cleanup applies the retention policy.
func (s *Scheduler) Cleanup(ctx context.Context) {
	if _, err := s.svc.Cleanup(ctx, s.opts.RetentionDays); err != nil {
		slog.Error("scheduler: cleanup failed", "error", err)
	}
}

// DigestAll sends a digest for every profile that has posts.
func (s *Scheduler) DigestAll(ctx context.Context) {
	profiles, err := s.opts.Profiles(ctx)
	if err != nil {
		slog.Error("scheduler: list profiles", "error", err)
		return
	}
	for _, p := range profiles {
		n, err := s.svc.Digest(ctx, p, DigestDays)
		if err != nil {
			slog.Error("scheduler: build digest", "profile", p, "error", err)
			continue
		}
		if len(n.Posts) == 0 {
			continue
		}
		if err := s.alertMgr.Broadcast(ctx, n); err != nil {
			slog.Error("scheduler: digest delivery", "profile", p, "error", err)
			continue
		}
		slog.Info("scheduler: digest sent", "profile", p, "posts", len(n.Posts))
	}
}
