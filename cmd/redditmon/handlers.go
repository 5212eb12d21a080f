package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"slices"
	"syscall"
	"time"

	"github.com/elonfeng/redditmon/internal/config"
	"github.com/elonfeng/redditmon/internal/monitor"
	"github.com/elonfeng/redditmon/internal/scheduler"
	"github.com/elonfeng/redditmon/internal/store"
	"github.com/elonfeng/redditmon/pkg/alert"
	"github.com/elonfeng/redditmon/pkg/analytics"
	"github.com/elonfeng/redditmon/pkg/collector"
	"github.com/elonfeng/redditmon/pkg/export"
	"github.com/elonfeng/redditmon/pkg/server"
	"github.com/elonfeng/redditmon/pkg/source"
	"github.com/spf13/cobra"
)

func setupLogging(verbose bool) {
	level := slog.LevelWarn
	if verbose {
		level = slog.LevelInfo
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
}

func loadConfig() (*config.Config, error) {
	path := cfgFile
	if path == "" {
		if _, err := os.Stat("config.yaml"); err == nil {
			path = "config.yaml"
		}
	}
	return config.Load(path)
}

// app holds what every command needs: config, store, service and the
// selected profile.
type app struct {
	cfg     *config.Config
	db      *store.SQLiteStore
	svc     *monitor.Service
	profile string
}

func openApp(ctx context.Context) (*app, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	db, err := store.New(cfg.Database.Path)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	a := &app{
		cfg:     cfg,
		db:      db,
		svc:     monitor.New(db, buildFetcher(cfg), collectOptions(cfg)),
		profile: selectedProfile(),
	}
	if err := a.seedProfiles(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("seed profiles: %w", err)
	}
	return a, nil
}

func (a *app) Close() error { return a.db.Close() }

func selectedProfile() string {
	if profile != "" {
		return profile
	}
	if v := os.Getenv("REDDITMON_PROFILE"); v != "" {
		return v
	}
	return config.DefaultProfile
}

// seedProfiles copies configured profiles into the store. A profile is
// only seeded while it has no stored keywords.
func (a *app) seedProfiles(ctx context.Context) error {
	for _, pc := range a.cfg.Profiles {
		kws, err := a.db.ListKeywords(ctx, pc.ID)
		if err != nil {
			return err
		}
		if len(kws) > 0 || len(pc.Keywords) == 0 {
			continue
		}

		var p *store.Profile
		if pc.Weights != nil || pc.TelegramChatID != "" {
			if p, err = a.db.GetProfile(ctx, pc.ID); err != nil {
				return err
			}
			if pc.Weights != nil {
				p.Weights = *pc.Weights
			}
			if pc.TelegramChatID != "" {
				p.TelegramChatID = pc.TelegramChatID
			}
		}
		if err := a.svc.Seed(ctx, pc.ID, pc.Keywords, pc.Whitelist, pc.Blacklist, p); err != nil {
			return fmt.Errorf("profile %s: %w", pc.ID, err)
		}
	}
	return nil
}

// profiles merges configured and stored profile ids.
func (a *app) profiles(ctx context.Context) ([]string, error) {
	stored, err := a.db.ListProfiles(ctx)
	if err != nil {
		return nil, err
	}
	ids := append(a.cfg.ProfileIDs(), stored...)
	slices.Sort(ids)
	return slices.Compact(ids), nil
}

func (a *app) window() source.TimeWindow {
	w, _ := source.ParseTimeWindow(a.cfg.Collect.TimeWindow)
	return w
}

func buildFetcher(cfg *config.Config) source.Fetcher {
	if cfg.Reddit.Format == config.FormatRSS {
		return source.NewRedditRSS(cfg.Reddit.BaseURL, cfg.Reddit.UserAgent, cfg.Reddit.ParseTimeout())
	}
	return source.NewReddit(source.RedditOptions{
		BaseURL:      cfg.Reddit.BaseURL,
		OAuthURL:     cfg.Reddit.OAuthURL,
		TokenURL:     cfg.Reddit.TokenURL,
		ClientID:     cfg.Reddit.ClientID,
		ClientSecret: cfg.Reddit.ClientSecret,
		UserAgent:    cfg.Reddit.UserAgent,
		Timeout:      cfg.Reddit.ParseTimeout(),
	})
}

func collectOptions(cfg *config.Config) collector.Options {
	lo, hi := cfg.Collect.ParseDelays()
	return collector.Options{
		ScopedLimit:   cfg.Collect.ScopedLimit,
		UnscopedLimit: cfg.Collect.UnscopedLimit,
		ExcludeNSFW:   cfg.Collect.ExcludeNSFW,
		MinScore:      cfg.Collect.MinScore,
		MergeKeywords: cfg.Collect.MergeKeywords,
		Pacer:         collector.RandomDelay{Min: lo, Max: hi},
	}
}

func buildAlertManager(cfg *config.Config) *alert.Manager {
	var notifiers []alert.Notifier

	if cfg.Alerts.Telegram.Enabled && cfg.Alerts.Telegram.BotToken != "" {
		tg, err := alert.NewTelegram(cfg.Alerts.Telegram.BotToken, cfg.Alerts.Telegram.ChatID)
		if err != nil {
			fmt.Fprintf(os.Stderr, "telegram disabled: %v\n", err)
		} else {
			notifiers = append(notifiers, tg)
		}
	}
	if cfg.Alerts.Slack.Enabled && cfg.Alerts.Slack.WebhookURL != "" {
		notifiers = append(notifiers, alert.NewSlack(cfg.Alerts.Slack.WebhookURL))
	}
	if cfg.Alerts.Discord.Enabled && cfg.Alerts.Discord.WebhookURL != "" {
		notifiers = append(notifiers, alert.NewDiscord(cfg.Alerts.Discord.WebhookURL))
	}
	if cfg.Alerts.Webhook.Enabled && cfg.Alerts.Webhook.URL != "" {
		notifiers = append(notifiers, alert.NewWebhook(cfg.Alerts.Webhook.URL, cfg.Alerts.Webhook.Secret))
	}

	return alert.NewManager(notifiers)
}

func withApp(fn func(ctx context.Context, a *app) error) error {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	a, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(ctx, a)
}

func writeJSONOut(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func runCollect(window string, jsonOutput bool) error {
	return withApp(func(ctx context.Context, a *app) error {
		w := a.window()
		if window != "" {
			var err error
			if w, err = source.ParseTimeWindow(window); err != nil {
				return err
			}
		}

		fmt.Fprintf(os.Stderr, "collecting for profile %s (window: %s)...\n", a.profile, w)
		report, err := a.svc.Collect(ctx, a.profile, w, func(done, total int, kw string) {
			fmt.Fprintf(os.Stderr, "  [%d/%d] %s\n", done, total, kw)
		})
		if errors.Is(err, monitor.ErrNoKeywords) {
			return fmt.Errorf("%w (add some: redditmon keywords add <keyword>)", err)
		}
		if report == nil {
			return err
		}

		if jsonOutput {
			if jerr := writeJSONOut(report); jerr != nil {
				return jerr
			}
		} else {
			printCollectReport(os.Stdout, report)
		}
		return err
	})
}

type topOptions struct {
	days        int
	limit       int
	subreddit   string
	keyword     string
	sort        string
	minScore    int
	minComments int
	excludeNSFW bool
	jsonOutput  bool
}

func runTop(opts topOptions) error {
	return withApp(func(ctx context.Context, a *app) error {
		q := store.PostQuery{
			Profile:   a.profile,
			Subreddit: opts.subreddit,
			Keyword:   opts.keyword,
			SortBy:    opts.sort,
			Limit:     monitor.HistoryLimit,
		}
		if opts.days > 0 {
			q.Since = time.Now().Add(-time.Duration(opts.days) * 24 * time.Hour)
		}
		posts, err := a.db.ListPosts(ctx, q)
		if err != nil {
			return err
		}
		posts = analytics.Filter(posts, analytics.Criteria{
			MinScore:    opts.minScore,
			MinComments: opts.minComments,
			ExcludeNSFW: opts.excludeNSFW,
		})
		if opts.limit > 0 && len(posts) > opts.limit {
			posts = posts[:opts.limit]
		}

		if opts.jsonOutput {
			return writeJSONOut(posts)
		}
		if len(posts) == 0 {
			fmt.Println("no posts found (try collecting data first: redditmon collect)")
			return nil
		}
		return printPosts(os.Stdout, posts)
	})
}

func runTrending(hours, minScore, limit int) error {
	return withApp(func(ctx context.Context, a *app) error {
		days := (hours + 23) / 24
		posts, err := a.svc.History(ctx, a.profile, days)
		if err != nil {
			return err
		}
		trending := analytics.Rank(analytics.Trending(posts, float64(hours), minScore), limit)
		if len(trending) == 0 {
			fmt.Printf("no posts younger than %dh with score >= %d\n", hours, minScore)
			return nil
		}
		return printPosts(os.Stdout, trending)
	})
}

func runStats(days int, jsonOutput bool) error {
	return withApp(func(ctx context.Context, a *app) error {
		posts, err := a.svc.History(ctx, a.profile, days)
		if err != nil {
			return err
		}
		summary := analytics.Summarize(posts)
		bySub := analytics.BySubreddit(posts)
		byKw := analytics.ByKeyword(posts)

		if jsonOutput {
			return writeJSONOut(map[string]any{
				"summary":      summary,
				"by_subreddit": bySub,
				"by_keyword":   byKw,
			})
		}

		fmt.Printf("profile %s, last %d days\n\n", a.profile, days)
		printSummary(os.Stdout, summary)
		if len(posts) == 0 {
			return nil
		}
		fmt.Println()
		if err := printGroups(os.Stdout, "SUBREDDIT", bySub, true); err != nil {
			return err
		}
		fmt.Println()
		return printGroups(os.Stdout, "KEYWORD", byKw, false)
	})
}

func runDaily(days int, asCSV, asJSON bool) error {
	return withApp(func(ctx context.Context, a *app) error {
		posts, err := a.svc.History(ctx, a.profile, days)
		if err != nil {
			return err
		}
		series := analytics.Daily(posts)
		switch {
		case asCSV:
			return export.WriteDaily(os.Stdout, series)
		case asJSON:
			return writeJSONOut(series)
		}
		return printDaily(os.Stdout, series)
	})
}

func runGrowth(days int) error {
	return withApp(func(ctx context.Context, a *app) error {
		g, err := a.svc.Growth(ctx, a.profile, days)
		if err != nil {
			return err
		}
		printGrowth(os.Stdout, days, g)
		return nil
	})
}

func runExport(days int, out string) error {
	return withApp(func(ctx context.Context, a *app) error {
		posts, err := a.svc.History(ctx, a.profile, days)
		if err != nil {
			return err
		}

		var w io.Writer = os.Stdout
		if out != "" {
			f, err := os.Create(out)
			if err != nil {
				return fmt.Errorf("create %s: %w", out, err)
			}
			defer f.Close()
			w = f
		}
		if err := export.WritePosts(w, posts); err != nil {
			return fmt.Errorf("export: %w", err)
		}
		if out != "" {
			fmt.Fprintf(os.Stderr, "exported %d posts to %s\n", len(posts), out)
		}
		return nil
	})
}

func runImport(path string) error {
	return withApp(func(ctx context.Context, a *app) error {
		f, err := os.Open(path)
		if err != nil {
			return err
		}
		defer f.Close()

		posts, err := export.ReadPosts(f)
		if err != nil {
			return fmt.Errorf("read %s: %w", path, err)
		}
		now := time.Now().UTC()
		for i := range posts {
			posts[i].Profile = a.profile
			posts[i].CollectedAt = now
		}
		if err := a.db.SavePosts(ctx, posts); err != nil {
			return err
		}
		fmt.Fprintf(os.Stderr, "imported %d posts into profile %s\n", len(posts), a.profile)
		return nil
	})
}

func runCleanup(days int) error {
	return withApp(func(ctx context.Context, a *app) error {
		if days <= 0 {
			days = a.cfg.Retention.Days
		}
		n, err := a.svc.Cleanup(ctx, days)
		if err != nil {
			return err
		}
		fmt.Fprintf(os.Stderr, "deleted %d posts older than %d days\n", n, days)
		return nil
	})
}

func runRuns(limit int, jsonOutput bool) error {
	return withApp(func(ctx context.Context, a *app) error {
		runs, err := a.db.ListRuns(ctx, a.profile, limit)
		if err != nil {
			return err
		}
		if jsonOutput {
			return writeJSONOut(runs)
		}
		if len(runs) == 0 {
			fmt.Println("no runs recorded yet")
			return nil
		}
		return printRuns(os.Stdout, runs)
	})
}

func runDigest(days int, dryRun bool, postID string) error {
	return withApp(func(ctx context.Context, a *app) error {
		var (
			n   *alert.Notification
			err error
		)
		if postID != "" {
			n, err = a.svc.PostAlert(ctx, a.profile, postID)
		} else {
			n, err = a.svc.Digest(ctx, a.profile, days)
		}
		if err != nil {
			return err
		}
		if dryRun {
			fmt.Println(alert.Format(n))
			return nil
		}

		mgr := buildAlertManager(a.cfg)
		if !mgr.HasNotifiers() {
			return errors.New("no alert destinations configured (see alerts in config.yaml)")
		}
		if err := mgr.Broadcast(ctx, n); err != nil {
			return fmt.Errorf("send digest: %w", err)
		}
		fmt.Fprintf(os.Stderr, "digest for %s sent to %v\n", a.profile, mgr.Names())
		return nil
	})
}

func runProfiles() error {
	return withApp(func(ctx context.Context, a *app) error {
		ids, err := a.profiles(ctx)
		if err != nil {
			return err
		}
		for _, id := range ids {
			marker := " "
			if id == a.profile {
				marker = "*"
			}
			fmt.Printf("%s %s\n", marker, id)
		}
		return nil
	})
}

func runListKeywords() error {
	return withApp(func(ctx context.Context, a *app) error {
		kws, err := a.db.ListKeywords(ctx, a.profile)
		if err != nil {
			return err
		}
		for _, kw := range kws {
			fmt.Println(kw)
		}
		return nil
	})
}

func runAddKeywords(keywords []string) error {
	return withApp(func(ctx context.Context, a *app) error {
		for _, kw := range keywords {
			if err := a.db.AddKeyword(ctx, a.profile, kw); err != nil {
				return err
			}
		}
		fmt.Fprintf(os.Stderr, "added %d keywords to %s\n", len(keywords), a.profile)
		return nil
	})
}

func runRemoveKeywords(keywords []string) error {
	return withApp(func(ctx context.Context, a *app) error {
		var errs []error
		for _, kw := range keywords {
			if err := a.db.RemoveKeyword(ctx, a.profile, kw); err != nil {
				errs = append(errs, err)
			}
		}
		return errors.Join(errs...)
	})
}

func runListSubreddits(list string) error {
	lt, err := store.ParseListType(list)
	if err != nil {
		return err
	}
	return withApp(func(ctx context.Context, a *app) error {
		subs, err := a.db.ListSubreddits(ctx, a.profile, lt)
		if err != nil {
			return err
		}
		for _, s := range subs {
			fmt.Printf("r/%s\n", s)
		}
		return nil
	})
}

func runAddSubreddits(list string, names []string) error {
	lt, err := store.ParseListType(list)
	if err != nil {
		return err
	}
	return withApp(func(ctx context.Context, a *app) error {
		for _, name := range names {
			if err := a.db.AddSubreddit(ctx, a.profile, name, lt); err != nil {
				return err
			}
		}
		fmt.Fprintf(os.Stderr, "added %d subreddits to the %s of %s\n", len(names), lt, a.profile)
		return nil
	})
}

func runRemoveSubreddits(list string, names []string) error {
	lt, err := store.ParseListType(list)
	if err != nil {
		return err
	}
	return withApp(func(ctx context.Context, a *app) error {
		var errs []error
		for _, name := range names {
			if err := a.db.RemoveSubreddit(ctx, a.profile, name, lt); err != nil {
				errs = append(errs, err)
			}
		}
		return errors.Join(errs...)
	})
}

func runShowWeights() error {
	return withApp(func(ctx context.Context, a *app) error {
		p, err := a.db.GetProfile(ctx, a.profile)
		if err != nil {
			return err
		}
		printProfile(os.Stdout, p)
		return nil
	})
}

func runSetWeights(cmd *cobra.Command) error {
	return withApp(func(ctx context.Context, a *app) error {
		p, err := a.db.GetProfile(ctx, a.profile)
		if err != nil {
			return err
		}
		flags := cmd.Flags()
		for name, dst := range map[string]*float64{
			"upvotes":      &p.Weights.Upvotes,
			"comments":     &p.Weights.Comments,
			"awards":       &p.Weights.Awards,
			"upvote-ratio": &p.Weights.UpvoteRatio,
		} {
			if flags.Changed(name) {
				if *dst, err = flags.GetFloat64(name); err != nil {
					return err
				}
			}
		}
		if flags.Changed("telegram-chat") {
			p.TelegramChatID, _ = flags.GetString("telegram-chat")
		}
		if err := a.db.UpsertProfile(ctx, p); err != nil {
			return err
		}
		printProfile(os.Stdout, p)
		return nil
	})
}

func runServe(port int) error {
	return withApp(func(ctx context.Context, a *app) error {
		setupLogging(true)
		srv := server.New(a.svc, a.serverOptions(port))
		return srv.ListenAndServe(ctx)
	})
}

func runDaemon(port int) error {
	return withApp(func(ctx context.Context, a *app) error {
		setupLogging(true)

		sched := scheduler.New(a.svc, buildAlertManager(a.cfg), scheduler.Options{
			Window:          a.window(),
			CollectInterval: a.cfg.Schedule.ParseCollectInterval(),
			CleanupInterval: a.cfg.Schedule.ParseCleanupInterval(),
			DigestInterval:  a.cfg.Schedule.ParseDigestInterval(),
			RetentionDays:   a.cfg.Retention.Days,
			Profiles:        a.profiles,
		})

		// Start scheduler in background.
		go func() {
			if err := sched.Run(ctx); err != nil && ctx.Err() == nil {
				slog.Error("scheduler error", "error", err)
			}
		}()

		srv := server.New(a.svc, a.serverOptions(port))
		err := srv.ListenAndServe(ctx)
		fmt.Fprintln(os.Stderr, "\nshutting down...")
		return err
	})
}

func (a *app) serverOptions(port int) server.Options {
	if port == 0 {
		port = a.cfg.Server.Port
	}
	return server.Options{
		Port:        port,
		CORSOrigins: a.cfg.Server.CORSOrigins,
		Window:      a.window(),
	}
}
