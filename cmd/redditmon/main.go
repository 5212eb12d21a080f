package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	cfgFile string
	profile string
	verbose bool
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "redditmon",
		Short:         "Monitor Reddit for keywords and rank posts by engagement",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			setupLogging(verbose)
		},
	}

	root.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ./config.yaml)")
	root.PersistentFlags().StringVarP(&profile, "profile", "p", "", "profile id (default: $REDDITMON_PROFILE or \"default\")")
	root.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "log progress details")

	root.AddCommand(collectCmd())
	root.AddCommand(statsCmd())
	root.AddCommand(topCmd())
	root.AddCommand(trendingCmd())
	root.AddCommand(dailyCmd())
	root.AddCommand(growthCmd())
	root.AddCommand(exportCmd())
	root.AddCommand(importCmd())
	root.AddCommand(cleanupCmd())
	root.AddCommand(runsCmd())
	root.AddCommand(digestCmd())
	root.AddCommand(profilesCmd())
	root.AddCommand(keywordsCmd())
	root.AddCommand(subredditsCmd())
	root.AddCommand(weightsCmd())
	root.AddCommand(serveCmd())
	root.AddCommand(runCmd())

	return root
}

func collectCmd() *cobra.Command {
	var (
		window     string
		jsonOutput bool
	)

	cmd := &cobra.Command{
		Use:   "collect",
		Short: "Search Reddit for the profile's keywords and store the results",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCollect(window, jsonOutput)
		},
	}

	cmd.Flags().StringVar(&window, "window", "", "time window: hour, day, week, month, year, all (default: from config)")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "output as JSON")
	return cmd
}

func statsCmd() *cobra.Command {
	var (
		days       int
		jsonOutput bool
	)

	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show summary statistics and per-subreddit and per-keyword breakdowns",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStats(days, jsonOutput)
		},
	}

	cmd.Flags().IntVar(&days, "days", 7, "history window in days")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "output as JSON")
	return cmd
}

func topCmd() *cobra.Command {
	var opts topOptions

	cmd := &cobra.Command{
		Use:   "top",
		Short: "List stored posts ranked by engagement",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTop(opts)
		},
	}

	cmd.Flags().IntVar(&opts.days, "days", 7, "history window in days (0 = all)")
	cmd.Flags().IntVar(&opts.limit, "limit", 20, "max posts to show")
	cmd.Flags().StringVar(&opts.subreddit, "subreddit", "", "only posts from this subreddit")
	cmd.Flags().StringVar(&opts.keyword, "keyword", "", "only posts matched by this keyword")
	cmd.Flags().StringVar(&opts.sort, "sort", "engagement", "sort by: engagement, score, comments, awards, date")
	cmd.Flags().IntVar(&opts.minScore, "min-score", 0, "minimum upvote score")
	cmd.Flags().IntVar(&opts.minComments, "min-comments", 0, "minimum comment count")
	cmd.Flags().BoolVar(&opts.excludeNSFW, "exclude-nsfw", false, "hide NSFW posts")
	cmd.Flags().BoolVar(&opts.jsonOutput, "json", false, "output as JSON")
	return cmd
}

func trendingCmd() *cobra.Command {
	var (
		hours    int
		minScore int
		limit    int
	)

	cmd := &cobra.Command{
		Use:   "trending",
		Short: "Show recent posts with high engagement",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTrending(hours, minScore, limit)
		},
	}

	cmd.Flags().IntVar(&hours, "hours", 24, "maximum post age in hours")
	cmd.Flags().IntVar(&minScore, "min-score", 10, "minimum upvote score")
	cmd.Flags().IntVar(&limit, "limit", 10, "max posts to show")
	return cmd
}

func dailyCmd() *cobra.Command {
	var (
		days   int
		asCSV  bool
		asJSON bool
	)

	cmd := &cobra.Command{
		Use:   "daily",
		Short: "Show the daily post count and engagement series",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDaily(days, asCSV, asJSON)
		},
	}

	cmd.Flags().IntVar(&days, "days", 30, "history window in days")
	cmd.Flags().BoolVar(&asCSV, "csv", false, "output as CSV")
	cmd.Flags().BoolVar(&asJSON, "json", false, "output as JSON")
	return cmd
}

func growthCmd() *cobra.Command {
	var days int

	cmd := &cobra.Command{
		Use:   "growth",
		Short: "Compare the newer half of the history window against the older half",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runGrowth(days)
		},
	}

	cmd.Flags().IntVar(&days, "days", 14, "history window in days")
	return cmd
}

func exportCmd() *cobra.Command {
	var (
		days int
		out  string
	)

	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export stored posts as CSV",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runExport(days, out)
		},
	}

	cmd.Flags().IntVar(&days, "days", 30, "history window in days (0 = all)")
	cmd.Flags().StringVarP(&out, "out", "o", "", "output file (default: stdout)")
	return cmd
}

func importCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "import <file.csv>",
		Short: "Load posts from a CSV export into the selected profile",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runImport(args[0])
		},
	}
}

func cleanupCmd() *cobra.Command {
	var days int

	cmd := &cobra.Command{
		Use:   "cleanup",
		Short: "Delete posts older than the retention period",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCleanup(days)
		},
	}

	cmd.Flags().IntVar(&days, "days", 0, "retention in days (default: from config)")
	return cmd
}

func runsCmd() *cobra.Command {
	var (
		limit      int
		jsonOutput bool
	)

	cmd := &cobra.Command{
		Use:   "runs",
		Short: "Show recent collection runs",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRuns(limit, jsonOutput)
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 10, "max runs to show")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "output as JSON")
	return cmd
}

func digestCmd() *cobra.Command {
	var (
		days   int
		dryRun bool
		postID string
	)

	cmd := &cobra.Command{
		Use:   "digest",
		Short: "Send the profile's report to the configured alert destinations",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDigest(days, dryRun, postID)
		},
	}

	cmd.Flags().IntVar(&days, "days", 7, "history window in days")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "print the message instead of sending it")
	cmd.Flags().StringVar(&postID, "post", "", "send an alert for this stored post instead of the report")
	return cmd
}

func profilesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "profiles",
		Short: "List known profiles",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runProfiles()
		},
	}
}

func keywordsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "keywords",
		Short: "Manage the profile's search keywords",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "list",
			Short: "List keywords",
			RunE: func(cmd *cobra.Command, args []string) error {
				return runListKeywords()
			},
		},
		&cobra.Command{
			Use:   "add <keyword>...",
			Short: "Add keywords",
			Args:  cobra.MinimumNArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return runAddKeywords(args)
			},
		},
		&cobra.Command{
			Use:     "rm <keyword>...",
			Aliases: []string{"remove"},
			Short:   "Remove keywords",
			Args:    cobra.MinimumNArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return runRemoveKeywords(args)
			},
		},
	)
	return cmd
}

func subredditsCmd() *cobra.Command {
	var list string

	cmd := &cobra.Command{
		Use:   "subreddits",
		Short: "Manage the profile's subreddit whitelist and blacklist",
	}
	cmd.PersistentFlags().StringVar(&list, "list", "whitelist", "whitelist or blacklist")

	cmd.AddCommand(
		&cobra.Command{
			Use:   "list",
			Short: "List subreddits",
			RunE: func(cmd *cobra.Command, args []string) error {
				return runListSubreddits(list)
			},
		},
		&cobra.Command{
			Use:   "add <subreddit>...",
			Short: "Add subreddits",
			Args:  cobra.MinimumNArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return runAddSubreddits(list, args)
			},
		},
		&cobra.Command{
			Use:     "rm <subreddit>...",
			Aliases: []string{"remove"},
			Short:   "Remove subreddits",
			Args:    cobra.MinimumNArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return runRemoveSubreddits(list, args)
			},
		},
	)
	return cmd
}

func weightsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "weights",
		Short: "Show or change the profile's engagement weights",
	}

	show := &cobra.Command{
		Use:   "show",
		Short: "Show weights",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runShowWeights()
		},
	}

	set := &cobra.Command{
		Use:   "set",
		Short: "Change weights; unset flags keep their current value",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSetWeights(cmd)
		},
	}
	set.Flags().Float64("upvotes", 0, "weight per upvote")
	set.Flags().Float64("comments", 0, "weight per comment")
	set.Flags().Float64("awards", 0, "weight per award")
	set.Flags().Float64("upvote-ratio", 0, "weight of the upvote ratio")
	set.Flags().String("telegram-chat", "", "telegram chat id for digests")

	cmd.AddCommand(show, set)
	return cmd
}

func serveCmd() *cobra.Command {
	var port int

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(port)
		},
	}

	cmd.Flags().IntVar(&port, "port", 0, "server port (default: from config)")
	return cmd
}

func runCmd() *cobra.Command {
	var port int

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Start daemon with scheduler and HTTP server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDaemon(port)
		},
	}

	cmd.Flags().IntVar(&port, "port", 0, "server port (default: from config)")
	return cmd
}
