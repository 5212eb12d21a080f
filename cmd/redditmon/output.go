package main

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/elonfeng/redditmon/internal/monitor"
	"github.com/elonfeng/redditmon/internal/store"
	"github.com/elonfeng/redditmon/pkg/analytics"
	"github.com/elonfeng/redditmon/pkg/source"
)

const titleWidth = 60

func printCollectReport(w io.Writer, r *monitor.Report) {
	res := r.Result
	fmt.Fprintf(w, "run %s (%s, %s)\n", r.Run.ID, r.Run.Profile, r.Run.Window)
	fmt.Fprintf(w, "  keywords:    %d\n", r.Run.Keywords)
	fmt.Fprintf(w, "  requests:    %d (%d failed)\n", res.Fetches, res.Failed)
	fmt.Fprintf(w, "  fetched:     %s\n", humanize.Comma(int64(res.Fetched)))
	fmt.Fprintf(w, "  dropped:     %d malformed, %d blacklisted, %d duplicates, %d filtered\n",
		res.Skipped, res.Blacklisted, res.Duplicates, res.Filtered)
	fmt.Fprintf(w, "  kept:        %d\n", len(res.Posts))
	if !r.Run.Saved {
		fmt.Fprintln(w, "  not saved, see the error below")
	}

	if res.Unreachable {
		fmt.Fprintln(w, "\nwarning: every request failed, Reddit looks unreachable or is blocking this client")
	}
	if len(res.Diagnostics) > 0 {
		fmt.Fprintln(w, "\ndiagnostics:")
		for _, d := range res.Diagnostics {
			where := d.Keyword
			if d.Subreddit != "" {
				where += " in r/" + d.Subreddit
			}
			line := fmt.Sprintf("  - %s: %s", where, d.Message)
			if d.RateLimited && d.Backoff > 0 {
				line += fmt.Sprintf(" (retry after %s)", d.Backoff)
			}
			fmt.Fprintln(w, line)
		}
	}
	if len(res.Posts) > 0 {
		fmt.Fprintln(w)
		printPosts(w, analytics.Rank(res.Posts, 10))
	}
}

func printPosts(w io.Writer, posts []source.Post) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ENGAGEMENT\tSCORE\tCOMMENTS\tSUBREDDIT\tPOSTED\tTITLE")
	for _, p := range posts {
		fmt.Fprintf(tw, "%.1f\t%s\t%s\tr/%s\t%s\t%s\n",
			p.EngagementScore,
			humanize.Comma(int64(p.Score)),
			humanize.Comma(int64(p.NumComments)),
			p.Subreddit,
			humanize.Time(p.PostDate),
			shorten(p.Title, titleWidth),
		)
	}
	return tw.Flush()
}

func printSummary(w io.Writer, s analytics.Summary) {
	fmt.Fprintf(w, "posts:           %s\n", humanize.Comma(int64(s.TotalPosts)))
	fmt.Fprintf(w, "avg score:       %.1f\n", s.AvgScore)
	fmt.Fprintf(w, "avg comments:    %.1f\n", s.AvgComments)
	fmt.Fprintf(w, "avg engagement:  %.1f\n", s.AvgEngagement)
	fmt.Fprintf(w, "top subreddit:   %s\n", s.TopSubreddit)
	fmt.Fprintf(w, "subreddits:      %d\n", s.TotalSubreddits)
	fmt.Fprintf(w, "awards:          %s\n", humanize.Comma(int64(s.TotalAwards)))
}

func printGroups(w io.Writer, label string, groups []analytics.GroupStats, withComments bool) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	if withComments {
		fmt.Fprintf(tw, "%s\tPOSTS\tAVG SCORE\tAVG COMMENTS\tAVG ENGAGEMENT\n", label)
	} else {
		fmt.Fprintf(tw, "%s\tPOSTS\tAVG SCORE\tAVG ENGAGEMENT\n", label)
	}
	for _, g := range groups {
		if withComments {
			fmt.Fprintf(tw, "%s\t%d\t%.1f\t%.1f\t%.1f\n", g.Name, g.Posts, g.AvgScore, g.AvgComments, g.AvgEngagement)
		} else {
			fmt.Fprintf(tw, "%s\t%d\t%.1f\t%.1f\n", g.Name, g.Posts, g.AvgScore, g.AvgEngagement)
		}
	}
	return tw.Flush()
}

func printDaily(w io.Writer, series []analytics.DailyStats) error {
	if len(series) == 0 {
		fmt.Fprintln(w, "no posts in range")
		return nil
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "DATE\tPOSTS\tAVG SCORE\tAVG ENGAGEMENT\t")
	for _, d := range series {
		fmt.Fprintf(tw, "%s\t%d\t%.1f\t%.1f\t%s\n", d.Date.Format(time.DateOnly), d.Posts, d.AvgScore, d.AvgEngagement, bar(d.Posts))
	}
	return tw.Flush()
}

func printGrowth(w io.Writer, days int, g analytics.Growth) {
	half := days / 2
	fmt.Fprintf(w, "last %d days vs the %d days before\n\n", half, days-half)
	fmt.Fprintf(w, "posts:       %d -> %d (%+.1f%%)\n", g.PostsPrevious, g.PostsCurrent, g.PostsGrowth)
	fmt.Fprintf(w, "engagement:  %.1f -> %.1f (%+.1f%%)\n", g.EngagementPrevious, g.EngagementCurrent, g.EngagementGrowth)
}

func printRuns(w io.Writer, runs []store.Run) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "STARTED\tWINDOW\tKEYWORDS\tREQUESTS\tFAILED\tPOSTS\tSTATUS\tTOOK")
	for _, r := range runs {
		status := "saved"
		switch {
		case r.Unreachable:
			status = "unreachable"
		case !r.Saved:
			status = "failed"
		}
		fmt.Fprintf(tw, "%s\t%s\t%d\t%d\t%d\t%d\t%s\t%s\n",
			humanize.Time(r.StartedAt),
			r.Window,
			r.Keywords,
			r.Fetches,
			r.Failed,
			r.Posts,
			status,
			r.FinishedAt.Sub(r.StartedAt).Round(time.Second),
		)
	}
	return tw.Flush()
}

func printProfile(w io.Writer, p *store.Profile) {
	fmt.Fprintf(w, "profile:       %s\n", p.ID)
	fmt.Fprintf(w, "upvotes:       %g\n", p.Weights.Upvotes)
	fmt.Fprintf(w, "comments:      %g\n", p.Weights.Comments)
	fmt.Fprintf(w, "awards:        %g\n", p.Weights.Awards)
	fmt.Fprintf(w, "upvote ratio:  %g\n", p.Weights.UpvoteRatio)
	if p.TelegramChatID != "" {
		fmt.Fprintf(w, "telegram chat: %s\n", p.TelegramChatID)
	}
}

func shorten(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-3]) + "..."
}

// bar draws a count as a row of blocks, capped at 40.
func bar(n int) string {
	return strings.Repeat("█", min(n, 40))
}
