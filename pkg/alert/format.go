package alert

import (
	"fmt"
	"html"
	"strings"

	"github.com/elonfeng/redditmon/pkg/analytics"
	"github.com/elonfeng/redditmon/pkg/source"
)

// Format renders n for Telegram: a post alert when n carries one post and
// no summary, a digest otherwise.
func Format(n *Notification) string {
	if n.Summary == nil && len(n.Posts) == 1 {
		return FormatPost(n.Posts[0])
	}
	return FormatDigest(n)
}

// FormatPost renders a single post as a Telegram HTML message.
func FormatPost(p source.Post) string {
	var b strings.Builder
	b.WriteString("🔥 <b>New post detected</b>\n\n")
	fmt.Fprintf(&b, "📝 <b>Title:</b> %s\n", esc(truncate(p.Title, 100)))
	fmt.Fprintf(&b, "👤 <b>Author:</b> u/%s\n", esc(p.Author))
	fmt.Fprintf(&b, "🏠 <b>Subreddit:</b> r/%s\n", esc(p.Subreddit))
	fmt.Fprintf(&b, "⬆️ <b>Score:</b> %d | 💬 <b>Comments:</b> %d\n", p.Score, p.NumComments)
	fmt.Fprintf(&b, "📊 <b>Engagement:</b> %.2f\n\n", p.EngagementScore)
	fmt.Fprintf(&b, "🔗 <a href=\"%s\">View post</a>", esc(p.URL))
	return b.String()
}

// FormatDigest renders the notification's summary and top posts as a
// Telegram HTML message.
func FormatDigest(n *Notification) string {
	var b strings.Builder
	fmt.Fprintf(&b, "📊 <b>%s</b>\n\n", esc(n.Title))

	if n.Text != "" {
		b.WriteString(esc(n.Text))
		b.WriteString("\n\n")
	}

	if n.Summary != nil {
		s := n.Summary
		b.WriteString("📈 <b>Statistics:</b>\n")
		fmt.Fprintf(&b, "• Posts found: %d\n", s.TotalPosts)
		fmt.Fprintf(&b, "• Average score: %.1f\n", s.AvgScore)
		fmt.Fprintf(&b, "• Average engagement: %.2f\n", s.AvgEngagement)
		fmt.Fprintf(&b, "• Active subreddits: %d\n\n", s.TotalSubreddits)
	}

	top := n.Top()
	if len(top) > 0 {
		fmt.Fprintf(&b, "🏆 <b>Top %d posts:</b>\n\n", len(top))
		for i, p := range top {
			fmt.Fprintf(&b, "%d. <b>%s</b>\n", i+1, esc(truncate(p.Title, 50)))
			fmt.Fprintf(&b, "   r/%s • Score: %d • <a href=\"%s\">Link</a>\n\n", esc(p.Subreddit), p.Score, esc(p.URL))
		}
	}
	return strings.TrimRight(b.String(), "\n")
}

// plainSummary is the one-line summary used by webhook destinations.
func plainSummary(s *analytics.Summary) string {
	if s == nil {
		return ""
	}
	return fmt.Sprintf("%d posts | avg score %.1f | avg engagement %.2f | top r/%s",
		s.TotalPosts, s.AvgScore, s.AvgEngagement, s.TopSubreddit)
}

// body joins the free text and summary line of a notification.
func body(n *Notification) string {
	parts := make([]string, 0, 2)
	if n.Text != "" {
		parts = append(parts, n.Text)
	}
	if line := plainSummary(n.Summary); line != "" {
		parts = append(parts, line)
	}
	return strings.Join(parts, "\n")
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}

func esc(s string) string { return html.EscapeString(s) }
