package alert

import (
	"context"
	"errors"
	"fmt"

	"github.com/elonfeng/redditmon/pkg/analytics"
	"github.com/elonfeng/redditmon/pkg/source"
)

// DigestSize is the number of posts listed in a digest.
const DigestSize = 5

// Notification is the data sent to alert destinations.
type Notification struct {
	// Recipient addresses the message where the destination supports it
	// (a Telegram chat id). Empty means the notifier's default.
	Recipient string             `json:"recipient,omitempty"`
	Profile   string             `json:"profile,omitempty"`
	Title     string             `json:"title"`
	Text      string             `json:"text,omitempty"`
	Summary   *analytics.Summary `json:"summary,omitempty"`
	Posts     []source.Post      `json:"posts,omitempty"`
}

// Top returns the highest-engagement posts of the notification.
func (n *Notification) Top() []source.Post {
	return analytics.Rank(n.Posts, DigestSize)
}

// Notifier delivers alerts to a specific destination.
type Notifier interface {
	Name() string
	Send(ctx context.Context, n *Notification) error
}

// Manager broadcasts notifications to all registered notifiers.
type Manager struct {
	notifiers []Notifier
}

// NewManager creates a new alert manager.
func NewManager(notifiers []Notifier) *Manager {
	return &Manager{notifiers: notifiers}
}

// HasNotifiers returns true if at least one notifier is configured.
func (m *Manager) HasNotifiers() bool {
	return len(m.notifiers) > 0
}

// Names lists the configured notifiers.
func (m *Manager) Names() []string {
	names := make([]string, 0, len(m.notifiers))
	for _, n := range m.notifiers {
		names = append(names, n.Name())
	}
	return names
}

// Broadcast sends a notification to all registered notifiers.
func (m *Manager) Broadcast(ctx context.Context, n *Notification) error {
	var errs []error
	for _, notifier := range m.notifiers {
		if err := notifier.Send(ctx, n); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", notifier.Name(), err))
		}
	}
	return errors.Join(errs...)
}

// PostAlert builds a notification about a single post.
func PostAlert(profile string, p source.Post) *Notification {
	return &Notification{
		Profile: profile,
		Title:   "New post in r/" + p.Subreddit + ": " + truncate(p.Title, 80),
		Posts:   []source.Post{p},
	}
}

// Digest builds the periodic report notification for a profile.
func Digest(profile string, posts []source.Post) *Notification {
	summary := analytics.Summarize(posts)
	return &Notification{
		Profile: profile,
		Title:   "Reddit Monitor report: " + profile,
		Summary: &summary,
		Posts:   posts,
	}
}
