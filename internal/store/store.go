package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/elonfeng/redditmon/pkg/collector"
	"github.com/elonfeng/redditmon/pkg/engagement"
	"github.com/elonfeng/redditmon/pkg/source"
	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"
)

// ErrNotFound is returned when a keyed record does not exist.
var ErrNotFound = errors.New("not found")

// ListType selects the subreddit whitelist or blacklist.
type ListType string

const (
	Whitelist ListType = "whitelist"
	Blacklist ListType = "blacklist"
)

// ParseListType validates a list type name.
func ParseListType(s string) (ListType, error) {
	switch ListType(strings.ToLower(strings.TrimSpace(s))) {
	case Whitelist:
		return Whitelist, nil
	case Blacklist:
		return Blacklist, nil
	}
	return "", fmt.Errorf("unknown list type %q (want whitelist or blacklist)", s)
}

// Profile is the per-profile configuration.
type Profile struct {
	ID             string             `json:"profile_id"`
	Weights        engagement.Weights `json:"engagement_weights"`
	TelegramChatID string             `json:"telegram_chat_id"`
	UpdatedAt      time.Time          `json:"updated_at"`
}

type profileRow struct {
	ID             string    `db:"profile_id"`
	Upvotes        float64   `db:"w_upvotes"`
	Comments       float64   `db:"w_comments"`
	Awards         float64   `db:"w_awards"`
	UpvoteRatio    float64   `db:"w_upvote_ratio"`
	TelegramChatID string    `db:"telegram_chat_id"`
	UpdatedAt      time.Time `db:"updated_at"`
}

// Run records one collection run.
type Run struct {
	ID              string                 `db:"id" json:"id"`
	Profile         string                 `db:"profile_id" json:"profile_id"`
	Window          string                 `db:"time_window" json:"time_window"`
	StartedAt       time.Time              `db:"started_at" json:"started_at"`
	FinishedAt      time.Time              `db:"finished_at" json:"finished_at"`
	Keywords        int                    `db:"keywords" json:"keywords"`
	Fetches         int                    `db:"fetches" json:"fetches"`
	Failed          int                    `db:"failed" json:"failed"`
	Posts           int                    `db:"posts" json:"posts"`
	Unreachable     bool                   `db:"unreachable" json:"unreachable"`
	Saved           bool                   `db:"saved" json:"saved"`
	DiagnosticsJSON string                 `db:"diagnostics" json:"-"`
	Diagnostics     []collector.Diagnostic `db:"-" json:"diagnostics"`
}

// PostQuery controls post listing. Profile is required.
type PostQuery struct {
	Profile   string
	Since     time.Time // post_date >= Since
	Before    time.Time // post_date < Before
	Subreddit string    // exact, case-insensitive
	Keyword   string    // substring of matched_keywords
	SortBy    string    // see SortFields
	Limit     int
}

// SortFields are the accepted PostQuery.SortBy values. All sort descending.
var SortFields = map[string]string{
	"":                 "engagement_score",
	"engagement":       "engagement_score",
	"engagement_score": "engagement_score",
	"score":            "score",
	"comments":         "num_comments",
	"num_comments":     "num_comments",
	"awards":           "awards",
	"date":             "post_date",
	"post_date":        "post_date",
}

// Store is the persistence interface. Every operation is profile-scoped.
type Store interface {
	SavePosts(ctx context.Context, posts []source.Post) error
	ListPosts(ctx context.Context, q PostQuery) ([]source.Post, error)
	DeleteOlderThan(ctx context.Context, profile string, days int) (int64, error)

	GetProfile(ctx context.Context, id string) (*Profile, error)
	UpsertProfile(ctx context.Context, p *Profile) error
	ListProfiles(ctx context.Context) ([]string, error)

	AddKeyword(ctx context.Context, profile, keyword string) error
	RemoveKeyword(ctx context.Context, profile, keyword string) error
	ListKeywords(ctx context.Context, profile string) ([]string, error)

	AddSubreddit(ctx context.Context, profile, name string, list ListType) error
	RemoveSubreddit(ctx context.Context, profile, name string, list ListType) error
	ListSubreddits(ctx context.Context, profile string, list ListType) ([]string, error)

	SaveRun(ctx context.Context, r *Run) error
	ListRuns(ctx context.Context, profile string, limit int) ([]Run, error)

	Close() error
}

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db *sqlx.DB
}

// New opens a SQLite database and runs migrations.
func New(path string) (*SQLiteStore, error) {
	db, err := sqlx.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

const upsertPost = `
	INSERT INTO posts (profile_id, post_id, title, content, author, subreddit, url, post_date,
		score, upvote_ratio, num_comments, awards, is_nsfw, matched_keywords, age_hours,
		engagement_score, collected_at)
	VALUES (:profile_id, :post_id, :title, :content, :author, :subreddit, :url, :post_date,
		:score, :upvote_ratio, :num_comments, :awards, :is_nsfw, :matched_keywords, :age_hours,
		:engagement_score, :collected_at)
	ON CONFLICT(profile_id, post_id) DO UPDATE SET
		title = excluded.title,
		content = excluded.content,
		author = excluded.author,
		subreddit = excluded.subreddit,
		url = excluded.url,
		post_date = excluded.post_date,
		score = excluded.score,
		upvote_ratio = excluded.upvote_ratio,
		num_comments = excluded.num_comments,
		awards = excluded.awards,
		is_nsfw = excluded.is_nsfw,
		matched_keywords = excluded.matched_keywords,
		age_hours = excluded.age_hours,
		engagement_score = excluded.engagement_score,
		collected_at = excluded.collected_at
`

// SavePosts upserts all posts in one transaction. Either every post is
// written or none is.
func (s *SQLiteStore) SavePosts(ctx context.Context, posts []source.Post) error {
	if len(posts) == 0 {
		return nil
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin save posts: %w", err)
	}
	defer tx.Rollback()

	for i := range posts {
		p := posts[i]
		if p.Profile == "" {
			return fmt.Errorf("save post %s: missing profile", p.ID)
		}
		p.PostDate = p.PostDate.UTC()
		p.CollectedAt = p.CollectedAt.UTC()
		if _, err := tx.NamedExecContext(ctx, upsertPost, p); err != nil {
			return fmt.Errorf("upsert post %s: %w", p.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit save posts: %w", err)
	}
	return nil
}

const postColumns = `profile_id, post_id, title, content, author, subreddit, url, post_date,
	score, upvote_ratio, num_comments, awards, is_nsfw, matched_keywords, age_hours,
	engagement_score, collected_at`

func (s *SQLiteStore) ListPosts(ctx context.Context, q PostQuery) ([]source.Post, error) {
	if q.Profile == "" {
		return nil, errors.New("list posts: missing profile")
	}
	column, ok := SortFields[q.SortBy]
	if !ok {
		return nil, fmt.Errorf("list posts: unknown sort field %q", q.SortBy)
	}

	query := "SELECT " + postColumns + " FROM posts WHERE profile_id = ?"
	args := []any{q.Profile}

	if !q.Since.IsZero() {
		query += " AND post_date >= ?"
		args = append(args, q.Since.UTC())
	}
	if !q.Before.IsZero() {
		query += " AND post_date < ?"
		args = append(args, q.Before.UTC())
	}
	if q.Subreddit != "" {
		query += " AND subreddit = ? COLLATE NOCASE"
		args = append(args, source.NormalizeName(q.Subreddit))
	}
	if q.Keyword != "" {
		query += ` AND matched_keywords LIKE ? ESCAPE '\'`
		args = append(args, "%"+escapeLike(q.Keyword)+"%")
	}

	query += " ORDER BY " + column + " DESC, post_id"

	limit := q.Limit
	if limit <= 0 {
		limit = 100
	}
	query += " LIMIT ?"
	args = append(args, limit)

	posts := []source.Post{}
	if err := s.db.SelectContext(ctx, &posts, query, args...); err != nil {
		return nil, fmt.Errorf("list posts: %w", err)
	}
	return posts, nil
}

// DeleteOlderThan removes posts created more than days ago. An empty
// profile applies the retention to every profile.
func (s *SQLiteStore) DeleteOlderThan(ctx context.Context, profile string, days int) (int64, error) {
	if days <= 0 {
		return 0, fmt.Errorf("delete older than %d days: days must be positive", days)
	}
	cutoff := time.Now().UTC().Add(-time.Duration(days) * 24 * time.Hour)

	query := "DELETE FROM posts WHERE post_date < ?"
	args := []any{cutoff}
	if profile != "" {
		query += " AND profile_id = ?"
		args = append(args, profile)
	}

	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("delete old posts: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// GetProfile returns the stored profile, or one with default weights when
// nothing has been stored yet.
func (s *SQLiteStore) GetProfile(ctx context.Context, id string) (*Profile, error) {
	var row profileRow
	err := s.db.GetContext(ctx, &row, `
		SELECT profile_id, w_upvotes, w_comments, w_awards, w_upvote_ratio, telegram_chat_id, updated_at
		FROM profiles WHERE profile_id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return &Profile{ID: id, Weights: engagement.DefaultWeights()}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get profile %s: %w", id, err)
	}
	return &Profile{
		ID: row.ID,
		Weights: engagement.Weights{
			Upvotes:     row.Upvotes,
			Comments:    row.Comments,
			Awards:      row.Awards,
			UpvoteRatio: row.UpvoteRatio,
		},
		TelegramChatID: row.TelegramChatID,
		UpdatedAt:      row.UpdatedAt,
	}, nil
}

func (s *SQLiteStore) UpsertProfile(ctx context.Context, p *Profile) error {
	if err := p.Weights.Validate(); err != nil {
		return fmt.Errorf("upsert profile %s: %w", p.ID, err)
	}
	p.UpdatedAt = time.Now().UTC()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO profiles (profile_id, w_upvotes, w_comments, w_awards, w_upvote_ratio, telegram_chat_id, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(profile_id) DO UPDATE SET
			w_upvotes = excluded.w_upvotes,
			w_comments = excluded.w_comments,
			w_awards = excluded.w_awards,
			w_upvote_ratio = excluded.w_upvote_ratio,
			telegram_chat_id = excluded.telegram_chat_id,
			updated_at = excluded.updated_at
	`, p.ID, p.Weights.Upvotes, p.Weights.Comments, p.Weights.Awards, p.Weights.UpvoteRatio,
		p.TelegramChatID, p.UpdatedAt)
	if err != nil {
		return fmt.Errorf("upsert profile %s: %w", p.ID, err)
	}
	return nil
}

// ListProfiles returns every profile that has configuration or keywords.
func (s *SQLiteStore) ListProfiles(ctx context.Context) ([]string, error) {
	ids := []string{}
	err := s.db.SelectContext(ctx, &ids, `
		SELECT profile_id FROM profiles
		UNION
		SELECT profile_id FROM keywords
		ORDER BY 1`)
	if err != nil {
		return nil, fmt.Errorf("list profiles: %w", err)
	}
	return ids, nil
}

func (s *SQLiteStore) AddKeyword(ctx context.Context, profile, keyword string) error {
	kw := source.NormalizeName(keyword)
	if kw == "" {
		return errors.New("add keyword: empty keyword")
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO keywords (profile_id, keyword, active, created_at) VALUES (?, ?, 1, ?)
		ON CONFLICT(profile_id, keyword) DO UPDATE SET active = 1
	`, profile, kw, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("add keyword %q: %w", kw, err)
	}
	return nil
}

func (s *SQLiteStore) RemoveKeyword(ctx context.Context, profile, keyword string) error {
	res, err := s.db.ExecContext(ctx, "DELETE FROM keywords WHERE profile_id = ? AND keyword = ?",
		profile, source.NormalizeName(keyword))
	if err != nil {
		return fmt.Errorf("remove keyword %q: %w", keyword, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("remove keyword %q: %w", keyword, ErrNotFound)
	}
	return nil
}

func (s *SQLiteStore) ListKeywords(ctx context.Context, profile string) ([]string, error) {
	kws := []string{}
	err := s.db.SelectContext(ctx, &kws,
		"SELECT keyword FROM keywords WHERE profile_id = ? AND active = 1 ORDER BY created_at, keyword", profile)
	if err != nil {
		return nil, fmt.Errorf("list keywords: %w", err)
	}
	return kws, nil
}

func (s *SQLiteStore) AddSubreddit(ctx context.Context, profile, name string, list ListType) error {
	sub := source.NormalizeName(name)
	if sub == "" {
		return errors.New("add subreddit: empty name")
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO subreddits (profile_id, subreddit, list_type, active, created_at) VALUES (?, ?, ?, 1, ?)
		ON CONFLICT(profile_id, subreddit, list_type) DO UPDATE SET active = 1
	`, profile, sub, list, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("add %s subreddit %q: %w", list, sub, err)
	}
	return nil
}

func (s *SQLiteStore) RemoveSubreddit(ctx context.Context, profile, name string, list ListType) error {
	res, err := s.db.ExecContext(ctx,
		"DELETE FROM subreddits WHERE profile_id = ? AND subreddit = ? AND list_type = ?",
		profile, source.NormalizeName(name), list)
	if err != nil {
		return fmt.Errorf("remove %s subreddit %q: %w", list, name, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("remove %s subreddit %q: %w", list, name, ErrNotFound)
	}
	return nil
}

func (s *SQLiteStore) ListSubreddits(ctx context.Context, profile string, list ListType) ([]string, error) {
	subs := []string{}
	err := s.db.SelectContext(ctx, &subs, `
		SELECT subreddit FROM subreddits
		WHERE profile_id = ? AND list_type = ? AND active = 1
		ORDER BY created_at, subreddit`, profile, list)
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", list, err)
	}
	return subs, nil
}

func (s *SQLiteStore) SaveRun(ctx context.Context, r *Run) error {
	diags := r.Diagnostics
	if diags == nil {
		diags = []collector.Diagnostic{}
	}
	diagJSON, err := json.Marshal(diags)
	if err != nil {
		return fmt.Errorf("marshal run diagnostics: %w", err)
	}
	r.DiagnosticsJSON = string(diagJSON)
	r.StartedAt = r.StartedAt.UTC()
	r.FinishedAt = r.FinishedAt.UTC()

	_, err = s.db.NamedExecContext(ctx, `
		INSERT INTO runs (id, profile_id, time_window, started_at, finished_at, keywords, fetches,
			failed, posts, unreachable, saved, diagnostics)
		VALUES (:id, :profile_id, :time_window, :started_at, :finished_at, :keywords, :fetches,
			:failed, :posts, :unreachable, :saved, :diagnostics)
	`, r)
	if err != nil {
		return fmt.Errorf("save run %s: %w", r.ID, err)
	}
	return nil
}

func (s *SQLiteStore) ListRuns(ctx context.Context, profile string, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 20
	}
	runs := []Run{}
	err := s.db.SelectContext(ctx, &runs, `
		SELECT id, profile_id, time_window, started_at, finished_at, keywords, fetches,
			failed, posts, unreachable, saved, diagnostics
		FROM runs WHERE profile_id = ? ORDER BY started_at DESC LIMIT ?`, profile, limit)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	for i := range runs {
		if err := json.Unmarshal([]byte(runs[i].DiagnosticsJSON), &runs[i].Diagnostics); err != nil {
			return nil, fmt.Errorf("list runs: diagnostics of run %s: %w", runs[i].ID, err)
		}
	}
	return runs, nil
}

func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}
