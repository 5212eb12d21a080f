package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/elonfeng/redditmon/pkg/engagement"
	"github.com/elonfeng/redditmon/pkg/source"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config is the root configuration.
type Config struct {
	Database  DatabaseConfig  `yaml:"database"`
	Reddit    RedditConfig    `yaml:"reddit"`
	Collect   CollectConfig   `yaml:"collect"`
	Schedule  ScheduleConfig  `yaml:"schedule"`
	Retention RetentionConfig `yaml:"retention"`
	Profiles  []ProfileConfig `yaml:"profiles"`
	Alerts    AlertsConfig    `yaml:"alerts"`
	Server    ServerConfig    `yaml:"server"`
}

// DatabaseConfig configures SQLite storage.
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// Fetcher formats.
const (
	FormatJSON = "json"
	FormatRSS  = "rss"
)

// RedditConfig configures the search fetcher.
type RedditConfig struct {
	Format       string `yaml:"format"` // "json" (default) or "rss"
	BaseURL      string `yaml:"base_url"`
	OAuthURL     string `yaml:"oauth_url"`
	TokenURL     string `yaml:"token_url"`
	ClientID     string `yaml:"client_id"`
	ClientSecret string `yaml:"client_secret"`
	UserAgent    string `yaml:"user_agent"`
	Timeout      string `yaml:"timeout"`
}

// ParseTimeout returns the request timeout as time.Duration.
func (r RedditConfig) ParseTimeout() time.Duration {
	return parseDuration(r.Timeout, 30*time.Second)
}

// CollectConfig tunes collection runs.
type CollectConfig struct {
	TimeWindow    string `yaml:"time_window"`
	DelayMin      string `yaml:"delay_min"`
	DelayMax      string `yaml:"delay_max"`
	ScopedLimit   int    `yaml:"scoped_limit"`
	UnscopedLimit int    `yaml:"unscoped_limit"`
	ExcludeNSFW   bool   `yaml:"exclude_nsfw"`
	MinScore      int    `yaml:"min_score"`
	MergeKeywords bool   `yaml:"merge_keywords"`
}

// ParseDelays returns the pacing bounds between requests.
func (c CollectConfig) ParseDelays() (min, max time.Duration) {
	min = parseDuration(c.DelayMin, 10*time.Second)
	max = parseDuration(c.DelayMax, 15*time.Second)
	if max < min {
		max = min
	}
	return min, max
}

// ScheduleConfig configures the background loop intervals.
type ScheduleConfig struct {
	CollectInterval string `yaml:"collect_interval"`
	CleanupInterval string `yaml:"cleanup_interval"`
	DigestInterval  string `yaml:"digest_interval"`
}

// ParseCollectInterval returns the collect interval as time.Duration.
func (s ScheduleConfig) ParseCollectInterval() time.Duration {
	return parseDuration(s.CollectInterval, 6*time.Hour)
}

// ParseCleanupInterval returns the retention cleanup interval.
func (s ScheduleConfig) ParseCleanupInterval() time.Duration {
	return parseDuration(s.CleanupInterval, 24*time.Hour)
}

// ParseDigestInterval returns the digest interval. Zero disables digests.
func (s ScheduleConfig) ParseDigestInterval() time.Duration {
	if s.DigestInterval == "0" || s.DigestInterval == "off" {
		return 0
	}
	return parseDuration(s.DigestInterval, 7*24*time.Hour)
}

// RetentionConfig controls how long posts are kept.
type RetentionConfig struct {
	Days int `yaml:"days"`
}

// ProfileConfig seeds a profile on startup. Seeding only adds; entries
// stored through the CLI or API are kept.
type ProfileConfig struct {
	ID             string              `yaml:"id"`
	Keywords       []string            `yaml:"keywords"`
	Whitelist      []string            `yaml:"whitelist"`
	Blacklist      []string            `yaml:"blacklist"`
	Weights        *engagement.Weights `yaml:"weights"`
	TelegramChatID string              `yaml:"telegram_chat_id"`
}

// AlertsConfig configures alert destinations.
type AlertsConfig struct {
	Telegram TelegramConfig `yaml:"telegram"`
	Slack    SlackConfig    `yaml:"slack"`
	Discord  DiscordConfig  `yaml:"discord"`
	Webhook  WebhookConfig  `yaml:"webhook"`
}

// TelegramConfig for the Telegram bot digest.
type TelegramConfig struct {
	Enabled  bool   `yaml:"enabled"`
	BotToken string `yaml:"bot_token"`
	ChatID   string `yaml:"chat_id"`
}

// SlackConfig for Slack webhook alerts.
type SlackConfig struct {
	Enabled    bool   `yaml:"enabled"`
	WebhookURL string `yaml:"webhook_url"`
}

// DiscordConfig for Discord webhook alerts.
type DiscordConfig struct {
	Enabled    bool   `yaml:"enabled"`
	WebhookURL string `yaml:"webhook_url"`
}

// WebhookConfig for generic webhook alerts.
type WebhookConfig struct {
	Enabled bool   `yaml:"enabled"`
	URL     string `yaml:"url"`
	Secret  string `yaml:"secret"`
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	Port        int      `yaml:"port"`
	CORSOrigins []string `yaml:"cors_origins"`
}

// DefaultProfile is used when no profile is selected.
const DefaultProfile = "default"

// Default returns a Config with sensible defaults.
func Default() *Config {
	return &Config{
		Database: DatabaseConfig{Path: "./redditmon.db"},
		Reddit: RedditConfig{
			Format:  FormatJSON,
			Timeout: "30s",
		},
		Collect: CollectConfig{
			TimeWindow:    string(source.WindowWeek),
			DelayMin:      "10s",
			DelayMax:      "15s",
			ScopedLimit:   25,
			UnscopedLimit: 50,
		},
		Schedule: ScheduleConfig{
			CollectInterval: "6h",
			CleanupInterval: "24h",
			DigestInterval:  "168h",
		},
		Retention: RetentionConfig{Days: 30},
		Profiles:  []ProfileConfig{{ID: DefaultProfile}},
		Server:    ServerConfig{Port: 8080},
	}
}

// Load reads configuration from a YAML file, loads a .env file if present
// and applies env var overrides.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	// A missing .env is fine.
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks values that have no safe fallback.
func (c *Config) Validate() error {
	if _, err := source.ParseTimeWindow(c.Collect.TimeWindow); err != nil {
		return fmt.Errorf("collect.time_window: %w", err)
	}
	switch c.Reddit.Format {
	case "", FormatJSON, FormatRSS:
	default:
		return fmt.Errorf("reddit.format: unknown format %q", c.Reddit.Format)
	}
	if c.Retention.Days <= 0 {
		return fmt.Errorf("retention.days must be positive, got %d", c.Retention.Days)
	}
	seen := make(map[string]bool)
	for i, p := range c.Profiles {
		if strings.TrimSpace(p.ID) == "" {
			return fmt.Errorf("profiles[%d]: missing id", i)
		}
		if seen[p.ID] {
			return fmt.Errorf("profiles[%d]: duplicate id %q", i, p.ID)
		}
		seen[p.ID] = true
		if p.Weights != nil {
			if err := p.Weights.Validate(); err != nil {
				return fmt.Errorf("profiles[%d].weights: %w", i, err)
			}
		}
	}
	return nil
}

// ProfileIDs returns the configured profile ids in order.
func (c *Config) ProfileIDs() []string {
	ids := make([]string, 0, len(c.Profiles))
	for _, p := range c.Profiles {
		ids = append(ids, p.ID)
	}
	return ids
}

// applyEnvOverrides overrides config values with environment variables.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("REDDITMON_DB_PATH"); v != "" {
		cfg.Database.Path = v
	}
	if v := os.Getenv("REDDIT_CLIENT_ID"); v != "" {
		cfg.Reddit.ClientID = v
	}
	if v := os.Getenv("REDDIT_CLIENT_SECRET"); v != "" {
		cfg.Reddit.ClientSecret = v
	}
	if v := os.Getenv("REDDIT_USER_AGENT"); v != "" {
		cfg.Reddit.UserAgent = v
	}
	if v := os.Getenv("TELEGRAM_BOT_TOKEN"); v != "" {
		cfg.Alerts.Telegram.BotToken = v
		cfg.Alerts.Telegram.Enabled = true
	}
	if v := os.Getenv("TELEGRAM_CHAT_ID"); v != "" {
		cfg.Alerts.Telegram.ChatID = v
	}
	if v := os.Getenv("SLACK_WEBHOOK_URL"); v != "" {
		cfg.Alerts.Slack.WebhookURL = v
		cfg.Alerts.Slack.Enabled = true
	}
	if v := os.Getenv("DISCORD_WEBHOOK_URL"); v != "" {
		cfg.Alerts.Discord.WebhookURL = v
		cfg.Alerts.Discord.Enabled = true
	}
}

func parseDuration(s string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}
