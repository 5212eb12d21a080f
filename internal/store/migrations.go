package store

const schema = `
CREATE TABLE IF NOT EXISTS posts (
    profile_id       TEXT NOT NULL,
    post_id          TEXT NOT NULL,
    title            TEXT NOT NULL,
    content          TEXT NOT NULL DEFAULT '',
    author           TEXT NOT NULL DEFAULT '[deleted]',
    subreddit        TEXT NOT NULL DEFAULT '',
    url              TEXT NOT NULL DEFAULT '',
    post_date        DATETIME NOT NULL,
    score            INTEGER NOT NULL DEFAULT 0,
    upvote_ratio     REAL NOT NULL DEFAULT 0.5,
    num_comments     INTEGER NOT NULL DEFAULT 0,
    awards           INTEGER NOT NULL DEFAULT 0,
    is_nsfw          BOOLEAN NOT NULL DEFAULT 0,
    matched_keywords TEXT NOT NULL DEFAULT '',
    age_hours        REAL NOT NULL DEFAULT 0,
    engagement_score REAL NOT NULL DEFAULT 0,
    collected_at     DATETIME NOT NULL,
    PRIMARY KEY (profile_id, post_id)
);

CREATE INDEX IF NOT EXISTS idx_posts_profile_date ON posts(profile_id, post_date);
CREATE INDEX IF NOT EXISTS idx_posts_engagement ON posts(profile_id, engagement_score);
CREATE INDEX IF NOT EXISTS idx_posts_subreddit ON posts(profile_id, subreddit);

CREATE TABLE IF NOT EXISTS keywords (
    profile_id TEXT NOT NULL,
    keyword    TEXT NOT NULL,
    active     BOOLEAN NOT NULL DEFAULT 1,
    created_at DATETIME NOT NULL,
    PRIMARY KEY (profile_id, keyword)
);

CREATE TABLE IF NOT EXISTS subreddits (
    profile_id TEXT NOT NULL,
    subreddit  TEXT NOT NULL,
    list_type  TEXT NOT NULL CHECK (list_type IN ('whitelist', 'blacklist')),
    active     BOOLEAN NOT NULL DEFAULT 1,
    created_at DATETIME NOT NULL,
    PRIMARY KEY (profile_id, subreddit, list_type)
);

CREATE TABLE IF NOT EXISTS profiles (
    profile_id       TEXT PRIMARY KEY,
    w_upvotes        REAL NOT NULL DEFAULT 1.0,
    w_comments       REAL NOT NULL DEFAULT 2.0,
    w_awards         REAL NOT NULL DEFAULT 5.0,
    w_upvote_ratio   REAL NOT NULL DEFAULT 10.0,
    telegram_chat_id TEXT NOT NULL DEFAULT '',
    updated_at       DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS runs (
    id           TEXT PRIMARY KEY,
    profile_id   TEXT NOT NULL,
    time_window  TEXT NOT NULL,
    started_at   DATETIME NOT NULL,
    finished_at  DATETIME NOT NULL,
    keywords     INTEGER NOT NULL DEFAULT 0,
    fetches      INTEGER NOT NULL DEFAULT 0,
    failed       INTEGER NOT NULL DEFAULT 0,
    posts        INTEGER NOT NULL DEFAULT 0,
    unreachable  BOOLEAN NOT NULL DEFAULT 0,
    saved        BOOLEAN NOT NULL DEFAULT 0,
    diagnostics  TEXT NOT NULL DEFAULT '[]'
);

CREATE INDEX IF NOT EXISTS idx_runs_profile ON runs(profile_id, started_at);
`
