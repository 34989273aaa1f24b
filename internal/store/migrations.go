package store

const schema = `
CREATE TABLE IF NOT EXISTS subscriptions (
    username     TEXT NOT NULL,
    platform     TEXT NOT NULL,
    chat_id      INTEGER NOT NULL,
    requester_id INTEGER NOT NULL,
    is_active    BOOLEAN NOT NULL DEFAULT 1,
    created_at   DATETIME NOT NULL,
    PRIMARY KEY (username, platform, chat_id)
);

CREATE TABLE IF NOT EXISTS status_samples (
    id             INTEGER PRIMARY KEY AUTOINCREMENT,
    username       TEXT NOT NULL,
    status         TEXT NOT NULL,
    follower_count INTEGER,
    bio            TEXT,
    observed_at    DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_samples_username ON status_samples(username, observed_at);

CREATE TABLE IF NOT EXISTS transition_events (
    id          INTEGER PRIMARY KEY AUTOINCREMENT,
    username    TEXT NOT NULL,
    kind        TEXT NOT NULL,
    detected_at DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_events_username ON transition_events(username, detected_at);
`
