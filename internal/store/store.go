package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"banwatch/internal/detect"
	"banwatch/pkg/source"
)

// Subscription ties a profile identifier to one notification destination.
// The same identifier may be watched from several destinations.
type Subscription struct {
	Username    string    `db:"username"`
	Platform    string    `db:"platform"`
	ChatID      int64     `db:"chat_id"`
	RequesterID int64     `db:"requester_id"`
	Active      bool      `db:"is_active"`
	CreatedAt   time.Time `db:"created_at"`
}

// StatusSample is one poll attempt's recorded outcome. Rows are append
// only and ordered by ObservedAt (ID breaks ties within a timestamp).
type StatusSample struct {
	ID            int64          `db:"id"`
	Username      string         `db:"username"`
	Status        source.Status  `db:"status"`
	FollowerCount sql.NullInt64  `db:"follower_count"`
	Bio           sql.NullString `db:"bio"`
	ObservedAt    time.Time      `db:"observed_at"`
}

// TransitionEvent is a persisted banned/unbanned classification.
type TransitionEvent struct {
	ID         int64       `db:"id"`
	Username   string      `db:"username"`
	Kind       detect.Kind `db:"kind"`
	DetectedAt time.Time   `db:"detected_at"`
}

// Store is the persistence interface.
type Store interface {
	UpsertSubscription(ctx context.Context, sub Subscription) error
	DeactivateSubscription(ctx context.Context, username, platform string, chatID int64) error
	ListActiveSubscriptions(ctx context.Context) ([]Subscription, error)
	ListSubscriptions(ctx context.Context) ([]Subscription, error)

	LastStatus(ctx context.Context, username string) (*StatusSample, error)
	AppendSample(ctx context.Context, username string, status source.Status, profile *source.Profile) error
	ListSamples(ctx context.Context, username string, limit int) ([]StatusSample, error)

	AppendEvent(ctx context.Context, username string, kind detect.Kind) error
	ListEvents(ctx context.Context, username string, limit int) ([]TransitionEvent, error)

	RemoveIdentifier(ctx context.Context, username string) error

	Close() error
}

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db *sqlx.DB
}

// New opens a SQLite database and runs migrations. The pool is capped at
// one connection: SQLite allows a single writer, and funneling the
// subscribe-command path and the scheduler tick through one handle is the
// serialization point that keeps interleaved writes out.
func New(path string) (*SQLiteStore, error) {
	db, err := sqlx.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)")
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// UpsertSubscription creates or reactivates a subscription. Idempotent
// per (username, platform, chat_id).
func (s *SQLiteStore) UpsertSubscription(ctx context.Context, sub Subscription) error {
	createdAt := sub.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO subscriptions (username, platform, chat_id, requester_id, is_active, created_at)
		VALUES (?, ?, ?, ?, 1, ?)
		ON CONFLICT(username, platform, chat_id) DO UPDATE SET
			requester_id = excluded.requester_id,
			is_active = 1
	`, sub.Username, sub.Platform, sub.ChatID, sub.RequesterID, createdAt)
	if err != nil {
		return fmt.Errorf("upsert subscription %s: %w", sub.Username, err)
	}
	return nil
}

// DeactivateSubscription soft-disables one destination's subscription.
// History for the identifier is preserved.
func (s *SQLiteStore) DeactivateSubscription(ctx context.Context, username, platform string, chatID int64) error {
	_, err := s.db.ExecContext(ctx,
		"UPDATE subscriptions SET is_active = 0 WHERE username = ? AND platform = ? AND chat_id = ?",
		username, platform, chatID)
	if err != nil {
		return fmt.Errorf("deactivate subscription %s: %w", username, err)
	}
	return nil
}

func (s *SQLiteStore) ListActiveSubscriptions(ctx context.Context) ([]Subscription, error) {
	var subs []Subscription
	err := s.db.SelectContext(ctx, &subs,
		"SELECT * FROM subscriptions WHERE is_active = 1 ORDER BY username, platform, chat_id")
	if err != nil {
		return nil, fmt.Errorf("list active subscriptions: %w", err)
	}
	return subs, nil
}

func (s *SQLiteStore) ListSubscriptions(ctx context.Context) ([]Subscription, error) {
	var subs []Subscription
	err := s.db.SelectContext(ctx, &subs,
		"SELECT * FROM subscriptions ORDER BY username, platform, chat_id")
	if err != nil {
		return nil, fmt.Errorf("list subscriptions: %w", err)
	}
	return subs, nil
}

// LastStatus returns the most recent sample for username, or nil if none
// has been recorded yet.
func (s *SQLiteStore) LastStatus(ctx context.Context, username string) (*StatusSample, error) {
	var sample StatusSample
	err := s.db.GetContext(ctx, &sample,
		"SELECT * FROM status_samples WHERE username = ? ORDER BY observed_at DESC, id DESC LIMIT 1",
		username)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("last status %s: %w", username, err)
	}
	return &sample, nil
}

// AppendSample records one poll attempt. Follower count and bio are kept
// only when the profile was readable.
func (s *SQLiteStore) AppendSample(ctx context.Context, username string, status source.Status, profile *source.Profile) error {
	var followers sql.NullInt64
	var bio sql.NullString
	if profile != nil {
		followers = sql.NullInt64{Int64: int64(profile.Followers), Valid: true}
		bio = sql.NullString{String: profile.Bio, Valid: true}
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO status_samples (username, status, follower_count, bio, observed_at)
		VALUES (?, ?, ?, ?, ?)
	`, username, status, followers, bio, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("append sample %s: %w", username, err)
	}
	return nil
}

func (s *SQLiteStore) ListSamples(ctx context.Context, username string, limit int) ([]StatusSample, error) {
	if limit <= 0 {
		limit = 20
	}
	var samples []StatusSample
	err := s.db.SelectContext(ctx, &samples,
		"SELECT * FROM status_samples WHERE username = ? ORDER BY observed_at DESC, id DESC LIMIT ?",
		username, limit)
	if err != nil {
		return nil, fmt.Errorf("list samples %s: %w", username, err)
	}
	return samples, nil
}

func (s *SQLiteStore) AppendEvent(ctx context.Context, username string, kind detect.Kind) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO transition_events (username, kind, detected_at)
		VALUES (?, ?, ?)
	`, username, kind, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("append event %s: %w", username, err)
	}
	return nil
}

func (s *SQLiteStore) ListEvents(ctx context.Context, username string, limit int) ([]TransitionEvent, error) {
	if limit <= 0 {
		limit = 20
	}
	var events []TransitionEvent
	err := s.db.SelectContext(ctx, &events,
		"SELECT * FROM transition_events WHERE username = ? ORDER BY detected_at DESC, id DESC LIMIT ?",
		username, limit)
	if err != nil {
		return nil, fmt.Errorf("list events %s: %w", username, err)
	}
	return events, nil
}

// RemoveIdentifier deletes every subscription for username along with its
// samples and events, in one transaction.
func (s *SQLiteStore) RemoveIdentifier(ctx context.Context, username string) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("remove %s: begin: %w", username, err)
	}
	defer tx.Rollback()

	for _, stmt := range []string{
		"DELETE FROM transition_events WHERE username = ?",
		"DELETE FROM status_samples WHERE username = ?",
		"DELETE FROM subscriptions WHERE username = ?",
	} {
		if _, err := tx.ExecContext(ctx, stmt, username); err != nil {
			return fmt.Errorf("remove %s: %w", username, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("remove %s: commit: %w", username, err)
	}
	return nil
}
