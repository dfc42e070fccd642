package storage

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	_ "modernc.org/sqlite" // SQLite driver registration.

	"github.com/mandreko/reddit-notifier/internal/model"
	"github.com/mandreko/reddit-notifier/migrations"
)

const timeLayout = "2006-01-02T15:04:05Z"

// SQLite implements Storage backed by a SQLite database.
type SQLite struct {
	db  *sql.DB
	log *slog.Logger
}

// NewSQLite opens a SQLite database at dsn and runs pending migrations.
func NewSQLite(dsn string, log *slog.Logger) (*SQLite, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set busy timeout: %w", err)
	}

	if err := migrations.Run(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &SQLite{db: db, log: log}, nil
}

// Close closes the underlying database connection.
func (s *SQLite) Close() error {
	return s.db.Close()
}

// ListSubscriptions returns all subscriptions ordered by id.
func (s *SQLite) ListSubscriptions(ctx context.Context) ([]model.Subscription, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, subreddit, created_at FROM subscriptions ORDER BY id`,
	)
	if err != nil {
		return nil, fmt.Errorf("query subscriptions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var subs []model.Subscription
	for rows.Next() {
		var sub model.Subscription
		var created string
		if err := rows.Scan(&sub.ID, &sub.Subreddit, &created); err != nil {
			return nil, fmt.Errorf("scan subscription: %w", err)
		}
		sub.CreatedAt, _ = time.Parse(timeLayout, created)
		subs = append(subs, sub)
	}
	return subs, rows.Err()
}

// CreateSubscription inserts a subscription for a subreddit and returns its id.
func (s *SQLite) CreateSubscription(ctx context.Context, subreddit string) (int64, error) {
	now := time.Now().UTC().Format(timeLayout)
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO subscriptions (subreddit, created_at) VALUES (?, ?)`,
		subreddit, now,
	)
	if err != nil {
		return 0, fmt.Errorf("insert subscription: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("last insert id: %w", err)
	}
	return id, nil
}

// DeleteSubscription removes a subscription and its endpoint links.
func (s *SQLite) DeleteSubscription(ctx context.Context, id int64) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM subscription_endpoints WHERE subscription_id = ?`, id); err != nil {
		return fmt.Errorf("delete subscription links: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM subscriptions WHERE id = ?`, id); err != nil {
		return fmt.Errorf("delete subscription: %w", err)
	}
	return tx.Commit()
}

// SubscriptionEndpoints returns the endpoints linked to a subscription.
func (s *SQLite) SubscriptionEndpoints(ctx context.Context, subscriptionID int64) ([]model.Endpoint, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT e.id, e.kind, e.config_json, e.active, e.note
		 FROM endpoints e
		 JOIN subscription_endpoints se ON se.endpoint_id = e.id
		 WHERE se.subscription_id = ?
		 ORDER BY e.id`, subscriptionID,
	)
	if err != nil {
		return nil, fmt.Errorf("query subscription endpoints: %w", err)
	}
	defer func() { _ = rows.Close() }()
	return scanEndpoints(rows)
}

// ListEndpoints returns all endpoints ordered by id.
func (s *SQLite) ListEndpoints(ctx context.Context) ([]model.Endpoint, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, kind, config_json, active, note FROM endpoints ORDER BY id`,
	)
	if err != nil {
		return nil, fmt.Errorf("query endpoints: %w", err)
	}
	defer func() { _ = rows.Close() }()
	return scanEndpoints(rows)
}

// GetEndpoint returns a single endpoint by its id.
func (s *SQLite) GetEndpoint(ctx context.Context, id int64) (*model.Endpoint, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, kind, config_json, active, note FROM endpoints WHERE id = ?`, id,
	)
	ep, err := scanEndpoint(row)
	if err != nil {
		return nil, err
	}
	return &ep, nil
}

// CreateEndpoint inserts an endpoint and returns its id.
func (s *SQLite) CreateEndpoint(ctx context.Context, kind model.EndpointKind, configJSON, note string) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO endpoints (kind, config_json, active, note) VALUES (?, ?, 1, ?)`,
		string(kind), configJSON, nullIfEmpty(note),
	)
	if err != nil {
		return 0, fmt.Errorf("insert endpoint: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("last insert id: %w", err)
	}
	return id, nil
}

// UpdateEndpoint replaces an endpoint's configuration and note.
func (s *SQLite) UpdateEndpoint(ctx context.Context, id int64, configJSON, note string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE endpoints SET config_json = ?, note = ? WHERE id = ?`,
		configJSON, nullIfEmpty(note), id,
	)
	if err != nil {
		return fmt.Errorf("update endpoint: %w", err)
	}
	return nil
}

// DeleteEndpoint removes an endpoint and its subscription links.
func (s *SQLite) DeleteEndpoint(ctx context.Context, id int64) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM subscription_endpoints WHERE endpoint_id = ?`, id); err != nil {
		return fmt.Errorf("delete endpoint links: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM endpoints WHERE id = ?`, id); err != nil {
		return fmt.Errorf("delete endpoint: %w", err)
	}
	return tx.Commit()
}

// ToggleEndpointActive flips an endpoint's active flag and returns the new value.
func (s *SQLite) ToggleEndpointActive(ctx context.Context, id int64) (bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx, `UPDATE endpoints SET active = 1 - active WHERE id = ?`, id)
	if err != nil {
		return false, fmt.Errorf("toggle endpoint: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return false, fmt.Errorf("endpoint %d not found", id)
	}

	var active int
	if err := tx.QueryRowContext(ctx, `SELECT active FROM endpoints WHERE id = ?`, id).Scan(&active); err != nil {
		return false, fmt.Errorf("read endpoint active: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return false, err
	}
	return active == 1, nil
}

// LinkSubscriptionEndpoint links a subscription to an endpoint. Linking
// the same pair twice is a no-op.
func (s *SQLite) LinkSubscriptionEndpoint(ctx context.Context, subscriptionID, endpointID int64) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO subscription_endpoints (subscription_id, endpoint_id) VALUES (?, ?)`,
		subscriptionID, endpointID,
	)
	if err != nil {
		return fmt.Errorf("link subscription endpoint: %w", err)
	}
	return nil
}

// UnlinkSubscriptionEndpoint removes the link between a subscription and an endpoint.
func (s *SQLite) UnlinkSubscriptionEndpoint(ctx context.Context, subscriptionID, endpointID int64) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM subscription_endpoints WHERE subscription_id = ? AND endpoint_id = ?`,
		subscriptionID, endpointID,
	)
	if err != nil {
		return fmt.Errorf("unlink subscription endpoint: %w", err)
	}
	return nil
}

// ListNotifiedPosts returns ledger rows newest-first with pagination.
// An empty subreddit returns rows for all subreddits.
func (s *SQLite) ListNotifiedPosts(ctx context.Context, subreddit string, limit, offset int64) ([]model.NotifiedPost, error) {
	query := `SELECT id, subreddit, post_id, first_seen_at FROM notified_posts`
	args := []any{}
	if subreddit != "" {
		query += ` WHERE subreddit = ?`
		args = append(args, subreddit)
	}
	query += ` ORDER BY id DESC LIMIT ? OFFSET ?`
	args = append(args, limit, offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query notified posts: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var posts []model.NotifiedPost
	for rows.Next() {
		var p model.NotifiedPost
		var seen string
		if err := rows.Scan(&p.ID, &p.Subreddit, &p.PostID, &seen); err != nil {
			return nil, fmt.Errorf("scan notified post: %w", err)
		}
		p.FirstSeenAt, _ = time.Parse(timeLayout, seen)
		posts = append(posts, p)
	}
	return posts, rows.Err()
}

// DeleteNotifiedPost removes a single ledger row by its id.
func (s *SQLite) DeleteNotifiedPost(ctx context.Context, id int64) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM notified_posts WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete notified post: %w", err)
	}
	return nil
}

// CleanupOldPosts deletes ledger rows older than daysToKeep days and
// returns the number of rows deleted.
func (s *SQLite) CleanupOldPosts(ctx context.Context, daysToKeep int64) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM notified_posts
		 WHERE datetime(first_seen_at) < datetime('now', '-' || ? || ' days')`,
		daysToKeep,
	)
	if err != nil {
		return 0, fmt.Errorf("cleanup notified posts: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected: %w", err)
	}
	return n, nil
}

// UniqueSubreddits returns the distinct subreddits that are linked to
// at least one active endpoint.
func (s *SQLite) UniqueSubreddits(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT DISTINCT s.subreddit
		 FROM subscriptions s
		 JOIN subscription_endpoints se ON se.subscription_id = s.id
		 JOIN endpoints e ON e.id = se.endpoint_id
		 WHERE e.active = 1
		 ORDER BY s.subreddit`,
	)
	if err != nil {
		return nil, fmt.Errorf("query unique subreddits: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var subs []string
	for rows.Next() {
		var sub string
		if err := rows.Scan(&sub); err != nil {
			return nil, fmt.Errorf("scan subreddit: %w", err)
		}
		subs = append(subs, sub)
	}
	return subs, rows.Err()
}

// AllEndpointMappings fetches every subreddit -> active endpoints
// mapping in a single query. Rows whose kind does not parse are logged
// and skipped so one bad endpoint cannot abort the whole fetch.
func (s *SQLite) AllEndpointMappings(ctx context.Context) (map[string][]model.Endpoint, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT s.subreddit, e.id, e.kind, e.config_json, e.active, e.note
		 FROM subscriptions s
		 JOIN subscription_endpoints se ON se.subscription_id = s.id
		 JOIN endpoints e ON e.id = se.endpoint_id
		 WHERE e.active = 1
		 ORDER BY s.subreddit, e.id`,
	)
	if err != nil {
		return nil, fmt.Errorf("query endpoint mappings: %w", err)
	}
	defer func() { _ = rows.Close() }()

	mappings := make(map[string][]model.Endpoint)
	for rows.Next() {
		var subreddit, kind string
		var ep model.Endpoint
		var active int
		var note sql.NullString
		if err := rows.Scan(&subreddit, &ep.ID, &kind, &ep.ConfigJSON, &active, &note); err != nil {
			return nil, fmt.Errorf("scan endpoint mapping: %w", err)
		}
		parsed, err := model.ParseEndpointKind(kind)
		if err != nil {
			s.log.Warn("skipping endpoint with unknown kind", "endpoint_id", ep.ID, "kind", kind)
			continue
		}
		ep.Kind = parsed
		ep.Active = active == 1
		ep.Note = note.String
		mappings[subreddit] = append(mappings[subreddit], ep)
	}
	return mappings, rows.Err()
}

// RecordIfNew inserts a (subreddit, post id) pair into the ledger.
// It returns true only when the pair was not already present.
func (s *SQLite) RecordIfNew(ctx context.Context, subreddit, postID string) (bool, error) {
	now := time.Now().UTC().Format(timeLayout)
	res, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO notified_posts (subreddit, post_id, first_seen_at) VALUES (?, ?, ?)`,
		subreddit, postID, now,
	)
	if err != nil {
		return false, fmt.Errorf("record post: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return n == 1, nil
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}

type scannable interface {
	Scan(dest ...any) error
}

func scanEndpoint(row scannable) (model.Endpoint, error) {
	var ep model.Endpoint
	var kind string
	var active int
	var note sql.NullString
	if err := row.Scan(&ep.ID, &kind, &ep.ConfigJSON, &active, &note); err != nil {
		return ep, fmt.Errorf("scan endpoint: %w", err)
	}
	parsed, err := model.ParseEndpointKind(kind)
	if err != nil {
		return ep, err
	}
	ep.Kind = parsed
	ep.Active = active == 1
	ep.Note = note.String
	return ep, nil
}

func scanEndpoints(rows *sql.Rows) ([]model.Endpoint, error) {
	var eps []model.Endpoint
	for rows.Next() {
		ep, err := scanEndpoint(rows)
		if err != nil {
			return nil, err
		}
		eps = append(eps, ep)
	}
	return eps, rows.Err()
}
