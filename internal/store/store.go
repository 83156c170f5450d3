// Package store persists tenants, channels, scheduled posts, and fan-out
// logs in a single SQLite database. All instants are stored as unix
// milliseconds and returned in UTC.
package store

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"embed"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"relaycast/internal/transport"
	logx "relaycast/pkg/logx"
)

//go:embed migrations.sql
var migrationsFS embed.FS

var ErrNotFound = errors.New("store: not found")

// Store is the SQLite-backed persistence layer.
type Store struct {
	db  *sql.DB
	log logx.Logger
}

// TenantID derives the stable tenant identifier from a bot token.
func TenantID(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])[:16]
}

// Open creates the database file if needed and applies migrations.
func Open(cfg Config, log logx.Logger) (*Store, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("store: sqlite path is required")
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	if dir := filepath.Dir(cfg.Path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}

	db, err := sql.Open("sqlite", cfg.Path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a small number of concurrent writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if cfg.BusyTimeout > 0 {
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", cfg.BusyTimeout.Milliseconds()))
	}
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")
	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		_ = db.Close()
		return nil, err
	}

	s := &Store{db: db, log: log}
	if err := s.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, string(b))
	return err
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// RegisterTenant records a tenant for its token, returning the existing
// row unchanged when the token is already known.
func (s *Store) RegisterTenant(ctx context.Context, token, kind string) (Tenant, error) {
	id := TenantID(token)
	now := time.Now().UTC()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO tenants(id, token, kind, created_at) VALUES(?,?,?,?)
		 ON CONFLICT(id) DO NOTHING`,
		id, token, kind, now.UnixMilli(),
	)
	if err != nil {
		return Tenant{}, err
	}
	return s.tenantByID(ctx, id)
}

func (s *Store) tenantByID(ctx context.Context, id string) (Tenant, error) {
	var t Tenant
	var ms int64
	err := s.db.QueryRowContext(ctx,
		`SELECT id, token, kind, created_at FROM tenants WHERE id = ?`, id,
	).Scan(&t.ID, &t.Token, &t.Kind, &ms)
	if errors.Is(err, sql.ErrNoRows) {
		return Tenant{}, ErrNotFound
	}
	if err != nil {
		return Tenant{}, err
	}
	t.CreatedAt = time.UnixMilli(ms).UTC()
	return t, nil
}

// DeleteTenant removes the tenant and, through foreign keys, all of its
// channels, posts, and log rows.
func (s *Store) DeleteTenant(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM tenants WHERE id = ?`, id)
	return err
}

// Tenants lists every registered tenant.
func (s *Store) Tenants(ctx context.Context) ([]Tenant, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, token, kind, created_at FROM tenants ORDER BY created_at`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Tenant
	for rows.Next() {
		var t Tenant
		var ms int64
		if err := rows.Scan(&t.ID, &t.Token, &t.Kind, &ms); err != nil {
			return nil, err
		}
		t.CreatedAt = time.UnixMilli(ms).UTC()
		out = append(out, t)
	}
	return out, rows.Err()
}

// AddChannel registers a destination, reactivating it if it was removed
// earlier. The forward counter survives deactivation.
func (s *Store) AddChannel(ctx context.Context, tenantID, name string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return errors.New("store: channel name is required")
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO channels(tenant_id, name, active, added_at) VALUES(?,?,1,?)
		 ON CONFLICT(tenant_id, name) DO UPDATE SET active = 1`,
		tenantID, name, time.Now().UTC().UnixMilli(),
	)
	return err
}

// DeactivateChannel hides a destination from fan-out without losing its row.
func (s *Store) DeactivateChannel(ctx context.Context, tenantID, name string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE channels SET active = 0 WHERE tenant_id = ? AND name = ?`,
		tenantID, name)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// ActiveChannels lists the names fan-out should target, in insertion order.
func (s *Store) ActiveChannels(ctx context.Context, tenantID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT name FROM channels WHERE tenant_id = ? AND active = 1 ORDER BY added_at, name`,
		tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		out = append(out, name)
	}
	return out, rows.Err()
}

// Channels lists every destination with its stats, active or not.
func (s *Store) Channels(ctx context.Context, tenantID string) ([]Channel, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT name, active, forwards, last_forward, added_at FROM channels
		 WHERE tenant_id = ? ORDER BY added_at, name`, tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Channel
	for rows.Next() {
		var c Channel
		var ms int64
		var last sql.NullInt64
		if err := rows.Scan(&c.Name, &c.Active, &c.Forwards, &last, &ms); err != nil {
			return nil, err
		}
		if last.Valid {
			c.LastForward = time.UnixMilli(last.Int64).UTC()
		}
		c.AddedAt = time.UnixMilli(ms).UTC()
		out = append(out, c)
	}
	return out, rows.Err()
}

// BumpForward adds n successful deliveries to a channel's counter and
// stamps the last-forward instant.
func (s *Store) BumpForward(ctx context.Context, tenantID, name string, n int64) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE channels SET forwards = forwards + ?, last_forward = ?
		 WHERE tenant_id = ? AND name = ?`,
		n, time.Now().UTC().UnixMilli(), tenantID, name)
	return err
}

// InsertPost stores one scheduled item and returns its id.
func (s *Store) InsertPost(ctx context.Context, p Post) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO posts(tenant_id, kind, body, file_ref, caption, at, batch, day, targets, created_at)
		 VALUES(?,?,?,?,?,?,?,?,?,?)`,
		p.TenantID, string(p.Content.Kind), p.Content.Text, p.Content.FileRef, p.Content.Caption,
		p.At.UnixMilli(), p.Batch, p.Day, p.Targets, time.Now().UTC().UnixMilli(),
	)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// DuePosts returns unsent posts whose instant is at or before now,
// earliest first, capped at limit.
func (s *Store) DuePosts(ctx context.Context, tenantID string, now time.Time, limit int) ([]Post, error) {
	if limit < 1 {
		limit = 1
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, tenant_id, kind, body, file_ref, caption, at, batch, day, targets
		 FROM posts
		 WHERE tenant_id = ? AND sent = 0 AND at <= ?
		 ORDER BY at ASC, id ASC LIMIT ?`,
		tenantID, now.UnixMilli(), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanPosts(rows)
}

// MarkSent flags a post delivered with its successful-destination count.
// A post already marked stays untouched, so replaying a delivery cannot
// double-count.
func (s *Store) MarkSent(ctx context.Context, id int64, successful int, at time.Time) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE posts SET sent = 1, successes = ?, sent_at = ? WHERE id = ? AND sent = 0`,
		successful, at.UnixMilli(), id)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// PendingPosts lists every unsent post for a tenant, earliest first.
func (s *Store) PendingPosts(ctx context.Context, tenantID string) ([]Post, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, tenant_id, kind, body, file_ref, caption, at, batch, day, targets
		 FROM posts WHERE tenant_id = ? AND sent = 0 ORDER BY at ASC, id ASC`,
		tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanPosts(rows)
}

// DeletePost removes one of the tenant's posts, sent or not.
func (s *Store) DeletePost(ctx context.Context, tenantID string, id int64) error {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM posts WHERE tenant_id = ? AND id = ?`, tenantID, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// DeletePending clears the tenant's queue of unsent posts.
func (s *Store) DeletePending(ctx context.Context, tenantID string) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM posts WHERE tenant_id = ? AND sent = 0`, tenantID)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// DeleteSentBefore removes the tenant's delivered posts whose sent
// instant is older than cutoff. Pending posts are never touched.
func (s *Store) DeleteSentBefore(ctx context.Context, tenantID string, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM posts WHERE tenant_id = ? AND sent = 1 AND sent_at < ?`,
		tenantID, cutoff.UnixMilli())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// Stats counts the tenant's pending and sent posts.
func (s *Store) Stats(ctx context.Context, tenantID string) (Stats, error) {
	var st Stats
	err := s.db.QueryRowContext(ctx,
		`SELECT COALESCE(SUM(CASE WHEN sent = 0 THEN 1 ELSE 0 END), 0),
		        COALESCE(SUM(CASE WHEN sent = 1 THEN 1 ELSE 0 END), 0)
		 FROM posts WHERE tenant_id = ?`, tenantID,
	).Scan(&st.Pending, &st.Sent)
	return st, err
}

// LastSent returns the most recently delivered post, if any.
func (s *Store) LastSent(ctx context.Context, tenantID string) (Post, bool, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, tenant_id, kind, body, file_ref, caption, at, batch, day, targets, successes, sent_at
		 FROM posts WHERE tenant_id = ? AND sent = 1
		 ORDER BY sent_at DESC, id DESC LIMIT 1`, tenantID)
	var p Post
	var kind string
	var atMS, sentMS int64
	err := row.Scan(&p.ID, &p.TenantID, &kind, &p.Content.Text, &p.Content.FileRef,
		&p.Content.Caption, &atMS, &p.Batch, &p.Day, &p.Targets, &p.Successes, &sentMS)
	if errors.Is(err, sql.ErrNoRows) {
		return Post{}, false, nil
	}
	if err != nil {
		return Post{}, false, err
	}
	p.Content.Kind = transport.Kind(kind)
	p.At = time.UnixMilli(atMS).UTC()
	p.Sent = true
	p.SentAt = time.UnixMilli(sentMS).UTC()
	return p, true, nil
}

// AppendLog records the outcome of one fan-out pass.
func (s *Store) AppendLog(ctx context.Context, e LogEntry) error {
	if e.At.IsZero() {
		e.At = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO broadcast_log(tenant_id, pass_id, message_id, kind, at, total, successful, failed, took_ms)
		 VALUES(?,?,?,?,?,?,?,?,?)`,
		e.TenantID, e.PassID, e.MessageID, e.Kind, e.At.UnixMilli(), e.Total, e.Successful,
		e.Failed, e.Took.Milliseconds(),
	)
	return err
}

// LogStats aggregates the tenant's fan-out history.
func (s *Store) LogStats(ctx context.Context, tenantID string) (LogStats, error) {
	var st LogStats
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*), COALESCE(SUM(successful), 0), COALESCE(SUM(failed), 0)
		 FROM broadcast_log WHERE tenant_id = ?`, tenantID,
	).Scan(&st.Passes, &st.Successful, &st.Failed)
	return st, err
}

func scanPosts(rows *sql.Rows) ([]Post, error) {
	var out []Post
	for rows.Next() {
		var p Post
		var kind string
		var ms int64
		if err := rows.Scan(&p.ID, &p.TenantID, &kind, &p.Content.Text,
			&p.Content.FileRef, &p.Content.Caption, &ms, &p.Batch, &p.Day, &p.Targets); err != nil {
			return nil, err
		}
		p.Content.Kind = transport.Kind(kind)
		p.At = time.UnixMilli(ms).UTC()
		out = append(out, p)
	}
	return out, rows.Err()
}
