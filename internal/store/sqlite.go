package store

import (
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// SQLite is the durable Store used in production. All upserts go
// through ON CONFLICT so concurrent writers never lose increments.
type SQLite struct {
	db  *sql.DB
	now func() time.Time
}

func NewSQLite(db *sql.DB) *SQLite {
	return &SQLite{db: db, now: time.Now}
}

func (s *SQLite) ContentByID(id int64) (Content, error) {
	var c Content
	err := s.db.QueryRow(`SELECT id, slug, status FROM content WHERE id = ?`, id).
		Scan(&c.ID, &c.Slug, &c.Status)
	if errors.Is(err, sql.ErrNoRows) {
		return Content{}, ErrNotFound
	}
	return c, err
}

func (s *SQLite) ContentBySlug(slug string) (Content, error) {
	var c Content
	err := s.db.QueryRow(`SELECT id, slug, status FROM content WHERE slug = ?`, slug).
		Scan(&c.ID, &c.Slug, &c.Status)
	if errors.Is(err, sql.ErrNoRows) {
		return Content{}, ErrNotFound
	}
	return c, err
}

// PutContent seeds or updates a content row. Not part of the Store
// interface: the counter treats content as read-only, this exists for
// host-side import tooling and tests.
func (s *SQLite) PutContent(c Content) error {
	_, err := s.db.Exec(`
		INSERT INTO content(id, slug, status) VALUES(?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET slug = excluded.slug, status = excluded.status`,
		c.ID, c.Slug, c.Status)
	return err
}

func (s *SQLite) TotalViews(id int64) (int64, error) {
	var n int64
	err := s.db.QueryRow(`SELECT total_views FROM view_metrics WHERE content_id = ?`, id).Scan(&n)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	return n, err
}

func (s *SQLite) ApplyViews(id int64, n int64, day string) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`
		INSERT INTO view_metrics(content_id, total_views) VALUES(?, ?)
		ON CONFLICT(content_id) DO UPDATE SET total_views = total_views + excluded.total_views`,
		id, n); err != nil {
		return fmt.Errorf("apply total: %w", err)
	}
	if _, err := tx.Exec(`
		INSERT INTO view_ledger(content_id, day, views) VALUES(?, ?, ?)
		ON CONFLICT(content_id, day) DO UPDATE SET views = views + excluded.views`,
		id, day, n); err != nil {
		return fmt.Errorf("apply ledger: %w", err)
	}
	return tx.Commit()
}

func (s *SQLite) SetTrending(id int64, score float64) error {
	_, err := s.db.Exec(`
		INSERT INTO view_metrics(content_id, trending_score) VALUES(?, ?)
		ON CONFLICT(content_id) DO UPDATE SET trending_score = excluded.trending_score`,
		id, score)
	return err
}

func (s *SQLite) SetWindowStats(id int64, ws WindowStats) error {
	_, err := s.db.Exec(`
		INSERT INTO view_metrics(content_id, views_1d, views_7d, views_30d) VALUES(?, ?, ?, ?)
		ON CONFLICT(content_id) DO UPDATE SET
			views_1d = excluded.views_1d,
			views_7d = excluded.views_7d,
			views_30d = excluded.views_30d`,
		id, ws.Views1d, ws.Views7d, ws.Views30d)
	return err
}

func (s *SQLite) ItemStats(id int64) (Stats, error) {
	var out Stats
	out.ContentID = id

	err := s.db.QueryRow(`SELECT slug FROM content WHERE id = ?`, id).Scan(&out.Slug)
	if errors.Is(err, sql.ErrNoRows) {
		return Stats{}, ErrNotFound
	}
	if err != nil {
		return Stats{}, err
	}

	err = s.db.QueryRow(`
		SELECT total_views, trending_score, views_1d, views_7d, views_30d
		FROM view_metrics WHERE content_id = ?`, id).
		Scan(&out.TotalViews, &out.TrendingScore,
			&out.Windows.Views1d, &out.Windows.Views7d, &out.Windows.Views30d)
	if errors.Is(err, sql.ErrNoRows) {
		// Never viewed: all zeroes is the correct answer.
		return out, nil
	}
	if err != nil {
		return Stats{}, err
	}
	out.Windows.ViewsTotal = out.TotalViews
	return out, nil
}

func (s *SQLite) TopByViews(limit int) ([]RankedItem, error) {
	return s.ranked(`
		SELECT m.content_id, c.slug, m.total_views, m.trending_score
		FROM view_metrics m JOIN content c ON c.id = m.content_id
		ORDER BY m.total_views DESC, m.content_id ASC LIMIT ?`, limit)
}

func (s *SQLite) TopByTrending(limit int) ([]RankedItem, error) {
	return s.ranked(`
		SELECT m.content_id, c.slug, m.total_views, m.trending_score
		FROM view_metrics m JOIN content c ON c.id = m.content_id
		ORDER BY m.trending_score DESC, m.content_id ASC LIMIT ?`, limit)
}

func (s *SQLite) ranked(query string, limit int) ([]RankedItem, error) {
	rows, err := s.db.Query(query, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []RankedItem
	for rows.Next() {
		var it RankedItem
		if err := rows.Scan(&it.ContentID, &it.Slug, &it.TotalViews, &it.TrendingScore); err != nil {
			return nil, err
		}
		res = append(res, it)
	}
	return res, rows.Err()
}

func (s *SQLite) WindowSum(id int64, days int) (int64, error) {
	cutoff := DayOf(s.now().AddDate(0, 0, -days))
	var n int64
	err := s.db.QueryRow(`
		SELECT COALESCE(SUM(views), 0) FROM view_ledger
		WHERE content_id = ? AND day >= ?`, id, cutoff).Scan(&n)
	return n, err
}

func (s *SQLite) LedgerActivity(days int) ([]LedgerRow, error) {
	cutoff := DayOf(s.now().AddDate(0, 0, -days))
	rows, err := s.db.Query(`
		SELECT content_id, day, views FROM view_ledger
		WHERE day >= ? ORDER BY content_id, day`, cutoff)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []LedgerRow
	for rows.Next() {
		var r LedgerRow
		if err := rows.Scan(&r.ContentID, &r.Day, &r.Views); err != nil {
			return nil, err
		}
		res = append(res, r)
	}
	return res, rows.Err()
}

func (s *SQLite) PruneLedger(retentionDays int) (int64, error) {
	cutoff := DayOf(s.now().AddDate(0, 0, -retentionDays))
	res, err := s.db.Exec(`DELETE FROM view_ledger WHERE day < ?`, cutoff)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (s *SQLite) IncrPending(id int64) error {
	_, err := s.db.Exec(`
		INSERT INTO view_buffer(content_id, pending) VALUES(?, 1)
		ON CONFLICT(content_id) DO UPDATE SET pending = pending + 1`, id)
	return err
}

func (s *SQLite) PendingSum() (int64, error) {
	var n int64
	err := s.db.QueryRow(`SELECT COALESCE(SUM(pending), 0) FROM view_buffer`).Scan(&n)
	return n, err
}

// DrainPending snapshots and clears the buffer in one transaction.
// An increment committed before the transaction is in the snapshot;
// one committed after it survives for the next drain.
func (s *SQLite) DrainPending() (map[int64]int64, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	rows, err := tx.Query(`SELECT content_id, pending FROM view_buffer WHERE pending > 0`)
	if err != nil {
		return nil, err
	}
	pending := make(map[int64]int64)
	for rows.Next() {
		var id, n int64
		if err := rows.Scan(&id, &n); err != nil {
			rows.Close()
			return nil, err
		}
		pending[id] = n
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if len(pending) > 0 {
		if _, err := tx.Exec(`DELETE FROM view_buffer`); err != nil {
			return nil, err
		}
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return pending, nil
}

func (s *SQLite) LastFlush() (time.Time, error) {
	var ts sql.NullTime
	err := s.db.QueryRow(`SELECT last_flush FROM flush_state WHERE id = 1`).Scan(&ts)
	if errors.Is(err, sql.ErrNoRows) || (err == nil && !ts.Valid) {
		return time.Time{}, nil
	}
	return ts.Time, err
}

func (s *SQLite) SetLastFlush(t time.Time) error {
	_, err := s.db.Exec(`
		INSERT INTO flush_state(id, last_flush) VALUES(1, ?)
		ON CONFLICT(id) DO UPDATE SET last_flush = excluded.last_flush`, t.UTC())
	return err
}

func (s *SQLite) SeenFingerprint(fp string) (bool, error) {
	var one int
	err := s.db.QueryRow(`
		SELECT 1 FROM view_dedup WHERE fingerprint = ? AND expires_at > ?`,
		fp, s.now().UTC()).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	return err == nil, err
}

func (s *SQLite) MarkFingerprint(fp string, ttl time.Duration) error {
	_, err := s.db.Exec(`
		INSERT INTO view_dedup(fingerprint, expires_at) VALUES(?, ?)
		ON CONFLICT(fingerprint) DO UPDATE SET expires_at = excluded.expires_at`,
		fp, s.now().UTC().Add(ttl))
	return err
}

func (s *SQLite) SweepFingerprints() (int64, error) {
	res, err := s.db.Exec(`DELETE FROM view_dedup WHERE expires_at <= ?`, s.now().UTC())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (s *SQLite) LoadSettings() (Settings, error) {
	var st Settings
	err := s.db.QueryRow(`
		SELECT buffer_enabled, buffer_size, buffer_timeout_sec, trending_weight,
		       retention_days, dedup_ttl_sec, external_scheduler, debug
		FROM settings WHERE id = 1`).
		Scan(&st.BufferEnabled, &st.BufferSize, &st.BufferTimeoutSec, &st.TrendingWeight,
			&st.RetentionDays, &st.DedupTTLSec, &st.ExternalScheduler, &st.Debug)
	if errors.Is(err, sql.ErrNoRows) {
		return DefaultSettings(), nil
	}
	if err != nil {
		return Settings{}, err
	}
	return st.Normalize(), nil
}

func (s *SQLite) SaveSettings(st Settings) (Settings, error) {
	st = st.Normalize()
	_, err := s.db.Exec(`
		INSERT INTO settings(id, buffer_enabled, buffer_size, buffer_timeout_sec,
			trending_weight, retention_days, dedup_ttl_sec, external_scheduler, debug)
		VALUES(1, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			buffer_enabled = excluded.buffer_enabled,
			buffer_size = excluded.buffer_size,
			buffer_timeout_sec = excluded.buffer_timeout_sec,
			trending_weight = excluded.trending_weight,
			retention_days = excluded.retention_days,
			dedup_ttl_sec = excluded.dedup_ttl_sec,
			external_scheduler = excluded.external_scheduler,
			debug = excluded.debug`,
		st.BufferEnabled, st.BufferSize, st.BufferTimeoutSec, st.TrendingWeight,
		st.RetentionDays, st.DedupTTLSec, st.ExternalScheduler, st.Debug)
	if err != nil {
		return Settings{}, err
	}
	return st, nil
}

// Migrate ensures schema exists
func Migrate(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS content (
			id INTEGER PRIMARY KEY,
			slug TEXT UNIQUE NOT NULL,
			status TEXT NOT NULL DEFAULT 'published',
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP
		);`,
		`CREATE TABLE IF NOT EXISTS view_metrics (
			content_id INTEGER PRIMARY KEY,
			total_views INTEGER NOT NULL DEFAULT 0,
			trending_score REAL NOT NULL DEFAULT 0,
			views_1d INTEGER NOT NULL DEFAULT 0,
			views_7d INTEGER NOT NULL DEFAULT 0,
			views_30d INTEGER NOT NULL DEFAULT 0
		);`,
		`CREATE INDEX IF NOT EXISTS idx_metrics_total ON view_metrics(total_views DESC);`,
		`CREATE INDEX IF NOT EXISTS idx_metrics_trending ON view_metrics(trending_score DESC);`,
		`CREATE TABLE IF NOT EXISTS view_ledger (
			content_id INTEGER NOT NULL,
			day TEXT NOT NULL,
			views INTEGER NOT NULL DEFAULT 0,
			PRIMARY KEY (content_id, day)
		);`,
		`CREATE INDEX IF NOT EXISTS idx_ledger_day ON view_ledger(day);`,
		`CREATE TABLE IF NOT EXISTS view_buffer (
			content_id INTEGER PRIMARY KEY,
			pending INTEGER NOT NULL DEFAULT 0
		);`,
		`CREATE TABLE IF NOT EXISTS flush_state (
			id INTEGER PRIMARY KEY CHECK (id = 1),
			last_flush DATETIME
		);`,
		`CREATE TABLE IF NOT EXISTS view_dedup (
			fingerprint TEXT PRIMARY KEY,
			expires_at DATETIME NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_dedup_expires ON view_dedup(expires_at);`,
		`CREATE TABLE IF NOT EXISTS settings (
			id INTEGER PRIMARY KEY CHECK (id = 1),
			buffer_enabled BOOLEAN NOT NULL DEFAULT 1,
			buffer_size INTEGER NOT NULL DEFAULT 100,
			buffer_timeout_sec INTEGER NOT NULL DEFAULT 300,
			trending_weight REAL NOT NULL DEFAULT 0.7,
			retention_days INTEGER NOT NULL DEFAULT 90,
			dedup_ttl_sec INTEGER NOT NULL DEFAULT 3600,
			external_scheduler BOOLEAN NOT NULL DEFAULT 0,
			debug BOOLEAN NOT NULL DEFAULT 0
		);`,
	}
	for _, s := range stmts {
		if _, err := db.Exec(s); err != nil {
			return err
		}
	}
	return nil
}
