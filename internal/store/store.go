package store

import (
	"errors"
	"time"
)

// StatusPublished is the only content status whose views are counted.
const StatusPublished = "published"

// DayFormat is the calendar-date key used by the daily ledger (UTC).
const DayFormat = "2006-01-02"

var (
	ErrNotFound     = errors.New("not found")
	ErrNotPublished = errors.New("content not published")
)

// Content is the read-only view of an item whose views we count.
// The content table is owned by the host system; the counter never
// writes to it.
type Content struct {
	ID     int64  `json:"id"`
	Slug   string `json:"slug"`
	Status string `json:"status"`
}

// WindowStats caches recent view counts for display.
type WindowStats struct {
	Views1d    int64 `json:"views_1d"`
	Views7d    int64 `json:"views_7d"`
	Views30d   int64 `json:"views_30d"`
	ViewsTotal int64 `json:"views_total"`
}

// Stats is the full per-item metric set exposed by the stats endpoint.
type Stats struct {
	ContentID     int64       `json:"content_id"`
	Slug          string      `json:"slug,omitempty"`
	TotalViews    int64       `json:"total_views"`
	TrendingScore float64     `json:"trending_score"`
	Windows       WindowStats `json:"windows"`
}

// RankedItem is one row of a popularity/trending listing.
type RankedItem struct {
	ContentID     int64   `json:"content_id"`
	Slug          string  `json:"slug,omitempty"`
	TotalViews    int64   `json:"total_views"`
	TrendingScore float64 `json:"trending_score"`
}

// LedgerRow is one (content, calendar day) view aggregate.
type LedgerRow struct {
	ContentID int64
	Day       string // DayFormat, UTC
	Views     int64
}

// Settings is the persisted runtime configuration. A single record;
// clamped on save, defaults supplied on first load.
type Settings struct {
	BufferEnabled     bool    `json:"buffer_enabled"`
	BufferSize        int     `json:"buffer_size"`
	BufferTimeoutSec  int     `json:"buffer_timeout_sec"`
	TrendingWeight    float64 `json:"trending_weight"`
	RetentionDays     int     `json:"retention_days"`
	DedupTTLSec       int     `json:"dedup_ttl_sec"`
	ExternalScheduler bool    `json:"external_scheduler"`
	Debug             bool    `json:"debug"`
}

func DefaultSettings() Settings {
	return Settings{
		BufferEnabled:    true,
		BufferSize:       100,
		BufferTimeoutSec: 300,
		TrendingWeight:   0.7,
		RetentionDays:    90,
		DedupTTLSec:      3600,
	}
}

// Normalize clamps out-of-range values instead of rejecting them, so a
// bad settings write degrades to the nearest sane configuration.
func (s Settings) Normalize() Settings {
	if s.BufferSize < 10 {
		s.BufferSize = 10
	}
	if s.BufferSize > 1000 {
		s.BufferSize = 1000
	}
	if s.BufferTimeoutSec < 60 {
		s.BufferTimeoutSec = 60
	}
	if s.TrendingWeight < 0 {
		s.TrendingWeight = 0
	}
	if s.TrendingWeight > 1 {
		s.TrendingWeight = 1
	}
	if s.RetentionDays < 30 {
		s.RetentionDays = 30
	}
	if s.DedupTTLSec <= 0 {
		s.DedupTTLSec = 3600
	}
	return s
}

func (s Settings) BufferTimeout() time.Duration {
	return time.Duration(s.BufferTimeoutSec) * time.Second
}

func (s Settings) DedupTTL() time.Duration {
	return time.Duration(s.DedupTTLSec) * time.Second
}

// DayOf returns the UTC calendar-date key for t.
func DayOf(t time.Time) string {
	return t.UTC().Format(DayFormat)
}

// Store is the durable state behind the counter: content lookups,
// per-item metrics, the daily ledger, the pending view buffer, dedup
// records and the settings record.
type Store interface {
	// Content lookup (read-only).
	ContentByID(id int64) (Content, error)
	ContentBySlug(slug string) (Content, error)

	// Per-item metrics.
	TotalViews(id int64) (int64, error)
	// ApplyViews adds n to the item's lifetime total and upserts the
	// ledger row for day by the same amount, atomically.
	ApplyViews(id int64, n int64, day string) error
	SetTrending(id int64, score float64) error
	SetWindowStats(id int64, ws WindowStats) error
	ItemStats(id int64) (Stats, error)
	TopByViews(limit int) ([]RankedItem, error)
	TopByTrending(limit int) ([]RankedItem, error)

	// Daily ledger.
	WindowSum(id int64, days int) (int64, error)
	LedgerActivity(days int) ([]LedgerRow, error)
	PruneLedger(retentionDays int) (int64, error)

	// Pending buffer. IncrPending must not lose concurrent increments;
	// DrainPending must atomically snapshot-and-clear so an increment
	// lands either in the snapshot or in the next flush, never nowhere.
	IncrPending(id int64) error
	PendingSum() (int64, error)
	DrainPending() (map[int64]int64, error)
	LastFlush() (time.Time, error)
	SetLastFlush(t time.Time) error

	// Dedup records.
	SeenFingerprint(fp string) (bool, error)
	MarkFingerprint(fp string, ttl time.Duration) error
	SweepFingerprints() (int64, error)

	// Settings.
	LoadSettings() (Settings, error)
	SaveSettings(s Settings) (Settings, error)
}
