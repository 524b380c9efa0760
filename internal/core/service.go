package core

import (
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/yourname/viewpulse/internal/metrics"
	"github.com/yourname/viewpulse/internal/store"
)

// ErrNoIdentifier is returned when a view event names neither a
// content id nor a slug.
var ErrNoIdentifier = errors.New("content id or slug required")

// Service orchestrates the view pipeline: resolve the target, filter
// duplicates and bots, then either buffer the increment or apply it
// synchronously.
type Service struct {
	store    store.Store
	filter   *Filter
	buffer   *Buffer
	trending *Trending
	now      func() time.Time
}

func NewService(s store.Store) *Service {
	return &Service{
		store:    s,
		filter:   NewFilter(s),
		buffer:   NewBuffer(s),
		trending: NewTrending(s),
		now:      time.Now,
	}
}

// ViewResult is the increment-view response contract.
type ViewResult struct {
	Count       int64  `json:"count"`
	Incremented bool   `json:"incremented"`
	Buffered    bool   `json:"buffered"`
	Reason      string `json:"reason,omitempty"`
}

// RecordView handles one incoming view event. contentID of 0 means
// resolve by slug. Returns ErrNoIdentifier, store.ErrNotFound or
// store.ErrNotPublished for client errors.
func (s *Service) RecordView(contentID int64, slug, ip, userAgent string) (ViewResult, error) {
	content, err := s.resolve(contentID, slug)
	if err != nil {
		return ViewResult{}, err
	}
	id := content.ID

	ok, reason, err := s.filter.ShouldCount(id, ip, userAgent)
	if err != nil {
		return ViewResult{}, err
	}
	if !ok {
		metrics.ViewsSkipped.WithLabelValues(reason).Inc()
		total, err := s.store.TotalViews(id)
		if err != nil {
			return ViewResult{}, fmt.Errorf("total views: %w", err)
		}
		return ViewResult{Count: total, Incremented: false, Reason: reason}, nil
	}

	cfg, err := s.store.LoadSettings()
	if err != nil {
		return ViewResult{}, fmt.Errorf("load settings: %w", err)
	}

	if cfg.BufferEnabled {
		if err := s.buffer.Add(id); err != nil {
			return ViewResult{}, fmt.Errorf("buffer add: %w", err)
		}
		due, err := s.buffer.ShouldAutoFlush(cfg)
		if err != nil {
			log.Error().Err(err).Msg("auto-flush check")
		} else if due {
			if _, err := s.buffer.Flush(); err != nil {
				log.Error().Err(err).Msg("auto flush")
			}
		}
		s.markViewed(id, ip, userAgent, cfg)
		metrics.ViewsCounted.Inc()

		// Estimate: the buffered increment is not in the total yet.
		total, err := s.store.TotalViews(id)
		if err != nil {
			return ViewResult{}, fmt.Errorf("total views: %w", err)
		}
		return ViewResult{Count: total + 1, Incremented: true, Buffered: true}, nil
	}

	if err := s.store.ApplyViews(id, 1, store.DayOf(s.now())); err != nil {
		return ViewResult{}, fmt.Errorf("apply view: %w", err)
	}
	s.markViewed(id, ip, userAgent, cfg)
	metrics.ViewsCounted.Inc()

	total, err := s.store.TotalViews(id)
	if err != nil {
		return ViewResult{}, fmt.Errorf("total views: %w", err)
	}
	return ViewResult{Count: total, Incremented: true, Buffered: false}, nil
}

func (s *Service) resolve(contentID int64, slug string) (store.Content, error) {
	var (
		content store.Content
		err     error
	)
	switch {
	case contentID != 0:
		content, err = s.store.ContentByID(contentID)
	case slug != "":
		content, err = s.store.ContentBySlug(slug)
	default:
		return store.Content{}, ErrNoIdentifier
	}
	if err != nil {
		return store.Content{}, err
	}
	if content.Status != store.StatusPublished {
		return store.Content{}, store.ErrNotPublished
	}
	return content, nil
}

// markViewed is best-effort: a failed dedup write may let a repeat
// view through, never block an accepted one.
func (s *Service) markViewed(id int64, ip, userAgent string, cfg store.Settings) {
	if err := s.filter.MarkViewed(id, ip, userAgent, cfg.DedupTTL()); err != nil {
		log.Error().Err(err).Int64("content_id", id).Msg("mark dedup record")
	}
}

// Status is the status-endpoint payload.
type Status struct {
	BufferEnabled bool           `json:"buffer_enabled"`
	BufferSize    int64          `json:"buffer_size"`
	BufferMax     int            `json:"buffer_max"`
	LastFlush     *time.Time     `json:"last_flush,omitempty"`
	Settings      store.Settings `json:"settings"`
}

func (s *Service) Status() (Status, error) {
	cfg, err := s.store.LoadSettings()
	if err != nil {
		return Status{}, fmt.Errorf("load settings: %w", err)
	}
	sum, err := s.store.PendingSum()
	if err != nil {
		return Status{}, fmt.Errorf("pending sum: %w", err)
	}
	last, err := s.store.LastFlush()
	if err != nil {
		return Status{}, fmt.Errorf("last flush: %w", err)
	}
	st := Status{
		BufferEnabled: cfg.BufferEnabled,
		BufferSize:    sum,
		BufferMax:     cfg.BufferSize,
		Settings:      cfg,
	}
	if !last.IsZero() {
		utc := last.UTC()
		st.LastFlush = &utc
	}
	return st, nil
}

// ForceFlush flushes the buffer on demand. The bool reports whether
// anything was written.
func (s *Service) ForceFlush() (bool, error) {
	return s.buffer.Flush()
}

// ForceTrending recomputes trending scores on demand and returns the
// number of items scored.
func (s *Service) ForceTrending() (int, error) {
	cfg, err := s.store.LoadSettings()
	if err != nil {
		return 0, fmt.Errorf("load settings: %w", err)
	}
	return s.trending.ComputeAll(cfg)
}

func (s *Service) Settings() (store.Settings, error) {
	return s.store.LoadSettings()
}

// UpdateSettings persists a new settings record, clamped to valid
// ranges, and returns what was actually stored.
func (s *Service) UpdateSettings(cfg store.Settings) (store.Settings, error) {
	return s.store.SaveSettings(cfg)
}

func (s *Service) ItemStats(id int64) (store.Stats, error) {
	return s.store.ItemStats(id)
}

func (s *Service) TopByViews(limit int) ([]store.RankedItem, error) {
	return s.store.TopByViews(limit)
}

func (s *Service) TopByTrending(limit int) ([]store.RankedItem, error) {
	return s.store.TopByTrending(limit)
}
