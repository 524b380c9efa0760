package core

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/yourname/viewpulse/internal/metrics"
	"github.com/yourname/viewpulse/internal/store"
)

// Buffer accumulates pending view increments in the store and writes
// them out in batches, so a burst of views costs one ledger write per
// item instead of one per event.
type Buffer struct {
	store store.Store
	mu    sync.Mutex // serializes flushes
	now   func() time.Time
}

func NewBuffer(s store.Store) *Buffer {
	return &Buffer{store: s, now: time.Now}
}

// Add increments the pending count for the item by one.
func (b *Buffer) Add(contentID int64) error {
	return b.store.IncrPending(contentID)
}

// ShouldAutoFlush reports whether the buffer is due: the sum of
// pending increments reached the configured size, or the configured
// timeout elapsed since the last flush. A buffer that has never
// flushed starts its clock on the first pending increment.
func (b *Buffer) ShouldAutoFlush(cfg store.Settings) (bool, error) {
	sum, err := b.store.PendingSum()
	if err != nil {
		return false, fmt.Errorf("pending sum: %w", err)
	}
	if sum == 0 {
		return false, nil
	}
	if sum >= int64(cfg.BufferSize) {
		return true, nil
	}
	last, err := b.store.LastFlush()
	if err != nil {
		return false, fmt.Errorf("last flush: %w", err)
	}
	if last.IsZero() {
		if err := b.store.SetLastFlush(b.now()); err != nil {
			return false, fmt.Errorf("stamp last flush: %w", err)
		}
		return false, nil
	}
	return b.now().Sub(last) >= cfg.BufferTimeout(), nil
}

// Flush drains the buffer and applies each pending increment to the
// item's lifetime total and today's ledger row together. Returns false
// when there was nothing to flush.
//
// The drain is atomic, so increments arriving during a flush land in
// the next one. Increments drained but not yet applied are lost if the
// process dies mid-flush; that at-most-once window is an accepted
// limitation of the buffered mode.
func (b *Buffer) Flush() (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	pending, err := b.store.DrainPending()
	if err != nil {
		return false, fmt.Errorf("drain buffer: %w", err)
	}
	if len(pending) == 0 {
		return false, nil
	}

	ids := make([]int64, 0, len(pending))
	for id := range pending {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	day := store.DayOf(b.now())
	var applied int64
	for _, id := range ids {
		n := pending[id]
		if n <= 0 {
			continue
		}
		if err := b.store.ApplyViews(id, n, day); err != nil {
			return true, fmt.Errorf("apply %d pending views for content %d: %w", n, id, err)
		}
		applied += n
	}

	if err := b.store.SetLastFlush(b.now()); err != nil {
		return true, fmt.Errorf("stamp last flush: %w", err)
	}

	metrics.BufferFlushes.Inc()
	metrics.BufferFlushedViews.Add(float64(applied))
	log.Debug().Int("items", len(ids)).Int64("views", applied).Msg("buffer flushed")
	return true, nil
}
