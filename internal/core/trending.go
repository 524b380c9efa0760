package core

import (
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/yourname/viewpulse/internal/metrics"
	"github.com/yourname/viewpulse/internal/store"
)

const (
	// decayBase discounts a ledger row by 30% per day of age.
	decayBase          = 0.7
	activityWindowDays = 14
	maxRankedItems     = 100
)

// Trending periodically turns the daily ledger into a decayed score
// per item and prunes ledger rows past the retention window.
type Trending struct {
	store store.Store
	now   func() time.Time
}

func NewTrending(s store.Store) *Trending {
	return &Trending{store: s, now: time.Now}
}

// ComputeAll scores every item with ledger activity in the last 14
// days, keeps the top 100 by decayed score, and writes the blended
// trending score plus window stats for each. Items that drop out of
// the window keep their previous score; stale scores for inactive
// items are intentional and persist until the item re-qualifies.
//
// Any store failure aborts the run: writes already made stand, pruning
// is skipped, and the error reports how many items were scored so an
// operator can resume manually.
func (t *Trending) ComputeAll(cfg store.Settings) (int, error) {
	rows, err := t.store.LedgerActivity(activityWindowDays)
	if err != nil {
		return 0, fmt.Errorf("ledger activity: %w", err)
	}

	today, err := time.Parse(store.DayFormat, store.DayOf(t.now()))
	if err != nil {
		return 0, fmt.Errorf("parse today: %w", err)
	}

	decayed := make(map[int64]float64)
	for _, row := range rows {
		day, err := time.Parse(store.DayFormat, row.Day)
		if err != nil {
			return 0, fmt.Errorf("ledger day %q: %w", row.Day, err)
		}
		age := int(today.Sub(day).Hours() / 24)
		if age < 0 || age > activityWindowDays {
			continue
		}
		decayed[row.ContentID] += float64(row.Views) * math.Pow(decayBase, float64(age))
	}

	ids := make([]int64, 0, len(decayed))
	for id, score := range decayed {
		if score > 0 {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool {
		if decayed[ids[i]] != decayed[ids[j]] {
			return decayed[ids[i]] > decayed[ids[j]]
		}
		return ids[i] < ids[j]
	})
	if len(ids) > maxRankedItems {
		ids = ids[:maxRankedItems]
	}

	scored := 0
	for _, id := range ids {
		total, err := t.store.TotalViews(id)
		if err != nil {
			return scored, fmt.Errorf("total views for content %d (scored %d): %w", id, scored, err)
		}
		blended := decayed[id]*cfg.TrendingWeight + float64(total)*(1-cfg.TrendingWeight)
		if err := t.store.SetTrending(id, blended); err != nil {
			return scored, fmt.Errorf("set trending for content %d (scored %d): %w", id, scored, err)
		}
		ws, err := t.windowStats(id, total)
		if err != nil {
			return scored, fmt.Errorf("window stats for content %d (scored %d): %w", id, scored, err)
		}
		if err := t.store.SetWindowStats(id, ws); err != nil {
			return scored, fmt.Errorf("save window stats for content %d (scored %d): %w", id, scored, err)
		}
		scored++
	}

	pruned, err := t.store.PruneLedger(cfg.RetentionDays)
	if err != nil {
		return scored, fmt.Errorf("prune ledger (scored %d): %w", scored, err)
	}
	swept, err := t.store.SweepFingerprints()
	if err != nil {
		return scored, fmt.Errorf("sweep dedup records (scored %d): %w", scored, err)
	}

	metrics.TrendingRuns.Inc()
	metrics.TrendingItemsScored.Add(float64(scored))
	log.Info().Int("scored", scored).Int64("pruned", pruned).Int64("dedup_swept", swept).
		Msg("trending computed")
	return scored, nil
}

func (t *Trending) windowStats(id int64, total int64) (store.WindowStats, error) {
	var ws store.WindowStats
	var err error
	if ws.Views1d, err = t.store.WindowSum(id, 1); err != nil {
		return ws, err
	}
	if ws.Views7d, err = t.store.WindowSum(id, 7); err != nil {
		return ws, err
	}
	if ws.Views30d, err = t.store.WindowSum(id, 30); err != nil {
		return ws, err
	}
	ws.ViewsTotal = total
	return ws, nil
}
