package store

import (
	"sort"
	"strings"
	"sync"
	"time"
)

// Memory is a mutex-guarded in-process Store. Used when no DSN is
// configured and as the test double. State is lost on restart, which
// is acceptable for the buffer (documented at-most-once on crash) but
// means totals and the ledger are dev-only in this mode.
type Memory struct {
	mu        sync.Mutex
	content   map[int64]Content
	totals    map[int64]int64
	trending  map[int64]float64
	windows   map[int64]WindowStats
	ledger    map[int64]map[string]int64 // content -> day -> views
	pending   map[int64]int64
	lastFlush time.Time
	dedup     map[string]time.Time // fingerprint -> expiry
	settings  *Settings
	now       func() time.Time
}

func NewMemory() *Memory {
	return &Memory{
		content:  make(map[int64]Content),
		totals:   make(map[int64]int64),
		trending: make(map[int64]float64),
		windows:  make(map[int64]WindowStats),
		ledger:   make(map[int64]map[string]int64),
		pending:  make(map[int64]int64),
		dedup:    make(map[string]time.Time),
		now:      time.Now,
	}
}

// PutContent seeds a content row; see SQLite.PutContent.
func (m *Memory) PutContent(c Content) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.content[c.ID] = c
	return nil
}

func (m *Memory) ContentByID(id int64) (Content, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.content[id]
	if !ok {
		return Content{}, ErrNotFound
	}
	return c, nil
}

func (m *Memory) ContentBySlug(slug string) (Content, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, c := range m.content {
		if strings.EqualFold(c.Slug, slug) {
			return c, nil
		}
	}
	return Content{}, ErrNotFound
}

func (m *Memory) TotalViews(id int64) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.totals[id], nil
}

func (m *Memory) ApplyViews(id int64, n int64, day string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.totals[id] += n
	days := m.ledger[id]
	if days == nil {
		days = make(map[string]int64)
		m.ledger[id] = days
	}
	days[day] += n
	return nil
}

func (m *Memory) SetTrending(id int64, score float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.trending[id] = score
	return nil
}

func (m *Memory) SetWindowStats(id int64, ws WindowStats) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.windows[id] = ws
	return nil
}

func (m *Memory) ItemStats(id int64) (Stats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.content[id]
	if !ok {
		return Stats{}, ErrNotFound
	}
	ws := m.windows[id]
	ws.ViewsTotal = m.totals[id]
	return Stats{
		ContentID:     id,
		Slug:          c.Slug,
		TotalViews:    m.totals[id],
		TrendingScore: m.trending[id],
		Windows:       ws,
	}, nil
}

func (m *Memory) TopByViews(limit int) ([]RankedItem, error) {
	return m.ranked(limit, func(a, b RankedItem) bool {
		if a.TotalViews != b.TotalViews {
			return a.TotalViews > b.TotalViews
		}
		return a.ContentID < b.ContentID
	})
}

func (m *Memory) TopByTrending(limit int) ([]RankedItem, error) {
	return m.ranked(limit, func(a, b RankedItem) bool {
		if a.TrendingScore != b.TrendingScore {
			return a.TrendingScore > b.TrendingScore
		}
		return a.ContentID < b.ContentID
	})
}

func (m *Memory) ranked(limit int, less func(a, b RankedItem) bool) ([]RankedItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	seen := make(map[int64]bool)
	var items []RankedItem
	add := func(id int64) {
		if seen[id] {
			return
		}
		seen[id] = true
		items = append(items, RankedItem{
			ContentID:     id,
			Slug:          m.content[id].Slug,
			TotalViews:    m.totals[id],
			TrendingScore: m.trending[id],
		})
	}
	for id := range m.totals {
		add(id)
	}
	for id := range m.trending {
		add(id)
	}
	sort.Slice(items, func(i, j int) bool { return less(items[i], items[j]) })
	if limit > 0 && len(items) > limit {
		items = items[:limit]
	}
	return items, nil
}

func (m *Memory) WindowSum(id int64, days int) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cutoff := DayOf(m.now().AddDate(0, 0, -days))
	var sum int64
	for day, n := range m.ledger[id] {
		if day >= cutoff {
			sum += n
		}
	}
	return sum, nil
}

func (m *Memory) LedgerActivity(days int) ([]LedgerRow, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cutoff := DayOf(m.now().AddDate(0, 0, -days))
	var rows []LedgerRow
	for id, byDay := range m.ledger {
		for day, n := range byDay {
			if day >= cutoff {
				rows = append(rows, LedgerRow{ContentID: id, Day: day, Views: n})
			}
		}
	}
	sort.Slice(rows, func(i, j int) bool {
		if rows[i].ContentID != rows[j].ContentID {
			return rows[i].ContentID < rows[j].ContentID
		}
		return rows[i].Day < rows[j].Day
	})
	return rows, nil
}

func (m *Memory) PruneLedger(retentionDays int) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cutoff := DayOf(m.now().AddDate(0, 0, -retentionDays))
	var pruned int64
	for id, byDay := range m.ledger {
		for day := range byDay {
			if day < cutoff {
				delete(byDay, day)
				pruned++
			}
		}
		if len(byDay) == 0 {
			delete(m.ledger, id)
		}
	}
	return pruned, nil
}

func (m *Memory) IncrPending(id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pending[id]++
	return nil
}

func (m *Memory) PendingSum() (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var sum int64
	for _, n := range m.pending {
		sum += n
	}
	return sum, nil
}

func (m *Memory) DrainPending() (map[int64]int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	drained := m.pending
	m.pending = make(map[int64]int64)
	for id, n := range drained {
		if n <= 0 {
			delete(drained, id)
		}
	}
	return drained, nil
}

func (m *Memory) LastFlush() (time.Time, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastFlush, nil
}

func (m *Memory) SetLastFlush(t time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lastFlush = t
	return nil
}

func (m *Memory) SeenFingerprint(fp string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	exp, ok := m.dedup[fp]
	if !ok {
		return false, nil
	}
	if !exp.After(m.now()) {
		delete(m.dedup, fp)
		return false, nil
	}
	return true, nil
}

func (m *Memory) MarkFingerprint(fp string, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.dedup[fp] = m.now().Add(ttl)
	return nil
}

func (m *Memory) SweepFingerprints() (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	var swept int64
	for fp, exp := range m.dedup {
		if !exp.After(now) {
			delete(m.dedup, fp)
			swept++
		}
	}
	return swept, nil
}

func (m *Memory) LoadSettings() (Settings, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.settings == nil {
		return DefaultSettings(), nil
	}
	return *m.settings, nil
}

func (m *Memory) SaveSettings(s Settings) (Settings, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s = s.Normalize()
	m.settings = &s
	return s, nil
}
