package store

import (
	"sync"
	"testing"
	"time"
)

func TestIncrPendingConcurrent(t *testing.T) {
	m := NewMemory()
	const workers = 20
	const perWorker = 50

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < perWorker; j++ {
				if err := m.IncrPending(7); err != nil {
					t.Error(err)
					return
				}
			}
		}()
	}
	wg.Wait()

	sum, err := m.PendingSum()
	if err != nil {
		t.Fatal(err)
	}
	if want := int64(workers * perWorker); sum != want {
		t.Errorf("PendingSum() = %d, want %d (lost updates)", sum, want)
	}

	drained, err := m.DrainPending()
	if err != nil {
		t.Fatal(err)
	}
	if drained[7] != int64(workers*perWorker) {
		t.Errorf("drained[7] = %d, want %d", drained[7], workers*perWorker)
	}
}

func TestDrainPendingClears(t *testing.T) {
	m := NewMemory()
	m.IncrPending(1)
	m.IncrPending(1)
	m.IncrPending(2)

	drained, err := m.DrainPending()
	if err != nil {
		t.Fatal(err)
	}
	if drained[1] != 2 || drained[2] != 1 {
		t.Errorf("drained = %v, want map[1:2 2:1]", drained)
	}

	again, err := m.DrainPending()
	if err != nil {
		t.Fatal(err)
	}
	if len(again) != 0 {
		t.Errorf("second drain = %v, want empty", again)
	}
}

func TestApplyViewsAccumulates(t *testing.T) {
	m := NewMemory()
	day := DayOf(time.Now())
	m.ApplyViews(1, 3, day)
	m.ApplyViews(1, 4, day)

	total, err := m.TotalViews(1)
	if err != nil {
		t.Fatal(err)
	}
	if total != 7 {
		t.Errorf("TotalViews = %d, want 7", total)
	}
	sum, err := m.WindowSum(1, 1)
	if err != nil {
		t.Fatal(err)
	}
	if sum != 7 {
		t.Errorf("WindowSum(1d) = %d, want 7", sum)
	}
}

func TestWindowSumExcludesOldDays(t *testing.T) {
	m := NewMemory()
	now := time.Now()
	m.ApplyViews(1, 10, DayOf(now))
	m.ApplyViews(1, 5, DayOf(now.AddDate(0, 0, -3)))
	m.ApplyViews(1, 99, DayOf(now.AddDate(0, 0, -40)))

	sum, err := m.WindowSum(1, 7)
	if err != nil {
		t.Fatal(err)
	}
	if sum != 15 {
		t.Errorf("WindowSum(7d) = %d, want 15", sum)
	}
	total, _ := m.TotalViews(1)
	if total != 114 {
		t.Errorf("TotalViews = %d, want 114", total)
	}
}

func TestPruneLedger(t *testing.T) {
	m := NewMemory()
	now := time.Now()
	m.ApplyViews(1, 10, DayOf(now))
	m.ApplyViews(1, 5, DayOf(now.AddDate(0, 0, -89)))
	m.ApplyViews(2, 3, DayOf(now.AddDate(0, 0, -100)))

	pruned, err := m.PruneLedger(90)
	if err != nil {
		t.Fatal(err)
	}
	if pruned != 1 {
		t.Errorf("pruned = %d, want 1", pruned)
	}

	// Rows inside the retention window keep their counts.
	sum, _ := m.WindowSum(1, 365)
	if sum != 15 {
		t.Errorf("WindowSum after prune = %d, want 15", sum)
	}
	sum2, _ := m.WindowSum(2, 365)
	if sum2 != 0 {
		t.Errorf("WindowSum for pruned item = %d, want 0", sum2)
	}
}

func TestFingerprintTTL(t *testing.T) {
	m := NewMemory()
	base := time.Now()
	m.now = func() time.Time { return base }

	seen, err := m.SeenFingerprint("fp1")
	if err != nil || seen {
		t.Fatalf("SeenFingerprint before mark = %v, %v; want false, nil", seen, err)
	}

	m.MarkFingerprint("fp1", time.Hour)
	if seen, _ := m.SeenFingerprint("fp1"); !seen {
		t.Error("fingerprint not visible within TTL")
	}

	m.now = func() time.Time { return base.Add(2 * time.Hour) }
	if seen, _ := m.SeenFingerprint("fp1"); seen {
		t.Error("fingerprint still visible after TTL expiry")
	}
}

func TestSweepFingerprints(t *testing.T) {
	m := NewMemory()
	base := time.Now()
	m.now = func() time.Time { return base }
	m.MarkFingerprint("old", time.Minute)
	m.MarkFingerprint("fresh", time.Hour)

	m.now = func() time.Time { return base.Add(30 * time.Minute) }
	swept, err := m.SweepFingerprints()
	if err != nil {
		t.Fatal(err)
	}
	if swept != 1 {
		t.Errorf("swept = %d, want 1", swept)
	}
	if seen, _ := m.SeenFingerprint("fresh"); !seen {
		t.Error("live fingerprint removed by sweep")
	}
}

func TestLoadSettingsDefaults(t *testing.T) {
	m := NewMemory()
	s, err := m.LoadSettings()
	if err != nil {
		t.Fatal(err)
	}
	if s != DefaultSettings() {
		t.Errorf("first load = %+v, want defaults", s)
	}
}

func TestSaveSettingsClamps(t *testing.T) {
	tests := []struct {
		name string
		in   Settings
		want func(Settings) bool
	}{
		{"buffer size floor", Settings{BufferSize: 1}, func(s Settings) bool { return s.BufferSize == 10 }},
		{"buffer size ceiling", Settings{BufferSize: 9999}, func(s Settings) bool { return s.BufferSize == 1000 }},
		{"timeout floor", Settings{BufferTimeoutSec: 5}, func(s Settings) bool { return s.BufferTimeoutSec == 60 }},
		{"weight ceiling", Settings{TrendingWeight: 1.5}, func(s Settings) bool { return s.TrendingWeight == 1 }},
		{"weight floor", Settings{TrendingWeight: -0.2}, func(s Settings) bool { return s.TrendingWeight == 0 }},
		{"retention floor", Settings{RetentionDays: 7}, func(s Settings) bool { return s.RetentionDays == 30 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := NewMemory()
			saved, err := m.SaveSettings(tt.in)
			if err != nil {
				t.Fatal(err)
			}
			if !tt.want(saved) {
				t.Errorf("saved = %+v", saved)
			}
			loaded, _ := m.LoadSettings()
			if loaded != saved {
				t.Errorf("loaded %+v differs from saved %+v", loaded, saved)
			}
		})
	}
}

func TestContentLookup(t *testing.T) {
	m := NewMemory()
	m.PutContent(Content{ID: 1, Slug: "hello-world", Status: StatusPublished})

	c, err := m.ContentByID(1)
	if err != nil || c.Slug != "hello-world" {
		t.Errorf("ContentByID = %+v, %v", c, err)
	}
	c, err = m.ContentBySlug("hello-world")
	if err != nil || c.ID != 1 {
		t.Errorf("ContentBySlug = %+v, %v", c, err)
	}
	if _, err := m.ContentByID(42); err != ErrNotFound {
		t.Errorf("missing id err = %v, want ErrNotFound", err)
	}
	if _, err := m.ContentBySlug("nope"); err != ErrNotFound {
		t.Errorf("missing slug err = %v, want ErrNotFound", err)
	}
}

func TestTopByViewsOrdering(t *testing.T) {
	m := NewMemory()
	day := DayOf(time.Now())
	m.PutContent(Content{ID: 1, Slug: "a", Status: StatusPublished})
	m.PutContent(Content{ID: 2, Slug: "b", Status: StatusPublished})
	m.PutContent(Content{ID: 3, Slug: "c", Status: StatusPublished})
	m.ApplyViews(1, 5, day)
	m.ApplyViews(2, 9, day)
	m.ApplyViews(3, 5, day)

	top, err := m.TopByViews(2)
	if err != nil {
		t.Fatal(err)
	}
	if len(top) != 2 || top[0].ContentID != 2 || top[1].ContentID != 1 {
		t.Errorf("TopByViews = %+v, want id 2 first, then id 1 by tiebreak", top)
	}
}
