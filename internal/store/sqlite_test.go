package store

import (
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
)

func newMockStore(t *testing.T) (*SQLite, sqlmock.Sqlmock, func()) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create mock: %v", err)
	}
	return NewSQLite(db), mock, func() { db.Close() }
}

func TestSQLiteIncrPending(t *testing.T) {
	s, mock, done := newMockStore(t)
	defer done()

	mock.ExpectExec("INSERT INTO view_buffer").
		WithArgs(int64(5)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := s.IncrPending(5); err != nil {
		t.Fatal(err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestSQLiteApplyViewsTransactional(t *testing.T) {
	s, mock, done := newMockStore(t)
	defer done()

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO view_metrics").
		WithArgs(int64(1), int64(4)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO view_ledger").
		WithArgs(int64(1), "2026-08-28", int64(4)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	if err := s.ApplyViews(1, 4, "2026-08-28"); err != nil {
		t.Fatal(err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestSQLiteApplyViewsRollsBackOnLedgerError(t *testing.T) {
	s, mock, done := newMockStore(t)
	defer done()

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO view_metrics").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO view_ledger").
		WillReturnError(errors.New("disk full"))
	mock.ExpectRollback()

	if err := s.ApplyViews(1, 4, "2026-08-28"); err == nil {
		t.Fatal("expected error, got nil")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestSQLiteDrainPending(t *testing.T) {
	s, mock, done := newMockStore(t)
	defer done()

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT content_id, pending FROM view_buffer").
		WillReturnRows(sqlmock.NewRows([]string{"content_id", "pending"}).
			AddRow(1, 3).
			AddRow(2, 7))
	mock.ExpectExec("DELETE FROM view_buffer").
		WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectCommit()

	pending, err := s.DrainPending()
	if err != nil {
		t.Fatal(err)
	}
	if pending[1] != 3 || pending[2] != 7 || len(pending) != 2 {
		t.Errorf("pending = %v, want map[1:3 2:7]", pending)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestSQLiteDrainPendingEmptySkipsDelete(t *testing.T) {
	s, mock, done := newMockStore(t)
	defer done()

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT content_id, pending FROM view_buffer").
		WillReturnRows(sqlmock.NewRows([]string{"content_id", "pending"}))
	mock.ExpectCommit()

	pending, err := s.DrainPending()
	if err != nil {
		t.Fatal(err)
	}
	if len(pending) != 0 {
		t.Errorf("pending = %v, want empty", pending)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestSQLitePruneLedger(t *testing.T) {
	s, mock, done := newMockStore(t)
	defer done()

	mock.ExpectExec("DELETE FROM view_ledger").
		WillReturnResult(sqlmock.NewResult(0, 42))

	pruned, err := s.PruneLedger(90)
	if err != nil {
		t.Fatal(err)
	}
	if pruned != 42 {
		t.Errorf("pruned = %d, want 42", pruned)
	}
}

func TestSQLiteLoadSettingsDefaultsWhenMissing(t *testing.T) {
	s, mock, done := newMockStore(t)
	defer done()

	mock.ExpectQuery("FROM settings").WillReturnError(sql.ErrNoRows)

	got, err := s.LoadSettings()
	if err != nil {
		t.Fatal(err)
	}
	if got != DefaultSettings() {
		t.Errorf("settings = %+v, want defaults", got)
	}
}

func TestSQLiteTotalViewsZeroWhenMissing(t *testing.T) {
	s, mock, done := newMockStore(t)
	defer done()

	mock.ExpectQuery("SELECT total_views FROM view_metrics").
		WithArgs(int64(9)).
		WillReturnError(sql.ErrNoRows)

	n, err := s.TotalViews(9)
	if err != nil {
		t.Fatal(err)
	}
	if n != 0 {
		t.Errorf("TotalViews = %d, want 0", n)
	}
}

func TestSQLiteSeenFingerprint(t *testing.T) {
	s, mock, done := newMockStore(t)
	defer done()
	s.now = func() time.Time { return time.Date(2026, 8, 28, 12, 0, 0, 0, time.UTC) }

	mock.ExpectQuery("SELECT 1 FROM view_dedup").
		WillReturnRows(sqlmock.NewRows([]string{"1"}).AddRow(1))

	seen, err := s.SeenFingerprint("abc")
	if err != nil {
		t.Fatal(err)
	}
	if !seen {
		t.Error("expected fingerprint to be seen")
	}

	mock.ExpectQuery("SELECT 1 FROM view_dedup").
		WillReturnError(sql.ErrNoRows)
	seen, err = s.SeenFingerprint("other")
	if err != nil {
		t.Fatal(err)
	}
	if seen {
		t.Error("expected fingerprint to be unseen")
	}
}
