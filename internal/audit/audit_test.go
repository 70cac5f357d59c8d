package audit

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
)

type memStore struct {
	mu   sync.Mutex
	recs []*Record
	fail bool
}

func (s *memStore) Append(_ context.Context, rec *Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail {
		return errors.New("store down")
	}
	cp := *rec
	s.recs = append(s.recs, &cp)
	return nil
}

func (s *memStore) List(_ context.Context, q Query) ([]*Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*Record(nil), s.recs...), nil
}

func (s *memStore) DeleteBefore(_ context.Context, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var kept []*Record
	var n int64
	for _, r := range s.recs {
		if r.CreatedAt.After(cutoff) {
			kept = append(kept, r)
		} else {
			n++
		}
	}
	s.recs = kept
	return n, nil
}

func TestRecordAppends(t *testing.T) {
	store := &memStore{}
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	rec := NewRecorder(store, WithClock(func() time.Time { return now }))

	id := rec.Record(context.Background(), EventLogin, "client-1", "user-1", "", map[string]any{"remote": "10.0.0.1"})
	if id == "" {
		t.Fatal("expected a record id")
	}
	if len(store.recs) != 1 {
		t.Fatalf("expected 1 record, got %d", len(store.recs))
	}
	got := store.recs[0]
	if got.Event != EventLogin || got.ClientID != "client-1" || got.UserID != "user-1" {
		t.Fatalf("unexpected record: %+v", got)
	}
	if !got.CreatedAt.Equal(now) {
		t.Fatalf("unexpected timestamp: %v", got.CreatedAt)
	}
}

func TestRecordNeverFailsCaller(t *testing.T) {
	store := &memStore{fail: true}
	rec := NewRecorder(store)

	// A failed append returns an empty id and nothing else; the primary
	// operation must not be rolled back or aborted.
	if id := rec.Record(context.Background(), EventLoginError, "client-1", "", "", nil); id != "" {
		t.Fatalf("expected empty id on append failure, got %q", id)
	}
}

func TestRetentionSweep(t *testing.T) {
	store := &memStore{}
	now := time.Date(2026, 3, 31, 0, 0, 0, 0, time.UTC)
	rec := NewRecorder(store, WithClock(func() time.Time { return now }))

	for _, ageDays := range []int{10, 29, 30, 31, 90} {
		created := now.AddDate(0, 0, -ageDays)
		store.recs = append(store.recs, &Record{ID: created.Format(time.RFC3339), CreatedAt: created, Event: EventLogin})
	}

	n, err := rec.RetentionSweep(context.Background(), 30*24*time.Hour)
	if err != nil {
		t.Fatalf("RetentionSweep: %v", err)
	}
	if n != 3 {
		t.Fatalf("expected 3 deleted (ages 30, 31, 90), got %d", n)
	}

	// Idempotent: an immediate second sweep deletes nothing.
	n, err = rec.RetentionSweep(context.Background(), 30*24*time.Hour)
	if err != nil {
		t.Fatalf("RetentionSweep: %v", err)
	}
	if n != 0 {
		t.Fatalf("expected 0 deleted on repeat sweep, got %d", n)
	}

	if _, err := rec.RetentionSweep(context.Background(), 0); err == nil {
		t.Fatal("expected error for non-positive retention age")
	}
}

func TestPGStoreAppendAndSweep(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	mock.ExpectExec("insert into audit_log").
		WithArgs("rec-1", now, EventTokenRefresh, "client-1", "user-1", "", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("delete from audit_log where created_at").
		WithArgs(now.AddDate(0, 0, -30)).
		WillReturnResult(sqlmock.NewResult(0, 3))

	store := NewPGStore(db)
	err = store.Append(context.Background(), &Record{
		ID: "rec-1", CreatedAt: now, Event: EventTokenRefresh, ClientID: "client-1", UserID: "user-1",
	})
	if err != nil {
		t.Fatalf("Append: %v", err)
	}
	n, err := store.DeleteBefore(context.Background(), now.AddDate(0, 0, -30))
	if err != nil {
		t.Fatalf("DeleteBefore: %v", err)
	}
	if n != 3 {
		t.Fatalf("expected 3 deleted, got %d", n)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestPGStoreList(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	rows := sqlmock.NewRows([]string{"id", "created_at", "event", "client_id", "user_id", "key_id", "detail"}).
		AddRow("rec-1", now, EventLogin, "client-1", "user-1", "", []byte(`{"remote":"10.0.0.1"}`))
	mock.ExpectQuery("select id, created_at, event, client_id, user_id, key_id, detail from audit_log where client_id").
		WithArgs("client-1", 50).
		WillReturnRows(rows)

	store := NewPGStore(db)
	recs, err := store.List(context.Background(), Query{ClientID: "client-1"})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(recs) != 1 || recs[0].Detail["remote"] != "10.0.0.1" {
		t.Fatalf("unexpected records: %+v", recs)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}
