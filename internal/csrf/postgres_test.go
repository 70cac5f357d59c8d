package csrf

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
)

func TestPGStoreConsumeOutstanding(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	rows := sqlmock.NewRows([]string{"key", "value", "client_id", "expires_at", "created_at"}).
		AddRow("k1", "k1", "client-1", now.Add(time.Minute), now.Add(-time.Minute))
	mock.ExpectQuery("update csrf set consumed_at").WithArgs("k1", now).WillReturnRows(rows)

	store := NewPGStore(db)
	state, entry, err := store.Consume(context.Background(), "k1", now)
	if err != nil {
		t.Fatalf("Consume: %v", err)
	}
	if state != StateConsumed {
		t.Fatalf("expected StateConsumed, got %v", state)
	}
	if entry == nil || entry.ConsumedAt == nil {
		t.Fatal("expected consumed entry with timestamp")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestPGStoreConsumeClassifiesFailures(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	cases := []struct {
		name  string
		setup func(mock sqlmock.Sqlmock)
		want  ConsumeState
	}{
		{
			name: "missing",
			setup: func(mock sqlmock.Sqlmock) {
				mock.ExpectQuery("update csrf set consumed_at").WithArgs("k1", now).WillReturnError(sql.ErrNoRows)
				mock.ExpectQuery("select consumed_at, expires_at from csrf").WithArgs("k1").WillReturnError(sql.ErrNoRows)
			},
			want: StateMissing,
		},
		{
			name: "spent",
			setup: func(mock sqlmock.Sqlmock) {
				mock.ExpectQuery("update csrf set consumed_at").WithArgs("k1", now).WillReturnError(sql.ErrNoRows)
				mock.ExpectQuery("select consumed_at, expires_at from csrf").WithArgs("k1").
					WillReturnRows(sqlmock.NewRows([]string{"consumed_at", "expires_at"}).
						AddRow(now.Add(-time.Minute), now.Add(time.Minute)))
			},
			want: StateSpent,
		},
		{
			name: "expired",
			setup: func(mock sqlmock.Sqlmock) {
				mock.ExpectQuery("update csrf set consumed_at").WithArgs("k1", now).WillReturnError(sql.ErrNoRows)
				mock.ExpectQuery("select consumed_at, expires_at from csrf").WithArgs("k1").
					WillReturnRows(sqlmock.NewRows([]string{"consumed_at", "expires_at"}).
						AddRow(nil, now.Add(-time.Minute)))
			},
			want: StateExpired,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			db, mock, err := sqlmock.New()
			if err != nil {
				t.Fatalf("sqlmock.New: %v", err)
			}
			defer db.Close()

			tc.setup(mock)
			store := NewPGStore(db)
			state, _, err := store.Consume(context.Background(), "k1", now)
			if err != nil {
				t.Fatalf("Consume: %v", err)
			}
			if state != tc.want {
				t.Fatalf("expected %v, got %v", tc.want, state)
			}
			if err := mock.ExpectationsWereMet(); err != nil {
				t.Fatalf("unmet expectations: %v", err)
			}
		})
	}
}

func TestPGStoreCreateAndSweep(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	entry := &Entry{Key: "k1", Value: "k1", ClientID: "client-1", ExpiresAt: now.Add(time.Minute), CreatedAt: now}

	mock.ExpectExec("insert into csrf").
		WithArgs(entry.Key, entry.Value, entry.ClientID, entry.ExpiresAt, entry.CreatedAt).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("delete from csrf where expires_at").
		WithArgs(now).
		WillReturnResult(sqlmock.NewResult(0, 2))

	store := NewPGStore(db)
	if err := store.Create(context.Background(), entry); err != nil {
		t.Fatalf("Create: %v", err)
	}
	n, err := store.DeleteExpired(context.Background(), now)
	if err != nil {
		t.Fatalf("DeleteExpired: %v", err)
	}
	if n != 2 {
		t.Fatalf("expected 2 deleted, got %d", n)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}
