package csrf

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

var _ Store = (*PGStore)(nil)

// PGStore implements Store using PostgreSQL.
type PGStore struct {
	db *sql.DB
}

func NewPGStore(db *sql.DB) *PGStore {
	return &PGStore{db: db}
}

func (s *PGStore) Create(ctx context.Context, e *Entry) error {
	_, err := s.db.ExecContext(ctx,
		`insert into csrf(key, value, client_id, expires_at, created_at) values($1,$2,$3,$4,$5)`,
		e.Key, e.Value, e.ClientID, e.ExpiresAt, e.CreatedAt,
	)
	return err
}

// Consume transitions an outstanding entry to consumed with one conditional
// update. The row is only touched when it is still issued and unexpired, so
// concurrent calls cannot both succeed. The follow-up read merely classifies
// a failure and has no bearing on the winner.
func (s *PGStore) Consume(ctx context.Context, key string, now time.Time) (ConsumeState, *Entry, error) {
	var e Entry
	err := s.db.QueryRowContext(ctx,
		`update csrf set consumed_at=$2
		 where key=$1 and consumed_at is null and expires_at > $2
		 returning key, value, client_id, expires_at, created_at`,
		key, now,
	).Scan(&e.Key, &e.Value, &e.ClientID, &e.ExpiresAt, &e.CreatedAt)
	if err == nil {
		consumed := now
		e.ConsumedAt = &consumed
		return StateConsumed, &e, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return StateMissing, nil, err
	}

	var (
		consumedAt sql.NullTime
		expiresAt  time.Time
	)
	err = s.db.QueryRowContext(ctx,
		`select consumed_at, expires_at from csrf where key=$1`, key,
	).Scan(&consumedAt, &expiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return StateMissing, nil, nil
	}
	if err != nil {
		return StateMissing, nil, err
	}
	if consumedAt.Valid {
		return StateSpent, nil, nil
	}
	return StateExpired, nil, nil
}

func (s *PGStore) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`delete from csrf where expires_at <= $1`, now)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
