package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"strconv"
	"strings"
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

func (s *PGStore) Append(ctx context.Context, rec *Record) error {
	detail, err := json.Marshal(rec.Detail)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`insert into audit_log(id, created_at, event, client_id, user_id, key_id, detail)
		 values($1,$2,$3,$4,$5,$6,$7)`,
		rec.ID, rec.CreatedAt, rec.Event, rec.ClientID, rec.UserID, rec.KeyID, detail,
	)
	return err
}

func (s *PGStore) List(ctx context.Context, q Query) ([]*Record, error) {
	var (
		where []string
		args  []any
	)
	add := func(cond string, v any) {
		args = append(args, v)
		where = append(where, cond+"$"+strconv.Itoa(len(args)))
	}
	if q.ClientID != "" {
		add("client_id=", q.ClientID)
	}
	if q.Event != "" {
		add("event=", q.Event)
	}
	if !q.CreatedGTE.IsZero() {
		add("created_at>=", q.CreatedGTE)
	}
	if !q.CreatedLTE.IsZero() {
		add("created_at<=", q.CreatedLTE)
	}
	limit := q.Limit
	if limit <= 0 || limit > 1000 {
		limit = 50
	}
	args = append(args, limit)

	query := `select id, created_at, event, client_id, user_id, key_id, detail from audit_log`
	if len(where) > 0 {
		query += ` where ` + strings.Join(where, " and ")
	}
	query += ` order by id asc limit $` + strconv.Itoa(len(args))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var recs []*Record
	for rows.Next() {
		var (
			rec    Record
			detail []byte
		)
		if err := rows.Scan(&rec.ID, &rec.CreatedAt, &rec.Event, &rec.ClientID, &rec.UserID, &rec.KeyID, &detail); err != nil {
			return nil, err
		}
		_ = json.Unmarshal(detail, &rec.Detail)
		recs = append(recs, &rec)
	}
	return recs, rows.Err()
}

func (s *PGStore) DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `delete from audit_log where created_at <= $1`, cutoff)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
