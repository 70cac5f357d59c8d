package apikey

import (
	"context"
	"database/sql"
	"errors"
)

var _ Store = (*PGStore)(nil)

// PGStore implements Store using PostgreSQL.
type PGStore struct {
	db *sql.DB
}

func NewPGStore(db *sql.DB) *PGStore {
	return &PGStore{db: db}
}

const keyColumns = `id, service_id, user_id, name, secret_hash, is_enabled, is_revoked, expires_at, created_at, updated_at`

func (s *PGStore) Create(ctx context.Context, k *Key) error {
	_, err := s.db.ExecContext(ctx,
		`insert into api_keys(id, service_id, user_id, name, secret_hash, is_enabled, is_revoked, expires_at, created_at, updated_at)
		 values($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)`,
		k.ID, k.ServiceID, k.UserID, k.Name, k.SecretHash, k.Enabled, k.Revoked, k.ExpiresAt, k.CreatedAt, k.UpdatedAt,
	)
	return err
}

func (s *PGStore) Find(ctx context.Context, id string) (*Key, error) {
	row := s.db.QueryRowContext(ctx,
		`select `+keyColumns+` from api_keys where id=$1`, id)
	return scanKey(row)
}

func (s *PGStore) List(ctx context.Context, serviceID string, limit int) ([]*Key, error) {
	if limit <= 0 || limit > 1000 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		`select `+keyColumns+` from api_keys where service_id=$1 order by id limit $2`,
		serviceID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var keys []*Key
	for rows.Next() {
		k, err := scanKey(rows)
		if err != nil {
			return nil, err
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}

func (s *PGStore) SetEnabled(ctx context.Context, id string, enabled bool) error {
	res, err := s.db.ExecContext(ctx,
		`update api_keys set is_enabled=$2, updated_at=now() where id=$1`, id, enabled)
	if err != nil {
		return err
	}
	return requireRow(res)
}

func (s *PGStore) SetRevoked(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx,
		`update api_keys set is_enabled=false, is_revoked=true, updated_at=now() where id=$1`, id)
	if err != nil {
		return err
	}
	return requireRow(res)
}

type scanner interface {
	Scan(dest ...any) error
}

func scanKey(row scanner) (*Key, error) {
	var (
		k         Key
		expiresAt sql.NullTime
	)
	err := row.Scan(&k.ID, &k.ServiceID, &k.UserID, &k.Name, &k.SecretHash,
		&k.Enabled, &k.Revoked, &expiresAt, &k.CreatedAt, &k.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if expiresAt.Valid {
		k.ExpiresAt = &expiresAt.Time
	}
	return &k, nil
}

func requireRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
