package authn

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
)

var _ Store = (*PGStore)(nil)

// PGStore implements Store using PostgreSQL.
type PGStore struct {
	clients *PGClientStore
	users   *PGUserStore
}

func NewPGStore(db *sql.DB) *PGStore {
	return &PGStore{
		clients: &PGClientStore{db: db},
		users:   &PGUserStore{db: db},
	}
}

func (s *PGStore) Clients() ClientStore { return s.clients }
func (s *PGStore) Users() UserStore     { return s.users }

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

// PGClientStore persists client records.
type PGClientStore struct {
	db *sql.DB
}

const clientColumns = `id, name, secret_hash, token_key, enabled, redirect_uris, auto_register,
	access_ttl, refresh_ttl, csrf_ttl, register_ttl, reset_ttl, update_ttl, created_at, updated_at`

func (s *PGClientStore) Create(ctx context.Context, c *Client) error {
	uris, err := json.Marshal(c.RedirectURIs)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`insert into clients(`+clientColumns+`)
		 values($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15)`,
		c.ID, c.Name, c.SecretHash, c.TokenKey, c.Enabled, uris, c.AutoRegister,
		int64(c.Policy.AccessTTL/time.Second), int64(c.Policy.RefreshTTL/time.Second),
		int64(c.Policy.CSRFTTL/time.Second), int64(c.Policy.RegisterTTL/time.Second),
		int64(c.Policy.ResetTTL/time.Second), int64(c.Policy.UpdateTTL/time.Second),
		c.CreatedAt, c.UpdatedAt,
	)
	if isUniqueViolation(err) {
		return ErrAlreadyExists
	}
	return err
}

func (s *PGClientStore) Find(ctx context.Context, id string) (*Client, error) {
	row := s.db.QueryRowContext(ctx,
		`select `+clientColumns+` from clients where id=$1`, id)
	return scanClient(row)
}

func (s *PGClientStore) List(ctx context.Context, limit int) ([]*Client, error) {
	if limit <= 0 || limit > 1000 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		`select `+clientColumns+` from clients order by id asc limit $1`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var clients []*Client
	for rows.Next() {
		c, err := scanClient(rows)
		if err != nil {
			return nil, err
		}
		clients = append(clients, c)
	}
	return clients, rows.Err()
}

func (s *PGClientStore) SetEnabled(ctx context.Context, id string, enabled bool, now time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`update clients set enabled=$2, updated_at=$3 where id=$1`, id, enabled, now)
	if err != nil {
		return err
	}
	return requireRow(res)
}

type scanner interface {
	Scan(dest ...any) error
}

func scanClient(row scanner) (*Client, error) {
	var (
		c    Client
		uris []byte
		ttls [6]int64
	)
	err := row.Scan(&c.ID, &c.Name, &c.SecretHash, &c.TokenKey, &c.Enabled, &uris, &c.AutoRegister,
		&ttls[0], &ttls[1], &ttls[2], &ttls[3], &ttls[4], &ttls[5], &c.CreatedAt, &c.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if len(uris) > 0 {
		if err := json.Unmarshal(uris, &c.RedirectURIs); err != nil {
			return nil, err
		}
	}
	c.Policy = TokenPolicy{
		AccessTTL:   time.Duration(ttls[0]) * time.Second,
		RefreshTTL:  time.Duration(ttls[1]) * time.Second,
		CSRFTTL:     time.Duration(ttls[2]) * time.Second,
		RegisterTTL: time.Duration(ttls[3]) * time.Second,
		ResetTTL:    time.Duration(ttls[4]) * time.Second,
		UpdateTTL:   time.Duration(ttls[5]) * time.Second,
	}
	return &c, nil
}

// PGUserStore persists user records.
type PGUserStore struct {
	db *sql.DB
}

const userColumns = `id, client_id, email, name, enabled, password_hash, locale, timezone, created_at, updated_at`

func (s *PGUserStore) Create(ctx context.Context, u *User) error {
	_, err := s.db.ExecContext(ctx,
		`insert into users(`+userColumns+`)
		 values($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)`,
		u.ID, u.ClientID, u.Email, u.Name, u.Enabled, u.PasswordHash,
		u.Locale, u.Timezone, u.CreatedAt, u.UpdatedAt,
	)
	if isUniqueViolation(err) {
		return ErrAlreadyExists
	}
	return err
}

func (s *PGUserStore) Find(ctx context.Context, id string) (*User, error) {
	row := s.db.QueryRowContext(ctx,
		`select `+userColumns+` from users where id=$1`, id)
	return scanUser(row)
}

func (s *PGUserStore) FindByEmail(ctx context.Context, clientID, email string) (*User, error) {
	row := s.db.QueryRowContext(ctx,
		`select `+userColumns+` from users where client_id=$1 and email=$2`, clientID, email)
	return scanUser(row)
}

func (s *PGUserStore) List(ctx context.Context, clientID string, limit int) ([]*User, error) {
	if limit <= 0 || limit > 1000 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		`select `+userColumns+` from users where client_id=$1 order by id asc limit $2`, clientID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var users []*User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

func (s *PGUserStore) SetEnabled(ctx context.Context, id string, enabled bool, now time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`update users set enabled=$2, updated_at=$3 where id=$1`, id, enabled, now)
	if err != nil {
		return err
	}
	return requireRow(res)
}

func (s *PGUserStore) UpdateEmail(ctx context.Context, id, email string, now time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`update users set email=$2, updated_at=$3 where id=$1`, id, email, now)
	if isUniqueViolation(err) {
		return ErrAlreadyExists
	}
	if err != nil {
		return err
	}
	return requireRow(res)
}

func (s *PGUserStore) UpdatePassword(ctx context.Context, id, passwordHash string, now time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`update users set password_hash=$2, updated_at=$3 where id=$1`, id, passwordHash, now)
	if err != nil {
		return err
	}
	return requireRow(res)
}

func scanUser(row scanner) (*User, error) {
	var u User
	err := row.Scan(&u.ID, &u.ClientID, &u.Email, &u.Name, &u.Enabled, &u.PasswordHash,
		&u.Locale, &u.Timezone, &u.CreatedAt, &u.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &u, nil
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
