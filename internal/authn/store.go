package authn

import (
	"context"
	"time"
)

// ClientStore persists client records.
type ClientStore interface {
	Create(ctx context.Context, c *Client) error
	Find(ctx context.Context, id string) (*Client, error)
	List(ctx context.Context, limit int) ([]*Client, error)
	SetEnabled(ctx context.Context, id string, enabled bool, now time.Time) error
}

// UserStore persists user records.
type UserStore interface {
	Create(ctx context.Context, u *User) error
	Find(ctx context.Context, id string) (*User, error)
	FindByEmail(ctx context.Context, clientID, email string) (*User, error)
	List(ctx context.Context, clientID string, limit int) ([]*User, error)
	SetEnabled(ctx context.Context, id string, enabled bool, now time.Time) error
	UpdateEmail(ctx context.Context, id, email string, now time.Time) error
	UpdatePassword(ctx context.Context, id, passwordHash string, now time.Time) error
}

// Store bundles the persistence surfaces the authenticator needs.
type Store interface {
	Clients() ClientStore
	Users() UserStore
}
