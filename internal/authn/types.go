package authn

import "time"

// TokenPolicy holds the per-client expiry durations for every token kind the
// client can have issued.
type TokenPolicy struct {
	AccessTTL   time.Duration
	RefreshTTL  time.Duration
	CSRFTTL     time.Duration
	RegisterTTL time.Duration
	ResetTTL    time.Duration
	UpdateTTL   time.Duration
}

// withDefaults fills zero fields with service defaults.
func (p TokenPolicy) withDefaults() TokenPolicy {
	def := func(d *time.Duration, fallback time.Duration) {
		if *d <= 0 {
			*d = fallback
		}
	}
	def(&p.AccessTTL, time.Hour)
	def(&p.RefreshTTL, 7*24*time.Hour)
	def(&p.CSRFTTL, time.Hour)
	def(&p.RegisterTTL, 24*time.Hour)
	def(&p.ResetTTL, time.Hour)
	def(&p.UpdateTTL, 24*time.Hour)
	return p
}

// Client is a registered service allowed to request credential operations on
// behalf of its users. TokenKey is the client's HS256 signing material; every
// token the client owns is signed and verified with it. Clients are never
// deleted, only disabled, so audit history stays resolvable.
type Client struct {
	ID           string
	Name         string
	SecretHash   string
	TokenKey     []byte
	Enabled      bool
	RedirectURIs []string
	AutoRegister bool
	Policy       TokenPolicy
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// User is an end-user account scoped to a client. An empty PasswordHash
// means the account is passwordless and can only sign in through an OAuth2
// provider.
type User struct {
	ID           string
	ClientID     string
	Email        string
	Name         string
	Enabled      bool
	PasswordHash string
	Locale       string
	Timezone     string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Principal is the identity proven by a successful authentication.
type Principal struct {
	Client *Client
	User   *User
	KeyID  string
}

// TokenPair is an access token plus the single-use refresh token that can
// rotate it.
type TokenPair struct {
	Access           string
	AccessExpiresAt  time.Time
	Refresh          string
	RefreshExpiresAt time.Time
}
