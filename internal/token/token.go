// Package token encodes and verifies the signed session tokens issued on
// behalf of registered clients. Each token binds a client, an optional user,
// a kind tag and an expiry into an HS256-signed compact string. The codec is
// stateless; one-time-use enforcement lives in the csrf ledger.
package token

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Kind tags a token with its purpose. The kind is part of the signed payload,
// so a token of one kind can never validate as another.
type Kind string

const (
	KindAccess         Kind = "access"
	KindRefresh        Kind = "refresh"
	KindCSRF           Kind = "csrf"
	KindRegister       Kind = "register"
	KindReset          Kind = "reset_password"
	KindUpdateEmail    Kind = "update_email"
	KindUpdatePassword Kind = "update_password"
	KindState          Kind = "oauth2_state"
)

var (
	ErrMalformed        = errors.New("token: malformed")
	ErrInvalidSignature = errors.New("token: invalid signature")
	ErrExpired          = errors.New("token: expired")
	ErrWrongKind        = errors.New("token: wrong kind")
)

// Claims is the verified claim set carried by a token.
type Claims struct {
	ClientID  string
	UserID    string
	Kind      Kind
	CSRFKey   string
	Nonce     string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

type wireClaims struct {
	Kind    string `json:"x_kind"`
	CSRFKey string `json:"x_csrf,omitempty"`
	jwt.RegisteredClaims
}

// Codec signs and verifies tokens with caller-supplied key material. Key
// material is always explicit, never ambient, so tests can inject
// deterministic keys.
type Codec struct {
	now func() time.Time
}

// Option configures Codec behavior.
type Option func(*Codec)

// WithClock overrides the time source (useful for tests).
func WithClock(fn func() time.Time) Option {
	return func(c *Codec) {
		if fn != nil {
			c.now = fn
		}
	}
}

// NewCodec constructs a Codec.
func NewCodec(opts ...Option) *Codec {
	c := &Codec{now: time.Now}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Issue builds a claim set for the client and signs it. The expiry policy is
// supplied by the caller, typically from the owning client's configured
// durations. A fresh random nonce is embedded so two tokens issued in the
// same instant never collide.
func (c *Codec) Issue(clientID, userID string, kind Kind, csrfKey string, ttl time.Duration, key []byte) (string, Claims, error) {
	if ttl <= 0 {
		return "", Claims{}, errors.New("token: ttl must be greater than zero")
	}
	now := c.now().UTC()
	claims := Claims{
		ClientID:  clientID,
		UserID:    userID,
		Kind:      kind,
		CSRFKey:   csrfKey,
		Nonce:     uuid.NewString(),
		IssuedAt:  now,
		ExpiresAt: now.Add(ttl),
	}
	signed, err := c.Encode(claims, key)
	if err != nil {
		return "", Claims{}, err
	}
	return signed, claims, nil
}

// Encode signs an explicit claim set. Issue is the usual entry point; Encode
// exists so callers can control timestamps directly.
func (c *Codec) Encode(claims Claims, key []byte) (string, error) {
	if claims.ClientID == "" {
		return "", errors.New("token: client id is required")
	}
	if claims.Kind == "" {
		return "", errors.New("token: kind is required")
	}
	if len(key) == 0 {
		return "", errors.New("token: signing key is required")
	}
	wire := wireClaims{
		Kind:    string(claims.Kind),
		CSRFKey: claims.CSRFKey,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    claims.ClientID,
			Subject:   claims.UserID,
			IssuedAt:  jwt.NewNumericDate(claims.IssuedAt),
			ExpiresAt: jwt.NewNumericDate(claims.ExpiresAt),
			ID:        claims.Nonce,
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, wire).SignedString(key)
	if err != nil {
		return "", fmt.Errorf("token: sign: %w", err)
	}
	return signed, nil
}

// Decode verifies signature, expiry and kind. Expiry is enforced with zero
// grace: a token is rejected from the instant its expiry is reached.
func (c *Codec) Decode(tok string, key []byte, expect Kind) (Claims, error) {
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(c.now),
		jwt.WithExpirationRequired(),
	)
	var wire wireClaims
	_, err := parser.ParseWithClaims(tok, &wire, func(*jwt.Token) (any, error) {
		if len(key) == 0 {
			return nil, errors.New("token: verifying key is required")
		}
		return key, nil
	})
	if err != nil {
		switch {
		case errors.Is(err, jwt.ErrTokenSignatureInvalid):
			return Claims{}, ErrInvalidSignature
		case errors.Is(err, jwt.ErrTokenExpired):
			return Claims{}, ErrExpired
		default:
			return Claims{}, ErrMalformed
		}
	}
	claims, err := fromWire(&wire)
	if err != nil {
		return Claims{}, err
	}
	if claims.Kind != expect {
		return Claims{}, ErrWrongKind
	}
	return claims, nil
}

// DecodeUnverified parses a token without checking its signature. It recovers
// the issuing client and kind so the caller can locate key material; the
// result must never be trusted until a verified Decode with that key
// succeeds.
func (c *Codec) DecodeUnverified(tok string) (Claims, error) {
	var wire wireClaims
	if _, _, err := jwt.NewParser().ParseUnverified(tok, &wire); err != nil {
		return Claims{}, ErrMalformed
	}
	return fromWire(&wire)
}

func fromWire(wire *wireClaims) (Claims, error) {
	if wire.Issuer == "" || wire.Kind == "" || wire.ExpiresAt == nil {
		return Claims{}, ErrMalformed
	}
	claims := Claims{
		ClientID:  wire.Issuer,
		UserID:    wire.Subject,
		Kind:      Kind(wire.Kind),
		CSRFKey:   wire.CSRFKey,
		Nonce:     wire.ID,
		ExpiresAt: wire.ExpiresAt.Time,
	}
	if wire.IssuedAt != nil {
		claims.IssuedAt = wire.IssuedAt.Time
	}
	return claims, nil
}
