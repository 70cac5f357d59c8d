package authn

import (
	"errors"
	"fmt"
)

var (
	// ErrUnauthorized is the only failure surfaced for a failed
	// authentication attempt. The specific cause is wrapped inside and
	// recorded in the audit trail, never in the response.
	ErrUnauthorized = errors.New("authn: unauthorized")

	// ErrStorageUnavailable is an infrastructure fault, kept distinct from
	// ErrUnauthorized so callers can tell "no" from "cannot answer".
	ErrStorageUnavailable = errors.New("authn: storage unavailable")

	ErrNotFound      = errors.New("authn: not found")
	ErrDisabled      = errors.New("authn: disabled")
	ErrBadSecret     = errors.New("authn: bad secret")
	ErrAlreadyExists = errors.New("authn: already exists")
)

// unauthorized wraps a cause inside ErrUnauthorized. errors.Is reports true
// for both the sentinel and the cause, so tests can assert the reason while
// transports stay opaque.
func unauthorized(cause error) error {
	if cause == nil {
		return ErrUnauthorized
	}
	return fmt.Errorf("%w: %w", ErrUnauthorized, cause)
}

// storage wraps a backend failure inside ErrStorageUnavailable.
func storage(err error) error {
	return fmt.Errorf("%w: %w", ErrStorageUnavailable, err)
}
