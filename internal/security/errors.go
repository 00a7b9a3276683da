package security

import "errors"

var (
	// ErrGuestCodeInvalid means the presented code does not exist.
	ErrGuestCodeInvalid = errors.New("guest code not recognized")
	// ErrGuestCodeRevoked means the code exists but was revoked.
	ErrGuestCodeRevoked = errors.New("guest code revoked")
	// ErrGuestCodeExpired means the code exists but is past its expiry.
	ErrGuestCodeExpired = errors.New("guest code expired")
	// ErrGuestCodeExhausted means the code has no uses left.
	ErrGuestCodeExhausted = errors.New("guest code has no remaining uses")

	// ErrBlocked means the identifier is on the block list.
	ErrBlocked = errors.New("identifier is blocked")
)
