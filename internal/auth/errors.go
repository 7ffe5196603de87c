package auth

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrInvalidCredentials covers both unknown email and wrong password.
	// Callers must never distinguish the two externally.
	ErrInvalidCredentials = errors.New("auth: invalid credentials")

	// ErrAccountLocked is the comparison target for LockedError.
	ErrAccountLocked = errors.New("auth: account locked")

	// ErrTokenExpired indicates a structurally valid token past its expiry.
	ErrTokenExpired = errors.New("auth: token expired")

	// ErrInvalidToken indicates a malformed or unknown token.
	ErrInvalidToken = errors.New("auth: invalid token")

	// ErrTokenReuse indicates an already-revoked refresh token was presented
	// again. Every token of the owning user is revoked before this error is
	// returned.
	ErrTokenReuse = errors.New("auth: refresh token reuse detected")

	// ErrForbidden indicates permission scope resolution failed.
	ErrForbidden = errors.New("auth: forbidden")

	// ErrNotFound is returned by stores for missing rows.
	ErrNotFound = errors.New("auth: not found")
)

// LockedError carries the retry-after hint for an active lockout window.
// It matches ErrAccountLocked under errors.Is so callers can branch without
// inspecting the detail.
type LockedError struct {
	Until time.Time
}

func (e *LockedError) Error() string {
	return fmt.Sprintf("auth: account locked until %s", e.Until.UTC().Format(time.RFC3339))
}

func (e *LockedError) Is(target error) bool {
	return target == ErrAccountLocked
}
