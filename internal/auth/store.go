package auth

import (
	"context"
	"time"
)

// Store describes the persistence operations required by the auth core. All
// mutation of shared state goes through the atomic lockout update or a
// transaction obtained here; nothing reads a counter, computes in memory,
// and writes it back.
type Store interface {
	Users() UserStore
	RefreshTokens() RefreshTokenStore
	Roles() RoleStore

	// WithinTx runs fn against a Store bound to a single transaction. The
	// transaction commits when fn returns nil and rolls back otherwise.
	// Nested calls join the enclosing transaction.
	WithinTx(ctx context.Context, fn func(Store) error) error

	// WithTenant runs fn in a transaction whose tenant session variable has
	// been set before fn observes the Store, so no query can run ahead of
	// activation. nil clears tenant scoping entirely (super-admin mode).
	// The tenant id must come from a verified token claim or an internal
	// system call, never from raw request input.
	WithTenant(ctx context.Context, tenantID *string, fn func(Store) error) error

	// ActiveTenant reports the tenant bound by an enclosing WithTenant.
	ActiveTenant() (tenantID *string, bound bool)
}

// UserStore manages user rows. Every lookup excludes soft-deleted users; a
// deleted user must fail all authentication paths.
type UserStore interface {
	Create(ctx context.Context, u *User) error
	FindByID(ctx context.Context, id string) (*User, error)

	// FindByEmail scopes by tenant when a hint is given; email uniqueness is
	// per tenant. Without a hint an ambiguous email resolves to ErrNotFound.
	FindByEmail(ctx context.Context, email string, tenantHint *string) (*User, error)

	// RecordLoginFailure increments failed_login_count and arms locked_until
	// in one atomic conditional statement, returning the post-increment
	// state. ErrNotFound when the user vanished mid-request.
	RecordLoginFailure(ctx context.Context, userID string, threshold int, lockFor time.Duration) (count int, lockedUntil *time.Time, err error)

	// ResetLockout clears the failure counter and lock and stamps last_login.
	ResetLockout(ctx context.Context, userID string, lastLogin time.Time) error
}

// RefreshTokenStore manages the persisted half of credential pairs.
type RefreshTokenStore interface {
	Create(ctx context.Context, tok *RefreshToken) error
	FindByID(ctx context.Context, id string) (*RefreshToken, error)

	// FindByIDForUpdate locks the row for the enclosing transaction so
	// concurrent rotations of the same token serialize. Only valid inside
	// WithinTx.
	FindByIDForUpdate(ctx context.Context, id string) (*RefreshToken, error)

	// Revoke marks a row terminal. A row that is already revoked is left
	// untouched and reported as ErrNotFound; no path un-revokes.
	Revoke(ctx context.Context, id, reason string) error

	// RevokeAllForUser revokes every active token of the user. Revoking an
	// already-empty set is not an error.
	RevokeAllForUser(ctx context.Context, userID, reason string) error
}

// RoleStore resolves roles and their permission sets.
type RoleStore interface {
	Create(ctx context.Context, role *Role) error
	Find(ctx context.Context, id string) (*Role, error)
}
