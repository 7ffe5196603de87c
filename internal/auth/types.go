package auth

import "time"

// Revocation reasons recorded on refresh token rows.
const (
	ReasonRotated       = "rotated"
	ReasonReuseDetected = "reuse-detected"
	ReasonLogout        = "logout"
	ReasonRevokeAll     = "revoke-all"
)

// User is an operator or staff account. TenantID nil designates a
// super-admin with cross-tenant reach. Email is unique within a tenant,
// not globally.
type User struct {
	ID           string
	TenantID     *string
	Email        string
	PasswordHash string
	RoleID       string

	// AdditionalPermissions are granted on top of the role's set.
	AdditionalPermissions []string

	// FailedLoginCount and LockedUntil are mutated only by LockoutTracker.
	FailedLoginCount int
	LockedUntil      *time.Time
	LastLogin        *time.Time

	CreatedAt time.Time
	UpdatedAt time.Time
	DeletedAt *time.Time
}

// Role groups permission strings. TenantID nil marks a system-wide role;
// IsSystem roles keep an immutable permission set.
type Role struct {
	ID          string
	TenantID    *string
	Name        string
	Permissions []string
	IsSystem    bool
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// RefreshToken is the persisted half of a credential pair. Only the SHA-256
// hash of the secret is stored; the row is terminal once Revoked is true.
type RefreshToken struct {
	ID            string
	UserID        string
	TokenHash     string
	ExpiresAt     time.Time
	Revoked       bool
	RevokedAt     *time.Time
	RevokedReason string

	// Forensics only. Never consulted for authorization decisions.
	DeviceInfo string
	IPAddress  string

	CreatedAt time.Time
}

// TokenPair is the issued credential pair returned to clients.
type TokenPair struct {
	AccessToken      string
	RefreshToken     string
	AccessExpiresAt  time.Time
	RefreshExpiresAt time.Time
}

// ExpiresIn reports the access token lifetime remaining at issuance,
// rounded down to whole seconds for the wire.
func (p TokenPair) ExpiresIn(now time.Time) int64 {
	d := p.AccessExpiresAt.Sub(now)
	if d < 0 {
		return 0
	}
	return int64(d.Seconds())
}
