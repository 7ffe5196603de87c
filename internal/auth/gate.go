package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"salonora.app/internal/obs"
)

// defaultOpTimeout bounds credential lookups and lockout writes. A timeout
// is an authentication failure, never an implicit allow.
const defaultOpTimeout = 5 * time.Second

// AuthenticationGate is the request-entry orchestrator: credential
// validation with lockout tracking on one path, access token verification
// on the other.
type AuthenticationGate struct {
	store     Store
	lockout   *LockoutTracker
	issuer    *TokenIssuer
	opTimeout time.Duration
	now       func() time.Time
	events    EventFunc
}

// GateOption configures AuthenticationGate.
type GateOption func(*AuthenticationGate)

// WithOpTimeout bounds each persistence round-trip of the gate.
func WithOpTimeout(d time.Duration) GateOption {
	return func(g *AuthenticationGate) {
		if d > 0 {
			g.opTimeout = d
		}
	}
}

// WithGateClock overrides the time source (useful for tests).
func WithGateClock(fn func() time.Time) GateOption {
	return func(g *AuthenticationGate) {
		if fn != nil {
			g.now = fn
		}
	}
}

// WithGateEvents injects the audit sink.
func WithGateEvents(fn EventFunc) GateOption {
	return func(g *AuthenticationGate) {
		if fn != nil {
			g.events = fn
		}
	}
}

// NewAuthenticationGate constructs the gate.
func NewAuthenticationGate(store Store, lockout *LockoutTracker, issuer *TokenIssuer, opts ...GateOption) *AuthenticationGate {
	g := &AuthenticationGate{
		store:     store,
		lockout:   lockout,
		issuer:    issuer,
		opTimeout: defaultOpTimeout,
		now:       time.Now,
		events:    nopEvents,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// ValidateCredentials authenticates an email/password pair. The lockout
// check runs before any password comparison; an unknown email still burns a
// bcrypt comparison against a fixed placeholder so latency does not leak
// account existence.
func (g *AuthenticationGate) ValidateCredentials(ctx context.Context, email, password string, tenantHint *string) (*User, error) {
	ctx, cancel := context.WithTimeout(ctx, g.opTimeout)
	defer cancel()

	email = strings.TrimSpace(strings.ToLower(email))
	if email == "" || password == "" {
		compareDummy(password)
		obs.CountLogin("invalid")
		return nil, ErrInvalidCredentials
	}

	user, err := g.store.Users().FindByEmail(ctx, email, tenantHint)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			compareDummy(password)
			obs.CountLogin("invalid")
			g.events(ctx, "auth.login.failed", map[string]any{"email": email, "reason": "unknown_email"})
			return nil, ErrInvalidCredentials
		}
		// A persistence failure is never converted into an authorization
		// decision.
		return nil, fmt.Errorf("credential lookup: %w", err)
	}

	if locked, until := g.lockout.Locked(user); locked {
		obs.CountLogin("locked")
		g.events(ctx, "auth.login.locked", map[string]any{"user_id": user.ID})
		return nil, &LockedError{Until: until}
	}

	if err := VerifyPassword(user.PasswordHash, password); err != nil {
		if _, _, ferr := g.lockout.RecordFailure(ctx, user.ID); ferr != nil && !errors.Is(ferr, ErrNotFound) {
			return nil, fmt.Errorf("record login failure: %w", ferr)
		}
		obs.CountLogin("invalid")
		g.events(ctx, "auth.login.failed", map[string]any{"user_id": user.ID, "reason": "wrong_password"})
		return nil, ErrInvalidCredentials
	}

	if err := g.lockout.Reset(ctx, user.ID); err != nil {
		return nil, fmt.Errorf("reset lockout: %w", err)
	}
	obs.CountLogin("success")
	return user, nil
}

// Login is the credential flow end to end: validate, then issue a pair.
func (g *AuthenticationGate) Login(ctx context.Context, email, password string, tenantHint *string, meta IssueMeta) (TokenPair, Principal, error) {
	user, err := g.ValidateCredentials(ctx, email, password, tenantHint)
	if err != nil {
		return TokenPair{}, Principal{}, err
	}
	return g.issuer.Issue(ctx, user, meta)
}

// ValidateAccessToken verifies signature and expiry and returns the embedded
// principal. Callers must activate the principal's tenant context before any
// data access; TenantContextManager.Run enforces that ordering.
func (g *AuthenticationGate) ValidateAccessToken(_ context.Context, token string) (Principal, error) {
	return g.issuer.Verify(token)
}
