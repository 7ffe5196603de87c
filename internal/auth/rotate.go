package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"salonora.app/internal/obs"
)

// TokenRotationEngine validates a presented refresh token and atomically
// replaces it with a new pair. Per token row the state machine is
// Active -> Rotated, terminal; presenting an already-revoked token is a
// security incident that revokes every token of the owning user.
type TokenRotationEngine struct {
	store  Store
	issuer *TokenIssuer
	now    func() time.Time
	events EventFunc
}

// RotationOption configures TokenRotationEngine.
type RotationOption func(*TokenRotationEngine)

// WithRotationClock overrides the time source (useful for tests).
func WithRotationClock(fn func() time.Time) RotationOption {
	return func(e *TokenRotationEngine) {
		if fn != nil {
			e.now = fn
		}
	}
}

// WithRotationEvents injects the audit sink.
func WithRotationEvents(fn EventFunc) RotationOption {
	return func(e *TokenRotationEngine) {
		if fn != nil {
			e.events = fn
		}
	}
}

// NewTokenRotationEngine constructs the engine.
func NewTokenRotationEngine(store Store, issuer *TokenIssuer, opts ...RotationOption) *TokenRotationEngine {
	e := &TokenRotationEngine{
		store:  store,
		issuer: issuer,
		now:    time.Now,
		events: nopEvents,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Rotate exchanges a refresh token for a fresh pair. The whole exchange runs
// in one transaction with the token row locked, so concurrent rotations of
// the same value serialize: exactly one succeeds, the rest observe the
// revoked row and trip reuse detection. Re-presenting a rotated token
// deterministically yields ErrTokenReuse, never a silent duplicate issuance.
func (e *TokenRotationEngine) Rotate(ctx context.Context, presented string, meta IssueMeta) (TokenPair, Principal, error) {
	tokenID, secret, err := splitRefreshToken(presented)
	if err != nil {
		obs.CountRotation("invalid")
		return TokenPair{}, Principal{}, ErrInvalidToken
	}

	var (
		pair      TokenPair
		principal Principal
		reused    bool
	)
	err = e.store.WithinTx(ctx, func(s Store) error {
		tokens := s.RefreshTokens()
		rec, err := tokens.FindByIDForUpdate(ctx, tokenID)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				return ErrInvalidToken
			}
			return fmt.Errorf("load refresh token: %w", err)
		}
		if !secureCompareHash(rec.TokenHash, secret) {
			// Valid id with a wrong secret never matches a real client;
			// logged distinctly, answered identically.
			e.events(ctx, "auth.token.secret_mismatch", map[string]any{
				"refresh_token_id": rec.ID,
			})
			return ErrInvalidToken
		}
		if e.now().After(rec.ExpiresAt) {
			// Already lapsing; no revocation write needed.
			return ErrTokenExpired
		}
		if rec.Revoked {
			// The incident response must commit even though the rotation
			// fails, so the reuse outcome is signalled outside the
			// transaction instead of through its error.
			if err := e.handleReuse(ctx, tokens, rec); err != nil {
				return err
			}
			reused = true
			return nil
		}

		user, err := s.Users().FindByID(ctx, rec.UserID)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				return ErrInvalidToken
			}
			return fmt.Errorf("load token owner: %w", err)
		}

		if err := tokens.Revoke(ctx, rec.ID, ReasonRotated); err != nil {
			return fmt.Errorf("revoke rotated token: %w", err)
		}
		pair, principal, err = e.issuer.IssueTx(ctx, s, user, meta)
		if err != nil {
			return err
		}
		e.events(ctx, "auth.token.rotated", map[string]any{
			"user_id":          user.ID,
			"refresh_token_id": rec.ID,
		})
		return nil
	})
	if err == nil && reused {
		err = ErrTokenReuse
	}
	if err != nil {
		switch {
		case errors.Is(err, ErrTokenReuse):
			obs.CountRotation("reuse")
		case errors.Is(err, ErrTokenExpired):
			obs.CountRotation("expired")
		case errors.Is(err, ErrInvalidToken):
			obs.CountRotation("invalid")
		default:
			obs.CountRotation("error")
		}
		return TokenPair{}, Principal{}, err
	}
	obs.CountRotation("success")
	return pair, principal, nil
}

// RevokeByValue revokes the presented token (logout). Revoking a token that
// is already terminal is answered as success; logout is idempotent.
func (e *TokenRotationEngine) RevokeByValue(ctx context.Context, presented string) error {
	tokenID, secret, err := splitRefreshToken(presented)
	if err != nil {
		return ErrInvalidToken
	}
	return e.store.WithinTx(ctx, func(s Store) error {
		rec, err := s.RefreshTokens().FindByIDForUpdate(ctx, tokenID)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				return ErrInvalidToken
			}
			return err
		}
		if !secureCompareHash(rec.TokenHash, secret) {
			return ErrInvalidToken
		}
		if rec.Revoked {
			return nil
		}
		if err := s.RefreshTokens().Revoke(ctx, rec.ID, ReasonLogout); err != nil {
			return err
		}
		e.events(ctx, "auth.logout", map[string]any{
			"user_id":          rec.UserID,
			"refresh_token_id": rec.ID,
		})
		return nil
	})
}

// RevokeAllForUser force-signs-out every session of a user, for
// administrative action or incident response.
func (e *TokenRotationEngine) RevokeAllForUser(ctx context.Context, userID, reason string) error {
	if reason == "" {
		reason = ReasonRevokeAll
	}
	return e.store.RefreshTokens().RevokeAllForUser(ctx, userID, reason)
}

// handleReuse is the fail-secure response to a replayed token: the
// legitimate session is sacrificed so a leaked-and-used token cannot be
// leveraged even once more.
func (e *TokenRotationEngine) handleReuse(ctx context.Context, tokens RefreshTokenStore, rec *RefreshToken) error {
	if err := tokens.RevokeAllForUser(ctx, rec.UserID, ReasonReuseDetected); err != nil {
		return fmt.Errorf("revoke all after reuse: %w", err)
	}
	obs.CountReuseDetected()
	e.events(ctx, "auth.token.reuse_detected", map[string]any{
		"user_id":          rec.UserID,
		"refresh_token_id": rec.ID,
		"revoked_reason":   rec.RevokedReason,
	})
	return nil
}
