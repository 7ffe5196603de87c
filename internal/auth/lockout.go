package auth

import (
	"context"
	"time"

	"salonora.app/internal/obs"
)

const (
	defaultLockThreshold = 5
	defaultLockDuration  = 15 * time.Minute
)

// LockoutTracker maintains the per-user failed-attempt counter and timed
// lock. The increment is a single conditional statement in the store, so
// concurrent failures never under-count.
type LockoutTracker struct {
	store     Store
	threshold int
	lockFor   time.Duration
	now       func() time.Time
	events    EventFunc
}

// LockoutOption configures LockoutTracker.
type LockoutOption func(*LockoutTracker)

// WithLockThreshold overrides the failure count that arms the lock.
func WithLockThreshold(n int) LockoutOption {
	return func(t *LockoutTracker) {
		if n > 0 {
			t.threshold = n
		}
	}
}

// WithLockDuration overrides the lockout window length.
func WithLockDuration(d time.Duration) LockoutOption {
	return func(t *LockoutTracker) {
		if d > 0 {
			t.lockFor = d
		}
	}
}

// WithLockoutClock overrides the time source (useful for tests).
func WithLockoutClock(fn func() time.Time) LockoutOption {
	return func(t *LockoutTracker) {
		if fn != nil {
			t.now = fn
		}
	}
}

// WithLockoutEvents injects the audit sink.
func WithLockoutEvents(fn EventFunc) LockoutOption {
	return func(t *LockoutTracker) {
		if fn != nil {
			t.events = fn
		}
	}
}

// NewLockoutTracker constructs a tracker with the default 5-failure /
// 15-minute policy.
func NewLockoutTracker(store Store, opts ...LockoutOption) *LockoutTracker {
	t := &LockoutTracker{
		store:     store,
		threshold: defaultLockThreshold,
		lockFor:   defaultLockDuration,
		now:       time.Now,
		events:    nopEvents,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// RecordFailure bumps the counter atomically and reports whether the lock
// armed. ErrNotFound propagates when the user vanished mid-request; the
// caller treats that as an authentication failure, not a crash.
func (t *LockoutTracker) RecordFailure(ctx context.Context, userID string) (locked bool, until time.Time, err error) {
	count, lockedUntil, err := t.store.Users().RecordLoginFailure(ctx, userID, t.threshold, t.lockFor)
	if err != nil {
		return false, time.Time{}, err
	}
	if lockedUntil != nil && t.now().Before(*lockedUntil) && count >= t.threshold {
		if count == t.threshold {
			// First crossing of the threshold.
			obs.CountLockout()
			t.events(ctx, "auth.lockout.triggered", map[string]any{
				"user_id":      userID,
				"failures":     count,
				"locked_until": lockedUntil.UTC().Format(time.RFC3339),
			})
		}
		return true, *lockedUntil, nil
	}
	return false, time.Time{}, nil
}

// Reset unconditionally clears the counter and lock after a successful
// login and stamps last_login.
func (t *LockoutTracker) Reset(ctx context.Context, userID string) error {
	return t.store.Users().ResetLockout(ctx, userID, t.now().UTC())
}

// IsLocked loads the user and applies the lazy-expiry check.
func (t *LockoutTracker) IsLocked(ctx context.Context, userID string) (bool, error) {
	u, err := t.store.Users().FindByID(ctx, userID)
	if err != nil {
		return false, err
	}
	locked, _ := t.Locked(u)
	return locked, nil
}

// Locked applies the lazy-expiry rule to an already loaded row: a past
// locked_until counts as unlocked without an explicit unlock write.
func (t *LockoutTracker) Locked(u *User) (bool, time.Time) {
	if u == nil || u.LockedUntil == nil {
		return false, time.Time{}
	}
	if t.now().Before(*u.LockedUntil) {
		return true, *u.LockedUntil
	}
	return false, time.Time{}
}
