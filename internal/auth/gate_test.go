package auth_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"salonora.app/internal/auth"
	"salonora.app/internal/auth/authtest"
)

const testSecret = "0123456789abcdef0123456789abcdef"

type fixture struct {
	store   *authtest.Store
	lockout *auth.LockoutTracker
	issuer  *auth.TokenIssuer
	gate    *auth.AuthenticationGate
	user    *auth.User
	now     time.Time
	clock   func() time.Time
	advance func(time.Duration)
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		store: authtest.NewStore(),
		now:   time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC),
	}
	f.clock = func() time.Time { return f.now }
	f.advance = func(d time.Duration) { f.now = f.now.Add(d) }
	f.store.Now = f.clock

	issuer, err := auth.NewTokenIssuer(f.store, []byte(testSecret), auth.WithIssuerClock(f.clock))
	if err != nil {
		t.Fatalf("NewTokenIssuer: %v", err)
	}
	f.issuer = issuer
	f.lockout = auth.NewLockoutTracker(f.store, auth.WithLockoutClock(f.clock))
	f.gate = auth.NewAuthenticationGate(f.store, f.lockout, issuer, auth.WithGateClock(f.clock))

	tenant := "ten-1"
	f.store.AddRole(&auth.Role{ID: "role-stylist", TenantID: &tenant, Name: "stylist",
		Permissions: []string{"appointments:read:own", "clients:read:own"}})
	hash, err := auth.HashPassword("opensesame")
	if err != nil {
		t.Fatalf("HashPassword: %v", err)
	}
	f.user = f.store.AddUser(&auth.User{
		TenantID:     &tenant,
		Email:        "sam@ten-1.example",
		PasswordHash: hash,
		RoleID:       "role-stylist",
	})
	return f
}

func TestValidateCredentialsSuccess(t *testing.T) {
	f := newFixture(t)

	// Email lookup is case-insensitive; a prior failure is cleared on success.
	if _, err := f.gate.ValidateCredentials(context.Background(), "sam@ten-1.example", "wrong", nil); !errors.Is(err, auth.ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials, got %v", err)
	}
	user, err := f.gate.ValidateCredentials(context.Background(), "  SAM@ten-1.example ", "opensesame", nil)
	if err != nil {
		t.Fatalf("ValidateCredentials: %v", err)
	}
	if user.ID != f.user.ID {
		t.Fatalf("unexpected user %s", user.ID)
	}

	row, _ := f.store.User(f.user.ID)
	if row.FailedLoginCount != 0 {
		t.Fatalf("counter not reset, got %d", row.FailedLoginCount)
	}
	if row.LastLogin == nil || !row.LastLogin.Equal(f.now) {
		t.Fatalf("last_login not stamped, got %v", row.LastLogin)
	}
}

func TestValidateCredentialsUnknownEmail(t *testing.T) {
	f := newFixture(t)
	_, err := f.gate.ValidateCredentials(context.Background(), "ghost@ten-1.example", "whatever", nil)
	if !errors.Is(err, auth.ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials, got %v", err)
	}
}

func TestValidateCredentialsEmptyInput(t *testing.T) {
	f := newFixture(t)
	for _, pair := range [][2]string{{"", "pw"}, {"sam@ten-1.example", ""}, {"", ""}} {
		if _, err := f.gate.ValidateCredentials(context.Background(), pair[0], pair[1], nil); !errors.Is(err, auth.ErrInvalidCredentials) {
			t.Fatalf("(%q, %q): expected ErrInvalidCredentials, got %v", pair[0], pair[1], err)
		}
	}
}

func TestValidateCredentialsSoftDeleted(t *testing.T) {
	f := newFixture(t)
	deleted := f.now
	u, _ := f.store.User(f.user.ID)
	u.DeletedAt = &deleted
	f.store.AddUser(&u)

	_, err := f.gate.ValidateCredentials(context.Background(), "sam@ten-1.example", "opensesame", nil)
	if !errors.Is(err, auth.ErrInvalidCredentials) {
		t.Fatalf("soft-deleted account must not authenticate, got %v", err)
	}
}

func TestLockoutAfterThreshold(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		if _, err := f.gate.ValidateCredentials(ctx, "sam@ten-1.example", "wrong", nil); !errors.Is(err, auth.ErrInvalidCredentials) {
			t.Fatalf("attempt %d: expected ErrInvalidCredentials, got %v", i+1, err)
		}
	}

	row, _ := f.store.User(f.user.ID)
	if row.FailedLoginCount != 5 {
		t.Fatalf("count = %d, want 5", row.FailedLoginCount)
	}
	if row.LockedUntil == nil || !row.LockedUntil.Equal(f.now.Add(15*time.Minute)) {
		t.Fatalf("locked_until = %v, want %v", row.LockedUntil, f.now.Add(15*time.Minute))
	}

	// The correct password during the window is refused before comparison
	// and the counter stays where it was.
	_, err := f.gate.ValidateCredentials(ctx, "sam@ten-1.example", "opensesame", nil)
	if !errors.Is(err, auth.ErrAccountLocked) {
		t.Fatalf("expected ErrAccountLocked, got %v", err)
	}
	var locked *auth.LockedError
	if !errors.As(err, &locked) {
		t.Fatalf("expected *LockedError, got %T", err)
	}
	if !locked.Until.Equal(*row.LockedUntil) {
		t.Fatalf("retry hint = %v, want %v", locked.Until, *row.LockedUntil)
	}
	if after, _ := f.store.User(f.user.ID); after.FailedLoginCount != 5 {
		t.Fatalf("locked attempt changed the counter to %d", after.FailedLoginCount)
	}
}

func TestLockoutExpiresLazily(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		_, _ = f.gate.ValidateCredentials(ctx, "sam@ten-1.example", "wrong", nil)
	}
	if _, err := f.gate.ValidateCredentials(ctx, "sam@ten-1.example", "opensesame", nil); !errors.Is(err, auth.ErrAccountLocked) {
		t.Fatalf("expected ErrAccountLocked, got %v", err)
	}

	// No unlock write happens; the stale locked_until is simply ignored.
	f.advance(15*time.Minute + time.Second)
	user, err := f.gate.ValidateCredentials(ctx, "sam@ten-1.example", "opensesame", nil)
	if err != nil {
		t.Fatalf("post-window login: %v", err)
	}
	if user.ID != f.user.ID {
		t.Fatalf("unexpected user %s", user.ID)
	}
	row, _ := f.store.User(f.user.ID)
	if row.FailedLoginCount != 0 || row.LockedUntil != nil {
		t.Fatalf("lockout state not cleared: count=%d locked_until=%v", row.FailedLoginCount, row.LockedUntil)
	}
}

func TestLockoutThresholdOption(t *testing.T) {
	f := newFixture(t)
	lockout := auth.NewLockoutTracker(f.store,
		auth.WithLockThreshold(2),
		auth.WithLockDuration(time.Minute),
		auth.WithLockoutClock(f.clock))
	gate := auth.NewAuthenticationGate(f.store, lockout, f.issuer, auth.WithGateClock(f.clock))
	ctx := context.Background()

	_, _ = gate.ValidateCredentials(ctx, "sam@ten-1.example", "wrong", nil)
	_, _ = gate.ValidateCredentials(ctx, "sam@ten-1.example", "wrong", nil)
	row, _ := f.store.User(f.user.ID)
	if row.LockedUntil == nil || !row.LockedUntil.Equal(f.now.Add(time.Minute)) {
		t.Fatalf("locked_until = %v, want %v", row.LockedUntil, f.now.Add(time.Minute))
	}
}

func TestRecordFailureConcurrent(t *testing.T) {
	f := newFixture(t)
	const n = 20

	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, _, err := f.lockout.RecordFailure(context.Background(), f.user.ID); err != nil {
				t.Errorf("RecordFailure: %v", err)
			}
		}()
	}
	wg.Wait()

	row, _ := f.store.User(f.user.ID)
	if row.FailedLoginCount != n {
		t.Fatalf("count = %d, want exactly %d", row.FailedLoginCount, n)
	}
}

func TestLoginIssuesPair(t *testing.T) {
	f := newFixture(t)
	pair, principal, err := f.gate.Login(context.Background(), "sam@ten-1.example", "opensesame", nil, auth.IssueMeta{})
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	if pair.AccessToken == "" || pair.RefreshToken == "" {
		t.Fatal("empty token pair")
	}
	if principal.UserID != f.user.ID {
		t.Fatalf("principal user = %s, want %s", principal.UserID, f.user.ID)
	}

	verified, err := f.gate.ValidateAccessToken(context.Background(), pair.AccessToken)
	if err != nil {
		t.Fatalf("ValidateAccessToken: %v", err)
	}
	if verified.UserID != f.user.ID || verified.RoleID != "role-stylist" {
		t.Fatalf("unexpected principal %+v", verified)
	}
}

func TestLoginTenantHint(t *testing.T) {
	f := newFixture(t)

	// Same email in a second tenant. Without a hint the lookup is ambiguous
	// and must refuse; with a hint it resolves.
	other := "ten-2"
	hash, _ := auth.HashPassword("differentpw")
	f.store.AddUser(&auth.User{
		TenantID:     &other,
		Email:        "sam@ten-1.example",
		PasswordHash: hash,
		RoleID:       "role-stylist",
	})

	if _, err := f.gate.ValidateCredentials(context.Background(), "sam@ten-1.example", "opensesame", nil); !errors.Is(err, auth.ErrInvalidCredentials) {
		t.Fatalf("ambiguous email: expected ErrInvalidCredentials, got %v", err)
	}

	tenant := "ten-1"
	user, err := f.gate.ValidateCredentials(context.Background(), "sam@ten-1.example", "opensesame", &tenant)
	if err != nil {
		t.Fatalf("hinted login: %v", err)
	}
	if user.ID != f.user.ID {
		t.Fatalf("hint resolved wrong user %s", user.ID)
	}
}
