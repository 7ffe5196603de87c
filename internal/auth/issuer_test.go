package auth_test

import (
	"context"
	"errors"
	"reflect"
	"strings"
	"testing"
	"time"

	"salonora.app/internal/auth"
	"salonora.app/internal/auth/authtest"
)

func TestIssueVerifyRoundTrip(t *testing.T) {
	f := newFixture(t)
	user, _ := f.store.User(f.user.ID)
	user.AdditionalPermissions = []string{"reports:generate", "appointments:read:own"}
	f.store.AddUser(&user)

	pair, principal, err := f.issuer.Issue(context.Background(), &user, auth.IssueMeta{
		DeviceInfo: "ios-app/4.2",
		IPAddress:  "203.0.113.9",
	})
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	// Snapshot is role permissions plus extras, deduplicated.
	wantPerms := []string{"appointments:read:own", "clients:read:own", "reports:generate"}
	if !reflect.DeepEqual(principal.Permissions, wantPerms) {
		t.Fatalf("permissions = %v, want %v", principal.Permissions, wantPerms)
	}

	if !pair.AccessExpiresAt.Equal(f.now.Add(15 * time.Minute)) {
		t.Fatalf("access expiry = %v", pair.AccessExpiresAt)
	}
	if !pair.RefreshExpiresAt.Equal(f.now.Add(7 * 24 * time.Hour)) {
		t.Fatalf("refresh expiry = %v", pair.RefreshExpiresAt)
	}
	if got := pair.ExpiresIn(f.now); got != 900 {
		t.Fatalf("ExpiresIn = %d, want 900", got)
	}

	verified, err := f.issuer.Verify(pair.AccessToken)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if verified.UserID != user.ID || verified.RoleID != user.RoleID {
		t.Fatalf("unexpected principal %+v", verified)
	}
	if verified.TenantID == nil || *verified.TenantID != *user.TenantID {
		t.Fatalf("tenant not preserved: %v", verified.TenantID)
	}
	if !reflect.DeepEqual(verified.Permissions, wantPerms) {
		t.Fatalf("verified permissions = %v, want %v", verified.Permissions, wantPerms)
	}

	// Exactly one persisted row, holding a hash rather than the secret.
	rows := f.store.TokensForUser(user.ID)
	if len(rows) != 1 {
		t.Fatalf("token rows = %d, want 1", len(rows))
	}
	rec := rows[0]
	parts := strings.Split(pair.RefreshToken, ".")
	if len(parts) != 2 {
		t.Fatalf("wire form = %q", pair.RefreshToken)
	}
	if rec.ID != parts[0] {
		t.Fatalf("row id %s does not prefix wire form %s", rec.ID, pair.RefreshToken)
	}
	if rec.TokenHash == parts[1] || len(rec.TokenHash) != 64 {
		t.Fatalf("secret stored unhashed: %q", rec.TokenHash)
	}
	if rec.DeviceInfo != "ios-app/4.2" || rec.IPAddress != "203.0.113.9" {
		t.Fatalf("forensic meta not persisted: %+v", rec)
	}
}

func TestIssueRefusesDeletedUser(t *testing.T) {
	f := newFixture(t)
	user, _ := f.store.User(f.user.ID)
	deleted := f.now
	user.DeletedAt = &deleted

	if _, _, err := f.issuer.Issue(context.Background(), &user, auth.IssueMeta{}); !errors.Is(err, auth.ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials, got %v", err)
	}
	if _, _, err := f.issuer.Issue(context.Background(), nil, auth.IssueMeta{}); !errors.Is(err, auth.ErrInvalidCredentials) {
		t.Fatalf("nil user: expected ErrInvalidCredentials, got %v", err)
	}
}

func TestVerifyExpired(t *testing.T) {
	f := newFixture(t)
	user, _ := f.store.User(f.user.ID)
	pair, _, err := f.issuer.Issue(context.Background(), &user, auth.IssueMeta{})
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	f.advance(15*time.Minute + time.Second)
	if _, err := f.issuer.Verify(pair.AccessToken); !errors.Is(err, auth.ErrTokenExpired) {
		t.Fatalf("expected ErrTokenExpired, got %v", err)
	}
}

func TestVerifyRejectsGarbage(t *testing.T) {
	f := newFixture(t)
	user, _ := f.store.User(f.user.ID)
	pair, _, err := f.issuer.Issue(context.Background(), &user, auth.IssueMeta{})
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	cases := map[string]string{
		"empty":     "",
		"not a jwt": "garbage",
		"tampered":  pair.AccessToken[:len(pair.AccessToken)-4] + "AAAA",
	}
	for name, token := range cases {
		if _, err := f.issuer.Verify(token); !errors.Is(err, auth.ErrInvalidToken) {
			t.Errorf("%s: expected ErrInvalidToken, got %v", name, err)
		}
	}
}

func TestVerifyRejectsForeignSignature(t *testing.T) {
	f := newFixture(t)
	other, err := auth.NewTokenIssuer(authtest.NewStore(), []byte("ffffffffffffffffffffffffffffffff"), auth.WithIssuerClock(f.clock))
	if err != nil {
		t.Fatalf("NewTokenIssuer: %v", err)
	}
	user, _ := f.store.User(f.user.ID)
	pair, _, err := other.IssueTx(context.Background(), authtest.NewStore(), &user, auth.IssueMeta{})
	if err != nil {
		t.Fatalf("IssueTx: %v", err)
	}
	if _, err := f.issuer.Verify(pair.AccessToken); !errors.Is(err, auth.ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken for foreign signature, got %v", err)
	}
}

func TestVerifyRejectsForeignIssuerName(t *testing.T) {
	f := newFixture(t)
	other, err := auth.NewTokenIssuer(f.store, []byte(testSecret),
		auth.WithIssuerName("somebody-else"), auth.WithIssuerClock(f.clock))
	if err != nil {
		t.Fatalf("NewTokenIssuer: %v", err)
	}
	user, _ := f.store.User(f.user.ID)
	pair, _, err := other.Issue(context.Background(), &user, auth.IssueMeta{})
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if _, err := f.issuer.Verify(pair.AccessToken); !errors.Is(err, auth.ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken for wrong issuer, got %v", err)
	}
}

func TestNewTokenIssuerRequiresSecret(t *testing.T) {
	if _, err := auth.NewTokenIssuer(authtest.NewStore(), nil); err == nil {
		t.Fatal("expected error for missing secret")
	}
}
