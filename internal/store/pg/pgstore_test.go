package pg

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"salonora.app/internal/auth"
)

func newMock(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return New(db), mock
}

func userRows(mock sqlmock.Sqlmock) *sqlmock.Rows {
	return mock.NewRows([]string{
		"id", "tenant_id", "email", "password_hash", "role_id", "additional_permissions",
		"failed_login_count", "locked_until", "last_login", "created_at", "updated_at", "deleted_at",
	})
}

func tokenRows(mock sqlmock.Sqlmock) *sqlmock.Rows {
	return mock.NewRows([]string{
		"id", "user_id", "token_hash", "expires_at", "revoked", "revoked_at",
		"revoked_reason", "device_info", "ip_address", "created_at",
	})
}

func TestRecordLoginFailure(t *testing.T) {
	store, mock := newMock(t)

	lockedUntil := time.Now().Add(15 * time.Minute)
	mock.ExpectQuery("update users").
		WithArgs("u1", 5, float64(900)).
		WillReturnRows(mock.NewRows([]string{"failed_login_count", "locked_until"}).
			AddRow(5, lockedUntil))

	count, until, err := store.Users().RecordLoginFailure(context.Background(), "u1", 5, 15*time.Minute)
	if err != nil {
		t.Fatalf("RecordLoginFailure: %v", err)
	}
	if count != 5 {
		t.Fatalf("count = %d, want 5", count)
	}
	if until == nil || !until.Equal(lockedUntil) {
		t.Fatalf("locked_until = %v, want %v", until, lockedUntil)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestRecordLoginFailureMissingUser(t *testing.T) {
	store, mock := newMock(t)

	mock.ExpectQuery("update users").
		WithArgs("ghost", 5, float64(900)).
		WillReturnRows(mock.NewRows([]string{"failed_login_count", "locked_until"}))

	_, _, err := store.Users().RecordLoginFailure(context.Background(), "ghost", 5, 15*time.Minute)
	if !errors.Is(err, auth.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestResetLockoutMissingUser(t *testing.T) {
	store, mock := newMock(t)

	mock.ExpectExec("update users").
		WithArgs("ghost", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := store.Users().ResetLockout(context.Background(), "ghost", time.Now())
	if !errors.Is(err, auth.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestFindByEmailAmbiguousWithoutHint(t *testing.T) {
	store, mock := newMock(t)

	now := time.Now()
	rows := userRows(mock).
		AddRow("u1", "ten-1", "sam@example.com", "hash1", "r1", []byte(`[]`), 0, nil, nil, now, now, nil).
		AddRow("u2", "ten-2", "sam@example.com", "hash2", "r1", []byte(`[]`), 0, nil, nil, now, now, nil)
	mock.ExpectQuery("select .* from users").WithArgs("sam@example.com").WillReturnRows(rows)

	_, err := store.Users().FindByEmail(context.Background(), "sam@example.com", nil)
	if !errors.Is(err, auth.ErrNotFound) {
		t.Fatalf("ambiguous email: expected ErrNotFound, got %v", err)
	}
}

func TestFindByEmailWithHint(t *testing.T) {
	store, mock := newMock(t)

	now := time.Now()
	mock.ExpectQuery("select .* from users").
		WithArgs("sam@example.com", "ten-2").
		WillReturnRows(userRows(mock).
			AddRow("u2", "ten-2", "sam@example.com", "hash2", "r1", []byte(`["reports:generate"]`), 0, nil, nil, now, now, nil))

	u, err := store.Users().FindByEmail(context.Background(), "sam@example.com", strptr("ten-2"))
	if err != nil {
		t.Fatalf("FindByEmail: %v", err)
	}
	if u.ID != "u2" || u.TenantID == nil || *u.TenantID != "ten-2" {
		t.Fatalf("unexpected user %+v", u)
	}
	if len(u.AdditionalPermissions) != 1 || u.AdditionalPermissions[0] != "reports:generate" {
		t.Fatalf("extra permissions not decoded: %v", u.AdditionalPermissions)
	}
}

func TestRevokeIsTerminal(t *testing.T) {
	store, mock := newMock(t)

	// An already revoked row matches zero rows because of the guard.
	mock.ExpectExec("update refresh_tokens").
		WithArgs("tok-1", auth.ReasonLogout).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := store.RefreshTokens().Revoke(context.Background(), "tok-1", auth.ReasonLogout)
	if !errors.Is(err, auth.ErrNotFound) {
		t.Fatalf("expected ErrNotFound for terminal row, got %v", err)
	}
}

func TestRowLockRequiresTransaction(t *testing.T) {
	store, _ := newMock(t)

	if _, err := store.RefreshTokens().FindByIDForUpdate(context.Background(), "tok-1"); err == nil {
		t.Fatal("expected error outside a transaction")
	}
}

func TestWithinTxRowLock(t *testing.T) {
	store, mock := newMock(t)

	now := time.Now()
	mock.ExpectBegin()
	mock.ExpectQuery("select .* from refresh_tokens where id=.* for update").
		WithArgs("tok-1").
		WillReturnRows(tokenRows(mock).
			AddRow("tok-1", "u1", "hash", now.Add(time.Hour), false, nil, nil, "", "", now))
	mock.ExpectCommit()

	err := store.WithinTx(context.Background(), func(s auth.Store) error {
		rec, err := s.RefreshTokens().FindByIDForUpdate(context.Background(), "tok-1")
		if err != nil {
			return err
		}
		if rec.Revoked {
			t.Fatalf("unexpected row state %+v", rec)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("WithinTx: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestWithinTxRollsBackOnError(t *testing.T) {
	store, mock := newMock(t)

	mock.ExpectBegin()
	mock.ExpectRollback()

	sentinel := errors.New("boom")
	err := store.WithinTx(context.Background(), func(auth.Store) error { return sentinel })
	if !errors.Is(err, sentinel) {
		t.Fatalf("err = %v, want %v", err, sentinel)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestWithinTxJoinsEnclosing(t *testing.T) {
	store, mock := newMock(t)

	// Only one begin/commit pair for the nested call.
	mock.ExpectBegin()
	mock.ExpectCommit()

	err := store.WithinTx(context.Background(), func(outer auth.Store) error {
		return outer.WithinTx(context.Background(), func(auth.Store) error { return nil })
	})
	if err != nil {
		t.Fatalf("WithinTx: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestWithTenantActivatesBeforeQueries(t *testing.T) {
	store, mock := newMock(t)

	now := time.Now()
	mock.ExpectBegin()
	mock.ExpectExec("select set_config").WithArgs("ten-1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery("select .* from users where id=").WithArgs("u1").
		WillReturnRows(userRows(mock).
			AddRow("u1", "ten-1", "sam@example.com", "hash", "r1", []byte(`[]`), 0, nil, nil, now, now, nil))
	mock.ExpectCommit()

	err := store.WithTenant(context.Background(), strptr("ten-1"), func(s auth.Store) error {
		tenant, bound := s.ActiveTenant()
		if !bound || tenant == nil || *tenant != "ten-1" {
			t.Fatalf("tenant not bound inside unit of work: %v %v", tenant, bound)
		}
		_, err := s.Users().FindByID(context.Background(), "u1")
		return err
	})
	if err != nil {
		t.Fatalf("WithTenant: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestWithTenantSuperAdminClearsScope(t *testing.T) {
	store, mock := newMock(t)

	mock.ExpectBegin()
	mock.ExpectExec("select set_config").WithArgs("").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err := store.WithTenant(context.Background(), nil, func(s auth.Store) error {
		tenant, bound := s.ActiveTenant()
		if !bound || tenant != nil {
			t.Fatalf("super-admin scope should bind nil: %v %v", tenant, bound)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("WithTenant: %v", err)
	}
}

func TestWithTenantRejectsNesting(t *testing.T) {
	store, mock := newMock(t)

	mock.ExpectBegin()
	mock.ExpectRollback()

	err := store.WithinTx(context.Background(), func(s auth.Store) error {
		return s.WithTenant(context.Background(), strptr("ten-1"), func(auth.Store) error { return nil })
	})
	if err == nil {
		t.Fatal("expected error when activating a tenant inside a transaction")
	}
}

func strptr(s string) *string { return &s }
