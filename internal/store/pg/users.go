package pg

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"salonora.app/internal/auth"
	"salonora.app/internal/ids"
)

type userStore struct{ q dbtx }

const userColumns = `id, tenant_id, email, password_hash, role_id, additional_permissions,
	failed_login_count, locked_until, last_login, created_at, updated_at, deleted_at`

func (s *userStore) Create(ctx context.Context, u *auth.User) error {
	if u.ID == "" {
		u.ID = ids.New()
	}
	extra, err := json.Marshal(u.AdditionalPermissions)
	if err != nil {
		return err
	}
	_, err = s.q.ExecContext(ctx,
		`insert into users(id, tenant_id, email, password_hash, role_id, additional_permissions)
		 values($1,$2,$3,$4,$5,$6)`,
		u.ID, nullable(u.TenantID), u.Email, u.PasswordHash, u.RoleID, extra,
	)
	return err
}

func (s *userStore) FindByID(ctx context.Context, id string) (*auth.User, error) {
	row := s.q.QueryRowContext(ctx,
		`select `+userColumns+` from users where id=$1 and deleted_at is null`, id)
	return scanUser(row)
}

func (s *userStore) FindByEmail(ctx context.Context, email string, tenantHint *string) (*auth.User, error) {
	// Email is unique per tenant, not globally. With a hint the lookup is
	// exact; without one an email present in two tenants is ambiguous and
	// resolves to not-found.
	if tenantHint != nil {
		row := s.q.QueryRowContext(ctx,
			`select `+userColumns+` from users
			  where email=$1 and tenant_id=$2 and deleted_at is null`, email, *tenantHint)
		return scanUser(row)
	}
	rows, err := s.q.QueryContext(ctx,
		`select `+userColumns+` from users
		  where email=$1 and deleted_at is null limit 2`, email)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var users []*auth.User
	for rows.Next() {
		u, err := scanUserRows(rows)
		if err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(users) != 1 {
		return nil, auth.ErrNotFound
	}
	return users[0], nil
}

func (s *userStore) RecordLoginFailure(ctx context.Context, userID string, threshold int, lockFor time.Duration) (int, *time.Time, error) {
	// Single conditional statement: the increment and the lock arming race
	// nothing, so concurrent failures cannot under-count past the threshold.
	row := s.q.QueryRowContext(ctx, `
		update users
		   set failed_login_count = failed_login_count + 1,
		       locked_until = case
		           when failed_login_count + 1 >= $2 then now() + make_interval(secs => $3)
		           else locked_until
		       end,
		       updated_at = now()
		 where id = $1 and deleted_at is null
		 returning failed_login_count, locked_until`,
		userID, threshold, lockFor.Seconds(),
	)
	var (
		count       int
		lockedUntil sql.NullTime
	)
	if err := row.Scan(&count, &lockedUntil); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, nil, auth.ErrNotFound
		}
		return 0, nil, fmt.Errorf("record login failure: %w", err)
	}
	return count, fromNullTime(lockedUntil), nil
}

func (s *userStore) ResetLockout(ctx context.Context, userID string, lastLogin time.Time) error {
	res, err := s.q.ExecContext(ctx, `
		update users
		   set failed_login_count = 0,
		       locked_until = null,
		       last_login = $2,
		       updated_at = now()
		 where id = $1 and deleted_at is null`,
		userID, lastLogin,
	)
	if err != nil {
		return fmt.Errorf("reset lockout: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return auth.ErrNotFound
	}
	return nil
}

func scanUser(row *sql.Row) (*auth.User, error) {
	var (
		u           auth.User
		tenant      sql.NullString
		extra       []byte
		lockedUntil sql.NullTime
		lastLogin   sql.NullTime
		deletedAt   sql.NullTime
	)
	err := row.Scan(&u.ID, &tenant, &u.Email, &u.PasswordHash, &u.RoleID, &extra,
		&u.FailedLoginCount, &lockedUntil, &lastLogin, &u.CreatedAt, &u.UpdatedAt, &deletedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, auth.ErrNotFound
		}
		return nil, err
	}
	fillUser(&u, tenant, extra, lockedUntil, lastLogin, deletedAt)
	return &u, nil
}

func scanUserRows(rows *sql.Rows) (*auth.User, error) {
	var (
		u           auth.User
		tenant      sql.NullString
		extra       []byte
		lockedUntil sql.NullTime
		lastLogin   sql.NullTime
		deletedAt   sql.NullTime
	)
	err := rows.Scan(&u.ID, &tenant, &u.Email, &u.PasswordHash, &u.RoleID, &extra,
		&u.FailedLoginCount, &lockedUntil, &lastLogin, &u.CreatedAt, &u.UpdatedAt, &deletedAt)
	if err != nil {
		return nil, err
	}
	fillUser(&u, tenant, extra, lockedUntil, lastLogin, deletedAt)
	return &u, nil
}

func fillUser(u *auth.User, tenant sql.NullString, extra []byte, lockedUntil, lastLogin, deletedAt sql.NullTime) {
	u.TenantID = fromNull(tenant)
	if len(extra) > 0 {
		_ = json.Unmarshal(extra, &u.AdditionalPermissions)
	}
	u.LockedUntil = fromNullTime(lockedUntil)
	u.LastLogin = fromNullTime(lastLogin)
	u.DeletedAt = fromNullTime(deletedAt)
}
