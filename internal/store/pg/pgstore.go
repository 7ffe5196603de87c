// Package pg implements the auth persistence boundary on PostgreSQL. The
// tenant session variable it sets (app.tenant_id) is consumed by the
// database's row-level-security policies; that policy layer filters
// independently of the query-level narrowing done in the auth core.
package pg

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"salonora.app/internal/auth"
)

// dbtx is satisfied by both *sql.DB and *sql.Tx.
type dbtx interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Store implements auth.Store. A Store value is either pool-bound or
// tx-bound; WithinTx and WithTenant hand fn a tx-bound copy.
type Store struct {
	db *sql.DB
	q  dbtx

	inTx        bool
	tenant      *string
	tenantBound bool
}

var _ auth.Store = (*Store)(nil)

// Open connects to PostgreSQL through the pgx stdlib driver.
func Open(dsn string) (*Store, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	// Tuned pool defaults; adjust under load tests.
	db.SetMaxOpenConns(50)
	db.SetMaxIdleConns(25)
	db.SetConnMaxLifetime(15 * time.Minute)
	db.SetConnMaxIdleTime(5 * time.Minute)
	return New(db), nil
}

// New wraps an existing handle (sqlmock in tests).
func New(db *sql.DB) *Store {
	return &Store{db: db, q: db}
}

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) DB() *sql.DB { return s.db }

func (s *Store) Users() auth.UserStore                 { return &userStore{q: s.q} }
func (s *Store) RefreshTokens() auth.RefreshTokenStore { return &tokenStore{q: s.q, inTx: s.inTx} }
func (s *Store) Roles() auth.RoleStore                 { return &roleStore{q: s.q} }

// WithinTx runs fn against a tx-bound Store. Nested calls join the
// enclosing transaction.
func (s *Store) WithinTx(ctx context.Context, fn func(auth.Store) error) error {
	if s.inTx {
		return fn(s)
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	sub := &Store{db: s.db, q: tx, inTx: true, tenant: s.tenant, tenantBound: s.tenantBound}
	if err := fn(sub); err != nil {
		return err
	}
	return tx.Commit()
}

// WithTenant pins app.tenant_id for one transaction before fn observes the
// Store. set_config with is_local=true scopes the value to the transaction,
// so it cannot leak across pooled connections. An empty value clears
// filtering (super-admin mode).
func (s *Store) WithTenant(ctx context.Context, tenantID *string, fn func(auth.Store) error) error {
	if s.inTx {
		return fmt.Errorf("pg: tenant scope must open its own transaction")
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	value := ""
	if tenantID != nil {
		value = *tenantID
	}
	if _, err := tx.ExecContext(ctx, `select set_config('app.tenant_id', $1, true)`, value); err != nil {
		// A failed activation is an authentication failure, never an
		// implicit "activation succeeded".
		return fmt.Errorf("activate tenant context: %w", err)
	}

	sub := &Store{db: s.db, q: tx, inTx: true, tenant: tenantID, tenantBound: true}
	if err := fn(sub); err != nil {
		return err
	}
	return tx.Commit()
}

// ActiveTenant reports the tenant bound by an enclosing WithTenant.
func (s *Store) ActiveTenant() (*string, bool) {
	return s.tenant, s.tenantBound
}

func nullable(v *string) sql.NullString {
	if v == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *v, Valid: true}
}

func fromNull(v sql.NullString) *string {
	if !v.Valid {
		return nil
	}
	s := v.String
	return &s
}

func fromNullTime(v sql.NullTime) *time.Time {
	if !v.Valid {
		return nil
	}
	t := v.Time
	return &t
}
