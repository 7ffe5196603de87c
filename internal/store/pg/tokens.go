package pg

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"salonora.app/internal/auth"
	"salonora.app/internal/ids"
)

type tokenStore struct {
	q    dbtx
	inTx bool
}

const tokenColumns = `id, user_id, token_hash, expires_at, revoked, revoked_at,
	revoked_reason, device_info, ip_address, created_at`

func (s *tokenStore) Create(ctx context.Context, tok *auth.RefreshToken) error {
	if tok.ID == "" {
		tok.ID = ids.New()
	}
	_, err := s.q.ExecContext(ctx,
		`insert into refresh_tokens(id, user_id, token_hash, expires_at, device_info, ip_address)
		 values($1,$2,$3,$4,$5,$6)`,
		tok.ID, tok.UserID, tok.TokenHash, tok.ExpiresAt, tok.DeviceInfo, tok.IPAddress,
	)
	return err
}

func (s *tokenStore) FindByID(ctx context.Context, id string) (*auth.RefreshToken, error) {
	return s.find(ctx, id, false)
}

func (s *tokenStore) FindByIDForUpdate(ctx context.Context, id string) (*auth.RefreshToken, error) {
	if !s.inTx {
		return nil, fmt.Errorf("pg: row lock requires a transaction")
	}
	return s.find(ctx, id, true)
}

func (s *tokenStore) find(ctx context.Context, id string, forUpdate bool) (*auth.RefreshToken, error) {
	query := `select ` + tokenColumns + ` from refresh_tokens where id=$1`
	if forUpdate {
		query += ` for update`
	}
	row := s.q.QueryRowContext(ctx, query, id)

	var (
		tok           auth.RefreshToken
		revokedAt     sql.NullTime
		revokedReason sql.NullString
	)
	err := row.Scan(&tok.ID, &tok.UserID, &tok.TokenHash, &tok.ExpiresAt, &tok.Revoked,
		&revokedAt, &revokedReason, &tok.DeviceInfo, &tok.IPAddress, &tok.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, auth.ErrNotFound
		}
		return nil, err
	}
	tok.RevokedAt = fromNullTime(revokedAt)
	if revokedReason.Valid {
		tok.RevokedReason = revokedReason.String
	}
	return &tok, nil
}

func (s *tokenStore) Revoke(ctx context.Context, id, reason string) error {
	// The revoked = false guard keeps revocation terminal: an already
	// revoked row is never rewritten, whatever the new reason.
	res, err := s.q.ExecContext(ctx, `
		update refresh_tokens
		   set revoked = true, revoked_at = now(), revoked_reason = $2
		 where id = $1 and revoked = false`,
		id, reason,
	)
	if err != nil {
		return fmt.Errorf("revoke token: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return auth.ErrNotFound
	}
	return nil
}

func (s *tokenStore) RevokeAllForUser(ctx context.Context, userID, reason string) error {
	_, err := s.q.ExecContext(ctx, `
		update refresh_tokens
		   set revoked = true, revoked_at = now(), revoked_reason = $2
		 where user_id = $1 and revoked = false`,
		userID, reason,
	)
	if err != nil {
		return fmt.Errorf("revoke all tokens: %w", err)
	}
	return nil
}
