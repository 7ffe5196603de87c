package pg

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"

	"salonora.app/internal/auth"
	"salonora.app/internal/ids"
)

type roleStore struct{ q dbtx }

func (s *roleStore) Create(ctx context.Context, role *auth.Role) error {
	if role.ID == "" {
		role.ID = ids.New()
	}
	perms, err := json.Marshal(role.Permissions)
	if err != nil {
		return err
	}
	_, err = s.q.ExecContext(ctx,
		`insert into roles(id, tenant_id, name, permissions, is_system)
		 values($1,$2,$3,$4,$5)`,
		role.ID, nullable(role.TenantID), role.Name, perms, role.IsSystem,
	)
	return err
}

func (s *roleStore) Find(ctx context.Context, id string) (*auth.Role, error) {
	row := s.q.QueryRowContext(ctx,
		`select id, tenant_id, name, permissions, is_system, created_at, updated_at
		   from roles where id=$1`, id)
	var (
		role   auth.Role
		tenant sql.NullString
		perms  []byte
	)
	err := row.Scan(&role.ID, &tenant, &role.Name, &perms, &role.IsSystem, &role.CreatedAt, &role.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, auth.ErrNotFound
		}
		return nil, err
	}
	role.TenantID = fromNull(tenant)
	if len(perms) > 0 {
		_ = json.Unmarshal(perms, &role.Permissions)
	}
	return &role, nil
}
