package auth

import "context"

// TenantContextManager activates the tenant scope of a verified principal
// for one unit of work. The database's row-filtering policies consult the
// session variable the store sets, so the value must only ever come from a
// verified token claim or an internal system call.
type TenantContextManager struct {
	store  Store
	events EventFunc
}

// TenantOption configures TenantContextManager.
type TenantOption func(*TenantContextManager)

// WithTenantEvents injects the audit sink.
func WithTenantEvents(fn EventFunc) TenantOption {
	return func(m *TenantContextManager) {
		if fn != nil {
			m.events = fn
		}
	}
}

// NewTenantContextManager constructs the manager.
func NewTenantContextManager(store Store, opts ...TenantOption) *TenantContextManager {
	m := &TenantContextManager{store: store, events: nopEvents}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Run executes fn inside a unit of work whose tenant session variable is
// activated before fn can issue a query. A super-admin principal clears
// tenant scoping entirely, which is logged as a privileged action.
func (m *TenantContextManager) Run(ctx context.Context, principal Principal, fn func(Store) error) error {
	if principal.IsSuperAdmin() {
		m.events(ctx, "auth.tenant.superadmin_scope", map[string]any{
			"user_id": principal.UserID,
		})
	}
	return m.store.WithTenant(ctx, principal.TenantID, fn)
}

// Current reports the tenant bound to the store by an enclosing Run.
func Current(s Store) (*string, bool) {
	return s.ActiveTenant()
}
