package auth

// Filter is the query-narrowing shape handed to collection lookups. Keys are
// column predicates understood by the persistence layer; ScopeQuery only ever
// adds a tenant_id predicate on top of the caller's base.
type Filter map[string]any

func (f Filter) clone() Filter {
	out := make(Filter, len(f)+1)
	for k, v := range f {
		out[k] = v
	}
	return out
}

// TenantScoped is implemented by entities that belong to a tenant. A nil
// owner marks a system-level record.
type TenantScoped interface {
	OwnerTenantID() *string
}

// ScopeQuery resolves whether the principal may see a collection of the
// given resource and returns the filter to query with.
//
// Super-admins and holders of <resource>:<action>:all receive the base
// filter unmodified; database-level tenant filtering still applies
// independently as defense in depth. Holders of :own get the base narrowed
// to their tenant. Anything else is ErrForbidden.
func ScopeQuery(p Principal, base Filter, resource, action string) (Filter, error) {
	if p.IsSuperAdmin() {
		return base.clone(), nil
	}
	scope, ok := p.scopeFor(resource, action)
	if !ok {
		return nil, ErrForbidden
	}
	switch scope {
	case ScopeAll:
		return base.clone(), nil
	case ScopeOwn:
		out := base.clone()
		out["tenant_id"] = *p.TenantID
		return out, nil
	default:
		// Scope-less permissions never authorize collection access.
		return nil, ErrForbidden
	}
}

// CanAccessEntity is the post-fetch check for one specific entity.
//
// Super-admins always pass. A :all holder passes regardless of the entity's
// tenant. A :own holder passes only on strict tenant equality; an entity
// with a nil tenant is a system-level record and is never reachable through
// :own. A nil entity, or one that does not expose a tenant, fails closed.
func CanAccessEntity(p Principal, entity TenantScoped, permission string) bool {
	if p.IsSuperAdmin() {
		return true
	}
	want, err := ParseGrant(permission)
	if err != nil {
		return false
	}
	scope, ok := p.scopeFor(want.Resource, want.Action)
	if !ok {
		return false
	}
	switch scope {
	case ScopeAll:
		return true
	case ScopeOwn:
		if entity == nil {
			return false
		}
		owner := entity.OwnerTenantID()
		if owner == nil || p.TenantID == nil {
			return false
		}
		return *owner == *p.TenantID
	default:
		return false
	}
}
