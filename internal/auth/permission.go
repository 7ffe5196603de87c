package auth

import (
	"fmt"
	"sort"
	"strings"
)

// Scope qualifies how far a permission reaches.
type Scope int

const (
	// ScopeNone marks a permission string without a scope suffix. Legal only
	// for purely global actions; entity-level checks treat it as a denial.
	ScopeNone Scope = iota
	// ScopeOwn restricts the permission to the holder's own tenant.
	ScopeOwn
	// ScopeAll grants cross-tenant reach for the resource/action.
	ScopeAll
)

func (s Scope) String() string {
	switch s {
	case ScopeOwn:
		return "own"
	case ScopeAll:
		return "all"
	default:
		return ""
	}
}

// Grant is a permission string parsed once at the boundary, so the resolver
// operates on structured data instead of ad hoc splitting.
type Grant struct {
	Resource string
	Action   string
	Scope    Scope
}

func (g Grant) String() string {
	if g.Scope == ScopeNone {
		return g.Resource + ":" + g.Action
	}
	return g.Resource + ":" + g.Action + ":" + g.Scope.String()
}

// ParseGrant parses "<resource>:<action>[:<scope>]". Unknown scope suffixes
// are rejected rather than silently widened.
func ParseGrant(s string) (Grant, error) {
	parts := strings.Split(strings.TrimSpace(strings.ToLower(s)), ":")
	switch len(parts) {
	case 2, 3:
	default:
		return Grant{}, fmt.Errorf("auth: malformed permission %q", s)
	}
	if parts[0] == "" || parts[1] == "" {
		return Grant{}, fmt.Errorf("auth: malformed permission %q", s)
	}
	g := Grant{Resource: parts[0], Action: parts[1]}
	if len(parts) == 3 {
		switch parts[2] {
		case "all":
			g.Scope = ScopeAll
		case "own":
			g.Scope = ScopeOwn
		default:
			return Grant{}, fmt.Errorf("auth: unknown scope in permission %q", s)
		}
	}
	return g, nil
}

// parseGrants parses a snapshot, dropping malformed entries. Malformed
// strings grant nothing; they are not an excuse to fail open.
func parseGrants(perms []string) []Grant {
	out := make([]Grant, 0, len(perms))
	for _, p := range perms {
		g, err := ParseGrant(p)
		if err != nil {
			continue
		}
		out = append(out, g)
	}
	return out
}

// Principal is the immutable authorization identity carried by a verified
// access token. The permission set is a point-in-time snapshot: changes take
// effect on the next issuance, never mid-session.
type Principal struct {
	UserID      string
	TenantID    *string
	RoleID      string
	Permissions []string

	grants []Grant
}

// NewPrincipal builds a principal with its permission snapshot parsed.
func NewPrincipal(userID string, tenantID *string, roleID string, permissions []string) Principal {
	perms := dedupePermissions(permissions)
	return Principal{
		UserID:      userID,
		TenantID:    tenantID,
		RoleID:      roleID,
		Permissions: perms,
		grants:      parseGrants(perms),
	}
}

// IsSuperAdmin reports whether the principal is exempt from tenant-scoped
// narrowing. This is layered on top of ordinary permission evaluation.
func (p Principal) IsSuperAdmin() bool {
	return p.TenantID == nil
}

// HasPermission reports whether the exact permission string is held.
func (p Principal) HasPermission(perm string) bool {
	want, err := ParseGrant(perm)
	if err != nil {
		return false
	}
	for _, g := range p.grants {
		if g == want {
			return true
		}
	}
	return false
}

// scopeFor returns the widest scope the principal holds for resource:action.
func (p Principal) scopeFor(resource, action string) (Scope, bool) {
	found := false
	widest := ScopeNone
	for _, g := range p.grants {
		if g.Resource != resource || g.Action != action {
			continue
		}
		found = true
		if g.Scope > widest {
			widest = g.Scope
		}
	}
	return widest, found
}

func dedupePermissions(perms []string) []string {
	seen := make(map[string]struct{}, len(perms))
	out := make([]string, 0, len(perms))
	for _, p := range perms {
		p = strings.TrimSpace(strings.ToLower(p))
		if p == "" {
			continue
		}
		if _, ok := seen[p]; ok {
			continue
		}
		seen[p] = struct{}{}
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}
