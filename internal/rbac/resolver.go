package rbac

import (
	"context"
	"strings"

	"github.com/asgl-platform/docchat/internal/shared"
)

// Resolver answers capability questions for a principal. All methods are pure
// reads and safe for concurrent use.
type Resolver struct {
	service *Service
}

// NewResolver constructs a Resolver on top of the role store.
func NewResolver(service *Service) *Resolver {
	return &Resolver{service: service}
}

// IsSuperAdmin reports whether the principal holds the super_admin role or
// carries the reserved bootstrap identifier. The identifier check runs first:
// it must keep working before the role tables are seeded.
func (r *Resolver) IsSuperAdmin(p *Principal) bool {
	if p == nil {
		return false
	}
	if p.ASGLID == shared.BootstrapSuperAdminID {
		return true
	}
	return p.HasRole(shared.RoleSuperAdmin)
}

// IsAdmin reports whether the principal is an administrator. The legacy
// identifier path takes precedence over role resolution.
func (r *Resolver) IsAdmin(p *Principal) bool {
	if p == nil {
		return false
	}
	if p.ASGLID == shared.BootstrapAdminID || p.ASGLID == shared.BootstrapSuperAdminID {
		return true
	}
	return p.HasRole(shared.RoleAdmin) || p.HasRole(shared.RoleSuperAdmin)
}

// HasPermission reports whether the permission name is in the union of the
// principal's role permissions. Superadmin satisfies every check before the
// union is consulted, including names outside the seeded catalog.
func (r *Resolver) HasPermission(ctx context.Context, p *Principal, permission string) (bool, error) {
	if p == nil {
		return false, shared.ErrUnauthorized
	}
	permission = strings.TrimSpace(strings.ToLower(permission))
	if permission == "" {
		return false, nil
	}
	if r.IsSuperAdmin(p) {
		return true, nil
	}
	granted, err := r.service.EffectivePermissions(ctx, p.ID)
	if err != nil {
		return false, err
	}
	for _, name := range granted {
		if strings.ToLower(name) == permission {
			return true, nil
		}
	}
	return false, nil
}

// HasAnyPermission reports whether the principal holds at least one of the
// given permissions.
func (r *Resolver) HasAnyPermission(ctx context.Context, p *Principal, permissions ...string) (bool, error) {
	if p == nil {
		return false, shared.ErrUnauthorized
	}
	if r.IsSuperAdmin(p) {
		return true, nil
	}
	granted, err := r.service.EffectivePermissions(ctx, p.ID)
	if err != nil {
		return false, err
	}
	set := make(map[string]struct{}, len(granted))
	for _, name := range granted {
		set[strings.ToLower(name)] = struct{}{}
	}
	for _, want := range permissions {
		if _, ok := set[strings.TrimSpace(strings.ToLower(want))]; ok {
			return true, nil
		}
	}
	return false, nil
}
