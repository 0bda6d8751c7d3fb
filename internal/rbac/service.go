package rbac

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/asgl-platform/docchat/internal/shared"
)

// RepositoryPort defines the persistence surface the service depends on.
type RepositoryPort interface {
	ListRoles(ctx context.Context) ([]Role, error)
	GetRole(ctx context.Context, id int64) (Role, error)
	GetRoleByName(ctx context.Context, name string) (Role, error)
	CreateRole(ctx context.Context, name, description string) (Role, error)
	UpdateRole(ctx context.Context, id int64, name, description string) (Role, error)
	DeleteRole(ctx context.Context, id int64) error
	CountAssignments(ctx context.Context, roleID int64) (int, error)
	ListPermissions(ctx context.Context) ([]Permission, error)
	UpsertPermission(ctx context.Context, name, description string) (Permission, error)
	RolePermissions(ctx context.Context, roleID int64) ([]Permission, error)
	SetRolePermissions(ctx context.Context, roleID int64, permissionIDs []int64) error
	AssignRole(ctx context.Context, userID, roleID int64) error
	RemoveRole(ctx context.Context, userID, roleID int64) error
	ReplaceRoles(ctx context.Context, userID int64, roleIDs []int64) error
	RolesForUser(ctx context.Context, userID int64) ([]string, error)
	EffectivePermissions(ctx context.Context, userID int64) ([]string, error)
}

// ErrAlreadyAssigned indicates a duplicate user/role pair.
var ErrAlreadyAssigned = fmt.Errorf("%w: role already assigned", shared.ErrConflict)

// Service orchestrates role and permission operations.
type Service struct {
	repo RepositoryPort
}

// NewService constructs a Service.
func NewService(repo RepositoryPort) *Service {
	return &Service{repo: repo}
}

// ListRoles returns all roles ordered by name.
func (s *Service) ListRoles(ctx context.Context) ([]Role, error) {
	return s.repo.ListRoles(ctx)
}

// GetRole fetches a role by ID.
func (s *Service) GetRole(ctx context.Context, id int64) (Role, error) {
	return s.repo.GetRole(ctx, id)
}

// CreateRole inserts a new role. Role names are unique.
func (s *Service) CreateRole(ctx context.Context, name, description string) (Role, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return Role{}, fmt.Errorf("%w: role name required", shared.ErrInvalidInput)
	}
	role, err := s.repo.CreateRole(ctx, name, strings.TrimSpace(description))
	if err != nil {
		return Role{}, err
	}
	return role, nil
}

// UpdateRole updates an existing role. The reserved super_admin role cannot
// be renamed.
func (s *Service) UpdateRole(ctx context.Context, id int64, name, description string) (Role, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return Role{}, fmt.Errorf("%w: role name required", shared.ErrInvalidInput)
	}
	current, err := s.repo.GetRole(ctx, id)
	if err != nil {
		return Role{}, err
	}
	if current.Name == shared.RoleSuperAdmin && name != shared.RoleSuperAdmin {
		return Role{}, fmt.Errorf("%w: %s is reserved", shared.ErrConflict, shared.RoleSuperAdmin)
	}
	return s.repo.UpdateRole(ctx, id, name, strings.TrimSpace(description))
}

// DeleteRole removes a role. Deletion is rejected while any principal still
// holds the role, and the reserved super_admin role is never deletable while
// assigned.
func (s *Service) DeleteRole(ctx context.Context, id int64) error {
	role, err := s.repo.GetRole(ctx, id)
	if err != nil {
		return err
	}
	assigned, err := s.repo.CountAssignments(ctx, id)
	if err != nil {
		return err
	}
	if assigned > 0 {
		return fmt.Errorf("%w: role %s still assigned to %d principal(s)", shared.ErrConflict, role.Name, assigned)
	}
	return s.repo.DeleteRole(ctx, id)
}

// ListPermissions returns the seeded permission catalog.
func (s *Service) ListPermissions(ctx context.Context) ([]Permission, error) {
	return s.repo.ListPermissions(ctx)
}

// SeedPermissions upserts the core permission catalog and the reserved
// roles. Idempotent; the permission set is append-only afterwards.
func (s *Service) SeedPermissions(ctx context.Context) error {
	for _, name := range shared.CoreScopes() {
		if _, err := s.repo.UpsertPermission(ctx, name, ""); err != nil {
			return fmt.Errorf("rbac: seed permission %s: %w", name, err)
		}
	}
	for _, name := range []string{shared.RoleSuperAdmin, shared.RoleAdmin} {
		if _, err := s.repo.GetRoleByName(ctx, name); err == nil {
			continue
		}
		if _, err := s.repo.CreateRole(ctx, name, "reserved role"); err != nil {
			return fmt.Errorf("rbac: seed role %s: %w", name, err)
		}
	}
	return nil
}

// RolePermissions returns the permissions attached to a role.
func (s *Service) RolePermissions(ctx context.Context, roleID int64) ([]Permission, error) {
	return s.repo.RolePermissions(ctx, roleID)
}

// SetRolePermissions replaces the permission set of a role.
func (s *Service) SetRolePermissions(ctx context.Context, roleID int64, permissionIDs []int64) error {
	if _, err := s.repo.GetRole(ctx, roleID); err != nil {
		return err
	}
	return s.repo.SetRolePermissions(ctx, roleID, permissionIDs)
}

// AssignRole assigns a role to the given user. Fails with ErrAlreadyAssigned
// when the pair exists.
func (s *Service) AssignRole(ctx context.Context, userID, roleID int64) error {
	err := s.repo.AssignRole(ctx, userID, roleID)
	if err != nil {
		if errors.Is(err, shared.ErrConflict) {
			return ErrAlreadyAssigned
		}
		return err
	}
	return nil
}

// RemoveRole removes a role from a user.
func (s *Service) RemoveRole(ctx context.Context, userID, roleID int64) error {
	return s.repo.RemoveRole(ctx, userID, roleID)
}

// ReplaceRoles performs a full membership replace as one atomic unit.
func (s *Service) ReplaceRoles(ctx context.Context, userID int64, roleIDs []int64) error {
	seen := make(map[int64]struct{}, len(roleIDs))
	deduped := make([]int64, 0, len(roleIDs))
	for _, id := range roleIDs {
		if id <= 0 {
			return fmt.Errorf("%w: role id must be positive", shared.ErrInvalidInput)
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		deduped = append(deduped, id)
	}
	return s.repo.ReplaceRoles(ctx, userID, deduped)
}

// RolesForUser returns the role names held by a user.
func (s *Service) RolesForUser(ctx context.Context, userID int64) ([]string, error) {
	return s.repo.RolesForUser(ctx, userID)
}

// EffectivePermissions returns deduplicated permission names for a user.
func (s *Service) EffectivePermissions(ctx context.Context, userID int64) ([]string, error) {
	return s.repo.EffectivePermissions(ctx, userID)
}

// PrincipalFor builds the Principal handed to the resolver and downstream
// core functions.
func (s *Service) PrincipalFor(ctx context.Context, userID int64, asglID string) (*Principal, error) {
	roles, err := s.repo.RolesForUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	return &Principal{ID: userID, ASGLID: asglID, Roles: roles}, nil
}
