package rbac

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/asgl-platform/docchat/internal/platform/db"
	"github.com/asgl-platform/docchat/internal/shared"
)

// Repository provides PostgreSQL backed persistence for roles, permissions
// and memberships.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const roleColumns = `id, name, description, created_at, updated_at`

func scanRole(row pgx.Row) (Role, error) {
	var r Role
	err := row.Scan(&r.ID, &r.Name, &r.Description, &r.CreatedAt, &r.UpdatedAt)
	return r, err
}

// ListRoles returns all roles ordered by name.
func (r *Repository) ListRoles(ctx context.Context) ([]Role, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+roleColumns+` FROM roles ORDER BY name`)
	if err != nil {
		return nil, db.Classify(err)
	}
	defer rows.Close()
	var roles []Role
	for rows.Next() {
		role, err := scanRole(rows)
		if err != nil {
			return nil, err
		}
		roles = append(roles, role)
	}
	if err := rows.Err(); err != nil {
		return nil, db.Classify(err)
	}
	return roles, nil
}

// GetRole fetches a role by ID.
func (r *Repository) GetRole(ctx context.Context, id int64) (Role, error) {
	role, err := scanRole(r.pool.QueryRow(ctx, `SELECT `+roleColumns+` FROM roles WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Role{}, shared.ErrNotFound
		}
		return Role{}, db.Classify(err)
	}
	return role, nil
}

// GetRoleByName fetches a role by its unique name.
func (r *Repository) GetRoleByName(ctx context.Context, name string) (Role, error) {
	role, err := scanRole(r.pool.QueryRow(ctx, `SELECT `+roleColumns+` FROM roles WHERE name = $1`, name))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Role{}, shared.ErrNotFound
		}
		return Role{}, db.Classify(err)
	}
	return role, nil
}

// CreateRole inserts a new role.
func (r *Repository) CreateRole(ctx context.Context, name, description string) (Role, error) {
	row := r.pool.QueryRow(ctx, `
		INSERT INTO roles (name, description) VALUES ($1, $2)
		RETURNING `+roleColumns, name, description)
	role, err := scanRole(row)
	if err != nil {
		if db.IsUniqueViolation(err) {
			return Role{}, shared.ErrConflict
		}
		return Role{}, db.Classify(err)
	}
	return role, nil
}

// UpdateRole updates an existing role.
func (r *Repository) UpdateRole(ctx context.Context, id int64, name, description string) (Role, error) {
	row := r.pool.QueryRow(ctx, `
		UPDATE roles SET name = $2, description = $3, updated_at = NOW()
		WHERE id = $1
		RETURNING `+roleColumns, id, name, description)
	role, err := scanRole(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Role{}, shared.ErrNotFound
		}
		if db.IsUniqueViolation(err) {
			return Role{}, shared.ErrConflict
		}
		return Role{}, db.Classify(err)
	}
	return role, nil
}

// DeleteRole removes a role and its permission assignments.
func (r *Repository) DeleteRole(ctx context.Context, id int64) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `DELETE FROM role_permissions WHERE role_id = $1`, id); err != nil {
			return db.Classify(err)
		}
		tag, err := tx.Exec(ctx, `DELETE FROM roles WHERE id = $1`, id)
		if err != nil {
			return db.Classify(err)
		}
		if tag.RowsAffected() == 0 {
			return shared.ErrNotFound
		}
		return nil
	})
}

// CountAssignments returns how many users currently hold the role.
func (r *Repository) CountAssignments(ctx context.Context, roleID int64) (int, error) {
	var n int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM user_roles WHERE role_id = $1`, roleID).Scan(&n); err != nil {
		return 0, db.Classify(err)
	}
	return n, nil
}

// ListPermissions returns all permissions ordered by name.
func (r *Repository) ListPermissions(ctx context.Context) ([]Permission, error) {
	rows, err := r.pool.Query(ctx, `SELECT id, name, description FROM permissions ORDER BY name`)
	if err != nil {
		return nil, db.Classify(err)
	}
	defer rows.Close()
	var perms []Permission
	for rows.Next() {
		var p Permission
		if err := rows.Scan(&p.ID, &p.Name, &p.Description); err != nil {
			return nil, err
		}
		perms = append(perms, p)
	}
	if err := rows.Err(); err != nil {
		return nil, db.Classify(err)
	}
	return perms, nil
}

// UpsertPermission inserts the permission or refreshes its description.
// Permission names are globally unique and the set is append-only.
func (r *Repository) UpsertPermission(ctx context.Context, name, description string) (Permission, error) {
	var p Permission
	err := r.pool.QueryRow(ctx, `
		INSERT INTO permissions (name, description) VALUES ($1, $2)
		ON CONFLICT (name) DO UPDATE SET description = EXCLUDED.description
		RETURNING id, name, description`, name, description).
		Scan(&p.ID, &p.Name, &p.Description)
	if err != nil {
		return Permission{}, db.Classify(err)
	}
	return p, nil
}

// RolePermissions returns the permissions attached to a role.
func (r *Repository) RolePermissions(ctx context.Context, roleID int64) ([]Permission, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT p.id, p.name, p.description
		FROM permissions p
		JOIN role_permissions rp ON rp.permission_id = p.id
		WHERE rp.role_id = $1
		ORDER BY p.name`, roleID)
	if err != nil {
		return nil, db.Classify(err)
	}
	defer rows.Close()
	var perms []Permission
	for rows.Next() {
		var p Permission
		if err := rows.Scan(&p.ID, &p.Name, &p.Description); err != nil {
			return nil, err
		}
		perms = append(perms, p)
	}
	if err := rows.Err(); err != nil {
		return nil, db.Classify(err)
	}
	return perms, nil
}

// SetRolePermissions replaces the permission set of a role in one transaction.
func (r *Repository) SetRolePermissions(ctx context.Context, roleID int64, permissionIDs []int64) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `DELETE FROM role_permissions WHERE role_id = $1`, roleID); err != nil {
			return db.Classify(err)
		}
		for _, id := range permissionIDs {
			if _, err := tx.Exec(ctx, `
				INSERT INTO role_permissions (role_id, permission_id) VALUES ($1, $2)
				ON CONFLICT DO NOTHING`, roleID, id); err != nil {
				return db.Classify(err)
			}
		}
		return nil
	})
}

// AssignRole adds a role membership. Returns shared.ErrConflict when the
// pair already exists.
func (r *Repository) AssignRole(ctx context.Context, userID, roleID int64) error {
	_, err := r.pool.Exec(ctx, `INSERT INTO user_roles (user_id, role_id) VALUES ($1, $2)`, userID, roleID)
	if err != nil {
		if db.IsUniqueViolation(err) {
			return shared.ErrConflict
		}
		if db.IsForeignKeyViolation(err) {
			return shared.ErrNotFound
		}
		return db.Classify(err)
	}
	return nil
}

// RemoveRole deletes a role membership.
func (r *Repository) RemoveRole(ctx context.Context, userID, roleID int64) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM user_roles WHERE user_id = $1 AND role_id = $2`, userID, roleID)
	if err != nil {
		return db.Classify(err)
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrNotFound
	}
	return nil
}

// ReplaceRoles swaps the full membership set of a user atomically so a
// concurrent reader never observes a partially applied update.
func (r *Repository) ReplaceRoles(ctx context.Context, userID int64, roleIDs []int64) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		rows, err := tx.Query(ctx, `SELECT role_id FROM user_roles WHERE user_id = $1`, userID)
		if err != nil {
			return db.Classify(err)
		}
		existing := make(map[int64]struct{})
		for rows.Next() {
			var id int64
			if err := rows.Scan(&id); err != nil {
				rows.Close()
				return err
			}
			existing[id] = struct{}{}
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return db.Classify(err)
		}

		keep := make(map[int64]struct{}, len(roleIDs))
		for _, id := range roleIDs {
			keep[id] = struct{}{}
			if _, ok := existing[id]; !ok {
				if _, err := tx.Exec(ctx, `INSERT INTO user_roles (user_id, role_id) VALUES ($1, $2)`, userID, id); err != nil {
					if db.IsForeignKeyViolation(err) {
						return shared.ErrNotFound
					}
					return db.Classify(err)
				}
			}
		}
		for id := range existing {
			if _, ok := keep[id]; !ok {
				if _, err := tx.Exec(ctx, `DELETE FROM user_roles WHERE user_id = $1 AND role_id = $2`, userID, id); err != nil {
					return db.Classify(err)
				}
			}
		}
		return nil
	})
}

// RolesForUser returns the role names held by a user.
func (r *Repository) RolesForUser(ctx context.Context, userID int64) ([]string, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT r.name
		FROM roles r
		JOIN user_roles ur ON ur.role_id = r.id
		WHERE ur.user_id = $1
		ORDER BY r.name`, userID)
	if err != nil {
		return nil, db.Classify(err)
	}
	defer rows.Close()
	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		names = append(names, name)
	}
	if err := rows.Err(); err != nil {
		return nil, db.Classify(err)
	}
	return names, nil
}

// EffectivePermissions returns deduplicated permission names across every
// role held by a user.
func (r *Repository) EffectivePermissions(ctx context.Context, userID int64) ([]string, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT DISTINCT p.name
		FROM permissions p
		JOIN role_permissions rp ON rp.permission_id = p.id
		JOIN user_roles ur ON ur.role_id = rp.role_id
		WHERE ur.user_id = $1
		ORDER BY p.name`, userID)
	if err != nil {
		return nil, db.Classify(err)
	}
	defer rows.Close()
	var perms []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		perms = append(perms, name)
	}
	if err := rows.Err(); err != nil {
		return nil, db.Classify(err)
	}
	return perms, nil
}
