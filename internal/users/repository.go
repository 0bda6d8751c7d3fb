package users

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/asgl-platform/docchat/internal/platform/db"
	"github.com/asgl-platform/docchat/internal/shared"
)

// Repository provides PostgreSQL backed persistence for users.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const userColumns = `id, asgl_id, email, name, password_hash, is_active, created_at, updated_at`

func scanUser(row pgx.Row) (User, error) {
	var u User
	err := row.Scan(&u.ID, &u.ASGLID, &u.Email, &u.Name, &u.PasswordHash, &u.IsActive, &u.CreatedAt, &u.UpdatedAt)
	return u, err
}

// ListUsers returns all users ordered by ID.
func (r *Repository) ListUsers(ctx context.Context) ([]User, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+userColumns+` FROM users ORDER BY id`)
	if err != nil {
		return nil, db.Classify(err)
	}
	defer rows.Close()
	var out []User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, u)
	}
	if err := rows.Err(); err != nil {
		return nil, db.Classify(err)
	}
	return out, nil
}

// GetUser fetches a user by ID.
func (r *Repository) GetUser(ctx context.Context, id int64) (User, error) {
	u, err := scanUser(r.pool.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return User{}, shared.ErrNotFound
		}
		return User{}, db.Classify(err)
	}
	return u, nil
}

// GetUserByASGLID fetches a user by external identifier.
func (r *Repository) GetUserByASGLID(ctx context.Context, asglID string) (User, error) {
	u, err := scanUser(r.pool.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE asgl_id = $1`, asglID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return User{}, shared.ErrNotFound
		}
		return User{}, db.Classify(err)
	}
	return u, nil
}

// CreateUser inserts a new user.
func (r *Repository) CreateUser(ctx context.Context, u User) (User, error) {
	row := r.pool.QueryRow(ctx, `
		INSERT INTO users (asgl_id, email, name, password_hash, is_active)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING `+userColumns,
		u.ASGLID, u.Email, u.Name, u.PasswordHash, u.IsActive)
	created, err := scanUser(row)
	if err != nil {
		if db.IsUniqueViolation(err) {
			return User{}, fmt.Errorf("%w: asgl_id %s", shared.ErrConflict, u.ASGLID)
		}
		return User{}, db.Classify(err)
	}
	return created, nil
}

// EnsureUser inserts the user if it does not exist yet and returns the stored
// row either way. Backs create-on-first-login.
func (r *Repository) EnsureUser(ctx context.Context, asglID, name string) (User, error) {
	row := r.pool.QueryRow(ctx, `
		INSERT INTO users (asgl_id, name, is_active)
		VALUES ($1, $2, TRUE)
		ON CONFLICT (asgl_id) DO UPDATE SET updated_at = NOW()
		RETURNING `+userColumns,
		asglID, name)
	u, err := scanUser(row)
	if err != nil {
		return User{}, db.Classify(err)
	}
	return u, nil
}

// UpdateUser updates mutable fields of an existing user.
func (r *Repository) UpdateUser(ctx context.Context, u User) (User, error) {
	row := r.pool.QueryRow(ctx, `
		UPDATE users
		SET email = $2, name = $3, is_active = $4, updated_at = NOW()
		WHERE id = $1
		RETURNING `+userColumns,
		u.ID, u.Email, u.Name, u.IsActive)
	updated, err := scanUser(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return User{}, shared.ErrNotFound
		}
		if db.IsUniqueViolation(err) {
			return User{}, fmt.Errorf("%w: email %s", shared.ErrConflict, u.Email)
		}
		return User{}, db.Classify(err)
	}
	return updated, nil
}

// SetPasswordHash stores a new credential hash for the user.
func (r *Repository) SetPasswordHash(ctx context.Context, id int64, hash string) error {
	tag, err := r.pool.Exec(ctx, `UPDATE users SET password_hash = $2, updated_at = NOW() WHERE id = $1`, id, hash)
	if err != nil {
		return db.Classify(err)
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrNotFound
	}
	return nil
}

// DeleteUser removes a user. Dependent grants, role memberships and ledger
// rows are removed in the same transaction so no dangling references survive.
func (r *Repository) DeleteUser(ctx context.Context, id int64) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		for _, stmt := range []string{
			`DELETE FROM dataset_access WHERE user_id = $1`,
			`DELETE FROM document_access WHERE user_id = $1`,
			`DELETE FROM user_roles WHERE user_id = $1`,
			`DELETE FROM credit_usages WHERE user_id = $1`,
			`DELETE FROM credits WHERE user_id = $1`,
		} {
			if _, err := tx.Exec(ctx, stmt, id); err != nil {
				return db.Classify(err)
			}
		}
		tag, err := tx.Exec(ctx, `DELETE FROM users WHERE id = $1`, id)
		if err != nil {
			return db.Classify(err)
		}
		if tag.RowsAffected() == 0 {
			return shared.ErrNotFound
		}
		return nil
	})
}
