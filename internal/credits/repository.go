package credits

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/asgl-platform/docchat/internal/platform/db"
	"github.com/asgl-platform/docchat/internal/shared"
)

// Repository provides PostgreSQL backed persistence for the ledger. The
// deduct path relies on a conditional UPDATE inside a serializable
// transaction, not on in-process locking: requests may be handled by
// independent worker processes.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const creditColumns = `id, user_id, month, year, total_credits, used_credits, remaining_credits, created_at, updated_at`

func scanCredit(row pgx.Row) (Credit, error) {
	var c Credit
	err := row.Scan(&c.ID, &c.UserID, &c.Month, &c.Year, &c.TotalCredits, &c.UsedCredits, &c.RemainingCredits, &c.CreatedAt, &c.UpdatedAt)
	return c, err
}

// GetCredit returns the balance row for (user, period). Unallocated periods
// surface as shared.ErrNotFound.
func (r *Repository) GetCredit(ctx context.Context, userID int64, period Period) (Credit, error) {
	c, err := scanCredit(r.pool.QueryRow(ctx, `
		SELECT `+creditColumns+` FROM credits
		WHERE user_id = $1 AND month = $2 AND year = $3`,
		userID, period.Month, period.Year))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Credit{}, shared.ErrNotFound
		}
		return Credit{}, db.Classify(err)
	}
	return c, nil
}

// ListCredits returns every balance row for a period ordered by user.
func (r *Repository) ListCredits(ctx context.Context, period Period) ([]Credit, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+creditColumns+` FROM credits
		WHERE month = $1 AND year = $2 ORDER BY user_id`,
		period.Month, period.Year)
	if err != nil {
		return nil, db.Classify(err)
	}
	defer rows.Close()
	var out []Credit
	for rows.Next() {
		c, err := scanCredit(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, db.Classify(err)
	}
	return out, nil
}

// Deduct atomically verifies and consumes credit, appending the usage record
// in the same transaction. Returns false without mutating anything when the
// balance is missing or insufficient: two concurrent calls can never both
// succeed on the last unit of credit. A call that loses the row race aborts
// with a serialization failure and is re-run by WithSerializableTx against a
// fresh snapshot, where the conditional UPDATE sees the updated balance.
func (r *Repository) Deduct(ctx context.Context, userID int64, period Period, amount int64, action string, metadata map[string]any) (bool, error) {
	var deducted bool
	err := db.WithSerializableTx(ctx, r.pool, func(tx pgx.Tx) error {
		// The tx may be retried after a serialization abort; start clean.
		deducted = false
		var creditID int64
		err := tx.QueryRow(ctx, `
			UPDATE credits
			SET used_credits = used_credits + $4,
			    remaining_credits = remaining_credits - $4,
			    updated_at = NOW()
			WHERE user_id = $1 AND month = $2 AND year = $3 AND remaining_credits >= $4
			RETURNING id`,
			userID, period.Month, period.Year, amount).Scan(&creditID)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				// Missing row or insufficient balance: a no-op, not an error.
				return nil
			}
			return db.Classify(err)
		}
		if err := insertUsage(ctx, tx, userID, creditID, amount, action, metadata); err != nil {
			return err
		}
		deducted = true
		return nil
	})
	if err != nil {
		return false, err
	}
	return deducted, nil
}

// AddBonus raises the period's total and remaining balance, creating the row
// when absent, and appends a zero-amount usage record in the same
// transaction.
func (r *Repository) AddBonus(ctx context.Context, userID int64, period Period, amount int64, reason string) (Credit, error) {
	var credit Credit
	err := db.WithSerializableTx(ctx, r.pool, func(tx pgx.Tx) error {
		row := tx.QueryRow(ctx, `
			INSERT INTO credits (user_id, month, year, total_credits, used_credits, remaining_credits)
			VALUES ($1, $2, $3, $4, 0, $4)
			ON CONFLICT (user_id, month, year) DO UPDATE
			SET total_credits = credits.total_credits + $4,
			    remaining_credits = credits.remaining_credits + $4,
			    updated_at = NOW()
			RETURNING `+creditColumns,
			userID, period.Month, period.Year, amount)
		c, err := scanCredit(row)
		if err != nil {
			return db.Classify(err)
		}
		meta := map[string]any{"reason": reason, "bonus": amount}
		if err := insertUsage(ctx, tx, userID, c.ID, 0, ActionBonus, meta); err != nil {
			return err
		}
		credit = c
		return nil
	})
	if err != nil {
		return Credit{}, err
	}
	return credit, nil
}

// Overwrite replaces the balance fields for (user, period) and records the
// adjustment. The caller re-derives remaining = total - used beforehand.
func (r *Repository) Overwrite(ctx context.Context, userID int64, period Period, total, used int64) (Credit, error) {
	var credit Credit
	err := db.WithSerializableTx(ctx, r.pool, func(tx pgx.Tx) error {
		row := tx.QueryRow(ctx, `
			INSERT INTO credits (user_id, month, year, total_credits, used_credits, remaining_credits)
			VALUES ($1, $2, $3, $4, $5, $4 - $5)
			ON CONFLICT (user_id, month, year) DO UPDATE
			SET total_credits = $4,
			    used_credits = $5,
			    remaining_credits = $4 - $5,
			    updated_at = NOW()
			RETURNING `+creditColumns,
			userID, period.Month, period.Year, total, used)
		c, err := scanCredit(row)
		if err != nil {
			return db.Classify(err)
		}
		meta := map[string]any{"total": total, "used": used}
		if err := insertUsage(ctx, tx, userID, c.ID, 0, ActionAdminAdjust, meta); err != nil {
			return err
		}
		credit = c
		return nil
	})
	if err != nil {
		return Credit{}, err
	}
	return credit, nil
}

// ActiveUserIDs lists the principals holding an allocation in the period.
func (r *Repository) ActiveUserIDs(ctx context.Context, period Period) ([]int64, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT user_id FROM credits WHERE month = $1 AND year = $2 ORDER BY user_id`,
		period.Month, period.Year)
	if err != nil {
		return nil, db.Classify(err)
	}
	defer rows.Close()
	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, db.Classify(err)
	}
	return ids, nil
}

// EnsurePeriod creates the period row with the default allocation when it
// does not exist yet, appending the zero-amount usage record in the same
// transaction. Re-running is a no-op, which keeps the monthly reset
// idempotent: the conflicting INSERT returns no row and nothing is written.
func (r *Repository) EnsurePeriod(ctx context.Context, userID int64, period Period, total int64) (bool, error) {
	var created bool
	err := db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		var creditID int64
		err := tx.QueryRow(ctx, `
			INSERT INTO credits (user_id, month, year, total_credits, used_credits, remaining_credits)
			VALUES ($1, $2, $3, $4, 0, $4)
			ON CONFLICT (user_id, month, year) DO NOTHING
			RETURNING id`,
			userID, period.Month, period.Year, total).Scan(&creditID)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return nil
			}
			return db.Classify(err)
		}
		meta := map[string]any{"total": total}
		if err := insertUsage(ctx, tx, userID, creditID, 0, ActionReset, meta); err != nil {
			return err
		}
		created = true
		return nil
	})
	if err != nil {
		return false, err
	}
	return created, nil
}

// ListUsage returns a page of the usage audit trail for a user, newest
// first, with the total row count for pagination.
func (r *Repository) ListUsage(ctx context.Context, userID int64, limit, offset int) ([]CreditUsage, int, error) {
	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM credit_usages WHERE user_id = $1`, userID).Scan(&total); err != nil {
		return nil, 0, db.Classify(err)
	}
	rows, err := r.pool.Query(ctx, `
		SELECT id, user_id, credit_id, amount, action, metadata, created_at
		FROM credit_usages
		WHERE user_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2 OFFSET $3`,
		userID, limit, offset)
	if err != nil {
		return nil, 0, db.Classify(err)
	}
	defer rows.Close()
	var out []CreditUsage
	for rows.Next() {
		var u CreditUsage
		var meta []byte
		if err := rows.Scan(&u.ID, &u.UserID, &u.CreditID, &u.Amount, &u.Action, &meta, &u.CreatedAt); err != nil {
			return nil, 0, err
		}
		if len(meta) > 0 {
			if err := json.Unmarshal(meta, &u.Metadata); err != nil {
				return nil, 0, err
			}
		}
		out = append(out, u)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, db.Classify(err)
	}
	return out, total, nil
}

func insertUsage(ctx context.Context, tx pgx.Tx, userID, creditID, amount int64, action string, metadata map[string]any) error {
	meta, err := json.Marshal(metadata)
	if err != nil {
		return err
	}
	if _, err := tx.Exec(ctx, `
		INSERT INTO credit_usages (user_id, credit_id, amount, action, metadata)
		VALUES ($1, $2, $3, $4, $5)`,
		userID, creditID, amount, action, meta); err != nil {
		return db.Classify(err)
	}
	return nil
}
