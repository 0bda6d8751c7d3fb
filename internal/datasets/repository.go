package datasets

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/asgl-platform/docchat/internal/platform/db"
	"github.com/asgl-platform/docchat/internal/shared"
)

// Repository provides PostgreSQL backed persistence for the dataset forest,
// documents and access grants.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const datasetColumns = `id, parent_id, owner_id, name, description, created_at, updated_at`
const documentColumns = `id, dataset_id, owner_id, name, mime_type, size_bytes, created_at, updated_at`

func scanDataset(row pgx.Row) (Dataset, error) {
	var d Dataset
	err := row.Scan(&d.ID, &d.ParentID, &d.OwnerID, &d.Name, &d.Description, &d.CreatedAt, &d.UpdatedAt)
	return d, err
}

func scanDocument(row pgx.Row) (Document, error) {
	var d Document
	err := row.Scan(&d.ID, &d.DatasetID, &d.OwnerID, &d.Name, &d.MimeType, &d.SizeBytes, &d.CreatedAt, &d.UpdatedAt)
	return d, err
}

// GetDataset fetches a dataset node by ID.
func (r *Repository) GetDataset(ctx context.Context, id int64) (Dataset, error) {
	d, err := scanDataset(r.pool.QueryRow(ctx, `SELECT `+datasetColumns+` FROM datasets WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Dataset{}, shared.ErrNotFound
		}
		return Dataset{}, db.Classify(err)
	}
	return d, nil
}

// ListDatasets returns all dataset nodes ordered by ID.
func (r *Repository) ListDatasets(ctx context.Context) ([]Dataset, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+datasetColumns+` FROM datasets ORDER BY id`)
	if err != nil {
		return nil, db.Classify(err)
	}
	defer rows.Close()
	var out []Dataset
	for rows.Next() {
		d, err := scanDataset(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	if err := rows.Err(); err != nil {
		return nil, db.Classify(err)
	}
	return out, nil
}

// ListChildren returns the direct children of a dataset.
func (r *Repository) ListChildren(ctx context.Context, parentID int64) ([]Dataset, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+datasetColumns+` FROM datasets WHERE parent_id = $1 ORDER BY id`, parentID)
	if err != nil {
		return nil, db.Classify(err)
	}
	defer rows.Close()
	var out []Dataset
	for rows.Next() {
		d, err := scanDataset(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	if err := rows.Err(); err != nil {
		return nil, db.Classify(err)
	}
	return out, nil
}

// CreateDataset inserts a dataset node. The parent, when set, must exist.
func (r *Repository) CreateDataset(ctx context.Context, d Dataset) (Dataset, error) {
	row := r.pool.QueryRow(ctx, `
		INSERT INTO datasets (parent_id, owner_id, name, description)
		VALUES ($1, $2, $3, $4)
		RETURNING `+datasetColumns,
		d.ParentID, d.OwnerID, d.Name, d.Description)
	created, err := scanDataset(row)
	if err != nil {
		if db.IsForeignKeyViolation(err) {
			return Dataset{}, fmt.Errorf("%w: parent dataset", shared.ErrNotFound)
		}
		return Dataset{}, db.Classify(err)
	}
	return created, nil
}

// UpdateDataset updates the mutable fields of a node.
func (r *Repository) UpdateDataset(ctx context.Context, id int64, name, description string) (Dataset, error) {
	row := r.pool.QueryRow(ctx, `
		UPDATE datasets SET name = $2, description = $3, updated_at = NOW()
		WHERE id = $1
		RETURNING `+datasetColumns, id, name, description)
	d, err := scanDataset(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Dataset{}, shared.ErrNotFound
		}
		return Dataset{}, db.Classify(err)
	}
	return d, nil
}

// CountDescendantsAndDocuments returns the number of direct children and
// attached documents, used by the deletion guard.
func (r *Repository) CountDescendantsAndDocuments(ctx context.Context, id int64) (children int, documents int, err error) {
	err = r.pool.QueryRow(ctx, `
		SELECT
			(SELECT COUNT(*) FROM datasets WHERE parent_id = $1),
			(SELECT COUNT(*) FROM documents WHERE dataset_id = $1)`, id).
		Scan(&children, &documents)
	if err != nil {
		return 0, 0, db.Classify(err)
	}
	return children, documents, nil
}

// DeleteDataset removes a childless, empty dataset node with its grants.
func (r *Repository) DeleteDataset(ctx context.Context, id int64) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `DELETE FROM dataset_access WHERE dataset_id = $1`, id); err != nil {
			return db.Classify(err)
		}
		tag, err := tx.Exec(ctx, `DELETE FROM datasets WHERE id = $1`, id)
		if err != nil {
			if db.IsForeignKeyViolation(err) {
				return fmt.Errorf("%w: dataset still has children or documents", shared.ErrConflict)
			}
			return db.Classify(err)
		}
		if tag.RowsAffected() == 0 {
			return shared.ErrNotFound
		}
		return nil
	})
}

// GetDocument fetches a document by ID.
func (r *Repository) GetDocument(ctx context.Context, id int64) (Document, error) {
	d, err := scanDocument(r.pool.QueryRow(ctx, `SELECT `+documentColumns+` FROM documents WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Document{}, shared.ErrNotFound
		}
		return Document{}, db.Classify(err)
	}
	return d, nil
}

// ListDocuments returns the documents attached to a dataset.
func (r *Repository) ListDocuments(ctx context.Context, datasetID int64) ([]Document, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+documentColumns+` FROM documents WHERE dataset_id = $1 ORDER BY id`, datasetID)
	if err != nil {
		return nil, db.Classify(err)
	}
	defer rows.Close()
	var out []Document
	for rows.Next() {
		d, err := scanDocument(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	if err := rows.Err(); err != nil {
		return nil, db.Classify(err)
	}
	return out, nil
}

// CreateDocument inserts a document leaf.
func (r *Repository) CreateDocument(ctx context.Context, d Document) (Document, error) {
	row := r.pool.QueryRow(ctx, `
		INSERT INTO documents (dataset_id, owner_id, name, mime_type, size_bytes)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING `+documentColumns,
		d.DatasetID, d.OwnerID, d.Name, d.MimeType, d.SizeBytes)
	created, err := scanDocument(row)
	if err != nil {
		if db.IsForeignKeyViolation(err) {
			return Document{}, fmt.Errorf("%w: dataset", shared.ErrNotFound)
		}
		return Document{}, db.Classify(err)
	}
	return created, nil
}

// DeleteDocument removes a document together with its grants.
func (r *Repository) DeleteDocument(ctx context.Context, id int64) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `DELETE FROM document_access WHERE document_id = $1`, id); err != nil {
			return db.Classify(err)
		}
		tag, err := tx.Exec(ctx, `DELETE FROM documents WHERE id = $1`, id)
		if err != nil {
			return db.Classify(err)
		}
		if tag.RowsAffected() == 0 {
			return shared.ErrNotFound
		}
		return nil
	})
}

// DatasetGrant returns the explicit grant for (user, dataset), or nil when no
// row exists.
func (r *Repository) DatasetGrant(ctx context.Context, userID, datasetID int64) (*AccessGrant, error) {
	var g AccessGrant
	err := r.pool.QueryRow(ctx, `
		SELECT user_id, can_view, can_edit, can_delete, created_at, updated_at
		FROM dataset_access WHERE user_id = $1 AND dataset_id = $2`, userID, datasetID).
		Scan(&g.UserID, &g.CanView, &g.CanEdit, &g.CanDelete, &g.CreatedAt, &g.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, db.Classify(err)
	}
	return &g, nil
}

// UpsertDatasetGrant creates or replaces the grant for (user, dataset).
func (r *Repository) UpsertDatasetGrant(ctx context.Context, datasetID int64, g AccessGrant) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO dataset_access (user_id, dataset_id, can_view, can_edit, can_delete)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (user_id, dataset_id) DO UPDATE
		SET can_view = EXCLUDED.can_view,
		    can_edit = EXCLUDED.can_edit,
		    can_delete = EXCLUDED.can_delete,
		    updated_at = NOW()`,
		g.UserID, datasetID, g.CanView, g.CanEdit, g.CanDelete)
	if err != nil {
		if db.IsForeignKeyViolation(err) {
			return shared.ErrNotFound
		}
		return db.Classify(err)
	}
	return nil
}

// DeleteDatasetGrant removes the explicit grant for (user, dataset).
func (r *Repository) DeleteDatasetGrant(ctx context.Context, userID, datasetID int64) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM dataset_access WHERE user_id = $1 AND dataset_id = $2`, userID, datasetID)
	if err != nil {
		return db.Classify(err)
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrNotFound
	}
	return nil
}

// DocumentGrant returns the explicit grant for (user, document), or nil when
// no row exists.
func (r *Repository) DocumentGrant(ctx context.Context, userID, documentID int64) (*AccessGrant, error) {
	var g AccessGrant
	err := r.pool.QueryRow(ctx, `
		SELECT user_id, can_view, can_edit, can_delete, created_at, updated_at
		FROM document_access WHERE user_id = $1 AND document_id = $2`, userID, documentID).
		Scan(&g.UserID, &g.CanView, &g.CanEdit, &g.CanDelete, &g.CreatedAt, &g.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, db.Classify(err)
	}
	return &g, nil
}

// UpsertDocumentGrant creates or replaces the grant for (user, document).
func (r *Repository) UpsertDocumentGrant(ctx context.Context, documentID int64, g AccessGrant) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO document_access (user_id, document_id, can_view, can_edit, can_delete)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (user_id, document_id) DO UPDATE
		SET can_view = EXCLUDED.can_view,
		    can_edit = EXCLUDED.can_edit,
		    can_delete = EXCLUDED.can_delete,
		    updated_at = NOW()`,
		g.UserID, documentID, g.CanView, g.CanEdit, g.CanDelete)
	if err != nil {
		if db.IsForeignKeyViolation(err) {
			return shared.ErrNotFound
		}
		return db.Classify(err)
	}
	return nil
}

// DeleteDocumentGrant removes the explicit grant for (user, document).
func (r *Repository) DeleteDocumentGrant(ctx context.Context, userID, documentID int64) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM document_access WHERE user_id = $1 AND document_id = $2`, userID, documentID)
	if err != nil {
		return db.Classify(err)
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrNotFound
	}
	return nil
}
