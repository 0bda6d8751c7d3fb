package datasets

import (
	"context"
	"fmt"
	"strings"

	"github.com/asgl-platform/docchat/internal/rbac"
	"github.com/asgl-platform/docchat/internal/shared"
)

// RepositoryPort defines the persistence surface the service depends on.
type RepositoryPort interface {
	AccessStore
	ListDatasets(ctx context.Context) ([]Dataset, error)
	ListChildren(ctx context.Context, parentID int64) ([]Dataset, error)
	CreateDataset(ctx context.Context, d Dataset) (Dataset, error)
	UpdateDataset(ctx context.Context, id int64, name, description string) (Dataset, error)
	CountDescendantsAndDocuments(ctx context.Context, id int64) (int, int, error)
	DeleteDataset(ctx context.Context, id int64) error
	ListDocuments(ctx context.Context, datasetID int64) ([]Document, error)
	CreateDocument(ctx context.Context, d Document) (Document, error)
	DeleteDocument(ctx context.Context, id int64) error
	UpsertDatasetGrant(ctx context.Context, datasetID int64, g AccessGrant) error
	DeleteDatasetGrant(ctx context.Context, userID, datasetID int64) error
	UpsertDocumentGrant(ctx context.Context, documentID int64, g AccessGrant) error
	DeleteDocumentGrant(ctx context.Context, userID, documentID int64) error
}

// Service applies the authorization gate in front of dataset and document
// mutations. Every method takes the resolved principal explicitly.
type Service struct {
	repo     RepositoryPort
	resolver *Resolver
	roles    *rbac.Resolver
}

// NewService constructs a Service.
func NewService(repo RepositoryPort, resolver *Resolver, roles *rbac.Resolver) *Service {
	return &Service{repo: repo, resolver: resolver, roles: roles}
}

// Resolver exposes the access resolver for collaborators such as the chat
// gate.
func (s *Service) Resolver() *Resolver {
	return s.resolver
}

// GetDataset returns the dataset when the principal can view it.
func (s *Service) GetDataset(ctx context.Context, p *rbac.Principal, id int64) (Dataset, error) {
	ok, err := s.resolver.CanAccessDataset(ctx, p, id, ActionView)
	if err != nil {
		return Dataset{}, err
	}
	if !ok {
		return Dataset{}, shared.ErrForbidden
	}
	return s.repo.GetDataset(ctx, id)
}

// ListVisibleDatasets returns every dataset the principal may view.
func (s *Service) ListVisibleDatasets(ctx context.Context, p *rbac.Principal) ([]Dataset, error) {
	if p == nil {
		return nil, shared.ErrUnauthorized
	}
	all, err := s.repo.ListDatasets(ctx)
	if err != nil {
		return nil, err
	}
	if s.roles.IsAdmin(p) {
		return all, nil
	}
	visible := make([]Dataset, 0, len(all))
	for _, ds := range all {
		ok, err := s.resolver.CanAccessDataset(ctx, p, ds.ID, ActionView)
		if err != nil {
			return nil, err
		}
		if ok {
			visible = append(visible, ds)
		}
	}
	return visible, nil
}

// CreateDataset adds a node to the forest. Creating a child requires edit
// access on the parent; creating a root requires the datasets.edit
// permission.
func (s *Service) CreateDataset(ctx context.Context, p *rbac.Principal, parentID *int64, name, description string) (Dataset, error) {
	if p == nil {
		return Dataset{}, shared.ErrUnauthorized
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return Dataset{}, fmt.Errorf("%w: dataset name required", shared.ErrInvalidInput)
	}
	if parentID != nil {
		ok, err := s.resolver.CanAccessDataset(ctx, p, *parentID, ActionEdit)
		if err != nil {
			return Dataset{}, err
		}
		if !ok {
			return Dataset{}, shared.ErrForbidden
		}
	} else {
		ok, err := s.roles.HasPermission(ctx, p, shared.PermDatasetsEdit)
		if err != nil {
			return Dataset{}, err
		}
		if !ok {
			return Dataset{}, shared.ErrForbidden
		}
	}
	return s.repo.CreateDataset(ctx, Dataset{
		ParentID:    parentID,
		OwnerID:     p.ID,
		Name:        name,
		Description: strings.TrimSpace(description),
	})
}

// UpdateDataset renames or redescribes a node.
func (s *Service) UpdateDataset(ctx context.Context, p *rbac.Principal, id int64, name, description string) (Dataset, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return Dataset{}, fmt.Errorf("%w: dataset name required", shared.ErrInvalidInput)
	}
	ok, err := s.resolver.CanAccessDataset(ctx, p, id, ActionEdit)
	if err != nil {
		return Dataset{}, err
	}
	if !ok {
		return Dataset{}, shared.ErrForbidden
	}
	return s.repo.UpdateDataset(ctx, id, name, strings.TrimSpace(description))
}

// DeleteDataset removes a node. Deletion is rejected while the node still
// has children or documents; callers must empty the subtree first. The policy
// is deliberate: no implicit cascade over user content.
func (s *Service) DeleteDataset(ctx context.Context, p *rbac.Principal, id int64) error {
	ok, err := s.resolver.CanAccessDataset(ctx, p, id, ActionDelete)
	if err != nil {
		return err
	}
	if !ok {
		return shared.ErrForbidden
	}
	children, documents, err := s.repo.CountDescendantsAndDocuments(ctx, id)
	if err != nil {
		return err
	}
	if children > 0 || documents > 0 {
		return fmt.Errorf("%w: dataset has %d children and %d documents", shared.ErrConflict, children, documents)
	}
	return s.repo.DeleteDataset(ctx, id)
}

// ListDocuments returns the documents of a dataset the principal can view.
func (s *Service) ListDocuments(ctx context.Context, p *rbac.Principal, datasetID int64) ([]Document, error) {
	ok, err := s.resolver.CanAccessDataset(ctx, p, datasetID, ActionView)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, shared.ErrForbidden
	}
	return s.repo.ListDocuments(ctx, datasetID)
}

// GetDocument returns a document the principal can view.
func (s *Service) GetDocument(ctx context.Context, p *rbac.Principal, id int64) (Document, error) {
	ok, err := s.resolver.CanAccessDocument(ctx, p, id, ActionView)
	if err != nil {
		return Document{}, err
	}
	if !ok {
		return Document{}, shared.ErrForbidden
	}
	return s.repo.GetDocument(ctx, id)
}

// CreateDocument attaches a document to a dataset the principal can edit.
func (s *Service) CreateDocument(ctx context.Context, p *rbac.Principal, datasetID int64, name, mimeType string, sizeBytes int64) (Document, error) {
	if p == nil {
		return Document{}, shared.ErrUnauthorized
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return Document{}, fmt.Errorf("%w: document name required", shared.ErrInvalidInput)
	}
	ok, err := s.resolver.CanAccessDataset(ctx, p, datasetID, ActionEdit)
	if err != nil {
		return Document{}, err
	}
	if !ok {
		return Document{}, shared.ErrForbidden
	}
	return s.repo.CreateDocument(ctx, Document{
		DatasetID: datasetID,
		OwnerID:   p.ID,
		Name:      name,
		MimeType:  mimeType,
		SizeBytes: sizeBytes,
	})
}

// DeleteDocument removes a document the principal may delete.
func (s *Service) DeleteDocument(ctx context.Context, p *rbac.Principal, id int64) error {
	ok, err := s.resolver.CanAccessDocument(ctx, p, id, ActionDelete)
	if err != nil {
		return err
	}
	if !ok {
		return shared.ErrForbidden
	}
	return s.repo.DeleteDocument(ctx, id)
}

// UpsertDatasetGrant creates or replaces an explicit grant. Administrators
// only.
func (s *Service) UpsertDatasetGrant(ctx context.Context, p *rbac.Principal, datasetID int64, g AccessGrant) error {
	if p == nil {
		return shared.ErrUnauthorized
	}
	if !s.roles.IsAdmin(p) {
		return shared.ErrForbidden
	}
	if g.UserID <= 0 {
		return fmt.Errorf("%w: grant user id required", shared.ErrInvalidInput)
	}
	if _, err := s.repo.GetDataset(ctx, datasetID); err != nil {
		return err
	}
	return s.repo.UpsertDatasetGrant(ctx, datasetID, g)
}

// DeleteDatasetGrant removes an explicit grant. Administrators only.
func (s *Service) DeleteDatasetGrant(ctx context.Context, p *rbac.Principal, userID, datasetID int64) error {
	if p == nil {
		return shared.ErrUnauthorized
	}
	if !s.roles.IsAdmin(p) {
		return shared.ErrForbidden
	}
	return s.repo.DeleteDatasetGrant(ctx, userID, datasetID)
}

// UpsertDocumentGrant creates or replaces an explicit document grant.
// Administrators only.
func (s *Service) UpsertDocumentGrant(ctx context.Context, p *rbac.Principal, documentID int64, g AccessGrant) error {
	if p == nil {
		return shared.ErrUnauthorized
	}
	if !s.roles.IsAdmin(p) {
		return shared.ErrForbidden
	}
	if g.UserID <= 0 {
		return fmt.Errorf("%w: grant user id required", shared.ErrInvalidInput)
	}
	if _, err := s.repo.GetDocument(ctx, documentID); err != nil {
		return err
	}
	return s.repo.UpsertDocumentGrant(ctx, documentID, g)
}

// DeleteDocumentGrant removes an explicit document grant. Administrators
// only.
func (s *Service) DeleteDocumentGrant(ctx context.Context, p *rbac.Principal, userID, documentID int64) error {
	if p == nil {
		return shared.ErrUnauthorized
	}
	if !s.roles.IsAdmin(p) {
		return shared.ErrForbidden
	}
	return s.repo.DeleteDocumentGrant(ctx, userID, documentID)
}
