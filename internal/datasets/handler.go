package datasets

import (
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/asgl-platform/docchat/internal/platform/httpx"
	"github.com/asgl-platform/docchat/internal/rbac"
	"github.com/asgl-platform/docchat/internal/shared"
)

// Handler exposes dataset, document and grant endpoints. Authorization is
// enforced by the service layer; routes only require a signed-in principal
// so per-node grants can open individual subtrees to non-admins.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	audit     *shared.AuditLogger
	validator *validator.Validate
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, service *Service, audit *shared.AuditLogger) *Handler {
	return &Handler{logger: logger, service: service, audit: audit, validator: validator.New()}
}

// MountRoutes registers dataset routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/", h.listDatasets)
	r.Post("/", h.createDataset)
	r.Get("/{datasetID}", h.getDataset)
	r.Put("/{datasetID}", h.updateDataset)
	r.Delete("/{datasetID}", h.deleteDataset)

	r.Get("/{datasetID}/documents", h.listDocuments)
	r.Post("/{datasetID}/documents", h.createDocument)

	r.Put("/{datasetID}/access", h.upsertDatasetGrant)
	r.Delete("/{datasetID}/access/{userID}", h.deleteDatasetGrant)
}

// MountDocumentRoutes registers document-level routes.
func (h *Handler) MountDocumentRoutes(r chi.Router) {
	r.Get("/{documentID}", h.getDocument)
	r.Delete("/{documentID}", h.deleteDocument)
	r.Put("/{documentID}/access", h.upsertDocumentGrant)
	r.Delete("/{documentID}/access/{userID}", h.deleteDocumentGrant)
}

type datasetResponse struct {
	ID          int64  `json:"id"`
	ParentID    *int64 `json:"parent_id,omitempty"`
	OwnerID     int64  `json:"owner_id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

func toDatasetResponse(d Dataset) datasetResponse {
	return datasetResponse{ID: d.ID, ParentID: d.ParentID, OwnerID: d.OwnerID, Name: d.Name, Description: d.Description}
}

type documentResponse struct {
	ID        int64  `json:"id"`
	DatasetID int64  `json:"dataset_id"`
	OwnerID   int64  `json:"owner_id"`
	Name      string `json:"name"`
	MimeType  string `json:"mime_type,omitempty"`
	SizeBytes int64  `json:"size_bytes"`
}

func toDocumentResponse(d Document) documentResponse {
	return documentResponse{ID: d.ID, DatasetID: d.DatasetID, OwnerID: d.OwnerID, Name: d.Name, MimeType: d.MimeType, SizeBytes: d.SizeBytes}
}

func (h *Handler) listDatasets(w http.ResponseWriter, r *http.Request) {
	p := rbac.PrincipalFromContext(r.Context())
	list, err := h.service.ListVisibleDatasets(r.Context(), p)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	out := make([]datasetResponse, 0, len(list))
	for _, d := range list {
		out = append(out, toDatasetResponse(d))
	}
	httpx.JSON(w, http.StatusOK, out)
}

func (h *Handler) getDataset(w http.ResponseWriter, r *http.Request) {
	p := rbac.PrincipalFromContext(r.Context())
	id, err := pathID(r, "datasetID")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	d, err := h.service.GetDataset(r.Context(), p, id)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toDatasetResponse(d))
}

type datasetPayload struct {
	ParentID    *int64 `json:"parent_id" validate:"omitempty,gt=0"`
	Name        string `json:"name" validate:"required,min=1,max=255"`
	Description string `json:"description" validate:"max=2000"`
}

func (h *Handler) createDataset(w http.ResponseWriter, r *http.Request) {
	p := rbac.PrincipalFromContext(r.Context())
	var payload datasetPayload
	if err := httpx.DecodeJSON(r, &payload); err != nil {
		httpx.RespondError(w, shared.ErrInvalidInput)
		return
	}
	if err := h.validator.Struct(payload); err != nil {
		httpx.RespondError(w, fmt.Errorf("%w: %v", shared.ErrInvalidInput, err))
		return
	}
	d, err := h.service.CreateDataset(r.Context(), p, payload.ParentID, payload.Name, payload.Description)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	h.recordAudit(r, "dataset.create", "dataset", d.ID, map[string]any{"name": d.Name})
	httpx.JSON(w, http.StatusCreated, toDatasetResponse(d))
}

func (h *Handler) updateDataset(w http.ResponseWriter, r *http.Request) {
	p := rbac.PrincipalFromContext(r.Context())
	id, err := pathID(r, "datasetID")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var payload datasetPayload
	if err := httpx.DecodeJSON(r, &payload); err != nil {
		httpx.RespondError(w, shared.ErrInvalidInput)
		return
	}
	if err := h.validator.Struct(payload); err != nil {
		httpx.RespondError(w, fmt.Errorf("%w: %v", shared.ErrInvalidInput, err))
		return
	}
	d, err := h.service.UpdateDataset(r.Context(), p, id, payload.Name, payload.Description)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	h.recordAudit(r, "dataset.update", "dataset", d.ID, nil)
	httpx.JSON(w, http.StatusOK, toDatasetResponse(d))
}

func (h *Handler) deleteDataset(w http.ResponseWriter, r *http.Request) {
	p := rbac.PrincipalFromContext(r.Context())
	id, err := pathID(r, "datasetID")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	if err := h.service.DeleteDataset(r.Context(), p, id); err != nil {
		httpx.RespondError(w, err)
		return
	}
	h.recordAudit(r, "dataset.delete", "dataset", id, nil)
	httpx.NoContent(w)
}

func (h *Handler) listDocuments(w http.ResponseWriter, r *http.Request) {
	p := rbac.PrincipalFromContext(r.Context())
	id, err := pathID(r, "datasetID")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	docs, err := h.service.ListDocuments(r.Context(), p, id)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	out := make([]documentResponse, 0, len(docs))
	for _, d := range docs {
		out = append(out, toDocumentResponse(d))
	}
	httpx.JSON(w, http.StatusOK, out)
}

type documentPayload struct {
	Name      string `json:"name" validate:"required,min=1,max=255"`
	MimeType  string `json:"mime_type" validate:"max=255"`
	SizeBytes int64  `json:"size_bytes" validate:"min=0"`
}

func (h *Handler) createDocument(w http.ResponseWriter, r *http.Request) {
	p := rbac.PrincipalFromContext(r.Context())
	id, err := pathID(r, "datasetID")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var payload documentPayload
	if err := httpx.DecodeJSON(r, &payload); err != nil {
		httpx.RespondError(w, shared.ErrInvalidInput)
		return
	}
	if err := h.validator.Struct(payload); err != nil {
		httpx.RespondError(w, fmt.Errorf("%w: %v", shared.ErrInvalidInput, err))
		return
	}
	doc, err := h.service.CreateDocument(r.Context(), p, id, payload.Name, payload.MimeType, payload.SizeBytes)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	h.recordAudit(r, "document.create", "document", doc.ID, map[string]any{"dataset_id": id})
	httpx.JSON(w, http.StatusCreated, toDocumentResponse(doc))
}

func (h *Handler) getDocument(w http.ResponseWriter, r *http.Request) {
	p := rbac.PrincipalFromContext(r.Context())
	id, err := pathID(r, "documentID")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	doc, err := h.service.GetDocument(r.Context(), p, id)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toDocumentResponse(doc))
}

func (h *Handler) deleteDocument(w http.ResponseWriter, r *http.Request) {
	p := rbac.PrincipalFromContext(r.Context())
	id, err := pathID(r, "documentID")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	if err := h.service.DeleteDocument(r.Context(), p, id); err != nil {
		httpx.RespondError(w, err)
		return
	}
	h.recordAudit(r, "document.delete", "document", id, nil)
	httpx.NoContent(w)
}

type grantPayload struct {
	UserID    int64 `json:"user_id" validate:"required,gt=0"`
	CanView   bool  `json:"can_view"`
	CanEdit   bool  `json:"can_edit"`
	CanDelete bool  `json:"can_delete"`
}

func (h *Handler) upsertDatasetGrant(w http.ResponseWriter, r *http.Request) {
	p := rbac.PrincipalFromContext(r.Context())
	id, err := pathID(r, "datasetID")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	grant, err := h.decodeGrant(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	if err := h.service.UpsertDatasetGrant(r.Context(), p, id, grant); err != nil {
		httpx.RespondError(w, err)
		return
	}
	h.recordAudit(r, "dataset.grant", "dataset", id, map[string]any{
		"user_id": grant.UserID, "view": grant.CanView, "edit": grant.CanEdit, "delete": grant.CanDelete,
	})
	httpx.NoContent(w)
}

func (h *Handler) deleteDatasetGrant(w http.ResponseWriter, r *http.Request) {
	p := rbac.PrincipalFromContext(r.Context())
	id, err := pathID(r, "datasetID")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	userID, err := pathID(r, "userID")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	if err := h.service.DeleteDatasetGrant(r.Context(), p, userID, id); err != nil {
		httpx.RespondError(w, err)
		return
	}
	h.recordAudit(r, "dataset.grant_revoke", "dataset", id, map[string]any{"user_id": userID})
	httpx.NoContent(w)
}

func (h *Handler) upsertDocumentGrant(w http.ResponseWriter, r *http.Request) {
	p := rbac.PrincipalFromContext(r.Context())
	id, err := pathID(r, "documentID")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	grant, err := h.decodeGrant(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	if err := h.service.UpsertDocumentGrant(r.Context(), p, id, grant); err != nil {
		httpx.RespondError(w, err)
		return
	}
	h.recordAudit(r, "document.grant", "document", id, map[string]any{
		"user_id": grant.UserID, "view": grant.CanView, "edit": grant.CanEdit, "delete": grant.CanDelete,
	})
	httpx.NoContent(w)
}

func (h *Handler) deleteDocumentGrant(w http.ResponseWriter, r *http.Request) {
	p := rbac.PrincipalFromContext(r.Context())
	id, err := pathID(r, "documentID")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	userID, err := pathID(r, "userID")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	if err := h.service.DeleteDocumentGrant(r.Context(), p, userID, id); err != nil {
		httpx.RespondError(w, err)
		return
	}
	h.recordAudit(r, "document.grant_revoke", "document", id, map[string]any{"user_id": userID})
	httpx.NoContent(w)
}

func (h *Handler) decodeGrant(r *http.Request) (AccessGrant, error) {
	var payload grantPayload
	if err := httpx.DecodeJSON(r, &payload); err != nil {
		return AccessGrant{}, shared.ErrInvalidInput
	}
	if err := h.validator.Struct(payload); err != nil {
		return AccessGrant{}, fmt.Errorf("%w: %v", shared.ErrInvalidInput, err)
	}
	return AccessGrant{
		UserID:    payload.UserID,
		CanView:   payload.CanView,
		CanEdit:   payload.CanEdit,
		CanDelete: payload.CanDelete,
	}, nil
}

func (h *Handler) recordAudit(r *http.Request, action, entity string, id int64, meta map[string]any) {
	p := rbac.PrincipalFromContext(r.Context())
	if h.audit == nil || p == nil {
		return
	}
	log := shared.AuditLog{
		ActorID:  p.ID,
		Action:   action,
		Entity:   entity,
		EntityID: strconv.FormatInt(id, 10),
		Meta:     meta,
	}
	if err := h.audit.Record(r.Context(), log); err != nil {
		h.logger.Warn("audit record", slog.Any("error", err))
	}
}

func pathID(r *http.Request, key string) (int64, error) {
	raw := chi.URLParam(r, key)
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("%w: invalid %s %q", shared.ErrInvalidInput, key, raw)
	}
	return id, nil
}
