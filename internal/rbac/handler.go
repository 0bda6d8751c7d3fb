package rbac

import (
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/asgl-platform/docchat/internal/platform/httpx"
	"github.com/asgl-platform/docchat/internal/shared"
)

// Handler manages role administration endpoints.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	audit     *shared.AuditLogger
	rbac      Middleware
	validator *validator.Validate
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, service *Service, audit *shared.AuditLogger, rbac Middleware) *Handler {
	return &Handler{logger: logger, service: service, audit: audit, rbac: rbac, validator: validator.New()}
}

// MountRoutes registers role routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequireAny(shared.PermRolesView))
		r.Get("/", h.listRoles)
		r.Get("/{roleID}", h.getRole)
		r.Get("/{roleID}/permissions", h.rolePermissions)
	})
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequireAny(shared.PermRolesEdit))
		r.Post("/", h.createRole)
		r.Put("/{roleID}", h.updateRole)
		r.Delete("/{roleID}", h.deleteRole)
		r.Put("/{roleID}/permissions", h.setRolePermissions)
		r.Post("/assignments", h.assignRole)
		r.Delete("/assignments", h.removeRole)
		r.Put("/users/{userID}", h.replaceRoles)
	})
}

type roleRequest struct {
	Name        string `json:"name" validate:"required,min=1,max=100"`
	Description string `json:"description" validate:"max=500"`
}

type roleResponse struct {
	ID          int64  `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

func toRoleResponse(role Role) roleResponse {
	return roleResponse{ID: role.ID, Name: role.Name, Description: role.Description}
}

func (h *Handler) listRoles(w http.ResponseWriter, r *http.Request) {
	roles, err := h.service.ListRoles(r.Context())
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	out := make([]roleResponse, 0, len(roles))
	for _, role := range roles {
		out = append(out, toRoleResponse(role))
	}
	httpx.JSON(w, http.StatusOK, out)
}

func (h *Handler) getRole(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "roleID")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	role, err := h.service.GetRole(r.Context(), id)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toRoleResponse(role))
}

func (h *Handler) createRole(w http.ResponseWriter, r *http.Request) {
	var req roleRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, shared.ErrInvalidInput)
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.RespondError(w, fmt.Errorf("%w: %v", shared.ErrInvalidInput, err))
		return
	}
	role, err := h.service.CreateRole(r.Context(), req.Name, req.Description)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	h.recordAudit(r, "role.create", strconv.FormatInt(role.ID, 10), map[string]any{"name": role.Name})
	httpx.JSON(w, http.StatusCreated, toRoleResponse(role))
}

func (h *Handler) updateRole(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "roleID")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var req roleRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, shared.ErrInvalidInput)
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.RespondError(w, fmt.Errorf("%w: %v", shared.ErrInvalidInput, err))
		return
	}
	role, err := h.service.UpdateRole(r.Context(), id, req.Name, req.Description)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	h.recordAudit(r, "role.update", strconv.FormatInt(role.ID, 10), map[string]any{"name": role.Name})
	httpx.JSON(w, http.StatusOK, toRoleResponse(role))
}

func (h *Handler) deleteRole(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "roleID")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	if err := h.service.DeleteRole(r.Context(), id); err != nil {
		httpx.RespondError(w, err)
		return
	}
	h.recordAudit(r, "role.delete", strconv.FormatInt(id, 10), nil)
	httpx.NoContent(w)
}

func (h *Handler) rolePermissions(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "roleID")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	perms, err := h.service.RolePermissions(r.Context(), id)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, perms)
}

type setPermissionsRequest struct {
	PermissionIDs []int64 `json:"permission_ids" validate:"dive,gt=0"`
}

func (h *Handler) setRolePermissions(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "roleID")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var req setPermissionsRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, shared.ErrInvalidInput)
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.RespondError(w, fmt.Errorf("%w: %v", shared.ErrInvalidInput, err))
		return
	}
	if err := h.service.SetRolePermissions(r.Context(), id, req.PermissionIDs); err != nil {
		httpx.RespondError(w, err)
		return
	}
	h.recordAudit(r, "role.permissions.set", strconv.FormatInt(id, 10), map[string]any{"count": len(req.PermissionIDs)})
	httpx.NoContent(w)
}

type assignmentRequest struct {
	UserID int64 `json:"user_id" validate:"required,gt=0"`
	RoleID int64 `json:"role_id" validate:"required,gt=0"`
}

func (h *Handler) assignRole(w http.ResponseWriter, r *http.Request) {
	var req assignmentRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, shared.ErrInvalidInput)
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.RespondError(w, fmt.Errorf("%w: %v", shared.ErrInvalidInput, err))
		return
	}
	if err := h.service.AssignRole(r.Context(), req.UserID, req.RoleID); err != nil {
		httpx.RespondError(w, err)
		return
	}
	h.recordAudit(r, "role.assign", strconv.FormatInt(req.RoleID, 10), map[string]any{"user_id": req.UserID})
	httpx.NoContent(w)
}

func (h *Handler) removeRole(w http.ResponseWriter, r *http.Request) {
	var req assignmentRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, shared.ErrInvalidInput)
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.RespondError(w, fmt.Errorf("%w: %v", shared.ErrInvalidInput, err))
		return
	}
	if err := h.service.RemoveRole(r.Context(), req.UserID, req.RoleID); err != nil {
		httpx.RespondError(w, err)
		return
	}
	h.recordAudit(r, "role.unassign", strconv.FormatInt(req.RoleID, 10), map[string]any{"user_id": req.UserID})
	httpx.NoContent(w)
}

type replaceRolesRequest struct {
	RoleIDs []int64 `json:"role_ids" validate:"dive,gt=0"`
}

func (h *Handler) replaceRoles(w http.ResponseWriter, r *http.Request) {
	userID, err := pathID(r, "userID")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var req replaceRolesRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, shared.ErrInvalidInput)
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.RespondError(w, fmt.Errorf("%w: %v", shared.ErrInvalidInput, err))
		return
	}
	if err := h.service.ReplaceRoles(r.Context(), userID, req.RoleIDs); err != nil {
		httpx.RespondError(w, err)
		return
	}
	h.recordAudit(r, "role.replace", strconv.FormatInt(userID, 10), map[string]any{"count": len(req.RoleIDs)})
	httpx.NoContent(w)
}

func (h *Handler) recordAudit(r *http.Request, action, entityID string, meta map[string]any) {
	if h.audit == nil {
		return
	}
	var actorID int64
	if p := PrincipalFromContext(r.Context()); p != nil {
		actorID = p.ID
	}
	if err := h.audit.Record(r.Context(), shared.AuditLog{
		ActorID:  actorID,
		Action:   action,
		Entity:   "role",
		EntityID: entityID,
		Meta:     meta,
	}); err != nil && h.logger != nil {
		h.logger.Warn("audit record", slog.Any("error", err))
	}
}

func pathID(r *http.Request, key string) (int64, error) {
	raw := chi.URLParam(r, key)
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("%w: invalid %s", shared.ErrInvalidInput, key)
	}
	return id, nil
}
