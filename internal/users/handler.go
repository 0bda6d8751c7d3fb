package users

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

// Handler manages user administration endpoints.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	audit     *shared.AuditLogger
	rbac      rbac.Middleware
	validator *validator.Validate
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, service *Service, audit *shared.AuditLogger, mw rbac.Middleware) *Handler {
	return &Handler{logger: logger, service: service, audit: audit, rbac: mw, validator: validator.New()}
}

// MountRoutes registers user routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/me", h.me)
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequireAny(shared.PermUsersView))
		r.Get("/", h.listUsers)
		r.Get("/{userID}", h.getUser)
	})
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequireAny(shared.PermUsersEdit))
		r.Post("/", h.createUser)
		r.Put("/{userID}", h.updateUser)
		r.Put("/{userID}/password", h.setPassword)
		r.Delete("/{userID}", h.deleteUser)
	})
}

type userResponse struct {
	ID       int64  `json:"id"`
	ASGLID   string `json:"asgl_id"`
	Email    string `json:"email"`
	Name     string `json:"name"`
	IsActive bool   `json:"is_active"`
}

func toUserResponse(u User) userResponse {
	return userResponse{ID: u.ID, ASGLID: u.ASGLID, Email: u.Email, Name: u.Name, IsActive: u.IsActive}
}

func (h *Handler) me(w http.ResponseWriter, r *http.Request) {
	p := rbac.PrincipalFromContext(r.Context())
	if p == nil {
		httpx.RespondError(w, shared.ErrUnauthorized)
		return
	}
	u, err := h.service.GetUser(r.Context(), p.ID)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{
		"user":  toUserResponse(u),
		"roles": p.Roles,
	})
}

func (h *Handler) listUsers(w http.ResponseWriter, r *http.Request) {
	list, err := h.service.ListUsers(r.Context())
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	out := make([]userResponse, 0, len(list))
	for _, u := range list {
		out = append(out, toUserResponse(u))
	}
	httpx.JSON(w, http.StatusOK, out)
}

func (h *Handler) getUser(w http.ResponseWriter, r *http.Request) {
	id, err := pathUserID(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	u, err := h.service.GetUser(r.Context(), id)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toUserResponse(u))
}

type createUserPayload struct {
	ASGLID   string `json:"asgl_id" validate:"required,min=1,max=100"`
	Email    string `json:"email" validate:"omitempty,email,max=255"`
	Name     string `json:"name" validate:"required,min=1,max=255"`
	Password string `json:"password" validate:"omitempty,min=8,max=128"`
}

func (h *Handler) createUser(w http.ResponseWriter, r *http.Request) {
	var payload createUserPayload
	if err := httpx.DecodeJSON(r, &payload); err != nil {
		httpx.RespondError(w, shared.ErrInvalidInput)
		return
	}
	if err := h.validator.Struct(payload); err != nil {
		httpx.RespondError(w, fmt.Errorf("%w: %v", shared.ErrInvalidInput, err))
		return
	}
	u, err := h.service.CreateUser(r.Context(), payload.ASGLID, payload.Email, payload.Name, payload.Password)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	h.recordAudit(r, "user.create", u.ID, map[string]any{"asgl_id": u.ASGLID})
	httpx.JSON(w, http.StatusCreated, toUserResponse(u))
}

type updateUserPayload struct {
	Email    string `json:"email" validate:"omitempty,email,max=255"`
	Name     string `json:"name" validate:"required,min=1,max=255"`
	IsActive bool   `json:"is_active"`
}

func (h *Handler) updateUser(w http.ResponseWriter, r *http.Request) {
	id, err := pathUserID(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var payload updateUserPayload
	if err := httpx.DecodeJSON(r, &payload); err != nil {
		httpx.RespondError(w, shared.ErrInvalidInput)
		return
	}
	if err := h.validator.Struct(payload); err != nil {
		httpx.RespondError(w, fmt.Errorf("%w: %v", shared.ErrInvalidInput, err))
		return
	}
	current, err := h.service.GetUser(r.Context(), id)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	current.Email = payload.Email
	current.Name = payload.Name
	current.IsActive = payload.IsActive
	updated, err := h.service.UpdateUser(r.Context(), current)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	h.recordAudit(r, "user.update", updated.ID, map[string]any{"is_active": updated.IsActive})
	httpx.JSON(w, http.StatusOK, toUserResponse(updated))
}

type passwordPayload struct {
	Password string `json:"password" validate:"required,min=8,max=128"`
}

func (h *Handler) setPassword(w http.ResponseWriter, r *http.Request) {
	id, err := pathUserID(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var payload passwordPayload
	if err := httpx.DecodeJSON(r, &payload); err != nil {
		httpx.RespondError(w, shared.ErrInvalidInput)
		return
	}
	if err := h.validator.Struct(payload); err != nil {
		httpx.RespondError(w, fmt.Errorf("%w: %v", shared.ErrInvalidInput, err))
		return
	}
	if err := h.service.SetPassword(r.Context(), id, payload.Password); err != nil {
		httpx.RespondError(w, err)
		return
	}
	h.recordAudit(r, "user.password", id, nil)
	httpx.NoContent(w)
}

func (h *Handler) deleteUser(w http.ResponseWriter, r *http.Request) {
	id, err := pathUserID(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	p := rbac.PrincipalFromContext(r.Context())
	if p != nil && p.ID == id {
		httpx.RespondError(w, fmt.Errorf("%w: cannot delete own account", shared.ErrConflict))
		return
	}
	if err := h.service.DeleteUser(r.Context(), id); err != nil {
		httpx.RespondError(w, err)
		return
	}
	h.recordAudit(r, "user.delete", id, nil)
	httpx.NoContent(w)
}

func (h *Handler) recordAudit(r *http.Request, action string, userID int64, meta map[string]any) {
	p := rbac.PrincipalFromContext(r.Context())
	if h.audit == nil || p == nil {
		return
	}
	log := shared.AuditLog{
		ActorID:  p.ID,
		Action:   action,
		Entity:   "user",
		EntityID: strconv.FormatInt(userID, 10),
		Meta:     meta,
	}
	if err := h.audit.Record(r.Context(), log); err != nil {
		h.logger.Warn("audit record", slog.Any("error", err))
	}
}

func pathUserID(r *http.Request) (int64, error) {
	raw := chi.URLParam(r, "userID")
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("%w: invalid user id %q", shared.ErrInvalidInput, raw)
	}
	return id, nil
}
