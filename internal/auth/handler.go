package auth

import (
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/asgl-platform/docchat/internal/platform/httpx"
	"github.com/asgl-platform/docchat/internal/shared"
)

// Handler wires HTTP endpoints for authentication flows.
type Handler struct {
	logger         *slog.Logger
	service        *Service
	sessionManager *shared.SessionManager
	csrfManager    *shared.CSRFManager
	validator      *validator.Validate
}

// NewHandler constructs a Handler instance.
func NewHandler(logger *slog.Logger, service *Service, sessions *shared.SessionManager, csrf *shared.CSRFManager) *Handler {
	return &Handler{
		logger:         logger,
		service:        service,
		sessionManager: sessions,
		csrfManager:    csrf,
		validator:      validator.New(),
	}
}

// MountRoutes registers auth routes on provided router.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/login", h.handleLogin)
	r.Post("/logout", h.handleLogout)
	r.Get("/csrf", h.issueCSRF)
}

type loginPayload struct {
	ASGLID   string `json:"asgl_id" validate:"required,min=1,max=100"`
	Password string `json:"password" validate:"required,min=8"`
}

func (h *Handler) handleLogin(w http.ResponseWriter, r *http.Request) {
	var payload loginPayload
	if err := httpx.DecodeJSON(r, &payload); err != nil {
		httpx.RespondError(w, shared.ErrInvalidInput)
		return
	}
	if err := h.validator.Struct(payload); err != nil {
		httpx.RespondError(w, fmt.Errorf("%w: %v", shared.ErrInvalidInput, err))
		return
	}

	user, err := h.service.Authenticate(r.Context(), payload.ASGLID, payload.Password)
	if err != nil {
		h.logger.Info("login rejected", slog.String("asgl_id", payload.ASGLID))
		httpx.RespondError(w, shared.ErrInvalidCredentials)
		return
	}

	sess := shared.SessionFromContext(r.Context())
	if sess == nil {
		httpx.RespondError(w, fmt.Errorf("session unavailable"))
		return
	}
	sess.SetUser(strconv.FormatInt(user.ID, 10))

	expiresAt := time.Now().Add(h.sessionManager.TTL())
	if err := h.service.RegisterSession(r.Context(), sess.ID, user.ID, expiresAt, r.RemoteAddr, r.UserAgent()); err != nil {
		h.logger.Warn("register session", slog.Any("error", err))
	}

	csrfToken, err := h.csrfManager.EnsureToken(r.Context(), sess)
	if err != nil {
		h.logger.Warn("issue csrf token", slog.Any("error", err))
	}

	h.logger.Info("login", slog.Int64("user_id", user.ID), slog.String("asgl_id", user.ASGLID))
	httpx.JSON(w, http.StatusOK, map[string]any{
		"user_id":    user.ID,
		"asgl_id":    user.ASGLID,
		"name":       user.Name,
		"csrf_token": csrfToken,
	})
}

func (h *Handler) handleLogout(w http.ResponseWriter, r *http.Request) {
	sess := shared.SessionFromContext(r.Context())
	if sess != nil {
		if err := h.service.RemoveSession(r.Context(), sess.ID); err != nil {
			h.logger.Warn("remove session", slog.Any("error", err))
		}
		h.sessionManager.Destroy(sess)
	}
	httpx.NoContent(w)
}

// HandleLoginForTest exposes the login handler for tests.
func (h *Handler) HandleLoginForTest(w http.ResponseWriter, r *http.Request) {
	h.handleLogin(w, r)
}

// HandleLogoutForTest exposes the logout handler for tests.
func (h *Handler) HandleLogoutForTest(w http.ResponseWriter, r *http.Request) {
	h.handleLogout(w, r)
}

// issueCSRF hands the current session token to clients that lost it, for
// example after a page reload of a single-page frontend.
func (h *Handler) issueCSRF(w http.ResponseWriter, r *http.Request) {
	sess := shared.SessionFromContext(r.Context())
	if sess == nil || sess.User() == "" {
		httpx.RespondError(w, shared.ErrUnauthorized)
		return
	}
	token, err := h.csrfManager.EnsureToken(r.Context(), sess)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"csrf_token": token})
}
