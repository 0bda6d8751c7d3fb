package app

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/asgl-platform/docchat/internal/auth"
	"github.com/asgl-platform/docchat/internal/chat"
	"github.com/asgl-platform/docchat/internal/credits"
	"github.com/asgl-platform/docchat/internal/datasets"
	"github.com/asgl-platform/docchat/internal/observability"
	"github.com/asgl-platform/docchat/internal/rbac"
	"github.com/asgl-platform/docchat/internal/shared"
	"github.com/asgl-platform/docchat/internal/users"
	"github.com/asgl-platform/docchat/jobs"
)

// RouterParams groups dependencies for building the HTTP router.
type RouterParams struct {
	Logger         *slog.Logger
	Config         *Config
	SessionManager *shared.SessionManager
	CSRFManager    *shared.CSRFManager
	RBACMiddleware rbac.Middleware

	AuthHandler        *auth.Handler
	UsersHandler       *users.Handler
	RolesHandler       *rbac.Handler
	PermissionsHandler *rbac.PermissionsHandler
	DatasetsHandler    *datasets.Handler
	CreditsHandler     *credits.Handler
	ChatHandler        *chat.Handler
	JobHandler         *jobs.Handler
	Metrics            *observability.Metrics
}

// NewRouter constructs the chi.Router serving the JSON API.
func NewRouter(params RouterParams) http.Handler {
	r := chi.NewRouter()

	for _, mw := range MiddlewareStack(MiddlewareConfig{
		Logger:         params.Logger,
		Config:         params.Config,
		SessionManager: params.SessionManager,
		CSRFManager:    params.CSRFManager,
		Metrics:        params.Metrics,
	}) {
		r.Use(mw)
	}

	r.Use(chimw.Logger)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	if params.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", params.Metrics.Handler())
	}

	r.Route("/auth", params.AuthHandler.MountRoutes)

	// Everything below requires a resolved principal.
	r.Group(func(r chi.Router) {
		r.Use(params.RBACMiddleware.WithPrincipal)
		r.Use(params.RBACMiddleware.RequirePrincipal)

		r.Route("/users", params.UsersHandler.MountRoutes)
		r.Route("/roles", params.RolesHandler.MountRoutes)
		r.Route("/permissions", params.PermissionsHandler.MountRoutes)
		r.Route("/datasets", params.DatasetsHandler.MountRoutes)
		r.Route("/documents", params.DatasetsHandler.MountDocumentRoutes)
		r.Route("/credits", params.CreditsHandler.MountRoutes)
		r.Route("/chat", params.ChatHandler.MountRoutes)
		if params.JobHandler != nil {
			r.Route("/jobs", params.JobHandler.MountRoutes)
		}
	})

	return r
}
