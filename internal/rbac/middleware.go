package rbac

import (
	"net/http"
	"strconv"
	"strings"

	"log/slog"

	"github.com/asgl-platform/docchat/internal/observability"
	"github.com/asgl-platform/docchat/internal/platform/httpx"
	"github.com/asgl-platform/docchat/internal/shared"
)

// Middleware wires authorization helpers for HTTP handlers.
type Middleware struct {
	Resolver *Resolver
	Source   func(r *http.Request, userID int64) (*Principal, error)
	Logger   *slog.Logger
	Metrics  *observability.Metrics
}

// WithPrincipal resolves the current principal from the session and stores it
// in the request context. Requests without a session pass through with no
// principal; downstream guards fail closed.
func (m Middleware) WithPrincipal(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID, ok := m.currentUserID(r)
		if !ok {
			next.ServeHTTP(w, r)
			return
		}
		p, err := m.Source(r, userID)
		if err != nil {
			if m.Logger != nil {
				m.Logger.Error("resolve principal", slog.Int64("user_id", userID), slog.Any("error", err))
			}
			next.ServeHTTP(w, r)
			return
		}
		next.ServeHTTP(w, r.WithContext(ContextWithPrincipal(r.Context(), p)))
	})
}

// RequirePrincipal rejects requests without an authenticated principal.
func (m Middleware) RequirePrincipal(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if PrincipalFromContext(r.Context()) == nil {
			httpx.RespondError(w, shared.ErrUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// RequireAny ensures the principal has at least one of the required
// permissions. Superadmin always passes.
func (m Middleware) RequireAny(perms ...string) func(http.Handler) http.Handler {
	normalized := normalizePermissions(perms)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if len(normalized) == 0 {
				next.ServeHTTP(w, r)
				return
			}
			p := PrincipalFromContext(r.Context())
			if p == nil {
				httpx.RespondError(w, shared.ErrUnauthorized)
				return
			}
			ok, err := m.Resolver.HasAnyPermission(r.Context(), p, normalized...)
			if err != nil {
				if m.Logger != nil {
					m.Logger.Error("rbac require any", slog.Any("error", err))
				}
				httpx.RespondError(w, err)
				return
			}
			if !ok {
				m.Metrics.RecordAuthzDenial("route", strings.Join(normalized, ","))
				httpx.RespondError(w, shared.ErrForbidden)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RequireAdmin restricts the route to administrators.
func (m Middleware) RequireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p := PrincipalFromContext(r.Context())
		if p == nil {
			httpx.RespondError(w, shared.ErrUnauthorized)
			return
		}
		if !m.Resolver.IsAdmin(p) {
			m.Metrics.RecordAuthzDenial("route", "admin")
			httpx.RespondError(w, shared.ErrForbidden)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// RequireSuperAdmin restricts the route to superadministrators.
func (m Middleware) RequireSuperAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p := PrincipalFromContext(r.Context())
		if p == nil {
			httpx.RespondError(w, shared.ErrUnauthorized)
			return
		}
		if !m.Resolver.IsSuperAdmin(p) {
			m.Metrics.RecordAuthzDenial("route", "superadmin")
			httpx.RespondError(w, shared.ErrForbidden)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (m Middleware) currentUserID(r *http.Request) (int64, bool) {
	sess := shared.SessionFromContext(r.Context())
	if sess == nil {
		return 0, false
	}
	raw := strings.TrimSpace(sess.User())
	if raw == "" {
		return 0, false
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		if m.Logger != nil {
			m.Logger.Error("rbac parse user id", slog.String("value", raw))
		}
		return 0, false
	}
	return id, true
}

func normalizePermissions(perms []string) []string {
	unique := make(map[string]struct{}, len(perms))
	for _, p := range perms {
		p = strings.TrimSpace(strings.ToLower(p))
		if p == "" {
			continue
		}
		unique[p] = struct{}{}
	}
	normalized := make([]string, 0, len(unique))
	for p := range unique {
		normalized = append(normalized, p)
	}
	return normalized
}
