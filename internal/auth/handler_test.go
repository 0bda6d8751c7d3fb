package auth_test

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"golang.org/x/crypto/bcrypt"

	"github.com/asgl-platform/docchat/internal/auth"
	"github.com/asgl-platform/docchat/internal/rbac"
	"github.com/asgl-platform/docchat/internal/shared"
	"github.com/asgl-platform/docchat/internal/users"
)

type userRepoStub struct {
	user *users.User
}

func (s *userRepoStub) ListUsers(ctx context.Context) ([]users.User, error) { return nil, nil }

func (s *userRepoStub) GetUser(ctx context.Context, id int64) (users.User, error) {
	if s.user == nil || s.user.ID != id {
		return users.User{}, shared.ErrNotFound
	}
	return *s.user, nil
}

func (s *userRepoStub) GetUserByASGLID(ctx context.Context, asglID string) (users.User, error) {
	if s.user == nil || s.user.ASGLID != asglID {
		return users.User{}, shared.ErrNotFound
	}
	return *s.user, nil
}

func (s *userRepoStub) CreateUser(ctx context.Context, u users.User) (users.User, error) {
	return u, nil
}

func (s *userRepoStub) EnsureUser(ctx context.Context, asglID, name string) (users.User, error) {
	if s.user != nil && s.user.ASGLID == asglID {
		return *s.user, nil
	}
	u := users.User{ID: 99, ASGLID: asglID, Name: name, IsActive: true}
	s.user = &u
	return u, nil
}

func (s *userRepoStub) UpdateUser(ctx context.Context, u users.User) (users.User, error) {
	return u, nil
}

func (s *userRepoStub) SetPasswordHash(ctx context.Context, id int64, hash string) error { return nil }
func (s *userRepoStub) DeleteUser(ctx context.Context, id int64) error                   { return nil }

type roleRepoStub struct {
	roles map[int64][]string
}

func (s *roleRepoStub) ListRoles(ctx context.Context) ([]rbac.Role, error)       { return nil, nil }
func (s *roleRepoStub) GetRole(ctx context.Context, id int64) (rbac.Role, error) { return rbac.Role{}, shared.ErrNotFound }
func (s *roleRepoStub) GetRoleByName(ctx context.Context, name string) (rbac.Role, error) {
	return rbac.Role{}, shared.ErrNotFound
}
func (s *roleRepoStub) CreateRole(ctx context.Context, name, description string) (rbac.Role, error) {
	return rbac.Role{}, nil
}
func (s *roleRepoStub) UpdateRole(ctx context.Context, id int64, name, description string) (rbac.Role, error) {
	return rbac.Role{}, nil
}
func (s *roleRepoStub) DeleteRole(ctx context.Context, id int64) error                  { return nil }
func (s *roleRepoStub) CountAssignments(ctx context.Context, roleID int64) (int, error) { return 0, nil }
func (s *roleRepoStub) ListPermissions(ctx context.Context) ([]rbac.Permission, error)  { return nil, nil }
func (s *roleRepoStub) UpsertPermission(ctx context.Context, name, description string) (rbac.Permission, error) {
	return rbac.Permission{}, nil
}
func (s *roleRepoStub) RolePermissions(ctx context.Context, roleID int64) ([]rbac.Permission, error) {
	return nil, nil
}
func (s *roleRepoStub) SetRolePermissions(ctx context.Context, roleID int64, permissionIDs []int64) error {
	return nil
}
func (s *roleRepoStub) AssignRole(ctx context.Context, userID, roleID int64) error { return nil }
func (s *roleRepoStub) RemoveRole(ctx context.Context, userID, roleID int64) error { return nil }
func (s *roleRepoStub) ReplaceRoles(ctx context.Context, userID int64, roleIDs []int64) error {
	return nil
}
func (s *roleRepoStub) RolesForUser(ctx context.Context, userID int64) ([]string, error) {
	return s.roles[userID], nil
}
func (s *roleRepoStub) EffectivePermissions(ctx context.Context, userID int64) ([]string, error) {
	return nil, nil
}

type sessionRepoStub struct {
	created []auth.SessionRecord
	removed []string
}

func (s *sessionRepoStub) CreateSession(ctx context.Context, rec auth.SessionRecord) error {
	s.created = append(s.created, rec)
	return nil
}

func (s *sessionRepoStub) DeleteSession(ctx context.Context, id string) error {
	s.removed = append(s.removed, id)
	return nil
}

func (s *sessionRepoStub) DeleteExpiredSessions(ctx context.Context, before time.Time) (int64, error) {
	return 0, nil
}

func newAuthHandler(t *testing.T, userRepo *userRepoStub, sessions *sessionRepoStub) (*auth.Handler, *shared.SessionManager) {
	t.Helper()
	mr := miniredis.RunT(t)
	redisClient := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	sessionManager := shared.NewSessionManager(redisClient, "test_session", "secret", time.Hour, false)
	csrfManager := shared.NewCSRFManager("csrfsecret")

	service := auth.NewService(
		users.NewService(userRepo),
		rbac.NewService(&roleRepoStub{}),
		sessions,
	)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return auth.NewHandler(logger, service, sessionManager, csrfManager), sessionManager
}

func doLogin(t *testing.T, handler *auth.Handler, sessionManager *shared.SessionManager, body string) (*httptest.ResponseRecorder, *shared.Session) {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/auth/login", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")

	sess, err := sessionManager.Load(context.Background(), req)
	if err != nil {
		t.Fatalf("load session: %v", err)
	}
	ctx := shared.ContextWithSession(req.Context(), sess)
	req = req.WithContext(ctx)

	res := httptest.NewRecorder()
	handler.HandleLoginForTest(res, req)
	if err := sessionManager.Commit(ctx, res, req, sess); err != nil {
		t.Fatalf("commit session: %v", err)
	}
	return res, sess
}

func TestLoginSuccess(t *testing.T) {
	hashed, err := bcrypt.GenerateFromPassword([]byte("correctpass"), bcrypt.DefaultCost)
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	userRepo := &userRepoStub{user: &users.User{
		ID: 1, ASGLID: "e1234", Name: "Test User", PasswordHash: string(hashed), IsActive: true,
	}}
	sessions := &sessionRepoStub{}
	handler, sessionManager := newAuthHandler(t, userRepo, sessions)

	res, sess := doLogin(t, handler, sessionManager, `{"asgl_id":"e1234","password":"correctpass"}`)

	if res.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", res.Code, res.Body.String())
	}
	if sess.User() != "1" {
		t.Fatalf("expected session user 1, got %q", sess.User())
	}
	if len(sessions.created) != 1 || sessions.created[0].UserID != 1 {
		t.Fatalf("expected session audit record, got %+v", sessions.created)
	}

	var payload map[string]any
	if err := json.Unmarshal(res.Body.Bytes(), &payload); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if payload["asgl_id"] != "e1234" {
		t.Fatalf("unexpected payload: %v", payload)
	}
	if token, _ := payload["csrf_token"].(string); token == "" {
		t.Fatalf("expected csrf token in response")
	}
}

func TestLoginInvalidCredentials(t *testing.T) {
	hashed, err := bcrypt.GenerateFromPassword([]byte("correctpass"), bcrypt.DefaultCost)
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	userRepo := &userRepoStub{user: &users.User{
		ID: 1, ASGLID: "e1234", PasswordHash: string(hashed), IsActive: true,
	}}
	handler, sessionManager := newAuthHandler(t, userRepo, &sessionRepoStub{})

	res, sess := doLogin(t, handler, sessionManager, `{"asgl_id":"e1234","password":"wrongpass1"}`)

	if res.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", res.Code)
	}
	if sess.User() != "" {
		t.Fatalf("session must not carry a user after failed login")
	}
}

func TestLoginValidation(t *testing.T) {
	handler, sessionManager := newAuthHandler(t, &userRepoStub{}, &sessionRepoStub{})

	res, _ := doLogin(t, handler, sessionManager, `{"asgl_id":"","password":"short"}`)
	if res.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", res.Code)
	}
}

func TestLogoutRemovesSession(t *testing.T) {
	hashed, err := bcrypt.GenerateFromPassword([]byte("correctpass"), bcrypt.DefaultCost)
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	userRepo := &userRepoStub{user: &users.User{
		ID: 1, ASGLID: "e1234", PasswordHash: string(hashed), IsActive: true,
	}}
	sessions := &sessionRepoStub{}
	handler, sessionManager := newAuthHandler(t, userRepo, sessions)

	_, sess := doLogin(t, handler, sessionManager, `{"asgl_id":"e1234","password":"correctpass"}`)
	sessID := sess.ID

	req := httptest.NewRequest(http.MethodPost, "/auth/logout", nil)
	req = req.WithContext(shared.ContextWithSession(req.Context(), sess))
	res := httptest.NewRecorder()
	handler.HandleLogoutForTest(res, req)

	if res.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", res.Code)
	}
	if len(sessions.removed) != 1 || sessions.removed[0] != sessID {
		t.Fatalf("expected session %q removed, got %v", sessID, sessions.removed)
	}
}

func TestPrincipalByID(t *testing.T) {
	userRepo := &userRepoStub{user: &users.User{ID: 5, ASGLID: "e5", IsActive: true}}
	roleRepo := &roleRepoStub{roles: map[int64][]string{5: {"member", "admin"}}}
	service := auth.NewService(users.NewService(userRepo), rbac.NewService(roleRepo), &sessionRepoStub{})

	p, err := service.PrincipalByID(context.Background(), 5)
	if err != nil {
		t.Fatalf("principal: %v", err)
	}
	if p.ASGLID != "e5" || !p.HasRole("admin") {
		t.Fatalf("unexpected principal: %+v", p)
	}

	if _, err := service.PrincipalByID(context.Background(), 404); err == nil {
		t.Fatalf("expected error for unknown user")
	}
}
