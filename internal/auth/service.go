package auth

import (
	"context"
	"time"

	"github.com/asgl-platform/docchat/internal/rbac"
	"github.com/asgl-platform/docchat/internal/users"
)

// Service wraps authentication business rules. Credential verification is
// delegated to the user store; this layer adds session bookkeeping and the
// principal lookup used by the authorization middleware.
type Service struct {
	users    *users.Service
	roles    *rbac.Service
	sessions Repository
}

// NewService constructs a new Service.
func NewService(userSvc *users.Service, roleSvc *rbac.Service, sessions Repository) *Service {
	return &Service{users: userSvc, roles: roleSvc, sessions: sessions}
}

// Authenticate validates ASGL-ID/password credentials.
func (s *Service) Authenticate(ctx context.Context, asglID, password string) (users.User, error) {
	return s.users.Authenticate(ctx, asglID, password)
}

// EnsureUser creates the account on first login when the identity comes from
// an already-trusted upstream, and returns the existing row otherwise.
func (s *Service) EnsureUser(ctx context.Context, asglID, name string) (users.User, error) {
	return s.users.EnsureUser(ctx, asglID, name)
}

// PrincipalByID loads the user row and its role set for request handling.
func (s *Service) PrincipalByID(ctx context.Context, userID int64) (*rbac.Principal, error) {
	u, err := s.users.GetUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	return s.roles.PrincipalFor(ctx, u.ID, u.ASGLID)
}

// RegisterSession persists the session metadata in postgres.
func (s *Service) RegisterSession(ctx context.Context, id string, userID int64, expiresAt time.Time, ip, ua string) error {
	return s.sessions.CreateSession(ctx, SessionRecord{
		ID:        id,
		UserID:    userID,
		CreatedAt: time.Now().UTC(),
		ExpiresAt: expiresAt,
		IP:        ip,
		UserAgent: ua,
	})
}

// RemoveSession deletes a session record from postgres.
func (s *Service) RemoveSession(ctx context.Context, id string) error {
	return s.sessions.DeleteSession(ctx, id)
}
