package users

import (
	"context"
	"fmt"
	"strings"

	"golang.org/x/crypto/bcrypt"

	"github.com/asgl-platform/docchat/internal/shared"
)

// RepositoryPort defines data access methods for users.
type RepositoryPort interface {
	ListUsers(ctx context.Context) ([]User, error)
	GetUser(ctx context.Context, id int64) (User, error)
	GetUserByASGLID(ctx context.Context, asglID string) (User, error)
	CreateUser(ctx context.Context, u User) (User, error)
	EnsureUser(ctx context.Context, asglID, name string) (User, error)
	UpdateUser(ctx context.Context, u User) (User, error)
	SetPasswordHash(ctx context.Context, id int64, hash string) error
	DeleteUser(ctx context.Context, id int64) error
}

// Service handles user business logic.
type Service struct {
	repo RepositoryPort
}

// NewService builds Service instance.
func NewService(repo RepositoryPort) *Service {
	return &Service{repo: repo}
}

// ListUsers returns all users.
func (s *Service) ListUsers(ctx context.Context) ([]User, error) {
	return s.repo.ListUsers(ctx)
}

// GetUser fetches a single user.
func (s *Service) GetUser(ctx context.Context, id int64) (User, error) {
	return s.repo.GetUser(ctx, id)
}

// CreateUser registers a new user with an optional local credential.
func (s *Service) CreateUser(ctx context.Context, asglID, email, name, password string) (User, error) {
	asglID = strings.TrimSpace(asglID)
	if asglID == "" {
		return User{}, fmt.Errorf("%w: asgl_id required", shared.ErrInvalidInput)
	}
	u := User{
		ASGLID:   asglID,
		Email:    strings.TrimSpace(email),
		Name:     strings.TrimSpace(name),
		IsActive: true,
	}
	if password != "" {
		hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
		if err != nil {
			return User{}, err
		}
		u.PasswordHash = string(hash)
	}
	return s.repo.CreateUser(ctx, u)
}

// EnsureUser creates the principal on first login and returns it.
func (s *Service) EnsureUser(ctx context.Context, asglID, name string) (User, error) {
	asglID = strings.TrimSpace(asglID)
	if asglID == "" {
		return User{}, fmt.Errorf("%w: asgl_id required", shared.ErrInvalidInput)
	}
	return s.repo.EnsureUser(ctx, asglID, strings.TrimSpace(name))
}

// UpdateUser applies admin edits to the account.
func (s *Service) UpdateUser(ctx context.Context, u User) (User, error) {
	if u.ID == 0 {
		return User{}, fmt.Errorf("%w: user id required", shared.ErrInvalidInput)
	}
	return s.repo.UpdateUser(ctx, u)
}

// SetPassword replaces the local credential.
func (s *Service) SetPassword(ctx context.Context, id int64, password string) error {
	if len(password) < 8 {
		return fmt.Errorf("%w: password too short", shared.ErrInvalidInput)
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return err
	}
	return s.repo.SetPasswordHash(ctx, id, string(hash))
}

// DeleteUser removes a user together with its grants and ledger rows.
func (s *Service) DeleteUser(ctx context.Context, id int64) error {
	return s.repo.DeleteUser(ctx, id)
}

// Authenticate validates asgl_id/password credentials.
func (s *Service) Authenticate(ctx context.Context, asglID, password string) (User, error) {
	u, err := s.repo.GetUserByASGLID(ctx, strings.TrimSpace(asglID))
	if err != nil {
		return User{}, shared.ErrInvalidCredentials
	}
	if !u.IsActive || u.PasswordHash == "" {
		return User{}, shared.ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)); err != nil {
		return User{}, shared.ErrInvalidCredentials
	}
	return u, nil
}
