package users

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/asgl-platform/docchat/internal/shared"
)

type stubRepo struct {
	byID     map[int64]User
	byASGLID map[string]User
	nextID   int64
	deleted  []int64
	ensured  int
}

func newStubRepo() *stubRepo {
	return &stubRepo{byID: make(map[int64]User), byASGLID: make(map[string]User)}
}

func (s *stubRepo) ListUsers(ctx context.Context) ([]User, error) {
	out := make([]User, 0, len(s.byID))
	for _, u := range s.byID {
		out = append(out, u)
	}
	return out, nil
}

func (s *stubRepo) GetUser(ctx context.Context, id int64) (User, error) {
	u, ok := s.byID[id]
	if !ok {
		return User{}, shared.ErrNotFound
	}
	return u, nil
}

func (s *stubRepo) GetUserByASGLID(ctx context.Context, asglID string) (User, error) {
	u, ok := s.byASGLID[asglID]
	if !ok {
		return User{}, shared.ErrNotFound
	}
	return u, nil
}

func (s *stubRepo) CreateUser(ctx context.Context, u User) (User, error) {
	if _, ok := s.byASGLID[u.ASGLID]; ok {
		return User{}, fmt.Errorf("%w: asgl_id taken", shared.ErrConflict)
	}
	s.nextID++
	u.ID = s.nextID
	s.byID[u.ID] = u
	s.byASGLID[u.ASGLID] = u
	return u, nil
}

func (s *stubRepo) EnsureUser(ctx context.Context, asglID, name string) (User, error) {
	s.ensured++
	if u, ok := s.byASGLID[asglID]; ok {
		return u, nil
	}
	return s.CreateUser(ctx, User{ASGLID: asglID, Name: name, IsActive: true})
}

func (s *stubRepo) UpdateUser(ctx context.Context, u User) (User, error) {
	if _, ok := s.byID[u.ID]; !ok {
		return User{}, shared.ErrNotFound
	}
	s.byID[u.ID] = u
	s.byASGLID[u.ASGLID] = u
	return u, nil
}

func (s *stubRepo) SetPasswordHash(ctx context.Context, id int64, hash string) error {
	u, ok := s.byID[id]
	if !ok {
		return shared.ErrNotFound
	}
	u.PasswordHash = hash
	s.byID[id] = u
	s.byASGLID[u.ASGLID] = u
	return nil
}

func (s *stubRepo) DeleteUser(ctx context.Context, id int64) error {
	u, ok := s.byID[id]
	if !ok {
		return shared.ErrNotFound
	}
	delete(s.byID, id)
	delete(s.byASGLID, u.ASGLID)
	s.deleted = append(s.deleted, id)
	return nil
}

func TestCreateUserHashesPassword(t *testing.T) {
	repo := newStubRepo()
	svc := NewService(repo)

	u, err := svc.CreateUser(context.Background(), " e1234 ", "e1234@example.com", "Test User", "correct-horse")
	require.NoError(t, err)
	assert.Equal(t, "e1234", u.ASGLID)
	assert.True(t, u.IsActive)
	require.NotEmpty(t, u.PasswordHash)
	require.NoError(t, bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte("correct-horse")))
}

func TestCreateUserWithoutPassword(t *testing.T) {
	svc := NewService(newStubRepo())
	u, err := svc.CreateUser(context.Background(), "e1", "", "No Credential", "")
	require.NoError(t, err)
	assert.Empty(t, u.PasswordHash)
}

func TestCreateUserRequiresASGLID(t *testing.T) {
	svc := NewService(newStubRepo())
	_, err := svc.CreateUser(context.Background(), "   ", "", "x", "")
	require.Error(t, err)
	assert.True(t, errors.Is(err, shared.ErrInvalidInput))
}

func TestEnsureUserIdempotent(t *testing.T) {
	repo := newStubRepo()
	svc := NewService(repo)

	first, err := svc.EnsureUser(context.Background(), "e9", "First Login")
	require.NoError(t, err)
	second, err := svc.EnsureUser(context.Background(), "e9", "Second Login")
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)
	assert.Len(t, repo.byID, 1)
}

func TestAuthenticate(t *testing.T) {
	repo := newStubRepo()
	svc := NewService(repo)

	u, err := svc.CreateUser(context.Background(), "e1", "", "User", "correct-horse")
	require.NoError(t, err)

	got, err := svc.Authenticate(context.Background(), "e1", "correct-horse")
	require.NoError(t, err)
	assert.Equal(t, u.ID, got.ID)

	_, err = svc.Authenticate(context.Background(), "e1", "wrong")
	assert.True(t, errors.Is(err, shared.ErrInvalidCredentials))

	_, err = svc.Authenticate(context.Background(), "unknown", "correct-horse")
	assert.True(t, errors.Is(err, shared.ErrInvalidCredentials))
}

func TestAuthenticateInactiveOrPasswordless(t *testing.T) {
	repo := newStubRepo()
	svc := NewService(repo)

	inactive, err := svc.CreateUser(context.Background(), "e2", "", "Inactive", "correct-horse")
	require.NoError(t, err)
	inactive.IsActive = false
	_, err = svc.UpdateUser(context.Background(), inactive)
	require.NoError(t, err)

	_, err = svc.Authenticate(context.Background(), "e2", "correct-horse")
	assert.True(t, errors.Is(err, shared.ErrInvalidCredentials))

	// Accounts created on first login have no local credential at all.
	_, err = svc.EnsureUser(context.Background(), "e3", "SSO Only")
	require.NoError(t, err)
	_, err = svc.Authenticate(context.Background(), "e3", "")
	assert.True(t, errors.Is(err, shared.ErrInvalidCredentials))
}

func TestSetPasswordMinLength(t *testing.T) {
	repo := newStubRepo()
	svc := NewService(repo)
	u, err := svc.CreateUser(context.Background(), "e1", "", "User", "")
	require.NoError(t, err)

	err = svc.SetPassword(context.Background(), u.ID, "short")
	require.Error(t, err)
	assert.True(t, errors.Is(err, shared.ErrInvalidInput))

	require.NoError(t, svc.SetPassword(context.Background(), u.ID, "long-enough-pass"))
	_, err = svc.Authenticate(context.Background(), "e1", "long-enough-pass")
	require.NoError(t, err)
}
