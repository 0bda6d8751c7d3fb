package rbac

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/asgl-platform/docchat/internal/shared"
)

func newResolver(repo *stubRepo) *Resolver {
	return NewResolver(NewService(repo))
}

func TestHasPermissionNilPrincipal(t *testing.T) {
	r := newResolver(newStubRepo())
	_, err := r.HasPermission(context.Background(), nil, shared.PermChatUse)
	require.Error(t, err)
	assert.True(t, errors.Is(err, shared.ErrUnauthorized))
}

func TestHasPermissionUnionOfRoles(t *testing.T) {
	repo := newStubRepo()
	repo.permissions[42] = []string{shared.PermDatasetsView, shared.PermChatUse}
	r := newResolver(repo)

	p := &Principal{ID: 42, ASGLID: "e1234", Roles: []string{"member"}}

	ok, err := r.HasPermission(context.Background(), p, shared.PermChatUse)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = r.HasPermission(context.Background(), p, shared.PermCreditsEdit)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestHasPermissionCaseInsensitive(t *testing.T) {
	repo := newStubRepo()
	repo.permissions[42] = []string{"Datasets.View"}
	r := newResolver(repo)

	p := &Principal{ID: 42, ASGLID: "e1234"}
	ok, err := r.HasPermission(context.Background(), p, "datasets.view")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestSuperAdminBypassesUnknownPermission(t *testing.T) {
	repo := newStubRepo()
	repo.permErr = errors.New("store must not be consulted")
	r := newResolver(repo)

	p := &Principal{ID: 1, ASGLID: "e9", Roles: []string{shared.RoleSuperAdmin}}
	ok, err := r.HasPermission(context.Background(), p, "totally.unknown.scope")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestBootstrapIdentifierPrecedence(t *testing.T) {
	repo := newStubRepo()
	repo.permErr = errors.New("store must not be consulted")
	r := newResolver(repo)

	// No roles at all: the identifier alone grants superadmin.
	super := &Principal{ID: 2, ASGLID: shared.BootstrapSuperAdminID}
	assert.True(t, r.IsSuperAdmin(super))
	assert.True(t, r.IsAdmin(super))
	ok, err := r.HasPermission(context.Background(), super, shared.PermUsersEdit)
	require.NoError(t, err)
	assert.True(t, ok)

	admin := &Principal{ID: 3, ASGLID: shared.BootstrapAdminID}
	assert.False(t, r.IsSuperAdmin(admin))
	assert.True(t, r.IsAdmin(admin))

	regular := &Principal{ID: 4, ASGLID: "e5555"}
	assert.False(t, r.IsAdmin(regular))
}

func TestIsAdminViaRole(t *testing.T) {
	r := newResolver(newStubRepo())
	assert.True(t, r.IsAdmin(&Principal{ID: 5, ASGLID: "e1", Roles: []string{shared.RoleAdmin}}))
	assert.True(t, r.IsAdmin(&Principal{ID: 6, ASGLID: "e2", Roles: []string{shared.RoleSuperAdmin}}))
	assert.False(t, r.IsAdmin(&Principal{ID: 7, ASGLID: "e3", Roles: []string{"member"}}))
}

func TestHasAnyPermission(t *testing.T) {
	repo := newStubRepo()
	repo.permissions[9] = []string{shared.PermDocumentsView}
	r := newResolver(repo)

	p := &Principal{ID: 9, ASGLID: "e9"}
	ok, err := r.HasAnyPermission(context.Background(), p, shared.PermDocumentsEdit, shared.PermDocumentsView)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = r.HasAnyPermission(context.Background(), p, shared.PermDocumentsEdit, shared.PermDocumentsDelete)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestEmptyPermissionNameDenied(t *testing.T) {
	r := newResolver(newStubRepo())
	ok, err := r.HasPermission(context.Background(), &Principal{ID: 1, ASGLID: "e1"}, "  ")
	require.NoError(t, err)
	assert.False(t, ok)
}
