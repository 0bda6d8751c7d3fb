package chat

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/asgl-platform/docchat/internal/credits"
	"github.com/asgl-platform/docchat/internal/datasets"
	"github.com/asgl-platform/docchat/internal/observability"
	"github.com/asgl-platform/docchat/internal/rbac"
	"github.com/asgl-platform/docchat/internal/shared"
)

type roleRepo struct {
	permissions map[int64][]string
}

func (r *roleRepo) ListRoles(ctx context.Context) ([]rbac.Role, error)       { return nil, nil }
func (r *roleRepo) GetRole(ctx context.Context, id int64) (rbac.Role, error) { return rbac.Role{}, shared.ErrNotFound }
func (r *roleRepo) GetRoleByName(ctx context.Context, name string) (rbac.Role, error) {
	return rbac.Role{}, shared.ErrNotFound
}
func (r *roleRepo) CreateRole(ctx context.Context, name, description string) (rbac.Role, error) {
	return rbac.Role{}, nil
}
func (r *roleRepo) UpdateRole(ctx context.Context, id int64, name, description string) (rbac.Role, error) {
	return rbac.Role{}, nil
}
func (r *roleRepo) DeleteRole(ctx context.Context, id int64) error                  { return nil }
func (r *roleRepo) CountAssignments(ctx context.Context, roleID int64) (int, error) { return 0, nil }
func (r *roleRepo) ListPermissions(ctx context.Context) ([]rbac.Permission, error)  { return nil, nil }
func (r *roleRepo) UpsertPermission(ctx context.Context, name, description string) (rbac.Permission, error) {
	return rbac.Permission{}, nil
}
func (r *roleRepo) RolePermissions(ctx context.Context, roleID int64) ([]rbac.Permission, error) {
	return nil, nil
}
func (r *roleRepo) SetRolePermissions(ctx context.Context, roleID int64, permissionIDs []int64) error {
	return nil
}
func (r *roleRepo) AssignRole(ctx context.Context, userID, roleID int64) error { return nil }
func (r *roleRepo) RemoveRole(ctx context.Context, userID, roleID int64) error { return nil }
func (r *roleRepo) ReplaceRoles(ctx context.Context, userID int64, roleIDs []int64) error {
	return nil
}
func (r *roleRepo) RolesForUser(ctx context.Context, userID int64) ([]string, error) {
	return nil, nil
}
func (r *roleRepo) EffectivePermissions(ctx context.Context, userID int64) ([]string, error) {
	return r.permissions[userID], nil
}

type accessStore struct {
	datasets map[int64]datasets.Dataset
	grants   map[int64]*datasets.AccessGrant
}

func (s *accessStore) GetDataset(ctx context.Context, id int64) (datasets.Dataset, error) {
	ds, ok := s.datasets[id]
	if !ok {
		return datasets.Dataset{}, shared.ErrNotFound
	}
	return ds, nil
}

func (s *accessStore) GetDocument(ctx context.Context, id int64) (datasets.Document, error) {
	return datasets.Document{}, shared.ErrNotFound
}

func (s *accessStore) DatasetGrant(ctx context.Context, userID, datasetID int64) (*datasets.AccessGrant, error) {
	return s.grants[datasetID], nil
}

func (s *accessStore) DocumentGrant(ctx context.Context, userID, documentID int64) (*datasets.AccessGrant, error) {
	return nil, nil
}

type creditRepo struct {
	remaining   int64
	deducted    int64
	calls       int
	hadDeadline bool
}

func (c *creditRepo) GetCredit(ctx context.Context, userID int64, p credits.Period) (credits.Credit, error) {
	return credits.Credit{UserID: userID, RemainingCredits: c.remaining}, nil
}

func (c *creditRepo) ListCredits(ctx context.Context, p credits.Period) ([]credits.Credit, error) {
	return nil, nil
}

func (c *creditRepo) Deduct(ctx context.Context, userID int64, p credits.Period, amount int64, action string, metadata map[string]any) (bool, error) {
	c.calls++
	_, c.hadDeadline = ctx.Deadline()
	if c.remaining < amount {
		return false, nil
	}
	c.remaining -= amount
	c.deducted += amount
	return true, nil
}

func (c *creditRepo) AddBonus(ctx context.Context, userID int64, p credits.Period, amount int64, reason string) (credits.Credit, error) {
	return credits.Credit{}, nil
}

func (c *creditRepo) Overwrite(ctx context.Context, userID int64, p credits.Period, total, used int64) (credits.Credit, error) {
	return credits.Credit{}, nil
}

func (c *creditRepo) ActiveUserIDs(ctx context.Context, p credits.Period) ([]int64, error) {
	return nil, nil
}

func (c *creditRepo) EnsurePeriod(ctx context.Context, userID int64, p credits.Period, total int64) (bool, error) {
	return false, nil
}

func (c *creditRepo) ListUsage(ctx context.Context, userID int64, limit, offset int) ([]credits.CreditUsage, int, error) {
	return nil, 0, nil
}

type fakeUpstream struct {
	reply       string
	err         error
	calls       int
	hadDeadline bool
}

func (u *fakeUpstream) StreamCompletion(ctx context.Context, req TurnRequest, w io.Writer) error {
	u.calls++
	_, u.hadDeadline = ctx.Deadline()
	if u.err != nil {
		return u.err
	}
	_, err := w.Write([]byte(u.reply))
	return err
}

type gateFixture struct {
	service *Service
	ledger  *creditRepo
	up      *fakeUpstream
}

func newGate(t *testing.T, remaining int64, userPerms []string) gateFixture {
	t.Helper()

	roles := rbac.NewResolver(rbac.NewService(&roleRepo{permissions: map[int64][]string{
		10: userPerms,
	}}))

	store := &accessStore{
		datasets: map[int64]datasets.Dataset{
			1: {ID: 1, OwnerID: 99},
		},
		grants: map[int64]*datasets.AccessGrant{
			1: {UserID: 10, CanView: true},
		},
	}
	access := datasets.NewResolver(store, roles)

	ledger := &creditRepo{remaining: remaining}
	creditSvc := credits.NewService(ledger, roles, 100).WithClock(func() time.Time {
		return time.Date(2026, time.August, 15, 12, 0, 0, 0, time.UTC)
	})

	up := &fakeUpstream{reply: "data: hello\n\n"}
	svc := NewService(access, roles, creditSvc, up, observability.NewMetrics(), nil, 1, 5*time.Second)
	return gateFixture{service: svc, ledger: ledger, up: up}
}

func chatPrincipal() *rbac.Principal {
	return &rbac.Principal{ID: 10, ASGLID: "e10", Roles: []string{"member"}}
}

func TestCompleteTurnChargesAndStreams(t *testing.T) {
	fix := newGate(t, 5, []string{shared.PermChatUse})

	var buf bytes.Buffer
	turn := TurnRequest{TurnID: "t1", DatasetID: 1, Message: "hi"}
	err := fix.service.CompleteTurn(context.Background(), chatPrincipal(), turn, &buf)
	require.NoError(t, err)

	assert.Equal(t, "data: hello\n\n", buf.String())
	assert.Equal(t, int64(1), fix.ledger.deducted)
	assert.Equal(t, 1, fix.up.calls)
}

func TestStoreCallsCarryDeadlineButStreamDoesNot(t *testing.T) {
	fix := newGate(t, 5, []string{shared.PermChatUse})

	var buf bytes.Buffer
	turn := TurnRequest{TurnID: "t1", DatasetID: 1, Message: "hi"}
	err := fix.service.CompleteTurn(context.Background(), chatPrincipal(), turn, &buf)
	require.NoError(t, err)

	assert.True(t, fix.ledger.hadDeadline, "deduct must run under the store deadline")
	assert.False(t, fix.up.hadDeadline, "the stream must not inherit the store deadline")
}

func TestDeniedTurnNeverTouchesLedger(t *testing.T) {
	// No chat.use permission.
	fix := newGate(t, 5, nil)

	var buf bytes.Buffer
	turn := TurnRequest{TurnID: "t1", DatasetID: 1, Message: "hi"}
	err := fix.service.CompleteTurn(context.Background(), chatPrincipal(), turn, &buf)
	require.Error(t, err)
	assert.True(t, errors.Is(err, shared.ErrForbidden))

	assert.Zero(t, fix.ledger.calls)
	assert.Zero(t, fix.up.calls)
	assert.Empty(t, buf.String())
}

func TestInaccessibleDatasetDeniesTurn(t *testing.T) {
	fix := newGate(t, 5, []string{shared.PermChatUse})

	var buf bytes.Buffer
	turn := TurnRequest{TurnID: "t1", DatasetID: 404, Message: "hi"}
	err := fix.service.CompleteTurn(context.Background(), chatPrincipal(), turn, &buf)
	require.Error(t, err)
	assert.True(t, errors.Is(err, shared.ErrNotFound))
	assert.Zero(t, fix.ledger.calls)
}

func TestInsufficientCreditBlocksUpstream(t *testing.T) {
	fix := newGate(t, 0, []string{shared.PermChatUse})

	var buf bytes.Buffer
	turn := TurnRequest{TurnID: "t1", DatasetID: 1, Message: "hi"}
	err := fix.service.CompleteTurn(context.Background(), chatPrincipal(), turn, &buf)
	require.Error(t, err)
	assert.True(t, errors.Is(err, shared.ErrInsufficientCredit))

	assert.Equal(t, 1, fix.ledger.calls)
	assert.Zero(t, fix.ledger.deducted)
	assert.Zero(t, fix.up.calls)
}

func TestUpstreamFailureKeepsCharge(t *testing.T) {
	fix := newGate(t, 5, []string{shared.PermChatUse})
	fix.up.err = fmt.Errorf("upstream unreachable")

	var buf bytes.Buffer
	turn := TurnRequest{TurnID: "t1", DatasetID: 1, Message: "hi"}
	err := fix.service.CompleteTurn(context.Background(), chatPrincipal(), turn, &buf)
	require.Error(t, err)

	// No refund on abort.
	assert.Equal(t, int64(1), fix.ledger.deducted)
}

func TestNilPrincipalUnauthorized(t *testing.T) {
	fix := newGate(t, 5, []string{shared.PermChatUse})

	var buf bytes.Buffer
	err := fix.service.CompleteTurn(context.Background(), nil, TurnRequest{DatasetID: 1}, &buf)
	require.Error(t, err)
	assert.True(t, errors.Is(err, shared.ErrUnauthorized))
	assert.Zero(t, fix.ledger.calls)
}
