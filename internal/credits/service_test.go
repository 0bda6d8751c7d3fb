package credits

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/asgl-platform/docchat/internal/rbac"
	"github.com/asgl-platform/docchat/internal/shared"
)

// ledgerStub keeps balances in memory and mirrors the atomicity contract of
// the postgres repository: Deduct is a single compare-and-swap under a lock.
type ledgerStub struct {
	mu     sync.Mutex
	rows   map[string]*Credit
	usages []CreditUsage
	nextID int64
	active map[Period][]int64
}

func newLedgerStub() *ledgerStub {
	return &ledgerStub{rows: make(map[string]*Credit), active: make(map[Period][]int64)}
}

func key(userID int64, p Period) string {
	return fmt.Sprintf("%d/%d/%d", userID, p.Month, p.Year)
}

func (l *ledgerStub) put(userID int64, p Period, total, used int64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.nextID++
	l.rows[key(userID, p)] = &Credit{
		ID: l.nextID, UserID: userID, Month: p.Month, Year: p.Year,
		TotalCredits: total, UsedCredits: used, RemainingCredits: total - used,
	}
}

func (l *ledgerStub) GetCredit(ctx context.Context, userID int64, p Period) (Credit, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	row, ok := l.rows[key(userID, p)]
	if !ok {
		return Credit{}, shared.ErrNotFound
	}
	return *row, nil
}

func (l *ledgerStub) ListCredits(ctx context.Context, p Period) ([]Credit, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []Credit
	for _, row := range l.rows {
		if row.Month == p.Month && row.Year == p.Year {
			out = append(out, *row)
		}
	}
	return out, nil
}

func (l *ledgerStub) Deduct(ctx context.Context, userID int64, p Period, amount int64, action string, metadata map[string]any) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	row, ok := l.rows[key(userID, p)]
	if !ok || row.RemainingCredits < amount {
		return false, nil
	}
	row.UsedCredits += amount
	row.RemainingCredits -= amount
	l.usages = append(l.usages, CreditUsage{
		UserID: userID, CreditID: row.ID, Amount: amount, Action: action, Metadata: metadata,
	})
	return true, nil
}

func (l *ledgerStub) AddBonus(ctx context.Context, userID int64, p Period, amount int64, reason string) (Credit, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	row, ok := l.rows[key(userID, p)]
	if !ok {
		l.nextID++
		row = &Credit{ID: l.nextID, UserID: userID, Month: p.Month, Year: p.Year}
		l.rows[key(userID, p)] = row
	}
	row.TotalCredits += amount
	row.RemainingCredits += amount
	l.usages = append(l.usages, CreditUsage{
		UserID: userID, CreditID: row.ID, Amount: 0, Action: ActionBonus,
		Metadata: map[string]any{"reason": reason, "bonus": amount},
	})
	return *row, nil
}

func (l *ledgerStub) Overwrite(ctx context.Context, userID int64, p Period, total, used int64) (Credit, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	row, ok := l.rows[key(userID, p)]
	if !ok {
		l.nextID++
		row = &Credit{ID: l.nextID, UserID: userID, Month: p.Month, Year: p.Year}
		l.rows[key(userID, p)] = row
	}
	row.TotalCredits = total
	row.UsedCredits = used
	row.RemainingCredits = total - used
	l.usages = append(l.usages, CreditUsage{
		UserID: userID, CreditID: row.ID, Amount: 0, Action: ActionAdminAdjust,
	})
	return *row, nil
}

func (l *ledgerStub) ActiveUserIDs(ctx context.Context, p Period) ([]int64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.active[p], nil
}

func (l *ledgerStub) EnsurePeriod(ctx context.Context, userID int64, p Period, total int64) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.rows[key(userID, p)]; ok {
		return false, nil
	}
	l.nextID++
	l.rows[key(userID, p)] = &Credit{
		ID: l.nextID, UserID: userID, Month: p.Month, Year: p.Year,
		TotalCredits: total, RemainingCredits: total,
	}
	l.usages = append(l.usages, CreditUsage{
		UserID: userID, CreditID: l.nextID, Amount: 0, Action: ActionReset,
		Metadata: map[string]any{"total": total},
	})
	return true, nil
}

func (l *ledgerStub) ListUsage(ctx context.Context, userID int64, limit, offset int) ([]CreditUsage, int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	var all []CreditUsage
	for _, u := range l.usages {
		if u.UserID == userID {
			all = append(all, u)
		}
	}
	total := len(all)
	if offset >= total {
		return nil, total, nil
	}
	end := offset + limit
	if end > total {
		end = total
	}
	return all[offset:end], total, nil
}

type noRoleRepo struct{}

func (noRoleRepo) ListRoles(ctx context.Context) ([]rbac.Role, error)       { return nil, nil }
func (noRoleRepo) GetRole(ctx context.Context, id int64) (rbac.Role, error) { return rbac.Role{}, shared.ErrNotFound }
func (noRoleRepo) GetRoleByName(ctx context.Context, name string) (rbac.Role, error) {
	return rbac.Role{}, shared.ErrNotFound
}
func (noRoleRepo) CreateRole(ctx context.Context, name, description string) (rbac.Role, error) {
	return rbac.Role{}, nil
}
func (noRoleRepo) UpdateRole(ctx context.Context, id int64, name, description string) (rbac.Role, error) {
	return rbac.Role{}, nil
}
func (noRoleRepo) DeleteRole(ctx context.Context, id int64) error                  { return nil }
func (noRoleRepo) CountAssignments(ctx context.Context, roleID int64) (int, error) { return 0, nil }
func (noRoleRepo) ListPermissions(ctx context.Context) ([]rbac.Permission, error)  { return nil, nil }
func (noRoleRepo) UpsertPermission(ctx context.Context, name, description string) (rbac.Permission, error) {
	return rbac.Permission{}, nil
}
func (noRoleRepo) RolePermissions(ctx context.Context, roleID int64) ([]rbac.Permission, error) {
	return nil, nil
}
func (noRoleRepo) SetRolePermissions(ctx context.Context, roleID int64, permissionIDs []int64) error {
	return nil
}
func (noRoleRepo) AssignRole(ctx context.Context, userID, roleID int64) error { return nil }
func (noRoleRepo) RemoveRole(ctx context.Context, userID, roleID int64) error { return nil }
func (noRoleRepo) ReplaceRoles(ctx context.Context, userID int64, roleIDs []int64) error {
	return nil
}
func (noRoleRepo) RolesForUser(ctx context.Context, userID int64) ([]string, error) {
	return nil, nil
}
func (noRoleRepo) EffectivePermissions(ctx context.Context, userID int64) ([]string, error) {
	return nil, nil
}

var fixedTime = time.Date(2026, time.August, 15, 12, 0, 0, 0, time.UTC)

func newLedger(stub *ledgerStub) *Service {
	roles := rbac.NewResolver(rbac.NewService(noRoleRepo{}))
	return NewService(stub, roles, 100).WithClock(func() time.Time { return fixedTime })
}

func TestUseCreditDeductsAndRecordsUsage(t *testing.T) {
	stub := newLedgerStub()
	period := CurrentPeriod(fixedTime)
	stub.put(7, period, 100, 0)

	svc := newLedger(stub)
	ok, err := svc.UseCredit(context.Background(), 7, 3, ActionChatTurn, map[string]any{"turn_id": "t1"})
	require.NoError(t, err)
	assert.True(t, ok)

	credit, err := svc.Balance(context.Background(), 7)
	require.NoError(t, err)
	assert.Equal(t, int64(100), credit.TotalCredits)
	assert.Equal(t, int64(3), credit.UsedCredits)
	assert.Equal(t, int64(97), credit.RemainingCredits)

	require.Len(t, stub.usages, 1)
	assert.Equal(t, int64(3), stub.usages[0].Amount)
	assert.Equal(t, ActionChatTurn, stub.usages[0].Action)
}

func TestUseCreditInsufficientIsNoop(t *testing.T) {
	stub := newLedgerStub()
	period := CurrentPeriod(fixedTime)
	stub.put(7, period, 10, 8)

	svc := newLedger(stub)
	ok, err := svc.UseCredit(context.Background(), 7, 5, ActionChatTurn, nil)
	require.NoError(t, err)
	assert.False(t, ok)

	credit, err := svc.Balance(context.Background(), 7)
	require.NoError(t, err)
	assert.Equal(t, int64(8), credit.UsedCredits)
	assert.Equal(t, int64(2), credit.RemainingCredits)
	assert.Empty(t, stub.usages)
}

func TestUseCreditValidation(t *testing.T) {
	svc := newLedger(newLedgerStub())

	_, err := svc.UseCredit(context.Background(), 7, 0, ActionChatTurn, nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, shared.ErrInvalidInput))

	_, err = svc.UseCredit(context.Background(), 7, 1, "", nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, shared.ErrInvalidInput))
}

func TestConcurrentDeductsNeverOversubscribe(t *testing.T) {
	stub := newLedgerStub()
	period := CurrentPeriod(fixedTime)
	stub.put(7, period, 10, 0)

	svc := newLedger(stub)

	const attempts = 50
	var wg sync.WaitGroup
	results := make(chan bool, attempts)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := svc.UseCredit(context.Background(), 7, 1, ActionChatTurn, nil)
			if err != nil {
				t.Error(err)
				return
			}
			results <- ok
		}()
	}
	wg.Wait()
	close(results)

	succeeded := 0
	for ok := range results {
		if ok {
			succeeded++
		}
	}
	assert.Equal(t, 10, succeeded)

	credit, err := svc.Balance(context.Background(), 7)
	require.NoError(t, err)
	assert.Equal(t, int64(0), credit.RemainingCredits)
	assert.Equal(t, int64(10), credit.UsedCredits)
	assert.Len(t, stub.usages, 10)
}

func TestHasEnoughCreditUnallocatedPeriod(t *testing.T) {
	svc := newLedger(newLedgerStub())
	ok, err := svc.HasEnoughCredit(context.Background(), 7, 1)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestBonusAccounting(t *testing.T) {
	stub := newLedgerStub()
	period := CurrentPeriod(fixedTime)
	stub.put(7, period, 100, 60)

	svc := newLedger(stub)
	credit, err := svc.AddBonusCredit(context.Background(), 7, 50, "pilot extension")
	require.NoError(t, err)

	assert.Equal(t, int64(150), credit.TotalCredits)
	assert.Equal(t, int64(60), credit.UsedCredits)
	assert.Equal(t, int64(90), credit.RemainingCredits)

	require.Len(t, stub.usages, 1)
	assert.Equal(t, int64(0), stub.usages[0].Amount)
	assert.Equal(t, ActionBonus, stub.usages[0].Action)
	assert.Equal(t, int64(50), stub.usages[0].Metadata["bonus"])
}

func TestResetMonthlyCreditsIdempotent(t *testing.T) {
	stub := newLedgerStub()
	current := CurrentPeriod(fixedTime)
	previous := current.Previous()
	stub.active[previous] = []int64{1, 2, 3}
	// User 2 already holds the current allocation.
	stub.put(2, current, 100, 0)

	svc := newLedger(stub)
	created, err := svc.ResetMonthlyCredits(context.Background(), current.Month, current.Year)
	require.NoError(t, err)
	assert.Equal(t, 2, created)

	created, err = svc.ResetMonthlyCredits(context.Background(), current.Month, current.Year)
	require.NoError(t, err)
	assert.Equal(t, 0, created)

	for _, id := range []int64{1, 2, 3} {
		credit, err := svc.BalanceForPeriod(context.Background(), id, current)
		require.NoError(t, err)
		assert.Equal(t, int64(100), credit.TotalCredits)
	}

	// Each fresh allocation leaves a zero-amount audit row; the rerun and the
	// pre-allocated user leave none.
	var resets []CreditUsage
	for _, u := range stub.usages {
		if u.Action == ActionReset {
			resets = append(resets, u)
		}
	}
	require.Len(t, resets, 2)
	for _, u := range resets {
		assert.Equal(t, int64(0), u.Amount)
		assert.Equal(t, int64(100), u.Metadata["total"])
	}
}

func TestResetRejectsInvalidPeriod(t *testing.T) {
	svc := newLedger(newLedgerStub())
	_, err := svc.ResetMonthlyCredits(context.Background(), 13, 2026)
	require.Error(t, err)
	assert.True(t, errors.Is(err, shared.ErrInvalidInput))
}

func TestUpdateCreditAdminOnly(t *testing.T) {
	stub := newLedgerStub()
	svc := newLedger(stub)
	period := CurrentPeriod(fixedTime)

	member := &rbac.Principal{ID: 1, ASGLID: "e1", Roles: []string{"member"}}
	_, err := svc.UpdateCredit(context.Background(), member, 7, period, 200, 50)
	require.Error(t, err)
	assert.True(t, errors.Is(err, shared.ErrForbidden))

	_, err = svc.UpdateCredit(context.Background(), nil, 7, period, 200, 50)
	require.Error(t, err)
	assert.True(t, errors.Is(err, shared.ErrUnauthorized))

	admin := &rbac.Principal{ID: 2, ASGLID: "e2", Roles: []string{shared.RoleAdmin}}
	credit, err := svc.UpdateCredit(context.Background(), admin, 7, period, 200, 50)
	require.NoError(t, err)
	assert.Equal(t, int64(150), credit.RemainingCredits)

	_, err = svc.UpdateCredit(context.Background(), admin, 7, period, 10, 50)
	require.Error(t, err)
	assert.True(t, errors.Is(err, shared.ErrInvalidInput))
}

func TestUsageHistoryPagination(t *testing.T) {
	stub := newLedgerStub()
	period := CurrentPeriod(fixedTime)
	stub.put(7, period, 100, 0)

	svc := newLedger(stub)
	for i := 0; i < 5; i++ {
		ok, err := svc.UseCredit(context.Background(), 7, 1, ActionChatTurn, nil)
		require.NoError(t, err)
		require.True(t, ok)
	}

	items, pagination, err := svc.UsageHistory(context.Background(), 7, 1, 2)
	require.NoError(t, err)
	assert.Len(t, items, 2)
	assert.Equal(t, 5, pagination.Total)

	items, _, err = svc.UsageHistory(context.Background(), 7, 3, 2)
	require.NoError(t, err)
	assert.Len(t, items, 1)
}
