package credits

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/asgl-platform/docchat/internal/rbac"
	"github.com/asgl-platform/docchat/internal/shared"
)

// RepositoryPort defines the persistence surface the ledger depends on.
// Implementations must make Deduct atomic per (user, period) row.
type RepositoryPort interface {
	GetCredit(ctx context.Context, userID int64, period Period) (Credit, error)
	ListCredits(ctx context.Context, period Period) ([]Credit, error)
	Deduct(ctx context.Context, userID int64, period Period, amount int64, action string, metadata map[string]any) (bool, error)
	AddBonus(ctx context.Context, userID int64, period Period, amount int64, reason string) (Credit, error)
	Overwrite(ctx context.Context, userID int64, period Period, total, used int64) (Credit, error)
	ActiveUserIDs(ctx context.Context, period Period) ([]int64, error)
	EnsurePeriod(ctx context.Context, userID int64, period Period, total int64) (bool, error)
	ListUsage(ctx context.Context, userID int64, limit, offset int) ([]CreditUsage, int, error)
}

// Service is the credit ledger. Balances are only ever mutated through the
// deduct, bonus, reset and administrative overwrite paths below, and every
// mutation leaves exactly one usage record behind.
type Service struct {
	repo         RepositoryPort
	roles        *rbac.Resolver
	defaultTotal int64
	now          func() time.Time
}

// NewService constructs the ledger. defaultTotal is the allocation handed
// out by the monthly reset.
func NewService(repo RepositoryPort, roles *rbac.Resolver, defaultTotal int64) *Service {
	return &Service{repo: repo, roles: roles, defaultTotal: defaultTotal, now: time.Now}
}

// WithClock overrides the time source. Test hook.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

func (s *Service) currentPeriod() Period {
	return CurrentPeriod(s.now().UTC())
}

// Balance returns the current period's row for a user. Unallocated periods
// surface as shared.ErrNotFound.
func (s *Service) Balance(ctx context.Context, userID int64) (Credit, error) {
	return s.repo.GetCredit(ctx, userID, s.currentPeriod())
}

// BalanceForPeriod returns the row for an explicit period.
func (s *Service) BalanceForPeriod(ctx context.Context, userID int64, period Period) (Credit, error) {
	if err := period.Validate(); err != nil {
		return Credit{}, err
	}
	return s.repo.GetCredit(ctx, userID, period)
}

// HasEnoughCredit reports whether the user's current period holds at least
// amount. An unallocated period counts as no credit, not as unlimited;
// callers wanting unmetered principals must decide that before asking the
// ledger.
func (s *Service) HasEnoughCredit(ctx context.Context, userID int64, amount int64) (bool, error) {
	if amount <= 0 {
		return false, fmt.Errorf("%w: amount must be positive", shared.ErrInvalidInput)
	}
	credit, err := s.repo.GetCredit(ctx, userID, s.currentPeriod())
	if err != nil {
		if errors.Is(err, shared.ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	return credit.RemainingCredits >= amount, nil
}

// UseCredit atomically checks and consumes amount from the current period.
// Insufficient balance is a normal false result, never an error, and never a
// partial decrement.
func (s *Service) UseCredit(ctx context.Context, userID int64, amount int64, action string, metadata map[string]any) (bool, error) {
	if amount <= 0 {
		return false, fmt.Errorf("%w: amount must be positive", shared.ErrInvalidInput)
	}
	if action == "" {
		return false, fmt.Errorf("%w: action tag required", shared.ErrInvalidInput)
	}
	return s.repo.Deduct(ctx, userID, s.currentPeriod(), amount, action, metadata)
}

// AddBonusCredit raises the current period's total and remaining balance,
// creating the row when absent.
func (s *Service) AddBonusCredit(ctx context.Context, userID int64, amount int64, reason string) (Credit, error) {
	if amount <= 0 {
		return Credit{}, fmt.Errorf("%w: bonus must be positive", shared.ErrInvalidInput)
	}
	return s.repo.AddBonus(ctx, userID, s.currentPeriod(), amount, reason)
}

// ResetMonthlyCredits allocates the default balance for every principal that
// held an allocation in the previous period. Idempotent: re-running for the
// same period allocates nothing new. Returns the number of rows created.
func (s *Service) ResetMonthlyCredits(ctx context.Context, month, year int) (int, error) {
	period := Period{Month: month, Year: year}
	if err := period.Validate(); err != nil {
		return 0, err
	}
	userIDs, err := s.repo.ActiveUserIDs(ctx, period.Previous())
	if err != nil {
		return 0, err
	}
	created := 0
	for _, id := range userIDs {
		ok, err := s.repo.EnsurePeriod(ctx, id, period, s.defaultTotal)
		if err != nil {
			return created, err
		}
		if ok {
			created++
		}
	}
	return created, nil
}

// UpdateCredit is the administrative overwrite. It re-derives the invariant
// remaining = total - used and rejects negative values; the principal must be
// an administrator regardless of what the transport-layer guard checked.
func (s *Service) UpdateCredit(ctx context.Context, p *rbac.Principal, userID int64, period Period, total, used int64) (Credit, error) {
	if p == nil {
		return Credit{}, shared.ErrUnauthorized
	}
	if !s.roles.IsAdmin(p) {
		return Credit{}, shared.ErrForbidden
	}
	if err := period.Validate(); err != nil {
		return Credit{}, err
	}
	if total < 0 || used < 0 {
		return Credit{}, fmt.Errorf("%w: credits must not be negative", shared.ErrInvalidInput)
	}
	if used > total {
		return Credit{}, fmt.Errorf("%w: used exceeds total", shared.ErrInvalidInput)
	}
	return s.repo.Overwrite(ctx, userID, period, total, used)
}

// ListCredits returns every balance row for a period. Admin surface.
func (s *Service) ListCredits(ctx context.Context, p *rbac.Principal, period Period) ([]Credit, error) {
	if p == nil {
		return nil, shared.ErrUnauthorized
	}
	if !s.roles.IsAdmin(p) {
		return nil, shared.ErrForbidden
	}
	if err := period.Validate(); err != nil {
		return nil, err
	}
	return s.repo.ListCredits(ctx, period)
}

// UsageHistory returns a page of the audit trail for a user.
func (s *Service) UsageHistory(ctx context.Context, userID int64, page, perPage int) ([]CreditUsage, shared.Pagination, error) {
	if perPage <= 0 || perPage > 100 {
		perPage = 20
	}
	if page <= 0 {
		page = 1
	}
	usages, total, err := s.repo.ListUsage(ctx, userID, perPage, (page-1)*perPage)
	if err != nil {
		return nil, shared.Pagination{}, err
	}
	return usages, shared.NewPagination(page, perPage, total), nil
}

// DefaultMonthlyTotal exposes the configured reset allocation.
func (s *Service) DefaultMonthlyTotal() int64 {
	return s.defaultTotal
}
