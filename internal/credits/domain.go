package credits

import (
	"fmt"
	"time"

	"github.com/asgl-platform/docchat/internal/shared"
)

// Credit is the authoritative balance for one principal in one calendar
// period. RemainingCredits always equals TotalCredits - UsedCredits and both
// UsedCredits and RemainingCredits stay non-negative.
type Credit struct {
	ID               int64
	UserID           int64
	Month            int
	Year             int
	TotalCredits     int64
	UsedCredits      int64
	RemainingCredits int64
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// CreditUsage is an immutable audit record of a ledger mutation. Bonus and
// administrative events carry Amount zero so consumption totals stay exact.
type CreditUsage struct {
	ID        int64
	UserID    int64
	CreditID  int64
	Amount    int64
	Action    string
	Metadata  map[string]any
	CreatedAt time.Time
}

// Ledger action tags recorded on CreditUsage rows.
const (
	ActionChatTurn    = "chat.turn"
	ActionBonus       = "credit.bonus"
	ActionAdminAdjust = "credit.admin_adjust"
	ActionReset       = "credit.reset"
)

// Period scopes a credit row to a calendar month.
type Period struct {
	Month int
	Year  int
}

// CurrentPeriod derives the period for a point in time.
func CurrentPeriod(t time.Time) Period {
	return Period{Month: int(t.Month()), Year: t.Year()}
}

// Previous returns the preceding calendar period.
func (p Period) Previous() Period {
	if p.Month == 1 {
		return Period{Month: 12, Year: p.Year - 1}
	}
	return Period{Month: p.Month - 1, Year: p.Year}
}

// Validate rejects out-of-range periods.
func (p Period) Validate() error {
	if p.Month < 1 || p.Month > 12 {
		return fmt.Errorf("%w: month %d out of range", shared.ErrInvalidInput, p.Month)
	}
	if p.Year < 2000 || p.Year > 9999 {
		return fmt.Errorf("%w: year %d out of range", shared.ErrInvalidInput, p.Year)
	}
	return nil
}
