package jobs

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	"github.com/asgl-platform/docchat/internal/credits"
	jobmetrics "github.com/asgl-platform/docchat/internal/jobs"
)

// CreditsResetter is the slice of the credit service the reset task needs.
type CreditsResetter interface {
	ResetMonthlyCredits(ctx context.Context, month, year int) (int, error)
}

// NewCreditsResetHandler returns the handler for TaskCreditsReset. The
// underlying allocation is idempotent, so redelivery after a crash only
// re-scans and creates nothing.
func NewCreditsResetHandler(service CreditsResetter, metrics *jobmetrics.Metrics, logger *slog.Logger) asynq.HandlerFunc {
	return func(ctx context.Context, t *asynq.Task) error {
		var payload CreditsResetPayload
		if err := json.Unmarshal(t.Payload(), &payload); err != nil {
			return asynq.SkipRetry
		}
		period := credits.Period{Month: payload.Month, Year: payload.Year}
		if period.Month == 0 && period.Year == 0 {
			period = credits.CurrentPeriod(time.Now().UTC())
		}

		tracker := metrics.Track("credits_reset")
		created, err := service.ResetMonthlyCredits(ctx, period.Month, period.Year)
		if err != nil {
			logger.Error("credits reset",
				slog.Int("month", period.Month),
				slog.Int("year", period.Year),
				slog.Any("error", err))
			return tracker.End(err)
		}
		logger.Info("credits reset",
			slog.Int("month", period.Month),
			slog.Int("year", period.Year),
			slog.Int("created", created))
		return tracker.End(nil)
	}
}
