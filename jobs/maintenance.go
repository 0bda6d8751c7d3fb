package jobs

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	"github.com/asgl-platform/docchat/internal/auth"
	jobmetrics "github.com/asgl-platform/docchat/internal/jobs"
	"github.com/asgl-platform/docchat/internal/shared"
)

const idempotencyRetention = 7 * 24 * time.Hour

// NewMaintenanceHandler returns the handler for TaskMaintenance. It removes
// session audit rows whose expiry passed and idempotency keys past retention.
func NewMaintenanceHandler(sessions auth.Repository, idempotency *shared.IdempotencyStore, metrics *jobmetrics.Metrics, logger *slog.Logger) asynq.HandlerFunc {
	return func(ctx context.Context, t *asynq.Task) error {
		var payload MaintenancePayload
		if err := json.Unmarshal(t.Payload(), &payload); err != nil {
			return asynq.SkipRetry
		}

		tracker := metrics.Track("maintenance")
		pruned, err := sessions.DeleteExpiredSessions(ctx, time.Now().UTC())
		if err != nil {
			logger.Error("prune sessions", slog.Any("error", err))
			return tracker.End(err)
		}
		if err := idempotency.Cleanup(ctx, idempotencyRetention); err != nil {
			logger.Error("prune idempotency keys", slog.Any("error", err))
			return tracker.End(err)
		}
		logger.Info("maintenance", slog.Int64("sessions_pruned", pruned))
		return tracker.End(nil)
	}
}
