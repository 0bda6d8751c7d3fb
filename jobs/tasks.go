package jobs

import (
	"encoding/json"
	"time"

	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskCreditsReset allocates the new month's credit rows.
	TaskCreditsReset = "credits:monthly_reset"
	// TaskMaintenance prunes expired session and idempotency records.
	TaskMaintenance = "platform:maintenance"
)

// CreditsResetPayload pins the reset to an explicit calendar period so a
// task retried across a month boundary still targets the period it was
// scheduled for.
type CreditsResetPayload struct {
	Month int `json:"month"`
	Year  int `json:"year"`
}

// NewCreditsResetTask constructs an Asynq task for the monthly allocation.
// A zero month/year means "the period current at execution time".
func NewCreditsResetTask(payload CreditsResetPayload) (*asynq.Task, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskCreditsReset, body, asynq.Queue(QueueDefault)), nil
}

// MaintenancePayload carries scheduling metadata.
type MaintenancePayload struct {
	ScheduledFor time.Time `json:"scheduled_for"`
}

// NewMaintenanceTask constructs an Asynq task for record pruning.
func NewMaintenanceTask(at time.Time) (*asynq.Task, error) {
	body, err := json.Marshal(MaintenancePayload{ScheduledFor: at})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskMaintenance, body, asynq.Queue(QueueDefault)), nil
}
