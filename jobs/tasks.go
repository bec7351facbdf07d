package jobs

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/hibiken/asynq"

	"github.com/netfoxfrance-alt/valet-reserve-pro/internal/billing"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskBillingReconcile repairs a single document after a failed compensation.
	TaskBillingReconcile = "billing:reconcile"
	// TaskBillingReconcileSweep scans for inconsistent documents and repairs them.
	TaskBillingReconcileSweep = "billing:reconcile_sweep"
	// TaskIdempotencyCleanup purges expired Idempotency-Key claims.
	TaskIdempotencyCleanup = "billing:idempotency_cleanup"
)

// ReconcilePayload identifies the document to repair.
type ReconcilePayload struct {
	TenantID   int64  `json:"tenant_id"`
	DocumentID int64  `json:"document_id"`
	Op         string `json:"op,omitempty"`
}

// SweepPayload bounds a reconcile sweep.
type SweepPayload struct {
	Limit       int `json:"limit"`
	Concurrency int `json:"concurrency"`
}

// NewReconcileTask constructs a reconcile task. The task id is derived from
// the document so repeated failures collapse into one pending repair.
func NewReconcileTask(ref billing.DocumentRef) (*asynq.Task, []asynq.Option, error) {
	data, err := json.Marshal(ReconcilePayload{TenantID: ref.TenantID, DocumentID: ref.ID, Op: ref.Op})
	if err != nil {
		return nil, nil, err
	}
	opts := []asynq.Option{
		asynq.Queue(QueueDefault),
		asynq.TaskID(reconcileTaskID(ref)),
		asynq.MaxRetry(10),
	}
	return asynq.NewTask(TaskBillingReconcile, data), opts, nil
}

func reconcileTaskID(ref billing.DocumentRef) string {
	return fmt.Sprintf("%s:%d:%d", TaskBillingReconcile, ref.TenantID, ref.ID)
}

// NewReconcileSweepTask constructs the periodic sweep task.
func NewReconcileSweepTask(limit, concurrency int) (*asynq.Task, error) {
	data, err := json.Marshal(SweepPayload{Limit: limit, Concurrency: concurrency})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskBillingReconcileSweep, data), nil
}

// CleanupPayload sets the retention of idempotency keys.
type CleanupPayload struct {
	RetentionHours int `json:"retention_hours"`
}

// NewIdempotencyCleanupTask constructs the periodic key purge.
func NewIdempotencyCleanupTask(retention time.Duration) (*asynq.Task, error) {
	data, err := json.Marshal(CleanupPayload{RetentionHours: int(retention.Hours())})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskIdempotencyCleanup, data), nil
}
