package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/hibiken/asynq"
	"golang.org/x/sync/errgroup"

	"github.com/netfoxfrance-alt/valet-reserve-pro/internal/billing"
	jobmetrics "github.com/netfoxfrance-alt/valet-reserve-pro/internal/jobs"
)

// DocumentReconciler repairs documents whose header and items disagree.
type DocumentReconciler interface {
	Reconcile(ctx context.Context, ref billing.DocumentRef) error
	FindInconsistent(ctx context.Context, limit int) ([]billing.DocumentRef, error)
}

// ReconcileJob handles both the single document repair and the sweep.
type ReconcileJob struct {
	Service DocumentReconciler
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
}

// NewReconcileJob initialises the reconcile handlers.
func NewReconcileJob(service DocumentReconciler, logger *slog.Logger, metrics *jobmetrics.Metrics) *ReconcileJob {
	return &ReconcileJob{Service: service, Logger: logger, Metrics: metrics}
}

// HandleDocument processes TaskBillingReconcile tasks.
func (j *ReconcileJob) HandleDocument(ctx context.Context, t *asynq.Task) (err error) {
	if j == nil || j.Service == nil {
		return errors.New("reconcile: handler not configured")
	}
	var payload ReconcilePayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil || payload.DocumentID <= 0 {
		return fmt.Errorf("reconcile: bad payload: %w", asynq.SkipRetry)
	}

	tracker := j.Metrics.Track(TaskBillingReconcile)
	defer func() { err = tracker.End(err) }()

	ref := billing.DocumentRef{TenantID: payload.TenantID, ID: payload.DocumentID, Op: payload.Op}
	if err := j.Service.Reconcile(ctx, ref); err != nil {
		j.logger().Error("reconcile document failed",
			slog.Int64("tenant_id", ref.TenantID),
			slog.Int64("document_id", ref.ID),
			slog.Any("error", err),
		)
		return err
	}
	j.Metrics.AddReconciled(TaskBillingReconcile, 1)
	j.logger().Info("document reconciled", slog.Int64("tenant_id", ref.TenantID), slog.Int64("document_id", ref.ID))
	return nil
}

// HandleSweep processes TaskBillingReconcileSweep tasks.
func (j *ReconcileJob) HandleSweep(ctx context.Context, t *asynq.Task) (err error) {
	if j == nil || j.Service == nil {
		return errors.New("reconcile sweep: handler not configured")
	}
	var payload SweepPayload
	if len(t.Payload()) > 0 {
		if err := json.Unmarshal(t.Payload(), &payload); err != nil {
			return fmt.Errorf("reconcile sweep: bad payload: %w", asynq.SkipRetry)
		}
	}
	if payload.Concurrency <= 0 {
		payload.Concurrency = 4
	}

	start := time.Now()
	tracker := j.Metrics.Track(TaskBillingReconcileSweep)
	defer func() { err = tracker.End(err) }()

	refs, err := j.Service.FindInconsistent(ctx, payload.Limit)
	if err != nil {
		return fmt.Errorf("reconcile sweep: find inconsistent: %w", err)
	}

	var repaired atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(payload.Concurrency)
	for _, ref := range refs {
		g.Go(func() error {
			if err := j.Service.Reconcile(gctx, ref); err != nil {
				return fmt.Errorf("reconcile document %d: %w", ref.ID, err)
			}
			repaired.Add(1)
			return nil
		})
	}
	err = g.Wait()
	j.Metrics.AddReconciled(TaskBillingReconcileSweep, int(repaired.Load()))

	j.logger().Info("reconcile sweep finished",
		slog.Int("found", len(refs)),
		slog.Int64("repaired", repaired.Load()),
		slog.Duration("duration", time.Since(start)),
		slog.Any("error", err),
	)
	return err
}

func (j *ReconcileJob) logger() *slog.Logger {
	if j.Logger != nil {
		return j.Logger
	}
	return slog.Default()
}
