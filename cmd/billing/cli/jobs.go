package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"

	"github.com/hibiken/asynq"

	"github.com/netfoxfrance-alt/valet-reserve-pro/internal/billing"
	"github.com/netfoxfrance-alt/valet-reserve-pro/jobs"
)

type taskClient interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
	Close() error
}

type queueInspector interface {
	GetQueueInfo(queue string) (*asynq.QueueInfo, error)
	Close() error
}

// JobsCLI wraps manual management helpers for the billing jobs.
type JobsCLI struct {
	client    taskClient
	inspector queueInspector
	batch     int
}

// NewJobsCLI initialises the CLI helpers. batch bounds a manual sweep.
func NewJobsCLI(redisOpts asynq.RedisClientOpt, batch int) *JobsCLI {
	return &JobsCLI{
		client:    asynq.NewClient(redisOpts),
		inspector: asynq.NewInspector(redisOpts),
		batch:     batch,
	}
}

// Close releases underlying resources.
func (c *JobsCLI) Close() error {
	var err error
	if c.inspector != nil {
		if closeErr := c.inspector.Close(); closeErr != nil {
			err = closeErr
		}
	}
	if c.client != nil {
		if closeErr := c.client.Close(); closeErr != nil {
			err = closeErr
		}
	}
	return err
}

// Trigger enqueues a supported job by name. A reconcile needs the tenant and
// document ids as args.
func (c *JobsCLI) Trigger(ctx context.Context, name string, args ...string) (*asynq.TaskInfo, error) {
	if c == nil || c.client == nil {
		return nil, errors.New("jobs cli: client not configured")
	}
	switch name {
	case jobs.TaskBillingReconcileSweep:
		task, err := jobs.NewReconcileSweepTask(c.batch, 0)
		if err != nil {
			return nil, err
		}
		return c.client.EnqueueContext(ctx, task, asynq.Queue(jobs.QueueDefault), asynq.MaxRetry(3))
	case jobs.TaskIdempotencyCleanup:
		task, err := jobs.NewIdempotencyCleanupTask(0)
		if err != nil {
			return nil, err
		}
		return c.client.EnqueueContext(ctx, task, asynq.Queue(jobs.QueueDefault), asynq.MaxRetry(3))
	case jobs.TaskBillingReconcile:
		ref, err := parseRef(args)
		if err != nil {
			return nil, err
		}
		task, opts, err := jobs.NewReconcileTask(ref)
		if err != nil {
			return nil, err
		}
		return c.client.EnqueueContext(ctx, task, opts...)
	default:
		return nil, fmt.Errorf("jobs cli: unsupported job %s", name)
	}
}

func parseRef(args []string) (billing.DocumentRef, error) {
	if len(args) != 2 {
		return billing.DocumentRef{}, errors.New("jobs cli: reconcile needs <tenant-id> <document-id>")
	}
	tenantID, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil || tenantID <= 0 {
		return billing.DocumentRef{}, fmt.Errorf("jobs cli: invalid tenant id %q", args[0])
	}
	documentID, err := strconv.ParseInt(args[1], 10, 64)
	if err != nil || documentID <= 0 {
		return billing.DocumentRef{}, fmt.Errorf("jobs cli: invalid document id %q", args[1])
	}
	return billing.DocumentRef{TenantID: tenantID, ID: documentID}, nil
}

// QueueStats summarises the current queue state.
type QueueStats struct {
	Queue     string
	Pending   int
	Active    int
	Scheduled int
	Retry     int
}

// InspectQueue reports the queue metrics for the default queue.
func (c *JobsCLI) InspectQueue(ctx context.Context) (QueueStats, error) {
	if c == nil || c.inspector == nil {
		return QueueStats{}, errors.New("jobs cli: inspector not configured")
	}
	info, err := c.inspector.GetQueueInfo(jobs.QueueDefault)
	if err != nil {
		return QueueStats{}, err
	}
	stats := QueueStats{Queue: jobs.QueueDefault}
	if info != nil {
		stats.Pending = info.Pending
		stats.Active = info.Active
		stats.Scheduled = info.Scheduled
		stats.Retry = info.Retry
	}
	return stats, nil
}

// Run dispatches a jobs subcommand and returns the process exit code.
func (c *JobsCLI) Run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	if len(args) == 0 {
		fmt.Fprintln(stderr, "usage: jobs trigger <task> [args] | jobs stats")
		return 2
	}
	switch args[0] {
	case "trigger":
		if len(args) < 2 {
			fmt.Fprintln(stderr, "usage: jobs trigger <task> [args]")
			return 2
		}
		info, err := c.Trigger(ctx, args[1], args[2:]...)
		if err != nil {
			fmt.Fprintln(stderr, err)
			return 1
		}
		fmt.Fprintf(stdout, "enqueued %s id=%s queue=%s\n", info.Type, info.ID, info.Queue)
		return 0
	case "stats":
		stats, err := c.InspectQueue(ctx)
		if err != nil {
			fmt.Fprintln(stderr, err)
			return 1
		}
		fmt.Fprintf(stdout, "queue=%s pending=%d active=%d scheduled=%d retry=%d\n",
			stats.Queue, stats.Pending, stats.Active, stats.Scheduled, stats.Retry)
		return 0
	default:
		fmt.Fprintf(stderr, "unknown jobs command %q\n", args[0])
		return 2
	}
}
