package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	"github.com/odyssey-erp/sentinel/internal/audit"
	jobmetrics "github.com/odyssey-erp/sentinel/internal/jobs"
)

// Enqueuer submits tasks to the queue.
type Enqueuer interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

// GapReporter hands failed audit writes to the worker.
type GapReporter struct {
	queue Enqueuer
	now   func() time.Time
}

// NewGapReporter builds a GapReporter on top of an asynq client.
func NewGapReporter(queue Enqueuer) *GapReporter {
	return &GapReporter{queue: queue, now: func() time.Time { return time.Now().UTC() }}
}

var _ audit.GapReporter = (*GapReporter)(nil)

// ReportGap implements audit.GapReporter.
func (r *GapReporter) ReportGap(ctx context.Context, event audit.Event, cause error) error {
	if r == nil || r.queue == nil {
		return errors.New("audit gap: queue not configured")
	}
	payload := AuditGapPayload{Event: event, Scope: event.Scope, ReportedAt: r.now()}
	if cause != nil {
		payload.Cause = cause.Error()
	}
	task, err := NewAuditGapTask(payload)
	if err != nil {
		return err
	}
	_, err = r.queue.EnqueueContext(ctx, task,
		asynq.Queue(QueueCritical),
		asynq.MaxRetry(10),
		asynq.TaskID("audit-gap:"+event.ID),
	)
	if errors.Is(err, asynq.ErrTaskIDConflict) {
		return nil
	}
	return err
}

// AuditGapJob persists events carried by audit gap tasks.
type AuditGapJob struct {
	Store   audit.Store
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
}

// NewAuditGapJob wires dependencies for the gap handler.
func NewAuditGapJob(store audit.Store, logger *slog.Logger, metrics *jobmetrics.Metrics) *AuditGapJob {
	return &AuditGapJob{Store: store, Logger: logger, Metrics: metrics}
}

// Handle processes audit gap tasks. Inserts are idempotent on the event id,
// so a retried task never duplicates a row.
func (j *AuditGapJob) Handle(ctx context.Context, t *asynq.Task) (resultErr error) {
	if j == nil || j.Store == nil {
		return errors.New("audit gap: handler not configured")
	}
	var payload AuditGapPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}
	if payload.Event.ID == "" || payload.Event.Type == "" {
		return asynq.SkipRetry
	}

	tracker := j.Metrics.Track(TaskAuditGap)
	defer func() {
		resultErr = tracker.End(resultErr)
	}()

	logger := j.logger().With(
		slog.String("event_id", payload.Event.ID),
		slog.String("event_type", string(payload.Event.Type)),
		slog.String("identity_id", payload.Event.IdentityID),
	)
	lag := time.Since(payload.ReportedAt)
	logger.Warn("audit gap detected", slog.String("cause", payload.Cause), slog.Duration("lag", lag))

	if err := j.Store.Insert(ctx, payload.Event); err != nil {
		logger.Error("audit gap persist", slog.Any("error", err))
		return err
	}
	j.Metrics.AuditGapRecovered(string(payload.Event.Type))
	logger.Info("audit gap recovered")
	return nil
}

func (j *AuditGapJob) logger() *slog.Logger {
	if j.Logger != nil {
		return j.Logger.With(slog.String("job", TaskAuditGap))
	}
	return slog.Default().With(slog.String("job", TaskAuditGap))
}
