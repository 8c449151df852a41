package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/odyssey-erp/sentinel/internal/jobs"
	"github.com/odyssey-erp/sentinel/internal/roles"
)

// EdgeLister reads the stored role hierarchy.
type EdgeLister interface {
	ListEdges(ctx context.Context) ([]roles.Edge, error)
}

// PolicyNotifier tells every API process to reload its cached policy.
type PolicyNotifier interface {
	Bump(ctx context.Context) (int64, error)
}

// PolicyWarmupJob validates the stored hierarchy and asks API processes to
// refresh their cached policy.
type PolicyWarmupJob struct {
	Edges   EdgeLister
	Policy  PolicyNotifier
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
	clock   func() time.Time
}

// NewPolicyWarmupJob wires dependencies for the warmup handler.
func NewPolicyWarmupJob(edges EdgeLister, policy PolicyNotifier, logger *slog.Logger, metrics *jobmetrics.Metrics) *PolicyWarmupJob {
	return &PolicyWarmupJob{
		Edges:   edges,
		Policy:  policy,
		Logger:  logger,
		Metrics: metrics,
		clock: func() time.Time {
			return time.Now().UTC()
		},
	}
}

// Handle processes policy warmup tasks.
func (j *PolicyWarmupJob) Handle(ctx context.Context, t *asynq.Task) (resultErr error) {
	if j == nil || j.Edges == nil || j.Policy == nil {
		return errors.New("policy warmup: handler not configured")
	}
	var payload PolicyWarmupPayload
	if len(t.Payload()) > 0 {
		if err := json.Unmarshal(t.Payload(), &payload); err != nil {
			return asynq.SkipRetry
		}
	}

	tracker := j.Metrics.Track(TaskPolicyWarmup)
	defer func() {
		resultErr = tracker.End(resultErr)
	}()

	logger := j.logger()
	start := j.now()

	edges, err := j.Edges.ListEdges(ctx)
	if err != nil {
		logger.Error("load hierarchy", slog.Any("error", err))
		return err
	}
	if err := roles.Validate(edges); err != nil {
		logger.Error("hierarchy invalid", slog.Int("edges", len(edges)), slog.Any("error", err))
		if payload.Strict {
			return errors.Join(asynq.SkipRetry, err)
		}
	}

	version, err := j.Policy.Bump(ctx)
	if err != nil {
		logger.Error("publish policy bump", slog.Any("error", err))
		return err
	}

	logger.Info("policy warmup published", slog.Int("edges", len(edges)), slog.Int64("version", version), slog.Duration("duration", j.now().Sub(start)))
	return nil
}

func (j *PolicyWarmupJob) logger() *slog.Logger {
	if j.Logger != nil {
		return j.Logger.With(slog.String("job", TaskPolicyWarmup))
	}
	return slog.Default().With(slog.String("job", TaskPolicyWarmup))
}

func (j *PolicyWarmupJob) now() time.Time {
	if j.clock != nil {
		return j.clock()
	}
	return time.Now().UTC()
}
