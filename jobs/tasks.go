package jobs

import (
	"encoding/json"
	"time"

	"github.com/hibiken/asynq"

	"github.com/odyssey-erp/sentinel/internal/audit"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// QueueCritical carries audit recovery work ahead of maintenance tasks.
	QueueCritical = "critical"
	// TaskAuditGap re-attempts persistence of an audit event whose synchronous write failed.
	TaskAuditGap = "security:audit_gap"
	// TaskPolicyWarmup checks the stored policy and tells API processes to reload it.
	TaskPolicyWarmup = "security:policy_warmup"
)

// AuditGapPayload carries the event that could not be written and why.
type AuditGapPayload struct {
	Event      audit.Event `json:"event"`
	Scope      string      `json:"scope,omitempty"`
	Cause      string      `json:"cause"`
	ReportedAt time.Time   `json:"reported_at"`
}

// NewAuditGapTask constructs an audit gap task.
func NewAuditGapTask(payload AuditGapPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskAuditGap, data), nil
}

// PolicyWarmupPayload controls the warmup run.
type PolicyWarmupPayload struct {
	Strict bool `json:"strict"`
}

// NewPolicyWarmupTask constructs a policy warmup task.
func NewPolicyWarmupTask(strict bool) (*asynq.Task, error) {
	data, err := json.Marshal(PolicyWarmupPayload{Strict: strict})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskPolicyWarmup, data), nil
}
