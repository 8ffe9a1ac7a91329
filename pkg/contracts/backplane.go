package contracts

import "time"

// JobStatus is the lifecycle state of an ExecutionJob.
type JobStatus string

const (
	JobStatusPending   JobStatus = "pending"
	JobStatusRunning   JobStatus = "running"
	JobStatusSucceeded JobStatus = "succeeded"
	JobStatusFailed    JobStatus = "failed"
	JobStatusDead      JobStatus = "dead"
)

// ExecutionJob is one durable unit of work in the leased job queue.
type ExecutionJob struct {
	ID           string     `json:"id"`
	TenantID     string     `json:"tenantId"`
	ActionID     string     `json:"actionId"`
	RequestID    string     `json:"requestId"`
	Status       JobStatus  `json:"status"`
	AttemptCount int        `json:"attemptCount"`
	MaxAttempts  int        `json:"maxAttempts"`
	AvailableAt  time.Time  `json:"availableAt"`
	LockedAt     *time.Time `json:"lockedAt,omitempty"`
	LockedBy     string     `json:"lockedBy,omitempty"`
	LastError    string     `json:"lastError,omitempty"`
	CreatedAt    time.Time  `json:"createdAt"`
	UpdatedAt    time.Time  `json:"updatedAt"`
}

// EnqueueJobInput is the input to Backplane.Enqueue.
type EnqueueJobInput struct {
	TenantID  string
	ActionID  string
	RequestID string
}
