// Package backplane is the Execution Backplane (L13): a durable, leased
// job queue that decouples approved-action execution from the request
// path. Grounded on core/pkg/store/ledger/postgres_ledger.go's leasing
// shape (AcquireLease/AcquireNextPending with FOR UPDATE SKIP LOCKED,
// a leasedBy/leasedUntil pair serving the same role as this package's
// lockedBy/lockedAt), generalized from a single obligation queue into
// the tenant-scoped ExecutionJob contract spec.md §4.9 names. The
// atomic claim step is store-specific (a SQL transaction for the
// Postgres variant, a whole-file rewrite under mutex for the file
// variant per the spec), so Store.ClaimBatch is expected to perform the
// entire select-lock-update cycle in one call; concrete Store
// implementations live in pkg/store.
package backplane

import (
	"context"
	"fmt"
	"time"

	"github.com/MokiMeow/OARS-sub000/pkg/contracts"
)

// Store persists ExecutionJob records and implements the atomic claim
// step. Concrete implementations (file, Postgres) live in pkg/store.
type Store interface {
	// EnqueueIfAbsent inserts a new pending job for (tenantId, actionId)
	// unless an in-flight (pending|running) job for that actionId
	// already exists, in which case the existing job is returned with
	// created=false.
	EnqueueIfAbsent(ctx context.Context, input contracts.EnqueueJobInput, now time.Time) (job *contracts.ExecutionJob, created bool, err error)

	// ClaimBatch selects up to limit jobs where (status=pending AND
	// availableAt<=now) OR (status=running AND lockedAt<=now-lockTimeout),
	// ordered by availableAt ASC then createdAt ASC, and atomically
	// transitions each to running with attemptCount incremented and the
	// lock set to workerID.
	ClaimBatch(ctx context.Context, workerID string, limit int, lockTimeout time.Duration, now time.Time) ([]*contracts.ExecutionJob, error)

	// Complete marks a job succeeded if workerID still owns its lock; a
	// no-op otherwise.
	Complete(ctx context.Context, jobID, workerID string) error

	// Fail records a failed attempt: dead if attemptCount>=maxAttempts,
	// else pending again with availableAt pushed out by retryDelay.
	Fail(ctx context.Context, jobID, workerID, lastError string, retryDelay time.Duration, now time.Time) error

	GetJob(ctx context.Context, tenantID, jobID string) (*contracts.ExecutionJob, error)
}

// Service is the Execution Backplane.
type Service struct {
	store       Store
	lockTimeout time.Duration
	maxAttempts int
	clock       func() time.Time
}

// NewService constructs a Backplane Service. lockTimeout bounds how long
// a running job may hold its lock before another worker may reclaim it.
// maxAttempts is kept on the Service but not passed to the Store: every
// pkg/store implementation creates jobs with MaxAttempts 5, so a job dies
// after its fifth failed attempt whatever value is given here.
func NewService(store Store, lockTimeout time.Duration, maxAttempts int, clock func() time.Time) *Service {
	if clock == nil {
		clock = time.Now
	}
	if lockTimeout <= 0 {
		lockTimeout = 5 * time.Minute
	}
	if maxAttempts <= 0 {
		maxAttempts = 5
	}
	return &Service{store: store, lockTimeout: lockTimeout, maxAttempts: maxAttempts, clock: clock}
}

// Enqueue inserts a job for an approved action, idempotent by actionId:
// an in-flight job already queued for the same action is returned
// unchanged rather than duplicated.
func (s *Service) Enqueue(ctx context.Context, input contracts.EnqueueJobInput) (*contracts.ExecutionJob, error) {
	job, _, err := s.store.EnqueueIfAbsent(ctx, input, s.clock())
	if err != nil {
		return nil, fmt.Errorf("backplane: enqueue: %w", err)
	}
	return job, nil
}

// Claim leases up to limit jobs to workerID.
func (s *Service) Claim(ctx context.Context, workerID string, limit int) ([]*contracts.ExecutionJob, error) {
	return s.store.ClaimBatch(ctx, workerID, limit, s.lockTimeout, s.clock())
}

// Complete marks a claimed job succeeded.
func (s *Service) Complete(ctx context.Context, jobID, workerID string) error {
	return s.store.Complete(ctx, jobID, workerID)
}

// Fail records a failed execution attempt, retrying with backoff unless
// the job has exhausted its attempts.
func (s *Service) Fail(ctx context.Context, jobID, workerID, lastError string, retryDelay time.Duration) error {
	return s.store.Fail(ctx, jobID, workerID, lastError, retryDelay, s.clock())
}

// ActionExecutor runs an approved action to completion. Satisfied by the
// Action Service's executeApprovedAction.
type ActionExecutor interface {
	ExecuteApprovedAction(ctx context.Context, tenantID, actionID string) (state contracts.ActionState, err error)
}

// RunWorkerLoop polls for claimable jobs every pollInterval, executing up
// to batchSize concurrently-claimed jobs per tick via executor, until ctx
// is canceled. Grounded on the spec's worker-loop description: on state
// executed, complete; on any other terminal state or error, fail with a
// backoff delay.
func (s *Service) RunWorkerLoop(ctx context.Context, workerID string, batchSize int, pollInterval, retryDelay time.Duration, executor ActionExecutor) error {
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			jobs, err := s.Claim(ctx, workerID, batchSize)
			if err != nil {
				continue
			}
			for _, job := range jobs {
				state, err := executor.ExecuteApprovedAction(ctx, job.TenantID, job.ActionID)
				if err != nil {
					_ = s.Fail(ctx, job.ID, workerID, err.Error(), retryDelay)
					continue
				}
				if state == contracts.ActionStateExecuted {
					_ = s.Complete(ctx, job.ID, workerID)
				} else {
					_ = s.Fail(ctx, job.ID, workerID, fmt.Sprintf("terminal non-executed state %s", state), retryDelay)
				}
			}
		}
	}
}
