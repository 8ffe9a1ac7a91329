package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/MokiMeow/OARS-sub000/pkg/contracts"
	"github.com/MokiMeow/OARS-sub000/pkg/errs"
	"github.com/google/uuid"

	_ "github.com/lib/pq"
)

// PostgresBackplaneStore is the multi-instance Execution Backplane store:
// the SQL half of the split spec.md §4.9 calls for, where ClaimBatch's
// select-lock-update cycle runs as one FOR UPDATE SKIP LOCKED transaction
// instead of the file variant's whole-document mutex. Grounded on
// core/pkg/store/ledger/postgres_ledger.go's AcquireNextPending (select
// the oldest pending row with SKIP LOCKED, then lease it inside the same
// transaction), generalized from a single leased row to a batch claim.
type PostgresBackplaneStore struct {
	db *sql.DB
}

func NewPostgresBackplaneStore(db *sql.DB) (*PostgresBackplaneStore, error) {
	s := &PostgresBackplaneStore{db: db}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("store: migrate postgres backplane: %w", err)
	}
	return s, nil
}

func (s *PostgresBackplaneStore) migrate() error {
	const schema = `
CREATE TABLE IF NOT EXISTS execution_jobs (
	id TEXT PRIMARY KEY,
	tenant_id TEXT NOT NULL,
	action_id TEXT NOT NULL,
	request_id TEXT NOT NULL,
	status TEXT NOT NULL,
	attempt_count INTEGER NOT NULL DEFAULT 0,
	max_attempts INTEGER NOT NULL,
	available_at TIMESTAMPTZ NOT NULL,
	locked_at TIMESTAMPTZ,
	locked_by TEXT NOT NULL DEFAULT '',
	last_error TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_execution_jobs_action_inflight ON execution_jobs (action_id, status);
CREATE INDEX IF NOT EXISTS idx_execution_jobs_claimable ON execution_jobs (status, available_at);
`
	_, err := s.db.Exec(schema)
	return err
}

func (s *PostgresBackplaneStore) EnqueueIfAbsent(ctx context.Context, input contracts.EnqueueJobInput, now time.Time) (*contracts.ExecutionJob, bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, false, fmt.Errorf("store: begin enqueue tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	const findInFlight = `
SELECT id, tenant_id, action_id, request_id, status, attempt_count, max_attempts, available_at, locked_at, locked_by, last_error, created_at, updated_at
FROM execution_jobs
WHERE action_id = $1 AND status IN ('pending', 'running')
LIMIT 1 FOR UPDATE`
	job, err := scanJobRowSQL(tx.QueryRowContext(ctx, findInFlight, input.ActionID))
	if err == nil {
		if err := tx.Commit(); err != nil {
			return nil, false, err
		}
		return job, false, nil
	}
	if err != errs.ErrNotFound {
		return nil, false, fmt.Errorf("store: find in-flight job: %w", err)
	}

	newJob := &contracts.ExecutionJob{
		ID:          "job_" + uuid.NewString(),
		TenantID:    input.TenantID,
		ActionID:    input.ActionID,
		RequestID:   input.RequestID,
		Status:      contracts.JobStatusPending,
		MaxAttempts: 5,
		AvailableAt: now,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	const insert = `
INSERT INTO execution_jobs (id, tenant_id, action_id, request_id, status, attempt_count, max_attempts, available_at, locked_by, last_error, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, 0, $6, $7, '', '', $8, $9)`
	_, err = tx.ExecContext(ctx, insert, newJob.ID, newJob.TenantID, newJob.ActionID, newJob.RequestID,
		string(newJob.Status), newJob.MaxAttempts, newJob.AvailableAt, newJob.CreatedAt, newJob.UpdatedAt)
	if err != nil {
		return nil, false, fmt.Errorf("store: insert job: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, false, fmt.Errorf("store: commit enqueue tx: %w", err)
	}
	return newJob, true, nil
}

func (s *PostgresBackplaneStore) ClaimBatch(ctx context.Context, workerID string, limit int, lockTimeout time.Duration, now time.Time) ([]*contracts.ExecutionJob, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("store: begin claim tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	staleBefore := now.Add(-lockTimeout)
	const selectCandidates = `
SELECT id FROM execution_jobs
WHERE (status = 'pending' AND available_at <= $1)
   OR (status = 'running' AND locked_at IS NOT NULL AND locked_at <= $2)
ORDER BY available_at ASC, created_at ASC
LIMIT $3
FOR UPDATE SKIP LOCKED`
	rows, err := tx.QueryContext(ctx, selectCandidates, now, staleBefore, limit)
	if err != nil {
		return nil, fmt.Errorf("store: select claimable jobs: %w", err)
	}
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			_ = rows.Close()
			return nil, fmt.Errorf("store: scan claimable job id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return nil, err
	}
	_ = rows.Close()

	out := make([]*contracts.ExecutionJob, 0, len(ids))
	const claim = `
UPDATE execution_jobs
SET status = 'running', attempt_count = attempt_count + 1, locked_at = $1, locked_by = $2, updated_at = $1
WHERE id = $3
RETURNING id, tenant_id, action_id, request_id, status, attempt_count, max_attempts, available_at, locked_at, locked_by, last_error, created_at, updated_at`
	for _, id := range ids {
		job, err := scanJobRowSQL(tx.QueryRowContext(ctx, claim, now, workerID, id))
		if err != nil {
			return nil, fmt.Errorf("store: claim job %s: %w", id, err)
		}
		out = append(out, job)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("store: commit claim tx: %w", err)
	}
	return out, nil
}

func (s *PostgresBackplaneStore) Complete(ctx context.Context, jobID, workerID string) error {
	const query = `UPDATE execution_jobs SET status = 'succeeded', locked_at = NULL, locked_by = '' WHERE id = $1 AND locked_by = $2`
	_, err := s.db.ExecContext(ctx, query, jobID, workerID)
	if err != nil {
		return fmt.Errorf("store: complete job: %w", err)
	}
	return nil
}

func (s *PostgresBackplaneStore) Fail(ctx context.Context, jobID, workerID, lastError string, retryDelay time.Duration, now time.Time) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("store: begin fail tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	const selectForUpdate = `SELECT attempt_count, max_attempts FROM execution_jobs WHERE id = $1 AND locked_by = $2 FOR UPDATE`
	var attemptCount, maxAttempts int
	if err := tx.QueryRowContext(ctx, selectForUpdate, jobID, workerID).Scan(&attemptCount, &maxAttempts); err != nil {
		if err == sql.ErrNoRows {
			return tx.Commit()
		}
		return fmt.Errorf("store: select job for fail: %w", err)
	}

	if attemptCount >= maxAttempts {
		const markDead = `UPDATE execution_jobs SET status = 'dead', last_error = $1, locked_at = NULL, locked_by = '' WHERE id = $2`
		if _, err := tx.ExecContext(ctx, markDead, lastError, jobID); err != nil {
			return fmt.Errorf("store: mark job dead: %w", err)
		}
	} else {
		const reschedule = `UPDATE execution_jobs SET status = 'pending', last_error = $1, available_at = $2, locked_at = NULL, locked_by = '' WHERE id = $3`
		if _, err := tx.ExecContext(ctx, reschedule, lastError, now.Add(retryDelay), jobID); err != nil {
			return fmt.Errorf("store: reschedule job: %w", err)
		}
	}
	return tx.Commit()
}

func (s *PostgresBackplaneStore) GetJob(ctx context.Context, tenantID, jobID string) (*contracts.ExecutionJob, error) {
	const query = `
SELECT id, tenant_id, action_id, request_id, status, attempt_count, max_attempts, available_at, locked_at, locked_by, last_error, created_at, updated_at
FROM execution_jobs WHERE tenant_id = $1 AND id = $2`
	return scanJobRowSQL(s.db.QueryRowContext(ctx, query, tenantID, jobID))
}

func scanJobRowSQL(row *sql.Row) (*contracts.ExecutionJob, error) {
	var (
		j        contracts.ExecutionJob
		status   string
		lockedAt sql.NullTime
		lockedBy string
	)
	err := row.Scan(&j.ID, &j.TenantID, &j.ActionID, &j.RequestID, &status, &j.AttemptCount, &j.MaxAttempts,
		&j.AvailableAt, &lockedAt, &lockedBy, &j.LastError, &j.CreatedAt, &j.UpdatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, errs.ErrNotFound
		}
		return nil, fmt.Errorf("store: scan job: %w", err)
	}
	j.Status = contracts.JobStatus(status)
	j.LockedBy = lockedBy
	if lockedAt.Valid {
		t := lockedAt.Time
		j.LockedAt = &t
	}
	return &j, nil
}
