package store

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	"github.com/MokiMeow/OARS-sub000/pkg/contracts"
	"github.com/MokiMeow/OARS-sub000/pkg/errs"
	"github.com/google/uuid"

	_ "modernc.org/sqlite"
)

// SQLiteBackplaneStore is the embeddable Execution Backplane variant;
// cmd/oars does not select it, and sqlite_test.go exercises it against an
// in-memory database. SQLite has no FOR UPDATE SKIP
// LOCKED, so ClaimBatch's select-lock-update cycle is instead serialized
// by claimMu, the same single-writer-at-a-time guarantee the file variant
// gets from jsonFile's mutex, applied here around a SQL transaction
// instead of a whole-document rewrite.
type SQLiteBackplaneStore struct {
	db      *sql.DB
	claimMu sync.Mutex
}

func NewSQLiteBackplaneStore(db *sql.DB) (*SQLiteBackplaneStore, error) {
	s := &SQLiteBackplaneStore{db: db}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("store: migrate sqlite backplane: %w", err)
	}
	return s, nil
}

func (s *SQLiteBackplaneStore) migrate() error {
	const schema = `
CREATE TABLE IF NOT EXISTS execution_jobs (
	id TEXT PRIMARY KEY,
	tenant_id TEXT NOT NULL,
	action_id TEXT NOT NULL,
	request_id TEXT NOT NULL,
	status TEXT NOT NULL,
	attempt_count INTEGER NOT NULL DEFAULT 0,
	max_attempts INTEGER NOT NULL,
	available_at TEXT NOT NULL,
	locked_at TEXT,
	locked_by TEXT NOT NULL DEFAULT '',
	last_error TEXT NOT NULL DEFAULT '',
	created_at TEXT NOT NULL,
	updated_at TEXT NOT NULL
);`
	_, err := s.db.Exec(schema)
	return err
}

func (s *SQLiteBackplaneStore) EnqueueIfAbsent(ctx context.Context, input contracts.EnqueueJobInput, now time.Time) (*contracts.ExecutionJob, bool, error) {
	s.claimMu.Lock()
	defer s.claimMu.Unlock()

	const findInFlight = `
SELECT id, tenant_id, action_id, request_id, status, attempt_count, max_attempts, available_at, locked_at, locked_by, last_error, created_at, updated_at
FROM execution_jobs WHERE action_id = ? AND status IN ('pending', 'running') LIMIT 1`
	job, err := scanJobRowSQLite(s.db.QueryRowContext(ctx, findInFlight, input.ActionID))
	if err == nil {
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
VALUES (?, ?, ?, ?, ?, 0, ?, ?, '', '', ?, ?)`
	_, err = s.db.ExecContext(ctx, insert, newJob.ID, newJob.TenantID, newJob.ActionID, newJob.RequestID,
		string(newJob.Status), newJob.MaxAttempts, formatJobTime(newJob.AvailableAt), formatJobTime(newJob.CreatedAt), formatJobTime(newJob.UpdatedAt))
	if err != nil {
		return nil, false, fmt.Errorf("store: insert job: %w", err)
	}
	return newJob, true, nil
}

func (s *SQLiteBackplaneStore) ClaimBatch(ctx context.Context, workerID string, limit int, lockTimeout time.Duration, now time.Time) ([]*contracts.ExecutionJob, error) {
	s.claimMu.Lock()
	defer s.claimMu.Unlock()

	staleBefore := now.Add(-lockTimeout)
	const selectCandidates = `
SELECT id FROM execution_jobs
WHERE (status = 'pending' AND available_at <= ?)
   OR (status = 'running' AND locked_at IS NOT NULL AND locked_at <= ?)
ORDER BY available_at ASC, created_at ASC
LIMIT ?`
	rows, err := s.db.QueryContext(ctx, selectCandidates, formatJobTime(now), formatJobTime(staleBefore), limit)
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
SET status = 'running', attempt_count = attempt_count + 1, locked_at = ?, locked_by = ?, updated_at = ?
WHERE id = ?`
	const fetch = `
SELECT id, tenant_id, action_id, request_id, status, attempt_count, max_attempts, available_at, locked_at, locked_by, last_error, created_at, updated_at
FROM execution_jobs WHERE id = ?`
	for _, id := range ids {
		if _, err := s.db.ExecContext(ctx, claim, formatJobTime(now), workerID, formatJobTime(now), id); err != nil {
			return nil, fmt.Errorf("store: claim job %s: %w", id, err)
		}
		job, err := scanJobRowSQLite(s.db.QueryRowContext(ctx, fetch, id))
		if err != nil {
			return nil, fmt.Errorf("store: reload claimed job %s: %w", id, err)
		}
		out = append(out, job)
	}
	return out, nil
}

func (s *SQLiteBackplaneStore) Complete(ctx context.Context, jobID, workerID string) error {
	const query = `UPDATE execution_jobs SET status = 'succeeded', locked_at = NULL, locked_by = '' WHERE id = ? AND locked_by = ?`
	_, err := s.db.ExecContext(ctx, query, jobID, workerID)
	if err != nil {
		return fmt.Errorf("store: complete job: %w", err)
	}
	return nil
}

func (s *SQLiteBackplaneStore) Fail(ctx context.Context, jobID, workerID, lastError string, retryDelay time.Duration, now time.Time) error {
	s.claimMu.Lock()
	defer s.claimMu.Unlock()

	const selectForUpdate = `SELECT attempt_count, max_attempts FROM execution_jobs WHERE id = ? AND locked_by = ?`
	var attemptCount, maxAttempts int
	err := s.db.QueryRowContext(ctx, selectForUpdate, jobID, workerID).Scan(&attemptCount, &maxAttempts)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil
		}
		return fmt.Errorf("store: select job for fail: %w", err)
	}

	if attemptCount >= maxAttempts {
		const markDead = `UPDATE execution_jobs SET status = 'dead', last_error = ?, locked_at = NULL, locked_by = '' WHERE id = ?`
		if _, err := s.db.ExecContext(ctx, markDead, lastError, jobID); err != nil {
			return fmt.Errorf("store: mark job dead: %w", err)
		}
		return nil
	}
	const reschedule = `UPDATE execution_jobs SET status = 'pending', last_error = ?, available_at = ?, locked_at = NULL, locked_by = '' WHERE id = ?`
	if _, err := s.db.ExecContext(ctx, reschedule, lastError, formatJobTime(now.Add(retryDelay)), jobID); err != nil {
		return fmt.Errorf("store: reschedule job: %w", err)
	}
	return nil
}

func (s *SQLiteBackplaneStore) GetJob(ctx context.Context, tenantID, jobID string) (*contracts.ExecutionJob, error) {
	const query = `
SELECT id, tenant_id, action_id, request_id, status, attempt_count, max_attempts, available_at, locked_at, locked_by, last_error, created_at, updated_at
FROM execution_jobs WHERE tenant_id = ? AND id = ?`
	return scanJobRowSQLite(s.db.QueryRowContext(ctx, query, tenantID, jobID))
}

func formatJobTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func scanJobRowSQLite(row *sql.Row) (*contracts.ExecutionJob, error) {
	var (
		j           contracts.ExecutionJob
		status      string
		availableAt string
		lockedAt    sql.NullString
		lockedBy    string
		createdAt   string
		updatedAt   string
	)
	err := row.Scan(&j.ID, &j.TenantID, &j.ActionID, &j.RequestID, &status, &j.AttemptCount, &j.MaxAttempts,
		&availableAt, &lockedAt, &lockedBy, &j.LastError, &createdAt, &updatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, errs.ErrNotFound
		}
		return nil, fmt.Errorf("store: scan job: %w", err)
	}
	j.Status = contracts.JobStatus(status)
	j.LockedBy = lockedBy
	if t, perr := parseReceiptTime(availableAt); perr == nil {
		j.AvailableAt = t
	}
	if t, perr := parseReceiptTime(createdAt); perr == nil {
		j.CreatedAt = t
	}
	if t, perr := parseReceiptTime(updatedAt); perr == nil {
		j.UpdatedAt = t
	}
	if lockedAt.Valid {
		if t, perr := parseReceiptTime(lockedAt.String); perr == nil {
			j.LockedAt = &t
		}
	}
	return &j, nil
}
