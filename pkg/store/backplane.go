package store

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/MokiMeow/OARS-sub000/pkg/contracts"
	"github.com/MokiMeow/OARS-sub000/pkg/errs"
	"github.com/google/uuid"
)

type backplaneDoc struct {
	Jobs map[string]*contracts.ExecutionJob `json:"jobs"` // jobId -> job
}

// FileBackplaneStore implements pkg/backplane.Store: a whole-file
// rewrite under mutex, the file-variant atomic claim strategy spec.md
// §4.9 calls for alongside a SQL `FOR UPDATE SKIP LOCKED` transaction for
// multi-instance deployments.
type FileBackplaneStore struct {
	file *jsonFile[backplaneDoc]
}

func NewFileBackplaneStore(path string) (*FileBackplaneStore, error) {
	f, err := openJSONFile(path, backplaneDoc{Jobs: make(map[string]*contracts.ExecutionJob)})
	if err != nil {
		return nil, fmt.Errorf("store: open backplane file: %w", err)
	}
	return &FileBackplaneStore{file: f}, nil
}

func (s *FileBackplaneStore) EnqueueIfAbsent(_ context.Context, input contracts.EnqueueJobInput, now time.Time) (*contracts.ExecutionJob, bool, error) {
	var job *contracts.ExecutionJob
	var created bool
	err := s.file.withLock(true, func(d *backplaneDoc) {
		for _, j := range d.Jobs {
			if j.ActionID == input.ActionID && (j.Status == contracts.JobStatusPending || j.Status == contracts.JobStatusRunning) {
				cp := *j
				job = &cp
				return
			}
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
		d.Jobs[newJob.ID] = newJob
		cp := *newJob
		job = &cp
		created = true
	})
	if err != nil {
		return nil, false, err
	}
	return job, created, nil
}

func (s *FileBackplaneStore) ClaimBatch(_ context.Context, workerID string, limit int, lockTimeout time.Duration, now time.Time) ([]*contracts.ExecutionJob, error) {
	var out []*contracts.ExecutionJob
	err := s.file.withLock(true, func(d *backplaneDoc) {
		var candidates []*contracts.ExecutionJob
		for _, j := range d.Jobs {
			isPendingReady := j.Status == contracts.JobStatusPending && !j.AvailableAt.After(now)
			isStaleRunning := j.Status == contracts.JobStatusRunning && j.LockedAt != nil && !j.LockedAt.After(now.Add(-lockTimeout))
			if isPendingReady || isStaleRunning {
				candidates = append(candidates, j)
			}
		}
		sort.Slice(candidates, func(i, k int) bool {
			if !candidates[i].AvailableAt.Equal(candidates[k].AvailableAt) {
				return candidates[i].AvailableAt.Before(candidates[k].AvailableAt)
			}
			return candidates[i].CreatedAt.Before(candidates[k].CreatedAt)
		})
		if len(candidates) > limit {
			candidates = candidates[:limit]
		}
		for _, j := range candidates {
			j.Status = contracts.JobStatusRunning
			j.AttemptCount++
			lockedAt := now
			j.LockedAt = &lockedAt
			j.LockedBy = workerID
			j.UpdatedAt = now
			cp := *j
			out = append(out, &cp)
		}
	})
	return out, err
}

func (s *FileBackplaneStore) Complete(_ context.Context, jobID, workerID string) error {
	return s.file.withLock(true, func(d *backplaneDoc) {
		j, ok := d.Jobs[jobID]
		if !ok || j.LockedBy != workerID {
			return
		}
		j.Status = contracts.JobStatusSucceeded
		j.LockedAt = nil
		j.LockedBy = ""
	})
}

func (s *FileBackplaneStore) Fail(_ context.Context, jobID, workerID, lastError string, retryDelay time.Duration, now time.Time) error {
	return s.file.withLock(true, func(d *backplaneDoc) {
		j, ok := d.Jobs[jobID]
		if !ok || j.LockedBy != workerID {
			return
		}
		j.LastError = lastError
		j.LockedAt = nil
		j.LockedBy = ""
		if j.AttemptCount >= j.MaxAttempts {
			j.Status = contracts.JobStatusDead
		} else {
			j.Status = contracts.JobStatusPending
			j.AvailableAt = now.Add(retryDelay)
		}
	})
}

func (s *FileBackplaneStore) GetJob(_ context.Context, tenantID, jobID string) (*contracts.ExecutionJob, error) {
	var out *contracts.ExecutionJob
	_ = s.file.withLock(false, func(d *backplaneDoc) {
		if j, ok := d.Jobs[jobID]; ok && j.TenantID == tenantID {
			cp := *j
			out = &cp
		}
	})
	if out == nil {
		return nil, errs.ErrNotFound
	}
	return out, nil
}
