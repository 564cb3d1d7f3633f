package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/jmoiron/sqlx/types"

	"github.com/netwatch-nms/netwatch/pkg/model"
	"github.com/netwatch-nms/netwatch/pkg/util"
)

// JobStore persists discovery jobs. Status transitions are written with
// compare-and-set predicates so a cancellation and a late worker
// completion can never both win.
type JobStore struct {
	db *sqlx.DB
}

// Create inserts a pending job and returns the stored row.
func (s *JobStore) Create(ctx context.Context, job *model.DiscoveryJob) (*model.DiscoveryJob, error) {
	const q = `
		INSERT INTO discovery_jobs (name, status, target_range, credential_profile_id, created_by)
		VALUES ($1, 'pending', $2, $3, $4)
		RETURNING id, name, status, target_range, credential_profile_id,
		          results, started_at, completed_at, created_by, created_at`

	var out model.DiscoveryJob
	err := s.db.GetContext(ctx, &out, q,
		job.Name, job.TargetRange, job.CredentialProfileID, job.CreatedBy)
	if err != nil {
		return nil, fmt.Errorf("inserting discovery job: %w", err)
	}
	return &out, nil
}

// SetRunning moves a pending job to running and stamps started_at.
// Returns false when the job was no longer pending (e.g. cancelled
// while queued).
func (s *JobStore) SetRunning(ctx context.Context, id uuid.UUID) (bool, error) {
	const q = `
		UPDATE discovery_jobs
		SET status = 'running', started_at = $2
		WHERE id = $1 AND status = 'pending'`

	res, err := s.db.ExecContext(ctx, q, id, time.Now().UTC())
	if err != nil {
		return false, fmt.Errorf("marking job running: %w", err)
	}
	n, _ := res.RowsAffected()
	return n == 1, nil
}

// SetCompleted writes the summary and moves a running job to completed.
// The status predicate means a cancelled job is never resurrected by a
// worker that finished after the cancel. Returns false when the
// transition did not apply.
func (s *JobStore) SetCompleted(ctx context.Context, id uuid.UUID, results types.JSONText) (bool, error) {
	const q = `
		UPDATE discovery_jobs
		SET status = 'completed', results = $2, completed_at = $3
		WHERE id = $1 AND status = 'running'`

	res, err := s.db.ExecContext(ctx, q, id, results, time.Now().UTC())
	if err != nil {
		return false, fmt.Errorf("marking job completed: %w", err)
	}
	n, _ := res.RowsAffected()
	return n == 1, nil
}

// SetFailed writes the failure summary and moves a non-terminal job to
// failed. Returns false when the job already reached a terminal state.
func (s *JobStore) SetFailed(ctx context.Context, id uuid.UUID, results types.JSONText) (bool, error) {
	const q = `
		UPDATE discovery_jobs
		SET status = 'failed', results = $2, completed_at = $3
		WHERE id = $1 AND status IN ('pending', 'running')`

	res, err := s.db.ExecContext(ctx, q, id, results, time.Now().UTC())
	if err != nil {
		return false, fmt.Errorf("marking job failed: %w", err)
	}
	n, _ := res.RowsAffected()
	return n == 1, nil
}

// Cancel merges the cancellation marker into the results document and
// moves a non-terminal job to failed. The owner predicate keeps one
// user from cancelling another's job.
func (s *JobStore) Cancel(ctx context.Context, id, owner uuid.UUID, marker types.JSONText) error {
	const q = `
		UPDATE discovery_jobs
		SET status = 'failed',
		    results = COALESCE(results, '{}'::jsonb) || $3::jsonb,
		    completed_at = $4
		WHERE id = $1 AND created_by = $2 AND status IN ('pending', 'running')`

	res, err := s.db.ExecContext(ctx, q, id, owner, marker, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("cancelling job: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 1 {
		return nil
	}

	// A terminal job has nothing left to cancel; the second cancel of
	// the same job reads the same as a missing one.
	if _, err := s.GetForOwner(ctx, id, owner); err != nil {
		return err
	}
	return util.NotFoundf("discovery job %s", id)
}

// GetForOwner fetches one job, scoped to its creator.
func (s *JobStore) GetForOwner(ctx context.Context, id, owner uuid.UUID) (*model.DiscoveryJob, error) {
	const q = `
		SELECT id, name, status, target_range, credential_profile_id,
		       results, started_at, completed_at, created_by, created_at
		FROM discovery_jobs
		WHERE id = $1 AND created_by = $2`

	var job model.DiscoveryJob
	err := s.db.GetContext(ctx, &job, q, id, owner)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, util.NotFoundf("discovery job %s", id)
	}
	if err != nil {
		return nil, fmt.Errorf("fetching discovery job: %w", err)
	}
	return &job, nil
}

// Get fetches one job without an ownership predicate; workers use it
// after receiving a job id over the transport.
func (s *JobStore) Get(ctx context.Context, id uuid.UUID) (*model.DiscoveryJob, error) {
	const q = `
		SELECT id, name, status, target_range, credential_profile_id,
		       results, started_at, completed_at, created_by, created_at
		FROM discovery_jobs
		WHERE id = $1`

	var job model.DiscoveryJob
	err := s.db.GetContext(ctx, &job, q, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, util.NotFoundf("discovery job %s", id)
	}
	if err != nil {
		return nil, fmt.Errorf("fetching discovery job: %w", err)
	}
	return &job, nil
}

// ListForOwner returns the owner's jobs, newest first.
func (s *JobStore) ListForOwner(ctx context.Context, owner uuid.UUID) ([]model.DiscoveryJob, error) {
	const q = `
		SELECT id, name, status, target_range, credential_profile_id,
		       results, started_at, completed_at, created_by, created_at
		FROM discovery_jobs
		WHERE created_by = $1
		ORDER BY created_at DESC`

	jobs := []model.DiscoveryJob{}
	if err := s.db.SelectContext(ctx, &jobs, q, owner); err != nil {
		return nil, fmt.Errorf("listing discovery jobs: %w", err)
	}
	return jobs, nil
}
