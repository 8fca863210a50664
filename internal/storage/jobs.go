package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// EnqueueEmbeddingJob creates a pending embedding job for (memoryID,
// provider). If a pending or processing job already exists for the pair,
// the existing job is returned unchanged; a unique partial index makes the
// check race-free under concurrent enqueues.
func (s *Store) EnqueueEmbeddingJob(ctx context.Context, memoryID, provider string, maxAttempts int, retryWindow time.Duration) (*EmbeddingJob, error) {
	if maxAttempts <= 0 {
		maxAttempts = 3
	}
	now := time.Now().UTC()
	job := &EmbeddingJob{
		ID:          uuid.NewString(),
		MemoryID:    memoryID,
		Provider:    provider,
		Status:      JobPending,
		MaxAttempts: maxAttempts,
		RunAfter:    now,
		RetryUntil:  now.Add(retryWindow),
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("beginning enqueue transaction: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
		INSERT INTO embedding_jobs (id, memory_id, provider, status, attempts,
			max_attempts, error_message, run_after, retry_until, created_at, updated_at)
		VALUES (?, ?, ?, 'pending', 0, ?, '', ?, ?, ?, ?)
		ON CONFLICT DO NOTHING`,
		job.ID, memoryID, provider, maxAttempts,
		job.RunAfter.Format(time.RFC3339), job.RetryUntil.Format(time.RFC3339),
		job.CreatedAt.Format(time.RFC3339), job.UpdatedAt.Format(time.RFC3339))
	if err != nil {
		return nil, fmt.Errorf("enqueuing embedding job: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("enqueuing embedding job: %w", err)
	}
	if n == 0 {
		// Lost to an existing active job; return it.
		row := tx.QueryRowContext(ctx, jobSelect+`
			WHERE memory_id = ? AND provider = ? AND status IN ('pending', 'processing')`,
			memoryID, provider)
		existing, err := scanJob(row)
		if err != nil {
			return nil, err
		}
		if err := tx.Commit(); err != nil {
			return nil, fmt.Errorf("committing enqueue: %w", err)
		}
		return existing, nil
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing enqueue: %w", err)
	}
	return job, nil
}

// ClaimNextEmbeddingJob atomically moves the oldest runnable pending job to
// processing and increments its attempt counter. Returns ErrNotFound when
// nothing is runnable.
func (s *Store) ClaimNextEmbeddingJob(ctx context.Context) (*EmbeddingJob, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("beginning claim transaction: %w", err)
	}
	defer tx.Rollback()

	now := time.Now().UTC().Format(time.RFC3339)
	row := tx.QueryRowContext(ctx, jobSelect+`
		WHERE status = 'pending' AND run_after <= ? AND attempts < max_attempts
		ORDER BY run_after ASC, created_at ASC
		LIMIT 1`, now)
	job, err := scanJob(row)
	if err != nil {
		return nil, err
	}

	job.Status = JobProcessing
	job.Attempts++
	job.UpdatedAt = time.Now().UTC()
	if _, err := tx.ExecContext(ctx, `
		UPDATE embedding_jobs
		SET status = 'processing', attempts = attempts + 1, updated_at = ?
		WHERE id = ?`,
		job.UpdatedAt.Format(time.RFC3339), job.ID); err != nil {
		return nil, fmt.Errorf("claiming job %s: %w", job.ID, err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing claim: %w", err)
	}
	return job, nil
}

// CompleteEmbeddingJob marks a processing job as completed.
func (s *Store) CompleteEmbeddingJob(ctx context.Context, id string) error {
	return s.finishJob(ctx, id, JobCompleted, "")
}

// FailEmbeddingJob marks a job as terminally failed with an error message.
func (s *Store) FailEmbeddingJob(ctx context.Context, id, errMsg string) error {
	return s.finishJob(ctx, id, JobFailed, errMsg)
}

func (s *Store) finishJob(ctx context.Context, id, status, errMsg string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE embedding_jobs
		SET status = ?, error_message = ?, updated_at = ?
		WHERE id = ?`,
		status, errMsg, time.Now().UTC().Format(time.RFC3339), id)
	if err != nil {
		return fmt.Errorf("updating job %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("updating job %s: %w", id, err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// RescheduleEmbeddingJob returns a job to pending with a new run_after
// time, preserving the attempt count so the next claim counts against
// max_attempts.
func (s *Store) RescheduleEmbeddingJob(ctx context.Context, id, errMsg string, runAfter time.Time) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE embedding_jobs
		SET status = 'pending', error_message = ?, run_after = ?, updated_at = ?
		WHERE id = ?`,
		errMsg, runAfter.UTC().Format(time.RFC3339),
		time.Now().UTC().Format(time.RFC3339), id)
	if err != nil {
		return fmt.Errorf("rescheduling job %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rescheduling job %s: %w", id, err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// GetEmbeddingJob returns a job by id.
func (s *Store) GetEmbeddingJob(ctx context.Context, id string) (*EmbeddingJob, error) {
	row := s.db.QueryRowContext(ctx, jobSelect+" WHERE id = ?", id)
	return scanJob(row)
}

// GetJobForMemory returns the most recent job for a memory, if any.
func (s *Store) GetJobForMemory(ctx context.Context, memoryID string) (*EmbeddingJob, error) {
	row := s.db.QueryRowContext(ctx, jobSelect+`
		WHERE memory_id = ?
		ORDER BY created_at DESC, id DESC
		LIMIT 1`, memoryID)
	return scanJob(row)
}

// CountJobsByStatus tallies embedding jobs per status.
func (s *Store) CountJobsByStatus(ctx context.Context) (JobCounts, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT status, COUNT(*) FROM embedding_jobs GROUP BY status")
	if err != nil {
		return JobCounts{}, fmt.Errorf("counting jobs: %w", err)
	}
	defer rows.Close()

	var counts JobCounts
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return JobCounts{}, fmt.Errorf("counting jobs: %w", err)
		}
		switch status {
		case JobPending:
			counts.Pending = n
		case JobProcessing:
			counts.Processing = n
		case JobCompleted:
			counts.Completed = n
		case JobFailed:
			counts.Failed = n
		}
	}
	if err := rows.Err(); err != nil {
		return JobCounts{}, fmt.Errorf("counting jobs: %w", err)
	}
	return counts, nil
}

// CleanupFailedJobs deletes failed jobs that have exhausted their attempts.
// Returns the number of rows removed.
func (s *Store) CleanupFailedJobs(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		"DELETE FROM embedding_jobs WHERE status = 'failed' AND attempts >= max_attempts")
	if err != nil {
		return 0, fmt.Errorf("cleaning up failed jobs: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("cleaning up failed jobs: %w", err)
	}
	return n, nil
}

const jobSelect = `
	SELECT id, memory_id, provider, status, attempts, max_attempts,
		error_message, run_after, retry_until, created_at, updated_at
	FROM embedding_jobs`

func scanJob(row rowScanner) (*EmbeddingJob, error) {
	var (
		j          EmbeddingJob
		runAfter   string
		retryUntil string
		createdAt  string
		updatedAt  string
	)
	err := row.Scan(&j.ID, &j.MemoryID, &j.Provider, &j.Status, &j.Attempts,
		&j.MaxAttempts, &j.ErrorMessage, &runAfter, &retryUntil, &createdAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scanning job: %w", err)
	}

	for _, f := range []struct {
		dst *time.Time
		src string
		col string
	}{
		{&j.RunAfter, runAfter, "run_after"},
		{&j.RetryUntil, retryUntil, "retry_until"},
		{&j.CreatedAt, createdAt, "created_at"},
		{&j.UpdatedAt, updatedAt, "updated_at"},
	} {
		if *f.dst, err = time.Parse(time.RFC3339, f.src); err != nil {
			return nil, fmt.Errorf("parsing %s for job %s: %w", f.col, j.ID, err)
		}
	}
	return &j, nil
}
