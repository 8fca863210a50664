package jobs

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/kovalev/memoria/internal/storage"
)

// Worker pulls pending embedding jobs and executes them through a
// Runner, applying the retry policy to each outcome. Multiple workers
// may poll the same store; claims are transactional.
type Worker struct {
	store        *storage.Store
	runner       *Runner
	policy       Policy
	pollInterval time.Duration
	logger       *slog.Logger
}

// NewWorker creates a polling worker.
func NewWorker(store *storage.Store, runner *Runner, policy Policy, pollInterval time.Duration, logger *slog.Logger) *Worker {
	if pollInterval <= 0 {
		pollInterval = 500 * time.Millisecond
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Worker{
		store:        store,
		runner:       runner,
		policy:       policy,
		pollInterval: pollInterval,
		logger:       logger,
	}
}

// Run polls for jobs until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) {
	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for {
				processed, err := w.RunOnce(ctx)
				if err != nil {
					w.logger.Error("job processing failed", "error", err)
					break
				}
				if !processed {
					break
				}
			}
		}
	}
}

// RunOnce claims and executes at most one job. Returns false when the
// queue had nothing runnable.
func (w *Worker) RunOnce(ctx context.Context) (bool, error) {
	job, err := w.store.ClaimNextEmbeddingJob(ctx)
	if errors.Is(err, storage.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	outcome := w.runner.Run(ctx, job)
	w.recordHealth(ctx, job.Provider, outcome)

	switch outcome.Kind {
	case OutcomeCompleted:
		w.logger.Info("embedding job completed",
			"job_id", job.ID, "memory_id", job.MemoryID,
			"provider", job.Provider, "attempt", job.Attempts,
			"elapsed", outcome.Elapsed)
		return true, w.store.CompleteEmbeddingJob(ctx, job.ID)

	case OutcomeFatal:
		w.logger.Error("embedding job failed permanently",
			"job_id", job.ID, "memory_id", job.MemoryID,
			"provider", job.Provider, "error", outcome.Err)
		return true, w.store.FailEmbeddingJob(ctx, job.ID, outcome.Err.Error())

	default:
		return true, w.scheduleRetry(ctx, job, outcome)
	}
}

// scheduleRetry reschedules a transiently failed job, or fails it
// terminally once attempts or the retry window are exhausted.
func (w *Worker) scheduleRetry(ctx context.Context, job *storage.EmbeddingJob, outcome Outcome) error {
	now := time.Now().UTC()
	delay := w.policy.backoffFor(job.Attempts)

	if job.Attempts >= job.MaxAttempts || now.Add(delay).After(job.RetryUntil) {
		w.logger.Error("embedding job exhausted retries",
			"job_id", job.ID, "memory_id", job.MemoryID,
			"provider", job.Provider, "attempts", job.Attempts,
			"error", outcome.Err)
		return w.store.FailEmbeddingJob(ctx, job.ID, outcome.Err.Error())
	}

	w.logger.Warn("embedding job will retry",
		"job_id", job.ID, "memory_id", job.MemoryID,
		"provider", job.Provider, "attempt", job.Attempts,
		"retry_in", delay, "error", outcome.Err)
	return w.store.RescheduleEmbeddingJob(ctx, job.ID, outcome.Err.Error(), now.Add(delay))
}

// recordHealth feeds job outcomes into provider health accounting.
// Fatal outcomes are configuration problems, not provider liveness
// signals, so only completed and retryable runs count.
func (w *Worker) recordHealth(ctx context.Context, providerName string, outcome Outcome) {
	var errMsg string
	switch outcome.Kind {
	case OutcomeCompleted:
	case OutcomeRetry:
		errMsg = outcome.Err.Error()
	default:
		return
	}
	if err := w.store.RecordHealthCheck(ctx, providerName,
		outcome.Kind == OutcomeCompleted, outcome.Elapsed, errMsg); err != nil {
		w.logger.Warn("recording provider health failed",
			"provider", providerName, "error", err)
	}
}
