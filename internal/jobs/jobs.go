// Package jobs runs asynchronous embedding generation: an idempotent
// queue over the storage layer, a runner that executes one job against a
// provider, a polling worker, and periodic maintenance sweeps.
package jobs

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/kovalev/memoria/internal/provider"
	"github.com/kovalev/memoria/internal/storage"
)

// Policy bounds job execution and retry scheduling.
type Policy struct {
	MaxAttempts  int
	Backoff      []time.Duration
	RetryWindow  time.Duration
	EmbedTimeout time.Duration
}

// DefaultPolicy returns the standard retry policy: three attempts, a
// 3s/60s/180s/1800s backoff ladder, a five hour retry window, and a two
// minute per-attempt embed timeout.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts: 3,
		Backoff: []time.Duration{
			3 * time.Second,
			60 * time.Second,
			180 * time.Second,
			1800 * time.Second,
		},
		RetryWindow:  5 * time.Hour,
		EmbedTimeout: 120 * time.Second,
	}
}

// backoffFor returns the delay before the next attempt, given how many
// attempts have already run. The schedule clamps to its last entry.
func (p Policy) backoffFor(attempts int) time.Duration {
	if len(p.Backoff) == 0 {
		return time.Minute
	}
	idx := attempts - 1
	if idx < 0 {
		idx = 0
	}
	if idx >= len(p.Backoff) {
		idx = len(p.Backoff) - 1
	}
	return p.Backoff[idx]
}

// Queue enqueues embedding jobs for memories.
type Queue struct {
	store    *storage.Store
	registry *provider.Registry
	policy   Policy
	logger   *slog.Logger
}

// NewQueue creates a queue over the given store and provider registry.
func NewQueue(store *storage.Store, registry *provider.Registry, policy Policy, logger *slog.Logger) *Queue {
	if logger == nil {
		logger = slog.Default()
	}
	return &Queue{store: store, registry: registry, policy: policy, logger: logger}
}

// Enqueue schedules embedding generation for a memory. An empty
// providerName resolves to the registry default. The call is idempotent:
// an existing non-terminal job for the same (memory, provider) pair is
// returned instead of creating a duplicate.
func (q *Queue) Enqueue(ctx context.Context, memoryID, providerName string) (*storage.EmbeddingJob, error) {
	if providerName == "" {
		providerName = q.registry.DefaultName()
	}
	if _, err := q.registry.Resolve(providerName); err != nil {
		return nil, fmt.Errorf("enqueue for memory %s: %w", memoryID, err)
	}

	job, err := q.store.EnqueueEmbeddingJob(ctx, memoryID, providerName,
		q.policy.MaxAttempts, q.policy.RetryWindow)
	if err != nil {
		return nil, err
	}
	q.logger.Debug("embedding job enqueued",
		"job_id", job.ID, "memory_id", memoryID, "provider", providerName)
	return job, nil
}
