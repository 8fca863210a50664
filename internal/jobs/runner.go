package jobs

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/kovalev/memoria/internal/provider"
	"github.com/kovalev/memoria/internal/storage"
)

// OutcomeKind classifies how a job run ended.
type OutcomeKind int

const (
	// OutcomeCompleted: the embedding was generated and stored.
	OutcomeCompleted OutcomeKind = iota
	// OutcomeRetry: a transient failure; the scheduler decides whether
	// another attempt fits within the retry window.
	OutcomeRetry
	// OutcomeFatal: a failure retrying cannot fix (unknown provider,
	// deleted memory, nothing to embed).
	OutcomeFatal
)

// Outcome is the result of one job run. Elapsed covers the provider call
// and feeds health accounting.
type Outcome struct {
	Kind    OutcomeKind
	Err     error
	Elapsed time.Duration
}

// Runner executes a single embedding job: resolve the provider, embed
// the memory's text, persist the vector.
type Runner struct {
	store    *storage.Store
	registry *provider.Registry
	policy   Policy
}

// NewRunner creates a runner over the given store and registry.
func NewRunner(store *storage.Store, registry *provider.Registry, policy Policy) *Runner {
	return &Runner{store: store, registry: registry, policy: policy}
}

// Run executes one claimed job and reports how it ended. It does not
// transition the job's status; the caller applies the outcome.
func (r *Runner) Run(ctx context.Context, job *storage.EmbeddingJob) Outcome {
	p, err := r.registry.Resolve(job.Provider)
	if err != nil {
		return Outcome{Kind: OutcomeFatal, Err: err}
	}

	mem, err := r.store.GetMemoryByID(ctx, job.MemoryID)
	if errors.Is(err, storage.ErrNotFound) {
		return Outcome{Kind: OutcomeFatal, Err: fmt.Errorf("memory %s no longer exists", job.MemoryID)}
	}
	if err != nil {
		return Outcome{Kind: OutcomeRetry, Err: err}
	}

	text := embeddingText(mem)
	if strings.TrimSpace(text) == "" {
		return Outcome{Kind: OutcomeFatal, Err: fmt.Errorf("memory %s has no text to embed", mem.ID)}
	}

	embedCtx, cancel := context.WithTimeout(ctx, r.policy.EmbedTimeout)
	defer cancel()

	start := time.Now()
	vec, err := p.Embed(embedCtx, text)
	elapsed := time.Since(start)
	if err != nil {
		return Outcome{Kind: OutcomeRetry, Err: err, Elapsed: elapsed}
	}
	if len(vec) == 0 {
		return Outcome{Kind: OutcomeRetry, Err: fmt.Errorf("provider %s returned an empty vector", p.Name()), Elapsed: elapsed}
	}

	if err := r.store.SetMemoryEmbedding(ctx, mem.ID, vec, p.Name(), time.Now().UTC(), mem.UpdatedAt); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return Outcome{Kind: OutcomeFatal, Err: fmt.Errorf("memory %s deleted during embedding", mem.ID), Elapsed: elapsed}
		}
		if errors.Is(err, storage.ErrModified) {
			// The memory was edited while we were embedding the old
			// text. Retry so the next attempt picks up the new content.
			return Outcome{Kind: OutcomeRetry, Err: fmt.Errorf("memory %s changed during embedding", mem.ID), Elapsed: elapsed}
		}
		return Outcome{Kind: OutcomeRetry, Err: err, Elapsed: elapsed}
	}

	return Outcome{Kind: OutcomeCompleted, Elapsed: elapsed}
}

// embeddingText assembles the text sent to the provider. Title and tags
// are prepended so they influence the vector the way they influence
// lexical relevance.
func embeddingText(m *storage.Memory) string {
	var b strings.Builder
	if m.Title != "" {
		b.WriteString(m.Title)
		b.WriteString("\n")
	}
	if len(m.Tags) > 0 {
		b.WriteString(strings.Join(m.Tags, " "))
		b.WriteString("\n")
	}
	b.WriteString(m.Content)
	return b.String()
}
