package storage

import (
	"errors"
	"time"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// ErrModified is returned when a guarded write loses to a concurrent
// update of the same row. The caller should re-read and try again.
var ErrModified = errors.New("modified since read")

// Memory visibility values.
const (
	VisibilityPrivate  = "private"
	VisibilityPublic   = "public"
	VisibilityUnlisted = "unlisted"
)

// Embedding job states. Transitions are monotonic:
// pending -> processing -> completed | failed. A failed job may be
// rescheduled back to pending until attempts are exhausted.
const (
	JobPending    = "pending"
	JobProcessing = "processing"
	JobCompleted  = "completed"
	JobFailed     = "failed"
)

// Memory is a stored user note, the unit of retrieval. The embedding is
// absent until an embedding job completes for it.
type Memory struct {
	ID                string
	UserID            string
	Content           string
	Title             string
	DocumentType      string // slugified
	ProjectName       string // slugified
	Tags              []string
	Visibility        string
	ShareToken        string
	Embedding         []float32 // nil until embedded
	EmbeddingProvider string
	EmbeddedAt        time.Time // zero until embedded
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// EmbeddingJob is one attempt-tracked unit of asynchronous embedding
// generation for a (memory, provider) pair.
type EmbeddingJob struct {
	ID           string
	MemoryID     string
	Provider     string
	Status       string
	Attempts     int
	MaxAttempts  int
	ErrorMessage string
	RunAfter     time.Time
	RetryUntil   time.Time // hard wall-clock deadline from first enqueue
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// ProviderHealth is the persisted health state for one provider. Counters
// increment monotonically and are only cleared by an explicit reset.
type ProviderHealth struct {
	Provider       string
	IsHealthy      bool
	LastCheck      time.Time
	ResponseTimeMS int
	ErrorCount     int
	SuccessCount   int
	LastError      string
}

// JobCounts summarizes embedding jobs by status.
type JobCounts struct {
	Pending    int
	Processing int
	Completed  int
	Failed     int
}
