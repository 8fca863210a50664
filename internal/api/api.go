// Package api exposes the memory engine over HTTP (chi) and MCP stdio.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/kovalev/memoria/internal/jobs"
	"github.com/kovalev/memoria/internal/search"
	"github.com/kovalev/memoria/internal/storage"
)

const maxRequestBodySize = 1 << 20 // 1MB

// DefaultUserID identifies the local single-user installation. Clients
// acting for other users set the X-Memoria-User header.
const DefaultUserID = "local"

// Searcher abstracts the search engine for the API layer.
type Searcher interface {
	Search(ctx context.Context, userID, query string, opts search.Options) (*search.Result, error)
}

// Sweeps abstracts the maintenance sweeps for the admin endpoints.
type Sweeps interface {
	HealthSweep(ctx context.Context) error
	CleanupSweep(ctx context.Context) error
}

// AppDeps holds dependencies for the HTTP API.
type AppDeps struct {
	Store      *storage.Store
	Engine     Searcher
	Queue      *jobs.Queue
	Sweeper    Sweeps
	Token      string
	HTTPClient *http.Client
	Logger     *slog.Logger
}

// NewAppHandler returns the authenticated application API. The health
// probe and share-token fetch stay outside the auth middleware.
func NewAppHandler(deps AppDeps) http.Handler {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.HTTPClient == nil {
		deps.HTTPClient = &http.Client{Timeout: 30 * time.Second}
	}

	r := chi.NewRouter()

	r.Get("/health", handleHealth)
	r.Get("/share/{token}", handleShareFetch(deps))

	r.Group(func(r chi.Router) {
		r.Use(BearerAuth(deps.Token))

		r.Post("/memories", handleCreateMemory(deps))
		r.Get("/memories/recent", handleRecentMemories(deps))
		r.Get("/memories/{id}", handleGetMemory(deps))
		r.Put("/memories/{id}", handleUpdateMemory(deps))
		r.Delete("/memories/{id}", handleDeleteMemory(deps))
		r.Get("/memories/{id}/job", handleMemoryJobStatus(deps))
		r.Post("/import", handleImport(deps))
		r.Get("/search", handleSearch(deps))
		r.Get("/providers/health", handleProviderHealth(deps))
		r.Get("/jobs/stats", handleJobStats(deps))
		r.Post("/admin/health-check", handleRunHealthSweep(deps))
		r.Post("/admin/cleanup", handleRunCleanupSweep(deps))
	})

	return r
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"ok"}`))
}

func userID(r *http.Request) string {
	if u := r.Header.Get("X-Memoria-User"); u != "" {
		return u
	}
	return DefaultUserID
}

// MemoryRequest is the write payload for creating or updating a memory.
type MemoryRequest struct {
	Content      string   `json:"content"`
	Title        string   `json:"title"`
	DocumentType string   `json:"document_type"`
	ProjectName  string   `json:"project_name"`
	Tags         []string `json:"tags"`
	Visibility   string   `json:"visibility"`
	Provider     string   `json:"provider"`
}

// MemoryResponse is the read shape of a memory. The raw embedding stays
// internal; only its presence and provenance are reported.
type MemoryResponse struct {
	ID                string   `json:"id"`
	Content           string   `json:"content"`
	Title             string   `json:"title"`
	DocumentType      string   `json:"document_type"`
	ProjectName       string   `json:"project_name"`
	Tags              []string `json:"tags"`
	Visibility        string   `json:"visibility"`
	ShareToken        string   `json:"share_token,omitempty"`
	Embedded          bool     `json:"embedded"`
	EmbeddingProvider string   `json:"embedding_provider,omitempty"`
	CreatedAt         string   `json:"created_at"`
	UpdatedAt         string   `json:"updated_at"`
}

func memoryResponse(m *storage.Memory) MemoryResponse {
	return MemoryResponse{
		ID:                m.ID,
		Content:           m.Content,
		Title:             m.Title,
		DocumentType:      m.DocumentType,
		ProjectName:       m.ProjectName,
		Tags:              m.Tags,
		Visibility:        m.Visibility,
		ShareToken:        m.ShareToken,
		Embedded:          m.Embedding != nil,
		EmbeddingProvider: m.EmbeddingProvider,
		CreatedAt:         m.CreatedAt.Format(time.RFC3339),
		UpdatedAt:         m.UpdatedAt.Format(time.RFC3339),
	}
}

func handleCreateMemory(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		var req MemoryRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}
		if req.Content == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "content is required")
			return
		}

		m := &storage.Memory{
			UserID:       userID(r),
			Content:      req.Content,
			Title:        req.Title,
			DocumentType: req.DocumentType,
			ProjectName:  req.ProjectName,
			Tags:         req.Tags,
			Visibility:   req.Visibility,
		}
		if m.Visibility == storage.VisibilityUnlisted || m.Visibility == storage.VisibilityPublic {
			m.ShareToken = uuid.NewString()
		}
		if err := deps.Store.SaveMemory(r.Context(), m); err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to save memory: %v", err)
			return
		}

		// Embedding is async; a queue failure must not fail the write.
		if _, err := deps.Queue.Enqueue(r.Context(), m.ID, req.Provider); err != nil {
			deps.Logger.Warn("enqueue after create failed", "memory_id", m.ID, "error", err)
		}

		writeJSON(w, http.StatusCreated, memoryResponse(m))
	}
}

func handleGetMemory(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		m, err := deps.Store.GetMemory(r.Context(), userID(r), chi.URLParam(r, "id"))
		if errors.Is(err, storage.ErrNotFound) {
			httpError(w, http.StatusNotFound, "not_found", "memory not found")
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to get memory: %v", err)
			return
		}
		writeJSON(w, http.StatusOK, memoryResponse(m))
	}
}

func handleUpdateMemory(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		var req MemoryRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}
		if req.Content == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "content is required")
			return
		}

		uid := userID(r)
		m, err := deps.Store.GetMemory(r.Context(), uid, chi.URLParam(r, "id"))
		if errors.Is(err, storage.ErrNotFound) {
			httpError(w, http.StatusNotFound, "not_found", "memory not found")
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to get memory: %v", err)
			return
		}

		m.Content = req.Content
		m.Title = req.Title
		m.DocumentType = req.DocumentType
		m.ProjectName = req.ProjectName
		m.Tags = req.Tags
		if req.Visibility != "" {
			m.Visibility = req.Visibility
		}
		if m.ShareToken == "" && (m.Visibility == storage.VisibilityUnlisted || m.Visibility == storage.VisibilityPublic) {
			m.ShareToken = uuid.NewString()
		}
		if err := deps.Store.UpdateMemory(r.Context(), m); err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to update memory: %v", err)
			return
		}

		// Content changed, so the old vector is gone; re-embed.
		if _, err := deps.Queue.Enqueue(r.Context(), m.ID, req.Provider); err != nil {
			deps.Logger.Warn("enqueue after update failed", "memory_id", m.ID, "error", err)
		}

		writeJSON(w, http.StatusOK, memoryResponse(m))
	}
}

func handleDeleteMemory(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		err := deps.Store.DeleteMemory(r.Context(), userID(r), chi.URLParam(r, "id"))
		if errors.Is(err, storage.ErrNotFound) {
			httpError(w, http.StatusNotFound, "not_found", "memory not found")
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to delete memory: %v", err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
	}
}

func handleRecentMemories(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit := parseIntParam(r, "limit", 10, 100)
		memories, err := deps.Store.ListRecentMemories(r.Context(), userID(r), limit)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to list memories: %v", err)
			return
		}
		out := make([]MemoryResponse, 0, len(memories))
		for _, m := range memories {
			out = append(out, memoryResponse(m))
		}
		writeJSON(w, http.StatusOK, out)
	}
}

func handleShareFetch(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		m, err := deps.Store.GetMemoryByShareToken(r.Context(), chi.URLParam(r, "token"))
		if errors.Is(err, storage.ErrNotFound) {
			httpError(w, http.StatusNotFound, "not_found", "memory not found")
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to get memory: %v", err)
			return
		}
		if m.Visibility == storage.VisibilityPrivate {
			httpError(w, http.StatusNotFound, "not_found", "memory not found")
			return
		}
		resp := memoryResponse(m)
		resp.ShareToken = "" // token is the URL, do not echo it
		writeJSON(w, http.StatusOK, resp)
	}
}

func handleMemoryJobStatus(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		uid := userID(r)
		id := chi.URLParam(r, "id")
		if _, err := deps.Store.GetMemory(r.Context(), uid, id); err != nil {
			httpError(w, http.StatusNotFound, "not_found", "memory not found")
			return
		}
		job, err := deps.Store.GetJobForMemory(r.Context(), id)
		if errors.Is(err, storage.ErrNotFound) {
			httpError(w, http.StatusNotFound, "not_found", "no embedding job for memory")
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to get job: %v", err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"job_id":        job.ID,
			"status":        job.Status,
			"provider":      job.Provider,
			"attempts":      job.Attempts,
			"max_attempts":  job.MaxAttempts,
			"error_message": job.ErrorMessage,
			"run_after":     job.RunAfter.Format(time.RFC3339),
		})
	}
}

func handleSearch(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		opts := search.Options{
			Limit:              parseIntParam(r, "limit", 0, 100),
			Page:               parseIntParam(r, "page", 1, 0),
			Threshold:          parseFloatParam(q.Get("threshold")),
			UseEmbedding:       parseBoolParam(q.Get("use_embedding"), true),
			FallbackToDatabase: parseBoolParam(q.Get("fallback"), true),
			UseHybridSearch:    parseBoolParam(q.Get("hybrid"), true),
			VectorWeight:       parseFloatParam(q.Get("vector_weight")),
			TextWeight:         parseFloatParam(q.Get("text_weight")),
			Provider:           q.Get("provider"),
		}

		res, err := deps.Engine.Search(r.Context(), userID(r), q.Get("q"), opts)
		if errors.Is(err, search.ErrEmptyQuery) {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "query parameter q is required")
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "search failed: %v", err)
			return
		}
		writeJSON(w, http.StatusOK, res)
	}
}

func handleProviderHealth(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rows, err := deps.Store.ListProviderHealth(r.Context())
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to list provider health: %v", err)
			return
		}
		out := make([]map[string]any, 0, len(rows))
		for _, h := range rows {
			entry := map[string]any{
				"provider":         h.Provider,
				"healthy":          h.IsHealthy,
				"response_time_ms": h.ResponseTimeMS,
				"error_count":      h.ErrorCount,
				"success_count":    h.SuccessCount,
				"last_error":       h.LastError,
			}
			if !h.LastCheck.IsZero() {
				entry["last_check"] = h.LastCheck.Format(time.RFC3339)
			}
			out = append(out, entry)
		}
		writeJSON(w, http.StatusOK, out)
	}
}

func handleJobStats(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		counts, err := deps.Store.CountJobsByStatus(r.Context())
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to count jobs: %v", err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]int{
			"pending":    counts.Pending,
			"processing": counts.Processing,
			"completed":  counts.Completed,
			"failed":     counts.Failed,
		})
	}
}

func handleRunHealthSweep(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := deps.Sweeper.HealthSweep(r.Context()); err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "health sweep failed: %v", err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "completed"})
	}
}

func handleRunCleanupSweep(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := deps.Sweeper.CleanupSweep(r.Context()); err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "cleanup sweep failed: %v", err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "completed"})
	}
}

func parseIntParam(r *http.Request, key string, defaultVal, maxVal int) int {
	s := r.URL.Query().Get(key)
	if s == "" {
		return defaultVal
	}
	v, err := strconv.Atoi(s)
	if err != nil || v < 0 {
		return defaultVal
	}
	if maxVal > 0 && v > maxVal {
		return maxVal
	}
	return v
}

func parseFloatParam(s string) float64 {
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0
	}
	return v
}

func parseBoolParam(s string, defaultVal bool) bool {
	if s == "" {
		return defaultVal
	}
	v, err := strconv.ParseBool(s)
	if err != nil {
		return defaultVal
	}
	return v
}
