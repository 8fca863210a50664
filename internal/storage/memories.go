package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Slugify lowercases s and replaces runs of non-alphanumeric characters
// with single hyphens. Used to normalize document types and project names.
func Slugify(s string) string {
	var b strings.Builder
	lastHyphen := true
	for _, r := range strings.ToLower(strings.TrimSpace(s)) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
			lastHyphen = false
		default:
			if !lastHyphen {
				b.WriteByte('-')
				lastHyphen = true
			}
		}
	}
	return strings.TrimSuffix(b.String(), "-")
}

// SaveMemory inserts a new memory. ID, CreatedAt and UpdatedAt are
// assigned when empty; DocumentType and ProjectName are slugified.
func (s *Store) SaveMemory(ctx context.Context, m *Memory) error {
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if m.CreatedAt.IsZero() {
		m.CreatedAt = now
	}
	m.UpdatedAt = now
	if m.DocumentType == "" {
		m.DocumentType = "memory"
	}
	m.DocumentType = Slugify(m.DocumentType)
	m.ProjectName = Slugify(m.ProjectName)
	if m.Visibility == "" {
		m.Visibility = VisibilityPrivate
	}

	tags, err := json.Marshal(normalizeTags(m.Tags))
	if err != nil {
		return fmt.Errorf("encoding tags: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO memories (id, user_id, content, title, document_type, project_name,
			tags, visibility, share_token, embedding, embedding_provider, embedded_at,
			created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		m.ID, m.UserID, m.Content, m.Title, m.DocumentType, m.ProjectName,
		string(tags), m.Visibility, m.ShareToken, encodeVector(m.Embedding),
		m.EmbeddingProvider, nullableTime(m.EmbeddedAt),
		m.CreatedAt.Format(time.RFC3339), m.UpdatedAt.Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("inserting memory: %w", err)
	}
	return nil
}

// GetMemory returns the memory with the given id belonging to userID.
func (s *Store) GetMemory(ctx context.Context, userID, id string) (*Memory, error) {
	row := s.db.QueryRowContext(ctx,
		memorySelect+" WHERE id = ? AND user_id = ?", id, userID)
	return scanMemory(row)
}

// GetMemoryByID returns a memory without owner scoping. Used by the
// embedding job runner, which holds only a memory id.
func (s *Store) GetMemoryByID(ctx context.Context, id string) (*Memory, error) {
	row := s.db.QueryRowContext(ctx, memorySelect+" WHERE id = ?", id)
	return scanMemory(row)
}

// GetMemoryByShareToken returns a memory by its share token regardless of
// owner. Only memories with a non-empty token are reachable this way.
func (s *Store) GetMemoryByShareToken(ctx context.Context, token string) (*Memory, error) {
	if token == "" {
		return nil, ErrNotFound
	}
	row := s.db.QueryRowContext(ctx,
		memorySelect+" WHERE share_token = ?", token)
	return scanMemory(row)
}

// UpdateMemory rewrites the mutable fields of a memory and clears its
// embedding, since the content the embedding was derived from may have
// changed. Callers re-enqueue an embedding job afterwards.
func (s *Store) UpdateMemory(ctx context.Context, m *Memory) error {
	m.UpdatedAt = time.Now().UTC()
	m.DocumentType = Slugify(m.DocumentType)
	m.ProjectName = Slugify(m.ProjectName)

	tags, err := json.Marshal(normalizeTags(m.Tags))
	if err != nil {
		return fmt.Errorf("encoding tags: %w", err)
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE memories
		SET content = ?, title = ?, document_type = ?, project_name = ?,
			tags = ?, visibility = ?, share_token = ?,
			embedding = NULL, embedding_provider = '', embedded_at = NULL,
			updated_at = ?
		WHERE id = ? AND user_id = ?`,
		m.Content, m.Title, m.DocumentType, m.ProjectName,
		string(tags), m.Visibility, m.ShareToken,
		m.UpdatedAt.Format(time.RFC3339), m.ID, m.UserID)
	if err != nil {
		return fmt.Errorf("updating memory: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("updating memory: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	m.Embedding = nil
	m.EmbeddingProvider = ""
	m.EmbeddedAt = time.Time{}
	return nil
}

// DeleteMemory removes a memory and, via cascade, its embedding jobs.
func (s *Store) DeleteMemory(ctx context.Context, userID, id string) error {
	res, err := s.db.ExecContext(ctx,
		"DELETE FROM memories WHERE id = ? AND user_id = ?", id, userID)
	if err != nil {
		return fmt.Errorf("deleting memory: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("deleting memory: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// ListUserMemories returns every memory owned by userID, newest first.
// The search engine loads the full set and scores in process.
func (s *Store) ListUserMemories(ctx context.Context, userID string) ([]*Memory, error) {
	rows, err := s.db.QueryContext(ctx,
		memorySelect+" WHERE user_id = ? ORDER BY created_at DESC, id DESC", userID)
	if err != nil {
		return nil, fmt.Errorf("listing memories: %w", err)
	}
	defer rows.Close()
	return collectMemories(rows)
}

// ListRecentMemories returns the most recently created memories for userID.
func (s *Store) ListRecentMemories(ctx context.Context, userID string, limit int) ([]*Memory, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := s.db.QueryContext(ctx,
		memorySelect+" WHERE user_id = ? ORDER BY created_at DESC, id DESC LIMIT ?",
		userID, limit)
	if err != nil {
		return nil, fmt.Errorf("listing recent memories: %w", err)
	}
	defer rows.Close()
	return collectMemories(rows)
}

// SetMemoryEmbedding stores a computed embedding vector on a memory row.
// Called by the embedding job runner on success. seenUpdatedAt is the
// row's updated_at as read before embedding; if the memory was edited in
// the meantime the write is refused with ErrModified so a stale vector
// never overwrites the cleared embedding of the new content.
func (s *Store) SetMemoryEmbedding(ctx context.Context, memoryID string, vec []float32, provider string, at, seenUpdatedAt time.Time) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE memories
		SET embedding = ?, embedding_provider = ?, embedded_at = ?, updated_at = ?
		WHERE id = ? AND updated_at = ?`,
		encodeVector(vec), provider, at.UTC().Format(time.RFC3339),
		time.Now().UTC().Format(time.RFC3339), memoryID,
		seenUpdatedAt.UTC().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("storing embedding: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("storing embedding: %w", err)
	}
	if n == 0 {
		var one int
		err := s.db.QueryRowContext(ctx,
			"SELECT 1 FROM memories WHERE id = ?", memoryID).Scan(&one)
		if errors.Is(err, sql.ErrNoRows) {
			return ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("storing embedding: %w", err)
		}
		return ErrModified
	}
	return nil
}

const memorySelect = `
	SELECT id, user_id, content, title, document_type, project_name,
		tags, visibility, share_token, embedding, embedding_provider,
		embedded_at, created_at, updated_at
	FROM memories`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanMemory(row rowScanner) (*Memory, error) {
	var (
		m          Memory
		tags       string
		blob       []byte
		embeddedAt sql.NullString
		createdAt  string
		updatedAt  string
	)
	err := row.Scan(&m.ID, &m.UserID, &m.Content, &m.Title, &m.DocumentType,
		&m.ProjectName, &tags, &m.Visibility, &m.ShareToken, &blob,
		&m.EmbeddingProvider, &embeddedAt, &createdAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scanning memory: %w", err)
	}

	if err := json.Unmarshal([]byte(tags), &m.Tags); err != nil {
		return nil, fmt.Errorf("decoding tags for memory %s: %w", m.ID, err)
	}
	if m.Embedding, err = decodeVector(blob); err != nil {
		return nil, fmt.Errorf("decoding embedding for memory %s: %w", m.ID, err)
	}
	if embeddedAt.Valid && embeddedAt.String != "" {
		if m.EmbeddedAt, err = time.Parse(time.RFC3339, embeddedAt.String); err != nil {
			return nil, fmt.Errorf("parsing embedded_at for memory %s: %w", m.ID, err)
		}
	}
	if m.CreatedAt, err = time.Parse(time.RFC3339, createdAt); err != nil {
		return nil, fmt.Errorf("parsing created_at for memory %s: %w", m.ID, err)
	}
	if m.UpdatedAt, err = time.Parse(time.RFC3339, updatedAt); err != nil {
		return nil, fmt.Errorf("parsing updated_at for memory %s: %w", m.ID, err)
	}
	return &m, nil
}

func collectMemories(rows *sql.Rows) ([]*Memory, error) {
	var out []*Memory
	for rows.Next() {
		m, err := scanMemory(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating memories: %w", err)
	}
	return out, nil
}

func normalizeTags(tags []string) []string {
	out := make([]string, 0, len(tags))
	seen := make(map[string]bool, len(tags))
	for _, t := range tags {
		t = strings.ToLower(strings.TrimSpace(t))
		if t == "" || seen[t] {
			continue
		}
		seen[t] = true
		out = append(out, t)
	}
	return out
}

func nullableTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t.UTC().Format(time.RFC3339)
}
