package search

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/kovalev/memoria/internal/provider"
	"github.com/kovalev/memoria/internal/storage"
)

// ErrEmptyQuery is returned when the search query is blank.
var ErrEmptyQuery = errors.New("search query is empty")

// Search method names reported in result metadata.
const (
	MethodDatabase = "database"
	MethodVector   = "vector"
	MethodHybrid   = "hybrid"
)

// MemorySource supplies the candidate set for a search.
type MemorySource interface {
	ListUserMemories(ctx context.Context, userID string) ([]*storage.Memory, error)
}

// ProviderResolver resolves a provider name ("" means default) to an
// embedding provider.
type ProviderResolver interface {
	Resolve(name string) (provider.Provider, error)
}

// Defaults are the engine-level fallbacks applied when an Options field
// is left at its zero value.
type Defaults struct {
	Limit        int
	Threshold    float64
	VectorWeight float64
	TextWeight   float64
	QueryTimeout time.Duration
}

// Options control a single search call.
type Options struct {
	Limit              int
	Page               int
	Threshold          float64
	UseEmbedding       bool
	FallbackToDatabase bool
	UseHybridSearch    bool
	VectorWeight       float64
	TextWeight         float64
	Provider           string
}

// Metadata describes the executed search.
type Metadata struct {
	Total        int     `json:"total"`
	Success      bool    `json:"success"`
	Query        string  `json:"query"`
	Limit        int     `json:"limit"`
	Threshold    float64 `json:"threshold"`
	SearchMethod string  `json:"search_method"`
	Page         int     `json:"page"`
}

// ResultItem is one ranked memory. Score fields are present only when
// the producing mode computed them.
type ResultItem struct {
	ID           string   `json:"id"`
	Title        string   `json:"title"`
	Content      string   `json:"content"`
	DocumentType string   `json:"document_type"`
	ProjectName  string   `json:"project_name"`
	Tags         []string `json:"tags"`
	Visibility   string   `json:"visibility"`
	CreatedAt    string   `json:"created_at"`
	UpdatedAt    string   `json:"updated_at"`

	Similarity  *float64 `json:"similarity,omitempty"`
	VectorScore *float64 `json:"vector_score,omitempty"`
	TextScore   *float64 `json:"text_score,omitempty"`
	HybridScore *float64 `json:"hybrid_score,omitempty"`
}

// Result is the full response of one search call.
type Result struct {
	Metadata Metadata     `json:"metadata"`
	Results  []ResultItem `json:"results"`
}

// Engine ranks a user's memories against a query. Ranking data lives in
// transient candidates; stored memories are never mutated.
type Engine struct {
	source    MemorySource
	providers ProviderResolver
	weights   FieldWeights
	defaults  Defaults
	logger    *slog.Logger
}

// NewEngine creates a search engine over the given memory source and
// provider resolver.
func NewEngine(source MemorySource, providers ProviderResolver, defaults Defaults, logger *slog.Logger) *Engine {
	if defaults.Limit <= 0 {
		defaults.Limit = 10
	}
	if defaults.Threshold == 0 {
		defaults.Threshold = 0.7
	}
	if defaults.VectorWeight == 0 {
		defaults.VectorWeight = 0.7
	}
	if defaults.TextWeight == 0 {
		defaults.TextWeight = 0.3
	}
	if defaults.QueryTimeout <= 0 {
		defaults.QueryTimeout = 10 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		source:    source,
		providers: providers,
		weights:   DefaultFieldWeights,
		defaults:  defaults,
		logger:    logger,
	}
}

// Search runs one query for a user. Mode selection: hybrid when
// UseHybridSearch, else vector when UseEmbedding, else database. Hybrid
// and vector degrade to database mode per FallbackToDatabase; a failed
// query embedding or an empty vector result always degrades.
func (e *Engine) Search(ctx context.Context, userID, query string, opts Options) (*Result, error) {
	if strings.TrimSpace(query) == "" {
		return nil, ErrEmptyQuery
	}
	opts = e.applyDefaults(opts)

	memories, err := e.source.ListUserMemories(ctx, userID)
	if err != nil {
		return nil, err
	}

	switch {
	case opts.UseHybridSearch:
		res, err := e.searchHybrid(ctx, query, memories, opts)
		if err == nil {
			return res, nil
		}
		if !opts.FallbackToDatabase {
			return nil, err
		}
		e.logger.Warn("hybrid search failed, falling back to database",
			"user_id", userID, "error", err)
	case opts.UseEmbedding:
		res, degraded, err := e.searchVector(ctx, query, memories, opts)
		if err == nil && !degraded {
			return res, nil
		}
		if err != nil && !opts.FallbackToDatabase {
			return nil, err
		}
		if err != nil {
			e.logger.Warn("vector search failed, falling back to database",
				"user_id", userID, "error", err)
		}
	}

	return e.searchDatabase(query, memories, opts), nil
}

func (e *Engine) applyDefaults(opts Options) Options {
	if opts.Limit <= 0 {
		opts.Limit = e.defaults.Limit
	}
	if opts.Page <= 0 {
		opts.Page = 1
	}
	if opts.Threshold == 0 {
		opts.Threshold = e.defaults.Threshold
	}
	if opts.VectorWeight == 0 {
		opts.VectorWeight = e.defaults.VectorWeight
	}
	if opts.TextWeight == 0 {
		opts.TextWeight = e.defaults.TextWeight
	}
	return opts
}

// candidate carries transient ranking data for one memory.
type candidate struct {
	mem        *storage.Memory
	similarity float64
	vector     float64
	text       float64
	hybrid     float64
	hasVector  bool
	hasText    bool
}

// embedQuery resolves the provider and embeds the query under the
// engine's query timeout.
func (e *Engine) embedQuery(ctx context.Context, query, providerName string) ([]float32, error) {
	p, err := e.providers.Resolve(providerName)
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(ctx, e.defaults.QueryTimeout)
	defer cancel()
	return p.Embed(ctx, query)
}

// vectorCandidates scores every embedded memory against the query vector
// and keeps those at or above the threshold, sorted by similarity.
func vectorCandidates(queryVec []float32, memories []*storage.Memory, threshold float64) []*candidate {
	var out []*candidate
	for _, m := range memories {
		if m.Embedding == nil {
			continue
		}
		sim := CosineSimilarity(queryVec, m.Embedding)
		if sim < threshold {
			continue
		}
		out = append(out, &candidate{mem: m, similarity: sim, vector: sim, hasVector: true})
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].similarity != out[j].similarity {
			return out[i].similarity > out[j].similarity
		}
		return newerFirst(out[i].mem, out[j].mem)
	})
	return out
}

// lexicalMatches returns memories where any surviving token substring-
// matches content, title, project name, or a tag. Input order (newest
// first) is preserved; pure database mode does not rank.
func lexicalMatches(tokens []string, memories []*storage.Memory) []*candidate {
	var out []*candidate
	for _, m := range memories {
		if matchesAnyToken(tokens, lowerFields(m)) {
			out = append(out, &candidate{mem: m})
		}
	}
	return out
}

func matchesAnyToken(tokens []string, f textFields) bool {
	for _, tok := range tokens {
		if strings.Contains(f.content, tok) || strings.Contains(f.title, tok) ||
			strings.Contains(f.project, tok) {
			return true
		}
		for _, tag := range f.tags {
			if strings.Contains(tag, tok) {
				return true
			}
		}
	}
	return false
}

func lowerFields(m *storage.Memory) textFields {
	tags := make([]string, len(m.Tags))
	for i, t := range m.Tags {
		tags[i] = strings.ToLower(t)
	}
	return textFields{
		title:   strings.ToLower(m.Title),
		tags:    tags,
		project: strings.ToLower(m.ProjectName),
		content: strings.ToLower(m.Content),
	}
}

// searchVector runs pure vector mode. degraded reports the cases that
// must fall through to database mode regardless of the fallback flag: a
// failed query embedding or an empty thresholded result.
func (e *Engine) searchVector(ctx context.Context, query string, memories []*storage.Memory, opts Options) (res *Result, degraded bool, err error) {
	queryVec, err := e.embedQuery(ctx, query, opts.Provider)
	if err != nil {
		e.logger.Warn("query embedding failed", "error", err)
		return nil, true, nil
	}

	cands := vectorCandidates(queryVec, memories, opts.Threshold)
	if len(cands) == 0 {
		return nil, true, nil
	}
	return e.buildResult(query, MethodVector, cands, opts), false, nil
}

// searchHybrid runs vector and lexical candidate generation in parallel
// and blends the scores. Vector-leg failures are swallowed: they yield
// zero vector candidates, not an aborted search.
func (e *Engine) searchHybrid(ctx context.Context, query string, memories []*storage.Memory, opts Options) (*Result, error) {
	// Matching uses the filtered tokens; scoring normalizes over every
	// word of the query, so short words dilute relevance.
	words := SplitWords(query)
	tokens := Tokenize(query)

	var vecCands, lexCands []*candidate
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		queryVec, err := e.embedQuery(gctx, query, opts.Provider)
		if err != nil {
			e.logger.Warn("hybrid vector leg failed", "error", err)
			return nil
		}
		vecCands = vectorCandidates(queryVec, memories, opts.Threshold)
		return nil
	})
	g.Go(func() error {
		for _, c := range lexicalMatches(tokens, memories) {
			score := TextRelevance(words, lowerFields(c.mem), e.weights)
			if score > opts.TextWeight {
				c.text = score
				c.hasText = true
				lexCands = append(lexCands, c)
			}
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	merged := make(map[string]*candidate, len(vecCands)+len(lexCands))
	for _, c := range vecCands {
		merged[c.mem.ID] = c
	}
	for _, c := range lexCands {
		if existing, ok := merged[c.mem.ID]; ok {
			existing.text = c.text
			existing.hasText = true
			continue
		}
		merged[c.mem.ID] = c
	}

	cands := make([]*candidate, 0, len(merged))
	for _, c := range merged {
		c.hybrid = c.vector*opts.VectorWeight + c.text*opts.TextWeight
		cands = append(cands, c)
	}
	sort.SliceStable(cands, func(i, j int) bool {
		if cands[i].hybrid != cands[j].hybrid {
			return cands[i].hybrid > cands[j].hybrid
		}
		return newerFirst(cands[i].mem, cands[j].mem)
	})

	return e.buildResult(query, MethodHybrid, cands, opts), nil
}

// searchDatabase runs pure lexical matching, newest first.
func (e *Engine) searchDatabase(query string, memories []*storage.Memory, opts Options) *Result {
	cands := lexicalMatches(Tokenize(query), memories)
	return e.buildResult(query, MethodDatabase, cands, opts)
}

// buildResult paginates the fully ranked candidate list and attaches the
// scores applicable to the mode that produced it.
func (e *Engine) buildResult(query, method string, cands []*candidate, opts Options) *Result {
	total := len(cands)
	start := (opts.Page - 1) * opts.Limit
	if start > total {
		start = total
	}
	end := start + opts.Limit
	if end > total {
		end = total
	}

	items := make([]ResultItem, 0, end-start)
	for _, c := range cands[start:end] {
		item := ResultItem{
			ID:           c.mem.ID,
			Title:        c.mem.Title,
			Content:      c.mem.Content,
			DocumentType: c.mem.DocumentType,
			ProjectName:  c.mem.ProjectName,
			Tags:         c.mem.Tags,
			Visibility:   c.mem.Visibility,
			CreatedAt:    c.mem.CreatedAt.Format(time.RFC3339),
			UpdatedAt:    c.mem.UpdatedAt.Format(time.RFC3339),
		}
		switch method {
		case MethodVector:
			item.Similarity = roundedPtr(c.similarity)
		case MethodHybrid:
			item.HybridScore = roundedPtr(c.hybrid)
			item.VectorScore = roundedPtr(c.vector)
			item.TextScore = roundedPtr(c.text)
		}
		items = append(items, item)
	}

	return &Result{
		Metadata: Metadata{
			Total:        total,
			Success:      true,
			Query:        query,
			Limit:        opts.Limit,
			Threshold:    opts.Threshold,
			SearchMethod: method,
			Page:         opts.Page,
		},
		Results: items,
	}
}

func newerFirst(a, b *storage.Memory) bool {
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.After(b.CreatedAt)
	}
	return a.ID > b.ID
}

func roundedPtr(x float64) *float64 {
	r := RoundScore(x)
	return &r
}
