package search

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/kovalev/memoria/internal/provider"
	"github.com/kovalev/memoria/internal/storage"
)

type stubSource struct {
	memories []*storage.Memory
	err      error
}

func (s *stubSource) ListUserMemories(_ context.Context, _ string) ([]*storage.Memory, error) {
	return s.memories, s.err
}

type stubProvider struct {
	vec     []float32
	embErr  error
	healthy bool
}

func (p *stubProvider) Embed(_ context.Context, _ string) ([]float32, error) {
	return p.vec, p.embErr
}
func (p *stubProvider) Healthy(_ context.Context) bool { return p.healthy }
func (p *stubProvider) Name() string                   { return "stub" }
func (p *stubProvider) Dimensions() int                { return len(p.vec) }

type stubResolver struct {
	p   provider.Provider
	err error
}

func (r *stubResolver) Resolve(_ string) (provider.Provider, error) {
	return r.p, r.err
}

func mem(id, title, content string, created time.Time, embedding []float32) *storage.Memory {
	return &storage.Memory{
		ID:        id,
		UserID:    "u1",
		Title:     title,
		Content:   content,
		Tags:      []string{},
		CreatedAt: created,
		UpdatedAt: created,
		Embedding: embedding,
	}
}

func newTestEngine(source MemorySource, resolver ProviderResolver) *Engine {
	return NewEngine(source, resolver, Defaults{}, nil)
}

func TestSearchEmptyQuery(t *testing.T) {
	e := newTestEngine(&stubSource{}, &stubResolver{p: &stubProvider{}})
	if _, err := e.Search(context.Background(), "u1", "   ", Options{}); !errors.Is(err, ErrEmptyQuery) {
		t.Errorf("err = %v, want ErrEmptyQuery", err)
	}
}

// Scenario: useEmbedding=false goes straight to database mode and only
// lexical matches come back.
func TestSearchDatabaseMode(t *testing.T) {
	now := time.Now()
	source := &stubSource{memories: []*storage.Memory{
		mem("m1", "Laravel guide", "framework notes", now, []float32{1, 0, 0}),
		mem("m2", "Vue guide", "frontend notes", now.Add(-time.Hour), nil),
	}}
	e := newTestEngine(source, &stubResolver{p: &stubProvider{}})

	res, err := e.Search(context.Background(), "u1", "Laravel", Options{})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if res.Metadata.SearchMethod != MethodDatabase {
		t.Errorf("search_method = %q, want database", res.Metadata.SearchMethod)
	}
	if len(res.Results) != 1 || res.Results[0].ID != "m1" {
		t.Fatalf("results = %+v, want only m1", res.Results)
	}
	if res.Results[0].Similarity != nil || res.Results[0].HybridScore != nil {
		t.Error("database mode must not attach scores")
	}
}

func TestSearchVectorMode(t *testing.T) {
	now := time.Now()
	source := &stubSource{memories: []*storage.Memory{
		mem("close", "a", "", now, []float32{1, 0, 0}),
		mem("far", "b", "", now, []float32{0, 1, 0}),
		mem("unembedded", "c", "", now, nil),
	}}
	resolver := &stubResolver{p: &stubProvider{vec: []float32{1, 0, 0}}}
	e := newTestEngine(source, resolver)

	res, err := e.Search(context.Background(), "u1", "anything", Options{UseEmbedding: true})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if res.Metadata.SearchMethod != MethodVector {
		t.Errorf("search_method = %q, want vector", res.Metadata.SearchMethod)
	}
	if len(res.Results) != 1 || res.Results[0].ID != "close" {
		t.Fatalf("results = %+v, want only the above-threshold memory", res.Results)
	}
	if res.Results[0].Similarity == nil || *res.Results[0].Similarity != 1.0 {
		t.Errorf("similarity = %v, want 1.0", res.Results[0].Similarity)
	}
}

// A failed query embedding degrades to database mode even without the
// fallback flag; no error surfaces.
func TestSearchVectorEmbedFailureFallsBack(t *testing.T) {
	now := time.Now()
	source := &stubSource{memories: []*storage.Memory{
		mem("m1", "Laravel guide", "", now, []float32{1, 0, 0}),
	}}
	resolver := &stubResolver{p: &stubProvider{embErr: errors.New("quota exceeded")}}
	e := newTestEngine(source, resolver)

	res, err := e.Search(context.Background(), "u1", "Laravel", Options{UseEmbedding: true})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if res.Metadata.SearchMethod != MethodDatabase {
		t.Errorf("search_method = %q, want database after embed failure", res.Metadata.SearchMethod)
	}
	if len(res.Results) != 1 {
		t.Errorf("got %d results, want the lexical match", len(res.Results))
	}
}

// Zero candidates surviving the threshold is a result-emptiness
// fallback, also independent of the flag.
func TestSearchVectorEmptyFallsBack(t *testing.T) {
	now := time.Now()
	source := &stubSource{memories: []*storage.Memory{
		mem("m1", "orthogonal notes", "", now, []float32{0, 1, 0}),
	}}
	resolver := &stubResolver{p: &stubProvider{vec: []float32{1, 0, 0}}}
	e := newTestEngine(source, resolver)

	res, err := e.Search(context.Background(), "u1", "orthogonal", Options{UseEmbedding: true})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if res.Metadata.SearchMethod != MethodDatabase {
		t.Errorf("search_method = %q, want database on empty vector result", res.Metadata.SearchMethod)
	}
}

// A candidate found only by the lexical leg scores
// hybrid = text_score * textWeight with vector_score 0.
func TestSearchHybridLexicalOnlyCandidate(t *testing.T) {
	now := time.Now()
	source := &stubSource{memories: []*storage.Memory{
		mem("lex", "Laravel deployment", "notes", now, nil),
	}}
	resolver := &stubResolver{p: &stubProvider{vec: []float32{1, 0, 0}}}
	e := newTestEngine(source, resolver)

	res, err := e.Search(context.Background(), "u1", "Laravel", Options{
		UseHybridSearch: true,
		VectorWeight:    0.7,
		TextWeight:      0.3,
	})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if res.Metadata.SearchMethod != MethodHybrid {
		t.Fatalf("search_method = %q, want hybrid", res.Metadata.SearchMethod)
	}
	if len(res.Results) != 1 {
		t.Fatalf("got %d results, want 1", len(res.Results))
	}
	r := res.Results[0]
	if r.VectorScore == nil || *r.VectorScore != 0 {
		t.Errorf("vector_score = %v, want 0", r.VectorScore)
	}
	if r.TextScore == nil || *r.TextScore != 1.0 {
		t.Errorf("text_score = %v, want 1.0 (single token title hit)", r.TextScore)
	}
	if r.HybridScore == nil || *r.HybridScore != RoundScore(1.0*0.3) {
		t.Errorf("hybrid_score = %v, want text*0.3", r.HybridScore)
	}
}

// A word hitting several fields accumulates their weights, which can
// lift a candidate over the lexical admission bar that a single field
// alone would miss: project (2.0) + content (1.0) over three words is
// 3/9 ≈ 0.333 > 0.3.
func TestSearchHybridAdmissionAccumulatesFields(t *testing.T) {
	now := time.Now()
	m := &storage.Memory{
		ID:          "acc",
		UserID:      "u1",
		Title:       "deploy notes",
		ProjectName: "acme",
		Content:     "acme release steps",
		Tags:        []string{},
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	resolver := &stubResolver{p: &stubProvider{embErr: errors.New("down")}}
	e := newTestEngine(&stubSource{memories: []*storage.Memory{m}}, resolver)

	res, err := e.Search(context.Background(), "u1", "acme zzz yyy", Options{
		UseHybridSearch: true,
		VectorWeight:    0.7,
		TextWeight:      0.3,
	})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(res.Results) != 1 || res.Results[0].ID != "acc" {
		t.Fatalf("results = %+v, want the accumulated-score candidate", res.Results)
	}
	want := RoundScore((2.0 + 1.0) / (3 * 3.0))
	if got := res.Results[0].TextScore; got == nil || *got != want {
		t.Errorf("text_score = %v, want %v", got, want)
	}
}

// Vector-leg failures inside hybrid mode are swallowed; lexical results
// still come back as hybrid.
func TestSearchHybridSwallowsVectorErrors(t *testing.T) {
	now := time.Now()
	source := &stubSource{memories: []*storage.Memory{
		mem("lex", "Laravel deployment", "notes", now, nil),
	}}
	resolver := &stubResolver{p: &stubProvider{embErr: errors.New("down")}}
	e := newTestEngine(source, resolver)

	res, err := e.Search(context.Background(), "u1", "Laravel", Options{UseHybridSearch: true})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if res.Metadata.SearchMethod != MethodHybrid {
		t.Errorf("search_method = %q, want hybrid", res.Metadata.SearchMethod)
	}
	if len(res.Results) != 1 {
		t.Errorf("got %d results, want the lexical candidate", len(res.Results))
	}
}

// Both legs hitting the same memory blend: vector*0.7 + text*0.3.
func TestSearchHybridBlend(t *testing.T) {
	now := time.Now()
	source := &stubSource{memories: []*storage.Memory{
		mem("both", "Laravel guide", "", now, []float32{1, 0, 0}),
		mem("vecOnly", "unrelated title", "", now.Add(-time.Minute), []float32{1, 0, 0}),
	}}
	resolver := &stubResolver{p: &stubProvider{vec: []float32{1, 0, 0}}}
	e := newTestEngine(source, resolver)

	res, err := e.Search(context.Background(), "u1", "Laravel", Options{UseHybridSearch: true})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(res.Results) != 2 {
		t.Fatalf("got %d results, want 2", len(res.Results))
	}
	// both: 1.0*0.7 + 1.0*0.3 = 1.0; vecOnly: 1.0*0.7 = 0.7.
	if res.Results[0].ID != "both" {
		t.Errorf("top result = %s, want the blended candidate", res.Results[0].ID)
	}
	if *res.Results[0].HybridScore != 1.0 {
		t.Errorf("hybrid_score = %v, want 1.0", *res.Results[0].HybridScore)
	}
	if *res.Results[1].HybridScore != RoundScore(0.7) {
		t.Errorf("second hybrid_score = %v, want 0.7", *res.Results[1].HybridScore)
	}
}

func TestSearchPagination(t *testing.T) {
	now := time.Now()
	var memories []*storage.Memory
	for i := 0; i < 5; i++ {
		memories = append(memories, mem(
			string(rune('a'+i)), "golang notes", "",
			now.Add(-time.Duration(i)*time.Minute), nil))
	}
	e := newTestEngine(&stubSource{memories: memories}, &stubResolver{p: &stubProvider{}})

	res, err := e.Search(context.Background(), "u1", "golang", Options{Limit: 2, Page: 2})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if res.Metadata.Total != 5 || res.Metadata.Page != 2 {
		t.Errorf("metadata = %+v, want total 5 page 2", res.Metadata)
	}
	if len(res.Results) != 2 || res.Results[0].ID != "c" || res.Results[1].ID != "d" {
		t.Errorf("page 2 = %v", res.Results)
	}

	// Page past the end is empty but still reports totals.
	res, err = e.Search(context.Background(), "u1", "golang", Options{Limit: 2, Page: 9})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(res.Results) != 0 || res.Metadata.Total != 5 {
		t.Errorf("overflow page = %+v", res)
	}
}

func TestSearchSourceError(t *testing.T) {
	e := newTestEngine(&stubSource{err: errors.New("db gone")}, &stubResolver{p: &stubProvider{}})
	if _, err := e.Search(context.Background(), "u1", "query", Options{}); err == nil {
		t.Error("expected source error to propagate")
	}
}
