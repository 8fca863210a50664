package api

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/kovalev/memoria/internal/jobs"
	"github.com/kovalev/memoria/internal/provider"
	"github.com/kovalev/memoria/internal/search"
	"github.com/kovalev/memoria/internal/storage"
)

const testToken = "test-token-12345"

type testProvider struct {
	vec []float32
	err error
}

func (p *testProvider) Embed(_ context.Context, _ string) ([]float32, error) {
	return p.vec, p.err
}
func (p *testProvider) Healthy(_ context.Context) bool { return true }
func (p *testProvider) Name() string                   { return "test" }
func (p *testProvider) Dimensions() int                { return len(p.vec) }

func setupAppHandler(t *testing.T) (http.Handler, *storage.Store) {
	t.Helper()
	store, err := storage.Open(":memory:")
	if err != nil {
		t.Fatalf("Open(:memory:) failed: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	logger := slog.New(slog.DiscardHandler)
	registry := provider.NewRegistry("test", nil, map[string]provider.Settings{})
	registry.Register("test", &testProvider{vec: []float32{1, 0, 0}})

	queue := jobs.NewQueue(store, registry, jobs.DefaultPolicy(), logger)
	engine := search.NewEngine(store, registry, search.Defaults{}, logger)
	sweeper := jobs.NewSweeper(store, registry, logger)

	handler := NewAppHandler(AppDeps{
		Store:   store,
		Engine:  engine,
		Queue:   queue,
		Sweeper: sweeper,
		Token:   testToken,
		Logger:  logger,
	})
	return handler, store
}

func authReq(method, url, body, token string) *http.Request {
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, url, reader)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return req
}

func TestAuthRequired(t *testing.T) {
	h, _ := setupAppHandler(t)

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, authReq(http.MethodGet, "/memories/recent", "", ""))
	if rr.Code != http.StatusUnauthorized {
		t.Errorf("no token: status = %d, want 401", rr.Code)
	}

	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, authReq(http.MethodGet, "/memories/recent", "", "wrong-token"))
	if rr.Code != http.StatusUnauthorized {
		t.Errorf("bad token: status = %d, want 401", rr.Code)
	}

	// Health probe is unauthenticated.
	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, authReq(http.MethodGet, "/health", "", ""))
	if rr.Code != http.StatusOK {
		t.Errorf("health: status = %d, want 200", rr.Code)
	}
}

func TestCreateMemoryEnqueuesJob(t *testing.T) {
	h, store := setupAppHandler(t)

	body := `{"content":"Go generics cheat sheet","title":"Generics","tags":["go"]}`
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, authReq(http.MethodPost, "/memories", body, testToken))
	if rr.Code != http.StatusCreated {
		t.Fatalf("status = %d, body = %s", rr.Code, rr.Body.String())
	}

	var resp MemoryResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if resp.ID == "" || resp.Embedded {
		t.Errorf("response = %+v, want unembedded memory with id", resp)
	}

	job, err := store.GetJobForMemory(context.Background(), resp.ID)
	if err != nil {
		t.Fatalf("GetJobForMemory: %v", err)
	}
	if job.Status != storage.JobPending || job.Provider != "test" {
		t.Errorf("job = %+v, want pending on default provider", job)
	}
}

func TestCreateMemoryValidation(t *testing.T) {
	h, _ := setupAppHandler(t)

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, authReq(http.MethodPost, "/memories", `{"title":"no content"}`, testToken))
	if rr.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400 for missing content", rr.Code)
	}
}

func TestMemoryCRUD(t *testing.T) {
	h, _ := setupAppHandler(t)

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, authReq(http.MethodPost, "/memories", `{"content":"original"}`, testToken))
	var created MemoryResponse
	json.Unmarshal(rr.Body.Bytes(), &created)

	// Read it back.
	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, authReq(http.MethodGet, "/memories/"+created.ID, "", testToken))
	if rr.Code != http.StatusOK {
		t.Fatalf("get: status = %d", rr.Code)
	}

	// Update.
	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, authReq(http.MethodPut, "/memories/"+created.ID, `{"content":"edited"}`, testToken))
	if rr.Code != http.StatusOK {
		t.Fatalf("update: status = %d, body = %s", rr.Code, rr.Body.String())
	}
	var updated MemoryResponse
	json.Unmarshal(rr.Body.Bytes(), &updated)
	if updated.Content != "edited" || updated.Embedded {
		t.Errorf("updated = %+v, want edited content with embedding cleared", updated)
	}

	// Delete.
	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, authReq(http.MethodDelete, "/memories/"+created.ID, "", testToken))
	if rr.Code != http.StatusOK {
		t.Fatalf("delete: status = %d", rr.Code)
	}
	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, authReq(http.MethodGet, "/memories/"+created.ID, "", testToken))
	if rr.Code != http.StatusNotFound {
		t.Errorf("get after delete: status = %d, want 404", rr.Code)
	}
}

func TestUserIsolation(t *testing.T) {
	h, _ := setupAppHandler(t)

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, authReq(http.MethodPost, "/memories", `{"content":"mine"}`, testToken))
	var created MemoryResponse
	json.Unmarshal(rr.Body.Bytes(), &created)

	req := authReq(http.MethodGet, "/memories/"+created.ID, "", testToken)
	req.Header.Set("X-Memoria-User", "someone-else")
	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	if rr.Code != http.StatusNotFound {
		t.Errorf("cross-user get: status = %d, want 404", rr.Code)
	}
}

func TestShareTokenFetch(t *testing.T) {
	h, _ := setupAppHandler(t)

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, authReq(http.MethodPost, "/memories",
		`{"content":"shared note","visibility":"unlisted"}`, testToken))
	var created MemoryResponse
	json.Unmarshal(rr.Body.Bytes(), &created)
	if created.ShareToken == "" {
		t.Fatal("unlisted memory should get a share token")
	}

	// Share fetch needs no auth.
	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, authReq(http.MethodGet, "/share/"+created.ShareToken, "", ""))
	if rr.Code != http.StatusOK {
		t.Fatalf("share fetch: status = %d, body = %s", rr.Code, rr.Body.String())
	}
	var fetched MemoryResponse
	json.Unmarshal(rr.Body.Bytes(), &fetched)
	if fetched.Content != "shared note" {
		t.Errorf("fetched = %+v", fetched)
	}
	if fetched.ShareToken != "" {
		t.Error("share fetch must not echo the token")
	}

	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, authReq(http.MethodGet, "/share/unknown-token", "", ""))
	if rr.Code != http.StatusNotFound {
		t.Errorf("unknown token: status = %d, want 404", rr.Code)
	}
}

func TestSearchEndpoint(t *testing.T) {
	h, _ := setupAppHandler(t)

	for i := 0; i < 3; i++ {
		body := fmt.Sprintf(`{"content":"kubernetes deployment pattern %d"}`, i)
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, authReq(http.MethodPost, "/memories", body, testToken))
	}

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, authReq(http.MethodGet, "/search?q=kubernetes&hybrid=false&use_embedding=false", "", testToken))
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rr.Code, rr.Body.String())
	}

	var res search.Result
	if err := json.Unmarshal(rr.Body.Bytes(), &res); err != nil {
		t.Fatalf("decoding result: %v", err)
	}
	if res.Metadata.SearchMethod != search.MethodDatabase || res.Metadata.Total != 3 {
		t.Errorf("metadata = %+v", res.Metadata)
	}

	// Missing query is a validation error.
	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, authReq(http.MethodGet, "/search", "", testToken))
	if rr.Code != http.StatusBadRequest {
		t.Errorf("empty query: status = %d, want 400", rr.Code)
	}
}

func TestProviderHealthEndpoint(t *testing.T) {
	h, store := setupAppHandler(t)

	if err := store.RecordHealthCheck(context.Background(), "test", true, 0, ""); err != nil {
		t.Fatalf("RecordHealthCheck: %v", err)
	}

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, authReq(http.MethodGet, "/providers/health", "", testToken))
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
	var rows []map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &rows); err != nil {
		t.Fatalf("decoding: %v", err)
	}
	if len(rows) != 1 || rows[0]["provider"] != "test" || rows[0]["healthy"] != true {
		t.Errorf("rows = %v", rows)
	}
}

func TestAdminSweepEndpoints(t *testing.T) {
	h, store := setupAppHandler(t)

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, authReq(http.MethodPost, "/admin/health-check", "", testToken))
	if rr.Code != http.StatusOK {
		t.Fatalf("health-check: status = %d, body = %s", rr.Code, rr.Body.String())
	}
	if _, err := store.GetProviderHealth(context.Background(), "test"); err != nil {
		t.Errorf("health sweep did not record a row: %v", err)
	}

	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, authReq(http.MethodPost, "/admin/cleanup", "", testToken))
	if rr.Code != http.StatusOK {
		t.Fatalf("cleanup: status = %d", rr.Code)
	}
}

func TestJobStatsEndpoint(t *testing.T) {
	h, _ := setupAppHandler(t)

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, authReq(http.MethodPost, "/memories", `{"content":"stats target"}`, testToken))

	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, authReq(http.MethodGet, "/jobs/stats", "", testToken))
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
	var stats map[string]int
	json.Unmarshal(rr.Body.Bytes(), &stats)
	if stats["pending"] != 1 {
		t.Errorf("stats = %v, want one pending job", stats)
	}
}

func TestImportText(t *testing.T) {
	h, store := setupAppHandler(t)

	body := `{"type":"text","content":"imported notes","title":"Import"}`
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, authReq(http.MethodPost, "/import", body, testToken))
	if rr.Code != http.StatusCreated {
		t.Fatalf("status = %d, body = %s", rr.Code, rr.Body.String())
	}

	var resp MemoryResponse
	json.Unmarshal(rr.Body.Bytes(), &resp)
	if resp.DocumentType != "text" {
		t.Errorf("DocumentType = %q", resp.DocumentType)
	}
	if _, err := store.GetJobForMemory(context.Background(), resp.ID); err != nil {
		t.Errorf("import did not enqueue embedding: %v", err)
	}
}

func TestImportURL(t *testing.T) {
	page := `<html><head><style>.x{}</style></head><body><h1>Title</h1><p>Body text</p><script>var x;</script></body></html>`
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(page))
	}))
	defer upstream.Close()

	h, _ := setupAppHandler(t)

	body := fmt.Sprintf(`{"type":"url","url":%q}`, upstream.URL)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, authReq(http.MethodPost, "/import", body, testToken))
	if rr.Code != http.StatusCreated {
		t.Fatalf("status = %d, body = %s", rr.Code, rr.Body.String())
	}

	var resp MemoryResponse
	json.Unmarshal(rr.Body.Bytes(), &resp)
	if !strings.Contains(resp.Content, "Body text") {
		t.Errorf("content = %q, want stripped page text", resp.Content)
	}
	if strings.Contains(resp.Content, "var x") || strings.Contains(resp.Content, ".x{}") {
		t.Errorf("content = %q, script/style must be stripped", resp.Content)
	}
	if resp.Title != upstream.URL {
		t.Errorf("title = %q, want the url", resp.Title)
	}
}

func TestImportUnknownType(t *testing.T) {
	h, _ := setupAppHandler(t)

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, authReq(http.MethodPost, "/import", `{"type":"carrier-pigeon","content":"x"}`, testToken))
	if rr.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rr.Code)
	}
}
