package provider

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestOpenAIProvider_Embed(t *testing.T) {
	var gotBody map[string]any
	var gotAuth string

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/embeddings" {
			t.Errorf("path = %q, want /v1/embeddings", r.URL.Path)
		}
		gotAuth = r.Header.Get("Authorization")
		json.NewDecoder(r.Body).Decode(&gotBody)

		json.NewEncoder(w).Encode(map[string]any{
			"data": []map[string]any{
				{"embedding": []float32{0.1, 0.2, 0.3}},
			},
		})
	}))
	defer srv.Close()

	p, err := NewOpenAIProvider("openai", Settings{
		APIKey:  "sk-test",
		Model:   "text-embedding-3-small",
		BaseURL: srv.URL,
	})
	if err != nil {
		t.Fatalf("NewOpenAIProvider: %v", err)
	}

	vec, err := p.Embed(context.Background(), "hello world")
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	if len(vec) != 3 {
		t.Fatalf("len(vec) = %d, want 3", len(vec))
	}
	if gotAuth != "Bearer sk-test" {
		t.Errorf("auth = %q, want Bearer sk-test", gotAuth)
	}
	if gotBody["input"] != "hello world" {
		t.Errorf("input = %v, want 'hello world'", gotBody["input"])
	}
	if gotBody["model"] != "text-embedding-3-small" {
		t.Errorf("model = %v, want text-embedding-3-small", gotBody["model"])
	}
}

func TestOpenAIProvider_EmbedEmptyText(t *testing.T) {
	p, err := NewOpenAIProvider("openai", Settings{APIKey: "sk-test"})
	if err != nil {
		t.Fatalf("NewOpenAIProvider: %v", err)
	}

	_, err = p.Embed(context.Background(), "")
	if !errors.Is(err, ErrEmptyText) {
		t.Errorf("err = %v, want ErrEmptyText", err)
	}
}

func TestOpenAIProvider_EmbedAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		w.Write([]byte(`{"error":{"message":"rate limited"}}`))
	}))
	defer srv.Close()

	p, _ := NewOpenAIProvider("openai", Settings{APIKey: "sk-test", BaseURL: srv.URL})

	_, err := p.Embed(context.Background(), "text")
	if !errors.Is(err, ErrEmbedFailed) {
		t.Errorf("err = %v, want ErrEmbedFailed", err)
	}
}

func TestOpenAIProvider_MissingKey(t *testing.T) {
	_, err := NewOpenAIProvider("openai", Settings{})
	if !errors.Is(err, ErrMissingCredentials) {
		t.Errorf("err = %v, want ErrMissingCredentials", err)
	}
}

func TestOpenAIProvider_Healthy(t *testing.T) {
	status := http.StatusOK
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/models" {
			t.Errorf("path = %q, want /v1/models", r.URL.Path)
		}
		w.WriteHeader(status)
	}))
	defer srv.Close()

	p, _ := NewOpenAIProvider("openai", Settings{APIKey: "sk-test", BaseURL: srv.URL})

	if !p.Healthy(context.Background()) {
		t.Error("expected healthy")
	}

	status = http.StatusInternalServerError
	if p.Healthy(context.Background()) {
		t.Error("expected unhealthy on 500")
	}

	srv.Close()
	if p.Healthy(context.Background()) {
		t.Error("expected unhealthy when unreachable")
	}
}
