package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
)

const defaultCohereBaseURL = "https://api.cohere.com"

// CohereProvider generates embeddings via the Cohere embed API.
type CohereProvider struct {
	name       string
	apiKey     string
	model      string
	dimensions int
	baseURL    string
	httpClient *http.Client
}

// NewCohereProvider creates a Cohere-backed provider from settings.
func NewCohereProvider(name string, s Settings) (*CohereProvider, error) {
	if s.APIKey == "" {
		return nil, fmt.Errorf("%w: cohere api key not set", ErrMissingCredentials)
	}
	baseURL := s.BaseURL
	if baseURL == "" {
		baseURL = defaultCohereBaseURL
	}
	return &CohereProvider{
		name:       name,
		apiKey:     s.APIKey,
		model:      s.Model,
		dimensions: s.Dimensions,
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{},
	}, nil
}

func (p *CohereProvider) Embed(ctx context.Context, text string) ([]float32, error) {
	if text == "" {
		return nil, ErrEmptyText
	}

	reqBody, err := json.Marshal(map[string]any{
		"texts":      []string{text},
		"model":      p.model,
		"input_type": "search_document",
	})
	if err != nil {
		return nil, fmt.Errorf("marshaling request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/v1/embed", bytes.NewReader(reqBody))
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+p.apiKey)

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEmbedFailed, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("%w: cohere returned %d: %s", ErrEmbedFailed, resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var apiResp struct {
		Embeddings [][]float32 `json:"embeddings"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&apiResp); err != nil {
		return nil, fmt.Errorf("%w: decoding response: %v", ErrEmbedFailed, err)
	}
	if len(apiResp.Embeddings) == 0 {
		return nil, fmt.Errorf("%w: no embeddings returned", ErrEmbedFailed)
	}
	return apiResp.Embeddings[0], nil
}

// Healthy probes GET /v1/models with a bounded timeout.
func (p *CohereProvider) Healthy(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, healthCheckTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL+"/v1/models", nil)
	if err != nil {
		return false
	}
	req.Header.Set("Authorization", "Bearer "+p.apiKey)

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return false
	}
	resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}

func (p *CohereProvider) Name() string { return p.name }

func (p *CohereProvider) Dimensions() int { return p.dimensions }
