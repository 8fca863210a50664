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

const defaultCloudflareBaseURL = "https://api.cloudflare.com"

// CloudflareProvider generates embeddings via Cloudflare Workers AI.
type CloudflareProvider struct {
	name       string
	apiToken   string
	accountID  string
	model      string
	dimensions int
	baseURL    string
	httpClient *http.Client
}

// NewCloudflareProvider creates a Workers-AI-backed provider from settings.
func NewCloudflareProvider(name string, s Settings) (*CloudflareProvider, error) {
	if s.APIKey == "" {
		return nil, fmt.Errorf("%w: cloudflare api token not set", ErrMissingCredentials)
	}
	if s.AccountID == "" {
		return nil, fmt.Errorf("%w: cloudflare account id not set", ErrMissingCredentials)
	}
	baseURL := s.BaseURL
	if baseURL == "" {
		baseURL = defaultCloudflareBaseURL
	}
	return &CloudflareProvider{
		name:       name,
		apiToken:   s.APIKey,
		accountID:  s.AccountID,
		model:      s.Model,
		dimensions: s.Dimensions,
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{},
	}, nil
}

func (p *CloudflareProvider) Embed(ctx context.Context, text string) ([]float32, error) {
	if text == "" {
		return nil, ErrEmptyText
	}

	reqBody, err := json.Marshal(map[string]any{
		"text": []string{text},
	})
	if err != nil {
		return nil, fmt.Errorf("marshaling request: %w", err)
	}

	url := fmt.Sprintf("%s/client/v4/accounts/%s/ai/run/%s", p.baseURL, p.accountID, p.model)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(reqBody))
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+p.apiToken)

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEmbedFailed, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("%w: cloudflare returned %d: %s", ErrEmbedFailed, resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var apiResp struct {
		Success bool `json:"success"`
		Result  struct {
			Data [][]float32 `json:"data"`
		} `json:"result"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&apiResp); err != nil {
		return nil, fmt.Errorf("%w: decoding response: %v", ErrEmbedFailed, err)
	}
	if !apiResp.Success || len(apiResp.Result.Data) == 0 {
		return nil, fmt.Errorf("%w: no embeddings returned", ErrEmbedFailed)
	}
	return apiResp.Result.Data[0], nil
}

// Healthy verifies the API token against the Cloudflare verify endpoint.
func (p *CloudflareProvider) Healthy(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, healthCheckTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL+"/client/v4/user/tokens/verify", nil)
	if err != nil {
		return false
	}
	req.Header.Set("Authorization", "Bearer "+p.apiToken)

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return false
	}
	resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}

func (p *CloudflareProvider) Name() string { return p.name }

func (p *CloudflareProvider) Dimensions() int { return p.dimensions }
