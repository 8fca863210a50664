package api

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/ledongthuc/pdf"
	"golang.org/x/net/html"

	"github.com/kovalev/memoria/internal/storage"
)

const maxImportBodySize = 10 << 20 // 10MB
const maxURLFetchSize = 5 << 20    // 5MB

// ImportRequest brings external content into the memory store. Type is
// one of "text", "url", or "pdf"; pdf content is base64-encoded.
type ImportRequest struct {
	Type        string   `json:"type"`
	Title       string   `json:"title"`
	Content     string   `json:"content"`
	URL         string   `json:"url"`
	ProjectName string   `json:"project_name"`
	Tags        []string `json:"tags"`
	Provider    string   `json:"provider"`
}

func handleImport(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxImportBodySize)
		defer r.Body.Close()

		var req ImportRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}
		if req.Type == "" {
			req.Type = "text"
		}

		var content string
		var err error
		switch req.Type {
		case "text":
			content = req.Content
		case "url":
			if req.URL == "" {
				httpError(w, http.StatusBadRequest, "invalid_request_error", "url is required for url imports")
				return
			}
			content, err = fetchURLText(r.Context(), deps.HTTPClient, req.URL)
			if err != nil {
				httpError(w, http.StatusBadGateway, "api_error", "failed to import url: %v", err)
				return
			}
			if req.Title == "" {
				req.Title = req.URL
			}
		case "pdf":
			content, err = extractPDFText(req.Content)
			if err != nil {
				httpError(w, http.StatusBadRequest, "invalid_request_error", "failed to import pdf: %v", err)
				return
			}
		default:
			httpError(w, http.StatusBadRequest, "invalid_request_error", "unknown import type %q", req.Type)
			return
		}

		if strings.TrimSpace(content) == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "import produced no content")
			return
		}

		m := &storage.Memory{
			UserID:       userID(r),
			Content:      content,
			Title:        req.Title,
			DocumentType: req.Type,
			ProjectName:  req.ProjectName,
			Tags:         req.Tags,
		}
		if err := deps.Store.SaveMemory(r.Context(), m); err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to save memory: %v", err)
			return
		}

		if _, err := deps.Queue.Enqueue(r.Context(), m.ID, req.Provider); err != nil {
			deps.Logger.Warn("enqueue after import failed", "memory_id", m.ID, "error", err)
		}

		writeJSON(w, http.StatusCreated, memoryResponse(m))
	}
}

// fetchURLText downloads a page and strips its markup down to text.
func fetchURLText(ctx context.Context, client *http.Client, url string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", fmt.Errorf("invalid url: %w", err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("url returned status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxURLFetchSize))
	if err != nil {
		return "", fmt.Errorf("reading response: %w", err)
	}
	return stripHTML(body)
}

// stripHTML extracts visible text from an HTML document, skipping script
// and style subtrees.
func stripHTML(src []byte) (string, error) {
	doc, err := html.Parse(bytes.NewReader(src))
	if err != nil {
		return "", fmt.Errorf("parsing html: %w", err)
	}

	var b strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && (n.Data == "script" || n.Data == "style") {
			return
		}
		if n.Type == html.TextNode {
			text := strings.TrimSpace(n.Data)
			if text != "" {
				if b.Len() > 0 {
					b.WriteByte(' ')
				}
				b.WriteString(text)
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)
	return b.String(), nil
}

// extractPDFText decodes a base64 PDF payload and concatenates the plain
// text of every page.
func extractPDFText(encoded string) (string, error) {
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return "", fmt.Errorf("invalid base64 content: %w", err)
	}

	reader, err := pdf.NewReader(bytes.NewReader(raw), int64(len(raw)))
	if err != nil {
		return "", fmt.Errorf("parsing pdf: %w", err)
	}

	var b strings.Builder
	for i := 1; i <= reader.NumPage(); i++ {
		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			continue // skip unreadable pages, keep the rest
		}
		b.WriteString(text)
		b.WriteString("\n")
	}
	return b.String(), nil
}
