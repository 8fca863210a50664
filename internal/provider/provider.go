// Package provider implements the embedding provider abstraction: remote
// APIs that turn text into fixed-dimensionality vectors, plus a registry
// that resolves providers by name with instance caching and a configured
// fallback order.
package provider

import (
	"context"
	"errors"
	"time"
)

// Common errors.
var (
	// ErrUnknownProvider is a configuration error: the requested provider
	// name has no configuration. It is fatal and never retried.
	ErrUnknownProvider = errors.New("unknown embedding provider")

	// ErrMissingCredentials means the provider is configured but has no
	// usable credentials.
	ErrMissingCredentials = errors.New("missing provider credentials")

	// ErrEmbedFailed wraps transport or API failures from a provider's
	// embed call. Retryable.
	ErrEmbedFailed = errors.New("embedding request failed")

	// ErrEmptyText rejects embedding requests with no content.
	ErrEmptyText = errors.New("text cannot be empty")
)

// healthCheckTimeout bounds the liveness probe so a stalled provider cannot
// hang a sweep.
const healthCheckTimeout = 5 * time.Second

// Provider is the embedding capability: embed text, report liveness, and
// describe itself. Implementations are safe for concurrent use.
type Provider interface {
	// Embed returns the embedding vector for text. The vector length
	// matches Dimensions().
	Embed(ctx context.Context, text string) ([]float32, error)

	// Healthy reports whether the provider is reachable and serving.
	// It never returns an error; any internal failure reads as false.
	Healthy(ctx context.Context) bool

	// Name returns the provider's configured name.
	Name() string

	// Dimensions returns the fixed vector dimensionality.
	Dimensions() int
}

// Settings holds the connection configuration for one provider instance.
type Settings struct {
	Driver     string // "openai", "cloudflare", or "cohere"
	APIKey     string
	AccountID  string // Cloudflare only
	Model      string
	Dimensions int
	BaseURL    string // overridable for tests; empty means the public API
}
