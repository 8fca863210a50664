package provider

import (
	"fmt"
	"sort"
	"sync"
)

// Registry resolves provider names to constructed Provider instances.
// Instances are cached for the life of the registry; resolving the same
// name twice returns the same instance. The registry also tracks the
// default provider name and the ordered fallback list. Failover across
// providers is a caller decision; the search engine cascades across search
// strategies, not providers.
type Registry struct {
	mu          sync.Mutex
	defaultName string
	fallbacks   []string
	settings    map[string]Settings
	providers   map[string]Provider
}

// NewRegistry creates a registry over the given provider settings.
func NewRegistry(defaultName string, fallbacks []string, settings map[string]Settings) *Registry {
	fb := make([]string, len(fallbacks))
	copy(fb, fallbacks)
	if settings == nil {
		settings = make(map[string]Settings)
	}
	return &Registry{
		defaultName: defaultName,
		fallbacks:   fb,
		settings:    settings,
		providers:   make(map[string]Provider),
	}
}

// Resolve returns the provider for name, constructing and caching it on
// first use. An empty name resolves the default provider. An unconfigured
// name yields ErrUnknownProvider.
func (r *Registry) Resolve(name string) (Provider, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if name == "" {
		name = r.defaultName
	}
	if p, ok := r.providers[name]; ok {
		return p, nil
	}

	s, ok := r.settings[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownProvider, name)
	}

	p, err := build(name, s)
	if err != nil {
		return nil, err
	}
	r.providers[name] = p
	return p, nil
}

func build(name string, s Settings) (Provider, error) {
	switch s.Driver {
	case "openai":
		return NewOpenAIProvider(name, s)
	case "cloudflare":
		return NewCloudflareProvider(name, s)
	case "cohere":
		return NewCohereProvider(name, s)
	default:
		return nil, fmt.Errorf("%w: driver %q for provider %q", ErrUnknownProvider, s.Driver, name)
	}
}

// DefaultName returns the current default provider name.
func (r *Registry) DefaultName() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.defaultName
}

// SetDefault switches the default provider. The name must be configured.
func (r *Registry) SetDefault(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.settings[name]; !ok {
		return fmt.Errorf("%w: %q", ErrUnknownProvider, name)
	}
	r.defaultName = name
	return nil
}

// Fallbacks returns the ordered secondary provider names.
func (r *Registry) Fallbacks() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.fallbacks))
	copy(out, r.fallbacks)
	return out
}

// Names returns every configured provider name, default first, then the
// fallbacks, then any remaining configured names.
func (r *Registry) Names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	seen := make(map[string]bool, len(r.settings))
	names := make([]string, 0, len(r.settings))
	appendName := func(n string) {
		if _, ok := r.settings[n]; ok && !seen[n] {
			seen[n] = true
			names = append(names, n)
		}
	}
	appendName(r.defaultName)
	for _, n := range r.fallbacks {
		appendName(n)
	}
	rest := make([]string, 0, len(r.settings))
	for n := range r.settings {
		if !seen[n] {
			rest = append(rest, n)
		}
	}
	sort.Strings(rest)
	for _, n := range rest {
		appendName(n)
	}
	return names
}

// Register installs a pre-built provider under name. Used by tests and by
// callers wiring custom implementations.
func (r *Registry) Register(name string, p Provider) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.settings[name]; !ok {
		r.settings[name] = Settings{Driver: "custom"}
	}
	r.providers[name] = p
}
