package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

type Config struct {
	Server    ServerConfig
	Storage   StorageConfig
	Log       LogConfig
	Embedding EmbeddingConfig
	Search    SearchConfig
	Jobs      JobsConfig
	Sweeps    SweepsConfig
	API       APIConfig
}

type ServerConfig struct {
	Port int
}

type StorageConfig struct {
	DataDir string
}

type LogConfig struct {
	Level string
}

// EmbeddingConfig selects the default provider, the ordered fallback list,
// and per-provider connection settings.
type EmbeddingConfig struct {
	Default    string
	Fallbacks  []string
	OpenAI     ProviderConfig
	Cloudflare ProviderConfig
	Cohere     ProviderConfig
}

// ProviderConfig holds connection settings for one embedding provider.
// BaseURL is overridable for tests; empty means the provider's public API.
type ProviderConfig struct {
	APIKey     string
	AccountID  string // Cloudflare only
	Model      string
	Dimensions int
	BaseURL    string
}

type SearchConfig struct {
	Limit        int
	Threshold    float64
	VectorWeight float64
	TextWeight   float64
	QueryTimeout string
}

type JobsConfig struct {
	MaxAttempts  int
	Timeout      string
	Backoff      string // comma-separated seconds, indexed by attempt
	RetryWindow  string
	PollInterval string
}

type SweepsConfig struct {
	HealthInterval  string
	CleanupInterval string
}

type APIConfig struct {
	Token string
}

func defaults() Config {
	return Config{
		Server:  ServerConfig{Port: 4600},
		Storage: StorageConfig{DataDir: defaultDataDir()},
		Log:     LogConfig{Level: "info"},
		Embedding: EmbeddingConfig{
			Default:    "openai",
			Fallbacks:  []string{"cloudflare", "cohere"},
			OpenAI:     ProviderConfig{Model: "text-embedding-3-small", Dimensions: 1536},
			Cloudflare: ProviderConfig{Model: "@cf/baai/bge-base-en-v1.5", Dimensions: 768},
			Cohere:     ProviderConfig{Model: "embed-english-v3.0", Dimensions: 1024},
		},
		Search: SearchConfig{
			Limit:        10,
			Threshold:    0.7,
			VectorWeight: 0.7,
			TextWeight:   0.3,
			QueryTimeout: "10s",
		},
		Jobs: JobsConfig{
			MaxAttempts:  3,
			Timeout:      "120s",
			Backoff:      "3,60,180,1800",
			RetryWindow:  "5h",
			PollInterval: "500ms",
		},
		Sweeps: SweepsConfig{
			HealthInterval:  "5m",
			CleanupInterval: "1h",
		},
	}
}

// Load reads configuration from the JSON file backend at
// $XDG_CONFIG_HOME/memoria/config.json and applies MEMORIA_* environment
// overrides on top of the built-in defaults.
func Load() (Config, error) {
	return loadWith(newFileBackend(configFilePath()))
}

func loadWith(b Backend) (Config, error) {
	cfg := defaults()

	if err := applyBackend(&cfg, b); err != nil {
		return Config{}, err
	}
	applyEnvOverrides(&cfg)

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks the static shape of the configuration. Provider
// credentials are deliberately not required here: subcommands that never
// touch a provider (status, stop) must still be able to load config, and
// the registry reports missing credentials when a provider is resolved.
func (c Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server.port %d", c.Server.Port)
	}
	if _, ok := c.Provider(c.Embedding.Default); !ok {
		return fmt.Errorf("unknown default embedding provider %q", c.Embedding.Default)
	}
	for _, name := range c.Embedding.Fallbacks {
		if _, ok := c.Provider(name); !ok {
			return fmt.Errorf("unknown fallback embedding provider %q", name)
		}
	}
	if c.Search.Limit <= 0 {
		return fmt.Errorf("search.limit must be positive, got %d", c.Search.Limit)
	}
	if c.Search.VectorWeight < 0 || c.Search.TextWeight < 0 {
		return fmt.Errorf("search weights must be non-negative")
	}
	if c.Jobs.MaxAttempts <= 0 {
		return fmt.Errorf("jobs.max_attempts must be positive, got %d", c.Jobs.MaxAttempts)
	}
	if _, err := c.BackoffSchedule(); err != nil {
		return err
	}
	for key, val := range map[string]string{
		"search.query_timeout":    c.Search.QueryTimeout,
		"jobs.timeout":            c.Jobs.Timeout,
		"jobs.retry_window":       c.Jobs.RetryWindow,
		"jobs.poll_interval":      c.Jobs.PollInterval,
		"sweeps.health_interval":  c.Sweeps.HealthInterval,
		"sweeps.cleanup_interval": c.Sweeps.CleanupInterval,
	} {
		if _, err := time.ParseDuration(val); err != nil {
			return fmt.Errorf("invalid duration for %s: %w", key, err)
		}
	}
	return nil
}

// Provider returns the settings for a configured provider name.
func (c Config) Provider(name string) (ProviderConfig, bool) {
	switch name {
	case "openai":
		return c.Embedding.OpenAI, true
	case "cloudflare":
		return c.Embedding.Cloudflare, true
	case "cohere":
		return c.Embedding.Cohere, true
	default:
		return ProviderConfig{}, false
	}
}

// ProviderNames returns all configured provider names in a fixed order.
func (c Config) ProviderNames() []string {
	return []string{"openai", "cloudflare", "cohere"}
}

// BackoffSchedule parses jobs.backoff into a delay sequence.
func (c Config) BackoffSchedule() ([]time.Duration, error) {
	parts := strings.Split(c.Jobs.Backoff, ",")
	schedule := make([]time.Duration, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		var secs int
		if _, err := fmt.Sscanf(p, "%d", &secs); err != nil || secs < 0 {
			return nil, fmt.Errorf("invalid jobs.backoff entry %q", p)
		}
		schedule = append(schedule, time.Duration(secs)*time.Second)
	}
	if len(schedule) == 0 {
		return nil, fmt.Errorf("jobs.backoff must contain at least one delay")
	}
	return schedule, nil
}

// Duration returns a parsed duration field. Callers must have validated the
// config first; on a parse error the fallback is returned.
func Duration(s string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil {
		return fallback
	}
	return d
}

func defaultDataDir() string {
	dir := os.Getenv("XDG_DATA_HOME")
	if dir == "" {
		if home, err := os.UserHomeDir(); err == nil {
			dir = filepath.Join(home, ".local", "share")
		} else {
			return "memoria-data"
		}
	}
	return filepath.Join(dir, "memoria")
}

func configFilePath() string {
	dir := os.Getenv("XDG_CONFIG_HOME")
	if dir == "" {
		if home, err := os.UserHomeDir(); err == nil {
			dir = filepath.Join(home, ".config")
		} else {
			dir = "."
		}
	}
	return filepath.Join(dir, "memoria", "config.json")
}
