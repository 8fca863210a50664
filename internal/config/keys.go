package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

type keyType int

const (
	kString keyType = iota
	kInt
	kFloat
	kList // comma-separated string list
)

type keySpec struct {
	key    string
	typ    keyType
	env    string
	apply  func(cfg *Config, v any)
	read   func(cfg *Config) any
	secret bool // redacted in ShowAll
}

var specs = []keySpec{
	{
		key: "server.port", typ: kInt, env: "MEMORIA_SERVER_PORT",
		apply: func(cfg *Config, v any) { cfg.Server.Port = v.(int) },
		read:  func(cfg *Config) any { return cfg.Server.Port },
	},
	{
		key: "storage.data_dir", typ: kString, env: "MEMORIA_STORAGE_DATA_DIR",
		apply: func(cfg *Config, v any) { cfg.Storage.DataDir = v.(string) },
		read:  func(cfg *Config) any { return cfg.Storage.DataDir },
	},
	{
		key: "log.level", typ: kString, env: "MEMORIA_LOG_LEVEL",
		apply: func(cfg *Config, v any) { cfg.Log.Level = v.(string) },
		read:  func(cfg *Config) any { return cfg.Log.Level },
	},
	{
		key: "api.token", typ: kString, env: "MEMORIA_API_TOKEN", secret: true,
		apply: func(cfg *Config, v any) { cfg.API.Token = v.(string) },
		read:  func(cfg *Config) any { return cfg.API.Token },
	},
	{
		key: "embedding.default", typ: kString, env: "MEMORIA_EMBEDDING_PROVIDER",
		apply: func(cfg *Config, v any) { cfg.Embedding.Default = v.(string) },
		read:  func(cfg *Config) any { return cfg.Embedding.Default },
	},
	{
		key: "embedding.fallbacks", typ: kList, env: "MEMORIA_EMBEDDING_FALLBACKS",
		apply: func(cfg *Config, v any) { cfg.Embedding.Fallbacks = v.([]string) },
		read:  func(cfg *Config) any { return strings.Join(cfg.Embedding.Fallbacks, ",") },
	},
	{
		key: "embedding.openai.api_key", typ: kString, env: "MEMORIA_OPENAI_API_KEY", secret: true,
		apply: func(cfg *Config, v any) { cfg.Embedding.OpenAI.APIKey = v.(string) },
		read:  func(cfg *Config) any { return cfg.Embedding.OpenAI.APIKey },
	},
	{
		key: "embedding.openai.model", typ: kString, env: "MEMORIA_OPENAI_EMBEDDING_MODEL",
		apply: func(cfg *Config, v any) { cfg.Embedding.OpenAI.Model = v.(string) },
		read:  func(cfg *Config) any { return cfg.Embedding.OpenAI.Model },
	},
	{
		key: "embedding.openai.base_url", typ: kString, env: "MEMORIA_OPENAI_BASE_URL",
		apply: func(cfg *Config, v any) { cfg.Embedding.OpenAI.BaseURL = v.(string) },
		read:  func(cfg *Config) any { return cfg.Embedding.OpenAI.BaseURL },
	},
	{
		key: "embedding.cloudflare.api_token", typ: kString, env: "MEMORIA_CLOUDFLARE_API_TOKEN", secret: true,
		apply: func(cfg *Config, v any) { cfg.Embedding.Cloudflare.APIKey = v.(string) },
		read:  func(cfg *Config) any { return cfg.Embedding.Cloudflare.APIKey },
	},
	{
		key: "embedding.cloudflare.account_id", typ: kString, env: "MEMORIA_CLOUDFLARE_ACCOUNT_ID",
		apply: func(cfg *Config, v any) { cfg.Embedding.Cloudflare.AccountID = v.(string) },
		read:  func(cfg *Config) any { return cfg.Embedding.Cloudflare.AccountID },
	},
	{
		key: "embedding.cloudflare.model", typ: kString, env: "MEMORIA_CLOUDFLARE_EMBEDDING_MODEL",
		apply: func(cfg *Config, v any) { cfg.Embedding.Cloudflare.Model = v.(string) },
		read:  func(cfg *Config) any { return cfg.Embedding.Cloudflare.Model },
	},
	{
		key: "embedding.cloudflare.base_url", typ: kString, env: "MEMORIA_CLOUDFLARE_BASE_URL",
		apply: func(cfg *Config, v any) { cfg.Embedding.Cloudflare.BaseURL = v.(string) },
		read:  func(cfg *Config) any { return cfg.Embedding.Cloudflare.BaseURL },
	},
	{
		key: "embedding.cohere.api_key", typ: kString, env: "MEMORIA_COHERE_API_KEY", secret: true,
		apply: func(cfg *Config, v any) { cfg.Embedding.Cohere.APIKey = v.(string) },
		read:  func(cfg *Config) any { return cfg.Embedding.Cohere.APIKey },
	},
	{
		key: "embedding.cohere.model", typ: kString, env: "MEMORIA_COHERE_EMBEDDING_MODEL",
		apply: func(cfg *Config, v any) { cfg.Embedding.Cohere.Model = v.(string) },
		read:  func(cfg *Config) any { return cfg.Embedding.Cohere.Model },
	},
	{
		key: "embedding.cohere.base_url", typ: kString, env: "MEMORIA_COHERE_BASE_URL",
		apply: func(cfg *Config, v any) { cfg.Embedding.Cohere.BaseURL = v.(string) },
		read:  func(cfg *Config) any { return cfg.Embedding.Cohere.BaseURL },
	},
	{
		key: "search.limit", typ: kInt, env: "MEMORIA_SEARCH_LIMIT",
		apply: func(cfg *Config, v any) { cfg.Search.Limit = v.(int) },
		read:  func(cfg *Config) any { return cfg.Search.Limit },
	},
	{
		key: "search.threshold", typ: kFloat, env: "MEMORIA_SEARCH_THRESHOLD",
		apply: func(cfg *Config, v any) { cfg.Search.Threshold = v.(float64) },
		read:  func(cfg *Config) any { return cfg.Search.Threshold },
	},
	{
		key: "search.vector_weight", typ: kFloat, env: "MEMORIA_SEARCH_VECTOR_WEIGHT",
		apply: func(cfg *Config, v any) { cfg.Search.VectorWeight = v.(float64) },
		read:  func(cfg *Config) any { return cfg.Search.VectorWeight },
	},
	{
		key: "search.text_weight", typ: kFloat, env: "MEMORIA_SEARCH_TEXT_WEIGHT",
		apply: func(cfg *Config, v any) { cfg.Search.TextWeight = v.(float64) },
		read:  func(cfg *Config) any { return cfg.Search.TextWeight },
	},
	{
		key: "search.query_timeout", typ: kString, env: "MEMORIA_SEARCH_QUERY_TIMEOUT",
		apply: func(cfg *Config, v any) { cfg.Search.QueryTimeout = v.(string) },
		read:  func(cfg *Config) any { return cfg.Search.QueryTimeout },
	},
	{
		key: "jobs.max_attempts", typ: kInt, env: "MEMORIA_JOBS_MAX_ATTEMPTS",
		apply: func(cfg *Config, v any) { cfg.Jobs.MaxAttempts = v.(int) },
		read:  func(cfg *Config) any { return cfg.Jobs.MaxAttempts },
	},
	{
		key: "jobs.timeout", typ: kString, env: "MEMORIA_JOBS_TIMEOUT",
		apply: func(cfg *Config, v any) { cfg.Jobs.Timeout = v.(string) },
		read:  func(cfg *Config) any { return cfg.Jobs.Timeout },
	},
	{
		key: "jobs.backoff", typ: kString, env: "MEMORIA_JOBS_BACKOFF",
		apply: func(cfg *Config, v any) { cfg.Jobs.Backoff = v.(string) },
		read:  func(cfg *Config) any { return cfg.Jobs.Backoff },
	},
	{
		key: "jobs.retry_window", typ: kString, env: "MEMORIA_JOBS_RETRY_WINDOW",
		apply: func(cfg *Config, v any) { cfg.Jobs.RetryWindow = v.(string) },
		read:  func(cfg *Config) any { return cfg.Jobs.RetryWindow },
	},
	{
		key: "jobs.poll_interval", typ: kString, env: "MEMORIA_JOBS_POLL_INTERVAL",
		apply: func(cfg *Config, v any) { cfg.Jobs.PollInterval = v.(string) },
		read:  func(cfg *Config) any { return cfg.Jobs.PollInterval },
	},
	{
		key: "sweeps.health_interval", typ: kString, env: "MEMORIA_SWEEPS_HEALTH_INTERVAL",
		apply: func(cfg *Config, v any) { cfg.Sweeps.HealthInterval = v.(string) },
		read:  func(cfg *Config) any { return cfg.Sweeps.HealthInterval },
	},
	{
		key: "sweeps.cleanup_interval", typ: kString, env: "MEMORIA_SWEEPS_CLEANUP_INTERVAL",
		apply: func(cfg *Config, v any) { cfg.Sweeps.CleanupInterval = v.(string) },
		read:  func(cfg *Config) any { return cfg.Sweeps.CleanupInterval },
	},
}

// KeyValue is one configuration entry for display.
type KeyValue struct {
	Key   string
	Value string
}

// ShowAll renders every configuration key in declaration order. Secret
// values are redacted.
func ShowAll(cfg Config) []KeyValue {
	out := make([]KeyValue, 0, len(specs))
	for _, s := range specs {
		v := fmt.Sprintf("%v", s.read(&cfg))
		if s.secret && v != "" {
			v = "********"
		}
		out = append(out, KeyValue{Key: s.key, Value: v})
	}
	return out
}

// SetKey validates and persists a single configuration value to the
// config file. The running server picks it up on restart.
func SetKey(key, value string) error {
	var spec *keySpec
	for i := range specs {
		if specs[i].key == key {
			spec = &specs[i]
			break
		}
	}
	if spec == nil {
		return fmt.Errorf("unknown configuration key %q", key)
	}

	var parsed any
	switch spec.typ {
	case kString, kList:
		parsed = value
	case kInt:
		v, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("%s requires an integer: %w", key, err)
		}
		parsed = v
	case kFloat:
		v, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return fmt.Errorf("%s requires a number: %w", key, err)
		}
		parsed = v
	}

	b := newFileBackend(configFilePath())
	b.Set(key, parsed)
	return b.Save()
}

func applyBackend(cfg *Config, b Backend) error {
	for _, s := range specs {
		switch s.typ {
		case kString, kList:
			v, ok, err := b.GetString(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok {
				if s.typ == kList {
					s.apply(cfg, splitList(v))
				} else {
					s.apply(cfg, v)
				}
			}
		case kInt:
			v, ok, err := b.GetInt(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok {
				s.apply(cfg, v)
			}
		case kFloat:
			v, ok, err := b.GetFloat(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok {
				s.apply(cfg, v)
			}
		}
	}
	return nil
}

func applyEnvOverrides(cfg *Config) {
	for _, s := range specs {
		raw, ok := os.LookupEnv(s.env)
		if !ok || raw == "" {
			continue
		}
		switch s.typ {
		case kString:
			s.apply(cfg, raw)
		case kList:
			s.apply(cfg, splitList(raw))
		case kInt:
			if v, err := strconv.Atoi(raw); err == nil {
				s.apply(cfg, v)
			} else {
				fmt.Fprintf(os.Stderr, "[WARN] ignoring %s: invalid integer %q\n", s.env, raw)
			}
		case kFloat:
			if v, err := strconv.ParseFloat(raw, 64); err == nil {
				s.apply(cfg, v)
			} else {
				fmt.Fprintf(os.Stderr, "[WARN] ignoring %s: invalid float %q\n", s.env, raw)
			}
		}
	}
}

func splitList(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
