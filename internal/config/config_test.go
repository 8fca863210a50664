package config

import (
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"
)

// mapBackend is an in-memory Backend for tests.
type mapBackend map[string]any

func (m mapBackend) GetString(key string) (string, bool, error) {
	v, ok := m[key]
	if !ok {
		return "", false, nil
	}
	return v.(string), true, nil
}

func (m mapBackend) GetInt(key string) (int, bool, error) {
	v, ok := m[key]
	if !ok {
		return 0, false, nil
	}
	return v.(int), true, nil
}

func (m mapBackend) GetFloat(key string) (float64, bool, error) {
	v, ok := m[key]
	if !ok {
		return 0, false, nil
	}
	return v.(float64), true, nil
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := loadWith(mapBackend{})
	if err != nil {
		t.Fatalf("loadWith: %v", err)
	}

	if cfg.Server.Port != 4600 {
		t.Errorf("port = %d, want 4600", cfg.Server.Port)
	}
	if cfg.Embedding.Default != "openai" {
		t.Errorf("default provider = %q, want openai", cfg.Embedding.Default)
	}
	if cfg.Search.Threshold != 0.7 {
		t.Errorf("threshold = %v, want 0.7", cfg.Search.Threshold)
	}
	if cfg.Jobs.MaxAttempts != 3 {
		t.Errorf("max attempts = %d, want 3", cfg.Jobs.MaxAttempts)
	}
}

func TestLoadBackendOverrides(t *testing.T) {
	cfg, err := loadWith(mapBackend{
		"server.port":         4700,
		"embedding.default":   "cohere",
		"embedding.fallbacks": "openai, cloudflare",
		"search.threshold":    0.5,
		"jobs.backoff":        "1,10",
	})
	if err != nil {
		t.Fatalf("loadWith: %v", err)
	}

	if cfg.Server.Port != 4700 {
		t.Errorf("port = %d, want 4700", cfg.Server.Port)
	}
	if cfg.Embedding.Default != "cohere" {
		t.Errorf("default = %q, want cohere", cfg.Embedding.Default)
	}
	if !reflect.DeepEqual(cfg.Embedding.Fallbacks, []string{"openai", "cloudflare"}) {
		t.Errorf("fallbacks = %v", cfg.Embedding.Fallbacks)
	}
	if cfg.Search.Threshold != 0.5 {
		t.Errorf("threshold = %v, want 0.5", cfg.Search.Threshold)
	}

	schedule, err := cfg.BackoffSchedule()
	if err != nil {
		t.Fatalf("BackoffSchedule: %v", err)
	}
	want := []time.Duration{time.Second, 10 * time.Second}
	if !reflect.DeepEqual(schedule, want) {
		t.Errorf("schedule = %v, want %v", schedule, want)
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("MEMORIA_SERVER_PORT", "5100")
	t.Setenv("MEMORIA_EMBEDDING_PROVIDER", "cloudflare")
	t.Setenv("MEMORIA_SEARCH_TEXT_WEIGHT", "0.4")

	cfg, err := loadWith(mapBackend{"server.port": 4700})
	if err != nil {
		t.Fatalf("loadWith: %v", err)
	}

	// Environment wins over the file backend.
	if cfg.Server.Port != 5100 {
		t.Errorf("port = %d, want 5100", cfg.Server.Port)
	}
	if cfg.Embedding.Default != "cloudflare" {
		t.Errorf("default = %q, want cloudflare", cfg.Embedding.Default)
	}
	if cfg.Search.TextWeight != 0.4 {
		t.Errorf("text weight = %v, want 0.4", cfg.Search.TextWeight)
	}
}

func TestValidateFailures(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(cfg *Config)
		wantErr string
	}{
		{
			name:    "bad port",
			mutate:  func(cfg *Config) { cfg.Server.Port = 0 },
			wantErr: "server.port",
		},
		{
			name:    "unknown default provider",
			mutate:  func(cfg *Config) { cfg.Embedding.Default = "mystery" },
			wantErr: "default embedding provider",
		},
		{
			name:    "unknown fallback",
			mutate:  func(cfg *Config) { cfg.Embedding.Fallbacks = []string{"mystery"} },
			wantErr: "fallback embedding provider",
		},
		{
			name:    "zero search limit",
			mutate:  func(cfg *Config) { cfg.Search.Limit = 0 },
			wantErr: "search.limit",
		},
		{
			name:    "negative weight",
			mutate:  func(cfg *Config) { cfg.Search.VectorWeight = -1 },
			wantErr: "non-negative",
		},
		{
			name:    "zero attempts",
			mutate:  func(cfg *Config) { cfg.Jobs.MaxAttempts = 0 },
			wantErr: "max_attempts",
		},
		{
			name:    "bad backoff",
			mutate:  func(cfg *Config) { cfg.Jobs.Backoff = "abc" },
			wantErr: "backoff",
		},
		{
			name:    "bad duration",
			mutate:  func(cfg *Config) { cfg.Jobs.RetryWindow = "soon" },
			wantErr: "duration",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := defaults()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatal("expected validation error")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("err = %q, want it to mention %q", err.Error(), tt.wantErr)
			}
		})
	}
}

func TestBackoffSchedule(t *testing.T) {
	tests := []struct {
		raw     string
		want    []time.Duration
		wantErr bool
	}{
		{"3,60,180,1800", []time.Duration{3 * time.Second, time.Minute, 3 * time.Minute, 30 * time.Minute}, false},
		{" 5 , 10 ", []time.Duration{5 * time.Second, 10 * time.Second}, false},
		{"", nil, true},
		{"-1", nil, true},
		{"ten", nil, true},
	}

	for _, tt := range tests {
		cfg := defaults()
		cfg.Jobs.Backoff = tt.raw
		got, err := cfg.BackoffSchedule()
		if tt.wantErr {
			if err == nil {
				t.Errorf("BackoffSchedule(%q): expected error", tt.raw)
			}
			continue
		}
		if err != nil {
			t.Errorf("BackoffSchedule(%q): %v", tt.raw, err)
			continue
		}
		if !reflect.DeepEqual(got, tt.want) {
			t.Errorf("BackoffSchedule(%q) = %v, want %v", tt.raw, got, tt.want)
		}
	}
}

func TestShowAllRedactsSecrets(t *testing.T) {
	cfg := defaults()
	cfg.API.Token = "super-secret"
	cfg.Embedding.OpenAI.APIKey = "sk-secret"
	cfg.Embedding.Cohere.APIKey = ""

	byKey := make(map[string]string)
	for _, kv := range ShowAll(cfg) {
		byKey[kv.Key] = kv.Value
	}

	if byKey["api.token"] != "********" {
		t.Errorf("api.token = %q, want redacted", byKey["api.token"])
	}
	if byKey["embedding.openai.api_key"] != "********" {
		t.Errorf("openai key = %q, want redacted", byKey["embedding.openai.api_key"])
	}
	// Empty secrets stay empty so `config show` reveals what is unset.
	if byKey["embedding.cohere.api_key"] != "" {
		t.Errorf("cohere key = %q, want empty", byKey["embedding.cohere.api_key"])
	}
	if byKey["server.port"] != "4600" {
		t.Errorf("server.port = %q, want 4600", byKey["server.port"])
	}
}

func TestSetKey(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())

	if err := SetKey("server.port", "4800"); err != nil {
		t.Fatalf("SetKey: %v", err)
	}
	if err := SetKey("search.threshold", "0.65"); err != nil {
		t.Fatalf("SetKey: %v", err)
	}

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Port != 4800 {
		t.Errorf("port = %d, want 4800", cfg.Server.Port)
	}
	if cfg.Search.Threshold != 0.65 {
		t.Errorf("threshold = %v, want 0.65", cfg.Search.Threshold)
	}
}

func TestSetKeyRejectsBadInput(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())

	if err := SetKey("no.such.key", "x"); err == nil {
		t.Error("expected error for unknown key")
	}
	if err := SetKey("server.port", "not-a-number"); err == nil {
		t.Error("expected error for non-integer port")
	}
	if err := SetKey("search.threshold", "abc"); err == nil {
		t.Error("expected error for non-numeric threshold")
	}
}

func TestFileBackendRoundtrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")

	b := newFileBackend(path)
	b.Set("log.level", "debug")
	b.Set("server.port", 4900)
	if err := b.Save(); err != nil {
		t.Fatalf("Save: %v", err)
	}

	b2 := newFileBackend(path)
	level, ok, err := b2.GetString("log.level")
	if err != nil || !ok {
		t.Fatalf("GetString: ok=%v err=%v", ok, err)
	}
	if level != "debug" {
		t.Errorf("log.level = %q, want debug", level)
	}

	// JSON numbers come back as float64 and must convert cleanly.
	port, ok, err := b2.GetInt("server.port")
	if err != nil || !ok {
		t.Fatalf("GetInt: ok=%v err=%v", ok, err)
	}
	if port != 4900 {
		t.Errorf("server.port = %d, want 4900", port)
	}
}

func TestFileBackendMissingFile(t *testing.T) {
	b := newFileBackend(filepath.Join(t.TempDir(), "absent.json"))
	_, ok, err := b.GetString("anything")
	if err != nil {
		t.Fatalf("GetString: %v", err)
	}
	if ok {
		t.Error("expected no value from missing file")
	}
}

func TestSplitList(t *testing.T) {
	tests := []struct {
		raw  string
		want []string
	}{
		{"a,b,c", []string{"a", "b", "c"}},
		{" a , ,b ", []string{"a", "b"}},
		{"", []string{}},
	}
	for _, tt := range tests {
		if got := splitList(tt.raw); !reflect.DeepEqual(got, tt.want) {
			t.Errorf("splitList(%q) = %v, want %v", tt.raw, got, tt.want)
		}
	}
}

func TestDuration(t *testing.T) {
	if got := Duration("30s", time.Minute); got != 30*time.Second {
		t.Errorf("Duration = %v, want 30s", got)
	}
	if got := Duration("garbage", time.Minute); got != time.Minute {
		t.Errorf("Duration fallback = %v, want 1m", got)
	}
}

func TestEnvKeysDoNotLeakBetweenSpecs(t *testing.T) {
	seen := make(map[string]bool, len(specs))
	for _, s := range specs {
		if s.env == "" {
			t.Errorf("spec %s has no env binding", s.key)
			continue
		}
		if seen[s.env] {
			t.Errorf("duplicate env binding %s", s.env)
		}
		seen[s.env] = true
		if os.Getenv(s.env) != "" {
			t.Logf("warning: %s set in test environment", s.env)
		}
	}
}
