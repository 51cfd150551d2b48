package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoad_Defaults(t *testing.T) {
	envVars := []string{
		"ADDR", "LOG_LEVEL", "REDIS_URL", "DATABASE_URL", "PROVIDERS_FILE",
		"DEEPL_API_KEY", "DEEPL_BASE_URL", "OPENAI_API_KEY", "OPENAI_BASE_URL",
		"OLLAMA_BASE_URL", "DEFAULT_PROVIDER", "BRIDGE_LANG", "OTLP_ENDPOINT",
		"AWS_REGION", "CACHE_MAX_BYTES", "CACHE_TTL", "REQUEST_TIMEOUT",
	}
	for _, v := range envVars {
		os.Unsetenv(v)
	}

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	tests := []struct {
		name     string
		got      string
		expected string
	}{
		{"Addr", cfg.Addr, ":8080"},
		{"LogLevel", cfg.LogLevel, "info"},
		{"RedisURL", cfg.RedisURL, ""},
		{"ProvidersFile", cfg.ProvidersFile, "providers.yaml"},
		{"DeepLBaseURL", cfg.DeepLBaseURL, "https://api-free.deepl.com/v2"},
		{"OpenAIBaseURL", cfg.OpenAIBaseURL, "https://api.openai.com/v1"},
		{"OllamaBaseURL", cfg.OllamaBaseURL, "http://localhost:11434"},
		{"DefaultProvider", cfg.DefaultProvider, "deepl"},
		{"BridgeLang", cfg.BridgeLang, "en"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.got != tt.expected {
				t.Errorf("%s = %q, want %q", tt.name, tt.got, tt.expected)
			}
		})
	}

	if cfg.CacheMaxBytes != 10*1024*1024 {
		t.Errorf("CacheMaxBytes = %d, want 10MiB", cfg.CacheMaxBytes)
	}
	if cfg.RequestTimeout != 60*time.Second {
		t.Errorf("RequestTimeout = %s, want 60s", cfg.RequestTimeout)
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("ADDR", ":9090")
	t.Setenv("CACHE_MAX_BYTES", "1048576")
	t.Setenv("REQUEST_TIMEOUT", "30")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Addr != ":9090" {
		t.Errorf("Addr = %q, want :9090", cfg.Addr)
	}
	if cfg.CacheMaxBytes != 1048576 {
		t.Errorf("CacheMaxBytes = %d, want 1048576", cfg.CacheMaxBytes)
	}
	if cfg.RequestTimeout != 30*time.Second {
		t.Errorf("RequestTimeout = %s, want 30s", cfg.RequestTimeout)
	}
}

func writeProvidersFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "providers.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadProviders(t *testing.T) {
	t.Setenv("TEST_DEEPL_RPM", "42")

	path := writeProvidersFile(t, `
bridge_lang: en
providers:
  - id: deepl
    limits:
      requests_per_minute: ${TEST_DEEPL_RPM}
      monthly_cost_usd: 25.0
    pricing:
      usd_per_million_chars: 25.0
  - id: ollama
    local: true
routes:
  - { source: en, target: fr, model: en-fr-v1 }
  - { source: fr, target: en, model: fr-en-v1 }
`)

	cfg, err := LoadProviders(path)
	if err != nil {
		t.Fatalf("LoadProviders() error = %v", err)
	}

	if len(cfg.Providers) != 2 {
		t.Fatalf("expected 2 providers, got %d", len(cfg.Providers))
	}
	if cfg.Providers[0].Limits.RequestsPerMinute != 42 {
		t.Errorf("env expansion failed, rpm = %d", cfg.Providers[0].Limits.RequestsPerMinute)
	}
	if !cfg.Providers[1].Local {
		t.Error("ollama must be local")
	}
	if len(cfg.Routes) != 2 {
		t.Errorf("expected 2 routes, got %d", len(cfg.Routes))
	}

	// Priority order defaults to declaration order.
	if len(cfg.PriorityOrder) != 2 || cfg.PriorityOrder[0] != "deepl" {
		t.Errorf("unexpected priority order: %v", cfg.PriorityOrder)
	}
}

func TestLoadProviders_Invalid(t *testing.T) {
	cases := map[string]string{
		"no providers": `routes: []`,
		"duplicate id": `
providers:
  - id: deepl
  - id: deepl
`,
		"self route": `
providers:
  - id: deepl
routes:
  - { source: en, target: en, model: noop }
`,
	}

	for name, content := range cases {
		t.Run(name, func(t *testing.T) {
			path := writeProvidersFile(t, content)
			if _, err := LoadProviders(path); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}
