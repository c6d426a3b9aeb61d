package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("PORT", "")
	t.Setenv("DEFAULT_MODEL", "")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.Server.Port)
	assert.Equal(t, "https://api.openai.com/v1/chat/completions", cfg.Upstream.Endpoint)
	assert.Equal(t, "https://openrouter.ai/api/v1/chat/completions", cfg.Upstream.AggregatorEndpoint)
	assert.Equal(t, []string{"o1"}, cfg.Gateway.NonStreamingPrefixes)
	assert.Equal(t, 100, cfg.Gateway.ChunkSize)
	assert.Equal(t, time.Millisecond, cfg.Gateway.ChunkDelay)
	assert.Equal(t, "anthropic/claude-sonnet-4.5", cfg.Gateway.Defaults.Model)
	assert.Equal(t, "none", cfg.Cache.Type)
	assert.Equal(t, "sqlite", cfg.Storage.Type)
	assert.False(t, cfg.Usage.Enabled)
	assert.True(t, cfg.Metrics.Enabled)
}

func TestLoad_YAMLFile(t *testing.T) {
	path := writeConfig(t, `
server:
  port: "9000"
  master_key: secret
upstream:
  endpoint: https://myres.openai.azure.com
  api_key: azure-key
  headers:
    X-Org: acme
gateway:
  non_streaming_prefixes: [o1, o3]
  chunk_size: 50
  chunk_delay: 5ms
  defaults:
    model: gpt-4o
    max_tokens: 4096
    reasoning:
      effort: high
      max_tokens: 2000
cache:
  type: local
  ttl: 1m
usage:
  enabled: true
  flush_interval: 2
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "9000", cfg.Server.Port)
	assert.Equal(t, "secret", cfg.Server.MasterKey)
	assert.Equal(t, "https://myres.openai.azure.com", cfg.Upstream.Endpoint)
	assert.Equal(t, map[string]string{"X-Org": "acme"}, cfg.Upstream.Headers)
	assert.Equal(t, []string{"o1", "o3"}, cfg.Gateway.NonStreamingPrefixes)
	assert.Equal(t, 50, cfg.Gateway.ChunkSize)
	assert.Equal(t, 5*time.Millisecond, cfg.Gateway.ChunkDelay)
	assert.Equal(t, "gpt-4o", cfg.Gateway.Defaults.Model)
	assert.Equal(t, 4096, cfg.Gateway.Defaults.MaxTokens)
	require.NotNil(t, cfg.Gateway.Defaults.Reasoning)
	assert.EqualValues(t, "high", cfg.Gateway.Defaults.Reasoning.Effort)
	assert.Equal(t, "local", cfg.Cache.Type)
	assert.Equal(t, time.Minute, cfg.Cache.TTL)
	assert.True(t, cfg.Usage.Enabled)
	assert.Equal(t, 2, cfg.Usage.FlushInterval)
	// untouched sections keep their defaults
	assert.Equal(t, "sqlite", cfg.Storage.Type)
}

func TestLoad_ExpandsPlaceholders(t *testing.T) {
	t.Setenv("TEST_CHATGATE_PORT", "7777")
	path := writeConfig(t, `
server:
  port: "${TEST_CHATGATE_PORT:-9999}"
upstream:
  api_key: "${TEST_CHATGATE_UNSET_KEY:-fallback-key}"
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "7777", cfg.Server.Port)
	assert.Equal(t, "fallback-key", cfg.Upstream.APIKey)
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	path := writeConfig(t, `
server:
  port: "9000"
storage:
  type: sqlite
`)
	t.Setenv("PORT", "3000")
	t.Setenv("STORAGE_TYPE", "postgresql")
	t.Setenv("POSTGRES_URL", "postgres://localhost/test")
	t.Setenv("POSTGRES_MAX_CONNS", "20")
	t.Setenv("USAGE_ENABLED", "true")
	t.Setenv("CACHE_TTL", "30s")
	t.Setenv("NON_STREAMING_PREFIXES", "o1, o1-mini ,")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "3000", cfg.Server.Port)
	assert.Equal(t, "postgresql", cfg.Storage.Type)
	assert.Equal(t, "postgres://localhost/test", cfg.Storage.PostgreSQL.URL)
	assert.Equal(t, 20, cfg.Storage.PostgreSQL.MaxConns)
	assert.True(t, cfg.Usage.Enabled)
	assert.Equal(t, 30*time.Second, cfg.Cache.TTL)
	assert.Equal(t, []string{"o1", "o1-mini"}, cfg.Gateway.NonStreamingPrefixes)
}

func TestLoad_DotEnvDoesNotOverrideEnvironment(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte("PORT=7070\nOPENROUTER_API_KEY=sk-or-dotenv\n"), 0o644))

	t.Setenv("PORT", "9999")
	t.Setenv("OPENROUTER_API_KEY", "")
	// godotenv only fills variables that are absent, so unset the key entirely.
	require.NoError(t, os.Unsetenv("OPENROUTER_API_KEY"))

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "9999", cfg.Server.Port)
	assert.Equal(t, "sk-or-dotenv", cfg.Upstream.AggregatorKey)
}

func TestLoad_OpenAIKeyFallback(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("UPSTREAM_API_KEY", "")
	t.Setenv("OPENAI_API_KEY", "sk-openai")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "sk-openai", cfg.Upstream.APIKey)
}

func TestLoad_Errors(t *testing.T) {
	t.Run("missing explicit file", func(t *testing.T) {
		_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
		require.Error(t, err)
	})

	t.Run("invalid yaml", func(t *testing.T) {
		_, err := Load(writeConfig(t, "server: [\n"))
		require.Error(t, err)
	})

	t.Run("invalid env integer", func(t *testing.T) {
		t.Chdir(t.TempDir())
		t.Setenv("USAGE_BUFFER_SIZE", "lots")
		_, err := Load("")
		require.ErrorContains(t, err, "USAGE_BUFFER_SIZE")
	})

	t.Run("invalid env duration", func(t *testing.T) {
		t.Chdir(t.TempDir())
		t.Setenv("STREAM_CHUNK_DELAY", "soon")
		_, err := Load("")
		require.ErrorContains(t, err, "STREAM_CHUNK_DELAY")
	})
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"defaults", func(*Config) {}, false},
		{"non-numeric port", func(c *Config) { c.Server.Port = "http" }, true},
		{"empty port", func(c *Config) { c.Server.Port = "" }, true},
		{"bad upstream url", func(c *Config) { c.Upstream.Endpoint = "not a url" }, true},
		{"unknown storage", func(c *Config) { c.Storage.Type = "oracle" }, true},
		{"unknown cache", func(c *Config) { c.Cache.Type = "memcached" }, true},
		{"redis without url", func(c *Config) { c.Cache.Type = "redis" }, true},
		{"redis with url", func(c *Config) {
			c.Cache.Type = "redis"
			c.Cache.Redis.URL = "redis://localhost:6379"
		}, false},
		{"unknown log format", func(c *Config) { c.Log.Format = "xml" }, true},
		{"unknown log level", func(c *Config) { c.Log.Level = "trace" }, true},
		{"metrics endpoint without slash", func(c *Config) { c.Metrics.Endpoint = "metrics" }, true},
		{"usage on postgres without url", func(c *Config) {
			c.Usage.Enabled = true
			c.Storage.Type = "postgresql"
		}, true},
		{"usage on mongo without url", func(c *Config) {
			c.Usage.Enabled = true
			c.Storage.Type = "mongodb"
		}, true},
		{"negative chunk size", func(c *Config) { c.Gateway.ChunkSize = -1 }, true},
		{"bad body size", func(c *Config) { c.Server.BodySizeLimit = "1G" }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestValidateBodySizeLimit(t *testing.T) {
	tests := []struct {
		name        string
		input       string
		expectError bool
	}{
		{"empty string is valid", "", false},
		{"plain number", "1048576", false},
		{"kilobytes lowercase", "100k", false},
		{"kilobytes uppercase", "100K", false},
		{"kilobytes with B suffix", "100KB", false},
		{"megabytes lowercase", "10m", false},
		{"megabytes uppercase", "10M", false},
		{"megabytes with B suffix", "10MB", false},
		{"whitespace trimmed", "  10M  ", false},

		{"minimum valid (1KB)", "1K", false},
		{"maximum valid (100MB)", "100M", false},

		{"invalid format with letters", "abc", true},
		{"invalid unit", "10X", true},
		{"negative number", "-10M", true},
		{"decimal number", "10.5M", true},
		{"empty unit with B", "10B", true},

		{"below minimum (100 bytes)", "100", true},
		{"above maximum (200MB)", "200M", true},
		{"above maximum (1GB)", "1G", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateBodySizeLimit(tt.input)
			if tt.expectError {
				assert.Error(t, err, "input %q", tt.input)
			} else {
				assert.NoError(t, err, "input %q", tt.input)
			}
		})
	}
}

func TestParseBodySizeLimit(t *testing.T) {
	n, err := ParseBodySizeLimit("10MB")
	require.NoError(t, err)
	assert.Equal(t, int64(10<<20), n)

	n, err = ParseBodySizeLimit("")
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestExpandString(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		envVars  map[string]string
		expected string
	}{
		{"empty string", "", nil, ""},
		{"string without placeholders", "simple-string", nil, "simple-string"},
		{"simple variable expansion", "${API_KEY}", map[string]string{"API_KEY": "sk-12345"}, "sk-12345"},
		{"variable in middle of string", "prefix-${API_KEY}-suffix", map[string]string{"API_KEY": "sk-12345"}, "prefix-sk-12345-suffix"},
		{"multiple variables", "${SCHEME}://${HOST}:${PORT}", map[string]string{"SCHEME": "https", "HOST": "api.example.com", "PORT": "8080"}, "https://api.example.com:8080"},
		{"default value - env var exists", "${API_KEY:-default-key}", map[string]string{"API_KEY": "sk-real-key"}, "sk-real-key"},
		{"default value - env var missing", "${API_KEY:-default-key}", nil, "default-key"},
		{"default value - env var empty", "${API_KEY:-default-key}", map[string]string{"API_KEY": ""}, "default-key"},
		{"unresolved variable - no default", "${MISSING_VAR}", nil, "${MISSING_VAR}"},
		{"partially resolved string", "${RESOLVED}-${UNRESOLVED}", map[string]string{"RESOLVED": "value1"}, "value1-${UNRESOLVED}"},
		{"default with colon in it", "${URL:-http://localhost:8080}", nil, "http://localhost:8080"},
		{"real-world endpoint", "${BASE_URL:-https://openrouter.ai}/api/v1/chat/completions", nil, "https://openrouter.ai/api/v1/chat/completions"},
		{"set to empty string without default", "${EMPTY_VAR}", map[string]string{"EMPTY_VAR": ""}, "${EMPTY_VAR}"},
		{"empty default value - env var missing", "${OPTIONAL_VAR:-}", nil, ""},
		{"empty default value - env var set", "${OPTIONAL_VAR:-}", map[string]string{"OPTIONAL_VAR": "actual-value"}, "actual-value"},
		{"master key pattern - unset", "${CHATGATE_MASTER_KEY:-}", nil, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for _, k := range []string{"API_KEY", "SCHEME", "HOST", "PORT", "MISSING_VAR", "RESOLVED", "UNRESOLVED", "URL", "BASE_URL", "EMPTY_VAR", "OPTIONAL_VAR", "CHATGATE_MASTER_KEY"} {
				t.Setenv(k, "")
			}
			for k, v := range tt.envVars {
				t.Setenv(k, v)
			}

			assert.Equal(t, tt.expected, expandString(tt.input))
		})
	}
}
