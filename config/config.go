// Package config provides configuration management for the application.
//
// Values are layered: built-in defaults, then an optional YAML file with
// ${VAR} / ${VAR:-default} expansion, then environment variables (a .env
// file in the working directory is loaded first and never overrides the real
// environment).
package config

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"chatgate/internal/core"
)

// Config holds the application configuration
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Upstream UpstreamConfig `yaml:"upstream"`
	Gateway  GatewayConfig  `yaml:"gateway"`
	HTTP     HTTPConfig     `yaml:"http"`
	Log      LogConfig      `yaml:"log"`
	Metrics  MetricsConfig  `yaml:"metrics"`
	Cache    CacheConfig    `yaml:"cache"`
	Storage  StorageConfig  `yaml:"storage"`
	Usage    UsageConfig    `yaml:"usage"`
	Models   ModelsConfig   `yaml:"models"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port string `yaml:"port" validate:"required,numeric"`

	// MasterKey protects /v1/* with a bearer token when set.
	MasterKey string `yaml:"master_key"`

	// BodySizeLimit caps request bodies, e.g. "10M". Empty means the server default.
	BodySizeLimit string `yaml:"body_size_limit"`
}

// UpstreamConfig names the default upstream a request goes to when it does
// not carry its own endpoint.
type UpstreamConfig struct {
	Endpoint           string            `yaml:"endpoint" validate:"required,url"`
	APIKey             string            `yaml:"api_key"`
	AggregatorEndpoint string            `yaml:"aggregator_endpoint" validate:"omitempty,url"`
	AggregatorKey      string            `yaml:"aggregator_key"`
	AzureHostSuffixes  []string          `yaml:"azure_host_suffixes"`
	Headers            map[string]string `yaml:"headers"`
}

// GatewayConfig tunes request shaping and streaming.
type GatewayConfig struct {
	Defaults core.GenerationConfig `yaml:"defaults"`

	// NonStreamingPrefixes lists model prefixes served through emulation.
	NonStreamingPrefixes []string `yaml:"non_streaming_prefixes"`

	ChunkSize  int           `yaml:"chunk_size" validate:"gte=0"`
	ChunkDelay time.Duration `yaml:"chunk_delay" validate:"gte=0"`

	// PassThroughOpaque emits events with no data line as unparsed events
	// instead of dropping them.
	PassThroughOpaque bool `yaml:"pass_through_opaque"`
}

// HTTPConfig tunes the upstream HTTP client. Zero values keep the client
// defaults, which honour HTTP_TIMEOUT and HTTP_RESPONSE_HEADER_TIMEOUT.
type HTTPConfig struct {
	Timeout               time.Duration `yaml:"timeout" validate:"gte=0"`
	ResponseHeaderTimeout time.Duration `yaml:"response_header_timeout" validate:"gte=0"`
	UserAgent             string        `yaml:"user_agent"`
}

// LogConfig selects the log handler.
type LogConfig struct {
	Level  string `yaml:"level" validate:"oneof=debug info warn error"`
	Format string `yaml:"format" validate:"oneof=auto pretty json"`
}

// MetricsConfig controls the Prometheus endpoint.
type MetricsConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Endpoint string `yaml:"endpoint" validate:"required_if=Enabled true,omitempty,startswith=/"`
}

// CacheConfig controls caching of non-streaming completions.
type CacheConfig struct {
	Type       string           `yaml:"type" validate:"oneof=none local redis"`
	TTL        time.Duration    `yaml:"ttl" validate:"gte=0"`
	MaxEntries int              `yaml:"max_entries" validate:"gte=0"`
	Redis      RedisCacheConfig `yaml:"redis"`
}

// RedisCacheConfig holds the Redis cache backend settings.
type RedisCacheConfig struct {
	URL    string `yaml:"url"`
	Prefix string `yaml:"prefix"`
}

// StorageConfig selects the database backing usage accounting.
type StorageConfig struct {
	Type       string                  `yaml:"type" validate:"oneof=sqlite postgresql mongodb"`
	SQLite     SQLiteStorageConfig     `yaml:"sqlite"`
	PostgreSQL PostgreSQLStorageConfig `yaml:"postgresql"`
	MongoDB    MongoDBStorageConfig    `yaml:"mongodb"`
}

// SQLiteStorageConfig holds SQLite settings
type SQLiteStorageConfig struct {
	Path string `yaml:"path"`
}

// PostgreSQLStorageConfig holds PostgreSQL settings
type PostgreSQLStorageConfig struct {
	URL      string `yaml:"url"`
	MaxConns int    `yaml:"max_conns" validate:"gte=0"`
}

// MongoDBStorageConfig holds MongoDB settings
type MongoDBStorageConfig struct {
	URL      string `yaml:"url"`
	Database string `yaml:"database"`
}

// UsageConfig controls token usage accounting.
type UsageConfig struct {
	Enabled    bool `yaml:"enabled"`
	BufferSize int  `yaml:"buffer_size" validate:"gte=0"`
	// FlushInterval in seconds
	FlushInterval int `yaml:"flush_interval" validate:"gte=0"`
	RetentionDays int `yaml:"retention_days" validate:"gte=0"`
}

// ModelsConfig points at an optional catalog overlay file.
type ModelsConfig struct {
	CatalogPath string `yaml:"catalog_path"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port:          "8080",
			BodySizeLimit: "10M",
		},
		Upstream: UpstreamConfig{
			Endpoint:           "https://api.openai.com/v1/chat/completions",
			AggregatorEndpoint: "https://openrouter.ai/api/v1/chat/completions",
			AzureHostSuffixes:  []string{"openai.azure.com"},
		},
		Gateway: GatewayConfig{
			Defaults:             core.DefaultGenerationConfig(),
			NonStreamingPrefixes: []string{"o1"},
			ChunkSize:            100,
			ChunkDelay:           time.Millisecond,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "auto",
		},
		Metrics: MetricsConfig{
			Enabled:  true,
			Endpoint: "/metrics",
		},
		Cache: CacheConfig{
			Type:       "none",
			TTL:        10 * time.Minute,
			MaxEntries: 1000,
		},
		Storage: StorageConfig{
			Type:       "sqlite",
			SQLite:     SQLiteStorageConfig{Path: ".cache/chatgate.db"},
			PostgreSQL: PostgreSQLStorageConfig{MaxConns: 10},
			MongoDB:    MongoDBStorageConfig{Database: "chatgate"},
		},
		Usage: UsageConfig{
			Enabled:       false,
			BufferSize:    1000,
			FlushInterval: 5,
			RetentionDays: 90,
		},
	}
}

// Load reads configuration from path (optional) and the environment, then
// validates the result. A missing file is an error only when path is set
// explicitly; an empty path tries config.yaml in the working directory.
func Load(path string) (*Config, error) {
	// .env never overrides variables already present in the environment.
	_ = godotenv.Load()

	cfg := Default()

	explicit := path != ""
	if !explicit {
		path = "config.yaml"
	}
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal([]byte(expandString(string(data))), cfg); err != nil {
			return nil, fmt.Errorf("parse config file %q: %w", path, err)
		}
	case explicit || !errors.Is(err, os.ErrNotExist):
		return nil, fmt.Errorf("read config file %q: %w", path, err)
	}

	if err := applyEnvOverrides(cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks field constraints and cross-section rules.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			return fmt.Errorf("invalid config: %s failed %q", verrs[0].Namespace(), verrs[0].Tag())
		}
		return fmt.Errorf("invalid config: %w", err)
	}
	if c.Cache.Type == "redis" && c.Cache.Redis.URL == "" {
		return fmt.Errorf("invalid config: cache.redis.url is required for the redis cache")
	}
	if c.Usage.Enabled {
		switch c.Storage.Type {
		case "postgresql":
			if c.Storage.PostgreSQL.URL == "" {
				return fmt.Errorf("invalid config: storage.postgresql.url is required")
			}
		case "mongodb":
			if c.Storage.MongoDB.URL == "" {
				return fmt.Errorf("invalid config: storage.mongodb.url is required")
			}
		}
	}
	return ValidateBodySizeLimit(c.Server.BodySizeLimit)
}

var envPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(:-([^}]*))?\}`)

// expandString replaces ${VAR} and ${VAR:-default}. A variable that is unset
// or empty falls back to its default; without a default the placeholder is
// left as written.
func expandString(s string) string {
	if !strings.Contains(s, "${") {
		return s
	}
	return envPattern.ReplaceAllStringFunc(s, func(m string) string {
		parts := envPattern.FindStringSubmatch(m)
		if v := os.Getenv(parts[1]); v != "" {
			return v
		}
		if parts[2] != "" {
			return parts[3]
		}
		return m
	})
}

// applyEnvOverrides lets environment variables override file values.
func applyEnvOverrides(cfg *Config) error {
	strs := map[string]*string{
		"PORT":                &cfg.Server.Port,
		"CHATGATE_MASTER_KEY": &cfg.Server.MasterKey,
		"BODY_SIZE_LIMIT":     &cfg.Server.BodySizeLimit,
		"UPSTREAM_ENDPOINT":   &cfg.Upstream.Endpoint,
		"UPSTREAM_API_KEY":    &cfg.Upstream.APIKey,
		"AGGREGATOR_ENDPOINT": &cfg.Upstream.AggregatorEndpoint,
		"OPENROUTER_API_KEY":  &cfg.Upstream.AggregatorKey,
		"DEFAULT_MODEL":       &cfg.Gateway.Defaults.Model,
		"HTTP_USER_AGENT":     &cfg.HTTP.UserAgent,
		"LOG_LEVEL":           &cfg.Log.Level,
		"LOG_FORMAT":          &cfg.Log.Format,
		"METRICS_ENDPOINT":    &cfg.Metrics.Endpoint,
		"CACHE_TYPE":          &cfg.Cache.Type,
		"REDIS_URL":           &cfg.Cache.Redis.URL,
		"REDIS_PREFIX":        &cfg.Cache.Redis.Prefix,
		"STORAGE_TYPE":        &cfg.Storage.Type,
		"SQLITE_PATH":         &cfg.Storage.SQLite.Path,
		"POSTGRES_URL":        &cfg.Storage.PostgreSQL.URL,
		"MONGODB_URL":         &cfg.Storage.MongoDB.URL,
		"MONGODB_DATABASE":    &cfg.Storage.MongoDB.Database,
		"MODELS_CATALOG_PATH": &cfg.Models.CatalogPath,
	}
	for key, dst := range strs {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	if cfg.Upstream.APIKey == "" {
		cfg.Upstream.APIKey = os.Getenv("OPENAI_API_KEY")
	}

	ints := map[string]*int{
		"POSTGRES_MAX_CONNS":   &cfg.Storage.PostgreSQL.MaxConns,
		"CACHE_MAX_ENTRIES":    &cfg.Cache.MaxEntries,
		"USAGE_BUFFER_SIZE":    &cfg.Usage.BufferSize,
		"USAGE_FLUSH_INTERVAL": &cfg.Usage.FlushInterval,
		"USAGE_RETENTION_DAYS": &cfg.Usage.RetentionDays,
		"STREAM_CHUNK_SIZE":    &cfg.Gateway.ChunkSize,
	}
	for key, dst := range ints {
		v := os.Getenv(key)
		if v == "" {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid %s %q: %w", key, v, err)
		}
		*dst = n
	}

	bools := map[string]*bool{
		"METRICS_ENABLED":     &cfg.Metrics.Enabled,
		"USAGE_ENABLED":       &cfg.Usage.Enabled,
		"PASS_THROUGH_OPAQUE": &cfg.Gateway.PassThroughOpaque,
	}
	for key, dst := range bools {
		v := os.Getenv(key)
		if v == "" {
			continue
		}
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("invalid %s %q: %w", key, v, err)
		}
		*dst = b
	}

	durations := map[string]*time.Duration{
		"CACHE_TTL":          &cfg.Cache.TTL,
		"STREAM_CHUNK_DELAY": &cfg.Gateway.ChunkDelay,
	}
	for key, dst := range durations {
		v := os.Getenv(key)
		if v == "" {
			continue
		}
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("invalid %s %q: %w", key, v, err)
		}
		*dst = d
	}

	if v := os.Getenv("NON_STREAMING_PREFIXES"); v != "" {
		cfg.Gateway.NonStreamingPrefixes = splitList(v)
	}
	if v := os.Getenv("AZURE_HOST_SUFFIXES"); v != "" {
		cfg.Upstream.AzureHostSuffixes = splitList(v)
	}
	return nil
}

func splitList(v string) []string {
	var out []string
	for _, s := range strings.Split(v, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

const (
	// DefaultBodySizeLimit is applied when no limit is configured.
	DefaultBodySizeLimit int64 = 10 << 20

	minBodySize = 1 << 10
	maxBodySize = 100 << 20
)

var bodySizePattern = regexp.MustCompile(`^(\d+)([KkMmGg][Bb]?)?$`)

// ValidateBodySizeLimit accepts sizes like "512K", "10M" or "10MB" between
// 1KB and 100MB. An empty value means the server default.
func ValidateBodySizeLimit(s string) error {
	_, err := ParseBodySizeLimit(s)
	return err
}

// ParseBodySizeLimit returns the limit in bytes; 0 for an empty value.
func ParseBodySizeLimit(s string) (int64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, nil
	}
	m := bodySizePattern.FindStringSubmatch(s)
	if m == nil {
		return 0, fmt.Errorf("invalid body size limit %q: use a number with an optional K, M or G suffix", s)
	}
	n, err := strconv.ParseInt(m[1], 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid body size limit %q: %w", s, err)
	}
	switch strings.TrimSuffix(strings.ToUpper(m[2]), "B") {
	case "K":
		n <<= 10
	case "M":
		n <<= 20
	case "G":
		n <<= 30
	}
	if n < minBodySize || n > maxBodySize {
		return 0, fmt.Errorf("body size limit %q must be between 1K and 100M", s)
	}
	return n, nil
}
