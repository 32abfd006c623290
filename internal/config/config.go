package config

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

//go:embed defaults.yaml
var defaultsYAML []byte

// Config is built once by the command layer and handed to every component
// through its constructor.
type Config struct {
	Embedding EmbeddingConfig `yaml:"embedding"`
	Search    SearchConfig    `yaml:"search"`
	Ingest    IngestConfig    `yaml:"ingest"`
	Extractor ExtractorConfig `yaml:"extractor"`
	Database  DatabaseConfig  `yaml:"database"`
	Metadata  MetadataConfig  `yaml:"metadata"`
	Blob      BlobConfig      `yaml:"blob"`
	Web       WebConfig       `yaml:"web"`
	Log       LogConfig       `yaml:"log"`
	Metrics   MetricsConfig   `yaml:"metrics"`
}

type EmbeddingConfig struct {
	Dim int `yaml:"dim"` // fixed per deployment, must match the extractor model
}

type SearchConfig struct {
	DefaultThreshold float64 `yaml:"default_threshold"`
	DefaultLimit     int     `yaml:"default_limit"`
	MaxLimit         int     `yaml:"max_limit"`
	Index            string  `yaml:"index"`             // "exact" or "hnsw"
	HNSWExactBelow   int     `yaml:"hnsw_exact_below"`  // sessions at or below this size are scored exactly
	HNSWMaxSessions  int     `yaml:"hnsw_max_sessions"` // graphs kept in memory at once
}

type IngestConfig struct {
	MaxAttempts       int           `yaml:"max_attempts"`
	BackoffBase       time.Duration `yaml:"backoff_base"`
	BackoffMax        time.Duration `yaml:"backoff_max"`
	TaskTimeLimit     time.Duration `yaml:"task_time_limit"`
	StoreWriteTimeout time.Duration `yaml:"store_write_timeout"`
	Workers           int           `yaml:"workers"`
	Queue             string        `yaml:"queue"`
	SyncMaxPhotos     int           `yaml:"sync_max_photos"`
}

type ExtractorConfig struct {
	URL                string        `yaml:"url"`
	Timeout            time.Duration `yaml:"timeout"`
	DetectionThreshold float64       `yaml:"detection_threshold"`
	RPS                float64       `yaml:"rps"`
	Burst              int           `yaml:"burst"`
}

type DatabaseConfig struct {
	Driver     string `yaml:"driver"` // postgres, sqlite or memory
	URL        string `yaml:"url"`    // PostgreSQL connection URL for the vector store and job queue
	MaxConns   int    `yaml:"max_conns"`
	SQLitePath string `yaml:"sqlite_path"`
}

type MetadataConfig struct {
	URL         string        `yaml:"url"` // postgres:// URL or MySQL DSN, empty disables lookups
	CheckPhotos bool          `yaml:"check_photos"`
	CacheTTL    time.Duration `yaml:"cache_ttl"`
	CacheSize   int           `yaml:"cache_size"`
}

type BlobConfig struct {
	Driver    string `yaml:"driver"` // s3 or fs
	Endpoint  string `yaml:"endpoint"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
	Bucket    string `yaml:"bucket"`
	Region    string `yaml:"region"`
	UseSSL    bool   `yaml:"use_ssl"`
	Dir       string `yaml:"dir"`
}

type WebConfig struct {
	Host                string   `yaml:"host"`
	Port                int      `yaml:"port"`
	CORSOrigins         []string `yaml:"cors_origins"`
	IndexRatePerMinute  int      `yaml:"index_rate_per_minute"`
	SearchRatePerMinute int      `yaml:"search_rate_per_minute"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // text or json
}

type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`
}

// envInt reads an environment variable and parses it as a positive integer.
// Returns the default value if the env var is unset, empty, or invalid.
func envInt(key string, defaultVal int) int {
	s := os.Getenv(key)
	if s == "" {
		return defaultVal
	}
	if n, err := strconv.Atoi(s); err == nil && n > 0 {
		return n
	}
	return defaultVal
}

// envFloat reads a non-negative float, falling back to defaultVal.
func envFloat(key string, defaultVal float64) float64 {
	s := os.Getenv(key)
	if s == "" {
		return defaultVal
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil && f >= 0 {
		return f
	}
	return defaultVal
}

// envDuration accepts Go durations ("90s") or a bare number of seconds.
func envDuration(key string, defaultVal time.Duration) time.Duration {
	s := os.Getenv(key)
	if s == "" {
		return defaultVal
	}
	if d, err := time.ParseDuration(s); err == nil && d > 0 {
		return d
	}
	if n, err := strconv.Atoi(s); err == nil && n > 0 {
		return time.Duration(n) * time.Second
	}
	return defaultVal
}

func envBool(key string, defaultVal bool) bool {
	s := os.Getenv(key)
	if s == "" {
		return defaultVal
	}
	if b, err := strconv.ParseBool(s); err == nil {
		return b
	}
	return defaultVal
}

func envString(key, defaultVal string) string {
	if s := os.Getenv(key); s != "" {
		return s
	}
	return defaultVal
}

// envList splits a comma-separated variable, dropping empty entries.
func envList(key string, defaultVal []string) []string {
	s := os.Getenv(key)
	if s == "" {
		return defaultVal
	}
	var out []string
	for part := range strings.SplitSeq(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// Defaults returns the embedded default configuration without any overrides.
func Defaults() *Config {
	var cfg Config
	if err := yaml.Unmarshal(defaultsYAML, &cfg); err != nil {
		// This is an embedded file so this error should never happen in practice
		panic("failed to unmarshal embedded defaults.yaml: " + err.Error())
	}
	return &cfg
}

// Load builds the configuration from the embedded defaults, the optional YAML
// file at path and the process environment, in that order of precedence.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file %s: %w", path, err)
		}
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	c.Embedding.Dim = envInt("EMBEDDING_DIMENSION", c.Embedding.Dim)

	c.Search.DefaultThreshold = envFloat("FACE_SIMILARITY_THRESHOLD", c.Search.DefaultThreshold)
	c.Search.DefaultLimit = envInt("SEARCH_DEFAULT_LIMIT", c.Search.DefaultLimit)
	c.Search.MaxLimit = envInt("SEARCH_MAX_LIMIT", c.Search.MaxLimit)
	c.Search.Index = envString("SEARCH_INDEX", c.Search.Index)
	c.Search.HNSWExactBelow = envInt("HNSW_EXACT_BELOW", c.Search.HNSWExactBelow)
	c.Search.HNSWMaxSessions = envInt("HNSW_MAX_SESSIONS", c.Search.HNSWMaxSessions)

	c.Ingest.MaxAttempts = envInt("INGEST_MAX_ATTEMPTS", c.Ingest.MaxAttempts)
	c.Ingest.BackoffBase = envDuration("INGEST_BACKOFF_BASE", c.Ingest.BackoffBase)
	c.Ingest.BackoffMax = envDuration("INGEST_BACKOFF_MAX", c.Ingest.BackoffMax)
	c.Ingest.TaskTimeLimit = envDuration("TASK_TIME_LIMIT", c.Ingest.TaskTimeLimit)
	c.Ingest.StoreWriteTimeout = envDuration("STORE_WRITE_TIMEOUT", c.Ingest.StoreWriteTimeout)
	c.Ingest.Workers = envInt("INGEST_WORKERS", c.Ingest.Workers)
	c.Ingest.Queue = envString("INGEST_QUEUE", c.Ingest.Queue)
	c.Ingest.SyncMaxPhotos = envInt("SYNC_MAX_PHOTOS", c.Ingest.SyncMaxPhotos)

	c.Extractor.URL = envString("EXTRACTOR_URL", c.Extractor.URL)
	c.Extractor.Timeout = envDuration("EXTRACTOR_TIMEOUT", c.Extractor.Timeout)
	c.Extractor.DetectionThreshold = envFloat("FACE_DETECTION_THRESHOLD", c.Extractor.DetectionThreshold)
	c.Extractor.RPS = envFloat("EXTRACTOR_RPS", c.Extractor.RPS)
	c.Extractor.Burst = envInt("EXTRACTOR_BURST", c.Extractor.Burst)

	c.Database.Driver = envString("VECTOR_STORE_DRIVER", c.Database.Driver)
	c.Database.URL = envString("DATABASE_URL", c.Database.URL)
	c.Database.MaxConns = envInt("DATABASE_MAX_CONNS", c.Database.MaxConns)
	c.Database.SQLitePath = envString("SQLITE_PATH", c.Database.SQLitePath)

	c.Metadata.URL = envString("METADATA_DATABASE_URL", c.Metadata.URL)
	c.Metadata.CheckPhotos = envBool("METADATA_CHECK_PHOTOS", c.Metadata.CheckPhotos)
	c.Metadata.CacheTTL = envDuration("SESSION_CACHE_TTL", c.Metadata.CacheTTL)
	c.Metadata.CacheSize = envInt("SESSION_CACHE_SIZE", c.Metadata.CacheSize)

	c.Blob.Driver = envString("BLOB_DRIVER", c.Blob.Driver)
	c.Blob.Endpoint = envString("S3_ENDPOINT", c.Blob.Endpoint)
	c.Blob.AccessKey = envString("S3_ACCESS_KEY", c.Blob.AccessKey)
	c.Blob.SecretKey = envString("S3_SECRET_KEY", c.Blob.SecretKey)
	c.Blob.Bucket = envString("S3_BUCKET", c.Blob.Bucket)
	c.Blob.Region = envString("S3_REGION", c.Blob.Region)
	c.Blob.UseSSL = envBool("S3_USE_SSL", c.Blob.UseSSL)
	c.Blob.Dir = envString("BLOB_DIR", c.Blob.Dir)

	c.Web.Host = envString("WEB_HOST", c.Web.Host)
	c.Web.Port = envInt("WEB_PORT", c.Web.Port)
	c.Web.CORSOrigins = envList("CORS_ORIGINS", c.Web.CORSOrigins)
	c.Web.IndexRatePerMinute = envInt("INDEX_RATE_PER_MINUTE", c.Web.IndexRatePerMinute)
	c.Web.SearchRatePerMinute = envInt("SEARCH_RATE_PER_MINUTE", c.Web.SearchRatePerMinute)

	c.Log.Level = envString("LOG_LEVEL", c.Log.Level)
	c.Log.Format = envString("LOG_FORMAT", c.Log.Format)

	c.Metrics.Enabled = envBool("METRICS_ENABLED", c.Metrics.Enabled)
}

// Validate checks cross-field constraints. All problems are reported together.
func (c *Config) Validate() error {
	var errs []error

	if c.Embedding.Dim <= 0 {
		errs = append(errs, errors.New("embedding dimension must be positive"))
	}
	if c.Search.DefaultThreshold < 0 || c.Search.DefaultThreshold > 1 {
		errs = append(errs, errors.New("similarity threshold must be between 0.0 and 1.0"))
	}
	if c.Extractor.DetectionThreshold < 0 || c.Extractor.DetectionThreshold > 1 {
		errs = append(errs, errors.New("detection threshold must be between 0.0 and 1.0"))
	}
	if c.Search.DefaultLimit <= 0 || c.Search.DefaultLimit > c.Search.MaxLimit {
		errs = append(errs, fmt.Errorf("default limit %d must be in [1, %d]", c.Search.DefaultLimit, c.Search.MaxLimit))
	}
	switch c.Search.Index {
	case "exact", "hnsw":
	default:
		errs = append(errs, fmt.Errorf("unknown search index %q (want exact or hnsw)", c.Search.Index))
	}
	if c.Ingest.MaxAttempts < 1 {
		errs = append(errs, errors.New("ingest max attempts must be at least 1"))
	}
	if c.Ingest.BackoffBase <= 0 || c.Ingest.BackoffBase > c.Ingest.BackoffMax {
		errs = append(errs, fmt.Errorf("backoff base %s must be positive and not exceed max %s", c.Ingest.BackoffBase, c.Ingest.BackoffMax))
	}
	if c.Ingest.TaskTimeLimit <= 0 {
		errs = append(errs, errors.New("task time limit must be positive"))
	}
	switch c.Database.Driver {
	case "postgres", "sqlite", "memory":
	default:
		errs = append(errs, fmt.Errorf("unknown vector store driver %q", c.Database.Driver))
	}
	switch c.Blob.Driver {
	case "s3", "fs":
	default:
		errs = append(errs, fmt.Errorf("unknown blob driver %q", c.Blob.Driver))
	}

	return errors.Join(errs...)
}

// Addr returns the host:port the HTTP server listens on.
func (c *WebConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}
