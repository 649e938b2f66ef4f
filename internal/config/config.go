// Package config provides application configuration loaded from environment
// variables with defaults and validation. It centralizes server timeouts,
// logging, storage backends, the external archive endpoint, retention and
// sync tuning, and observability. A Config is built once at process start and
// passed explicitly to every component; business code never reads the
// environment itself.
package config

import (
	"errors"
	"os"
	"strconv"
	"strings"
	"time"
)

// CORSConfig defines Cross-Origin Resource Sharing settings.
type CORSConfig struct {
	AllowedOrigins []string
}

// SecurityConfig defines security-related settings such as HSTS.
type SecurityConfig struct {
	EnableHSTS bool
	HSTSMaxAge time.Duration
}

// OTELConfig defines OpenTelemetry observability settings.
type OTELConfig struct {
	Enabled     bool    // OTEL_ENABLED
	Endpoint    string  // OTEL_EXPORTER_OTLP_ENDPOINT (e.g. "otel:4317")
	Insecure    bool    // OTEL_EXPORTER_OTLP_INSECURE (true if no TLS)
	ServiceName string  // OTEL_SERVICE_NAME (e.g. "visitproof")
	SampleRatio float64 // OTEL_TRACES_SAMPLER_ARG in [0..1]
}

// DBConfig selects the relational store.
type DBConfig struct {
	Driver      string // sqlite|postgres
	DSN         string // file path for sqlite, URL/DSN for postgres
	AutoMigrate bool   // false when the schema is managed out of band
}

// StorageConfig selects and configures the object archive holding proof photos.
type StorageConfig struct {
	Driver        string // s3|memory
	Prefix        string // object key prefix, e.g. "visits"
	S3Bucket      string
	S3Region      string
	S3Endpoint    string // custom endpoint for S3-compatible backends (MinIO)
	S3AccessKey   string
	S3SecretKey   string
	S3PathStyle   bool
	MaxImageBytes int // decoded image size cap
}

// ArchiveConfig points at the external archive service that mirrors entries.
type ArchiveConfig struct {
	SyncURL   string        // ARCHIVE_SYNC_URL
	DeleteURL string        // ARCHIVE_DELETE_URL, defaults to SyncURL
	Token     string        // shared secret sent with every call
	Timeout   time.Duration // per-call HTTP timeout
}

// PhotoConfig controls construction of the photo-fetch URL handed to the
// archive. Both fields are required together; if either is empty no URL is
// ever built.
type PhotoConfig struct {
	PublicBaseURL string // e.g. https://visits.example.com
	ViewToken     string // bearer token accepted by GET /photo
}

// SyncConfig tunes the eventual-sync engine and its background workers.
type SyncConfig struct {
	MaxAttempts   int           // rows at the cap are surfaced, not retried
	Batch         int           // rows per retry sweep
	Concurrency   int           // parallel sync calls within one sweep
	Workers       int           // dispatcher goroutines
	QueueSize     int           // dispatcher buffer
	SweepInterval time.Duration // ticker for retry + purge
}

// RetentionConfig tunes the purge sweep.
type RetentionConfig struct {
	Days          int // entries older than this are purged
	Batch         int // oldest N per sweep
	VisitLogDays  int // audit log retention
	PurgeParallel int // concurrent external deletions
}

// CacheConfig selects the search response cache.
type CacheConfig struct {
	Driver   string        // memory|redis|none
	RedisURL string        // redis://host:6379/0
	HitTTL   time.Duration // found responses
	MissTTL  time.Duration // not-found responses
}

// Config holds all configuration values for the application.
type Config struct {
	// Server
	Port              string        // just the number
	ReadTimeout       time.Duration // e.g. 15s
	ReadHeaderTimeout time.Duration // e.g. 10s
	WriteTimeout      time.Duration // e.g. 20s
	IdleTimeout       time.Duration // e.g. 60s
	MaxHeaderBytes    int           // bytes
	GinMode           string        // debug|release|test

	// Logging
	LogLevel    string // debug|info|warn|error|fatal|panic
	LogPretty   bool   // pretty console logs in dev
	APIBasePath string // base path for API routes

	// Backends
	DB      DBConfig
	Storage StorageConfig
	Archive ArchiveConfig
	Photo   PhotoConfig
	Cache   CacheConfig

	// Background work
	Sync      SyncConfig
	Retention RetentionConfig

	// Rate limiting
	RateRPS   float64 // tokens per second (>= 0)
	RateBurst int     // bucket size (>= 1)

	// Web protection
	CORS     CORSConfig
	Security SecurityConfig

	// Observability
	OTEL OTELConfig
}

// Load reads configuration from environment variables,
// applies defaults, normalizes values, and validates the result.
func Load() (Config, error) {
	cfg := Config{
		// Server
		Port:              getenv("PORT", "8080"),
		ReadTimeout:       getdur("READ_TIMEOUT", 15*time.Second),
		ReadHeaderTimeout: getdur("READ_HEADER_TIMEOUT", 10*time.Second),
		WriteTimeout:      getdur("WRITE_TIMEOUT", 20*time.Second),
		IdleTimeout:       getdur("IDLE_TIMEOUT", 60*time.Second),
		MaxHeaderBytes:    getint("MAX_HEADER_BYTES", 1<<20),
		GinMode:           strings.ToLower(getenv("GIN_MODE", "release")),

		// Logging
		LogLevel:    strings.ToLower(getenv("LOG_LEVEL", "info")),
		LogPretty:   getbool("LOG_PRETTY", false),
		APIBasePath: normalizeBasePath(getenv("API_BASE_PATH", "/")),

		DB: DBConfig{
			Driver:      strings.ToLower(getenv("DB_DRIVER", "sqlite")),
			DSN:         getenv("DB_DSN", "visitproof.db"),
			AutoMigrate: getbool("DB_AUTO_MIGRATE", true),
		},
		Storage: StorageConfig{
			Driver:        strings.ToLower(getenv("STORAGE_DRIVER", "memory")),
			Prefix:        strings.Trim(getenv("OBJECT_PREFIX", "visits"), "/"),
			S3Bucket:      getenv("S3_BUCKET", "visitproof"),
			S3Region:      getenv("S3_REGION", "us-east-1"),
			S3Endpoint:    getenv("S3_ENDPOINT", ""),
			S3AccessKey:   getenv("S3_ACCESS_KEY", ""),
			S3SecretKey:   getenv("S3_SECRET_KEY", ""),
			S3PathStyle:   getbool("S3_PATH_STYLE", true),
			MaxImageBytes: getint("MAX_IMAGE_BYTES", 5<<20),
		},
		Archive: ArchiveConfig{
			SyncURL:   getenv("ARCHIVE_SYNC_URL", ""),
			DeleteURL: getenv("ARCHIVE_DELETE_URL", ""),
			Token:     getenv("ARCHIVE_TOKEN", ""),
			Timeout:   getdur("ARCHIVE_TIMEOUT", 20*time.Second),
		},
		Photo: PhotoConfig{
			PublicBaseURL: strings.TrimRight(getenv("PUBLIC_BASE_URL", ""), "/"),
			ViewToken:     getenv("PHOTO_VIEW_TOKEN", ""),
		},
		Cache: CacheConfig{
			Driver:   strings.ToLower(getenv("CACHE_DRIVER", "memory")),
			RedisURL: getenv("REDIS_URL", ""),
			HitTTL:   getdur("SEARCH_CACHE_TTL", 10*time.Second),
			MissTTL:  getdur("SEARCH_MISS_CACHE_TTL", 5*time.Second),
		},

		Sync: SyncConfig{
			MaxAttempts:   getint("SYNC_MAX_ATTEMPTS", 5),
			Batch:         getint("SYNC_BATCH", 25),
			Concurrency:   getint("SYNC_CONCURRENCY", 4),
			Workers:       getint("DISPATCH_WORKERS", 2),
			QueueSize:     getint("DISPATCH_QUEUE", 256),
			SweepInterval: getdur("SWEEP_INTERVAL", 5*time.Minute),
		},
		Retention: RetentionConfig{
			Days:          getint("RETENTION_DAYS", 120),
			Batch:         getint("PURGE_BATCH", 50),
			VisitLogDays:  getint("VISIT_LOG_RETENTION_DAYS", 30),
			PurgeParallel: getint("PURGE_CONCURRENCY", 4),
		},

		// Rate limiting
		RateRPS:   getfloat("RATE_RPS", 5.0),
		RateBurst: getint("RATE_BURST", 10),

		// Web protection
		CORS: CORSConfig{
			AllowedOrigins: splitCSV(getenv("CORS_ALLOWED_ORIGINS", "")),
		},
		Security: SecurityConfig{
			EnableHSTS: getbool("ENABLE_HSTS", false),
			HSTSMaxAge: getdur("HSTS_MAX_AGE", 180*24*time.Hour),
		},

		// Observability (OpenTelemetry)
		OTEL: OTELConfig{
			Enabled:     getbool("OTEL_ENABLED", false),
			Endpoint:    getenv("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),
			Insecure:    getbool("OTEL_EXPORTER_OTLP_INSECURE", true),
			ServiceName: getenv("OTEL_SERVICE_NAME", "visitproof"),
			SampleRatio: getfloat("OTEL_TRACES_SAMPLER_ARG", 1.0),
		},
	}

	// --- normalization ---
	if cfg.LogLevel == "warning" {
		cfg.LogLevel = "warn"
	}
	switch cfg.GinMode {
	case "debug", "release", "test":
	default:
		cfg.GinMode = "release"
	}
	if cfg.Archive.DeleteURL == "" {
		cfg.Archive.DeleteURL = cfg.Archive.SyncURL
	}

	// --- validation ---
	switch cfg.LogLevel {
	case "debug", "info", "warn", "error", "fatal", "panic":
	default:
		return cfg, errors.New("LOG_LEVEL must be one of: debug, info, warn, error, fatal, panic")
	}
	if strings.TrimSpace(cfg.Port) == "" {
		return cfg, errors.New("PORT must not be empty")
	}
	if cfg.ReadTimeout <= 0 || cfg.ReadHeaderTimeout <= 0 || cfg.WriteTimeout <= 0 || cfg.IdleTimeout <= 0 {
		return cfg, errors.New("timeouts must be positive durations")
	}
	if cfg.MaxHeaderBytes <= 0 {
		return cfg, errors.New("MAX_HEADER_BYTES must be > 0")
	}
	switch cfg.DB.Driver {
	case "sqlite", "postgres":
	default:
		return cfg, errors.New("DB_DRIVER must be one of: sqlite, postgres")
	}
	if strings.TrimSpace(cfg.DB.DSN) == "" {
		return cfg, errors.New("DB_DSN must not be empty")
	}
	switch cfg.Storage.Driver {
	case "memory":
	case "s3":
		if cfg.Storage.S3Bucket == "" {
			return cfg, errors.New("S3_BUCKET must not be empty when STORAGE_DRIVER=s3")
		}
	default:
		return cfg, errors.New("STORAGE_DRIVER must be one of: s3, memory")
	}
	if cfg.Storage.MaxImageBytes <= 0 {
		return cfg, errors.New("MAX_IMAGE_BYTES must be > 0")
	}
	switch cfg.Cache.Driver {
	case "memory", "none":
	case "redis":
		if cfg.Cache.RedisURL == "" {
			return cfg, errors.New("REDIS_URL must be set when CACHE_DRIVER=redis")
		}
	default:
		return cfg, errors.New("CACHE_DRIVER must be one of: memory, redis, none")
	}
	if cfg.Cache.HitTTL < 0 || cfg.Cache.MissTTL < 0 {
		return cfg, errors.New("search cache TTLs must be >= 0")
	}
	if cfg.Archive.Timeout <= 0 {
		return cfg, errors.New("ARCHIVE_TIMEOUT must be > 0")
	}
	if cfg.Sync.MaxAttempts < 1 {
		return cfg, errors.New("SYNC_MAX_ATTEMPTS must be >= 1")
	}
	if cfg.Sync.Batch < 1 || cfg.Sync.Concurrency < 1 || cfg.Sync.Workers < 1 || cfg.Sync.QueueSize < 1 {
		return cfg, errors.New("SYNC_BATCH, SYNC_CONCURRENCY, DISPATCH_WORKERS and DISPATCH_QUEUE must be >= 1")
	}
	if cfg.Sync.SweepInterval <= 0 {
		return cfg, errors.New("SWEEP_INTERVAL must be > 0")
	}
	if cfg.Retention.Days < 1 {
		return cfg, errors.New("RETENTION_DAYS must be >= 1")
	}
	if cfg.Retention.Batch < 1 || cfg.Retention.PurgeParallel < 1 {
		return cfg, errors.New("PURGE_BATCH and PURGE_CONCURRENCY must be >= 1")
	}
	if cfg.Retention.VisitLogDays < 1 {
		return cfg, errors.New("VISIT_LOG_RETENTION_DAYS must be >= 1")
	}
	if cfg.RateRPS < 0 {
		return cfg, errors.New("RATE_RPS must be >= 0")
	}
	if cfg.RateBurst < 1 {
		return cfg, errors.New("RATE_BURST must be >= 1")
	}
	if cfg.Security.HSTSMaxAge < 0 {
		return cfg, errors.New("HSTS_MAX_AGE must be >= 0")
	}
	if cfg.OTEL.SampleRatio < 0 || cfg.OTEL.SampleRatio > 1 {
		return cfg, errors.New("OTEL_TRACES_SAMPLER_ARG must be in [0,1]")
	}

	return cfg, nil
}

// PhotoURLEnabled reports whether both halves of the photo-fetch
// configuration are present.
func (c Config) PhotoURLEnabled() bool {
	return c.Photo.PublicBaseURL != "" && c.Photo.ViewToken != ""
}

// RetentionWindow returns the retention threshold as a duration.
func (c Config) RetentionWindow() time.Duration {
	return time.Duration(c.Retention.Days) * 24 * time.Hour
}

// ---- helpers (no external deps) ----

func getenv(k, def string) string {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		return v
	}
	return def
}

func getfloat(k string, def float64) float64 {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func getint(k string, def int) int {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

func getbool(k string, def bool) bool {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "1", "true", "yes", "y", "on":
			return true
		case "0", "false", "no", "n", "off":
			return false
		}
	}
	return def
}

func getdur(k string, def time.Duration) time.Duration {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

func splitCSV(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		t := strings.TrimSpace(p)
		if t != "" {
			out = append(out, t)
		}
	}
	return out
}

// normalizeBasePath ensures leading '/' and strips trailing '/' (except root).
func normalizeBasePath(p string) string {
	p = strings.TrimSpace(p)
	if p == "" {
		return "/"
	}
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	if len(p) > 1 && strings.HasSuffix(p, "/") {
		p = strings.TrimRight(p, "/")
	}
	return p
}
