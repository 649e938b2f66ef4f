package config

import (
	"os"
	"reflect"
	"strings"
	"testing"
	"time"
)

// --- Load success + normalization + parsing ---

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.Retention.Days != 120 {
		t.Fatalf("retention default = %d, want 120", cfg.Retention.Days)
	}
	if cfg.RetentionWindow() != 120*24*time.Hour {
		t.Fatalf("RetentionWindow = %v", cfg.RetentionWindow())
	}
	if cfg.DB.Driver != "sqlite" || cfg.Storage.Driver != "memory" || cfg.Cache.Driver != "memory" {
		t.Fatalf("backend defaults unexpected: db=%q storage=%q cache=%q", cfg.DB.Driver, cfg.Storage.Driver, cfg.Cache.Driver)
	}
	if !cfg.DB.AutoMigrate {
		t.Fatalf("DB_AUTO_MIGRATE should default to true")
	}
	if cfg.Storage.Prefix != "visits" {
		t.Fatalf("object prefix default = %q", cfg.Storage.Prefix)
	}
	if cfg.APIBasePath != "/" {
		t.Fatalf("API_BASE_PATH default expected '/', got %q", cfg.APIBasePath)
	}
	if cfg.PhotoURLEnabled() {
		t.Fatalf("photo URL must be disabled without base URL and view token")
	}
}

func TestLoad_Success_Overrides(t *testing.T) {
	t.Setenv("PORT", "8088")
	t.Setenv("READ_TIMEOUT", "2s")
	t.Setenv("GIN_MODE", "weird") // will normalize to "release"
	t.Setenv("LOG_LEVEL", "warning")
	t.Setenv("LOG_PRETTY", "yes")
	t.Setenv("API_BASE_PATH", "api/")

	t.Setenv("DB_DRIVER", "POSTGRES")
	t.Setenv("DB_DSN", "postgres://u:p@db:5432/visits")
	t.Setenv("STORAGE_DRIVER", "s3")
	t.Setenv("S3_BUCKET", "proofs")
	t.Setenv("S3_ENDPOINT", "http://minio:9000")
	t.Setenv("OBJECT_PREFIX", "/kiosk/")
	t.Setenv("CACHE_DRIVER", "redis")
	t.Setenv("REDIS_URL", "redis://cache:6379/0")
	t.Setenv("SEARCH_CACHE_TTL", "3s")

	t.Setenv("ARCHIVE_SYNC_URL", "https://archive.example/exec")
	t.Setenv("ARCHIVE_TOKEN", "s3cret")
	t.Setenv("PUBLIC_BASE_URL", "https://visits.example/")
	t.Setenv("PHOTO_VIEW_TOKEN", "view")

	t.Setenv("RETENTION_DAYS", "30")
	t.Setenv("PURGE_BATCH", "7")
	t.Setenv("SYNC_MAX_ATTEMPTS", "3")
	t.Setenv("RATE_RPS", "x") // -> default 5.0

	t.Setenv("CORS_ALLOWED_ORIGINS", " https://a.com , , http://b ")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}

	if cfg.Port != "8088" || cfg.ReadTimeout != 2*time.Second || cfg.GinMode != "release" {
		t.Fatalf("server fields unexpected: %+v", cfg)
	}
	if cfg.LogLevel != "warn" || !cfg.LogPretty || cfg.APIBasePath != "/api" {
		t.Fatalf("logging fields unexpected: %+v", cfg)
	}
	if cfg.DB.Driver != "postgres" || cfg.DB.DSN != "postgres://u:p@db:5432/visits" {
		t.Fatalf("db unexpected: %+v", cfg.DB)
	}
	if cfg.Storage.Driver != "s3" || cfg.Storage.S3Bucket != "proofs" || cfg.Storage.Prefix != "kiosk" {
		t.Fatalf("storage unexpected: %+v", cfg.Storage)
	}
	if cfg.Cache.Driver != "redis" || cfg.Cache.HitTTL != 3*time.Second {
		t.Fatalf("cache unexpected: %+v", cfg.Cache)
	}
	// Delete URL defaults to the sync URL.
	if cfg.Archive.DeleteURL != "https://archive.example/exec" || cfg.Archive.Token != "s3cret" {
		t.Fatalf("archive unexpected: %+v", cfg.Archive)
	}
	if !cfg.PhotoURLEnabled() || cfg.Photo.PublicBaseURL != "https://visits.example" {
		t.Fatalf("photo unexpected: %+v", cfg.Photo)
	}
	if cfg.Retention.Days != 30 || cfg.Retention.Batch != 7 || cfg.Sync.MaxAttempts != 3 {
		t.Fatalf("background tuning unexpected: %+v %+v", cfg.Retention, cfg.Sync)
	}
	if cfg.RateRPS != 5.0 {
		t.Fatalf("rate rps fallback unexpected: %v", cfg.RateRPS)
	}
	if !reflect.DeepEqual(cfg.CORS.AllowedOrigins, []string{"https://a.com", "http://b"}) {
		t.Fatalf("cors origins unexpected: %#v", cfg.CORS.AllowedOrigins)
	}
}

func TestLoad_ExplicitDeleteURLWins(t *testing.T) {
	t.Setenv("ARCHIVE_SYNC_URL", "https://archive.example/sync")
	t.Setenv("ARCHIVE_DELETE_URL", "https://archive.example/delete")
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.Archive.DeleteURL != "https://archive.example/delete" {
		t.Fatalf("DeleteURL = %q", cfg.Archive.DeleteURL)
	}
}

// --- Load validations (each case triggers exactly one validation error) ---

func TestLoad_ValidationErrors(t *testing.T) {
	cases := []struct {
		name string
		env  map[string]string
		want string
	}{
		{"invalid LOG_LEVEL", map[string]string{"LOG_LEVEL": "verbose"}, "LOG_LEVEL"},
		{"empty PORT via spaces", map[string]string{"PORT": "   "}, "PORT must not be empty"},
		{"non-positive timeouts", map[string]string{"READ_TIMEOUT": "0s"}, "timeouts must be positive"},
		{"max header bytes", map[string]string{"MAX_HEADER_BYTES": "0"}, "MAX_HEADER_BYTES"},
		{"unknown db driver", map[string]string{"DB_DRIVER": "mysql"}, "DB_DRIVER"},
		{"empty dsn", map[string]string{"DB_DSN": "   "}, "DB_DSN"},
		{"unknown storage driver", map[string]string{"STORAGE_DRIVER": "gcs"}, "STORAGE_DRIVER"},
		{"max image bytes", map[string]string{"MAX_IMAGE_BYTES": "-1"}, "MAX_IMAGE_BYTES"},
		{"redis without url", map[string]string{"CACHE_DRIVER": "redis"}, "REDIS_URL"},
		{"unknown cache driver", map[string]string{"CACHE_DRIVER": "memcached"}, "CACHE_DRIVER"},
		{"archive timeout", map[string]string{"ARCHIVE_TIMEOUT": "0s"}, "ARCHIVE_TIMEOUT"},
		{"sync max attempts", map[string]string{"SYNC_MAX_ATTEMPTS": "0"}, "SYNC_MAX_ATTEMPTS"},
		{"dispatch workers", map[string]string{"DISPATCH_WORKERS": "0"}, "DISPATCH_WORKERS"},
		{"sweep interval", map[string]string{"SWEEP_INTERVAL": "0s"}, "SWEEP_INTERVAL"},
		{"retention days", map[string]string{"RETENTION_DAYS": "0"}, "RETENTION_DAYS"},
		{"purge batch", map[string]string{"PURGE_BATCH": "0"}, "PURGE_BATCH"},
		{"visit log days", map[string]string{"VISIT_LOG_RETENTION_DAYS": "0"}, "VISIT_LOG_RETENTION_DAYS"},
		{"rate rps negative", map[string]string{"RATE_RPS": "-1"}, "RATE_RPS"},
		{"rate burst < 1", map[string]string{"RATE_BURST": "0"}, "RATE_BURST"},
		{"hsts max age negative", map[string]string{"HSTS_MAX_AGE": "-1s"}, "HSTS_MAX_AGE"},
		{"otel sample ratio", map[string]string{"OTEL_TRACES_SAMPLER_ARG": "1.5"}, "OTEL_TRACES_SAMPLER_ARG"},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			for k, v := range tc.env {
				t.Setenv(k, v)
			}
			if _, err := Load(); err == nil || !containsErr(err, tc.want) {
				t.Fatalf("expected %s validation error, got: %v", tc.want, err)
			}
		})
	}
}

// --- helpers ---

func TestHelpers_getenv(t *testing.T) {
	t.Setenv("X_EMPTY", "")
	if getenv("X_EMPTY", "d") != "d" {
		t.Fatalf("getenv should fall back to default on empty var")
	}
	t.Setenv("X_SET", "val")
	if getenv("X_SET", "d") != "val" {
		t.Fatalf("getenv should read set value")
	}
}

func TestHelpers_getfloat_getint_getdur(t *testing.T) {
	t.Setenv("F_VALID", "3.14")
	if getfloat("F_VALID", 0) != 3.14 {
		t.Fatalf("getfloat parse failed")
	}
	t.Setenv("F_BAD", "nope")
	if getfloat("F_BAD", 1.23) != 1.23 {
		t.Fatalf("getfloat default on bad parse failed")
	}

	t.Setenv("I_VALID", "42")
	if getint("I_VALID", 0) != 42 {
		t.Fatalf("getint parse failed")
	}
	t.Setenv("I_BAD", "x")
	if getint("I_BAD", 7) != 7 {
		t.Fatalf("getint default on bad parse failed")
	}

	t.Setenv("D_VALID", "150ms")
	if getdur("D_VALID", time.Second) != 150*time.Millisecond {
		t.Fatalf("getdur parse failed")
	}
	t.Setenv("D_BAD", "zzz")
	if getdur("D_BAD", 2*time.Second) != 2*time.Second {
		t.Fatalf("getdur default on bad parse failed")
	}
}

func TestHelpers_getbool(t *testing.T) {
	for i, v := range []string{"1", "true", "TRUE", " yes ", "Y", "on", "On"} {
		k := "B_T_" + string('a'+rune(i))
		t.Setenv(k, v)
		if !getbool(k, false) {
			t.Fatalf("getbool(%q) = false; want true", v)
		}
	}
	for i, v := range []string{"0", "false", "FALSE", " no ", "N", "off", "Off"} {
		k := "B_F_" + string('a'+rune(i))
		t.Setenv(k, v)
		if getbool(k, true) {
			t.Fatalf("getbool(%q) = true; want false", v)
		}
	}
	t.Setenv("B_EMPTY", "")
	if !getbool("B_EMPTY", true) || getbool("B_EMPTY", false) {
		t.Fatalf("getbool default behavior unexpected")
	}
}

func TestHelpers_splitCSV_and_normalizeBasePath(t *testing.T) {
	if out := splitCSV(""); out != nil {
		t.Fatalf("splitCSV empty should return nil")
	}
	if got := splitCSV(" a, ,b ,  c  ,"); !reflect.DeepEqual(got, []string{"a", "b", "c"}) {
		t.Fatalf("splitCSV mismatch: got %#v", got)
	}

	if normalizeBasePath("") != "/" {
		t.Fatalf("normalizeBasePath empty -> '/' failed")
	}
	if normalizeBasePath("v1") != "/v1" {
		t.Fatalf("normalizeBasePath missing leading slash failed")
	}
	if normalizeBasePath("/v1/") != "/v1" {
		t.Fatalf("normalizeBasePath trailing slash trim failed")
	}
	if normalizeBasePath(" / ") != "/" {
		t.Fatalf("normalizeBasePath whitespace failed")
	}
}

// Ensure tests don't leak env to others.
func TestMain(m *testing.M) {
	os.Unsetenv("PORT")
	os.Exit(m.Run())
}

// containsErr reports whether err's message contains the given substring.
func containsErr(err error, want string) bool {
	if err == nil {
		return false
	}
	return strings.Contains(err.Error(), want)
}
