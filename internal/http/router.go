// Package httpapi wires the HTTP transport (Gin) to the services, middleware
// and route handlers. It centralizes cross-cutting concerns such as tracing,
// correlation IDs, logging/redaction, panic recovery, metrics, compression,
// CORS, security headers, idempotency, rate limiting and the search cache.
package httpapi

import (
	"bytes"
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"gorm.io/gorm"

	"github.com/tbourn/visitproof/internal/cache"
	"github.com/tbourn/visitproof/internal/config"
	"github.com/tbourn/visitproof/internal/http/handlers"
	"github.com/tbourn/visitproof/internal/http/middleware"
	"github.com/tbourn/visitproof/internal/repo"
)

// Deps are the collaborators the routes need. Cache may be nil to disable
// the search response cache.
type Deps struct {
	DB     *gorm.DB
	Search handlers.Searcher
	Submit handlers.Submitter
	Photo  handlers.PhotoFetcher
	Cache  cache.Cache
}

// RegisterRoutes attaches all middleware and endpoints to r.
//
// Middleware order matters:
//  1. OpenTelemetry: trace everything
//  2. RequestID: generate/propagate correlation id
//  3. RedactingLogger: structured logs, search values and tokens masked
//  4. Recovery: capture panics after logger
//  5. Body size limit (sized for one photo)
//  6. Metrics
//  7. gzip for JSON (photos are already compressed)
//  8. CORS and security headers
//
// Idempotency validation and rate limiting only guard POST /submit; search
// is cached instead.
func RegisterRoutes(r *gin.Engine, deps Deps, cfg config.Config) {
	r.HandleMethodNotAllowed = true

	r.Use(otelgin.Middleware(cfg.OTEL.ServiceName))
	r.Use(middleware.RequestID())
	r.Use(middleware.RedactingLogger(middleware.RedactOptions{
		MaskHeaders: []string{"X-API-Key"},
		MaskQuery:   []string{"value"},
	}))
	r.Use(middleware.Recovery())
	r.Use(limitBody(maxBodyBytes(cfg.Storage.MaxImageBytes)))

	r.Use(middleware.Metrics())
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	r.Use(gzip.Gzip(gzip.DefaultCompression, gzip.WithExcludedPaths([]string{
		PhotoPath(cfg.APIBasePath), "/metrics",
	})))

	r.Use(corsMiddleware(cfg.CORS.AllowedOrigins)...)
	r.Use(middleware.SecurityHeaders(middleware.SecurityOptions{
		EnableHSTS:   cfg.Security.EnableHSTS,
		HSTSMaxAge:   cfg.Security.HSTSMaxAge,
		EnablePolicy: true,
	}))

	// Fallbacks
	r.NoRoute(func(c *gin.Context) {
		handlers.Fail(c, http.StatusNotFound, handlers.ErrCodeNotFound, "route not found")
	})
	r.NoMethod(func(c *gin.Context) {
		handlers.Fail(c, http.StatusMethodNotAllowed, handlers.ErrCodeMethodNotAllowed, "method not allowed")
	})

	r.GET("/health", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"ok": true}) })

	h := handlers.New(deps.Search, deps.Submit, deps.Photo)

	idem := middleware.IdempotencyValidator(middleware.IdempotencyOptions{}, txnLookup(deps.DB))
	rl := middleware.NewRateLimiter(cfg.RateRPS, cfg.RateBurst, middleware.KeyByClientIP())

	var searchCache gin.HandlerFunc = func(c *gin.Context) { c.Next() }
	if deps.Cache != nil {
		searchCache = middleware.ResponseCache(deps.Cache, middleware.CacheOptions{
			HitTTL:  cfg.Cache.HitTTL,
			MissTTL: cfg.Cache.MissTTL,
			IsMiss:  isSearchMiss,
		})
	}

	api := groupWithPrefix(r, cfg.APIBasePath)
	{
		api.GET("/search", searchCache, h.Search)
		api.POST("/submit", idem, rl.Handler(), h.Submit)
		api.GET("/photo", h.Photo)
	}
}

// txnLookup reports whether an entry already exists for a client token.
func txnLookup(db *gorm.DB) middleware.IdempotencyLookup {
	if db == nil {
		return nil
	}
	return func(ctx context.Context, key string) (bool, error) {
		if _, err := repo.FindEntryByClientTxnID(ctx, db, key); err != nil {
			return false, err
		}
		return true, nil
	}
}

func isSearchMiss(body []byte) bool {
	return bytes.Contains(body, []byte(`"exists":false`))
}

// corsMiddleware allows any origin when none is configured, otherwise only
// the allowlist. Credentials are never allowed.
func corsMiddleware(origins []string) []gin.HandlerFunc {
	conf := cors.Config{
		AllowMethods:     []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization", middleware.HeaderIdempotencyKey},
		ExposeHeaders:    []string{"X-Request-ID", "Content-Length", middleware.HeaderCache},
		AllowCredentials: false,
		MaxAge:           12 * time.Hour,
	}
	if len(origins) == 0 {
		conf.AllowAllOrigins = true
		// ACAO: * even without an Origin header (simple health checks).
		return []gin.HandlerFunc{
			func(c *gin.Context) {
				c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
				c.Next()
			},
			cors.New(conf),
		}
	}
	conf.AllowOrigins = origins
	return []gin.HandlerFunc{cors.New(conf)}
}

// maxBodyBytes sizes the request cap from the decoded image cap: base64
// inflates by 4/3, plus room for the other fields.
func maxBodyBytes(maxImage int) int64 {
	if maxImage <= 0 {
		return 1 << 20
	}
	return int64(maxImage)*4/3 + 64<<10
}

// limitBody caps the request body using http.MaxBytesReader. Reads past the
// cap fail, which the JSON binder reports as a bad request.
func limitBody(maxBytes int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBytes)
		c.Next()
	}
}

// PhotoPath is the absolute path GET /photo is served on under basePath.
// Photo-fetch URLs handed to the archive must use it.
func PhotoPath(basePath string) string {
	return joinPath(basePath, "/photo")
}

func joinPath(prefix, p string) string {
	return strings.TrimSuffix(prefix, "/") + p
}

// groupWithPrefix mounts a group at prefix, treating "/" (or empty) as root.
func groupWithPrefix(r *gin.Engine, prefix string) *gin.RouterGroup {
	if prefix == "" || prefix == "/" {
		return r.Group("")
	}
	return r.Group(prefix)
}
