// Package middleware contains shared Gin middleware used by the HTTP layer.
//
// This file implements the search response cache. Responses are keyed by the
// exact request URI and cached only when the handler answered 200 and did
// not flag the response with SkipCache. Not-found answers are cached with
// their own, shorter TTL so a fresh submission shows up within one window.
package middleware

import (
	"bytes"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/tbourn/visitproof/internal/cache"
)

// HeaderCache reports HIT or MISS.
const HeaderCache = "X-Cache"

const ctxKeyCacheSkip = "cache.skip"

var cacheLookups = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "visitproof_response_cache_total",
		Help: "Response cache lookups by result.",
	},
	[]string{"result"},
)

func init() {
	prometheus.MustRegister(cacheLookups)
}

// SkipCache stops the current response from being stored.
func SkipCache(c *gin.Context) { c.Set(ctxKeyCacheSkip, true) }

// CacheOptions configures ResponseCache.
type CacheOptions struct {
	HitTTL  time.Duration
	MissTTL time.Duration
	// IsMiss classifies a 200 body as a not-found answer.
	IsMiss func(body []byte) bool
}

// bodyRecorder tees the response body.
type bodyRecorder struct {
	gin.ResponseWriter
	buf bytes.Buffer
}

func (w *bodyRecorder) Write(b []byte) (int, error) {
	w.buf.Write(b)
	return w.ResponseWriter.Write(b)
}

func (w *bodyRecorder) WriteString(s string) (int, error) {
	w.buf.WriteString(s)
	return w.ResponseWriter.WriteString(s)
}

// ResponseCache serves GET responses from store. A nil store disables it.
func ResponseCache(store cache.Cache, opts CacheOptions) gin.HandlerFunc {
	return func(c *gin.Context) {
		if store == nil || c.Request.Method != http.MethodGet {
			c.Next()
			return
		}
		ctx := c.Request.Context()
		key := "resp:" + c.Request.URL.RequestURI()

		if body, ok := store.Get(ctx, key); ok {
			cacheLookups.WithLabelValues("hit").Inc()
			c.Header(HeaderCache, "HIT")
			c.Data(http.StatusOK, "application/json; charset=utf-8", body)
			c.Abort()
			return
		}
		cacheLookups.WithLabelValues("miss").Inc()
		c.Header(HeaderCache, "MISS")

		rec := &bodyRecorder{ResponseWriter: c.Writer}
		c.Writer = rec
		c.Next()

		if c.Writer.Status() != http.StatusOK || c.GetBool(ctxKeyCacheSkip) || rec.buf.Len() == 0 {
			return
		}
		ttl := opts.HitTTL
		if opts.IsMiss != nil && opts.IsMiss(rec.buf.Bytes()) {
			ttl = opts.MissTTL
		}
		if ttl > 0 {
			store.Set(ctx, key, bytes.Clone(rec.buf.Bytes()), ttl)
		}
	}
}
