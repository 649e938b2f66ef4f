// Package middleware contains shared Gin middleware used by the HTTP layer.
//
// This file implements the Idempotency-Key header for submissions. The key
// is an alternative carrier for the client transaction token; a body token
// that disagrees with it is rejected by the handler, so a replay verdict on
// the header always describes the submission actually made. The middleware validates the header, stashes it,
// and asks a lookup whether an entry already exists for it. A known key
// marks the request as a replay, which the rate limiter lets through: a
// retried submission is answered from the stored entry and costs nothing.
package middleware

import (
	"context"
	"net/http"
	"regexp"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/visitproof/internal/domain"
)

// HeaderIdempotencyKey carries the client transaction token.
const HeaderIdempotencyKey = "Idempotency-Key"

const (
	ctxKeyIdemKey    = "idem.key"
	ctxKeyIdemReplay = "idem.replay"
	ctxKeyRateBypass = "rate.bypass"
)

// GetIdempotencyKey returns the validated header value, if any.
func GetIdempotencyKey(c *gin.Context) (string, bool) {
	v, ok := c.Get(ctxKeyIdemKey)
	if !ok {
		return "", false
	}
	s, _ := v.(string)
	return s, s != ""
}

// IsReplay reports whether an entry already exists for the request's key.
func IsReplay(c *gin.Context) bool {
	v, ok := c.Get(ctxKeyIdemReplay)
	if !ok {
		return false
	}
	b, _ := v.(bool)
	return b
}

var defaultKeyPattern = regexp.MustCompile(`^[A-Za-z0-9._~\-:]+$`)

// ValidIdempotencyKey applies the default header rules to a client token
// that arrived some other way (e.g. in the request body).
func ValidIdempotencyKey(key string) bool {
	return key != "" && len(key) <= domain.MaxClientTxnLen && defaultKeyPattern.MatchString(key)
}

// IdempotencyOptions configures header validation.
type IdempotencyOptions struct {
	// MaxLen caps the key length; <= 0 means 128 (the column width).
	MaxLen int
	// Pattern restricts allowed characters; nil means ^[A-Za-z0-9._~\-:]+$.
	Pattern *regexp.Regexp
}

// IdempotencyLookup reports whether an entry exists for key. Errors are
// treated as "unknown" and never block the request.
type IdempotencyLookup func(ctx context.Context, key string) (bool, error)

// IdempotencyValidator validates and stashes the Idempotency-Key header.
// Requests without the header pass through untouched; an invalid header is
// answered with 400.
func IdempotencyValidator(opts IdempotencyOptions, lookup IdempotencyLookup) gin.HandlerFunc {
	maxLen := opts.MaxLen
	if maxLen <= 0 {
		maxLen = domain.MaxClientTxnLen
	}
	pat := opts.Pattern
	if pat == nil {
		pat = defaultKeyPattern
	}

	return func(c *gin.Context) {
		key := c.GetHeader(HeaderIdempotencyKey)
		if key == "" {
			c.Next()
			return
		}
		if len(key) > maxLen || !pat.MatchString(key) {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{
				"success": false,
				"code":    "bad_idempotency_key",
				"message": "invalid Idempotency-Key",
			})
			return
		}
		c.Set(ctxKeyIdemKey, key)

		if lookup != nil {
			if exists, err := lookup(c.Request.Context(), key); err == nil && exists {
				c.Set(ctxKeyIdemReplay, true)
				c.Set(ctxKeyRateBypass, true)
			}
		}
		c.Next()
	}
}
