package handlers

// This file defines the response helpers shared by all endpoints.
//
// Every failure uses the same envelope, so kiosk clients can branch on the
// success flag alone:
//
//	HTTP/1.1 400 Bad Request
//	{
//	  "success": false,
//	  "request_id": "123e4567-e89b-12d3-a456-426614174000",
//	  "code": "invalid_image",
//	  "message": "image must be a base64 data URL"
//	}

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/visitproof/internal/http/middleware"
)

// ErrorResponse is the failure envelope returned by all endpoints.
type ErrorResponse struct {
	Success bool `json:"success"`
	// Correlates server logs and client errors
	RequestID string `json:"request_id,omitempty"`
	// Stable, machine-readable code (see errors.go)
	Code    string `json:"code"`
	Message string `json:"message"`
}

// fail aborts the request with the failure envelope. 5xx responses are
// logged with the request-scoped logger.
func fail(c *gin.Context, status int, code, msg string) {
	resp := ErrorResponse{
		RequestID: c.Writer.Header().Get("X-Request-ID"),
		Code:      code,
		Message:   msg,
	}

	if status >= http.StatusInternalServerError {
		middleware.LoggerFrom(c).Error().
			Int("status", status).
			Str("code", code).
			Str("message", msg).
			Msg("api error")
	}

	c.AbortWithStatusJSON(status, resp)
}

// Fail is the exported variant of fail for the router's fallbacks.
func Fail(c *gin.Context, status int, code, msg string) { fail(c, status, code, msg) }

func ok(c *gin.Context, status int, body any) {
	c.JSON(status, body)
}
