package handlers

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/visitproof/internal/http/middleware"
	"github.com/tbourn/visitproof/internal/services"
)

// Photo handles GET /photo?id=&token=.
//
// Only the external archive calls this, to mirror a photo during sync. The
// token may also be sent as "Authorization: Bearer <token>". Responses are
// never cacheable.
func (h *Handlers) Photo(c *gin.Context) {
	middleware.NoStore(c)

	token := c.Query("token")
	if token == "" {
		if auth := c.GetHeader("Authorization"); strings.HasPrefix(auth, "Bearer ") {
			token = strings.TrimSpace(strings.TrimPrefix(auth, "Bearer "))
		}
	}

	obj, err := h.photo.Fetch(c.Request.Context(), c.Query("id"), token)
	if err != nil {
		switch {
		case errors.Is(err, services.ErrUnauthorized):
			fail(c, http.StatusUnauthorized, ErrCodeUnauthorized, "invalid token")
		case errors.Is(err, services.ErrPhotoNotFound):
			fail(c, http.StatusNotFound, ErrCodeNotFound, "photo not found")
		default:
			fail(c, http.StatusInternalServerError, ErrCodeInternal, "could not load photo")
		}
		return
	}

	ct := obj.ContentType
	if ct == "" {
		ct = "application/octet-stream"
	}
	c.Data(http.StatusOK, ct, obj.Data)
}
