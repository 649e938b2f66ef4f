package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/visitproof/internal/http/middleware"
)

// Search handles GET /search?field=&value=.
//
// The answer is always 200 with one of the three result shapes; an unknown
// key, an empty value and a store outage all read as {exists:false}. A
// degraded answer is kept out of the response cache.
func (h *Handlers) Search(c *gin.Context) {
	res := h.search.Search(c.Request.Context(), c.Query("field"), c.Query("value"))
	if res.Degraded {
		middleware.SkipCache(c)
	}
	ok(c, http.StatusOK, res)
}
