package handlers

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/visitproof/internal/domain"
	"github.com/tbourn/visitproof/internal/http/middleware"
	"github.com/tbourn/visitproof/internal/services"
)

// SubmitRequest is the JSON body of POST /submit.
type SubmitRequest struct {
	ClientTxnID string `json:"clientTxnId"`
	Name        string `json:"name"`
	DocNo       string `json:"docNo"`
	RegNo       string `json:"regNo"`
	Contact     string `json:"contact"`
	Remark      string `json:"remark"`
	Reason      string `json:"reason"`
	ReasonOther string `json:"reasonOther"`
	Tower       string `json:"tower"`
	Unit        string `json:"unit"`
	// Image is an optional data:image/...;base64,... URL.
	Image string `json:"image"`
}

// SubmitResponse acknowledges a stored (or replayed) submission.
type SubmitResponse struct {
	Success    bool              `json:"success"`
	ID         string            `json:"id"`
	CreatedAt  time.Time         `json:"createdAt"`
	SyncStatus domain.SyncStatus `json:"syncStatus"`
	Duplicate  bool              `json:"duplicate,omitempty"`
}

// Submit handles POST /submit.
//
// The client transaction token comes from the body, falling back to the
// Idempotency-Key header. When both are sent they must match: the rate
// limiter waives replays of the header token. A replayed token answers 200
// with the original entry and duplicate:true.
func (h *Handlers) Submit(c *gin.Context) {
	var req SubmitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid JSON body")
		return
	}
	req.ClientTxnID = strings.TrimSpace(req.ClientTxnID)
	hdrKey, hasHdr := middleware.GetIdempotencyKey(c)
	switch {
	case req.ClientTxnID == "":
		req.ClientTxnID = hdrKey
	case !middleware.ValidIdempotencyKey(req.ClientTxnID):
		fail(c, http.StatusBadRequest, ErrCodeBadClientTxn, "invalid clientTxnId")
		return
	case hasHdr && req.ClientTxnID != hdrKey:
		fail(c, http.StatusBadRequest, ErrCodeTxnMismatch, "clientTxnId does not match Idempotency-Key")
		return
	}

	res, err := h.submit.Submit(c.Request.Context(), services.SubmitInput{
		ClientTxnID:  req.ClientTxnID,
		Name:         req.Name,
		DocNo:        req.DocNo,
		RegNo:        req.RegNo,
		Contact:      req.Contact,
		Remark:       req.Remark,
		Reason:       req.Reason,
		ReasonOther:  req.ReasonOther,
		Tower:        req.Tower,
		Unit:         req.Unit,
		ImageDataURL: req.Image,
	})
	if err != nil {
		switch {
		case errors.Is(err, services.ErrInvalidImage):
			fail(c, http.StatusBadRequest, ErrCodeInvalidImage, err.Error())
		case errors.Is(err, services.ErrMissingIdentity):
			fail(c, http.StatusBadRequest, ErrCodeMissingIdentity, err.Error())
		case errors.Is(err, services.ErrInvalidClientTxn):
			fail(c, http.StatusBadRequest, ErrCodeBadClientTxn, err.Error())
		default:
			// Store details stay in the log.
			middleware.LoggerFrom(c).Error().Err(err).Msg("submit failed")
			fail(c, http.StatusInternalServerError, ErrCodeSubmitFailed, "could not store submission")
		}
		return
	}

	ok(c, http.StatusOK, SubmitResponse{
		Success:    true,
		ID:         res.ID,
		CreatedAt:  res.CreatedAt,
		SyncStatus: res.SyncStatus,
		Duplicate:  res.Duplicate,
	})
}
