// Package services – SubmitService
//
// This file implements the submission write path. A submission is made
// durable locally before any slow external call: the photo (if any) is
// written to the object archive first, then the entry row. A failed row
// insert deletes the just-written object so no blob is orphaned. Archive
// sync is handed to a queue and never delays the response.
//
// Idempotency: the client transaction token is unique per entry. A replayed
// token returns the existing entry with Duplicate=true, including when two
// submissions race and the second loses on the unique index.
package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"

	"github.com/tbourn/visitproof/internal/domain"
	"github.com/tbourn/visitproof/internal/keys"
	"github.com/tbourn/visitproof/internal/repo"
	"github.com/tbourn/visitproof/internal/storage"
	"github.com/tbourn/visitproof/internal/sysutil"
)

// SyncEnqueuer accepts entry ids for background sync. Enqueue must not block.
type SyncEnqueuer interface {
	Enqueue(entryID string) bool
}

// SubmitInput is a raw submission as received from the client.
type SubmitInput struct {
	ClientTxnID  string
	Name         string
	DocNo        string
	RegNo        string
	Contact      string
	Remark       string
	Reason       string
	ReasonOther  string
	Tower        string
	Unit         string
	ImageDataURL string // optional data:image/...;base64,...
}

// SubmitResult describes the stored (or previously stored) entry.
type SubmitResult struct {
	ID         string
	CreatedAt  time.Time
	SyncStatus domain.SyncStatus
	Duplicate  bool
}

// SubmitService owns the submission write path.
type SubmitService struct {
	DB     *gorm.DB
	Schema repo.Schema
	Store  storage.Store
	Queue  SyncEnqueuer

	// ObjectPrefix prefixes archive keys (e.g. "visits").
	ObjectPrefix string
	// MaxImageBytes caps decoded photo size.
	MaxImageBytes int
}

// Submit validates and stores a submission.
//
// Errors:
//   - ErrMissingIdentity when no lookup key can be derived.
//   - ErrInvalidImage (wrapped) for a malformed photo payload.
//   - ErrInvalidClientTxn when the client token exceeds MaxClientTxnLen.
//   - Storage or DB errors otherwise; nothing is left behind in that case.
func (s *SubmitService) Submit(ctx context.Context, in SubmitInput) (SubmitResult, error) {
	tr := otel.Tracer("services/SubmitService")
	ctx, span := tr.Start(ctx, "Submit",
		trace.WithAttributes(attribute.Bool("submit.has_image", in.ImageDataURL != "")),
	)
	defer span.End()

	e := buildEntry(in)
	if e.RegNormKey == "" && e.IDNormKey == "" {
		submissions.WithLabelValues("invalid").Inc()
		return SubmitResult{}, ErrMissingIdentity
	}

	var img *storage.Image
	if strings.TrimSpace(in.ImageDataURL) != "" {
		decoded, err := storage.DecodeDataURL(in.ImageDataURL, s.MaxImageBytes)
		if err != nil {
			submissions.WithLabelValues("invalid").Inc()
			return SubmitResult{}, err
		}
		img = decoded
	}

	txn := strings.TrimSpace(in.ClientTxnID)
	if len(txn) > domain.MaxClientTxnLen {
		submissions.WithLabelValues("invalid").Inc()
		return SubmitResult{}, ErrInvalidClientTxn
	}
	if txn == "" {
		txn = uuid.NewString()
	} else if prev, err := repo.FindEntryByClientTxnID(ctx, s.DB, txn); err == nil {
		submissions.WithLabelValues("duplicate").Inc()
		return duplicateResult(prev), nil
	} else if !errors.Is(err, repo.ErrNotFound) {
		return s.fail(span, fmt.Errorf("lookup client txn: %w", err))
	}
	e.ClientTxnID = txn
	e.ID = uuid.NewString()
	e.CreatedAt = time.Now().UTC()
	e.SyncStatus = domain.SyncPending
	span.SetAttributes(attribute.String("entry.id", e.ID))

	if img != nil {
		key := storage.ObjectKey(s.ObjectPrefix, e.CreatedAt, e.ID, img.Ext)
		meta := storage.Meta{
			ContentType: img.ContentType,
			Fields:      map[string]string{"entry-id": e.ID, "sha256": img.Hash},
		}
		if err := s.Store.Put(ctx, key, img.Data, meta); err != nil {
			return s.fail(span, fmt.Errorf("store photo: %w", err))
		}
		e.ImageObjectKey = &key
		e.ImageHash = &img.Hash
	}

	if err := repo.InsertEntry(ctx, s.DB, s.Schema, e); err != nil {
		s.compensate(ctx, e)
		if errors.Is(err, repo.ErrDuplicate) {
			// Lost a race on the same token: answer with the winner.
			if prev, ferr := repo.FindEntryByClientTxnID(ctx, s.DB, txn); ferr == nil {
				submissions.WithLabelValues("duplicate").Inc()
				return duplicateResult(prev), nil
			}
		}
		return s.fail(span, fmt.Errorf("insert entry: %w", err))
	}
	submissions.WithLabelValues("created").Inc()

	if s.Queue != nil && !s.Queue.Enqueue(e.ID) {
		log.Ctx(ctx).Warn().Str("entry_id", e.ID).Msg("sync queue full; left for sweep")
	}

	eid := e.ID
	if err := repo.AppendVisit(ctx, s.DB, &domain.VisitLog{
		Kind:    domain.VisitSubmit,
		NormKey: sysutil.FirstNonEmpty(e.IDNormKey, e.RegNormKey),
		EntryID: &eid,
		Outcome: "created",
	}); err != nil {
		log.Ctx(ctx).Warn().Err(err).Str("entry_id", e.ID).Msg("visit log append failed")
	}

	return SubmitResult{ID: e.ID, CreatedAt: e.CreatedAt, SyncStatus: e.SyncStatus}, nil
}

// compensate deletes the photo written for an entry whose row was not stored.
func (s *SubmitService) compensate(ctx context.Context, e *domain.Entry) {
	if !e.HasImage() {
		return
	}
	if err := s.Store.Delete(ctx, *e.ImageObjectKey); err != nil {
		log.Ctx(ctx).Error().Err(err).Str("object_key", *e.ImageObjectKey).Msg("compensating photo delete failed")
	}
}

func (s *SubmitService) fail(span trace.Span, err error) (SubmitResult, error) {
	submissions.WithLabelValues("error").Inc()
	span.RecordError(err)
	span.SetStatus(codes.Error, "submit failed")
	return SubmitResult{}, err
}

func duplicateResult(e *domain.Entry) SubmitResult {
	return SubmitResult{ID: e.ID, CreatedAt: e.CreatedAt, SyncStatus: e.SyncStatus, Duplicate: true}
}

// buildEntry uppercases subject fields (contact stays as typed) and derives
// the normalized lookup keys.
func buildEntry(in SubmitInput) *domain.Entry {
	e := &domain.Entry{
		Name:        keys.Upper(in.Name),
		DocNo:       keys.Upper(in.DocNo),
		RegNo:       keys.Upper(in.RegNo),
		Contact:     strings.TrimSpace(in.Contact),
		Remark:      keys.Upper(in.Remark),
		Reason:      keys.Upper(in.Reason),
		ReasonOther: keys.Upper(in.ReasonOther),
		Tower:       keys.Upper(in.Tower),
		Unit:        keys.Upper(in.Unit),
	}
	e.RegNormKey = keys.Normalize(e.RegNo)
	e.IDNormKey = repo.IdentityKey(e.DocNo, e.Name)
	return e
}
