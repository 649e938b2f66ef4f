// Package services – SyncService
//
// This file implements the per-entry archive sync state machine:
//
//	PENDING -> DONE | FAILED,  FAILED -> DONE | FAILED,  DONE terminal.
//
// Every attempt first bumps the attempt counter durably, then calls the
// archive. Only an explicit archive success moves the entry to DONE, and the
// returned file id/url are merged so an empty answer never erases a stored
// link. Attempts for one entry are serialized in-process; attempts for
// different entries run in parallel.
//
// SyncEntry never returns an error. It runs detached from any request and
// turns every failure into a FAILED status (or a log line when even that
// update fails).
package services

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"

	"github.com/tbourn/visitproof/internal/archive"
	"github.com/tbourn/visitproof/internal/domain"
	"github.com/tbourn/visitproof/internal/repo"
)

// Archiver mirrors entries to the external archive.
type Archiver interface {
	Sync(ctx context.Context, req archive.SyncRequest) (archive.Result, error)
}

// SyncService drives entries to DONE against the archive.
type SyncService struct {
	DB      *gorm.DB
	Schema  repo.Schema
	Archive Archiver

	// PublicBaseURL, PhotoPath and ViewToken build the photo-fetch URL handed
	// to the archive. No URL is built unless base URL and token are both set.
	PublicBaseURL string
	PhotoPath     string // default "/photo"
	ViewToken     string

	// locks serializes attempts per entry within this process only; a second
	// process sweeping the same database is not excluded.
	locks keyedMutex
}

// SyncEntry runs one attempt for id and returns the resulting status. The
// empty status means the attempt could not be made (entry gone, store down).
// DONE entries are returned unchanged without calling the archive.
func (s *SyncService) SyncEntry(ctx context.Context, id string) domain.SyncStatus {
	tr := otel.Tracer("services/SyncService")
	ctx, span := tr.Start(ctx, "SyncEntry", trace.WithAttributes(attribute.String("entry.id", id)))
	defer span.End()

	unlock := s.locks.Lock(id)
	defer unlock()

	lg := log.Ctx(ctx).With().Str("entry_id", id).Logger()

	e, err := repo.GetEntry(ctx, s.DB, id)
	if err != nil {
		if !errors.Is(err, repo.ErrNotFound) {
			lg.Error().Err(err).Msg("sync: load entry failed")
		}
		return ""
	}
	if e.Terminal() {
		return domain.SyncDone
	}

	if err := repo.IncrementAttempts(ctx, s.DB, id); err != nil {
		lg.Error().Err(err).Msg("sync: increment attempts failed")
		return ""
	}

	res, err := s.Archive.Sync(ctx, archive.SyncRequest{
		Subject:  subjectOf(e),
		PhotoURL: s.photoURL(e),
	})
	if err != nil {
		syncAttempts.WithLabelValues("failed").Inc()
		span.RecordError(err)
		span.SetStatus(codes.Error, "archive sync failed")
		msg := archive.Truncate(err.Error(), archive.MaxErrorLen)
		if uerr := repo.MarkSyncFailed(ctx, s.DB, s.Schema, id, msg); uerr != nil {
			lg.Error().Err(uerr).Str("sync_error", msg).Msg("sync: mark failed failed")
			return ""
		}
		lg.Warn().Err(err).Int("attempt", e.SyncAttempts+1).Msg("sync failed")
		return domain.SyncFailed
	}

	syncAttempts.WithLabelValues("done").Inc()
	if uerr := repo.MarkSyncDone(ctx, s.DB, s.Schema, id, res.FileID, res.URL); uerr != nil {
		lg.Error().Err(uerr).Msg("sync: mark done failed")
		return ""
	}
	lg.Debug().Str("file_id", res.FileID).Msg("sync done")
	return domain.SyncDone
}

// photoURL returns the URL the archive fetches the entry photo from, or ""
// when the entry has no photo or the URL cannot be built.
func (s *SyncService) photoURL(e *domain.Entry) string {
	if !e.HasImage() || s.PublicBaseURL == "" || s.ViewToken == "" {
		return ""
	}
	p := s.PhotoPath
	if p == "" {
		p = "/photo"
	}
	q := url.Values{}
	q.Set("id", e.ID)
	q.Set("token", s.ViewToken)
	return fmt.Sprintf("%s/%s?%s", strings.TrimRight(s.PublicBaseURL, "/"), strings.TrimLeft(p, "/"), q.Encode())
}

func subjectOf(e *domain.Entry) archive.Subject {
	return archive.Subject{
		ID:          e.ID,
		CreatedAt:   e.CreatedAt,
		ClientTxnID: e.ClientTxnID,
		Name:        e.Name,
		DocNo:       e.DocNo,
		RegNo:       e.RegNo,
		Contact:     e.Contact,
		Remark:      e.Remark,
		Reason:      e.Reason,
		ReasonOther: e.ReasonOther,
		Tower:       e.Tower,
		Unit:        e.Unit,
	}
}

// keyedMutex serializes work per key. Entries are reference counted and
// removed when the last holder unlocks.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*keyedLock
}

type keyedLock struct {
	mu   sync.Mutex
	refs int
}

// Lock blocks until key is free and returns the matching unlock.
func (k *keyedMutex) Lock(key string) func() {
	k.mu.Lock()
	if k.locks == nil {
		k.locks = make(map[string]*keyedLock)
	}
	l, ok := k.locks[key]
	if !ok {
		l = &keyedLock{}
		k.locks[key] = l
	}
	l.refs++
	k.mu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		k.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}

// held returns the number of keys currently tracked.
func (k *keyedMutex) held() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.locks)
}
