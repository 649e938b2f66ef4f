// Package services – PurgeService
//
// This file implements the retention cascade. An expired entry can live in
// three places: the external archive, the object store and the local table.
// Per entry the order is fixed:
//
//  1. delete the archived copy (when the entry has a file id),
//  2. clear the entry's external refs so a retry never deletes twice,
//  3. delete the photo object,
//  4. delete the local row, last, batched over every entry that got here.
//
// A failure at any step leaves the entry (and whatever it still points at)
// for the next sweep; other entries in the batch are unaffected. After the
// rows go, visit-log rows pointing at removed entries are swept, then the
// visit log is aged out on its own window.
package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"

	"github.com/tbourn/visitproof/internal/archive"
	"github.com/tbourn/visitproof/internal/domain"
	"github.com/tbourn/visitproof/internal/repo"
	"github.com/tbourn/visitproof/internal/storage"
)

// ArchiveDeleter removes archived copies by external file id.
type ArchiveDeleter interface {
	Delete(ctx context.Context, fileIDs []string) (archive.Result, error)
}

// PurgeService deletes entries past retention from every backend.
type PurgeService struct {
	DB      *gorm.DB
	Store   storage.Store
	Archive ArchiveDeleter

	Retention         time.Duration
	VisitLogRetention time.Duration // zero disables visit-log aging
	Batch             int
	Concurrency       int
}

// PurgeReport summarizes one purge run.
type PurgeReport struct {
	Selected       int
	Archived       int // external copies deleted
	Objects        int // photo objects deleted
	Entries        int64
	Deferred       int // expired entries left for the next run
	DanglingVisits int64
	ExpiredVisits  int64
}

// Run purges at most Batch entries created before now-Retention. The error
// is non-nil only when a whole stage failed; per-entry failures are counted
// in Deferred.
func (p *PurgeService) Run(ctx context.Context, now time.Time) (PurgeReport, error) {
	tr := otel.Tracer("services/PurgeService")
	ctx, span := tr.Start(ctx, "Run")
	defer span.End()

	var rep PurgeReport
	threshold := now.Add(-p.Retention)

	batch, err := repo.SelectExpired(ctx, p.DB, threshold, p.batch())
	if err != nil {
		span.RecordError(err)
		return rep, fmt.Errorf("select expired: %w", err)
	}
	rep.Selected = len(batch)
	span.SetAttributes(attribute.Int("purge.selected", rep.Selected))

	var (
		mu    sync.Mutex
		ready = make([]string, 0, len(batch))
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.concurrency())
	for i := range batch {
		e := &batch[i]
		g.Go(func() error {
			out := p.purgeOne(gctx, e)
			mu.Lock()
			defer mu.Unlock()
			if out.archived {
				rep.Archived++
			}
			if out.object {
				rep.Objects++
			}
			if out.ok {
				ready = append(ready, e.ID)
			} else {
				rep.Deferred++
			}
			return nil
		})
	}
	_ = g.Wait()

	if rep.Deferred > 0 {
		purgeDeferred.Add(float64(rep.Deferred))
	}
	purged.WithLabelValues("archive").Add(float64(rep.Archived))
	purged.WithLabelValues("object").Add(float64(rep.Objects))

	var errs []error
	if n, err := repo.DeleteEntries(ctx, p.DB, ready); err != nil {
		errs = append(errs, fmt.Errorf("delete entries: %w", err))
	} else {
		rep.Entries = n
		purged.WithLabelValues("entry").Add(float64(n))
	}

	if n, err := repo.PurgeDanglingVisits(ctx, p.DB); err != nil {
		errs = append(errs, fmt.Errorf("purge dangling visits: %w", err))
	} else {
		rep.DanglingVisits = n
	}
	if p.VisitLogRetention > 0 {
		if n, err := repo.PurgeVisits(ctx, p.DB, now.Add(-p.VisitLogRetention)); err != nil {
			errs = append(errs, fmt.Errorf("purge visit log: %w", err))
		} else {
			rep.ExpiredVisits = n
		}
	}
	purged.WithLabelValues("visit_log").Add(float64(rep.DanglingVisits + rep.ExpiredVisits))

	err = errors.Join(errs...)
	if err != nil {
		span.RecordError(err)
	}
	log.Ctx(ctx).Info().
		Int("selected", rep.Selected).
		Int64("entries", rep.Entries).
		Int("archived", rep.Archived).
		Int("objects", rep.Objects).
		Int("deferred", rep.Deferred).
		Int64("visits", rep.DanglingVisits+rep.ExpiredVisits).
		Msg("purge run")
	return rep, err
}

type purgeOutcome struct {
	ok       bool // row may be deleted
	archived bool
	object   bool
}

func (p *PurgeService) purgeOne(ctx context.Context, e *domain.Entry) purgeOutcome {
	var out purgeOutcome
	lg := log.Ctx(ctx).With().Str("entry_id", e.ID).Logger()

	hasFileID := e.ExternalFileID != nil && *e.ExternalFileID != ""
	if !hasFileID && e.HasProof() {
		// The archive holds a copy it cannot be asked to delete. The row is
		// the only trace of it, so keep it for an operator.
		lg.Warn().Str("external_url", *e.ExternalURL).Msg("purge: external link without file id; deferring")
		return out
	}
	if hasFileID {
		if p.Archive == nil {
			lg.Warn().Msg("purge: archive not configured; deferring")
			return out
		}
		if _, err := p.Archive.Delete(ctx, []string{*e.ExternalFileID}); err != nil {
			lg.Warn().Err(err).Msg("purge: archive delete failed; deferring")
			return out
		}
		out.archived = true
		if err := repo.ClearExternalRefs(ctx, p.DB, e.ID); err != nil {
			lg.Error().Err(err).Msg("purge: clear external refs failed; deferring")
			return out
		}
	}

	if e.HasImage() {
		err := p.Store.Delete(ctx, *e.ImageObjectKey)
		switch {
		case err == nil:
			out.object = true
		case errors.Is(err, storage.ErrNotFound):
		default:
			lg.Warn().Err(err).Str("object_key", *e.ImageObjectKey).Msg("purge: object delete failed; deferring")
			return out
		}
	}

	out.ok = true
	return out
}

func (p *PurgeService) batch() int {
	if p.Batch <= 0 {
		return 50
	}
	return p.Batch
}

func (p *PurgeService) concurrency() int {
	if p.Concurrency <= 0 {
		return 1
	}
	return p.Concurrency
}
