// Package services – Sweeper
//
// The sweep is the scheduled side of the engine. Each pass retries sync for
// PENDING/FAILED entries under the attempt cap, reports entries stuck at the
// cap, then runs the retention purge. All progress lives in the database, so
// a pass cut short is simply resumed by the next one.
package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"

	"github.com/tbourn/visitproof/internal/domain"
	"github.com/tbourn/visitproof/internal/repo"
)

// EntrySyncer runs one sync attempt for an entry.
type EntrySyncer interface {
	SyncEntry(ctx context.Context, id string) domain.SyncStatus
}

// Purger runs one retention pass.
type Purger interface {
	Run(ctx context.Context, now time.Time) (PurgeReport, error)
}

// Sweeper combines the sync retry sweep with the purge.
type Sweeper struct {
	DB    *gorm.DB
	Sync  EntrySyncer // optional; nil skips the retry stage
	Purge Purger      // optional

	MaxAttempts int
	Batch       int
	Concurrency int
	// Grace skips entries younger than this so the sweep does not race the
	// dispatcher on fresh submissions.
	Grace time.Duration

	now func() time.Time
}

// SweepReport summarizes one pass.
type SweepReport struct {
	Candidates int
	Done       int
	Failed     int
	Stuck      int64
	Purge      PurgeReport
}

// RunOnce performs a single pass.
func (s *Sweeper) RunOnce(ctx context.Context) (SweepReport, error) {
	tr := otel.Tracer("services/Sweeper")
	ctx, span := tr.Start(ctx, "RunOnce")
	defer span.End()

	var (
		rep  SweepReport
		errs []error
		now  = s.clock()
	)

	if s.Sync != nil {
		var err error
		rep.Candidates, rep.Done, rep.Failed, err = s.retry(ctx, now)
		if err != nil {
			errs = append(errs, err)
		}
	}

	stuck, err := repo.CountStuck(ctx, s.DB, s.MaxAttempts)
	if err != nil {
		errs = append(errs, fmt.Errorf("count stuck: %w", err))
	} else {
		rep.Stuck = stuck
		stuckEntries.Set(float64(stuck))
		if stuck > 0 {
			log.Ctx(ctx).Warn().Int64("stuck", stuck).Int("max_attempts", s.MaxAttempts).
				Msg("entries exhausted sync attempts; manual attention needed")
		}
	}

	if s.Purge != nil {
		pr, err := s.Purge.Run(ctx, now)
		rep.Purge = pr
		if err != nil {
			errs = append(errs, fmt.Errorf("purge: %w", err))
		}
	}

	err = errors.Join(errs...)
	if err != nil {
		span.RecordError(err)
	}
	log.Ctx(ctx).Info().
		Int("candidates", rep.Candidates).
		Int("done", rep.Done).
		Int("failed", rep.Failed).
		Msg("sync sweep")
	return rep, err
}

// retry runs one sync attempt for every eligible candidate.
func (s *Sweeper) retry(ctx context.Context, now time.Time) (cands, done, failed int, err error) {
	rows, err := repo.SelectSyncCandidates(ctx, s.DB, s.MaxAttempts, now.Add(-s.Grace), s.Batch)
	if err != nil {
		return 0, 0, 0, fmt.Errorf("select sync candidates: %w", err)
	}

	statuses := make([]domain.SyncStatus, len(rows))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(s.Concurrency, 1))
	for i := range rows {
		g.Go(func() error {
			statuses[i] = s.Sync.SyncEntry(gctx, rows[i].ID)
			return nil
		})
	}
	_ = g.Wait()
	for _, st := range statuses {
		switch st {
		case domain.SyncDone:
			done++
		case domain.SyncFailed:
			failed++
		}
	}
	return len(rows), done, failed, nil
}

// Run calls RunOnce immediately and then on every tick until ctx is done.
func (s *Sweeper) Run(ctx context.Context, interval time.Duration) {
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		if _, err := s.RunOnce(ctx); err != nil {
			log.Ctx(ctx).Error().Err(err).Msg("sweep pass failed")
		}
		select {
		case <-ctx.Done():
			return
		case <-t.C:
		}
	}
}

func (s *Sweeper) clock() time.Time {
	if s.now != nil {
		return s.now()
	}
	return time.Now().UTC()
}
