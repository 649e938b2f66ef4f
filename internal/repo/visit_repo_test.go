package repo

import (
	"context"
	"testing"
	"time"

	"github.com/tbourn/visitproof/internal/domain"
)

func TestAppendVisit_AndCount(t *testing.T) {
	db := newEntryRepoDB(t, true)
	ctx := context.Background()

	if err := AppendVisit(ctx, db, &domain.VisitLog{Kind: domain.VisitSearch, Field: "DOC", NormKey: "A1"}); err != nil {
		t.Fatalf("AppendVisit: %v", err)
	}
	if err := AppendVisit(ctx, db, &domain.VisitLog{Kind: domain.VisitSubmit, EntryID: strp("e1")}); err != nil {
		t.Fatalf("AppendVisit: %v", err)
	}
	if n, _ := CountVisits(ctx, db, domain.VisitSearch); n != 1 {
		t.Fatalf("search visits = %d; want 1", n)
	}
	if n, _ := CountVisits(ctx, db, ""); n != 2 {
		t.Fatalf("all visits = %d; want 2", n)
	}
}

func TestPurgeVisits_ByAge(t *testing.T) {
	db := newEntryRepoDB(t, true)
	ctx := context.Background()
	now := time.Now().UTC()

	_ = AppendVisit(ctx, db, &domain.VisitLog{Kind: domain.VisitSearch, CreatedAt: now.Add(-48 * time.Hour)})
	_ = AppendVisit(ctx, db, &domain.VisitLog{Kind: domain.VisitSearch, CreatedAt: now})

	n, err := PurgeVisits(ctx, db, now.Add(-24*time.Hour))
	if err != nil || n != 1 {
		t.Fatalf("PurgeVisits = %d, %v; want 1", n, err)
	}
	if left, _ := CountVisits(ctx, db, ""); left != 1 {
		t.Fatalf("left = %d; want 1", left)
	}
}

func TestPurgeDanglingVisits(t *testing.T) {
	db := newEntryRepoDB(t, true)
	ctx := context.Background()
	seedEntry(t, db, domain.Entry{ID: "alive"})

	_ = AppendVisit(ctx, db, &domain.VisitLog{Kind: domain.VisitSubmit, EntryID: strp("alive")})
	_ = AppendVisit(ctx, db, &domain.VisitLog{Kind: domain.VisitSubmit, EntryID: strp("gone")})
	_ = AppendVisit(ctx, db, &domain.VisitLog{Kind: domain.VisitSearch}) // no entry reference

	n, err := PurgeDanglingVisits(ctx, db)
	if err != nil || n != 1 {
		t.Fatalf("PurgeDanglingVisits = %d, %v; want 1", n, err)
	}
	if left, _ := CountVisits(ctx, db, ""); left != 2 {
		t.Fatalf("left = %d; want 2", left)
	}
}
