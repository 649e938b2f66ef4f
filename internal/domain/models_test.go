package domain

import (
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite" // pure-Go SQLite (no CGO)
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func newDomainDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open("file:"+t.Name()+"?mode=memory&cache=shared"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	return db
}

func strp(s string) *string { return &s }

func TestTableNames(t *testing.T) {
	if (Entry{}).TableName() != "entries" {
		t.Fatalf("Entry.TableName() = %q; want %q", (Entry{}).TableName(), "entries")
	}
	if (VisitLog{}).TableName() != "visit_logs" {
		t.Fatalf("VisitLog.TableName() = %q; want %q", (VisitLog{}).TableName(), "visit_logs")
	}
}

func TestMigrations_Indexes_AndUniqueTxn(t *testing.T) {
	db := newDomainDB(t)

	if err := db.AutoMigrate(&Entry{}, &VisitLog{}); err != nil {
		t.Fatalf("automigrate: %v", err)
	}
	m := db.Migrator()

	for _, idx := range []string{"idx_entries_created", "ux_entries_client_txn", "idx_entries_reg_key", "idx_entries_id_key", "idx_entries_sync"} {
		if !m.HasIndex(&Entry{}, idx) {
			t.Fatalf("expected index %s on entries", idx)
		}
	}
	if !m.HasIndex(&VisitLog{}, "idx_visit_logs_created") {
		t.Fatalf("expected index idx_visit_logs_created on visit_logs")
	}

	now := time.Now().UTC()
	e1 := &Entry{ID: "e1", CreatedAt: now, ClientTxnID: "t1"}
	if err := db.Create(e1).Error; err != nil {
		t.Fatalf("insert e1: %v", err)
	}
	var got Entry
	if err := db.First(&got, "id = ?", "e1").Error; err != nil {
		t.Fatalf("reload e1: %v", err)
	}
	if got.SyncStatus != SyncPending {
		t.Fatalf("default sync status = %q; want PENDING", got.SyncStatus)
	}

	e2 := &Entry{ID: "e2", CreatedAt: now, ClientTxnID: "t1"}
	if err := db.Create(e2).Error; err == nil {
		t.Fatalf("expected unique violation on client_txn_id")
	}
}

func TestEntryPredicates(t *testing.T) {
	e := &Entry{}
	if e.HasProof() || e.HasImage() || e.Terminal() {
		t.Fatalf("zero entry should have no proof, no image, not terminal")
	}
	e.ExternalURL = strp("")
	e.ImageObjectKey = strp("")
	if e.HasProof() || e.HasImage() {
		t.Fatalf("empty pointers must not count as proof/image")
	}
	e.ExternalURL = strp("https://archive/x")
	e.ImageObjectKey = strp("visits/2026/01/01/e.jpg")
	e.SyncStatus = SyncDone
	if !e.HasProof() || !e.HasImage() || !e.Terminal() {
		t.Fatalf("expected proof, image and terminal")
	}
}
