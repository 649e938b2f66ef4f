package services

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/tbourn/visitproof/internal/archive"
	"github.com/tbourn/visitproof/internal/domain"
	"github.com/tbourn/visitproof/internal/repo"
)

func newServiceDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := filepath.Join(t.TempDir(), fmt.Sprintf("services_%d.db", time.Now().UnixNano()))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("db.DB(): %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	if err := repo.AutoMigrate(db); err != nil {
		t.Fatalf("automigrate: %v", err)
	}
	return db
}

// stubArchive records calls and answers with the configured funcs.
type stubArchive struct {
	mu       sync.Mutex
	syncs    []archive.SyncRequest
	deletes  [][]string
	syncFn   func(archive.SyncRequest) (archive.Result, error)
	deleteFn func([]string) (archive.Result, error)
}

func (s *stubArchive) Sync(_ context.Context, req archive.SyncRequest) (archive.Result, error) {
	s.mu.Lock()
	s.syncs = append(s.syncs, req)
	fn := s.syncFn
	s.mu.Unlock()
	if fn == nil {
		return archive.Result{FileID: "file-" + req.Subject.ID, URL: "https://archive/" + req.Subject.ID}, nil
	}
	return fn(req)
}

func (s *stubArchive) Delete(_ context.Context, ids []string) (archive.Result, error) {
	s.mu.Lock()
	s.deletes = append(s.deletes, ids)
	fn := s.deleteFn
	s.mu.Unlock()
	if fn == nil {
		return archive.Result{}, nil
	}
	return fn(ids)
}

func (s *stubArchive) syncCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.syncs)
}

func (s *stubArchive) deleteCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.deletes)
}

// recordingQueue is a SyncEnqueuer that keeps every id.
type recordingQueue struct {
	mu  sync.Mutex
	ids []string
	// full makes Enqueue refuse.
	full bool
}

func (q *recordingQueue) Enqueue(id string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.full {
		return false
	}
	q.ids = append(q.ids, id)
	return true
}

func jpegDataURL() string {
	return "data:image/jpeg;base64," + base64.StdEncoding.EncodeToString([]byte{0xff, 0xd8, 0xff, 0xe0, 1, 2, 3})
}

func mustEntry(t *testing.T, db *gorm.DB, id string) *domain.Entry {
	t.Helper()
	e, err := repo.GetEntry(context.Background(), db, id)
	if err != nil {
		t.Fatalf("GetEntry(%s): %v", id, err)
	}
	return e
}

func strp(s string) *string { return &s }

var errBoom = errors.New("boom")
