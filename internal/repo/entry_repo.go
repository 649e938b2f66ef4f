// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for the Entry
// model: the insert used by submissions, the two independent key lookups
// used by search, sync bookkeeping, and the batch selections used by the
// retry and retention sweeps.
//
// All functions are context-aware, accept a *gorm.DB handle and issue single
// atomic statements. Invariants that span statements (idempotent submission,
// merge-only external links) are enforced by the statements themselves
// rather than by transactions.
//
// Error semantics:
//   - A missing row yields ErrNotFound (gorm.ErrRecordNotFound).
//   - A client_txn_id uniqueness violation yields ErrDuplicate.
//   - Any other DB error is propagated unchanged.
package repo

import (
	"context"
	"errors"
	"strings"
	"time"

	"gorm.io/gorm"

	"github.com/tbourn/visitproof/internal/domain"
	"github.com/tbourn/visitproof/internal/keys"
)

// ErrNotFound is returned when a requested record does not exist.
// It aliases gorm.ErrRecordNotFound for convenience and consistency
// across the service layer and handlers.
var ErrNotFound = gorm.ErrRecordNotFound

// ErrDuplicate indicates that an entry with the same client_txn_id already
// exists.
var ErrDuplicate = errors.New("duplicate")

// InsertEntry persists e using the column set selected by schema. Timestamps
// are set to UTC now when zero.
func InsertEntry(ctx context.Context, db *gorm.DB, schema Schema, e *domain.Entry) error {
	now := time.Now().UTC()
	if e.CreatedAt.IsZero() {
		e.CreatedAt = now
	}
	if e.UpdatedAt.IsZero() {
		e.UpdatedAt = e.CreatedAt
	}
	if e.SyncStatus == "" {
		e.SyncStatus = domain.SyncPending
	}
	if err := db.WithContext(ctx).Select(schema.Columns()).Create(e).Error; err != nil {
		if isDuplicate(err) {
			return ErrDuplicate
		}
		return err
	}
	return nil
}

// isDuplicate detects unique violations across drivers. glebarez/sqlite often
// returns plain-text errors that do not map to gorm.ErrDuplicatedKey.
func isDuplicate(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	low := strings.ToLower(err.Error())
	return strings.Contains(low, "unique constraint failed") ||
		strings.Contains(low, "constraint failed: unique") ||
		strings.Contains(low, "duplicate key value violates unique constraint")
}

// GetEntry fetches a single entry by id.
func GetEntry(ctx context.Context, db *gorm.DB, id string) (*domain.Entry, error) {
	var e domain.Entry
	if err := db.WithContext(ctx).Where("id = ?", id).First(&e).Error; err != nil {
		return nil, err
	}
	return &e, nil
}

// FindEntryByClientTxnID fetches the entry created for a client token.
func FindEntryByClientTxnID(ctx context.Context, db *gorm.DB, txnID string) (*domain.Entry, error) {
	if strings.TrimSpace(txnID) == "" {
		return nil, ErrNotFound
	}
	var e domain.Entry
	if err := db.WithContext(ctx).Where("client_txn_id = ?", txnID).First(&e).Error; err != nil {
		return nil, err
	}
	return &e, nil
}

// keyColumn maps a lookup field to its normalized key column.
func keyColumn(field keys.Field) (string, bool) {
	switch field {
	case keys.FieldRegistration:
		return "reg_norm_key", true
	case keys.FieldIdentity:
		return "id_norm_key", true
	default:
		return "", false
	}
}

// FindLatestByKey returns the most recent entry whose normalized key for
// field equals key. An empty key, or FieldAny, returns ErrNotFound without
// querying.
func FindLatestByKey(ctx context.Context, db *gorm.DB, field keys.Field, key string) (*domain.Entry, error) {
	col, ok := keyColumn(field)
	if !ok || key == "" {
		return nil, ErrNotFound
	}
	var e domain.Entry
	err := db.WithContext(ctx).
		Where(col+" = ?", key).
		Order("created_at DESC").
		First(&e).Error
	if err != nil {
		return nil, err
	}
	return &e, nil
}

// FindLatestProofByKey returns the external URL of the most recent entry for
// key that carries one. It is independent of FindLatestByKey: a newer entry
// without a link neither hides nor inherits an older link.
func FindLatestProofByKey(ctx context.Context, db *gorm.DB, field keys.Field, key string) (string, error) {
	col, ok := keyColumn(field)
	if !ok || key == "" {
		return "", ErrNotFound
	}
	var row struct {
		ExternalURL *string
	}
	res := db.WithContext(ctx).
		Model(&domain.Entry{}).
		Select("external_url").
		Where(col+" = ?", key).
		Where("external_url IS NOT NULL AND external_url <> ''").
		Order("created_at DESC").
		Limit(1).
		Scan(&row)
	if res.Error != nil {
		return "", res.Error
	}
	if res.RowsAffected == 0 || row.ExternalURL == nil || *row.ExternalURL == "" {
		return "", ErrNotFound
	}
	return *row.ExternalURL, nil
}

// SelectExpired returns up to limit entries created before the threshold,
// oldest first.
func SelectExpired(ctx context.Context, db *gorm.DB, before time.Time, limit int) ([]domain.Entry, error) {
	var out []domain.Entry
	err := db.WithContext(ctx).
		Where("created_at < ?", before).
		Order("created_at ASC").
		Limit(limit).
		Find(&out).Error
	return out, err
}

// SelectSyncCandidates returns up to limit PENDING or FAILED entries below the
// attempt cap and created before the given time, oldest first.
func SelectSyncCandidates(ctx context.Context, db *gorm.DB, maxAttempts int, before time.Time, limit int) ([]domain.Entry, error) {
	var out []domain.Entry
	err := db.WithContext(ctx).
		Where("sync_status IN ?", []domain.SyncStatus{domain.SyncPending, domain.SyncFailed}).
		Where("sync_attempts < ?", maxAttempts).
		Where("created_at < ?", before).
		Order("created_at ASC").
		Limit(limit).
		Find(&out).Error
	return out, err
}

// CountStuck counts entries that exhausted their attempts without reaching
// DONE. They are no longer retried and need manual attention.
func CountStuck(ctx context.Context, db *gorm.DB, maxAttempts int) (int64, error) {
	var n int64
	err := db.WithContext(ctx).
		Model(&domain.Entry{}).
		Where("sync_status <> ?", domain.SyncDone).
		Where("sync_attempts >= ?", maxAttempts).
		Count(&n).Error
	return n, err
}

// IncrementAttempts bumps sync_attempts by one in a single statement.
func IncrementAttempts(ctx context.Context, db *gorm.DB, id string) error {
	res := db.WithContext(ctx).
		Model(&domain.Entry{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"sync_attempts": gorm.Expr("sync_attempts + 1"),
			"updated_at":    time.Now().UTC(),
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// MarkSyncFailed sets FAILED and records msg when the schema has a
// sync_error column. External fields are left untouched.
func MarkSyncFailed(ctx context.Context, db *gorm.DB, schema Schema, id, msg string) error {
	upd := map[string]any{
		"sync_status": domain.SyncFailed,
		"updated_at":  time.Now().UTC(),
	}
	if schema.Has("sync_error") {
		upd["sync_error"] = msg
	}
	return updateEntry(ctx, db, id, upd)
}

// MarkSyncDone sets DONE, clears the error and merges the returned external
// references: an empty value never replaces a stored one.
func MarkSyncDone(ctx context.Context, db *gorm.DB, schema Schema, id, fileID, url string) error {
	upd := map[string]any{
		"sync_status":      domain.SyncDone,
		"external_file_id": gorm.Expr("COALESCE(NULLIF(?, ''), external_file_id)", fileID),
		"external_url":     gorm.Expr("COALESCE(NULLIF(?, ''), external_url)", url),
		"updated_at":       time.Now().UTC(),
	}
	if schema.Has("sync_error") {
		upd["sync_error"] = ""
	}
	return updateEntry(ctx, db, id, upd)
}

func updateEntry(ctx context.Context, db *gorm.DB, id string, upd map[string]any) error {
	res := db.WithContext(ctx).Model(&domain.Entry{}).Where("id = ?", id).Updates(upd)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// ClearExternalRefs nulls the external link of an entry whose archived copy
// has been deleted, so a retried purge does not delete it again.
func ClearExternalRefs(ctx context.Context, db *gorm.DB, id string) error {
	return updateEntry(ctx, db, id, map[string]any{
		"external_file_id": nil,
		"external_url":     nil,
		"updated_at":       time.Now().UTC(),
	})
}

// DeleteEntries removes the given entries and returns the number deleted.
func DeleteEntries(ctx context.Context, db *gorm.DB, ids []string) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	res := db.WithContext(ctx).Where("id IN ?", ids).Delete(&domain.Entry{})
	return res.RowsAffected, res.Error
}

// IdentityKey derives the identity lookup key: the document number when
// present, the name otherwise.
func IdentityKey(docNo, name string) string {
	if k := keys.Normalize(docNo); k != "" {
		return k
	}
	return keys.Normalize(name)
}

// BackfillNormKeys recomputes empty normalized keys from the subject fields
// and returns the number of rows updated.
func BackfillNormKeys(ctx context.Context, db *gorm.DB) (int, error) {
	var (
		rows    []domain.Entry
		updated int
	)
	res := db.WithContext(ctx).
		Where("(reg_no <> '' AND (reg_norm_key IS NULL OR reg_norm_key = '')) OR ((doc_no <> '' OR name <> '') AND (id_norm_key IS NULL OR id_norm_key = ''))").
		FindInBatches(&rows, 200, func(tx *gorm.DB, _ int) error {
			for i := range rows {
				e := &rows[i]
				upd := map[string]any{}
				if e.RegNormKey == "" {
					if k := keys.Normalize(e.RegNo); k != "" {
						upd["reg_norm_key"] = k
					}
				}
				if e.IDNormKey == "" {
					if k := IdentityKey(e.DocNo, e.Name); k != "" {
						upd["id_norm_key"] = k
					}
				}
				if len(upd) == 0 {
					continue
				}
				if err := db.WithContext(ctx).Model(&domain.Entry{}).Where("id = ?", e.ID).UpdateColumns(upd).Error; err != nil {
					return err
				}
				updated++
			}
			return nil
		})
	return updated, res.Error
}
