// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository helpers for the VisitLog
// audit table.
package repo

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/tbourn/visitproof/internal/domain"
)

// AppendVisit inserts an audit row. CreatedAt defaults to UTC now.
func AppendVisit(ctx context.Context, db *gorm.DB, v *domain.VisitLog) error {
	if v.CreatedAt.IsZero() {
		v.CreatedAt = time.Now().UTC()
	}
	return db.WithContext(ctx).Create(v).Error
}

// PurgeVisits deletes audit rows created before the threshold.
func PurgeVisits(ctx context.Context, db *gorm.DB, before time.Time) (int64, error) {
	res := db.WithContext(ctx).Where("created_at < ?", before).Delete(&domain.VisitLog{})
	return res.RowsAffected, res.Error
}

// PurgeDanglingVisits deletes audit rows whose entry no longer exists.
func PurgeDanglingVisits(ctx context.Context, db *gorm.DB) (int64, error) {
	res := db.WithContext(ctx).
		Where("entry_id IS NOT NULL AND entry_id NOT IN (?)", db.Model(&domain.Entry{}).Select("id")).
		Delete(&domain.VisitLog{})
	return res.RowsAffected, res.Error
}

// CountVisits returns the number of audit rows of the given kind; an empty
// kind counts all rows.
func CountVisits(ctx context.Context, db *gorm.DB, kind string) (int64, error) {
	q := db.WithContext(ctx).Model(&domain.VisitLog{})
	if kind != "" {
		q = q.Where("kind = ?", kind)
	}
	var n int64
	err := q.Count(&n).Error
	return n, err
}
