// Package domain defines the persistence models for visit entries and the
// visit audit log. These types are mapped with GORM and form the core data
// layer of the registry.
package domain

import "time"

// SyncStatus is the external-archive sync state of an entry.
type SyncStatus string

// Sync states. PENDING at creation, DONE only on a confirmed archive success,
// FAILED after any failed attempt (retried until the attempt cap).
const (
	SyncPending SyncStatus = "PENDING"
	SyncDone    SyncStatus = "DONE"
	SyncFailed  SyncStatus = "FAILED"
)

// MaxClientTxnLen is the width of entries.client_txn_id.
const MaxClientTxnLen = 128

// Entry is one submission event. The table is append-mostly: rows are only
// mutated by sync bookkeeping and removed by the retention purge.
//
// Fields:
//   - ID: UUID primary key (char(36)).
//   - ClientTxnID: client idempotency token; unique.
//   - Name..Unit: subject fields, uppercased on write except Contact.
//   - RegNormKey / IDNormKey: normalized lookup keys (see package keys).
//   - ImageObjectKey: object archive key of this event's own photo, if any.
//   - ImageHash: sha256 of the uploaded bytes (audit only).
//   - ExternalFileID / ExternalURL: set by a successful sync and never blanked.
//   - SyncStatus / SyncAttempts / SyncError: retry bookkeeping.
type Entry struct {
	ID          string    `json:"id"            gorm:"type:char(36);primaryKey"`
	CreatedAt   time.Time `json:"createdAt"     gorm:"not null;index:idx_entries_created"`
	ClientTxnID string    `json:"clientTxnId"   gorm:"type:varchar(128);not null;uniqueIndex:ux_entries_client_txn"`

	Name        string `json:"name"          gorm:"type:varchar(255)"`
	DocNo       string `json:"docNo"         gorm:"type:varchar(128)"`
	RegNo       string `json:"regNo"         gorm:"type:varchar(64)"`
	Contact     string `json:"contact"       gorm:"type:varchar(128)"`
	Remark      string `json:"remark"        gorm:"type:text"`
	Reason      string `json:"reason"        gorm:"type:varchar(64)"`
	ReasonOther string `json:"reasonOther"   gorm:"type:varchar(255)"`
	Tower       string `json:"tower"         gorm:"type:varchar(32)"`
	Unit        string `json:"unit"          gorm:"type:varchar(32)"`

	RegNormKey string `json:"-" gorm:"type:varchar(64);index:idx_entries_reg_key"`
	IDNormKey  string `json:"-" gorm:"type:varchar(128);index:idx_entries_id_key"`

	ImageObjectKey *string `json:"imageObjectKey,omitempty" gorm:"type:varchar(512)"`
	ImageHash      *string `json:"-"                        gorm:"type:char(64)"`
	ExternalFileID *string `json:"externalFileId,omitempty" gorm:"type:varchar(255)"`
	ExternalURL    *string `json:"externalUrl,omitempty"    gorm:"type:varchar(1024)"`

	SyncStatus   SyncStatus `json:"syncStatus"   gorm:"type:varchar(16);not null;default:'PENDING';index:idx_entries_sync"`
	SyncAttempts int        `json:"syncAttempts" gorm:"not null;default:0"`
	SyncError    string     `json:"-"            gorm:"type:text"`
	UpdatedAt    time.Time  `json:"-"`
}

// TableName returns the database table name for Entry.
func (Entry) TableName() string { return "entries" }

// HasProof reports whether the entry carries an archived photo link.
func (e *Entry) HasProof() bool {
	return e.ExternalURL != nil && *e.ExternalURL != ""
}

// HasImage reports whether the entry references its own archived object.
func (e *Entry) HasImage() bool {
	return e.ImageObjectKey != nil && *e.ImageObjectKey != ""
}

// Terminal reports whether no further sync attempts are needed.
func (e *Entry) Terminal() bool { return e.SyncStatus == SyncDone }

// Visit log kinds.
const (
	VisitSearch = "SEARCH"
	VisitSubmit = "SUBMIT"
)

// VisitLog records every search and submission for auditing. Rows are purged
// by age independently of entries; rows whose entry has been purged are
// removed with it.
type VisitLog struct {
	ID        uint      `json:"id"        gorm:"primaryKey;autoIncrement"`
	Kind      string    `json:"kind"      gorm:"type:varchar(16);not null"`
	Field     string    `json:"field"     gorm:"type:varchar(16)"`
	NormKey   string    `json:"normKey"   gorm:"type:varchar(128)"`
	EntryID   *string   `json:"entryId"   gorm:"type:char(36);index:idx_visit_logs_entry"`
	Outcome   string    `json:"outcome"   gorm:"type:varchar(32)"`
	CreatedAt time.Time `json:"createdAt" gorm:"not null;index:idx_visit_logs_created"`
}

// TableName returns the database table name for VisitLog.
func (VisitLog) TableName() string { return "visit_logs" }
