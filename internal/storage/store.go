// Package storage implements the object archive that holds proof photos.
// Objects are written before the entry row that references them, so a failed
// row insert can be compensated by deleting the object.
package storage

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrNotFound is returned by Get when the key does not exist.
var ErrNotFound = errors.New("object not found")

// Meta carries object metadata stored alongside the bytes.
type Meta struct {
	ContentType string
	Fields      map[string]string
}

// Object is a stored blob and its metadata.
type Object struct {
	Data        []byte
	ContentType string
}

// Store is a key to bytes archive. Delete of a missing key succeeds.
type Store interface {
	Put(ctx context.Context, key string, data []byte, meta Meta) error
	Get(ctx context.Context, key string) (*Object, error)
	Delete(ctx context.Context, key string) error
}

// ObjectKey builds the archive key for an entry's photo:
// prefix/yyyy/mm/dd/<entryID>.<ext>, dated by the entry creation time.
func ObjectKey(prefix string, created time.Time, entryID, ext string) string {
	d := created.UTC()
	key := fmt.Sprintf("%04d/%02d/%02d/%s.%s", d.Year(), int(d.Month()), d.Day(), entryID, ext)
	if prefix == "" {
		return key
	}
	return prefix + "/" + key
}
