// Package services – PhotoService
//
// Serves stored proof photos to the archive, which fetches them by entry id
// with the shared view token.
package services

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"

	"gorm.io/gorm"

	"github.com/tbourn/visitproof/internal/repo"
	"github.com/tbourn/visitproof/internal/storage"
)

// PhotoService reads entry photos from the object store.
type PhotoService struct {
	DB        *gorm.DB
	Store     storage.Store
	ViewToken string
}

// Fetch returns the photo of entry id. An unset ViewToken rejects every
// request.
func (s *PhotoService) Fetch(ctx context.Context, id, token string) (*storage.Object, error) {
	if s.ViewToken == "" || subtle.ConstantTimeCompare([]byte(token), []byte(s.ViewToken)) != 1 {
		return nil, ErrUnauthorized
	}
	e, err := repo.GetEntry(ctx, s.DB, id)
	if errors.Is(err, repo.ErrNotFound) {
		return nil, ErrPhotoNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load entry: %w", err)
	}
	if !e.HasImage() {
		return nil, ErrPhotoNotFound
	}
	obj, err := s.Store.Get(ctx, *e.ImageObjectKey)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, ErrPhotoNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get object: %w", err)
	}
	return obj, nil
}
