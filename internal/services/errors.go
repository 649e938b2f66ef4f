// Package services defines the business logic for submissions, sync, search,
// photo retrieval and retention. This file centralizes common service-level
// error values so that they can be consistently returned by service methods
// and checked by callers.
//
// These errors are intended for internal use by the service layer and translation
// into user-facing messages or HTTP status codes should be performed at the
// handler/controller layer.
package services

import (
	"errors"

	"github.com/tbourn/visitproof/internal/storage"
)

// Submission errors.
var (
	// ErrMissingIdentity is returned when a submission carries neither an
	// identity document, a registration number nor a name to key it by.
	ErrMissingIdentity = errors.New("identity document, registration number or name is required")

	// ErrInvalidImage wraps malformed or oversized image payloads.
	ErrInvalidImage = storage.ErrBadImage

	// ErrInvalidClientTxn is returned when the client transaction token does
	// not fit the client_txn_id column.
	ErrInvalidClientTxn = errors.New("client transaction token is too long")
)

// Photo errors.
var (
	// ErrUnauthorized is returned when the photo view token is missing,
	// wrong, or not configured.
	ErrUnauthorized = errors.New("invalid view token")

	// ErrPhotoNotFound is returned when no entry references the requested
	// photo or its object is gone.
	ErrPhotoNotFound = errors.New("photo not found")
)
