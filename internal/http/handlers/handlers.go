// Package handlers provides HTTP handler implementations for the public API.
//
// Handlers are transport-thin: they bind input, call a service and translate
// results and errors into the JSON envelopes described in response.go.
package handlers

import (
	"context"

	"github.com/tbourn/visitproof/internal/services"
	"github.com/tbourn/visitproof/internal/storage"
)

//
// Service contracts (context-aware)
//

// Searcher resolves a lookup value to the latest entry and proof.
// Search never fails: store errors come back as a degraded miss.
type Searcher interface {
	Search(ctx context.Context, fieldHint, value string) services.SearchResult
}

// Submitter stores a submission.
type Submitter interface {
	Submit(ctx context.Context, in services.SubmitInput) (services.SubmitResult, error)
}

// PhotoFetcher serves archived photos to the external archive.
type PhotoFetcher interface {
	Fetch(ctx context.Context, id, token string) (*storage.Object, error)
}

//
// Handler wiring
//

// Handlers groups the search, submit and photo endpoints.
type Handlers struct {
	search Searcher
	submit Submitter
	photo  PhotoFetcher
}

// New binds Handlers to its services.
func New(search Searcher, submit Submitter, photo PhotoFetcher) *Handlers {
	return &Handlers{search: search, submit: submit, photo: photo}
}
