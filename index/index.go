// Package index abstracts the similarity-search index. Two backends ship:
// an in-memory index for tests and small deployments, and an embedded
// chromem-go index with per-user collections.
//
// The index is a projection of the durable store, never a source of truth.
// The dual-store coordinator owns write ordering and repairs divergence via
// the reconciliation sweep.
package index

import (
	"context"
	"errors"
)

// ErrUnavailable marks the index as unreachable. Retrieval treats it as a
// signal to fall back to importance+recency ranking, never as a caller-facing
// failure.
var ErrUnavailable = errors.New("similarity index unavailable")

// Meta is the filterable metadata stored alongside a vector.
type Meta struct {
	UserID string `json:"user_id"`
	Type   string `json:"type"`
}

// Hit is one similarity-search result.
type Hit struct {
	ID         string  `json:"id"`
	Similarity float64 `json:"similarity"`
}

// Index stores vectors and answers user-scoped nearest-neighbor queries.
type Index interface {
	// Upsert inserts or replaces the vector for id.
	Upsert(ctx context.Context, id string, vector []float32, meta Meta) error

	// Query returns the topK most similar entries for the user, most similar
	// first.
	Query(ctx context.Context, vector []float32, userID string, topK int) ([]Hit, error)

	// Delete removes the entry for id. Deleting an absent id is not an error.
	Delete(ctx context.Context, userID, id string) error
}
