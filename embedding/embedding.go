// Package embedding defines the embedding provider contract and the
// implementations the engine ships with: a deterministic local provider for
// tests and development, and a redis-backed caching decorator.
//
// Providers must be deterministic and stateless: the same text always maps
// to the same vector.
package embedding

import (
	"context"
	"errors"
)

// ErrUnavailable is returned when the underlying embedding service cannot
// be reached.
var ErrUnavailable = errors.New("embedding provider unavailable")

// Provider maps text to fixed-length vectors.
type Provider interface {
	// Embed generates one vector per input text, in order.
	Embed(ctx context.Context, texts []string) ([][]float32, error)

	// EmbedQuery embeds a single text.
	EmbedQuery(ctx context.Context, text string) ([]float32, error)

	// Dimensions returns the vector length this provider produces.
	Dimensions() int
}
