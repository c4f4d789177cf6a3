// Package vector defines the similarity-index interface used by both
// pipelines, plus a bounded local fallback cache for embeddings that could
// not be upserted.
package vector

import "context"

// Hit is a single match from a similarity search.
type Hit struct {
	ID    string
	Score float32
}

// Index provides vector storage and k-nearest-neighbor search keyed by
// item id.
type Index interface {
	// EnsureCollection creates the collection if it does not exist.
	// Already-exists is success.
	EnsureCollection(ctx context.Context, dim int) error
	// Upsert inserts or replaces the vector for an item.
	Upsert(ctx context.Context, id string, vec []float32, payload map[string]string) error
	// Delete removes the vector for an item.
	Delete(ctx context.Context, id string) error
	// Search finds the top-k most similar items.
	Search(ctx context.Context, vec []float32, k int) ([]Hit, error)
	// Close releases resources.
	Close() error
}
