package vector

import (
	lru "github.com/hashicorp/golang-lru/v2"
)

// FallbackStore retains embeddings locally when the index rejects an upsert.
// It is best-effort auxiliary state, never authoritative: the size cap means
// old entries are evicted, and nothing is recovered from it automatically.
type FallbackStore struct {
	cache *lru.Cache[string, []float32]
}

// NewFallbackStore creates a fallback store holding at most size embeddings.
func NewFallbackStore(size int) (*FallbackStore, error) {
	if size <= 0 {
		size = 1024
	}
	cache, err := lru.New[string, []float32](size)
	if err != nil {
		return nil, err
	}
	return &FallbackStore{cache: cache}, nil
}

// Put stores the embedding for an item id.
func (f *FallbackStore) Put(id string, vec []float32) {
	f.cache.Add(id, vec)
}

// Get returns the retained embedding, if present.
func (f *FallbackStore) Get(id string) ([]float32, bool) {
	return f.cache.Get(id)
}

// Len reports the number of retained embeddings.
func (f *FallbackStore) Len() int {
	return f.cache.Len()
}
