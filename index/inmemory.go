package index

import (
	"context"
	"sort"
	"sync"

	"github.com/BaSui01/memflow/memory"
)

type entry struct {
	id     string
	vector []float32
	meta   Meta
}

// InMemory is a brute-force in-memory index, suitable for tests and small
// single-process deployments.
type InMemory struct {
	byUser map[string]map[string]entry
	mu     sync.RWMutex
}

// NewInMemory creates an empty in-memory index.
func NewInMemory() *InMemory {
	return &InMemory{
		byUser: make(map[string]map[string]entry),
	}
}

// Upsert implements Index.
func (s *InMemory) Upsert(_ context.Context, id string, vector []float32, meta Meta) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	user := s.byUser[meta.UserID]
	if user == nil {
		user = make(map[string]entry)
		s.byUser[meta.UserID] = user
	}
	vec := make([]float32, len(vector))
	copy(vec, vector)
	user[id] = entry{id: id, vector: vec, meta: meta}
	return nil
}

// Query implements Index.
func (s *InMemory) Query(_ context.Context, vector []float32, userID string, topK int) ([]Hit, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	user := s.byUser[userID]
	if len(user) == 0 || topK <= 0 {
		return []Hit{}, nil
	}

	hits := make([]Hit, 0, len(user))
	for _, e := range user {
		hits = append(hits, Hit{
			ID:         e.id,
			Similarity: memory.CosineSimilarity(vector, e.vector),
		})
	}

	sort.Slice(hits, func(i, j int) bool {
		if hits[i].Similarity != hits[j].Similarity {
			return hits[i].Similarity > hits[j].Similarity
		}
		return hits[i].ID < hits[j].ID
	})

	if topK < len(hits) {
		hits = hits[:topK]
	}
	return hits, nil
}

// Delete implements Index.
func (s *InMemory) Delete(_ context.Context, userID, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if user := s.byUser[userID]; user != nil {
		delete(user, id)
	}
	return nil
}
