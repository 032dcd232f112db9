package index

import (
	"context"
	"fmt"
	"sync"

	chromem "github.com/philippgille/chromem-go"
	"go.uber.org/zap"
)

// Chromem is an embedded vector index on chromem-go. Each user gets their
// own collection, so queries are user-scoped without metadata filtering
// over the whole corpus.
type Chromem struct {
	db          *chromem.DB
	collections map[string]*chromem.Collection
	mu          sync.RWMutex
	logger      *zap.Logger
}

// NewChromem creates an in-process index. A non-empty path makes the index
// persistent across restarts; an empty path keeps it purely in memory.
func NewChromem(path string, logger *zap.Logger) (*Chromem, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	var db *chromem.DB
	if path == "" {
		db = chromem.NewDB()
	} else {
		var err error
		db, err = chromem.NewPersistentDB(path, false)
		if err != nil {
			return nil, fmt.Errorf("open chromem db: %w", err)
		}
	}

	return &Chromem{
		db:          db,
		collections: make(map[string]*chromem.Collection),
		logger:      logger.With(zap.String("component", "chromem_index")),
	}, nil
}

func (s *Chromem) collection(userID string) (*chromem.Collection, error) {
	s.mu.RLock()
	col, ok := s.collections[userID]
	s.mu.RUnlock()
	if ok {
		return col, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if col, ok := s.collections[userID]; ok {
		return col, nil
	}

	// Embeddings are always supplied by the caller, so no embedding func.
	col, err := s.db.GetOrCreateCollection("user_"+userID, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("get collection for user %s: %w", userID, err)
	}
	s.collections[userID] = col
	return col, nil
}

// Upsert implements Index.
func (s *Chromem) Upsert(ctx context.Context, id string, vector []float32, meta Meta) error {
	col, err := s.collection(meta.UserID)
	if err != nil {
		return err
	}

	doc := chromem.Document{
		ID:        id,
		Embedding: vector,
		Metadata: map[string]string{
			"user_id": meta.UserID,
			"type":    meta.Type,
		},
		// chromem requires non-empty content; the id placeholder keeps the
		// durable store as the only holder of memory text.
		Content: id,
	}
	if err := col.AddDocument(ctx, doc); err != nil {
		return fmt.Errorf("chromem upsert %s: %w", id, err)
	}
	return nil
}

// Query implements Index.
func (s *Chromem) Query(ctx context.Context, vector []float32, userID string, topK int) ([]Hit, error) {
	col, err := s.collection(userID)
	if err != nil {
		return nil, err
	}

	// chromem rejects nResults larger than the collection.
	if count := col.Count(); topK > count {
		topK = count
	}
	if topK <= 0 {
		return []Hit{}, nil
	}

	results, err := col.QueryEmbedding(ctx, vector, topK, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("chromem query: %w", err)
	}

	hits := make([]Hit, 0, len(results))
	for _, r := range results {
		hits = append(hits, Hit{ID: r.ID, Similarity: float64(r.Similarity)})
	}
	return hits, nil
}

// Delete implements Index.
func (s *Chromem) Delete(ctx context.Context, userID, id string) error {
	col, err := s.collection(userID)
	if err != nil {
		return err
	}
	if err := col.Delete(ctx, nil, nil, id); err != nil {
		return fmt.Errorf("chromem delete %s: %w", id, err)
	}
	return nil
}
