package embedding

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"time"

	"go.uber.org/zap"
)

// Cache is the key-value contract the caching decorator needs. cache.Manager
// satisfies it.
type Cache interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key string, value string, ttl time.Duration) error
}

// Cached wraps a Provider with a content-addressed cache. Embeddings are
// deterministic, so cached vectors never go stale; the TTL only bounds
// storage growth.
type Cached struct {
	inner  Provider
	cache  Cache
	ttl    time.Duration
	logger *zap.Logger
}

// NewCached creates a caching decorator around inner.
func NewCached(inner Provider, cache Cache, ttl time.Duration, logger *zap.Logger) *Cached {
	if logger == nil {
		logger = zap.NewNop()
	}
	if ttl <= 0 {
		ttl = 7 * 24 * time.Hour
	}
	return &Cached{
		inner:  inner,
		cache:  cache,
		ttl:    ttl,
		logger: logger.With(zap.String("component", "embedding_cache")),
	}
}

// Embed implements Provider. Cache misses are embedded through the inner
// provider in a single batch; cache errors degrade to the inner provider.
func (c *Cached) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	var missing []string
	var missingIdx []int

	for i, text := range texts {
		if vec, ok := c.lookup(ctx, text); ok {
			out[i] = vec
			continue
		}
		missing = append(missing, text)
		missingIdx = append(missingIdx, i)
	}

	if len(missing) == 0 {
		return out, nil
	}

	vecs, err := c.inner.Embed(ctx, missing)
	if err != nil {
		return nil, err
	}
	for j, vec := range vecs {
		out[missingIdx[j]] = vec
		c.put(ctx, missing[j], vec)
	}
	return out, nil
}

// EmbedQuery implements Provider.
func (c *Cached) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	if vec, ok := c.lookup(ctx, text); ok {
		return vec, nil
	}
	vec, err := c.inner.EmbedQuery(ctx, text)
	if err != nil {
		return nil, err
	}
	c.put(ctx, text, vec)
	return vec, nil
}

// Dimensions implements Provider.
func (c *Cached) Dimensions() int {
	return c.inner.Dimensions()
}

func (c *Cached) lookup(ctx context.Context, text string) ([]float32, bool) {
	raw, err := c.cache.Get(ctx, cacheKey(text))
	if err != nil || raw == "" {
		return nil, false
	}
	var vec []float32
	if err := json.Unmarshal([]byte(raw), &vec); err != nil {
		c.logger.Warn("corrupt cached embedding, re-embedding", zap.Error(err))
		return nil, false
	}
	return vec, true
}

func (c *Cached) put(ctx context.Context, text string, vec []float32) {
	raw, err := json.Marshal(vec)
	if err != nil {
		return
	}
	if err := c.cache.Set(ctx, cacheKey(text), string(raw), c.ttl); err != nil {
		c.logger.Debug("embedding cache write failed", zap.Error(err))
	}
}

func cacheKey(text string) string {
	sum := sha256.Sum256([]byte(text))
	return "emb:" + hex.EncodeToString(sum[:])
}
