// Package dedup drops extraction candidates that restate something the
// user's recent memories already hold.
package dedup

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/memflow/internal/metrics"
	"github.com/BaSui01/memflow/memory"
	"github.com/BaSui01/memflow/store"
)

// Config tunes near-duplicate detection.
type Config struct {
	// Threshold is the cosine similarity at or above which a candidate is
	// a duplicate of an existing memory.
	Threshold float64 `yaml:"threshold" json:"threshold"`

	// RecentWindow bounds the comparison set to the user's N most recent
	// active memories.
	RecentWindow int `yaml:"recent_window" json:"recent_window"`

	// SameTypeOnly restricts comparison to memories of the candidate's
	// type.
	SameTypeOnly bool `yaml:"same_type_only" json:"same_type_only"`
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{
		Threshold:    0.95,
		RecentWindow: 50,
		SameTypeOnly: false,
	}
}

// Match describes the existing memory a candidate duplicated.
type Match struct {
	Memory     *memory.Memory
	Similarity float64
}

// Filter detects near-duplicate candidates against the durable store.
type Filter struct {
	store   *store.DurableStore
	config  Config
	metrics *metrics.Collector
	logger  *zap.Logger
}

// New builds a Filter.
func New(durable *store.DurableStore, cfg Config, collector *metrics.Collector, logger *zap.Logger) *Filter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Filter{
		store:   durable,
		config:  cfg,
		metrics: collector,
		logger:  logger.With(zap.String("component", "dedup")),
	}
}

// Check compares the embedded candidate against the user's recent active
// memories. A non-nil Match means the candidate is a duplicate: the matched
// memory's access stats have already been bumped and the candidate must be
// dropped. With no comparable memories the candidate is never a duplicate.
func (f *Filter) Check(ctx context.Context, userID string, cand *memory.Candidate, embedding []float32) (*Match, error) {
	recent, err := f.store.RecentMemories(ctx, userID, f.config.RecentWindow)
	if err != nil {
		return nil, err
	}

	var best *memory.Memory
	bestSim := -1.0
	for _, m := range recent {
		if f.config.SameTypeOnly && m.Type != cand.Type {
			continue
		}
		if len(m.Embedding) == 0 {
			continue
		}

		sim := memory.CosineSimilarity(embedding, m.Embedding)
		if sim > bestSim {
			best, bestSim = m, sim
			continue
		}
		// Equal similarity: the more-used memory wins the match.
		if sim == bestSim && best != nil && m.AccessCount > best.AccessCount {
			best = m
		}
	}

	if best == nil || bestSim < f.config.Threshold {
		return nil, nil
	}

	// The duplicate signal doubles as an access signal: the user restated
	// this, so the existing memory just got more relevant.
	if err := f.store.BumpAccess(ctx, []string{best.ID}, time.Now().UTC()); err != nil {
		f.logger.Warn("access bump on duplicate failed", zap.String("id", best.ID), zap.Error(err))
	}

	if f.metrics != nil {
		f.metrics.RecordDedupHit()
	}
	f.logger.Debug("candidate dropped as duplicate",
		zap.String("user_id", userID),
		zap.String("matched_id", best.ID),
		zap.Float64("similarity", bestSim),
	)

	return &Match{Memory: best, Similarity: bestSim}, nil
}
