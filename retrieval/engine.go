// Package retrieval ranks a user's memories against a query. Scoring is
// hybrid: vector similarity blended with importance, temporal recency,
// access frequency and extraction confidence. Every degraded mode returns a
// usable (possibly empty) list rather than an error, because missing
// personalization must never break the conversation.
package retrieval

import (
	"context"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/memflow/embedding"
	"github.com/BaSui01/memflow/internal/metrics"
	"github.com/BaSui01/memflow/internal/pool"
	"github.com/BaSui01/memflow/memory"
	"github.com/BaSui01/memflow/store"
)

// Weights blends the scoring terms. They should sum to 1.0.
type Weights struct {
	Similarity      float64 `yaml:"similarity" json:"similarity"`
	Importance      float64 `yaml:"importance" json:"importance"`
	Recency         float64 `yaml:"recency" json:"recency"`
	AccessFrequency float64 `yaml:"access_frequency" json:"access_frequency"`
	Confidence      float64 `yaml:"confidence" json:"confidence"`
}

// DefaultWeights returns the production blend.
func DefaultWeights() Weights {
	return Weights{
		Similarity:      0.35,
		Importance:      0.25,
		Recency:         0.20,
		AccessFrequency: 0.15,
		Confidence:      0.05,
	}
}

// Sum returns the total of all weight terms.
func (w Weights) Sum() float64 {
	return w.Similarity + w.Importance + w.Recency + w.AccessFrequency + w.Confidence
}

// Config tunes the retrieval engine.
type Config struct {
	Weights Weights `yaml:"weights" json:"weights"`

	// TopM is how many index candidates are pulled before rescoring.
	TopM int `yaml:"top_m" json:"top_m"`

	// TopK is the final selection size before the token budget applies.
	TopK int `yaml:"top_k" json:"top_k"`

	// TokenBudget caps the estimated prompt cost of the selection.
	TokenBudget int `yaml:"token_budget" json:"token_budget"`

	// TokenEncoding names the tiktoken encoding used for estimates.
	TokenEncoding string `yaml:"token_encoding" json:"token_encoding"`

	// FallbackWindow is how many recent memories the no-index fallback
	// considers.
	FallbackWindow int `yaml:"fallback_window" json:"fallback_window"`

	Decay memory.DecayModel `yaml:"decay" json:"decay"`
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{
		Weights:        DefaultWeights(),
		TopM:           50,
		TopK:           15,
		TokenBudget:    2000,
		TokenEncoding:  "cl100k_base",
		FallbackWindow: 100,
		Decay:          memory.DefaultDecayModel(),
	}
}

// Scored is one ranked retrieval result.
type Scored struct {
	Memory     *memory.Memory `json:"memory"`
	Score      float64        `json:"score"`
	Similarity float64        `json:"similarity"`
}

// Engine runs intent-aware hybrid retrieval.
type Engine struct {
	embedder embedding.Provider
	coord    *store.Coordinator
	workers  *pool.WorkerPool
	config   Config
	tokens   *tokenCounter
	metrics  *metrics.Collector
	logger   *zap.Logger

	// now is swappable for deterministic decay tests.
	now func() time.Time
}

// NewEngine wires the retrieval path. workers may be nil; access bumps then
// happen synchronously in a best-effort goroutine-free way (skipped).
func NewEngine(embedder embedding.Provider, coord *store.Coordinator, workers *pool.WorkerPool, cfg Config, collector *metrics.Collector, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		embedder: embedder,
		coord:    coord,
		workers:  workers,
		config:   cfg,
		tokens:   newTokenCounter(cfg.TokenEncoding),
		metrics:  collector,
		logger:   logger.With(zap.String("component", "retrieval")),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Options carries per-query context.
type Options struct {
	// TurnNumber of the query within its conversation; zero when unknown.
	TurnNumber int

	// Hint overrides intent classification when set.
	Hint Hint
}

// Retrieve returns the ranked memory context for a query. It never returns
// an error for collaborator degradation; an empty list is a valid answer.
func (e *Engine) Retrieve(ctx context.Context, userID, query string, opts Options) ([]Scored, error) {
	start := time.Now()
	intent := ClassifyIntent(query, opts.TurnNumber, opts.Hint)
	defer func() {
		if e.metrics != nil {
			e.metrics.ObserveRetrieval(string(intent), time.Since(start))
		}
	}()

	switch intent {
	case IntentGreeting:
		return e.profile(ctx, userID)
	case IntentBroad:
		return []Scored{}, nil
	default:
		return e.specific(ctx, userID, query)
	}
}

// profile serves greetings: the full CRITICAL/HIGH working set, already
// ordered by importance then recency by the store.
func (e *Engine) profile(ctx context.Context, userID string) ([]Scored, error) {
	memories, err := e.coord.Profile(ctx, userID)
	if err != nil {
		e.logger.Warn("profile unavailable, returning empty context", zap.Error(err))
		return []Scored{}, nil
	}

	out := make([]Scored, 0, len(memories))
	for _, m := range memories {
		out = append(out, Scored{Memory: m, Score: m.ImportanceScore})
	}
	e.bumpAccess(userID, out)
	return out, nil
}

func (e *Engine) specific(ctx context.Context, userID, query string) ([]Scored, error) {
	vector, err := e.embedder.EmbedQuery(ctx, query)
	if err != nil {
		e.logger.Warn("query embedding failed, using recency fallback", zap.Error(err))
		return e.fallback(ctx, userID)
	}

	hits, err := e.coord.Index().Query(ctx, vector, userID, e.config.TopM)
	if err != nil {
		e.logger.Warn("similarity index unreachable, using recency fallback", zap.Error(err))
		return e.fallback(ctx, userID)
	}

	ids := make([]string, 0, len(hits))
	similarity := make(map[string]float64, len(hits))
	for _, h := range hits {
		ids = append(ids, h.ID)
		similarity[h.ID] = h.Similarity
	}

	memories, err := e.coord.Store().GetMemories(ctx, ids)
	if err != nil {
		e.logger.Warn("durable store unreachable, returning empty context", zap.Error(err))
		return []Scored{}, nil
	}

	now := e.now()
	scored := make([]Scored, 0, len(memories))
	for _, m := range memories {
		// The index can lag a supersession; filter here.
		if !m.Active() {
			continue
		}
		sim := similarity[m.ID]
		scored = append(scored, Scored{
			Memory:     m,
			Similarity: sim,
			Score:      e.score(m, sim, now),
		})
	}

	e.rank(scored)
	scored = e.trim(scored)
	e.bumpAccess(userID, scored)
	return scored, nil
}

// fallback ranks recent memories by importance and recency alone when the
// similarity signal is unavailable.
func (e *Engine) fallback(ctx context.Context, userID string) ([]Scored, error) {
	memories, err := e.coord.Store().RecentMemories(ctx, userID, e.config.FallbackWindow)
	if err != nil {
		e.logger.Warn("durable store unreachable, returning empty context", zap.Error(err))
		return []Scored{}, nil
	}

	now := e.now()
	w := e.config.Weights
	scored := make([]Scored, 0, len(memories))
	for _, m := range memories {
		s := w.Importance*m.ImportanceScore + w.Recency*e.config.Decay.RecencyAt(m.CreatedAt, now)
		scored = append(scored, Scored{Memory: m, Score: s})
	}

	e.rank(scored)
	scored = e.trim(scored)
	e.bumpAccess(userID, scored)
	return scored, nil
}

func (e *Engine) score(m *memory.Memory, similarity float64, now time.Time) float64 {
	w := e.config.Weights
	return w.Similarity*similarity +
		w.Importance*m.ImportanceScore +
		w.Recency*e.config.Decay.RecencyAt(m.CreatedAt, now) +
		w.AccessFrequency*e.config.Decay.AccessFrequency(m.AccessCount) +
		w.Confidence*m.Confidence
}

// rank orders by score descending with deterministic tie-breaks: newer
// created_at first, then id.
func (e *Engine) rank(scored []Scored) {
	sort.Slice(scored, func(i, j int) bool {
		a, b := scored[i], scored[j]
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		if !a.Memory.CreatedAt.Equal(b.Memory.CreatedAt) {
			return a.Memory.CreatedAt.After(b.Memory.CreatedAt)
		}
		return a.Memory.ID < b.Memory.ID
	})
}

// trim applies top-K then the token budget, dropping the lowest scores
// first. The list is already sorted, so trimming pops from the tail.
func (e *Engine) trim(scored []Scored) []Scored {
	if len(scored) > e.config.TopK {
		scored = scored[:e.config.TopK]
	}
	if e.config.TokenBudget <= 0 {
		return scored
	}

	total := 0
	for _, s := range scored {
		total += e.tokens.Count(s.Memory.Content)
	}
	for len(scored) > 0 && total > e.config.TokenBudget {
		last := scored[len(scored)-1]
		total -= e.tokens.Count(last.Memory.Content)
		scored = scored[:len(scored)-1]
	}
	return scored
}

// bumpAccess records the read asynchronously; the synchronous return path
// never waits on it.
func (e *Engine) bumpAccess(userID string, scored []Scored) {
	if e.workers == nil || len(scored) == 0 {
		return
	}
	ids := make([]string, 0, len(scored))
	for _, s := range scored {
		ids = append(ids, s.Memory.ID)
	}
	at := e.now()

	err := e.workers.Submit(pool.Task{
		Name: "access_bump",
		Fn: func(ctx context.Context) error {
			return e.coord.Store().BumpAccess(ctx, ids, at)
		},
	})
	if err != nil {
		e.logger.Debug("access bump dropped, queue full",
			zap.String("user_id", userID),
			zap.Int("memories", len(ids)),
		)
	}
}
