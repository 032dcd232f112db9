// Package memflow is a memory lifecycle engine for conversational agents.
// It extracts durable memories from conversation turns with an LLM, guards
// them against duplicates and contradictions, and serves ranked memory
// context back to the conversation with hybrid similarity, importance and
// recency scoring.
//
// Usage:
//
//	cfg := config.Default()
//	cfg.LLM.APIKey = os.Getenv("OPENAI_API_KEY")
//	cfg.Embedding.APIKey = cfg.LLM.APIKey
//
//	engine, err := memflow.New(cfg)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer engine.Close()
//
//	_ = engine.IngestTurn(ctx, "user-1", "conv-1", 1,
//	    "I just moved to Berlin", "Welcome to Berlin!")
//	results, _ := engine.Retrieve(ctx, "user-1", "where do I live?", memflow.RetrieveOptions{})
package memflow

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/BaSui01/memflow/cache"
	"github.com/BaSui01/memflow/config"
	"github.com/BaSui01/memflow/conflict"
	"github.com/BaSui01/memflow/dedup"
	"github.com/BaSui01/memflow/embedding"
	"github.com/BaSui01/memflow/extraction"
	"github.com/BaSui01/memflow/index"
	"github.com/BaSui01/memflow/internal/metrics"
	"github.com/BaSui01/memflow/internal/pool"
	"github.com/BaSui01/memflow/llm"
	"github.com/BaSui01/memflow/memory"
	"github.com/BaSui01/memflow/retrieval"
	"github.com/BaSui01/memflow/store"
)

// RetrieveOptions narrows retrieval behavior per call.
type RetrieveOptions = retrieval.Options

// Scored is a ranked retrieval result.
type Scored = retrieval.Scored

// conflictWindow is how many recent memories conflict detection compares a
// candidate against. Mirrors the dedup window.
const conflictWindow = 50

// Option tweaks engine construction, mostly for tests and embedding the
// engine in a larger process.
type Option func(*options)

type options struct {
	logger   *zap.Logger
	registry prometheus.Registerer
	llm      llm.Client
	embedder embedding.Provider
}

// WithLogger replaces the logger built from the config's log section.
func WithLogger(logger *zap.Logger) Option {
	return func(o *options) { o.logger = logger }
}

// WithRegistry sets the prometheus registry metrics register against.
func WithRegistry(reg prometheus.Registerer) Option {
	return func(o *options) { o.registry = reg }
}

// WithLLMClient injects the extraction/conflict model client.
func WithLLMClient(client llm.Client) Option {
	return func(o *options) { o.llm = client }
}

// WithEmbedder injects the embedding provider.
func WithEmbedder(provider embedding.Provider) Option {
	return func(o *options) { o.embedder = provider }
}

// Engine wires the full memory lifecycle: turn ingestion, extraction,
// dedup, conflict resolution, dual-store writes and retrieval.
type Engine struct {
	config *config.Config
	logger *zap.Logger

	metrics  *metrics.Collector
	store    *store.DurableStore
	cache    *cache.Manager
	coord    *store.Coordinator
	recon    *store.Reconciler
	workers  *pool.WorkerPool
	embedder embedding.Provider

	extractor *extraction.Extractor
	dedup     *dedup.Filter
	resolver  *conflict.Resolver
	retriever *retrieval.Engine
}

// New builds an Engine from cfg. The caller owns Close.
func New(cfg *config.Config, opts ...Option) (*Engine, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	var o options
	for _, opt := range opts {
		opt(&o)
	}

	logger := o.logger
	if logger == nil {
		logger = cfg.BuildLogger()
	}

	collector := metrics.NewCollector("memflow", o.registry)

	durable, err := store.Open(cfg.Database, logger)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	var cacheMgr *cache.Manager
	if cfg.Redis.Addr != "" {
		cacheMgr, err = cache.NewManager(cfg.Redis, logger)
		if err != nil {
			// The cache tier is optional; the engine runs without it.
			logger.Warn("cache unavailable, continuing without it", zap.Error(err))
			cacheMgr = nil
		}
	}

	var idx index.Index
	switch cfg.Index.Backend {
	case "memory":
		idx = index.NewInMemory()
	default:
		idx, err = index.NewChromem(cfg.Index.Path, logger)
		if err != nil {
			_ = durable.Close()
			return nil, fmt.Errorf("open index: %w", err)
		}
	}

	llmClient := o.llm
	if llmClient == nil {
		llmClient = llm.NewOpenAICompat(cfg.LLM, logger)
	}

	embedder := o.embedder
	if embedder == nil {
		embedder = embedding.NewOpenAICompat(cfg.Embedding, logger)
	}
	if cacheMgr != nil {
		embedder = embedding.NewCached(embedder, cacheMgr, cfg.Embedding.CacheTTL, logger)
	}

	workers := pool.New(cfg.Workers, logger)
	coord := store.NewCoordinator(durable, idx, cacheMgr, cfg.Coordinator, collector, logger)

	e := &Engine{
		config:   cfg,
		logger:   logger.With(zap.String("component", "engine")),
		metrics:  collector,
		store:    durable,
		cache:    cacheMgr,
		coord:    coord,
		workers:  workers,
		embedder: embedder,

		extractor: extraction.New(llmClient, cfg.Extraction, collector, logger),
		dedup:     dedup.New(durable, cfg.Dedup, collector, logger),
		resolver:  conflict.New(llmClient, collector, logger),
		retriever: retrieval.NewEngine(embedder, coord, workers, cfg.Retrieval, collector, logger),
	}

	e.recon = store.NewReconciler(coord, e.reevaluateConflict, cfg.Reconciler, collector, logger)
	e.recon.Start()

	return e, nil
}

// IngestTurn persists one completed user/assistant exchange and enqueues
// the extraction pipeline for it. The turn itself is durable when the call
// returns; the memories it yields land asynchronously.
//
// Replaying the same (conversationID, turnNumber) is a no-op, so retrying
// a failed ingest is always safe.
func (e *Engine) IngestTurn(ctx context.Context, userID, conversationID string, turnNumber int, userMsg, assistantMsg string) error {
	if userID == "" || conversationID == "" {
		return errors.New("userID and conversationID are required")
	}
	if turnNumber <= 0 {
		return fmt.Errorf("turnNumber %d: must be positive", turnNumber)
	}

	turn := &memory.ConversationTurn{
		ConversationID:   conversationID,
		TurnNumber:       turnNumber,
		UserMessage:      userMsg,
		AssistantMessage: assistantMsg,
		CreatedAt:        time.Now().UTC(),
	}
	if err := e.store.SaveTurn(ctx, userID, turn); err != nil {
		return fmt.Errorf("save turn: %w", err)
	}

	err := e.workers.Submit(pool.Task{
		Name: "ingest_turn",
		Fn: func(taskCtx context.Context) error {
			return e.processTurn(taskCtx, userID, turn)
		},
	})
	if err != nil {
		// The turn is already durable; a saturated queue only delays
		// extraction until the caller retries.
		return fmt.Errorf("enqueue extraction: %w", err)
	}
	return nil
}

// processTurn runs the write pipeline for one turn: extract candidates,
// then push each through dedup, conflict resolution and the coordinated
// write. Per-candidate failures are logged and skipped; one bad candidate
// never blocks its siblings.
func (e *Engine) processTurn(ctx context.Context, userID string, turn *memory.ConversationTurn) error {
	history, err := e.store.RecentTurns(ctx, turn.ConversationID, e.config.Extraction.HistoryWindow+1)
	if err != nil {
		e.logger.Warn("history load failed, extracting without it", zap.Error(err))
		history = nil
	}
	// RecentTurns includes the turn being processed; drop it.
	prior := history[:0:0]
	for _, h := range history {
		if h.TurnNumber != turn.TurnNumber {
			prior = append(prior, h)
		}
	}

	candidates, err := e.extractor.ExtractTurn(ctx, turn, prior)
	if err != nil {
		return fmt.Errorf("extract turn %d: %w", turn.TurnNumber, err)
	}

	for i := range candidates {
		if err := e.processCandidate(ctx, userID, turn, &candidates[i]); err != nil {
			e.logger.Warn("candidate dropped",
				zap.String("user_id", userID),
				zap.Int("turn", turn.TurnNumber),
				zap.Error(err))
		}
	}
	return nil
}

func (e *Engine) processCandidate(ctx context.Context, userID string, turn *memory.ConversationTurn, cand *memory.Candidate) error {
	vec, err := e.embedder.EmbedQuery(ctx, cand.Content)
	if err != nil {
		return fmt.Errorf("embed candidate: %w", err)
	}

	match, err := e.dedup.Check(ctx, userID, cand, vec)
	if err != nil {
		return fmt.Errorf("dedup check: %w", err)
	}
	if match != nil {
		// Check already bumped the survivor's access stats.
		return nil
	}

	decision := &conflict.Decision{}
	if cats := conflict.DetectCategories(cand.Content, cand.Type); len(cats) > 0 {
		recent, err := e.store.RecentMemories(ctx, userID, conflictWindow)
		if err != nil {
			return fmt.Errorf("load conflict window: %w", err)
		}
		existing := conflict.GatherExisting(recent, cats)
		decision, err = e.resolver.Resolve(ctx, cand.Content, existing)
		if err != nil {
			return fmt.Errorf("resolve conflicts: %w", err)
		}
	}

	level, score := memory.DeriveImportance(cand.Type, cand.Content, cand.Confidence)
	now := time.Now().UTC()
	m := &memory.Memory{
		ID:              uuid.NewString(),
		UserID:          userID,
		Type:            cand.Type,
		Content:         cand.Content,
		Embedding:       vec,
		Confidence:      cand.Confidence,
		ImportanceLevel: level,
		ImportanceScore: score,
		Tags:            cand.Tags,
		Entities:        cand.Entities,
		ContentHash:     memory.ContentHash(cand.Content),
		SourceTurn:      turn.TurnNumber,
		ConversationID:  turn.ConversationID,
		CreatedAt:       now,
		LastAccessed:    now,
		ConflictPending: decision.Deferred,
	}

	created, err := e.coord.WriteMemory(ctx, m)
	if err != nil {
		return fmt.Errorf("write memory: %w", err)
	}
	if !created {
		// Lost a concurrent duplicate race; the winner carries the content.
		return nil
	}

	for _, oldID := range decision.SupersededIDs {
		if err := e.coord.Supersede(ctx, userID, oldID, m.ID); err != nil {
			e.logger.Warn("supersede failed",
				zap.String("old_id", oldID),
				zap.String("new_id", m.ID),
				zap.Error(err))
		}
	}
	return nil
}

// errStillDeferred keeps a memory in the conflict-pending queue when the
// classifier is still unavailable during a reconciliation sweep.
var errStillDeferred = errors.New("conflict classification still unavailable")

// reevaluateConflict re-runs conflict resolution for a memory that was
// stored fail-open. The reconciler calls it during sweeps.
func (e *Engine) reevaluateConflict(ctx context.Context, m *memory.Memory) error {
	cats := conflict.DetectCategories(m.Content, m.Type)
	if len(cats) == 0 {
		return nil
	}

	recent, err := e.store.RecentMemories(ctx, m.UserID, conflictWindow)
	if err != nil {
		return err
	}
	others := recent[:0:0]
	for _, r := range recent {
		if r.ID != m.ID {
			others = append(others, r)
		}
	}

	existing := conflict.GatherExisting(others, cats)
	decision, err := e.resolver.Resolve(ctx, m.Content, existing)
	if err != nil {
		return err
	}
	if decision.Deferred {
		return errStillDeferred
	}

	for _, oldID := range decision.SupersededIDs {
		if err := e.coord.Supersede(ctx, m.UserID, oldID, m.ID); err != nil {
			return err
		}
	}
	return nil
}

// Retrieve returns ranked memory context for a query. Collaborator outages
// degrade the result, never the call: an empty slice with a nil error is a
// valid answer.
func (e *Engine) Retrieve(ctx context.Context, userID, query string, opts RetrieveOptions) ([]Scored, error) {
	if userID == "" {
		return nil, errors.New("userID is required")
	}
	return e.retriever.Retrieve(ctx, userID, query, opts)
}

// Stats returns the per-user memory aggregate.
func (e *Engine) Stats(ctx context.Context, userID string) (*store.Stats, error) {
	return e.store.UserStats(ctx, userID)
}

// PurgeUser removes every trace of a user: durable rows, index entries and
// cached profile.
func (e *Engine) PurgeUser(ctx context.Context, userID string) error {
	return e.coord.PurgeUser(ctx, userID)
}

// Sweep runs one reconciliation pass immediately. Mostly useful in tests
// and admin tooling; the background loop runs it on its own interval.
func (e *Engine) Sweep(ctx context.Context) {
	e.recon.Sweep(ctx)
}

// Close drains background work and releases every resource. Safe to call
// once; the engine is unusable afterwards.
func (e *Engine) Close() error {
	e.recon.Stop()
	e.workers.Close()

	var errs []error
	if e.cache != nil {
		errs = append(errs, e.cache.Close())
	}
	errs = append(errs, e.store.Close())
	return errors.Join(errs...)
}
