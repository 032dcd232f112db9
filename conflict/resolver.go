// Package conflict decides whether a new memory contradicts stored ones
// and which stored memories a write should supersede. Detection starts
// lexical (category keyword triggers) and ends with one batched structured
// model call; recency wins every resolved conflict.
package conflict

import (
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	"github.com/BaSui01/memflow/internal/metrics"
	"github.com/BaSui01/memflow/llm"
	"github.com/BaSui01/memflow/memory"
)

// Decision is the outcome of conflict resolution for one candidate.
type Decision struct {
	// SupersededIDs are the existing memories the new one replaces.
	SupersededIDs []string

	// Deferred is set when classification could not run. The candidate is
	// stored anyway with ConflictPending for the reconciliation sweep.
	Deferred bool
}

// Resolver classifies candidate-versus-existing contradictions.
type Resolver struct {
	client  llm.Client
	metrics *metrics.Collector
	logger  *zap.Logger
}

// New builds a Resolver.
func New(client llm.Client, collector *metrics.Collector, logger *zap.Logger) *Resolver {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Resolver{
		client:  client,
		metrics: collector,
		logger:  logger.With(zap.String("component", "conflict")),
	}
}

type verdict struct {
	Category     string `json:"category"`
	Conflict     bool   `json:"conflict"`
	SupersededID string `json:"superseded_id"`
}

type classifyResponse struct {
	Results []verdict `json:"results"`
}

// Resolve runs at most one classification call covering every matched
// category. An empty existing map short-circuits to no conflict without
// touching the model. Classification failure is not an error: the decision
// comes back Deferred and the write proceeds fail-open.
func (r *Resolver) Resolve(ctx context.Context, newContent string, existing map[Category][]*memory.Memory) (*Decision, error) {
	if len(existing) == 0 {
		return &Decision{}, nil
	}

	raw, err := r.client.CompleteJSON(ctx, classifySystemPrompt, classifyUserPrompt(newContent, existing))
	if err != nil {
		r.logger.Warn("conflict classification unavailable, storing fail-open", zap.Error(err))
		r.record("deferred")
		return &Decision{Deferred: true}, nil
	}

	verdicts, err := parseVerdicts(raw)
	if err != nil {
		r.logger.Warn("conflict classification unparseable, storing fail-open", zap.Error(err))
		r.record("deferred")
		return &Decision{Deferred: true}, nil
	}

	decision := &Decision{}
	seen := make(map[string]bool)
	for _, v := range verdicts {
		if !v.Conflict || v.SupersededID == "" {
			continue
		}
		// Only ids that were actually presented may be superseded.
		if !presentedID(existing, Category(v.Category), v.SupersededID) {
			r.logger.Warn("classifier named an unknown memory id, ignoring",
				zap.String("category", v.Category),
				zap.String("id", v.SupersededID),
			)
			continue
		}
		if !seen[v.SupersededID] {
			seen[v.SupersededID] = true
			decision.SupersededIDs = append(decision.SupersededIDs, v.SupersededID)
		}
	}

	if len(decision.SupersededIDs) > 0 {
		r.record("superseded")
	} else {
		r.record("none")
	}
	return decision, nil
}

func (r *Resolver) record(result string) {
	if r.metrics != nil {
		r.metrics.RecordConflict(result)
	}
}

func parseVerdicts(raw []byte) ([]verdict, error) {
	var wrapped classifyResponse
	if err := json.Unmarshal(raw, &wrapped); err == nil && wrapped.Results != nil {
		return wrapped.Results, nil
	}
	var bare []verdict
	if err := json.Unmarshal(raw, &bare); err == nil {
		return bare, nil
	}
	return nil, fmt.Errorf("unrecognized classification shape")
}

func presentedID(existing map[Category][]*memory.Memory, cat Category, id string) bool {
	// The classifier sometimes mislabels the category, so fall back to
	// searching every bucket before rejecting the id.
	for _, m := range existing[cat] {
		if m.ID == id {
			return true
		}
	}
	for c, ms := range existing {
		if c == cat {
			continue
		}
		for _, m := range ms {
			if m.ID == id {
				return true
			}
		}
	}
	return false
}
