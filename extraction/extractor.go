// Package extraction turns finished conversation exchanges into typed
// memory candidates via a single structured LLM call per turn.
package extraction

import (
	"context"
	"encoding/json"

	"go.uber.org/zap"

	"github.com/BaSui01/memflow/internal/metrics"
	"github.com/BaSui01/memflow/llm"
	"github.com/BaSui01/memflow/memory"
)

// Config tunes extraction behavior.
type Config struct {
	// ConfidenceFloor drops candidates the model itself is unsure about.
	ConfidenceFloor float64 `yaml:"confidence_floor" json:"confidence_floor"`

	// HistoryWindow is how many prior turns are included for grounding.
	HistoryWindow int `yaml:"history_window" json:"history_window"`
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{
		ConfidenceFloor: 0.7,
		HistoryWindow:   3,
	}
}

// Extractor drives the extraction LLM call and validates its output.
type Extractor struct {
	client  llm.Client
	config  Config
	metrics *metrics.Collector
	logger  *zap.Logger
}

// New builds an Extractor.
func New(client llm.Client, cfg Config, collector *metrics.Collector, logger *zap.Logger) *Extractor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Extractor{
		client:  client,
		config:  cfg,
		metrics: collector,
		logger:  logger.With(zap.String("component", "extractor")),
	}
}

// extractionResponse is the shape the model is asked to return. Some models
// return a bare array instead of the wrapper object, so parsing accepts both.
type extractionResponse struct {
	Memories []memory.Candidate `json:"memories"`
}

// ExtractTurn analyzes one exchange and returns the candidates worth
// keeping. It makes exactly one model call; any failure yields zero
// candidates and a warning, never an error that would block the turn.
func (e *Extractor) ExtractTurn(ctx context.Context, turn *memory.ConversationTurn, history []*memory.ConversationTurn) ([]memory.Candidate, error) {
	if len(history) > e.config.HistoryWindow {
		history = history[len(history)-e.config.HistoryWindow:]
	}

	raw, err := e.client.CompleteJSON(ctx, systemPrompt, userPrompt(turn, history))
	if err != nil {
		e.logger.Warn("extraction call failed, skipping turn",
			zap.String("conversation_id", turn.ConversationID),
			zap.Int("turn", turn.TurnNumber),
			zap.Error(err),
		)
		e.record("llm_error")
		return nil, nil
	}

	parsed, err := parseCandidates(raw)
	if err != nil {
		e.logger.Warn("extraction output unparseable, skipping turn",
			zap.String("conversation_id", turn.ConversationID),
			zap.Int("turn", turn.TurnNumber),
			zap.Error(err),
		)
		e.record("parse_error")
		return nil, nil
	}

	kept := make([]memory.Candidate, 0, len(parsed))
	for _, cand := range parsed {
		// Models are case-inconsistent about enum values.
		if t, terr := memory.ParseType(string(cand.Type)); terr == nil {
			cand.Type = t
		}

		if err := cand.Validate(); err != nil {
			e.logger.Debug("candidate dropped as invalid", zap.Error(err))
			if e.metrics != nil {
				e.metrics.RecordCandidate("invalid")
			}
			continue
		}
		if cand.Confidence < e.config.ConfidenceFloor {
			e.logger.Debug("candidate dropped below confidence floor",
				zap.Float64("confidence", cand.Confidence),
			)
			if e.metrics != nil {
				e.metrics.RecordCandidate("low_confidence")
			}
			continue
		}
		kept = append(kept, cand)
	}

	e.record("ok")
	e.logger.Debug("extraction complete",
		zap.Int("turn", turn.TurnNumber),
		zap.Int("raw", len(parsed)),
		zap.Int("kept", len(kept)),
	)
	return kept, nil
}

func (e *Extractor) record(outcome string) {
	if e.metrics != nil {
		e.metrics.RecordExtraction(outcome)
	}
}

// parseCandidates accepts either {"memories": [...]} or a bare [...] body.
func parseCandidates(raw []byte) ([]memory.Candidate, error) {
	var wrapped extractionResponse
	if err := json.Unmarshal(raw, &wrapped); err == nil && wrapped.Memories != nil {
		return wrapped.Memories, nil
	}

	var bare []memory.Candidate
	if err := json.Unmarshal(raw, &bare); err == nil {
		return bare, nil
	}

	// The wrapper parsed but held no array: treat an explicitly empty
	// object as zero candidates rather than an error.
	var probe map[string]json.RawMessage
	if err := json.Unmarshal(raw, &probe); err != nil {
		return nil, err
	}
	return nil, nil
}
