package memory

import (
	"fmt"
	"strings"
	"time"
)

// Type classifies what kind of information a memory holds.
type Type string

const (
	TypeFact       Type = "fact"       // Factual information about the user
	TypePreference Type = "preference" // Likes, dislikes, preferences
	TypeCommitment Type = "commitment" // Promises, reminders, tasks, deadlines
	TypeEpisodic   Type = "episodic"   // Notable conversation events
	TypeEntity     Type = "entity"     // People, places, organizations
)

// Types lists all valid memory types.
var Types = []Type{TypeFact, TypePreference, TypeCommitment, TypeEpisodic, TypeEntity}

// ParseType normalizes and validates a memory type string.
// LLM output is case-inconsistent, so parsing is case-insensitive.
func ParseType(s string) (Type, error) {
	t := Type(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range Types {
		if t == known {
			return t, nil
		}
	}
	return "", fmt.Errorf("unknown memory type %q", s)
}

// ImportanceLevel buckets memories by how aggressively they should be
// retained and surfaced.
type ImportanceLevel string

const (
	ImportanceCritical ImportanceLevel = "critical" // Identity, goals, relationships
	ImportanceHigh     ImportanceLevel = "high"     // Preferences, skills, commitments
	ImportanceMedium   ImportanceLevel = "medium"   // Facts, interests
	ImportanceLow      ImportanceLevel = "low"      // Small talk, temporary info
)

// ImportanceLevels lists all valid importance levels.
var ImportanceLevels = []ImportanceLevel{
	ImportanceCritical, ImportanceHigh, ImportanceMedium, ImportanceLow,
}

// ParseImportanceLevel normalizes and validates an importance level string.
func ParseImportanceLevel(s string) (ImportanceLevel, error) {
	l := ImportanceLevel(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range ImportanceLevels {
		if l == known {
			return l, nil
		}
	}
	return "", fmt.Errorf("unknown importance level %q", s)
}

// IndexStatus tracks a memory's position in the durable-store/similarity-index
// state machine owned by the dual-store coordinator.
type IndexStatus string

const (
	IndexCreated IndexStatus = "created"       // Committed to durable store only
	IndexPending IndexStatus = "index_pending" // Index upsert failed, awaiting retry
	IndexIndexed IndexStatus = "indexed"       // Visible to similarity search
	IndexFailed  IndexStatus = "index_failed"  // Retries exhausted, exact-id reads only
)

// Memory is a structured fact extracted from dialogue and owned by one user.
type Memory struct {
	ID     string `json:"id"`
	UserID string `json:"user_id"`
	Type   Type   `json:"type"`

	Content   string    `json:"content"`
	Embedding []float32 `json:"embedding,omitempty"`

	Confidence      float64         `json:"confidence"`
	ImportanceLevel ImportanceLevel `json:"importance_level"`
	ImportanceScore float64         `json:"importance_score"`

	Tags     []string `json:"tags,omitempty"`
	Entities []string `json:"entities,omitempty"`

	// ContentHash is the digest of the normalized content. Together with
	// UserID it is unique among non-superseded memories; the durable store
	// enforces this as the last-resort guard against concurrent duplicate
	// inserts.
	ContentHash string `json:"content_hash"`

	SourceTurn     int    `json:"source_turn"`
	ConversationID string `json:"conversation_id"`

	CreatedAt    time.Time `json:"created_at"`
	LastAccessed time.Time `json:"last_accessed"`
	AccessCount  int64     `json:"access_count"`

	IndexStatus IndexStatus `json:"index_status"`

	// SupersededBy references the newer memory that replaced this one after
	// conflict resolution. Superseded rows are retained for audit, never
	// deleted.
	SupersededBy string `json:"superseded_by,omitempty"`

	// ConflictPending marks a memory stored fail-open after a failed
	// conflict-classification call; the reconciliation sweep re-evaluates it.
	ConflictPending bool `json:"conflict_pending,omitempty"`
}

// Active reports whether the memory has not been superseded.
func (m *Memory) Active() bool {
	return m.SupersededBy == ""
}

// Age returns the time elapsed since creation.
func (m *Memory) Age(now time.Time) time.Duration {
	return now.Sub(m.CreatedAt)
}

// ConversationTurn is one completed user/assistant exchange. TurnNumber is
// strictly increasing within a conversation.
type ConversationTurn struct {
	ConversationID   string    `json:"conversation_id"`
	TurnNumber       int       `json:"turn_number"`
	UserMessage      string    `json:"user_message"`
	AssistantMessage string    `json:"assistant_message"`
	CreatedAt        time.Time `json:"created_at"`
}
