package store

import (
	"time"

	"github.com/BaSui01/memflow/memory"
)

// memoryRecord is the gorm row backing memory.Memory.
//
// The composite unique index (user_id, content_hash, superseded_by) is the
// last-resort guard against concurrent duplicate inserts: active rows carry
// an empty superseded_by, so two active copies of the same normalized
// content collide, while superseded rows stay out of each other's way. The
// three-column form is portable across sqlite, postgres and mysql, unlike a
// partial index.
type memoryRecord struct {
	ID     string `gorm:"primaryKey;size:36"`
	UserID string `gorm:"size:64;index;not null;uniqueIndex:idx_user_hash_active,priority:1"`
	Type   string `gorm:"size:16;not null"`

	Content   string    `gorm:"type:text;not null"`
	Embedding []float32 `gorm:"serializer:json"`

	Confidence      float64
	ImportanceLevel string `gorm:"size:16;index"`
	ImportanceScore float64

	Tags     []string `gorm:"serializer:json"`
	Entities []string `gorm:"serializer:json"`

	ContentHash string `gorm:"size:64;not null;uniqueIndex:idx_user_hash_active,priority:2"`

	SourceTurn     int
	ConversationID string `gorm:"size:64;index"`

	CreatedAt    time.Time `gorm:"index"`
	LastAccessed time.Time
	AccessCount  int64

	IndexStatus  string `gorm:"size:16;index;default:created"`
	IndexRetries int

	SupersededBy    string `gorm:"size:36;default:'';uniqueIndex:idx_user_hash_active,priority:3"`
	ConflictPending bool   `gorm:"index"`
}

func (memoryRecord) TableName() string { return "memories" }

// turnRecord persists one completed user/assistant exchange.
type turnRecord struct {
	ID               uint   `gorm:"primaryKey;autoIncrement"`
	ConversationID   string `gorm:"size:64;not null;uniqueIndex:idx_conv_turn,priority:1"`
	TurnNumber       int    `gorm:"not null;uniqueIndex:idx_conv_turn,priority:2"`
	UserID           string `gorm:"size:64;index"`
	UserMessage      string `gorm:"type:text"`
	AssistantMessage string `gorm:"type:text"`
	CreatedAt        time.Time
}

func (turnRecord) TableName() string { return "conversation_turns" }

func toRecord(m *memory.Memory) *memoryRecord {
	return &memoryRecord{
		ID:              m.ID,
		UserID:          m.UserID,
		Type:            string(m.Type),
		Content:         m.Content,
		Embedding:       m.Embedding,
		Confidence:      m.Confidence,
		ImportanceLevel: string(m.ImportanceLevel),
		ImportanceScore: m.ImportanceScore,
		Tags:            m.Tags,
		Entities:        m.Entities,
		ContentHash:     m.ContentHash,
		SourceTurn:      m.SourceTurn,
		ConversationID:  m.ConversationID,
		CreatedAt:       m.CreatedAt,
		LastAccessed:    m.LastAccessed,
		AccessCount:     m.AccessCount,
		IndexStatus:     string(m.IndexStatus),
		SupersededBy:    m.SupersededBy,
		ConflictPending: m.ConflictPending,
	}
}

func fromRecord(r *memoryRecord) *memory.Memory {
	return &memory.Memory{
		ID:              r.ID,
		UserID:          r.UserID,
		Type:            memory.Type(r.Type),
		Content:         r.Content,
		Embedding:       r.Embedding,
		Confidence:      r.Confidence,
		ImportanceLevel: memory.ImportanceLevel(r.ImportanceLevel),
		ImportanceScore: r.ImportanceScore,
		Tags:            r.Tags,
		Entities:        r.Entities,
		ContentHash:     r.ContentHash,
		SourceTurn:      r.SourceTurn,
		ConversationID:  r.ConversationID,
		CreatedAt:       r.CreatedAt,
		LastAccessed:    r.LastAccessed,
		AccessCount:     r.AccessCount,
		IndexStatus:     memory.IndexStatus(r.IndexStatus),
		SupersededBy:    r.SupersededBy,
		ConflictPending: r.ConflictPending,
	}
}

func fromRecords(rows []memoryRecord) []*memory.Memory {
	out := make([]*memory.Memory, 0, len(rows))
	for i := range rows {
		out = append(out, fromRecord(&rows[i]))
	}
	return out
}
