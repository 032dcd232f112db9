package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/BaSui01/memflow/memory"
)

var (
	// ErrDuplicate reports that an active memory with the same normalized
	// content already exists for the user. Callers treat it as success: the
	// information is already remembered.
	ErrDuplicate = errors.New("duplicate active memory")

	// ErrNotFound reports that no row matched the lookup.
	ErrNotFound = errors.New("memory not found")
)

// Config selects and tunes the durable store backend.
type Config struct {
	// Driver is one of "sqlite", "postgres", "mysql".
	Driver string `yaml:"driver" json:"driver"`

	// DSN is the driver-specific connection string. For sqlite an empty
	// DSN means a private in-memory database.
	DSN string `yaml:"dsn" json:"dsn"`

	MaxIdleConns    int           `yaml:"max_idle_conns" json:"max_idle_conns"`
	MaxOpenConns    int           `yaml:"max_open_conns" json:"max_open_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime" json:"conn_max_lifetime"`
}

// DefaultConfig returns an in-memory sqlite configuration.
func DefaultConfig() Config {
	return Config{
		Driver:          "sqlite",
		DSN:             "",
		MaxIdleConns:    10,
		MaxOpenConns:    100,
		ConnMaxLifetime: time.Hour,
	}
}

// DurableStore is the transactional source of truth for memories and turns.
type DurableStore struct {
	db     *gorm.DB
	logger *zap.Logger
}

// Open connects to the configured database, runs migrations and returns the
// store. TranslateError is enabled so unique-constraint violations surface
// as gorm.ErrDuplicatedKey across all three dialects.
func Open(cfg Config, logger *zap.Logger) (*DurableStore, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	dialector, err := openDialector(cfg)
	if err != nil {
		return nil, err
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		TranslateError: true,
		Logger:         gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if sqlDB, err := db.DB(); err == nil {
		if inMemorySQLite(cfg) {
			// Every pooled connection to :memory: opens its own empty
			// database, so the pool must stay at one connection.
			sqlDB.SetMaxOpenConns(1)
		} else {
			if cfg.MaxIdleConns > 0 {
				sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
			}
			if cfg.MaxOpenConns > 0 {
				sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
			}
			if cfg.ConnMaxLifetime > 0 {
				sqlDB.SetConnMaxLifetime(cfg.ConnMaxLifetime)
			}
		}
	}

	if err := db.AutoMigrate(&memoryRecord{}, &turnRecord{}); err != nil {
		return nil, fmt.Errorf("migrate schema: %w", err)
	}

	logger.Info("durable store opened", zap.String("driver", cfg.Driver))

	return &DurableStore{
		db:     db,
		logger: logger.With(zap.String("component", "durable_store")),
	}, nil
}

func inMemorySQLite(cfg Config) bool {
	if cfg.Driver != "" && cfg.Driver != "sqlite" {
		return false
	}
	return cfg.DSN == "" || strings.Contains(cfg.DSN, ":memory:")
}

func openDialector(cfg Config) (gorm.Dialector, error) {
	switch cfg.Driver {
	case "", "sqlite":
		dsn := cfg.DSN
		if dsn == "" {
			dsn = ":memory:"
		}
		return sqlite.Open(dsn), nil
	case "postgres":
		return postgres.Open(cfg.DSN), nil
	case "mysql":
		return mysql.Open(cfg.DSN), nil
	default:
		return nil, fmt.Errorf("unsupported database driver %q", cfg.Driver)
	}
}

// Close releases the underlying connection pool.
func (s *DurableStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// CreateMemory inserts a new memory row. A unique-constraint collision on
// (user_id, content_hash) among active rows returns ErrDuplicate.
func (s *DurableStore) CreateMemory(ctx context.Context, m *memory.Memory) error {
	err := s.db.WithContext(ctx).Create(toRecord(m)).Error
	if err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return ErrDuplicate
		}
		return fmt.Errorf("create memory: %w", err)
	}
	return nil
}

// GetMemory looks up one memory by id, superseded or not.
func (s *DurableStore) GetMemory(ctx context.Context, id string) (*memory.Memory, error) {
	var rec memoryRecord
	err := s.db.WithContext(ctx).First(&rec, "id = ?", id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get memory %s: %w", id, err)
	}
	return fromRecord(&rec), nil
}

// GetMemories loads the given ids, skipping any that do not exist. Order of
// the result is unspecified.
func (s *DurableStore) GetMemories(ctx context.Context, ids []string) ([]*memory.Memory, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	var rows []memoryRecord
	err := s.db.WithContext(ctx).Where("id IN ?", ids).Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("get memories: %w", err)
	}
	return fromRecords(rows), nil
}

// RecentMemories returns the user's newest active memories, newest first.
func (s *DurableStore) RecentMemories(ctx context.Context, userID string, limit int) ([]*memory.Memory, error) {
	var rows []memoryRecord
	err := s.db.WithContext(ctx).
		Where("user_id = ? AND superseded_by = ''", userID).
		Order("created_at DESC, id").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("recent memories: %w", err)
	}
	return fromRecords(rows), nil
}

// Profile returns the user's active CRITICAL and HIGH memories ordered by
// importance score, then recency. This is the greeting-time working set.
func (s *DurableStore) Profile(ctx context.Context, userID string) ([]*memory.Memory, error) {
	var rows []memoryRecord
	err := s.db.WithContext(ctx).
		Where("user_id = ? AND superseded_by = '' AND importance_level IN ?",
			userID, []string{string(memory.ImportanceCritical), string(memory.ImportanceHigh)}).
		Order("importance_score DESC, created_at DESC, id").
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("load profile: %w", err)
	}
	return fromRecords(rows), nil
}

// BumpAccess increments access counters and stamps last_accessed for the
// given memories. Retrieval calls this off the hot path.
func (s *DurableStore) BumpAccess(ctx context.Context, ids []string, now time.Time) error {
	if len(ids) == 0 {
		return nil
	}
	err := s.db.WithContext(ctx).Model(&memoryRecord{}).
		Where("id IN ?", ids).
		Updates(map[string]any{
			"access_count":  gorm.Expr("access_count + 1"),
			"last_accessed": now,
		}).Error
	if err != nil {
		return fmt.Errorf("bump access: %w", err)
	}
	return nil
}

// Supersede marks oldID as replaced by newID. The row is kept for audit but
// drops out of every active-only query; zeroing the importance score keeps
// legacy scans from resurfacing it.
func (s *DurableStore) Supersede(ctx context.Context, oldID, newID string) error {
	res := s.db.WithContext(ctx).Model(&memoryRecord{}).
		Where("id = ? AND superseded_by = ''", oldID).
		Updates(map[string]any{
			"superseded_by":    newID,
			"importance_score": 0,
		})
	if res.Error != nil {
		return fmt.Errorf("supersede %s: %w", oldID, res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// SetIndexStatus moves a memory to a new index state.
func (s *DurableStore) SetIndexStatus(ctx context.Context, id string, status memory.IndexStatus) error {
	err := s.db.WithContext(ctx).Model(&memoryRecord{}).
		Where("id = ?", id).
		Update("index_status", string(status)).Error
	if err != nil {
		return fmt.Errorf("set index status %s: %w", id, err)
	}
	return nil
}

// BumpIndexRetry records one more failed index attempt and returns the new
// retry count.
func (s *DurableStore) BumpIndexRetry(ctx context.Context, id string) (int, error) {
	var rec memoryRecord
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&memoryRecord{}).
			Where("id = ?", id).
			Update("index_retries", gorm.Expr("index_retries + 1")).Error; err != nil {
			return err
		}
		return tx.Select("index_retries").First(&rec, "id = ?", id).Error
	})
	if err != nil {
		return 0, fmt.Errorf("bump index retry %s: %w", id, err)
	}
	return rec.IndexRetries, nil
}

// PendingIndex lists active memories stuck outside the INDEXED state,
// oldest first.
func (s *DurableStore) PendingIndex(ctx context.Context, limit int) ([]*memory.Memory, error) {
	var rows []memoryRecord
	err := s.db.WithContext(ctx).
		Where("superseded_by = '' AND index_status IN ?",
			[]string{string(memory.IndexCreated), string(memory.IndexPending), string(memory.IndexFailed)}).
		Order("created_at ASC, id").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("pending index: %w", err)
	}
	return fromRecords(rows), nil
}

// PendingConflicts lists active memories stored fail-open whose conflict
// classification still needs to run.
func (s *DurableStore) PendingConflicts(ctx context.Context, limit int) ([]*memory.Memory, error) {
	var rows []memoryRecord
	err := s.db.WithContext(ctx).
		Where("superseded_by = '' AND conflict_pending = ?", true).
		Order("created_at ASC, id").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("pending conflicts: %w", err)
	}
	return fromRecords(rows), nil
}

// ClearConflictPending marks a deferred conflict as resolved.
func (s *DurableStore) ClearConflictPending(ctx context.Context, id string) error {
	err := s.db.WithContext(ctx).Model(&memoryRecord{}).
		Where("id = ?", id).
		Update("conflict_pending", false).Error
	if err != nil {
		return fmt.Errorf("clear conflict pending %s: %w", id, err)
	}
	return nil
}

// DuplicateGroup identifies active rows sharing a content hash.
type DuplicateGroup struct {
	UserID      string
	ContentHash string
}

// ActiveDuplicateGroups finds (user, hash) pairs with more than one active
// row. The unique index makes these rare; pre-index data or disabled
// constraints can still produce them.
func (s *DurableStore) ActiveDuplicateGroups(ctx context.Context, limit int) ([]DuplicateGroup, error) {
	var groups []DuplicateGroup
	err := s.db.WithContext(ctx).Model(&memoryRecord{}).
		Select("user_id, content_hash").
		Where("superseded_by = ''").
		Group("user_id, content_hash").
		Having("COUNT(*) > 1").
		Limit(limit).
		Scan(&groups).Error
	if err != nil {
		return nil, fmt.Errorf("duplicate groups: %w", err)
	}
	return groups, nil
}

// ActiveByHash lists the active rows for one (user, hash) pair, oldest
// first.
func (s *DurableStore) ActiveByHash(ctx context.Context, userID, contentHash string) ([]*memory.Memory, error) {
	var rows []memoryRecord
	err := s.db.WithContext(ctx).
		Where("user_id = ? AND content_hash = ? AND superseded_by = ''", userID, contentHash).
		Order("created_at ASC, id").
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("active by hash: %w", err)
	}
	return fromRecords(rows), nil
}

// SaveTurn persists one completed exchange. Replaying the same turn number
// is idempotent.
func (s *DurableStore) SaveTurn(ctx context.Context, userID string, turn *memory.ConversationTurn) error {
	rec := &turnRecord{
		ConversationID:   turn.ConversationID,
		TurnNumber:       turn.TurnNumber,
		UserID:           userID,
		UserMessage:      turn.UserMessage,
		AssistantMessage: turn.AssistantMessage,
		CreatedAt:        turn.CreatedAt,
	}
	err := s.db.WithContext(ctx).Create(rec).Error
	if err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return nil
		}
		return fmt.Errorf("save turn: %w", err)
	}
	return nil
}

// RecentTurns returns the conversation's last n turns in chronological
// order. Extraction uses this window to ground pronouns and references.
func (s *DurableStore) RecentTurns(ctx context.Context, conversationID string, n int) ([]*memory.ConversationTurn, error) {
	var rows []turnRecord
	err := s.db.WithContext(ctx).
		Where("conversation_id = ?", conversationID).
		Order("turn_number DESC").
		Limit(n).
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("recent turns: %w", err)
	}

	turns := make([]*memory.ConversationTurn, len(rows))
	for i := range rows {
		r := &rows[len(rows)-1-i]
		turns[i] = &memory.ConversationTurn{
			ConversationID:   r.ConversationID,
			TurnNumber:       r.TurnNumber,
			UserMessage:      r.UserMessage,
			AssistantMessage: r.AssistantMessage,
			CreatedAt:        r.CreatedAt,
		}
	}
	return turns, nil
}

// Stats aggregates a user's memory counts.
type Stats struct {
	Total   int64            `json:"total"`
	Active  int64            `json:"active"`
	ByType  map[string]int64 `json:"by_type"`
	Hot     int64            `json:"hot"`
	Pending int64            `json:"pending_index"`
}

// hotAccessThreshold marks a memory as frequently used.
const hotAccessThreshold = 3

// UserStats computes the per-user aggregate used by the profile cache and
// operational introspection.
func (s *DurableStore) UserStats(ctx context.Context, userID string) (*Stats, error) {
	stats := &Stats{ByType: make(map[string]int64)}

	db := s.db.WithContext(ctx).Model(&memoryRecord{})

	if err := db.Where("user_id = ?", userID).Count(&stats.Total).Error; err != nil {
		return nil, fmt.Errorf("user stats: %w", err)
	}

	type typeCount struct {
		Type  string
		Count int64
	}
	var counts []typeCount
	err := s.db.WithContext(ctx).Model(&memoryRecord{}).
		Select("type, COUNT(*) as count").
		Where("user_id = ? AND superseded_by = ''", userID).
		Group("type").
		Scan(&counts).Error
	if err != nil {
		return nil, fmt.Errorf("user stats by type: %w", err)
	}
	for _, c := range counts {
		stats.ByType[c.Type] = c.Count
		stats.Active += c.Count
	}

	err = s.db.WithContext(ctx).Model(&memoryRecord{}).
		Where("user_id = ? AND superseded_by = '' AND access_count >= ?", userID, hotAccessThreshold).
		Count(&stats.Hot).Error
	if err != nil {
		return nil, fmt.Errorf("user stats hot: %w", err)
	}

	err = s.db.WithContext(ctx).Model(&memoryRecord{}).
		Where("user_id = ? AND superseded_by = '' AND index_status <> ?", userID, string(memory.IndexIndexed)).
		Count(&stats.Pending).Error
	if err != nil {
		return nil, fmt.Errorf("user stats pending: %w", err)
	}

	return stats, nil
}

// PurgeUser deletes every memory and turn belonging to the user. This is
// the only path that removes rows; supersession never deletes.
func (s *DurableStore) PurgeUser(ctx context.Context, userID string) ([]string, error) {
	var ids []string
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&memoryRecord{}).
			Where("user_id = ?", userID).
			Pluck("id", &ids).Error; err != nil {
			return err
		}
		if err := tx.Where("user_id = ?", userID).Delete(&memoryRecord{}).Error; err != nil {
			return err
		}
		return tx.Where("user_id = ?", userID).Delete(&turnRecord{}).Error
	})
	if err != nil {
		return nil, fmt.Errorf("purge user %s: %w", userID, err)
	}
	s.logger.Info("user purged", zap.String("user_id", userID), zap.Int("memories", len(ids)))
	return ids, nil
}
