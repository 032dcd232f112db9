package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/BaSui01/memflow/cache"
	"github.com/BaSui01/memflow/index"
	"github.com/BaSui01/memflow/internal/metrics"
	"github.com/BaSui01/memflow/internal/retry"
	"github.com/BaSui01/memflow/memory"
)

// CoordinatorConfig tunes dual-store write behavior.
type CoordinatorConfig struct {
	// IndexRetry bounds the inline upsert attempts made while the write
	// call is still running. Further attempts belong to the reconciler.
	IndexRetry retry.Policy `yaml:"index_retry" json:"index_retry"`

	// MaxIndexRetries is the total attempt budget across reconciler sweeps
	// before a row is parked as permanently index-failed.
	MaxIndexRetries int `yaml:"max_index_retries" json:"max_index_retries"`

	// ProfileTTL bounds staleness of the cached greeting profile.
	ProfileTTL time.Duration `yaml:"profile_ttl" json:"profile_ttl"`
}

// DefaultCoordinatorConfig returns production defaults.
func DefaultCoordinatorConfig() CoordinatorConfig {
	return CoordinatorConfig{
		IndexRetry:      retry.Policy{MaxRetries: 2, InitialDelay: 100 * time.Millisecond, MaxDelay: time.Second, Multiplier: 2.0, Jitter: true},
		MaxIndexRetries: 5,
		ProfileTTL:      5 * time.Minute,
	}
}

// Coordinator enforces write ordering between the durable store and the
// similarity index. The durable commit is the only transactional guarantee;
// the index is brought along after the fact, and a memory that never makes
// it there stays readable by exact id.
type Coordinator struct {
	store   *DurableStore
	index   index.Index
	cache   *cache.Manager
	config  CoordinatorConfig
	metrics *metrics.Collector
	logger  *zap.Logger
	group   singleflight.Group
}

// NewCoordinator wires the dual-store write path. cache may be nil when
// redis is not deployed; profile reads then always hit the store.
func NewCoordinator(store *DurableStore, idx index.Index, cacheMgr *cache.Manager, cfg CoordinatorConfig, collector *metrics.Collector, logger *zap.Logger) *Coordinator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Coordinator{
		store:   store,
		index:   idx,
		cache:   cacheMgr,
		config:  cfg,
		metrics: collector,
		logger:  logger.With(zap.String("component", "coordinator")),
	}
}

func profileKey(userID string) string { return "profile:" + userID }

// WriteMemory commits the memory durably, then projects it into the
// similarity index. It returns false with a nil error when an equivalent
// active memory already exists; losing a concurrent duplicate race is not
// a failure.
func (c *Coordinator) WriteMemory(ctx context.Context, m *memory.Memory) (bool, error) {
	m.IndexStatus = memory.IndexCreated

	if err := c.store.CreateMemory(ctx, m); err != nil {
		if errors.Is(err, ErrDuplicate) {
			c.logger.Debug("duplicate insert dropped",
				zap.String("user_id", m.UserID),
				zap.String("content_hash", m.ContentHash),
			)
			if c.metrics != nil {
				c.metrics.RecordCandidate("duplicate")
			}
			return false, nil
		}
		return false, fmt.Errorf("durable commit: %w", err)
	}

	c.indexMemory(ctx, m)
	c.invalidateProfile(ctx, m.UserID)

	return true, nil
}

// indexMemory attempts the index upsert with bounded inline retry and
// records the resulting state. Failures are swallowed: the row is already
// durable and the reconciler owns the follow-up.
func (c *Coordinator) indexMemory(ctx context.Context, m *memory.Memory) {
	retryer := retry.New(c.config.IndexRetry, c.logger)
	err := retryer.Do(ctx, func() error {
		return c.index.Upsert(ctx, m.ID, m.Embedding, index.Meta{UserID: m.UserID, Type: string(m.Type)})
	})
	if err == nil {
		m.IndexStatus = memory.IndexIndexed
		if serr := c.store.SetIndexStatus(ctx, m.ID, memory.IndexIndexed); serr != nil {
			c.logger.Warn("index status update failed", zap.String("id", m.ID), zap.Error(serr))
		}
		return
	}

	m.IndexStatus = memory.IndexPending
	c.logger.Warn("index upsert failed, deferring to reconciler",
		zap.String("id", m.ID),
		zap.Error(err),
	)
	if serr := c.store.SetIndexStatus(ctx, m.ID, memory.IndexPending); serr != nil {
		c.logger.Error("index status update failed", zap.String("id", m.ID), zap.Error(serr))
	}
}

// Supersede marks old as replaced by new and drops it from the index. The
// durable mutation is authoritative; a failed index delete only delays the
// disappearance until the next query filters superseded rows anyway.
func (c *Coordinator) Supersede(ctx context.Context, userID, oldID, newID string) error {
	if err := c.store.Supersede(ctx, oldID, newID); err != nil {
		return err
	}
	if err := c.index.Delete(ctx, userID, oldID); err != nil {
		c.logger.Warn("index delete failed after supersede",
			zap.String("id", oldID),
			zap.Error(err),
		)
	}
	c.invalidateProfile(ctx, userID)
	return nil
}

// GetMemory is the exact-id read path. It works regardless of index state.
func (c *Coordinator) GetMemory(ctx context.Context, id string) (*memory.Memory, error) {
	return c.store.GetMemory(ctx, id)
}

// Profile returns the user's CRITICAL/HIGH working set, cache-first.
// Concurrent misses for the same user collapse into one store read.
func (c *Coordinator) Profile(ctx context.Context, userID string) ([]*memory.Memory, error) {
	if c.cache != nil {
		var cached []*memory.Memory
		hit, err := c.cache.GetJSON(ctx, profileKey(userID), &cached)
		if err == nil && hit {
			if c.metrics != nil {
				c.metrics.RecordCache(true)
			}
			return cached, nil
		}
		if err != nil {
			c.logger.Debug("profile cache read failed", zap.Error(err))
		}
		if c.metrics != nil {
			c.metrics.RecordCache(false)
		}
	}

	v, err, _ := c.group.Do(profileKey(userID), func() (any, error) {
		profile, err := c.store.Profile(ctx, userID)
		if err != nil {
			return nil, err
		}
		if c.cache != nil {
			if cerr := c.cache.SetJSON(ctx, profileKey(userID), profile, c.config.ProfileTTL); cerr != nil {
				c.logger.Debug("profile cache write failed", zap.Error(cerr))
			}
		}
		return profile, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]*memory.Memory), nil
}

func (c *Coordinator) invalidateProfile(ctx context.Context, userID string) {
	if c.cache == nil {
		return
	}
	if err := c.cache.Delete(ctx, profileKey(userID)); err != nil {
		c.logger.Debug("profile cache invalidation failed", zap.Error(err))
	}
}

// PurgeUser removes everything the engine holds for a user: durable rows,
// index entries and cached aggregates.
func (c *Coordinator) PurgeUser(ctx context.Context, userID string) error {
	ids, err := c.store.PurgeUser(ctx, userID)
	if err != nil {
		return err
	}
	for _, id := range ids {
		if derr := c.index.Delete(ctx, userID, id); derr != nil {
			c.logger.Warn("index delete failed during purge",
				zap.String("id", id),
				zap.Error(derr),
			)
		}
	}
	c.invalidateProfile(ctx, userID)
	return nil
}

// Store exposes the durable store for read paths that bypass coordination.
func (c *Coordinator) Store() *DurableStore { return c.store }

// Index exposes the similarity index for the retrieval engine.
func (c *Coordinator) Index() index.Index { return c.index }
