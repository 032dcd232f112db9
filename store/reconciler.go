package store

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/memflow/index"
	"github.com/BaSui01/memflow/internal/metrics"
	"github.com/BaSui01/memflow/memory"
)

// ConflictFunc re-runs conflict classification for a memory that was stored
// fail-open. It returns nil once the memory's conflict state is settled,
// whether or not a supersession happened.
type ConflictFunc func(ctx context.Context, m *memory.Memory) error

// ReconcilerConfig tunes the repair sweep.
type ReconcilerConfig struct {
	Interval     time.Duration `yaml:"interval" json:"interval"`
	BatchSize    int           `yaml:"batch_size" json:"batch_size"`
	SweepTimeout time.Duration `yaml:"sweep_timeout" json:"sweep_timeout"`
}

// DefaultReconcilerConfig returns production defaults.
func DefaultReconcilerConfig() ReconcilerConfig {
	return ReconcilerConfig{
		Interval:     time.Minute,
		BatchSize:    100,
		SweepTimeout: 30 * time.Second,
	}
}

// Reconciler periodically repairs divergence between the durable store and
// the similarity index, re-runs deferred conflict classification, and
// consolidates duplicate rows that slipped past the hash guard.
type Reconciler struct {
	coord      *Coordinator
	conflictFn ConflictFunc
	config     ReconcilerConfig
	metrics    *metrics.Collector
	logger     *zap.Logger

	stop chan struct{}
	wg   sync.WaitGroup
	once sync.Once
}

// NewReconciler builds a sweep over the coordinator's stores. conflictFn
// may be nil, in which case deferred conflicts stay pending.
func NewReconciler(coord *Coordinator, conflictFn ConflictFunc, cfg ReconcilerConfig, collector *metrics.Collector, logger *zap.Logger) *Reconciler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Reconciler{
		coord:      coord,
		conflictFn: conflictFn,
		config:     cfg,
		metrics:    collector,
		logger:     logger.With(zap.String("component", "reconciler")),
		stop:       make(chan struct{}),
	}
}

// Start launches the periodic sweep loop.
func (r *Reconciler) Start() {
	r.wg.Add(1)
	go r.loop()
	r.logger.Info("reconciler started", zap.Duration("interval", r.config.Interval))
}

// Stop halts the loop and waits for an in-flight sweep to finish.
func (r *Reconciler) Stop() {
	r.once.Do(func() { close(r.stop) })
	r.wg.Wait()
}

func (r *Reconciler) loop() {
	defer r.wg.Done()

	ticker := time.NewTicker(r.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-r.stop:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), r.config.SweepTimeout)
			r.Sweep(ctx)
			cancel()
		}
	}
}

// Sweep runs one repair pass. It is exported so operators and tests can
// trigger repairs without waiting for the ticker.
func (r *Reconciler) Sweep(ctx context.Context) {
	r.sweepIndex(ctx)
	r.sweepConflicts(ctx)
	r.sweepDuplicates(ctx)
}

// sweepIndex retries memories that never made it into the similarity
// index. A row whose attempt budget is exhausted is parked as index-failed
// and surfaced through metrics; it remains readable by exact id.
func (r *Reconciler) sweepIndex(ctx context.Context) {
	pending, err := r.coord.Store().PendingIndex(ctx, r.config.BatchSize)
	if err != nil {
		r.logger.Error("pending index scan failed", zap.Error(err))
		return
	}

	for _, m := range pending {
		if ctx.Err() != nil {
			return
		}

		err := r.coord.Index().Upsert(ctx, m.ID, m.Embedding, index.Meta{UserID: m.UserID, Type: string(m.Type)})
		if err == nil {
			if serr := r.coord.Store().SetIndexStatus(ctx, m.ID, memory.IndexIndexed); serr != nil {
				r.logger.Error("index status update failed", zap.String("id", m.ID), zap.Error(serr))
				continue
			}
			if r.metrics != nil {
				r.metrics.RecordRepair("index")
			}
			continue
		}

		retries, berr := r.coord.Store().BumpIndexRetry(ctx, m.ID)
		if berr != nil {
			r.logger.Error("index retry bump failed", zap.String("id", m.ID), zap.Error(berr))
			continue
		}
		if retries >= r.coord.config.MaxIndexRetries && m.IndexStatus != memory.IndexFailed {
			r.logger.Error("index retries exhausted, memory readable by id only",
				zap.String("id", m.ID),
				zap.Int("retries", retries),
				zap.Error(err),
			)
			if r.metrics != nil {
				r.metrics.RecordIndexFailure()
			}
			if serr := r.coord.Store().SetIndexStatus(ctx, m.ID, memory.IndexFailed); serr != nil {
				r.logger.Error("index status update failed", zap.String("id", m.ID), zap.Error(serr))
			}
		}
	}
}

// sweepConflicts re-runs classification for memories stored fail-open.
func (r *Reconciler) sweepConflicts(ctx context.Context) {
	if r.conflictFn == nil {
		return
	}

	pending, err := r.coord.Store().PendingConflicts(ctx, r.config.BatchSize)
	if err != nil {
		r.logger.Error("pending conflict scan failed", zap.Error(err))
		return
	}

	for _, m := range pending {
		if ctx.Err() != nil {
			return
		}
		if err := r.conflictFn(ctx, m); err != nil {
			r.logger.Warn("deferred conflict classification failed, will retry",
				zap.String("id", m.ID),
				zap.Error(err),
			)
			continue
		}
		if err := r.coord.Store().ClearConflictPending(ctx, m.ID); err != nil {
			r.logger.Error("conflict pending clear failed", zap.String("id", m.ID), zap.Error(err))
			continue
		}
		if r.metrics != nil {
			r.metrics.RecordRepair("conflict")
		}
	}
}

// sweepDuplicates consolidates concurrent inserts the unique index did not
// catch (pre-migration data, constraint-stripped imports). The earliest row
// wins; later copies are superseded by it.
func (r *Reconciler) sweepDuplicates(ctx context.Context) {
	groups, err := r.coord.Store().ActiveDuplicateGroups(ctx, r.config.BatchSize)
	if err != nil {
		r.logger.Error("duplicate group scan failed", zap.Error(err))
		return
	}

	for _, g := range groups {
		if ctx.Err() != nil {
			return
		}

		rows, err := r.coord.Store().ActiveByHash(ctx, g.UserID, g.ContentHash)
		if err != nil {
			r.logger.Error("duplicate group load failed", zap.Error(err))
			continue
		}
		if len(rows) < 2 {
			continue
		}

		winner := rows[0]
		for _, loser := range rows[1:] {
			if err := r.coord.Supersede(ctx, g.UserID, loser.ID, winner.ID); err != nil {
				r.logger.Error("duplicate consolidation failed",
					zap.String("id", loser.ID),
					zap.Error(err),
				)
				continue
			}
			if r.metrics != nil {
				r.metrics.RecordRepair("consolidation")
			}
		}
	}
}
