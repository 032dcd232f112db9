package store

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/BaSui01/memflow/cache"
	"github.com/BaSui01/memflow/index"
	"github.com/BaSui01/memflow/internal/retry"
	"github.com/BaSui01/memflow/memory"
)

// flakyIndex fails the first failures upserts, then delegates to a real
// in-memory index.
type flakyIndex struct {
	index.Index
	failures int32
}

func (f *flakyIndex) Upsert(ctx context.Context, id string, vector []float32, meta index.Meta) error {
	if atomic.AddInt32(&f.failures, -1) >= 0 {
		return errors.New("index unreachable")
	}
	return f.Index.Upsert(ctx, id, vector, meta)
}

func testCoordinatorConfig() CoordinatorConfig {
	return CoordinatorConfig{
		IndexRetry:      retry.Policy{MaxRetries: 1, InitialDelay: time.Millisecond, MaxDelay: time.Millisecond, Multiplier: 1.0},
		MaxIndexRetries: 3,
		ProfileTTL:      time.Minute,
	}
}

func newTestCoordinator(t *testing.T, idx index.Index, cacheMgr *cache.Manager) *Coordinator {
	t.Helper()
	s := newTestStore(t)
	if idx == nil {
		idx = index.NewInMemory()
	}
	return NewCoordinator(s, idx, cacheMgr, testCoordinatorConfig(), nil, zap.NewNop())
}

func TestCoordinator_WriteMemory_DurableFirstThenIndexed(t *testing.T) {
	ctx := context.Background()
	idx := index.NewInMemory()
	coord := newTestCoordinator(t, idx, nil)

	m := newTestMemory("u1", "User plays tennis on Sundays")
	created, err := coord.WriteMemory(ctx, m)
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, memory.IndexIndexed, m.IndexStatus)

	got, err := coord.GetMemory(ctx, m.ID)
	require.NoError(t, err)
	assert.Equal(t, memory.IndexIndexed, got.IndexStatus)

	hits, err := idx.Query(ctx, m.Embedding, "u1", 5)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, m.ID, hits[0].ID)
}

func TestCoordinator_WriteMemory_DuplicateIsSuccess(t *testing.T) {
	ctx := context.Background()
	coord := newTestCoordinator(t, nil, nil)

	a := newTestMemory("u1", "User is vegetarian")
	b := newTestMemory("u1", "User is vegetarian")

	created, err := coord.WriteMemory(ctx, a)
	require.NoError(t, err)
	assert.True(t, created)

	created, err = coord.WriteMemory(ctx, b)
	require.NoError(t, err)
	assert.False(t, created)

	recent, err := coord.Store().RecentMemories(ctx, "u1", 10)
	require.NoError(t, err)
	assert.Len(t, recent, 1)
}

func TestCoordinator_WriteMemory_IndexDownStillDurable(t *testing.T) {
	ctx := context.Background()
	idx := &flakyIndex{Index: index.NewInMemory(), failures: 100}
	coord := newTestCoordinator(t, idx, nil)

	m := newTestMemory("u1", "Daughter's birthday is in June")
	created, err := coord.WriteMemory(ctx, m)
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, memory.IndexPending, m.IndexStatus)

	// Readable by exact id despite never reaching the index.
	got, err := coord.GetMemory(ctx, m.ID)
	require.NoError(t, err)
	assert.Equal(t, memory.IndexPending, got.IndexStatus)
}

func TestCoordinator_WriteMemory_InlineRetryRecovers(t *testing.T) {
	ctx := context.Background()
	idx := &flakyIndex{Index: index.NewInMemory(), failures: 1}
	coord := newTestCoordinator(t, idx, nil)

	m := newTestMemory("u1", "Prefers aisle seats")
	_, err := coord.WriteMemory(ctx, m)
	require.NoError(t, err)
	assert.Equal(t, memory.IndexIndexed, m.IndexStatus)
}

func TestCoordinator_Supersede_RemovesFromIndex(t *testing.T) {
	ctx := context.Background()
	idx := index.NewInMemory()
	coord := newTestCoordinator(t, idx, nil)

	old := newTestMemory("u1", "Works at OldCo")
	repl := newTestMemory("u1", "Works at NewCo")
	repl.Embedding = []float32{0.3, 0.2, 0.1}
	_, err := coord.WriteMemory(ctx, old)
	require.NoError(t, err)
	_, err = coord.WriteMemory(ctx, repl)
	require.NoError(t, err)

	require.NoError(t, coord.Supersede(ctx, "u1", old.ID, repl.ID))

	hits, err := idx.Query(ctx, old.Embedding, "u1", 10)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, repl.ID, hits[0].ID)

	got, err := coord.GetMemory(ctx, old.ID)
	require.NoError(t, err)
	assert.Equal(t, repl.ID, got.SupersededBy)
}

func TestCoordinator_Profile_CacheRoundTrip(t *testing.T) {
	ctx := context.Background()

	mr := miniredis.RunT(t)
	cacheMgr, err := cache.NewManager(cache.Config{Addr: mr.Addr(), DefaultTTL: time.Minute}, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = cacheMgr.Close() })

	coord := newTestCoordinator(t, nil, cacheMgr)

	m := newTestMemory("u1", "My name is Dana")
	m.ImportanceLevel = memory.ImportanceCritical
	m.ImportanceScore = 1.0
	_, err = coord.WriteMemory(ctx, m)
	require.NoError(t, err)

	profile, err := coord.Profile(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, profile, 1)

	// Second read served from cache.
	assert.True(t, mr.Exists("profile:u1"))
	profile, err = coord.Profile(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, profile, 1)
	assert.Equal(t, m.ID, profile[0].ID)

	// A write invalidates the cached profile.
	m2 := newTestMemory("u1", "Always reply in French")
	m2.ImportanceLevel = memory.ImportanceHigh
	m2.ImportanceScore = 0.85
	_, err = coord.WriteMemory(ctx, m2)
	require.NoError(t, err)
	assert.False(t, mr.Exists("profile:u1"))

	profile, err = coord.Profile(ctx, "u1")
	require.NoError(t, err)
	assert.Len(t, profile, 2)
}

func TestCoordinator_PurgeUser(t *testing.T) {
	ctx := context.Background()
	idx := index.NewInMemory()
	coord := newTestCoordinator(t, idx, nil)

	m := newTestMemory("u1", "Everything about u1")
	_, err := coord.WriteMemory(ctx, m)
	require.NoError(t, err)

	require.NoError(t, coord.PurgeUser(ctx, "u1"))

	_, err = coord.GetMemory(ctx, m.ID)
	assert.ErrorIs(t, err, ErrNotFound)

	hits, err := idx.Query(ctx, m.Embedding, "u1", 10)
	require.NoError(t, err)
	assert.Empty(t, hits)
}
