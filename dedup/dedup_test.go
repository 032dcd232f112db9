package dedup

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/BaSui01/memflow/memory"
	"github.com/BaSui01/memflow/store"
)

func newTestFilter(t *testing.T) (*Filter, *store.DurableStore) {
	t.Helper()
	s, err := store.Open(store.DefaultConfig(), zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return New(s, DefaultConfig(), nil, zap.NewNop()), s
}

func seedMemory(t *testing.T, s *store.DurableStore, userID, content string, emb []float32) *memory.Memory {
	t.Helper()
	now := time.Now().UTC()
	m := &memory.Memory{
		ID:              uuid.NewString(),
		UserID:          userID,
		Type:            memory.TypeFact,
		Content:         content,
		Embedding:       emb,
		Confidence:      0.9,
		ImportanceLevel: memory.ImportanceMedium,
		ImportanceScore: 0.6,
		ContentHash:     memory.ContentHash(content),
		CreatedAt:       now,
		LastAccessed:    now,
		IndexStatus:     memory.IndexIndexed,
	}
	require.NoError(t, s.CreateMemory(context.Background(), m))
	return m
}

func TestFilter_DetectsNearDuplicate(t *testing.T) {
	f, s := newTestFilter(t)
	ctx := context.Background()

	existing := seedMemory(t, s, "u1", "works at Acme Corp", []float32{1, 0, 0})

	cand := &memory.Candidate{Type: memory.TypeFact, Content: "is employed at Acme Corp", Confidence: 0.9}
	match, err := f.Check(ctx, "u1", cand, []float32{0.999, 0.01, 0})
	require.NoError(t, err)
	require.NotNil(t, match)
	assert.Equal(t, existing.ID, match.Memory.ID)
	assert.GreaterOrEqual(t, match.Similarity, 0.95)

	// The matched memory's access stats were bumped.
	got, err := s.GetMemory(ctx, existing.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), got.AccessCount)
}

func TestFilter_DistinctContentPasses(t *testing.T) {
	f, s := newTestFilter(t)
	ctx := context.Background()

	seedMemory(t, s, "u1", "works at Acme Corp", []float32{1, 0, 0})

	cand := &memory.Candidate{Type: memory.TypeFact, Content: "has two cats", Confidence: 0.9}
	match, err := f.Check(ctx, "u1", cand, []float32{0, 1, 0})
	require.NoError(t, err)
	assert.Nil(t, match)
}

func TestFilter_EmptyStoreNeverDuplicate(t *testing.T) {
	f, _ := newTestFilter(t)

	cand := &memory.Candidate{Type: memory.TypeFact, Content: "anything", Confidence: 0.9}
	match, err := f.Check(context.Background(), "u1", cand, []float32{1, 0, 0})
	require.NoError(t, err)
	assert.Nil(t, match)
}

func TestFilter_OtherUsersMemoriesIgnored(t *testing.T) {
	f, s := newTestFilter(t)
	ctx := context.Background()

	seedMemory(t, s, "bob", "works at Acme Corp", []float32{1, 0, 0})

	cand := &memory.Candidate{Type: memory.TypeFact, Content: "works at Acme Corp", Confidence: 0.9}
	match, err := f.Check(ctx, "alice", cand, []float32{1, 0, 0})
	require.NoError(t, err)
	assert.Nil(t, match)
}

func TestFilter_SupersededMemoriesIgnored(t *testing.T) {
	f, s := newTestFilter(t)
	ctx := context.Background()

	old := seedMemory(t, s, "u1", "works at Acme Corp", []float32{1, 0, 0})
	require.NoError(t, s.Supersede(ctx, old.ID, "newer-id"))

	cand := &memory.Candidate{Type: memory.TypeFact, Content: "works at Acme Corp", Confidence: 0.9}
	match, err := f.Check(ctx, "u1", cand, []float32{1, 0, 0})
	require.NoError(t, err)
	assert.Nil(t, match)
}

func TestFilter_SameTypeOnly(t *testing.T) {
	_, s := newTestFilter(t)
	ctx := context.Background()

	cfg := DefaultConfig()
	cfg.SameTypeOnly = true
	f := New(s, cfg, nil, zap.NewNop())

	seedMemory(t, s, "u1", "likes sushi", []float32{1, 0, 0})

	// Identical vector but different type: passes when restricted.
	cand := &memory.Candidate{Type: memory.TypePreference, Content: "likes sushi", Confidence: 0.9}
	match, err := f.Check(ctx, "u1", cand, []float32{1, 0, 0})
	require.NoError(t, err)
	assert.Nil(t, match)
}

func TestFilter_TieBreaksOnAccessCount(t *testing.T) {
	f, s := newTestFilter(t)
	ctx := context.Background()

	// hot is older but frequently used; cold is newer and iterates first.
	now := time.Now().UTC()
	hot := &memory.Memory{
		ID: uuid.NewString(), UserID: "u1", Type: memory.TypeFact,
		Content: "has espresso every day", Embedding: []float32{1, 0, 0},
		Confidence: 0.9, ImportanceLevel: memory.ImportanceMedium, ImportanceScore: 0.6,
		ContentHash: memory.ContentHash("has espresso every day"),
		CreatedAt:   now.Add(-time.Hour), LastAccessed: now, AccessCount: 5,
		IndexStatus: memory.IndexIndexed,
	}
	require.NoError(t, s.CreateMemory(ctx, hot))
	cold := seedMemory(t, s, "u1", "drinks espresso daily", []float32{1, 0, 0})

	cand := &memory.Candidate{Type: memory.TypeFact, Content: "espresso every morning", Confidence: 0.9}
	match, err := f.Check(ctx, "u1", cand, []float32{1, 0, 0})
	require.NoError(t, err)
	require.NotNil(t, match)
	assert.Equal(t, hot.ID, match.Memory.ID)
	assert.NotEqual(t, cold.ID, match.Memory.ID)
}

func TestFilter_ThresholdBoundary(t *testing.T) {
	_, s := newTestFilter(t)
	ctx := context.Background()

	cfg := DefaultConfig()
	cfg.Threshold = 1.0
	f := New(s, cfg, nil, zap.NewNop())

	seedMemory(t, s, "u1", "plays violin", []float32{1, 0, 0})

	// Exactly at threshold counts as duplicate.
	cand := &memory.Candidate{Type: memory.TypeFact, Content: "plays the violin", Confidence: 0.9}
	match, err := f.Check(ctx, "u1", cand, []float32{1, 0, 0})
	require.NoError(t, err)
	assert.NotNil(t, match)
}
