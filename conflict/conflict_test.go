package conflict

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/BaSui01/memflow/llm"
	"github.com/BaSui01/memflow/memory"
)

func mem(id, content string, t memory.Type) *memory.Memory {
	return &memory.Memory{ID: id, UserID: "u1", Type: t, Content: content}
}

func TestDetectCategories(t *testing.T) {
	tests := []struct {
		name    string
		content string
		memType memory.Type
		want    []Category
	}{
		{"job", "Works at Acme Corp now", memory.TypeFact, []Category{CategoryJob}},
		{"location", "Moved to Berlin last month", memory.TypeFact, []Category{CategoryLocation}},
		{"relationship", "Is engaged to Sam", memory.TypeEntity, []Category{CategoryRelationship}},
		{"age", "Is 31 years old", memory.TypeFact, []Category{CategoryAge}},
		{"preference by wording", "Really loves spicy food", memory.TypeFact, []Category{CategoryPreference}},
		{"preference by type", "morning meetings over afternoon", memory.TypePreference, []Category{CategoryPreference}},
		{"multiple", "Lives in Oslo and works at Acme", memory.TypeFact, []Category{CategoryLocation, CategoryJob}},
		{"none", "Has a dog named Rex", memory.TypeFact, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, DetectCategories(tt.content, tt.memType))
		})
	}
}

func TestGatherExisting(t *testing.T) {
	memories := []*memory.Memory{
		mem("m1", "works at OldCo", memory.TypeFact),
		mem("m2", "lives in Tokyo", memory.TypeFact),
		mem("m3", "prefers tea", memory.TypePreference),
		mem("m4", "has a cat", memory.TypeFact),
	}
	superseded := mem("m5", "works at OlderCo", memory.TypeFact)
	superseded.SupersededBy = "m1"
	memories = append(memories, superseded)

	got := GatherExisting(memories, []Category{CategoryJob, CategoryPreference})
	require.Len(t, got[CategoryJob], 1)
	assert.Equal(t, "m1", got[CategoryJob][0].ID)
	require.Len(t, got[CategoryPreference], 1)
	assert.Equal(t, "m3", got[CategoryPreference][0].ID)
	assert.NotContains(t, got, CategoryLocation)
}

func TestResolver_NoExistingSkipsModel(t *testing.T) {
	script := llm.NewScript()
	r := New(script, nil, zap.NewNop())

	d, err := r.Resolve(context.Background(), "works at Acme", nil)
	require.NoError(t, err)
	assert.Empty(t, d.SupersededIDs)
	assert.False(t, d.Deferred)
	assert.Equal(t, 0, script.CallCount())
}

func TestResolver_SingleBatchedCall(t *testing.T) {
	script := llm.NewScript().Respond(`{"results": [
		{"category": "job", "conflict": true, "superseded_id": "m1"},
		{"category": "location", "conflict": false, "superseded_id": ""}
	]}`)
	r := New(script, nil, zap.NewNop())

	existing := map[Category][]*memory.Memory{
		CategoryJob:      {mem("m1", "works at OldCo", memory.TypeFact)},
		CategoryLocation: {mem("m2", "lives in Tokyo", memory.TypeFact)},
	}

	d, err := r.Resolve(context.Background(), "works at NewCo and lives in Tokyo", existing)
	require.NoError(t, err)
	assert.Equal(t, []string{"m1"}, d.SupersededIDs)
	assert.False(t, d.Deferred)

	// Both categories share one classification call.
	require.Equal(t, 1, script.CallCount())
	prompt := script.Calls()[0].User
	assert.Contains(t, prompt, "id=m1")
	assert.Contains(t, prompt, "id=m2")
	assert.Contains(t, prompt, "job")
	assert.Contains(t, prompt, "location")
}

func TestResolver_UnknownIDIgnored(t *testing.T) {
	script := llm.NewScript().Respond(`{"results": [
		{"category": "job", "conflict": true, "superseded_id": "made-up"}
	]}`)
	r := New(script, nil, zap.NewNop())

	existing := map[Category][]*memory.Memory{
		CategoryJob: {mem("m1", "works at OldCo", memory.TypeFact)},
	}

	d, err := r.Resolve(context.Background(), "works at NewCo", existing)
	require.NoError(t, err)
	assert.Empty(t, d.SupersededIDs)
}

func TestResolver_MislabeledCategoryStillAccepted(t *testing.T) {
	script := llm.NewScript().Respond(`{"results": [
		{"category": "location", "conflict": true, "superseded_id": "m1"}
	]}`)
	r := New(script, nil, zap.NewNop())

	existing := map[Category][]*memory.Memory{
		CategoryJob: {mem("m1", "works at OldCo", memory.TypeFact)},
	}

	d, err := r.Resolve(context.Background(), "works at NewCo", existing)
	require.NoError(t, err)
	assert.Equal(t, []string{"m1"}, d.SupersededIDs)
}

func TestResolver_FailureIsDeferredNotError(t *testing.T) {
	script := llm.NewScript()
	r := New(script, nil, zap.NewNop())

	existing := map[Category][]*memory.Memory{
		CategoryJob: {mem("m1", "works at OldCo", memory.TypeFact)},
	}

	d, err := r.Resolve(context.Background(), "works at NewCo", existing)
	require.NoError(t, err)
	assert.True(t, d.Deferred)
	assert.Empty(t, d.SupersededIDs)
}

func TestResolver_MalformedResponseDeferred(t *testing.T) {
	script := llm.NewScript().Respond(`conflict: probably`)
	r := New(script, nil, zap.NewNop())

	existing := map[Category][]*memory.Memory{
		CategoryJob: {mem("m1", "works at OldCo", memory.TypeFact)},
	}

	d, err := r.Resolve(context.Background(), "works at NewCo", existing)
	require.NoError(t, err)
	assert.True(t, d.Deferred)
}

func TestResolver_DuplicateIDsDeduplicated(t *testing.T) {
	script := llm.NewScript().Respond(`{"results": [
		{"category": "job", "conflict": true, "superseded_id": "m1"},
		{"category": "location", "conflict": true, "superseded_id": "m1"}
	]}`)
	r := New(script, nil, zap.NewNop())

	existing := map[Category][]*memory.Memory{
		CategoryJob:      {mem("m1", "works remotely from Lisbon at OldCo", memory.TypeFact)},
		CategoryLocation: {mem("m1", "works remotely from Lisbon at OldCo", memory.TypeFact)},
	}

	d, err := r.Resolve(context.Background(), "moved to Porto, works at NewCo", existing)
	require.NoError(t, err)
	assert.Equal(t, []string{"m1"}, d.SupersededIDs)
}
