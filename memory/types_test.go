package memory

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseType(t *testing.T) {
	t.Parallel()

	got, err := ParseType("FACT")
	require.NoError(t, err)
	assert.Equal(t, TypeFact, got)

	got, err = ParseType("  preference ")
	require.NoError(t, err)
	assert.Equal(t, TypePreference, got)

	_, err = ParseType("opinion")
	require.Error(t, err)
}

func TestParseImportanceLevel(t *testing.T) {
	t.Parallel()

	got, err := ParseImportanceLevel("CRITICAL")
	require.NoError(t, err)
	assert.Equal(t, ImportanceCritical, got)

	_, err = ParseImportanceLevel("urgent")
	require.Error(t, err)
}

func TestCandidate_Validate(t *testing.T) {
	t.Parallel()

	valid := Candidate{
		Type:       TypeFact,
		Content:    "Lives in Berlin",
		Confidence: 0.9,
	}
	require.NoError(t, valid.Validate())

	cases := []struct {
		name string
		mut  func(*Candidate)
	}{
		{"bad type", func(c *Candidate) { c.Type = "gossip" }},
		{"empty content", func(c *Candidate) { c.Content = "   " }},
		{"confidence too high", func(c *Candidate) { c.Confidence = 1.2 }},
		{"confidence negative", func(c *Candidate) { c.Confidence = -0.1 }},
		{"bad importance", func(c *Candidate) { c.ImportanceLevel = "extreme" }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			c := valid
			tc.mut(&c)
			assert.Error(t, c.Validate())
		})
	}
}

func TestContentHash_Normalization(t *testing.T) {
	t.Parallel()

	a := ContentHash("My name is Alice.")
	b := ContentHash("my  name is alice")
	assert.Equal(t, a, b)

	c := ContentHash("My name is Bob.")
	assert.NotEqual(t, a, c)
}

func TestDeriveImportance(t *testing.T) {
	t.Parallel()

	level, score := DeriveImportance(TypeFact, "My name is Alice", 1.0)
	assert.Equal(t, ImportanceCritical, level)
	assert.Equal(t, 1.0, score)

	level, score = DeriveImportance(TypeCommitment, "Send the report on Friday", 0.8)
	assert.Equal(t, ImportanceHigh, level)
	assert.InDelta(t, 0.9*0.8, score, 1e-9)

	level, _ = DeriveImportance(TypeEpisodic, "Talked about the weather", 0.7)
	assert.Equal(t, ImportanceLow, level)

	// Keyword escalation beats the type default.
	level, _ = DeriveImportance(TypeEpisodic, "Remember the deadline next week", 0.7)
	assert.Equal(t, ImportanceHigh, level)
}

func TestCosineSimilarity(t *testing.T) {
	t.Parallel()

	assert.InDelta(t, 1.0, CosineSimilarity([]float32{1, 0}, []float32{2, 0}), 1e-9)
	assert.InDelta(t, 0.0, CosineSimilarity([]float32{1, 0}, []float32{0, 1}), 1e-9)
	assert.Equal(t, 0.0, CosineSimilarity([]float32{1, 0}, []float32{1}))
	assert.Equal(t, 0.0, CosineSimilarity(nil, nil))
	assert.Equal(t, 0.0, CosineSimilarity([]float32{0, 0}, []float32{1, 1}))
}
