package memory

import "strings"

// Base importance scores by memory type.
var typeImportance = map[Type]float64{
	TypeEntity:     0.8,
	TypeFact:       0.7,
	TypePreference: 0.75,
	TypeCommitment: 0.9,
	TypeEpisodic:   0.6,
}

// Phrases that mark identity, relationships, and goals. Memories containing
// them never decay out of the user's profile.
var criticalPhrases = []string{
	"my name", "i am", "i'm called", "call me",
	"my wife", "my husband", "my partner", "my fiance",
	"my goal", "i want to", "i plan to",
}

var highImportancePhrases = []string{
	"always", "never", "important", "remember",
	"deadline", "appointment", "meeting", "promise",
}

// levelScore maps an importance level to its derived score.
var levelScore = map[ImportanceLevel]float64{
	ImportanceCritical: 1.0,
	ImportanceHigh:     0.85,
	ImportanceMedium:   0.6,
	ImportanceLow:      0.35,
}

// Score returns the numeric importance derived from the level.
func (l ImportanceLevel) Score() float64 {
	if s, ok := levelScore[l]; ok {
		return s
	}
	return levelScore[ImportanceMedium]
}

// DeriveImportance assigns an importance level and score to a candidate.
// The level follows type-based defaults with keyword escalation; the score
// starts from the per-type base, scaled by extraction confidence and clamped
// to [0,1].
func DeriveImportance(t Type, content string, confidence float64) (ImportanceLevel, float64) {
	base, ok := typeImportance[t]
	if !ok {
		base = 0.5
	}

	lower := strings.ToLower(content)

	var level ImportanceLevel
	var weight float64
	switch {
	case containsAny(lower, criticalPhrases):
		level = ImportanceCritical
		weight = 1.0
	case containsAny(lower, highImportancePhrases):
		level = ImportanceHigh
		weight = min(base*1.3, 1.0)
	case t == TypeCommitment:
		level = ImportanceHigh
		weight = base
	case t == TypePreference || t == TypeEntity:
		level = ImportanceMedium
		weight = base
	default:
		level = ImportanceLow
		weight = base * 0.8
	}

	weight *= clamp01(confidence)
	return level, clamp01(weight)
}

func containsAny(s string, phrases []string) bool {
	for _, p := range phrases {
		if strings.Contains(s, p) {
			return true
		}
	}
	return false
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
