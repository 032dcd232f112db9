package conflict

import (
	"strings"

	"github.com/BaSui01/memflow/memory"
)

// Category names a kind of user attribute that can contradict itself over
// time.
type Category string

const (
	CategoryLocation     Category = "location"
	CategoryJob          Category = "job"
	CategoryRelationship Category = "relationship"
	CategoryAge          Category = "age"
	CategoryPreference   Category = "preference"
)

// categoryPatterns are cheap lexical triggers. They only nominate
// candidates for classification; the model makes the actual conflict call.
var categoryPatterns = map[Category][]string{
	CategoryLocation:     {"live in", "lives in", "based in", "located in", "moved to"},
	CategoryJob:          {"work at", "works at", "working at", "employed by", "employed at", "job at", "position at"},
	CategoryRelationship: {"married to", "dating", "engaged to", "partner", "single"},
	CategoryAge:          {"years old", "age is", "age:"},
	CategoryPreference:   {"like", "love", "hate", "dislike", "prefer"},
}

func hasPattern(text string, patterns []string) bool {
	for _, p := range patterns {
		if strings.Contains(text, p) {
			return true
		}
	}
	return false
}

// DetectCategories returns the categories the content could conflict in.
// Preference is special-cased: any preference-typed memory participates, not
// just ones wording a pattern.
func DetectCategories(content string, t memory.Type) []Category {
	lower := strings.ToLower(content)

	var cats []Category
	for _, c := range []Category{CategoryLocation, CategoryJob, CategoryRelationship, CategoryAge} {
		if hasPattern(lower, categoryPatterns[c]) {
			cats = append(cats, c)
		}
	}
	if t == memory.TypePreference || hasPattern(lower, categoryPatterns[CategoryPreference]) {
		cats = append(cats, CategoryPreference)
	}
	return cats
}

// GatherExisting buckets the given memories into the categories they could
// conflict in. Only active memories should be passed; superseded rows never
// participate in conflict resolution.
func GatherExisting(memories []*memory.Memory, cats []Category) map[Category][]*memory.Memory {
	out := make(map[Category][]*memory.Memory, len(cats))
	for _, m := range memories {
		if !m.Active() {
			continue
		}
		lower := strings.ToLower(m.Content)
		for _, c := range cats {
			if c == CategoryPreference {
				if m.Type == memory.TypePreference || hasPattern(lower, categoryPatterns[c]) {
					out[c] = append(out[c], m)
				}
				continue
			}
			if hasPattern(lower, categoryPatterns[c]) {
				out[c] = append(out[c], m)
			}
		}
	}
	return out
}
