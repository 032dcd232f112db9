package conflict

import (
	"fmt"
	"sort"
	"strings"

	"github.com/BaSui01/memflow/memory"
)

const classifySystemPrompt = `You are a conflict detection system for a long-term memory store. Determine whether a new statement about a user contradicts earlier stored statements.

A conflict means the statements cannot both be true now. Updates count as conflicts:
- "Lives in Chennai" vs "Lives in Bangalore" = conflict
- "Works at Google" vs "Works at Microsoft" = conflict
- "28 years old" vs "30 years old" = conflict
- "Likes pizza" vs "Loves pizza" = NOT a conflict (same preference)
- "Works at Google" vs "Lives in Bangalore" = NOT a conflict (different topics)

Return ONLY valid JSON:
{
  "results": [
    {"category": "job", "conflict": true, "superseded_id": "<id of the contradicted statement, or empty>"}
  ]
}

Include exactly one result per category listed in the request. superseded_id must be one of the listed statement ids, or empty when conflict is false.`

// classifyUserPrompt renders the new statement against every category's
// existing statements for one batched classification call.
func classifyUserPrompt(newContent string, existing map[Category][]*memory.Memory) string {
	cats := make([]string, 0, len(existing))
	for c := range existing {
		cats = append(cats, string(c))
	}
	sort.Strings(cats)

	var b strings.Builder
	fmt.Fprintf(&b, "New statement about the user:\n%s\n\nCategories to evaluate: %s\n", newContent, strings.Join(cats, ", "))

	for _, c := range cats {
		fmt.Fprintf(&b, "\nExisting %s statements:\n", c)
		for _, m := range existing[Category(c)] {
			fmt.Fprintf(&b, "- id=%s: %s\n", m.ID, m.Content)
		}
	}

	b.WriteString("\nFor each category, decide whether the new statement conflicts with one of the existing statements.")
	return b.String()
}
