package extraction

import (
	"fmt"
	"strings"

	"github.com/BaSui01/memflow/memory"
)

const systemPrompt = `You are a memory extraction system. Your task is to analyze conversation turns and identify information worth remembering long-term.

Extract memories in these categories:
- FACT: Factual information about the user (name, location, job, etc.)
- PREFERENCE: User likes, dislikes, preferences
- COMMITMENT: Promises, reminders, tasks, deadlines
- EPISODIC: Notable events from the conversation worth recalling later
- ENTITY: Important people, places, organizations in the user's life

Only extract information that would be useful to recall in future conversations. Be concise and specific.

Confidence calibration:
- 1.0: explicit, unambiguous statements ("My name is John")
- 0.9: clear but context-dependent ("I work at Google")
- 0.8: strong inference ("prefers vegetarian food" from "I don't eat meat")
- 0.7: reasonable guess with some ambiguity
- below 0.7: do not extract, too uncertain

Do not extract casual filler, questions without information, the assistant's own statements, or temporary context. Extract 0-3 memories per turn, not 10+.

Return ONLY valid JSON:
{
  "memories": [
    {
      "type": "fact",
      "content": "brief, specific description of what to remember",
      "confidence": 0.85,
      "tags": ["relevant", "tags"],
      "entities": ["mentioned", "entities"]
    }
  ]
}

If nothing is worth extracting, return {"memories": []}.`

// userPrompt renders the turn under analysis plus a short window of prior
// turns so pronouns and references resolve.
func userPrompt(turn *memory.ConversationTurn, history []*memory.ConversationTurn) string {
	var b strings.Builder

	if len(history) > 0 {
		b.WriteString("Recent conversation for context:\n")
		for _, h := range history {
			fmt.Fprintf(&b, "User: %s\nAssistant: %s\n", h.UserMessage, h.AssistantMessage)
		}
		b.WriteString("\n")
	}

	fmt.Fprintf(&b, "Analyze this conversation turn and extract important memories.\n\nTurn #%d:\nUser: %s\nAssistant: %s\n",
		turn.TurnNumber, turn.UserMessage, turn.AssistantMessage)

	return b.String()
}
