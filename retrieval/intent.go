package retrieval

import "strings"

// Intent classifies what a query wants from memory.
type Intent string

const (
	// IntentGreeting opens a conversation; the user's profile is the right
	// context, not a similarity search.
	IntentGreeting Intent = "greeting"

	// IntentBroad is a short generic query ("tell me everything") where
	// injecting memories adds noise; no context is returned.
	IntentBroad Intent = "broad"

	// IntentSpecific is the default: hybrid similarity retrieval.
	IntentSpecific Intent = "specific"
)

// Hint lets the caller override classification when the orchestrator
// already knows the query kind.
type Hint string

const (
	HintAuto     Hint = ""
	HintGreeting Hint = "greeting"
	HintBroad    Hint = "broad"
	HintSpecific Hint = "specific"
)

var greetingPhrases = []string{
	"hi", "hello", "hey", "greetings", "good morning", "good afternoon",
	"good evening", "what's up", "howdy", "sup",
}

var broadPhrases = []string{
	"about me", "about myself", "do you know about me", "what do you know",
	"tell me everything", "remember about me", "my details", "each and every",
	"all details", "everything about", "know about", "comprehensive",
	"full details", "complete information",
}

const greetingMaxWords = 5

// nearFirstTurn bounds how deep into a conversation a bare "hi" still reads
// as an opener rather than a topic shift.
const nearFirstTurn = 2

// ClassifyIntent decides how a query should be served. An explicit hint
// wins; otherwise classification is lexical and cheap.
func ClassifyIntent(query string, turnNumber int, hint Hint) Intent {
	switch hint {
	case HintGreeting:
		return IntentGreeting
	case HintBroad:
		return IntentBroad
	case HintSpecific:
		return IntentSpecific
	}

	lower := strings.ToLower(strings.TrimSpace(query))

	if isGreeting(lower, turnNumber) {
		return IntentGreeting
	}
	for _, p := range broadPhrases {
		if strings.Contains(lower, p) {
			return IntentBroad
		}
	}
	return IntentSpecific
}

func isGreeting(lower string, turnNumber int) bool {
	if turnNumber > nearFirstTurn {
		return false
	}
	words := strings.Fields(strings.Map(stripPunct, lower))
	if len(words) == 0 || len(words) > greetingMaxWords {
		return false
	}
	joined := " " + strings.Join(words, " ") + " "
	for _, p := range greetingPhrases {
		if strings.Contains(joined, " "+p+" ") {
			return true
		}
	}
	return false
}

func stripPunct(r rune) rune {
	switch r {
	case '!', '?', '.', ',':
		return ' '
	}
	return r
}
