package llm

import (
	"context"
	"errors"
)

// ErrUnavailable reports that the model could not be reached or kept
// failing after retries. Callers degrade rather than propagate: extraction
// skips the turn, conflict detection stores fail-open.
var ErrUnavailable = errors.New("llm unavailable")

// Client issues one structured completion. Implementations must return a
// valid JSON document on success; callers own schema validation.
type Client interface {
	// CompleteJSON sends a system and user prompt and returns the raw JSON
	// response body of the completion.
	CompleteJSON(ctx context.Context, system, user string) ([]byte, error)
}
