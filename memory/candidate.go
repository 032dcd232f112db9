package memory

import (
	"fmt"
	"strings"
)

// Candidate is a single proposed memory parsed from the extraction LLM's
// structured output. It is the typed form of the loosely shaped records the
// collaborator returns; validation happens here, at the extraction boundary,
// so nothing untyped travels further into the engine.
type Candidate struct {
	Type            Type            `json:"type"`
	Content         string          `json:"content"`
	Confidence      float64         `json:"confidence"`
	ImportanceLevel ImportanceLevel `json:"importance_level,omitempty"`
	Tags            []string        `json:"tags,omitempty"`
	Entities        []string        `json:"entities,omitempty"`
}

// MaxContentLength bounds candidate content; anything longer is malformed
// extraction output, not a real memory.
const MaxContentLength = 5000

// Validate checks enum membership, numeric ranges, and non-empty content.
// A candidate that fails validation is dropped by the pipeline, not retried.
func (c *Candidate) Validate() error {
	if _, err := ParseType(string(c.Type)); err != nil {
		return err
	}
	if strings.TrimSpace(c.Content) == "" {
		return fmt.Errorf("empty content")
	}
	if len(c.Content) > MaxContentLength {
		return fmt.Errorf("content exceeds %d characters", MaxContentLength)
	}
	if c.Confidence < 0 || c.Confidence > 1 {
		return fmt.Errorf("confidence %.3f outside [0,1]", c.Confidence)
	}
	if c.ImportanceLevel != "" {
		if _, err := ParseImportanceLevel(string(c.ImportanceLevel)); err != nil {
			return err
		}
	}
	return nil
}
