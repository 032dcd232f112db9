package retrieval

import (
	"sync"

	"github.com/pkoukk/tiktoken-go"
)

// tokenCounter estimates prompt-token cost of memory content. Tiktoken can
// download encoding data on first use, so init is lazy; if it fails the
// counter degrades to a bytes/4 heuristic instead of failing retrieval.
type tokenCounter struct {
	encoding string
	once     sync.Once
	enc      *tiktoken.Tiktoken
}

func newTokenCounter(encoding string) *tokenCounter {
	if encoding == "" {
		encoding = "cl100k_base"
	}
	return &tokenCounter{encoding: encoding}
}

func (t *tokenCounter) Count(text string) int {
	t.once.Do(func() {
		enc, err := tiktoken.GetEncoding(t.encoding)
		if err == nil {
			t.enc = enc
		}
	})
	if t.enc != nil {
		return len(t.enc.Encode(text, nil, nil))
	}
	return len(text)/4 + 1
}
