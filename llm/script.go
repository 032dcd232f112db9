package llm

import (
	"context"
	"sync"
)

// Script is a deterministic Client for tests. It serves queued responses
// in order; once the queue drains it keeps replaying the most recently
// served one. Queue an error to simulate an outage.
type Script struct {
	mu    sync.Mutex
	queue []scriptStep
	last  *scriptStep
	calls []ScriptCall
}

type scriptStep struct {
	body []byte
	err  error
}

// ScriptCall records one CompleteJSON invocation for assertions.
type ScriptCall struct {
	System string
	User   string
}

// NewScript builds an empty script. With no queued responses every call
// fails with ErrUnavailable.
func NewScript() *Script { return &Script{} }

// Respond queues a successful JSON response.
func (s *Script) Respond(body string) *Script {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.queue = append(s.queue, scriptStep{body: []byte(body)})
	return s
}

// Fail queues an error response.
func (s *Script) Fail(err error) *Script {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.queue = append(s.queue, scriptStep{err: err})
	return s
}

// CompleteJSON implements Client.
func (s *Script) CompleteJSON(ctx context.Context, system, user string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.calls = append(s.calls, ScriptCall{System: system, User: user})

	var step scriptStep
	switch {
	case len(s.queue) > 0:
		step = s.queue[0]
		s.queue = s.queue[1:]
		s.last = &step
	case s.last != nil:
		step = *s.last
	default:
		return nil, ErrUnavailable
	}

	if step.err != nil {
		return nil, step.err
	}
	return step.body, nil
}

// Calls returns a copy of the recorded invocations.
func (s *Script) Calls() []ScriptCall {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]ScriptCall, len(s.calls))
	copy(out, s.calls)
	return out
}

// CallCount returns how many times CompleteJSON ran.
func (s *Script) CallCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.calls)
}
