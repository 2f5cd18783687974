package orchestrator

import (
	"sync"

	"github.com/user/assistant/pkg/llm"
)

// Turn is the conversation a generation runs against. It only grows.
type Turn struct {
	mu       sync.Mutex
	messages []llm.Message
}

// NewTurn creates a turn seeded with a copy of history.
func NewTurn(history []llm.Message) *Turn {
	t := &Turn{}
	t.messages = append(t.messages, history...)
	return t
}

// Append adds messages to the end of the turn.
func (t *Turn) Append(msgs ...llm.Message) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.messages = append(t.messages, msgs...)
}

// Messages returns a copy of the conversation so far.
func (t *Turn) Messages() []llm.Message {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]llm.Message, len(t.messages))
	copy(out, t.messages)
	return out
}

// Len returns the number of messages.
func (t *Turn) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.messages)
}
