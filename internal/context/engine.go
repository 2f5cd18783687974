// Package context assembles the message list sent to the model: the system
// prompt, as much recent history as the token budget allows, and the new user
// message.
package context

import (
	"fmt"

	"github.com/pkoukk/tiktoken-go"

	"github.com/user/assistant/pkg/llm"
)

// Engine assembles token-budgeted prompts for the LLM.
type Engine struct {
	tokenizer *tiktoken.Tiktoken
	maxTokens int
	reserve   int
}

// New creates a context engine with the specified token budget.
// model is used to select the appropriate tokenizer (e.g. "gpt-4").
// maxTokens is the model's context window size.
// reserve is the number of tokens to reserve for the model's response.
func New(model string, maxTokens, reserve int) (*Engine, error) {
	enc, err := tiktoken.EncodingForModel(model)
	if err != nil {
		// Fallback to cl100k_base for unknown models
		enc, err = tiktoken.GetEncoding("cl100k_base")
		if err != nil {
			return nil, fmt.Errorf("get tokenizer: %w", err)
		}
	}
	return &Engine{
		tokenizer: enc,
		maxTokens: maxTokens,
		reserve:   reserve,
	}, nil
}

// countTokens returns the token count for a string.
func (e *Engine) countTokens(text string) int {
	return len(e.tokenizer.Encode(text, nil, nil))
}

func (e *Engine) messageTokens(m llm.Message) int {
	n := e.countTokens(m.Content) + 4
	for _, tc := range m.Tools {
		n += e.countTokens(tc.Function.Name)
		n += e.countTokens(tc.Function.Arguments)
	}
	return n
}

// BuildPrompt returns system, then the newest part of history that fits the
// budget, then user. System and user are always included; older history is
// dropped first. System messages inside history are skipped.
func (e *Engine) BuildPrompt(system string, history []llm.Message, user llm.Message) []llm.Message {
	sys := llm.Message{Role: llm.RoleSystem, Content: system}
	budget := e.maxTokens - e.reserve - e.messageTokens(sys) - e.messageTokens(user)

	kept := 0
	start := len(history)
	for i := len(history) - 1; i >= 0; i-- {
		m := history[i]
		if m.Role == llm.RoleSystem {
			continue
		}
		n := e.messageTokens(m)
		if kept+n > budget {
			break
		}
		kept += n
		start = i
	}

	messages := make([]llm.Message, 0, len(history)-start+2)
	messages = append(messages, sys)
	for _, m := range history[start:] {
		if m.Role != llm.RoleSystem {
			messages = append(messages, m)
		}
	}
	return append(messages, user)
}
