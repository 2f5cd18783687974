package llm

import (
	"context"
	"time"
)

// Provider defines the interface for interacting with LLM backends.
// Implementations handle protocol-specific details such as request formatting,
// authentication, and response parsing.
type Provider interface {
	// Complete sends a chat completion request and returns the full response.
	Complete(ctx context.Context, messages []Message, tools []Tool, opts ...CallOption) (*Response, error)
}

// Config holds common configuration for LLM providers.
type Config struct {
	BaseURL     string
	APIKey      string
	Model       string
	MaxTokens   int
	Temperature float32
	Timeout     time.Duration
}

// Tool choice values understood by OpenAI-compatible backends.
const (
	ToolChoiceAuto = "auto"
	ToolChoiceNone = "none"
)

// CallOptions holds per-call overrides.
type CallOptions struct {
	Model      string
	ToolChoice string
}

// CallOption modifies a single Complete call.
type CallOption func(*CallOptions)

// WithModel overrides the configured model for one call.
func WithModel(model string) CallOption {
	return func(o *CallOptions) { o.Model = model }
}

// WithToolChoice sets the tool_choice sent with the request.
func WithToolChoice(choice string) CallOption {
	return func(o *CallOptions) { o.ToolChoice = choice }
}

// ApplyOptions folds opts into a CallOptions value.
func ApplyOptions(opts ...CallOption) CallOptions {
	var o CallOptions
	for _, opt := range opts {
		opt(&o)
	}
	return o
}
