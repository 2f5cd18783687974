package orchestrator

import "github.com/user/assistant/pkg/llm"

// State is a step of a generation.
type State int

const (
	AwaitingModel State = iota
	Decided
	Idle
	Invoking
	Summarizing
	Composing
	Emitting
	Done
	Failed
)

func (s State) String() string {
	switch s {
	case AwaitingModel:
		return "awaiting_model"
	case Decided:
		return "decided"
	case Idle:
		return "idle"
	case Invoking:
		return "invoking"
	case Summarizing:
		return "summarizing"
	case Composing:
		return "composing"
	case Emitting:
		return "emitting"
	case Done:
		return "done"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}

// selectCall picks the one call a turn honours. Later calls are ignored.
func selectCall(calls []llm.ToolCall) (llm.ToolCall, bool) {
	if len(calls) == 0 {
		return llm.ToolCall{}, false
	}
	return calls[0], true
}
