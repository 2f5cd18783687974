package orchestrator

import "errors"

var (
	// ErrTransport wraps failures talking to the primary model.
	ErrTransport = errors.New("model transport failure")
	// ErrMalformedDecision is returned when the model asks for a call with
	// arguments that are not a JSON object.
	ErrMalformedDecision = errors.New("malformed model decision")
	// ErrEmit is returned when an event could not be delivered.
	ErrEmit = errors.New("emit event")
)

// Messages carried by error events. Internal detail stays in the logs.
const (
	transportMessage = "Sorry, I couldn't reach the language model. Please try again."
	malformedMessage = "Sorry, the language model returned a response I couldn't understand."
)
