package capability

import (
	"errors"
	"fmt"
)

var (
	// ErrUnknownCapability means no provider is registered under the name.
	ErrUnknownCapability = errors.New("unknown capability")
	// ErrDisabled means the profile turns the capability off.
	ErrDisabled = errors.New("capability disabled")
)

// ProviderFailure wraps an error raised while a provider ran.
type ProviderFailure struct {
	Capability string
	Err        error
}

func (e *ProviderFailure) Error() string {
	return fmt.Sprintf("capability %s failed: %v", e.Capability, e.Err)
}

func (e *ProviderFailure) Unwrap() error { return e.Err }

// Message is the failure text handed to the summarizer.
func (e *ProviderFailure) Message() string {
	return fmt.Sprintf("The %s request failed: %v", e.Capability, e.Err)
}

// NotFoundError is returned by a provider when the requested item does not
// exist. Its message is shown to the user as is.
type NotFoundError struct {
	Message string
}

func (e *NotFoundError) Error() string { return e.Message }

// Status classifies a Result.
type Status int

const (
	StatusOK Status = iota
	StatusNotFound
	StatusFailed
)

func (s Status) String() string {
	switch s {
	case StatusOK:
		return "ok"
	case StatusNotFound:
		return "not_found"
	case StatusFailed:
		return "failed"
	default:
		return "unknown"
	}
}
