package gateway

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// RunStatus represents the lifecycle state of a Run.
type RunStatus string

const (
	RunStatusQueued   RunStatus = "queued"
	RunStatusRunning  RunStatus = "running"
	RunStatusComplete RunStatus = "complete"
	RunStatusFailed   RunStatus = "failed"
)

// Run tracks a single turn submitted by a client.
type Run struct {
	ID         string
	ClientID   string
	Text       string
	Status     RunStatus
	CreatedAt  time.Time
	StartedAt  *time.Time
	EndedAt    *time.Time
	Error      error
	OnComplete func(response string)

	// Ctx is set when the run starts and is cancelled when the gateway stops.
	Ctx context.Context
}

// NewRun creates a Run in the Queued state for the given client and text.
func NewRun(clientID, text string) *Run {
	return &Run{
		ID:        uuid.New().String(),
		ClientID:  clientID,
		Text:      text,
		Status:    RunStatusQueued,
		CreatedAt: time.Now(),
	}
}

func (r *Run) start(ctx context.Context) {
	now := time.Now()
	r.StartedAt = &now
	r.Status = RunStatusRunning
	r.Ctx = ctx
}

func (r *Run) finish(err error) {
	now := time.Now()
	r.EndedAt = &now
	r.Error = err
	if err != nil {
		r.Status = RunStatusFailed
		return
	}
	r.Status = RunStatusComplete
}
