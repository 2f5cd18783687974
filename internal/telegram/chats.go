package telegram

import (
	"context"
	"fmt"
	"sync"

	"github.com/user/assistant/internal/gateway"
	"github.com/user/assistant/internal/orchestrator"
	"github.com/user/assistant/internal/profile"
	"github.com/user/assistant/internal/stream"
)

// Generator runs one turn.
type Generator interface {
	Run(ctx context.Context, turn *orchestrator.Turn, p *profile.Profile, message string, emit orchestrator.Emitter) error
}

// Chats keeps one conversation per chat and turns queued runs into replies.
type Chats struct {
	gen      Generator
	profiles profile.Source

	mu    sync.Mutex
	turns map[string]*orchestrator.Turn
}

// NewChats creates the chat memory. Every turn uses the profile from profiles.
func NewChats(gen Generator, profiles profile.Source) *Chats {
	return &Chats{
		gen:      gen,
		profiles: profiles,
		turns:    make(map[string]*orchestrator.Turn),
	}
}

// Process runs one queued message and hands the reply to run.OnComplete.
// It is the gateway queue processor for chat surfaces.
func (c *Chats) Process(run *gateway.Run) error {
	ctx := run.Ctx
	if ctx == nil {
		ctx = context.Background()
	}
	p, err := c.profiles.DefaultProfile(ctx)
	if err != nil {
		return fmt.Errorf("load profile: %w", err)
	}

	var tr stream.Transcript
	err = c.gen.Run(ctx, c.turn(run.ClientID), p, run.Text, func(ev stream.Event) error {
		tr.Apply(ev)
		return nil
	})
	reply := tr.Text()
	if err != nil {
		if tr.Err() == "" {
			return err
		}
		reply = tr.Err()
	}
	if run.OnComplete != nil {
		run.OnComplete(reply)
	}
	return nil
}

// Reset forgets the conversation of a chat.
func (c *Chats) Reset(chat string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.turns, chat)
}

// Len returns the number of messages remembered for a chat.
func (c *Chats) Len(chat string) int {
	c.mu.Lock()
	t, ok := c.turns[chat]
	c.mu.Unlock()
	if !ok {
		return 0
	}
	return t.Len()
}

func (c *Chats) turn(chat string) *orchestrator.Turn {
	c.mu.Lock()
	defer c.mu.Unlock()
	t, ok := c.turns[chat]
	if !ok {
		t = orchestrator.NewTurn(nil)
		c.turns[chat] = t
	}
	return t
}
