// Package gateway admits turns and keeps track of connected clients. HTTP
// turns run synchronously on the caller's goroutine; chat surfaces without a
// response stream go through the per-client Queue. Both share one limit on
// concurrent turns.
package gateway

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrBusy is returned when the concurrent turn limit is reached or the
	// client already has a turn in flight.
	ErrBusy = errors.New("too many turns in flight")
	// ErrStopped is returned once the gateway has been stopped.
	ErrStopped = errors.New("gateway stopped")
)

// Client is a connected client.
type Client struct {
	ID          string
	ConnectedAt time.Time
	LastSeen    time.Time
	Turns       int
}

// Option configures a Gateway.
type Option func(*Gateway)

// WithOnDisconnect sets a hook run on every disconnect, known client or not.
func WithOnDisconnect(fn func(clientID string)) Option {
	return func(g *Gateway) { g.onDisconnect = fn }
}

// Gateway admits turns and tracks clients.
type Gateway struct {
	Queue *Queue

	mu           sync.Mutex
	clients      map[string]*Client
	inFlight     map[string]bool
	onDisconnect func(string)
}

// New creates a Gateway allowing maxConcurrent simultaneous turns.
func New(maxConcurrent int64, opts ...Option) *Gateway {
	if maxConcurrent <= 0 {
		maxConcurrent = 2
	}
	g := &Gateway{
		Queue:    NewQueue(maxConcurrent),
		clients:  make(map[string]*Client),
		inFlight: make(map[string]bool),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Start binds the gateway to ctx; stopping ctx cancels queued work.
func (g *Gateway) Start(ctx context.Context) {
	g.Queue.Start(ctx)
}

// Stop cancels outstanding work and waits for queued runs to finish.
func (g *Gateway) Stop() {
	g.Queue.Stop()
}

// Connect registers a client. An empty id gets a fresh one. Connecting an
// already known client only refreshes it.
func (g *Gateway) Connect(id string) Client {
	if id == "" {
		id = uuid.New().String()
	}
	now := time.Now()

	g.mu.Lock()
	defer g.mu.Unlock()
	c, ok := g.clients[id]
	if !ok {
		c = &Client{ID: id, ConnectedAt: now}
		g.clients[id] = c
		slog.Info("client connected", "client_id", id)
	}
	c.LastSeen = now
	return *c
}

// Disconnect forgets a client and runs the disconnect hook. It reports
// whether the client was known; repeating it is harmless.
func (g *Gateway) Disconnect(id string) bool {
	g.mu.Lock()
	_, ok := g.clients[id]
	delete(g.clients, id)
	hook := g.onDisconnect
	g.mu.Unlock()

	if ok {
		slog.Info("client disconnected", "client_id", id)
	}
	if hook != nil {
		hook(id)
	}
	return ok
}

// Clients returns the connected clients ordered by id.
func (g *Gateway) Clients() []Client {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]Client, 0, len(g.clients))
	for _, c := range g.clients {
		out = append(out, *c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Prune forgets clients not seen for longer than idle without running the
// disconnect hook. It returns how many were removed.
func (g *Gateway) Prune(idle time.Duration) int {
	cutoff := time.Now().Add(-idle)
	g.mu.Lock()
	defer g.mu.Unlock()
	n := 0
	for id, c := range g.clients {
		if c.LastSeen.Before(cutoff) && !g.inFlight[id] {
			delete(g.clients, id)
			n++
		}
	}
	return n
}

// Handle runs fn as one turn for clientID if a slot is free, and returns
// ErrBusy without running it otherwise. An empty clientID is not tracked
// per client.
func (g *Gateway) Handle(ctx context.Context, clientID, text string, fn func(context.Context, *Run) error) error {
	if g.Queue.stopped() {
		return ErrStopped
	}
	if !g.claim(clientID) {
		return ErrBusy
	}
	defer g.release(clientID)

	if !g.Queue.semaphore.TryAcquire(1) {
		return ErrBusy
	}
	defer g.Queue.semaphore.Release(1)
	g.Queue.active.Add(1)
	defer g.Queue.active.Add(-1)

	run := NewRun(clientID, text)
	run.start(ctx)
	err := fn(ctx, run)
	run.finish(err)
	return err
}

// HandleInbound queues text as a turn for clientID. The queue processor
// decides what to do with it.
func (g *Gateway) HandleInbound(clientID, text string, opts ...RunOption) error {
	g.touch(clientID)
	run := NewRun(clientID, text)
	for _, opt := range opts {
		opt(run)
	}
	return g.Queue.Enqueue(run)
}

// RunOption configures optional behavior on a Run.
type RunOption func(*Run)

// WithOnComplete sets a callback invoked when the run produces a final response.
func WithOnComplete(fn func(string)) RunOption {
	return func(r *Run) { r.OnComplete = fn }
}

func (g *Gateway) claim(clientID string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if clientID == "" {
		return true
	}
	if g.inFlight[clientID] {
		return false
	}
	g.inFlight[clientID] = true
	if c, ok := g.clients[clientID]; ok {
		c.LastSeen = time.Now()
		c.Turns++
	}
	return true
}

func (g *Gateway) release(clientID string) {
	if clientID == "" {
		return
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.inFlight, clientID)
}

func (g *Gateway) touch(clientID string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if c, ok := g.clients[clientID]; ok {
		c.LastSeen = time.Now()
		c.Turns++
	}
}
