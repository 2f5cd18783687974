package gateway

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"
)

// Queue manages per-client lanes with a global concurrency semaphore.
// Each client gets its own FIFO channel (lane) so that its runs are
// processed sequentially, while the semaphore limits the total number of
// concurrent turns across all clients, queued or not.
type Queue struct {
	lanes     map[string]chan *Run
	semaphore *semaphore.Weighted
	processor func(*Run) error
	active    atomic.Int64

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	mu     sync.RWMutex
}

// NewQueue creates a Queue that allows up to maxConcurrent turns to execute
// simultaneously.
func NewQueue(maxConcurrent int64) *Queue {
	ctx, cancel := context.WithCancel(context.Background())
	return &Queue{
		lanes:     make(map[string]chan *Run),
		semaphore: semaphore.NewWeighted(maxConcurrent),
		ctx:       ctx,
		cancel:    cancel,
	}
}

// Start rebinds the queue's context to ctx. Call it before Enqueue.
func (q *Queue) Start(ctx context.Context) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.cancel()
	q.ctx, q.cancel = context.WithCancel(ctx)
}

// Stop cancels the queue context, closes all lanes, and waits for in-flight
// processors to finish.
func (q *Queue) Stop() {
	q.mu.Lock()
	q.cancel()
	for id, lane := range q.lanes {
		close(lane)
		delete(q.lanes, id)
	}
	q.mu.Unlock()
	q.wg.Wait()
}

// Enqueue adds a Run to the client's lane, creating the lane (and its
// goroutine) on first use. Returns an error if the lane's buffer is full.
func (q *Queue) Enqueue(run *Run) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.ctx.Err() != nil {
		return ErrStopped
	}

	lane, exists := q.lanes[run.ClientID]
	if !exists {
		lane = make(chan *Run, 100)
		q.lanes[run.ClientID] = lane
		q.wg.Add(1)
		go q.processLane(q.ctx, lane)
	}

	select {
	case lane <- run:
		return nil
	default:
		return fmt.Errorf("queue full for client %s", run.ClientID)
	}
}

// processLane drains a single client lane, acquiring a semaphore slot
// before running the processor synchronously.
func (q *Queue) processLane(ctx context.Context, lane chan *Run) {
	defer q.wg.Done()
	for {
		select {
		case run, ok := <-lane:
			if !ok {
				return
			}
			if err := q.semaphore.Acquire(ctx, 1); err != nil {
				return
			}
			q.process(ctx, run)
			q.semaphore.Release(1)
		case <-ctx.Done():
			return
		}
	}
}

func (q *Queue) process(ctx context.Context, run *Run) {
	if q.processor == nil {
		return
	}
	q.active.Add(1)
	defer q.active.Add(-1)

	run.start(ctx)
	err := q.processor(run)
	run.finish(err)
	if err != nil {
		slog.Error("run failed", "run_id", run.ID, "client_id", run.ClientID, "error", err)
		if run.OnComplete != nil {
			run.OnComplete("Sorry, something went wrong processing your message.")
		}
	}
}

// WaitIdle blocks until no runs are actively being processed, or the timeout
// expires. Returns true if idle, false if timed out.
func (q *Queue) WaitIdle(timeout time.Duration) bool {
	deadline := time.After(timeout)
	for {
		if q.active.Load() == 0 {
			return true
		}
		select {
		case <-deadline:
			return false
		case <-time.After(100 * time.Millisecond):
		}
	}
}

func (q *Queue) stopped() bool {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return q.ctx.Err() != nil
}

// SetProcessor sets the function invoked for each dequeued Run.
func (q *Queue) SetProcessor(fn func(*Run) error) {
	q.processor = fn
}
