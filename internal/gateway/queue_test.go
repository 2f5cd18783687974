package gateway

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestQueueConcurrency(t *testing.T) {
	queue := NewQueue(2)
	queue.Start(context.Background())
	defer queue.Stop()

	var running int32
	var maxSeen int32

	queue.SetProcessor(func(run *Run) error {
		current := atomic.AddInt32(&running, 1)
		for {
			old := atomic.LoadInt32(&maxSeen)
			if current <= old || atomic.CompareAndSwapInt32(&maxSeen, old, current) {
				break
			}
		}
		time.Sleep(50 * time.Millisecond)
		atomic.AddInt32(&running, -1)
		return nil
	})

	for i := 0; i < 5; i++ {
		if err := queue.Enqueue(NewRun(fmt.Sprintf("client-%d", i), "hi")); err != nil {
			t.Fatal(err)
		}
	}

	time.Sleep(500 * time.Millisecond)

	if m := atomic.LoadInt32(&maxSeen); m > 2 {
		t.Errorf("expected max 2 concurrent, saw %d", m)
	}
}

func TestQueueProcessorCalled(t *testing.T) {
	queue := NewQueue(1)
	queue.Start(context.Background())
	defer queue.Stop()

	done := make(chan *Run, 1)
	queue.SetProcessor(func(run *Run) error {
		if run.Ctx == nil {
			t.Error("run started without a context")
		}
		done <- run
		return nil
	})

	if err := queue.Enqueue(NewRun("test-client", "hello")); err != nil {
		t.Fatal(err)
	}

	select {
	case run := <-done:
		if run.Text != "hello" || run.StartedAt == nil {
			t.Errorf("run = %+v", run)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("processor not called")
	}
}

func TestQueueSameClientOrdering(t *testing.T) {
	queue := NewQueue(1)
	queue.Start(context.Background())
	defer queue.Stop()

	var mu sync.Mutex
	var order []string
	done := make(chan struct{})

	queue.SetProcessor(func(run *Run) error {
		mu.Lock()
		order = append(order, run.Text)
		n := len(order)
		mu.Unlock()
		if n == 3 {
			close(done)
		}
		return nil
	})

	for i := 0; i < 3; i++ {
		if err := queue.Enqueue(NewRun("same-client", fmt.Sprint(i))); err != nil {
			t.Fatal(err)
		}
	}

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for runs to process")
	}

	mu.Lock()
	defer mu.Unlock()
	for i, v := range order {
		if v != fmt.Sprint(i) {
			t.Errorf("expected order[%d] = %d, got %s", i, i, v)
		}
	}
}

func TestQueueFailedRunReportsApology(t *testing.T) {
	queue := NewQueue(1)
	queue.Start(context.Background())
	defer queue.Stop()

	queue.SetProcessor(func(*Run) error { return errors.New("model down") })

	got := make(chan string, 1)
	run := NewRun("c", "hi")
	run.OnComplete = func(s string) { got <- s }
	if err := queue.Enqueue(run); err != nil {
		t.Fatal(err)
	}

	select {
	case msg := <-got:
		if msg == "" {
			t.Error("empty apology")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("OnComplete not called")
	}
	if !queue.WaitIdle(time.Second) {
		t.Fatal("queue never went idle")
	}
	if run.Status != RunStatusFailed {
		t.Errorf("status = %s", run.Status)
	}
}

func TestQueueNoProcessor(t *testing.T) {
	queue := NewQueue(1)
	queue.Start(context.Background())
	defer queue.Stop()

	// Enqueue without setting a processor -- should not panic
	if err := queue.Enqueue(NewRun("no-proc", "hi")); err != nil {
		t.Fatal(err)
	}

	time.Sleep(100 * time.Millisecond)
}

func TestQueueEnqueueAfterStop(t *testing.T) {
	queue := NewQueue(1)
	queue.Start(context.Background())
	queue.Stop()
	if err := queue.Enqueue(NewRun("c", "hi")); !errors.Is(err, ErrStopped) {
		t.Errorf("err = %v, want ErrStopped", err)
	}
}
