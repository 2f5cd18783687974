package scheduler

import (
	"sync/atomic"
	"testing"
	"time"
)

func TestSchedulerFiresJob(t *testing.T) {
	var fires atomic.Int32
	sched := New(Job{Name: "every-second", Schedule: "* * * * * *", Run: func() { fires.Add(1) }})
	if err := sched.Start(); err != nil {
		t.Fatal(err)
	}
	defer sched.Stop()

	// Wait up to 2.5 seconds for at least one fire
	deadline := time.After(2500 * time.Millisecond)
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-deadline:
			t.Fatalf("job did not fire within 2.5s, fires=%d", fires.Load())
		case <-ticker.C:
			if fires.Load() > 0 {
				return
			}
		}
	}
}

func TestSchedulerSkipsUnscheduled(t *testing.T) {
	var fires atomic.Int32
	sched := New(Job{Name: "no-schedule", Run: func() { fires.Add(1) }})
	if err := sched.Start(); err != nil {
		t.Fatal(err)
	}
	defer sched.Stop()

	time.Sleep(1500 * time.Millisecond)

	if n := fires.Load(); n != 0 {
		t.Errorf("expected 0 fires for job with no schedule, got %d", n)
	}
}

func TestSchedulerReportsInvalidSchedule(t *testing.T) {
	var fires atomic.Int32
	sched := New(
		Job{Name: "broken", Schedule: "every tuesday", Run: func() {}},
		Job{Name: "ok", Schedule: "@every 1s", Run: func() { fires.Add(1) }},
	)
	err := sched.Start()
	defer sched.Stop()
	if err == nil {
		t.Fatal("expected an error for the invalid schedule")
	}

	deadline := time.After(2500 * time.Millisecond)
	for fires.Load() == 0 {
		select {
		case <-deadline:
			t.Fatal("valid job did not fire alongside an invalid one")
		case <-time.After(100 * time.Millisecond):
		}
	}
}
