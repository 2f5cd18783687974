package main

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"syscall"
	"testing"
	"time"

	"github.com/user/assistant/internal/client"
)

type recordingServer struct {
	mu    sync.Mutex
	calls []string
}

func (r *recordingServer) record(path string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, path)
}

func (r *recordingServer) seen() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.calls...)
}

func newRecordingServer(t *testing.T) (*recordingServer, string) {
	t.Helper()
	rec := &recordingServer{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec.record(r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok"}`))
	}))
	t.Cleanup(srv.Close)
	return rec, srv.URL
}

func TestChatShutdownRunsOnce(t *testing.T) {
	rec, url := newRecordingServer(t)
	closed := 0
	s := &chatSession{
		client:    client.New(url, "laptop"),
		closeLine: func() error { closed++; return nil },
	}

	var wg sync.WaitGroup
	for range 3 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.shutdown()
		}()
	}
	wg.Wait()

	if got := strings.Join(rec.seen(), ","); got != "/stop_audio,/disconnect" {
		t.Errorf("requests = %s", got)
	}
	if closed != 1 {
		t.Errorf("line closed %d times", closed)
	}
}

func TestInterruptRunsChatShutdown(t *testing.T) {
	rec, url := newRecordingServer(t)
	s := &chatSession{client: client.New(url, "laptop")}

	ctx, stop := notifyShutdown()
	defer stop()
	s.shutdownOn(ctx)

	if err := syscall.Kill(syscall.Getpid(), syscall.SIGINT); err != nil {
		t.Fatal(err)
	}

	select {
	case <-ctx.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("interrupt did not cancel the chat context")
	}
	deadline := time.Now().Add(5 * time.Second)
	for strings.Join(rec.seen(), ",") != "/stop_audio,/disconnect" {
		if time.Now().After(deadline) {
			t.Fatalf("cleanup requests = %v", rec.seen())
		}
		time.Sleep(5 * time.Millisecond)
	}
}
