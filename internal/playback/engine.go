package playback

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"sync"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// Device is an opened audio output.
type Device interface {
	// Write queues PCM for output, blocking while the device buffer is full.
	Write(p []byte) error
	// Drain waits until queued audio has been played.
	Drain(ctx context.Context) error
	// Close stops output and releases the device. It unblocks a pending Write.
	Close() error
}

// DeviceOpener opens an output device for a format.
type DeviceOpener interface {
	Open(f Format) (Device, error)
}

// Options tune an Engine. Zero values pick defaults.
type Options struct {
	ChunkSize    int
	QueueDepth   int
	FetchTimeout time.Duration
	Client       *http.Client
}

// Engine owns at most one active Session.
type Engine struct {
	// starting serializes Start; mu guards the fields below and is never
	// held while a source is fetched.
	starting sync.Mutex
	mu       sync.Mutex
	opener   DeviceOpener
	client   *http.Client
	timeout  time.Duration
	chunk    int
	depth    int
	current  *Session
	closed   bool
	once     sync.Once
}

// NewEngine creates an engine that plays through devices from opener.
func NewEngine(opener DeviceOpener, opts Options) *Engine {
	if opts.ChunkSize <= 0 {
		opts.ChunkSize = 4096
	}
	if opts.QueueDepth <= 0 {
		opts.QueueDepth = 16
	}
	if opts.FetchTimeout <= 0 {
		opts.FetchTimeout = 30 * time.Second
	}
	if opts.Client == nil {
		tr := http.DefaultTransport.(*http.Transport).Clone()
		tr.ResponseHeaderTimeout = opts.FetchTimeout
		opts.Client = &http.Client{Transport: otelhttp.NewTransport(tr)}
	}
	return &Engine{
		opener:  opener,
		client:  opts.Client,
		timeout: opts.FetchTimeout,
		chunk:   opts.ChunkSize,
		depth:   opts.QueueDepth,
	}
}

// Start stops any active session and begins playing src. It returns once
// the first chunk has been decoded and the device is open. The source has
// FetchTimeout to deliver that chunk. Stop and Shutdown abandon a session
// that is still fetching. On failure the new session ends up stopped with
// nothing left open.
func (e *Engine) Start(ctx context.Context, src Source) (*Session, error) {
	e.starting.Lock()
	defer e.starting.Unlock()

	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil, ErrClosed
	}
	if e.current != nil {
		slog.Debug("preempting audio session", "session", e.current.ID)
		e.current.stop()
	}
	// Playback outlives the request that started it.
	sctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	s := newSession(src, cancel)
	e.current = s
	e.mu.Unlock()

	fired := make(chan struct{})
	timer := time.AfterFunc(e.timeout, func() {
		s.release()
		close(fired)
	})
	format, pcm, body, err := e.open(sctx, src)
	timedOut := !timer.Stop()
	if timedOut {
		<-fired
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	switch {
	case timedOut:
		err = fmt.Errorf("%w after %s: %s", ErrTimeout, e.timeout, src)
	case e.closed:
		err = ErrClosed
	case e.current != s || s.State() == StateStopped:
		err = ErrStopped
	}
	if err == nil {
		dev, oerr := e.opener.Open(format)
		if oerr != nil {
			err = fmt.Errorf("%w: %v", ErrDevice, oerr)
		} else {
			s.run(sctx, format, pcm, body, dev, e.chunk, e.depth, e.timeout)
		}
	}
	if err != nil {
		if body != nil {
			body.Close()
		}
		if e.current == s {
			e.current = nil
		}
		s.release()
		return nil, err
	}
	slog.Info("audio session started", "session", s.ID, "source", src.String(), "format", format.String())
	return s, nil
}

// open fetches src and decodes its first chunk.
func (e *Engine) open(ctx context.Context, src Source) (Format, io.Reader, io.ReadCloser, error) {
	body, contentType, err := e.fetch(ctx, src)
	if err != nil {
		return Format{}, nil, nil, err
	}
	format, pcm, err := Decode(body, contentType)
	if err != nil {
		body.Close()
		return Format{}, nil, nil, fmt.Errorf("%w: %v", ErrDecode, err)
	}
	return format, pcm, body, nil
}

// Pause gates the consumer of the active session.
func (e *Engine) Pause() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	s := e.active()
	if s == nil {
		return ErrNotPlaying
	}
	return s.pause()
}

// Resume releases a paused session.
func (e *Engine) Resume() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	s := e.active()
	if s == nil {
		return ErrNotPlaying
	}
	return s.resume()
}

// Stop ends the active session. It returns after the device is closed and
// both goroutines have exited. Stopping with nothing active is a no-op.
func (e *Engine) Stop() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.stopLocked()
}

// Shutdown stops playback and refuses further sessions. Only the first call
// has any effect.
func (e *Engine) Shutdown() {
	e.once.Do(func() {
		e.mu.Lock()
		defer e.mu.Unlock()
		e.closed = true
		e.stopLocked()
		slog.Debug("playback engine shut down")
	})
}

// State reports the state of the active session, or Idle.
func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	if s := e.active(); s != nil {
		return s.State()
	}
	return StateIdle
}

// Current returns the active session, or nil.
func (e *Engine) Current() *Session {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.active()
}

func (e *Engine) stopLocked() {
	if e.current == nil {
		return
	}
	e.current.stop()
	slog.Debug("audio session stopped", "session", e.current.ID)
	e.current = nil
}

// active returns the current session unless it already finished on its own.
func (e *Engine) active() *Session {
	if e.current == nil {
		return nil
	}
	if e.current.State() == StateStopped {
		e.current.stop()
		e.current = nil
		return nil
	}
	return e.current
}

func (e *Engine) fetch(ctx context.Context, src Source) (io.ReadCloser, string, error) {
	if src.Path != "" {
		f, err := os.Open(src.Path)
		if errors.Is(err, os.ErrNotExist) {
			return nil, "", fmt.Errorf("%w: %s", ErrNotFound, src.Path)
		}
		if err != nil {
			return nil, "", fmt.Errorf("open audio file: %w", err)
		}
		return f, "", nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, src.URL, nil)
	if err != nil {
		return nil, "", fmt.Errorf("create audio request: %w", err)
	}
	resp, err := e.client.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("fetch audio: %w", err)
	}
	switch {
	case resp.StatusCode == http.StatusNotFound:
		resp.Body.Close()
		return nil, "", fmt.Errorf("%w: %s", ErrNotFound, src.URL)
	case resp.StatusCode != http.StatusOK:
		resp.Body.Close()
		return nil, "", fmt.Errorf("fetch audio: status %d", resp.StatusCode)
	}
	return resp.Body, resp.Header.Get("Content-Type"), nil
}
