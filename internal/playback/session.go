package playback

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// chunk is one unit on the hand-off channel. A chunk with last set is the
// end-of-stream sentinel; err is set when the producer stopped on a failure.
type chunk struct {
	data []byte
	last bool
	err  error
}

// Session is one playback lifecycle from start to stop.
type Session struct {
	ID     string
	Source Source

	mu     sync.Mutex
	cond   *sync.Cond
	state  State
	format Format
	known  bool
	err    error

	cancel context.CancelFunc
	body   io.Closer
	device Device
	chunks chan chunk
	wg     sync.WaitGroup
	once   sync.Once
	done   chan struct{}
}

func newSession(src Source, cancel context.CancelFunc) *Session {
	s := &Session{
		ID:     uuid.New().String(),
		Source: src,
		state:  StateFetching,
		cancel: cancel,
		done:   make(chan struct{}),
	}
	s.cond = sync.NewCond(&s.mu)
	return s
}

// State returns the session state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Format returns the decoded format, and false while it is still unknown.
func (s *Session) Format() (Format, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.format, s.known
}

// Err returns the error that ended playback early, if any.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Done is closed once the session has released its device.
func (s *Session) Done() <-chan struct{} { return s.done }

// wait blocks until both pipeline goroutines have exited.
func (s *Session) wait() { s.wg.Wait() }

// run starts the producer and consumer. The session owns body and dev from
// here on. A source that delivers nothing for idle ends the session.
func (s *Session) run(ctx context.Context, f Format, pcm io.Reader, body io.Closer, dev Device, chunkSize, depth int, idle time.Duration) {
	s.mu.Lock()
	s.format = f
	s.known = true
	s.body = body
	s.device = dev
	s.chunks = make(chan chunk, depth)
	s.state = StatePlaying
	s.mu.Unlock()

	if frame := f.FrameSize(); chunkSize%frame != 0 {
		chunkSize -= chunkSize % frame
		if chunkSize == 0 {
			chunkSize = frame
		}
	}

	s.wg.Add(2)
	go s.produce(ctx, pcm, chunkSize, idle)
	go s.consume(ctx)
}

func (s *Session) produce(ctx context.Context, r io.Reader, size int, idle time.Duration) {
	defer s.wg.Done()
	for {
		buf := make([]byte, size)
		watchdog := time.AfterFunc(idle, func() { s.stall(idle) })
		n, err := io.ReadFull(r, buf)
		watchdog.Stop()
		if n > 0 && !s.send(ctx, chunk{data: buf[:n]}) {
			return
		}
		switch {
		case err == nil:
			continue
		case errors.Is(err, io.EOF), errors.Is(err, io.ErrUnexpectedEOF):
			s.send(ctx, chunk{last: true})
			return
		default:
			if ctx.Err() == nil {
				s.send(ctx, chunk{last: true, err: err})
			}
			return
		}
	}
}

func (s *Session) send(ctx context.Context, c chunk) bool {
	select {
	case s.chunks <- c:
		return true
	case <-ctx.Done():
		return false
	}
}

func (s *Session) consume(ctx context.Context) {
	defer s.wg.Done()
	for {
		if !s.waitWhilePaused() {
			return
		}
		var c chunk
		select {
		case <-ctx.Done():
			return
		case c = <-s.chunks:
		}

		if c.last {
			if c.err != nil {
				slog.Warn("audio source ended early", "session", s.ID, "error", c.err)
				s.setErr(c.err)
			} else if err := s.device.Drain(ctx); err != nil && ctx.Err() == nil {
				slog.Debug("drain device", "session", s.ID, "error", err)
			}
			s.release()
			return
		}
		if err := s.device.Write(c.data); err != nil {
			if ctx.Err() == nil {
				slog.Warn("audio device write failed", "session", s.ID, "error", err)
				s.setErr(errors.Join(ErrDevice, err))
			}
			s.release()
			return
		}
	}
}

// waitWhilePaused blocks while the session is paused. It returns false once
// the session is stopping.
func (s *Session) waitWhilePaused() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for s.state == StatePaused {
		s.cond.Wait()
	}
	return s.state != StateStopped
}

func (s *Session) pause() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch s.state {
	case StatePlaying:
		s.state = StatePaused
		return nil
	case StatePaused:
		return nil
	default:
		return ErrNotPlaying
	}
}

func (s *Session) resume() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch s.state {
	case StatePaused:
		s.state = StatePlaying
		s.cond.Broadcast()
		return nil
	case StatePlaying:
		return nil
	default:
		return ErrNotPlaying
	}
}

// stall ends a session whose source stopped sending. Closing the body in
// release unblocks the producer's read.
func (s *Session) stall(idle time.Duration) {
	if s.State() == StateStopped {
		return
	}
	slog.Warn("audio source stalled", "session", s.ID, "idle", idle)
	s.setErr(fmt.Errorf("%w: no data for %s", ErrTimeout, idle))
	s.release()
}

func (s *Session) setErr(err error) {
	s.mu.Lock()
	s.err = err
	s.mu.Unlock()
}

// release cancels the pipeline, closes the source and device, and marks
// the session stopped. It runs once whichever of natural end, failure or
// stop gets there first.
func (s *Session) release() {
	s.once.Do(func() {
		s.cancel()

		s.mu.Lock()
		s.state = StateStopped
		s.cond.Broadcast()
		body, dev := s.body, s.device
		s.mu.Unlock()

		if body != nil {
			body.Close()
		}
		if dev != nil {
			if err := dev.Close(); err != nil {
				slog.Warn("close audio device", "session", s.ID, "error", err)
			}
		}
		close(s.done)
	})
}

// stop releases the session and joins both goroutines. Chunks still queued
// are discarded.
func (s *Session) stop() {
	s.release()
	s.wait()
	if s.chunks == nil {
		return
	}
	for {
		select {
		case <-s.chunks:
		default:
			return
		}
	}
}
